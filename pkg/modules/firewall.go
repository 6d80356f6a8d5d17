package modules

import (
	"bytes"
	"context"
	"fmt"
	"os"

	"github.com/pmezard/go-difflib/difflib"

	"github.com/hostplane/hostplane/pkg/engine"
	"github.com/hostplane/hostplane/pkg/firewall"
	"github.com/hostplane/hostplane/pkg/transport"
)

// FirewallModule reconciles the packet-filter ruleset. Apply always loads
// the full desired ruleset in one atomic restore, so the kernel state ends
// up exact even if it drifted since the last probe; Changed still reflects
// whether the live ruleset differed.
type FirewallModule struct {
	runner  transport.Runner
	srcRoot string
}

// Apply implements engine.Module.
func (m *FirewallModule) Apply(ctx context.Context, params engine.Params, check bool) (*engine.TaskResult, error) {
	p, ok := params.(*engine.FirewallParams)
	if !ok {
		return nil, fmt.Errorf("unexpected params type %T", params)
	}

	rules, err := m.desiredRules(p)
	if err != nil {
		return nil, err
	}

	// Validate the desired set first: a malformed or misordered rules file
	// is bad input, not a probe failure.
	if _, err := firewall.Build(rules); err != nil {
		return nil, err
	}

	reconciler := firewall.NewReconciler(m.runner, p.PersistPath)

	current, want, err := reconciler.Diff(ctx, rules)
	if err != nil {
		return nil, engine.NewProbeError("firewall", err)
	}

	if bytes.Equal(current, want) {
		if !check {
			// Reapply even without drift: a rule inserted between probe
			// and restore must not survive. The restore is a no-op when
			// nothing changed in between.
			if _, err := reconciler.Reconcile(ctx, rules); err != nil {
				return nil, err
			}
		}
		return &engine.TaskResult{Changed: false, Action: "already_ok"}, nil
	}

	diff, err := difflib.GetUnifiedDiffString(difflib.UnifiedDiff{
		A:        difflib.SplitLines(string(current)),
		B:        difflib.SplitLines(string(want)),
		FromFile: "live",
		ToFile:   "desired",
		Context:  3,
	})
	if err != nil {
		return nil, err
	}

	if check {
		return &engine.TaskResult{Changed: true, Action: "applied", Diff: diff}, nil
	}

	if _, err := reconciler.Reconcile(ctx, rules); err != nil {
		return nil, err
	}
	return &engine.TaskResult{Changed: true, Action: "applied", Diff: diff}, nil
}

// desiredRules loads the desired rule list from inline rules or a
// save-format rules file.
func (m *FirewallModule) desiredRules(p *engine.FirewallParams) ([]firewall.Rule, error) {
	if len(p.Rules) > 0 {
		return p.Rules, nil
	}

	data, err := os.ReadFile(resolveSrc(m.srcRoot, p.RulesFile))
	if err != nil {
		return nil, fmt.Errorf("failed to read rules file %s: %w", p.RulesFile, err)
	}
	rs, err := firewall.ParseSave(data)
	if err != nil {
		return nil, fmt.Errorf("rules file %s: %w", p.RulesFile, err)
	}
	return rs.Rules, nil
}
