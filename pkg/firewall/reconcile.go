package firewall

import (
	"context"
	"fmt"

	"github.com/rs/zerolog/log"

	"github.com/hostplane/hostplane/pkg/transport"
)

// DefaultPersistPath is where the applied ruleset is persisted so a reboot
// reloads the same state (read by netfilter-persistent / iptables-restore).
const DefaultPersistPath = "/etc/iptables/rules.v4"

// defaultChain receives desired rules that do not name a chain.
const defaultChain = "INPUT"

// Reconciler diffs a desired ordered rule set against the live kernel
// ruleset and replaces it atomically. Apply always loads the full
// replacement set in one iptables-restore invocation; the kernel ruleset is
// never edited incrementally, so a failed load leaves it untouched.
type Reconciler struct {
	runner      transport.Runner
	persistPath string
}

// NewReconciler creates a reconciler operating through the given runner.
func NewReconciler(runner transport.Runner, persistPath string) *Reconciler {
	if persistPath == "" {
		persistPath = DefaultPersistPath
	}
	return &Reconciler{
		runner:      runner,
		persistPath: persistPath,
	}
}

// ValidateOrder checks the ordering invariant on the desired input: within
// a chain no REJECT/DROP rule may precede an ACCEPT rule matching
// overlapping traffic. Violating input is rejected before any kernel call.
// Chains are normalized first so an unset chain and an explicit "INPUT"
// cannot hide an overlap from each other.
func ValidateOrder(desired []Rule) error {
	rules := make([]Rule, len(desired))
	for i, r := range desired {
		r.Chain = chainOf(&r)
		rules[i] = r
	}

	for i := range rules {
		if !rules[i].Action.IsTerminal() {
			continue
		}
		for j := i + 1; j < len(rules); j++ {
			if rules[j].Action != ActionAccept {
				continue
			}
			if rules[i].Overlaps(&rules[j]) {
				return &RuleOrderError{
					Chain:    rules[i].Chain,
					Blocker:  rules[i].String(),
					Shadowed: rules[j].String(),
				}
			}
		}
	}
	return nil
}

// Build constructs the full replacement ruleset from desired rules:
// implicit loopback and established/related accepts first, desired ACCEPT
// rules in declared order next, REJECT/DROP rules last. The input is
// validated against the ordering invariant before anything is built.
func Build(desired []Rule) (*Ruleset, error) {
	normalized := make([]Rule, len(desired))
	for i, r := range desired {
		r.Chain = chainOf(&r)
		if err := r.Validate(); err != nil {
			return nil, fmt.Errorf("rule %d: %w", i, err)
		}
		normalized[i] = r
	}

	if err := ValidateOrder(normalized); err != nil {
		return nil, err
	}

	rs := NewRuleset()

	// Implicit highest-priority rules: loopback and already-established
	// connections are always accepted, positions 0 and 1.
	implicit := []Rule{
		{Chain: defaultChain, InInterface: "lo", Action: ActionAccept},
		{Chain: defaultChain, CtState: "ESTABLISHED,RELATED", Action: ActionAccept},
	}

	var accepts, terminals []Rule
	for _, r := range normalized {
		if r.Action.IsTerminal() {
			terminals = append(terminals, r)
		} else {
			accepts = append(accepts, r)
		}
	}

	position := make(map[string]int)
	for _, group := range [][]Rule{implicit, accepts, terminals} {
		for _, r := range group {
			r.Position = position[r.Chain]
			position[r.Chain]++
			rs.Rules = append(rs.Rules, r)
		}
	}

	return rs, nil
}

// Probe dumps the live kernel ruleset without mutating it.
func (r *Reconciler) Probe(ctx context.Context) (*Ruleset, error) {
	result, err := r.runner.Run(ctx, transport.Command{Argv: []string{"iptables-save", "-t", "filter"}})
	if err != nil {
		return nil, err
	}
	if result.ExitCode != 0 {
		return nil, fmt.Errorf("iptables-save exited %d: %s", result.ExitCode, result.Stderr)
	}
	return ParseSave([]byte(result.Stdout))
}

// Reconcile builds the replacement ruleset from the desired rules, loads it
// atomically and persists it. On a failed load the previously active
// ruleset is left untouched and nothing is persisted.
func (r *Reconciler) Reconcile(ctx context.Context, desired []Rule) (*Ruleset, error) {
	rs, err := Build(desired)
	if err != nil {
		return nil, err
	}

	if err := r.apply(ctx, rs); err != nil {
		return nil, err
	}

	if err := r.persist(ctx, rs); err != nil {
		return nil, err
	}

	log.Info().
		Int("rules", len(rs.Rules)).
		Str("persist_path", r.persistPath).
		Msg("firewall ruleset applied")

	return rs, nil
}

// Diff reports whether the desired build differs from the live ruleset.
// Used by check mode; rendering both sides keeps the comparison exact.
func (r *Reconciler) Diff(ctx context.Context, desired []Rule) (current, want []byte, err error) {
	rs, err := Build(desired)
	if err != nil {
		return nil, nil, err
	}
	live, err := r.Probe(ctx)
	if err != nil {
		return nil, nil, err
	}
	return live.Render(), rs.Render(), nil
}

// apply loads the ruleset in one iptables-restore operation.
func (r *Reconciler) apply(ctx context.Context, rs *Ruleset) error {
	result, err := r.runner.Run(ctx, transport.Command{
		Argv:  []string{"iptables-restore", "--table=filter"},
		Stdin: rs.Render(),
	})
	if err != nil {
		return &RuleApplyError{Err: err}
	}
	if result.ExitCode != 0 {
		return &RuleApplyError{
			Stderr: result.Stderr,
			Err:    fmt.Errorf("iptables-restore exited %d", result.ExitCode),
		}
	}
	return nil
}

// persist writes the applied ruleset to durable storage.
func (r *Reconciler) persist(ctx context.Context, rs *Ruleset) error {
	if err := r.runner.WriteFile(ctx, r.persistPath, rs.Render(), 0o644); err != nil {
		return fmt.Errorf("failed to persist ruleset to %s: %w", r.persistPath, err)
	}
	return nil
}

func chainOf(r *Rule) string {
	if r.Chain == "" {
		return defaultChain
	}
	return r.Chain
}
