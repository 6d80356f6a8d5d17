package modules

import (
	"context"
	"fmt"
	"strings"

	"github.com/kballard/go-shellquote"

	"github.com/hostplane/hostplane/pkg/engine"
	"github.com/hostplane/hostplane/pkg/probe"
	"github.com/hostplane/hostplane/pkg/transport"
)

// CommandModule runs an arbitrary command. Commands are inherently
// non-idempotent, so the module supports two probe-only guards: creates
// (skip when a path exists) and unless (skip when a probe command succeeds).
type CommandModule struct {
	runner transport.Runner
	prober *probe.Prober
}

// Apply implements engine.Module.
func (m *CommandModule) Apply(ctx context.Context, params engine.Params, check bool) (*engine.TaskResult, error) {
	p, ok := params.(*engine.CommandParams)
	if !ok {
		return nil, fmt.Errorf("unexpected params type %T", params)
	}

	if p.Creates != "" {
		exists, err := m.prober.PathExists(ctx, p.Creates)
		if err != nil {
			return nil, err
		}
		if exists {
			return &engine.TaskResult{Changed: false, Action: "skipped_creates"}, nil
		}
	}

	if p.Unless != "" {
		result, err := m.runner.Run(ctx, transport.Command{
			Argv: []string{"sh", "-c", p.Unless},
			Dir:  p.Chdir,
		})
		if err != nil {
			return nil, engine.NewProbeError("command/unless", err)
		}
		if result.ExitCode == 0 {
			return &engine.TaskResult{Changed: false, Action: "skipped_unless"}, nil
		}
	}

	argv := p.Argv
	if p.Cmd != "" {
		split, err := shellquote.Split(p.Cmd)
		if err != nil {
			return nil, fmt.Errorf("failed to split cmd: %w", err)
		}
		argv = split
	}

	if check {
		return &engine.TaskResult{Changed: true, Action: "would_execute"}, nil
	}

	result, err := m.runner.Run(ctx, transport.Command{Argv: argv, Dir: p.Chdir})
	if err != nil {
		return nil, err
	}
	if result.ExitCode != 0 {
		return nil, fmt.Errorf("command exited %d: %s", result.ExitCode,
			strings.TrimSpace(result.Stderr))
	}

	return &engine.TaskResult{Changed: true, Action: "executed"}, nil
}
