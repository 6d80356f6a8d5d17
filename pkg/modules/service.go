package modules

import (
	"context"
	"fmt"
	"strings"

	"github.com/hostplane/hostplane/pkg/engine"
	"github.com/hostplane/hostplane/pkg/probe"
	"github.com/hostplane/hostplane/pkg/transport"
)

// systemctlVerbs maps reported actions to systemctl subcommands.
var systemctlVerbs = map[string]string{
	"started":   "start",
	"stopped":   "stop",
	"restarted": "restart",
	"reloaded":  "reload",
	"enabled":   "enable",
	"disabled":  "disable",
}

// ServiceModule manages a systemd service's run state and boot enablement.
type ServiceModule struct {
	runner transport.Runner
	prober *probe.Prober
}

// Apply implements engine.Module.
func (m *ServiceModule) Apply(ctx context.Context, params engine.Params, check bool) (*engine.TaskResult, error) {
	p, ok := params.(*engine.ServiceParams)
	if !ok {
		return nil, fmt.Errorf("unexpected params type %T", params)
	}

	current, err := m.prober.Service(ctx, p.Name)
	if err != nil {
		return nil, err
	}

	var actions []string

	switch p.State {
	case "started":
		if !current.Active {
			actions = append(actions, "started")
		}
	case "stopped":
		if current.Active {
			actions = append(actions, "stopped")
		}
	case "restarted":
		// Restart is an explicit request, not a convergence target; it
		// always acts.
		actions = append(actions, "restarted")
	case "reloaded":
		actions = append(actions, "reloaded")
	case "":
		// Run state unmanaged.
	}

	if p.Enabled != nil && *p.Enabled != current.Enabled {
		if *p.Enabled {
			actions = append(actions, "enabled")
		} else {
			actions = append(actions, "disabled")
		}
	}

	if len(actions) == 0 {
		return &engine.TaskResult{Changed: false, Action: "already_ok"}, nil
	}
	if check {
		return &engine.TaskResult{Changed: true, Action: strings.Join(actions, ",")}, nil
	}

	for _, action := range actions {
		if err := m.systemctl(ctx, systemctlVerbs[action], p.Name); err != nil {
			return nil, err
		}
	}

	return &engine.TaskResult{Changed: true, Action: strings.Join(actions, ",")}, nil
}

func (m *ServiceModule) systemctl(ctx context.Context, args ...string) error {
	argv := append([]string{"systemctl"}, args...)
	result, err := m.runner.Run(ctx, transport.Command{Argv: argv})
	if err != nil {
		return err
	}
	if result.ExitCode != 0 {
		return fmt.Errorf("%s exited %d: %s", strings.Join(argv, " "), result.ExitCode,
			strings.TrimSpace(result.Stderr))
	}
	return nil
}
