package modules

import (
	"context"
	"fmt"
	"strings"

	"github.com/hostplane/hostplane/pkg/engine"
	"github.com/hostplane/hostplane/pkg/probe"
	"github.com/hostplane/hostplane/pkg/transport"
)

// PackageModule manages apt packages.
type PackageModule struct {
	runner transport.Runner
	prober *probe.Prober
}

// Apply implements engine.Module.
func (m *PackageModule) Apply(ctx context.Context, params engine.Params, check bool) (*engine.TaskResult, error) {
	p, ok := params.(*engine.PackageParams)
	if !ok {
		return nil, fmt.Errorf("unexpected params type %T", params)
	}

	state := p.State
	if state == "" {
		state = "present"
	}

	current, err := m.prober.Package(ctx, p.Name)
	if err != nil {
		return nil, err
	}

	switch state {
	case "present":
		if current.Installed && (p.Version == "" || current.Version == p.Version) {
			return &engine.TaskResult{Changed: false, Action: "already_present"}, nil
		}
		if check {
			return &engine.TaskResult{Changed: true, Action: "installed"}, nil
		}
		if err := m.install(ctx, p.Name, p.Version); err != nil {
			return nil, err
		}
		return &engine.TaskResult{Changed: true, Action: "installed"}, nil

	case "absent":
		if !current.Installed {
			return &engine.TaskResult{Changed: false, Action: "already_absent"}, nil
		}
		if check {
			return &engine.TaskResult{Changed: true, Action: "removed"}, nil
		}
		if err := m.remove(ctx, p.Name); err != nil {
			return nil, err
		}
		return &engine.TaskResult{Changed: true, Action: "removed"}, nil

	case "latest":
		if !current.Installed {
			if check {
				return &engine.TaskResult{Changed: true, Action: "installed"}, nil
			}
			if err := m.install(ctx, p.Name, ""); err != nil {
				return nil, err
			}
			return &engine.TaskResult{Changed: true, Action: "installed"}, nil
		}
		upgradable, err := m.upgradable(ctx, p.Name)
		if err != nil {
			return nil, err
		}
		if !upgradable {
			return &engine.TaskResult{Changed: false, Action: "already_latest"}, nil
		}
		if check {
			return &engine.TaskResult{Changed: true, Action: "upgraded"}, nil
		}
		if err := m.upgrade(ctx, p.Name); err != nil {
			return nil, err
		}
		return &engine.TaskResult{Changed: true, Action: "upgraded"}, nil

	default:
		return nil, fmt.Errorf("invalid package state %q", state)
	}
}

func (m *PackageModule) install(ctx context.Context, name, version string) error {
	spec := name
	if version != "" {
		spec = name + "=" + version
	}
	return m.apt(ctx, "install", "-y", spec)
}

func (m *PackageModule) remove(ctx context.Context, name string) error {
	return m.apt(ctx, "remove", "-y", name)
}

func (m *PackageModule) upgrade(ctx context.Context, name string) error {
	return m.apt(ctx, "install", "--only-upgrade", "-y", name)
}

// upgradable reports whether a newer candidate version exists. Probing only:
// apt-cache policy never mutates package state.
func (m *PackageModule) upgradable(ctx context.Context, name string) (bool, error) {
	result, err := m.runner.Run(ctx, transport.Command{
		Argv: []string{"apt-cache", "policy", name},
	})
	if err != nil {
		return false, engine.NewProbeError("package/"+name, err)
	}
	if result.ExitCode != 0 {
		return false, engine.NewProbeError("package/"+name,
			fmt.Errorf("apt-cache policy exited %d: %s", result.ExitCode, strings.TrimSpace(result.Stderr)))
	}

	var installed, candidate string
	for _, line := range strings.Split(result.Stdout, "\n") {
		key, value, ok := strings.Cut(strings.TrimSpace(line), ":")
		if !ok {
			continue
		}
		switch key {
		case "Installed":
			installed = strings.TrimSpace(value)
		case "Candidate":
			candidate = strings.TrimSpace(value)
		}
	}
	return candidate != "" && candidate != "(none)" && candidate != installed, nil
}

func (m *PackageModule) apt(ctx context.Context, args ...string) error {
	argv := append([]string{"apt-get"}, args...)
	result, err := m.runner.Run(ctx, transport.Command{
		Argv: argv,
		Env:  []string{"DEBIAN_FRONTEND=noninteractive"},
	})
	if err != nil {
		return err
	}
	if result.ExitCode != 0 {
		return fmt.Errorf("%s exited %d: %s", strings.Join(argv, " "), result.ExitCode,
			strings.TrimSpace(result.Stderr))
	}
	return nil
}
