// Package probe inspects the current state of host resources before any
// change is made. Probing never mutates the host: every function here maps
// to a read-only query (dpkg-query, systemctl show, stat, iptables-save).
package probe

import (
	"context"
	"fmt"
	"strings"

	"github.com/hostplane/hostplane/pkg/engine"
	"github.com/hostplane/hostplane/pkg/transport"
)

// PackageState is the probed state of one package.
type PackageState struct {
	// Installed reports whether the package is installed.
	Installed bool

	// Version is the installed version, when installed.
	Version string
}

// ServiceState is the probed state of one systemd unit.
type ServiceState struct {
	// Active reports whether the unit is active.
	Active bool

	// Enabled reports whether the unit is enabled on boot.
	Enabled bool

	// SubState is the detailed state, e.g. "running" or "dead".
	SubState string

	// Loaded reports whether systemd knows the unit at all.
	Loaded bool
}

// Prober queries host state through a transport runner.
type Prober struct {
	runner transport.Runner
}

// New creates a prober for the given target.
func New(runner transport.Runner) *Prober {
	return &Prober{runner: runner}
}

// Package queries the installed-version table for one package.
func (p *Prober) Package(ctx context.Context, name string) (*PackageState, error) {
	result, err := p.runner.Run(ctx, transport.Command{
		Argv: []string{"dpkg-query", "-W", "-f=${db:Status-Status} ${Version}", name},
	})
	if err != nil {
		return nil, engine.NewProbeError("package/"+name, err)
	}
	if result.ExitCode != 0 {
		// dpkg-query exits 1 for unknown packages; that is a clean
		// "not installed", not a probe failure.
		if strings.Contains(result.Stderr, "no packages found") {
			return &PackageState{}, nil
		}
		return nil, engine.NewProbeError("package/"+name,
			fmt.Errorf("dpkg-query exited %d: %s", result.ExitCode, strings.TrimSpace(result.Stderr)))
	}

	fields := strings.Fields(result.Stdout)
	if len(fields) < 1 {
		return &PackageState{}, nil
	}
	state := &PackageState{Installed: fields[0] == "installed"}
	if state.Installed && len(fields) > 1 {
		state.Version = fields[1]
	}
	return state, nil
}

// Service queries active/enabled flags and substate for one unit.
func (p *Prober) Service(ctx context.Context, name string) (*ServiceState, error) {
	result, err := p.runner.Run(ctx, transport.Command{
		Argv: []string{"systemctl", "show", name,
			"--property=ActiveState,UnitFileState,SubState,LoadState"},
	})
	if err != nil {
		return nil, engine.NewProbeError("service/"+name, err)
	}
	if result.ExitCode != 0 {
		return nil, engine.NewProbeError("service/"+name,
			fmt.Errorf("systemctl show exited %d: %s", result.ExitCode, strings.TrimSpace(result.Stderr)))
	}

	state := &ServiceState{}
	for _, line := range strings.Split(result.Stdout, "\n") {
		key, value, ok := strings.Cut(strings.TrimSpace(line), "=")
		if !ok {
			continue
		}
		switch key {
		case "ActiveState":
			state.Active = value == "active"
		case "UnitFileState":
			state.Enabled = value == "enabled"
		case "SubState":
			state.SubState = value
		case "LoadState":
			state.Loaded = value == "loaded"
		}
	}
	return state, nil
}

// File stats a path and computes its content checksum.
func (p *Prober) File(ctx context.Context, path string) (*transport.FileInfo, error) {
	info, err := p.runner.Stat(ctx, path)
	if err != nil {
		return nil, engine.NewProbeError("file/"+path, err)
	}
	return info, nil
}

// PathExists reports whether a path exists, for command-module guards.
func (p *Prober) PathExists(ctx context.Context, path string) (bool, error) {
	info, err := p.runner.Stat(ctx, path)
	if err != nil {
		return false, engine.NewProbeError("file/"+path, err)
	}
	return info.Exists, nil
}

// Facts collects basic host facts for guard-condition evaluation.
func (p *Prober) Facts(ctx context.Context) (map[string]any, error) {
	facts := map[string]any{}

	osFacts := map[string]any{}
	result, err := p.runner.Run(ctx, transport.Command{
		Argv: []string{"sh", "-c", "cat /etc/os-release 2>/dev/null || true"},
	})
	if err != nil {
		return nil, engine.NewProbeError("facts/os", err)
	}
	for _, line := range strings.Split(result.Stdout, "\n") {
		key, value, ok := strings.Cut(line, "=")
		if !ok {
			continue
		}
		value = strings.Trim(value, "\"")
		switch key {
		case "NAME":
			osFacts["name"] = value
		case "VERSION_ID":
			osFacts["version"] = value
		case "ID":
			osFacts["id"] = value
		}
	}
	facts["os"] = osFacts

	for fact, argv := range map[string][]string{
		"kernel":   {"uname", "-r"},
		"arch":     {"uname", "-m"},
		"hostname": {"hostname"},
	} {
		result, err := p.runner.Run(ctx, transport.Command{Argv: argv})
		if err != nil {
			return nil, engine.NewProbeError("facts/"+fact, err)
		}
		facts[fact] = strings.TrimSpace(result.Stdout)
	}

	return facts, nil
}
