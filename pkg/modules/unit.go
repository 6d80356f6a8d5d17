package modules

import (
	"bytes"
	"context"
	"fmt"
	"strings"
	"text/template"

	"github.com/hostplane/hostplane/pkg/engine"
	"github.com/hostplane/hostplane/pkg/transport"
)

// unitTemplate renders a systemd service unit from a UnitParams descriptor.
var unitTemplate = template.Must(template.New("unit").Parse(`[Unit]
{{- if .Description}}
Description={{.Description}}
{{- end}}
After=network.target

[Service]
ExecStart={{.ExecStart}}
{{- if .WorkingDir}}
WorkingDirectory={{.WorkingDir}}
{{- end}}
{{- if .User}}
User={{.User}}
{{- end}}
{{- if .Restart}}
Restart={{.Restart}}
{{- end}}

[Install]
WantedBy=multi-user.target
`))

// UnitModule writes a systemd unit file from a descriptor and reloads the
// systemd configuration when the file changed.
type UnitModule struct {
	runner transport.Runner
	files  *fileWriter
}

// Apply implements engine.Module.
func (m *UnitModule) Apply(ctx context.Context, params engine.Params, check bool) (*engine.TaskResult, error) {
	p, ok := params.(*engine.UnitParams)
	if !ok {
		return nil, fmt.Errorf("unexpected params type %T", params)
	}

	var content bytes.Buffer
	if err := unitTemplate.Execute(&content, p); err != nil {
		return nil, fmt.Errorf("failed to render unit %s: %w", p.Name, err)
	}

	dest := "/etc/systemd/system/" + p.Name + ".service"
	result, err := m.files.ensure(ctx, dest, content.Bytes(), "0644", "", "", check)
	if err != nil {
		return nil, err
	}

	changed := result.Changed
	actions := []string{}
	if changed {
		actions = append(actions, result.Action)
	}

	if changed && !check {
		if err := m.systemctl(ctx, "daemon-reload"); err != nil {
			return nil, err
		}
		actions = append(actions, "daemon_reloaded")
	}

	if p.Enabled != nil {
		enableResult, err := m.ensureEnabled(ctx, p.Name, *p.Enabled, check)
		if err != nil {
			return nil, err
		}
		if enableResult != "" {
			changed = true
			actions = append(actions, enableResult)
		}
	}

	if !changed {
		return &engine.TaskResult{Changed: false, Action: "already_present", Diff: result.Diff}, nil
	}
	return &engine.TaskResult{
		Changed: true,
		Action:  strings.Join(actions, ","),
		Diff:    result.Diff,
	}, nil
}

// ensureEnabled converges the unit's boot enablement, returning the action
// taken or empty when already converged.
func (m *UnitModule) ensureEnabled(ctx context.Context, name string, enabled, check bool) (string, error) {
	result, err := m.runner.Run(ctx, transport.Command{
		Argv: []string{"systemctl", "is-enabled", name + ".service"},
	})
	if err != nil {
		return "", engine.NewProbeError("service/"+name, err)
	}
	current := strings.TrimSpace(result.Stdout) == "enabled"
	if current == enabled {
		return "", nil
	}

	verb, action := "enable", "enabled"
	if !enabled {
		verb, action = "disable", "disabled"
	}
	if check {
		return action, nil
	}
	if err := m.systemctl(ctx, verb, name+".service"); err != nil {
		return "", err
	}
	return action, nil
}

func (m *UnitModule) systemctl(ctx context.Context, args ...string) error {
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
