package modules

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"text/template"

	"github.com/hostplane/hostplane/pkg/engine"
)

// TemplateModule renders a text/template against facts, vars and the secret
// lookup function, then applies file semantics to the rendered content.
type TemplateModule struct {
	files        *fileWriter
	srcRoot      string
	facts        map[string]any
	vars         map[string]any
	secretLookup func(key string) (string, error)
}

// Apply implements engine.Module.
func (m *TemplateModule) Apply(ctx context.Context, params engine.Params, check bool) (*engine.TaskResult, error) {
	p, ok := params.(*engine.TemplateParams)
	if !ok {
		return nil, fmt.Errorf("unexpected params type %T", params)
	}

	source, err := os.ReadFile(resolveSrc(m.srcRoot, p.Src))
	if err != nil {
		return nil, fmt.Errorf("failed to read template %s: %w", p.Src, err)
	}

	content, secretsUsed, err := m.render(p.Src, source, p.Vars)
	if err != nil {
		return nil, err
	}

	result, err := m.files.ensure(ctx, p.Dest, content, p.Mode, p.Owner, p.Group, check)
	if err != nil {
		return nil, err
	}
	// A rendered secret must not leak through the check-mode diff; the
	// plaintext ends up only in the destination file.
	if secretsUsed && result.Diff != "" {
		result.Diff = "(diff withheld: rendered content contains secrets)"
	}
	return result, nil
}

// render executes the template and reports whether the secret function was
// invoked. Task-level vars shadow playbook vars of the same name.
func (m *TemplateModule) render(name string, source []byte, taskVars map[string]any) ([]byte, bool, error) {
	vars := make(map[string]any, len(m.vars)+len(taskVars))
	for k, v := range m.vars {
		vars[k] = v
	}
	for k, v := range taskVars {
		vars[k] = v
	}

	secretsUsed := false
	secretFn := func(key string) (string, error) {
		secretsUsed = true
		return m.secret(key)
	}

	tmpl, err := template.New(name).
		Option("missingkey=error").
		Funcs(template.FuncMap{"secret": secretFn}).
		Parse(string(source))
	if err != nil {
		return nil, false, fmt.Errorf("failed to parse template %s: %w", name, err)
	}

	var out bytes.Buffer
	data := map[string]any{
		"Facts": m.facts,
		"Vars":  vars,
	}
	if err := tmpl.Execute(&out, data); err != nil {
		return nil, false, fmt.Errorf("failed to render template %s: %w", name, err)
	}
	return out.Bytes(), secretsUsed, nil
}

func (m *TemplateModule) secret(key string) (string, error) {
	if m.secretLookup == nil {
		return "", fmt.Errorf("secret %q referenced but no secrets store is configured", key)
	}
	return m.secretLookup(key)
}
