// Package playbook loads the declarative YAML input: a named list of tasks
// and handlers with playbook-scoped variables and an optional encrypted
// secrets store reference.
//
// Each task entry carries exactly one module key (package, file, template,
// service, command, unit or firewall) next to the task metadata keys; the
// module parameters stay an undecoded YAML node here and are decoded and
// validated by the plan builder.
package playbook

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/hostplane/hostplane/pkg/engine"
)

// Playbook is the parsed top-level document.
type Playbook struct {
	// Name labels the playbook in logs and run history.
	Name string

	// Vars are playbook-scoped variables for templates and guards.
	Vars map[string]any

	// SecretsFile is the path of the encrypted secrets store, relative to
	// the playbook directory. Empty means no secrets.
	SecretsFile string

	// Tasks in declaration order.
	Tasks []engine.TaskSpec

	// Handlers referenced by task notify lists.
	Handlers []engine.HandlerSpec

	// Dir is the playbook's directory, the anchor for relative paths.
	Dir string
}

// metaKeys are the task entry keys that are not module keys.
var metaKeys = map[string]bool{
	"name":          true,
	"when":          true,
	"notify":        true,
	"ignore_errors": true,
	"best_effort":   true,
	"timeout":       true,
}

type document struct {
	Name        string         `yaml:"name"`
	Vars        map[string]any `yaml:"vars"`
	SecretsFile string         `yaml:"secrets_file"`
	Tasks       []entry        `yaml:"tasks"`
	Handlers    []entry        `yaml:"handlers"`
}

// entry is one raw task or handler mapping. The module key is found by
// elimination: every key that is not task metadata must be a module key, and
// there must be exactly one.
type entry struct {
	Name         string
	When         string
	Notify       []string
	IgnoreErrors bool
	BestEffort   bool
	Timeout      time.Duration
	Module       engine.ModuleType
	Params       *yaml.Node
}

// UnmarshalYAML implements yaml.Unmarshaler.
func (e *entry) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind != yaml.MappingNode {
		return fmt.Errorf("line %d: task entry must be a mapping", node.Line)
	}

	for i := 0; i+1 < len(node.Content); i += 2 {
		key := node.Content[i].Value
		value := node.Content[i+1]

		if metaKeys[key] {
			if err := e.decodeMeta(key, value); err != nil {
				return err
			}
			continue
		}

		if e.Module != "" {
			return fmt.Errorf("line %d: entry has both %q and %q module keys", node.Line, e.Module, key)
		}
		moduleType := engine.ModuleType(key)
		if err := moduleType.Validate(); err != nil {
			return fmt.Errorf("line %d: unknown key %q", node.Content[i].Line, key)
		}
		e.Module = moduleType
		e.Params = value
	}

	if e.Module == "" {
		return fmt.Errorf("line %d: entry %q has no module key", node.Line, e.Name)
	}
	return nil
}

func (e *entry) decodeMeta(key string, value *yaml.Node) error {
	switch key {
	case "name":
		return value.Decode(&e.Name)
	case "when":
		return value.Decode(&e.When)
	case "notify":
		// Accept both a single handler name and a list.
		if value.Kind == yaml.ScalarNode {
			var single string
			if err := value.Decode(&single); err != nil {
				return err
			}
			e.Notify = []string{single}
			return nil
		}
		return value.Decode(&e.Notify)
	case "ignore_errors":
		return value.Decode(&e.IgnoreErrors)
	case "best_effort":
		return value.Decode(&e.BestEffort)
	case "timeout":
		var raw string
		if err := value.Decode(&raw); err != nil {
			return err
		}
		timeout, err := time.ParseDuration(raw)
		if err != nil {
			return fmt.Errorf("invalid timeout %q: %w", raw, err)
		}
		e.Timeout = timeout
	}
	return nil
}

// Load reads and parses the playbook at path.
func Load(path string) (*Playbook, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read playbook: %w", err)
	}
	pb, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("playbook %s: %w", path, err)
	}
	pb.Dir = filepath.Dir(path)
	return pb, nil
}

// Parse parses a playbook document.
func Parse(data []byte) (*Playbook, error) {
	var doc document
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, err
	}

	pb := &Playbook{
		Name:        doc.Name,
		Vars:        doc.Vars,
		SecretsFile: doc.SecretsFile,
	}

	for _, e := range doc.Tasks {
		pb.Tasks = append(pb.Tasks, engine.TaskSpec{
			Name:         e.Name,
			Module:       e.Module,
			Params:       e.Params,
			When:         e.When,
			Notify:       e.Notify,
			IgnoreErrors: e.IgnoreErrors,
			BestEffort:   e.BestEffort,
			Timeout:      e.Timeout,
		})
	}
	for _, e := range doc.Handlers {
		pb.Handlers = append(pb.Handlers, engine.HandlerSpec{
			Name:   e.Name,
			Module: e.Module,
			Params: e.Params,
			Notify: e.Notify,
		})
	}

	return pb, nil
}

// SecretsPath resolves the secrets store path against the playbook dir.
func (p *Playbook) SecretsPath() string {
	if p.SecretsFile == "" {
		return ""
	}
	if filepath.IsAbs(p.SecretsFile) || p.Dir == "" {
		return p.SecretsFile
	}
	return filepath.Join(p.Dir, p.SecretsFile)
}
