package engine

import (
	"bytes"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/hostplane/hostplane/pkg/firewall"
)

// validate is the shared struct validator for decoded params.
var validate = validator.New(validator.WithRequiredStructEnabled())

// TaskSpec is the raw, parsed form of a task before plan building. Params is
// the undecoded YAML node under the module key; the plan builder decodes and
// validates it against the module's parameter struct.
type TaskSpec struct {
	Name         string
	Module       ModuleType
	Params       *yaml.Node
	When         string
	Notify       []string
	IgnoreErrors bool
	BestEffort   bool
	Timeout      time.Duration
}

// HandlerSpec is the raw, parsed form of a handler.
type HandlerSpec struct {
	Name   string
	Module ModuleType
	Params *yaml.Node
	Notify []string
}

// BuildPlan turns declared tasks and handlers into a validated execution
// plan. All structural errors are caught here: unknown module types, invalid
// or conflicting parameters, notify edges to handlers that do not exist, and
// handler notification cycles. Nothing touches the host during planning.
func BuildPlan(tasks []TaskSpec, handlers []HandlerSpec) (*ExecutionPlan, error) {
	plan := &ExecutionPlan{
		Handlers: make(map[string]*Handler, len(handlers)),
	}

	for _, spec := range handlers {
		if spec.Name == "" {
			return nil, NewPlanError("", "handler without a name", nil)
		}
		if _, exists := plan.Handlers[spec.Name]; exists {
			return nil, NewPlanError(spec.Name, "duplicate handler name", nil)
		}
		params, err := DecodeParams(spec.Module, spec.Params)
		if err != nil {
			return nil, NewPlanError(spec.Name, "invalid parameters", err)
		}
		plan.Handlers[spec.Name] = &Handler{
			Name:   spec.Name,
			Params: params,
			Notify: spec.Notify,
		}
	}

	for _, handler := range plan.Handlers {
		for _, target := range handler.Notify {
			if _, ok := plan.Handlers[target]; !ok {
				return nil, NewPlanError(handler.Name,
					fmt.Sprintf("notify references unknown handler %q", target), nil)
			}
		}
	}

	if err := detectHandlerCycles(plan.Handlers); err != nil {
		return nil, err
	}

	for i, spec := range tasks {
		if spec.Name == "" {
			return nil, NewPlanError("", fmt.Sprintf("task %d has no name", i), nil)
		}
		params, err := DecodeParams(spec.Module, spec.Params)
		if err != nil {
			return nil, NewPlanError(spec.Name, "invalid parameters", err)
		}
		for _, target := range spec.Notify {
			if _, ok := plan.Handlers[target]; !ok {
				return nil, NewPlanError(spec.Name,
					fmt.Sprintf("notify references unknown handler %q", target), nil)
			}
		}
		plan.Tasks = append(plan.Tasks, &Task{
			Name:         spec.Name,
			Params:       params,
			When:         spec.When,
			Notify:       spec.Notify,
			IgnoreErrors: spec.IgnoreErrors,
			BestEffort:   spec.BestEffort,
			Timeout:      spec.Timeout,
		})
	}

	return plan, nil
}

// DecodeParams decodes the YAML parameter node for one module type into its
// concrete parameter struct, strictly (unknown fields are errors), and runs
// struct validation plus per-module semantic checks.
func DecodeParams(module ModuleType, node *yaml.Node) (Params, error) {
	if err := module.Validate(); err != nil {
		return nil, err
	}

	var params Params
	switch module {
	case ModulePackage:
		params = &PackageParams{}
	case ModuleFile:
		params = &FileParams{}
	case ModuleTemplate:
		params = &TemplateParams{}
	case ModuleService:
		params = &ServiceParams{}
	case ModuleCommand:
		params = &CommandParams{}
	case ModuleUnit:
		params = &UnitParams{}
	case ModuleFirewall:
		params = &FirewallParams{}
	}

	if node != nil {
		if err := decodeStrict(node, params); err != nil {
			return nil, err
		}
	}

	if err := validate.Struct(params); err != nil {
		return nil, err
	}
	if err := checkSemantics(params); err != nil {
		return nil, err
	}
	return params, nil
}

// decodeStrict re-serializes the node and decodes it with KnownFields so an
// unknown parameter key is rejected instead of silently dropped.
func decodeStrict(node *yaml.Node, out any) error {
	raw, err := yaml.Marshal(node)
	if err != nil {
		return err
	}
	dec := yaml.NewDecoder(bytes.NewReader(raw))
	dec.KnownFields(true)
	return dec.Decode(out)
}

// checkSemantics enforces cross-field constraints the struct tags cannot
// express.
func checkSemantics(params Params) error {
	switch p := params.(type) {
	case *FileParams:
		if p.Content != "" && p.Src != "" {
			return fmt.Errorf("content and src are mutually exclusive")
		}
	case *CommandParams:
		if p.Cmd == "" && len(p.Argv) == 0 {
			return fmt.Errorf("one of cmd or argv is required")
		}
		if p.Cmd != "" && len(p.Argv) > 0 {
			return fmt.Errorf("cmd and argv are mutually exclusive")
		}
	case *FirewallParams:
		if len(p.Rules) == 0 && p.RulesFile == "" {
			return fmt.Errorf("one of rules or rules_file is required")
		}
		if len(p.Rules) > 0 && p.RulesFile != "" {
			return fmt.Errorf("rules and rules_file are mutually exclusive")
		}
		for i := range p.Rules {
			if err := p.Rules[i].Validate(); err != nil {
				return fmt.Errorf("rule %d: %w", i, err)
			}
		}
		if err := firewall.ValidateOrder(p.Rules); err != nil {
			return err
		}
	}
	return nil
}

// detectHandlerCycles walks the handler notify graph depth first and rejects
// any cycle, reporting the offending path.
func detectHandlerCycles(handlers map[string]*Handler) error {
	visited := make(map[string]bool)
	inStack := make(map[string]bool)

	var visit func(name string, path []string) error
	visit = func(name string, path []string) error {
		visited[name] = true
		inStack[name] = true
		path = append(path, name)

		for _, next := range handlers[name].Notify {
			if inStack[next] {
				cycle := append(cycleFrom(path, next), next)
				return NewPlanError(next,
					fmt.Sprintf("handler notification cycle: %s", strings.Join(cycle, " -> ")), nil)
			}
			if !visited[next] {
				if err := visit(next, path); err != nil {
					return err
				}
			}
		}

		inStack[name] = false
		return nil
	}

	for name := range handlers {
		if !visited[name] {
			if err := visit(name, nil); err != nil {
				return err
			}
		}
	}
	return nil
}

func cycleFrom(path []string, start string) []string {
	for i, name := range path {
		if name == start {
			return path[i:]
		}
	}
	return path
}
