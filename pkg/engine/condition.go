package engine

import (
	"fmt"
	"sort"

	"go.starlark.net/starlark"
)

// ConditionEvaluator evaluates task guard expressions. Guards are Starlark
// expressions with probed facts and playbook vars predeclared; a guard must
// yield a boolean.
type ConditionEvaluator struct {
	predeclared starlark.StringDict
}

// NewConditionEvaluator builds an evaluator over facts and vars. Conversion
// failures are reported up front so a bad variable set fails at plan time,
// not on the first guarded task.
func NewConditionEvaluator(facts, vars map[string]any) (*ConditionEvaluator, error) {
	predeclared := starlark.StringDict{}

	factsVal, err := toStarlarkValue(facts)
	if err != nil {
		return nil, NewPlanError("", "failed to convert facts for guard evaluation", err)
	}
	predeclared["facts"] = factsVal

	varsVal, err := toStarlarkValue(vars)
	if err != nil {
		return nil, NewPlanError("", "failed to convert vars for guard evaluation", err)
	}
	predeclared["vars"] = varsVal

	return &ConditionEvaluator{predeclared: predeclared}, nil
}

// Evaluate runs one guard expression and returns its boolean result.
func (e *ConditionEvaluator) Evaluate(expr string) (bool, error) {
	thread := &starlark.Thread{
		Name: "hostplane-guard",
		Print: func(_ *starlark.Thread, _ string) {
			// Guards are pure expressions; print output goes nowhere.
		},
	}

	value, err := starlark.Eval(thread, "when", expr, e.predeclared)
	if err != nil {
		return false, fmt.Errorf("guard %q: %w", expr, err)
	}

	result, ok := value.(starlark.Bool)
	if !ok {
		return false, fmt.Errorf("guard %q: expression yields %s, want bool", expr, value.Type())
	}
	return bool(result), nil
}

// toStarlarkValue converts a Go value produced by the prober or the playbook
// loader into its Starlark equivalent.
func toStarlarkValue(v any) (starlark.Value, error) {
	switch val := v.(type) {
	case nil:
		return starlark.None, nil
	case bool:
		return starlark.Bool(val), nil
	case int:
		return starlark.MakeInt(val), nil
	case int64:
		return starlark.MakeInt64(val), nil
	case float64:
		return starlark.Float(val), nil
	case string:
		return starlark.String(val), nil
	case []any:
		items := make([]starlark.Value, 0, len(val))
		for _, item := range val {
			converted, err := toStarlarkValue(item)
			if err != nil {
				return nil, err
			}
			items = append(items, converted)
		}
		return starlark.NewList(items), nil
	case []string:
		items := make([]starlark.Value, 0, len(val))
		for _, item := range val {
			items = append(items, starlark.String(item))
		}
		return starlark.NewList(items), nil
	case map[string]any:
		dict := starlark.NewDict(len(val))
		keys := make([]string, 0, len(val))
		for k := range val {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			converted, err := toStarlarkValue(val[k])
			if err != nil {
				return nil, err
			}
			if err := dict.SetKey(starlark.String(k), converted); err != nil {
				return nil, err
			}
		}
		return dict, nil
	default:
		return nil, fmt.Errorf("unsupported value type %T", v)
	}
}
