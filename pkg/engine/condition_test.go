package engine

import "testing"

func testEvaluator(t *testing.T) *ConditionEvaluator {
	t.Helper()
	evaluator, err := NewConditionEvaluator(
		map[string]any{
			"os":     map[string]any{"id": "debian", "version": "12"},
			"arch":   "x86_64",
			"kernel": "6.1.0",
		},
		map[string]any{
			"env":       "production",
			"replicas":  3,
			"hardening": true,
		},
	)
	if err != nil {
		t.Fatalf("NewConditionEvaluator failed: %v", err)
	}
	return evaluator
}

func TestConditionEvaluator(t *testing.T) {
	evaluator := testEvaluator(t)

	tests := []struct {
		expr string
		want bool
	}{
		{`facts["os"]["id"] == "debian"`, true},
		{`facts["os"]["id"] == "fedora"`, false},
		{`facts["arch"] == "x86_64" and vars["env"] == "production"`, true},
		{`vars["replicas"] > 1`, true},
		{`vars["hardening"]`, true},
		{`not vars["hardening"]`, false},
	}

	for _, tt := range tests {
		got, err := evaluator.Evaluate(tt.expr)
		if err != nil {
			t.Errorf("Evaluate(%q) failed: %v", tt.expr, err)
			continue
		}
		if got != tt.want {
			t.Errorf("Evaluate(%q) = %v, want %v", tt.expr, got, tt.want)
		}
	}
}

func TestConditionEvaluator_NonBoolResult(t *testing.T) {
	evaluator := testEvaluator(t)
	if _, err := evaluator.Evaluate(`vars["replicas"]`); err == nil {
		t.Fatal("non-bool guard result must be an error")
	}
}

func TestConditionEvaluator_SyntaxError(t *testing.T) {
	evaluator := testEvaluator(t)
	if _, err := evaluator.Evaluate(`facts[`); err == nil {
		t.Fatal("malformed guard must be an error")
	}
}

func TestConditionEvaluator_UnknownName(t *testing.T) {
	evaluator := testEvaluator(t)
	if _, err := evaluator.Evaluate(`hostvars["x"]`); err == nil {
		t.Fatal("unknown name must be an error")
	}
}
