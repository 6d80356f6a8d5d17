package engine

import (
	"errors"
	"fmt"
	"testing"

	"github.com/hostplane/hostplane/pkg/firewall"
)

func TestErrorClassPredicates(t *testing.T) {
	probeErr := NewProbeError("package/git", errors.New("dpkg missing"))
	if !IsProbeError(probeErr) || IsTaskError(probeErr) {
		t.Error("probe error misclassified")
	}

	wrapped := fmt.Errorf("run failed: %w", probeErr)
	if !IsProbeError(wrapped) {
		t.Error("wrapped probe error not detected")
	}

	taskErr := NewTaskError("install", errors.New("apt failed"))
	if !IsTaskError(taskErr) || IsTimeout(taskErr) {
		t.Error("exec failure misclassified")
	}

	timeoutErr := NewTaskTimeoutError("install", errors.New("deadline"))
	if !IsTimeout(timeoutErr) || !IsTaskError(timeoutErr) {
		t.Error("timeout misclassified")
	}

	orderErr := &firewall.RuleOrderError{Chain: "INPUT"}
	if !IsRuleOrderError(orderErr) {
		t.Error("rule order error not detected")
	}
}

func TestExitCodes(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{nil, 0},
		{errors.New("plain"), 1},
		{NewProbeError("r", errors.New("x")), 2},
		{NewPlanError("t", "bad", nil), 3},
		{NewTaskError("t", errors.New("x")), 4},
		{NewTaskTimeoutError("t", errors.New("x")), 4},
		{&firewall.RuleOrderError{Chain: "INPUT"}, 5},
		{&firewall.RuleApplyError{Err: errors.New("x")}, 5},
		{NewSecretError("bad passphrase", nil), 6},
	}

	for _, tt := range tests {
		if got := ExitCode(tt.err); got != tt.want {
			t.Errorf("ExitCode(%v) = %d, want %d", tt.err, got, tt.want)
		}
	}
}

func TestTaskErrorIsMatchesByKind(t *testing.T) {
	err := fmt.Errorf("wrap: %w", NewTaskTimeoutError("t", errors.New("x")))
	if !errors.Is(err, &TaskError{Kind: TaskErrorTimeout}) {
		t.Error("timeout kind should match")
	}
	if errors.Is(err, &TaskError{Kind: TaskErrorExecFailure}) {
		t.Error("exec failure kind should not match a timeout")
	}
}
