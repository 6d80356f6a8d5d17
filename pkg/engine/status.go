package engine

import "fmt"

// TaskStatus represents the final status of a task within a run.
type TaskStatus string

const (
	// TaskStatusOK indicates the resource already matched desired state.
	TaskStatusOK TaskStatus = "ok"

	// TaskStatusChanged indicates the task mutated the host.
	TaskStatusChanged TaskStatus = "changed"

	// TaskStatusFailed indicates the task failed.
	TaskStatusFailed TaskStatus = "failed"

	// TaskStatusSkipped indicates the guard condition skipped the task.
	TaskStatusSkipped TaskStatus = "skipped"
)

// Validate checks if the task status is valid.
func (s TaskStatus) Validate() error {
	switch s {
	case TaskStatusOK, TaskStatusChanged, TaskStatusFailed, TaskStatusSkipped:
		return nil
	default:
		return fmt.Errorf("invalid task status: %s", s)
	}
}

// RunStatus represents the overall status of a run.
type RunStatus string

const (
	// RunStatusRunning indicates the run is executing.
	RunStatusRunning RunStatus = "running"

	// RunStatusSucceeded indicates every task reached desired state.
	RunStatusSucceeded RunStatus = "succeeded"

	// RunStatusFailed indicates the run halted on a task failure.
	RunStatusFailed RunStatus = "failed"

	// RunStatusPartial indicates some tasks failed but were ignored.
	RunStatusPartial RunStatus = "partial"

	// RunStatusCancelled indicates the run stopped on user interrupt.
	RunStatusCancelled RunStatus = "cancelled"
)

// IsTerminal returns true if the run status represents a final state.
func (s RunStatus) IsTerminal() bool {
	return s == RunStatusSucceeded || s == RunStatusFailed ||
		s == RunStatusPartial || s == RunStatusCancelled
}

// Validate checks if the run status is valid.
func (s RunStatus) Validate() error {
	switch s {
	case RunStatusRunning, RunStatusSucceeded, RunStatusFailed,
		RunStatusPartial, RunStatusCancelled:
		return nil
	default:
		return fmt.Errorf("invalid run status: %s", s)
	}
}
