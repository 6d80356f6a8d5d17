// Package engine implements the core reconciliation workflow for hostplane:
// Probe -> Plan -> Execute -> Handlers. It owns the task and handler data
// model, the execution plan builder, and the sequential idempotent executor.
package engine

import (
	"errors"
	"fmt"

	"github.com/hostplane/hostplane/pkg/firewall"
)

// TaskErrorKind classifies task execution failures.
type TaskErrorKind string

const (
	// TaskErrorExecFailure indicates the underlying OS mutation failed.
	TaskErrorExecFailure TaskErrorKind = "exec_failure"

	// TaskErrorTimeout indicates the per-task timeout was exceeded.
	TaskErrorTimeout TaskErrorKind = "timeout"
)

// ProbeError indicates that the current state of a resource could not be
// inspected (tool missing, permission denied, transport failure). Probing
// never mutates the host, so a ProbeError always aborts before any change.
type ProbeError struct {
	// Resource describes the resource being probed (e.g. "package/git").
	Resource string

	// Err is the underlying failure.
	Err error
}

func (e *ProbeError) Error() string {
	return fmt.Sprintf("probe %s: %v", e.Resource, e.Err)
}

func (e *ProbeError) Unwrap() error { return e.Err }

// NewProbeError creates a ProbeError for the given resource descriptor.
func NewProbeError(resource string, err error) *ProbeError {
	return &ProbeError{Resource: resource, Err: err}
}

// PlanError indicates the declared task list could not be turned into an
// execution plan: unknown module type, invalid parameters, a notify edge to
// a handler that does not exist, or a cyclic handler dependency.
type PlanError struct {
	// Task is the name of the offending task or handler, if known.
	Task string

	// Message describes what was rejected.
	Message string

	// Err is the underlying cause, if any.
	Err error
}

func (e *PlanError) Error() string {
	if e.Task != "" {
		return fmt.Sprintf("plan: task %q: %s", e.Task, e.message())
	}
	return fmt.Sprintf("plan: %s", e.message())
}

func (e *PlanError) message() string {
	if e.Err != nil {
		if e.Message != "" {
			return fmt.Sprintf("%s: %v", e.Message, e.Err)
		}
		return e.Err.Error()
	}
	return e.Message
}

func (e *PlanError) Unwrap() error { return e.Err }

// NewPlanError creates a PlanError scoped to the named task.
func NewPlanError(task, message string, err error) *PlanError {
	return &PlanError{Task: task, Message: message, Err: err}
}

// TaskError indicates a task failed while executing. It carries the task
// name and a kind so callers can distinguish timeouts from exec failures.
type TaskError struct {
	// TaskName is the declared name of the failing task.
	TaskName string

	// Kind classifies the failure.
	Kind TaskErrorKind

	// Err is the underlying cause.
	Err error
}

func (e *TaskError) Error() string {
	return fmt.Sprintf("task %q: %s: %v", e.TaskName, e.Kind, e.Err)
}

func (e *TaskError) Unwrap() error { return e.Err }

// Is matches TaskErrors by kind, ignoring the task name.
func (e *TaskError) Is(target error) bool {
	t, ok := target.(*TaskError)
	if !ok {
		return false
	}
	return t.Kind == "" || t.Kind == e.Kind
}

// NewTaskError creates an exec-failure TaskError.
func NewTaskError(taskName string, err error) *TaskError {
	return &TaskError{TaskName: taskName, Kind: TaskErrorExecFailure, Err: err}
}

// NewTaskTimeoutError creates a timeout TaskError.
func NewTaskTimeoutError(taskName string, err error) *TaskError {
	return &TaskError{TaskName: taskName, Kind: TaskErrorTimeout, Err: err}
}

// SecretError indicates the secrets store could not be resolved (wrong
// passphrase, corrupt store, malformed payload). Always fatal before any
// task referencing secrets executes. The message never contains plaintext.
type SecretError struct {
	// Message describes the failure without exposing secret material.
	Message string

	// Err is the underlying cause.
	Err error
}

func (e *SecretError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("secrets: %s: %v", e.Message, e.Err)
	}
	return fmt.Sprintf("secrets: %s", e.Message)
}

func (e *SecretError) Unwrap() error { return e.Err }

// NewSecretError creates a SecretError.
func NewSecretError(message string, err error) *SecretError {
	return &SecretError{Message: message, Err: err}
}

// IsProbeError reports whether err is (or wraps) a ProbeError.
func IsProbeError(err error) bool {
	var e *ProbeError
	return errors.As(err, &e)
}

// IsPlanError reports whether err is (or wraps) a PlanError.
func IsPlanError(err error) bool {
	var e *PlanError
	return errors.As(err, &e)
}

// IsTaskError reports whether err is (or wraps) a TaskError.
func IsTaskError(err error) bool {
	var e *TaskError
	return errors.As(err, &e)
}

// IsTimeout reports whether err is a TaskError of kind timeout.
func IsTimeout(err error) bool {
	var e *TaskError
	if errors.As(err, &e) {
		return e.Kind == TaskErrorTimeout
	}
	return false
}

// IsRuleOrderError reports whether err is (or wraps) a firewall.RuleOrderError.
func IsRuleOrderError(err error) bool {
	var e *firewall.RuleOrderError
	return errors.As(err, &e)
}

// IsRuleApplyError reports whether err is (or wraps) a firewall.RuleApplyError.
func IsRuleApplyError(err error) bool {
	var e *firewall.RuleApplyError
	return errors.As(err, &e)
}

// IsSecretError reports whether err is (or wraps) a SecretError.
func IsSecretError(err error) bool {
	var e *SecretError
	return errors.As(err, &e)
}

// ExitCode maps an error to the CLI exit code for its failure class.
// Success is 0; unclassified failures are 1.
func ExitCode(err error) int {
	switch {
	case err == nil:
		return 0
	case IsProbeError(err):
		return 2
	case IsPlanError(err):
		return 3
	case IsRuleOrderError(err), IsRuleApplyError(err):
		return 5
	case IsSecretError(err):
		return 6
	case IsTaskError(err):
		return 4
	default:
		return 1
	}
}
