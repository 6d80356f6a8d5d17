package engine

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Module applies one parameter set to the host. Implementations probe first
// and mutate only when probed state differs from desired state; in check
// mode they never mutate and report what would change.
type Module interface {
	Apply(ctx context.Context, params Params, check bool) (*TaskResult, error)
}

// ModuleRegistry resolves the module implementation for a module type.
type ModuleRegistry interface {
	Module(moduleType ModuleType) (Module, error)
}

// RunObserver receives execution lifecycle events. Used to feed metrics and
// the run history store without coupling the executor to either.
type RunObserver interface {
	TaskFinished(report TaskReport)
	RunFinished(report RunReport)
}

// ExecutorConfig configures an Executor.
type ExecutorConfig struct {
	// CheckMode makes the run a dry run: modules probe and diff but never
	// mutate.
	CheckMode bool

	// DefaultTimeout bounds tasks that declare no timeout of their own.
	// Zero means unbounded.
	DefaultTimeout time.Duration

	// Observer receives per-task and per-run events. May be nil.
	Observer RunObserver
}

// Executor runs an execution plan sequentially in declaration order. Tasks
// are idempotent by construction (probe, compare, mutate only on drift), a
// failing task halts the run unless it opted into ignore_errors, and
// handlers notified by changed tasks fire once each after the last task.
type Executor struct {
	registry  ModuleRegistry
	evaluator *ConditionEvaluator
	config    ExecutorConfig
}

// NewExecutor creates an executor. The evaluator may be nil when no task in
// the plan carries a guard.
func NewExecutor(registry ModuleRegistry, evaluator *ConditionEvaluator, config ExecutorConfig) *Executor {
	return &Executor{
		registry:  registry,
		evaluator: evaluator,
		config:    config,
	}
}

// Run executes the plan. The returned report is always populated, also on
// failure; the error carries the halting failure, classified. Cancelling ctx
// stops the run between tasks: the in-flight task runs to completion.
func (e *Executor) Run(ctx context.Context, plan *ExecutionPlan) (*RunReport, error) {
	report := &RunReport{
		RunID:     uuid.New().String(),
		CheckMode: e.config.CheckMode,
		StartedAt: time.Now().UTC(),
		Status:    RunStatusRunning,
	}
	logger := log.With().Str("run_id", report.RunID).Bool("check", e.config.CheckMode).Logger()

	// Handler queue: first-notified order, each handler at most once.
	var queue []string
	enqueued := make(map[string]bool)
	enqueue := func(names []string) {
		for _, name := range names {
			if !enqueued[name] {
				enqueued[name] = true
				queue = append(queue, name)
			}
		}
	}

	halt := func(err error) (*RunReport, error) {
		report.Status = RunStatusFailed
		e.finish(report, logger)
		return report, err
	}

	for _, task := range plan.Tasks {
		if err := ctx.Err(); err != nil {
			report.Status = RunStatusCancelled
			e.finish(report, logger)
			return report, err
		}

		taskReport, err := e.runTask(ctx, task, logger)
		e.record(report, taskReport)

		if err != nil {
			if task.IgnoreErrors {
				logger.Warn().Str("task", task.Name).Err(err).
					Msg("task failed, continuing (ignore_errors)")
				continue
			}
			return halt(err)
		}
		if taskReport.Changed {
			enqueue(task.Notify)
		}
	}

	for len(queue) > 0 {
		if err := ctx.Err(); err != nil {
			report.Status = RunStatusCancelled
			e.finish(report, logger)
			return report, err
		}

		name := queue[0]
		queue = queue[1:]
		handler := plan.Handlers[name]

		report.HandlersFired = append(report.HandlersFired, name)
		handlerReport, err := e.runTask(ctx, &Task{Name: name, Params: handler.Params}, logger)
		e.record(report, handlerReport)
		if err != nil {
			return halt(err)
		}
		if handlerReport.Changed {
			enqueue(handler.Notify)
		}
	}

	if report.Summary.Failed > 0 {
		report.Status = RunStatusPartial
	} else {
		report.Status = RunStatusSucceeded
	}
	e.finish(report, logger)
	return report, nil
}

// runTask executes one task (or handler) and produces its report. The
// returned error is non-nil only for failures that should halt or be
// ignored; skips are not errors.
func (e *Executor) runTask(ctx context.Context, task *Task, logger zerolog.Logger) (TaskReport, error) {
	taskReport := TaskReport{
		TaskName: task.Name,
		Module:   task.Params.Module(),
	}
	started := time.Now()
	defer func() {
		taskReport.Duration = time.Since(started)
	}()

	if task.When != "" {
		if e.evaluator == nil {
			err := NewPlanError(task.Name, "task has a guard but no evaluator is configured", nil)
			taskReport.Status = TaskStatusFailed
			taskReport.Error = err.Error()
			return taskReport, err
		}
		ok, err := e.evaluator.Evaluate(task.When)
		if err != nil {
			wrapped := NewTaskError(task.Name, err)
			taskReport.Status = TaskStatusFailed
			taskReport.Error = wrapped.Error()
			return taskReport, wrapped
		}
		if !ok {
			taskReport.Status = TaskStatusSkipped
			logger.Debug().Str("task", task.Name).Str("when", task.When).Msg("task skipped by guard")
			return taskReport, nil
		}
	}

	module, err := e.registry.Module(task.Params.Module())
	if err != nil {
		wrapped := NewPlanError(task.Name, "no module registered", err)
		taskReport.Status = TaskStatusFailed
		taskReport.Error = wrapped.Error()
		return taskReport, wrapped
	}

	// A started task runs to completion even if the run is cancelled, so
	// the task context inherits only the timeout, not the cancellation.
	taskCtx := context.WithoutCancel(ctx)
	timeout := task.Timeout
	if timeout == 0 {
		timeout = e.config.DefaultTimeout
	}
	if timeout > 0 {
		var cancel context.CancelFunc
		taskCtx, cancel = context.WithTimeout(taskCtx, timeout)
		defer cancel()
	}

	result, err := module.Apply(taskCtx, task.Params, e.config.CheckMode)
	if err != nil {
		wrapped := e.classify(task, taskCtx, err)
		if task.BestEffort && IsProbeError(wrapped) {
			taskReport.Status = TaskStatusSkipped
			logger.Warn().Str("task", task.Name).Err(wrapped).
				Msg("probe failed, skipping (best_effort)")
			return taskReport, nil
		}
		taskReport.Status = TaskStatusFailed
		taskReport.Error = wrapped.Error()
		logger.Error().Str("task", task.Name).Err(wrapped).Msg("task failed")
		return taskReport, wrapped
	}

	taskReport.Changed = result.Changed
	taskReport.Action = result.Action
	taskReport.Diff = result.Diff
	if result.Changed {
		taskReport.Status = TaskStatusChanged
	} else {
		taskReport.Status = TaskStatusOK
	}

	logger.Info().
		Str("task", task.Name).
		Str("module", string(task.Params.Module())).
		Str("status", string(taskReport.Status)).
		Str("action", result.Action).
		Dur("duration", time.Since(started)).
		Msg("task finished")
	return taskReport, nil
}

// classify maps a module failure to its error class. Probe, ordering, apply
// and secret errors keep their class; a deadline becomes a timeout error and
// everything else is an exec failure.
func (e *Executor) classify(task *Task, taskCtx context.Context, err error) error {
	switch {
	case IsProbeError(err), IsRuleOrderError(err), IsRuleApplyError(err), IsSecretError(err):
		return err
	case errors.Is(err, context.DeadlineExceeded) || errors.Is(taskCtx.Err(), context.DeadlineExceeded):
		return NewTaskTimeoutError(task.Name, err)
	default:
		return NewTaskError(task.Name, err)
	}
}

func (e *Executor) record(report *RunReport, taskReport TaskReport) {
	report.Tasks = append(report.Tasks, taskReport)
	switch taskReport.Status {
	case TaskStatusOK:
		report.Summary.OK++
	case TaskStatusChanged:
		report.Summary.Changed++
	case TaskStatusFailed:
		report.Summary.Failed++
	case TaskStatusSkipped:
		report.Summary.Skipped++
	}
	if e.config.Observer != nil {
		e.config.Observer.TaskFinished(taskReport)
	}
}

func (e *Executor) finish(report *RunReport, logger zerolog.Logger) {
	report.CompletedAt = time.Now().UTC()
	logger.Info().
		Str("status", string(report.Status)).
		Int("ok", report.Summary.OK).
		Int("changed", report.Summary.Changed).
		Int("failed", report.Summary.Failed).
		Int("skipped", report.Summary.Skipped).
		Dur("duration", report.CompletedAt.Sub(report.StartedAt)).
		Msg("run finished")
	if e.config.Observer != nil {
		e.config.Observer.RunFinished(*report)
	}
}
