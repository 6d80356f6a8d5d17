package engine

import (
	"time"

	"github.com/hostplane/hostplane/pkg/firewall"
)

// ModuleType identifies the kind of resource a task manages.
type ModuleType string

const (
	// ModulePackage manages an OS package (apt/dpkg).
	ModulePackage ModuleType = "package"

	// ModuleFile manages a file's content, mode and ownership.
	ModuleFile ModuleType = "file"

	// ModuleTemplate renders a template before applying file semantics.
	ModuleTemplate ModuleType = "template"

	// ModuleService manages a systemd service's active and enabled state.
	ModuleService ModuleType = "service"

	// ModuleCommand runs a command, guarded by creates/unless predicates.
	ModuleCommand ModuleType = "command"

	// ModuleUnit writes a systemd unit file from a descriptor.
	ModuleUnit ModuleType = "unit"

	// ModuleFirewall reconciles the packet-filter ruleset atomically.
	ModuleFirewall ModuleType = "firewall"
)

// Validate checks if the module type is known.
func (m ModuleType) Validate() error {
	switch m {
	case ModulePackage, ModuleFile, ModuleTemplate, ModuleService,
		ModuleCommand, ModuleUnit, ModuleFirewall:
		return nil
	default:
		return NewPlanError("", "unknown module type: "+string(m), nil)
	}
}

// Params is the tagged parameter variant for a task. Each module type has
// its own concrete struct, decoded and validated at plan-build time.
type Params interface {
	// Module returns the module type this parameter set belongs to.
	Module() ModuleType
}

// PackageParams configures a package task.
type PackageParams struct {
	// Name is the package name.
	Name string `yaml:"name" validate:"required"`

	// State is the desired state: present (default), absent or latest.
	State string `yaml:"state" validate:"omitempty,oneof=present absent latest"`

	// Version pins a specific version; only meaningful with state present.
	Version string `yaml:"version"`
}

// Module implements Params.
func (p *PackageParams) Module() ModuleType { return ModulePackage }

// FileParams configures a file task.
type FileParams struct {
	// Dest is the absolute destination path.
	Dest string `yaml:"dest" validate:"required"`

	// Content is the literal file content. Mutually exclusive with Src.
	Content string `yaml:"content"`

	// Src is a local file whose content is copied to Dest.
	Src string `yaml:"src"`

	// Mode is the octal permission string, e.g. "0644".
	Mode string `yaml:"mode" validate:"omitempty,numeric"`

	// Owner is the owning user name.
	Owner string `yaml:"owner"`

	// Group is the owning group name.
	Group string `yaml:"group"`
}

// Module implements Params.
func (p *FileParams) Module() ModuleType { return ModuleFile }

// TemplateParams configures a template task. The source is rendered with
// text/template against the playbook vars, probed facts and the secret
// lookup function before file comparison and write.
type TemplateParams struct {
	// Src is the template source path.
	Src string `yaml:"src" validate:"required"`

	// Dest is the absolute destination path.
	Dest string `yaml:"dest" validate:"required"`

	// Mode is the octal permission string, e.g. "0644".
	Mode string `yaml:"mode" validate:"omitempty,numeric"`

	// Owner is the owning user name.
	Owner string `yaml:"owner"`

	// Group is the owning group name.
	Group string `yaml:"group"`

	// Vars are additional template variables merged over the playbook vars.
	Vars map[string]any `yaml:"vars"`
}

// Module implements Params.
func (p *TemplateParams) Module() ModuleType { return ModuleTemplate }

// ServiceParams configures a service task.
type ServiceParams struct {
	// Name is the unit name, without the .service suffix.
	Name string `yaml:"name" validate:"required"`

	// State is the desired run state.
	State string `yaml:"state" validate:"omitempty,oneof=started stopped restarted reloaded"`

	// Enabled is the desired boot-enablement; nil leaves it unmanaged.
	Enabled *bool `yaml:"enabled"`
}

// Module implements Params.
func (p *ServiceParams) Module() ModuleType { return ModuleService }

// CommandParams configures a command task. Commands are considered changed
// on every run unless a creates/unless guard evaluates true against probed
// state.
type CommandParams struct {
	// Cmd is a shell-quoted command string, split with shellquote.
	// Mutually exclusive with Argv.
	Cmd string `yaml:"cmd"`

	// Argv is an explicit argument vector.
	Argv []string `yaml:"argv"`

	// Creates skips the command when the named path already exists.
	Creates string `yaml:"creates"`

	// Unless skips the command when this probe command exits zero.
	Unless string `yaml:"unless"`

	// Chdir is the working directory for the command.
	Chdir string `yaml:"chdir"`
}

// Module implements Params.
func (p *CommandParams) Module() ModuleType { return ModuleCommand }

// UnitParams is the systemd unit descriptor consumed by the unit module.
// It renders to /etc/systemd/system/<name>.service.
type UnitParams struct {
	// Name is the unit name, without the .service suffix.
	Name string `yaml:"name" validate:"required"`

	// Description is the unit description line.
	Description string `yaml:"description"`

	// ExecStart is the service binary invocation.
	ExecStart string `yaml:"exec_start" validate:"required"`

	// WorkingDir is the working directory for the service process.
	WorkingDir string `yaml:"working_dir"`

	// User is the run-as user.
	User string `yaml:"user"`

	// Restart is the systemd restart policy.
	Restart string `yaml:"restart" validate:"omitempty,oneof=no always on-failure on-abnormal"`

	// Enabled enables the unit on boot; nil leaves it unmanaged.
	Enabled *bool `yaml:"enabled"`
}

// Module implements Params.
func (p *UnitParams) Module() ModuleType { return ModuleUnit }

// FirewallParams configures a firewall task. Rules come either inline or
// from a save-format rules file; exactly one source must be set.
type FirewallParams struct {
	// Rules is the desired rule set in declaration order.
	Rules []firewall.Rule `yaml:"rules"`

	// RulesFile is a file in iptables-save format holding the desired set.
	RulesFile string `yaml:"rules_file"`

	// PersistPath overrides where the applied ruleset is persisted.
	// Defaults to /etc/iptables/rules.v4.
	PersistPath string `yaml:"persist_path"`
}

// Module implements Params.
func (p *FirewallParams) Module() ModuleType { return ModuleFirewall }

// Task is one declared unit of desired state. Ordering is significant and
// identical names are not deduplicated. Tasks are constructed from parsed
// input, executed once per run and discarded afterwards.
type Task struct {
	// Name is the human-readable task name.
	Name string

	// Params is the tagged parameter variant; its Module() identifies the
	// module type.
	Params Params

	// When is an optional Starlark guard expression evaluated against
	// facts and vars; the task is skipped when it yields false.
	When string

	// Notify lists handler names to trigger when this task reports a
	// change.
	Notify []string

	// IgnoreErrors downgrades a failure to logged-and-continue.
	IgnoreErrors bool

	// BestEffort lets a probe failure skip the task instead of aborting
	// the run.
	BestEffort bool

	// Timeout bounds the task's execution; zero uses the executor default.
	Timeout time.Duration
}

// Handler is a deferred action triggered by notification. A handler runs at
// most once per run regardless of how many tasks notify it.
type Handler struct {
	// Name is the handler name tasks refer to in their notify lists.
	Name string

	// Params is the handler's action, same tagged variant as tasks.
	Params Params

	// Notify lets a handler chain to further handlers. Cycles are
	// rejected at plan time.
	Notify []string
}

// ExecutionPlan is the validated, ordered output of the plan builder.
type ExecutionPlan struct {
	// Tasks in declaration order.
	Tasks []*Task

	// Handlers indexed by name.
	Handlers map[string]*Handler
}

// TaskResult is the outcome of executing a single task.
type TaskResult struct {
	// Changed reports whether the host was (or, in check mode, would be)
	// mutated.
	Changed bool

	// Action describes what happened, e.g. "installed", "already_present".
	Action string

	// Diff is a unified diff of the change, populated in check mode for
	// content-bearing modules.
	Diff string
}

// TaskReport pairs a task with its execution outcome.
type TaskReport struct {
	// TaskName is the declared task name.
	TaskName string

	// Module is the task's module type.
	Module ModuleType

	// Status is the final status: ok, changed, failed or skipped.
	Status TaskStatus

	// Changed mirrors TaskResult.Changed for convenience.
	Changed bool

	// Action is the module-reported action.
	Action string

	// Diff is the check-mode diff, if any.
	Diff string

	// Error is the failure message for failed tasks.
	Error string

	// Duration is how long the task took.
	Duration time.Duration
}

// RunSummary counts task outcomes for a run.
type RunSummary struct {
	// OK is the number of tasks already in desired state.
	OK int

	// Changed is the number of tasks that mutated the host.
	Changed int

	// Failed is the number of failed tasks (including ignored failures).
	Failed int

	// Skipped is the number of guard-skipped tasks.
	Skipped int
}

// RunReport is the user-visible result of one run.
type RunReport struct {
	// RunID is the unique identifier for this run.
	RunID string

	// CheckMode reports whether this was a dry run.
	CheckMode bool

	// StartedAt is when the run started.
	StartedAt time.Time

	// CompletedAt is when the run finished.
	CompletedAt time.Time

	// Tasks holds one report per executed task, then per fired handler.
	Tasks []TaskReport

	// HandlersFired lists handler names in firing order.
	HandlersFired []string

	// Summary aggregates task outcomes.
	Summary RunSummary

	// Status is the overall run status.
	Status RunStatus
}
