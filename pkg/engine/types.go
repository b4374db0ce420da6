package engine

import (
	"context"
	"time"

	"github.com/ghostsweep/ghostsweep/pkg/sysmgmt"
)

// SystemSnapshot is a point-in-time record of the device, driver,
// network, software and disk state of one system. Snapshots are
// immutable once captured; the backup store owns persisted copies and
// the restore engine only ever reads them.
type SystemSnapshot struct {
	// CapturedAt is when the snapshot was taken.
	CapturedAt time.Time `json:"captured_at" yaml:"captured_at"`

	// Hostname identifies the system the snapshot was taken from.
	Hostname string `json:"hostname" yaml:"hostname"`

	// Platform is "windows" or "linux".
	Platform string `json:"platform" yaml:"platform"`

	// Devices lists all device instances, including non-present ones.
	Devices []sysmgmt.Device `json:"devices" yaml:"devices"`

	// Drivers lists installed third-party driver packages.
	Drivers []sysmgmt.DriverPackage `json:"drivers" yaml:"drivers"`

	// Interfaces lists network interfaces with their configuration.
	Interfaces []sysmgmt.NetInterface `json:"interfaces" yaml:"interfaces"`

	// Software lists the full installed-software inventory. Guest
	// tooling is picked out of it by the uninstall step's rules, and
	// the backup keeps the rest for reference.
	Software []sysmgmt.InstalledPackage `json:"software" yaml:"software"`

	// Disks lists physical disks and their online/read-only state.
	Disks []sysmgmt.Disk `json:"disks" yaml:"disks"`

	// Partial indicates at least one sub-query failed during capture.
	Partial bool `json:"partial,omitempty" yaml:"partial,omitempty"`

	// PartialReasons lists the failed sub-queries.
	PartialReasons []string `json:"partial_reasons,omitempty" yaml:"partial_reasons,omitempty"`
}

// TaskFunc performs one mutation attempt and reports its structured result.
type TaskFunc func(ctx context.Context) sysmgmt.Result

// Task is one unit of work expanded from a step: a single mutation
// attempt against a single target.
type Task struct {
	// Kind names the step that produced the task. Policy rules match
	// on it.
	Kind string

	// Target identifies what the task mutates (instance ID, published
	// driver name, interface name, package name, disk number).
	Target string

	// Class is the device/driver class of the target, when known.
	// Policy rules match on it.
	Class string

	// Description is a human-readable summary for reports and dry runs.
	Description string

	// Run performs the single mutation attempt.
	Run TaskFunc
}

// Step is a named, idempotent unit of cleanup work. Steps are stateless
// value descriptors; the sequencer owns their ordering. A step is
// applicable when Expand returns at least one task for the snapshot.
type Step struct {
	// Name is the stable step identifier (e.g. "remove-ghost-devices").
	Name string

	// Description explains what the step does, shown in prompts.
	Description string

	// Destructive steps require a backup and operator confirmation.
	Destructive bool

	// Idempotent steps reach the same end state when run twice; the
	// second run expands to zero tasks and is reported as skipped.
	Idempotent bool

	// Expand derives the concrete tasks for the snapshot. An empty
	// result means the step is not applicable.
	Expand func(snap *SystemSnapshot) []Task
}

// Applicable reports whether the step has any work for the snapshot.
func (s Step) Applicable(snap *SystemSnapshot) bool {
	return len(s.Expand(snap)) > 0
}

// Outcome is the result classification of one executed task.
type Outcome string

const (
	// OutcomeSuccess: the mutation completed.
	OutcomeSuccess Outcome = "success"

	// OutcomeRebootRequired: the mutation completed but only takes
	// effect after a restart. A success, never a failure.
	OutcomeRebootRequired Outcome = "success_reboot_required"

	// OutcomeSkipped: the step had no work, or a policy vetoed the task.
	OutcomeSkipped Outcome = "skipped"

	// OutcomeWouldPerform: dry-run placeholder for a suppressed mutation.
	OutcomeWouldPerform Outcome = "would_perform"

	// OutcomeFailed: the mutation failed; the raw code and message are
	// preserved in the result detail.
	OutcomeFailed Outcome = "failed"
)

// Succeeded reports whether the outcome is a success variant.
func (o Outcome) Succeeded() bool {
	return o == OutcomeSuccess || o == OutcomeRebootRequired
}

// StepResult is the recorded outcome of one task (or of a skipped
// step). Never mutated after creation.
type StepResult struct {
	// Step is the name of the step that produced this result.
	Step string `json:"step"`

	// Target is the task target, empty for step-level skips.
	Target string `json:"target,omitempty"`

	// Outcome classifies the result.
	Outcome Outcome `json:"outcome"`

	// Detail carries the raw utility message, policy violation, or
	// skip reason.
	Detail string `json:"detail,omitempty"`

	// Duration is how long the mutation attempt took.
	Duration time.Duration `json:"duration,omitempty"`
}

// RunStatus is the overall status of a workflow run.
type RunStatus string

const (
	RunStatusRunning             RunStatus = "running"
	RunStatusCompleted           RunStatus = "completed"
	RunStatusCompletedWithErrors RunStatus = "completed_with_errors"
	RunStatusNothingToDo         RunStatus = "nothing_to_do"
	RunStatusAborted             RunStatus = "aborted"
)

// ExitCode maps a run status to the process exit code contract:
// 0 success, 2 partial failure, 3 aborted by operator.
func (s RunStatus) ExitCode() int {
	switch s {
	case RunStatusCompletedWithErrors:
		return 2
	case RunStatusAborted:
		return 3
	default:
		return 0
	}
}

// WorkflowRun is the aggregated record of one sequencer invocation.
type WorkflowRun struct {
	// ID is the unique run identifier.
	ID string `json:"id"`

	// Hostname is the system the run executed against.
	Hostname string `json:"hostname"`

	// StartedAt and CompletedAt bound the run.
	StartedAt   time.Time `json:"started_at"`
	CompletedAt time.Time `json:"completed_at"`

	// Status is the final run status.
	Status RunStatus `json:"status"`

	// DryRun indicates no mutation was performed.
	DryRun bool `json:"dry_run"`

	// Unattended indicates the confirmation gate was bypassed.
	Unattended bool `json:"unattended"`

	// BackupID references the snapshot taken before execution, empty
	// when no backup was needed.
	BackupID string `json:"backup_id,omitempty"`

	// Results lists every task outcome in execution order.
	Results []StepResult `json:"results"`
}

// Summary aggregates result counts per outcome.
type Summary struct {
	Total          int `json:"total"`
	Succeeded      int `json:"succeeded"`
	RebootRequired int `json:"reboot_required"`
	Skipped        int `json:"skipped"`
	WouldPerform   int `json:"would_perform"`
	Failed         int `json:"failed"`
}

// Summarize computes the outcome counts for the run.
func (r *WorkflowRun) Summarize() Summary {
	s := Summary{Total: len(r.Results)}
	for _, res := range r.Results {
		switch res.Outcome {
		case OutcomeSuccess:
			s.Succeeded++
		case OutcomeRebootRequired:
			s.RebootRequired++
		case OutcomeSkipped:
			s.Skipped++
		case OutcomeWouldPerform:
			s.WouldPerform++
		case OutcomeFailed:
			s.Failed++
		}
	}
	return s
}

// RebootPending reports whether any task requires a restart.
func (r *WorkflowRun) RebootPending() bool {
	for _, res := range r.Results {
		if res.Outcome == OutcomeRebootRequired {
			return true
		}
	}
	return false
}
