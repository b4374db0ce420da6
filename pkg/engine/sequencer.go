package engine

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/felixgeelhaar/statekit"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// Prober captures the system state the run will act on.
type Prober interface {
	Capture(ctx context.Context) (*SystemSnapshot, error)
}

// BackupSaver persists a pre-mutation snapshot and returns its ID.
type BackupSaver interface {
	Save(ctx context.Context, snap *SystemSnapshot) (string, error)
}

// RunRecorder persists the finished run for later inspection.
type RunRecorder interface {
	SaveRun(ctx context.Context, run *WorkflowRun) error
}

// Sequencer phases. The state machine enforces the ordering: no
// mutation before confirmation, no destructive mutation before a
// backup exists.
const (
	phaseInit       = "init"
	phaseScanning   = "scanning"
	phaseConfirming = "awaiting_confirmation"
	phaseBackingUp  = "backing_up"
	phaseExecuting  = "executing"
	phaseReporting  = "reporting"
	phaseDone       = "done"
	phaseAborted    = "aborted"
)

// Sequencer events.
const (
	eventBegin       = "BEGIN"
	eventScanned     = "SCANNED"
	eventNothingToDo = "NOTHING_TO_DO"
	eventConfirmed   = "CONFIRMED"
	eventDeclined    = "DECLINED"
	eventBackedUp    = "BACKED_UP"
	eventSkipBackup  = "SKIP_BACKUP"
	eventExecuted    = "EXECUTED"
	eventReported    = "REPORTED"
	eventFailed      = "FAILED"
)

// runContext is the statekit context type.
type runContext struct {
	RunID string
}

// Sequencer drives a cleanup run through its phases.
type Sequencer struct {
	steps    []Step
	probe    Prober
	backups  BackupSaver
	gate     Gate
	executor *Executor
	recorder RunRecorder

	dryRun     bool
	unattended bool
	logger     zerolog.Logger

	// phases records every phase the machine entered, in order.
	phases []string
}

// SequencerOptions configure a cleanup run.
type SequencerOptions struct {
	// Steps is the ordered step list for this run.
	Steps []Step

	// Probe captures the system snapshot.
	Probe Prober

	// Backups stores the pre-mutation snapshot. Required unless DryRun.
	Backups BackupSaver

	// Gate collects operator confirmation.
	Gate Gate

	// Executor runs individual steps.
	Executor *Executor

	// Recorder persists the finished run. Optional.
	Recorder RunRecorder

	// DryRun suppresses all mutations and the backup.
	DryRun bool

	// Unattended marks a run whose gate auto-confirms.
	Unattended bool

	// Logger is the parent logger.
	Logger zerolog.Logger
}

// NewSequencer creates a sequencer for one run.
func NewSequencer(opts SequencerOptions) (*Sequencer, error) {
	if opts.Probe == nil {
		return nil, fmt.Errorf("probe is required")
	}
	if opts.Executor == nil {
		return nil, fmt.Errorf("executor is required")
	}
	if opts.Gate == nil {
		return nil, fmt.Errorf("gate is required")
	}
	if opts.Backups == nil && !opts.DryRun {
		return nil, fmt.Errorf("backup store is required for non-dry runs")
	}
	return &Sequencer{
		steps:      opts.Steps,
		probe:      opts.Probe,
		backups:    opts.Backups,
		gate:       opts.Gate,
		executor:   opts.Executor,
		recorder:   opts.Recorder,
		dryRun:     opts.DryRun,
		unattended: opts.Unattended,
		logger:     opts.Logger.With().Str("component", "sequencer").Logger(),
	}, nil
}

func buildRunMachine(runID string) (*statekit.Interpreter[runContext], error) {
	machine, err := statekit.NewMachine[runContext]("cleanup-run").
		WithInitial(phaseInit).
		WithContext(runContext{RunID: runID}).
		State(phaseInit).
		On(eventBegin).Target(phaseScanning).Done().
		State(phaseScanning).
		On(eventScanned).Target(phaseConfirming).
		On(eventNothingToDo).Target(phaseReporting).
		On(eventFailed).Target(phaseAborted).Done().
		State(phaseConfirming).
		On(eventConfirmed).Target(phaseBackingUp).
		On(eventDeclined).Target(phaseAborted).Done().
		State(phaseBackingUp).
		On(eventBackedUp).Target(phaseExecuting).
		On(eventSkipBackup).Target(phaseExecuting).
		On(eventFailed).Target(phaseAborted).Done().
		State(phaseExecuting).
		On(eventExecuted).Target(phaseReporting).Done().
		State(phaseReporting).
		On(eventReported).Target(phaseDone).Done().
		State(phaseDone).Done().
		State(phaseAborted).Done().
		Build()
	if err != nil {
		return nil, err
	}
	return statekit.NewInterpreter(machine), nil
}

// Run executes the full workflow and returns the run record. A
// non-nil error means the run could not proceed at all; step-level
// failures are reported in the run record instead.
func (s *Sequencer) Run(ctx context.Context) (*WorkflowRun, error) {
	hostname, _ := os.Hostname()
	run := &WorkflowRun{
		ID:         uuid.NewString(),
		Hostname:   hostname,
		StartedAt:  time.Now().UTC(),
		Status:     RunStatusRunning,
		DryRun:     s.dryRun,
		Unattended: s.unattended,
	}
	log := s.logger.With().Str("run_id", run.ID).Logger()

	interp, err := buildRunMachine(run.ID)
	if err != nil {
		return nil, NewPreconditionError("building run state machine", err)
	}
	interp.Start()
	defer interp.Stop()

	s.advance(log, interp, eventBegin)
	log.Info().Bool("dry_run", s.dryRun).Msg("scanning system")

	snap, err := s.probe.Capture(ctx)
	if err != nil {
		s.advance(log, interp, eventFailed)
		run.Status = RunStatusAborted
		run.CompletedAt = time.Now().UTC()
		return run, NewPreconditionError("capturing system snapshot", err)
	}
	if snap.Partial {
		log.Warn().Strs("reasons", snap.PartialReasons).Msg("snapshot is partial, affected steps will be skipped")
	}

	applicable, destructive := s.plan(snap)
	if len(applicable) == 0 {
		log.Info().Msg("no applicable cleanup work found")
		s.advance(log, interp, eventNothingToDo)
		run.Status = RunStatusNothingToDo
		return s.finish(ctx, log, interp, run)
	}
	s.advance(log, interp, eventScanned)

	ok, err := s.confirm(applicable, destructive)
	if err != nil {
		s.advance(log, interp, eventDeclined)
		run.Status = RunStatusAborted
		run.CompletedAt = time.Now().UTC()
		return run, err
	}
	if !ok {
		log.Info().Msg("operator declined, aborting before any mutation")
		s.advance(log, interp, eventDeclined)
		run.Status = RunStatusAborted
		return s.finish(ctx, log, interp, run)
	}
	s.advance(log, interp, eventConfirmed)

	if s.dryRun || !destructive {
		s.advance(log, interp, eventSkipBackup)
	} else {
		backupID, err := s.backups.Save(ctx, snap)
		if err != nil {
			s.advance(log, interp, eventFailed)
			run.Status = RunStatusAborted
			run.CompletedAt = time.Now().UTC()
			return run, NewBackupError("saving pre-cleanup backup", err)
		}
		run.BackupID = backupID
		log.Info().Str("backup_id", backupID).Msg("backup saved")
		s.advance(log, interp, eventBackedUp)
	}

	for _, step := range applicable {
		run.Results = append(run.Results, s.executor.ExecuteStep(ctx, step, snap)...)
	}
	s.advance(log, interp, eventExecuted)

	if s.dryRun {
		run.Status = RunStatusCompleted
	} else if run.Summarize().Failed > 0 {
		run.Status = RunStatusCompletedWithErrors
	} else {
		run.Status = RunStatusCompleted
	}
	return s.finish(ctx, log, interp, run)
}

// advance feeds one event to the state machine and records the phase
// it landed in.
func (s *Sequencer) advance(log zerolog.Logger, interp *statekit.Interpreter[runContext], event string) {
	interp.Send(statekit.Event{Type: statekit.EventType(event)})
	phase := string(interp.State().Value)
	s.phases = append(s.phases, phase)
	log.Debug().Str("event", event).Str("phase", phase).Msg("phase transition")
}

// Phases returns the phases the run passed through, in order.
func (s *Sequencer) Phases() []string {
	return s.phases
}

// plan filters the step list down to applicable steps and reports
// whether any of them is destructive.
func (s *Sequencer) plan(snap *SystemSnapshot) (applicable []Step, destructive bool) {
	for _, step := range s.steps {
		if !step.Applicable(snap) {
			continue
		}
		applicable = append(applicable, step)
		if step.Destructive {
			destructive = true
		}
	}
	return applicable, destructive
}

// confirm runs the one or two confirmation rounds. Dry runs and runs
// with only non-destructive steps skip the gate entirely.
func (s *Sequencer) confirm(applicable []Step, destructive bool) (bool, error) {
	if s.dryRun || !destructive {
		return true, nil
	}

	names := make([]string, 0, len(applicable))
	for _, step := range applicable {
		names = append(names, step.Name)
	}
	ok, err := s.gate.Confirm(fmt.Sprintf("About to run %d cleanup step(s): %v. Proceed?", len(applicable), names))
	if err != nil || !ok {
		return false, err
	}

	for _, step := range applicable {
		if step.Name == StepResetNetworkStack {
			return s.gate.Confirm("The network stack reset forces a reboot and drops all sessions. Really proceed?")
		}
	}
	return true, nil
}

func (s *Sequencer) finish(ctx context.Context, log zerolog.Logger, interp *statekit.Interpreter[runContext], run *WorkflowRun) (*WorkflowRun, error) {
	run.CompletedAt = time.Now().UTC()
	if interp.State().Value == phaseReporting {
		s.advance(log, interp, eventReported)
	}

	if s.recorder != nil {
		if err := s.recorder.SaveRun(ctx, run); err != nil {
			log.Warn().Err(err).Msg("recording run history failed")
		}
	}

	sum := run.Summarize()
	log.Info().
		Str("status", string(run.Status)).
		Int("total", sum.Total).
		Int("succeeded", sum.Succeeded).
		Int("reboot_required", sum.RebootRequired).
		Int("skipped", sum.Skipped).
		Int("failed", sum.Failed).
		Dur("duration", run.CompletedAt.Sub(run.StartedAt)).
		Msg("run finished")
	if run.RebootPending() {
		log.Warn().Msg("a reboot is required to complete the cleanup")
	}
	return run, nil
}
