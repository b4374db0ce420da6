package engine

import (
	"context"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// PolicyChecker vetoes individual tasks before they run. Violations
// turn the task into a skipped result rather than failing the run.
type PolicyChecker interface {
	Check(ctx context.Context, task Task, snap *SystemSnapshot) ([]string, error)
}

// Executor runs a single step against a snapshot. Each expanded task
// gets exactly one attempt; outcomes are recorded per target and a
// failing target never stops the remaining ones.
type Executor struct {
	policy PolicyChecker
	dryRun bool
	logger zerolog.Logger
}

// NewExecutor creates an executor. policy may be nil to disable
// per-task vetoes.
func NewExecutor(policy PolicyChecker, dryRun bool, logger zerolog.Logger) *Executor {
	return &Executor{
		policy: policy,
		dryRun: dryRun,
		logger: logger.With().Str("component", "executor").Logger(),
	}
}

// ExecuteStep expands the step against the snapshot and runs every
// resulting task in order. A step that expands to nothing yields a
// single skipped result so the report always names every step.
func (e *Executor) ExecuteStep(ctx context.Context, step Step, snap *SystemSnapshot) []StepResult {
	log := e.logger.With().Str("step", step.Name).Logger()

	tasks := step.Expand(snap)
	if len(tasks) == 0 {
		log.Info().Msg("nothing to do")
		return []StepResult{{
			Step:    step.Name,
			Outcome: OutcomeSkipped,
			Detail:  "no matching targets",
		}}
	}

	results := make([]StepResult, 0, len(tasks))
	for _, task := range tasks {
		if err := ctx.Err(); err != nil {
			results = append(results, StepResult{
				Step:    step.Name,
				Target:  task.Target,
				Outcome: OutcomeFailed,
				Detail:  "cancelled: " + err.Error(),
			})
			continue
		}
		results = append(results, e.runTask(ctx, log, step, task, snap))
	}
	return results
}

func (e *Executor) runTask(ctx context.Context, log zerolog.Logger, step Step, task Task, snap *SystemSnapshot) StepResult {
	res := StepResult{
		Step:   step.Name,
		Target: task.Target,
	}

	if step.Destructive && e.policy != nil {
		violations, err := e.policy.Check(ctx, task, snap)
		if err != nil {
			log.Warn().Err(err).Str("target", task.Target).Msg("policy evaluation failed, vetoing task")
			res.Outcome = OutcomeSkipped
			res.Detail = "policy evaluation failed: " + err.Error()
			return res
		}
		if len(violations) > 0 {
			log.Warn().Str("target", task.Target).Strs("violations", violations).Msg("task vetoed by policy")
			res.Outcome = OutcomeSkipped
			res.Detail = "policy: " + strings.Join(violations, "; ")
			return res
		}
	}

	if e.dryRun {
		log.Info().Str("target", task.Target).Str("action", task.Description).Msg("dry-run, would perform")
		res.Outcome = OutcomeWouldPerform
		res.Detail = task.Description
		return res
	}

	log.Info().Str("target", task.Target).Msg(task.Description)
	start := time.Now()
	r := task.Run(ctx)
	res.Duration = time.Since(start)

	switch {
	case r.RebootRequired():
		res.Outcome = OutcomeRebootRequired
		res.Detail = "change applied, reboot required"
		log.Info().Str("target", task.Target).Msg("done, reboot required")
	case r.Ok():
		res.Outcome = OutcomeSuccess
		log.Info().Str("target", task.Target).Msg("done")
	default:
		res.Outcome = OutcomeFailed
		res.Detail = r.Detail()
		log.Error().Str("target", task.Target).Int("exit_code", r.ExitCode).Str("detail", res.Detail).Msg("task failed")
	}
	return res
}
