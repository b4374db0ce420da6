package sysmgmt

import (
	"bytes"
	"context"
	"errors"
	"os/exec"
	"time"

	"github.com/rs/zerolog"
)

// LocalRunner executes utilities on the local host via os/exec.
type LocalRunner struct {
	logger zerolog.Logger

	// Timeout bounds a single invocation. Zero means the caller's
	// context is the only bound.
	Timeout time.Duration
}

// NewLocalRunner creates a runner that logs each invocation at debug level.
func NewLocalRunner(logger zerolog.Logger) *LocalRunner {
	return &LocalRunner{
		logger:  logger.With().Str("component", "runner").Logger(),
		Timeout: 5 * time.Minute,
	}
}

// Run invokes name with args and captures combined output.
func (r *LocalRunner) Run(ctx context.Context, name string, args ...string) Result {
	return r.RunInput(ctx, "", name, args...)
}

// RunInput invokes name with args, feeding stdin to the process.
func (r *LocalRunner) RunInput(ctx context.Context, stdin string, name string, args ...string) Result {
	if r.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.Timeout)
		defer cancel()
	}

	cmd := exec.CommandContext(ctx, name, args...)
	if stdin != "" {
		cmd.Stdin = bytes.NewBufferString(stdin)
	}

	var out bytes.Buffer
	cmd.Stdout = &out
	cmd.Stderr = &out

	start := time.Now()
	err := cmd.Run()
	duration := time.Since(start)

	result := Result{Output: out.String()}

	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			result.ExitCode = exitErr.ExitCode()
		} else if ctx.Err() != nil {
			result.Err = ctx.Err()
		} else {
			result.Err = err
		}
	}

	r.logger.Debug().
		Str("command", name).
		Strs("args", args).
		Int("exit_code", result.ExitCode).
		Dur("duration", duration).
		Err(result.Err).
		Msg("Utility invoked")

	return result
}

// IsCommandNotFound reports whether an error indicates a missing
// executable, used to pick the legacy fallback path for disk management.
func IsCommandNotFound(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, exec.ErrNotFound) {
		return true
	}
	var execErr *exec.Error
	return errors.As(err, &execErr) && errors.Is(execErr.Err, exec.ErrNotFound)
}
