package engine

import (
	"bufio"
	"fmt"
	"io"
	"strings"

	"github.com/rs/zerolog"
)

// Gate decides whether destructive execution may proceed. Calls happen
// before any mutation and again (second round) for runs that include
// the network stack reset.
type Gate interface {
	// Confirm presents the prompt and returns the operator's decision.
	Confirm(prompt string) (bool, error)
}

// ConfirmationGate reads y/n answers from an interactive stream.
// With AssumeYes set the prompt is skipped entirely and the bypass is
// recorded in the audit log.
type ConfirmationGate struct {
	in        *bufio.Reader
	out       io.Writer
	assumeYes bool
	logger    zerolog.Logger
}

// NewConfirmationGate creates a gate reading from in and prompting on out.
func NewConfirmationGate(in io.Reader, out io.Writer, assumeYes bool, logger zerolog.Logger) *ConfirmationGate {
	return &ConfirmationGate{
		in:        bufio.NewReader(in),
		out:       out,
		assumeYes: assumeYes,
		logger:    logger.With().Str("component", "confirm").Logger(),
	}
}

// Confirm prompts until the operator gives a recognizable answer.
// Accepted forms are y, yes, n and no, case-insensitive; anything else
// re-prompts. A closed input stream counts as a refusal.
func (g *ConfirmationGate) Confirm(prompt string) (bool, error) {
	if g.assumeYes {
		g.logger.Info().Str("prompt", prompt).Msg("confirmation bypassed (--yes)")
		return true, nil
	}

	for {
		fmt.Fprintf(g.out, "%s [y/N]: ", prompt)
		line, err := g.in.ReadString('\n')
		if err != nil && line == "" {
			if err == io.EOF {
				g.logger.Warn().Msg("input closed before answer, treating as no")
				return false, nil
			}
			return false, fmt.Errorf("reading confirmation: %w", err)
		}

		switch strings.ToLower(strings.TrimSpace(line)) {
		case "y", "yes":
			g.logger.Info().Str("prompt", prompt).Msg("operator confirmed")
			return true, nil
		case "n", "no":
			g.logger.Info().Str("prompt", prompt).Msg("operator declined")
			return false, nil
		default:
			fmt.Fprintln(g.out, "please answer y or n")
		}
	}
}
