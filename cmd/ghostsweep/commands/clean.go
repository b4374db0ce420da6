package commands

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/ghostsweep/ghostsweep/pkg/backup"
	"github.com/ghostsweep/ghostsweep/pkg/engine"
	"github.com/ghostsweep/ghostsweep/pkg/inventory"
	"github.com/ghostsweep/ghostsweep/pkg/policy"
	"github.com/ghostsweep/ghostsweep/pkg/stores"
	"github.com/ghostsweep/ghostsweep/pkg/telemetry"
)

func newCleanCommand() *cobra.Command {
	var (
		dryRun       bool
		assumeYes    bool
		resetNetwork bool
		policyDir    string
		skipHistory  bool
	)

	cmd := &cobra.Command{
		Use:   "clean [devices|drivers|all]",
		Short: "Run the full cleanup workflow",
		Long: `Clean scans the system, asks for confirmation, backs up everything it
is about to change, and then removes the hypervisor leftovers: ghost
devices, stale driver packages and guest tools. Offline disks are
brought back online and the DNS cache is flushed.

An optional scope limits the run to ghost device removal ("devices")
or driver store cleanup ("drivers"); the default is "all".

The network stack reset is opt-in via --reset-network; it forces a
reboot and gets its own confirmation round.`,
		Example: `  # Preview without touching anything
  ghostsweep clean --dry-run

  # Unattended run for automation
  ghostsweep clean --yes

  # Only remove ghost devices
  ghostsweep clean devices

  # Include the network stack reset
  ghostsweep clean --reset-network`,
		Args:      cobra.MaximumNArgs(1),
		ValidArgs: []string{"devices", "drivers", "all"},
		RunE: func(cmd *cobra.Command, args []string) error {
			scope := "all"
			if len(args) == 1 {
				scope = args[0]
			}

			env, err := setup(cmd.Context(), !dryRun)
			if err != nil {
				return err
			}
			defer env.Close()

			run, err := runClean(cmd.Context(), env, cleanOptions{
				scope:        scope,
				dryRun:       dryRun,
				assumeYes:    assumeYes,
				resetNetwork: resetNetwork,
				policyDir:    policyDir,
				skipHistory:  skipHistory,
			})
			if err != nil {
				if engine.IsFatal(err) {
					return &ExitError{Code: 1, Message: err.Error()}
				}
				return err
			}

			if jsonOutput {
				if err := json.NewEncoder(os.Stdout).Encode(run); err != nil {
					return err
				}
			} else {
				printRunReport(run)
			}

			if code := run.Status.ExitCode(); code != 0 {
				return &ExitError{Code: code, Message: string(run.Status)}
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "report what would change without mutating anything")
	cmd.Flags().BoolVarP(&assumeYes, "yes", "y", false, "skip confirmation prompts (recorded in the audit log)")
	cmd.Flags().BoolVar(&resetNetwork, "reset-network", false, "also reset the network stack (forces a reboot)")
	cmd.Flags().StringVar(&policyDir, "policy-dir", "", "directory with additional .rego policies")
	cmd.Flags().BoolVar(&skipHistory, "skip-history", false, "do not record the run in the history database")

	return cmd
}

type cleanOptions struct {
	scope        string
	dryRun       bool
	assumeYes    bool
	resetNetwork bool
	policyDir    string
	skipHistory  bool
}

func runClean(ctx context.Context, env *appEnv, opts cleanOptions) (*engine.WorkflowRun, error) {
	siteRules, err := policy.LoadDir(opts.policyDir)
	if err != nil {
		return nil, engine.NewPreconditionError("loading site policies", err)
	}
	guard, err := policy.NewGuard(ctx, env.cfg.Rules, siteRules, env.logger)
	if err != nil {
		return nil, engine.NewPreconditionError("compiling policies", err)
	}

	var recorder engine.RunRecorder
	if !opts.skipHistory && !env.remote {
		store, err := openHistory(ctx)
		if err != nil {
			env.logger.Warn().Err(err).Msg("run history unavailable")
		} else {
			defer store.Close()
			recorder = store
		}
	}

	metrics := telemetry.NewMetrics(telemetry.MetricsConfig{
		Enabled:      metricsFile != "",
		TextfilePath: metricsFile,
	})

	steps, err := engine.ScopeSteps(engine.CleanupSteps(env.manager, env.cfg.Rules, opts.resetNetwork), opts.scope)
	if err != nil {
		return nil, engine.NewPreconditionError("selecting steps", err)
	}

	backups := backup.NewStore(resolveBackupDir(env.cfg), env.manager.Drivers, env.logger)
	if env.ssh != nil {
		backups = backups.WithConfigFetcher(env.ssh)
	}

	seq, err := engine.NewSequencer(engine.SequencerOptions{
		Steps:      steps,
		Probe:      inventory.NewProbe(env.manager, env.logger),
		Backups:    backups,
		Gate:       engine.NewConfirmationGate(os.Stdin, os.Stderr, opts.assumeYes, env.logger),
		Executor:   engine.NewExecutor(guard, opts.dryRun, env.logger),
		Recorder:   recorder,
		DryRun:     opts.dryRun,
		Unattended: opts.assumeYes,
		Logger:     env.logger,
	})
	if err != nil {
		return nil, engine.NewPreconditionError("building sequencer", err)
	}

	run, err := seq.Run(ctx)
	if run != nil {
		metrics.ObserveRun(run)
		if merr := metrics.WriteTextfile(); merr != nil {
			env.logger.Warn().Err(merr).Msg("metrics export failed")
		}
	}
	return run, err
}

func openHistory(ctx context.Context) (*stores.SQLiteStore, error) {
	if err := os.MkdirAll(dataDir(), 0o755); err != nil {
		return nil, err
	}
	return stores.NewSQLiteStore(ctx, historyPath())
}

func printRunReport(run *engine.WorkflowRun) {
	sum := run.Summarize()
	fmt.Printf("\nRun %s finished: %s\n", run.ID, run.Status)
	if run.BackupID != "" {
		fmt.Printf("Backup: %s\n", run.BackupID)
	}
	fmt.Printf("Tasks: %d total, %d succeeded, %d reboot-required, %d skipped, %d would-perform, %d failed\n",
		sum.Total, sum.Succeeded, sum.RebootRequired, sum.Skipped, sum.WouldPerform, sum.Failed)

	for _, res := range run.Results {
		mark := " "
		switch res.Outcome {
		case engine.OutcomeFailed:
			mark = "x"
		case engine.OutcomeRebootRequired:
			mark = "!"
		case engine.OutcomeWouldPerform:
			mark = "~"
		}
		line := fmt.Sprintf("[%s] %s: %s (%s)", mark, res.Step, res.Target, res.Outcome)
		if res.Detail != "" {
			line += " - " + res.Detail
		}
		fmt.Println(line)
	}

	if run.RebootPending() {
		fmt.Println("\nA reboot is required to complete the cleanup.")
	}
}
