package commands

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/ghostsweep/ghostsweep/pkg/backup"
	"github.com/ghostsweep/ghostsweep/pkg/engine"
	"github.com/ghostsweep/ghostsweep/pkg/inventory"
)

func newFlushDNSCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "flush-dns",
		Short: "Flush the DNS resolver cache",
		Long: `Flush the DNS resolver cache. Useful after a migration when the guest
still resolves names against the source network. Non-destructive and
needs no confirmation.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			env, err := setup(cmd.Context(), true)
			if err != nil {
				return err
			}
			defer env.Close()

			res := env.manager.Network.FlushDNS(cmd.Context())
			if !res.Ok() {
				return &ExitError{Code: 2, Message: "flushing DNS cache: " + res.Detail()}
			}
			fmt.Println("DNS cache flushed.")
			return nil
		},
	}
}

func newResetNetworkCommand() *cobra.Command {
	var assumeYes bool

	cmd := &cobra.Command{
		Use:   "reset-network",
		Short: "Reset the network stack (requires reboot)",
		Long: `Reset the host network stack. This clears Winsock and IP stack state
corrupted by the removed hypervisor drivers, drops all sessions and
requires a reboot. The system state is backed up first so the static
interface configuration can be restored afterwards.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			env, err := setup(cmd.Context(), true)
			if err != nil {
				return err
			}
			defer env.Close()

			backups := backup.NewStore(resolveBackupDir(env.cfg), env.manager.Drivers, env.logger)
			if env.ssh != nil {
				backups = backups.WithConfigFetcher(env.ssh)
			}

			seq, err := engine.NewSequencer(engine.SequencerOptions{
				Steps:      []engine.Step{engine.ResetNetworkStackStep(env.manager)},
				Probe:      inventory.NewProbe(env.manager, env.logger),
				Backups:    backups,
				Gate:       engine.NewConfirmationGate(os.Stdin, os.Stderr, assumeYes, env.logger),
				Executor:   engine.NewExecutor(nil, false, env.logger),
				Unattended: assumeYes,
				Logger:     env.logger,
			})
			if err != nil {
				return err
			}

			run, err := seq.Run(cmd.Context())
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
			} else if code := run.Status.ExitCode(); code == 0 {
				fmt.Printf("Network stack reset, backup %s. Reboot the machine to complete it.\n", run.BackupID)
			}
			if code := run.Status.ExitCode(); code != 0 {
				return &ExitError{Code: code, Message: string(run.Status)}
			}
			return nil
		},
	}

	cmd.Flags().BoolVarP(&assumeYes, "yes", "y", false, "skip the confirmation prompts")
	return cmd
}
