package commands

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/ghostsweep/ghostsweep/pkg/backup"
	"github.com/ghostsweep/ghostsweep/pkg/engine"
)

func newRestoreCommand() *cobra.Command {
	var (
		backupID       string
		dryRun         bool
		restoreNetwork bool
		assumeYes      bool
	)

	cmd := &cobra.Command{
		Use:   "restore",
		Short: "Restore drivers and network settings from a backup",
		Long: `Restore replays a cleanup backup: driver packages are imported back
into the driver store, recorded drive letters are reassigned, and with
--with-network the saved static interface configurations are reapplied.
Interfaces are matched by MAC address first, then by name; interfaces
with no live counterpart are reported and skipped.`,
		Example: `  # Restore the most recent backup
  ghostsweep restore

  # Restore a specific backup including network settings
  ghostsweep restore --backup web01-20260830-120000 --with-network`,
		RunE: func(cmd *cobra.Command, args []string) error {
			env, err := setup(cmd.Context(), !dryRun)
			if err != nil {
				return err
			}
			defer env.Close()

			store := backup.NewStore(resolveBackupDir(env.cfg), env.manager.Drivers, env.logger)

			var b *backup.Backup
			if backupID == "" {
				b, err = store.Latest(cmd.Context())
			} else {
				b, err = store.Load(cmd.Context(), backupID)
			}
			if err != nil {
				if errors.Is(err, backup.ErrNotFound) {
					return &ExitError{Code: 1, Message: err.Error()}
				}
				return &ExitError{Code: 1, Message: "loading backup: " + err.Error()}
			}

			if !dryRun {
				gate := engine.NewConfirmationGate(os.Stdin, os.Stderr, assumeYes, env.logger)
				ok, err := gate.Confirm(fmt.Sprintf("Restore backup %s onto this system?", b.Metadata.ID))
				if err != nil {
					return err
				}
				if !ok {
					return &ExitError{Code: 3, Message: "aborted by operator"}
				}
			}

			eng := engine.NewRestoreEngine(env.manager, dryRun, env.logger)
			results := []engine.StepResult{eng.RestoreDrivers(cmd.Context(), b.DriverDir)}

			letterResults, err := eng.RestoreDriveLetters(cmd.Context(), b.Snapshot.Disks)
			if err != nil {
				return &ExitError{Code: 1, Message: err.Error()}
			}
			results = append(results, letterResults...)

			if restoreNetwork {
				netResults, err := eng.RestoreNetwork(cmd.Context(), b.Snapshot.Interfaces)
				if err != nil {
					return &ExitError{Code: 1, Message: err.Error()}
				}
				results = append(results, netResults...)
			}

			if jsonOutput {
				if err := json.NewEncoder(os.Stdout).Encode(results); err != nil {
					return err
				}
			} else {
				for _, res := range results {
					line := fmt.Sprintf("%s: %s (%s)", res.Step, res.Target, res.Outcome)
					if res.Detail != "" {
						line += " - " + res.Detail
					}
					fmt.Println(line)
				}
			}

			for _, res := range results {
				if res.Outcome == engine.OutcomeFailed {
					return &ExitError{Code: 2, Message: "restore completed with errors"}
				}
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&backupID, "backup", "", "backup ID to restore (default: most recent)")
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "report what would be restored without changing anything")
	cmd.Flags().BoolVar(&restoreNetwork, "with-network", false, "also reapply saved static network configurations")
	cmd.Flags().BoolVarP(&assumeYes, "yes", "y", false, "skip the confirmation prompt")

	return cmd
}
