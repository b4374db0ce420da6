package commands

import (
	"encoding/json"
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/ghostsweep/ghostsweep/pkg/backup"
)

func newBackupsCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "backups",
		Short: "Manage cleanup backups",
	}
	cmd.AddCommand(newBackupsListCommand())
	return cmd
}

func newBackupsListCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List stored backups, newest first",
		RunE: func(cmd *cobra.Command, args []string) error {
			env, err := setup(cmd.Context(), false)
			if err != nil {
				return err
			}
			defer env.Close()

			store := backup.NewStore(resolveBackupDir(env.cfg), nil, env.logger)
			metas, err := store.List(cmd.Context())
			if err != nil {
				return &ExitError{Code: 1, Message: err.Error()}
			}

			if jsonOutput {
				return json.NewEncoder(os.Stdout).Encode(metas)
			}
			if len(metas) == 0 {
				fmt.Println("No backups found.")
				return nil
			}

			w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "ID\tCREATED\tHOST\tPLATFORM\tDRIVERS")
			for _, meta := range metas {
				drivers := "-"
				if meta.DriverExport {
					drivers = "exported"
				}
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n",
					meta.ID,
					meta.CreatedAt.Local().Format(time.RFC3339),
					meta.Hostname,
					meta.Platform,
					drivers,
				)
			}
			return w.Flush()
		},
	}
}
