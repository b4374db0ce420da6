package commands

import (
	"encoding/json"
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/ghostsweep/ghostsweep/pkg/engine"
	"github.com/ghostsweep/ghostsweep/pkg/inventory"
)

func newScanCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "scan",
		Short: "Scan for hypervisor leftovers without changing anything",
		Long: `Scan captures the system inventory and reports what a cleanup run
would target: ghost devices, stale driver packages and guest tools
matching the configured patterns. Nothing is modified.`,
		Example: `  # Scan the local machine
  ghostsweep scan

  # Machine-readable report
  ghostsweep scan --json`,
		RunE: func(cmd *cobra.Command, args []string) error {
			env, err := setup(cmd.Context(), false)
			if err != nil {
				return err
			}
			defer env.Close()

			probe := inventory.NewProbe(env.manager, env.logger)
			snap, err := probe.Capture(cmd.Context())
			if err != nil {
				return &ExitError{Code: 1, Message: err.Error()}
			}

			if jsonOutput {
				return json.NewEncoder(os.Stdout).Encode(scanReport(env, snap))
			}
			printScanReport(env, snap)
			return nil
		},
	}
	return cmd
}

type scanSummary struct {
	Hostname     string                 `json:"hostname"`
	Platform     string                 `json:"platform"`
	Partial      bool                   `json:"partial,omitempty"`
	GhostDevices []scanItem             `json:"ghost_devices"`
	StaleDrivers []scanItem             `json:"stale_drivers"`
	GuestTools   []scanItem             `json:"guest_tools"`
	OfflineDisks []scanItem             `json:"offline_disks"`
	Snapshot     *engine.SystemSnapshot `json:"snapshot,omitempty"`
}

type scanItem struct {
	Target string `json:"target"`
	Detail string `json:"detail,omitempty"`
}

func scanReport(env *appEnv, snap *engine.SystemSnapshot) scanSummary {
	rules := env.cfg.Rules
	report := scanSummary{
		Hostname: snap.Hostname,
		Platform: snap.Platform,
		Partial:  snap.Partial,
		Snapshot: snap,
	}
	for _, dev := range snap.Devices {
		if !dev.Present && rules.MatchDevice(dev.FriendlyName, dev.InstanceID, dev.Manufacturer) {
			report.GhostDevices = append(report.GhostDevices, scanItem{Target: dev.InstanceID, Detail: dev.FriendlyName})
		}
	}
	for _, drv := range snap.Drivers {
		if rules.MatchDriver(drv.Provider, drv.OriginalName) {
			report.StaleDrivers = append(report.StaleDrivers, scanItem{Target: drv.PublishedName, Detail: drv.OriginalName})
		}
	}
	for _, pkg := range snap.Software {
		if rules.MatchSoftware(pkg.Name) {
			report.GuestTools = append(report.GuestTools, scanItem{Target: pkg.Name, Detail: pkg.Version})
		}
	}
	for _, disk := range snap.Disks {
		if !disk.Online || disk.ReadOnly {
			state := "offline"
			if disk.Online {
				state = "read-only"
			}
			report.OfflineDisks = append(report.OfflineDisks, scanItem{Target: fmt.Sprintf("disk %d", disk.Number), Detail: state})
		}
	}
	return report
}

func printScanReport(env *appEnv, snap *engine.SystemSnapshot) {
	report := scanReport(env, snap)

	fmt.Printf("Scan of %s (%s)\n\n", report.Hostname, report.Platform)
	if report.Partial {
		fmt.Println("WARNING: inventory is partial; some sections could not be read")
		for _, reason := range snap.PartialReasons {
			fmt.Printf("  - %s\n", reason)
		}
		fmt.Println()
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	section := func(title string, items []scanItem) {
		fmt.Fprintf(w, "%s (%d)\n", title, len(items))
		for _, item := range items {
			fmt.Fprintf(w, "  %s\t%s\n", item.Target, item.Detail)
		}
	}
	section("Ghost devices", report.GhostDevices)
	section("Stale driver packages", report.StaleDrivers)
	section("Guest tools", report.GuestTools)
	section("Disks needing attention", report.OfflineDisks)
	w.Flush()

	total := len(report.GhostDevices) + len(report.StaleDrivers) + len(report.GuestTools) + len(report.OfflineDisks)
	if total == 0 {
		fmt.Println("\nNothing to clean up.")
	} else {
		fmt.Printf("\n%d item(s) would be cleaned by `ghostsweep clean`.\n", total)
	}
}
