package engine

import (
	"context"
	"fmt"

	"github.com/ghostsweep/ghostsweep/pkg/config"
	"github.com/ghostsweep/ghostsweep/pkg/sysmgmt"
)

// Step names. Order in CleanupSteps is significant: devices go before
// their driver packages so the store delete does not fail on an
// in-use driver.
const (
	StepRemoveGhostDevices  = "remove-ghost-devices"
	StepRemoveStaleDrivers  = "remove-stale-drivers"
	StepUninstallGuestTools = "uninstall-guest-tools"
	StepOnlineDisks         = "online-disks"
	StepFlushDNS            = "flush-dns"
	StepResetNetworkStack   = "reset-network-stack"
)

// CleanupSteps returns the ordered step list for a full cleanup run.
// The network stack reset is opt-in; it forces a reboot and gets its
// own confirmation round.
func CleanupSteps(mgr *sysmgmt.Manager, rules config.Rules, includeNetReset bool) []Step {
	steps := []Step{
		RemoveGhostDevicesStep(mgr, rules),
		RemoveStaleDriversStep(mgr, rules),
		UninstallGuestToolsStep(mgr, rules),
		OnlineDisksStep(mgr),
		FlushDNSStep(mgr),
	}
	if includeNetReset {
		steps = append(steps, ResetNetworkStackStep(mgr))
	}
	return steps
}

// ScopeSteps narrows a step list to the named scope. "devices" keeps
// only the ghost device removal, "drivers" only the driver store
// cleanup; "all" (or empty) keeps everything.
func ScopeSteps(steps []Step, scope string) ([]Step, error) {
	var keep string
	switch scope {
	case "", "all":
		return steps, nil
	case "devices":
		keep = StepRemoveGhostDevices
	case "drivers":
		keep = StepRemoveStaleDrivers
	default:
		return nil, fmt.Errorf("unknown clean scope %q (expected devices, drivers or all)", scope)
	}
	var scoped []Step
	for _, s := range steps {
		if s.Name == keep {
			scoped = append(scoped, s)
		}
	}
	return scoped, nil
}

// RemoveGhostDevicesStep removes non-present devices left behind by
// the source hypervisor. Only devices matching the configured patterns
// are touched.
func RemoveGhostDevicesStep(mgr *sysmgmt.Manager, rules config.Rules) Step {
	return Step{
		Name:        StepRemoveGhostDevices,
		Description: "Remove ghost devices from the previous hypervisor",
		Destructive: true,
		Idempotent:  true,
		Expand: func(snap *SystemSnapshot) []Task {
			var tasks []Task
			for _, dev := range snap.Devices {
				if dev.Present || !rules.MatchDevice(dev.FriendlyName, dev.InstanceID, dev.Manufacturer) {
					continue
				}
				dev := dev
				tasks = append(tasks, Task{
					Kind:        StepRemoveGhostDevices,
					Target:      dev.InstanceID,
					Class:       dev.Class,
					Description: fmt.Sprintf("remove ghost device %q", dev.FriendlyName),
					Run: func(ctx context.Context) sysmgmt.Result {
						return mgr.Devices.Remove(ctx, dev.InstanceID)
					},
				})
			}
			return tasks
		},
	}
}

// RemoveStaleDriversStep deletes driver packages published by the
// source hypervisor's vendor from the driver store.
func RemoveStaleDriversStep(mgr *sysmgmt.Manager, rules config.Rules) Step {
	return Step{
		Name:        StepRemoveStaleDrivers,
		Description: "Delete stale hypervisor driver packages",
		Destructive: true,
		Idempotent:  true,
		Expand: func(snap *SystemSnapshot) []Task {
			var tasks []Task
			for _, drv := range snap.Drivers {
				if !rules.MatchDriver(drv.Provider, drv.OriginalName) {
					continue
				}
				drv := drv
				tasks = append(tasks, Task{
					Kind:        StepRemoveStaleDrivers,
					Target:      drv.PublishedName,
					Class:       drv.Class,
					Description: fmt.Sprintf("delete driver package %s (%s)", drv.PublishedName, drv.OriginalName),
					Run: func(ctx context.Context) sysmgmt.Result {
						return mgr.Drivers.Delete(ctx, drv.PublishedName)
					},
				})
			}
			return tasks
		},
	}
}

// UninstallGuestToolsStep uninstalls guest integration software from
// the source hypervisor.
func UninstallGuestToolsStep(mgr *sysmgmt.Manager, rules config.Rules) Step {
	return Step{
		Name:        StepUninstallGuestTools,
		Description: "Uninstall guest tools from the previous hypervisor",
		Destructive: true,
		Idempotent:  true,
		Expand: func(snap *SystemSnapshot) []Task {
			var tasks []Task
			for _, pkg := range snap.Software {
				if !rules.MatchSoftware(pkg.Name) {
					continue
				}
				pkg := pkg
				tasks = append(tasks, Task{
					Kind:        StepUninstallGuestTools,
					Target:      pkg.Name,
					Description: fmt.Sprintf("uninstall %s %s", pkg.Name, pkg.Version),
					Run: func(ctx context.Context) sysmgmt.Result {
						return mgr.Packages.Uninstall(ctx, pkg)
					},
				})
			}
			return tasks
		},
	}
}

// OnlineDisksStep brings offline disks online and clears read-only
// flags. Disks commonly land offline after a disk signature collision
// on the target hypervisor.
func OnlineDisksStep(mgr *sysmgmt.Manager) Step {
	return Step{
		Name:        StepOnlineDisks,
		Description: "Bring offline disks online and clear read-only flags",
		Destructive: false,
		Idempotent:  true,
		Expand: func(snap *SystemSnapshot) []Task {
			var tasks []Task
			for _, disk := range snap.Disks {
				disk := disk
				if !disk.Online {
					tasks = append(tasks, Task{
						Kind:        StepOnlineDisks,
						Target:      fmt.Sprintf("disk %d", disk.Number),
						Description: fmt.Sprintf("bring disk %d (%s) online", disk.Number, disk.Name),
						Run: func(ctx context.Context) sysmgmt.Result {
							return mgr.Disks.Online(ctx, disk.Number)
						},
					})
				}
				if disk.ReadOnly {
					tasks = append(tasks, Task{
						Kind:        StepOnlineDisks,
						Target:      fmt.Sprintf("disk %d", disk.Number),
						Description: fmt.Sprintf("clear read-only flag on disk %d", disk.Number),
						Run: func(ctx context.Context) sysmgmt.Result {
							return mgr.Disks.ClearReadOnly(ctx, disk.Number)
						},
					})
				}
			}
			return tasks
		},
	}
}

// FlushDNSStep flushes the resolver cache. Non-destructive, always
// expands to exactly one task.
func FlushDNSStep(mgr *sysmgmt.Manager) Step {
	return Step{
		Name:        StepFlushDNS,
		Description: "Flush the DNS resolver cache",
		Destructive: false,
		Idempotent:  true,
		Expand: func(snap *SystemSnapshot) []Task {
			return []Task{{
				Kind:        StepFlushDNS,
				Target:      "dns-cache",
				Description: "flush DNS resolver cache",
				Run: func(ctx context.Context) sysmgmt.Result {
					return mgr.Network.FlushDNS(ctx)
				},
			}}
		},
	}
}

// ResetNetworkStackStep resets the host network stack. Destructive and
// reboot-forcing; only included when the operator opts in.
func ResetNetworkStackStep(mgr *sysmgmt.Manager) Step {
	return Step{
		Name:        StepResetNetworkStack,
		Description: "Reset the network stack (requires reboot)",
		Destructive: true,
		Idempotent:  true,
		Expand: func(snap *SystemSnapshot) []Task {
			return []Task{{
				Kind:        StepResetNetworkStack,
				Target:      "network-stack",
				Description: "reset network stack",
				Run: func(ctx context.Context) sysmgmt.Result {
					return mgr.Network.ResetStack(ctx)
				},
			}}
		},
	}
}
