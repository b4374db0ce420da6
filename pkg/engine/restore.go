package engine

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/ghostsweep/ghostsweep/pkg/sysmgmt"
)

// Restore step names.
const (
	StepRestoreDrivers = "restore-drivers"
	StepRestoreNetwork = "restore-network"
	StepRestoreLetters = "restore-drive-letters"
)

// RestoreEngine replays a backup onto the live system: driver
// packages are reimported into the store, and saved network
// configurations are reapplied to matching interfaces.
type RestoreEngine struct {
	mgr    *sysmgmt.Manager
	dryRun bool
	logger zerolog.Logger
}

// NewRestoreEngine creates a restore engine.
func NewRestoreEngine(mgr *sysmgmt.Manager, dryRun bool, logger zerolog.Logger) *RestoreEngine {
	return &RestoreEngine{
		mgr:    mgr,
		dryRun: dryRun,
		logger: logger.With().Str("component", "restore").Logger(),
	}
}

// RestoreDrivers imports every driver package exported under
// driverDir back into the driver store. An empty driverDir means the
// backup carried no driver export and the step is skipped.
func (r *RestoreEngine) RestoreDrivers(ctx context.Context, driverDir string) StepResult {
	res := StepResult{Step: StepRestoreDrivers, Target: driverDir}
	if driverDir == "" {
		res.Outcome = OutcomeSkipped
		res.Detail = "backup contains no driver export"
		return res
	}
	if r.dryRun {
		res.Outcome = OutcomeWouldPerform
		res.Detail = "import driver packages from " + driverDir
		return res
	}

	r.logger.Info().Str("dir", driverDir).Msg("importing driver packages")
	start := time.Now()
	out := r.mgr.Drivers.Import(ctx, driverDir)
	res.Duration = time.Since(start)

	switch {
	case out.RebootRequired():
		res.Outcome = OutcomeRebootRequired
	case out.Ok():
		res.Outcome = OutcomeSuccess
	default:
		res.Outcome = OutcomeFailed
		res.Detail = out.Detail()
	}
	return res
}

// RestoreNetwork reapplies the saved interface configurations.
// Interfaces are matched by MAC address first and by name as a
// fallback; a saved interface with no live counterpart is reported
// and skipped, never created. Only statically configured interfaces
// are reapplied, DHCP interfaces are left to the lease they already
// have.
func (r *RestoreEngine) RestoreNetwork(ctx context.Context, saved []sysmgmt.NetInterface) ([]StepResult, error) {
	live, err := r.mgr.Network.Interfaces(ctx)
	if err != nil {
		return nil, NewPreconditionError("enumerating live interfaces", err)
	}

	byMAC := make(map[string]sysmgmt.NetInterface, len(live))
	byName := make(map[string]sysmgmt.NetInterface, len(live))
	for _, iface := range live {
		if iface.MAC != "" {
			byMAC[sysmgmt.NormalizeMAC(iface.MAC)] = iface
		}
		byName[iface.Name] = iface
	}

	var results []StepResult
	for _, want := range saved {
		res := StepResult{Step: StepRestoreNetwork, Target: want.Name}

		if want.DHCP {
			res.Outcome = OutcomeSkipped
			res.Detail = "interface was on DHCP, nothing to reapply"
			results = append(results, res)
			continue
		}

		target, matched := r.match(want, byMAC, byName)
		if !matched {
			err := NewMappingError(fmt.Sprintf("no live interface matches %s (%s)", want.Name, want.MAC), nil)
			r.logger.Warn().Str("interface", want.Name).Str("mac", want.MAC).Msg(err.Message)
			res.Outcome = OutcomeSkipped
			res.Detail = err.Message
			results = append(results, res)
			continue
		}
		res.Target = target.Name

		if r.dryRun {
			res.Outcome = OutcomeWouldPerform
			res.Detail = fmt.Sprintf("apply %v to %s", want.Addresses, target.Name)
			results = append(results, res)
			continue
		}

		r.logger.Info().Str("interface", target.Name).Strs("addresses", want.Addresses).Msg("reapplying static configuration")
		start := time.Now()
		out := r.mgr.Network.ApplyStatic(ctx, target.Name, want)
		res.Duration = time.Since(start)
		switch {
		case out.RebootRequired():
			res.Outcome = OutcomeRebootRequired
		case out.Ok():
			res.Outcome = OutcomeSuccess
		default:
			res.Outcome = OutcomeFailed
			res.Detail = out.Detail()
		}
		results = append(results, res)
	}
	return results, nil
}

// RestoreDriveLetters reassigns the drive letters recorded in the
// backup to partitions that lost or changed them. Partitions absent
// from the live system are reported and skipped. No-op on platforms
// without drive letters.
func (r *RestoreEngine) RestoreDriveLetters(ctx context.Context, saved []sysmgmt.Disk) ([]StepResult, error) {
	live, err := r.mgr.Disks.Disks(ctx)
	if err != nil {
		return nil, NewPreconditionError("enumerating live disks", err)
	}

	liveLetters := make(map[int]map[int]string, len(live))
	for _, disk := range live {
		parts := make(map[int]string, len(disk.Partitions))
		for _, p := range disk.Partitions {
			parts[p.Number] = p.Letter
		}
		liveLetters[disk.Number] = parts
	}

	var results []StepResult
	for _, disk := range saved {
		for _, part := range disk.Partitions {
			if part.Letter == "" {
				continue
			}
			res := StepResult{
				Step:   StepRestoreLetters,
				Target: fmt.Sprintf("disk %d partition %d", disk.Number, part.Number),
			}

			parts, diskPresent := liveLetters[disk.Number]
			current, partPresent := parts[part.Number]
			if !diskPresent || !partPresent {
				err := NewMappingError(fmt.Sprintf("disk %d partition %d not present, cannot reassign %s:", disk.Number, part.Number, part.Letter), nil)
				r.logger.Warn().Int("disk", disk.Number).Int("partition", part.Number).Msg(err.Message)
				res.Outcome = OutcomeSkipped
				res.Detail = err.Message
				results = append(results, res)
				continue
			}
			if current == part.Letter {
				res.Outcome = OutcomeSkipped
				res.Detail = fmt.Sprintf("letter %s: already assigned", part.Letter)
				results = append(results, res)
				continue
			}

			if r.dryRun {
				res.Outcome = OutcomeWouldPerform
				res.Detail = fmt.Sprintf("assign letter %s:", part.Letter)
				results = append(results, res)
				continue
			}

			r.logger.Info().Int("disk", disk.Number).Int("partition", part.Number).
				Str("letter", part.Letter).Msg("reassigning drive letter")
			start := time.Now()
			if current != "" {
				if out := r.mgr.Disks.RemoveLetter(ctx, disk.Number, part.Number, current); !out.Ok() {
					res.Duration = time.Since(start)
					res.Outcome = OutcomeFailed
					res.Detail = out.Detail()
					results = append(results, res)
					continue
				}
			}
			out := r.mgr.Disks.AssignLetter(ctx, disk.Number, part.Number, part.Letter)
			res.Duration = time.Since(start)
			switch {
			case out.RebootRequired():
				res.Outcome = OutcomeRebootRequired
			case out.Ok():
				res.Outcome = OutcomeSuccess
			default:
				res.Outcome = OutcomeFailed
				res.Detail = out.Detail()
			}
			results = append(results, res)
		}
	}
	return results, nil
}

// match resolves a saved interface to a live one, MAC before name.
// MAC matching survives the interface renames most hypervisor
// switches cause.
func (r *RestoreEngine) match(want sysmgmt.NetInterface, byMAC, byName map[string]sysmgmt.NetInterface) (sysmgmt.NetInterface, bool) {
	if want.MAC != "" {
		if iface, ok := byMAC[sysmgmt.NormalizeMAC(want.MAC)]; ok {
			return iface, true
		}
	}
	iface, ok := byName[want.Name]
	return iface, ok
}
