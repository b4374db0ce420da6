// Package inventory captures the system state a cleanup run acts on:
// devices including ghosts, driver store contents, network
// configuration, installed software and disk state.
package inventory

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/rs/zerolog"

	"github.com/ghostsweep/ghostsweep/pkg/engine"
	"github.com/ghostsweep/ghostsweep/pkg/sysmgmt"
)

// Probe captures system snapshots through the platform manager.
// Individual enumeration failures degrade the snapshot instead of
// failing the capture; the steps that depend on a missing section
// simply find no targets.
type Probe struct {
	mgr    *sysmgmt.Manager
	logger zerolog.Logger
}

// NewProbe creates a probe for the given platform manager.
func NewProbe(mgr *sysmgmt.Manager, logger zerolog.Logger) *Probe {
	return &Probe{
		mgr:    mgr,
		logger: logger.With().Str("component", "inventory").Logger(),
	}
}

// Capture enumerates all inventory sections. The returned snapshot is
// marked partial when any section could not be read; an error is
// returned only when no section could be read at all.
func (p *Probe) Capture(ctx context.Context) (*engine.SystemSnapshot, error) {
	hostname, _ := os.Hostname()
	snap := &engine.SystemSnapshot{
		CapturedAt: time.Now().UTC(),
		Hostname:   hostname,
		Platform:   p.mgr.Platform,
	}

	degrade := func(section string, err error) {
		p.logger.Warn().Err(err).Str("section", section).Msg("inventory section unavailable")
		snap.Partial = true
		snap.PartialReasons = append(snap.PartialReasons, fmt.Sprintf("%s: %v", section, err))
	}

	var err error
	if snap.Devices, err = p.mgr.Devices.Enumerate(ctx, true); err != nil {
		degrade("devices", err)
	}
	if snap.Drivers, err = p.mgr.Drivers.Enumerate(ctx); err != nil {
		degrade("drivers", err)
	}
	if snap.Interfaces, err = p.mgr.Network.Interfaces(ctx); err != nil {
		degrade("network", err)
	}
	if snap.Software, err = p.mgr.Packages.Find(ctx, ""); err != nil {
		degrade("software", err)
	}
	if snap.Disks, err = p.mgr.Disks.Disks(ctx); err != nil {
		degrade("disks", err)
	}

	if len(snap.PartialReasons) == 5 {
		return nil, fmt.Errorf("no inventory section could be read: %v", snap.PartialReasons)
	}

	ghosts := 0
	for _, dev := range snap.Devices {
		if !dev.Present {
			ghosts++
		}
	}
	p.logger.Info().
		Int("devices", len(snap.Devices)).
		Int("ghost_devices", ghosts).
		Int("drivers", len(snap.Drivers)).
		Int("interfaces", len(snap.Interfaces)).
		Int("software", len(snap.Software)).
		Int("disks", len(snap.Disks)).
		Bool("partial", snap.Partial).
		Msg("inventory captured")
	return snap, nil
}
