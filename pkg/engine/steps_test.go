package engine

import (
	"testing"

	"github.com/ghostsweep/ghostsweep/pkg/config"
)

func TestCleanupStepOrder(t *testing.T) {
	steps := CleanupSteps(nil, config.Default().Rules, true)

	want := []string{
		StepRemoveGhostDevices,
		StepRemoveStaleDrivers,
		StepUninstallGuestTools,
		StepOnlineDisks,
		StepFlushDNS,
		StepResetNetworkStack,
	}
	if len(steps) != len(want) {
		t.Fatalf("got %d steps, want %d", len(steps), len(want))
	}
	for i, name := range want {
		if steps[i].Name != name {
			t.Errorf("step %d = %q, want %q", i, steps[i].Name, name)
		}
	}

	// Device removal must precede driver deletion: a still-bound device
	// blocks its driver package from being removed.
	if steps[0].Name != StepRemoveGhostDevices || steps[1].Name != StepRemoveStaleDrivers {
		t.Error("device removal must come before driver deletion")
	}

	if steps[3].Destructive || steps[4].Destructive {
		t.Error("online-disks and flush-dns must be non-destructive")
	}
}

func TestScopeSteps(t *testing.T) {
	steps := CleanupSteps(nil, config.Default().Rules, false)

	all, err := ScopeSteps(steps, "all")
	if err != nil || len(all) != len(steps) {
		t.Fatalf("scope all: got %d steps, err %v", len(all), err)
	}

	devices, err := ScopeSteps(steps, "devices")
	if err != nil {
		t.Fatal(err)
	}
	if len(devices) != 1 || devices[0].Name != StepRemoveGhostDevices {
		t.Fatalf("scope devices: got %+v", stepNames(devices))
	}

	drivers, err := ScopeSteps(steps, "drivers")
	if err != nil {
		t.Fatal(err)
	}
	if len(drivers) != 1 || drivers[0].Name != StepRemoveStaleDrivers {
		t.Fatalf("scope drivers: got %+v", stepNames(drivers))
	}

	if _, err := ScopeSteps(steps, "everything"); err == nil {
		t.Error("unknown scope should be rejected")
	}
}

func stepNames(steps []Step) []string {
	names := make([]string, len(steps))
	for i, s := range steps {
		names[i] = s.Name
	}
	return names
}
