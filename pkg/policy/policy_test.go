package policy

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"

	"github.com/ghostsweep/ghostsweep/pkg/config"
	"github.com/ghostsweep/ghostsweep/pkg/engine"
	"github.com/ghostsweep/ghostsweep/pkg/sysmgmt"
)

func newGuard(t *testing.T, extra []Rule) *Guard {
	t.Helper()
	g, err := NewGuard(context.Background(), config.Default().Rules, extra, zerolog.Nop())
	if err != nil {
		t.Fatalf("NewGuard: %v", err)
	}
	return g
}

func TestProtectedClassVeto(t *testing.T) {
	g := newGuard(t, nil)

	task := engine.Task{
		Kind:   engine.StepRemoveGhostDevices,
		Target: "ACPI\\GenuineIntel",
		Class:  "Processor",
	}
	violations, err := g.Check(context.Background(), task, &engine.SystemSnapshot{})
	if err != nil {
		t.Fatalf("Check: %v", err)
	}
	if len(violations) != 1 {
		t.Fatalf("violations = %v, want exactly one", violations)
	}
}

func TestUnprotectedClassPasses(t *testing.T) {
	g := newGuard(t, nil)

	task := engine.Task{
		Kind:   engine.StepRemoveGhostDevices,
		Target: "PCI\\VEN_15AD&DEV_0405",
		Class:  "Display",
	}
	violations, err := g.Check(context.Background(), task, &engine.SystemSnapshot{})
	if err != nil {
		t.Fatalf("Check: %v", err)
	}
	if len(violations) != 0 {
		t.Errorf("unexpected violations: %v", violations)
	}
}

func TestLastNICGuard(t *testing.T) {
	g := newGuard(t, nil)

	task := engine.Task{
		Kind:   engine.StepRemoveStaleDrivers,
		Target: "oem7.inf",
		Class:  "Net",
	}
	oneNIC := &engine.SystemSnapshot{Interfaces: []sysmgmt.NetInterface{{Name: "Ethernet0", Up: true}}}
	violations, err := g.Check(context.Background(), task, oneNIC)
	if err != nil {
		t.Fatalf("Check: %v", err)
	}
	if len(violations) != 1 {
		t.Fatalf("violations = %v, want the last-NIC veto", violations)
	}

	twoNICs := &engine.SystemSnapshot{Interfaces: []sysmgmt.NetInterface{
		{Name: "Ethernet0", Up: true},
		{Name: "Ethernet1", Up: true},
	}}
	violations, err = g.Check(context.Background(), task, twoNICs)
	if err != nil {
		t.Fatalf("Check: %v", err)
	}
	if len(violations) != 0 {
		t.Errorf("unexpected violations with two NICs: %v", violations)
	}
}

func TestSiteRuleFromDir(t *testing.T) {
	dir := t.TempDir()
	rule := `package ghostsweep.policies.site

import rego.v1

deny contains violation if {
	input.task.kind == "uninstall-guest-tools"
	contains(input.task.target, "Backup Agent")
	violation := "backup agent removal needs a change ticket"
}
`
	if err := os.WriteFile(filepath.Join(dir, "site.rego"), []byte(rule), 0o644); err != nil {
		t.Fatal(err)
	}

	rules, err := LoadDir(dir)
	if err != nil {
		t.Fatalf("LoadDir: %v", err)
	}
	if len(rules) != 1 || rules[0].Name != "site" {
		t.Fatalf("rules = %+v", rules)
	}

	g := newGuard(t, rules)
	violations, err := g.Check(context.Background(), engine.Task{
		Kind:   engine.StepUninstallGuestTools,
		Target: "Acme Backup Agent",
	}, &engine.SystemSnapshot{})
	if err != nil {
		t.Fatalf("Check: %v", err)
	}
	if len(violations) != 1 {
		t.Errorf("violations = %v, want the site veto", violations)
	}
}

func TestLoadDirMissing(t *testing.T) {
	rules, err := LoadDir(filepath.Join(t.TempDir(), "nope"))
	if err != nil {
		t.Fatalf("LoadDir: %v", err)
	}
	if rules != nil {
		t.Errorf("rules = %v, want none", rules)
	}
}

func TestGuardRejectsBrokenRego(t *testing.T) {
	_, err := NewGuard(context.Background(), config.Default().Rules, []Rule{{
		Name: "broken",
		Rego: "package broken\n\ndeny[",
	}}, zerolog.Nop())
	if err == nil {
		t.Fatal("expected a compile error")
	}
}
