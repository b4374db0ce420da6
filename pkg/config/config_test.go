package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestDefaultRulesMatchVMwareLeftovers(t *testing.T) {
	rules := Default().Rules

	if !rules.MatchDevice("VMware SVGA 3D", "PCI\\VEN_15AD&DEV_0405", "VMware, Inc.") {
		t.Error("default rules should match the VMware display adapter")
	}
	if !rules.MatchDevice("vmxnet3 Ethernet Adapter", "", "") {
		t.Error("default rules should match vmxnet3")
	}
	if rules.MatchDevice("Intel(R) 82574L Gigabit Network Connection", "PCI\\VEN_8086", "Intel") {
		t.Error("default rules must not match the Intel NIC")
	}

	if !rules.MatchDriver("VMware, Inc.", "oem7.inf") {
		t.Error("default rules should match by provider")
	}
	if !rules.MatchDriver("Contoso", "pvscsi.inf") {
		t.Error("default rules should match pvscsi by INF name")
	}
	if rules.MatchDriver("Microsoft", "netvsc.inf") {
		t.Error("default rules must not match the Hyper-V NIC driver")
	}

	if !rules.MatchSoftware("VMware Tools") {
		t.Error("default rules should match VMware Tools")
	}
	if rules.MatchSoftware("7-Zip 23.01") {
		t.Error("default rules must not match unrelated software")
	}

	if !rules.IsProtectedClass("Processor") {
		t.Error("processor class should be protected by default")
	}
}

func TestLoadOverlaysDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ghostsweep.yaml")
	doc := `rules:
  device_patterns:
    - xen
  guest_tools_patterns:
    - xenserver tools
backup_dir: /var/backups/ghostsweep
`
	if err := os.WriteFile(path, []byte(doc), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if !cfg.Rules.MatchDevice("Xen PV Network Device") {
		t.Error("overlay device patterns not applied")
	}
	if cfg.Rules.MatchDevice("VMware SVGA 3D") {
		t.Error("overlay should replace the default device patterns")
	}
	if len(cfg.Rules.DriverProviders) == 0 {
		t.Error("unset sections should keep their defaults")
	}
	if cfg.BackupDir != "/var/backups/ghostsweep" {
		t.Errorf("backup_dir = %q", cfg.BackupDir)
	}
}

func TestLoadEmptyPathReturnsDefaults(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if len(cfg.Rules.DevicePatterns) == 0 {
		t.Error("defaults missing device patterns")
	}
}

func TestLoadRejectsEmptyDevicePatterns(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.yaml")
	if err := os.WriteFile(path, []byte("rules: {device_patterns: []}\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	// An empty list in the overlay keeps the defaults rather than
	// erasing them.
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if len(cfg.Rules.DevicePatterns) == 0 {
		t.Error("empty overlay erased the default device patterns")
	}
}
