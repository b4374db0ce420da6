// Package config loads and validates the cleanup configuration:
// which devices, drivers and software count as leftovers of the
// source hypervisor, and which device classes must never be touched.
package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

// Config is the top-level configuration document.
type Config struct {
	// Rules select cleanup targets and protected classes.
	Rules Rules `yaml:"rules" validate:"required"`

	// BackupDir overrides the default backup directory.
	BackupDir string `yaml:"backup_dir,omitempty"`

	// LogDir overrides the default log directory.
	LogDir string `yaml:"log_dir,omitempty"`
}

// Rules describe what the cleanup run is allowed to remove. All
// matching is case-insensitive substring matching.
type Rules struct {
	// DevicePatterns match ghost devices by friendly name, instance ID
	// or manufacturer.
	DevicePatterns []string `yaml:"device_patterns" validate:"required,min=1"`

	// DriverProviders match driver packages by provider name.
	DriverProviders []string `yaml:"driver_providers"`

	// DriverNameSubstrings match driver packages by original INF name.
	DriverNameSubstrings []string `yaml:"driver_name_substrings"`

	// GuestToolsPatterns match installed software by display name.
	GuestToolsPatterns []string `yaml:"guest_tools_patterns"`

	// ProtectedClasses are device classes that must never be removed,
	// regardless of pattern matches.
	ProtectedClasses []string `yaml:"protected_classes"`
}

// Default returns the built-in configuration targeting VMware
// leftovers on a guest migrated to Hyper-V or Proxmox.
func Default() *Config {
	return &Config{
		Rules: Rules{
			DevicePatterns: []string{
				"vmware",
				"vmxnet",
				"pvscsi",
				"vmci",
				"vm bus",
				"vmmouse",
				"vm3dmp",
				"svga",
			},
			DriverProviders: []string{
				"vmware",
			},
			DriverNameSubstrings: []string{
				"vmxnet",
				"pvscsi",
				"vmci",
				"vmmouse",
				"vm3dmp",
				"vmusbmouse",
				"vsock",
				"efifw",
			},
			GuestToolsPatterns: []string{
				"vmware tools",
				"open-vm-tools",
			},
			ProtectedClasses: []string{
				"processor",
				"computer",
				"system",
				"volume",
				"diskdrive",
			},
		},
	}
}

// Load reads a YAML configuration file, merges it over the defaults
// and validates the result. An empty path returns the defaults.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config %s: %w", path, err)
	}

	var overlay Config
	if err := yaml.Unmarshal(data, &overlay); err != nil {
		return nil, fmt.Errorf("parsing config %s: %w", path, err)
	}
	cfg.merge(&overlay)

	if err := validator.New().Struct(cfg); err != nil {
		return nil, fmt.Errorf("invalid config %s: %w", path, err)
	}
	return cfg, nil
}

// merge overlays non-empty fields from other onto c. List fields
// replace wholesale rather than appending so a site config can narrow
// the defaults.
func (c *Config) merge(other *Config) {
	if len(other.Rules.DevicePatterns) > 0 {
		c.Rules.DevicePatterns = other.Rules.DevicePatterns
	}
	if len(other.Rules.DriverProviders) > 0 {
		c.Rules.DriverProviders = other.Rules.DriverProviders
	}
	if len(other.Rules.DriverNameSubstrings) > 0 {
		c.Rules.DriverNameSubstrings = other.Rules.DriverNameSubstrings
	}
	if len(other.Rules.GuestToolsPatterns) > 0 {
		c.Rules.GuestToolsPatterns = other.Rules.GuestToolsPatterns
	}
	if len(other.Rules.ProtectedClasses) > 0 {
		c.Rules.ProtectedClasses = other.Rules.ProtectedClasses
	}
	if other.BackupDir != "" {
		c.BackupDir = other.BackupDir
	}
	if other.LogDir != "" {
		c.LogDir = other.LogDir
	}
}

// MatchDevice reports whether any of the device's identifying strings
// match a configured device pattern.
func (r Rules) MatchDevice(fields ...string) bool {
	return matchAny(r.DevicePatterns, fields...)
}

// MatchDriver reports whether a driver package matches by provider or
// by original INF name.
func (r Rules) MatchDriver(provider, originalName string) bool {
	return matchAny(r.DriverProviders, provider) ||
		matchAny(r.DriverNameSubstrings, originalName)
}

// MatchSoftware reports whether an installed package name matches a
// guest tools pattern.
func (r Rules) MatchSoftware(name string) bool {
	return matchAny(r.GuestToolsPatterns, name)
}

// IsProtectedClass reports whether a device class is off limits.
func (r Rules) IsProtectedClass(class string) bool {
	return matchAny(r.ProtectedClasses, class)
}

func matchAny(patterns []string, fields ...string) bool {
	for _, p := range patterns {
		p = strings.ToLower(p)
		for _, f := range fields {
			if p != "" && strings.Contains(strings.ToLower(f), p) {
				return true
			}
		}
	}
	return false
}
