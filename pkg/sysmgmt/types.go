// Package sysmgmt wraps the operating system's management surface behind
// narrow collaborator interfaces. The engine never parses raw utility
// output; all pnputil/netsh/diskpart/ip specific parsing lives here and
// every mutating call returns a structured Result.
package sysmgmt

import (
	"context"
	"fmt"
	"strings"
)

// Reboot-pending sentinel exit codes. pnputil and msiexec report
// ERROR_SUCCESS_REBOOT_REQUIRED (3010) or ERROR_SUCCESS_REBOOT_INITIATED
// (1641) when a mutation succeeded but needs a restart to take effect.
const (
	ExitRebootRequired  = 3010
	ExitRebootInitiated = 1641
)

// Result is the structured outcome of a single utility invocation.
type Result struct {
	// ExitCode is the raw process exit code. Only meaningful when Err is nil.
	ExitCode int

	// Output is the combined captured output of the invocation.
	Output string

	// Err is set when the utility could not be invoked at all
	// (binary missing, context timeout); it is never set for a
	// nonzero exit code.
	Err error
}

// Ok reports whether the invocation succeeded without a pending reboot.
func (r Result) Ok() bool {
	return r.Err == nil && r.ExitCode == 0
}

// RebootRequired reports whether the invocation succeeded but the change
// only takes effect after a restart. This is a success outcome, not a
// failure.
func (r Result) RebootRequired() bool {
	return r.Err == nil && (r.ExitCode == ExitRebootRequired || r.ExitCode == ExitRebootInitiated)
}

// Detail returns a human-readable description of the result for reports.
func (r Result) Detail() string {
	if r.Err != nil {
		return r.Err.Error()
	}
	out := strings.TrimSpace(r.Output)
	if r.ExitCode == 0 {
		return out
	}
	if out == "" {
		return fmt.Sprintf("exit code %d", r.ExitCode)
	}
	return fmt.Sprintf("exit code %d: %s", r.ExitCode, out)
}

// Device is a hardware device instance known to the OS configuration.
// Non-present devices (Present false) are "ghost" entries left behind
// after hardware was detached, e.g. by a hypervisor migration.
type Device struct {
	// InstanceID is the unique device instance path
	// (e.g. "PCI\VEN_15AD&DEV_0405\3&61AAA01&0&78").
	InstanceID string `json:"instance_id" yaml:"instance_id"`

	// Class is the device setup class name (e.g. "Display", "Net").
	Class string `json:"class" yaml:"class"`

	// FriendlyName is the display name reported by the device manager.
	FriendlyName string `json:"friendly_name" yaml:"friendly_name"`

	// Manufacturer is the manufacturer name, when reported.
	Manufacturer string `json:"manufacturer,omitempty" yaml:"manufacturer,omitempty"`

	// DriverName is the published driver (oemNN.inf) bound to the device.
	DriverName string `json:"driver_name,omitempty" yaml:"driver_name,omitempty"`

	// Present indicates whether the device is currently attached.
	Present bool `json:"present" yaml:"present"`
}

// DriverPackage is an installed third-party driver package.
type DriverPackage struct {
	// PublishedName is the store name (oemNN.inf) used for deletion.
	PublishedName string `json:"published_name" yaml:"published_name"`

	// OriginalName is the original INF file name.
	OriginalName string `json:"original_name" yaml:"original_name"`

	// Provider is the driver provider string (e.g. "VMware, Inc.").
	Provider string `json:"provider" yaml:"provider"`

	// Class is the driver class name.
	Class string `json:"class" yaml:"class"`

	// Version is the driver date/version string as reported.
	Version string `json:"version,omitempty" yaml:"version,omitempty"`
}

// NetInterface is the persisted view of a network interface.
type NetInterface struct {
	// Name is the connection/interface name.
	Name string `json:"name" yaml:"name"`

	// MAC is the hardware address, normalized to lowercase colon form.
	MAC string `json:"mac" yaml:"mac"`

	// Addresses are the assigned addresses in CIDR form.
	Addresses []string `json:"addresses,omitempty" yaml:"addresses,omitempty"`

	// Gateway is the default gateway, if configured.
	Gateway string `json:"gateway,omitempty" yaml:"gateway,omitempty"`

	// DNS lists the configured DNS servers.
	DNS []string `json:"dns,omitempty" yaml:"dns,omitempty"`

	// DHCP indicates the interface is dynamically configured.
	DHCP bool `json:"dhcp" yaml:"dhcp"`

	// Up indicates the interface is administratively up.
	Up bool `json:"up" yaml:"up"`
}

// InstalledPackage is a detected software package with its uninstall entry.
type InstalledPackage struct {
	Name             string `json:"name" yaml:"name"`
	Version          string `json:"version,omitempty" yaml:"version,omitempty"`
	UninstallCommand string `json:"uninstall_command,omitempty" yaml:"uninstall_command,omitempty"`
}

// Disk is a physical disk as seen by the disk management surface.
type Disk struct {
	Number   int    `json:"number" yaml:"number"`
	Name     string `json:"name,omitempty" yaml:"name,omitempty"`
	Online   bool   `json:"online" yaml:"online"`
	ReadOnly bool   `json:"read_only" yaml:"read_only"`

	// Partitions is empty on platforms without drive letters and on
	// the diskpart fallback path.
	Partitions []Partition `json:"partitions,omitempty" yaml:"partitions,omitempty"`
}

// Partition is one lettered (or letterless) partition on a disk.
type Partition struct {
	Number int    `json:"number" yaml:"number"`
	Letter string `json:"letter,omitempty" yaml:"letter,omitempty"`
}

// Runner executes an external utility and captures its outcome.
// Implementations exist for the local host (os/exec) and for remote
// Linux targets over SSH.
type Runner interface {
	// Run invokes name with args and waits for completion.
	Run(ctx context.Context, name string, args ...string) Result

	// RunInput invokes name with args, feeding stdin to the process.
	// Needed for script-driven utilities such as diskpart.
	RunInput(ctx context.Context, stdin string, name string, args ...string) Result
}

// DeviceManager enumerates and removes device instances.
type DeviceManager interface {
	// Enumerate lists devices. With includeHidden, non-present ("ghost")
	// devices are included.
	Enumerate(ctx context.Context, includeHidden bool) ([]Device, error)

	// Remove removes a device instance by its instance ID.
	Remove(ctx context.Context, instanceID string) Result
}

// DriverStore enumerates, deletes, exports and imports driver packages.
type DriverStore interface {
	Enumerate(ctx context.Context) ([]DriverPackage, error)

	// Delete removes a package by its published name.
	Delete(ctx context.Context, publishedName string) Result

	// Export copies all third-party packages into dir for backup.
	Export(ctx context.Context, dir string) Result

	// Import installs all packages found under dir.
	Import(ctx context.Context, dir string) Result
}

// NetworkManager reads and writes per-interface network configuration.
type NetworkManager interface {
	Interfaces(ctx context.Context) ([]NetInterface, error)

	// ApplyStatic sets the static address, gateway and DNS of cfg on the
	// named live interface.
	ApplyStatic(ctx context.Context, name string, cfg NetInterface) Result

	// EnableDHCP switches the named interface to dynamic configuration.
	EnableDHCP(ctx context.Context, name string) Result

	// FlushDNS flushes the resolver cache.
	FlushDNS(ctx context.Context) Result

	// ResetStack resets the network stack. High risk, requires a reboot.
	ResetStack(ctx context.Context) Result
}

// PackageManager detects and silently uninstalls installed software.
type PackageManager interface {
	// Find returns installed packages whose name contains pattern
	// (case-insensitive).
	Find(ctx context.Context, pattern string) ([]InstalledPackage, error)

	// Uninstall invokes the package's silent uninstall command.
	Uninstall(ctx context.Context, pkg InstalledPackage) Result
}

// DiskManager manages disk online/read-only state and drive letters.
type DiskManager interface {
	Disks(ctx context.Context) ([]Disk, error)
	Online(ctx context.Context, number int) Result
	ClearReadOnly(ctx context.Context, number int) Result

	// AssignLetter maps the drive letter to a partition. RemoveLetter
	// unmaps it. No-ops on platforms without drive letters.
	AssignLetter(ctx context.Context, disk, partition int, letter string) Result
	RemoveLetter(ctx context.Context, disk, partition int, letter string) Result
}

// Manager bundles all collaborators for one target system.
type Manager struct {
	Platform string // "windows" or "linux"
	Devices  DeviceManager
	Drivers  DriverStore
	Network  NetworkManager
	Packages PackageManager
	Disks    DiskManager
}

// NormalizeMAC lowercases a hardware address and converts dash
// separators to colons so MACs from different utilities compare equal.
func NormalizeMAC(mac string) string {
	return strings.ToLower(strings.ReplaceAll(strings.TrimSpace(mac), "-", ":"))
}
