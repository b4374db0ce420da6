package sysmgmt

import (
	"context"
	"fmt"
	"strings"
)

// NewWindowsManager wires the Windows management utilities (pnputil,
// netsh, ipconfig, wmic, msiexec, PowerShell) behind the collaborator
// interfaces, all shelling out through the given runner.
func NewWindowsManager(runner Runner) *Manager {
	return &Manager{
		Platform: "windows",
		Devices:  &windowsDeviceManager{runner: runner},
		Drivers:  &windowsDriverStore{runner: runner},
		Network:  &windowsNetworkManager{runner: runner},
		Packages: &windowsPackageManager{runner: runner},
		Disks:    &windowsDiskManager{runner: runner},
	}
}

// windowsDeviceManager uses pnputil for device enumeration and removal.
type windowsDeviceManager struct {
	runner Runner
}

func (m *windowsDeviceManager) Enumerate(ctx context.Context, includeHidden bool) ([]Device, error) {
	res := m.runner.Run(ctx, "pnputil", "/enum-devices")
	if res.Err != nil {
		return nil, fmt.Errorf("enumerate devices: %w", res.Err)
	}
	if res.ExitCode != 0 {
		return nil, fmt.Errorf("enumerate devices: %s", res.Detail())
	}

	devices := parseDeviceList(res.Output)
	if includeHidden {
		return devices, nil
	}

	present := devices[:0]
	for _, d := range devices {
		if d.Present {
			present = append(present, d)
		}
	}
	return present, nil
}

func (m *windowsDeviceManager) Remove(ctx context.Context, instanceID string) Result {
	return m.runner.Run(ctx, "pnputil", "/remove-device", instanceID)
}

// windowsDriverStore uses pnputil for driver package management.
type windowsDriverStore struct {
	runner Runner
}

func (s *windowsDriverStore) Enumerate(ctx context.Context) ([]DriverPackage, error) {
	res := s.runner.Run(ctx, "pnputil", "/enum-drivers")
	if res.Err != nil {
		return nil, fmt.Errorf("enumerate drivers: %w", res.Err)
	}
	if res.ExitCode != 0 {
		return nil, fmt.Errorf("enumerate drivers: %s", res.Detail())
	}
	return parseDriverList(res.Output), nil
}

func (s *windowsDriverStore) Delete(ctx context.Context, publishedName string) Result {
	return s.runner.Run(ctx, "pnputil", "/delete-driver", publishedName, "/uninstall", "/force")
}

func (s *windowsDriverStore) Export(ctx context.Context, dir string) Result {
	return s.runner.Run(ctx, "pnputil", "/export-driver", "*", dir)
}

func (s *windowsDriverStore) Import(ctx context.Context, dir string) Result {
	return s.runner.Run(ctx, "pnputil", "/add-driver", dir+`\*.inf`, "/subdirs", "/install")
}

// windowsNetworkManager uses netsh and ipconfig.
type windowsNetworkManager struct {
	runner Runner
}

func (n *windowsNetworkManager) Interfaces(ctx context.Context) ([]NetInterface, error) {
	// getmac ties connection names to hardware addresses; the per
	// interface configuration comes from netsh.
	macRes := n.runner.Run(ctx, "getmac", "/v", "/fo", "csv", "/nh")
	if macRes.Err != nil {
		return nil, fmt.Errorf("list interfaces: %w", macRes.Err)
	}
	macs := parseGetmacCSV(macRes.Output)

	cfgRes := n.runner.Run(ctx, "netsh", "interface", "ipv4", "show", "config")
	if cfgRes.Err != nil {
		return nil, fmt.Errorf("interface config: %w", cfgRes.Err)
	}
	ifaces := parseNetshConfig(cfgRes.Output)

	for i := range ifaces {
		if mac, ok := macs[ifaces[i].Name]; ok {
			ifaces[i].MAC = mac
			ifaces[i].Up = true
		}
	}
	return ifaces, nil
}

func (n *windowsNetworkManager) ApplyStatic(ctx context.Context, name string, cfg NetInterface) Result {
	if len(cfg.Addresses) == 0 {
		return Result{Err: fmt.Errorf("interface %q has no addresses to apply", cfg.Name)}
	}

	addr, mask, err := splitCIDR(cfg.Addresses[0])
	if err != nil {
		return Result{Err: err}
	}

	args := []string{"interface", "ipv4", "set", "address", "name=" + name, "static", addr, mask}
	if cfg.Gateway != "" {
		args = append(args, cfg.Gateway, "1")
	}
	res := n.runner.Run(ctx, "netsh", args...)
	if !res.Ok() {
		return res
	}

	for i, dns := range cfg.DNS {
		var dnsRes Result
		if i == 0 {
			dnsRes = n.runner.Run(ctx, "netsh", "interface", "ipv4", "set", "dnsservers",
				"name="+name, "static", dns, "primary", "no")
		} else {
			dnsRes = n.runner.Run(ctx, "netsh", "interface", "ipv4", "add", "dnsservers",
				"name="+name, dns, fmt.Sprintf("index=%d", i+1), "no")
		}
		if !dnsRes.Ok() {
			return dnsRes
		}
	}
	return res
}

func (n *windowsNetworkManager) EnableDHCP(ctx context.Context, name string) Result {
	res := n.runner.Run(ctx, "netsh", "interface", "ipv4", "set", "address", "name="+name, "source=dhcp")
	if !res.Ok() {
		return res
	}
	return n.runner.Run(ctx, "netsh", "interface", "ipv4", "set", "dnsservers", "name="+name, "source=dhcp")
}

func (n *windowsNetworkManager) FlushDNS(ctx context.Context) Result {
	return n.runner.Run(ctx, "ipconfig", "/flushdns")
}

func (n *windowsNetworkManager) ResetStack(ctx context.Context) Result {
	res := n.runner.Run(ctx, "netsh", "winsock", "reset")
	if res.Err != nil || (res.ExitCode != 0 && !res.RebootRequired()) {
		return res
	}
	ipRes := n.runner.Run(ctx, "netsh", "int", "ip", "reset")
	if ipRes.Err != nil {
		return ipRes
	}
	// Winsock reset always needs a restart even when netsh exits zero.
	ipRes.ExitCode = ExitRebootRequired
	return ipRes
}

// windowsPackageManager reads the uninstall registry through PowerShell
// and drives msiexec for silent removal.
type windowsPackageManager struct {
	runner Runner
}

const uninstallQuery = `Get-ItemProperty HKLM:\Software\Microsoft\Windows\CurrentVersion\Uninstall\*, HKLM:\Software\Wow6432Node\Microsoft\Windows\CurrentVersion\Uninstall\* -ErrorAction SilentlyContinue | Where-Object { $_.DisplayName } | ForEach-Object { '{0}|{1}|{2}' -f $_.DisplayName, $_.DisplayVersion, $_.UninstallString }`

func (p *windowsPackageManager) Find(ctx context.Context, pattern string) ([]InstalledPackage, error) {
	res := p.runner.Run(ctx, "powershell", "-NoProfile", "-NonInteractive", "-Command", uninstallQuery)
	if res.Err != nil {
		return nil, fmt.Errorf("query uninstall registry: %w", res.Err)
	}
	if res.ExitCode != 0 {
		return nil, fmt.Errorf("query uninstall registry: %s", res.Detail())
	}

	var matches []InstalledPackage
	needle := strings.ToLower(pattern)
	for _, line := range strings.Split(res.Output, "\n") {
		parts := strings.SplitN(strings.TrimSpace(line), "|", 3)
		if len(parts) != 3 || parts[0] == "" {
			continue
		}
		if !strings.Contains(strings.ToLower(parts[0]), needle) {
			continue
		}
		matches = append(matches, InstalledPackage{
			Name:             parts[0],
			Version:          parts[1],
			UninstallCommand: parts[2],
		})
	}
	return matches, nil
}

func (p *windowsPackageManager) Uninstall(ctx context.Context, pkg InstalledPackage) Result {
	// MSI products carry an msiexec uninstall string; rewrite it for a
	// silent, no-restart removal. Anything else runs as recorded.
	cmd := pkg.UninstallCommand
	if cmd == "" {
		return Result{Err: fmt.Errorf("package %q has no uninstall command", pkg.Name)}
	}

	if code, ok := extractProductCode(cmd); ok {
		return p.runner.Run(ctx, "msiexec", "/x", code, "/qn", "/norestart")
	}
	return p.runner.Run(ctx, "cmd", "/c", cmd)
}

// extractProductCode pulls the {GUID} product code out of an msiexec
// uninstall string.
func extractProductCode(cmd string) (string, bool) {
	lower := strings.ToLower(cmd)
	if !strings.Contains(lower, "msiexec") {
		return "", false
	}
	start := strings.Index(cmd, "{")
	end := strings.Index(cmd, "}")
	if start < 0 || end < start {
		return "", false
	}
	return cmd[start : end+1], true
}
