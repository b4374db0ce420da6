package sysmgmt

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
)

// NewLinuxManager wires the Linux management utilities (ip, resolvectl,
// dpkg/rpm) behind the collaborator interfaces. Device and driver store
// management is a Windows concern; the Linux cleanup path covers
// network state, guest tooling removal and disk visibility.
func NewLinuxManager(runner Runner) *Manager {
	return &Manager{
		Platform: "linux",
		Devices:  &linuxDeviceManager{},
		Drivers:  &linuxDriverStore{},
		Network:  &linuxNetworkManager{runner: runner},
		Packages: &linuxPackageManager{runner: runner},
		Disks:    &linuxDiskManager{runner: runner},
	}
}

// linuxDeviceManager is a no-op: Linux does not retain ghost device
// registrations across hardware changes the way Windows does.
type linuxDeviceManager struct{}

func (m *linuxDeviceManager) Enumerate(_ context.Context, _ bool) ([]Device, error) {
	return nil, nil
}

func (m *linuxDeviceManager) Remove(_ context.Context, instanceID string) Result {
	return Result{Err: fmt.Errorf("device removal is not supported on linux (instance %q)", instanceID)}
}

type linuxDriverStore struct{}

func (s *linuxDriverStore) Enumerate(_ context.Context) ([]DriverPackage, error) {
	return nil, nil
}

func (s *linuxDriverStore) Delete(_ context.Context, name string) Result {
	return Result{Err: fmt.Errorf("driver store management is not supported on linux (package %q)", name)}
}

func (s *linuxDriverStore) Export(_ context.Context, _ string) Result {
	return Result{ExitCode: 0}
}

func (s *linuxDriverStore) Import(_ context.Context, _ string) Result {
	return Result{ExitCode: 0}
}

// linuxNetworkManager reads state with `ip -json` and mutates it with
// ip/resolvectl.
type linuxNetworkManager struct {
	runner Runner
}

// ipAddrEntry mirrors the fields of `ip -json addr show` we consume.
type ipAddrEntry struct {
	IfName   string `json:"ifname"`
	Address  string `json:"address"`
	OperState string `json:"operstate"`
	AddrInfo []struct {
		Family    string `json:"family"`
		Local     string `json:"local"`
		PrefixLen int    `json:"prefixlen"`
		Dynamic   bool   `json:"dynamic"`
	} `json:"addr_info"`
}

func (n *linuxNetworkManager) Interfaces(ctx context.Context) ([]NetInterface, error) {
	res := n.runner.Run(ctx, "ip", "-json", "addr", "show")
	if res.Err != nil {
		return nil, fmt.Errorf("list interfaces: %w", res.Err)
	}
	if res.ExitCode != 0 {
		return nil, fmt.Errorf("list interfaces: %s", res.Detail())
	}

	var entries []ipAddrEntry
	if err := json.Unmarshal([]byte(res.Output), &entries); err != nil {
		return nil, fmt.Errorf("parse ip output: %w", err)
	}

	var ifaces []NetInterface
	for _, e := range entries {
		if e.IfName == "lo" {
			continue
		}
		iface := NetInterface{
			Name: e.IfName,
			MAC:  NormalizeMAC(e.Address),
			Up:   strings.EqualFold(e.OperState, "UP"),
		}
		for _, a := range e.AddrInfo {
			if a.Family != "inet" {
				continue
			}
			iface.Addresses = append(iface.Addresses, fmt.Sprintf("%s/%d", a.Local, a.PrefixLen))
			if a.Dynamic {
				iface.DHCP = true
			}
		}
		ifaces = append(ifaces, iface)
	}

	routeRes := n.runner.Run(ctx, "ip", "route", "show", "default")
	if routeRes.Ok() {
		gw, dev := parseDefaultRoute(routeRes.Output)
		for i := range ifaces {
			if ifaces[i].Name == dev {
				ifaces[i].Gateway = gw
			}
		}
	}
	return ifaces, nil
}

func (n *linuxNetworkManager) ApplyStatic(ctx context.Context, name string, cfg NetInterface) Result {
	if len(cfg.Addresses) == 0 {
		return Result{Err: fmt.Errorf("interface %q has no addresses to apply", cfg.Name)}
	}
	flush := n.runner.Run(ctx, "ip", "addr", "flush", "dev", name)
	if !flush.Ok() {
		return flush
	}
	for _, addr := range cfg.Addresses {
		res := n.runner.Run(ctx, "ip", "addr", "add", addr, "dev", name)
		if !res.Ok() {
			return res
		}
	}
	if cfg.Gateway != "" {
		res := n.runner.Run(ctx, "ip", "route", "replace", "default", "via", cfg.Gateway, "dev", name)
		if !res.Ok() {
			return res
		}
	}
	return n.runner.Run(ctx, "ip", "link", "set", name, "up")
}

func (n *linuxNetworkManager) EnableDHCP(ctx context.Context, name string) Result {
	return n.runner.Run(ctx, "dhclient", name)
}

func (n *linuxNetworkManager) FlushDNS(ctx context.Context) Result {
	return n.runner.Run(ctx, "resolvectl", "flush-caches")
}

func (n *linuxNetworkManager) ResetStack(ctx context.Context) Result {
	res := n.runner.Run(ctx, "systemctl", "restart", "systemd-networkd")
	if res.Err != nil || res.ExitCode != 0 {
		// NetworkManager-based distributions.
		return n.runner.Run(ctx, "systemctl", "restart", "NetworkManager")
	}
	return res
}

// parseDefaultRoute extracts gateway and device from
// "default via 10.0.0.1 dev eth0 proto dhcp".
func parseDefaultRoute(output string) (gateway, device string) {
	fields := strings.Fields(output)
	for i := 0; i < len(fields)-1; i++ {
		switch fields[i] {
		case "via":
			gateway = fields[i+1]
		case "dev":
			device = fields[i+1]
		}
	}
	return gateway, device
}

// linuxPackageManager detects guest tooling via dpkg or rpm.
type linuxPackageManager struct {
	runner Runner
}

func (p *linuxPackageManager) Find(ctx context.Context, pattern string) ([]InstalledPackage, error) {
	needle := strings.ToLower(pattern)

	res := p.runner.Run(ctx, "dpkg-query", "-W", "-f", "${Package}|${Version}\n")
	removeWith := "apt-get remove --purge -y"
	if res.Err != nil || res.ExitCode != 0 {
		res = p.runner.Run(ctx, "rpm", "-qa", "--qf", "%{NAME}|%{VERSION}\n")
		removeWith = "rpm -e"
		if res.Err != nil {
			return nil, fmt.Errorf("list packages: %w", res.Err)
		}
		if res.ExitCode != 0 {
			return nil, fmt.Errorf("list packages: %s", res.Detail())
		}
	}

	var matches []InstalledPackage
	for _, line := range strings.Split(res.Output, "\n") {
		name, version, found := strings.Cut(strings.TrimSpace(line), "|")
		if !found || !strings.Contains(strings.ToLower(name), needle) {
			continue
		}
		matches = append(matches, InstalledPackage{
			Name:             name,
			Version:          version,
			UninstallCommand: removeWith + " " + name,
		})
	}
	return matches, nil
}

func (p *linuxPackageManager) Uninstall(ctx context.Context, pkg InstalledPackage) Result {
	if pkg.UninstallCommand == "" {
		return Result{Err: fmt.Errorf("package %q has no uninstall command", pkg.Name)}
	}
	fields := strings.Fields(pkg.UninstallCommand)
	return p.runner.Run(ctx, fields[0], fields[1:]...)
}

// linuxDiskManager rescans SCSI hosts; Linux disks have no offline or
// read-only flag to clear in the Windows sense.
type linuxDiskManager struct {
	runner Runner
}

func (d *linuxDiskManager) Disks(ctx context.Context) ([]Disk, error) {
	res := d.runner.Run(ctx, "lsblk", "-d", "-n", "-o", "NAME,TYPE")
	if res.Err != nil {
		return nil, fmt.Errorf("list disks: %w", res.Err)
	}
	if res.ExitCode != 0 {
		return nil, fmt.Errorf("list disks: %s", res.Detail())
	}

	var disks []Disk
	number := 0
	for _, line := range strings.Split(res.Output, "\n") {
		fields := strings.Fields(line)
		if len(fields) != 2 || fields[1] != "disk" {
			continue
		}
		disks = append(disks, Disk{Number: number, Name: fields[0], Online: true})
		number++
	}
	return disks, nil
}

func (d *linuxDiskManager) Online(ctx context.Context, number int) Result {
	return d.runner.Run(ctx, "sh", "-c", "for h in /sys/class/scsi_host/host*/scan; do echo '- - -' > \"$h\"; done")
}

func (d *linuxDiskManager) ClearReadOnly(_ context.Context, _ int) Result {
	return Result{ExitCode: 0}
}

func (d *linuxDiskManager) AssignLetter(_ context.Context, _, _ int, _ string) Result {
	return Result{ExitCode: 0}
}

func (d *linuxDiskManager) RemoveLetter(_ context.Context, _, _ int, _ string) Result {
	return Result{ExitCode: 0}
}
