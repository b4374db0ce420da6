package sysmgmt

import (
	"encoding/csv"
	"fmt"
	"net"
	"strings"
)

// parseDeviceList parses `pnputil /enum-devices` output. Records are
// blank-line separated blocks of "Key: Value" pairs.
func parseDeviceList(output string) []Device {
	var devices []Device
	for _, block := range splitBlocks(output) {
		if block["Instance ID"] == "" {
			continue
		}
		status := strings.ToLower(block["Status"])
		devices = append(devices, Device{
			InstanceID:   block["Instance ID"],
			Class:        block["Class Name"],
			FriendlyName: block["Device Description"],
			Manufacturer: block["Manufacturer Name"],
			DriverName:   block["Driver Name"],
			Present:      status != "disconnected" && status != "unknown",
		})
	}
	return devices
}

// parseDriverList parses `pnputil /enum-drivers` output.
func parseDriverList(output string) []DriverPackage {
	var drivers []DriverPackage
	for _, block := range splitBlocks(output) {
		if block["Published Name"] == "" {
			continue
		}
		drivers = append(drivers, DriverPackage{
			PublishedName: block["Published Name"],
			OriginalName:  block["Original Name"],
			Provider:      block["Provider Name"],
			Class:         block["Class Name"],
			Version:       block["Driver Version"],
		})
	}
	return drivers
}

// splitBlocks splits key/value console output into blank-line separated
// records. Continuation lines without a colon are ignored.
func splitBlocks(output string) []map[string]string {
	var blocks []map[string]string
	current := map[string]string{}

	flush := func() {
		if len(current) > 0 {
			blocks = append(blocks, current)
			current = map[string]string{}
		}
	}

	for _, line := range strings.Split(output, "\n") {
		line = strings.TrimRight(line, "\r")
		if strings.TrimSpace(line) == "" {
			flush()
			continue
		}
		key, value, found := strings.Cut(line, ":")
		if !found {
			continue
		}
		current[strings.TrimSpace(key)] = strings.TrimSpace(value)
	}
	flush()
	return blocks
}

// parseGetmacCSV maps connection names to normalized MAC addresses from
// `getmac /v /fo csv /nh` output.
func parseGetmacCSV(output string) map[string]string {
	macs := map[string]string{}
	reader := csv.NewReader(strings.NewReader(output))
	reader.FieldsPerRecord = -1
	records, err := reader.ReadAll()
	if err != nil {
		return macs
	}
	for _, rec := range records {
		// Connection Name, Network Adapter, Physical Address, Transport Name
		if len(rec) < 3 || rec[0] == "" {
			continue
		}
		mac := NormalizeMAC(rec[2])
		if strings.Contains(mac, ":") {
			macs[rec[0]] = mac
		}
	}
	return macs
}

// parseNetshConfig parses `netsh interface ipv4 show config` output into
// per-interface settings.
func parseNetshConfig(output string) []NetInterface {
	var ifaces []NetInterface
	var current *NetInterface

	flush := func() {
		if current != nil {
			ifaces = append(ifaces, *current)
			current = nil
		}
	}

	for _, line := range strings.Split(output, "\n") {
		line = strings.TrimRight(line, "\r")
		trimmed := strings.TrimSpace(line)

		if strings.HasPrefix(trimmed, `Configuration for interface "`) {
			flush()
			name := strings.TrimSuffix(strings.TrimPrefix(trimmed, `Configuration for interface "`), `"`)
			current = &NetInterface{Name: name}
			continue
		}
		if current == nil || trimmed == "" {
			continue
		}

		key, value, found := strings.Cut(trimmed, ":")
		if !found {
			// Additional DNS servers are listed as bare addresses.
			if ip := net.ParseIP(trimmed); ip != nil && len(current.DNS) > 0 {
				current.DNS = append(current.DNS, trimmed)
			}
			continue
		}
		key = strings.TrimSpace(key)
		value = strings.TrimSpace(value)

		switch {
		case key == "DHCP enabled":
			current.DHCP = strings.EqualFold(value, "Yes")
		case key == "IP Address":
			current.Addresses = append(current.Addresses, value)
		case strings.HasPrefix(key, "Subnet Prefix"):
			// "10.1.2.0/24 (mask 255.255.255.0)": rewrite the last bare
			// address into CIDR form using the prefix length.
			if n := len(current.Addresses); n > 0 && !strings.Contains(current.Addresses[n-1], "/") {
				if slash := strings.Index(value, "/"); slash >= 0 {
					end := strings.IndexAny(value[slash:], " (")
					if end < 0 {
						end = len(value) - slash
					}
					current.Addresses[n-1] += value[slash : slash+end]
				}
			}
		case key == "Default Gateway":
			current.Gateway = value
		case strings.Contains(key, "DNS servers configured through DHCP"),
			strings.Contains(key, "Statically Configured DNS Servers"):
			if value != "" && value != "None" {
				current.DNS = append(current.DNS, value)
			}
		}
	}
	flush()
	return ifaces
}

// splitCIDR converts "10.1.2.3/24" into an address and dotted netmask.
func splitCIDR(cidr string) (addr, mask string, err error) {
	ip, ipnet, err := net.ParseCIDR(cidr)
	if err != nil {
		// A bare address defaults to /24, matching the source scripts'
		// behavior for legacy exports without prefix information.
		if ip := net.ParseIP(cidr); ip != nil {
			return cidr, "255.255.255.0", nil
		}
		return "", "", fmt.Errorf("invalid address %q: %w", cidr, err)
	}
	m := ipnet.Mask
	if len(m) != 4 {
		return "", "", fmt.Errorf("address %q is not IPv4", cidr)
	}
	return ip.String(), net.IP(m).String(), nil
}
