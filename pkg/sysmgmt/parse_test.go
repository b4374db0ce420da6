package sysmgmt

import (
	"testing"
)

const enumDevicesOutput = "Instance ID:                PCI\\VEN_15AD&DEV_0405\\3&61AAA01&0&78\r\n" +
	"Device Description:         VMware SVGA 3D\r\n" +
	"Class Name:                 Display\r\n" +
	"Class GUID:                 {4d36e968-e325-11ce-bfc1-08002be10318}\r\n" +
	"Manufacturer Name:          VMware, Inc.\r\n" +
	"Status:                     Disconnected\r\n" +
	"Driver Name:                oem5.inf\r\n" +
	"\r\n" +
	"Instance ID:                PCI\\VEN_8086&DEV_100E\\3&61AAA01&0&88\r\n" +
	"Device Description:         Intel(R) PRO/1000 MT Network Connection\r\n" +
	"Class Name:                 Net\r\n" +
	"Status:                     Started\r\n" +
	"Driver Name:                oem2.inf\r\n"

func TestParseDeviceList(t *testing.T) {
	devices := parseDeviceList(enumDevicesOutput)
	if len(devices) != 2 {
		t.Fatalf("expected 2 devices, got %d", len(devices))
	}

	ghost := devices[0]
	if ghost.Present {
		t.Error("disconnected device should not be present")
	}
	if ghost.FriendlyName != "VMware SVGA 3D" {
		t.Errorf("unexpected friendly name: %q", ghost.FriendlyName)
	}
	if ghost.Class != "Display" {
		t.Errorf("unexpected class: %q", ghost.Class)
	}
	if ghost.DriverName != "oem5.inf" {
		t.Errorf("unexpected driver name: %q", ghost.DriverName)
	}
	// The instance ID itself contains backslashes but no colon-splitting
	// damage is allowed.
	if ghost.InstanceID != `PCI\VEN_15AD&DEV_0405\3&61AAA01&0&78` {
		t.Errorf("unexpected instance ID: %q", ghost.InstanceID)
	}

	if !devices[1].Present {
		t.Error("started device should be present")
	}
}

const enumDriversOutput = `Published Name:             oem5.inf
Original Name:              vm3d.inf
Provider Name:              VMware, Inc.
Class Name:                 Display
Driver Version:             04/12/2020 8.17.2.14

Published Name:             oem2.inf
Original Name:              e1000.inf
Provider Name:              Intel
Class Name:                 Net
Driver Version:             03/23/2016 8.4.13.0
`

func TestParseDriverList(t *testing.T) {
	drivers := parseDriverList(enumDriversOutput)
	if len(drivers) != 2 {
		t.Fatalf("expected 2 drivers, got %d", len(drivers))
	}
	if drivers[0].PublishedName != "oem5.inf" {
		t.Errorf("unexpected published name: %q", drivers[0].PublishedName)
	}
	if drivers[0].Provider != "VMware, Inc." {
		t.Errorf("unexpected provider: %q", drivers[0].Provider)
	}
	if drivers[1].OriginalName != "e1000.inf" {
		t.Errorf("unexpected original name: %q", drivers[1].OriginalName)
	}
}

func TestParseGetmacCSV(t *testing.T) {
	output := `"Ethernet0","Intel(R) PRO/1000 MT","00-0C-29-3E-1A-5B","\Device\Tcpip_{GUID}"
"Ethernet1","vmxnet3 Adapter","00-0C-29-3E-1A-65","Media disconnected"
`
	macs := parseGetmacCSV(output)
	if len(macs) != 2 {
		t.Fatalf("expected 2 entries, got %d", len(macs))
	}
	if macs["Ethernet0"] != "00:0c:29:3e:1a:5b" {
		t.Errorf("MAC not normalized: %q", macs["Ethernet0"])
	}
}

const netshConfigOutput = `Configuration for interface "Ethernet0"
    DHCP enabled:                         No
    IP Address:                           10.20.30.40
    Subnet Prefix:                        10.20.30.0/24 (mask 255.255.255.0)
    Default Gateway:                      10.20.30.1
    Gateway Metric:                       1
    InterfaceMetric:                      25
    Statically Configured DNS Servers:    10.20.30.2
                                          10.20.30.3
    Register with which suffix:           Primary only

Configuration for interface "Ethernet1"
    DHCP enabled:                         Yes
    InterfaceMetric:                      25
    DNS servers configured through DHCP:  192.168.1.1
    Register with which suffix:           Primary only
`

func TestParseNetshConfig(t *testing.T) {
	ifaces := parseNetshConfig(netshConfigOutput)
	if len(ifaces) != 2 {
		t.Fatalf("expected 2 interfaces, got %d", len(ifaces))
	}

	static := ifaces[0]
	if static.Name != "Ethernet0" {
		t.Errorf("unexpected name: %q", static.Name)
	}
	if static.DHCP {
		t.Error("Ethernet0 should be static")
	}
	if len(static.Addresses) != 1 || static.Addresses[0] != "10.20.30.40/24" {
		t.Errorf("unexpected addresses: %v", static.Addresses)
	}
	if static.Gateway != "10.20.30.1" {
		t.Errorf("unexpected gateway: %q", static.Gateway)
	}
	if len(static.DNS) != 2 || static.DNS[1] != "10.20.30.3" {
		t.Errorf("unexpected DNS list: %v", static.DNS)
	}

	if !ifaces[1].DHCP {
		t.Error("Ethernet1 should be DHCP")
	}
}

func TestSplitCIDR(t *testing.T) {
	tests := []struct {
		in   string
		addr string
		mask string
		ok   bool
	}{
		{"10.1.2.3/24", "10.1.2.3", "255.255.255.0", true},
		{"10.1.2.3/16", "10.1.2.3", "255.255.0.0", true},
		{"10.1.2.3", "10.1.2.3", "255.255.255.0", true},
		{"not-an-address", "", "", false},
	}

	for _, tt := range tests {
		addr, mask, err := splitCIDR(tt.in)
		if tt.ok && err != nil {
			t.Errorf("splitCIDR(%q) unexpected error: %v", tt.in, err)
			continue
		}
		if !tt.ok {
			if err == nil {
				t.Errorf("splitCIDR(%q) expected error", tt.in)
			}
			continue
		}
		if addr != tt.addr || mask != tt.mask {
			t.Errorf("splitCIDR(%q) = %q/%q, want %q/%q", tt.in, addr, mask, tt.addr, tt.mask)
		}
	}
}

func TestParseDiskpartList(t *testing.T) {
	output := `
  Disk ###  Status         Size     Free     Dyn  Gpt
  --------  -------------  -------  -------  ---  ---
  Disk 0    Online          127 GB      0 B        *
  Disk 1    Offline          50 GB    50 GB
`
	disks := parseDiskpartList(output)
	if len(disks) != 2 {
		t.Fatalf("expected 2 disks, got %d", len(disks))
	}
	if !disks[0].Online || disks[1].Online {
		t.Errorf("unexpected online flags: %+v", disks)
	}
}

func TestParsePowerShellPartitions(t *testing.T) {
	output := "0|1|C\n0|2|\x00\n1|1|d\nnot-a-partition\n"
	parts := parsePowerShellPartitions(output)

	if len(parts[0]) != 2 {
		t.Fatalf("disk 0: expected 2 partitions, got %d", len(parts[0]))
	}
	if parts[0][0].Letter != "C" {
		t.Errorf("disk 0 partition 1 letter = %q, want C", parts[0][0].Letter)
	}
	if parts[0][1].Letter != "" {
		t.Errorf("letterless partition got %q", parts[0][1].Letter)
	}
	if len(parts[1]) != 1 || parts[1][0].Letter != "D" {
		t.Errorf("disk 1 partitions = %+v, want one partition lettered D", parts[1])
	}
}

func TestResultOutcomes(t *testing.T) {
	if !(Result{ExitCode: 0}).Ok() {
		t.Error("exit 0 should be ok")
	}
	if !(Result{ExitCode: ExitRebootRequired}).RebootRequired() {
		t.Error("3010 should be reboot required")
	}
	if !(Result{ExitCode: ExitRebootInitiated}).RebootRequired() {
		t.Error("1641 should be reboot required")
	}
	if (Result{ExitCode: 1}).Ok() || (Result{ExitCode: 1}).RebootRequired() {
		t.Error("exit 1 should be a plain failure")
	}

	detail := Result{ExitCode: 2, Output: "no such device"}.Detail()
	if detail != "exit code 2: no such device" {
		t.Errorf("unexpected detail: %q", detail)
	}
}

func TestExtractProductCode(t *testing.T) {
	code, ok := extractProductCode(`MsiExec.exe /X{FE2F6A2C-196E-4210-9C04-2B1BC21F07EF}`)
	if !ok || code != "{FE2F6A2C-196E-4210-9C04-2B1BC21F07EF}" {
		t.Errorf("unexpected product code: %q ok=%v", code, ok)
	}
	if _, ok := extractProductCode(`"C:\Program Files\Tool\uninstall.exe" /S`); ok {
		t.Error("non-msi command should not yield a product code")
	}
}
