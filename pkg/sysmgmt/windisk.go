package sysmgmt

import (
	"context"
	"fmt"
	"strconv"
	"strings"
)

// windowsDiskManager prefers the PowerShell Storage module and falls
// back to a diskpart script when the module (or PowerShell itself) is
// unavailable, as on stripped-down server cores and older releases.
type windowsDiskManager struct {
	runner Runner

	// forceLegacy pins the diskpart path once the modern one failed.
	forceLegacy bool
}

const diskQuery = `Get-Disk | ForEach-Object { '{0}|{1}|{2}|{3}' -f $_.Number, $_.FriendlyName, $_.OperationalStatus, $_.IsReadOnly }`

const partitionQuery = `Get-Partition | ForEach-Object { '{0}|{1}|{2}' -f $_.DiskNumber, $_.PartitionNumber, $_.DriveLetter }`

func (d *windowsDiskManager) Disks(ctx context.Context) ([]Disk, error) {
	if !d.forceLegacy {
		res := d.runner.Run(ctx, "powershell", "-NoProfile", "-NonInteractive", "-Command", diskQuery)
		if res.Ok() {
			disks := parsePowerShellDisks(res.Output)
			// Partition letters are informational; a failed query
			// leaves them empty rather than failing enumeration.
			if pres := d.runner.Run(ctx, "powershell", "-NoProfile", "-NonInteractive", "-Command", partitionQuery); pres.Ok() {
				attachPartitions(disks, parsePowerShellPartitions(pres.Output))
			}
			return disks, nil
		}
		if !IsCommandNotFound(res.Err) && res.Err != nil {
			return nil, fmt.Errorf("list disks: %w", res.Err)
		}
		d.forceLegacy = true
	}

	res := d.runner.RunInput(ctx, "list disk\n", "diskpart")
	if res.Err != nil {
		return nil, fmt.Errorf("list disks (diskpart): %w", res.Err)
	}
	if res.ExitCode != 0 {
		return nil, fmt.Errorf("list disks (diskpart): %s", res.Detail())
	}
	return parseDiskpartList(res.Output), nil
}

func (d *windowsDiskManager) Online(ctx context.Context, number int) Result {
	if !d.forceLegacy {
		cmd := fmt.Sprintf("Set-Disk -Number %d -IsOffline $false", number)
		res := d.runner.Run(ctx, "powershell", "-NoProfile", "-NonInteractive", "-Command", cmd)
		if !IsCommandNotFound(res.Err) {
			return res
		}
		d.forceLegacy = true
	}
	script := fmt.Sprintf("select disk %d\nonline disk\n", number)
	return d.runner.RunInput(ctx, script, "diskpart")
}

func (d *windowsDiskManager) ClearReadOnly(ctx context.Context, number int) Result {
	if !d.forceLegacy {
		cmd := fmt.Sprintf("Set-Disk -Number %d -IsReadOnly $false", number)
		res := d.runner.Run(ctx, "powershell", "-NoProfile", "-NonInteractive", "-Command", cmd)
		if !IsCommandNotFound(res.Err) {
			return res
		}
		d.forceLegacy = true
	}
	script := fmt.Sprintf("select disk %d\nattributes disk clear readonly\n", number)
	return d.runner.RunInput(ctx, script, "diskpart")
}

func (d *windowsDiskManager) AssignLetter(ctx context.Context, disk, partition int, letter string) Result {
	if !d.forceLegacy {
		cmd := fmt.Sprintf("Set-Partition -DiskNumber %d -PartitionNumber %d -NewDriveLetter %s", disk, partition, letter)
		res := d.runner.Run(ctx, "powershell", "-NoProfile", "-NonInteractive", "-Command", cmd)
		if !IsCommandNotFound(res.Err) {
			return res
		}
		d.forceLegacy = true
	}
	script := fmt.Sprintf("select disk %d\nselect partition %d\nassign letter=%s\n", disk, partition, letter)
	return d.runner.RunInput(ctx, script, "diskpart")
}

func (d *windowsDiskManager) RemoveLetter(ctx context.Context, disk, partition int, letter string) Result {
	if !d.forceLegacy {
		cmd := fmt.Sprintf(`Remove-PartitionAccessPath -DiskNumber %d -PartitionNumber %d -AccessPath "%s:\"`, disk, partition, letter)
		res := d.runner.Run(ctx, "powershell", "-NoProfile", "-NonInteractive", "-Command", cmd)
		if !IsCommandNotFound(res.Err) {
			return res
		}
		d.forceLegacy = true
	}
	script := fmt.Sprintf("select disk %d\nselect partition %d\nremove letter=%s\n", disk, partition, letter)
	return d.runner.RunInput(ctx, script, "diskpart")
}

// parsePowerShellDisks parses the pipe-delimited Get-Disk projection.
func parsePowerShellDisks(output string) []Disk {
	var disks []Disk
	for _, line := range strings.Split(output, "\n") {
		parts := strings.SplitN(strings.TrimSpace(line), "|", 4)
		if len(parts) != 4 {
			continue
		}
		number, err := strconv.Atoi(parts[0])
		if err != nil {
			continue
		}
		disks = append(disks, Disk{
			Number:   number,
			Name:     parts[1],
			Online:   strings.EqualFold(parts[2], "Online"),
			ReadOnly: strings.EqualFold(parts[3], "True"),
		})
	}
	return disks
}

// parsePowerShellPartitions parses the pipe-delimited Get-Partition
// projection into per-disk partition lists.
func parsePowerShellPartitions(output string) map[int][]Partition {
	parts := make(map[int][]Partition)
	for _, line := range strings.Split(output, "\n") {
		fields := strings.SplitN(strings.TrimSpace(line), "|", 3)
		if len(fields) != 3 {
			continue
		}
		disk, err := strconv.Atoi(fields[0])
		if err != nil {
			continue
		}
		number, err := strconv.Atoi(fields[1])
		if err != nil {
			continue
		}
		letter := strings.TrimSpace(fields[2])
		// Get-Partition prints a NUL-ish blank for letterless partitions.
		if letter == "\x00" {
			letter = ""
		}
		parts[disk] = append(parts[disk], Partition{Number: number, Letter: strings.ToUpper(letter)})
	}
	return parts
}

func attachPartitions(disks []Disk, parts map[int][]Partition) {
	for i := range disks {
		disks[i].Partitions = parts[disks[i].Number]
	}
}

// parseDiskpartList parses `list disk` table output:
//
//	Disk ###  Status         Size     Free     Dyn  Gpt
//	--------  -------------  -------  -------  ---  ---
//	Disk 0    Online          127 GB      0 B
//	Disk 1    Offline          50 GB    50 GB
func parseDiskpartList(output string) []Disk {
	var disks []Disk
	for _, line := range strings.Split(output, "\n") {
		fields := strings.Fields(line)
		if len(fields) < 3 || !strings.EqualFold(fields[0], "Disk") {
			continue
		}
		number, err := strconv.Atoi(fields[1])
		if err != nil {
			continue
		}
		disks = append(disks, Disk{
			Number: number,
			Online: strings.EqualFold(fields[2], "Online"),
		})
	}
	return disks
}
