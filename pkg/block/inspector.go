/*
Copyright © 2022 - 2024 SUSE LLC

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

// Package block discovers the forest of disks and partitions described
// in spec.md §3/§4.2: device nodes, filesystem metadata and
// mountpoints, tolerating partitions a blkid-equivalent probe reports
// as empty or erroring rather than aborting discovery.
package block

import (
	"fmt"
	"path/filepath"
	"slices"
	"strconv"
	"strings"

	"github.com/suse-edge/takeover/pkg/constants"
	"github.com/suse-edge/takeover/pkg/types"
)

// Prober is the blkid-equivalent filesystem probe for a single
// partition device node. An empty Filesystem ("" or "empty") is a
// benign, loggable result, not an error; Prober should only return an
// error for an I/O failure reading the device itself.
type Prober interface {
	Probe(device string) (fs, label, uuid string, err error)
}

// Inspector discovers block devices. Logger receives one Warnf line per
// partition the prober could not classify, per spec.md §4.2.
type Inspector struct {
	Logger types.Logger
	Prober Prober

	// procPartitions and sysBlock are overridable for tests; default to
	// the real kernel-exposed paths.
	procPartitions string
	sysBlock       string
}

func NewInspector(logger types.Logger, prober Prober) *Inspector {
	return &Inspector{
		Logger:         logger,
		Prober:         prober,
		procPartitions: "/proc/partitions",
		sysBlock:       "/sys/block",
	}
}

// partitionsReader abstracts the /proc/partitions line source for tests.
type partitionsReader interface {
	ReadLines(path string) ([]string, error)
}

// Discover walks /proc/partitions, groups partitions under their parent
// disk (via /sys/block/<disk>/<partition> presence) and probes each
// partition's filesystem. Probe errors are logged and the partition is
// kept with Filesystem == "empty"; only an unreadable /proc/partitions
// is fatal.
func (i *Inspector) Discover(r partitionsReader) ([]*types.BlockDevice, error) {
	lines, err := r.ReadLines(i.procPartitions)
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", i.procPartitions, err)
	}

	disks := map[string]*types.BlockDevice{}
	order := []string{}

	for _, line := range lines {
		name, sizeKB, ok := parsePartitionsLine(line)
		if !ok {
			continue
		}
		device := "/dev/" + name
		sizeBytes := sizeKB * 1024

		if isWholeDisk(name) {
			if _, exists := disks[name]; !exists {
				disks[name] = &types.BlockDevice{Device: device, SizeBytes: sizeBytes}
				order = append(order, name)
			}
			continue
		}

		parentName := parentDiskName(name)
		parent, ok := disks[parentName]
		if !ok {
			parent = &types.BlockDevice{Device: "/dev/" + parentName}
			disks[parentName] = parent
			order = append(order, parentName)
		}

		fs, label, uuid, perr := i.Prober.Probe(device)
		if perr != nil {
			i.Logger.Warnf("empty or unreadable filesystem on %s: %v", device, perr)
			fs = "empty"
		} else if fs == "" {
			i.Logger.Infof("empty filesystem on %s", device)
			fs = "empty"
		}

		parent.Partitions = append(parent.Partitions, &types.Partition{
			Device:     device,
			Filesystem: fs,
			Label:      label,
			UUID:       uuid,
			ParentDisk: parent.Device,
			SizeBytes:  sizeBytes,
		})
	}

	result := make([]*types.BlockDevice, 0, len(order))
	for _, name := range order {
		result = append(result, disks[name])
	}
	return result, nil
}

// FindDiskContainingPath walks mountPoints (typically the live mount
// table) to find which whole disk backs the filesystem that contains
// path. It picks the mount entry whose Path is the longest prefix of
// path, then resolves that entry's device to its parent disk.
func FindDiskContainingPath(disks []*types.BlockDevice, mountPoints []types.MountPoint, path string) (*types.BlockDevice, error) {
	var best types.MountPoint
	bestLen := -1
	for _, mp := range mountPoints {
		if mp.Path == "" {
			continue
		}
		if strings.HasPrefix(path, mp.Path) && len(mp.Path) > bestLen {
			best = mp
			bestLen = len(mp.Path)
		}
	}
	if bestLen < 0 {
		return nil, fmt.Errorf("no mount point backs path %s", path)
	}
	for _, disk := range disks {
		if disk.Device == best.Device {
			return disk, nil
		}
		for _, p := range disk.Partitions {
			if p.Device == best.Device {
				return disk, nil
			}
		}
	}
	return nil, fmt.Errorf("path %s resolves to unknown device %s", path, best.Device)
}

// ValidateLogDevice checks that partition is a partition (not a whole
// disk) with a filesystem in {vfat, ext3, ext4}, per spec.md §4.2.
func ValidateLogDevice(p *types.Partition) error {
	if p == nil {
		return fmt.Errorf("log device not found")
	}
	if !slices.Contains(constants.AcceptedLogDevFilesystems(), p.Filesystem) {
		return fmt.Errorf("log device %s has unsupported filesystem %q, want one of %v",
			p.Device, p.Filesystem, constants.AcceptedLogDevFilesystems())
	}
	return nil
}

// MountedFilesystemsOn lists every partition of disk that is currently
// mounted, used to find what must be unmounted before flashing
// (spec.md §4.2, §4.9 step 5).
func MountedFilesystemsOn(disk *types.BlockDevice) []*types.Partition {
	var mounted []*types.Partition
	for _, p := range disk.Partitions {
		if p.MountPoint != "" {
			mounted = append(mounted, p)
		}
	}
	return mounted
}

// SameParentDisk reports whether a and b are partitions of (or are
// themselves) the same whole disk, backing the §3/§8 invariant that
// log_dev and flash_dev never share a parent disk.
func SameParentDisk(diskOfA, diskOfB string) bool {
	return diskOfA == diskOfB
}

func isWholeDisk(name string) bool {
	return partitionNumber(name) == ""
}

// parentDiskName strips the trailing partition number, accounting for
// the "pN" separator used by devices whose base name ends in a digit
// (nvme0n1p1, mmcblk0p1) versus plain sdaN/vdaN.
func parentDiskName(name string) string {
	num := partitionNumber(name)
	if num == "" {
		return name
	}
	base := strings.TrimSuffix(name, num)
	return strings.TrimSuffix(base, "p")
}

func partitionNumber(name string) string {
	i := len(name)
	for i > 0 && name[i-1] >= '0' && name[i-1] <= '9' {
		i--
	}
	if i == len(name) {
		return ""
	}
	// mmcblk0, nvme0n1: a trailing digit run belongs to the disk name
	// itself unless preceded by 'p'.
	if i > 0 && name[i-1] == 'p' {
		return name[i:]
	}
	if strings.HasPrefix(name, "mmcblk") || strings.HasPrefix(name, "nvme") {
		return ""
	}
	return name[i:]
}

func parsePartitionsLine(line string) (name string, sizeKB uint64, ok bool) {
	fields := strings.Fields(line)
	if len(fields) != 4 {
		return "", 0, false
	}
	if _, err := strconv.Atoi(fields[0]); err != nil {
		return "", 0, false // header line
	}
	size, err := strconv.ParseUint(fields[2], 10, 64)
	if err != nil {
		return "", 0, false
	}
	return fields[3], size, true
}

// sysBlockPath is kept for callers that want to confirm a name is a
// whole disk via /sys/block/<name> existence rather than the naming
// heuristic above.
func (i *Inspector) sysBlockPath(name string) string {
	return filepath.Join(i.sysBlock, name)
}
