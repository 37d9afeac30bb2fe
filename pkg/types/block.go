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

package types

// Partition is a single partition of a BlockDevice, as discovered from
// /proc/partitions, /sys/block and filesystem probing. An empty
// Filesystem ("empty") means probing found no recognizable filesystem;
// discovery must not abort on this, only log and skip (spec.md §3, §4.2).
type Partition struct {
	Device     string // e.g. /dev/mmcblk0p1
	Filesystem string // ext4, vfat, squashfs, "empty", ...
	Label      string
	UUID       string
	ParentDisk string // e.g. /dev/mmcblk0
	MountPoint string // "" if not mounted
	SizeBytes  uint64
	ReadOnly   bool
}

// BlockDevice is a whole disk with its discovered partitions.
type BlockDevice struct {
	Device     string // e.g. /dev/mmcblk0
	SizeBytes  uint64
	Partitions []*Partition
}

// FindPartitionByMountPoint returns the partition mounted at mp, or nil.
func (b *BlockDevice) FindPartitionByMountPoint(mp string) *Partition {
	for _, p := range b.Partitions {
		if p.MountPoint == mp {
			return p
		}
	}
	return nil
}

// FindPartitionByLabel returns the first partition with the given
// filesystem label, or nil.
func (b *BlockDevice) FindPartitionByLabel(label string) *Partition {
	for _, p := range b.Partitions {
		if p.Label == label {
			return p
		}
	}
	return nil
}

// FindPartitionByUUID returns the first partition with the given
// filesystem UUID, or nil.
func (b *BlockDevice) FindPartitionByUUID(uuid string) *Partition {
	for _, p := range b.Partitions {
		if p.UUID == uuid {
			return p
		}
	}
	return nil
}
