/*
Copyright © 2022 SUSE LLC

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

package constants

import (
	"time"
)

// New-OS partition labels (spec.md §4.9 step 4's findPartition lookups):
// the flashed image lays out its boot and data partitions under these
// labels, carried over from the teacher's cOS-toolkit partition scheme
// since the vendor images this engine flashes use the same labeling
// convention.
const (
	EfiLabel        = "COS_GRUB"
	StateLabel      = "COS_STATE"
	PersistentLabel = "COS_PERSISTENT"
	OEMLabel        = "COS_OEM"
)

// Staging and handoff layout (spec.md §3, §4.4, §4.6).
const (
	DefaultStagingRoot = "/tmp/takeover"
	HandoffFileName    = "takeover-stage2.yaml"

	// Accepted filesystems for the Stage-2 external log partition
	// (spec.md §4.2 "validate that device D is a partition with
	// filesystem type ∈ {vfat, ext3, ext4}").
	LogDevFsVfat = "vfat"
	LogDevFsExt3 = "ext3"
	LogDevFsExt4 = "ext4"

	// Default image-verification prefix size (spec.md §4.5).
	DefaultVerifyPrefixBytes = 4 * 1024 * 1024

	// Default bounded waits (spec.md §5).
	KillWaitTimeout    = 10 * time.Second
	UnmountRetryWindow = 5 * time.Second
	CheckTimeout       = 30 * time.Second

	// Flashing block size for the image handler's large-block writes.
	FlashBlockSize = 4 * 1024 * 1024

	// Stage-2 log sink defaults.
	DefaultLogRAMBufferBytes = 2 * 1024 * 1024

	// Default UEFI boot entry registered by spec.md §4.9 step 10, unless
	// overridden by the new OS's own config blob.
	DefaultEFIBootloaderRelPath = "EFI/takeover/grubx64.efi"
	DefaultEFILabel             = "takeover"

	// SourceFSRoot is the root of the filesystem Stage 1 packs backup
	// items from: the running source OS, before the pivot (spec.md §4.4,
	// §4.9 step 9).
	SourceFSRoot = "/"
)

// AcceptedLogDevFilesystems lists the filesystems §4.2 accepts for the
// log device.
func AcceptedLogDevFilesystems() []string {
	return []string{LogDevFsVfat, LogDevFsExt3, LogDevFsExt4}
}
