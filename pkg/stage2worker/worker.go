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

// Package stage2worker implements the twelve-step demolition-and-flash
// sequence of spec.md §4.9. It runs as a forked child of the Stage-2
// init shim so a wedge here cannot wedge PID 1. Before step 6's first
// byte written to flash_dev, failures are logged and the worker
// continues to the next step anyway: spec.md §7's failure asymmetry,
// "after [the point of no return], every error is logged and the
// worker presses on through every subsequent step it can."
package stage2worker

import (
	"context"
	"fmt"

	"github.com/hashicorp/go-multierror"

	"github.com/suse-edge/takeover/pkg/api"
	"github.com/suse-edge/takeover/pkg/block"
	"github.com/suse-edge/takeover/pkg/constants"
	"github.com/suse-edge/takeover/pkg/efi"
	"github.com/suse-edge/takeover/pkg/image"
	"github.com/suse-edge/takeover/pkg/logger"
	"github.com/suse-edge/takeover/pkg/procinv"
	"github.com/suse-edge/takeover/pkg/syscallfacade"
	"github.com/suse-edge/takeover/pkg/types"
)

// Worker executes spec.md §4.9 against a loaded MigrateInfo.
type Worker struct {
	Logger  types.Logger
	Fs      types.FS
	Mounter types.Mounter
	Runner  types.Runner
	Syscall types.SyscallInterface

	Inspector *block.Inspector
	Reader    partitionsReader
	ProcInv   *procinv.Inventory
	API       *api.Client
	// APIBearerToken authenticates the optional PatchDeviceType call of
	// spec.md §6; carried through the environment rather than the
	// handoff file since it is a credential, not migration state.
	APIBearerToken string

	RAMSink *logger.RAMSink

	// JetsonBootBlobPath, when non-empty, is the path inside the
	// extracted image of a device-family boot blob that must additionally
	// be flashed to BootBlobDevice (spec.md §4.9 step 11).
	JetsonBootBlobPath string
	BootBlobDevice     string
}

type partitionsReader interface {
	ReadLines(path string) ([]string, error)
}

// Run executes every step of spec.md §4.9 against info, accumulating
// errors via go-multierror for the log rather than returning early
// once the point of no return (step 6) has passed. It always returns
// whatever errors occurred, purely for the caller's own diagnostics;
// nothing downstream acts on the return value (spec.md §7, §4.8 S5).
func (w *Worker) Run(info *types.MigrateInfo) error {
	var errs *multierror.Error

	w.Logger.Infof("stage 2 worker: starting against flash device %s (pretend=%v)", info.FlashDev, info.Pretend)

	// Step 2: log the process table before anything destructive.
	entries, err := w.ProcInv.Scan(info.StagingRoot + "/mnt/old_root")
	if err != nil {
		errs = multierror.Append(errs, fmt.Errorf("scanning process table: %w", err))
	} else {
		w.ProcInv.LogTable(entries)

		// Step 3: kill everything still rooted in the old filesystem.
		if err := w.ProcInv.KillOnFilesystem(entries, constants.KillWaitTimeout); err != nil {
			errs = multierror.Append(errs, fmt.Errorf("killing processes on old root: %w", err))
		}
	}

	// Step 4: disable swap.
	if err := w.disableSwap(); err != nil {
		errs = multierror.Append(errs, fmt.Errorf("disabling swap: %w", err))
	}

	disks, err := w.Inspector.Discover(w.Reader)
	if err != nil {
		errs = multierror.Append(errs, fmt.Errorf("discovering block devices: %w", err))
	}

	var flashDisk *types.BlockDevice
	for _, d := range disks {
		if d.Device == info.FlashDev {
			flashDisk = d
		}
	}

	// Step 5: unmount, in reverse mount order, every filesystem backed
	// by flash_dev.
	if flashDisk != nil {
		if err := w.unmountReverseOrder(flashDisk); err != nil {
			errs = multierror.Append(errs, fmt.Errorf("unmounting filesystems on flash device: %w", err))
		}
	}

	// Step 6: the point of no return.
	var flashResult *image.FlashResult
	if !info.Pretend {
		flashResult, err = w.flash(info)
		if err != nil {
			errs = multierror.Append(errs, fmt.Errorf("flashing image: %w", err))
		} else if err := image.Verify(info.FlashDev, flashResult); err != nil {
			errs = multierror.Append(errs, fmt.Errorf("verifying flashed image: %w", err))
		}
	} else {
		w.Logger.Infof("stage 2 worker: pretend set, skipping write to %s", info.FlashDev)
	}

	// Step 7: re-read the partition table now that the image landed.
	disks, err = w.Inspector.Discover(w.Reader)
	if err != nil {
		errs = multierror.Append(errs, fmt.Errorf("re-reading partition table: %w", err))
	}
	var newFlashDisk *types.BlockDevice
	for _, d := range disks {
		if d.Device == info.FlashDev {
			newFlashDisk = d
		}
	}

	var bootPart, dataPart *types.Partition
	if newFlashDisk != nil {
		bootPart = findPartition(newFlashDisk, constants.EfiLabel, constants.StateLabel)
		dataPart = findPartition(newFlashDisk, constants.PersistentLabel, constants.OEMLabel)
	}

	// Step 8: mount boot partition, write config blob, network files,
	// hostname; optional device-type PATCH.
	if bootPart != nil {
		if err := w.writeBootArtifacts(info, bootPart); err != nil {
			errs = multierror.Append(errs, fmt.Errorf("writing boot artifacts: %w", err))
		}
	} else {
		errs = multierror.Append(errs, fmt.Errorf("no boot partition found on %s after flash", info.FlashDev))
	}

	// Step 9: mount data partition, drop backup archive.
	if dataPart != nil && (info.BackupArchive != "" || w.RAMSink != nil) {
		if err := w.mountDataPartition(dataPart); err != nil {
			errs = multierror.Append(errs, fmt.Errorf("mounting data partition: %w", err))
			dataPart = nil
		} else if info.BackupArchive != "" {
			if err := w.writeBackup(info); err != nil {
				errs = multierror.Append(errs, fmt.Errorf("writing backup archive: %w", err))
			}
		}
	}

	// Step 10: EFI boot entry registration.
	if info.EFISetup.Enabled {
		if err := efi.RegisterBootEntry("takeover", info.EFISetup.BootloaderPath, nil); err != nil {
			errs = multierror.Append(errs, fmt.Errorf("registering EFI boot entry: %w", err))
		}
	}

	// Step 11: device-family boot blob (e.g. Jetson QSPI/eMMC).
	if w.JetsonBootBlobPath != "" && w.BootBlobDevice != "" && !info.Pretend {
		if err := w.flashBootBlob(); err != nil {
			errs = multierror.Append(errs, fmt.Errorf("flashing boot blob: %w", err))
		}
	}

	// Flush the RAM log sink onto the new data partition, if configured
	// and one exists (spec.md §6 --fallback-log, §9's open logging
	// question).
	if w.RAMSink != nil && dataPart != nil {
		if err := w.RAMSink.Flush(w.Fs, dataPart.MountPoint+"/var/log/takeover-stage2.log"); err != nil {
			w.Logger.Errorf("stage 2 worker: flushing RAM log sink: %v", err)
		}
	}

	// Step 12: sync and reboot unconditionally.
	w.syncAndReboot()

	return errs.ErrorOrNil()
}

func (w *Worker) disableSwap() error {
	_, err := w.Runner.Run("swapoff", "-a")
	return err
}

func (w *Worker) unmountReverseOrder(disk *types.BlockDevice) error {
	mounted := block.MountedFilesystemsOn(disk)
	var errs *multierror.Error
	for i := len(mounted) - 1; i >= 0; i-- {
		p := mounted[i]
		if err := w.Mounter.Unmount(p.MountPoint); err != nil {
			w.Logger.Warnf("unmount %s failed, retrying lazily: %v", p.MountPoint, err)
			if err := w.Syscall.Unmount(p.MountPoint, syscallfacade.MNTDetach); err != nil {
				errs = multierror.Append(errs, fmt.Errorf("lazy-unmounting %s: %w", p.MountPoint, err))
			}
		}
	}
	return errs.ErrorOrNil()
}

func (w *Worker) flash(info *types.MigrateInfo) (*image.FlashResult, error) {
	src, err := image.Open(info.ImagePath)
	if err != nil {
		return nil, err
	}
	return image.Flash(w.Logger, src, info.FlashDev, constants.DefaultVerifyPrefixBytes)
}

func (w *Worker) writeBootArtifacts(info *types.MigrateInfo, bootPart *types.Partition) error {
	mountPoint := "/mnt/boot"
	if err := w.Fs.MkdirAll(mountPoint, 0o755); err != nil {
		return err
	}
	if err := w.Mounter.Mount(bootPart.Device, mountPoint, bootPart.Filesystem, nil); err != nil {
		return err
	}

	if err := w.Fs.WriteFile(mountPoint+"/config.json", info.ConfigBlob, 0o644); err != nil {
		return err
	}

	nwDir := mountPoint + "/etc/NetworkManager/system-connections"
	if err := w.Fs.MkdirAll(nwDir, 0o700); err != nil {
		return err
	}
	for _, f := range info.NwmgrFiles {
		if err := w.Fs.WriteFile(nwDir+"/"+f.Name, []byte(f.Contents), 0o600); err != nil {
			return err
		}
	}

	if info.Hostname != "" {
		if err := w.Fs.WriteFile(mountPoint+"/etc/hostname", []byte(info.Hostname+"\n"), 0o644); err != nil {
			return err
		}
	}

	if info.ChangeDTTo != "" && w.API != nil {
		if err := w.API.PatchDeviceType(context.Background(), info.DeviceTypeSlug, info.ChangeDTTo, w.APIBearerToken); err != nil {
			w.Logger.Errorf("stage 2 worker: patching device type: %v", err)
		}
	}

	return nil
}

func (w *Worker) mountDataPartition(dataPart *types.Partition) error {
	mountPoint := "/mnt/data"
	if err := w.Fs.MkdirAll(mountPoint, 0o755); err != nil {
		return err
	}
	if err := w.Mounter.Mount(dataPart.Device, mountPoint, dataPart.Filesystem, nil); err != nil {
		return err
	}
	dataPart.MountPoint = mountPoint
	return nil
}

func (w *Worker) writeBackup(info *types.MigrateInfo) error {
	data, err := w.Fs.ReadFile(info.BackupArchive)
	if err != nil {
		return err
	}
	return w.Fs.WriteFile("/mnt/data/var/lib/takeover/backup.tar", data, 0o644)
}

func (w *Worker) flashBootBlob() error {
	src, err := image.Open(w.JetsonBootBlobPath)
	if err != nil {
		return err
	}
	_, err = image.Flash(w.Logger, src, w.BootBlobDevice, constants.DefaultVerifyPrefixBytes)
	return err
}

func (w *Worker) syncAndReboot() {
	if _, err := w.Runner.Run("sync"); err != nil {
		w.Logger.Errorf("stage 2 worker: sync failed: %v", err)
	}
	if err := w.Syscall.Reboot(syscallfacade.RBAutoboot); err != nil {
		w.Logger.Errorf("stage 2 worker: reboot failed: %v", err)
	}
}

func findPartition(disk *types.BlockDevice, labels ...string) *types.Partition {
	for _, label := range labels {
		if p := disk.FindPartitionByLabel(label); p != nil {
			return p
		}
	}
	return nil
}
