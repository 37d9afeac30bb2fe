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

// Package stage1 orchestrates the preparation phase of spec.md §4.7: an
// ordinary privileged process that validates the environment, stages a
// self-contained working set in tmpfs, writes the handoff file, then
// bind-mounts itself onto the system's init and signals a re-exec. It
// ends the instant telinit returns; everything after that is Stage 2's
// responsibility, running in a fresh address space.
package stage1

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/suse-edge/takeover/pkg/api"
	"github.com/suse-edge/takeover/pkg/backup"
	"github.com/suse-edge/takeover/pkg/block"
	"github.com/suse-edge/takeover/pkg/constants"
	"github.com/suse-edge/takeover/pkg/handoff"
	"github.com/suse-edge/takeover/pkg/migerr"
	"github.com/suse-edge/takeover/pkg/netconfig"
	"github.com/suse-edge/takeover/pkg/stage"
	"github.com/suse-edge/takeover/pkg/syscallfacade"
	"github.com/suse-edge/takeover/pkg/types"
)

// Controller drives the Stage-1 sequence of spec.md §4.7.
type Controller struct {
	Logger  types.Logger
	Fs      types.FS
	Mounter types.Mounter
	Runner  types.Runner
	Syscall types.SyscallInterface

	Inspector *block.Inspector
	Reader    interfaceReader
	Stager    *stage.Stager
	API       *api.Client

	VPNHost string
	VPNPort int

	// InitPath is the system's init binary path that gets bind-mounted
	// over in step 7, conventionally /sbin/init.
	InitPath string
	// TelinitPath is the path to telinit, whose symlink-to-init special
	// case the stager must handle before the bind-mount (spec.md §4.4).
	TelinitPath string
	// SelfPath is this running binary's own executable path, the source
	// of the bind-mount and of CopyBinaryWithClosure's staged copy.
	SelfPath string

	// Confirm prompts for interactive affirmative confirmation (spec.md
	// §4.7 step 5), returning true to proceed. Nil means --no-ack was
	// set and confirmation is skipped.
	Confirm func() bool

	// preservedInitPath is set by stageWorkingSet when TelinitPath is a
	// symlink to init (spec.md §4.4): the staged copy of init itself,
	// which must be invoked directly in place of "telinit" in step 8,
	// since by then telinit resolves through the bind-mounted init to
	// the migration binary, not the real init.
	preservedInitPath string
}

// interfaceReader is the narrow slice of block.partitionsReader this
// package needs without importing block's unexported interface type.
type interfaceReader interface {
	ReadLines(path string) ([]string, error)
}

// Run executes the full Stage-1 sequence. A non-nil error before the
// bind-mount (step 7) means Stage 1 aborted cleanly; the caller should
// run Unwind unless NoCleanup is set. A non-nil error at or after the
// bind-mount is unrecoverable, per spec.md §4.7's failure-asymmetry
// note, and must not trigger Unwind (that would delete what's now "/").
func (c *Controller) Run(ctx context.Context, opts types.StageOptions) error {
	root := types.StagingRoot{Path: constants.DefaultStagingRoot}

	if opts.DownloadOnly {
		c.Logger.Infof("stage 1: --download-only set, skipping device and migration checks")
		_, err := c.acquireImage(ctx, opts, root)
		return err
	}

	c.Logger.Infof("stage 1: discovering block devices")
	disks, err := c.Inspector.Discover(c.Reader)
	if err != nil {
		return migerr.Wrap(migerr.IO, err, "discovering block devices")
	}

	c.Logger.Infof("stage 1: running early checks")
	if err := c.EarlyChecks(ctx, opts, disks); err != nil {
		return err
	}

	c.Logger.Infof("stage 1: acquiring image")
	imagePath, err := c.acquireImage(ctx, opts, root)
	if err != nil {
		return err
	}

	c.Logger.Infof("stage 1: building migration plan")
	info, err := c.buildMigrateInfo(opts, root, imagePath)
	if err != nil {
		return err
	}

	c.Logger.Infof("stage 1: staging working set at %s", root.Path)
	if err := c.stageWorkingSet(ctx, root, opts); err != nil {
		return err
	}

	if c.Confirm != nil {
		c.Logger.Infof("stage 1: waiting for interactive confirmation")
		if !c.Confirm() {
			return migerr.New(migerr.Invalid, "migration not confirmed by operator")
		}
	}

	c.Logger.Infof("stage 1: writing handoff file")
	if err := handoff.Write(c.Fs, root.HandoffFile(), info); err != nil {
		return err
	}

	// Point of no cancellation: every error from here on is
	// unrecoverable per spec.md §4.7.
	c.Logger.Infof("stage 1: bind-mounting migration binary onto %s", c.InitPath)
	bindFlags := uintptr(syscallfacade.MSBind)
	if err := c.Syscall.Mount(c.stagedSelfPath(root), c.InitPath, "", bindFlags, ""); err != nil {
		return migerr.Wrap(migerr.Execution, err, "bind-mounting migration binary onto init")
	}

	telinitCmd := "telinit"
	if c.preservedInitPath != "" {
		// telinit is a symlink to init, and init has just been shadowed
		// by the bind-mount above: invoke the preserved copy of the real
		// init directly so "u" reaches it instead of the migration
		// binary (spec.md §4.4).
		telinitCmd = c.preservedInitPath
	}
	c.Logger.Infof("stage 1: invoking %s u", telinitCmd)
	if _, err := c.Runner.Run(telinitCmd, "u"); err != nil {
		return migerr.Wrap(migerr.Execution, err, fmt.Sprintf("invoking %s u", telinitCmd))
	}

	return nil
}

func (c *Controller) stagedSelfPath(root types.StagingRoot) string {
	return root.Join("bin", filepath.Base(c.SelfPath))
}

func (c *Controller) acquireImage(ctx context.Context, opts types.StageOptions, root types.StagingRoot) (string, error) {
	if opts.ImagePath != "" {
		return opts.ImagePath, nil
	}

	dest := root.Join("image", "target.raw.gz")

	if opts.ImageRef != "" {
		if err := c.API.DownloadOCIImage(opts.ImageRef, dest); err != nil {
			return "", err
		}
		return dest, nil
	}

	if opts.Version == "" {
		return "", migerr.New(migerr.Invalid, "neither an image path nor a version was given")
	}

	deviceType := opts.ChangeDTTo
	if deviceType == "" {
		deviceType = "default"
	}

	if err := c.API.DownloadRawImage(ctx, deviceType, opts.Version, dest); err != nil {
		return "", err
	}
	return dest, nil
}

func (c *Controller) buildMigrateInfo(opts types.StageOptions, root types.StagingRoot, imagePath string) (*types.MigrateInfo, error) {
	blob, err := c.Fs.ReadFile(opts.ConfigBlobPath)
	if err != nil {
		return nil, migerr.Wrap(migerr.NotFound, err, "reading config blob")
	}

	info := &types.MigrateInfo{
		FlashDev:       opts.FlashDevice,
		ImagePath:      imagePath,
		ConfigBlob:     blob,
		LogDev:         opts.LogToDevice,
		Hostname:       currentHostname(opts),
		Pretend:        opts.Pretend,
		ChangeDTTo:     opts.ChangeDTTo,
		Stage1LogLevel: opts.Stage1LogLevel,
		Stage2LogLevel: opts.Stage2LogLevel,
		StagingRoot:    root.Path,
	}
	info.EFISetup = types.EFISetup{Enabled: !opts.Skips.EFISetup}
	if info.EFISetup.Enabled {
		info.EFISetup.BootloaderPath = constants.DefaultEFIBootloaderRelPath
		info.EFISetup.Label = constants.DefaultEFILabel
	}

	nwmgrFiles, err := netconfig.EmitNwmgrFiles(opts.Wifis, opts.NwmgrConfigs)
	if err != nil {
		return nil, err
	}
	info.NwmgrFiles = nwmgrFiles

	if opts.BackupManifest != "" {
		// The archive itself is written later, by stageWorkingSet, once
		// the staging tmpfs and its skeleton actually exist; only the
		// eventual path is known here.
		info.BackupArchive = root.Join("data", "backup.tar")
	}

	if err := info.Sanitize(); err != nil {
		return nil, migerr.Wrap(migerr.Invalid, err, "sanitizing migration plan")
	}
	return info, nil
}

func (c *Controller) stageWorkingSet(ctx context.Context, root types.StagingRoot, opts types.StageOptions) error {
	if err := c.Stager.MountTmpfs(root); err != nil {
		return err
	}
	if err := c.Stager.BuildSkeleton(root); err != nil {
		return err
	}

	if opts.BackupManifest != "" {
		if err := c.packBackup(root, opts); err != nil {
			return err
		}
	}

	preservedAt, err := c.Stager.PreserveInitTarget(root, c.TelinitPath)
	if err != nil {
		return err
	}
	c.preservedInitPath = preservedAt

	if err := c.Stager.CopyBinaryWithClosure(root, c.SelfPath, filepath.Join("bin", filepath.Base(c.SelfPath)), nil); err != nil {
		return err
	}
	for _, helper := range []string{"dd", "tar", "telinit"} {
		if path, err := lookPath(c.Runner, helper); err == nil {
			if err := c.Stager.CopyBinaryWithClosure(root, path, filepath.Join("bin", helper), nil); err != nil {
				return err
			}
		}
	}

	if opts.RemoteHelperHost != "" {
		if err := c.fetchAndStageRemoteHelper(ctx, root, opts); err != nil {
			return err
		}
	}

	return nil
}

// packBackup loads --backup-cfg's manifest and tars every item it names
// into root's data directory, the backup packer collaborator of
// SPEC_FULL.md's DOMAIN STACK table (`pack(manifest, source_fs) →
// tar_path`), so the path buildMigrateInfo already wrote into
// info.BackupArchive actually exists by the time Stage 2 reads it.
func (c *Controller) packBackup(root types.StagingRoot, opts types.StageOptions) error {
	manifest, err := backup.LoadManifest(opts.BackupManifest)
	if err != nil {
		return err
	}
	archivePath := root.Join("data", "backup.tar")
	if _, err := backup.Pack(manifest, constants.SourceFSRoot, archivePath); err != nil {
		return err
	}
	return nil
}

// fetchAndStageRemoteHelper pulls a vendor flashing helper that only
// exists on a lab staging host (spec.md §4.4) over SCP into a scratch
// location, then runs it through the same closure-copying path as every
// other staged binary.
func (c *Controller) fetchAndStageRemoteHelper(ctx context.Context, root types.StagingRoot, opts types.StageOptions) error {
	src := stage.RemoteHelperSource{
		Host:           opts.RemoteHelperHost,
		User:           opts.RemoteHelperUser,
		PrivateKeyPath: opts.RemoteHelperKeyPath,
		RemotePath:     opts.RemoteHelperRemotePath,
	}
	name := opts.RemoteHelperName
	if name == "" {
		name = filepath.Base(opts.RemoteHelperRemotePath)
	}

	scratch := root.Join("image", "remote-"+name)
	if err := stage.FetchRemoteHelper(ctx, src, scratch); err != nil {
		return err
	}
	return c.Stager.CopyBinaryWithClosure(root, scratch, filepath.Join("bin", name), nil)
}

// Unwind tears down whatever Stage 1 has built so far; only safe to
// call before the bind-mount of step 7. A no-op if opts disabled
// cleanup for debugging.
func (c *Controller) Unwind(root types.StagingRoot, opts types.StageOptions) error {
	if opts.Skips.Cleanup {
		c.Logger.Warnf("stage 1: --no-cleanup set, leaving %s in place", root.Path)
		return nil
	}
	return c.Stager.Unwind(root)
}

func currentHostname(opts types.StageOptions) string {
	if opts.Skips.KeepName {
		return ""
	}
	h, err := os.Hostname()
	if err != nil {
		return ""
	}
	return h
}

func lookPath(r types.Runner, name string) (string, error) {
	out, err := r.Run("which", name)
	if err != nil {
		return "", err
	}
	scanner := bufio.NewScanner(bytes.NewReader(out))
	if scanner.Scan() {
		return scanner.Text(), nil
	}
	return "", fmt.Errorf("which %s returned no output", name)
}
