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

// Package stage assembles the working-set tmpfs of spec.md §4.4: the
// skeleton FHS layout, the migration binary and its helpers (dd, tar,
// telinit, vendor flashing tools) with their full shared-library
// closure, and the telinit-is-a-symlink-to-init special case.
package stage

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/suse-edge/takeover/pkg/migerr"
	"github.com/suse-edge/takeover/pkg/types"
)

// SafetyMarginRatio is the fraction of available RAM the stager refuses
// to use, to avoid a Stage-2 OOM past the point of no return.
const SafetyMarginRatio = 0.15

// Stager builds the staging tmpfs.
type Stager struct {
	Logger  types.Logger
	Fs      types.FS
	Mounter types.Mounter
	Syscall types.SyscallInterface
}

func New(logger types.Logger, fs types.FS, mounter types.Mounter, sc types.SyscallInterface) *Stager {
	return &Stager{Logger: logger, Fs: fs, Mounter: mounter, Syscall: sc}
}

// MountTmpfs mounts a tmpfs at root.Path.
func (s *Stager) MountTmpfs(root types.StagingRoot) error {
	if err := s.Fs.MkdirAll(root.Path, 0o755); err != nil {
		return migerr.Wrap(migerr.IO, err, "creating staging root directory")
	}
	if err := s.Mounter.Mount("tmpfs", root.Path, "tmpfs", []string{"rw", "mode=0755"}); err != nil {
		return migerr.Wrap(migerr.IO, err, "mounting tmpfs at staging root")
	}
	return nil
}

// BuildSkeleton creates the minimal FHS layout of spec.md §3.
func (s *Stager) BuildSkeleton(root types.StagingRoot) error {
	for _, dir := range types.SkeletonDirs() {
		if err := s.Fs.MkdirAll(root.Join(dir), 0o755); err != nil {
			return migerr.Wrap(migerr.IO, err, fmt.Sprintf("creating skeleton dir %s", dir))
		}
	}
	return nil
}

// CheckCapacity compares the predicted staging size (image + backup +
// binaries) against available RAM minus SafetyMarginRatio, per spec.md
// §4.4: "refuse to proceed if predicted staging size ... exceeds
// available RAM with a configured safety margin."
func (s *Stager) CheckCapacity(predictedBytes uint64) error {
	info, err := s.Syscall.Sysinfo()
	if err != nil {
		return migerr.Wrap(migerr.IO, err, "reading sysinfo for capacity check")
	}
	available := info.FreeRAM + info.BufferRAM
	budget := uint64(float64(available) * (1 - SafetyMarginRatio))
	if predictedBytes > budget {
		return migerr.New(migerr.Invalid,
			"predicted staging size %d bytes exceeds safety budget %d bytes (available %d bytes, margin %.0f%%)",
			predictedBytes, budget, available, SafetyMarginRatio*100)
	}
	return nil
}

// CopyBinaryWithClosure copies srcPath and its full transitive shared
// library closure into the staging root, preserving each library's
// absolute path (rebased under root.Path) so the dynamic linker
// resolves it identically once this tree becomes "/" after the pivot.
func (s *Stager) CopyBinaryWithClosure(root types.StagingRoot, srcPath string, destRelPath string, extraLibDirs []string) error {
	if err := s.copyFile(srcPath, root.Join(destRelPath), 0o755); err != nil {
		return err
	}

	closure, err := ElfClosure(srcPath, extraLibDirs)
	if err != nil {
		return migerr.Wrap(migerr.IO, err, fmt.Sprintf("computing library closure of %s", srcPath))
	}
	for _, lib := range closure {
		if err := s.copyFile(lib, root.Join(lib), 0o755); err != nil {
			return err
		}
	}
	return nil
}

// PreserveInitTarget implements spec.md §4.4's special case: if telinit
// is a symlink to init, the target of init must be copied to a safe
// name inside staging *before* the bind-mount of §4.7 step 7 shadows the
// real init binary (after the bind-mount, telinit would otherwise
// resolve to the migration binary itself).
func (s *Stager) PreserveInitTarget(root types.StagingRoot, telinitPath string) (preservedAt string, err error) {
	info, err := os.Lstat(telinitPath)
	if err != nil {
		return "", migerr.Wrap(migerr.NotFound, err, "stat telinit")
	}
	if info.Mode()&os.ModeSymlink == 0 {
		// telinit is not a symlink; nothing to preserve.
		return "", nil
	}

	target, err := os.Readlink(telinitPath)
	if err != nil {
		return "", migerr.Wrap(migerr.IO, err, "reading telinit symlink target")
	}
	if !filepath.IsAbs(target) {
		target = filepath.Join(filepath.Dir(telinitPath), target)
	}
	if filepath.Base(target) != "init" {
		// Symlink to something other than init; nothing special to do.
		return "", nil
	}

	dest := root.Join(types.StagingBin, "init.preserved")
	if err := s.CopyBinaryWithClosure(root, target, filepath.Join(types.StagingBin, "init.preserved"), nil); err != nil {
		return "", err
	}
	return dest, nil
}

func (s *Stager) copyFile(src, dest string, mode os.FileMode) error {
	data, err := os.ReadFile(src)
	if err != nil {
		return migerr.Wrap(migerr.NotFound, err, fmt.Sprintf("reading %s", src))
	}
	if err := s.Fs.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
		return migerr.Wrap(migerr.IO, err, fmt.Sprintf("creating parent dir of %s", dest))
	}
	if err := s.Fs.WriteFile(dest, data, mode); err != nil {
		return migerr.Wrap(migerr.IO, err, fmt.Sprintf("writing %s", dest))
	}
	return nil
}

// Unwind tears down the staging tmpfs; called on Stage-1 failure before
// the bind-mount, unless --no-cleanup is set (spec.md §4.7).
func (s *Stager) Unwind(root types.StagingRoot) error {
	if err := s.Mounter.Unmount(root.Path); err != nil {
		return migerr.Wrap(migerr.IO, err, "unmounting staging tmpfs during unwind")
	}
	return nil
}
