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

// Package syscallfacade is the thin typed wrapper over the kernel
// interfaces the pivot engine needs: mount, pivot_root, reboot,
// sysinfo and /proc iteration (spec.md §4.1). Every method maps to one
// syscall so Real can be swapped for Fake in tests that must not touch
// the host's mount namespace.
package syscallfacade

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"golang.org/x/sys/unix"

	"github.com/suse-edge/takeover/pkg/types"
)

// Real is the production types.SyscallInterface, backed directly by
// golang.org/x/sys/unix, the same package the rest of the retrieved
// pack reaches for when it needs raw Linux syscalls instead of the
// higher-level os package (e.g. ccheshirecat-volant's pid1 bootstrap).
type Real struct{}

var _ types.SyscallInterface = Real{}

func (Real) Mount(source, target, fstype string, flags uintptr, data string) error {
	return unix.Mount(source, target, fstype, flags, data)
}

func (Real) Unmount(target string, flags int) error {
	return unix.Unmount(target, flags)
}

func (Real) PivotRoot(newRoot, putOld string) error {
	return unix.PivotRoot(newRoot, putOld)
}

func (Real) Chroot(path string) error { return unix.Chroot(path) }
func (Real) Chdir(path string) error  { return unix.Chdir(path) }

func (Real) Reboot(cmd int) error {
	return unix.Reboot(cmd)
}

func (Real) Sysinfo() (*types.SysinfoResult, error) {
	return readSysinfo()
}

func (Real) Kill(pid int, sig os.Signal) error {
	s, ok := sig.(unix.Signal)
	if !ok {
		return fmt.Errorf("unsupported signal type %T", sig)
	}
	return unix.Kill(pid, s)
}

func (Real) Getpid() int { return os.Getpid() }

// ReadProcDir returns every numeric entry of /proc, i.e. the pids of
// every process currently alive. Non-numeric entries (self, cmdline,
// ...) are skipped.
func (Real) ReadProcDir() ([]string, error) {
	entries, err := os.ReadDir("/proc")
	if err != nil {
		return nil, err
	}
	pids := make([]string, 0, len(entries))
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		if _, err := parsePID(e.Name()); err == nil {
			pids = append(pids, e.Name())
		}
	}
	sort.Strings(pids)
	return pids, nil
}

func parsePID(name string) (int, error) {
	var pid int
	_, err := fmt.Sscanf(name, "%d", &pid)
	if err != nil {
		return 0, err
	}
	if filepath.Base(name) != name {
		return 0, fmt.Errorf("not a pid: %s", name)
	}
	return pid, nil
}

// Reboot command constants (spec.md §4.8/§4.9 RB_AUTOBOOT).
const (
	RBAutoboot = unix.LINUX_REBOOT_CMD_RESTART
	RBPoweroff = unix.LINUX_REBOOT_CMD_POWER_OFF
)

// Mount flag constants used throughout stage2init/stage2worker.
const (
	MSBind      = unix.MS_BIND
	MSRec       = unix.MS_REC
	MSPrivate   = unix.MS_PRIVATE
	MSRemount   = unix.MS_REMOUNT
	MNTDetach   = unix.MNT_DETACH
	MNTForce    = unix.MNT_FORCE
)
