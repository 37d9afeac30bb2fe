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

// Package procinv builds the process table of spec.md §3/§4.3 by
// iterating /proc/<pid>: status, resolved exe, and open fds. Every read
// under /proc is racy; ENOENT (the process died mid-scan) is the only
// errno that downgrades to a skip, per spec.md §5/§7/§8.
package procinv

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"golang.org/x/sys/unix"

	"github.com/suse-edge/takeover/pkg/migerr"
	"github.com/suse-edge/takeover/pkg/types"
)

// ProcReader abstracts the handful of /proc reads this package needs so
// tests can simulate racing process death without a real /proc.
type ProcReader interface {
	ReadStatus(pid int) (comm, state string, err error)
	ReadExe(pid int) (string, error)
	ReadFdDir(pid int) ([]string, error)
	ReadFdLink(pid int, fd string) (string, error)
}

// Inventory builds the process table and kills processes rooted in a
// given filesystem.
type Inventory struct {
	Logger  types.Logger
	Syscall types.SyscallInterface
	Reader  ProcReader
}

func New(logger types.Logger, sc types.SyscallInterface, r ProcReader) *Inventory {
	return &Inventory{Logger: logger, Syscall: sc, Reader: r}
}

// Scan enumerates every live pid and builds a ProcessEntry for each,
// recording which open fds (and which exe) point under doomedFSPrefix
// (e.g. the old root's original mountpoint, "/", before the pivot).
// Scan never fails because of a single pid disappearing mid-scan: only
// a non-ENOENT errno aborts, spec.md §8's testable property.
func (inv *Inventory) Scan(doomedFSPrefix string) ([]types.ProcessEntry, error) {
	pids, err := inv.Syscall.ReadProcDir()
	if err != nil {
		return nil, migerr.Wrap(migerr.IO, err, "reading /proc")
	}

	var entries []types.ProcessEntry
	for _, s := range pids {
		pid, err := strconv.Atoi(s)
		if err != nil {
			continue
		}

		comm, state, err := inv.Reader.ReadStatus(pid)
		if skip, aborted := classify(err); aborted {
			return nil, migerr.Wrap(migerr.IO, err, fmt.Sprintf("reading status for pid %d", pid))
		} else if skip {
			continue
		}

		exe, err := inv.Reader.ReadExe(pid)
		if _, aborted := classify(err); aborted {
			return nil, migerr.Wrap(migerr.IO, err, fmt.Sprintf("resolving exe for pid %d", pid))
		}

		fds, err := inv.Reader.ReadFdDir(pid)
		if skip, aborted := classify(err); aborted {
			return nil, migerr.Wrap(migerr.IO, err, fmt.Sprintf("reading fd dir for pid %d", pid))
		} else if skip {
			fds = nil
		}

		var openFiles []string
		for _, fd := range fds {
			target, err := inv.Reader.ReadFdLink(pid, fd)
			if _, aborted := classify(err); aborted {
				return nil, migerr.Wrap(migerr.IO, err, fmt.Sprintf("resolving fd %s for pid %d", fd, pid))
			}
			if target != "" {
				openFiles = append(openFiles, target)
			}
		}

		onDoomed := strings.HasPrefix(exe, doomedFSPrefix)
		for _, f := range openFiles {
			if strings.HasPrefix(f, doomedFSPrefix) {
				onDoomed = true
				break
			}
		}

		entries = append(entries, types.ProcessEntry{
			PID:           pid,
			Command:       comm,
			Exe:           exe,
			State:         state,
			OpenFiles:     openFiles,
			ExeOnDoomedFS: onDoomed,
		})
	}
	return entries, nil
}

// classify reports (skip, aborted): skip is true when err is nil or a
// benign ENOENT; aborted is true for any other non-nil error.
func classify(err error) (skip, aborted bool) {
	if err == nil {
		return false, false
	}
	if errors.Is(err, fs.ErrNotExist) || errors.Is(err, os.ErrNotExist) {
		return true, false
	}
	return false, true
}

// LogTable logs the formatted process table, required by spec.md §4.3
// to happen before the kill loop so postmortem debugging is possible
// even if killing fails.
func (inv *Inventory) LogTable(entries []types.ProcessEntry) {
	inv.Logger.Infof("process table (%d entries):", len(entries))
	for _, e := range entries {
		inv.Logger.Infof("  %s", e.String())
	}
}

// KillOnFilesystem sends SIGTERM to every process whose exe or any fd
// resolves onto the doomed filesystem, waits up to wait for them to
// exit, then SIGKILLs survivors, per spec.md §4.3/§4.9 step 3.
func (inv *Inventory) KillOnFilesystem(entries []types.ProcessEntry, wait time.Duration) error {
	var targets []int
	for _, e := range entries {
		if e.ExeOnDoomedFS {
			targets = append(targets, e.PID)
		}
	}

	for _, pid := range targets {
		if err := inv.Syscall.Kill(pid, unix.SIGTERM); err != nil && !errors.Is(err, os.ErrNotExist) {
			inv.Logger.Warnf("SIGTERM to pid %d failed: %v", pid, err)
		}
	}

	deadline := time.Now().Add(wait)
	alive := map[int]bool{}
	for _, pid := range targets {
		alive[pid] = true
	}
	for time.Now().Before(deadline) && anyAlive(alive) {
		for pid := range alive {
			if !processAlive(pid) {
				delete(alive, pid)
			}
		}
		if anyAlive(alive) {
			time.Sleep(50 * time.Millisecond)
		}
	}

	for pid := range alive {
		inv.Logger.Warnf("pid %d survived SIGTERM, sending SIGKILL", pid)
		if err := inv.Syscall.Kill(pid, unix.SIGKILL); err != nil && !errors.Is(err, os.ErrNotExist) {
			inv.Logger.Errorf("SIGKILL to pid %d failed: %v", pid, err)
		}
	}
	return nil
}

func anyAlive(m map[int]bool) bool { return len(m) > 0 }

func processAlive(pid int) bool {
	_, err := os.Stat(filepath.Join("/proc", strconv.Itoa(pid)))
	return err == nil
}

// OSProcReader reads the real /proc filesystem. It never reads
// /proc/<pid>/root, per spec.md §4.3 ("racy and unused").
type OSProcReader struct{}

func (OSProcReader) ReadStatus(pid int) (comm, state string, err error) {
	data, err := os.ReadFile(filepath.Join("/proc", strconv.Itoa(pid), "status"))
	if err != nil {
		return "", "", err
	}
	for _, line := range strings.Split(string(data), "\n") {
		if v, ok := strings.CutPrefix(line, "Name:"); ok {
			comm = strings.TrimSpace(v)
		}
		if v, ok := strings.CutPrefix(line, "State:"); ok {
			fields := strings.Fields(v)
			if len(fields) > 0 {
				state = fields[0]
			}
		}
	}
	return comm, state, nil
}

func (OSProcReader) ReadExe(pid int) (string, error) {
	return os.Readlink(filepath.Join("/proc", strconv.Itoa(pid), "exe"))
}

func (OSProcReader) ReadFdDir(pid int) ([]string, error) {
	entries, err := os.ReadDir(filepath.Join("/proc", strconv.Itoa(pid), "fd"))
	if err != nil {
		return nil, err
	}
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		names = append(names, e.Name())
	}
	return names, nil
}

func (OSProcReader) ReadFdLink(pid int, fd string) (string, error) {
	return os.Readlink(filepath.Join("/proc", strconv.Itoa(pid), "fd", fd))
}
