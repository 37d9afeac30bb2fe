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

// Package stage2init implements the state machine of spec.md §4.8: the
// migration binary re-entered as PID 1 after telinit's re-exec. It owns
// nothing but the transition from "old root, shared namespace" to "new
// root, forked worker, unconditional reboot on exit" — every destructive
// step past S3 lives in pkg/stage2worker, spawned as a child so a wedged
// worker cannot wedge PID 1 itself.
package stage2init

import (
	"fmt"
	"io"
	"os"
	"os/exec"

	"github.com/suse-edge/takeover/pkg/handoff"
	"github.com/suse-edge/takeover/pkg/migerr"
	"github.com/suse-edge/takeover/pkg/syscallfacade"
	"github.com/suse-edge/takeover/pkg/types"
)

// State names the shim's state machine, in the order spec.md §4.8
// defines them. There is no backward transition; a failure at any state
// is logged and, past S2, still drives toward S5's unconditional reboot.
type State int

const (
	SInitEntered State = iota
	SLoggerUp
	SRootPrivate
	SPivoted
	SOldRootDetached
	SWorkerSpawned
)

func (s State) String() string {
	names := [...]string{
		"Init-Entered", "Logger-Up", "Root-Private", "Pivoted",
		"Old-Root-Detached", "Worker-Spawned",
	}
	if int(s) < len(names) {
		return names[s]
	}
	return "Unknown"
}

// Shim drives the Stage-2 init state machine.
type Shim struct {
	Logger  types.Logger
	Fs      types.FS
	Syscall types.SyscallInterface

	// WorkerBinary is the path (inside the new root) of this same
	// binary invoked with --stage2 to run as the forked worker.
	WorkerBinary string

	state State
}

// New builds a Shim with an io-disconnected logger; Run reopens it onto
// stdio or the configured log device as its first act (state S0→S1).
func New(logger types.Logger, fs types.FS, sc types.SyscallInterface, workerBinary string) *Shim {
	return &Shim{Logger: logger, Fs: fs, Syscall: sc, WorkerBinary: workerBinary}
}

// Run executes S0 through S5. It always calls reboot before returning,
// per spec.md §4.8's S5: "on worker exit, the shim calls
// reboot(RB_AUTOBOOT) unconditionally (a wedged worker must not leave
// the machine in limbo)." The returned error, if any, is purely
// informational for the caller's own logs; there is no path that
// propagates it to anything that could act on it.
func (s *Shim) Run(handoffPath string) error {
	s.transition(SInitEntered)
	if err := s.closeInheritedFDs(); err != nil {
		s.Logger.Errorf("stage 2 init: closing inherited fds: %v", err)
	}

	s.transition(SLoggerUp)
	info, err := handoff.Load(s.Fs, handoffPath)
	if err != nil {
		s.Logger.Errorf("stage 2 init: loading handoff file: %v", err)
		s.rebootUnconditionally()
		return err
	}

	if err := s.Syscall.Mount("", "/", "", uintptr(syscallfacade.MSPrivate|syscallfacade.MSRec), ""); err != nil {
		s.Logger.Errorf("stage 2 init: remounting root MS_PRIVATE: %v", err)
		s.rebootUnconditionally()
		return migerr.Wrap(migerr.Execution, err, "remounting root private")
	}

	s.transition(SRootPrivate)
	oldRoot := info.StagingRoot + "/mnt/old_root"
	if err := s.Syscall.PivotRoot(info.StagingRoot, oldRoot); err != nil {
		s.Logger.Errorf("stage 2 init: pivot_root: %v", err)
		s.rebootUnconditionally()
		return migerr.Wrap(migerr.Execution, err, "pivot_root")
	}
	if err := s.Syscall.Chdir("/"); err != nil {
		s.Logger.Errorf("stage 2 init: chdir after pivot: %v", err)
	}

	s.transition(SPivoted)
	if err := s.Syscall.Unmount("/mnt/old_root", syscallfacade.MNTDetach); err != nil {
		s.Logger.Errorf("stage 2 init: lazy-unmounting old root: %v", err)
	}

	s.transition(SOldRootDetached)
	cmd := exec.Command(s.WorkerBinary, "--stage2", "--handoff", handoffPath)
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		s.Logger.Errorf("stage 2 init: opening worker stdout pipe: %v", err)
	}
	cmd.Stderr = cmd.Stdout
	if err := cmd.Start(); err != nil {
		s.Logger.Errorf("stage 2 init: forking worker: %v", err)
		s.rebootUnconditionally()
		return migerr.Wrap(migerr.Execution, err, "forking worker")
	}

	s.transition(SWorkerSpawned)
	if stdout != nil {
		s.relay(stdout)
	}
	if err := cmd.Wait(); err != nil {
		s.Logger.Errorf("stage 2 init: worker exited with error: %v", err)
	}

	s.rebootUnconditionally()
	return nil
}

func (s *Shim) transition(next State) {
	s.Logger.Infof("stage 2 init: %s -> %s", s.state, next)
	s.state = next
}

// relay copies the worker's combined stdout/stderr to the shim's own
// logger verbatim, per spec.md §4.8 "the shim relays worker output
// verbatim."
func (s *Shim) relay(r io.Reader) {
	buf := make([]byte, 4096)
	for {
		n, err := r.Read(buf)
		if n > 0 {
			s.Logger.Infof("%s", string(buf[:n]))
		}
		if err != nil {
			return
		}
	}
}

// closeInheritedFDs closes every fd above stderr that was inherited
// from the old init process, per spec.md §4.8 S0.
func (s *Shim) closeInheritedFDs() error {
	entries, err := os.ReadDir("/proc/self/fd")
	if err != nil {
		return err
	}
	for _, e := range entries {
		var fd int
		if _, err := fmt.Sscanf(e.Name(), "%d", &fd); err != nil {
			continue
		}
		if fd > 2 {
			_ = os.NewFile(uintptr(fd), "").Close()
		}
	}
	return nil
}

func (s *Shim) rebootUnconditionally() {
	s.Logger.Infof("stage 2 init: rebooting")
	if err := s.Syscall.Reboot(syscallfacade.RBAutoboot); err != nil {
		s.Logger.Errorf("stage 2 init: reboot failed: %v", err)
	}
}
