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

package syscallfacade

import (
	"fmt"
	"os"

	"github.com/suse-edge/takeover/pkg/types"
)

// Fake is an in-memory types.SyscallInterface for unit tests that must
// exercise pivot/kill/reboot logic without CAP_SYS_ADMIN.
type Fake struct {
	Pid int

	Mounts      []FakeMount
	Unmounts    []FakeUnmount
	PivotCalled bool
	NewRoot     string
	PutOld      string
	ChrootPath  string
	ChdirPath   string
	RebootCmd   int
	Rebooted    bool
	Killed      []FakeKill

	SysinfoResult *types.SysinfoResult
	SysinfoErr    error

	ProcDirEntries []string
	ProcDirErr     error

	MountErr     error
	UnmountErr   error
	PivotRootErr error
	RebootErr    error
	KillErr      error

	// DeadPIDs simulates processes that die mid-scan: Kill against one
	// of these returns an ENOENT-equivalent, exercised by §5/§8's
	// "ENOENT during /proc iteration is benign" property.
	DeadPIDs map[int]bool
}

type FakeMount struct {
	Source, Target, Fstype, Data string
	Flags                        uintptr
}

type FakeUnmount struct {
	Target string
	Flags  int
}

type FakeKill struct {
	PID int
	Sig os.Signal
}

var _ types.SyscallInterface = (*Fake)(nil)

func NewFake() *Fake {
	return &Fake{
		Pid:           1,
		SysinfoResult: &types.SysinfoResult{Unit: 1},
		DeadPIDs:      map[int]bool{},
	}
}

func (f *Fake) Mount(source, target, fstype string, flags uintptr, data string) error {
	if f.MountErr != nil {
		return f.MountErr
	}
	f.Mounts = append(f.Mounts, FakeMount{source, target, fstype, data, flags})
	return nil
}

func (f *Fake) Unmount(target string, flags int) error {
	if f.UnmountErr != nil {
		return f.UnmountErr
	}
	f.Unmounts = append(f.Unmounts, FakeUnmount{target, flags})
	return nil
}

func (f *Fake) PivotRoot(newRoot, putOld string) error {
	if f.PivotRootErr != nil {
		return f.PivotRootErr
	}
	f.PivotCalled = true
	f.NewRoot = newRoot
	f.PutOld = putOld
	return nil
}

func (f *Fake) Chroot(path string) error { f.ChrootPath = path; return nil }
func (f *Fake) Chdir(path string) error  { f.ChdirPath = path; return nil }

func (f *Fake) Reboot(cmd int) error {
	if f.RebootErr != nil {
		return f.RebootErr
	}
	f.RebootCmd = cmd
	f.Rebooted = true
	return nil
}

func (f *Fake) Sysinfo() (*types.SysinfoResult, error) {
	return f.SysinfoResult, f.SysinfoErr
}

func (f *Fake) Kill(pid int, sig os.Signal) error {
	if f.KillErr != nil {
		return f.KillErr
	}
	if f.DeadPIDs[pid] {
		return os.ErrNotExist
	}
	f.Killed = append(f.Killed, FakeKill{pid, sig})
	return nil
}

func (f *Fake) Getpid() int { return f.Pid }

func (f *Fake) ReadProcDir() ([]string, error) {
	if f.ProcDirErr != nil {
		return nil, f.ProcDirErr
	}
	return f.ProcDirEntries, nil
}

func (f *Fake) String() string {
	return fmt.Sprintf("Fake{mounts=%d unmounts=%d pivot=%v rebooted=%v}", len(f.Mounts), len(f.Unmounts), f.PivotCalled, f.Rebooted)
}
