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

import (
	"context"
	"io"
	"os"
	"time"
)

// FS abstracts the filesystem so the pivot-and-flash engine can be
// exercised without a real tmpfs. The production implementation (in
// pkg/vfsutil) is backed by github.com/twpayne/go-vfs/v4, the same
// filesystem abstraction the teacher wires as cfg.Fs; this interface
// exposes exactly the whole-file operations every component calls
// (c.Fs.WriteFile, c.Fs.ReadFile, ...), matching the method shape
// pkg/types/config.go's WriteInstallState/LoadInstallState already use.
type FS interface {
	ReadFile(path string) ([]byte, error)
	WriteFile(path string, data []byte, perm os.FileMode) error
	MkdirAll(path string, perm os.FileMode) error
	RemoveAll(path string) error
	Remove(path string) error
	Exists(path string) (bool, error)
	ReadDir(path string) ([]os.DirEntry, error)
	Rename(oldpath, newpath string) error
}

// Logger is the shared logging surface threaded through every component.
// The production implementation wraps logrus; tests use a no-op or
// buffering fake.
type Logger interface {
	Debugf(format string, args ...interface{})
	Infof(format string, args ...interface{})
	Warnf(format string, args ...interface{})
	Errorf(format string, args ...interface{})
	Debug(args ...interface{})
	Info(args ...interface{})
	Warn(args ...interface{})
	Error(args ...interface{})
	SetLevel(level string) error
	SetOutput(w io.Writer)
}

// Runner abstracts subprocess execution.
type Runner interface {
	Run(command string, args ...string) ([]byte, error)
	RunContext(ctx context.Context, command string, args ...string) ([]byte, error)
}

// Mounter mirrors the subset of k8s.io/mount-utils' Interface that the
// engine needs: mount, unmount and mountpoint probing.
type Mounter interface {
	Mount(source, target, fstype string, options []string) error
	Unmount(target string) error
	IsLikelyNotMountPoint(file string) (bool, error)
	List() ([]MountPoint, error)
}

// MountPoint is one entry of the mount table, as read from
// /proc/self/mountinfo.
type MountPoint struct {
	Device string
	Path   string
	Type   string
	Opts   []string
}

// SyscallInterface is the thin typed façade over the kernel calls the
// pivot engine needs. Every method maps to exactly one syscall family so
// it can be faked in tests without requiring CAP_SYS_ADMIN.
type SyscallInterface interface {
	Mount(source, target, fstype string, flags uintptr, data string) error
	Unmount(target string, flags int) error
	PivotRoot(newRoot, putOld string) error
	Chroot(path string) error
	Chdir(path string) error
	Reboot(cmd int) error
	Sysinfo() (*SysinfoResult, error)
	Kill(pid int, sig os.Signal) error
	Getpid() int
	ReadProcDir() ([]string, error)
}

// SysinfoResult is the decoded, unit-applied result of the sysinfo(2)
// syscall: every memory field is already multiplied by Unit, and the
// embedded kernel strings have been decoded treating C char as signed.
type SysinfoResult struct {
	Uptime       time.Duration
	TotalRAM     uint64
	FreeRAM      uint64
	SharedRAM    uint64
	BufferRAM    uint64
	TotalSwap    uint64
	FreeSwap     uint64
	Procs        uint16
	TotalHighRAM uint64
	FreeHighRAM  uint64
	Unit         uint32
}

// CloudInitRunner, ImageExtractor, HTTPClient are named-interface
// collaborators out of scope per spec.md §1; declared here only so
// Config keeps the teacher's shape for components that still embed it.
type CloudInitRunner interface {
	Run(stage string, cloudInitPaths ...string) error
}

type ImageExtractor interface {
	ExtractImage(imgName, destination, platform string) (string, error)
}

// HTTPClient is the minimal surface Config needs from an HTTP client;
// the concrete implementation in pkg/api wraps *http.Client.
type HTTPClient interface {
	Get(url string) (statusCode int, body io.ReadCloser, err error)
}
