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

// Package mount adapts k8s.io/mount-utils to types.Mounter, the same
// library the teacher config wires in as cfg.Mounter.
package mount

import (
	mountutils "k8s.io/mount-utils"

	"github.com/suse-edge/takeover/pkg/types"
)

// K8sMounter wraps mountutils.Mounter, translating its mount-table shape
// into types.MountPoint.
type K8sMounter struct {
	inner mountutils.Interface
}

var _ types.Mounter = (*K8sMounter)(nil)

func New() *K8sMounter {
	return &K8sMounter{inner: mountutils.New("")}
}

func (m *K8sMounter) Mount(source, target, fstype string, options []string) error {
	return m.inner.Mount(source, target, fstype, options)
}

func (m *K8sMounter) Unmount(target string) error {
	return m.inner.Unmount(target)
}

func (m *K8sMounter) IsLikelyNotMountPoint(file string) (bool, error) {
	return m.inner.IsLikelyNotMountPoint(file)
}

func (m *K8sMounter) List() ([]types.MountPoint, error) {
	entries, err := m.inner.List()
	if err != nil {
		return nil, err
	}
	out := make([]types.MountPoint, 0, len(entries))
	for _, e := range entries {
		out = append(out, types.MountPoint{
			Device: e.Device,
			Path:   e.Path,
			Type:   e.Type,
			Opts:   e.Opts,
		})
	}
	return out, nil
}

// Fake is an in-memory types.Mounter for unit tests.
type Fake struct {
	Mounted   []types.MountPoint
	MountErr  error
	UnmountErr error
}

var _ types.Mounter = (*Fake)(nil)

func NewFake(mounted ...types.MountPoint) *Fake {
	return &Fake{Mounted: mounted}
}

func (f *Fake) Mount(source, target, fstype string, options []string) error {
	if f.MountErr != nil {
		return f.MountErr
	}
	f.Mounted = append(f.Mounted, types.MountPoint{Device: source, Path: target, Type: fstype, Opts: options})
	return nil
}

func (f *Fake) Unmount(target string) error {
	if f.UnmountErr != nil {
		return f.UnmountErr
	}
	kept := f.Mounted[:0]
	for _, m := range f.Mounted {
		if m.Path != target {
			kept = append(kept, m)
		}
	}
	f.Mounted = kept
	return nil
}

func (f *Fake) IsLikelyNotMountPoint(file string) (bool, error) {
	for _, m := range f.Mounted {
		if m.Path == file {
			return false, nil
		}
	}
	return true, nil
}

func (f *Fake) List() ([]types.MountPoint, error) {
	return f.Mounted, nil
}
