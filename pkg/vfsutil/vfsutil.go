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

// Package vfsutil provides the real, OS-backed types.FS implementation,
// built on github.com/twpayne/go-vfs/v4 the way the teacher's Config.Fs
// is, plus a MemFS fake for unit tests.
package vfsutil

import (
	"os"

	vfs "github.com/twpayne/go-vfs/v4"

	"github.com/suse-edge/takeover/pkg/types"
)

// RealFS is the production types.FS, delegating directly to vfs.OSFS.
type RealFS struct {
	inner vfs.FS
}

var _ types.FS = RealFS{}

func NewRealFS() RealFS {
	return RealFS{inner: vfs.OSFS}
}

func (r RealFS) ReadFile(path string) ([]byte, error) { return r.inner.ReadFile(path) }

func (r RealFS) WriteFile(path string, data []byte, perm os.FileMode) error {
	return r.inner.WriteFile(path, data, perm)
}

func (r RealFS) MkdirAll(path string, perm os.FileMode) error {
	return vfs.MkdirAll(r.inner, path, perm)
}

func (r RealFS) RemoveAll(path string) error { return r.inner.RemoveAll(path) }
func (r RealFS) Remove(path string) error    { return r.inner.Remove(path) }

func (r RealFS) Exists(path string) (bool, error) {
	_, err := r.inner.Stat(path)
	if err == nil {
		return true, nil
	}
	if os.IsNotExist(err) {
		return false, nil
	}
	return false, err
}

func (r RealFS) ReadDir(path string) ([]os.DirEntry, error) { return r.inner.ReadDir(path) }
func (r RealFS) Rename(oldpath, newpath string) error       { return r.inner.Rename(oldpath, newpath) }
