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

package vfsutil

import (
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/suse-edge/takeover/pkg/types"
)

// MemFS is an in-memory types.FS for unit tests, avoiding any
// dependency on a real tmpfs.
type MemFS struct {
	mu    sync.Mutex
	files map[string][]byte
	dirs  map[string]bool
}

var _ types.FS = (*MemFS)(nil)

func NewMemFS() *MemFS {
	return &MemFS{
		files: map[string][]byte{},
		dirs:  map[string]bool{"/": true},
	}
}

func (m *MemFS) ReadFile(path string) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	data, ok := m.files[clean(path)]
	if !ok {
		return nil, os.ErrNotExist
	}
	return data, nil
}

func (m *MemFS) WriteFile(path string, data []byte, _ os.FileMode) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	p := clean(path)
	m.markParents(filepath.Dir(p))
	cp := make([]byte, len(data))
	copy(cp, data)
	m.files[p] = cp
	return nil
}

func (m *MemFS) MkdirAll(path string, _ os.FileMode) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.markParents(clean(path))
	m.dirs[clean(path)] = true
	return nil
}

func (m *MemFS) markParents(path string) {
	for p := clean(path); p != "/" && p != "."; p = filepath.Dir(p) {
		m.dirs[p] = true
	}
}

func (m *MemFS) RemoveAll(path string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	p := clean(path)
	for k := range m.files {
		if k == p || strings.HasPrefix(k, p+"/") {
			delete(m.files, k)
		}
	}
	for k := range m.dirs {
		if k == p || strings.HasPrefix(k, p+"/") {
			delete(m.dirs, k)
		}
	}
	return nil
}

func (m *MemFS) Remove(path string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	p := clean(path)
	if _, ok := m.files[p]; !ok {
		if _, ok := m.dirs[p]; !ok {
			return os.ErrNotExist
		}
	}
	delete(m.files, p)
	delete(m.dirs, p)
	return nil
}

func (m *MemFS) Exists(path string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p := clean(path)
	_, f := m.files[p]
	_, d := m.dirs[p]
	return f || d, nil
}

func (m *MemFS) ReadDir(path string) ([]os.DirEntry, error) {
	return nil, os.ErrInvalid // not needed by any test that uses MemFS today
}

func (m *MemFS) Rename(oldpath, newpath string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	old := clean(oldpath)
	data, ok := m.files[old]
	if !ok {
		return os.ErrNotExist
	}
	delete(m.files, old)
	m.files[clean(newpath)] = data
	return nil
}

// Files returns a sorted snapshot of every file path currently written,
// for test assertions.
func (m *MemFS) Files() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, 0, len(m.files))
	for k := range m.files {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

func clean(path string) string {
	return filepath.Clean(path)
}
