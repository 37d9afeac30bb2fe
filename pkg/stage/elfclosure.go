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

package stage

import (
	"debug/elf"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// defaultLibDirs mirrors a glibc dynamic linker's default search path;
// used when a binary has no DT_RUNPATH/DT_RPATH.
var defaultLibDirs = []string{"/lib", "/lib64", "/usr/lib", "/usr/lib64"}

// ElfClosure walks a binary's dynamic section to compute its full
// transitive shared-library dependency closure, per spec.md §4.4: "The
// library closure is computed by traversing the ELF dynamic linker's
// dependency tree of each binary (not by shelling out to ldd, which may
// be absent on the source OS)."
//
// It never shells out; every lookup goes through debug/elf, the
// standard library's ELF reader (no example repo in the retrieval pack
// ships a from-scratch ldd replacement, so this one concern is built on
// stdlib rather than a pack dependency — recorded in DESIGN.md).
func ElfClosure(binPath string, extraSearchDirs []string) ([]string, error) {
	seen := map[string]bool{}
	var result []string

	var walk func(path string) error
	walk = func(path string) error {
		abs, err := filepath.Abs(path)
		if err != nil {
			return err
		}
		if seen[abs] {
			return nil
		}
		seen[abs] = true

		f, err := elf.Open(abs)
		if err != nil {
			return fmt.Errorf("opening %s as ELF: %w", abs, err)
		}
		defer f.Close()

		interp, _ := elfInterp(f)
		if interp != "" && interp != abs {
			if err := walk(interp); err != nil {
				return err
			}
		}

		needed, err := f.DynString(elf.DT_NEEDED)
		if err != nil {
			// A statically linked binary has no dynamic section at
			// all; that's not an error, just an empty closure.
			if err == elf.ErrNoSymbols || strings.Contains(err.Error(), "section .dynamic") {
				return nil
			}
			return fmt.Errorf("reading DT_NEEDED of %s: %w", abs, err)
		}

		runpath, _ := f.DynString(elf.DT_RUNPATH)
		rpath, _ := f.DynString(elf.DT_RPATH)
		searchDirs := append([]string{}, extraSearchDirs...)
		for _, rp := range append(runpath, rpath...) {
			searchDirs = append(searchDirs, strings.Split(rp, ":")...)
		}
		searchDirs = append(searchDirs, defaultLibDirs...)

		for _, lib := range needed {
			libPath, err := resolveLib(lib, searchDirs)
			if err != nil {
				return fmt.Errorf("resolving dependency %s of %s: %w", lib, abs, err)
			}
			result = append(result, libPath)
			if err := walk(libPath); err != nil {
				return err
			}
		}
		return nil
	}

	if err := walk(binPath); err != nil {
		return nil, err
	}
	return result, nil
}

func elfInterp(f *elf.File) (string, error) {
	for _, prog := range f.Progs {
		if prog.Type == elf.PT_INTERP {
			data := make([]byte, prog.Filesz)
			if _, err := prog.ReadAt(data, 0); err != nil {
				return "", err
			}
			return strings.TrimRight(string(data), "\x00"), nil
		}
	}
	return "", nil
}

func resolveLib(name string, searchDirs []string) (string, error) {
	if filepath.IsAbs(name) {
		if _, err := os.Stat(name); err == nil {
			return name, nil
		}
		return "", fmt.Errorf("%s not found", name)
	}
	for _, dir := range searchDirs {
		candidate := filepath.Join(dir, name)
		if _, err := os.Stat(candidate); err == nil {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("%s not found in search path %v", name, searchDirs)
}
