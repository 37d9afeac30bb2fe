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
	"time"

	"golang.org/x/sys/unix"

	"github.com/suse-edge/takeover/pkg/types"
)

// readSysinfo wraps unix.Sysinfo and applies mem_unit to every memory
// field, per spec.md §4.1/§8: "Memory reported by sysinfo must be
// multiplied by mem_unit before use" and this must hold "regardless of
// 32/64-bit field width". golang.org/x/sys/unix already normalizes the
// raw kernel struct (whose Loads/Totalram/... fields are `unsigned
// long`, i.e. 32 bits wide on a 32-bit kernel and 64 bits wide on a
// 64-bit one) into fixed-width Go fields per GOARCH, so the only work
// left here is the multiplication every caller must not forget to do.
func readSysinfo() (*types.SysinfoResult, error) {
	var si unix.Sysinfo_t
	if err := unix.Sysinfo(&si); err != nil {
		return nil, err
	}

	unit := uint64(si.Unit)
	if unit == 0 {
		// Kernels before 2.3.48 report in bytes directly (mem_unit
		// absent means 1).
		unit = 1
	}

	return &types.SysinfoResult{
		Uptime:       time.Duration(si.Uptime) * time.Second,
		TotalRAM:     uint64(si.Totalram) * unit,
		FreeRAM:      uint64(si.Freeram) * unit,
		SharedRAM:    uint64(si.Sharedram) * unit,
		BufferRAM:    uint64(si.Bufferram) * unit,
		TotalSwap:    uint64(si.Totalswap) * unit,
		FreeSwap:     uint64(si.Freeswap) * unit,
		Procs:        si.Procs,
		TotalHighRAM: uint64(si.Totalhigh) * unit,
		FreeHighRAM:  uint64(si.Freehigh) * unit,
		Unit:         si.Unit,
	}, nil
}

// decodeSignedChars converts a kernel char array to a Go string
// treating each byte as a signed int8 before comparing against the NUL
// terminator, matching glibc's default `char` signedness on x86/x86-64
// (spec.md §4.1 "treat C char as signed on both x86 and x86-64").
// Kernel string fields (e.g. utsname.Nodename) are declared `[]int8` by
// golang.org/x/sys/unix on those architectures already; this helper
// exists for callers that received a `[]byte` view of the same memory,
// e.g. after a manual unsafe cast for an unsupported architecture.
func decodeSignedChars(b []byte) string {
	out := make([]byte, 0, len(b))
	for _, c := range b {
		if int8(c) == 0 {
			break
		}
		out = append(out, c)
	}
	return string(out)
}
