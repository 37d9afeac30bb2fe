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

// Package efi registers a UEFI boot entry for the new OS's boot loader
// and places it first in BootOrder, per spec.md §4.9 step 10 ("if
// efi_setup and platform is x86 UEFI: copy the new boot loader into the
// ESP and register a new UEFI boot entry pointing at it, placing it
// first in BootOrder"). Out of scope per spec.md §1 as a named
// collaborator, wired here against github.com/canonical/go-efilib the
// way the example pack's UEFI-aware bootloader does.
package efi

import (
	"bytes"
	"fmt"

	efilib "github.com/canonical/go-efilib"
	"github.com/canonical/go-efilib/linux"

	"github.com/suse-edge/takeover/pkg/migerr"
)

// RegisterBootEntry builds a LoadOption pointing at espRelPath (the new
// boot loader's path relative to the ESP root, e.g.
// "EFI/takeover/grubx64.efi"), writes it to the first unused Boot####
// variable (or reuses an existing one with the same device path), and
// places that entry first in BootOrder.
func RegisterBootEntry(description, espRelPath string, optionalData []byte) error {
	devicePath, err := linux.FilePathToDevicePath(espRelPath, linux.ShortFormPathHD)
	if err != nil {
		return migerr.Wrap(migerr.IO, err, "resolving ESP device path")
	}

	option := efilib.LoadOption{
		Attributes:   efilib.LoadOptionActive,
		Description:  description,
		FilePath:     devicePath,
		OptionalData: optionalData,
	}

	bootNum, err := setBootOptionVariable(option)
	if err != nil {
		return migerr.Wrap(migerr.IO, err, "setting Boot#### variable")
	}

	if err := setBootOrderFirst(bootNum); err != nil {
		return migerr.Wrap(migerr.IO, err, "updating BootOrder")
	}
	return nil
}

// setBootOptionVariable writes option to the first Boot#### variable
// whose existing device path matches, or the first free slot.
func setBootOptionVariable(option efilib.LoadOption) (uint16, error) {
	descs, err := efilib.ListVariables()
	if err != nil {
		return 0, err
	}

	used := map[uint16]bool{}
	var matched uint16
	foundMatch := false

	for _, d := range descs {
		if d.GUID != efilib.GlobalVariable {
			continue
		}
		var n uint16
		if _, err := fmt.Sscanf(d.Name, "Boot%04X", &n); err != nil {
			continue
		}
		used[n] = true

		data, _, err := efilib.ReadVariable(d.Name, d.GUID)
		if err != nil {
			continue
		}
		existing, err := efilib.ReadLoadOption(bytes.NewReader(data))
		if err != nil {
			continue
		}
		if devicePathEqual(existing.FilePath, option.FilePath) {
			matched = n
			foundMatch = true
		}
	}

	if foundMatch {
		return matched, nil
	}

	for n := 0; n <= 0xFFFF; n++ {
		if !used[uint16(n)] {
			name := fmt.Sprintf("Boot%04X", n)
			data, err := option.Bytes()
			if err != nil {
				return 0, err
			}
			attrs := efilib.AttributeNonVolatile | efilib.AttributeBootserviceAccess | efilib.AttributeRuntimeAccess
			if err := efilib.WriteVariable(name, efilib.GlobalVariable, attrs, data); err != nil {
				return 0, err
			}
			return uint16(n), nil
		}
	}
	return 0, fmt.Errorf("no free Boot#### variable slots")
}

// setBootOrderFirst rewrites BootOrder so bootNum is first, preserving
// the relative order of every other entry.
func setBootOrderFirst(bootNum uint16) error {
	data, attrs, err := efilib.ReadVariable("BootOrder", efilib.GlobalVariable)
	if err != nil && err != efilib.ErrVarNotExist {
		return err
	}

	var order []uint16
	for i := 0; i+1 < len(data); i += 2 {
		order = append(order, uint16(data[i])|uint16(data[i+1])<<8)
	}

	filtered := order[:0]
	for _, n := range order {
		if n != bootNum {
			filtered = append(filtered, n)
		}
	}
	newOrder := append([]uint16{bootNum}, filtered...)

	if uint16SliceEqual(order, newOrder) {
		return nil
	}

	out := make([]byte, len(newOrder)*2)
	for i, n := range newOrder {
		out[i*2] = byte(n & 0xFF)
		out[i*2+1] = byte(n >> 8)
	}

	if attrs == 0 {
		attrs = efilib.AttributeNonVolatile | efilib.AttributeBootserviceAccess | efilib.AttributeRuntimeAccess
	}
	return efilib.WriteVariable("BootOrder", efilib.GlobalVariable, attrs, out)
}

func uint16SliceEqual(a, b []uint16) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func devicePathEqual(a, b efilib.DevicePath) bool {
	return a.String() == b.String()
}
