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

package block

import (
	"fmt"
	"strings"

	"github.com/jaypipes/ghw"
)

// GhwProber implements Prober against github.com/jaypipes/ghw's block
// inventory, which already carries the per-partition filesystem type,
// label and UUID a blkid invocation would otherwise have to parse.
type GhwProber struct{}

var _ Prober = GhwProber{}

func (GhwProber) Probe(device string) (fsType, label, uuid string, err error) {
	info, err := ghw.Block()
	if err != nil {
		return "", "", "", fmt.Errorf("probing block devices via ghw: %w", err)
	}

	want := strings.TrimPrefix(device, "/dev/")
	for _, disk := range info.Disks {
		for _, p := range disk.Partitions {
			if p.Name != want {
				continue
			}
			t := p.Type
			if t == "" || t == "unknown" {
				t = "empty"
			}
			return t, p.Label, p.UUID, nil
		}
	}
	return "empty", "", "", nil
}
