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

// Package netconfig implements the network config translator
// collaborator of spec.md §6 (`emit_nwmgr_files(sources) → list<(filename,
// contents)>`): synthesizing NetworkManager system-connections files
// from --wifi SSIDs and --nwmgr-cfg passthrough files.
package netconfig

import (
	"fmt"
	"os"

	"github.com/suse-edge/takeover/pkg/migerr"
	"github.com/suse-edge/takeover/pkg/types"
)

// EmitNwmgrFiles builds the list of (filename, contents) pairs Stage 2
// writes into the new OS's NetworkManager system-connections directory
// (spec.md §4.9 step 8). wifiSSIDs become open-ended connection stubs
// (no passphrase is ever carried in the handoff file); nwmgrConfigPaths
// are read verbatim and passed through.
func EmitNwmgrFiles(wifiSSIDs []string, nwmgrConfigPaths []string) ([]types.NwmgrFile, error) {
	var files []types.NwmgrFile

	for i, ssid := range wifiSSIDs {
		files = append(files, types.NwmgrFile{
			Name:     fmt.Sprintf("wifi-%d.nmconnection", i),
			Contents: wifiStub(ssid),
		})
	}

	for _, path := range nwmgrConfigPaths {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, migerr.Wrap(migerr.NotFound, err, "reading nwmgr config "+path)
		}
		files = append(files, types.NwmgrFile{
			Name:     baseName(path),
			Contents: string(data),
		})
	}

	return files, nil
}

func wifiStub(ssid string) string {
	return fmt.Sprintf(
		"[connection]\nid=%s\ntype=wifi\n\n[wifi]\nssid=%s\nmode=infrastructure\n\n[ipv4]\nmethod=auto\n\n[ipv6]\nmethod=auto\n",
		ssid, ssid,
	)
}

func baseName(path string) string {
	for i := len(path) - 1; i >= 0; i-- {
		if path[i] == '/' {
			return path[i+1:]
		}
	}
	return path
}

// AtLeastOneConfigured reports whether the new OS will have at least
// one network configuration, the Stage-1 early check of spec.md §4.7
// step 1 ("at least one network configuration will exist on the new
// OS unless skipped").
func AtLeastOneConfigured(files []types.NwmgrFile) bool {
	return len(files) > 0
}
