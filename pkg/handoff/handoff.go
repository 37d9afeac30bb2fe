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

// Package handoff reads and writes the MigrateInfo file that is the only
// state to survive the Stage-1 → Stage-2 pivot (spec.md §4.6): Stage 1's
// in-memory state is gone the instant init re-execs, so everything
// Stage 2 needs is serialized to this one YAML file on the tmpfs before
// the bind-mount happens. The write/load pair mirrors the teacher's
// WriteInstallState/LoadInstallState convention.
package handoff

import (
	"fmt"

	"gopkg.in/yaml.v3"

	"github.com/suse-edge/takeover/pkg/migerr"
	"github.com/suse-edge/takeover/pkg/types"
)

const header = "# Autogenerated file, do not edit\n" +
	"# This file records the migration plan Stage 1 handed to Stage 2.\n\n"

// Write serializes info to path on fs, prefixed with an autogenerated
// file header, after checking Sanitize.
func Write(fs types.FS, path string, info *types.MigrateInfo) error {
	if err := info.Sanitize(); err != nil {
		return migerr.Wrap(migerr.Invalid, err, "sanitizing migrate info before write")
	}

	body, err := yaml.Marshal(info)
	if err != nil {
		return migerr.Wrap(migerr.InvalidState, err, "marshaling migrate info")
	}

	if err := fs.WriteFile(path, append([]byte(header), body...), 0o600); err != nil {
		return migerr.Wrap(migerr.IO, err, fmt.Sprintf("writing handoff file %s", path))
	}
	return nil
}

// Load reads and validates the handoff file written by Write. Stage 2
// must treat a missing or malformed handoff file as a fatal,
// non-recoverable condition: by the time init re-execs, there is no
// Stage-1 state left to fall back on.
func Load(fs types.FS, path string) (*types.MigrateInfo, error) {
	raw, err := fs.ReadFile(path)
	if err != nil {
		return nil, migerr.Wrap(migerr.NotFound, err, fmt.Sprintf("reading handoff file %s", path))
	}

	var info types.MigrateInfo
	if err := yaml.Unmarshal(raw, &info); err != nil {
		return nil, migerr.Wrap(migerr.Invalid, err, "unmarshaling handoff file")
	}

	if err := info.Sanitize(); err != nil {
		return nil, migerr.Wrap(migerr.Invalid, err, "sanitizing loaded migrate info")
	}

	return &info, nil
}
