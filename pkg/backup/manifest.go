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

// Package backup implements the backup packer collaborator of spec.md
// §6 (`pack(manifest, source_fs) → tar_path`): a YAML manifest of
// volume/item/source/target/filter entries is read and packed into a
// single tar archive that Stage 2 drops on the new data partition
// (spec.md §4.9 step 9).
package backup

import (
	"archive/tar"
	"io"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"github.com/suse-edge/takeover/pkg/migerr"
)

// Item is one entry of the backup manifest: a single file or directory
// to carry across the migration, with an optional glob filter.
type Item struct {
	Volume string `yaml:"volume"`
	Source string `yaml:"source"`
	Target string `yaml:"target"`
	Filter string `yaml:"filter,omitempty"`
}

// Manifest is the parsed --backup-cfg YAML of spec.md §6.
type Manifest struct {
	Items []Item `yaml:"items"`
}

// LoadManifest parses a backup manifest file.
func LoadManifest(path string) (*Manifest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, migerr.Wrap(migerr.NotFound, err, "reading backup manifest")
	}
	var m Manifest
	if err := yaml.Unmarshal(data, &m); err != nil {
		return nil, migerr.Wrap(migerr.Invalid, err, "parsing backup manifest")
	}
	return &m, nil
}

// Pack reads every manifest item under sourceFS, honoring each item's
// glob filter, and writes them into a single tar archive at destPath.
// Returns the tar path, matching the collaborator signature
// `pack(manifest, source_fs) → tar_path`.
func Pack(m *Manifest, sourceFS, destPath string) (string, error) {
	out, err := os.Create(destPath)
	if err != nil {
		return "", migerr.Wrap(migerr.IO, err, "creating backup tar")
	}
	defer out.Close()

	tw := tar.NewWriter(out)
	defer tw.Close()

	for _, item := range m.Items {
		root := filepath.Join(sourceFS, item.Source)
		if err := addItem(tw, root, item); err != nil {
			return "", err
		}
	}
	return destPath, nil
}

func addItem(tw *tar.Writer, root string, item Item) error {
	return filepath.Walk(root, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			if os.IsNotExist(err) {
				return nil
			}
			return migerr.Wrap(migerr.IO, err, "walking backup source "+path)
		}
		if info.IsDir() {
			return nil
		}
		if item.Filter != "" {
			matched, merr := filepath.Match(item.Filter, info.Name())
			if merr != nil {
				return migerr.Wrap(migerr.Invalid, merr, "evaluating backup filter")
			}
			if !matched {
				return nil
			}
		}

		rel, err := filepath.Rel(root, path)
		if err != nil {
			return migerr.Wrap(migerr.IO, err, "computing relative backup path")
		}

		hdr, err := tar.FileInfoHeader(info, "")
		if err != nil {
			return migerr.Wrap(migerr.IO, err, "building tar header")
		}
		hdr.Name = filepath.Join(item.Volume, item.Target, rel)

		if err := tw.WriteHeader(hdr); err != nil {
			return migerr.Wrap(migerr.IO, err, "writing tar header")
		}

		f, err := os.Open(path)
		if err != nil {
			return migerr.Wrap(migerr.IO, err, "opening backup source file")
		}
		defer f.Close()

		if _, err := io.Copy(tw, f); err != nil {
			return migerr.Wrap(migerr.IO, err, "writing tar body")
		}
		return nil
	})
}
