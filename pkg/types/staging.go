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

package types

import "path/filepath"

// StagingRoot describes the tmpfs laid out by pkg/stage as a minimal
// FHS tree; it becomes the new root once Stage 2 pivots into it.
type StagingRoot struct {
	Path string // e.g. /tmp/takeover
}

// Skeleton directories created inside the staging root (spec.md §3).
const (
	StagingBin     = "bin"
	StagingLib     = "lib"
	StagingLib64   = "lib64"
	StagingEtc     = "etc"
	StagingProc    = "proc"
	StagingSys     = "sys"
	StagingDev     = "dev"
	StagingOldRoot = "mnt/old_root"
	StagingData    = "mnt/data"
	StagingImage   = "image"
	StagingLog     = "log"
)

// SkeletonDirs lists every directory StagingRoot must contain before
// binaries are copied in.
func SkeletonDirs() []string {
	return []string{
		StagingBin, StagingLib, StagingLib64, StagingEtc,
		StagingProc, StagingSys, StagingDev,
		StagingOldRoot, StagingData, StagingImage, StagingLog,
	}
}

// Join resolves a skeleton-relative path against the staging root.
func (s StagingRoot) Join(elem ...string) string {
	return filepath.Join(append([]string{s.Path}, elem...)...)
}

// HandoffFile is the well-known path of the serialized MigrateInfo
// inside the staging root (spec.md §6).
func (s StagingRoot) HandoffFile() string {
	return s.Join("takeover-stage2.yaml")
}

// OldRoot is the put_old target for pivot_root: StagingRoot/mnt/old_root.
func (s StagingRoot) OldRoot() string {
	return s.Join(StagingOldRoot)
}
