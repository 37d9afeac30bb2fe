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

import (
	"fmt"
	"path/filepath"
)

// LogLevel is one of the five levels the CLI accepts for --log-level and
// --s2-log-level.
type LogLevel string

const (
	LogError LogLevel = "error"
	LogWarn  LogLevel = "warn"
	LogInfo  LogLevel = "info"
	LogDebug LogLevel = "debug"
	LogTrace LogLevel = "trace"
)

// NwmgrFile is a single NetworkManager system-connections file to drop
// into the new OS.
type NwmgrFile struct {
	Name     string `yaml:"name" mapstructure:"name"`
	Contents string `yaml:"contents" mapstructure:"contents"`
}

// EFISetup carries the x86 UEFI boot-registration parameters of §3/§4.9
// step 10.
type EFISetup struct {
	Enabled        bool   `yaml:"enabled,omitempty" mapstructure:"enabled"`
	BootloaderPath string `yaml:"bootloader-path,omitempty" mapstructure:"bootloader-path"`
	Label          string `yaml:"label,omitempty" mapstructure:"label"`
}

// MigrateInfo is the canonical migration plan: the single piece of state
// that crosses the Stage-1/Stage-2 pivot, via the filesystem handoff
// file described in spec.md §4.6.
type MigrateInfo struct {
	FlashDev   string `yaml:"flash_dev" mapstructure:"flash_dev"`
	ImagePath  string `yaml:"image_path" mapstructure:"image_path"`
	ConfigBlob []byte `yaml:"config_blob" mapstructure:"config_blob"`
	LogDev     string `yaml:"log_dev,omitempty" mapstructure:"log_dev"`

	NwmgrFiles     []NwmgrFile `yaml:"nwmgr_files,omitempty" mapstructure:"nwmgr_files"`
	BackupArchive  string      `yaml:"backup_archive,omitempty" mapstructure:"backup_archive"`
	Hostname       string      `yaml:"hostname,omitempty" mapstructure:"hostname"`
	EFISetup       EFISetup    `yaml:"efi_setup,omitempty" mapstructure:"efi_setup"`
	Pretend        bool        `yaml:"pretend,omitempty" mapstructure:"pretend"`
	DeviceTypeSlug string      `yaml:"device_type_slug,omitempty" mapstructure:"device_type_slug"`
	ChangeDTTo     string      `yaml:"change_dt_to,omitempty" mapstructure:"change_dt_to"`

	Stage1LogLevel LogLevel `yaml:"stage1_log_level,omitempty" mapstructure:"stage1_log_level"`
	Stage2LogLevel LogLevel `yaml:"stage2_log_level,omitempty" mapstructure:"stage2_log_level"`

	// StagingRoot is the absolute path of the tmpfs that becomes the new
	// root in Stage 2. Always set by Stage 1 before the handoff is
	// written.
	StagingRoot string `yaml:"staging_root" mapstructure:"staging_root"`
}

// Sanitize checks the invariants of spec.md §3: flash_dev must be a
// whole disk, log_dev (if present) must live on a different disk than
// flash_dev, and every path must be non-empty where required. It does
// not touch the filesystem; callers that can reach real block devices
// combine this with pkg/block's disjoint-disk check.
func (m *MigrateInfo) Sanitize() error {
	if m.FlashDev == "" {
		return fmt.Errorf("undefined flash device")
	}
	if !filepath.IsAbs(m.FlashDev) {
		return fmt.Errorf("flash device %q must be an absolute path", m.FlashDev)
	}
	if len(m.ConfigBlob) == 0 {
		return fmt.Errorf("undefined configuration blob")
	}
	if m.StagingRoot == "" {
		return fmt.Errorf("undefined staging root")
	}
	if m.LogDev != "" && !filepath.IsAbs(m.LogDev) {
		return fmt.Errorf("log device %q must be an absolute path", m.LogDev)
	}
	if m.EFISetup.Enabled && m.EFISetup.BootloaderPath == "" {
		return fmt.Errorf("efi_setup enabled without a bootloader path")
	}
	return nil
}
