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

import "time"

// Config is the dependency bag threaded through every component of the
// pivot-and-flash engine. It mostly carries the interfaces used around
// the many methods in this codebase, the same way elemental's Config
// does for the install/reset/upgrade actions it orchestrates.
type Config struct {
	Logger  Logger
	Fs      FS
	Mounter Mounter
	Runner  Runner
	Syscall SyscallInterface

	// NoCleanup disables the Stage-1 unwind-on-failure behavior
	// (spec.md §4.7), left on for debugging aborted runs.
	NoCleanup bool

	// CheckTimeout bounds every reachability check (API, VPN) run
	// during Stage-1 early checks (spec.md §6 --check-timeout).
	CheckTimeout time.Duration
}

// Skips bundles the --no-* flags of spec.md §6 that let an operator
// bypass individual Stage-1 early checks.
type Skips struct {
	OSCheck    bool
	DTCheck    bool
	APICheck   bool
	VPNCheck   bool
	EFISetup   bool
	NwmgrCheck bool
	Wifis      bool
	KeepName   bool
	Cleanup    bool // --no-cleanup
}

// StageOptions bundles the CLI surface of spec.md §6 that feeds
// Stage-1's controller.
type StageOptions struct {
	ConfigBlobPath string
	ImagePath      string
	Version        string
	ImageRef       string // alternate OCI registry reference for the image, instead of Version
	DownloadOnly   bool
	FlashDevice    string
	ChangeDTTo     string
	Pretend        bool
	NoAck          bool
	IsStage2       bool

	Stage1LogLevel LogLevel
	Stage2LogLevel LogLevel
	LogToDevice    string
	LogFile        string
	FallbackLog    bool

	Skips Skips

	Wifis          []string
	NwmgrConfigs   []string
	BackupManifest string

	// RemoteHelper names a vendor flashing helper staged on a lab host,
	// fetched over SCP instead of being looked up on the local
	// filesystem. Empty RemoteHelperHost means no remote helper is used.
	RemoteHelperHost       string
	RemoteHelperUser       string
	RemoteHelperKeyPath    string
	RemoteHelperRemotePath string
	RemoteHelperName       string

	CheckTimeout time.Duration
}
