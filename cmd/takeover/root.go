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

// cmd/takeover wires the CLI surface of spec.md §6 to the three
// entry points a single invocation of this binary can take: Stage 1
// (the normal case, a privileged operator or fleet-management agent
// runs takeover with a config blob), the Stage-2 init shim (the kernel
// re-execs this same binary as PID 1 after telinit u, with no flags of
// our choosing), and the Stage-2 worker (the shim forks this binary
// again with --stage2 --handoff <path>).
package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/suse-edge/takeover/pkg/api"
	"github.com/suse-edge/takeover/pkg/block"
	"github.com/suse-edge/takeover/pkg/constants"
	"github.com/suse-edge/takeover/pkg/handoff"
	"github.com/suse-edge/takeover/pkg/logger"
	"github.com/suse-edge/takeover/pkg/mount"
	"github.com/suse-edge/takeover/pkg/procinv"
	"github.com/suse-edge/takeover/pkg/runner"
	"github.com/suse-edge/takeover/pkg/stage"
	"github.com/suse-edge/takeover/pkg/stage1"
	"github.com/suse-edge/takeover/pkg/stage2init"
	"github.com/suse-edge/takeover/pkg/stage2worker"
	"github.com/suse-edge/takeover/pkg/syscallfacade"
	"github.com/suse-edge/takeover/pkg/types"
	"github.com/suse-edge/takeover/pkg/vfsutil"
)

// cliFlags mirrors spec.md §6's selection; every field is bound into
// viper so it can equally come from TAKEOVER_* environment variables,
// matching the rest of the pack's cobra/pflag/viper convention.
type cliFlags struct {
	configBlob string
	imagePath  string
	version    string
	imageRef   string
	downloadOnly bool
	flashDevice  string
	changeDTTo   string
	pretend      bool
	noAck        bool
	isStage2     bool
	handoffPath  string

	logLevel    string
	s2LogLevel  string
	logToDevice string
	logFile     string
	fallbackLog bool

	noOSCheck    bool
	noDTCheck    bool
	noAPICheck   bool
	noVPNCheck   bool
	noEFISetup   bool
	noNwmgrCheck bool
	noWifis      bool
	noKeepName   bool
	noCleanup    bool

	wifis        []string
	nwmgrConfigs []string
	backupCfg    string

	remoteHelperHost       string
	remoteHelperUser       string
	remoteHelperKeyPath    string
	remoteHelperRemotePath string
	remoteHelperName       string

	checkTimeout time.Duration

	apiURL   string
	apiToken string
	vpnHost  string
	vpnPort  int
}

func newRootCmd() *cobra.Command {
	f := &cliFlags{}
	v := viper.New()
	v.SetEnvPrefix("TAKEOVER")
	v.AutomaticEnv()

	cmd := &cobra.Command{
		Use:           "takeover",
		Short:         "In-place brownfield migration: pivot this machine onto a freshly flashed OS",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd.Context(), f)
		},
	}

	fl := cmd.Flags()
	fl.StringVarP(&f.configBlob, "config", "c", "", "configuration blob for the new OS")
	fl.StringVarP(&f.imagePath, "image", "i", "", "path to a raw (optionally gzipped) OS image")
	fl.StringVarP(&f.version, "os-version", "v", "", "version or semver range; the API resolves the concrete image")
	fl.StringVar(&f.imageRef, "image-ref", "", "OCI registry reference to pull the image from, instead of --os-version")
	fl.BoolVarP(&f.downloadOnly, "download-only", "d", false, "download the image and exit, skipping device/migration checks")
	fl.StringVarP(&f.flashDevice, "flash-device", "f", "", "override the flash device (whole disk)")
	fl.StringVar(&f.changeDTTo, "change-dt-to", "", "patch the device's type to this slug in the API")
	fl.BoolVar(&f.pretend, "pretend", false, "stage everything but skip the destructive write to the flash device")
	fl.BoolVar(&f.noAck, "no-ack", false, "skip the interactive confirmation prompt")
	fl.BoolVar(&f.isStage2, "stage2", false, "internal: re-entry marker for the forked Stage-2 worker")
	fl.StringVar(&f.handoffPath, "handoff", "", "internal: path of the handoff file, passed by the Stage-2 init shim")

	fl.StringVar(&f.logLevel, "log-level", string(types.LogInfo), "Stage-1 log level: error|warn|info|debug|trace")
	fl.StringVar(&f.s2LogLevel, "s2-log-level", string(types.LogInfo), "Stage-2 log level: error|warn|info|debug|trace")
	fl.StringVar(&f.logToDevice, "log-to", "", "Stage-2 external log partition device node")
	fl.StringVar(&f.logFile, "log-file", "", "Stage-1 log file path (defaults to stderr)")
	fl.BoolVar(&f.fallbackLog, "fallback-log", false, "buffer Stage-2 logs in RAM and flush to the new data partition after flash")

	fl.BoolVar(&f.noOSCheck, "no-os-check", false, "skip the running-OS recognition check")
	fl.BoolVar(&f.noDTCheck, "no-dt-check", false, "skip the hardware-compatibility check")
	fl.BoolVar(&f.noAPICheck, "no-api-check", false, "skip the API reachability check")
	fl.BoolVar(&f.noVPNCheck, "no-vpn-check", false, "skip the VPN reachability check")
	fl.BoolVar(&f.noEFISetup, "no-efi-setup", false, "skip registering a UEFI boot entry")
	fl.BoolVar(&f.noNwmgrCheck, "no-nwmgr-check", false, "skip the post-migration network-configuration check")
	fl.BoolVar(&f.noWifis, "no-wifis", false, "do not carry wifi credentials onto the new OS")
	fl.BoolVar(&f.noKeepName, "no-keep-name", false, "do not preserve this machine's hostname")
	fl.BoolVar(&f.noCleanup, "no-cleanup", false, "leave the staging tmpfs in place after a Stage-1 failure, for debugging")

	fl.StringArrayVar(&f.wifis, "wifi", nil, "wifi SSID to carry onto the new OS (repeatable)")
	fl.StringArrayVar(&f.nwmgrConfigs, "nwmgr-cfg", nil, "NetworkManager connection file to carry onto the new OS (repeatable)")
	fl.StringVar(&f.backupCfg, "backup-cfg", "", "backup manifest (volume/item/source/target/filter) to pack before flashing")

	fl.StringVar(&f.remoteHelperHost, "remote-helper-host", "", "SSH host:port staging a vendor flashing helper not present locally")
	fl.StringVar(&f.remoteHelperUser, "remote-helper-user", "", "SSH user for --remote-helper-host")
	fl.StringVar(&f.remoteHelperKeyPath, "remote-helper-key", "", "SSH private key path for --remote-helper-host")
	fl.StringVar(&f.remoteHelperRemotePath, "remote-helper-path", "", "remote path of the vendor flashing helper to fetch")
	fl.StringVar(&f.remoteHelperName, "remote-helper-name", "", "local name to stage the fetched helper under (defaults to its remote basename)")

	fl.DurationVar(&f.checkTimeout, "check-timeout", constants.CheckTimeout, "timeout for API/VPN reachability checks")

	fl.StringVar(&f.apiURL, "api-url", "", "base URL of the device-type/version/image API")
	fl.StringVar(&f.apiToken, "api-token", "", "bearer token for API requests")
	fl.StringVar(&f.vpnHost, "vpn-host", "", "VPN endpoint host checked during early checks")
	fl.IntVar(&f.vpnPort, "vpn-port", 0, "VPN endpoint port checked during early checks")

	if err := v.BindPFlags(fl); err != nil {
		panic(err)
	}

	return cmd
}

func run(ctx context.Context, f *cliFlags) error {
	if os.Getpid() == 1 {
		return runStage2Init(f)
	}
	if f.isStage2 {
		return runStage2Worker(f)
	}
	return runStage1(ctx, f)
}

func newLogger(level, path string) (types.Logger, error) {
	w := os.Stderr
	if path != "" {
		file, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
		if err != nil {
			return nil, fmt.Errorf("opening log file %s: %w", path, err)
		}
		lg, err := logger.New(types.LogLevel(level), file)
		return lg, err
	}
	return logger.New(types.LogLevel(level), w)
}

func runStage1(ctx context.Context, f *cliFlags) error {
	log, err := newLogger(f.logLevel, f.logFile)
	if err != nil {
		return err
	}

	fs := vfsutil.NewRealFS()
	mounter := mount.New()
	run := runner.Real{}
	sc := syscallfacade.Real{}

	inspector := block.NewInspector(log, block.GhwProber{})
	stager := stage.New(log, fs, mounter, sc)

	apiClient := api.New(f.apiURL, log)

	self, err := os.Executable()
	if err != nil {
		return fmt.Errorf("resolving own executable path: %w", err)
	}

	ctrl := &stage1.Controller{
		Logger:      log,
		Fs:          fs,
		Mounter:     mounter,
		Runner:      run,
		Syscall:     sc,
		Inspector:   inspector,
		Reader:      block.OSPartitionsReader{},
		Stager:      stager,
		API:         apiClient,
		VPNHost:     f.vpnHost,
		VPNPort:     f.vpnPort,
		InitPath:    "/sbin/init",
		TelinitPath: "/sbin/telinit",
		SelfPath:    self,
	}
	if !f.noAck {
		ctrl.Confirm = confirmOnTerminal
	}

	opts := f.toStageOptions()

	root := types.StagingRoot{Path: constants.DefaultStagingRoot}
	if err := ctrl.Run(ctx, opts); err != nil {
		if unwindErr := ctrl.Unwind(root, opts); unwindErr != nil {
			log.Errorf("stage 1: cleanup after failure also failed: %v", unwindErr)
		}
		return err
	}
	return nil
}

func runStage2Init(f *cliFlags) error {
	log, err := logger.New(types.LogInfo, os.Stderr)
	if err != nil {
		return err
	}
	fs := vfsutil.NewRealFS()
	sc := syscallfacade.Real{}

	self, err := os.Executable()
	if err != nil {
		log.Errorf("stage 2 init: resolving own executable path: %v", err)
		self = "/bin/takeover"
	}

	handoffPath := f.handoffPath
	if handoffPath == "" {
		handoffPath = types.StagingRoot{Path: constants.DefaultStagingRoot}.HandoffFile()
	}

	shim := stage2init.New(log, fs, sc, self)
	return shim.Run(handoffPath)
}

func runStage2Worker(f *cliFlags) error {
	level := f.s2LogLevel
	if level == "" {
		level = string(types.LogInfo)
	}

	var ramSink *logger.RAMSink
	log, err := logger.New(types.LogLevel(level), os.Stderr)
	if err != nil {
		return err
	}
	if f.logToDevice != "" {
		sink, err := logger.OpenDeviceSink(f.logToDevice)
		if err != nil {
			log.Errorf("stage 2 worker: opening log device %s: %v", f.logToDevice, err)
		} else {
			log.SetOutput(sink)
		}
	} else if f.fallbackLog {
		ramSink = logger.NewRAMSink(constants.DefaultLogRAMBufferBytes)
		log.SetOutput(ramSink)
	}

	fs := vfsutil.NewRealFS()

	handoffPath := f.handoffPath
	if handoffPath == "" {
		handoffPath = types.StagingRoot{Path: constants.DefaultStagingRoot}.HandoffFile()
	}
	info, err := handoff.Load(fs, handoffPath)
	if err != nil {
		return fmt.Errorf("reading handoff file %s: %w", handoffPath, err)
	}

	mounter := mount.New()
	run := runner.Real{}
	sc := syscallfacade.Real{}
	inspector := block.NewInspector(log, block.GhwProber{})
	inv := procinv.New(log, sc, procinv.OSProcReader{})
	apiClient := api.New(f.apiURL, log)

	apiToken := f.apiToken
	if apiToken == "" {
		apiToken = os.Getenv("TAKEOVER_API_TOKEN")
	}

	w := &stage2worker.Worker{
		Logger:         log,
		Fs:             fs,
		Mounter:        mounter,
		Runner:         run,
		Syscall:        sc,
		Inspector:      inspector,
		Reader:         block.OSPartitionsReader{},
		ProcInv:        inv,
		API:            apiClient,
		APIBearerToken: apiToken,
		RAMSink:        ramSink,
	}
	return w.Run(info)
}

func (f *cliFlags) toStageOptions() types.StageOptions {
	return types.StageOptions{
		ConfigBlobPath: f.configBlob,
		ImagePath:      f.imagePath,
		Version:        f.version,
		ImageRef:       f.imageRef,
		DownloadOnly:   f.downloadOnly,
		FlashDevice:    f.flashDevice,
		ChangeDTTo:     f.changeDTTo,
		Pretend:        f.pretend,
		NoAck:          f.noAck,
		IsStage2:       f.isStage2,

		Stage1LogLevel: types.LogLevel(f.logLevel),
		Stage2LogLevel: types.LogLevel(f.s2LogLevel),
		LogToDevice:    f.logToDevice,
		LogFile:        f.logFile,
		FallbackLog:    f.fallbackLog,

		Skips: types.Skips{
			OSCheck:    f.noOSCheck,
			DTCheck:    f.noDTCheck,
			APICheck:   f.noAPICheck,
			VPNCheck:   f.noVPNCheck,
			EFISetup:   f.noEFISetup,
			NwmgrCheck: f.noNwmgrCheck,
			Wifis:      f.noWifis,
			KeepName:   f.noKeepName,
			Cleanup:    f.noCleanup,
		},

		Wifis:          f.wifis,
		NwmgrConfigs:   f.nwmgrConfigs,
		BackupManifest: f.backupCfg,

		RemoteHelperHost:       f.remoteHelperHost,
		RemoteHelperUser:       f.remoteHelperUser,
		RemoteHelperKeyPath:    f.remoteHelperKeyPath,
		RemoteHelperRemotePath: f.remoteHelperRemotePath,
		RemoteHelperName:       f.remoteHelperName,

		CheckTimeout: f.checkTimeout,
	}
}

func confirmOnTerminal() bool {
	fmt.Fprint(os.Stderr, "proceed with migration? [y/N] ")
	var answer string
	if _, err := fmt.Scanln(&answer); err != nil {
		return false
	}
	return answer == "y" || answer == "Y" || answer == "yes"
}
