package stage1_test

import (
	"io"
	"os"
	"path/filepath"
	"testing"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/suse-edge/takeover/pkg/stage1"
	"github.com/suse-edge/takeover/pkg/types"
	"github.com/suse-edge/takeover/pkg/vfsutil"
)

func TestStage1(t *testing.T) {
	RegisterFailHandler(Fail)
	RunSpecs(t, "stage1 Suite")
}

type noopLogger struct{}

func (noopLogger) Debugf(string, ...interface{}) {}
func (noopLogger) Infof(string, ...interface{})  {}
func (noopLogger) Warnf(string, ...interface{})  {}
func (noopLogger) Errorf(string, ...interface{}) {}
func (noopLogger) Debug(...interface{})          {}
func (noopLogger) Info(...interface{})           {}
func (noopLogger) Warn(...interface{})           {}
func (noopLogger) Error(...interface{})          {}
func (noopLogger) SetLevel(string) error         { return nil }
func (noopLogger) SetOutput(io.Writer)           {}

func diskWith(device string, partitions ...*types.Partition) *types.BlockDevice {
	return &types.BlockDevice{Device: device, Partitions: partitions}
}

var _ = Describe("EarlyChecks", func() {
	var (
		fs   *vfsutil.MemFS
		ctrl *stage1.Controller
	)

	BeforeEach(func() {
		fs = vfsutil.NewMemFS()
		ctrl = &stage1.Controller{Logger: noopLogger{}, Fs: fs}
	})

	baseOpts := func() types.StageOptions {
		return types.StageOptions{
			ConfigBlobPath: "/config.json",
			FlashDevice:    "/dev/sda",
			Skips: types.Skips{
				APICheck:   true,
				VPNCheck:   true,
				DTCheck:    true,
				NwmgrCheck: true,
			},
		}
	}

	It("passes when every independent check succeeds", func() {
		Expect(fs.WriteFile("/config.json", []byte(`{"a":1}`), 0o644)).To(Succeed())
		Expect(fs.WriteFile("/etc/os-release", []byte("NAME=foo"), 0o644)).To(Succeed())

		disks := []*types.BlockDevice{diskWith("/dev/sda")}
		Expect(ctrl.EarlyChecks(nil, baseOpts(), disks)).To(Succeed())
	})

	It("aggregates every independent failure into one error", func() {
		opts := baseOpts()
		// No config blob written, no os-release written, and no disk
		// matches the flash device: three independent failures.
		disks := []*types.BlockDevice{diskWith("/dev/sdb")}

		err := ctrl.EarlyChecks(nil, opts, disks)
		Expect(err).To(HaveOccurred())
		Expect(err.Error()).To(ContainSubstring("config blob"))
		Expect(err.Error()).To(ContainSubstring("flash device"))
		Expect(err.Error()).To(ContainSubstring("os-release"))
	})

	It("rejects a log device sharing the flash device's parent disk", func() {
		Expect(fs.WriteFile("/config.json", []byte(`{}`), 0o644)).To(Succeed())
		Expect(fs.WriteFile("/etc/os-release", []byte("NAME=foo"), 0o644)).To(Succeed())

		opts := baseOpts()
		opts.LogToDevice = "/dev/sda2"
		disks := []*types.BlockDevice{
			diskWith("/dev/sda",
				&types.Partition{Device: "/dev/sda2", Filesystem: "ext4", ParentDisk: "/dev/sda"},
			),
		}

		err := ctrl.EarlyChecks(nil, opts, disks)
		Expect(err).To(HaveOccurred())
		Expect(err.Error()).To(ContainSubstring("shares parent disk"))
	})

	It("accepts a log device on a disk distinct from the flash device", func() {
		Expect(fs.WriteFile("/config.json", []byte(`{}`), 0o644)).To(Succeed())
		Expect(fs.WriteFile("/etc/os-release", []byte("NAME=foo"), 0o644)).To(Succeed())

		opts := baseOpts()
		opts.LogToDevice = "/dev/sdb1"
		disks := []*types.BlockDevice{
			diskWith("/dev/sda"),
			diskWith("/dev/sdb",
				&types.Partition{Device: "/dev/sdb1", Filesystem: "vfat", ParentDisk: "/dev/sdb"},
			),
		}

		Expect(ctrl.EarlyChecks(nil, opts, disks)).To(Succeed())
	})

	It("rejects a log device with an unsupported filesystem", func() {
		Expect(fs.WriteFile("/config.json", []byte(`{}`), 0o644)).To(Succeed())
		Expect(fs.WriteFile("/etc/os-release", []byte("NAME=foo"), 0o644)).To(Succeed())

		opts := baseOpts()
		opts.LogToDevice = "/dev/sdb1"
		disks := []*types.BlockDevice{
			diskWith("/dev/sda"),
			diskWith("/dev/sdb",
				&types.Partition{Device: "/dev/sdb1", Filesystem: "btrfs", ParentDisk: "/dev/sdb"},
			),
		}

		err := ctrl.EarlyChecks(nil, opts, disks)
		Expect(err).To(HaveOccurred())
		Expect(err.Error()).To(ContainSubstring("unsupported filesystem"))
	})

	It("requires at least one network configuration unless skipped", func() {
		Expect(fs.WriteFile("/config.json", []byte(`{}`), 0o644)).To(Succeed())
		Expect(fs.WriteFile("/etc/os-release", []byte("NAME=foo"), 0o644)).To(Succeed())

		opts := baseOpts()
		opts.Skips.NwmgrCheck = false
		disks := []*types.BlockDevice{diskWith("/dev/sda")}

		err := ctrl.EarlyChecks(nil, opts, disks)
		Expect(err).To(HaveOccurred())
		Expect(err.Error()).To(ContainSubstring("no network configuration"))
	})

	It("passes the network check once a wifi or nwmgr config is given", func() {
		Expect(fs.WriteFile("/config.json", []byte(`{}`), 0o644)).To(Succeed())
		Expect(fs.WriteFile("/etc/os-release", []byte("NAME=foo"), 0o644)).To(Succeed())

		opts := baseOpts()
		opts.Skips.NwmgrCheck = false
		opts.Wifis = []string{"home-network"}
		disks := []*types.BlockDevice{diskWith("/dev/sda")}

		Expect(ctrl.EarlyChecks(nil, opts, disks)).To(Succeed())
	})
})

var _ = Describe("checkConfigBlob via EarlyChecks", func() {
	It("rejects a config blob that does not parse as JSON", func() {
		fs := vfsutil.NewMemFS()
		Expect(fs.WriteFile("/config.json", []byte("not json"), 0o644)).To(Succeed())
		Expect(fs.WriteFile("/etc/os-release", []byte("NAME=foo"), 0o644)).To(Succeed())

		ctrl := &stage1.Controller{Logger: noopLogger{}, Fs: fs}
		opts := types.StageOptions{
			ConfigBlobPath: "/config.json",
			FlashDevice:    "/dev/sda",
			Skips: types.Skips{APICheck: true, VPNCheck: true, DTCheck: true, NwmgrCheck: true},
		}
		disks := []*types.BlockDevice{diskWith("/dev/sda")}

		err := ctrl.EarlyChecks(nil, opts, disks)
		Expect(err).To(HaveOccurred())
		Expect(err.Error()).To(ContainSubstring("does not parse as JSON"))
	})
})

var _ = Describe("a passthrough nwmgr config", func() {
	It("is read from the real filesystem, not the abstracted one", func() {
		dir := GinkgoT().TempDir()
		cfgPath := filepath.Join(dir, "eth0.nmconnection")
		Expect(os.WriteFile(cfgPath, []byte("[connection]\nid=eth0\n"), 0o644)).To(Succeed())

		fs := vfsutil.NewMemFS()
		Expect(fs.WriteFile("/config.json", []byte(`{}`), 0o644)).To(Succeed())
		Expect(fs.WriteFile("/etc/os-release", []byte("NAME=foo"), 0o644)).To(Succeed())

		ctrl := &stage1.Controller{Logger: noopLogger{}, Fs: fs}
		opts := types.StageOptions{
			ConfigBlobPath: "/config.json",
			FlashDevice:    "/dev/sda",
			NwmgrConfigs:   []string{cfgPath},
			Skips:          types.Skips{APICheck: true, VPNCheck: true, DTCheck: true},
		}
		disks := []*types.BlockDevice{diskWith("/dev/sda")}

		Expect(ctrl.EarlyChecks(nil, opts, disks)).To(Succeed())
	})
})
