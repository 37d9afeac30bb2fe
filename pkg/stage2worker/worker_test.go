package stage2worker_test

import (
	"io"
	"testing"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/suse-edge/takeover/pkg/block"
	"github.com/suse-edge/takeover/pkg/constants"
	"github.com/suse-edge/takeover/pkg/mount"
	"github.com/suse-edge/takeover/pkg/procinv"
	"github.com/suse-edge/takeover/pkg/runner"
	"github.com/suse-edge/takeover/pkg/stage2worker"
	"github.com/suse-edge/takeover/pkg/syscallfacade"
	"github.com/suse-edge/takeover/pkg/types"
	"github.com/suse-edge/takeover/pkg/vfsutil"
)

func TestStage2worker(t *testing.T) {
	RegisterFailHandler(Fail)
	RunSpecs(t, "stage2worker Suite")
}

type discardLogger struct{}

func (discardLogger) Debugf(string, ...interface{}) {}
func (discardLogger) Infof(string, ...interface{})  {}
func (discardLogger) Warnf(string, ...interface{})  {}
func (discardLogger) Errorf(string, ...interface{}) {}
func (discardLogger) Debug(...interface{})          {}
func (discardLogger) Info(...interface{})           {}
func (discardLogger) Warn(...interface{})           {}
func (discardLogger) Error(...interface{})          {}
func (discardLogger) SetLevel(string) error         { return nil }
func (discardLogger) SetOutput(io.Writer)           {}

const partitionsFixture = `major minor  #blocks  name
   8        0  104857600 sda
   8        1     512000 sda1
   8        2  104343552 sda2
`

func splitLines(s string) []string {
	var lines []string
	start := 0
	for i := 0; i < len(s); i++ {
		if s[i] == '\n' {
			lines = append(lines, s[start:i])
			start = i + 1
		}
	}
	return lines
}

type fakeProber struct{}

func (fakeProber) Probe(device string) (string, string, string, error) {
	switch device {
	case "/dev/sda1":
		return "ext4", constants.StateLabel, "uuid-boot", nil
	case "/dev/sda2":
		return "ext4", constants.PersistentLabel, "uuid-data", nil
	}
	return "empty", "", "", nil
}

type noopProcReader struct{}

func (noopProcReader) ReadStatus(pid int) (string, string, error)   { return "", "", nil }
func (noopProcReader) ReadExe(pid int) (string, error)              { return "", nil }
func (noopProcReader) ReadFdDir(pid int) ([]string, error)          { return nil, nil }
func (noopProcReader) ReadFdLink(pid int, fd string) (string, error) { return "", nil }

func newWorker(fs *vfsutil.MemFS, mounter *mount.Fake, sc *syscallfacade.Fake, r *runner.Fake) *stage2worker.Worker {
	reader := block.FakePartitionsReader{Lines: map[string][]string{
		"/proc/partitions": splitLines(partitionsFixture),
	}}
	inspector := block.NewInspector(discardLogger{}, fakeProber{})
	inv := procinv.New(discardLogger{}, sc, noopProcReader{})

	return &stage2worker.Worker{
		Logger:    discardLogger{},
		Fs:        fs,
		Mounter:   mounter,
		Runner:    r,
		Syscall:   sc,
		Inspector: inspector,
		Reader:    reader,
		ProcInv:   inv,
	}
}

func validInfo() *types.MigrateInfo {
	return &types.MigrateInfo{
		FlashDev:    "/dev/sda",
		ImagePath:   "/image/target.raw.gz",
		ConfigBlob:  []byte(`{"hello":"world"}`),
		StagingRoot: "/tmp/takeover",
		Hostname:    "edge-01",
		Pretend:     true,
	}
}

var _ = Describe("Worker.Run", func() {
	var (
		fs      *vfsutil.MemFS
		mounter *mount.Fake
		sc      *syscallfacade.Fake
		r       *runner.Fake
		w       *stage2worker.Worker
	)

	BeforeEach(func() {
		fs = vfsutil.NewMemFS()
		mounter = mount.NewFake()
		sc = syscallfacade.NewFake()
		r = runner.NewFake()
		w = newWorker(fs, mounter, sc, r)
	})

	It("completes every step without error in pretend mode, writing boot artifacts and rebooting", func() {
		info := validInfo()
		err := w.Run(info)
		Expect(err).NotTo(HaveOccurred())

		config, rerr := fs.ReadFile("/mnt/boot/config.json")
		Expect(rerr).NotTo(HaveOccurred())
		Expect(string(config)).To(Equal(`{"hello":"world"}`))

		hostname, rerr := fs.ReadFile("/mnt/boot/etc/hostname")
		Expect(rerr).NotTo(HaveOccurred())
		Expect(string(hostname)).To(Equal("edge-01\n"))

		Expect(sc.Rebooted).To(BeTrue())
		Expect(r.Calls).To(ContainElement([]string{"swapoff", "-a"}))
		Expect(r.Calls).To(ContainElement([]string{"sync"}))
	})

	It("writes the backup archive onto the data partition when configured", func() {
		info := validInfo()
		info.BackupArchive = "/image/backup.tar"
		Expect(fs.WriteFile(info.BackupArchive, []byte("tar bytes"), 0o644)).To(Succeed())

		err := w.Run(info)
		Expect(err).NotTo(HaveOccurred())

		data, rerr := fs.ReadFile("/mnt/data/var/lib/takeover/backup.tar")
		Expect(rerr).NotTo(HaveOccurred())
		Expect(string(data)).To(Equal("tar bytes"))
	})

	It("writes every nwmgr file under the boot partition's NetworkManager directory", func() {
		info := validInfo()
		info.NwmgrFiles = []types.NwmgrFile{{Name: "wifi-0.nmconnection", Contents: "stub"}}

		Expect(w.Run(info)).NotTo(HaveOccurred())

		data, rerr := fs.ReadFile("/mnt/boot/etc/NetworkManager/system-connections/wifi-0.nmconnection")
		Expect(rerr).NotTo(HaveOccurred())
		Expect(string(data)).To(Equal("stub"))
	})

	It("accumulates an error but still reboots when no boot partition is found", func() {
		info := validInfo()
		info.FlashDev = "/dev/does-not-exist"

		err := w.Run(info)
		Expect(err).To(HaveOccurred())
		Expect(sc.Rebooted).To(BeTrue())
	})

	It("still reboots even when the runner fails every command", func() {
		r.Errors["swapoff"] = assertErr{"boom"}
		r.Errors["sync"] = assertErr{"boom"}

		err := w.Run(validInfo())
		Expect(err).To(HaveOccurred())
		Expect(sc.Rebooted).To(BeTrue())
	})
})

type assertErr struct{ msg string }

func (e assertErr) Error() string { return e.msg }
