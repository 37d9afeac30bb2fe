package syscallfacade_test

import (
	"errors"
	"os"
	"testing"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"golang.org/x/sys/unix"

	"github.com/suse-edge/takeover/pkg/syscallfacade"
)

func TestSyscallfacade(t *testing.T) {
	RegisterFailHandler(Fail)
	RunSpecs(t, "syscallfacade Suite")
}

var _ = Describe("Fake", func() {
	var f *syscallfacade.Fake

	BeforeEach(func() {
		f = syscallfacade.NewFake()
	})

	It("defaults Getpid to 1, matching init", func() {
		Expect(f.Getpid()).To(Equal(1))
	})

	It("records mount and unmount calls", func() {
		Expect(f.Mount("", "/", "", syscallfacade.MSPrivate|syscallfacade.MSRec, "")).To(Succeed())
		Expect(f.Unmount("/mnt/old_root", syscallfacade.MNTDetach)).To(Succeed())

		Expect(f.Mounts).To(HaveLen(1))
		Expect(f.Unmounts).To(Equal([]syscallfacade.FakeUnmount{{Target: "/mnt/old_root", Flags: syscallfacade.MNTDetach}}))
	})

	It("records a pivot_root call", func() {
		Expect(f.PivotRoot("/mnt/new_root", "/mnt/new_root/mnt/old_root")).To(Succeed())
		Expect(f.PivotCalled).To(BeTrue())
		Expect(f.NewRoot).To(Equal("/mnt/new_root"))
	})

	It("records an unconditional reboot", func() {
		Expect(f.Reboot(syscallfacade.RBAutoboot)).To(Succeed())
		Expect(f.Rebooted).To(BeTrue())
		Expect(f.RebootCmd).To(Equal(syscallfacade.RBAutoboot))
	})

	It("treats a kill against a DeadPIDs entry as benign ENOENT", func() {
		f.DeadPIDs[1234] = true
		err := f.Kill(1234, unix.SIGKILL)
		Expect(err).To(MatchError(os.ErrNotExist))
		Expect(f.Killed).To(BeEmpty())
	})

	It("records a kill against a live pid", func() {
		Expect(f.Kill(42, unix.SIGKILL)).To(Succeed())
		Expect(f.Killed).To(Equal([]syscallfacade.FakeKill{{PID: 42, Sig: unix.SIGKILL}}))
	})

	It("surfaces a canned Sysinfo error", func() {
		f.SysinfoErr = errors.New("boom")
		_, err := f.Sysinfo()
		Expect(err).To(MatchError("boom"))
	})
})

var _ = Describe("Real", func() {
	It("Getpid returns the actual process id", func() {
		Expect(syscallfacade.Real{}.Getpid()).To(Equal(os.Getpid()))
	})

	It("ReadProcDir lists at least the current process", func() {
		pids, err := syscallfacade.Real{}.ReadProcDir()
		Expect(err).NotTo(HaveOccurred())
		Expect(pids).NotTo(BeEmpty())
	})
})
