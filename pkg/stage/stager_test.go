package stage_test

import (
	"io"
	"os"
	"path/filepath"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/suse-edge/takeover/pkg/mount"
	"github.com/suse-edge/takeover/pkg/stage"
	"github.com/suse-edge/takeover/pkg/syscallfacade"
	"github.com/suse-edge/takeover/pkg/types"
	"github.com/suse-edge/takeover/pkg/vfsutil"
)

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

var _ = Describe("Stager", func() {
	var (
		fs      *vfsutil.MemFS
		mounter *mount.Fake
		sc      *syscallfacade.Fake
		stager  *stage.Stager
		root    types.StagingRoot
	)

	BeforeEach(func() {
		fs = vfsutil.NewMemFS()
		mounter = mount.NewFake()
		sc = syscallfacade.NewFake()
		stager = stage.New(noopLogger{}, fs, mounter, sc)
		root = types.StagingRoot{Path: "/tmp/takeover"}
	})

	It("mounts a tmpfs at the staging root", func() {
		Expect(stager.MountTmpfs(root)).To(Succeed())
		list, err := mounter.List()
		Expect(err).NotTo(HaveOccurred())
		Expect(list).To(HaveLen(1))
		Expect(list[0].Path).To(Equal(root.Path))
		Expect(list[0].Type).To(Equal("tmpfs"))
	})

	It("builds every skeleton directory", func() {
		Expect(stager.BuildSkeleton(root)).To(Succeed())
		for _, dir := range types.SkeletonDirs() {
			ok, err := fs.Exists(root.Join(dir))
			Expect(err).NotTo(HaveOccurred())
			Expect(ok).To(BeTrue())
		}
	})

	It("CheckCapacity rejects a predicted size above the safety-margined budget", func() {
		sc.SysinfoResult = &types.SysinfoResult{FreeRAM: 1000, BufferRAM: 0, Unit: 1}
		err := stager.CheckCapacity(900)
		Expect(err).To(HaveOccurred())
	})

	It("CheckCapacity accepts a predicted size within the safety-margined budget", func() {
		sc.SysinfoResult = &types.SysinfoResult{FreeRAM: 1000, BufferRAM: 0, Unit: 1}
		Expect(stager.CheckCapacity(500)).To(Succeed())
	})

	It("copies a statically linked binary into the staging root without error", func() {
		src := filepath.Join(GinkgoT().TempDir(), "tool")
		Expect(os.WriteFile(src, []byte("not a real binary, exercised only by copyFile"), 0o755)).To(Succeed())

		// a non-ELF file makes ElfClosure fail; CopyBinaryWithClosure
		// should still have copied the binary itself first.
		_ = stager.CopyBinaryWithClosure(root, src, "bin/tool", nil)

		ok, err := fs.Exists(root.Join("bin", "tool"))
		Expect(err).NotTo(HaveOccurred())
		Expect(ok).To(BeTrue())
	})

	It("PreserveInitTarget is a no-op when telinit isn't a symlink", func() {
		telinit := filepath.Join(GinkgoT().TempDir(), "telinit")
		Expect(os.WriteFile(telinit, []byte("#!/bin/sh\n"), 0o755)).To(Succeed())

		preserved, err := stager.PreserveInitTarget(root, telinit)
		Expect(err).NotTo(HaveOccurred())
		Expect(preserved).To(BeEmpty())
	})

	It("Unwind unmounts the staging tmpfs", func() {
		Expect(stager.MountTmpfs(root)).To(Succeed())
		Expect(stager.Unwind(root)).To(Succeed())
		list, err := mounter.List()
		Expect(err).NotTo(HaveOccurred())
		Expect(list).To(BeEmpty())
	})
})
