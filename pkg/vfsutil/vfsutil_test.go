package vfsutil_test

import (
	"path/filepath"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/suse-edge/takeover/pkg/vfsutil"
)

var _ = Describe("RealFS", func() {
	It("round-trips a write and read against a real temp directory", func() {
		dir := GinkgoT().TempDir()
		path := filepath.Join(dir, "a", "b.txt")

		fs := vfsutil.NewRealFS()
		Expect(fs.MkdirAll(filepath.Join(dir, "a"), 0o755)).To(Succeed())
		Expect(fs.WriteFile(path, []byte("hi"), 0o644)).To(Succeed())

		data, err := fs.ReadFile(path)
		Expect(err).NotTo(HaveOccurred())
		Expect(string(data)).To(Equal("hi"))

		ok, err := fs.Exists(path)
		Expect(err).NotTo(HaveOccurred())
		Expect(ok).To(BeTrue())
	})

	It("Exists reports false, not an error, for a missing path", func() {
		fs := vfsutil.NewRealFS()
		ok, err := fs.Exists(filepath.Join(GinkgoT().TempDir(), "nope"))
		Expect(err).NotTo(HaveOccurred())
		Expect(ok).To(BeFalse())
	})

	It("RemoveAll deletes a directory tree", func() {
		dir := GinkgoT().TempDir()
		sub := filepath.Join(dir, "sub")
		fs := vfsutil.NewRealFS()
		Expect(fs.MkdirAll(sub, 0o755)).To(Succeed())
		Expect(fs.WriteFile(filepath.Join(sub, "f"), []byte("x"), 0o644)).To(Succeed())

		Expect(fs.RemoveAll(sub)).To(Succeed())
		ok, err := fs.Exists(sub)
		Expect(err).NotTo(HaveOccurred())
		Expect(ok).To(BeFalse())
	})
})
