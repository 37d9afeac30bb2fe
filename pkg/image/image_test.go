package image_test

import (
	"bytes"
	"compress/gzip"
	"io"
	"os"
	"path/filepath"
	"testing"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/suse-edge/takeover/pkg/image"
)

func TestImage(t *testing.T) {
	RegisterFailHandler(Fail)
	RunSpecs(t, "image Suite")
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
func (discardLogger) SetOutput(w io.Writer)         {}

func writeGzip(t GinkgoTInterface, dir string, data []byte) string {
	path := filepath.Join(dir, "image.raw.gz")
	f, err := os.Create(path)
	Expect(err).NotTo(HaveOccurred())
	defer f.Close()

	gz := gzip.NewWriter(f)
	_, err = gz.Write(data)
	Expect(err).NotTo(HaveOccurred())
	Expect(gz.Close()).To(Succeed())
	return path
}

var _ = Describe("Open", func() {
	It("detects a gzip-compressed file by magic number, not extension", func() {
		dir := GinkgoT().TempDir()
		path := writeGzip(GinkgoT(), dir, []byte("hello disk image"))

		src, err := image.Open(path)
		Expect(err).NotTo(HaveOccurred())
		Expect(src.Gzip).To(BeTrue())
	})

	It("detects a raw (non-gzip) file", func() {
		dir := GinkgoT().TempDir()
		path := filepath.Join(dir, "image.raw")
		Expect(os.WriteFile(path, []byte("raw bytes"), 0o644)).To(Succeed())

		src, err := image.Open(path)
		Expect(err).NotTo(HaveOccurred())
		Expect(src.Gzip).To(BeFalse())
	})

	It("handles a file shorter than the magic number without erroring", func() {
		dir := GinkgoT().TempDir()
		path := filepath.Join(dir, "tiny")
		Expect(os.WriteFile(path, []byte("a"), 0o644)).To(Succeed())

		src, err := image.Open(path)
		Expect(err).NotTo(HaveOccurred())
		Expect(src.Gzip).To(BeFalse())
	})

	It("errors when the file does not exist", func() {
		_, err := image.Open("/does/not/exist")
		Expect(err).To(HaveOccurred())
	})
})

var _ = Describe("Flash and Verify", func() {
	It("streams a gzip-compressed source onto the target, verifying the prefix matches", func() {
		dir := GinkgoT().TempDir()
		payload := bytes.Repeat([]byte("DISKIMAGE"), 10000)
		path := writeGzip(GinkgoT(), dir, payload)

		src, err := image.Open(path)
		Expect(err).NotTo(HaveOccurred())
		Expect(src.Gzip).To(BeTrue())

		dev := filepath.Join(dir, "fake-device")
		Expect(os.WriteFile(dev, make([]byte, len(payload)), 0o644)).To(Succeed())

		result, err := image.Flash(discardLogger{}, src, dev, 64)
		Expect(err).NotTo(HaveOccurred())
		Expect(result.BytesWritten).To(Equal(uint64(len(payload))))

		Expect(image.Verify(dev, result)).To(Succeed())

		written, err := os.ReadFile(dev)
		Expect(err).NotTo(HaveOccurred())
		Expect(written).To(Equal(payload))
	})

	It("fails verification when the target was not actually written", func() {
		dir := GinkgoT().TempDir()
		payload := []byte("expected content on disk")
		path := filepath.Join(dir, "image.raw")
		Expect(os.WriteFile(path, payload, 0o644)).To(Succeed())

		src, err := image.Open(path)
		Expect(err).NotTo(HaveOccurred())

		dev := filepath.Join(dir, "fake-device")
		Expect(os.WriteFile(dev, make([]byte, len(payload)), 0o644)).To(Succeed())

		result, err := image.Flash(discardLogger{}, src, dev, len(payload))
		Expect(err).NotTo(HaveOccurred())

		// Corrupt the device after the fact to simulate a bad write.
		Expect(os.WriteFile(dev, bytes.Repeat([]byte{0}, len(payload)), 0o644)).To(Succeed())
		Expect(image.Verify(dev, result)).To(HaveOccurred())
	})

	It("errors flashing onto a device path that does not exist", func() {
		dir := GinkgoT().TempDir()
		path := filepath.Join(dir, "image.raw")
		Expect(os.WriteFile(path, []byte("data"), 0o644)).To(Succeed())

		src, err := image.Open(path)
		Expect(err).NotTo(HaveOccurred())

		_, err = image.Flash(discardLogger{}, src, "/does/not/exist/device", 16)
		Expect(err).To(HaveOccurred())
	})
})
