package logger_test

import (
	"bytes"
	"testing"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/suse-edge/takeover/pkg/logger"
	"github.com/suse-edge/takeover/pkg/types"
	"github.com/suse-edge/takeover/pkg/vfsutil"
)

func TestLogger(t *testing.T) {
	RegisterFailHandler(Fail)
	RunSpecs(t, "logger Suite")
}

var _ = Describe("Logrus", func() {
	It("writes log lines to the configured output at the configured level", func() {
		var buf bytes.Buffer
		l, err := logger.New(types.LogInfo, &buf)
		Expect(err).NotTo(HaveOccurred())

		l.Infof("hello %s", "world")
		Expect(buf.String()).To(ContainSubstring("hello world"))
	})

	It("suppresses debug output below the configured info level", func() {
		var buf bytes.Buffer
		l, err := logger.New(types.LogInfo, &buf)
		Expect(err).NotTo(HaveOccurred())

		l.Debugf("should not appear")
		Expect(buf.String()).To(BeEmpty())
	})

	It("rejects an unknown log level", func() {
		_, err := logger.New("not-a-level", &bytes.Buffer{})
		Expect(err).To(HaveOccurred())
	})

	It("SetOutput redirects subsequent writes", func() {
		var first, second bytes.Buffer
		l, err := logger.New(types.LogInfo, &first)
		Expect(err).NotTo(HaveOccurred())

		l.SetOutput(&second)
		l.Infof("redirected")
		Expect(first.String()).To(BeEmpty())
		Expect(second.String()).To(ContainSubstring("redirected"))
	})
})

var _ = Describe("RAMSink", func() {
	It("buffers writes and flushes them to the filesystem", func() {
		sink := logger.NewRAMSink(0)
		_, err := sink.Write([]byte("line one\n"))
		Expect(err).NotTo(HaveOccurred())
		_, err = sink.Write([]byte("line two\n"))
		Expect(err).NotTo(HaveOccurred())

		fs := vfsutil.NewMemFS()
		Expect(sink.Flush(fs, "/var/log/takeover-stage2.log")).To(Succeed())

		data, err := fs.ReadFile("/var/log/takeover-stage2.log")
		Expect(err).NotTo(HaveOccurred())
		Expect(string(data)).To(Equal("line one\nline two\n"))
	})

	It("keeps only the most recent bytes once max is exceeded", func() {
		sink := logger.NewRAMSink(5)
		_, err := sink.Write([]byte("1234567890"))
		Expect(err).NotTo(HaveOccurred())

		fs := vfsutil.NewMemFS()
		Expect(sink.Flush(fs, "/log")).To(Succeed())

		data, err := fs.ReadFile("/log")
		Expect(err).NotTo(HaveOccurred())
		Expect(string(data)).To(Equal("67890"))
	})
})
