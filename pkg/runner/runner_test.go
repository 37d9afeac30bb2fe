package runner_test

import (
	"errors"
	"testing"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/suse-edge/takeover/pkg/runner"
)

func TestRunner(t *testing.T) {
	RegisterFailHandler(Fail)
	RunSpecs(t, "runner Suite")
}

var _ = Describe("Real", func() {
	It("runs a real command and captures combined stdout+stderr", func() {
		r := runner.Real{}
		out, err := r.Run("echo", "hello")
		Expect(err).NotTo(HaveOccurred())
		Expect(string(out)).To(ContainSubstring("hello"))
	})

	It("returns an error for a nonexistent command", func() {
		r := runner.Real{}
		_, err := r.Run("this-command-does-not-exist-anywhere")
		Expect(err).To(HaveOccurred())
	})
})

var _ = Describe("Fake", func() {
	It("records every call and replays the canned response", func() {
		f := runner.NewFake()
		f.Responses["which"] = []byte("/usr/sbin/telinit\n")

		out, err := f.Run("which", "telinit")
		Expect(err).NotTo(HaveOccurred())
		Expect(string(out)).To(Equal("/usr/sbin/telinit\n"))
		Expect(f.Calls).To(Equal([][]string{{"which", "telinit"}}))
	})

	It("replays a canned error", func() {
		f := runner.NewFake()
		f.Errors["telinit"] = errors.New("boom")

		_, err := f.Run("telinit", "u")
		Expect(err).To(MatchError("boom"))
	})
})
