package stage_test

import (
	"os"
	"path/filepath"
	"testing"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/suse-edge/takeover/pkg/stage"
)

func TestElfClosure(t *testing.T) {
	RegisterFailHandler(Fail)
	RunSpecs(t, "stage elfclosure Suite")
}

var _ = Describe("ElfClosure", func() {
	It("errors when the binary path does not exist", func() {
		_, err := stage.ElfClosure("/does/not/exist/binary", nil)
		Expect(err).To(HaveOccurred())
	})

	It("treats a path that isn't a valid ELF file as an error rather than an empty closure", func() {
		path := filepath.Join(GinkgoT().TempDir(), "not-an-elf")
		Expect(os.WriteFile(path, []byte("not an elf binary"), 0o755)).To(Succeed())

		_, err := stage.ElfClosure(path, nil)
		Expect(err).To(HaveOccurred())
	})
})
