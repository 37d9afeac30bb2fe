package mount_test

import (
	"errors"
	"testing"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/suse-edge/takeover/pkg/mount"
	"github.com/suse-edge/takeover/pkg/types"
)

func TestMount(t *testing.T) {
	RegisterFailHandler(Fail)
	RunSpecs(t, "mount Suite")
}

var _ = Describe("Fake", func() {
	var f *mount.Fake

	BeforeEach(func() {
		f = mount.NewFake()
	})

	It("tracks a mount and reports it as a mount point", func() {
		Expect(f.Mount("/dev/sda1", "/mnt/boot", "ext4", nil)).To(Succeed())

		notMount, err := f.IsLikelyNotMountPoint("/mnt/boot")
		Expect(err).NotTo(HaveOccurred())
		Expect(notMount).To(BeFalse())

		list, err := f.List()
		Expect(err).NotTo(HaveOccurred())
		Expect(list).To(ConsistOf(types.MountPoint{Device: "/dev/sda1", Path: "/mnt/boot", Type: "ext4"}))
	})

	It("removes the entry on unmount", func() {
		Expect(f.Mount("/dev/sda1", "/mnt/boot", "ext4", nil)).To(Succeed())
		Expect(f.Unmount("/mnt/boot")).To(Succeed())

		notMount, err := f.IsLikelyNotMountPoint("/mnt/boot")
		Expect(err).NotTo(HaveOccurred())
		Expect(notMount).To(BeTrue())
	})

	It("reports an unmounted path as likely not a mount point", func() {
		notMount, err := f.IsLikelyNotMountPoint("/mnt/nowhere")
		Expect(err).NotTo(HaveOccurred())
		Expect(notMount).To(BeTrue())
	})

	It("surfaces a canned mount error", func() {
		f.MountErr = errors.New("device busy")
		Expect(f.Mount("/dev/sda1", "/mnt/boot", "ext4", nil)).To(MatchError("device busy"))
	})

	It("surfaces a canned unmount error", func() {
		f.UnmountErr = errors.New("target busy")
		Expect(f.Unmount("/mnt/boot")).To(MatchError("target busy"))
	})

	It("seeds pre-mounted entries via NewFake", func() {
		seeded := mount.NewFake(types.MountPoint{Device: "/dev/sda2", Path: "/", Type: "ext4"})
		list, err := seeded.List()
		Expect(err).NotTo(HaveOccurred())
		Expect(list).To(HaveLen(1))
	})
})
