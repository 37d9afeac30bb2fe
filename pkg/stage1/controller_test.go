package stage1_test

import (
	"context"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/suse-edge/takeover/pkg/mount"
	"github.com/suse-edge/takeover/pkg/stage"
	"github.com/suse-edge/takeover/pkg/stage1"
	"github.com/suse-edge/takeover/pkg/syscallfacade"
	"github.com/suse-edge/takeover/pkg/types"
	"github.com/suse-edge/takeover/pkg/vfsutil"
)

var _ = Describe("Controller.Run with --download-only", func() {
	It("returns immediately once an explicit image path is given, skipping every check", func() {
		ctrl := &stage1.Controller{Logger: noopLogger{}, Fs: vfsutil.NewMemFS()}
		opts := types.StageOptions{DownloadOnly: true, ImagePath: "/image/target.raw.gz"}

		Expect(ctrl.Run(context.Background(), opts)).To(Succeed())
	})

	It("fails when neither an image path nor a version is given", func() {
		ctrl := &stage1.Controller{Logger: noopLogger{}, Fs: vfsutil.NewMemFS()}
		err := ctrl.Run(context.Background(), types.StageOptions{DownloadOnly: true})
		Expect(err).To(HaveOccurred())
		Expect(err.Error()).To(ContainSubstring("neither an image path nor a version"))
	})
})

var _ = Describe("Controller.Unwind", func() {
	It("unmounts the staging tmpfs", func() {
		fs := vfsutil.NewMemFS()
		mounter := mount.NewFake(types.MountPoint{Path: "/tmp/takeover"})
		ctrl := &stage1.Controller{
			Logger: noopLogger{},
			Stager: stage.New(noopLogger{}, fs, mounter, syscallfacade.NewFake()),
		}
		root := types.StagingRoot{Path: "/tmp/takeover"}

		Expect(ctrl.Unwind(root, types.StageOptions{})).To(Succeed())
		Expect(mounter.Mounted).To(BeEmpty())
	})

	It("leaves the staging tmpfs in place when --no-cleanup is set", func() {
		fs := vfsutil.NewMemFS()
		mounter := mount.NewFake(types.MountPoint{Path: "/tmp/takeover"})
		ctrl := &stage1.Controller{
			Logger: noopLogger{},
			Stager: stage.New(noopLogger{}, fs, mounter, syscallfacade.NewFake()),
		}
		root := types.StagingRoot{Path: "/tmp/takeover"}

		opts := types.StageOptions{Skips: types.Skips{Cleanup: true}}
		Expect(ctrl.Unwind(root, opts)).To(Succeed())
		Expect(mounter.Mounted).To(HaveLen(1))
	})
})
