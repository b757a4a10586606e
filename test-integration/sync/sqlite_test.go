package integration

import (
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/stacklok/record-sync/internal/config"
	"github.com/stacklok/record-sync/internal/record"
	"github.com/stacklok/record-sync/internal/seed"
	"github.com/stacklok/record-sync/test-integration/sync/helpers"
)

var _ = Describe("SQLite Pipeline", Label("sqlite"), func() {
	var (
		tempDir  string
		cfg      *config.Config
		pipeline *helpers.PipelineHelper
	)

	BeforeEach(func() {
		pipeline = nil
		tempDir = createTempDir("sqlite-sync-")
		cfg = helpers.SQLitePipelineConfig(tempDir, "orders")
		helpers.SeedSQLite(ctx, helpers.SourcePath(tempDir), 5)
	})

	AfterEach(func() {
		if pipeline != nil {
			Expect(pipeline.Stop()).To(Succeed())
		}
		cleanupTempDir(tempDir)
	})

	It("resumes from the persisted watermark after a restart", func() {
		pipeline = helpers.NewPipelineHelper(ctx, cfg)
		Expect(pipeline.Start()).To(Succeed())
		pipeline.WaitForReady(10 * time.Second)

		first, err := pipeline.Status()
		Expect(err).NotTo(HaveOccurred())
		Expect(first.FullSyncCompleted).To(BeTrue())
		Expect(pipeline.Stop()).To(Succeed())

		Expect(helpers.Names(helpers.ReadSQLite(ctx, helpers.TargetPath(tempDir)))).
			To(HaveExactElements("GE", "Exxon", "Google", "company-00001", "company-00002"))

		// written while nothing is running
		helpers.InsertSQLite(ctx, helpers.SourcePath(tempDir), record.Fields{seed.NameField: "Netflix", "owner": "test5"})

		pipeline = helpers.NewPipelineHelper(ctx, cfg)
		Expect(pipeline.Start()).To(Succeed())

		// the persisted status is already complete, so the API is ready at once
		pipeline.WaitForReady(10 * time.Second)
		Eventually(func(g Gomega) {
			st, err := pipeline.Status()
			g.Expect(err).NotTo(HaveOccurred())
			g.Expect(st.LastSyncTime).NotTo(BeNil())
			g.Expect(st.LastSyncTime.After(*first.LastSyncTime)).To(BeTrue())
			g.Expect(st.FullSyncStartedAt).To(Equal(first.FullSyncStartedAt))
			g.Expect(st.RecordsWritten).To(BeNumerically(">", first.RecordsWritten))
		}, 5*time.Second, 20*time.Millisecond).Should(Succeed())
		Expect(pipeline.Stop()).To(Succeed())

		target := helpers.ReadSQLite(ctx, helpers.TargetPath(tempDir))
		Expect(helpers.Names(target)).To(ContainElement("Netflix"))
		Expect(target).To(HaveLen(6))
	})
})
