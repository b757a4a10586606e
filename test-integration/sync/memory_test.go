package integration

import (
	"encoding/json"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/stacklok/record-sync/internal/record"
	"github.com/stacklok/record-sync/internal/seed"
	"github.com/stacklok/record-sync/internal/status"
	"github.com/stacklok/record-sync/internal/store/memory"
	"github.com/stacklok/record-sync/internal/versions"
	"github.com/stacklok/record-sync/test-integration/sync/helpers"
)

var _ = Describe("Memory Pipeline", Label("memory"), func() {
	var (
		tempDir  string
		pipeline *helpers.PipelineHelper
		target   *memory.Store
	)

	BeforeEach(func() {
		tempDir = createTempDir("memory-sync-")
		pipeline = helpers.NewPipelineHelper(ctx, helpers.MemoryPipelineConfig(tempDir, "orders", 7))
		Expect(pipeline.Start()).To(Succeed())

		var ok bool
		target, ok = pipeline.App().GetComponents().Target.(*memory.Store)
		Expect(ok).To(BeTrue())

		pipeline.WaitForReady(10 * time.Second)
	})

	AfterEach(func() {
		Expect(pipeline.Stop()).To(Succeed())
		cleanupTempDir(tempDir)
	})

	It("copies every seeded record with a full sync", func() {
		Expect(target.Len()).To(Equal(7))
		Expect(target.IDs()).To(ConsistOf(
			record.ID(1), record.ID(2), record.ID(3), record.ID(4),
			record.ID(5), record.ID(6), record.ID(7)))

		ge, ok := target.Get(1)
		Expect(ok).To(BeTrue())
		Expect(ge.Fields).To(HaveKeyWithValue(seed.NameField, "GE"))

		st, err := pipeline.Status()
		Expect(err).NotTo(HaveOccurred())
		Expect(st.Pipeline).To(Equal("orders"))
		Expect(st.FullSyncCompleted).To(BeTrue())
		Expect(st.LivePhase).To(Equal(status.SyncPhaseSteadyState))
		Expect(st.Watermark).NotTo(BeNil())
		Expect(st.RecordsWritten).To(BeNumerically(">=", 7))
	})

	It("replicates inserts and updates with delta cycles", func() {
		source := pipeline.App().GetComponents().Source

		netflix, err := source.Insert(ctx, record.Fields{seed.NameField: "Netflix", "owner": "test5", "amount": 42})
		Expect(err).NotTo(HaveOccurred())
		_, err = seed.Touch(ctx, source, "Exxon")
		Expect(err).NotTo(HaveOccurred())

		Eventually(func() bool {
			_, ok := target.Get(netflix.ID)
			return ok
		}, 5*time.Second, 20*time.Millisecond).Should(BeTrue())

		Eventually(func() any {
			exxon, _ := target.Get(2)
			return exxon.Fields["owner"]
		}, 5*time.Second, 20*time.Millisecond).Should(Equal(seed.TouchedOwner))

		Expect(target.Len()).To(Equal(8))
	})

	It("runs a full sync again when one is requested", func() {
		before, err := pipeline.Status()
		Expect(err).NotTo(HaveOccurred())

		resp, err := pipeline.Resync()
		Expect(err).NotTo(HaveOccurred())
		Expect(resp.Pipeline).To(Equal("orders"))
		Expect(resp.Status).To(Equal("accepted"))

		Eventually(func(g Gomega) {
			st, err := pipeline.Status()
			g.Expect(err).NotTo(HaveOccurred())
			g.Expect(st.FullSyncRequested).To(BeFalse())
			g.Expect(st.FullSyncStartedAt).NotTo(BeNil())
			g.Expect(st.FullSyncStartedAt.After(*before.FullSyncStartedAt)).To(BeTrue())
			g.Expect(st.RecordsWritten).To(BeNumerically(">=", before.RecordsWritten+7))
			g.Expect(st.Watermark.Before(*before.Watermark)).To(BeFalse())
		}, 5*time.Second, 20*time.Millisecond).Should(Succeed())

		Expect(target.Len()).To(Equal(7))
	})

	It("lists the pipeline and reports its version", func() {
		list, err := pipeline.StatusList()
		Expect(err).NotTo(HaveOccurred())
		Expect(list.Pipelines).To(HaveLen(1))
		Expect(list.Pipelines[0].Pipeline).To(Equal("orders"))

		body, err := pipeline.Get("/version")
		Expect(err).NotTo(HaveOccurred())
		var info versions.Info
		Expect(json.Unmarshal(body, &info)).To(Succeed())
		Expect(info.Version).NotTo(BeEmpty())

		_, err = pipeline.Get("/status/unknown")
		Expect(err).To(MatchError(ContainSubstring("pipeline not found: unknown")))
	})
})
