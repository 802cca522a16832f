package ingest_test

import (
	"context"
	"sync"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"go.uber.org/zap"

	"github.com/papercomputeco/kdb/pkg/chunk"
	"github.com/papercomputeco/kdb/pkg/enrich"
	"github.com/papercomputeco/kdb/pkg/eventstream"
	"github.com/papercomputeco/kdb/pkg/identity"
	"github.com/papercomputeco/kdb/pkg/ingest"
	"github.com/papercomputeco/kdb/pkg/recordmanager"
	rminmemory "github.com/papercomputeco/kdb/pkg/recordmanager/inmemory"
	testutils "github.com/papercomputeco/kdb/pkg/utils/test"
	"github.com/papercomputeco/kdb/pkg/vector"
	"github.com/papercomputeco/kdb/pkg/vector/inmemory"
)

type recordingPublisher struct {
	mu     sync.Mutex
	events []*eventstream.Event
}

func (r *recordingPublisher) Publish(_ context.Context, event *eventstream.Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, event)
	return nil
}

func (r *recordingPublisher) Close() error { return nil }

func (r *recordingPublisher) last() *eventstream.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.events) == 0 {
		return nil
	}
	return r.events[len(r.events)-1]
}

var docA = testutils.Paragraphs("alpha paragraph", "beta paragraph", "gamma paragraph")

var _ = Describe("Pipeline", func() {
	var (
		ctx       context.Context
		driver    *inmemory.Driver
		store     *vector.Store
		state     *rminmemory.State
		completer *testutils.MockCompleter
		publisher *recordingPublisher
		config    *ingest.Config
	)

	build := func(mode recordmanager.Mode, opts ...enrich.Option) *ingest.Pipeline {
		enricher, err := enrich.New(completer, opts...)
		Expect(err).NotTo(HaveOccurred())

		config.Enricher = enricher
		config.Manager = recordmanager.NewManager(state, store, recordmanager.WithMode(mode))

		p, err := ingest.New(config)
		Expect(err).NotTo(HaveOccurred())
		DeferCleanup(p.Close)
		Expect(p.EnsureReady(ctx)).To(Succeed())
		return p
	}

	snapshot := func(sourceID string) []vector.Record {
		records, err := store.List(ctx, vector.SourceFilter(sourceID))
		Expect(err).NotTo(HaveOccurred())
		return records
	}

	BeforeEach(func() {
		ctx = context.Background()
		driver = inmemory.NewDriver()
		store = vector.NewStore(driver, testutils.NewMockEmbedder(), vector.Layout{
			Name:       "chunks",
			VectorSize: testutils.DefaultMockDimensions,
		})
		state = rminmemory.NewState()
		completer = testutils.NewMockCompleter()
		publisher = &recordingPublisher{}
		config = &ingest.Config{
			Splitter:    testutils.ParagraphSplitter{},
			Store:       store,
			Publisher:   publisher,
			Concurrency: 2,
			MaxRetries:  1,
			RetryDelay:  time.Millisecond,
			Logger:      zap.NewNop(),
		}
	})

	Describe("New", func() {
		It("requires collaborators", func() {
			_, err := ingest.New(&ingest.Config{})
			Expect(err).To(HaveOccurred())
		})

		It("rejects unknown failure policies", func() {
			enricher, err := enrich.New(completer)
			Expect(err).NotTo(HaveOccurred())
			config.Enricher = enricher
			config.Manager = recordmanager.NewManager(state, store)
			config.FailurePolicy = "sometimes"

			_, err = ingest.New(config)
			Expect(err).To(HaveOccurred())
		})
	})

	It("refuses to ingest before EnsureReady", func() {
		enricher, err := enrich.New(completer)
		Expect(err).NotTo(HaveOccurred())
		config.Enricher = enricher
		config.Manager = recordmanager.NewManager(state, store)
		p, err := ingest.New(config)
		Expect(err).NotTo(HaveOccurred())
		defer p.Close()

		Expect(p.Ready()).To(BeFalse())
		report, err := p.Ingest(ctx, "doc-A", docA)
		Expect(err).To(MatchError(ingest.ErrNotReady))
		Expect(report.Failed()).To(BeTrue())

		_, err = p.Delete(ctx, "doc-A")
		Expect(err).To(MatchError(ingest.ErrNotReady))
	})

	Context("with the default skip-unchanged mode", func() {
		var pipeline *ingest.Pipeline

		BeforeEach(func() {
			pipeline = build(recordmanager.ModeSkipUnchanged)
		})

		It("adds every chunk on first ingestion", func() {
			report, err := pipeline.Ingest(ctx, "doc-A", docA)
			Expect(err).NotTo(HaveOccurred())
			Expect(report.Status).To(Equal(ingest.StatusDone))
			Expect(report.Added).To(Equal(3))
			Expect(report.Updated).To(Equal(0))
			Expect(report.Deleted).To(Equal(0))
			Expect(report.Skipped).To(Equal(0))
			Expect(report.Errors).To(BeEmpty())

			records := snapshot("doc-A")
			Expect(records).To(HaveLen(3))
			for _, r := range records {
				Expect(r.Metadata).To(HaveKeyWithValue(vector.MetaSourceID, "doc-A"))
				Expect(r.Metadata).To(HaveKey(vector.MetaSequenceIndex))
				Expect(r.Metadata[vector.MetaContext]).To(HavePrefix("context for"))
				Expect(r.Metadata).To(HaveKeyWithValue(vector.MetaContextModelVersion, "mock-model"))
			}
		})

		It("is idempotent", func() {
			_, err := pipeline.Ingest(ctx, "doc-A", docA)
			Expect(err).NotTo(HaveOccurred())
			first := snapshot("doc-A")
			calls := completer.Calls()

			report, err := pipeline.Ingest(ctx, "doc-A", docA)
			Expect(err).NotTo(HaveOccurred())
			Expect(report.Added).To(Equal(0))
			Expect(report.Deleted).To(Equal(0))
			Expect(report.Unchanged).To(Equal(3))
			Expect(snapshot("doc-A")).To(Equal(first))
			Expect(completer.Calls()).To(Equal(calls))
		})

		It("replaces only an edited chunk", func() {
			_, err := pipeline.Ingest(ctx, "doc-A", docA)
			Expect(err).NotTo(HaveOccurred())
			before := snapshot("doc-A")

			edited := testutils.Paragraphs("alpha paragraph", "beta paragraph, edited", "gamma paragraph")
			report, err := pipeline.Ingest(ctx, "doc-A", edited)
			Expect(err).NotTo(HaveOccurred())
			Expect(report.Added).To(Equal(1))
			Expect(report.Updated).To(Equal(0))
			Expect(report.Deleted).To(Equal(1))
			Expect(report.Skipped).To(Equal(0))
			Expect(report.Unchanged).To(Equal(2))

			after := snapshot("doc-A")
			Expect(after).To(HaveLen(3))
			untouched := []string{
				identity.RecordID("doc-A", 0, "alpha paragraph"),
				identity.RecordID("doc-A", 2, "gamma paragraph"),
			}
			for _, id := range untouched {
				Expect(findRecord(before, id)).To(Equal(findRecord(after, id)))
			}
			Expect(findRecord(after, identity.RecordID("doc-A", 1, "beta paragraph"))).To(BeNil())
			Expect(findRecord(after, identity.RecordID("doc-A", 1, "beta paragraph, edited"))).NotTo(BeNil())
		})

		It("deletes records of dropped chunks", func() {
			_, err := pipeline.Ingest(ctx, "doc-A", docA)
			Expect(err).NotTo(HaveOccurred())

			report, err := pipeline.Ingest(ctx, "doc-A", testutils.Paragraphs("alpha paragraph", "beta paragraph"))
			Expect(err).NotTo(HaveOccurred())
			Expect(report.Deleted).To(Equal(1))
			Expect(snapshot("doc-A")).To(HaveLen(2))
		})

		It("skips a chunk that exhausts its retries", func() {
			completer.Failures["gamma"] = 2

			report, err := pipeline.Ingest(ctx, "doc-A", docA)
			Expect(err).NotTo(HaveOccurred())
			Expect(report.Status).To(Equal(ingest.StatusDone))
			Expect(report.Added).To(Equal(2))
			Expect(report.Skipped).To(Equal(1))
			Expect(report.Errors).To(Equal([]ingest.ErrorKind{ingest.ErrorKindEnrichment}))
			Expect(report.Failures).To(HaveLen(1))
			Expect(report.Failures[0].SequenceIndex).To(Equal(2))
			Expect(completer.CallsContaining("gamma")).To(Equal(2))

			Expect(findRecord(snapshot("doc-A"), identity.RecordID("doc-A", 2, "gamma paragraph"))).To(BeNil())
		})

		It("writes a skipped chunk on the next run", func() {
			completer.Failures["gamma"] = 2
			_, err := pipeline.Ingest(ctx, "doc-A", docA)
			Expect(err).NotTo(HaveOccurred())

			report, err := pipeline.Ingest(ctx, "doc-A", docA)
			Expect(err).NotTo(HaveOccurred())
			Expect(report.Added).To(Equal(1))
			Expect(report.Unchanged).To(Equal(2))
			Expect(snapshot("doc-A")).To(HaveLen(3))
		})

		It("keeps a previously stored chunk whose re-enrichment fails", func() {
			_, err := pipeline.Ingest(ctx, "doc-A", docA)
			Expect(err).NotTo(HaveOccurred())

			always := build(recordmanager.ModeAlwaysUpsert)
			completer.Failures["gamma"] = -1
			report, err := always.Ingest(ctx, "doc-A", docA)
			Expect(err).NotTo(HaveOccurred())
			Expect(report.Skipped).To(Equal(1))
			Expect(report.Deleted).To(Equal(0))
			Expect(snapshot("doc-A")).To(HaveLen(3))
		})

		It("recovers when a retry succeeds", func() {
			completer.Failures["gamma"] = 1

			report, err := pipeline.Ingest(ctx, "doc-A", docA)
			Expect(err).NotTo(HaveOccurred())
			Expect(report.Added).To(Equal(3))
			Expect(report.Skipped).To(Equal(0))
			Expect(completer.CallsContaining("gamma")).To(Equal(2))
		})

		It("reports invalid input", func() {
			report, err := pipeline.Ingest(ctx, "doc-A", "  \n ")
			Expect(err).To(MatchError(chunk.ErrInvalidInput))
			Expect(report.Failed()).To(BeTrue())
			Expect(report.Errors).To(Equal([]ingest.ErrorKind{ingest.ErrorKindInvalidInput}))
		})

		It("stops on cancellation without committing state", func() {
			cctx, cancel := context.WithCancel(ctx)
			cancel()

			report, err := pipeline.Ingest(cctx, "doc-A", docA)
			Expect(err).To(MatchError(context.Canceled))
			Expect(report.Errors).To(Equal([]ingest.ErrorKind{ingest.ErrorKindCancelled}))
			Expect(driver.Len()).To(Equal(0))

			entries, err := config.Manager.Entries(ctx, "doc-A")
			Expect(err).NotTo(HaveOccurred())
			Expect(entries).To(BeEmpty())
		})

		It("enriches many chunks on the bounded pool", func() {
			var paras []string
			for i := range 20 {
				paras = append(paras, "paragraph number "+string(rune('a'+i)))
			}

			report, err := pipeline.Ingest(ctx, "doc-B", testutils.Paragraphs(paras...))
			Expect(err).NotTo(HaveOccurred())
			Expect(report.Added).To(Equal(20))
			Expect(completer.Calls()).To(Equal(20))
		})

		It("deletes exactly the records of one source", func() {
			_, err := pipeline.Ingest(ctx, "doc-A", docA)
			Expect(err).NotTo(HaveOccurred())
			_, err = pipeline.Ingest(ctx, "doc-B", testutils.Paragraphs("delta paragraph", "epsilon paragraph"))
			Expect(err).NotTo(HaveOccurred())
			other := snapshot("doc-B")

			deleted, err := pipeline.Delete(ctx, "doc-A")
			Expect(err).NotTo(HaveOccurred())
			Expect(deleted).To(Equal(3))
			Expect(snapshot("doc-A")).To(BeEmpty())
			Expect(snapshot("doc-B")).To(Equal(other))

			Expect(publisher.last().EventType).To(Equal(eventstream.EventTypeSourceDeleted))
			Expect(publisher.last().Counts.Deleted).To(Equal(3))
		})

		It("publishes an event per run", func() {
			_, err := pipeline.Ingest(ctx, "doc-A", docA)
			Expect(err).NotTo(HaveOccurred())

			event := publisher.last()
			Expect(event).NotTo(BeNil())
			Expect(event.EventType).To(Equal(eventstream.EventTypeIngestionCompleted))
			Expect(event.SourceID).To(Equal("doc-A"))
			Expect(event.Status).To(Equal("done"))
			Expect(event.Counts.Added).To(Equal(3))
			Expect(event.Run.Mode).To(Equal("skip-unchanged"))
		})

		It("updates in place when the context model version changes", func() {
			_, err := pipeline.Ingest(ctx, "doc-A", docA)
			Expect(err).NotTo(HaveOccurred())
			before := snapshot("doc-A")

			upgraded := build(recordmanager.ModeSkipUnchanged, enrich.WithContextModelVersion("mock-model-v2"))
			report, err := upgraded.Ingest(ctx, "doc-A", docA)
			Expect(err).NotTo(HaveOccurred())
			Expect(report.Updated).To(Equal(3))
			Expect(report.Added).To(Equal(0))
			Expect(report.Deleted).To(Equal(0))

			after := snapshot("doc-A")
			Expect(recordIDs(after)).To(Equal(recordIDs(before)))
			for _, r := range after {
				Expect(r.Metadata).To(HaveKeyWithValue(vector.MetaContextModelVersion, "mock-model-v2"))
			}
		})
	})

	Context("with always-upsert mode", func() {
		It("rewrites unchanged chunks", func() {
			pipeline := build(recordmanager.ModeAlwaysUpsert)
			_, err := pipeline.Ingest(ctx, "doc-A", docA)
			Expect(err).NotTo(HaveOccurred())

			report, err := pipeline.Ingest(ctx, "doc-A", docA)
			Expect(err).NotTo(HaveOccurred())
			Expect(report.Updated).To(Equal(3))
			Expect(report.Added).To(Equal(0))
			Expect(report.Deleted).To(Equal(0))
		})
	})

	Context("with the abort policy", func() {
		var pipeline *ingest.Pipeline

		BeforeEach(func() {
			config.FailurePolicy = ingest.PolicyAbort
			pipeline = build(recordmanager.ModeSkipUnchanged)
		})

		It("writes nothing when a chunk fails", func() {
			completer.Failures["gamma"] = 2

			report, err := pipeline.Ingest(ctx, "doc-A", docA)
			Expect(err).To(HaveOccurred())
			Expect(report.Status).To(Equal(ingest.StatusFailed))
			Expect(report.Errors).To(ContainElement(ingest.ErrorKindEnrichment))
			Expect(report.Added).To(Equal(0))
			Expect(driver.Len()).To(Equal(0))

			entries, err := config.Manager.Entries(ctx, "doc-A")
			Expect(err).NotTo(HaveOccurred())
			Expect(entries).To(BeEmpty())
			Expect(publisher.last().Status).To(Equal("failed"))
		})

		It("leaves a previously indexed document untouched", func() {
			_, err := pipeline.Ingest(ctx, "doc-A", docA)
			Expect(err).NotTo(HaveOccurred())
			before := snapshot("doc-A")

			completer.Failures["gamma"] = -1
			edited := testutils.Paragraphs("alpha paragraph", "beta paragraph", "gamma paragraph, edited")
			report, err := pipeline.Ingest(ctx, "doc-A", edited)
			Expect(err).To(HaveOccurred())
			Expect(report.Failed()).To(BeTrue())
			Expect(snapshot("doc-A")).To(Equal(before))
		})
	})

	Context("when the store rejects the vectors", func() {
		It("reports a schema conflict", func() {
			store = vector.NewStore(driver, testutils.NewMockEmbedderWithDimensions(3), vector.Layout{
				Name:       "chunks",
				VectorSize: testutils.DefaultMockDimensions,
			})
			config.Store = store
			pipeline := build(recordmanager.ModeSkipUnchanged)

			report, err := pipeline.Ingest(ctx, "doc-A", docA)
			Expect(err).To(MatchError(vector.ErrSchemaConflict))
			Expect(report.Errors).To(Equal([]ingest.ErrorKind{ingest.ErrorKindSchemaConflict}))
			Expect(driver.Len()).To(Equal(0))
		})
	})

	Describe("Preview", func() {
		It("enriches without writing", func() {
			pipeline := build(recordmanager.ModeSkipUnchanged)
			preview, err := pipeline.Preview(ctx, "doc-A", docA)
			Expect(err).NotTo(HaveOccurred())
			Expect(preview.Chunks).To(HaveLen(3))
			for i, c := range preview.Chunks {
				Expect(c.SequenceIndex).To(Equal(i))
				Expect(c.ID).To(Equal(identity.RecordID("doc-A", i, c.Content)))
				Expect(c.Context).NotTo(BeEmpty())
			}
			Expect(driver.Len()).To(Equal(0))
		})

		It("lists failed chunks", func() {
			pipeline := build(recordmanager.ModeSkipUnchanged)
			completer.Failures["beta"] = -1

			preview, err := pipeline.Preview(ctx, "doc-A", docA)
			Expect(err).NotTo(HaveOccurred())
			Expect(preview.Chunks).To(HaveLen(2))
			Expect(preview.Failures).To(HaveLen(1))
			Expect(preview.Failures[0].SequenceIndex).To(Equal(1))
		})
	})
})

var _ = Describe("ParseFailurePolicy", func() {
	It("defaults to skip", func() {
		Expect(ingest.ParseFailurePolicy("")).To(Equal(ingest.PolicySkip))
		Expect(ingest.ParseFailurePolicy("abort")).To(Equal(ingest.PolicyAbort))
		_, err := ingest.ParseFailurePolicy("retry")
		Expect(err).To(HaveOccurred())
	})
})

func findRecord(records []vector.Record, id string) *vector.Record {
	for i := range records {
		if records[i].ID == id {
			return &records[i]
		}
	}
	return nil
}

func recordIDs(records []vector.Record) []string {
	out := make([]string, len(records))
	for i, r := range records {
		out[i] = r.ID
	}
	return out
}
