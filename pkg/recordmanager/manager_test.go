package recordmanager_test

import (
	"context"
	"sync"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/papercomputeco/kdb/pkg/recordmanager"
	"github.com/papercomputeco/kdb/pkg/recordmanager/inmemory"
	"github.com/papercomputeco/kdb/pkg/vector"
)

// run drives one full session for sourceID: plan candidates, then write
// the records the plan asks for.
func run(ctx context.Context, m *recordmanager.Manager, sourceID string, candidates []recordmanager.Candidate) (*recordmanager.Plan, *recordmanager.Result, error) {
	session, err := m.Begin(ctx, sourceID)
	if err != nil {
		return nil, nil, err
	}
	defer session.Close()

	plan, err := session.Plan(ctx, candidates)
	if err != nil {
		return nil, nil, err
	}

	records := make([]vector.Record, 0, len(plan.ToWrite))
	for _, id := range plan.ToWrite {
		records = append(records, rec(id, sourceID))
	}
	result, err := session.Apply(ctx, records)
	return plan, result, err
}

func cands(pairs ...string) []recordmanager.Candidate {
	var out []recordmanager.Candidate
	for i := 0; i+1 < len(pairs); i += 2 {
		out = append(out, recordmanager.Candidate{ID: pairs[i], Fingerprint: pairs[i+1]})
	}
	return out
}

var _ = Describe("ParseMode", func() {
	It("defaults to skip-unchanged", func() {
		Expect(recordmanager.ParseMode("")).To(Equal(recordmanager.ModeSkipUnchanged))
		Expect(recordmanager.ParseMode("always-upsert")).To(Equal(recordmanager.ModeAlwaysUpsert))
	})

	It("rejects unknown modes", func() {
		_, err := recordmanager.ParseMode("sometimes")
		Expect(err).To(HaveOccurred())
	})
})

var _ = Describe("Manager", func() {
	var (
		ctx     context.Context
		state   *inmemory.State
		store   *faultyStore
		manager *recordmanager.Manager
	)

	BeforeEach(func() {
		ctx = context.Background()
		state = inmemory.NewState()
		store = newFaultyStore()
		manager = recordmanager.NewManager(state, store)
	})

	It("uses the default namespace and mode", func() {
		Expect(manager.Namespace()).To(Equal(recordmanager.DefaultNamespace))
		Expect(manager.Mode()).To(Equal(recordmanager.ModeSkipUnchanged))
		Expect(manager.EnsureSchema(ctx)).To(Succeed())
	})

	It("rejects an empty source id", func() {
		_, err := manager.Begin(ctx, "")
		Expect(err).To(MatchError(recordmanager.ErrEmptySourceID))
	})

	Describe("first ingestion", func() {
		It("adds every candidate", func() {
			plan, result, err := run(ctx, manager, "doc", cands("a", "1", "b", "1", "c", "1"))
			Expect(err).NotTo(HaveOccurred())
			Expect(plan.ToWrite).To(Equal([]string{"a", "b", "c"}))
			Expect(plan.Previous).To(Equal(0))
			Expect(result).To(Equal(&recordmanager.Result{Added: 3}))
			Expect(store.Len()).To(Equal(3))

			entries, err := manager.Entries(ctx, "doc")
			Expect(err).NotTo(HaveOccurred())
			Expect(entries).To(HaveLen(3))
			for _, e := range entries {
				Expect(e.Pending()).To(BeFalse())
				Expect(e.GroupID).To(Equal("doc"))
			}
		})
	})

	Describe("re-ingestion", func() {
		BeforeEach(func() {
			_, _, err := run(ctx, manager, "doc", cands("a", "1", "b", "1", "c", "1"))
			Expect(err).NotTo(HaveOccurred())
		})

		It("skips candidates with unchanged fingerprints", func() {
			plan, result, err := run(ctx, manager, "doc", cands("a", "1", "b", "1", "c", "1"))
			Expect(err).NotTo(HaveOccurred())
			Expect(plan.ToWrite).To(BeEmpty())
			Expect(plan.Unchanged).To(ConsistOf("a", "b", "c"))
			Expect(result).To(Equal(&recordmanager.Result{Unchanged: 3}))
			Expect(store.upsertCalls()).To(Equal(1))
		})

		It("updates changed fingerprints, adds new ids and deletes dropped ones", func() {
			plan, result, err := run(ctx, manager, "doc", cands("a", "1", "b", "2", "d", "1"))
			Expect(err).NotTo(HaveOccurred())
			Expect(plan.ToWrite).To(Equal([]string{"b", "d"}))
			Expect(plan.ToDelete).To(Equal([]string{"c"}))
			Expect(plan.Previous).To(Equal(3))
			Expect(result).To(Equal(&recordmanager.Result{Added: 1, Updated: 1, Deleted: 1, Unchanged: 1}))

			records, err := store.List(ctx, vector.SourceFilter("doc"))
			Expect(err).NotTo(HaveOccurred())
			Expect(ids(records)).To(Equal([]string{"a", "b", "d"}))

			entries, err := manager.Entries(ctx, "doc")
			Expect(err).NotTo(HaveOccurred())
			Expect(entries).To(HaveLen(3))
		})

		It("removes every record when the source produces nothing", func() {
			_, result, err := run(ctx, manager, "doc", nil)
			Expect(err).NotTo(HaveOccurred())
			Expect(result.Deleted).To(Equal(3))
			Expect(store.Len()).To(Equal(0))

			sources, err := manager.Sources(ctx)
			Expect(err).NotTo(HaveOccurred())
			Expect(sources).To(BeEmpty())
		})

		It("rewrites everything in always-upsert mode", func() {
			always := recordmanager.NewManager(state, store, recordmanager.WithMode(recordmanager.ModeAlwaysUpsert))
			plan, result, err := run(ctx, always, "doc", cands("a", "1", "b", "1", "c", "1"))
			Expect(err).NotTo(HaveOccurred())
			Expect(plan.Unchanged).To(BeEmpty())
			Expect(result).To(Equal(&recordmanager.Result{Updated: 3}))
		})

		It("leaves other sources alone", func() {
			_, _, err := run(ctx, manager, "other", cands("x", "1"))
			Expect(err).NotTo(HaveOccurred())

			_, _, err = run(ctx, manager, "doc", nil)
			Expect(err).NotTo(HaveOccurred())

			records, err := store.List(ctx, vector.Filter{})
			Expect(err).NotTo(HaveOccurred())
			Expect(ids(records)).To(Equal([]string{"x"}))
		})
	})

	Describe("namespaces", func() {
		It("keeps state apart", func() {
			other := recordmanager.NewManager(state, store, recordmanager.WithNamespace("other"))
			_, _, err := run(ctx, manager, "doc", cands("a", "1"))
			Expect(err).NotTo(HaveOccurred())

			entries, err := other.Entries(ctx, "doc")
			Expect(err).NotTo(HaveOccurred())
			Expect(entries).To(BeEmpty())
		})
	})

	Describe("failures", func() {
		It("converges after a failed upsert", func() {
			store.failUpsert = true
			_, _, err := run(ctx, manager, "doc", cands("a", "1", "b", "1"))
			Expect(err).To(MatchError(errInjected))

			entries, err := manager.Entries(ctx, "doc")
			Expect(err).NotTo(HaveOccurred())
			Expect(entries).To(HaveLen(2))
			for _, e := range entries {
				Expect(e.Pending()).To(BeTrue())
			}

			plan, result, err := run(ctx, manager, "doc", cands("a", "1", "b", "1"))
			Expect(err).NotTo(HaveOccurred())
			Expect(plan.ToWrite).To(Equal([]string{"a", "b"}))
			Expect(result.Added).To(Equal(2))
			Expect(store.Len()).To(Equal(2))
		})

		It("converges after a failed delete", func() {
			_, _, err := run(ctx, manager, "doc", cands("a", "1", "b", "1"))
			Expect(err).NotTo(HaveOccurred())

			store.failDelete = true
			_, _, err = run(ctx, manager, "doc", cands("a", "2"))
			Expect(err).To(MatchError(errInjected))

			_, result, err := run(ctx, manager, "doc", cands("a", "2"))
			Expect(err).NotTo(HaveOccurred())
			Expect(result.Deleted).To(Equal(1))
			Expect(result.Updated).To(Equal(1))

			records, err := store.List(ctx, vector.SourceFilter("doc"))
			Expect(err).NotTo(HaveOccurred())
			Expect(ids(records)).To(Equal([]string{"a"}))
		})
	})

	Describe("session phases", func() {
		It("rejects out-of-order calls", func() {
			session, err := manager.Begin(ctx, "doc")
			Expect(err).NotTo(HaveOccurred())
			defer session.Close()

			_, err = session.Apply(ctx, nil)
			Expect(err).To(MatchError(recordmanager.ErrInvalidTransition))

			_, err = session.Plan(ctx, cands("a", "1"))
			Expect(err).NotTo(HaveOccurred())
			Expect(session.Phase()).To(Equal(recordmanager.PhaseDiffing))

			_, err = session.Plan(ctx, cands("a", "1"))
			Expect(err).To(MatchError(recordmanager.ErrInvalidTransition))
		})

		It("rejects duplicate candidate ids", func() {
			session, err := manager.Begin(ctx, "doc")
			Expect(err).NotTo(HaveOccurred())
			defer session.Close()

			_, err = session.Plan(ctx, cands("a", "1", "a", "2"))
			Expect(err).To(MatchError(recordmanager.ErrStateInconsistency))
			Expect(session.Phase()).To(Equal(recordmanager.PhaseFailed))
		})

		It("rejects records outside the plan", func() {
			session, err := manager.Begin(ctx, "doc")
			Expect(err).NotTo(HaveOccurred())
			defer session.Close()

			_, err = session.Plan(ctx, cands("a", "1"))
			Expect(err).NotTo(HaveOccurred())

			_, err = session.Apply(ctx, []vector.Record{rec("z", "doc")})
			Expect(err).To(MatchError(recordmanager.ErrInvalidTransition))
			Expect(store.Len()).To(Equal(0))
		})

		It("leaves planned records without a payload untouched", func() {
			session, err := manager.Begin(ctx, "doc")
			Expect(err).NotTo(HaveOccurred())
			defer session.Close()

			_, err = session.Plan(ctx, cands("a", "1", "b", "1"))
			Expect(err).NotTo(HaveOccurred())
			result, err := session.Apply(ctx, []vector.Record{rec("a", "doc")})
			Expect(err).NotTo(HaveOccurred())
			Expect(result.Added).To(Equal(1))
			Expect(session.Phase()).To(Equal(recordmanager.PhaseDone))

			entries, err := manager.Entries(ctx, "doc")
			Expect(err).NotTo(HaveOccurred())
			Expect(entries).To(HaveLen(1))
		})
	})

	Describe("locking", func() {
		It("serializes sessions for the same source", func() {
			first, err := manager.Begin(ctx, "doc")
			Expect(err).NotTo(HaveOccurred())

			acquired := make(chan struct{})
			go func() {
				defer GinkgoRecover()
				second, err := manager.Begin(ctx, "doc")
				Expect(err).NotTo(HaveOccurred())
				close(acquired)
				second.Close()
			}()

			Consistently(acquired, 100*time.Millisecond).ShouldNot(BeClosed())
			first.Close()
			Eventually(acquired).Should(BeClosed())
		})

		It("lets different sources proceed in parallel", func() {
			first, err := manager.Begin(ctx, "doc")
			Expect(err).NotTo(HaveOccurred())
			defer first.Close()

			second, err := manager.Begin(ctx, "other")
			Expect(err).NotTo(HaveOccurred())
			second.Close()
		})

		It("gives up when the context is cancelled", func() {
			first, err := manager.Begin(ctx, "doc")
			Expect(err).NotTo(HaveOccurred())
			defer first.Close()

			cctx, cancel := context.WithTimeout(ctx, 20*time.Millisecond)
			defer cancel()
			_, err = manager.Begin(cctx, "doc")
			Expect(err).To(MatchError(context.DeadlineExceeded))
		})

		It("converges under concurrent runs of the same source", func() {
			var wg sync.WaitGroup
			for i := 0; i < 8; i++ {
				wg.Add(1)
				go func() {
					defer wg.Done()
					defer GinkgoRecover()
					_, _, err := run(ctx, manager, "doc", cands("a", "1", "b", "1"))
					Expect(err).NotTo(HaveOccurred())
				}()
			}
			wg.Wait()

			Expect(store.Len()).To(Equal(2))
			Expect(store.upsertCalls()).To(Equal(1))
		})
	})

	Describe("DeleteSource", func() {
		It("removes records and state of one source", func() {
			_, _, err := run(ctx, manager, "doc", cands("a", "1", "b", "1"))
			Expect(err).NotTo(HaveOccurred())
			_, _, err = run(ctx, manager, "other", cands("x", "1"))
			Expect(err).NotTo(HaveOccurred())

			deleted, err := manager.DeleteSource(ctx, "doc")
			Expect(err).NotTo(HaveOccurred())
			Expect(deleted).To(Equal(2))

			sources, err := manager.Sources(ctx)
			Expect(err).NotTo(HaveOccurred())
			Expect(sources).To(Equal([]string{"other"}))
			Expect(store.Len()).To(Equal(1))
		})

		It("is a no-op for unknown sources", func() {
			deleted, err := manager.DeleteSource(ctx, "missing")
			Expect(err).NotTo(HaveOccurred())
			Expect(deleted).To(Equal(0))
		})
	})
})
