package cliui_test

import (
	"bytes"
	"errors"
	"strings"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/papercomputeco/kdb/pkg/cliui"
	"github.com/papercomputeco/kdb/pkg/ingest"
	"github.com/papercomputeco/kdb/pkg/vector"
)

var _ = Describe("cliui", func() {
	Describe("FormatDuration", func() {
		It("uses milliseconds below a second", func() {
			Expect(cliui.FormatDuration(12 * time.Millisecond)).To(Equal("12ms"))
			Expect(cliui.FormatDuration(3200 * time.Millisecond)).To(Equal("3.2s"))
		})
	})

	Describe("Step", func() {
		It("returns the step error and prints the message", func() {
			var buf bytes.Buffer
			boom := errors.New("boom")
			Expect(cliui.Step(&buf, "indexing", func() error { return boom })).To(MatchError(boom))
			Expect(buf.String()).To(ContainSubstring("indexing"))
			Expect(buf.String()).To(ContainSubstring(cliui.FailMark))
		})
	})

	Describe("RenderReport", func() {
		It("prints counts and chunk failures", func() {
			var buf bytes.Buffer
			cliui.RenderReport(&buf, &ingest.Report{
				SourceID:  "docs/a.md",
				Status:    ingest.StatusDone,
				Added:     2,
				Updated:   1,
				Unchanged: 4,
				Skipped:   1,
				Failures:  []ingest.ChunkFailure{{SequenceIndex: 3, Kind: ingest.ErrorKindEnrichment, Message: "timeout"}},
			})

			out := buf.String()
			Expect(out).To(ContainSubstring("docs/a.md"))
			Expect(out).To(ContainSubstring("+2"))
			Expect(out).To(ContainSubstring("4 unchanged"))
			Expect(out).To(ContainSubstring("chunk 3"))
			Expect(out).To(ContainSubstring("timeout"))
		})

		It("truncates long failure messages", func() {
			var buf bytes.Buffer
			cliui.RenderReport(&buf, &ingest.Report{
				SourceID: "docs/a.md",
				Status:   ingest.StatusFailed,
				Failures: []ingest.ChunkFailure{{Kind: ingest.ErrorKindEnrichment, Message: strings.Repeat("x", 500)}},
			})
			Expect(buf.String()).To(ContainSubstring("…"))
			Expect(buf.String()).NotTo(ContainSubstring(strings.Repeat("x", 200)))
		})
	})

	Describe("DisableColor", func() {
		It("renders marks as plain text", func() {
			cliui.DisableColor()
			Expect(cliui.Mark(nil)).To(Equal("✓"))
			Expect(cliui.Mark(errors.New("x"))).To(Equal("✗"))
			Expect(cliui.KeyStyle.Render("key")).To(Equal("key"))
		})
	})

	Describe("SearchMarkdown", func() {
		It("lists each hit with its source and context", func() {
			md := cliui.SearchMarkdown("refunds", []vector.SearchResult{{
				Record: vector.Record{
					ID:      "a",
					Content: "Refunds take five days.",
					Metadata: map[string]string{
						vector.MetaSourceID:      "docs/billing.md",
						vector.MetaSequenceIndex: "2",
						vector.MetaContext:       "Billing policy section.",
					},
				},
				Score: 0.9,
			}})

			Expect(md).To(ContainSubstring("docs/billing.md (chunk 2, score 0.900)"))
			Expect(md).To(ContainSubstring("> Billing policy section."))
			Expect(md).To(ContainSubstring("Refunds take five days."))
		})

		It("says so when nothing matched", func() {
			Expect(cliui.SearchMarkdown("x", nil)).To(ContainSubstring("No matching chunks"))
		})
	})
})
