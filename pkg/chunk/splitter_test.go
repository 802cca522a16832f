package chunk_test

import (
	"strings"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/papercomputeco/kdb/pkg/chunk"
)

const handbook = `# Handbook

Welcome to the team. This handbook explains how we work together and what we expect.

## Onboarding

Your first week is spent pairing with a buddy. You will set up your laptop, get access to
the repositories and ship a small change to production.

## Time off

Request time off at least two weeks in advance. Public holidays follow the calendar of the
country you are employed in.

### Sick leave

Tell your lead as early as possible. No doctor's note is needed for the first three days.
`

const mixed = `# Title

Some intro text.

| a | b |
|---|---|
| 1 | 2 |

---

<div class="note">Raw HTML block</div>

> A quoted line
> that continues.

` + "```go\nfmt.Println(\"hi\")\n```" + `

- first item
- second item
`

const fenced = "# Guide\n\nIntro.\n\n```sh\n# install deps\nmake deps\n\n# run tests\nmake test\n```\n\nAfter the block.\n"

func compact(text string) string {
	return strings.Join(strings.Fields(text), "")
}

func joined(chunks []chunk.Chunk) string {
	var b strings.Builder
	for _, c := range chunks {
		b.WriteString(c.Content)
		b.WriteString(" ")
	}
	return b.String()
}

var _ = Describe("Splitter", func() {
	Describe("NewSplitter", func() {
		It("rejects an unknown strategy", func() {
			_, err := chunk.NewSplitter(chunk.WithStrategy("sentences"))
			Expect(err).To(HaveOccurred())
			Expect(err.Error()).To(ContainSubstring("unsupported splitter strategy"))
		})

		It("rejects an overlap larger than the chunk size", func() {
			_, err := chunk.NewSplitter(chunk.WithChunkSize(100), chunk.WithChunkOverlap(100))
			Expect(err).To(HaveOccurred())
		})

		It("defaults to the markdown strategy", func() {
			s, err := chunk.NewSplitter()
			Expect(err).NotTo(HaveOccurred())
			Expect(s.Strategy()).To(Equal(chunk.StrategyMarkdown))
		})
	})

	Describe("Split", func() {
		var splitter *chunk.Splitter

		BeforeEach(func() {
			var err error
			splitter, err = chunk.NewSplitter(
				chunk.WithStrategy(chunk.StrategyRecursive),
				chunk.WithChunkSize(200),
			)
			Expect(err).NotTo(HaveOccurred())
		})

		It("fails with ErrInvalidInput on an empty document", func() {
			_, err := splitter.Split("   \n\t", "doc.md")
			Expect(err).To(MatchError(chunk.ErrInvalidInput))
		})

		It("fails with ErrInvalidInput on invalid UTF-8", func() {
			_, err := splitter.Split("hello \xff world", "doc.md")
			Expect(err).To(MatchError(chunk.ErrInvalidInput))
		})

		It("fails with ErrInvalidInput on NUL bytes", func() {
			_, err := splitter.Split("hello\x00world", "doc.md")
			Expect(err).To(MatchError(chunk.ErrInvalidInput))
		})

		It("fails with ErrInvalidInput without a source id", func() {
			_, err := splitter.Split(handbook, "")
			Expect(err).To(MatchError(chunk.ErrInvalidInput))
		})

		It("assigns contiguous sequence indexes and the source id", func() {
			chunks, err := splitter.Split(handbook, "handbook.md")
			Expect(err).NotTo(HaveOccurred())
			Expect(len(chunks)).To(BeNumerically(">", 1))

			for i, c := range chunks {
				Expect(c.SequenceIndex).To(Equal(i))
				Expect(c.SourceID).To(Equal("handbook.md"))
				Expect(strings.TrimSpace(c.Content)).NotTo(BeEmpty())
				Expect(c.Metadata).To(HaveKey(chunk.MetaSection))
				Expect(c.Metadata).To(HaveKey(chunk.MetaCharCount))
			}
		})

		It("is deterministic", func() {
			first, err := splitter.Split(handbook, "handbook.md")
			Expect(err).NotTo(HaveOccurred())
			second, err := splitter.Split(handbook, "handbook.md")
			Expect(err).NotTo(HaveOccurred())
			Expect(second).To(Equal(first))
		})

		It("does not drop content", func() {
			chunks, err := splitter.Split(handbook, "handbook.md")
			Expect(err).NotTo(HaveOccurred())

			var joined strings.Builder
			for _, c := range chunks {
				joined.WriteString(c.Content)
				joined.WriteString(" ")
			}
			Expect(strings.Fields(joined.String())).To(Equal(strings.Fields(handbook)))
		})

		It("treats CRLF and LF documents the same", func() {
			lf, err := splitter.Split(handbook, "handbook.md")
			Expect(err).NotTo(HaveOccurred())
			crlf, err := splitter.Split(strings.ReplaceAll(handbook, "\n", "\r\n"), "handbook.md")
			Expect(err).NotTo(HaveOccurred())
			Expect(crlf).To(Equal(lf))
		})

		It("tracks the enclosing section across chunks", func() {
			chunks, err := splitter.Split(handbook, "handbook.md")
			Expect(err).NotTo(HaveOccurred())

			Expect(chunks[0].Metadata[chunk.MetaSection]).To(Equal("Handbook"))
			last := chunks[len(chunks)-1]
			Expect(last.Metadata[chunk.MetaSection]).To(Equal("Sick leave"))
			Expect(last.Metadata[chunk.MetaHeadingLevel]).To(Equal("3"))
		})

		It("does not read comments inside a code block split across chunks as headings", func() {
			small, err := chunk.NewSplitter(
				chunk.WithStrategy(chunk.StrategyRecursive),
				chunk.WithChunkSize(30),
			)
			Expect(err).NotTo(HaveOccurred())

			chunks, err := small.Split(fenced, "guide.md")
			Expect(err).NotTo(HaveOccurred())
			Expect(len(chunks)).To(BeNumerically(">", 2))
			for _, c := range chunks {
				Expect(c.Metadata[chunk.MetaSection]).To(Equal("Guide"), c.Content)
			}
		})
	})

	Describe("markdown strategy", func() {
		It("splits a long document deterministically", func() {
			splitter, err := chunk.NewSplitter(chunk.WithChunkSize(120))
			Expect(err).NotTo(HaveOccurred())

			first, err := splitter.Split(handbook, "handbook.md")
			Expect(err).NotTo(HaveOccurred())
			second, err := splitter.Split(handbook, "handbook.md")
			Expect(err).NotTo(HaveOccurred())

			Expect(len(first)).To(BeNumerically(">", 1))
			Expect(second).To(Equal(first))
		})

		DescribeTable("reproduces every block of the document",
			func(size int) {
				splitter, err := chunk.NewSplitter(chunk.WithChunkSize(size))
				Expect(err).NotTo(HaveOccurred())

				chunks, err := splitter.Split(mixed, "mixed.md")
				Expect(err).NotTo(HaveOccurred())
				Expect(compact(joined(chunks))).To(Equal(compact(mixed)))
			},
			Entry("small chunks", 60),
			Entry("medium chunks", 120),
			Entry("one chunk", 1000),
		)

		It("does not repeat the enclosing heading in later chunks", func() {
			splitter, err := chunk.NewSplitter(chunk.WithChunkSize(60))
			Expect(err).NotTo(HaveOccurred())

			chunks, err := splitter.Split(mixed, "mixed.md")
			Expect(err).NotTo(HaveOccurred())
			Expect(strings.Count(joined(chunks), "# Title")).To(Equal(1))
		})
	})
})
