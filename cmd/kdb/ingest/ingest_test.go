package ingestcmder_test

import (
	"context"
	"os"
	"path/filepath"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	ingestcmder "github.com/papercomputeco/kdb/cmd/kdb/ingest"
)

var _ = Describe("Collect", func() {
	var dir string

	BeforeEach(func() {
		dir = GinkgoT().TempDir()
		write := func(rel string) {
			p := filepath.Join(dir, rel)
			Expect(os.MkdirAll(filepath.Dir(p), 0o755)).To(Succeed())
			Expect(os.WriteFile(p, []byte("# "+rel+"\n\ntext\n"), 0o644)).To(Succeed())
		}
		write("a.md")
		write("nested/b.md")
		write("notes.txt")
		write(".hidden/c.md")
	})

	It("keys directory documents relative to the directory", func() {
		docs, err := ingestcmder.Collect(context.Background(), []string{dir})
		Expect(err).NotTo(HaveOccurred())

		ids := make([]string, len(docs))
		for i, d := range docs {
			ids[i] = d.SourceID
			Expect(d.Path).To(BeAnExistingFile())
		}
		Expect(ids).To(Equal([]string{"a.md", "nested/b.md"}))
	})

	It("keys files by their path", func() {
		p := filepath.Join(dir, "nested", "..", "a.md")
		docs, err := ingestcmder.Collect(context.Background(), []string{p})
		Expect(err).NotTo(HaveOccurred())
		Expect(docs).To(ConsistOf(ingestcmder.Document{
			SourceID: filepath.ToSlash(filepath.Join(dir, "a.md")),
			Path:     p,
		}))
	})

	It("fails on a missing path", func() {
		_, err := ingestcmder.Collect(context.Background(), []string{filepath.Join(dir, "missing.md")})
		Expect(err).To(HaveOccurred())
	})
})
