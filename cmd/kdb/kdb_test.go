package kdbcmder_test

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	kdbcmder "github.com/papercomputeco/kdb/cmd/kdb"
	"github.com/papercomputeco/kdb/pkg/ingest"
	testutils "github.com/papercomputeco/kdb/pkg/utils/test"
	"github.com/papercomputeco/kdb/pkg/vector"
)

const handbook = `# Handbook

Everyone works remotely on Fridays.

## Expenses

Receipts are submitted within thirty days.
`

var _ = Describe("NewKdbCmd", func() {
	It("registers every subcommand", func() {
		cmd := kdbcmder.NewKdbCmd()
		names := make([]string, 0, len(cmd.Commands()))
		for _, sub := range cmd.Commands() {
			names = append(names, sub.Name())
		}
		Expect(names).To(ContainElements(
			"init", "config", "provision", "ingest", "search", "records",
			"delete", "reconcile", "watch", "serve", "version",
		))
	})

	It("has global debug and config-dir flags", func() {
		cmd := kdbcmder.NewKdbCmd()
		Expect(cmd.PersistentFlags().Lookup("debug")).NotTo(BeNil())
		Expect(cmd.PersistentFlags().Lookup("config-dir")).NotTo(BeNil())
	})
})

var _ = Describe("kdb against a local SQLite index", func() {
	var (
		configDir string
		docsDir   string
		ollama    *testutils.OllamaServer
	)

	BeforeEach(func() {
		configDir = GinkgoT().TempDir()
		docsDir = GinkgoT().TempDir()
		ollama = testutils.NewOllamaServer(testutils.DefaultMockDimensions)
		DeferCleanup(ollama.Close)

		Expect(os.WriteFile(filepath.Join(docsDir, "handbook.md"), []byte(handbook), 0o644)).To(Succeed())
		Expect(os.MkdirAll(filepath.Join(docsDir, "team"), 0o755)).To(Succeed())
		Expect(os.WriteFile(filepath.Join(docsDir, "team", "oncall.md"),
			[]byte("# On call\n\nThe rotation changes every Monday.\n"), 0o644)).To(Succeed())
	})

	run := func(args ...string) (string, error) {
		var out bytes.Buffer
		cmd := kdbcmder.NewKdbCmd()
		cmd.SetOut(&out)
		cmd.SetErr(&out)
		cmd.SetArgs(append(args,
			"--config-dir", configDir,
			"--embedding-target", ollama.URL,
			"--llm-target", ollama.URL,
			"--vector-size", "8",
			"--no-color",
		))
		err := cmd.Execute()
		return out.String(), err
	}

	It("indexes a directory, searches it and deletes a source", func() {
		out, err := run("ingest", docsDir)
		Expect(err).NotTo(HaveOccurred(), out)
		Expect(out).To(ContainSubstring("handbook.md"))
		Expect(out).To(ContainSubstring("team/oncall.md"))
		Expect(filepath.Join(configDir, "kdb.sqlite")).To(BeAnExistingFile())
		Expect(filepath.Join(configDir, "kdb_state.sqlite")).To(BeAnExistingFile())

		out, err = run("records")
		Expect(err).NotTo(HaveOccurred())
		Expect(out).To(ContainSubstring("handbook.md"))
		Expect(out).To(ContainSubstring("team/oncall.md"))

		out, err = run("search", "expenses", "--json", "--source", "handbook.md")
		Expect(err).NotTo(HaveOccurred())
		var results []vector.SearchResult
		Expect(json.Unmarshal([]byte(out), &results)).To(Succeed(), out)
		Expect(results).NotTo(BeEmpty())
		for _, r := range results {
			Expect(r.Metadata[vector.MetaSourceID]).To(Equal("handbook.md"))
		}

		out, err = run("reconcile", "handbook.md")
		Expect(err).NotTo(HaveOccurred(), out)
		Expect(out).To(ContainSubstring("consistent"))

		out, err = run("delete", "handbook.md")
		Expect(err).NotTo(HaveOccurred())
		Expect(out).To(ContainSubstring("records deleted"))

		out, err = run("records", "handbook.md")
		Expect(err).NotTo(HaveOccurred())
		Expect(out).To(ContainSubstring("No records for handbook.md"))
	})

	It("does not regenerate context for unchanged documents", func() {
		_, err := run("ingest", docsDir)
		Expect(err).NotTo(HaveOccurred())
		chats := ollama.Chats()
		Expect(chats).To(BeNumerically(">", 0))

		out, err := run("ingest", docsDir)
		Expect(err).NotTo(HaveOccurred())
		Expect(out).To(ContainSubstring("+0"))
		Expect(ollama.Chats()).To(Equal(chats))
	})

	It("writes enriched chunks as JSON on a dry run without indexing", func() {
		output := filepath.Join(GinkgoT().TempDir(), "chunks.json")
		_, err := run("ingest", filepath.Join(docsDir, "handbook.md"), "--source-id", "handbook", "--dry-run", "--output", output)
		Expect(err).NotTo(HaveOccurred())

		data, err := os.ReadFile(output)
		Expect(err).NotTo(HaveOccurred())
		var previews []ingest.Preview
		Expect(json.Unmarshal(data, &previews)).To(Succeed())
		Expect(previews).To(HaveLen(1))
		Expect(previews[0].SourceID).To(Equal("handbook"))
		Expect(previews[0].Chunks).NotTo(BeEmpty())
		Expect(previews[0].Chunks[0].Context).To(Equal("Part of a test document."))
		Expect(ollama.Embeds()).To(BeZero())

		out, err := run("records")
		Expect(err).NotTo(HaveOccurred())
		Expect(out).To(ContainSubstring("No sources indexed."))
	})

	It("provisions the store", func() {
		out, err := run("provision")
		Expect(err).NotTo(HaveOccurred(), out)
		Expect(out).To(ContainSubstring(`collection "kdb_chunks"`))
	})

	It("rejects --source-id with several paths", func() {
		_, err := run("ingest", docsDir, docsDir, "--source-id", "x")
		Expect(err).To(MatchError(ContainSubstring("--source-id")))
	})

	It("rejects an invalid failure policy", func() {
		_, err := run("ingest", docsDir, "--failure-policy", "retry-forever")
		Expect(err).To(HaveOccurred())
	})
})
