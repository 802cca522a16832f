package provider_test

import (
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/papercomputeco/kdb/pkg/llm/provider"
)

var _ = Describe("NewCompleter", func() {
	It("builds an ollama completer without credentials", func() {
		c, err := provider.NewCompleter(&provider.NewCompleterOpts{
			ProviderType: "ollama",
			Model:        "qwen3",
		})
		Expect(err).NotTo(HaveOccurred())
		Expect(c.Model()).To(Equal("qwen3"))
	})

	It("uses an explicit API key for anthropic", func() {
		c, err := provider.NewCompleter(&provider.NewCompleterOpts{
			ProviderType: "Anthropic",
			APIKey:       "explicit",
		})
		Expect(err).NotTo(HaveOccurred())
		Expect(c).NotTo(BeNil())
	})

	It("falls back to the environment for anthropic keys", func() {
		GinkgoT().Setenv("ANTHROPIC_API_KEY", "")
		_, err := provider.NewCompleter(&provider.NewCompleterOpts{ProviderType: "anthropic"})
		Expect(err).To(HaveOccurred())

		GinkgoT().Setenv("ANTHROPIC_API_KEY", "from-env")
		_, err = provider.NewCompleter(&provider.NewCompleterOpts{ProviderType: "anthropic"})
		Expect(err).NotTo(HaveOccurred())
	})

	It("rejects unknown providers", func() {
		_, err := provider.NewCompleter(&provider.NewCompleterOpts{ProviderType: "bedrock"})
		Expect(err).To(MatchError(ContainSubstring("unsupported llm provider")))
	})
})
