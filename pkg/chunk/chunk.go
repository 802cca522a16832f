// Package chunk splits markdown documents into ordered retrieval chunks.
package chunk

// Metadata keys set on every chunk produced by a Splitter.
const (
	MetaSection      = "section"
	MetaHeadingLevel = "heading_level"
	MetaCharCount    = "char_count"
)

// Chunk is a contiguous slice of a source document treated as one retrievable unit.
type Chunk struct {
	// Content is the chunk text as produced by the splitter.
	Content string `json:"content"`

	// SourceID identifies the owning document (typically a file name).
	SourceID string `json:"source_id"`

	// SequenceIndex is the position of the chunk within the document.
	SequenceIndex int `json:"sequence_index"`

	// Metadata holds structural markers such as the enclosing section heading.
	Metadata map[string]string `json:"metadata,omitempty"`
}

// EnrichedChunk is a Chunk annotated with an LLM generated search context.
type EnrichedChunk struct {
	Chunk

	// Context describes the chunk's role within the whole document.
	Context string `json:"context"`

	// ContextModelVersion identifies the model that produced Context.
	ContextModelVersion string `json:"context_model_version"`
}
