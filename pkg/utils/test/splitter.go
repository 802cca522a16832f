package testutils

import (
	"fmt"
	"strings"

	"github.com/papercomputeco/kdb/pkg/chunk"
)

// ParagraphSplitter splits on blank lines, one chunk per paragraph. It makes
// chunk boundaries obvious in tests.
type ParagraphSplitter struct{}

func (ParagraphSplitter) Split(markdown, sourceID string) ([]chunk.Chunk, error) {
	if err := chunk.Validate(markdown, sourceID); err != nil {
		return nil, err
	}

	var chunks []chunk.Chunk
	for _, para := range strings.Split(markdown, "\n\n") {
		para = strings.TrimSpace(para)
		if para == "" {
			continue
		}
		chunks = append(chunks, chunk.Chunk{
			Content:       para,
			SourceID:      sourceID,
			SequenceIndex: len(chunks),
			Metadata:      map[string]string{chunk.MetaCharCount: fmt.Sprint(len(para))},
		})
	}
	return chunks, nil
}

// Paragraphs joins paragraphs into a document ParagraphSplitter splits back
// into the same pieces.
func Paragraphs(paras ...string) string {
	return strings.Join(paras, "\n\n")
}
