// Package identity derives stable record identifiers for enriched chunks.
//
// A record id is a pure function of (source id, sequence index, content hash).
// The generated context is not part of the id, so re-enriching unchanged
// content with another model updates the same record in place.
package identity

import (
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"

	"github.com/google/uuid"

	"github.com/papercomputeco/kdb/pkg/chunk"
)

// namespace scopes every record id generated by kdb.
var namespace = uuid.MustParse("6f1c5a0e-2b7d-5c43-9a8e-3d2f4b1c7e90")

// ContentHash returns the hex encoded SHA-256 of content.
func ContentHash(content string) string {
	sum := sha256.Sum256([]byte(content))
	return hex.EncodeToString(sum[:])
}

// RecordID returns the UUIDv5 identifying the chunk at sequenceIndex of
// sourceID with the given content.
func RecordID(sourceID string, sequenceIndex int, content string) string {
	contentHash := sha256.Sum256([]byte(content))

	// Length-prefix the source id so ("ab", 1) and ("a", ...) never collide.
	buf := make([]byte, 0, 8+len(sourceID)+8+len(contentHash))
	buf = binary.BigEndian.AppendUint64(buf, uint64(len(sourceID)))
	buf = append(buf, sourceID...)
	buf = binary.BigEndian.AppendUint64(buf, uint64(sequenceIndex))
	buf = append(buf, contentHash[:]...)

	return uuid.NewSHA1(namespace, buf).String()
}

// Of returns the record id for a plain chunk.
func Of(c chunk.Chunk) string {
	return RecordID(c.SourceID, c.SequenceIndex, c.Content)
}

// Identify returns the record id for an enriched chunk. The context fields
// do not contribute.
func Identify(c chunk.EnrichedChunk) string {
	return Of(c.Chunk)
}

// Fingerprint digests what must match for a stored record to be reused as is:
// its id and the version of the model that wrote its context.
func Fingerprint(recordID, contextModelVersion string) string {
	h := sha256.New()
	h.Write([]byte(recordID))
	h.Write([]byte{0})
	h.Write([]byte(contextModelVersion))
	return hex.EncodeToString(h.Sum(nil))
}
