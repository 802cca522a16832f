package eventstream

import (
	"time"

	"github.com/google/uuid"
)

const (
	// SchemaVersionV1 is the first version of the event payload schema.
	SchemaVersionV1 = 1

	// EventTypeIngestionCompleted is emitted after an ingestion run ends,
	// whether it succeeded or failed.
	EventTypeIngestionCompleted = "kdb.ingestion.completed"

	// EventTypeSourceDeleted is emitted after every record of a source was
	// removed.
	EventTypeSourceDeleted = "kdb.source.deleted"
)

// Event is a transport-neutral payload describing a change to the index.
type Event struct {
	SchemaVersion int          `json:"schema_version"`
	EventType     string       `json:"event_type"`
	EventID       string       `json:"event_id"`
	EmittedAt     time.Time    `json:"emitted_at"`
	SourceID      string       `json:"source_id"`
	Status        string       `json:"status"`
	Counts        EventCounts  `json:"counts"`
	Errors        []string     `json:"errors,omitempty"`
	Run           EventRunMeta `json:"run"`
}

// EventCounts mirrors the counts of an ingestion report.
type EventCounts struct {
	Added     int `json:"added"`
	Updated   int `json:"updated"`
	Deleted   int `json:"deleted"`
	Skipped   int `json:"skipped"`
	Unchanged int `json:"unchanged"`
}

// EventRunMeta captures run lifecycle metadata for the event.
type EventRunMeta struct {
	StartedAt           time.Time `json:"started_at"`
	DurationMs          int64     `json:"duration_ms"`
	Mode                string    `json:"mode,omitempty"`
	ContextModelVersion string    `json:"context_model_version,omitempty"`
}

// NewEvent returns an event of eventType for sourceID with a fresh id and
// emission time.
func NewEvent(eventType, sourceID string) *Event {
	return &Event{
		SchemaVersion: SchemaVersionV1,
		EventType:     eventType,
		EventID:       "evt_" + uuid.NewString(),
		EmittedAt:     time.Now().UTC(),
		SourceID:      sourceID,
	}
}
