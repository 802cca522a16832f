package enrich

import "errors"

// ErrEnrichment is returned when a chunk context cannot be generated or the
// model response does not match the expected schema.
var ErrEnrichment = errors.New("enrichment failed")
