package engine

import (
	"github.com/google/uuid"
)

// NewRunID returns a time-sortable UUIDv7 identifying one ingest run. It
// tags the run's log lines and spans.
//
// Panics if UUID generation fails (should never happen in practice).
func NewRunID() string {
	return uuid.Must(uuid.NewV7()).String()
}
