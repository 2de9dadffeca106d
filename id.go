package dagflow

import (
	"time"

	"github.com/google/uuid"
)

// NewRunID generates a globally unique, time-sortable UUIDv7 (RFC 9562)
// used to correlate a WorkflowResult with its logs and trace spans.
func NewRunID() string {
	return uuid.Must(uuid.NewV7()).String()
}

// nowMillis returns the current time as Unix milliseconds, the unit used
// throughout StreamChunk and TaskExecutionResult timestamps.
func nowMillis() int64 {
	return time.Now().UnixMilli()
}
