package domain

import (
	"time"

	"github.com/google/uuid"
)

// SearchTelemetry is one immutable record per completed search.
type SearchTelemetry struct {
	ID           string    `json:"searchId"`
	Phrase       string    `json:"searchPhrase"`
	ProcessingMs int64     `json:"processingTime"`
	NodesFound   int       `json:"nodesFound"`
	CompletedAt  time.Time `json:"timestamp"`
	// Failed marks a search that ended without any engine able to serve it.
	Failed bool `json:"failed"`
}

// NewSearchTelemetry stamps a record with a fresh ID and completion time.
func NewSearchTelemetry(phrase string, elapsed time.Duration, nodesFound int, failed bool) SearchTelemetry {
	return SearchTelemetry{
		ID:           uuid.NewString(),
		Phrase:       phrase,
		ProcessingMs: elapsed.Milliseconds(),
		NodesFound:   nodesFound,
		CompletedAt:  time.Now(),
		Failed:       failed,
	}
}
