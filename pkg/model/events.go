package model

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// Envelope is the canonical event envelope published to NATS.
type Envelope struct {
	ID            uuid.UUID       `json:"id"`
	CorrelationID uuid.UUID       `json:"correlation_id"`
	Topic         string          `json:"topic"`
	EventType     string          `json:"event_type"`
	Version       string          `json:"version"`
	Source        string          `json:"source"`
	Timestamp     time.Time       `json:"timestamp"`
	Payload       json.RawMessage `json:"payload"`
}

// Ingestion run outcomes.
const (
	OutcomeCompleted = "completed"
	OutcomeFailed    = "failed"
	OutcomeCanceled  = "canceled"
	OutcomeCapped    = "capped"
)

// RunSummary describes one ingestion run. It is stored as the last run status
// and published as the payload of evt.catalog.ingestion.completed.v1.
type RunSummary struct {
	RunID      uuid.UUID `json:"runId"`
	Outcome    string    `json:"outcome"`
	StartPage  int       `json:"startPage"`
	LastPage   int       `json:"lastPage"`
	Pages      int       `json:"pages"`
	Items      int       `json:"items"`
	Stored     int       `json:"stored"`
	Skipped    int       `json:"skipped"`
	Failed     int       `json:"failed"`
	Error      string    `json:"error,omitempty"`
	StartedAt  time.Time `json:"startedAt"`
	FinishedAt time.Time `json:"finishedAt"`
}
