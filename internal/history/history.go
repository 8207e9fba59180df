// Package history records the outcome of every refresh check so operators
// can see when the dataset last changed and why a check failed.
package history

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// DefaultCapacity is how many events are kept when no capacity is given.
const DefaultCapacity = 100

// DefaultLimit is the page size for Recent when limit <= 0.
const DefaultLimit = 20

// Event is one finished refresh check.
type Event struct {
	ID          string        `json:"id"`
	Trigger     string        `json:"trigger"`
	Outcome     string        `json:"outcome"`
	StartedAt   time.Time     `json:"started_at"`
	Duration    time.Duration `json:"duration_ns"`
	RecordCount int           `json:"record_count"`
	ETag        string        `json:"etag,omitempty"`
	Warning     string        `json:"warning,omitempty"`
	Error       string        `json:"error,omitempty"`
}

// NewID returns a fresh event ID.
func NewID() string {
	return uuid.NewString()
}

// Recorder stores events.
type Recorder interface {
	Record(ctx context.Context, e Event) error
	// Recent returns up to limit events, newest first.
	Recent(ctx context.Context, limit int) ([]Event, error)
	Close()
}
