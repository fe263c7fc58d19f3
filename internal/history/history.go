package history

import (
	"context"
	"time"

	"github.com/loykin/idlewatch/internal/store"
)

// EventType defines the kind of worker lifecycle event.
type EventType string

const (
	EventStart EventType = "start"
	EventStop  EventType = "stop"
)

// Event represents a worker transition to be exported to external systems.
// Reason names what drove the transition: "idle" and "busy" for verdict
// changes, "pause" for operator holds, "manual" for direct commands.
type Event struct {
	Type       EventType    `json:"type"`
	OccurredAt time.Time    `json:"occurred_at"`
	Reason     string       `json:"reason,omitempty"`
	Record     store.Record `json:"record"`
}

// Sink is a destination for history events (analytics/statistics systems).
// Implementations must be safe for concurrent use.
type Sink interface {
	Send(ctx context.Context, e Event) error
}
