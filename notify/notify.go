// Package notify delivers workflow events to the outside world. The workflow
// decides when an event fires; implementations here only decide where it goes.
package notify

import (
	"context"
	"time"
)

type EventType string

const (
	EventSentToContractors    EventType = "request.sent_to_contractors"
	EventResponseAccepted     EventType = "response.accepted"
	EventRequestCompleted     EventType = "request.completed"
	EventRequestCancelled     EventType = "request.cancelled"
	EventVerificationApproved EventType = "verification.approved"
	EventVerificationRejected EventType = "verification.rejected"
	EventDocumentGenerated    EventType = "document.generated"
)

// Event is one outbound notification. SubjectID is the id of the aggregate
// the event is about.
type Event struct {
	ID         string         `json:"id"`
	Type       EventType      `json:"type"`
	SubjectID  int64          `json:"subject_id"`
	Payload    map[string]any `json:"payload"`
	OccurredAt time.Time      `json:"occurred_at"`
}

// Notifier delivers an event. Implementations must be safe for concurrent use.
type Notifier interface {
	Notify(ctx context.Context, event Event) error
}

// NotifierFunc adapts a function to Notifier.
type NotifierFunc func(ctx context.Context, event Event) error

func (f NotifierFunc) Notify(ctx context.Context, event Event) error {
	return f(ctx, event)
}
