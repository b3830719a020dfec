package documents

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/invoicely/invoicely/internal/documents/doctype"
	"github.com/invoicely/invoicely/internal/documents/status"
)

// EventKind names a confirmed document mutation.
type EventKind string

const (
	EventCreated       EventKind = "created"
	EventUpdated       EventKind = "updated"
	EventDeleted       EventKind = "deleted"
	EventDuplicated    EventKind = "duplicated"
	EventStatusChanged EventKind = "status_changed"
)

// Event describes a mutation the store has confirmed.
type Event struct {
	Kind       EventKind     `json:"kind"`
	UserID     uuid.UUID     `json:"user_id"`
	DocumentID uuid.UUID     `json:"document_id"`
	Type       doctype.Type  `json:"type"`
	Number     string        `json:"number"`
	Status     status.Status `json:"status"`
	FromStatus status.Status `json:"from_status,omitempty"`
	SourceID   *uuid.UUID    `json:"source_id,omitempty"`
	Total      string        `json:"total"`
	At         time.Time     `json:"at"`
}

// Invalidator is notified after every confirmed mutation so dependent views
// can be refreshed. It is never called for a failed write.
type Invalidator interface {
	Invalidate(ctx context.Context, evt Event) error
}

// InvalidatorFunc adapts a function to Invalidator.
type InvalidatorFunc func(ctx context.Context, evt Event) error

// Invalidate implements Invalidator.
func (f InvalidatorFunc) Invalidate(ctx context.Context, evt Event) error {
	return f(ctx, evt)
}

func newEvent(kind EventKind, doc Document, at time.Time) Event {
	return Event{
		Kind:       kind,
		UserID:     doc.UserID,
		DocumentID: doc.ID,
		Type:       doc.Type,
		Number:     doc.Number,
		Status:     doc.Status,
		Total:      doc.Total.StringFixed(2),
		At:         at,
	}
}
