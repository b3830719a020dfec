// Package status defines the closed status vocabularies of invoices and
// quotes and the transitions between them.
package status

import (
	"errors"
	"fmt"
	"time"

	"github.com/invoicely/invoicely/internal/documents/doctype"
)

// Status is a document workflow state.
type Status string

const (
	Draft     Status = "draft"
	Pending   Status = "pending"
	Paid      Status = "paid"
	Overdue   Status = "overdue"
	Cancelled Status = "cancelled"
	Accepted  Status = "accepted"
	Rejected  Status = "rejected"
)

// Action is a user-facing workflow command.
type Action string

const (
	ActionSend        Action = "send"
	ActionMarkPaid    Action = "mark_paid"
	ActionMarkOverdue Action = "mark_overdue"
	// ActionCancel cancels an invoice via credit note, or rejects a quote.
	ActionCancel Action = "cancel"
	ActionAccept Action = "accept"
)

var (
	// ErrUnknownStatus indicates a status outside the type's vocabulary.
	ErrUnknownStatus = errors.New("unknown status")
	// ErrIllegalTransition indicates a transition the workflow does not allow.
	ErrIllegalTransition = errors.New("illegal status transition")
	// ErrUnknownAction indicates an action not available for the type.
	ErrUnknownAction = errors.New("unknown action")
)

var transitions = map[doctype.Type]map[Status][]Status{
	doctype.Invoice: {
		Draft:     {Pending},
		Pending:   {Paid, Overdue, Cancelled},
		Paid:      nil,
		Overdue:   nil,
		Cancelled: nil,
	},
	doctype.Quote: {
		Pending:  {Accepted, Rejected},
		Accepted: nil,
		Rejected: nil,
	},
}

var actions = map[doctype.Type]map[Action]Status{
	doctype.Invoice: {
		ActionSend:        Pending,
		ActionMarkPaid:    Paid,
		ActionMarkOverdue: Overdue,
		ActionCancel:      Cancelled,
	},
	doctype.Quote: {
		ActionAccept: Accepted,
		ActionCancel: Rejected,
	},
}

// Initial returns the status a new document of type t starts in.
func Initial(t doctype.Type) Status {
	if t == doctype.Quote {
		return Pending
	}
	return Draft
}

// Statuses lists the vocabulary of t in workflow order.
func Statuses(t doctype.Type) []Status {
	switch t {
	case doctype.Invoice:
		return []Status{Draft, Pending, Paid, Overdue, Cancelled}
	case doctype.Quote:
		return []Status{Pending, Accepted, Rejected}
	default:
		return nil
	}
}

// Valid reports whether s belongs to the vocabulary of t.
func Valid(t doctype.Type, s Status) bool {
	_, ok := transitions[t][s]
	return ok
}

// IsTerminal reports whether s has no outgoing transitions for t.
func IsTerminal(t doctype.Type, s Status) bool {
	next, ok := transitions[t][s]
	return ok && len(next) == 0
}

// Next lists the statuses reachable from s.
func Next(t doctype.Type, s Status) []Status {
	next := transitions[t][s]
	out := make([]Status, len(next))
	copy(out, next)
	return out
}

// CanTransition reports whether from may move to to.
func CanTransition(t doctype.Type, from, to Status) bool {
	for _, candidate := range transitions[t][from] {
		if candidate == to {
			return true
		}
	}
	return false
}

// Validate returns nil when from → to is allowed for t.
func Validate(t doctype.Type, from, to Status) error {
	if !Valid(t, to) {
		return fmt.Errorf("%w: %q is not a %s status", ErrUnknownStatus, to, t)
	}
	if !Valid(t, from) {
		return fmt.Errorf("%w: stored %s status %q", ErrUnknownStatus, t, from)
	}
	if !CanTransition(t, from, to) {
		return fmt.Errorf("%w: %s cannot move from %s to %s", ErrIllegalTransition, t, from, to)
	}
	return nil
}

// Resolve maps an action to its target status for t.
func Resolve(t doctype.Type, action Action) (Status, error) {
	target, ok := actions[t][action]
	if !ok {
		return "", fmt.Errorf("%w: %q for %s", ErrUnknownAction, action, t)
	}
	return target, nil
}

// IsOverdue infers at read time whether an unpaid invoice is past due. It
// never changes the stored status.
func IsOverdue(t doctype.Type, s Status, due *time.Time, now time.Time) bool {
	if t != doctype.Invoice || due == nil {
		return false
	}
	if s == Overdue {
		return true
	}
	if s != Pending {
		return false
	}
	today := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
	dueDay := time.Date(due.Year(), due.Month(), due.Day(), 0, 0, 0, 0, time.UTC)
	return dueDay.Before(today)
}
