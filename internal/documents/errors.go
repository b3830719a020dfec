package documents

import (
	"fmt"

	"github.com/google/uuid"

	"github.com/invoicely/invoicely/internal/platform/db"
	"github.com/invoicely/invoicely/internal/platform/httpx"
	"github.com/invoicely/invoicely/internal/shared"
)

var (
	// ErrNotFound indicates the document does not exist for the tenant.
	ErrNotFound = fmt.Errorf("document not found: %w", httpx.ErrNotFound)
	// ErrNumberConflict indicates another document already holds the number.
	ErrNumberConflict = fmt.Errorf("document number already in use, please try again: %w", httpx.ErrDuplicate)
	// ErrInvalidTransition indicates a status change the workflow rejects.
	ErrInvalidTransition = fmt.Errorf("status change not allowed: %w", httpx.ErrUnprocessable)
)

// ValidationError reports field-level problems found before any write.
type ValidationError = shared.ValidationError

// StoreError wraps a persistence failure with the operation and document it
// concerned.
type StoreError struct {
	Op  string
	ID  uuid.UUID
	Err error
}

func (e *StoreError) Error() string {
	if e.ID == uuid.Nil {
		return fmt.Sprintf("documents: %s: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("documents: %s %s: %v", e.Op, e.ID, e.Err)
}

func (e *StoreError) Unwrap() error {
	return e.Err
}

// Retryable reports whether the failure is transient.
func (e *StoreError) Retryable() bool {
	return db.IsTransient(e.Err)
}

func storeErr(op string, id uuid.UUID, err error) error {
	if err == nil {
		return nil
	}
	return &StoreError{Op: op, ID: id, Err: err}
}
