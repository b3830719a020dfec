package shared

import (
	"errors"
	"fmt"

	"github.com/invoicely/invoicely/internal/platform/httpx"
)

var (
	// ErrNoTenant indicates the request carries no authenticated user.
	ErrNoTenant = fmt.Errorf("no authenticated user: %w", httpx.ErrUnauthorized)
	// ErrIdempotencyConflict indicates a duplicate idempotency key.
	ErrIdempotencyConflict = fmt.Errorf("idempotent request already processed: %w", httpx.ErrDuplicate)
	// ErrIdempotencyKeyRequired occurs when an empty key is recorded.
	ErrIdempotencyKeyRequired = errors.New("idempotency key required")
)
