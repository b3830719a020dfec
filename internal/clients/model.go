package clients

import (
	"time"

	"github.com/google/uuid"
)

// UnknownClient labels documents whose client can no longer be resolved.
const UnknownClient = "Unknown client"

type Client struct {
	ID         uuid.UUID `json:"id"`
	UserID     uuid.UUID `json:"user_id"`
	Name       string    `json:"name"`
	Company    *string   `json:"company,omitempty"`
	Email      *string   `json:"email,omitempty"`
	Phone      *string   `json:"phone,omitempty"`
	VATNumber  *string   `json:"vat_number,omitempty"`
	Address    *string   `json:"address,omitempty"`
	PostalCode *string   `json:"postal_code,omitempty"`
	City       *string   `json:"city,omitempty"`
	Country    *string   `json:"country,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
}
