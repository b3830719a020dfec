package clients

type CreateClientRequest struct {
	Name       string  `json:"name" validate:"required,max=200"`
	Company    *string `json:"company,omitempty" validate:"omitempty,max=200"`
	Email      *string `json:"email,omitempty" validate:"omitempty,email"`
	Phone      *string `json:"phone,omitempty" validate:"omitempty,max=50"`
	VATNumber  *string `json:"vat_number,omitempty" validate:"omitempty,max=50"`
	Address    *string `json:"address,omitempty" validate:"omitempty,max=200"`
	PostalCode *string `json:"postal_code,omitempty" validate:"omitempty,max=20"`
	City       *string `json:"city,omitempty" validate:"omitempty,max=100"`
	Country    *string `json:"country,omitempty" validate:"omitempty,max=100"`
}

type UpdateClientRequest struct {
	Name       *string `json:"name,omitempty" validate:"omitempty,min=1,max=200"`
	Company    *string `json:"company,omitempty" validate:"omitempty,max=200"`
	Email      *string `json:"email,omitempty" validate:"omitempty,email"`
	Phone      *string `json:"phone,omitempty" validate:"omitempty,max=50"`
	VATNumber  *string `json:"vat_number,omitempty" validate:"omitempty,max=50"`
	Address    *string `json:"address,omitempty" validate:"omitempty,max=200"`
	PostalCode *string `json:"postal_code,omitempty" validate:"omitempty,max=20"`
	City       *string `json:"city,omitempty" validate:"omitempty,max=100"`
	Country    *string `json:"country,omitempty" validate:"omitempty,max=100"`
}

type ListClientsRequest struct {
	Search *string `json:"search,omitempty"`
	Limit  int     `json:"limit" validate:"gte=0,lte=500"`
	Offset int     `json:"offset" validate:"gte=0"`
}
