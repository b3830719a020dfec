package clients

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"github.com/invoicely/invoicely/internal/shared"
)

// TenantInvalidator drops cached views of a tenant after a client change.
type TenantInvalidator interface {
	InvalidateTenant(ctx context.Context, userID uuid.UUID) error
}

// TenantInvalidators fans a tenant invalidation out to every member.
type TenantInvalidators []TenantInvalidator

// InvalidateTenant implements TenantInvalidator. Every member is called even
// when an earlier one fails.
func (ts TenantInvalidators) InvalidateTenant(ctx context.Context, userID uuid.UUID) error {
	var errs []error
	for _, inv := range ts {
		if inv == nil {
			continue
		}
		if err := inv.InvalidateTenant(ctx, userID); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

type Service struct {
	repo        Repository
	logger      *slog.Logger
	validate    *validator.Validate
	invalidator TenantInvalidator
	now         func() time.Time
}

type Option func(*Service)

// WithInvalidator registers the cache invalidated after every write.
func WithInvalidator(inv TenantInvalidator) Option {
	return func(s *Service) { s.invalidator = inv }
}

func NewService(repo Repository, logger *slog.Logger, opts ...Option) *Service {
	s := &Service{
		repo:     repo,
		logger:   logger,
		validate: shared.NewValidator(),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Service) Create(ctx context.Context, req CreateClientRequest) (*Client, error) {
	userID, err := shared.RequireUserID(ctx)
	if err != nil {
		return nil, err
	}
	req.Name = strings.TrimSpace(req.Name)
	if err := shared.ValidateStruct(s.validate, req); err != nil {
		return nil, err
	}

	now := s.now().UTC()
	client := Client{
		ID:         uuid.New(),
		UserID:     userID,
		Name:       req.Name,
		Company:    req.Company,
		Email:      req.Email,
		Phone:      req.Phone,
		VATNumber:  req.VATNumber,
		Address:    req.Address,
		PostalCode: req.PostalCode,
		City:       req.City,
		Country:    req.Country,
		CreatedAt:  now,
		UpdatedAt:  now,
	}

	err = s.repo.WithTx(ctx, func(ctx context.Context, repo Repository) error {
		return repo.Create(ctx, client)
	})
	if err != nil {
		return nil, fmt.Errorf("create client: %w", err)
	}
	s.invalidate(ctx, userID)
	return &client, nil
}

func (s *Service) Update(ctx context.Context, id uuid.UUID, req UpdateClientRequest) (*Client, error) {
	userID, err := shared.RequireUserID(ctx)
	if err != nil {
		return nil, err
	}
	if req.Name != nil {
		name := strings.TrimSpace(*req.Name)
		req.Name = &name
	}
	if err := shared.ValidateStruct(s.validate, req); err != nil {
		return nil, err
	}

	updates := make(map[string]any)
	if req.Name != nil {
		updates["name"] = *req.Name
	}
	if req.Company != nil {
		updates["company"] = *req.Company
	}
	if req.Email != nil {
		updates["email"] = *req.Email
	}
	if req.Phone != nil {
		updates["phone"] = *req.Phone
	}
	if req.VATNumber != nil {
		updates["vat_number"] = *req.VATNumber
	}
	if req.Address != nil {
		updates["address"] = *req.Address
	}
	if req.PostalCode != nil {
		updates["postal_code"] = *req.PostalCode
	}
	if req.City != nil {
		updates["city"] = *req.City
	}
	if req.Country != nil {
		updates["country"] = *req.Country
	}

	if len(updates) == 0 {
		return s.repo.Get(ctx, userID, id)
	}

	var updated *Client
	err = s.repo.WithTx(ctx, func(ctx context.Context, repo Repository) error {
		if err := repo.Update(ctx, userID, id, updates); err != nil {
			return err
		}
		var err error
		updated, err = repo.Get(ctx, userID, id)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("update client: %w", err)
	}
	s.invalidate(ctx, userID)
	return updated, nil
}

// Delete removes a client. Documents referencing it are kept and render
// with the UnknownClient label.
func (s *Service) Delete(ctx context.Context, id uuid.UUID) error {
	userID, err := shared.RequireUserID(ctx)
	if err != nil {
		return err
	}
	if err := s.repo.Delete(ctx, userID, id); err != nil {
		return fmt.Errorf("delete client: %w", err)
	}
	s.invalidate(ctx, userID)
	return nil
}

func (s *Service) Get(ctx context.Context, id uuid.UUID) (*Client, error) {
	userID, err := shared.RequireUserID(ctx)
	if err != nil {
		return nil, err
	}
	return s.repo.Get(ctx, userID, id)
}

func (s *Service) List(ctx context.Context, req ListClientsRequest) ([]Client, shared.Pagination, error) {
	userID, err := shared.RequireUserID(ctx)
	if err != nil {
		return nil, shared.Pagination{}, err
	}
	req.Limit = shared.ClampLimit(req.Limit)
	if err := shared.ValidateStruct(s.validate, req); err != nil {
		return nil, shared.Pagination{}, err
	}
	clients, total, err := s.repo.List(ctx, userID, req)
	if err != nil {
		return nil, shared.Pagination{}, fmt.Errorf("list clients: %w", err)
	}
	if clients == nil {
		clients = []Client{}
	}
	return clients, shared.NewPagination(req.Limit, req.Offset, total), nil
}

// Exists reports whether clientID belongs to userID.
func (s *Service) Exists(ctx context.Context, userID, clientID uuid.UUID) (bool, error) {
	return s.repo.Exists(ctx, userID, clientID)
}

// Resolve returns the client, or a placeholder named UnknownClient when it
// no longer exists.
func (s *Service) Resolve(ctx context.Context, userID, clientID uuid.UUID) (Client, error) {
	c, err := s.repo.Get(ctx, userID, clientID)
	if errors.Is(err, ErrNotFound) {
		return Client{ID: clientID, UserID: userID, Name: UnknownClient}, nil
	}
	if err != nil {
		return Client{}, err
	}
	if strings.TrimSpace(c.Name) == "" {
		c.Name = UnknownClient
	}
	return *c, nil
}

// LookupName returns the display name of a client, falling back to
// UnknownClient.
func (s *Service) LookupName(ctx context.Context, userID, clientID uuid.UUID) (string, error) {
	c, err := s.Resolve(ctx, userID, clientID)
	if err != nil {
		return "", err
	}
	return c.Name, nil
}

func (s *Service) invalidate(ctx context.Context, userID uuid.UUID) {
	if s.invalidator == nil {
		return
	}
	if err := s.invalidator.InvalidateTenant(ctx, userID); err != nil {
		s.logger.Warn("invalidate client views failed", slog.String("user_id", userID.String()), slog.Any("error", err))
	}
}
