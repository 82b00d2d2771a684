// internal/registry/implementation.go
package registry

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/mail"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"loyalnexus/internal/notify"
)

// Option customises the registry service.
type Option func(*service)

// WithRateLimit overrides the onboarding/login throttle.
func WithRateLimit(limit rate.Limit, burst int) Option {
	return func(s *service) {
		s.rateLimiter = rate.NewLimiter(limit, burst)
	}
}

// WithLogger sets the service logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *service) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithClock overrides time.Now (tests).
func WithClock(now func() time.Time) Option {
	return func(s *service) {
		if now != nil {
			s.now = now
		}
	}
}

// service implements the Service interface.
type service struct {
	repo        Repository
	rateLimiter *rate.Limiter
	logger      *slog.Logger
	now         func() time.Time
}

// NewService creates a new registry service instance.
func NewService(repo Repository, opts ...Option) Service {
	s := &service{
		repo:        repo,
		rateLimiter: rate.NewLimiter(rate.Every(1*time.Minute), 5), // 5 requests per minute
		logger:      slog.Default(),
		now:         time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// RegisterBusiness onboards a business and its owner account.
func (s *service) RegisterBusiness(ctx context.Context, in RegisterBusinessInput) (*Business, error) {
	if !s.rateLimiter.Allow() {
		return nil, ErrRateLimited
	}

	name := strings.TrimSpace(in.Name)
	if name == "" {
		return nil, fmt.Errorf("%w: business name is required", ErrInvalidInput)
	}
	email, err := NormalizeEmail(in.Email)
	if err != nil {
		return nil, err
	}
	if len(in.Password) < minPasswordLength {
		return nil, fmt.Errorf("%w: password must be at least %d characters", ErrInvalidInput, minPasswordLength)
	}
	threshold := in.Threshold
	if threshold == 0 {
		threshold = DefaultThreshold
	}
	if threshold < 1 {
		return nil, fmt.Errorf("%w: threshold must be positive", ErrInvalidInput)
	}
	dests := in.Notifications
	if len(dests) == 0 {
		dests = []notify.Destination{{Channel: notify.ChannelEmail, Address: email}}
	}
	if err := validateDestinations(dests); err != nil {
		return nil, err
	}

	passwordHash, salt, err := hashPassword(in.Password)
	if err != nil {
		return nil, fmt.Errorf("failed to hash password: %w", err)
	}

	business := &Business{
		ID:            uuid.New(),
		OwnerID:       uuid.New(),
		Name:          name,
		Email:         email,
		Phone:         strings.TrimSpace(in.Phone),
		Address:       strings.TrimSpace(in.Address),
		Threshold:     threshold,
		Notifications: dests,
		CreatedAt:     s.now().UTC(),
	}
	credential := &Credential{
		BusinessID:   business.ID,
		PasswordHash: passwordHash,
		Salt:         salt,
	}

	if err := s.repo.CreateBusiness(ctx, business, credential); err != nil {
		return nil, fmt.Errorf("failed to create business: %w", err)
	}

	s.logger.InfoContext(ctx, "business registered",
		slog.String("business_id", business.ID.String()),
		slog.Int("threshold", business.Threshold))
	return business, nil
}

// AuthenticateOwner verifies owner credentials and returns the business if successful.
func (s *service) AuthenticateOwner(ctx context.Context, email, password string) (*Business, error) {
	if !s.rateLimiter.Allow() {
		return nil, ErrRateLimited
	}

	normalized, err := NormalizeEmail(email)
	if err != nil {
		return nil, ErrInvalidCredentials
	}

	business, credential, err := s.repo.GetBusinessByEmail(ctx, normalized)
	if err != nil {
		if errors.Is(err, ErrBusinessNotFound) {
			return nil, ErrInvalidCredentials
		}
		return nil, fmt.Errorf("authentication failed: %w", err)
	}

	ok, err := verifyPassword(password, credential.Salt, credential.PasswordHash)
	if err != nil {
		return nil, fmt.Errorf("authentication failed: %w", err)
	}
	if !ok {
		return nil, ErrInvalidCredentials
	}

	return business, nil
}

// GetBusiness retrieves a business by its ID.
func (s *service) GetBusiness(ctx context.Context, id uuid.UUID) (*Business, error) {
	return s.repo.GetBusiness(ctx, id)
}

// IsOwner checks actorID against the stored owner.
func (s *service) IsOwner(ctx context.Context, businessID, actorID uuid.UUID) (bool, error) {
	business, err := s.repo.GetBusiness(ctx, businessID)
	if err != nil {
		return false, err
	}
	return business.OwnerID == actorID, nil
}

// UpdateNotifications replaces the owner's notification preferences.
func (s *service) UpdateNotifications(ctx context.Context, businessID, ownerID uuid.UUID, dests []notify.Destination) (*Business, error) {
	business, err := s.repo.GetBusiness(ctx, businessID)
	if err != nil {
		return nil, err
	}
	if business.OwnerID != ownerID {
		return nil, ErrNotOwner
	}
	if err := validateDestinations(dests); err != nil {
		return nil, err
	}
	if err := s.repo.UpdateNotifications(ctx, businessID, dests); err != nil {
		return nil, fmt.Errorf("failed to update notifications: %w", err)
	}
	business.Notifications = dests
	return business, nil
}

// EnrollCustomer registers a customer under a business. Only owners call this.
func (s *service) EnrollCustomer(ctx context.Context, businessID uuid.UUID, in EnrollCustomerInput) (*Customer, error) {
	if _, err := s.repo.GetBusiness(ctx, businessID); err != nil {
		return nil, err
	}
	email, err := NormalizeEmail(in.Email)
	if err != nil {
		return nil, err
	}
	customer := &Customer{
		ID:         uuid.New(),
		BusinessID: businessID,
		Name:       strings.TrimSpace(in.Name),
		Email:      email,
		Phone:      strings.TrimSpace(in.Phone),
		CreatedAt:  s.now().UTC(),
	}
	if err := s.repo.CreateCustomer(ctx, customer); err != nil {
		return nil, fmt.Errorf("failed to enroll customer: %w", err)
	}
	s.logger.InfoContext(ctx, "customer enrolled",
		slog.String("business_id", businessID.String()),
		slog.String("customer_id", customer.ID.String()))
	return customer, nil
}

// GetCustomer retrieves a customer of a business by ID.
func (s *service) GetCustomer(ctx context.Context, businessID, customerID uuid.UUID) (*Customer, error) {
	return s.repo.GetCustomer(ctx, businessID, customerID)
}

// GetCustomerByEmail resolves the email typed at checkout to an enrolled customer.
func (s *service) GetCustomerByEmail(ctx context.Context, businessID uuid.UUID, email string) (*Customer, error) {
	normalized, err := NormalizeEmail(email)
	if err != nil {
		return nil, ErrCustomerNotFound
	}
	return s.repo.GetCustomerByEmail(ctx, businessID, normalized)
}

// NormalizeEmail trims, lower-cases and validates an address.
func NormalizeEmail(raw string) (string, error) {
	trimmed := strings.ToLower(strings.TrimSpace(raw))
	if trimmed == "" {
		return "", fmt.Errorf("%w: email is required", ErrInvalidInput)
	}
	addr, err := mail.ParseAddress(trimmed)
	if err != nil || addr.Address != trimmed {
		return "", fmt.Errorf("%w: invalid email %q", ErrInvalidInput, raw)
	}
	return trimmed, nil
}

func validateDestinations(dests []notify.Destination) error {
	for _, d := range dests {
		if !d.Channel.Valid() {
			return fmt.Errorf("%w: unknown channel %q", ErrInvalidInput, d.Channel)
		}
		if strings.TrimSpace(d.Address) == "" {
			return fmt.Errorf("%w: %s destination is empty", ErrInvalidInput, d.Channel)
		}
	}
	return nil
}
