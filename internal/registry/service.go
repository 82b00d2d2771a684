// internal/registry/service.go
package registry

import (
	"context"

	"github.com/google/uuid"

	"loyalnexus/internal/notify"
)

// Service defines the interface for the registry service.
type Service interface {
	RegisterBusiness(ctx context.Context, in RegisterBusinessInput) (*Business, error)
	AuthenticateOwner(ctx context.Context, email, password string) (*Business, error)
	GetBusiness(ctx context.Context, id uuid.UUID) (*Business, error)
	// IsOwner reports whether actorID owns the business.
	IsOwner(ctx context.Context, businessID, actorID uuid.UUID) (bool, error)
	UpdateNotifications(ctx context.Context, businessID, ownerID uuid.UUID, dests []notify.Destination) (*Business, error)
	EnrollCustomer(ctx context.Context, businessID uuid.UUID, in EnrollCustomerInput) (*Customer, error)
	GetCustomer(ctx context.Context, businessID, customerID uuid.UUID) (*Customer, error)
	GetCustomerByEmail(ctx context.Context, businessID uuid.UUID, email string) (*Customer, error)
}

// Repository persists businesses and customers.
type Repository interface {
	CreateBusiness(ctx context.Context, b *Business, cred *Credential) error
	GetBusiness(ctx context.Context, id uuid.UUID) (*Business, error)
	GetBusinessByEmail(ctx context.Context, email string) (*Business, *Credential, error)
	UpdateNotifications(ctx context.Context, id uuid.UUID, dests []notify.Destination) error
	CreateCustomer(ctx context.Context, c *Customer) error
	GetCustomer(ctx context.Context, businessID, customerID uuid.UUID) (*Customer, error)
	GetCustomerByEmail(ctx context.Context, businessID uuid.UUID, email string) (*Customer, error)
}
