// internal/registry/domain.go
package registry

import (
	"errors"
	"time"

	"github.com/google/uuid"

	"loyalnexus/internal/notify"
)

// DefaultThreshold is the number of purchases that unlock one reward.
const DefaultThreshold = 10

var (
	ErrBusinessNotFound   = errors.New("business not found")
	ErrCustomerNotFound   = errors.New("customer not found")
	ErrEmailTaken         = errors.New("email already registered")
	ErrInvalidInput       = errors.New("invalid input")
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrNotOwner           = errors.New("actor does not own business")
	ErrRateLimited        = errors.New("rate limit exceeded")
)

// Business is a registered loyalty program owner. The owner id authorizes
// redemptions and never leaves the registry on public reads.
type Business struct {
	ID            uuid.UUID            `json:"id"`
	OwnerID       uuid.UUID            `json:"-"`
	Name          string               `json:"name"`
	Email         string               `json:"email"`
	Phone         string               `json:"phone,omitempty"`
	Address       string               `json:"address,omitempty"`
	Threshold     int                  `json:"threshold"`
	Notifications []notify.Destination `json:"notifications"`
	CreatedAt     time.Time            `json:"createdAt"`
}

// OwnerView is the business as shown to its owner, at registration and login.
type OwnerView struct {
	Business
	OwnerID uuid.UUID `json:"ownerId"`
}

func NewOwnerView(b *Business) OwnerView {
	return OwnerView{Business: *b, OwnerID: b.OwnerID}
}

// Credential holds the owner's login secret.
type Credential struct {
	BusinessID   uuid.UUID `json:"-"`
	PasswordHash string    `json:"-"`
	Salt         string    `json:"-"`
}

// Customer is enrolled manually by a business owner.
type Customer struct {
	ID         uuid.UUID `json:"id"`
	BusinessID uuid.UUID `json:"businessId"`
	Name       string    `json:"name"`
	Email      string    `json:"email"`
	Phone      string    `json:"phone,omitempty"`
	CreatedAt  time.Time `json:"createdAt"`
}

// RegisterBusinessInput is what the onboarding form submits.
type RegisterBusinessInput struct {
	Name          string               `json:"name"`
	Email         string               `json:"email"`
	Password      string               `json:"password"`
	Phone         string               `json:"phone,omitempty"`
	Address       string               `json:"address,omitempty"`
	Threshold     int                  `json:"threshold,omitempty"`
	Notifications []notify.Destination `json:"notifications,omitempty"`
}

// EnrollCustomerInput is what the owner enters for a new customer.
type EnrollCustomerInput struct {
	Name  string `json:"name"`
	Email string `json:"email"`
	Phone string `json:"phone,omitempty"`
}
