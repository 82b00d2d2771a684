// internal/clients/registry_client.go
package clients

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"

	"github.com/google/uuid"

	"loyalnexus/internal/loyalty"
	"loyalnexus/internal/registry"
)

// RegistryClient reads businesses and customers from the registry service.
// It satisfies loyalty.Directory.
type RegistryClient struct {
	base
}

func NewRegistryClient(baseURL string, client *http.Client) *RegistryClient {
	return &RegistryClient{base: newBase(baseURL, client)}
}

func (c *RegistryClient) GetBusiness(ctx context.Context, id uuid.UUID) (*registry.Business, error) {
	var business registry.Business
	if err := c.do(ctx, http.MethodGet, fmt.Sprintf("/businesses/%s", id), nil, &business); err != nil {
		return nil, notFoundAs(err, registry.ErrBusinessNotFound)
	}
	return &business, nil
}

// IsOwner asks the registry to check the actor; the owner id is never fetched.
func (c *RegistryClient) IsOwner(ctx context.Context, businessID, actorID uuid.UUID) (bool, error) {
	path := fmt.Sprintf("/businesses/%s/owner", businessID)
	err := c.do(ctx, http.MethodPost, path, map[string]uuid.UUID{"actorId": actorID}, nil)
	if err == nil {
		return true, nil
	}
	var se *StatusError
	if errors.As(err, &se) && se.Code == http.StatusForbidden {
		return false, nil
	}
	return false, notFoundAs(err, registry.ErrBusinessNotFound)
}

func (c *RegistryClient) GetCustomer(ctx context.Context, businessID, customerID uuid.UUID) (*registry.Customer, error) {
	var customer registry.Customer
	path := fmt.Sprintf("/businesses/%s/customers/%s", businessID, customerID)
	if err := c.do(ctx, http.MethodGet, path, nil, &customer); err != nil {
		return nil, notFoundAs(err, registry.ErrCustomerNotFound)
	}
	return &customer, nil
}

func (c *RegistryClient) GetCustomerByEmail(ctx context.Context, businessID uuid.UUID, email string) (*registry.Customer, error) {
	var customer registry.Customer
	path := fmt.Sprintf("/businesses/%s/customers?email=%s", businessID, url.QueryEscape(email))
	if err := c.do(ctx, http.MethodGet, path, nil, &customer); err != nil {
		return nil, notFoundAs(err, registry.ErrCustomerNotFound)
	}
	return &customer, nil
}

// RegisterBusiness onboards a business. Operators use it to seed game days.
// The returned business carries the owner id from the owner view.
func (c *RegistryClient) RegisterBusiness(ctx context.Context, in registry.RegisterBusinessInput) (*registry.Business, error) {
	var view registry.OwnerView
	if err := c.do(ctx, http.MethodPost, "/businesses", in, &view); err != nil {
		return nil, registryError(err)
	}
	business := view.Business
	business.OwnerID = view.OwnerID
	return &business, nil
}

func (c *RegistryClient) EnrollCustomer(ctx context.Context, businessID uuid.UUID, in registry.EnrollCustomerInput) (*registry.Customer, error) {
	var customer registry.Customer
	path := fmt.Sprintf("/businesses/%s/customers", businessID)
	if err := c.do(ctx, http.MethodPost, path, in, &customer); err != nil {
		return nil, registryError(err)
	}
	return &customer, nil
}

// registryError maps write failures onto registry sentinels.
func registryError(err error) error {
	var se *StatusError
	if !errors.As(err, &se) {
		return fmt.Errorf("registry request failed: %w", err)
	}
	switch se.Code {
	case http.StatusBadRequest:
		return fmt.Errorf("%w: %s", registry.ErrInvalidInput, se.Message)
	case http.StatusNotFound:
		return fmt.Errorf("%w: %s", registry.ErrBusinessNotFound, se.Message)
	case http.StatusConflict:
		return fmt.Errorf("%w: %s", registry.ErrEmailTaken, se.Message)
	case http.StatusTooManyRequests:
		return fmt.Errorf("%w: %s", registry.ErrRateLimited, se.Message)
	}
	return err
}

// notFoundAs maps a 404 onto the registry sentinel. Other failures keep
// their cause so callers treat them as transient.
func notFoundAs(err, sentinel error) error {
	var se *StatusError
	if errors.As(err, &se) && se.Code == http.StatusNotFound {
		return fmt.Errorf("%w: %s", sentinel, se.Message)
	}
	return fmt.Errorf("registry request failed: %w", err)
}

var _ loyalty.Directory = (*RegistryClient)(nil)
