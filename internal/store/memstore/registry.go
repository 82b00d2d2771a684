// internal/store/memstore/registry.go
package memstore

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"loyalnexus/internal/notify"
	"loyalnexus/internal/registry"
)

func cloneBusiness(b registry.Business) *registry.Business {
	b.Notifications = append([]notify.Destination(nil), b.Notifications...)
	return &b
}

func (s *Store) CreateBusiness(_ context.Context, business *registry.Business, credential *registry.Credential) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, b := range s.businesses {
		if b.Email == business.Email {
			return fmt.Errorf("%w: %s", registry.ErrEmailTaken, business.Email)
		}
	}
	s.businesses[business.ID] = *cloneBusiness(*business)
	s.credentials[business.ID] = *credential
	return nil
}

func (s *Store) GetBusiness(_ context.Context, id uuid.UUID) (*registry.Business, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	b, ok := s.businesses[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", registry.ErrBusinessNotFound, id)
	}
	return cloneBusiness(b), nil
}

func (s *Store) GetBusinessByEmail(_ context.Context, email string) (*registry.Business, *registry.Credential, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for id, b := range s.businesses {
		if b.Email == email {
			cred := s.credentials[id]
			return cloneBusiness(b), &cred, nil
		}
	}
	return nil, nil, registry.ErrBusinessNotFound
}

func (s *Store) UpdateNotifications(_ context.Context, id uuid.UUID, dests []notify.Destination) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	b, ok := s.businesses[id]
	if !ok {
		return fmt.Errorf("%w: %s", registry.ErrBusinessNotFound, id)
	}
	b.Notifications = append([]notify.Destination(nil), dests...)
	s.businesses[id] = b
	return nil
}

func (s *Store) CreateCustomer(_ context.Context, customer *registry.Customer) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.businesses[customer.BusinessID]; !ok {
		return fmt.Errorf("%w: %s", registry.ErrBusinessNotFound, customer.BusinessID)
	}
	for _, c := range s.customers {
		if c.BusinessID == customer.BusinessID && c.Email == customer.Email {
			return fmt.Errorf("%w: %s", registry.ErrEmailTaken, customer.Email)
		}
	}
	s.customers[customer.ID] = *customer
	return nil
}

func (s *Store) GetCustomer(_ context.Context, businessID, customerID uuid.UUID) (*registry.Customer, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	c, ok := s.customers[customerID]
	if !ok || c.BusinessID != businessID {
		return nil, fmt.Errorf("%w: %s", registry.ErrCustomerNotFound, customerID)
	}
	return &c, nil
}

func (s *Store) GetCustomerByEmail(_ context.Context, businessID uuid.UUID, email string) (*registry.Customer, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, c := range s.customers {
		if c.BusinessID == businessID && c.Email == email {
			return &c, nil
		}
	}
	return nil, registry.ErrCustomerNotFound
}
