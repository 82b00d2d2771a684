// internal/store/sqlstore/registry.go
package sqlstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"loyalnexus/internal/notify"
	"loyalnexus/internal/registry"
)

type businessRow struct {
	ID            uuid.UUID `db:"id"`
	OwnerID       uuid.UUID `db:"owner_id"`
	Name          string    `db:"name"`
	Email         string    `db:"email"`
	Phone         string    `db:"phone"`
	Address       string    `db:"address"`
	Threshold     int       `db:"threshold"`
	Notifications string    `db:"notifications"`
	PasswordHash  string    `db:"password_hash"`
	Salt          string    `db:"salt"`
	CreatedAt     time.Time `db:"created_at"`
}

func (r businessRow) business() (*registry.Business, error) {
	var dests []notify.Destination
	if r.Notifications != "" {
		if err := json.Unmarshal([]byte(r.Notifications), &dests); err != nil {
			return nil, fmt.Errorf("decode notifications of business %s: %w", r.ID, err)
		}
	}
	return &registry.Business{
		ID:            r.ID,
		OwnerID:       r.OwnerID,
		Name:          r.Name,
		Email:         r.Email,
		Phone:         r.Phone,
		Address:       r.Address,
		Threshold:     r.Threshold,
		Notifications: dests,
		CreatedAt:     r.CreatedAt,
	}, nil
}

func encodeDestinations(dests []notify.Destination) (string, error) {
	if dests == nil {
		dests = []notify.Destination{}
	}
	raw, err := json.Marshal(dests)
	if err != nil {
		return "", fmt.Errorf("encode notifications: %w", err)
	}
	return string(raw), nil
}

const businessColumns = `id, owner_id, name, email, phone, address, threshold, notifications, password_hash, salt, created_at`

func (s *Store) CreateBusiness(ctx context.Context, b *registry.Business, cred *registry.Credential) error {
	notifications, err := encodeDestinations(b.Notifications)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, s.db.Rebind(`
		INSERT INTO businesses (`+businessColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`), b.ID, b.OwnerID, b.Name, b.Email, b.Phone, b.Address, b.Threshold, notifications,
		cred.PasswordHash, cred.Salt, ts(b.CreatedAt))
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("%w: %s", registry.ErrEmailTaken, b.Email)
		}
		return fmt.Errorf("insert business: %w", err)
	}
	return nil
}

func (s *Store) GetBusiness(ctx context.Context, id uuid.UUID) (*registry.Business, error) {
	var row businessRow
	err := s.db.GetContext(ctx, &row, s.db.Rebind(`SELECT `+businessColumns+` FROM businesses WHERE id = ?`), id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", registry.ErrBusinessNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("load business: %w", err)
	}
	return row.business()
}

func (s *Store) GetBusinessByEmail(ctx context.Context, email string) (*registry.Business, *registry.Credential, error) {
	var row businessRow
	err := s.db.GetContext(ctx, &row, s.db.Rebind(`SELECT `+businessColumns+` FROM businesses WHERE email = ?`), email)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil, registry.ErrBusinessNotFound
	}
	if err != nil {
		return nil, nil, fmt.Errorf("load business: %w", err)
	}
	b, err := row.business()
	if err != nil {
		return nil, nil, err
	}
	return b, &registry.Credential{BusinessID: row.ID, PasswordHash: row.PasswordHash, Salt: row.Salt}, nil
}

func (s *Store) UpdateNotifications(ctx context.Context, id uuid.UUID, dests []notify.Destination) error {
	notifications, err := encodeDestinations(dests)
	if err != nil {
		return err
	}
	res, err := s.db.ExecContext(ctx, s.db.Rebind(`UPDATE businesses SET notifications = ? WHERE id = ?`), notifications, id)
	if err != nil {
		return fmt.Errorf("update notifications: %w", err)
	}
	return expectOne(res, registry.ErrBusinessNotFound, id)
}

const customerColumns = `id, business_id, name, email, phone, created_at`

type customerRow struct {
	ID         uuid.UUID `db:"id"`
	BusinessID uuid.UUID `db:"business_id"`
	Name       string    `db:"name"`
	Email      string    `db:"email"`
	Phone      string    `db:"phone"`
	CreatedAt  time.Time `db:"created_at"`
}

func (r customerRow) customer() *registry.Customer {
	c := registry.Customer(r)
	return &c
}

func (s *Store) CreateCustomer(ctx context.Context, c *registry.Customer) error {
	var exists int
	err := s.db.GetContext(ctx, &exists, s.db.Rebind(`SELECT COUNT(*) FROM businesses WHERE id = ?`), c.BusinessID)
	if err != nil {
		return fmt.Errorf("check business: %w", err)
	}
	if exists == 0 {
		return fmt.Errorf("%w: %s", registry.ErrBusinessNotFound, c.BusinessID)
	}

	_, err = s.db.ExecContext(ctx, s.db.Rebind(`
		INSERT INTO customers (`+customerColumns+`)
		VALUES (?, ?, ?, ?, ?, ?)
	`), c.ID, c.BusinessID, c.Name, c.Email, c.Phone, ts(c.CreatedAt))
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("%w: %s", registry.ErrEmailTaken, c.Email)
		}
		return fmt.Errorf("insert customer: %w", err)
	}
	return nil
}

func (s *Store) GetCustomer(ctx context.Context, businessID, customerID uuid.UUID) (*registry.Customer, error) {
	var row customerRow
	err := s.db.GetContext(ctx, &row, s.db.Rebind(`
		SELECT `+customerColumns+` FROM customers WHERE id = ? AND business_id = ?
	`), customerID, businessID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", registry.ErrCustomerNotFound, customerID)
	}
	if err != nil {
		return nil, fmt.Errorf("load customer: %w", err)
	}
	return row.customer(), nil
}

func (s *Store) GetCustomerByEmail(ctx context.Context, businessID uuid.UUID, email string) (*registry.Customer, error) {
	var row customerRow
	err := s.db.GetContext(ctx, &row, s.db.Rebind(`
		SELECT `+customerColumns+` FROM customers WHERE business_id = ? AND email = ?
	`), businessID, email)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, registry.ErrCustomerNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("load customer: %w", err)
	}
	return row.customer(), nil
}
