// Package store selects the persistence backend named in the configuration.
package store

import (
	"context"
	"fmt"

	"loyalnexus/internal/config"
	"loyalnexus/internal/loyalty"
	"loyalnexus/internal/notify"
	"loyalnexus/internal/registry"
	"loyalnexus/internal/store/memstore"
	"loyalnexus/internal/store/sqlstore"
)

const DriverMemory = "memory"

// Backend is everything the binaries persist.
type Backend interface {
	loyalty.Store
	notify.Outbox
	registry.Repository

	// PendingJobs lists notifications still owed a delivery.
	PendingJobs(ctx context.Context) ([]notify.Job, error)
}

// Open returns the configured backend and a function releasing it.
func Open(ctx context.Context, cfg config.DatabaseConfig) (Backend, func() error, error) {
	switch cfg.Driver {
	case DriverMemory:
		return memstore.New(), func() error { return nil }, nil
	case sqlstore.DriverPostgres, sqlstore.DriverSQLite:
		s, err := sqlstore.Open(ctx, cfg.Driver, cfg.URL)
		if err != nil {
			return nil, nil, err
		}
		return s, s.Close, nil
	}
	return nil, nil, fmt.Errorf("unsupported database driver %q", cfg.Driver)
}
