// Package backend opens the configured persistence gateway.
package backend

import (
	"context"
	"fmt"

	"github.com/hydrosafe/coa-dashboard/internal/contract"
	"github.com/hydrosafe/coa-dashboard/internal/db"
	"github.com/hydrosafe/coa-dashboard/internal/db/sqlitestore"
)

// Supported drivers.
const (
	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite"
)

// Store is what the services need from a backend.
type Store interface {
	contract.Gateway
	contract.BatchReader
	Migrate(ctx context.Context) error
}

// Open connects to driver at dsn, optionally applying the schema. The returned
// func releases the connection.
func Open(ctx context.Context, driver, dsn string, migrate bool) (Store, func(), error) {
	var (
		store Store
		done  func()
	)
	switch driver {
	case DriverPostgres:
		s, err := db.New(ctx, dsn)
		if err != nil {
			return nil, nil, err
		}
		store, done = s, s.Close
	case DriverSQLite:
		s, err := sqlitestore.Open(ctx, dsn)
		if err != nil {
			return nil, nil, err
		}
		store, done = s, func() { _ = s.Close() }
	default:
		return nil, nil, fmt.Errorf("unsupported DB_DRIVER %q", driver)
	}

	if migrate {
		if err := store.Migrate(ctx); err != nil {
			done()
			return nil, nil, fmt.Errorf("migrate: %w", err)
		}
	}
	return store, done, nil
}
