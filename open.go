package wfstore

import (
	"context"
	"fmt"

	"github.com/petrijr/wfstore/internal/persistence"
)

// Store bundles a SQL-backed provider with the connection it owns.
type Store struct {
	Provider PersistenceProvider

	sql *persistence.SQLProvider
}

// Open connects to a SQL store, applies pending schema migrations and
// returns a ready Store. driver is one of "sqlite", "postgres" or "mysql";
// the matching database/sql driver must be registered by the caller.
//
// Typical usage:
//
//	import _ "modernc.org/sqlite"
//
//	store, err := wfstore.Open(ctx, "sqlite", "file:wfstore.db")
//	defer store.Close()
//	id, err := store.Provider.CreateNewWorkflow(ctx, wf)
func Open(ctx context.Context, driver, dsn string, opts ...Option) (*Store, error) {
	dialect, err := persistence.DialectByName(driver)
	if err != nil {
		return nil, err
	}
	db, err := persistence.Open(ctx, dialect, dsn)
	if err != nil {
		return nil, err
	}

	provider := persistence.NewSQLProviderx(db, dialect, opts...)
	if err := provider.EnsureStoreExists(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("prepare %s store: %w", dialect, err)
	}
	return &Store{Provider: provider, sql: provider}, nil
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	return s.sql.Close()
}
