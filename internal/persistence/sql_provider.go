package persistence

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/jmoiron/sqlx"

	"github.com/petrijr/wfstore/internal/migrations"
	"github.com/petrijr/wfstore/pkg/api"
)

// SQLProvider is a PersistenceProvider backed by a relational database
// reached through database/sql. SQLite, PostgreSQL and MySQL are supported;
// the Dialect selects placeholders and the schema applied by
// EnsureStoreExists.
//
// The caller is responsible for importing the driver, e.g.:
//
//	import _ "modernc.org/sqlite"
type SQLProvider struct {
	db      *sqlx.DB
	dialect Dialect
	opts    options
}

// Ensure SQLProvider implements PersistenceProvider.
var _ api.PersistenceProvider = (*SQLProvider)(nil)

// NewSQLProvider wraps db. It does not touch the schema; call
// EnsureStoreExists for that.
func NewSQLProvider(db *sql.DB, dialect Dialect, opts ...Option) *SQLProvider {
	return NewSQLProviderx(sqlx.NewDb(db, dialect.driverName), dialect, opts...)
}

// NewSQLProviderx is NewSQLProvider for an existing sqlx handle.
func NewSQLProviderx(db *sqlx.DB, dialect Dialect, opts ...Option) *SQLProvider {
	return &SQLProvider{
		db:      db,
		dialect: dialect,
		opts:    buildOptions(opts),
	}
}

// DB returns the underlying handle.
func (p *SQLProvider) DB() *sqlx.DB {
	return p.db
}

// Dialect returns the dialect the provider was built with.
func (p *SQLProvider) Dialect() Dialect {
	return p.dialect
}

// Close closes the underlying handle.
func (p *SQLProvider) Close() error {
	return p.db.Close()
}

// EnsureStoreExists applies any pending embedded migrations.
func (p *SQLProvider) EnsureStoreExists(ctx context.Context) error {
	if _, err := migrations.Apply(ctx, p.db.DB, p.dialect.name, p.opts.logger); err != nil {
		return fmt.Errorf("ensure %s store: %w", p.dialect.name, err)
	}
	return nil
}

// withTx runs fn in a transaction. Any error from fn rolls the transaction
// back and is returned as is.
func (p *SQLProvider) withTx(ctx context.Context, fn func(tx *sqlx.Tx) error) error {
	tx, err := p.db.BeginTxx(ctx, nil)
	if err != nil {
		return err
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	return tx.Commit()
}

func (p *SQLProvider) rebind(query string) string {
	return p.db.Rebind(query)
}

// in expands a query holding a single "IN (?)" over ids and rebinds it.
func (p *SQLProvider) in(query string, args ...any) (string, []any, error) {
	q, a, err := sqlx.In(query, args...)
	if err != nil {
		return "", nil, err
	}
	return p.rebind(q), a, nil
}

// PersistErrors inserts errs in one transaction.
func (p *SQLProvider) PersistErrors(ctx context.Context, errs []*api.ExecutionError) error {
	if len(errs) == 0 {
		return nil
	}
	return p.withTx(ctx, func(tx *sqlx.Tx) error {
		for _, e := range errs {
			row := errorRow{
				WorkflowID:         e.WorkflowID,
				ExecutionPointerID: nullString(e.ExecutionPointerID),
				ErrorTime:          toStamp(e.ErrorTime),
				Message:            nullString(e.Message),
			}
			if _, err := tx.NamedExecContext(ctx, `
				INSERT INTO wf_execution_errors (workflow_id, execution_pointer_id, error_time, message)
				VALUES (:workflow_id, :execution_pointer_id, :error_time, :message)`, row); err != nil {
				return err
			}
		}
		return nil
	})
}

func isNoRows(err error) bool {
	return errors.Is(err, sql.ErrNoRows)
}
