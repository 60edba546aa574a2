package persistence

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/go-sql-driver/mysql"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jmoiron/sqlx"

	"github.com/petrijr/wfstore/internal/migrations"
	"github.com/petrijr/wfstore/pkg/api"
)

// Dialect describes one relational backend: the database/sql driver it is
// opened with and the schema flavour applied by EnsureStoreExists.
//
// The drivers themselves are registered by blank imports in the binary,
// e.g. _ "modernc.org/sqlite", _ "github.com/jackc/pgx/v5/stdlib" or
// _ "github.com/go-sql-driver/mysql".
type Dialect struct {
	name       string
	driverName string
}

var (
	SQLite   = Dialect{name: migrations.DialectSQLite, driverName: "sqlite"}
	Postgres = Dialect{name: migrations.DialectPostgres, driverName: "pgx"}
	MySQL    = Dialect{name: migrations.DialectMySQL, driverName: "mysql"}
)

func init() {
	// modernc registers itself as "sqlite", which sqlx does not know.
	sqlx.BindDriver(SQLite.driverName, sqlx.QUESTION)
}

// DialectByName resolves a configured driver name.
func DialectByName(name string) (Dialect, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "sqlite", "sqlite3":
		return SQLite, nil
	case "postgres", "postgresql", "pgx":
		return Postgres, nil
	case "mysql":
		return MySQL, nil
	default:
		return Dialect{}, fmt.Errorf("unsupported sql driver %q", name)
	}
}

func (d Dialect) Name() string       { return d.name }
func (d Dialect) DriverName() string { return d.driverName }
func (d Dialect) String() string     { return d.name }

// NormalizeDSN adjusts a connection string so the provider's assumptions
// hold. For MySQL it accepts both mysql:// URLs and native DSNs and enables
// clientFoundRows, so that RowsAffected counts matched rows.
func (d Dialect) NormalizeDSN(dsn string) (string, error) {
	switch d.name {
	case migrations.DialectMySQL:
		return normalizeMySQLDSN(dsn)
	case migrations.DialectSQLite:
		if !strings.Contains(dsn, "_pragma=busy_timeout") {
			sep := "?"
			if strings.Contains(dsn, "?") {
				sep = "&"
			}
			dsn += sep + "_pragma=busy_timeout(5000)"
		}
		return dsn, nil
	default:
		return dsn, nil
	}
}

func normalizeMySQLDSN(dsn string) (string, error) {
	var cfg *mysql.Config
	if strings.HasPrefix(dsn, "mysql://") {
		u, err := url.Parse(dsn)
		if err != nil {
			return "", fmt.Errorf("parse mysql url: %w", err)
		}
		cfg = mysql.NewConfig()
		cfg.Net = "tcp"
		cfg.Addr = u.Host
		if !strings.Contains(cfg.Addr, ":") {
			cfg.Addr += ":3306"
		}
		if u.User != nil {
			cfg.User = u.User.Username()
			cfg.Passwd, _ = u.User.Password()
		}
		cfg.DBName = strings.TrimPrefix(u.Path, "/")
		for k, v := range u.Query() {
			if cfg.Params == nil {
				cfg.Params = make(map[string]string)
			}
			cfg.Params[k] = v[0]
		}
	} else {
		parsed, err := mysql.ParseDSN(dsn)
		if err != nil {
			return "", fmt.Errorf("parse mysql dsn: %w", err)
		}
		cfg = parsed
	}

	cfg.ParseTime = true
	cfg.Loc = time.UTC
	cfg.ClientFoundRows = true
	return cfg.FormatDSN(), nil
}

// limitOffset renders a pagination clause. Values are ints and are inlined.
func (d Dialect) limitOffset(take, skip int) string {
	var b strings.Builder
	switch {
	case take > 0:
		fmt.Fprintf(&b, " LIMIT %d", take)
	case skip > 0 && d.name == migrations.DialectSQLite:
		b.WriteString(" LIMIT -1")
	case skip > 0 && d.name == migrations.DialectMySQL:
		b.WriteString(" LIMIT 18446744073709551615")
	}
	if skip > 0 {
		fmt.Fprintf(&b, " OFFSET %d", skip)
	}
	return b.String()
}

// Open connects to dsn with the dialect's driver and verifies the
// connection. SQLite handles are limited to one open connection.
func Open(ctx context.Context, d Dialect, dsn string) (*sqlx.DB, error) {
	normalized, err := d.NormalizeDSN(dsn)
	if err != nil {
		return nil, err
	}

	db, err := sqlx.Open(d.driverName, normalized)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", d.name, err)
	}

	switch d.name {
	case migrations.DialectSQLite:
		db.SetMaxOpenConns(1)
	default:
		db.SetMaxOpenConns(25)
		db.SetMaxIdleConns(5)
		db.SetConnMaxLifetime(5 * time.Minute)
	}

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping %s: %w", d.name, err)
	}
	return db, nil
}

// SQLite extended result codes for key violations.
const (
	sqliteConstraintPrimaryKey = 1555
	sqliteConstraintUnique     = 2067
)

// isDuplicateKey reports whether err is a unique or primary key violation
// raised by one of the supported drivers.
func isDuplicateKey(err error) bool {
	var myErr *mysql.MySQLError
	if errors.As(err, &myErr) {
		return myErr.Number == 1062
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505"
	}
	var coded interface{ Code() int }
	if errors.As(err, &coded) {
		code := coded.Code()
		return code == sqliteConstraintPrimaryKey || code == sqliteConstraintUnique
	}
	return false
}

// duplicateID tags a key violation on the insert of record id with
// api.ErrDuplicateID, keeping the driver error in the chain.
func duplicateID(kind, id string, err error) error {
	if err == nil || !isDuplicateKey(err) {
		return err
	}
	return fmt.Errorf("%w: %s %q: %w", api.ErrDuplicateID, kind, id, err)
}
