package testutil

import (
	"context"
	"testing"

	gomysql "github.com/go-sql-driver/mysql"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/mysql"
)

// StartMySQLContainer runs mysql:8.0 for the duration of t and returns a
// root DSN. Root is used so tests can create databases of their own.
func StartMySQLContainer(t *testing.T) string {
	t.Helper()

	ctx, cancel := context.WithTimeout(context.Background(), containerTimeout)
	defer cancel()

	mysqlC, err := mysql.Run(ctx,
		"mysql:8.0",
		mysql.WithDatabase("wfstore_test"),
		mysql.WithUsername("root"),
		mysql.WithPassword("wfstore"),
	)
	testcontainers.CleanupContainer(t, mysqlC)
	if err != nil {
		t.Fatalf("start mysql container: %v", err)
	}

	dsn, err := mysqlC.ConnectionString(ctx, "parseTime=true", "loc=UTC")
	if err != nil {
		t.Fatalf("mysql connection string: %v", err)
	}
	return dsn
}

// NewMySQLDatabase creates an empty database on the server behind adminDSN
// and returns a DSN pointing at it.
func NewMySQLDatabase(t *testing.T, adminDSN string) string {
	t.Helper()

	name := uniqueName("wf")
	createDatabase(t, "mysql", adminDSN, name, "")

	cfg, err := gomysql.ParseDSN(adminDSN)
	if err != nil {
		t.Fatalf("parse mysql dsn: %v", err)
	}
	cfg.DBName = name
	return cfg.FormatDSN()
}
