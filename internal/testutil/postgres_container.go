package testutil

import (
	"context"
	"fmt"
	"net/url"
	"testing"
	"time"

	"github.com/docker/go-connections/nat"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
)

// StartPostgresContainer runs postgres:16 for the duration of t and returns
// a DSN for its default database.
func StartPostgresContainer(t *testing.T) string {
	t.Helper()

	ctx, cancel := context.WithTimeout(context.Background(), containerTimeout)
	defer cancel()

	postgresC, err := testcontainers.Run(
		ctx, "postgres:16",
		testcontainers.WithExposedPorts("5432/tcp"),
		testcontainers.WithWaitStrategy(
			wait.ForAll(
				wait.ForListeningPort("5432/tcp"),
				wait.ForLog("ready to accept connections"),
				// Verify SQL connectivity on the mapped port.
				wait.ForSQL("5432/tcp", "pgx", func(host string, port nat.Port) string {
					return fmt.Sprintf("postgres://wfstore:wfstore@%s:%s/wfstore_test?sslmode=disable", host, port.Port())
				}).WithQuery("SELECT 1"),
			).WithDeadline(2*time.Minute),
		),
		testcontainers.WithEnv(map[string]string{
			"POSTGRES_USER":     "wfstore",
			"POSTGRES_PASSWORD": "wfstore",
			"POSTGRES_DB":       "wfstore_test",
		}),
	)
	testcontainers.CleanupContainer(t, postgresC)
	if err != nil {
		t.Fatalf("start postgres container: %v", err)
	}

	endpoint, err := postgresC.Endpoint(ctx, "")
	if err != nil {
		t.Fatalf("postgres endpoint: %v", err)
	}

	return fmt.Sprintf("postgres://wfstore:wfstore@%s/wfstore_test?sslmode=disable", endpoint)
}

// NewPostgresDatabase creates an empty database on the server behind
// adminDSN and returns a DSN pointing at it.
func NewPostgresDatabase(t *testing.T, adminDSN string) string {
	t.Helper()

	name := uniqueName("wf")
	createDatabase(t, "pgx", adminDSN, name, " WITH (FORCE)")

	u, err := url.Parse(adminDSN)
	if err != nil {
		t.Fatalf("parse postgres dsn: %v", err)
	}
	u.Path = "/" + name
	return u.String()
}
