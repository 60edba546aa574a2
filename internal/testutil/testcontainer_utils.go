// Package testutil starts throwaway backing services for integration tests.
package testutil

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
)

// containerTimeout is generous so that image pulls in CI do not fail tests.
const containerTimeout = 3 * time.Minute

func uniqueName(prefix string) string {
	return prefix + "_" + strings.ReplaceAll(uuid.NewString(), "-", "")[:12]
}

// createDatabase runs CREATE DATABASE through an admin connection and drops
// the database again when the test finishes.
func createDatabase(t *testing.T, driver, adminDSN, name, dropSuffix string) {
	t.Helper()

	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	admin, err := sql.Open(driver, adminDSN)
	if err != nil {
		t.Fatalf("open admin connection: %v", err)
	}

	if _, err := admin.ExecContext(ctx, fmt.Sprintf("CREATE DATABASE %s", name)); err != nil {
		_ = admin.Close()
		t.Fatalf("create database %s: %v", name, err)
	}

	t.Cleanup(func() {
		defer admin.Close()
		_, _ = admin.ExecContext(context.Background(), fmt.Sprintf("DROP DATABASE IF EXISTS %s%s", name, dropSuffix))
	})
}
