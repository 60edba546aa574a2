//go:build integration

package persistence_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/suite"

	"github.com/petrijr/wfstore/internal/persistence"
	"github.com/petrijr/wfstore/internal/persistence/conformance"
	"github.com/petrijr/wfstore/internal/testutil"
	"github.com/petrijr/wfstore/pkg/api"
)

func sqlFactory(d persistence.Dialect, newDatabase func(t *testing.T) string) conformance.Factory {
	return func(t *testing.T, opts ...persistence.Option) api.PersistenceProvider {
		t.Helper()

		db, err := persistence.Open(context.Background(), d, newDatabase(t))
		if err != nil {
			t.Fatalf("Open %s failed: %v", d, err)
		}
		t.Cleanup(func() {
			_ = db.Close()
		})
		return persistence.NewSQLProviderx(db, d, opts...)
	}
}

func TestPostgresConformance(t *testing.T) {
	adminDSN := testutil.StartPostgresContainer(t)
	suite.Run(t, &conformance.Suite{
		NewProvider: sqlFactory(persistence.Postgres, func(t *testing.T) string {
			return testutil.NewPostgresDatabase(t, adminDSN)
		}),
	})
}

func TestMySQLConformance(t *testing.T) {
	adminDSN := testutil.StartMySQLContainer(t)
	suite.Run(t, &conformance.Suite{
		NewProvider: sqlFactory(persistence.MySQL, func(t *testing.T) string {
			return testutil.NewMySQLDatabase(t, adminDSN)
		}),
	})
}
