//go:build integration

package persistence_test

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/petrijr/wfstore/internal/persistence"
	"github.com/petrijr/wfstore/internal/persistence/conformance"
	"github.com/petrijr/wfstore/internal/testutil"
	"github.com/petrijr/wfstore/pkg/api"
)

func connectMongo(t *testing.T, uri string) *mongo.Client {
	t.Helper()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	client, err := mongo.Connect(ctx, options.Client().ApplyURI(uri))
	if err != nil {
		t.Fatalf("mongo.Connect failed: %v", err)
	}
	t.Cleanup(func() {
		_ = client.Disconnect(context.Background())
	})
	return client
}

func TestMongoConformance(t *testing.T) {
	client := connectMongo(t, testutil.StartMongoContainer(t))

	suite.Run(t, &conformance.Suite{
		NewProvider: func(t *testing.T, opts ...persistence.Option) api.PersistenceProvider {
			name := "wf_" + strings.ReplaceAll(uuid.NewString(), "-", "")
			t.Cleanup(func() {
				_ = client.Database(name).Drop(context.Background())
			})
			return persistence.NewMongoProvider(client, name, opts...)
		},
	})
}

func TestMongoProvider_ScheduleCommandUniqueIndex(t *testing.T) {
	ctx := context.Background()
	client := connectMongo(t, testutil.StartMongoContainer(t))

	p := persistence.NewMongoProvider(client, "wf_unique")
	require.NoError(t, p.EnsureStoreExists(ctx))

	cmd := &api.ScheduledCommand{CommandName: api.CommandProcessWorkflow, Data: "wf-1", ExecuteTime: time.Now()}
	p.ScheduleCommand(ctx, cmd)
	p.ScheduleCommand(ctx, cmd)

	n, err := client.Database("wf_unique").Collection("scheduled_commands").CountDocuments(ctx, bson.M{})
	require.NoError(t, err)
	require.Equal(t, int64(1), n)
}
