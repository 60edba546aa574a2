package testutil

import (
	"context"
	"net/url"
	"testing"

	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/mongodb"
)

// StartMongoContainer runs a single-node mongo:7 replica set, which
// multi-document transactions require, and returns its URI.
func StartMongoContainer(t *testing.T) string {
	t.Helper()

	ctx, cancel := context.WithTimeout(context.Background(), containerTimeout)
	defer cancel()

	mongoC, err := mongodb.Run(ctx, "mongo:7", mongodb.WithReplicaSet("rs0"))
	testcontainers.CleanupContainer(t, mongoC)
	if err != nil {
		t.Fatalf("start mongo container: %v", err)
	}

	uri, err := mongoC.ConnectionString(ctx)
	if err != nil {
		t.Fatalf("mongo connection string: %v", err)
	}

	u, err := url.Parse(uri)
	if err != nil {
		t.Fatalf("parse mongo uri: %v", err)
	}
	if u.Path == "" {
		u.Path = "/"
	}
	q := u.Query()
	q.Set("directConnection", "true")
	u.RawQuery = q.Encode()
	return u.String()
}
