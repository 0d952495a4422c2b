// Package testsupport starts the backing services the store and audit
// suites run against. Each helper prefers a server named by a
// SNOWJOB_TEST_* variable and otherwise starts a throwaway container,
// skipping the test when no container runtime is reachable.
package testsupport

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/mongodb"
	pgmodule "github.com/testcontainers/testcontainers-go/modules/postgres"
	tcredis "github.com/testcontainers/testcontainers-go/modules/redis"
	"github.com/testcontainers/testcontainers-go/wait"
)

const (
	PostgresURLEnv = "SNOWJOB_TEST_POSTGRES_URL"
	RedisAddrEnv   = "SNOWJOB_TEST_REDIS_ADDR"
	MongoURIEnv    = "SNOWJOB_TEST_MONGO_URI"
)

// PostgresURL returns a connection string for an empty postgres database.
func PostgresURL(t *testing.T) string {
	t.Helper()
	if url := os.Getenv(PostgresURLEnv); url != "" {
		return url
	}
	testcontainers.SkipIfProviderIsNotHealthy(t)

	ctx := context.Background()
	container, err := pgmodule.Run(ctx,
		"postgres:16-alpine",
		pgmodule.WithDatabase("snowjob_test"),
		pgmodule.WithUsername("test"),
		pgmodule.WithPassword("test"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(30*time.Second),
		),
	)
	if container != nil {
		terminateOnCleanup(t, container)
	}
	if err != nil {
		t.Fatalf("start postgres container: %v", err)
	}

	url, err := container.ConnectionString(ctx, "sslmode=disable")
	if err != nil {
		t.Fatalf("postgres connection string: %v", err)
	}
	return url
}

// RedisAddr returns the host:port of a redis server.
func RedisAddr(t *testing.T) string {
	t.Helper()
	if addr := os.Getenv(RedisAddrEnv); addr != "" {
		return addr
	}
	testcontainers.SkipIfProviderIsNotHealthy(t)

	ctx := context.Background()
	container, err := tcredis.Run(ctx, "redis:7-alpine")
	if container != nil {
		terminateOnCleanup(t, container)
	}
	if err != nil {
		t.Fatalf("start redis container: %v", err)
	}

	uri, err := container.ConnectionString(ctx)
	if err != nil {
		t.Fatalf("redis connection string: %v", err)
	}
	opts, err := redis.ParseURL(uri)
	if err != nil {
		t.Fatalf("parse redis url %q: %v", uri, err)
	}
	return opts.Addr
}

// MongoURI returns a connection URI for a mongo server.
func MongoURI(t *testing.T) string {
	t.Helper()
	if uri := os.Getenv(MongoURIEnv); uri != "" {
		return uri
	}
	testcontainers.SkipIfProviderIsNotHealthy(t)

	ctx := context.Background()
	container, err := mongodb.Run(ctx, "mongo:7")
	if container != nil {
		terminateOnCleanup(t, container)
	}
	if err != nil {
		t.Fatalf("start mongo container: %v", err)
	}

	uri, err := container.ConnectionString(ctx)
	if err != nil {
		t.Fatalf("mongo connection string: %v", err)
	}
	return uri
}

// terminateOnCleanup is registered before the start error is checked, so
// a container that started but failed its wait strategy is still removed.
func terminateOnCleanup(t *testing.T, container testcontainers.Container) {
	t.Cleanup(func() {
		if err := container.Terminate(context.Background()); err != nil {
			t.Logf("terminate container: %v", err)
		}
	})
}
