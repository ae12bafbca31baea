// Package testutil starts disposable Postgres, Redis and Kafka containers for integration tests.
package testutil

import (
	"context"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/testcontainers/testcontainers-go"
	tckafka "github.com/testcontainers/testcontainers-go/modules/kafka"
	"github.com/testcontainers/testcontainers-go/wait"
)

const (
	pgUser     = "db_user"
	pgPassword = "db_password"
	pgDatabase = "ledger"
)

// RequireDocker skips the test in -short mode or when no container provider is reachable.
func RequireDocker(t *testing.T) {
	t.Helper()
	if testing.Short() {
		t.Skip("integration test skipped in -short mode")
	}
	testcontainers.SkipIfProviderIsNotHealthy(t)
}

// StartPostgresForTests starts a PostgreSQL container. The DSN is returned without the `postgres://`
// prefix because the database package prepends it.
func StartPostgresForTests() (dsnNoProto string, terminate func(), err error) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	req := testcontainers.ContainerRequest{
		Image:        "postgres:16-alpine",
		ExposedPorts: []string{"5432/tcp"},
		Env: map[string]string{
			"POSTGRES_USER":     pgUser,
			"POSTGRES_PASSWORD": pgPassword,
			"POSTGRES_DB":       pgDatabase,
		},
		WaitingFor: wait.ForLog("database system is ready to accept connections").
			WithOccurrence(2).
			WithStartupTimeout(60 * time.Second),
	}
	pgC, e := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	if e != nil {
		err = fmt.Errorf("failed to start postgres test container: %w", e)
		return
	}

	endpoint, e := pgC.PortEndpoint(ctx, "5432/tcp", "")
	if e != nil {
		_ = pgC.Terminate(context.Background())
		err = fmt.Errorf("failed to get postgres endpoint: %w", e)
		return
	}
	connStr := fmt.Sprintf("postgres://%s:%s@%s/%s?sslmode=disable", pgUser, pgPassword, endpoint, pgDatabase)

	terminate = func() {
		ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		_ = pgC.Terminate(ctx)
	}
	dsnNoProto = strings.TrimPrefix(connStr, "postgres://")
	return
}

// StartRedisForTests spins up a Redis container and returns host:port and a terminate function.
func StartRedisForTests() (addr string, terminate func(), err error) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	req := testcontainers.ContainerRequest{
		Image:        "redis:7-alpine",
		ExposedPorts: []string{"6379/tcp"},
		WaitingFor:   wait.ForListeningPort("6379/tcp").WithStartupTimeout(60 * time.Second),
	}
	rc, e := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	if e != nil {
		err = fmt.Errorf("failed to start redis test container: %w", e)
		return
	}

	addr, e = rc.PortEndpoint(ctx, "6379/tcp", "")
	if e != nil {
		_ = rc.Terminate(context.Background())
		err = fmt.Errorf("failed to get redis endpoint: %w", e)
		return
	}

	terminate = func() {
		ctx, c := context.WithTimeout(context.Background(), 30*time.Second)
		defer c()
		_ = rc.Terminate(ctx)
	}
	return
}

// StartKafkaForTests starts a single-node KRaft broker and returns its bootstrap address.
func StartKafkaForTests() (bootstrap string, terminate func(), err error) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	kc, e := tckafka.RunContainer(ctx, tckafka.WithClusterID("ledger-test"))
	if e != nil {
		err = fmt.Errorf("failed to start kafka test container: %w", e)
		return
	}

	brokers, e := kc.Brokers(ctx)
	if e != nil {
		_ = kc.Terminate(context.Background())
		err = fmt.Errorf("failed to get kafka brokers: %w", e)
		return
	}
	bootstrap = strings.Join(brokers, ",")

	terminate = func() {
		ctx, c := context.WithTimeout(context.Background(), 30*time.Second)
		defer c()
		_ = kc.Terminate(ctx)
	}
	return
}
