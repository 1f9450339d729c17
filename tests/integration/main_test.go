//go:build integration

// Package integration verifies the conversation and usage stores against
// real PostgreSQL and MongoDB instances using testcontainers-go.
package integration

import (
	"context"
	"fmt"
	"log"
	"os"
	"testing"
	"time"

	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/mongodb"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"llmrouter/internal/storage"
)

var (
	pgContainer *postgres.PostgresContainer
	pgStorage   storage.Storage

	mongoContainer *mongodb.MongoDBContainer
	mongoStorage   storage.Storage

	testCtx    context.Context
	cancelFunc context.CancelFunc
)

// TestMain sets up and tears down the test containers.
func TestMain(m *testing.M) {
	testCtx, cancelFunc = context.WithTimeout(context.Background(), 10*time.Minute)

	errCh := make(chan error, 2)
	go func() {
		errCh <- setupPostgreSQL(testCtx)
	}()
	go func() {
		errCh <- setupMongoDB(testCtx)
	}()

	for i := 0; i < 2; i++ {
		if err := <-errCh; err != nil {
			log.Printf("container setup failed: %v", err)
			cleanup()
			cancelFunc()
			os.Exit(1)
		}
	}

	code := m.Run()

	cleanup()
	cancelFunc()
	os.Exit(code)
}

func setupPostgreSQL(ctx context.Context) error {
	var err error

	pgContainer, err = postgres.Run(ctx,
		"postgres:16-alpine",
		postgres.WithDatabase("llmrouter_test"),
		postgres.WithUsername("test"),
		postgres.WithPassword("test"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(60*time.Second),
		),
	)
	if err != nil {
		return fmt.Errorf("failed to start PostgreSQL container: %w", err)
	}

	url, err := pgContainer.ConnectionString(ctx, "sslmode=disable")
	if err != nil {
		return fmt.Errorf("failed to get PostgreSQL connection string: %w", err)
	}

	pgStorage, err = storage.New(ctx, storage.Config{
		Type:       storage.TypePostgreSQL,
		PostgreSQL: storage.PostgreSQLConfig{URL: url, MaxConns: 5},
	})
	if err != nil {
		return fmt.Errorf("failed to connect to PostgreSQL: %w", err)
	}

	return nil
}

func setupMongoDB(ctx context.Context) error {
	var err error

	mongoContainer, err = mongodb.Run(ctx, "mongo:7")
	if err != nil {
		return fmt.Errorf("failed to start MongoDB container: %w", err)
	}

	url, err := mongoContainer.ConnectionString(ctx)
	if err != nil {
		return fmt.Errorf("failed to get MongoDB connection string: %w", err)
	}

	mongoStorage, err = storage.New(ctx, storage.Config{
		Type:    storage.TypeMongoDB,
		MongoDB: storage.MongoDBConfig{URL: url, Database: "llmrouter_test"},
	})
	if err != nil {
		return fmt.Errorf("failed to connect to MongoDB: %w", err)
	}

	return nil
}

func cleanup() {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if pgStorage != nil {
		_ = pgStorage.Close()
	}
	if pgContainer != nil {
		_ = pgContainer.Terminate(ctx)
	}

	if mongoStorage != nil {
		_ = mongoStorage.Close()
	}
	if mongoContainer != nil {
		_ = mongoContainer.Terminate(ctx)
	}
}
