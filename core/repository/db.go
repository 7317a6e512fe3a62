package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/cenkalti/backoff"
	_ "github.com/lib/pq"
)

// DB wraps the accounts database connection pool
type DB struct {
	*sql.DB
}

// NewDB opens a Postgres connection pool and verifies it is reachable.
// Pinging is retried with exponential backoff for up to maxWait.
func NewDB(ctx context.Context, databaseURL string, maxWait time.Duration) (*DB, error) {
	sqlDB, err := sql.Open("postgres", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	sqlDB.SetMaxOpenConns(10)
	sqlDB.SetMaxIdleConns(5)
	sqlDB.SetConnMaxLifetime(30 * time.Minute)

	expBackoff := backoff.NewExponentialBackOff()
	expBackoff.InitialInterval = time.Second
	expBackoff.MaxElapsedTime = maxWait

	ping := func() error {
		return sqlDB.PingContext(ctx)
	}
	if err := backoff.Retry(ping, backoff.WithContext(expBackoff, ctx)); err != nil {
		sqlDB.Close()
		return nil, fmt.Errorf("database unreachable after retries: %w", err)
	}

	return &DB{DB: sqlDB}, nil
}
