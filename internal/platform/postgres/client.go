package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"

	"identify/internal/platform/config"
)

// Client owns the contact store connection pool.
type Client struct {
	*sql.DB
}

// New opens and pings a PostgreSQL pool.
// Returns nil if the URL is empty (Postgres not configured).
func New(ctx context.Context, cfg config.PostgresConfig) (*Client, error) {
	if cfg.URL == "" {
		return nil, nil
	}

	db, err := sql.Open("pgx", cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	if cfg.MaxOpenConns > 0 {
		db.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	if cfg.MaxIdleConns > 0 {
		db.SetMaxIdleConns(cfg.MaxIdleConns)
	}
	db.SetConnMaxIdleTime(5 * time.Minute)

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("postgres ping failed: %w", err)
	}
	return &Client{DB: db}, nil
}

// Health checks if the database is reachable.
func (c *Client) Health(ctx context.Context) error {
	return c.PingContext(ctx)
}
