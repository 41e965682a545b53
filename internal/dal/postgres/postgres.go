package postgres

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"
	"github.com/spf13/viper"
)

// Client represents a Postgres client.
type Client struct {
	pool *pgxpool.Pool
}

// Pool returns the underlying connection pool.
func (p *Client) Pool() *pgxpool.Pool {
	return p.pool
}

// Ping checks that the database is reachable.
func (p *Client) Ping(ctx context.Context) error {
	return p.pool.Ping(ctx)
}

// Close closes the database connection for graceful shutdown.
func (p *Client) Close() {
	p.pool.Close()
}

// DSNFromEnv builds the connection string. LABSHOP_PG_DSN wins over the discrete variables.
func DSNFromEnv() string {
	if dsn := os.Getenv("LABSHOP_PG_DSN"); dsn != "" {
		return dsn
	}
	port := os.Getenv("LABSHOP_PG_PORT")
	if port == "" {
		port = "5432"
	}

	return fmt.Sprintf(
		"host=%s port=%s user=%s password=%s dbname=%s sslmode=disable",
		os.Getenv("LABSHOP_PG_HOST"),
		port,
		os.Getenv("LABSHOP_PG_USER"),
		os.Getenv("LABSHOP_PG_PASSWORD"),
		os.Getenv("LABSHOP_PG_DB"),
	)
}

// NewClient connects, pings and applies migrations from migrationsPath.
func NewClient(ctx context.Context, dsn, migrationsPath string) (*Client, error) {
	config, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to parse postgres config: %w", err)
	}

	pool, err := pgxpool.NewWithConfig(ctx, config)
	if err != nil {
		return nil, fmt.Errorf("failed to create postgres pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()

		return nil, fmt.Errorf("failed to ping postgres: %w", err)
	}

	if err := migrate(pool, migrationsPath); err != nil {
		pool.Close()

		return nil, err
	}

	return &Client{
		pool: pool,
	}, nil
}

// MustNewClient creates a new Postgres client from the environment and config.
func MustNewClient() *Client {
	client, err := NewClient(context.Background(), DSNFromEnv(), viper.GetString("postgres.migrations_path"))
	if err != nil {
		panic(err)
	}

	return client
}

func migrate(pool *pgxpool.Pool, migrationsPath string) error {
	if err := goose.SetDialect("postgres"); err != nil {
		return fmt.Errorf("failed to set goose dialect: %w", err)
	}

	db := stdlib.OpenDBFromPool(pool)
	defer db.Close()

	if err := goose.Up(db, migrationsPath); err != nil && !errors.Is(err, goose.ErrNoNextVersion) {
		return fmt.Errorf("failed to apply migrations: %w", err)
	}

	return nil
}
