package database

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"strings"

	"github.com/JonMunkholm/sheetload/internal/config"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Postgres is a pooled PostgreSQL target.
type Postgres struct {
	pool    *pgxpool.Pool
	dialect PostgresDialect
}

// OpenPostgres parses cfg, opens a connection pool and verifies it with a ping.
func OpenPostgres(ctx context.Context, cfg config.DatabaseConfig) (*Postgres, error) {
	poolConfig, err := pgxpool.ParseConfig(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("parse database URL: %w", err)
	}

	poolConfig.MaxConns = int32(cfg.MaxConns)
	poolConfig.MinConns = int32(cfg.MinConns)
	poolConfig.MaxConnLifetime = cfg.MaxConnLifetime
	poolConfig.MaxConnIdleTime = cfg.MaxConnIdleTime

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("connect to database: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	if u, err := url.Parse(cfg.URL); err == nil {
		slog.Info("connected to database",
			"driver", "postgres",
			"name", strings.TrimPrefix(u.Path, "/"),
			"schema", cfg.Schema,
		)
	}

	return NewPostgres(pool, cfg.Schema), nil
}

// NewPostgres wraps an existing pool.
func NewPostgres(pool *pgxpool.Pool, schema string) *Postgres {
	return &Postgres{
		pool:    pool,
		dialect: PostgresDialect{Schema: schema},
	}
}

func (p *Postgres) Dialect() Dialect { return p.dialect }

func (p *Postgres) Exec(ctx context.Context, query string, args ...any) error {
	_, err := p.pool.Exec(ctx, query, args...)
	return err
}

func (p *Postgres) Query(ctx context.Context, query string, args ...any) (Rows, error) {
	return p.pool.Query(ctx, query, args...)
}

func (p *Postgres) Ping(ctx context.Context) error {
	return p.pool.Ping(ctx)
}

func (p *Postgres) Close() {
	p.pool.Close()
}
