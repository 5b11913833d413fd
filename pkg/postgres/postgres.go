package postgres

import (
	"context"
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"sort"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

//go:embed migrations/*.sql
var migrations embed.FS

// Option configures the pool.
type Option func(*Config)

// Config holds Postgres pool settings.
type Config struct {
	DSN             string
	MinConns        int32
	MaxConns        int32
	ConnMaxLifetime time.Duration
	PingTimeout     time.Duration
}

func WithMinConns(n int32) Option {
	return func(c *Config) { c.MinConns = n }
}

func WithMaxConns(n int32) Option {
	return func(c *Config) { c.MaxConns = n }
}

func WithConnMaxLifetime(d time.Duration) Option {
	return func(c *Config) { c.ConnMaxLifetime = d }
}

// Pool wraps pgxpool.Pool for dependency injection.
type Pool struct {
	*pgxpool.Pool
}

// NewPool parses dsn, connects and pings.
func NewPool(ctx context.Context, dsn string, opts ...Option) (*Pool, error) {
	cfg := &Config{DSN: dsn, MaxConns: 10, PingTimeout: 5 * time.Second}
	for _, opt := range opts {
		opt(cfg)
	}
	if cfg.DSN == "" {
		return nil, fmt.Errorf("postgres dsn is required")
	}

	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	if cfg.MinConns > 0 {
		poolCfg.MinConns = cfg.MinConns
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = cfg.MaxConns
	}
	if cfg.ConnMaxLifetime > 0 {
		poolCfg.MaxConnLifetime = cfg.ConnMaxLifetime
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("connect to postgres: %w", err)
	}

	pingCtx, cancel := context.WithTimeout(ctx, cfg.PingTimeout)
	defer cancel()
	if err := pool.Ping(pingCtx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	return &Pool{Pool: pool}, nil
}

// Health pings the database.
func (p *Pool) Health(ctx context.Context) error {
	return p.Ping(ctx)
}

// Migrate applies the embedded migrations in file-name order. Every
// statement is idempotent, so running it on each start is safe.
func (p *Pool) Migrate(ctx context.Context) ([]string, error) {
	files, err := fs.Glob(migrations, "migrations/*.sql")
	if err != nil {
		return nil, fmt.Errorf("list migrations: %w", err)
	}
	sort.Strings(files)

	applied := make([]string, 0, len(files))
	for _, f := range files {
		stmt, err := migrations.ReadFile(f)
		if err != nil {
			return applied, fmt.Errorf("read migration %s: %w", f, err)
		}
		if _, err := p.Exec(ctx, string(stmt)); err != nil {
			return applied, fmt.Errorf("apply migration %s: %w", f, err)
		}
		applied = append(applied, f)
	}
	return applied, nil
}

const pgErrUniqueViolation = "23505"

// IsDuplicateKey reports whether err is a unique constraint violation.
func IsDuplicateKey(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == pgErrUniqueViolation
	}
	return false
}
