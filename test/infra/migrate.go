package infra

import (
	"context"
	"fmt"
	"net/url"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"repairflow/db"
	"repairflow/db/migrations"
)

// AppName tags stress connections so chaos only terminates our own backends.
const AppName = "repairflow-stress"

// ApplyMigrations runs the embedded goose migrations against dsn and opens a pool.
// When isolate is true, a per-run schema is created and dropped via the returned teardown func.
func ApplyMigrations(ctx context.Context, dsn string, isolate bool) (*pgxpool.Pool, func(context.Context) error, error) {
	cleanup := func(context.Context) error { return nil }

	if isolate {
		schema := fmt.Sprintf("stress_run_%d", time.Now().UnixNano())
		ident := pgx.Identifier{schema}.Sanitize()

		conn, err := pgx.Connect(ctx, dsn)
		if err != nil {
			return nil, nil, fmt.Errorf("connect for schema: %w", err)
		}
		if _, err := conn.Exec(ctx, "CREATE SCHEMA "+ident); err != nil {
			conn.Close(ctx)
			return nil, nil, fmt.Errorf("create schema %s: %w", schema, err)
		}
		conn.Close(ctx)

		scoped, err := withParam(dsn, "search_path", schema)
		if err != nil {
			return nil, nil, err
		}
		cleanup = func(ctx context.Context) error {
			dropConn, err := pgx.Connect(ctx, dsn)
			if err != nil {
				return err
			}
			defer dropConn.Close(ctx)
			_, err = dropConn.Exec(ctx, "DROP SCHEMA IF EXISTS "+ident+" CASCADE")
			return err
		}
		dsn = scoped
	}

	if err := migrations.Up(ctx, dsn); err != nil {
		_ = cleanup(ctx)
		return nil, nil, err
	}

	tagged, err := withParam(dsn, "application_name", AppName)
	if err != nil {
		_ = cleanup(ctx)
		return nil, nil, err
	}
	pool, err := db.NewPool(ctx, tagged, 64)
	if err != nil {
		_ = cleanup(ctx)
		return nil, nil, err
	}
	return pool, cleanup, nil
}

// Reset truncates every mutable table so the next epoch starts clean.
func Reset(ctx context.Context, pool *pgxpool.Pool) error {
	tx, err := pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("reset begin: %w", err)
	}
	defer tx.Rollback(ctx)

	for _, tbl := range migrations.Tables() {
		if _, err := tx.Exec(ctx, "TRUNCATE TABLE "+pgx.Identifier{tbl}.Sanitize()+" RESTART IDENTITY CASCADE"); err != nil {
			return fmt.Errorf("truncate %s: %w", tbl, err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("reset commit: %w", err)
	}
	return nil
}

// withParam sets a runtime parameter on a URL-form DSN. Both pgx and lib/pq
// forward unknown query parameters to the server at startup.
func withParam(dsn, key, value string) (string, error) {
	u, err := url.Parse(dsn)
	if err != nil || u.Scheme == "" {
		return "", fmt.Errorf("stress dsn must be a postgres:// URL")
	}
	q := u.Query()
	q.Set(key, value)
	u.RawQuery = q.Encode()
	return u.String(), nil
}
