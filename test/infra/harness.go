package infra

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"

	"github.com/jackc/pgx/v5/pgxpool"
)

// Harness owns the lifecycle of the stress database: container or local
// instance, migrated schema and pgx pool.
type Harness struct {
	container *PGContainer
	pool      *pgxpool.Pool
	dsn       string
	teardown  func(context.Context) error
}

// NewHarness picks a database in order: overrideDSN, REPAIRFLOW_STRESS_PG_DSN,
// a Docker container, a local Postgres. Shared databases get an isolated schema.
func NewHarness(ctx context.Context, overrideDSN string) (*Harness, error) {
	h := &Harness{container: &PGContainer{}}
	shared := overrideDSN != "" || os.Getenv(DSNEnv) != ""

	var err error
	switch {
	case shared:
		h.container, h.dsn, err = StartPostgres16(ctx, overrideDSN)
	case dockerAvailable(ctx):
		h.container, h.dsn, err = StartPostgres16(ctx, "")
	default:
		h.dsn, err = InitLocalDatabase(ctx)
	}
	if err != nil {
		return nil, fmt.Errorf("provision postgres: %w", err)
	}

	h.pool, h.teardown, err = ApplyMigrations(ctx, h.dsn, shared)
	if err != nil {
		_ = h.container.Terminate(ctx)
		return nil, fmt.Errorf("apply migrations: %w", err)
	}
	return h, nil
}

// Pool exposes the configured pgx pool.
func (h *Harness) Pool() *pgxpool.Pool {
	return h.pool
}

// DSN returns the connection string before schema isolation is applied.
func (h *Harness) DSN() string {
	return h.dsn
}

// Reset truncates mutable tables to provide a clean slate for next epoch.
func (h *Harness) Reset(ctx context.Context) error {
	return Reset(ctx, h.pool)
}

// Close tears down resources.
func (h *Harness) Close(ctx context.Context) error {
	if h.pool != nil {
		h.pool.Close()
	}
	var err error
	if h.teardown != nil {
		err = h.teardown(ctx)
	}
	if cerr := h.container.Terminate(ctx); err == nil {
		err = cerr
	}
	return err
}

func dockerAvailable(ctx context.Context) bool {
	if _, err := exec.LookPath("docker"); err != nil {
		return false
	}
	c := exec.CommandContext(ctx, "docker", "info")
	c.Stdout = io.Discard
	c.Stderr = io.Discard
	return c.Run() == nil
}
