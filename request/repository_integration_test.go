package request

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync/atomic"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"

	"repairflow/apperr"
	"repairflow/auth"
	"repairflow/contractor"
	"repairflow/db/migrations"
	"repairflow/outbox"
	"repairflow/verification"
)

func TestPostgresWorkflow(t *testing.T) {
	dsn := os.Getenv("DATABASE_URL")
	if dsn == "" {
		t.Skip("DATABASE_URL not set; skipping integration test")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
	defer cancel()

	require.NoError(t, migrations.Up(ctx, dsn))

	pool, err := pgxpool.New(ctx, dsn)
	require.NoError(t, err)
	defer pool.Close()

	seedUser := func(role auth.Role) auth.Actor {
		var id int64
		err := pool.QueryRow(ctx, `INSERT INTO users (email, full_name, password_hash, role)
			VALUES ($1, $2, 'x', $3) RETURNING id`,
			fmt.Sprintf("%s+%d@example.com", role, time.Now().UnixNano()), "Test "+string(role), role).Scan(&id)
		require.NoError(t, err)
		return auth.Actor{ID: id, Role: role}
	}

	owner := seedUser(auth.RoleCustomer)
	m1 := seedUser(auth.RoleManager)
	m2 := seedUser(auth.RoleManager)
	worker := seedUser(auth.RoleContractor)

	_, err = pool.Exec(ctx, `INSERT INTO contractor_verifications (contractor_id, cycle, security_status, manager_status)
		VALUES ($1, 1, 'approved', 'approved')`, worker.ID)
	require.NoError(t, err)

	verifications := verification.NewService(pool, verification.NewRepository(pool), contractor.NewRepository(pool), outbox.NewWriter())
	clock := time.Date(2025, 4, 1, 9, 0, 0, 0, time.UTC)
	svc := NewService(pool, NewRepository(pool), verifications, outbox.NewWriter()).
		WithClock(func() time.Time { return clock })

	req, err := svc.Submit(ctx, owner, SubmitParams{Title: "Fridge", Description: "Not cooling", Urgency: UrgencyMedium})
	require.NoError(t, err)

	var wins, lost atomic.Int32
	var g errgroup.Group
	for _, m := range []auth.Actor{m1, m2} {
		g.Go(func() error {
			_, err := svc.Claim(ctx, m, req.ID)
			switch {
			case err == nil:
				wins.Add(1)
			case errors.Is(err, apperr.ErrConcurrentModification):
				lost.Add(1)
			default:
				return err
			}
			return nil
		})
	}
	require.NoError(t, g.Wait())
	assert.EqualValues(t, 1, wins.Load())
	assert.EqualValues(t, 1, lost.Load())

	_, err = svc.SendToContractors(ctx, m1, req.ID)
	require.NoError(t, err)
	resp, err := svc.SubmitResponse(ctx, worker, ResponseParams{RequestID: req.ID, ProposedPrice: 2500.5})
	require.NoError(t, err)
	_, err = svc.AcceptResponse(ctx, m1, req.ID, resp.ID)
	require.NoError(t, err)
	_, err = svc.StartWork(ctx, worker, req.ID)
	require.NoError(t, err)
	done, err := svc.CompleteWork(ctx, worker, req.ID, 2600)
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, done.Status)
	require.NotNil(t, done.FinalPrice)
	assert.InDelta(t, 2600, *done.FinalPrice, 0.001)
	assert.True(t, clock.Equal(done.UpdatedAt), "updated_at %s", done.UpdatedAt)
	assert.True(t, clock.Equal(resp.CreatedAt), "response created_at %s", resp.CreatedAt)

	var pending int
	require.NoError(t, pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM outbox WHERE subject_id = $1 AND status = 'pending'`, req.ID).Scan(&pending))
	assert.Equal(t, 3, pending)

	history, err := svc.History(ctx, owner, req.ID)
	require.NoError(t, err)
	assert.Len(t, history, 7)
	for _, h := range history {
		assert.True(t, clock.Equal(h.CreatedAt), "history %s at %s", h.Event, h.CreatedAt)
	}
}
