package outbox

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"repairflow/notify"
	"repairflow/test/pgxfake"
)

type fakeStore struct {
	pending   []Message
	processed []string
	failed    map[string]bool
	claimErr  error
}

func (f *fakeStore) ClaimPending(ctx context.Context, tx pgx.Tx, limit int) ([]Message, error) {
	if f.claimErr != nil {
		return nil, f.claimErr
	}
	if limit < len(f.pending) {
		return f.pending[:limit], nil
	}
	return f.pending, nil
}

func (f *fakeStore) MarkProcessed(ctx context.Context, tx pgx.Tx, id string) error {
	f.processed = append(f.processed, id)
	return nil
}

func (f *fakeStore) MarkFailed(ctx context.Context, tx pgx.Tx, id string, cause string, dead bool) error {
	if f.failed == nil {
		f.failed = map[string]bool{}
	}
	f.failed[id] = dead
	return nil
}

func TestRelayDeliversPending(t *testing.T) {
	pool := pgxfake.NewPool()
	store := &fakeStore{pending: []Message{
		{ID: "m1", Topic: notify.EventSentToContractors, SubjectID: 1, CreatedAt: time.Now()},
		{ID: "m2", Topic: notify.EventRequestCompleted, SubjectID: 2, CreatedAt: time.Now()},
	}}
	var got []notify.Event
	n := notify.NotifierFunc(func(ctx context.Context, e notify.Event) error {
		got = append(got, e)
		return nil
	})

	res, err := NewRelay(pool, store, n).RunOnce(context.Background())
	require.NoError(t, err)

	assert.Equal(t, Result{Delivered: 2}, res)
	assert.Equal(t, []string{"m1", "m2"}, store.processed)
	require.Len(t, got, 2)
	assert.Equal(t, notify.EventSentToContractors, got[0].Type)
	assert.EqualValues(t, 2, got[1].SubjectID)

	_, committed, _ := pool.Stats()
	assert.Equal(t, 1, committed)
}

func TestRelayRetriesThenDeadLetters(t *testing.T) {
	pool := pgxfake.NewPool()
	store := &fakeStore{pending: []Message{
		{ID: "fresh", Topic: notify.EventResponseAccepted, Attempts: 0},
		{ID: "tired", Topic: notify.EventResponseAccepted, Attempts: 2},
	}}
	n := notify.NotifierFunc(func(context.Context, notify.Event) error { return errors.New("bus down") })

	res, err := NewRelay(pool, store, n).WithMaxAttempts(3).RunOnce(context.Background())
	require.NoError(t, err)

	assert.Equal(t, Result{Retrying: 1, Dead: 1}, res)
	assert.Equal(t, map[string]bool{"fresh": false, "tired": true}, store.failed)
	assert.Empty(t, store.processed)
}

func TestRelayHonoursBatchSize(t *testing.T) {
	store := &fakeStore{pending: []Message{{ID: "a"}, {ID: "b"}, {ID: "c"}}}
	n := notify.NotifierFunc(func(context.Context, notify.Event) error { return nil })

	res, err := NewRelay(pgxfake.NewPool(), store, n).WithBatchSize(2).RunOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, res.Delivered)
}

func TestRelayClaimErrorRollsBack(t *testing.T) {
	pool := pgxfake.NewPool()
	store := &fakeStore{claimErr: errors.New("connection refused")}

	_, err := NewRelay(pool, store, notify.NotifierFunc(func(context.Context, notify.Event) error { return nil })).
		RunOnce(context.Background())
	require.Error(t, err)

	_, committed, rolled := pool.Stats()
	assert.Equal(t, 0, committed)
	assert.Equal(t, 1, rolled)
}
