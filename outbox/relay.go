package outbox

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"repairflow/logging"
	"repairflow/notify"
)

type Status string

const (
	StatusPending   Status = "pending"
	StatusProcessed Status = "processed"
	StatusDead      Status = "dead"
)

// Message is one outbox row.
type Message struct {
	ID        string
	Topic     notify.EventType
	SubjectID int64
	Payload   map[string]any
	Attempts  int
	CreatedAt time.Time
}

type TxBeginner interface {
	Begin(ctx context.Context) (pgx.Tx, error)
}

// Store is the relay's view of the outbox table.
type Store interface {
	ClaimPending(ctx context.Context, tx pgx.Tx, limit int) ([]Message, error)
	MarkProcessed(ctx context.Context, tx pgx.Tx, id string) error
	MarkFailed(ctx context.Context, tx pgx.Tx, id string, cause string, dead bool) error
}

// Result summarises one relay pass.
type Result struct {
	Delivered int
	Retrying  int
	Dead      int
}

// Relay drains pending outbox rows into a notifier. Concurrent relays skip
// each other's rows, so several instances may run at once.
type Relay struct {
	pool        TxBeginner
	store       Store
	notifier    notify.Notifier
	batchSize   int
	maxAttempts int
	logger      *zap.Logger
}

func NewRelay(pool TxBeginner, store Store, notifier notify.Notifier) *Relay {
	return &Relay{
		pool:        pool,
		store:       store,
		notifier:    notifier,
		batchSize:   50,
		maxAttempts: 5,
		logger:      zap.NewNop(),
	}
}

func (r *Relay) WithBatchSize(n int) *Relay {
	if n > 0 {
		r.batchSize = n
	}
	return r
}

func (r *Relay) WithMaxAttempts(n int) *Relay {
	if n > 0 {
		r.maxAttempts = n
	}
	return r
}

func (r *Relay) WithLogger(l *zap.Logger) *Relay {
	r.logger = logging.OrNop(l)
	return r
}

// RunOnce claims one batch, delivers it and records the outcome of each row
// in a single transaction.
func (r *Relay) RunOnce(ctx context.Context) (Result, error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return Result{}, fmt.Errorf("outbox: begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	msgs, err := r.store.ClaimPending(ctx, tx, r.batchSize)
	if err != nil {
		return Result{}, err
	}

	var res Result
	for _, m := range msgs {
		event := notify.Event{
			ID:         m.ID,
			Type:       m.Topic,
			SubjectID:  m.SubjectID,
			Payload:    m.Payload,
			OccurredAt: m.CreatedAt,
		}
		if err := r.notifier.Notify(ctx, event); err != nil {
			dead := m.Attempts+1 >= r.maxAttempts
			if markErr := r.store.MarkFailed(ctx, tx, m.ID, err.Error(), dead); markErr != nil {
				return Result{}, markErr
			}
			if dead {
				res.Dead++
				r.logger.Warn("outbox message dead", zap.String("id", m.ID), zap.String("topic", string(m.Topic)), zap.Error(err))
			} else {
				res.Retrying++
				r.logger.Warn("outbox delivery failed", zap.String("id", m.ID), zap.Int("attempt", m.Attempts+1), zap.Error(err))
			}
			continue
		}
		if err := r.store.MarkProcessed(ctx, tx, m.ID); err != nil {
			return Result{}, err
		}
		res.Delivered++
	}

	if err := tx.Commit(ctx); err != nil {
		return Result{}, fmt.Errorf("outbox: commit relay batch: %w", err)
	}
	if len(msgs) > 0 {
		r.logger.Debug("outbox batch relayed",
			zap.Int("delivered", res.Delivered), zap.Int("retrying", res.Retrying), zap.Int("dead", res.Dead))
	}
	return res, nil
}

// Run is a cron-friendly wrapper around RunOnce that logs instead of returning.
func (r *Relay) Run(ctx context.Context) {
	if _, err := r.RunOnce(ctx); err != nil {
		r.logger.Error("outbox relay pass failed", zap.Error(err))
	}
}

// PGStore implements Store on the outbox table.
type PGStore struct{}

func NewPGStore() *PGStore {
	return &PGStore{}
}

var _ TxBeginner = (*pgxpool.Pool)(nil)

func (PGStore) ClaimPending(ctx context.Context, tx pgx.Tx, limit int) ([]Message, error) {
	rows, err := tx.Query(ctx, `
		SELECT id::text, topic, subject_id, payload, attempts, created_at
		FROM outbox
		WHERE status = 'pending'
		ORDER BY created_at
		FOR UPDATE SKIP LOCKED
		LIMIT $1
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("outbox: claim pending: %w", err)
	}
	defer rows.Close()

	var msgs []Message
	for rows.Next() {
		var m Message
		if err := rows.Scan(&m.ID, &m.Topic, &m.SubjectID, &m.Payload, &m.Attempts, &m.CreatedAt); err != nil {
			return nil, fmt.Errorf("outbox: scan pending: %w", err)
		}
		msgs = append(msgs, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("outbox: iterate pending: %w", err)
	}
	return msgs, nil
}

func (PGStore) MarkProcessed(ctx context.Context, tx pgx.Tx, id string) error {
	if _, err := tx.Exec(ctx, `UPDATE outbox SET status='processed', last_attempt=now() WHERE id=$1`, id); err != nil {
		return fmt.Errorf("outbox: mark processed: %w", err)
	}
	return nil
}

func (PGStore) MarkFailed(ctx context.Context, tx pgx.Tx, id string, cause string, dead bool) error {
	status := StatusPending
	if dead {
		status = StatusDead
	}
	if _, err := tx.Exec(ctx, `
		UPDATE outbox
		SET attempts = attempts + 1, last_attempt = now(), last_error = $2, status = $3
		WHERE id = $1
	`, id, cause, string(status)); err != nil {
		return fmt.Errorf("outbox: mark failed: %w", err)
	}
	return nil
}
