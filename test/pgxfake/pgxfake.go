// Package pgxfake provides an in-process stand-in for a pgx pool. Transactions
// are serialised by a single lock, and in-memory repositories register undo
// steps so a rollback restores the state they mutated.
package pgxfake

import (
	"context"
	"errors"
	"sync"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"repairflow/notify"
)

// Pool hands out transactions one at a time.
type Pool struct {
	mu sync.Mutex

	statsMu   sync.Mutex
	begun     int
	committed int
	rolled    int
	// BeginErr, when set, is returned by Begin.
	BeginErr error
	// CommitErr, when set, is returned by Commit and the transaction is rolled back.
	CommitErr error
}

func NewPool() *Pool {
	return &Pool{}
}

// Begin blocks until no other transaction is open.
func (p *Pool) Begin(ctx context.Context) (pgx.Tx, error) {
	if p.BeginErr != nil {
		return nil, p.BeginErr
	}
	p.mu.Lock()
	p.statsMu.Lock()
	p.begun++
	p.statsMu.Unlock()
	return &Tx{pool: p}, nil
}

// Stats reports how many transactions began, committed and rolled back.
func (p *Pool) Stats() (begun, committed, rolled int) {
	p.statsMu.Lock()
	defer p.statsMu.Unlock()
	return p.begun, p.committed, p.rolled
}

// Tx implements pgx.Tx for repositories that keep their state in memory.
type Tx struct {
	pool *Pool
	undo []func()
	done bool
}

// OnRollback records a step that reverts a mutation made inside tx.
func (t *Tx) OnRollback(fn func()) {
	t.undo = append(t.undo, fn)
}

// Journal returns the fake transaction behind tx so repositories can record
// undo steps. It panics when tx did not come from a Pool.
func Journal(tx pgx.Tx) *Tx {
	ft, ok := tx.(*Tx)
	if !ok {
		panic("pgxfake: transaction was not created by pgxfake.Pool")
	}
	return ft
}

func (t *Tx) Begin(context.Context) (pgx.Tx, error) {
	return nil, errors.New("pgxfake: nested transactions are not supported")
}

func (t *Tx) Commit(ctx context.Context) error {
	if t.done {
		return pgx.ErrTxClosed
	}
	if err := t.pool.CommitErr; err != nil {
		t.rollback()
		return err
	}
	t.done = true
	t.undo = nil
	t.pool.statsMu.Lock()
	t.pool.committed++
	t.pool.statsMu.Unlock()
	t.pool.mu.Unlock()
	return nil
}

func (t *Tx) Rollback(context.Context) error {
	if t.done {
		return pgx.ErrTxClosed
	}
	t.rollback()
	return nil
}

func (t *Tx) rollback() {
	for i := len(t.undo) - 1; i >= 0; i-- {
		t.undo[i]()
	}
	t.undo = nil
	t.done = true
	t.pool.statsMu.Lock()
	t.pool.rolled++
	t.pool.statsMu.Unlock()
	t.pool.mu.Unlock()
}

func (t *Tx) CopyFrom(context.Context, pgx.Identifier, []string, pgx.CopyFromSource) (int64, error) {
	panic("not implemented")
}

func (t *Tx) SendBatch(context.Context, *pgx.Batch) pgx.BatchResults {
	panic("not implemented")
}

func (t *Tx) LargeObjects() pgx.LargeObjects {
	panic("not implemented")
}

func (t *Tx) Prepare(context.Context, string, string) (*pgconn.StatementDescription, error) {
	panic("not implemented")
}

func (t *Tx) Exec(context.Context, string, ...any) (pgconn.CommandTag, error) {
	panic("not implemented")
}

func (t *Tx) Query(context.Context, string, ...any) (pgx.Rows, error) {
	panic("not implemented")
}

func (t *Tx) QueryRow(context.Context, string, ...any) pgx.Row {
	panic("not implemented")
}

func (t *Tx) Conn() *pgx.Conn {
	return nil
}

// Outbox records enqueued events and drops them on rollback.
type Outbox struct {
	mu     sync.Mutex
	Events []Event
	// Err, when set, is returned by Enqueue.
	Err error
}

type Event struct {
	Topic     notify.EventType
	SubjectID int64
	Payload   map[string]any
}

func (o *Outbox) Enqueue(ctx context.Context, tx pgx.Tx, topic notify.EventType, subjectID int64, payload map[string]any) error {
	if o.Err != nil {
		return o.Err
	}
	o.mu.Lock()
	o.Events = append(o.Events, Event{Topic: topic, SubjectID: subjectID, Payload: payload})
	n := len(o.Events)
	o.mu.Unlock()

	Journal(tx).OnRollback(func() {
		o.mu.Lock()
		o.Events = o.Events[:n-1]
		o.mu.Unlock()
	})
	return nil
}

// Topics lists the recorded event topics in order.
func (o *Outbox) Topics() []notify.EventType {
	o.mu.Lock()
	defer o.mu.Unlock()
	out := make([]notify.EventType, 0, len(o.Events))
	for _, e := range o.Events {
		out = append(out, e.Topic)
	}
	return out
}
