// Package outbox persists workflow events in the same transaction as the
// state change that produced them, and relays committed events to a notifier.
package outbox

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"repairflow/notify"
)

// Writer inserts outbox rows inside the caller's transaction.
type Writer struct {
	idGenerator func() string
}

func NewWriter() *Writer {
	return &Writer{idGenerator: uuid.NewString}
}

func (w *Writer) WithIDGenerator(gen func() string) *Writer {
	w.idGenerator = gen
	return w
}

func (w *Writer) Enqueue(ctx context.Context, tx pgx.Tx, topic notify.EventType, subjectID int64, payload map[string]any) error {
	if payload == nil {
		payload = map[string]any{}
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("outbox: encode payload: %w", err)
	}
	if _, err := tx.Exec(ctx, `
		INSERT INTO outbox (id, topic, subject_id, payload)
		VALUES ($1, $2, $3, $4::jsonb)
	`, w.idGenerator(), string(topic), subjectID, string(body)); err != nil {
		return fmt.Errorf("outbox: insert %s: %w", topic, err)
	}
	return nil
}
