package hrdoc

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

type Repository interface {
	Create(ctx context.Context, tx pgx.Tx, doc Document) (Document, error)
	GetForUpdate(ctx context.Context, tx pgx.Tx, id int64) (Document, error)
	// MarkGenerated stores the rendered content on a pending document.
	MarkGenerated(ctx context.Context, tx pgx.Tx, doc Document, content []byte) (Document, error)
	// MarkCompleted finalises a generated document.
	MarkCompleted(ctx context.Context, tx pgx.Tx, id, actorID int64, at time.Time) (Document, error)
	Get(ctx context.Context, id int64) (Document, error)
	List(ctx context.Context, contractorID *int64) ([]Document, error)
	Content(ctx context.Context, id int64) ([]byte, error)
}

type PGRepository struct {
	pool *pgxpool.Pool
}

func NewRepository(pool *pgxpool.Pool) *PGRepository {
	return &PGRepository{pool: pool}
}

const columns = `id, contractor_id, document_type, document_status, created_by,
	generated_by, generated_at, completed_by, completed_at, document_path, content_sha256, created_at, updated_at`

func (r *PGRepository) Create(ctx context.Context, tx pgx.Tx, doc Document) (Document, error) {
	created, err := scan(tx.QueryRow(ctx, `
		INSERT INTO hr_documents (contractor_id, document_type, document_status, created_by)
		VALUES ($1, $2, 'pending', $3)
		RETURNING `+columns, doc.ContractorID, doc.Type, doc.CreatedBy))
	if err != nil {
		return Document{}, fmt.Errorf("hrdoc: create: %w", err)
	}
	return created, nil
}

func (r *PGRepository) GetForUpdate(ctx context.Context, tx pgx.Tx, id int64) (Document, error) {
	return one(ctx, tx, `SELECT `+columns+` FROM hr_documents WHERE id = $1 FOR UPDATE`, id)
}

func (r *PGRepository) MarkGenerated(ctx context.Context, tx pgx.Tx, doc Document, content []byte) (Document, error) {
	updated, err := scan(tx.QueryRow(ctx, `
		UPDATE hr_documents
		SET document_status = 'generated', generated_by = $2, generated_at = $3,
		    document_path = $4, content = $5, content_sha256 = $6, updated_at = now()
		WHERE id = $1 AND document_status = 'pending'
		RETURNING `+columns,
		doc.ID, doc.GeneratedBy, doc.GeneratedAt, doc.Path, content, doc.ContentSHA256))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Document{}, ErrStale
		}
		return Document{}, fmt.Errorf("hrdoc: mark generated: %w", err)
	}
	return updated, nil
}

func (r *PGRepository) MarkCompleted(ctx context.Context, tx pgx.Tx, id, actorID int64, at time.Time) (Document, error) {
	updated, err := scan(tx.QueryRow(ctx, `
		UPDATE hr_documents
		SET document_status = 'completed', completed_by = $2, completed_at = $3, updated_at = now()
		WHERE id = $1 AND document_status = 'generated'
		RETURNING `+columns, id, actorID, at))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Document{}, ErrStale
		}
		return Document{}, fmt.Errorf("hrdoc: mark completed: %w", err)
	}
	return updated, nil
}

func (r *PGRepository) Get(ctx context.Context, id int64) (Document, error) {
	return one(ctx, r.pool, `SELECT `+columns+` FROM hr_documents WHERE id = $1`, id)
}

func (r *PGRepository) List(ctx context.Context, contractorID *int64) ([]Document, error) {
	rows, err := r.pool.Query(ctx, `SELECT `+columns+` FROM hr_documents
		WHERE $1::bigint IS NULL OR contractor_id = $1
		ORDER BY created_at DESC, id DESC`, contractorID)
	if err != nil {
		return nil, fmt.Errorf("hrdoc: query list: %w", err)
	}
	defer rows.Close()

	out := []Document{}
	for rows.Next() {
		d, err := scan(rows)
		if err != nil {
			return nil, fmt.Errorf("hrdoc: scan: %w", err)
		}
		out = append(out, d)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("hrdoc: iterate: %w", err)
	}
	return out, nil
}

func (r *PGRepository) Content(ctx context.Context, id int64) ([]byte, error) {
	var content []byte
	err := r.pool.QueryRow(ctx, `SELECT content FROM hr_documents WHERE id = $1`, id).Scan(&content)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("hrdoc: read content: %w", err)
	}
	if content == nil {
		return nil, ErrNotGenerated
	}
	return content, nil
}

type querier interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

func one(ctx context.Context, q querier, query string, id int64) (Document, error) {
	d, err := scan(q.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Document{}, ErrNotFound
		}
		return Document{}, fmt.Errorf("hrdoc: query: %w", err)
	}
	return d, nil
}

func scan(row pgx.Row) (Document, error) {
	var d Document
	err := row.Scan(
		&d.ID, &d.ContractorID, &d.Type, &d.Status, &d.CreatedBy,
		&d.GeneratedBy, &d.GeneratedAt, &d.CompletedBy, &d.CompletedAt,
		&d.Path, &d.ContentSHA256, &d.CreatedAt, &d.UpdatedAt,
	)
	return d, err
}
