package verification

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

type Repository interface {
	Create(ctx context.Context, tx pgx.Tx, contractorID int64) (Verification, error)
	GetForUpdate(ctx context.Context, tx pgx.Tx, id int64) (Verification, error)
	LatestForUpdate(ctx context.Context, tx pgx.Tx, contractorID int64) (Verification, error)
	LatestShared(ctx context.Context, tx pgx.Tx, contractorID int64) (Verification, error)
	Update(ctx context.Context, tx pgx.Tx, v Verification) (Verification, error)
	Get(ctx context.Context, id int64) (Verification, error)
	Latest(ctx context.Context, contractorID int64) (Verification, error)
	Queue(ctx context.Context, stage Stage, limit int) ([]Verification, error)
}

type PGRepository struct {
	pool *pgxpool.Pool
}

func NewRepository(pool *pgxpool.Pool) *PGRepository {
	return &PGRepository{pool: pool}
}

const columns = `id, contractor_id, cycle, security_status, security_notes, security_checked_by, security_checked_at,
	manager_status, manager_notes, manager_checked_by, manager_checked_at, version, created_at, updated_at`

func (r *PGRepository) Create(ctx context.Context, tx pgx.Tx, contractorID int64) (Verification, error) {
	query := `
		INSERT INTO contractor_verifications (contractor_id, cycle)
		SELECT $1, COALESCE(MAX(cycle), 0) + 1
		FROM contractor_verifications
		WHERE contractor_id = $1
		RETURNING ` + columns

	v, err := scan(tx.QueryRow(ctx, query, contractorID))
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return Verification{}, ErrActiveCycle
		}
		return Verification{}, fmt.Errorf("verification: create: %w", err)
	}
	return v, nil
}

func (r *PGRepository) GetForUpdate(ctx context.Context, tx pgx.Tx, id int64) (Verification, error) {
	return r.one(ctx, tx, `SELECT `+columns+` FROM contractor_verifications WHERE id = $1 FOR UPDATE`, id)
}

func (r *PGRepository) LatestForUpdate(ctx context.Context, tx pgx.Tx, contractorID int64) (Verification, error) {
	return r.one(ctx, tx, `SELECT `+columns+` FROM contractor_verifications
		WHERE contractor_id = $1 ORDER BY cycle DESC LIMIT 1 FOR UPDATE`, contractorID)
}

// LatestShared reads the latest cycle with a share lock so a concurrent
// decision on it waits for the caller's transaction.
func (r *PGRepository) LatestShared(ctx context.Context, tx pgx.Tx, contractorID int64) (Verification, error) {
	return r.one(ctx, tx, `SELECT `+columns+` FROM contractor_verifications
		WHERE contractor_id = $1 ORDER BY cycle DESC LIMIT 1 FOR SHARE`, contractorID)
}

func (r *PGRepository) Update(ctx context.Context, tx pgx.Tx, v Verification) (Verification, error) {
	query := `
		UPDATE contractor_verifications
		SET security_status = $3, security_notes = $4, security_checked_by = $5, security_checked_at = $6,
		    manager_status = $7, manager_notes = $8, manager_checked_by = $9, manager_checked_at = $10,
		    version = version + 1, updated_at = now()
		WHERE id = $1 AND version = $2
		RETURNING ` + columns

	updated, err := scan(tx.QueryRow(ctx, query, v.ID, v.Version,
		v.SecurityStatus, v.SecurityNotes, v.SecurityCheckedBy, v.SecurityCheckedAt,
		v.ManagerStatus, v.ManagerNotes, v.ManagerCheckedBy, v.ManagerCheckedAt))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Verification{}, ErrStale
		}
		return Verification{}, fmt.Errorf("verification: update: %w", err)
	}
	return updated, nil
}

func (r *PGRepository) Get(ctx context.Context, id int64) (Verification, error) {
	return r.one(ctx, r.pool, `SELECT `+columns+` FROM contractor_verifications WHERE id = $1`, id)
}

func (r *PGRepository) Latest(ctx context.Context, contractorID int64) (Verification, error) {
	return r.one(ctx, r.pool, `SELECT `+columns+` FROM contractor_verifications
		WHERE contractor_id = $1 ORDER BY cycle DESC LIMIT 1`, contractorID)
}

// Queue lists verifications waiting on stage, oldest first.
func (r *PGRepository) Queue(ctx context.Context, stage Stage, limit int) ([]Verification, error) {
	if limit <= 0 || limit > 100 {
		limit = 100
	}
	where := `security_status = 'pending'`
	if stage == StageManager {
		where = `security_status = 'approved' AND manager_status = 'pending'`
	}

	rows, err := r.pool.Query(ctx, `SELECT `+columns+` FROM contractor_verifications
		WHERE `+where+` ORDER BY created_at ASC LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("verification: queue: %w", err)
	}
	defer rows.Close()

	out := make([]Verification, 0, 8)
	for rows.Next() {
		v, err := scan(rows)
		if err != nil {
			return nil, fmt.Errorf("verification: scan: %w", err)
		}
		out = append(out, v)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("verification: iterate: %w", err)
	}
	return out, nil
}

type querier interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

func (r *PGRepository) one(ctx context.Context, q querier, query string, arg int64) (Verification, error) {
	v, err := scan(q.QueryRow(ctx, query, arg))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Verification{}, ErrNotFound
		}
		return Verification{}, fmt.Errorf("verification: query: %w", err)
	}
	return v, nil
}

func scan(row pgx.Row) (Verification, error) {
	var v Verification
	err := row.Scan(
		&v.ID, &v.ContractorID, &v.Cycle,
		&v.SecurityStatus, &v.SecurityNotes, &v.SecurityCheckedBy, &v.SecurityCheckedAt,
		&v.ManagerStatus, &v.ManagerNotes, &v.ManagerCheckedBy, &v.ManagerCheckedAt,
		&v.Version, &v.CreatedAt, &v.UpdatedAt,
	)
	return v, err
}
