package request

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

type Repository interface {
	Create(ctx context.Context, tx pgx.Tx, req Request) (Request, error)
	GetForUpdate(ctx context.Context, tx pgx.Tx, id int64) (Request, error)
	// Update writes req if its Version still matches the stored row and
	// returns ErrStale otherwise.
	Update(ctx context.Context, tx pgx.Tx, req Request) (Request, error)
	Delete(ctx context.Context, tx pgx.Tx, id int64) error
	Get(ctx context.Context, id int64) (Request, error)
	List(ctx context.Context, filters Filters) ([]Request, int, error)

	AppendHistory(ctx context.Context, tx pgx.Tx, entry HistoryEntry) error
	History(ctx context.Context, requestID int64) ([]HistoryEntry, error)

	CreateResponse(ctx context.Context, tx pgx.Tx, resp Response) (Response, error)
	GetResponse(ctx context.Context, tx pgx.Tx, id int64) (Response, error)
	MarkAccepted(ctx context.Context, tx pgx.Tx, responseID int64) (Response, error)
	ListResponses(ctx context.Context, requestID int64) ([]Response, error)

	InsertIdempotencyKey(ctx context.Context, tx pgx.Tx, key string) error
	BindIdempotencyKey(ctx context.Context, tx pgx.Tx, key string, requestID int64) error
	ResolveIdempotencyKey(ctx context.Context, key string) (int64, error)
}

type PGRepository struct {
	pool *pgxpool.Pool
}

func NewRepository(pool *pgxpool.Pool) *PGRepository {
	return &PGRepository{pool: pool}
}

const requestColumns = `id, customer_id, title, description, urgency, address, city, region,
	equipment_type, equipment_brand, equipment_model, problem_description,
	priority, manager_comment, clarification_details, estimated_cost, final_price, scheduled_date,
	status, manager_id, assigned_contractor_id, cancel_reason, version,
	created_at, updated_at, processed_at, assigned_at, sent_to_bot_at`

func (r *PGRepository) Create(ctx context.Context, tx pgx.Tx, req Request) (Request, error) {
	query := `
		INSERT INTO repair_requests (customer_id, title, description, urgency, address, city, region,
			equipment_type, equipment_brand, equipment_model, problem_description, status, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
		RETURNING ` + requestColumns

	created, err := scanRequest(tx.QueryRow(ctx, query,
		req.CustomerID, req.Title, req.Description, req.Urgency,
		req.Address, req.City, req.Region,
		req.EquipmentType, req.EquipmentBrand, req.EquipmentModel, req.ProblemDescription,
		req.Status, req.CreatedAt, req.UpdatedAt,
	))
	if err != nil {
		return Request{}, fmt.Errorf("request: create: %w", err)
	}
	return created, nil
}

func (r *PGRepository) GetForUpdate(ctx context.Context, tx pgx.Tx, id int64) (Request, error) {
	return oneRequest(ctx, tx, `SELECT `+requestColumns+` FROM repair_requests WHERE id = $1 FOR UPDATE`, id)
}

func (r *PGRepository) Get(ctx context.Context, id int64) (Request, error) {
	return oneRequest(ctx, r.pool, `SELECT `+requestColumns+` FROM repair_requests WHERE id = $1`, id)
}

func (r *PGRepository) Update(ctx context.Context, tx pgx.Tx, req Request) (Request, error) {
	query := `
		UPDATE repair_requests
		SET title = $3, description = $4, urgency = $5, address = $6, city = $7, region = $8,
		    equipment_type = $9, equipment_brand = $10, equipment_model = $11, problem_description = $12,
		    priority = $13, manager_comment = $14, clarification_details = $15,
		    estimated_cost = $16, final_price = $17, scheduled_date = $18,
		    status = $19, manager_id = $20, assigned_contractor_id = $21, cancel_reason = $22,
		    processed_at = $23, assigned_at = $24, sent_to_bot_at = $25,
		    version = version + 1, updated_at = $26
		WHERE id = $1 AND version = $2
		RETURNING ` + requestColumns

	updated, err := scanRequest(tx.QueryRow(ctx, query,
		req.ID, req.Version,
		req.Title, req.Description, req.Urgency, req.Address, req.City, req.Region,
		req.EquipmentType, req.EquipmentBrand, req.EquipmentModel, req.ProblemDescription,
		req.Priority, req.ManagerComment, req.ClarificationDetails,
		req.EstimatedCost, req.FinalPrice, req.ScheduledDate,
		req.Status, req.ManagerID, req.AssignedContractorID, req.CancelReason,
		req.ProcessedAt, req.AssignedAt, req.SentToBotAt, req.UpdatedAt,
	))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Request{}, ErrStale
		}
		return Request{}, fmt.Errorf("request: update: %w", err)
	}
	return updated, nil
}

func (r *PGRepository) Delete(ctx context.Context, tx pgx.Tx, id int64) error {
	tag, err := tx.Exec(ctx, `DELETE FROM repair_requests WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("request: delete: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *PGRepository) List(ctx context.Context, filters Filters) ([]Request, int, error) {
	if filters.Page <= 0 {
		filters.Page = 1
	}
	if filters.PageSize <= 0 || filters.PageSize > 100 {
		filters.PageSize = 20
	}

	where := []string{"1=1"}
	args := []any{}

	if filters.CustomerID != nil {
		where = append(where, fmt.Sprintf("customer_id = $%d", len(args)+1))
		args = append(args, *filters.CustomerID)
	}
	if filters.ContractorID != nil {
		where = append(where, fmt.Sprintf(
			"(status IN ('SENT_TO_CONTRACTORS','CONTRACTOR_RESPONSES') OR assigned_contractor_id = $%d)", len(args)+1))
		args = append(args, *filters.ContractorID)
	}
	if filters.Status != "" {
		where = append(where, fmt.Sprintf("status = $%d", len(args)+1))
		args = append(args, filters.Status)
	}
	if filters.City != "" {
		where = append(where, fmt.Sprintf("lower(city) = lower($%d)", len(args)+1))
		args = append(args, filters.City)
	}

	whereClause := " WHERE " + strings.Join(where, " AND ")
	offset := (filters.Page - 1) * filters.PageSize

	query := fmt.Sprintf(`SELECT %s FROM repair_requests%s ORDER BY created_at DESC, id DESC LIMIT %d OFFSET %d`,
		requestColumns, whereClause, filters.PageSize, offset)
	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("request: query list: %w", err)
	}
	defer rows.Close()

	list := []Request{}
	for rows.Next() {
		req, err := scanRequest(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("request: scan list: %w", err)
		}
		list = append(list, req)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("request: iterate list: %w", err)
	}

	var total int
	if err := r.pool.QueryRow(ctx, "SELECT COUNT(*) FROM repair_requests"+whereClause, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("request: count list: %w", err)
	}
	return list, total, nil
}

func (r *PGRepository) AppendHistory(ctx context.Context, tx pgx.Tx, entry HistoryEntry) error {
	_, err := tx.Exec(ctx, `
		INSERT INTO request_history (request_id, actor_id, event, from_status, to_status, comment, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		entry.RequestID, entry.ActorID, entry.Event, entry.FromStatus, entry.ToStatus, entry.Comment, entry.CreatedAt)
	if err != nil {
		return fmt.Errorf("request: append history: %w", err)
	}
	return nil
}

func (r *PGRepository) History(ctx context.Context, requestID int64) ([]HistoryEntry, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, request_id, actor_id, event, from_status, to_status, comment, created_at
		FROM request_history
		WHERE request_id = $1
		ORDER BY id ASC`, requestID)
	if err != nil {
		return nil, fmt.Errorf("request: query history: %w", err)
	}
	defer rows.Close()

	out := []HistoryEntry{}
	for rows.Next() {
		var h HistoryEntry
		if err := rows.Scan(&h.ID, &h.RequestID, &h.ActorID, &h.Event, &h.FromStatus, &h.ToStatus, &h.Comment, &h.CreatedAt); err != nil {
			return nil, fmt.Errorf("request: scan history: %w", err)
		}
		out = append(out, h)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("request: iterate history: %w", err)
	}
	return out, nil
}

const responseColumns = `id, request_id, contractor_id, proposed_price, estimated_time, comment, is_accepted, created_at`

func (r *PGRepository) CreateResponse(ctx context.Context, tx pgx.Tx, resp Response) (Response, error) {
	query := `
		INSERT INTO contractor_responses (request_id, contractor_id, proposed_price, estimated_time, comment, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING ` + responseColumns

	created, err := scanResponse(tx.QueryRow(ctx, query,
		resp.RequestID, resp.ContractorID, resp.ProposedPrice, resp.EstimatedTime, resp.Comment, resp.CreatedAt))
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return Response{}, ErrDuplicateResponse
		}
		return Response{}, fmt.Errorf("request: create response: %w", err)
	}
	return created, nil
}

func (r *PGRepository) GetResponse(ctx context.Context, tx pgx.Tx, id int64) (Response, error) {
	resp, err := scanResponse(tx.QueryRow(ctx, `SELECT `+responseColumns+` FROM contractor_responses WHERE id = $1`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Response{}, ErrResponseNotFound
		}
		return Response{}, fmt.Errorf("request: get response: %w", err)
	}
	return resp, nil
}

// MarkAccepted flags the response. The partial unique index on accepted
// responses turns a second acceptance on the same request into
// ErrAlreadyAssigned.
func (r *PGRepository) MarkAccepted(ctx context.Context, tx pgx.Tx, responseID int64) (Response, error) {
	resp, err := scanResponse(tx.QueryRow(ctx, `
		UPDATE contractor_responses SET is_accepted = true
		WHERE id = $1
		RETURNING `+responseColumns, responseID))
	if err != nil {
		var pgErr *pgconn.PgError
		switch {
		case errors.Is(err, pgx.ErrNoRows):
			return Response{}, ErrResponseNotFound
		case errors.As(err, &pgErr) && pgErr.Code == "23505":
			return Response{}, ErrAlreadyAssigned
		}
		return Response{}, fmt.Errorf("request: mark accepted: %w", err)
	}
	return resp, nil
}

func (r *PGRepository) ListResponses(ctx context.Context, requestID int64) ([]Response, error) {
	rows, err := r.pool.Query(ctx, `SELECT `+responseColumns+` FROM contractor_responses
		WHERE request_id = $1 ORDER BY created_at ASC, id ASC`, requestID)
	if err != nil {
		return nil, fmt.Errorf("request: query responses: %w", err)
	}
	defer rows.Close()

	out := []Response{}
	for rows.Next() {
		resp, err := scanResponse(rows)
		if err != nil {
			return nil, fmt.Errorf("request: scan response: %w", err)
		}
		out = append(out, resp)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("request: iterate responses: %w", err)
	}
	return out, nil
}

const idempotencyScope = "request:submit"

// InsertIdempotencyKey reserves key inside the active transaction.
func (r *PGRepository) InsertIdempotencyKey(ctx context.Context, tx pgx.Tx, key string) error {
	if key == "" {
		return fmt.Errorf("request: empty idempotency key")
	}
	_, err := tx.Exec(ctx, `INSERT INTO idempotency_keys (key, scope) VALUES ($1, $2)`, key, idempotencyScope)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return ErrDuplicateIdempotencyKey
		}
		return fmt.Errorf("request: insert idempotency key: %w", err)
	}
	return nil
}

func (r *PGRepository) BindIdempotencyKey(ctx context.Context, tx pgx.Tx, key string, requestID int64) error {
	_, err := tx.Exec(ctx, `UPDATE idempotency_keys SET resource_id = $2 WHERE key = $1`, key, requestID)
	if err != nil {
		return fmt.Errorf("request: bind idempotency key: %w", err)
	}
	return nil
}

func (r *PGRepository) ResolveIdempotencyKey(ctx context.Context, key string) (int64, error) {
	var id *int64
	err := r.pool.QueryRow(ctx, `SELECT resource_id FROM idempotency_keys WHERE key = $1 AND scope = $2`,
		key, idempotencyScope).Scan(&id)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, ErrNotFound
		}
		return 0, fmt.Errorf("request: resolve idempotency key: %w", err)
	}
	if id == nil {
		return 0, ErrNotFound
	}
	return *id, nil
}

type querier interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

func oneRequest(ctx context.Context, q querier, query string, id int64) (Request, error) {
	req, err := scanRequest(q.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Request{}, ErrNotFound
		}
		return Request{}, fmt.Errorf("request: query: %w", err)
	}
	return req, nil
}

func scanRequest(row pgx.Row) (Request, error) {
	var req Request
	err := row.Scan(
		&req.ID, &req.CustomerID, &req.Title, &req.Description, &req.Urgency,
		&req.Address, &req.City, &req.Region,
		&req.EquipmentType, &req.EquipmentBrand, &req.EquipmentModel, &req.ProblemDescription,
		&req.Priority, &req.ManagerComment, &req.ClarificationDetails,
		&req.EstimatedCost, &req.FinalPrice, &req.ScheduledDate,
		&req.Status, &req.ManagerID, &req.AssignedContractorID, &req.CancelReason, &req.Version,
		&req.CreatedAt, &req.UpdatedAt, &req.ProcessedAt, &req.AssignedAt, &req.SentToBotAt,
	)
	return req, err
}

func scanResponse(row pgx.Row) (Response, error) {
	var resp Response
	err := row.Scan(
		&resp.ID, &resp.RequestID, &resp.ContractorID, &resp.ProposedPrice,
		&resp.EstimatedTime, &resp.Comment, &resp.IsAccepted, &resp.CreatedAt,
	)
	return resp, err
}
