package auth

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"repairflow/apperr"
)

var (
	ErrUserNotFound   = fmt.Errorf("auth: user not found: %w", apperr.ErrNotFound)
	ErrDuplicateEmail = fmt.Errorf("auth: email already exists: %w", apperr.ErrPreconditionFailed)
)

// Repository stores accounts. Emails arrive already normalised and are
// matched exactly.
type Repository interface {
	CreateUser(ctx context.Context, params CreateUserParams) (User, error)
	GetUserByEmail(ctx context.Context, email string) (User, error)
	GetUserByID(ctx context.Context, userID int64) (User, error)
}

type CreateUserParams struct {
	Email        string
	FullName     string
	Phone        *string
	PasswordHash string
	Role         Role
	CreatedAt    time.Time
}

type PGRepository struct {
	pool *pgxpool.Pool
}

func NewRepository(pool *pgxpool.Pool) *PGRepository {
	return &PGRepository{pool: pool}
}

const userColumns = `id, email, full_name, password_hash, phone, role, created_at, updated_at`

func (r *PGRepository) CreateUser(ctx context.Context, params CreateUserParams) (User, error) {
	rows, _ := r.pool.Query(ctx, `
		INSERT INTO users (email, full_name, phone, password_hash, role, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $6)
		RETURNING `+userColumns,
		params.Email, params.FullName, params.Phone, params.PasswordHash, params.Role, params.CreatedAt)
	user, err := pgx.CollectOneRow(rows, pgx.RowToStructByName[User])

	var pgErr *pgconn.PgError
	switch {
	case err == nil:
		return user, nil
	case errors.As(err, &pgErr) && pgErr.Code == "23505":
		return User{}, ErrDuplicateEmail
	default:
		return User{}, fmt.Errorf("auth: create user: %w", err)
	}
}

func (r *PGRepository) GetUserByEmail(ctx context.Context, email string) (User, error) {
	return r.findOne(ctx, "email", email)
}

func (r *PGRepository) GetUserByID(ctx context.Context, userID int64) (User, error) {
	return r.findOne(ctx, "id", userID)
}

// findOne loads the single user whose key column equals value. column is
// always a constant from this file.
func (r *PGRepository) findOne(ctx context.Context, column string, value any) (User, error) {
	rows, _ := r.pool.Query(ctx, `SELECT `+userColumns+` FROM users WHERE `+column+` = $1`, value)
	user, err := pgx.CollectOneRow(rows, pgx.RowToStructByName[User])
	if errors.Is(err, pgx.ErrNoRows) {
		return User{}, ErrUserNotFound
	}
	if err != nil {
		return User{}, fmt.Errorf("auth: get user by %s: %w", column, err)
	}
	return user, nil
}
