package contractor

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"repairflow/apperr"
)

// ErrNotFound signals the requested contractor profile does not exist.
var ErrNotFound = fmt.Errorf("contractor: not found: %w", apperr.ErrNotFound)

// Repository provides access to contractor profiles.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository wires a pgxpool-backed repository implementation.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

const profileColumns = `p.user_id, p.full_name, p.phone, p.city, p.specialization, p.experience_years, p.created_at, p.updated_at`

// GetByID fetches a contractor profile by user id.
func (r *Repository) GetByID(ctx context.Context, userID int64) (Profile, error) {
	query := `SELECT ` + profileColumns + ` FROM contractor_profiles p WHERE p.user_id = $1`

	profile, err := scanProfile(r.pool.QueryRow(ctx, query, userID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Profile{}, ErrNotFound
		}
		return Profile{}, fmt.Errorf("contractor: query by id: %w", err)
	}
	return profile, nil
}

// Upsert writes the profile, creating it on first save.
func (r *Repository) Upsert(ctx context.Context, p Profile) (Profile, error) {
	query := `
		INSERT INTO contractor_profiles AS p (user_id, full_name, phone, city, specialization, experience_years)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (user_id) DO UPDATE SET
			full_name = EXCLUDED.full_name,
			phone = EXCLUDED.phone,
			city = EXCLUDED.city,
			specialization = EXCLUDED.specialization,
			experience_years = EXCLUDED.experience_years,
			updated_at = now()
		RETURNING ` + profileColumns

	saved, err := scanProfile(r.pool.QueryRow(ctx, query,
		p.UserID, p.FullName, p.Phone, p.City, p.Specialization, p.ExperienceYears))
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23503" {
			return Profile{}, ErrNotFound
		}
		return Profile{}, fmt.Errorf("contractor: upsert: %w", err)
	}
	return saved, nil
}

// ListEligible returns contractors whose latest verification cycle has both
// stages approved.
func (r *Repository) ListEligible(ctx context.Context, filters Filters) ([]Profile, error) {
	limit := filters.Limit
	if limit <= 0 || limit > 100 {
		limit = 100
	}

	query := `
		SELECT ` + profileColumns + `
		FROM contractor_profiles p
		JOIN LATERAL (
			SELECT v.security_status, v.manager_status
			FROM contractor_verifications v
			WHERE v.contractor_id = p.user_id
			ORDER BY v.cycle DESC
			LIMIT 1
		) latest ON true
		WHERE latest.security_status = 'approved'
		  AND latest.manager_status = 'approved'
		  AND ($1 = '' OR p.city = $1)
		  AND ($2 = '' OR p.specialization ILIKE '%' || $2 || '%')
		ORDER BY p.full_name ASC
		LIMIT $3
	`

	rows, err := r.pool.Query(ctx, query, filters.City, filters.Specialization, limit)
	if err != nil {
		return nil, fmt.Errorf("contractor: list eligible: %w", err)
	}
	defer rows.Close()

	profiles := make([]Profile, 0, limit)
	for rows.Next() {
		profile, err := scanProfile(rows)
		if err != nil {
			return nil, fmt.Errorf("contractor: scan profile: %w", err)
		}
		profiles = append(profiles, profile)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("contractor: iterate profiles: %w", err)
	}
	return profiles, nil
}

func scanProfile(row pgx.Row) (Profile, error) {
	var p Profile
	err := row.Scan(&p.UserID, &p.FullName, &p.Phone, &p.City, &p.Specialization, &p.ExperienceYears, &p.CreatedAt, &p.UpdatedAt)
	return p, err
}
