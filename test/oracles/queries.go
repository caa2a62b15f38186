package oracles

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

type Oracle struct {
	Name string
	SQL  string
}

func All() []Oracle {
	return []Oracle{
		{
			Name: "O1_assignment_matches_status",
			SQL: `SELECT id, status, assigned_contractor_id FROM repair_requests
                  WHERE (assigned_contractor_id IS NOT NULL) <> (status IN ('ASSIGNED','IN_PROGRESS','COMPLETED'))`,
		},
		{
			Name: "O2_single_accepted_response",
			SQL: `SELECT request_id, COUNT(*) FROM contractor_responses
                  WHERE is_accepted GROUP BY request_id HAVING COUNT(*) > 1`,
		},
		{
			Name: "O3_accepted_response_is_assignee",
			SQL: `SELECT r.id, r.assigned_contractor_id, cr.contractor_id FROM repair_requests r
                  JOIN contractor_responses cr ON cr.request_id = r.id AND cr.is_accepted
                  WHERE r.status <> 'CANCELLED' AND r.assigned_contractor_id IS DISTINCT FROM cr.contractor_id`,
		},
		{
			Name: "O4_final_price_only_completed",
			SQL: `SELECT id, status, final_price FROM repair_requests
                  WHERE (final_price IS NOT NULL) <> (status = 'COMPLETED')`,
		},
		{
			Name: "O5_history_tracks_status",
			SQL: `WITH last AS (
                      SELECT DISTINCT ON (request_id) request_id, to_status
                      FROM request_history ORDER BY request_id, id DESC)
                  SELECT r.id, r.status, l.to_status FROM repair_requests r
                  JOIN last l ON l.request_id = r.id
                  WHERE l.to_status <> r.status`,
		},
		{
			Name: "O6_history_chain",
			SQL: `WITH chain AS (
                      SELECT request_id, id, from_status,
                             LAG(to_status) OVER (PARTITION BY request_id ORDER BY id) AS prev
                      FROM request_history)
                  SELECT * FROM chain WHERE prev IS NOT NULL AND from_status IS DISTINCT FROM prev`,
		},
		{
			Name: "O7_assignee_approved",
			SQL: `SELECT r.id, r.assigned_contractor_id FROM repair_requests r
                  WHERE r.assigned_contractor_id IS NOT NULL
                    AND NOT EXISTS (
                      SELECT 1 FROM contractor_verifications v
                      WHERE v.contractor_id = r.assigned_contractor_id
                        AND v.security_status = 'approved' AND v.manager_status = 'approved')`,
		},
		{
			Name: "O8_manager_after_security",
			SQL: `SELECT id FROM contractor_verifications
                  WHERE manager_status <> 'pending' AND security_status <> 'approved'`,
		},
		{
			Name: "O9_outbox_stale",
			SQL: `SELECT id::text FROM outbox
                  WHERE status = 'pending' AND now() - created_at > interval '5 minutes'`,
		},
	}
}

// Run executes all oracles and returns the first failure (name and sample row text) or empty name if all pass.
func Run(ctx context.Context, pool *pgxpool.Pool) (string, string, error) {
	for _, o := range All() {
		rows, err := pool.Query(ctx, o.SQL)
		if err != nil {
			return o.Name, "", fmt.Errorf("oracle %s: %w", o.Name, err)
		}
		has := rows.Next()
		if has {
			vals, err := rows.Values()
			rows.Close()
			if err != nil {
				return o.Name, "", err
			}
			return o.Name, fmt.Sprintf("%v", vals), nil
		}
		rows.Close()
	}
	return "", "", nil
}
