package audit

import (
	"context"
	"encoding/json"
	"time"

	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PGRepository writes and reads audit_logs.
type PGRepository struct {
	pool *pgxpool.Pool
}

var _ Repository = (*PGRepository)(nil)

// NewRepository constructs a PostgreSQL repository.
func NewRepository(pool *pgxpool.Pool) *PGRepository {
	return &PGRepository{pool: pool}
}

// Insert persists the entry.
func (r *PGRepository) Insert(ctx context.Context, entry Entry) error {
	metaJSON, err := json.Marshal(entry.Meta)
	if err != nil {
		return err
	}
	_, err = r.pool.Exec(ctx, `
INSERT INTO audit_logs (actor_id, action, entity, entity_id, meta, occurred_at)
VALUES ($1, $2, $3, $4, $5, $6)`,
		optionalActor(entry.ActorID), entry.Action, entry.Entity, entry.EntityID, metaJSON, entry.At)
	return err
}

// Window returns one page of entries, newest first.
func (r *PGRepository) Window(ctx context.Context, params WindowParams) ([]TimelineRow, error) {
	rows, err := r.pool.Query(ctx, `
SELECT a.id, a.occurred_at, COALESCE(a.actor_id, 0), COALESCE(u.email, ''), a.action, a.entity, a.entity_id, a.meta
FROM audit_logs a
LEFT JOIN users u ON u.id = a.actor_id
WHERE ($1::timestamptz IS NULL OR a.occurred_at >= $1)
  AND ($2::timestamptz IS NULL OR a.occurred_at < $2)
  AND ($3::bigint IS NULL OR a.actor_id = $3)
  AND ($4::text IS NULL OR a.entity = $4)
  AND ($5::text IS NULL OR a.action = $5)
ORDER BY a.occurred_at DESC, a.id DESC
OFFSET $6 LIMIT $7`,
		toPgTime(params.From), toPgTime(endOfDay(params.To)), optionalActor(params.Actor),
		optionalText(params.Entity), optionalText(params.Action), params.Offset, params.Limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	result := []TimelineRow{}
	for rows.Next() {
		var (
			row  TimelineRow
			meta []byte
		)
		if err := rows.Scan(&row.ID, &row.At, &row.ActorID, &row.ActorEmail, &row.Action, &row.Entity, &row.EntityID, &meta); err != nil {
			return nil, err
		}
		if len(meta) > 0 {
			_ = json.Unmarshal(meta, &row.Meta)
		}
		result = append(result, row)
	}
	return result, rows.Err()
}

func endOfDay(t time.Time) time.Time {
	if t.IsZero() {
		return t
	}
	return t.Add(24 * time.Hour)
}

func toPgTime(t time.Time) pgtype.Timestamptz {
	if t.IsZero() {
		return pgtype.Timestamptz{}
	}
	return pgtype.Timestamptz{Time: t, Valid: true}
}

func optionalText(value string) pgtype.Text {
	if value == "" {
		return pgtype.Text{}
	}
	return pgtype.Text{String: value, Valid: true}
}

func optionalActor(id int64) pgtype.Int8 {
	if id <= 0 {
		return pgtype.Int8{}
	}
	return pgtype.Int8{Int64: id, Valid: true}
}
