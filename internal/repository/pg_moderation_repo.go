package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/Meirlen/Tabys-sub000/internal/domain"
)

// entityTables whitelists the table name for each moderated entity.
// Table names cannot be query parameters, so the lookup goes through this
// map rather than string interpolation of caller input.
var entityTables = map[domain.ModerationEntity]string{
	domain.EntityEvents:    "events",
	domain.EntityCourses:   "courses",
	domain.EntityVacancies: "vacancies",
	domain.EntityProjects:  "projects",
	domain.EntityLeisures:  "leisures",
	domain.EntityExperts:   "experts",
	domain.EntityResumes:   "resumes",
}

type pgModerationRepository struct {
	pool *pgxpool.Pool
}

// NewPgModerationRepository returns a ModerationRepository backed by PostgreSQL.
func NewPgModerationRepository(pool *pgxpool.Pool) ModerationRepository {
	return &pgModerationRepository{pool: pool}
}

func (r *pgModerationRepository) CountPending(ctx context.Context, entity domain.ModerationEntity) (int, error) {
	table, ok := entityTables[entity]
	if !ok {
		return 0, fmt.Errorf("unknown moderation entity %q", entity)
	}

	var n int
	err := r.pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM `+table+` WHERE moderation_status = 'pending'`,
	).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count pending %s: %w", table, err)
	}
	return n, nil
}

func (r *pgModerationRepository) EnsureState(ctx context.Context) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO moderation_state (id, last_pending_count, last_notified_at)
		VALUES (1, 0, NULL)
		ON CONFLICT (id) DO NOTHING`)
	if err != nil {
		return fmt.Errorf("ensure moderation state: %w", err)
	}
	return nil
}

func (r *pgModerationRepository) GetState(ctx context.Context) (*domain.ModerationState, error) {
	var s domain.ModerationState
	err := r.pool.QueryRow(ctx,
		`SELECT last_pending_count, last_notified_at FROM moderation_state WHERE id = 1`,
	).Scan(&s.LastPendingCount, &s.LastNotifiedAt)
	if err != nil {
		return nil, fmt.Errorf("get moderation state: %w", err)
	}
	return &s, nil
}

func (r *pgModerationRepository) UpdateState(ctx context.Context, count int, notifiedAt time.Time) error {
	_, err := r.pool.Exec(ctx, `
		UPDATE moderation_state
		SET last_pending_count = $1, last_notified_at = $2
		WHERE id = 1`,
		count, notifiedAt)
	if err != nil {
		return fmt.Errorf("update moderation state: %w", err)
	}
	return nil
}
