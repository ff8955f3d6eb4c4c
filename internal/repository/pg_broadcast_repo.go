package repository

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/Meirlen/Tabys-sub000/internal/domain"
)

const broadcastColumns = `id, title, body, target, target_role, status,
	       scheduled_at, sent_at, completed_at, created_by,
	       total_recipients, sent_count, delivered_count, read_count, failed_count,
	       created_at`

const deliveryColumns = `id, broadcast_id, recipient, status,
	       sent_at, delivered_at, read_at, error_message, retry_count, created_at`

type pgBroadcastRepository struct {
	pool *pgxpool.Pool
}

// NewPgBroadcastRepository returns a BroadcastRepository backed by PostgreSQL.
func NewPgBroadcastRepository(pool *pgxpool.Pool) BroadcastRepository {
	return &pgBroadcastRepository{pool: pool}
}

func (r *pgBroadcastRepository) Create(ctx context.Context, b *domain.Broadcast) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO broadcasts
			(id, title, body, target, target_role, status, scheduled_at, created_by,
			 total_recipients, sent_count, delivered_count, read_count, failed_count, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,0,0,0,0,0,$9)`,
		b.ID, b.Title, b.Body, b.Target, b.TargetRole, b.Status,
		b.ScheduledAt, b.CreatedBy, b.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert broadcast: %w", err)
	}
	return nil
}

func (r *pgBroadcastRepository) GetByID(ctx context.Context, id string) (*domain.Broadcast, error) {
	row := r.pool.QueryRow(ctx,
		`SELECT `+broadcastColumns+` FROM broadcasts WHERE id = $1`, id)

	b, err := scanBroadcast(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	return b, err
}

func (r *pgBroadcastRepository) UpdateContent(ctx context.Context, b *domain.Broadcast) error {
	_, err := r.pool.Exec(ctx, `
		UPDATE broadcasts
		SET title = $1, body = $2, target = $3, target_role = $4,
		    status = $5, scheduled_at = $6
		WHERE id = $7`,
		b.Title, b.Body, b.Target, b.TargetRole, b.Status, b.ScheduledAt, b.ID)
	if err != nil {
		return fmt.Errorf("update broadcast: %w", err)
	}
	return nil
}

func (r *pgBroadcastRepository) List(ctx context.Context, f domain.BroadcastListFilter) ([]*domain.Broadcast, int, error) {
	where, args := buildBroadcastWhere(f)
	offset := (f.Page - 1) * f.Limit

	var total int
	if err := r.pool.QueryRow(ctx, "SELECT COUNT(*) FROM broadcasts"+where, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count broadcasts: %w", err)
	}

	args = append(args, f.Limit, offset)
	query := fmt.Sprintf(`SELECT `+broadcastColumns+`
		FROM broadcasts%s
		ORDER BY created_at DESC
		LIMIT $%d OFFSET $%d`, where, len(args)-1, len(args))

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("list broadcasts: %w", err)
	}
	defer rows.Close()

	var broadcasts []*domain.Broadcast
	for rows.Next() {
		b, err := scanBroadcast(rows)
		if err != nil {
			return nil, 0, err
		}
		broadcasts = append(broadcasts, b)
	}
	return broadcasts, total, rows.Err()
}

func (r *pgBroadcastRepository) Delete(ctx context.Context, id string) error {
	// deliveries are removed by ON DELETE CASCADE
	tag, err := r.pool.Exec(ctx, `DELETE FROM broadcasts WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete broadcast: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

func (r *pgBroadcastRepository) SetStatus(ctx context.Context, id string, status domain.BroadcastStatus) error {
	// completed_at belongs to terminal statuses only; resetting a
	// finished broadcast for a retry must clear it so the drain worker
	// stamps it fresh on the next terminal transition.
	_, err := r.pool.Exec(ctx,
		`UPDATE broadcasts SET status = $1, completed_at = NULL WHERE id = $2`, status, id)
	return err
}

func (r *pgBroadcastRepository) MarkCancelled(ctx context.Context, id string, now time.Time) error {
	_, err := r.pool.Exec(ctx, `
		UPDATE broadcasts SET status = $1, completed_at = $2 WHERE id = $3`,
		domain.BroadcastCancelled, now, id)
	return err
}

func (r *pgBroadcastRepository) MarkSending(ctx context.Context, id string, totalRecipients int, sentAt time.Time) error {
	_, err := r.pool.Exec(ctx, `
		UPDATE broadcasts
		SET status = $1, total_recipients = $2, sent_at = $3, completed_at = NULL
		WHERE id = $4`,
		domain.BroadcastSending, totalRecipients, sentAt, id)
	return err
}

func (r *pgBroadcastRepository) CompleteIfDrained(ctx context.Context, id string, now time.Time) (domain.BroadcastStatus, bool, error) {
	var status domain.BroadcastStatus
	err := r.pool.QueryRow(ctx, `
		UPDATE broadcasts b
		SET status = CASE
				WHEN b.total_recipients > 0 AND b.failed_count = b.total_recipients THEN $2::text
				ELSE $3::text
			END,
		    completed_at = $4
		WHERE b.id = $1
		  AND b.status = $5
		  AND NOT EXISTS (
			SELECT 1 FROM deliveries d
			WHERE d.broadcast_id = b.id AND d.status = $6
		  )
		RETURNING b.status`,
		id, domain.BroadcastFailed, domain.BroadcastSent, now,
		domain.BroadcastSending, domain.DeliveryPending,
	).Scan(&status)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("complete broadcast: %w", err)
	}
	return status, true, nil
}

func (r *pgBroadcastRepository) BulkInsertDeliveries(ctx context.Context, broadcastID string, recipients []string, now time.Time) (int, error) {
	// One pipelined round trip for the whole audience; large fan-outs
	// must not pay per-recipient network latency.
	batch := &pgx.Batch{}
	for _, recipient := range recipients {
		batch.Queue(`
			INSERT INTO deliveries
				(id, broadcast_id, recipient, status, retry_count, created_at)
			VALUES (gen_random_uuid(), $1, $2, $3, 0, $4)
			ON CONFLICT (broadcast_id, recipient) DO NOTHING`,
			broadcastID, recipient, domain.DeliveryPending, now)
	}

	results := r.pool.SendBatch(ctx, batch)
	defer results.Close() //nolint:errcheck

	inserted := 0
	for range recipients {
		tag, err := results.Exec()
		if err != nil {
			return 0, fmt.Errorf("insert delivery: %w", err)
		}
		inserted += int(tag.RowsAffected())
	}
	if err := results.Close(); err != nil {
		return 0, fmt.Errorf("flush deliveries: %w", err)
	}
	return inserted, nil
}

func (r *pgBroadcastRepository) ClaimPending(ctx context.Context, broadcastID string, n int, now time.Time, visibility time.Duration) ([]*domain.Delivery, error) {
	rows, err := r.pool.Query(ctx, `
		UPDATE deliveries
		SET claimed_at = $3
		WHERE id IN (
			SELECT id FROM deliveries
			WHERE broadcast_id = $1
			  AND status = $4
			  AND (claimed_at IS NULL OR claimed_at < $5)
			ORDER BY created_at
			LIMIT $2
			FOR UPDATE SKIP LOCKED
		)
		RETURNING `+deliveryColumns,
		broadcastID, n, now, domain.DeliveryPending, now.Add(-visibility))
	if err != nil {
		return nil, fmt.Errorf("claim pending deliveries: %w", err)
	}
	defer rows.Close()
	return scanDeliveries(rows)
}

func (r *pgBroadcastRepository) FinalizeDelivery(ctx context.Context, deliveryID, broadcastID string, status domain.DeliveryStatus, errMsg *string, retryCount int, ts time.Time) (bool, error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return false, fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	var sentAt *time.Time
	if status == domain.DeliverySent {
		sentAt = &ts
	}

	tag, err := tx.Exec(ctx, `
		UPDATE deliveries
		SET status = $1, sent_at = $2, error_message = $3, retry_count = $4
		WHERE id = $5 AND status = $6`,
		status, sentAt, errMsg, retryCount, deliveryID, domain.DeliveryPending)
	if err != nil {
		return false, fmt.Errorf("finalize delivery: %w", err)
	}
	if tag.RowsAffected() == 0 {
		// Already finalized by another worker; nothing to count.
		return false, nil
	}

	counter := "sent_count"
	if status == domain.DeliveryFailed {
		counter = "failed_count"
	}
	_, err = tx.Exec(ctx,
		`UPDATE broadcasts SET `+counter+` = `+counter+` + 1 WHERE id = $1`, broadcastID)
	if err != nil {
		return false, fmt.Errorf("increment %s: %w", counter, err)
	}

	if err := tx.Commit(ctx); err != nil {
		return false, fmt.Errorf("commit finalize: %w", err)
	}
	return true, nil
}

func (r *pgBroadcastRepository) PendingCount(ctx context.Context, broadcastID string) (int, error) {
	var n int
	err := r.pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM deliveries WHERE broadcast_id = $1 AND status = $2`,
		broadcastID, domain.DeliveryPending).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count pending deliveries: %w", err)
	}
	return n, nil
}

func (r *pgBroadcastRepository) ListDeliveries(ctx context.Context, broadcastID string) ([]*domain.Delivery, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT `+deliveryColumns+` FROM deliveries WHERE broadcast_id = $1 ORDER BY created_at`,
		broadcastID)
	if err != nil {
		return nil, fmt.Errorf("list deliveries: %w", err)
	}
	defer rows.Close()
	return scanDeliveries(rows)
}

func (r *pgBroadcastRepository) FindDueScheduled(ctx context.Context, now time.Time) ([]*domain.Broadcast, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+broadcastColumns+`
		FROM broadcasts
		WHERE status = $1 AND scheduled_at <= $2
		LIMIT 100`,
		domain.BroadcastScheduled, now)
	if err != nil {
		return nil, fmt.Errorf("find due scheduled: %w", err)
	}
	defer rows.Close()

	var broadcasts []*domain.Broadcast
	for rows.Next() {
		b, err := scanBroadcast(rows)
		if err != nil {
			return nil, err
		}
		broadcasts = append(broadcasts, b)
	}
	return broadcasts, rows.Err()
}

// ---- helpers ----

func scanBroadcast(row pgx.Row) (*domain.Broadcast, error) {
	var b domain.Broadcast
	err := row.Scan(
		&b.ID, &b.Title, &b.Body, &b.Target, &b.TargetRole, &b.Status,
		&b.ScheduledAt, &b.SentAt, &b.CompletedAt, &b.CreatedBy,
		&b.TotalRecipients, &b.SentCount, &b.DeliveredCount, &b.ReadCount, &b.FailedCount,
		&b.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &b, nil
}

func scanDeliveries(rows pgx.Rows) ([]*domain.Delivery, error) {
	var result []*domain.Delivery
	for rows.Next() {
		var d domain.Delivery
		err := rows.Scan(
			&d.ID, &d.BroadcastID, &d.Recipient, &d.Status,
			&d.SentAt, &d.DeliveredAt, &d.ReadAt, &d.ErrorMessage,
			&d.RetryCount, &d.CreatedAt,
		)
		if err != nil {
			return nil, err
		}
		result = append(result, &d)
	}
	return result, rows.Err()
}

func buildBroadcastWhere(f domain.BroadcastListFilter) (string, []any) {
	var conditions []string
	var args []any

	add := func(condition string, val any) {
		args = append(args, val)
		conditions = append(conditions, fmt.Sprintf(condition, len(args)))
	}

	if f.Status != nil {
		add("status = $%d", *f.Status)
	}
	if f.CreatedBy != nil {
		add("created_by = $%d", *f.CreatedBy)
	}

	if len(conditions) == 0 {
		return "", args
	}
	return " WHERE " + strings.Join(conditions, " AND "), args
}
