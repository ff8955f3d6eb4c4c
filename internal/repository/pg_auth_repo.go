package repository

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/Meirlen/Tabys-sub000/internal/domain"
)

const otpColumns = `id, token, admin_id, is_used, is_revoked,
	       created_at, expires_at, used_at, issue_ip, issue_user_agent`

const sessionColumns = `id, external_user_id, username, first_name, last_name,
	       admin_id, is_active, created_at, last_activity_at, expires_at`

type pgAuthRepository struct {
	pool *pgxpool.Pool
}

// NewPgAuthRepository returns an AuthRepository backed by PostgreSQL.
func NewPgAuthRepository(pool *pgxpool.Pool) AuthRepository {
	return &pgAuthRepository{pool: pool}
}

func (r *pgAuthRepository) CreateToken(ctx context.Context, t *domain.OtpToken) error {
	err := r.pool.QueryRow(ctx, `
		INSERT INTO otp_tokens
			(token, admin_id, is_used, is_revoked, created_at, expires_at, issue_ip, issue_user_agent)
		VALUES ($1,$2,false,false,$3,$4,$5,$6)
		RETURNING id`,
		t.Token, t.AdminID, t.CreatedAt, t.ExpiresAt, t.IssueIP, t.IssueUserAgent,
	).Scan(&t.ID)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == pgerrcode.UniqueViolation {
			return domain.ErrDuplicateToken
		}
		return fmt.Errorf("insert otp token: %w", err)
	}
	return nil
}

func (r *pgAuthRepository) GetToken(ctx context.Context, token string) (*domain.OtpToken, error) {
	row := r.pool.QueryRow(ctx,
		`SELECT `+otpColumns+` FROM otp_tokens WHERE token = $1`, token)

	t, err := scanToken(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, domain.ErrUnknownToken
	}
	return t, err
}

func (r *pgAuthRepository) RevokeExpired(ctx context.Context, adminID int64, now time.Time) error {
	_, err := r.pool.Exec(ctx, `
		UPDATE otp_tokens
		SET is_revoked = true
		WHERE admin_id = $1 AND is_used = false AND is_revoked = false AND expires_at <= $2`,
		adminID, now)
	return err
}

func (r *pgAuthRepository) RevokeToken(ctx context.Context, token string, adminID int64) error {
	tag, err := r.pool.Exec(ctx, `
		UPDATE otp_tokens
		SET is_revoked = true
		WHERE token = $1 AND admin_id = $2 AND is_used = false`,
		token, adminID)
	if err != nil {
		return fmt.Errorf("revoke token: %w", err)
	}
	if tag.RowsAffected() > 0 {
		return nil
	}

	// Explain the refusal: missing, foreign, or already used.
	t, err := r.GetToken(ctx, token)
	if err != nil {
		return err
	}
	if t.AdminID != adminID {
		return domain.ErrAccessDenied
	}
	return domain.ErrTokenUsed
}

func (r *pgAuthRepository) ConsumeTokenBindSession(ctx context.Context, tokenID int64, externalUserID int64, adminID int64, profile domain.TelegramProfile, now time.Time) (*domain.BotSession, error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	// Consume first: the conditional update is the one-shot guard. Under
	// concurrent verifies exactly one transaction sees RowsAffected()==1.
	tag, err := tx.Exec(ctx, `
		UPDATE otp_tokens
		SET is_used = true, used_at = $2
		WHERE id = $1 AND is_used = false AND is_revoked = false AND expires_at > $2`,
		tokenID, now)
	if err != nil {
		return nil, fmt.Errorf("consume token: %w", err)
	}
	if tag.RowsAffected() == 0 {
		// Reload outside the guard to report the precise reason.
		var t domain.OtpToken
		err := tx.QueryRow(ctx,
			`SELECT `+otpColumns+` FROM otp_tokens WHERE id = $1`, tokenID,
		).Scan(&t.ID, &t.Token, &t.AdminID, &t.IsUsed, &t.IsRevoked,
			&t.CreatedAt, &t.ExpiresAt, &t.UsedAt, &t.IssueIP, &t.IssueUserAgent)
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrUnknownToken
		}
		if err != nil {
			return nil, fmt.Errorf("reload token: %w", err)
		}
		if reason := t.InvalidReason(now); reason != nil {
			return nil, reason
		}
		return nil, domain.ErrTokenUsed
	}

	// Rebind or create the session for this external user.
	row := tx.QueryRow(ctx, `
		INSERT INTO bot_sessions
			(external_user_id, username, first_name, last_name, admin_id,
			 is_active, created_at, last_activity_at)
		VALUES ($1,$2,$3,$4,$5,true,$6,$6)
		ON CONFLICT (external_user_id) DO UPDATE
		SET username = EXCLUDED.username,
		    first_name = EXCLUDED.first_name,
		    last_name = EXCLUDED.last_name,
		    admin_id = EXCLUDED.admin_id,
		    is_active = true,
		    last_activity_at = EXCLUDED.last_activity_at
		RETURNING `+sessionColumns,
		externalUserID, profile.Username, profile.FirstName, profile.LastName,
		adminID, now)

	s, err := scanSession(row)
	if err != nil {
		return nil, fmt.Errorf("bind session: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit verify: %w", err)
	}
	return s, nil
}

func (r *pgAuthRepository) GetActiveSession(ctx context.Context, externalUserID int64) (*domain.BotSession, error) {
	row := r.pool.QueryRow(ctx,
		`SELECT `+sessionColumns+` FROM bot_sessions
		 WHERE external_user_id = $1 AND is_active = true`, externalUserID)

	s, err := scanSession(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, domain.ErrNoSession
	}
	return s, err
}

func (r *pgAuthRepository) TouchSession(ctx context.Context, externalUserID int64, now time.Time) error {
	_, err := r.pool.Exec(ctx, `
		UPDATE bot_sessions SET last_activity_at = $2
		WHERE external_user_id = $1 AND is_active = true`,
		externalUserID, now)
	return err
}

func (r *pgAuthRepository) DeactivateSession(ctx context.Context, externalUserID int64) error {
	tag, err := r.pool.Exec(ctx, `
		UPDATE bot_sessions SET is_active = false
		WHERE external_user_id = $1 AND is_active = true`,
		externalUserID)
	if err != nil {
		return fmt.Errorf("deactivate session: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNoSession
	}
	return nil
}

func (r *pgAuthRepository) ListActiveSessions(ctx context.Context) ([]*domain.BotSession, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT `+sessionColumns+` FROM bot_sessions
		 WHERE is_active = true ORDER BY last_activity_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}
	defer rows.Close()

	var sessions []*domain.BotSession
	for rows.Next() {
		s, err := scanSession(rows)
		if err != nil {
			return nil, err
		}
		sessions = append(sessions, s)
	}
	return sessions, rows.Err()
}

func (r *pgAuthRepository) GetAdmin(ctx context.Context, id int64) (*domain.Admin, error) {
	var a domain.Admin
	err := r.pool.QueryRow(ctx,
		`SELECT id, email, role FROM admins WHERE id = $1`, id,
	).Scan(&a.ID, &a.Email, &a.Role)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get admin: %w", err)
	}
	return &a, nil
}

func (r *pgAuthRepository) AdminEmails(ctx context.Context, roles []domain.Role) ([]string, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT DISTINCT email FROM admins
		WHERE role = ANY($1) AND email <> ''`,
		rolesToStrings(roles))
	if err != nil {
		return nil, fmt.Errorf("admin emails: %w", err)
	}
	defer rows.Close()
	return scanStrings(rows)
}

func (r *pgAuthRepository) ActiveRecipients(ctx context.Context) ([]string, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT external_user_id FROM bot_sessions WHERE is_active = true`)
	if err != nil {
		return nil, fmt.Errorf("active recipients: %w", err)
	}
	defer rows.Close()
	return scanRecipients(rows)
}

func (r *pgAuthRepository) ActiveRecipientsByRoles(ctx context.Context, roles []domain.Role) ([]string, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT s.external_user_id
		FROM bot_sessions s
		JOIN admins a ON a.id = s.admin_id
		WHERE s.is_active = true AND a.role = ANY($1)`,
		rolesToStrings(roles))
	if err != nil {
		return nil, fmt.Errorf("active recipients by role: %w", err)
	}
	defer rows.Close()
	return scanRecipients(rows)
}

// ---- helpers ----

func scanToken(row pgx.Row) (*domain.OtpToken, error) {
	var t domain.OtpToken
	err := row.Scan(
		&t.ID, &t.Token, &t.AdminID, &t.IsUsed, &t.IsRevoked,
		&t.CreatedAt, &t.ExpiresAt, &t.UsedAt, &t.IssueIP, &t.IssueUserAgent,
	)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

func scanSession(row pgx.Row) (*domain.BotSession, error) {
	var s domain.BotSession
	err := row.Scan(
		&s.ID, &s.ExternalUserID, &s.Username, &s.FirstName, &s.LastName,
		&s.AdminID, &s.IsActive, &s.CreatedAt, &s.LastActivityAt, &s.ExpiresAt,
	)
	if err != nil {
		return nil, err
	}
	return &s, nil
}

func scanStrings(rows pgx.Rows) ([]string, error) {
	var result []string
	for rows.Next() {
		var s string
		if err := rows.Scan(&s); err != nil {
			return nil, err
		}
		result = append(result, s)
	}
	return result, rows.Err()
}

func scanRecipients(rows pgx.Rows) ([]string, error) {
	var result []string
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		result = append(result, strconv.FormatInt(id, 10))
	}
	return result, rows.Err()
}

func rolesToStrings(roles []domain.Role) []string {
	out := make([]string, len(roles))
	for i, r := range roles {
		out[i] = string(r)
	}
	return out
}
