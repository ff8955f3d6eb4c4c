package repository

import (
	"context"
	"time"

	"github.com/Meirlen/Tabys-sub000/internal/domain"
)

// AuthRepository defines persistence for OTP tokens, bot sessions, and the
// admin lookups the fabric needs (audience resolution, alert emails).
// The pgx implementation is in pg_auth_repo.go; tests use the hand-written
// mock in mock_auth_repo.go.
type AuthRepository interface {
	// CreateToken inserts a freshly minted token. A collision on the token
	// string yields domain.ErrDuplicateToken so the caller can regenerate.
	CreateToken(ctx context.Context, t *domain.OtpToken) error
	GetToken(ctx context.Context, token string) (*domain.OtpToken, error)

	// RevokeExpired flags the admin's expired-but-unused tokens as revoked.
	// Best-effort cleanup invoked before each mint.
	RevokeExpired(ctx context.Context, adminID int64, now time.Time) error

	// RevokeToken revokes a not-yet-used token owned by adminID.
	RevokeToken(ctx context.Context, token string, adminID int64) error

	// ConsumeTokenBindSession atomically upserts the session for the external
	// user (rebinding an existing one) and marks the token used. The token
	// consume is a conditional update: if another transaction consumed it
	// first, the whole operation fails with the token's invalid reason and
	// no session is written.
	ConsumeTokenBindSession(ctx context.Context, tokenID int64, externalUserID int64, adminID int64, profile domain.TelegramProfile, now time.Time) (*domain.BotSession, error)

	GetActiveSession(ctx context.Context, externalUserID int64) (*domain.BotSession, error)
	TouchSession(ctx context.Context, externalUserID int64, now time.Time) error
	DeactivateSession(ctx context.Context, externalUserID int64) error
	ListActiveSessions(ctx context.Context) ([]*domain.BotSession, error)

	GetAdmin(ctx context.Context, id int64) (*domain.Admin, error)
	// AdminEmails returns distinct non-empty emails of admins holding any of
	// the given roles.
	AdminEmails(ctx context.Context, roles []domain.Role) ([]string, error)

	// ActiveRecipients returns the external user ids of all active sessions,
	// rendered as opaque recipient identifiers.
	ActiveRecipients(ctx context.Context) ([]string, error)
	// ActiveRecipientsByRoles restricts active sessions to those bound to an
	// admin holding any of the given roles.
	ActiveRecipientsByRoles(ctx context.Context, roles []domain.Role) ([]string, error)
}
