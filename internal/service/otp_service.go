package service

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"math/big"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"go.uber.org/zap"

	"github.com/Meirlen/Tabys-sub000/internal/clock"
	"github.com/Meirlen/Tabys-sub000/internal/domain"
	"github.com/Meirlen/Tabys-sub000/internal/repository"
)

// tokenAlphabet excludes visually ambiguous characters (O, 0, I, 1, L).
const tokenAlphabet = "ABCDEFGHJKMNPQRSTUVWXYZ23456789"

const tokenLength = 8

// maxMintAttempts bounds regeneration on token-string collisions.
const maxMintAttempts = 10

// SessionClaims is the payload of the signed session token handed to the bot.
type SessionClaims struct {
	AdminID        int64  `json:"admin_id"`
	Role           string `json:"role"`
	ExternalUserID int64  `json:"external_user_id"`
	jwt.RegisteredClaims
}

// OtpService issues, verifies, and consumes one-time tokens and manages the
// bot sessions that feed the broadcast audience.
type OtpService struct {
	repo       repository.AuthRepository
	clk        clock.Clock
	jwtSecret  []byte
	sessionTTL time.Duration
	logger     *zap.Logger
}

func NewOtpService(
	repo repository.AuthRepository,
	clk clock.Clock,
	jwtSecret string,
	sessionTTL time.Duration,
	logger *zap.Logger,
) *OtpService {
	return &OtpService{
		repo:       repo,
		clk:        clk,
		jwtSecret:  []byte(jwtSecret),
		sessionTTL: sessionTTL,
		logger:     logger,
	}
}

// Mint creates a fresh token for the calling admin. Expired unused tokens of
// the same admin are revoked first as best-effort cleanup.
func (s *OtpService) Mint(ctx context.Context, actor domain.Actor, req domain.MintOtpRequest, issueIP, issueUserAgent string) (*domain.OtpToken, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}

	now := s.clk.Now()
	if err := s.repo.RevokeExpired(ctx, actor.AdminID, now); err != nil {
		s.logger.Warn("expired token cleanup failed",
			zap.Int64("admin_id", actor.AdminID), zap.Error(err))
	}

	for attempt := 0; attempt < maxMintAttempts; attempt++ {
		token, err := generateToken()
		if err != nil {
			return nil, fmt.Errorf("generate token: %w", err)
		}

		t := &domain.OtpToken{
			Token:          token,
			AdminID:        actor.AdminID,
			CreatedAt:      now,
			ExpiresAt:      now.Add(time.Duration(req.TTLMinutes) * time.Minute),
			IssueIP:        issueIP,
			IssueUserAgent: issueUserAgent,
		}
		err = s.repo.CreateToken(ctx, t)
		if errors.Is(err, domain.ErrDuplicateToken) {
			continue
		}
		if err != nil {
			return nil, err
		}
		return t, nil
	}
	return nil, domain.ErrTokenExhausted
}

// Verify consumes a token presented by the bot, binds (or rebinds) the
// session for the external user, and returns a signed session token.
// The session write and the token consume commit atomically: a failed
// commit leaves the token unconsumed and no session created.
func (s *OtpService) Verify(ctx context.Context, req domain.VerifyOtpRequest) (string, *domain.BotSession, error) {
	now := s.clk.Now()

	t, err := s.repo.GetToken(ctx, req.Token)
	if err != nil {
		return "", nil, err
	}
	if reason := t.InvalidReason(now); reason != nil {
		return "", nil, reason
	}

	admin, err := s.repo.GetAdmin(ctx, t.AdminID)
	if errors.Is(err, domain.ErrNotFound) {
		return "", nil, domain.ErrOrphanedToken
	}
	if err != nil {
		return "", nil, err
	}

	// The conditional consume inside this call is the one-shot guard:
	// a concurrent verify of the same token fails here with ErrTokenUsed.
	session, err := s.repo.ConsumeTokenBindSession(ctx, t.ID, req.ExternalUserID, admin.ID, req.Profile, now)
	if err != nil {
		return "", nil, err
	}

	sessionToken, err := s.signSession(admin, req.ExternalUserID, now)
	if err != nil {
		return "", nil, err
	}
	return sessionToken, session, nil
}

// Restore re-issues a session token for an already-bound external user,
// typically after a bot restart. Bumps last_activity_at.
func (s *OtpService) Restore(ctx context.Context, externalUserID int64) (string, *domain.BotSession, error) {
	session, err := s.repo.GetActiveSession(ctx, externalUserID)
	if err != nil {
		return "", nil, err
	}

	now := s.clk.Now()
	if err := s.repo.TouchSession(ctx, externalUserID, now); err != nil {
		return "", nil, err
	}
	session.LastActivityAt = now

	admin, err := s.repo.GetAdmin(ctx, session.AdminID)
	if errors.Is(err, domain.ErrNotFound) {
		return "", nil, domain.ErrOrphanedToken
	}
	if err != nil {
		return "", nil, err
	}

	sessionToken, err := s.signSession(admin, externalUserID, now)
	if err != nil {
		return "", nil, err
	}
	return sessionToken, session, nil
}

// Revoke marks a not-yet-used token revoked. Owner-only.
func (s *OtpService) Revoke(ctx context.Context, actor domain.Actor, token string) error {
	return s.repo.RevokeToken(ctx, token, actor.AdminID)
}

// Logout flips the external user's session to inactive.
func (s *OtpService) Logout(ctx context.Context, externalUserID int64) error {
	return s.repo.DeactivateSession(ctx, externalUserID)
}

// ListSessions returns all active sessions. Privileged callers only.
func (s *OtpService) ListSessions(ctx context.Context, actor domain.Actor) ([]*domain.BotSession, error) {
	if !actor.Privileged() {
		return nil, domain.ErrAccessDenied
	}
	return s.repo.ListActiveSessions(ctx)
}

// ---- private helpers ----

// signSession mints the JWT handed back to the bot. Its expiry is
// independent of the OTP lifetime: the OTP governs only the verification
// window.
func (s *OtpService) signSession(admin *domain.Admin, externalUserID int64, now time.Time) (string, error) {
	claims := SessionClaims{
		AdminID:        admin.ID,
		Role:           string(admin.Role),
		ExternalUserID: externalUserID,
		RegisteredClaims: jwt.RegisteredClaims{
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(s.sessionTTL)),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.jwtSecret)
	if err != nil {
		return "", fmt.Errorf("sign session token: %w", err)
	}
	return signed, nil
}

// generateToken draws tokenLength characters from the unambiguous alphabet
// using a cryptographically strong source.
func generateToken() (string, error) {
	max := big.NewInt(int64(len(tokenAlphabet)))
	out := make([]byte, tokenLength)
	for i := range out {
		n, err := rand.Int(rand.Reader, max)
		if err != nil {
			return "", err
		}
		out[i] = tokenAlphabet[n.Int64()]
	}
	return string(out), nil
}
