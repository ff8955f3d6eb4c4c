package domain

import "time"

// OtpToken is a one-time password minted by an admin and presented
// out-of-band by the Telegram bot to establish a session.
type OtpToken struct {
	ID             int64      `json:"id"`
	Token          string     `json:"token"`
	AdminID        int64      `json:"admin_id"`
	IsUsed         bool       `json:"is_used"`
	IsRevoked      bool       `json:"is_revoked"`
	CreatedAt      time.Time  `json:"created_at"`
	ExpiresAt      time.Time  `json:"expires_at"`
	UsedAt         *time.Time `json:"used_at,omitempty"`
	IssueIP        string     `json:"issue_ip,omitempty"`
	IssueUserAgent string     `json:"issue_user_agent,omitempty"`
}

// Valid reports whether the token may still be consumed at the given instant.
func (t *OtpToken) Valid(now time.Time) bool {
	return !t.IsUsed && !t.IsRevoked && now.Before(t.ExpiresAt)
}

// InvalidReason returns the sentinel explaining why the token cannot be
// consumed, or nil if it is still valid. Used takes precedence over revoked,
// revoked over expired, mirroring the order checks are applied on consume.
func (t *OtpToken) InvalidReason(now time.Time) error {
	switch {
	case t.IsUsed:
		return ErrTokenUsed
	case t.IsRevoked:
		return ErrTokenRevoked
	case !now.Before(t.ExpiresAt):
		return ErrTokenExpired
	}
	return nil
}

// TelegramProfile carries the external user's profile fields captured at
// verification time and refreshed on rebind.
type TelegramProfile struct {
	Username  string `json:"username"`
	FirstName string `json:"first_name"`
	LastName  string `json:"last_name"`
}

// BotSession is the durable binding between an external bot user and an
// internal admin account. At most one active session exists per external
// user id; rebinding overwrites the prior binding atomically.
type BotSession struct {
	ID             int64      `json:"id"`
	ExternalUserID int64      `json:"external_user_id"`
	Username       string     `json:"username,omitempty"`
	FirstName      string     `json:"first_name,omitempty"`
	LastName       string     `json:"last_name,omitempty"`
	AdminID        int64      `json:"admin_id"`
	IsActive       bool       `json:"is_active"`
	CreatedAt      time.Time  `json:"created_at"`
	LastActivityAt time.Time  `json:"last_activity_at"`
	ExpiresAt      *time.Time `json:"expires_at,omitempty"`
}

// MintOtpRequest is the inbound payload for minting a token.
type MintOtpRequest struct {
	TTLMinutes int `json:"ttl_minutes"`
}

func (r *MintOtpRequest) Validate() error {
	if r.TTLMinutes < 5 || r.TTLMinutes > 60 {
		return ErrInvalidTTL
	}
	return nil
}

// VerifyOtpRequest is presented by the bot on behalf of an external user.
type VerifyOtpRequest struct {
	Token          string          `json:"token"`
	ExternalUserID int64           `json:"external_user_id"`
	Profile        TelegramProfile `json:"profile"`
}
