package domain

import "errors"

// Sentinel errors used throughout the application.
// Handlers translate these to HTTP status codes via a single mapError function.
var (
	ErrNotFound      = errors.New("not found")
	ErrIllegalState  = errors.New("operation not permitted in current status")
	ErrAccessDenied  = errors.New("access denied")
	ErrInvalidTitle  = errors.New("title must be between 1 and 255 characters")
	ErrInvalidBody   = errors.New("body must be between 1 and 4096 characters")
	ErrInvalidTarget = errors.New("invalid audience target")
	ErrInvalidStatus = errors.New("unknown broadcast status")
	ErrEmptyAudience = errors.New("resolved audience is empty")

	ErrInvalidTTL     = errors.New("ttl must be between 5 and 60 minutes")
	ErrUnknownToken   = errors.New("unknown token")
	ErrTokenUsed      = errors.New("token already used")
	ErrTokenRevoked   = errors.New("token revoked")
	ErrTokenExpired   = errors.New("token expired")
	ErrOrphanedToken  = errors.New("token owner no longer exists")
	ErrNoSession      = errors.New("no active session for this user")
	ErrDuplicateToken = errors.New("token string already exists")
	ErrTokenExhausted = errors.New("could not generate a unique token")
	ErrQueueFull      = errors.New("drain queue is at capacity, try again later")
)
