package repository

import (
	"context"
	"time"

	"github.com/Meirlen/Tabys-sub000/internal/domain"
)

// ModerationRepository reads pending-moderation counts across the business
// entity tables and owns the singleton watermark row the watcher persists.
type ModerationRepository interface {
	// CountPending returns the number of rows in the entity's table whose
	// moderation_status is pending.
	CountPending(ctx context.Context, entity domain.ModerationEntity) (int, error)

	// EnsureState creates the singleton row with count 0 if it is absent.
	EnsureState(ctx context.Context) error
	GetState(ctx context.Context) (*domain.ModerationState, error)
	UpdateState(ctx context.Context, count int, notifiedAt time.Time) error
}
