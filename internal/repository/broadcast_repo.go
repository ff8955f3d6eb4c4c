package repository

import (
	"context"
	"time"

	"github.com/Meirlen/Tabys-sub000/internal/domain"
)

// BroadcastRepository defines all persistence operations for broadcasts and
// their per-recipient deliveries. The pgx implementation is in
// pg_broadcast_repo.go; tests use a hand-written mock (mock_broadcast_repo.go).
type BroadcastRepository interface {
	Create(ctx context.Context, b *domain.Broadcast) error
	GetByID(ctx context.Context, id string) (*domain.Broadcast, error)
	UpdateContent(ctx context.Context, b *domain.Broadcast) error
	List(ctx context.Context, filter domain.BroadcastListFilter) ([]*domain.Broadcast, int, error)
	Delete(ctx context.Context, id string) error
	// SetStatus overwrites the broadcast status and clears completed_at.
	// The retry path uses it to re-open finished broadcasts; terminal
	// transitions go through MarkCancelled or CompleteIfDrained, which
	// stamp completed_at themselves.
	SetStatus(ctx context.Context, id string, status domain.BroadcastStatus) error

	// MarkCancelled moves the broadcast to cancelled and stamps completed_at.
	// In-flight workers observe the status on their next claim and stop.
	MarkCancelled(ctx context.Context, id string, now time.Time) error

	// MarkSending atomically flips the broadcast into the sending state,
	// records the audience size, and stamps sent_at.
	MarkSending(ctx context.Context, id string, totalRecipients int, sentAt time.Time) error

	// CompleteIfDrained performs the at-most-once terminal transition: it
	// moves a sending broadcast with zero pending deliveries to sent (or
	// failed when every delivery failed) and stamps completed_at. The bool
	// result reports whether this call performed the transition.
	CompleteIfDrained(ctx context.Context, id string, now time.Time) (domain.BroadcastStatus, bool, error)

	// BulkInsertDeliveries materializes one pending delivery per recipient.
	// Duplicate recipients for the same broadcast are silently skipped, so
	// the call is idempotent. Returns the number of rows actually inserted.
	BulkInsertDeliveries(ctx context.Context, broadcastID string, recipients []string, now time.Time) (int, error)

	// ClaimPending returns up to n pending deliveries and stamps their claim
	// time so concurrent workers cannot double-claim. A claim older than the
	// visibility timeout is considered abandoned and may be re-claimed.
	ClaimPending(ctx context.Context, broadcastID string, n int, now time.Time, visibility time.Duration) ([]*domain.Delivery, error)

	// FinalizeDelivery transitions one pending delivery to a terminal status
	// and increments the matching broadcast counter in the same transaction.
	// The bool result reports whether the transition was applied; a delivery
	// already finalized by another worker yields (false, nil).
	FinalizeDelivery(ctx context.Context, deliveryID, broadcastID string, status domain.DeliveryStatus, errMsg *string, retryCount int, ts time.Time) (bool, error)

	PendingCount(ctx context.Context, broadcastID string) (int, error)
	ListDeliveries(ctx context.Context, broadcastID string) ([]*domain.Delivery, error)

	// FindDueScheduled returns scheduled broadcasts whose scheduled_at has passed.
	FindDueScheduled(ctx context.Context, now time.Time) ([]*domain.Broadcast, error)
}
