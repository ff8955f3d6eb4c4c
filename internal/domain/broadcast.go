package domain

import (
	"strings"
	"time"
)

// Target selects the audience of a broadcast at send time.
type Target string

const (
	TargetAllBotUsers    Target = "all_bot_users"
	TargetAdminsOnly     Target = "admins_only"
	TargetByRole         Target = "by_role"
	TargetActiveSessions Target = "active_sessions"
)

func (t Target) IsValid() bool {
	switch t {
	case TargetAllBotUsers, TargetAdminsOnly, TargetByRole, TargetActiveSessions:
		return true
	}
	return false
}

// BroadcastStatus tracks the lifecycle of a broadcast.
// Statuses are stored as strings; this is the single authoritative mapping,
// nothing else in the codebase compares raw status strings.
type BroadcastStatus string

const (
	BroadcastDraft     BroadcastStatus = "draft"
	BroadcastScheduled BroadcastStatus = "scheduled"
	BroadcastSending   BroadcastStatus = "sending"
	BroadcastSent      BroadcastStatus = "sent"
	BroadcastFailed    BroadcastStatus = "failed"
	BroadcastCancelled BroadcastStatus = "cancelled"
)

func (s BroadcastStatus) IsValid() bool {
	switch s {
	case BroadcastDraft, BroadcastScheduled, BroadcastSending,
		BroadcastSent, BroadcastFailed, BroadcastCancelled:
		return true
	}
	return false
}

// Sendable reports whether send() may be invoked in this status.
func (s BroadcastStatus) Sendable() bool {
	return s == BroadcastDraft || s == BroadcastScheduled
}

// Editable reports whether the broadcast's content may still be patched.
func (s BroadcastStatus) Editable() bool {
	return s == BroadcastDraft || s == BroadcastScheduled
}

// Deletable reports whether the broadcast may be removed along with its deliveries.
func (s BroadcastStatus) Deletable() bool {
	return s == BroadcastDraft || s == BroadcastScheduled || s == BroadcastCancelled
}

// Terminal reports whether the broadcast has reached a final state.
func (s BroadcastStatus) Terminal() bool {
	return s == BroadcastSent || s == BroadcastFailed || s == BroadcastCancelled
}

// Broadcast is an administrator-initiated fan-out message to bot users.
// Aggregate counters are maintained by the drain workers through atomic
// in-database increments; they are never computed in process memory.
type Broadcast struct {
	ID              string          `json:"id"`
	Title           string          `json:"title"`
	Body            string          `json:"body"`
	Target          Target          `json:"target"`
	TargetRole      *Role           `json:"target_role,omitempty"`
	Status          BroadcastStatus `json:"status"`
	ScheduledAt     *time.Time      `json:"scheduled_at,omitempty"`
	SentAt          *time.Time      `json:"sent_at,omitempty"`
	CompletedAt     *time.Time      `json:"completed_at,omitempty"`
	CreatedBy       int64           `json:"created_by"`
	TotalRecipients int             `json:"total_recipients"`
	SentCount       int             `json:"sent_count"`
	DeliveredCount  int             `json:"delivered_count"`
	ReadCount       int             `json:"read_count"`
	FailedCount     int             `json:"failed_count"`
	CreatedAt       time.Time       `json:"created_at"`
}

// BroadcastStats is the derived aggregate view returned by the stats endpoint.
// PendingCount is computed from delivery rows, not from broadcast counters.
type BroadcastStats struct {
	Broadcast    *Broadcast `json:"broadcast"`
	PendingCount int        `json:"pending_count"`
	SuccessRate  float64    `json:"success_rate"`
}

// CreateBroadcastRequest is the inbound payload for a new broadcast.
type CreateBroadcastRequest struct {
	Title       string     `json:"title"`
	Body        string     `json:"body"`
	Target      Target     `json:"target"`
	Role        string     `json:"role,omitempty"`
	ScheduledAt *time.Time `json:"scheduled_at,omitempty"`
}

func (r *CreateBroadcastRequest) Validate() error {
	if strings.TrimSpace(r.Title) == "" || len(r.Title) > 255 {
		return ErrInvalidTitle
	}
	if r.Body == "" || len(r.Body) > 4096 {
		return ErrInvalidBody
	}
	if !r.Target.IsValid() {
		return ErrInvalidTarget
	}
	if r.Target == TargetByRole {
		if _, err := ParseRole(r.Role); err != nil {
			return ErrInvalidTarget
		}
	}
	return nil
}

// UpdateBroadcastRequest is a partial patch; nil fields are left unchanged.
type UpdateBroadcastRequest struct {
	Title       *string    `json:"title,omitempty"`
	Body        *string    `json:"body,omitempty"`
	Target      *Target    `json:"target,omitempty"`
	Role        *string    `json:"role,omitempty"`
	ScheduledAt *time.Time `json:"scheduled_at,omitempty"`
}

// BroadcastListFilter holds query parameters for paginated broadcast listing.
// CreatedBy restricts results to one author (set for non-privileged callers).
type BroadcastListFilter struct {
	Status    *BroadcastStatus
	CreatedBy *int64
	Page      int
	Limit     int
}
