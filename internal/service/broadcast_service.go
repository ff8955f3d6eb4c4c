package service

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/Meirlen/Tabys-sub000/internal/audience"
	"github.com/Meirlen/Tabys-sub000/internal/clock"
	"github.com/Meirlen/Tabys-sub000/internal/domain"
	"github.com/Meirlen/Tabys-sub000/internal/queue"
	"github.com/Meirlen/Tabys-sub000/internal/repository"
)

// BroadcastService coordinates the repository, audience resolver, and drain
// queue. All state-machine rules live here; HTTP handlers and workers depend
// on this service, not on each other.
type BroadcastService struct {
	repo     repository.BroadcastRepository
	resolver *audience.Resolver
	q        *queue.DrainQueue
	clk      clock.Clock
	logger   *zap.Logger
}

func NewBroadcastService(
	repo repository.BroadcastRepository,
	resolver *audience.Resolver,
	q *queue.DrainQueue,
	clk clock.Clock,
	logger *zap.Logger,
) *BroadcastService {
	return &BroadcastService{repo: repo, resolver: resolver, q: q, clk: clk, logger: logger}
}

// Create validates and persists a new broadcast. A scheduled_at in the
// request yields status=scheduled, otherwise draft.
func (s *BroadcastService) Create(ctx context.Context, actor domain.Actor, req domain.CreateBroadcastRequest) (*domain.Broadcast, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}

	status := domain.BroadcastDraft
	if req.ScheduledAt != nil {
		status = domain.BroadcastScheduled
	}

	b := &domain.Broadcast{
		ID:          uuid.New().String(),
		Title:       req.Title,
		Body:        req.Body,
		Target:      req.Target,
		Status:      status,
		ScheduledAt: req.ScheduledAt,
		CreatedBy:   actor.AdminID,
		CreatedAt:   s.clk.Now(),
	}
	if req.Target == domain.TargetByRole {
		role, err := domain.ParseRole(req.Role)
		if err != nil {
			return nil, err
		}
		b.TargetRole = &role
	}

	if err := s.repo.Create(ctx, b); err != nil {
		return nil, fmt.Errorf("persist broadcast: %w", err)
	}
	return b, nil
}

// Update patches a broadcast that has not started sending yet.
func (s *BroadcastService) Update(ctx context.Context, actor domain.Actor, id string, patch domain.UpdateBroadcastRequest) (*domain.Broadcast, error) {
	b, err := s.authorized(ctx, actor, id)
	if err != nil {
		return nil, err
	}
	if !b.Status.Editable() {
		return nil, domain.ErrIllegalState
	}

	if patch.Title != nil {
		b.Title = *patch.Title
	}
	if patch.Body != nil {
		b.Body = *patch.Body
	}
	if patch.Target != nil {
		b.Target = *patch.Target
		b.TargetRole = nil
	}
	if patch.Role != nil {
		role, err := domain.ParseRole(*patch.Role)
		if err != nil {
			return nil, err
		}
		b.TargetRole = &role
	}
	if patch.ScheduledAt != nil {
		b.ScheduledAt = patch.ScheduledAt
		b.Status = domain.BroadcastScheduled
	}

	check := domain.CreateBroadcastRequest{
		Title: b.Title, Body: b.Body, Target: b.Target,
	}
	if b.TargetRole != nil {
		check.Role = string(*b.TargetRole)
	}
	if err := check.Validate(); err != nil {
		return nil, err
	}

	if err := s.repo.UpdateContent(ctx, b); err != nil {
		return nil, fmt.Errorf("update broadcast: %w", err)
	}
	return b, nil
}

// Send materializes deliveries for the resolved audience, flips the
// broadcast to sending, and schedules an asynchronous drain. The call
// returns as soon as the drain is queued; delivery proceeds in the
// background.
func (s *BroadcastService) Send(ctx context.Context, actor domain.Actor, id string) (*domain.Broadcast, error) {
	b, err := s.authorized(ctx, actor, id)
	if err != nil {
		return nil, err
	}
	if !b.Status.Sendable() {
		return nil, domain.ErrIllegalState
	}
	return s.dispatch(ctx, b, false)
}

// dispatch is the shared send path used by Send, the scheduled-broadcast
// poller, and the moderation watcher.
func (s *BroadcastService) dispatch(ctx context.Context, b *domain.Broadcast, urgent bool) (*domain.Broadcast, error) {
	recipients, err := s.resolver.Resolve(ctx, b.Target, b.TargetRole)
	if err != nil {
		return nil, err
	}
	if len(recipients) == 0 {
		// Status deliberately unchanged: the caller can fix the target and retry.
		return nil, domain.ErrEmptyAudience
	}

	now := s.clk.Now()
	if _, err := s.repo.BulkInsertDeliveries(ctx, b.ID, recipients, now); err != nil {
		return nil, fmt.Errorf("materialize deliveries: %w", err)
	}
	if err := s.repo.MarkSending(ctx, b.ID, len(recipients), now); err != nil {
		return nil, fmt.Errorf("mark sending: %w", err)
	}
	b.Status = domain.BroadcastSending
	b.TotalRecipients = len(recipients)
	b.SentAt = &now

	s.enqueue(b.ID, urgent)
	return b, nil
}

// SendDue routes one due scheduled broadcast through the send path.
// Called by the scheduler worker; illegal-state and empty-audience results
// are reported to the caller for logging, not surfaced to any user.
func (s *BroadcastService) SendDue(ctx context.Context, b *domain.Broadcast) error {
	if !b.Status.Sendable() {
		return domain.ErrIllegalState
	}
	_, err := s.dispatch(ctx, b, false)
	return err
}

// CreateAndSendSystem creates a system-owned broadcast targeting admins and
// dispatches it immediately on the urgent tier. Used by the moderation
// watcher. Returns the recipient count.
func (s *BroadcastService) CreateAndSendSystem(ctx context.Context, title, body string) (int, error) {
	b := &domain.Broadcast{
		ID:        uuid.New().String(),
		Title:     title,
		Body:      body,
		Target:    domain.TargetAdminsOnly,
		Status:    domain.BroadcastDraft,
		CreatedBy: domain.SystemAdminID,
		CreatedAt: s.clk.Now(),
	}
	if err := s.repo.Create(ctx, b); err != nil {
		return 0, fmt.Errorf("persist system broadcast: %w", err)
	}

	sent, err := s.dispatch(ctx, b, true)
	if err != nil {
		return 0, err
	}
	return sent.TotalRecipients, nil
}

// Retry forces the broadcast back to sending and re-schedules a drain.
// Safe against a sending status stuck by a crash: already-finalized
// deliveries are not re-claimed, only pending ones.
func (s *BroadcastService) Retry(ctx context.Context, actor domain.Actor, id string) (*domain.Broadcast, error) {
	b, err := s.authorized(ctx, actor, id)
	if err != nil {
		return nil, err
	}
	if err := s.repo.SetStatus(ctx, id, domain.BroadcastSending); err != nil {
		return nil, fmt.Errorf("reset status: %w", err)
	}
	b.Status = domain.BroadcastSending
	b.CompletedAt = nil
	s.enqueue(id, false)
	return b, nil
}

// Cancel moves the broadcast to cancelled. Workers observe the status
// before their next claim and stop; already-dispatched messages are not
// recalled and remaining deliveries stay pending.
func (s *BroadcastService) Cancel(ctx context.Context, actor domain.Actor, id string) error {
	b, err := s.authorized(ctx, actor, id)
	if err != nil {
		return err
	}
	if b.Status.Terminal() {
		return domain.ErrIllegalState
	}
	return s.repo.MarkCancelled(ctx, id, s.clk.Now())
}

// Delete removes a broadcast and cascades to its deliveries.
func (s *BroadcastService) Delete(ctx context.Context, actor domain.Actor, id string) error {
	b, err := s.authorized(ctx, actor, id)
	if err != nil {
		return err
	}
	if !b.Status.Deletable() {
		return domain.ErrIllegalState
	}
	return s.repo.Delete(ctx, id)
}

// Stats returns the aggregate view with the live pending count.
func (s *BroadcastService) Stats(ctx context.Context, actor domain.Actor, id string) (*domain.BroadcastStats, error) {
	b, err := s.authorized(ctx, actor, id)
	if err != nil {
		return nil, err
	}
	pending, err := s.repo.PendingCount(ctx, id)
	if err != nil {
		return nil, err
	}

	stats := &domain.BroadcastStats{Broadcast: b, PendingCount: pending}
	if b.TotalRecipients > 0 {
		stats.SuccessRate = float64(b.DeliveredCount) / float64(b.TotalRecipients)
	}
	return stats, nil
}

func (s *BroadcastService) GetByID(ctx context.Context, actor domain.Actor, id string) (*domain.Broadcast, error) {
	return s.authorized(ctx, actor, id)
}

// List returns broadcasts matching the filter. Non-privileged callers see
// only their own.
func (s *BroadcastService) List(ctx context.Context, actor domain.Actor, filter domain.BroadcastListFilter) ([]*domain.Broadcast, int, error) {
	if !actor.Privileged() {
		filter.CreatedBy = &actor.AdminID
	}
	if filter.Page < 1 {
		filter.Page = 1
	}
	if filter.Limit < 1 || filter.Limit > 100 {
		filter.Limit = 20
	}
	return s.repo.List(ctx, filter)
}

// ---- private helpers ----

func (s *BroadcastService) authorized(ctx context.Context, actor domain.Actor, id string) (*domain.Broadcast, error) {
	b, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if !actor.Privileged() && b.CreatedBy != actor.AdminID {
		return nil, domain.ErrAccessDenied
	}
	return b, nil
}

func (s *BroadcastService) enqueue(id string, urgent bool) {
	job := queue.Job{BroadcastID: id}
	var err error
	if urgent {
		err = s.q.EnqueueUrgent(job)
	} else {
		err = s.q.Enqueue(job)
	}
	if err != nil {
		// Deliveries stay pending; a retry call re-queues the drain.
		s.logger.Warn("drain queue full, broadcast left in sending",
			zap.String("broadcast_id", id), zap.Error(err))
	}
}
