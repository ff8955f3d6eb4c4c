package repository

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/Meirlen/Tabys-sub000/internal/domain"
)

// MockBroadcastRepository is a hand-written, in-memory implementation of
// BroadcastRepository used in unit tests. Its conditional operations
// (FinalizeDelivery, CompleteIfDrained, ClaimPending) keep the same
// at-most-once semantics as the PostgreSQL implementation so concurrency
// properties can be exercised without a database.
type MockBroadcastRepository struct {
	mu         sync.Mutex
	broadcasts map[string]*domain.Broadcast
	deliveries map[string]*mockDelivery // keyed by delivery id

	// Optional error overrides, set in tests to simulate failure paths.
	CreateErr error
	ClaimErr  error
}

type mockDelivery struct {
	domain.Delivery
	claimedAt *time.Time
}

func NewMockBroadcastRepository() *MockBroadcastRepository {
	return &MockBroadcastRepository{
		broadcasts: make(map[string]*domain.Broadcast),
		deliveries: make(map[string]*mockDelivery),
	}
}

func (m *MockBroadcastRepository) Create(_ context.Context, b *domain.Broadcast) error {
	if m.CreateErr != nil {
		return m.CreateErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	clone := *b
	m.broadcasts[b.ID] = &clone
	return nil
}

func (m *MockBroadcastRepository) GetByID(_ context.Context, id string) (*domain.Broadcast, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	b, ok := m.broadcasts[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	clone := *b
	return &clone, nil
}

func (m *MockBroadcastRepository) UpdateContent(_ context.Context, b *domain.Broadcast) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	existing, ok := m.broadcasts[b.ID]
	if !ok {
		return domain.ErrNotFound
	}
	existing.Title = b.Title
	existing.Body = b.Body
	existing.Target = b.Target
	existing.TargetRole = b.TargetRole
	existing.Status = b.Status
	existing.ScheduledAt = b.ScheduledAt
	return nil
}

func (m *MockBroadcastRepository) List(_ context.Context, f domain.BroadcastListFilter) ([]*domain.Broadcast, int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var result []*domain.Broadcast
	for _, b := range m.broadcasts {
		if f.Status != nil && b.Status != *f.Status {
			continue
		}
		if f.CreatedBy != nil && b.CreatedBy != *f.CreatedBy {
			continue
		}
		clone := *b
		result = append(result, &clone)
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].CreatedAt.After(result[j].CreatedAt)
	})
	return result, len(result), nil
}

func (m *MockBroadcastRepository) Delete(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.broadcasts[id]; !ok {
		return domain.ErrNotFound
	}
	delete(m.broadcasts, id)
	for did, d := range m.deliveries {
		if d.BroadcastID == id {
			delete(m.deliveries, did)
		}
	}
	return nil
}

func (m *MockBroadcastRepository) SetStatus(_ context.Context, id string, status domain.BroadcastStatus) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if b, ok := m.broadcasts[id]; ok {
		b.Status = status
		b.CompletedAt = nil
	}
	return nil
}

func (m *MockBroadcastRepository) MarkCancelled(_ context.Context, id string, now time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	b, ok := m.broadcasts[id]
	if !ok {
		return domain.ErrNotFound
	}
	b.Status = domain.BroadcastCancelled
	b.CompletedAt = &now
	return nil
}

func (m *MockBroadcastRepository) MarkSending(_ context.Context, id string, totalRecipients int, sentAt time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	b, ok := m.broadcasts[id]
	if !ok {
		return domain.ErrNotFound
	}
	b.Status = domain.BroadcastSending
	b.TotalRecipients = totalRecipients
	b.SentAt = &sentAt
	b.CompletedAt = nil
	return nil
}

func (m *MockBroadcastRepository) CompleteIfDrained(_ context.Context, id string, now time.Time) (domain.BroadcastStatus, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	b, ok := m.broadcasts[id]
	if !ok || b.Status != domain.BroadcastSending {
		return "", false, nil
	}
	for _, d := range m.deliveries {
		if d.BroadcastID == id && d.Status == domain.DeliveryPending {
			return "", false, nil
		}
	}
	status := domain.BroadcastSent
	if b.TotalRecipients > 0 && b.FailedCount == b.TotalRecipients {
		status = domain.BroadcastFailed
	}
	b.Status = status
	b.CompletedAt = &now
	return status, true, nil
}

func (m *MockBroadcastRepository) BulkInsertDeliveries(_ context.Context, broadcastID string, recipients []string, now time.Time) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	inserted := 0
	for _, recipient := range recipients {
		if m.hasDeliveryLocked(broadcastID, recipient) {
			continue
		}
		id := fmt.Sprintf("%s:%s", broadcastID, recipient)
		m.deliveries[id] = &mockDelivery{Delivery: domain.Delivery{
			ID:          id,
			BroadcastID: broadcastID,
			Recipient:   recipient,
			Status:      domain.DeliveryPending,
			CreatedAt:   now,
		}}
		inserted++
	}
	return inserted, nil
}

func (m *MockBroadcastRepository) ClaimPending(_ context.Context, broadcastID string, n int, now time.Time, visibility time.Duration) ([]*domain.Delivery, error) {
	if m.ClaimErr != nil {
		return nil, m.ClaimErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	var claimable []*mockDelivery
	for _, d := range m.deliveries {
		if d.BroadcastID != broadcastID || d.Status != domain.DeliveryPending {
			continue
		}
		if d.claimedAt != nil && d.claimedAt.After(now.Add(-visibility)) {
			continue
		}
		claimable = append(claimable, d)
	}
	sort.Slice(claimable, func(i, j int) bool {
		return claimable[i].ID < claimable[j].ID
	})
	if len(claimable) > n {
		claimable = claimable[:n]
	}

	result := make([]*domain.Delivery, len(claimable))
	for i, d := range claimable {
		ts := now
		d.claimedAt = &ts
		clone := d.Delivery
		result[i] = &clone
	}
	return result, nil
}

func (m *MockBroadcastRepository) FinalizeDelivery(_ context.Context, deliveryID, broadcastID string, status domain.DeliveryStatus, errMsg *string, retryCount int, ts time.Time) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	d, ok := m.deliveries[deliveryID]
	if !ok || d.Status != domain.DeliveryPending {
		return false, nil
	}
	d.Status = status
	d.ErrorMessage = errMsg
	d.RetryCount = retryCount
	if status == domain.DeliverySent {
		sentAt := ts
		d.SentAt = &sentAt
	}
	if b, ok := m.broadcasts[broadcastID]; ok {
		if status == domain.DeliverySent {
			b.SentCount++
		} else {
			b.FailedCount++
		}
	}
	return true, nil
}

func (m *MockBroadcastRepository) PendingCount(_ context.Context, broadcastID string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, d := range m.deliveries {
		if d.BroadcastID == broadcastID && d.Status == domain.DeliveryPending {
			n++
		}
	}
	return n, nil
}

func (m *MockBroadcastRepository) ListDeliveries(_ context.Context, broadcastID string) ([]*domain.Delivery, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var result []*domain.Delivery
	for _, d := range m.deliveries {
		if d.BroadcastID == broadcastID {
			clone := d.Delivery
			result = append(result, &clone)
		}
	}
	sort.Slice(result, func(i, j int) bool { return result[i].ID < result[j].ID })
	return result, nil
}

func (m *MockBroadcastRepository) FindDueScheduled(_ context.Context, now time.Time) ([]*domain.Broadcast, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var result []*domain.Broadcast
	for _, b := range m.broadcasts {
		if b.Status == domain.BroadcastScheduled && b.ScheduledAt != nil && !b.ScheduledAt.After(now) {
			clone := *b
			result = append(result, &clone)
		}
	}
	return result, nil
}

func (m *MockBroadcastRepository) hasDeliveryLocked(broadcastID, recipient string) bool {
	for _, d := range m.deliveries {
		if d.BroadcastID == broadcastID && d.Recipient == recipient {
			return true
		}
	}
	return false
}
