package repository

import (
	"context"
	"sync"
	"time"

	"github.com/Meirlen/Tabys-sub000/internal/domain"
)

// MockModerationRepository is an in-memory ModerationRepository for tests.
// Pending counts and per-entity errors are set directly by the test.
type MockModerationRepository struct {
	mu      sync.Mutex
	counts  map[domain.ModerationEntity]int
	errs    map[domain.ModerationEntity]error
	state   *domain.ModerationState
	ensured bool
}

func NewMockModerationRepository() *MockModerationRepository {
	return &MockModerationRepository{
		counts: make(map[domain.ModerationEntity]int),
		errs:   make(map[domain.ModerationEntity]error),
	}
}

// SetCount pins the pending count reported for one entity.
func (m *MockModerationRepository) SetCount(entity domain.ModerationEntity, n int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.counts[entity] = n
}

// SetCountErr makes CountPending fail for one entity.
func (m *MockModerationRepository) SetCountErr(entity domain.ModerationEntity, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.errs[entity] = err
}

func (m *MockModerationRepository) CountPending(_ context.Context, entity domain.ModerationEntity) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.errs[entity]; err != nil {
		return 0, err
	}
	return m.counts[entity], nil
}

func (m *MockModerationRepository) EnsureState(_ context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.state == nil {
		m.state = &domain.ModerationState{}
	}
	m.ensured = true
	return nil
}

func (m *MockModerationRepository) GetState(_ context.Context) (*domain.ModerationState, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.state == nil {
		m.state = &domain.ModerationState{}
	}
	clone := *m.state
	return &clone, nil
}

func (m *MockModerationRepository) UpdateState(_ context.Context, count int, notifiedAt time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.state == nil {
		m.state = &domain.ModerationState{}
	}
	m.state.LastPendingCount = count
	m.state.LastNotifiedAt = &notifiedAt
	return nil
}

// State returns a copy of the current singleton for assertions.
func (m *MockModerationRepository) State() domain.ModerationState {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.state == nil {
		return domain.ModerationState{}
	}
	return *m.state
}
