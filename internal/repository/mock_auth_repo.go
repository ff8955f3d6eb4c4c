package repository

import (
	"context"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/Meirlen/Tabys-sub000/internal/domain"
)

// MockAuthRepository is a hand-written, in-memory implementation of
// AuthRepository for unit tests. ConsumeTokenBindSession keeps the
// one-shot semantics of the PostgreSQL transaction: under concurrent
// verifies exactly one caller consumes the token.
type MockAuthRepository struct {
	mu       sync.Mutex
	nextID   int64
	tokens   map[string]*domain.OtpToken // keyed by token string
	sessions map[int64]*domain.BotSession
	admins   map[int64]*domain.Admin
}

func NewMockAuthRepository() *MockAuthRepository {
	return &MockAuthRepository{
		tokens:   make(map[string]*domain.OtpToken),
		sessions: make(map[int64]*domain.BotSession),
		admins:   make(map[int64]*domain.Admin),
	}
}

// AddAdmin seeds an admin account for the test.
func (m *MockAuthRepository) AddAdmin(a domain.Admin) {
	m.mu.Lock()
	defer m.mu.Unlock()
	clone := a
	m.admins[a.ID] = &clone
}

// AddSession seeds a session for the test.
func (m *MockAuthRepository) AddSession(s domain.BotSession) {
	m.mu.Lock()
	defer m.mu.Unlock()
	clone := s
	if clone.ID == 0 {
		m.nextID++
		clone.ID = m.nextID
	}
	m.sessions[s.ExternalUserID] = &clone
}

func (m *MockAuthRepository) CreateToken(_ context.Context, t *domain.OtpToken) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.tokens[t.Token]; exists {
		return domain.ErrDuplicateToken
	}
	m.nextID++
	t.ID = m.nextID
	clone := *t
	m.tokens[t.Token] = &clone
	return nil
}

func (m *MockAuthRepository) GetToken(_ context.Context, token string) (*domain.OtpToken, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.tokens[token]
	if !ok {
		return nil, domain.ErrUnknownToken
	}
	clone := *t
	return &clone, nil
}

func (m *MockAuthRepository) RevokeExpired(_ context.Context, adminID int64, now time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, t := range m.tokens {
		if t.AdminID == adminID && !t.IsUsed && !t.IsRevoked && !now.Before(t.ExpiresAt) {
			t.IsRevoked = true
		}
	}
	return nil
}

func (m *MockAuthRepository) RevokeToken(_ context.Context, token string, adminID int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.tokens[token]
	if !ok {
		return domain.ErrUnknownToken
	}
	if t.AdminID != adminID {
		return domain.ErrAccessDenied
	}
	if t.IsUsed {
		return domain.ErrTokenUsed
	}
	t.IsRevoked = true
	return nil
}

func (m *MockAuthRepository) ConsumeTokenBindSession(_ context.Context, tokenID int64, externalUserID int64, adminID int64, profile domain.TelegramProfile, now time.Time) (*domain.BotSession, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var token *domain.OtpToken
	for _, t := range m.tokens {
		if t.ID == tokenID {
			token = t
			break
		}
	}
	if token == nil {
		return nil, domain.ErrUnknownToken
	}
	if reason := token.InvalidReason(now); reason != nil {
		return nil, reason
	}

	token.IsUsed = true
	usedAt := now
	token.UsedAt = &usedAt

	s, ok := m.sessions[externalUserID]
	if !ok {
		m.nextID++
		s = &domain.BotSession{
			ID:             m.nextID,
			ExternalUserID: externalUserID,
			CreatedAt:      now,
		}
		m.sessions[externalUserID] = s
	}
	s.Username = profile.Username
	s.FirstName = profile.FirstName
	s.LastName = profile.LastName
	s.AdminID = adminID
	s.IsActive = true
	s.LastActivityAt = now

	clone := *s
	return &clone, nil
}

func (m *MockAuthRepository) GetActiveSession(_ context.Context, externalUserID int64) (*domain.BotSession, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[externalUserID]
	if !ok || !s.IsActive {
		return nil, domain.ErrNoSession
	}
	clone := *s
	return &clone, nil
}

func (m *MockAuthRepository) TouchSession(_ context.Context, externalUserID int64, now time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if s, ok := m.sessions[externalUserID]; ok && s.IsActive {
		s.LastActivityAt = now
	}
	return nil
}

func (m *MockAuthRepository) DeactivateSession(_ context.Context, externalUserID int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[externalUserID]
	if !ok || !s.IsActive {
		return domain.ErrNoSession
	}
	s.IsActive = false
	return nil
}

func (m *MockAuthRepository) ListActiveSessions(_ context.Context) ([]*domain.BotSession, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var result []*domain.BotSession
	for _, s := range m.sessions {
		if s.IsActive {
			clone := *s
			result = append(result, &clone)
		}
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].ExternalUserID < result[j].ExternalUserID
	})
	return result, nil
}

func (m *MockAuthRepository) GetAdmin(_ context.Context, id int64) (*domain.Admin, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.admins[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	clone := *a
	return &clone, nil
}

func (m *MockAuthRepository) AdminEmails(_ context.Context, roles []domain.Role) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	seen := make(map[string]bool)
	var result []string
	for _, a := range m.admins {
		if a.Email == "" || !roleIn(a.Role, roles) || seen[a.Email] {
			continue
		}
		seen[a.Email] = true
		result = append(result, a.Email)
	}
	sort.Strings(result)
	return result, nil
}

func (m *MockAuthRepository) ActiveRecipients(_ context.Context) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var result []string
	for _, s := range m.sessions {
		if s.IsActive {
			result = append(result, strconv.FormatInt(s.ExternalUserID, 10))
		}
	}
	sort.Strings(result)
	return result, nil
}

func (m *MockAuthRepository) ActiveRecipientsByRoles(_ context.Context, roles []domain.Role) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var result []string
	for _, s := range m.sessions {
		if !s.IsActive {
			continue
		}
		a, ok := m.admins[s.AdminID]
		if !ok || !roleIn(a.Role, roles) {
			continue
		}
		result = append(result, strconv.FormatInt(s.ExternalUserID, 10))
	}
	sort.Strings(result)
	return result, nil
}

func roleIn(r domain.Role, roles []domain.Role) bool {
	for _, candidate := range roles {
		if r == candidate {
			return true
		}
	}
	return false
}
