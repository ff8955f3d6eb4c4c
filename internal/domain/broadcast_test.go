package domain_test

import (
	"strings"
	"testing"
	"time"

	"github.com/Meirlen/Tabys-sub000/internal/domain"
)

func TestCreateBroadcastRequest_Validate(t *testing.T) {
	valid := domain.CreateBroadcastRequest{
		Title:  "Изменение в расписании",
		Body:   "Завтра офис закрыт.",
		Target: domain.TargetAllBotUsers,
	}

	t.Run("valid request passes", func(t *testing.T) {
		if err := valid.Validate(); err != nil {
			t.Fatalf("expected no error, got %v", err)
		}
	})

	t.Run("empty title", func(t *testing.T) {
		r := valid
		r.Title = "   "
		if err := r.Validate(); err != domain.ErrInvalidTitle {
			t.Fatalf("expected ErrInvalidTitle, got %v", err)
		}
	})

	t.Run("title too long", func(t *testing.T) {
		r := valid
		r.Title = strings.Repeat("x", 256)
		if err := r.Validate(); err != domain.ErrInvalidTitle {
			t.Fatalf("expected ErrInvalidTitle, got %v", err)
		}
	})

	t.Run("empty body", func(t *testing.T) {
		r := valid
		r.Body = ""
		if err := r.Validate(); err != domain.ErrInvalidBody {
			t.Fatalf("expected ErrInvalidBody, got %v", err)
		}
	})

	t.Run("body too long", func(t *testing.T) {
		r := valid
		r.Body = strings.Repeat("x", 4097)
		if err := r.Validate(); err != domain.ErrInvalidBody {
			t.Fatalf("expected ErrInvalidBody, got %v", err)
		}
	})

	t.Run("unknown target", func(t *testing.T) {
		r := valid
		r.Target = "everyone"
		if err := r.Validate(); err != domain.ErrInvalidTarget {
			t.Fatalf("expected ErrInvalidTarget, got %v", err)
		}
	})

	t.Run("by_role requires a known role", func(t *testing.T) {
		r := valid
		r.Target = domain.TargetByRole
		r.Role = "intern"
		if err := r.Validate(); err != domain.ErrInvalidTarget {
			t.Fatalf("expected ErrInvalidTarget, got %v", err)
		}
	})

	t.Run("by_role with known role passes", func(t *testing.T) {
		r := valid
		r.Target = domain.TargetByRole
		r.Role = "NPO" // case-insensitive
		if err := r.Validate(); err != nil {
			t.Fatalf("expected no error, got %v", err)
		}
	})
}

func TestBroadcastStatus_Lifecycle(t *testing.T) {
	tests := []struct {
		status    domain.BroadcastStatus
		sendable  bool
		editable  bool
		deletable bool
		terminal  bool
	}{
		{domain.BroadcastDraft, true, true, true, false},
		{domain.BroadcastScheduled, true, true, true, false},
		{domain.BroadcastSending, false, false, false, false},
		{domain.BroadcastSent, false, false, false, true},
		{domain.BroadcastFailed, false, false, false, true},
		{domain.BroadcastCancelled, false, false, true, true},
	}

	for _, tc := range tests {
		t.Run(string(tc.status), func(t *testing.T) {
			if got := tc.status.Sendable(); got != tc.sendable {
				t.Errorf("Sendable() = %v, want %v", got, tc.sendable)
			}
			if got := tc.status.Editable(); got != tc.editable {
				t.Errorf("Editable() = %v, want %v", got, tc.editable)
			}
			if got := tc.status.Deletable(); got != tc.deletable {
				t.Errorf("Deletable() = %v, want %v", got, tc.deletable)
			}
			if got := tc.status.Terminal(); got != tc.terminal {
				t.Errorf("Terminal() = %v, want %v", got, tc.terminal)
			}
		})
	}
}

func TestParseRole(t *testing.T) {
	if r, err := domain.ParseRole("  Super_Admin "); err != nil || r != domain.RoleSuperAdmin {
		t.Fatalf("expected super_admin, got %q err=%v", r, err)
	}
	if _, err := domain.ParseRole("root"); err != domain.ErrInvalidTarget {
		t.Fatalf("expected ErrInvalidTarget, got %v", err)
	}
	if _, err := domain.ParseRole(""); err != domain.ErrInvalidTarget {
		t.Fatalf("expected ErrInvalidTarget for empty role, got %v", err)
	}
}

func TestOtpToken_InvalidReason(t *testing.T) {
	now := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	base := domain.OtpToken{ExpiresAt: now.Add(10 * time.Minute)}

	t.Run("valid token has no reason", func(t *testing.T) {
		tok := base
		if reason := tok.InvalidReason(now); reason != nil {
			t.Fatalf("expected nil, got %v", reason)
		}
		if !tok.Valid(now) {
			t.Fatal("expected Valid=true")
		}
	})

	t.Run("expired", func(t *testing.T) {
		tok := base
		if reason := tok.InvalidReason(now.Add(11 * time.Minute)); reason != domain.ErrTokenExpired {
			t.Fatalf("expected ErrTokenExpired, got %v", reason)
		}
	})

	t.Run("expiry boundary is exclusive", func(t *testing.T) {
		tok := base
		if reason := tok.InvalidReason(tok.ExpiresAt); reason != domain.ErrTokenExpired {
			t.Fatalf("expected ErrTokenExpired at the boundary, got %v", reason)
		}
	})

	t.Run("used wins over revoked and expired", func(t *testing.T) {
		tok := base
		tok.IsUsed = true
		tok.IsRevoked = true
		if reason := tok.InvalidReason(now.Add(time.Hour)); reason != domain.ErrTokenUsed {
			t.Fatalf("expected ErrTokenUsed, got %v", reason)
		}
	})

	t.Run("revoked wins over expired", func(t *testing.T) {
		tok := base
		tok.IsRevoked = true
		if reason := tok.InvalidReason(now.Add(time.Hour)); reason != domain.ErrTokenRevoked {
			t.Fatalf("expected ErrTokenRevoked, got %v", reason)
		}
	})
}

func TestMintOtpRequest_Validate(t *testing.T) {
	tests := []struct {
		ttl     int
		wantErr error
	}{
		{4, domain.ErrInvalidTTL},
		{5, nil},
		{15, nil},
		{60, nil},
		{61, domain.ErrInvalidTTL},
		{0, domain.ErrInvalidTTL},
	}
	for _, tc := range tests {
		r := domain.MintOtpRequest{TTLMinutes: tc.ttl}
		if err := r.Validate(); err != tc.wantErr {
			t.Errorf("ttl=%d: expected %v, got %v", tc.ttl, tc.wantErr, err)
		}
	}
}
