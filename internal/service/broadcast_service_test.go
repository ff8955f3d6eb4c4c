package service_test

import (
	"context"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/Meirlen/Tabys-sub000/internal/audience"
	"github.com/Meirlen/Tabys-sub000/internal/clock"
	"github.com/Meirlen/Tabys-sub000/internal/domain"
	"github.com/Meirlen/Tabys-sub000/internal/queue"
	"github.com/Meirlen/Tabys-sub000/internal/repository"
	"github.com/Meirlen/Tabys-sub000/internal/service"
)

var (
	superAdmin = domain.Actor{AdminID: 1, Role: domain.RoleSuperAdmin}
	npoAdmin   = domain.Actor{AdminID: 7, Role: domain.RoleNPO}
)

var validBroadcastReq = domain.CreateBroadcastRequest{
	Title:  "Новости платформы",
	Body:   "Обновление уже доступно.",
	Target: domain.TargetAllBotUsers,
}

type broadcastFixture struct {
	svc  *service.BroadcastService
	repo *repository.MockBroadcastRepository
	auth *repository.MockAuthRepository
	q    *queue.DrainQueue
	clk  *clock.Fake
}

func newBroadcastFixture() *broadcastFixture {
	repo := repository.NewMockBroadcastRepository()
	auth := repository.NewMockAuthRepository()
	q := queue.New()
	clk := clock.NewFake(time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC))
	svc := service.NewBroadcastService(repo, audience.NewResolver(auth), q, clk, zap.NewNop())
	return &broadcastFixture{svc: svc, repo: repo, auth: auth, q: q, clk: clk}
}

// seedSessions binds n active bot users to the given admin.
func (f *broadcastFixture) seedSessions(adminID int64, role domain.Role, n int) {
	f.auth.AddAdmin(domain.Admin{ID: adminID, Role: role})
	for i := 0; i < n; i++ {
		f.auth.AddSession(domain.BotSession{
			ExternalUserID: adminID*1000 + int64(i),
			AdminID:        adminID,
			IsActive:       true,
		})
	}
}

func TestBroadcastService_Create(t *testing.T) {
	f := newBroadcastFixture()
	ctx := context.Background()

	b, err := f.svc.Create(ctx, superAdmin, validBroadcastReq)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if b.ID == "" {
		t.Fatal("expected a non-empty ID")
	}
	if b.Status != domain.BroadcastDraft {
		t.Fatalf("expected status=draft, got %s", b.Status)
	}
	if b.CreatedBy != superAdmin.AdminID {
		t.Fatalf("expected created_by=%d, got %d", superAdmin.AdminID, b.CreatedBy)
	}
}

func TestBroadcastService_Create_Scheduled(t *testing.T) {
	f := newBroadcastFixture()

	at := f.clk.Now().Add(time.Hour)
	req := validBroadcastReq
	req.ScheduledAt = &at

	b, err := f.svc.Create(context.Background(), superAdmin, req)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if b.Status != domain.BroadcastScheduled {
		t.Fatalf("expected status=scheduled, got %s", b.Status)
	}
}

func TestBroadcastService_Create_ByRoleNormalizesRole(t *testing.T) {
	f := newBroadcastFixture()

	req := validBroadcastReq
	req.Target = domain.TargetByRole
	req.Role = "Government"

	b, err := f.svc.Create(context.Background(), superAdmin, req)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if b.TargetRole == nil || *b.TargetRole != domain.RoleGovernment {
		t.Fatalf("expected target_role=government, got %v", b.TargetRole)
	}
}

func TestBroadcastService_Create_InvalidRequest(t *testing.T) {
	f := newBroadcastFixture()

	bad := validBroadcastReq
	bad.Title = ""
	if _, err := f.svc.Create(context.Background(), superAdmin, bad); err != domain.ErrInvalidTitle {
		t.Fatalf("expected ErrInvalidTitle, got %v", err)
	}
}

func TestBroadcastService_Send(t *testing.T) {
	f := newBroadcastFixture()
	ctx := context.Background()
	f.seedSessions(superAdmin.AdminID, domain.RoleSuperAdmin, 3)

	b, _ := f.svc.Create(ctx, superAdmin, validBroadcastReq)

	sent, err := f.svc.Send(ctx, superAdmin, b.ID)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if sent.Status != domain.BroadcastSending {
		t.Fatalf("expected status=sending, got %s", sent.Status)
	}
	if sent.TotalRecipients != 3 {
		t.Fatalf("expected 3 recipients, got %d", sent.TotalRecipients)
	}

	pending, _ := f.repo.PendingCount(ctx, b.ID)
	if pending != 3 {
		t.Fatalf("expected 3 pending deliveries, got %d", pending)
	}

	urgent, normal := f.q.Depths()
	if urgent+normal != 1 {
		t.Fatalf("expected one queued drain job, got urgent=%d normal=%d", urgent, normal)
	}
}

func TestBroadcastService_Send_EmptyAudienceLeavesStatus(t *testing.T) {
	f := newBroadcastFixture()
	ctx := context.Background()

	b, _ := f.svc.Create(ctx, superAdmin, validBroadcastReq)

	_, err := f.svc.Send(ctx, superAdmin, b.ID)
	if err != domain.ErrEmptyAudience {
		t.Fatalf("expected ErrEmptyAudience, got %v", err)
	}

	reloaded, _ := f.repo.GetByID(ctx, b.ID)
	if reloaded.Status != domain.BroadcastDraft {
		t.Fatalf("expected status unchanged (draft), got %s", reloaded.Status)
	}
}

func TestBroadcastService_Send_IllegalStates(t *testing.T) {
	ctx := context.Background()

	for _, status := range []domain.BroadcastStatus{
		domain.BroadcastSending, domain.BroadcastSent,
		domain.BroadcastFailed, domain.BroadcastCancelled,
	} {
		t.Run(string(status), func(t *testing.T) {
			f := newBroadcastFixture()
			f.seedSessions(superAdmin.AdminID, domain.RoleSuperAdmin, 1)

			b, _ := f.svc.Create(ctx, superAdmin, validBroadcastReq)
			_ = f.repo.SetStatus(ctx, b.ID, status)

			if _, err := f.svc.Send(ctx, superAdmin, b.ID); err != domain.ErrIllegalState {
				t.Fatalf("expected ErrIllegalState, got %v", err)
			}
		})
	}
}

func TestBroadcastService_Send_ResendCreatesNoDuplicateDeliveries(t *testing.T) {
	f := newBroadcastFixture()
	ctx := context.Background()
	f.seedSessions(superAdmin.AdminID, domain.RoleSuperAdmin, 2)

	b, _ := f.svc.Create(ctx, superAdmin, validBroadcastReq)
	if _, err := f.svc.Send(ctx, superAdmin, b.ID); err != nil {
		t.Fatalf("first send: %v", err)
	}

	// A stuck broadcast is re-driven through Retry, which must not mint
	// new delivery rows for recipients that already have one.
	if _, err := f.svc.Retry(ctx, superAdmin, b.ID); err != nil {
		t.Fatalf("retry: %v", err)
	}
	deliveries, _ := f.repo.ListDeliveries(ctx, b.ID)
	if len(deliveries) != 2 {
		t.Fatalf("expected 2 deliveries after retry, got %d", len(deliveries))
	}
}

func TestBroadcastService_Retry_ClearsCompletedAt(t *testing.T) {
	f := newBroadcastFixture()
	ctx := context.Background()
	f.seedSessions(superAdmin.AdminID, domain.RoleSuperAdmin, 1)

	b, _ := f.svc.Create(ctx, superAdmin, validBroadcastReq)
	if _, err := f.svc.Send(ctx, superAdmin, b.ID); err != nil {
		t.Fatalf("send: %v", err)
	}

	// Drain the single delivery so the broadcast finishes as sent.
	deliveries, _ := f.repo.ListDeliveries(ctx, b.ID)
	firstDone := f.clk.Now()
	if _, err := f.repo.FinalizeDelivery(ctx, deliveries[0].ID, b.ID, domain.DeliverySent, nil, 0, firstDone); err != nil {
		t.Fatalf("finalize: %v", err)
	}
	if _, done, _ := f.repo.CompleteIfDrained(ctx, b.ID, firstDone); !done {
		t.Fatal("expected broadcast to complete")
	}

	got, err := f.svc.Retry(ctx, superAdmin, b.ID)
	if err != nil {
		t.Fatalf("retry: %v", err)
	}
	if got.Status != domain.BroadcastSending {
		t.Fatalf("expected status sending, got %s", got.Status)
	}
	// completed_at belongs to terminal statuses only; a re-driven
	// broadcast must not carry the timestamp of its previous run.
	if got.CompletedAt != nil {
		t.Fatalf("expected completed_at cleared after retry, got %v", got.CompletedAt)
	}
	stored, _ := f.repo.GetByID(ctx, b.ID)
	if stored.CompletedAt != nil {
		t.Fatalf("expected stored completed_at cleared, got %v", stored.CompletedAt)
	}

	// The next drain stamps completed_at fresh, exactly once.
	f.clk.Advance(time.Minute)
	secondDone := f.clk.Now()
	if _, done, _ := f.repo.CompleteIfDrained(ctx, b.ID, secondDone); !done {
		t.Fatal("expected broadcast to complete again")
	}
	stored, _ = f.repo.GetByID(ctx, b.ID)
	if stored.CompletedAt == nil || !stored.CompletedAt.Equal(secondDone) {
		t.Fatalf("expected completed_at %v, got %v", secondDone, stored.CompletedAt)
	}
}

func TestBroadcastService_Update(t *testing.T) {
	f := newBroadcastFixture()
	ctx := context.Background()

	b, _ := f.svc.Create(ctx, superAdmin, validBroadcastReq)

	newTitle := "Обновлённый заголовок"
	updated, err := f.svc.Update(ctx, superAdmin, b.ID, domain.UpdateBroadcastRequest{Title: &newTitle})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if updated.Title != newTitle {
		t.Fatalf("expected title updated, got %q", updated.Title)
	}
}

func TestBroadcastService_Update_AfterSendRejected(t *testing.T) {
	f := newBroadcastFixture()
	ctx := context.Background()

	b, _ := f.svc.Create(ctx, superAdmin, validBroadcastReq)
	_ = f.repo.SetStatus(ctx, b.ID, domain.BroadcastSending)

	newTitle := "late edit"
	_, err := f.svc.Update(ctx, superAdmin, b.ID, domain.UpdateBroadcastRequest{Title: &newTitle})
	if err != domain.ErrIllegalState {
		t.Fatalf("expected ErrIllegalState, got %v", err)
	}
}

func TestBroadcastService_Update_PatchedResultValidated(t *testing.T) {
	f := newBroadcastFixture()
	ctx := context.Background()

	b, _ := f.svc.Create(ctx, superAdmin, validBroadcastReq)

	empty := ""
	_, err := f.svc.Update(ctx, superAdmin, b.ID, domain.UpdateBroadcastRequest{Body: &empty})
	if err != domain.ErrInvalidBody {
		t.Fatalf("expected ErrInvalidBody, got %v", err)
	}
}

func TestBroadcastService_Cancel(t *testing.T) {
	f := newBroadcastFixture()
	ctx := context.Background()
	f.seedSessions(superAdmin.AdminID, domain.RoleSuperAdmin, 1)

	b, _ := f.svc.Create(ctx, superAdmin, validBroadcastReq)
	_, _ = f.svc.Send(ctx, superAdmin, b.ID)

	if err := f.svc.Cancel(ctx, superAdmin, b.ID); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	reloaded, _ := f.repo.GetByID(ctx, b.ID)
	if reloaded.Status != domain.BroadcastCancelled {
		t.Fatalf("expected status=cancelled, got %s", reloaded.Status)
	}
	if reloaded.CompletedAt == nil {
		t.Fatal("expected completed_at to be stamped")
	}
}

func TestBroadcastService_Cancel_TerminalRejected(t *testing.T) {
	ctx := context.Background()

	for _, status := range []domain.BroadcastStatus{
		domain.BroadcastSent, domain.BroadcastFailed, domain.BroadcastCancelled,
	} {
		t.Run(string(status), func(t *testing.T) {
			f := newBroadcastFixture()
			b, _ := f.svc.Create(ctx, superAdmin, validBroadcastReq)
			_ = f.repo.SetStatus(ctx, b.ID, status)

			if err := f.svc.Cancel(ctx, superAdmin, b.ID); err != domain.ErrIllegalState {
				t.Fatalf("expected ErrIllegalState, got %v", err)
			}
		})
	}
}

func TestBroadcastService_Delete_States(t *testing.T) {
	ctx := context.Background()

	tests := []struct {
		status  domain.BroadcastStatus
		wantErr error
	}{
		{domain.BroadcastDraft, nil},
		{domain.BroadcastScheduled, nil},
		{domain.BroadcastCancelled, nil},
		{domain.BroadcastSending, domain.ErrIllegalState},
		{domain.BroadcastSent, domain.ErrIllegalState},
		{domain.BroadcastFailed, domain.ErrIllegalState},
	}

	for _, tc := range tests {
		t.Run(string(tc.status), func(t *testing.T) {
			f := newBroadcastFixture()
			b, _ := f.svc.Create(ctx, superAdmin, validBroadcastReq)
			_ = f.repo.SetStatus(ctx, b.ID, tc.status)

			if err := f.svc.Delete(ctx, superAdmin, b.ID); err != tc.wantErr {
				t.Fatalf("expected %v, got %v", tc.wantErr, err)
			}
		})
	}
}

func TestBroadcastService_OwnershipScoping(t *testing.T) {
	f := newBroadcastFixture()
	ctx := context.Background()

	own, _ := f.svc.Create(ctx, npoAdmin, validBroadcastReq)
	foreign, _ := f.svc.Create(ctx, superAdmin, validBroadcastReq)

	t.Run("non-privileged reads own", func(t *testing.T) {
		if _, err := f.svc.GetByID(ctx, npoAdmin, own.ID); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
	})

	t.Run("non-privileged denied foreign", func(t *testing.T) {
		if _, err := f.svc.GetByID(ctx, npoAdmin, foreign.ID); err != domain.ErrAccessDenied {
			t.Fatalf("expected ErrAccessDenied, got %v", err)
		}
	})

	t.Run("privileged reads everything", func(t *testing.T) {
		if _, err := f.svc.GetByID(ctx, superAdmin, own.ID); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
	})

	t.Run("list is scoped for non-privileged", func(t *testing.T) {
		list, total, err := f.svc.List(ctx, npoAdmin, domain.BroadcastListFilter{})
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if total != 1 || len(list) != 1 || list[0].ID != own.ID {
			t.Fatalf("expected only own broadcast, got %d items", len(list))
		}
	})

	t.Run("list is unscoped for privileged", func(t *testing.T) {
		_, total, err := f.svc.List(ctx, superAdmin, domain.BroadcastListFilter{})
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if total != 2 {
			t.Fatalf("expected 2 broadcasts, got %d", total)
		}
	})
}

func TestBroadcastService_Stats(t *testing.T) {
	f := newBroadcastFixture()
	ctx := context.Background()
	f.seedSessions(superAdmin.AdminID, domain.RoleSuperAdmin, 4)

	b, _ := f.svc.Create(ctx, superAdmin, validBroadcastReq)
	_, _ = f.svc.Send(ctx, superAdmin, b.ID)

	stats, err := f.svc.Stats(ctx, superAdmin, b.ID)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if stats.PendingCount != 4 {
		t.Fatalf("expected 4 pending, got %d", stats.PendingCount)
	}
	if stats.SuccessRate != 0 {
		t.Fatalf("expected success rate 0 before deliveries, got %f", stats.SuccessRate)
	}
}

func TestBroadcastService_CreateAndSendSystem(t *testing.T) {
	f := newBroadcastFixture()
	ctx := context.Background()
	f.seedSessions(2, domain.RoleAdministrator, 2)

	n, err := f.svc.CreateAndSendSystem(ctx, "[Модерация] Новые материалы", "5 новых")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if n != 2 {
		t.Fatalf("expected 2 recipients, got %d", n)
	}

	// System broadcasts jump the normal tier.
	urgent, normal := f.q.Depths()
	if urgent != 1 || normal != 0 {
		t.Fatalf("expected one urgent job, got urgent=%d normal=%d", urgent, normal)
	}

	list, _, _ := f.svc.List(ctx, superAdmin, domain.BroadcastListFilter{})
	if len(list) != 1 || list[0].CreatedBy != domain.SystemAdminID {
		t.Fatal("expected a system-owned broadcast")
	}
}

func TestBroadcastService_SendDue(t *testing.T) {
	f := newBroadcastFixture()
	ctx := context.Background()
	f.seedSessions(superAdmin.AdminID, domain.RoleSuperAdmin, 1)

	at := f.clk.Now().Add(-time.Minute)
	req := validBroadcastReq
	req.ScheduledAt = &at
	b, _ := f.svc.Create(ctx, superAdmin, req)

	due, _ := f.repo.FindDueScheduled(ctx, f.clk.Now())
	if len(due) != 1 {
		t.Fatalf("expected 1 due broadcast, got %d", len(due))
	}
	if err := f.svc.SendDue(ctx, due[0]); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	reloaded, _ := f.repo.GetByID(ctx, b.ID)
	if reloaded.Status != domain.BroadcastSending {
		t.Fatalf("expected status=sending, got %s", reloaded.Status)
	}
}
