package worker_test

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
	"github.com/Meirlen/Tabys-sub000/internal/worker"
)

func TestSchedulerWorker_DispatchesDueBroadcasts(t *testing.T) {
	repo := repository.NewMockBroadcastRepository()
	auth := repository.NewMockAuthRepository()
	q := queue.New()
	clk := clock.NewFake(time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC))
	svc := service.NewBroadcastService(repo, audience.NewResolver(auth), q, clk, zap.NewNop())

	auth.AddAdmin(domain.Admin{ID: 1, Role: domain.RoleSuperAdmin})
	auth.AddSession(domain.BotSession{ExternalUserID: 10, AdminID: 1, IsActive: true})

	due := clk.Now().Add(-time.Minute)
	future := clk.Now().Add(time.Hour)
	actor := domain.Actor{AdminID: 1, Role: domain.RoleSuperAdmin}

	dueB, err := svc.Create(context.Background(), actor, domain.CreateBroadcastRequest{
		Title: "due", Body: "due body", Target: domain.TargetAllBotUsers, ScheduledAt: &due,
	})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	futureB, err := svc.Create(context.Background(), actor, domain.CreateBroadcastRequest{
		Title: "future", Body: "future body", Target: domain.TargetAllBotUsers, ScheduledAt: &future,
	})
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	sw := worker.NewSchedulerWorker(repo, svc, 5*time.Millisecond, clk, zap.NewNop())
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		sw.Run(ctx)
		close(done)
	}()

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		b, _ := repo.GetByID(context.Background(), dueB.ID)
		if b.Status == domain.BroadcastSending {
			break
		}
		time.Sleep(5 * time.Millisecond)
	}
	cancel()
	<-done

	b, _ := repo.GetByID(context.Background(), dueB.ID)
	if b.Status != domain.BroadcastSending {
		t.Fatalf("expected due broadcast sending, got %s", b.Status)
	}
	f, _ := repo.GetByID(context.Background(), futureB.ID)
	if f.Status != domain.BroadcastScheduled {
		t.Fatalf("expected future broadcast untouched, got %s", f.Status)
	}
}
