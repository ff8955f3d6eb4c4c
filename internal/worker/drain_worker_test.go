package worker_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/Meirlen/Tabys-sub000/internal/clock"
	"github.com/Meirlen/Tabys-sub000/internal/domain"
	"github.com/Meirlen/Tabys-sub000/internal/queue"
	"github.com/Meirlen/Tabys-sub000/internal/ratelimiter"
	"github.com/Meirlen/Tabys-sub000/internal/repository"
	"github.com/Meirlen/Tabys-sub000/internal/telegram"
	"github.com/Meirlen/Tabys-sub000/internal/worker"
)

// fakeTelegram scripts per-recipient outcomes. A recipient not present in
// errs always succeeds. Scripted errors are consumed in order, so a
// recipient can fail twice and then succeed.
type fakeTelegram struct {
	mu    sync.Mutex
	errs  map[string][]error
	sent  []telegram.Message
	calls map[string]int
}

func newFakeTelegram() *fakeTelegram {
	return &fakeTelegram{
		errs:  make(map[string][]error),
		calls: make(map[string]int),
	}
}

func (f *fakeTelegram) fail(recipient string, errs ...error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.errs[recipient] = append(f.errs[recipient], errs...)
}

func (f *fakeTelegram) Send(_ context.Context, recipient string, msg telegram.Message) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls[recipient]++
	if queued := f.errs[recipient]; len(queued) > 0 {
		err := queued[0]
		f.errs[recipient] = queued[1:]
		return err
	}
	f.sent = append(f.sent, msg)
	return nil
}

func (f *fakeTelegram) sentCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.sent)
}

type drainFixture struct {
	repo *repository.MockBroadcastRepository
	q    *queue.DrainQueue
	tg   *fakeTelegram
	w    *worker.DrainWorker
}

func newDrainFixture(marker string) *drainFixture {
	repo := repository.NewMockBroadcastRepository()
	q := queue.New()
	tg := newFakeTelegram()
	clk := clock.NewFake(time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC))

	w := worker.NewDrainWorker(
		0, q, repo, tg, ratelimiter.New(1000), clk,
		worker.DrainConfig{
			BatchSize:         2,
			VisibilityTimeout: time.Minute,
			MaxRetries:        2,
			Backoff:           []time.Duration{time.Millisecond, time.Millisecond},
			ModerationMarker:  marker,
			ModerationURL:     "https://admin.example.kz/moderation",
		},
		zap.NewNop(),
		worker.MetricHooks{},
	)
	return &drainFixture{repo: repo, q: q, tg: tg, w: w}
}

// seedSending inserts a broadcast in status sending with one pending
// delivery per recipient.
func (f *drainFixture) seedSending(t *testing.T, title string, recipients []string) *domain.Broadcast {
	t.Helper()
	ctx := context.Background()
	now := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

	b := &domain.Broadcast{
		ID:     "b-1",
		Title:  title,
		Body:   "текст рассылки",
		Target: domain.TargetAllBotUsers,
		Status: domain.BroadcastDraft,
	}
	if err := f.repo.Create(ctx, b); err != nil {
		t.Fatalf("create: %v", err)
	}
	if _, err := f.repo.BulkInsertDeliveries(ctx, b.ID, recipients, now); err != nil {
		t.Fatalf("insert deliveries: %v", err)
	}
	if err := f.repo.MarkSending(ctx, b.ID, len(recipients), now); err != nil {
		t.Fatalf("mark sending: %v", err)
	}
	return b
}

// runUntil starts the worker, enqueues one drain job, and polls cond until
// it holds or the deadline passes.
func (f *drainFixture) runUntil(t *testing.T, broadcastID string, cond func() bool) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	done := make(chan struct{})
	go func() {
		f.w.Run(ctx)
		close(done)
	}()

	if err := f.q.Enqueue(queue.Job{BroadcastID: broadcastID}); err != nil {
		t.Fatalf("enqueue: %v", err)
	}

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			cancel()
			<-done
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	cancel()
	<-done
	t.Fatal("condition not reached before deadline")
}

func (f *drainFixture) status(t *testing.T, id string) domain.BroadcastStatus {
	t.Helper()
	b, err := f.repo.GetByID(context.Background(), id)
	if err != nil {
		t.Fatalf("get broadcast: %v", err)
	}
	return b.Status
}

func TestDrainWorker_DrainsToSent(t *testing.T) {
	f := newDrainFixture("")
	b := f.seedSending(t, "Новости", []string{"100", "200", "300"})

	f.runUntil(t, b.ID, func() bool {
		return f.status(t, b.ID) == domain.BroadcastSent
	})

	if f.tg.sentCount() != 3 {
		t.Fatalf("expected 3 sends, got %d", f.tg.sentCount())
	}
	reloaded, _ := f.repo.GetByID(context.Background(), b.ID)
	if reloaded.SentCount != 3 || reloaded.FailedCount != 0 {
		t.Fatalf("unexpected counters: sent=%d failed=%d", reloaded.SentCount, reloaded.FailedCount)
	}
	if reloaded.CompletedAt == nil {
		t.Fatal("expected completed_at stamped")
	}
}

func TestDrainWorker_PermanentFailureCountsFailed(t *testing.T) {
	f := newDrainFixture("")
	b := f.seedSending(t, "Новости", []string{"100", "200", "300"})
	f.tg.fail("200", &telegram.SendError{Kind: telegram.KindBlocked, StatusCode: 403, Description: "bot was blocked by the user"})

	f.runUntil(t, b.ID, func() bool {
		return f.status(t, b.ID) == domain.BroadcastSent
	})

	reloaded, _ := f.repo.GetByID(context.Background(), b.ID)
	if reloaded.SentCount != 2 || reloaded.FailedCount != 1 {
		t.Fatalf("unexpected counters: sent=%d failed=%d", reloaded.SentCount, reloaded.FailedCount)
	}

	deliveries, _ := f.repo.ListDeliveries(context.Background(), b.ID)
	for _, d := range deliveries {
		if d.Recipient == "200" {
			if d.Status != domain.DeliveryFailed {
				t.Fatalf("expected delivery failed, got %s", d.Status)
			}
			if d.ErrorMessage == nil || *d.ErrorMessage == "" {
				t.Fatal("expected error message recorded")
			}
		}
	}
}

func TestDrainWorker_AllFailedEndsFailed(t *testing.T) {
	f := newDrainFixture("")
	b := f.seedSending(t, "Новости", []string{"100", "200"})
	blocked := &telegram.SendError{Kind: telegram.KindBlocked, StatusCode: 403, Description: "blocked"}
	f.tg.fail("100", blocked)
	f.tg.fail("200", blocked)

	f.runUntil(t, b.ID, func() bool {
		return f.status(t, b.ID) == domain.BroadcastFailed
	})

	reloaded, _ := f.repo.GetByID(context.Background(), b.ID)
	if reloaded.FailedCount != 2 {
		t.Fatalf("expected failed_count=2, got %d", reloaded.FailedCount)
	}
}

func TestDrainWorker_TransientRetriedInPlace(t *testing.T) {
	f := newDrainFixture("")
	b := f.seedSending(t, "Новости", []string{"100"})
	rateLimited := &telegram.SendError{Kind: telegram.KindRateLimit, StatusCode: 429, Description: "too many requests"}
	f.tg.fail("100", rateLimited, rateLimited)

	f.runUntil(t, b.ID, func() bool {
		return f.status(t, b.ID) == domain.BroadcastSent
	})

	if f.tg.calls["100"] != 3 {
		t.Fatalf("expected 3 attempts (2 retries), got %d", f.tg.calls["100"])
	}
	deliveries, _ := f.repo.ListDeliveries(context.Background(), b.ID)
	if deliveries[0].RetryCount != 2 {
		t.Fatalf("expected retry_count=2, got %d", deliveries[0].RetryCount)
	}
}

func TestDrainWorker_TransientRetriesExhausted(t *testing.T) {
	f := newDrainFixture("")
	b := f.seedSending(t, "Новости", []string{"100"})
	server := &telegram.SendError{Kind: telegram.KindServer, StatusCode: 502, Description: "bad gateway"}
	// MaxRetries=2 allows three attempts total.
	f.tg.fail("100", server, server, server)

	f.runUntil(t, b.ID, func() bool {
		return f.status(t, b.ID) == domain.BroadcastFailed
	})

	deliveries, _ := f.repo.ListDeliveries(context.Background(), b.ID)
	if deliveries[0].Status != domain.DeliveryFailed {
		t.Fatalf("expected delivery failed, got %s", deliveries[0].Status)
	}
}

func TestDrainWorker_CancelledBroadcastLeavesPending(t *testing.T) {
	f := newDrainFixture("")
	b := f.seedSending(t, "Новости", []string{"100", "200"})
	if err := f.repo.MarkCancelled(context.Background(), b.ID, time.Now()); err != nil {
		t.Fatalf("cancel: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		f.w.Run(ctx)
		close(done)
	}()
	_ = f.q.Enqueue(queue.Job{BroadcastID: b.ID})

	time.Sleep(50 * time.Millisecond)
	cancel()
	<-done

	if f.tg.sentCount() != 0 {
		t.Fatalf("expected no sends on a cancelled broadcast, got %d", f.tg.sentCount())
	}
	pending, _ := f.repo.PendingCount(context.Background(), b.ID)
	if pending != 2 {
		t.Fatalf("expected deliveries left pending, got %d pending", pending)
	}
	if f.status(t, b.ID) != domain.BroadcastCancelled {
		t.Fatal("expected status to stay cancelled")
	}
}

func TestDrainWorker_ModerationTitleGetsURLButton(t *testing.T) {
	f := newDrainFixture("[Модерация]")
	b := f.seedSending(t, "[Модерация] Новые материалы на модерации", []string{"100"})

	f.runUntil(t, b.ID, func() bool {
		return f.status(t, b.ID) == domain.BroadcastSent
	})

	f.tg.mu.Lock()
	defer f.tg.mu.Unlock()
	if len(f.tg.sent) != 1 {
		t.Fatalf("expected 1 send, got %d", len(f.tg.sent))
	}
	btn := f.tg.sent[0].Button
	if btn == nil || btn.URL != "https://admin.example.kz/moderation" {
		t.Fatalf("expected moderation URL button, got %+v", btn)
	}
}

func TestDrainWorker_RegularTitleUsesDefaultButton(t *testing.T) {
	f := newDrainFixture("[Модерация]")
	b := f.seedSending(t, "Обычная рассылка", []string{"100"})

	f.runUntil(t, b.ID, func() bool {
		return f.status(t, b.ID) == domain.BroadcastSent
	})

	f.tg.mu.Lock()
	defer f.tg.mu.Unlock()
	if f.tg.sent[0].Button != nil {
		t.Fatalf("expected nil button (client attaches default), got %+v", f.tg.sent[0].Button)
	}
}
