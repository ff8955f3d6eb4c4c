package worker

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/Meirlen/Tabys-sub000/internal/clock"
	"github.com/Meirlen/Tabys-sub000/internal/domain"
	"github.com/Meirlen/Tabys-sub000/internal/email"
	"github.com/Meirlen/Tabys-sub000/internal/repository"
	"github.com/Meirlen/Tabys-sub000/internal/service"
)

// emailAlertRoles receive the moderation email batch.
var emailAlertRoles = []domain.Role{domain.RoleAdministrator, domain.RoleSuperAdmin}

// WatcherConfig groups the moderation watcher tunables.
type WatcherConfig struct {
	Interval    time.Duration
	URL         string
	TitleMarker string
}

// WatcherHooks carries the metric callbacks injected by main.
type WatcherHooks struct {
	OnTick     func()
	OnNotified func(pendingCount int)
	OnEmails   func(sent, failed int)
}

func (h *WatcherHooks) fillDefaults() {
	if h.OnTick == nil {
		h.OnTick = func() {}
	}
	if h.OnNotified == nil {
		h.OnNotified = func(int) {}
	}
	if h.OnEmails == nil {
		h.OnEmails = func(int, int) {}
	}
}

// ModerationWatcher is the periodic control loop that detects newly arrived
// pending moderation items and converts positive deltas into a system
// broadcast plus a bulk email. The persisted singleton watermark makes it
// idempotent across restarts: the same threshold never notifies twice.
//
// The watcher runs its ticks in a single goroutine, so ticks never overlap;
// a tick whose work outlives the interval simply delays the next one.
type ModerationWatcher struct {
	moderation repository.ModerationRepository
	auth       repository.AuthRepository
	broadcasts *service.BroadcastService
	mail       email.Client
	cfg        WatcherConfig
	clk        clock.Clock
	logger     *zap.Logger
	hooks      WatcherHooks

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

func NewModerationWatcher(
	moderation repository.ModerationRepository,
	auth repository.AuthRepository,
	broadcasts *service.BroadcastService,
	mail email.Client,
	cfg WatcherConfig,
	clk clock.Clock,
	logger *zap.Logger,
	hooks WatcherHooks,
) *ModerationWatcher {
	hooks.fillDefaults()
	return &ModerationWatcher{
		moderation: moderation,
		auth:       auth,
		broadcasts: broadcasts,
		mail:       mail,
		cfg:        cfg,
		clk:        clk,
		logger:     logger,
		hooks:      hooks,
	}
}

// Start ensures the singleton state row exists and launches the tick loop.
// Calling Start on a running watcher is a no-op.
func (w *ModerationWatcher) Start(ctx context.Context) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.cancel != nil {
		return nil
	}

	if err := w.moderation.EnsureState(ctx); err != nil {
		return fmt.Errorf("ensure moderation state: %w", err)
	}

	runCtx, cancel := context.WithCancel(ctx)
	w.cancel = cancel
	w.done = make(chan struct{})

	go w.run(runCtx)
	w.logger.Info("moderation watcher started", zap.Duration("interval", w.cfg.Interval))
	return nil
}

// Stop cancels the loop and waits for the in-flight tick to finish.
// Safe to call on a stopped watcher.
func (w *ModerationWatcher) Stop() {
	w.mu.Lock()
	cancel, done := w.cancel, w.done
	w.cancel, w.done = nil, nil
	w.mu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	<-done
	w.logger.Info("moderation watcher stopped")
}

func (w *ModerationWatcher) run(ctx context.Context) {
	defer close(w.done)

	ticker := time.NewTicker(w.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			w.Tick(ctx)
		}
	}
}

// Tick performs one watcher pass. Exported so tests can drive the loop
// deterministically without the ticker.
func (w *ModerationWatcher) Tick(ctx context.Context) {
	w.hooks.OnTick()

	current := w.sumPending(ctx)

	state, err := w.moderation.GetState(ctx)
	if err != nil {
		w.logger.Error("failed to load moderation state", zap.Error(err))
		return
	}

	// Notify only on a positive delta. A decrease (moderators clearing
	// items) is observed silently and never lowers the stored threshold,
	// which avoids oscillation.
	if current == 0 || current <= state.LastPendingCount {
		return
	}

	broadcastOK, emailOK := w.notify(ctx, current)
	if !broadcastOK && !emailOK {
		// Both channels failed; leave the watermark so the next tick retries.
		w.logger.Warn("moderation alert failed on all channels",
			zap.Int("pending_count", current))
		return
	}

	if err := w.moderation.UpdateState(ctx, current, w.clk.Now()); err != nil {
		w.logger.Error("failed to persist moderation state", zap.Error(err))
		return
	}
	w.hooks.OnNotified(current)
	w.logger.Info("moderation alert dispatched",
		zap.Int("pending_count", current),
		zap.Bool("broadcast_ok", broadcastOK),
		zap.Bool("email_ok", emailOK),
	)
}

// sumPending totals pending counts across the business entities. A
// per-entity failure is logged and contributes zero; it never stops the loop.
func (w *ModerationWatcher) sumPending(ctx context.Context) int {
	total := 0
	for _, entity := range domain.ModerationEntities {
		n, err := w.moderation.CountPending(ctx, entity)
		if err != nil {
			w.logger.Warn("pending count failed",
				zap.String("entity", string(entity)), zap.Error(err))
			continue
		}
		total += n
	}
	return total
}

// notify dispatches the broadcast and the email batch in parallel and
// reports per-channel success. Success means at least one recipient was
// reached on that channel.
func (w *ModerationWatcher) notify(ctx context.Context, count int) (broadcastOK, emailOK bool) {
	title := w.cfg.TitleMarker + " Новые материалы на модерации"
	body := fmt.Sprintf("На модерацию поступили новые материалы.\nОжидают проверки: <b>%d</b>", count)

	var wg sync.WaitGroup
	wg.Add(2)

	go func() {
		defer wg.Done()
		recipients, err := w.broadcasts.CreateAndSendSystem(ctx, title, body)
		if err != nil {
			w.logger.Warn("moderation broadcast failed", zap.Error(err))
			return
		}
		broadcastOK = recipients > 0
	}()

	go func() {
		defer wg.Done()
		recipients, err := w.auth.AdminEmails(ctx, emailAlertRoles)
		if err != nil {
			w.logger.Warn("admin email lookup failed", zap.Error(err))
			return
		}
		if len(recipients) == 0 {
			return
		}
		result, err := w.mail.SendBatch(ctx, recipients,
			"Новые материалы на модерации",
			w.emailBody(count), "")
		if err != nil {
			w.logger.Warn("moderation email batch failed", zap.Error(err))
			return
		}
		w.hooks.OnEmails(result.Sent, result.Failed)
		emailOK = result.Sent > 0
	}()

	wg.Wait()
	return broadcastOK, emailOK
}

func (w *ModerationWatcher) emailBody(count int) string {
	return fmt.Sprintf(
		`<p>На модерацию поступили новые материалы.</p>
<p>Ожидают проверки: <b>%d</b></p>
<p><a href="%s">Перейти к модерации</a></p>`,
		count, w.cfg.URL)
}
