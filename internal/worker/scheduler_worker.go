package worker

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/Meirlen/Tabys-sub000/internal/clock"
	"github.com/Meirlen/Tabys-sub000/internal/domain"
	"github.com/Meirlen/Tabys-sub000/internal/repository"
	"github.com/Meirlen/Tabys-sub000/internal/service"
)

// SchedulerWorker polls the database for broadcasts whose scheduled_at has
// passed and routes them through the regular send path.
//
// This DB-backed approach means scheduled sends survive server restarts:
// the schedule is persisted, not held in memory.
type SchedulerWorker struct {
	repo     repository.BroadcastRepository
	svc      *service.BroadcastService
	interval time.Duration
	clk      clock.Clock
	logger   *zap.Logger
}

func NewSchedulerWorker(
	repo repository.BroadcastRepository,
	svc *service.BroadcastService,
	interval time.Duration,
	clk clock.Clock,
	logger *zap.Logger,
) *SchedulerWorker {
	return &SchedulerWorker{repo: repo, svc: svc, interval: interval, clk: clk, logger: logger}
}

// Run ticks every interval and dispatches any broadcasts that are now due.
// Stops cleanly when ctx is cancelled.
func (sw *SchedulerWorker) Run(ctx context.Context) {
	ticker := time.NewTicker(sw.interval)
	defer ticker.Stop()

	sw.logger.Info("scheduler worker started", zap.Duration("interval", sw.interval))

	for {
		select {
		case <-ctx.Done():
			sw.logger.Info("scheduler worker stopping")
			return
		case <-ticker.C:
			sw.poll(ctx)
		}
	}
}

func (sw *SchedulerWorker) poll(ctx context.Context) {
	broadcasts, err := sw.repo.FindDueScheduled(ctx, sw.clk.Now())
	if err != nil {
		sw.logger.Error("scheduler poll error", zap.Error(err))
		return
	}

	for _, b := range broadcasts {
		if err := sw.svc.SendDue(ctx, b); err != nil {
			// An empty audience keeps the broadcast scheduled; it will be
			// retried next tick until the audience exists or it is deleted.
			if errors.Is(err, domain.ErrEmptyAudience) {
				sw.logger.Warn("scheduled broadcast has empty audience",
					zap.String("id", b.ID))
				continue
			}
			sw.logger.Error("failed to dispatch scheduled broadcast",
				zap.String("id", b.ID), zap.Error(err))
		}
	}

	if len(broadcasts) > 0 {
		sw.logger.Info("dispatched due scheduled broadcasts", zap.Int("count", len(broadcasts)))
	}
}
