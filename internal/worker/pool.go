package worker

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/Meirlen/Tabys-sub000/internal/clock"
	"github.com/Meirlen/Tabys-sub000/internal/config"
	"github.com/Meirlen/Tabys-sub000/internal/domain"
	"github.com/Meirlen/Tabys-sub000/internal/queue"
	"github.com/Meirlen/Tabys-sub000/internal/ratelimiter"
	"github.com/Meirlen/Tabys-sub000/internal/repository"
	"github.com/Meirlen/Tabys-sub000/internal/telegram"
)

// MetricHooks carries the metric callback functions injected by main.
// Using a struct keeps the pool constructor signature clean; nil hooks
// are replaced with no-ops.
type MetricHooks struct {
	OnDeliverySent      func(latency time.Duration)
	OnDeliveryFailed    func()
	OnBroadcastComplete func(status domain.BroadcastStatus)
}

func (h *MetricHooks) fillDefaults() {
	if h.OnDeliverySent == nil {
		h.OnDeliverySent = func(time.Duration) {}
	}
	if h.OnDeliveryFailed == nil {
		h.OnDeliveryFailed = func() {}
	}
	if h.OnBroadcastComplete == nil {
		h.OnBroadcastComplete = func(domain.BroadcastStatus) {}
	}
}

// Pool manages the lifecycle of the drain workers. All workers share one
// submission queue and one fabric-wide rate limiter.
type Pool struct {
	workers []*DrainWorker
	wg      sync.WaitGroup
}

// NewPool creates cfg.DrainWorkers identical drain workers.
func NewPool(
	cfg *config.Config,
	q *queue.DrainQueue,
	repo repository.BroadcastRepository,
	tg telegram.Client,
	limiter *ratelimiter.Limiter,
	clk clock.Clock,
	logger *zap.Logger,
	hooks MetricHooks,
) *Pool {
	hooks.fillDefaults()

	workers := make([]*DrainWorker, cfg.DrainWorkers)
	for i := range workers {
		workers[i] = NewDrainWorker(
			i, q, repo, tg, limiter, clk,
			DrainConfig{
				BatchSize:         cfg.ClaimBatchSize,
				VisibilityTimeout: cfg.VisibilityTimeout,
				MaxRetries:        cfg.MaxSendRetries,
				Backoff:           cfg.RetryBackoff,
				ModerationMarker:  cfg.ModerationTitleMarker,
				ModerationURL:     cfg.ModerationURL,
			},
			logger.With(zap.Int("worker_id", i)),
			hooks,
		)
	}
	return &Pool{workers: workers}
}

// Start launches all workers as goroutines. Cancelling ctx triggers a
// graceful shutdown: each worker finishes its current claim and exits,
// leaving any remaining pending deliveries for the next process instance.
func (p *Pool) Start(ctx context.Context) {
	for _, w := range p.workers {
		p.wg.Add(1)
		go func(w *DrainWorker) {
			defer p.wg.Done()
			w.Run(ctx)
		}(w)
	}
}

// Wait blocks until every worker has returned after ctx is cancelled.
func (p *Pool) Wait() {
	p.wg.Wait()
}
