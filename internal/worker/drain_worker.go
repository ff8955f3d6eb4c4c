package worker

import (
	"context"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/Meirlen/Tabys-sub000/internal/clock"
	"github.com/Meirlen/Tabys-sub000/internal/domain"
	"github.com/Meirlen/Tabys-sub000/internal/queue"
	"github.com/Meirlen/Tabys-sub000/internal/ratelimiter"
	"github.com/Meirlen/Tabys-sub000/internal/repository"
	"github.com/Meirlen/Tabys-sub000/internal/telegram"
)

// maxErrorLength bounds the error text recorded on a failed delivery.
const maxErrorLength = 500

// moderationButtonLabel is the URL action attached to moderation alerts.
const moderationButtonLabel = "Перейти к модерации"

// DrainConfig groups the tunables of one drain worker.
type DrainConfig struct {
	BatchSize         int
	VisibilityTimeout time.Duration
	MaxRetries        int
	Backoff           []time.Duration
	ModerationMarker  string
	ModerationURL     string
}

// DrainWorker is a single goroutine that pulls drain jobs from the queue
// and pushes one broadcast's pending deliveries to terminal states: claim a
// small batch, send each message through the rate limiter, finalize, repeat
// until no pending deliveries remain or the broadcast is cancelled.
type DrainWorker struct {
	id      int
	q       *queue.DrainQueue
	repo    repository.BroadcastRepository
	tg      telegram.Client
	limiter *ratelimiter.Limiter
	clk     clock.Clock
	cfg     DrainConfig
	logger  *zap.Logger
	hooks   MetricHooks
}

func NewDrainWorker(
	id int,
	q *queue.DrainQueue,
	repo repository.BroadcastRepository,
	tg telegram.Client,
	limiter *ratelimiter.Limiter,
	clk clock.Clock,
	cfg DrainConfig,
	logger *zap.Logger,
	hooks MetricHooks,
) *DrainWorker {
	hooks.fillDefaults()
	return &DrainWorker{
		id: id, q: q, repo: repo, tg: tg, limiter: limiter,
		clk: clk, cfg: cfg, logger: logger, hooks: hooks,
	}
}

// Run blocks until ctx is cancelled, draining one broadcast per job.
func (w *DrainWorker) Run(ctx context.Context) {
	w.logger.Info("drain worker started")
	for {
		job, ok := w.q.Dequeue(ctx)
		if !ok {
			w.logger.Info("drain worker stopping")
			return
		}
		w.drain(ctx, job.BroadcastID)
	}
}

// drain loops claim → send → finalize for one broadcast. The broadcast
// status is re-read before every claim so a cancellation is observed within
// one claim interval. When the claim comes back empty the worker attempts
// the at-most-once terminal transition.
func (w *DrainWorker) drain(ctx context.Context, broadcastID string) {
	log := w.logger.With(zap.String("broadcast_id", broadcastID))

	for {
		if ctx.Err() != nil {
			return
		}

		var b *domain.Broadcast
		err := repository.WithRetry(ctx, repository.DefaultStoreRetries, func() error {
			var e error
			b, e = w.repo.GetByID(ctx, broadcastID)
			return e
		})
		if err != nil {
			log.Error("failed to load broadcast", zap.Error(err))
			return
		}

		if b.Status == domain.BroadcastCancelled {
			// Remaining deliveries stay pending and are reported as such.
			log.Info("broadcast cancelled, stopping drain")
			return
		}
		if b.Status != domain.BroadcastSending {
			log.Debug("broadcast no longer sending", zap.String("status", string(b.Status)))
			return
		}

		var batch []*domain.Delivery
		err = repository.WithRetry(ctx, repository.DefaultStoreRetries, func() error {
			var e error
			batch, e = w.repo.ClaimPending(ctx, broadcastID, w.cfg.BatchSize, w.clk.Now(), w.cfg.VisibilityTimeout)
			return e
		})
		if err != nil {
			log.Error("failed to claim deliveries", zap.Error(err))
			return
		}

		if len(batch) == 0 {
			// Claimed-but-unfinalized rows held by another worker still count
			// as pending, so the conditional transition fires only for the
			// last finalizing worker.
			status, done, err := w.repo.CompleteIfDrained(ctx, broadcastID, w.clk.Now())
			if err != nil {
				log.Error("failed to complete broadcast", zap.Error(err))
				return
			}
			if done {
				w.hooks.OnBroadcastComplete(status)
				log.Info("broadcast drained", zap.String("status", string(status)))
			}
			return
		}

		msg := w.buildMessage(b)
		for _, d := range batch {
			if ctx.Err() != nil {
				return
			}
			w.deliver(ctx, d, msg, log)
		}
	}
}

// buildMessage assembles the outbound payload once per broadcast. A title
// matching the reserved moderation marker swaps the default mark-as-read
// callback for a URL action button.
func (w *DrainWorker) buildMessage(b *domain.Broadcast) telegram.Message {
	msg := telegram.Message{
		BroadcastID: b.ID,
		Text:        b.Body,
	}
	if w.cfg.ModerationMarker != "" && strings.Contains(b.Title, w.cfg.ModerationMarker) {
		msg.Button = &telegram.Button{
			Label: moderationButtonLabel,
			URL:   w.cfg.ModerationURL,
		}
	}
	return msg
}

// deliver sends one message, retrying transient failures in place with
// exponential backoff, then finalizes the delivery exactly once.
func (w *DrainWorker) deliver(ctx context.Context, d *domain.Delivery, msg telegram.Message, log *zap.Logger) {
	start := time.Now()
	retries := 0

	for {
		if err := w.limiter.Wait(ctx); err != nil {
			// ctx cancelled while waiting; worker is shutting down.
			// The claim expires and the delivery is re-claimable.
			return
		}

		err := w.tg.Send(ctx, d.Recipient, msg)
		if err == nil {
			w.finalize(ctx, d, domain.DeliverySent, nil, retries, log)
			w.hooks.OnDeliverySent(time.Since(start))
			return
		}

		se, typed := telegram.AsSendError(err)
		if typed && se.Transient() && retries < w.cfg.MaxRetries {
			log.Debug("transient send failure, retrying",
				zap.String("delivery_id", d.ID),
				zap.Int("retry", retries),
				zap.Error(err),
			)
			if !w.sleep(ctx, w.backoff(retries)) {
				return
			}
			retries++
			continue
		}

		// Permanent class, or transient retries exhausted.
		errMsg := truncate(err.Error(), maxErrorLength)
		w.finalize(ctx, d, domain.DeliveryFailed, &errMsg, retries, log)
		w.hooks.OnDeliveryFailed()
		log.Warn("delivery failed",
			zap.String("delivery_id", d.ID),
			zap.String("recipient", d.Recipient),
			zap.Int("retries", retries),
			zap.Error(err),
		)
		return
	}
}

func (w *DrainWorker) finalize(ctx context.Context, d *domain.Delivery, status domain.DeliveryStatus, errMsg *string, retries int, log *zap.Logger) {
	err := repository.WithRetry(ctx, repository.DefaultStoreRetries, func() error {
		applied, e := w.repo.FinalizeDelivery(ctx, d.ID, d.BroadcastID, status, errMsg, retries, w.clk.Now())
		if e == nil && !applied {
			log.Debug("delivery already finalized elsewhere", zap.String("delivery_id", d.ID))
		}
		return e
	})
	if err != nil {
		log.Error("failed to finalize delivery",
			zap.String("delivery_id", d.ID), zap.Error(err))
	}
}

func (w *DrainWorker) backoff(attempt int) time.Duration {
	if len(w.cfg.Backoff) == 0 {
		return time.Second
	}
	if attempt >= len(w.cfg.Backoff) {
		attempt = len(w.cfg.Backoff) - 1
	}
	return w.cfg.Backoff[attempt]
}

// sleep waits d or until ctx is cancelled; reports whether the wait completed.
func (w *DrainWorker) sleep(ctx context.Context, d time.Duration) bool {
	select {
	case <-ctx.Done():
		return false
	case <-time.After(d):
		return true
	}
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
