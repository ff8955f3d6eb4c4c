package ratelimiter

import (
	"context"

	"golang.org/x/time/rate"
)

// Limiter is the fabric-wide token bucket shaping outbound Telegram traffic.
// One bucket is shared by every drain worker, so the aggregate rate stays
// under the external API budget regardless of pool size. Burst equals the
// rate: no "saved up" burst above the per-second maximum is allowed.
//
// The budget is process-local; cross-process pacing is out of scope.
type Limiter struct {
	bucket *rate.Limiter
}

// New creates a limiter granting messagesPerSec tokens per second.
func New(messagesPerSec int) *Limiter {
	if messagesPerSec <= 0 {
		messagesPerSec = 1
	}
	return &Limiter{
		bucket: rate.NewLimiter(rate.Limit(messagesPerSec), messagesPerSec),
	}
}

// Wait blocks until a token is granted. Called by each drain worker
// immediately before an outbound send. Returns a non-nil error only if ctx
// is cancelled while waiting.
func (l *Limiter) Wait(ctx context.Context) error {
	return l.bucket.Wait(ctx)
}
