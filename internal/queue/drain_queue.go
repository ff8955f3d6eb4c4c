package queue

import (
	"context"

	"github.com/Meirlen/Tabys-sub000/internal/domain"
)

// Job asks the worker pool to make progress on one broadcast's pending
// deliveries. Workers fetch the broadcast from the DB using the ID, keeping
// the queue lightweight and the stored data authoritative.
type Job struct {
	BroadcastID string
}

// DrainQueue dispatches drain jobs to the worker pool over two buffered
// channels. Moderation alerts go on the urgent channel so a long-running
// bulk broadcast cannot delay them.
//
// Workers dequeue via the double-select pattern: urgent is drained before
// entering a fair blocking select across both tiers.
type DrainQueue struct {
	urgent chan Job
	normal chan Job
}

func New() *DrainQueue {
	return &DrainQueue{
		urgent: make(chan Job, 64),
		normal: make(chan Job, 256),
	}
}

// Enqueue places a job on the normal tier. Non-blocking: if the channel is
// full, ErrQueueFull is returned immediately rather than blocking the caller.
func (q *DrainQueue) Enqueue(job Job) error {
	select {
	case q.normal <- job:
		return nil
	default:
		return domain.ErrQueueFull
	}
}

// EnqueueUrgent places a job on the urgent tier (moderation alerts).
func (q *DrainQueue) EnqueueUrgent(job Job) error {
	select {
	case q.urgent <- job:
		return nil
	default:
		return domain.ErrQueueFull
	}
}

// Dequeue blocks until a job is available or ctx is cancelled.
// Returns (Job{}, false) when ctx is cancelled (graceful shutdown signal).
func (q *DrainQueue) Dequeue(ctx context.Context) (Job, bool) {
	// Drain urgent before entering a fair wait.
	select {
	case job := <-q.urgent:
		return job, true
	default:
	}

	select {
	case job := <-q.urgent:
		return job, true
	case job := <-q.normal:
		return job, true
	case <-ctx.Done():
		return Job{}, false
	}
}

// Depths returns the current number of jobs waiting in each tier.
// Used by the metrics gauges.
func (q *DrainQueue) Depths() (urgent, normal int) {
	return len(q.urgent), len(q.normal)
}
