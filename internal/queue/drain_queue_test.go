package queue_test

import (
	"context"
	"testing"
	"time"

	"github.com/Meirlen/Tabys-sub000/internal/domain"
	"github.com/Meirlen/Tabys-sub000/internal/queue"
)

func TestDrainQueue_UrgentDequeuedFirst(t *testing.T) {
	q := queue.New()
	ctx := context.Background()

	if err := q.Enqueue(queue.Job{BroadcastID: "normal-1"}); err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	if err := q.EnqueueUrgent(queue.Job{BroadcastID: "urgent-1"}); err != nil {
		t.Fatalf("enqueue urgent: %v", err)
	}

	job, ok := q.Dequeue(ctx)
	if !ok {
		t.Fatal("expected a job")
	}
	if job.BroadcastID != "urgent-1" {
		t.Fatalf("expected urgent job first, got %s", job.BroadcastID)
	}

	job, _ = q.Dequeue(ctx)
	if job.BroadcastID != "normal-1" {
		t.Fatalf("expected normal job second, got %s", job.BroadcastID)
	}
}

func TestDrainQueue_EnqueueFullReturnsError(t *testing.T) {
	q := queue.New()

	for i := 0; ; i++ {
		if err := q.Enqueue(queue.Job{BroadcastID: "b"}); err != nil {
			if err != domain.ErrQueueFull {
				t.Fatalf("expected ErrQueueFull, got %v", err)
			}
			if i == 0 {
				t.Fatal("queue rejected the first job")
			}
			return
		}
		if i > 10000 {
			t.Fatal("queue never filled up")
		}
	}
}

func TestDrainQueue_DequeueUnblocksOnCancel(t *testing.T) {
	q := queue.New()
	ctx, cancel := context.WithCancel(context.Background())

	result := make(chan bool, 1)
	go func() {
		_, ok := q.Dequeue(ctx)
		result <- ok
	}()

	cancel()
	select {
	case ok := <-result:
		if ok {
			t.Fatal("expected ok=false on cancelled context")
		}
	case <-time.After(time.Second):
		t.Fatal("Dequeue did not return after cancel")
	}
}

func TestDrainQueue_Depths(t *testing.T) {
	q := queue.New()
	_ = q.Enqueue(queue.Job{BroadcastID: "a"})
	_ = q.Enqueue(queue.Job{BroadcastID: "b"})
	_ = q.EnqueueUrgent(queue.Job{BroadcastID: "c"})

	urgent, normal := q.Depths()
	if urgent != 1 || normal != 2 {
		t.Fatalf("expected urgent=1 normal=2, got urgent=%d normal=%d", urgent, normal)
	}
}
