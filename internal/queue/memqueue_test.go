package queue

import (
	"context"
	"testing"
	"time"
)

func TestMemQueue_EnqueueReserveAck(t *testing.T) {
	ctx := context.Background()
	q := NewMemQueue()

	if err := q.Enqueue(ctx, Message{JobType: JobIngest, ArticleID: "a1"}); err != nil {
		t.Fatalf("Enqueue: %v", err)
	}

	msg, handle, err := q.Reserve(ctx)
	if err != nil {
		t.Fatalf("Reserve: %v", err)
	}
	if msg.ArticleID != "a1" {
		t.Errorf("ArticleID = %q, want a1", msg.ArticleID)
	}

	if err := q.Ack(ctx, handle); err != nil {
		t.Fatalf("Ack: %v", err)
	}

	depth, _ := q.Depth(ctx)
	if depth != 0 {
		t.Errorf("Depth = %d, want 0 after ack", depth)
	}
}

func TestMemQueue_NackRedeliversAfterDelay(t *testing.T) {
	ctx := context.Background()
	q := NewMemQueue()

	q.Enqueue(ctx, Message{JobType: JobIngest, ArticleID: "a1", Attempt: 1})
	_, handle, err := q.Reserve(ctx)
	if err != nil {
		t.Fatalf("Reserve: %v", err)
	}

	if err := q.Nack(ctx, handle, Message{ArticleID: "a1", Attempt: 2}, 20*time.Millisecond, false, ""); err != nil {
		t.Fatalf("Nack: %v", err)
	}

	ctx2, cancel := context.WithTimeout(ctx, time.Second)
	defer cancel()
	msg, _, err := q.Reserve(ctx2)
	if err != nil {
		t.Fatalf("Reserve after nack: %v", err)
	}
	if msg.Attempt != 2 {
		t.Errorf("Attempt = %d, want 2 (bumped by caller before Nack)", msg.Attempt)
	}
}

func TestMemQueue_NackDeadLetter(t *testing.T) {
	ctx := context.Background()
	q := NewMemQueue()

	q.Enqueue(ctx, Message{JobType: JobIngest, ArticleID: "a1", Attempt: 5})
	_, handle, _ := q.Reserve(ctx)

	if err := q.Nack(ctx, handle, Message{ArticleID: "a1", Attempt: 5}, 0, true, "retries exhausted"); err != nil {
		t.Fatalf("Nack: %v", err)
	}

	if len(q.DeadLetter) != 1 {
		t.Fatalf("DeadLetter length = %d, want 1", len(q.DeadLetter))
	}
	if q.DeadLetter[0].Reason != "retries exhausted" {
		t.Errorf("Reason = %q", q.DeadLetter[0].Reason)
	}
}
