package recheck

import (
	"context"
	"testing"
	"time"

	"github.com/newsclust/newsclust/internal/config"
	"github.com/newsclust/newsclust/internal/queue"
)

func TestController_Enqueue_AcceptsNewArticle(t *testing.T) {
	ctx := context.Background()
	q := queue.NewMemQueue()
	c := New(q, config.RecheckConfig{Cooldown: time.Minute, RatePerSecond: 10, RateBurst: 10})

	result, err := c.Enqueue(ctx, "caller-1", "manual", []string{"a1"})
	if err != nil {
		t.Fatalf("Enqueue: %v", err)
	}
	if len(result.Accepted) != 1 || result.Accepted[0] != "a1" {
		t.Errorf("Accepted = %v, want [a1]", result.Accepted)
	}
	if result.JobID == "" {
		t.Error("expected a non-empty job ID")
	}

	depth, _ := q.Depth(ctx)
	if depth != 1 {
		t.Errorf("queue depth = %d, want 1", depth)
	}
}

func TestController_Enqueue_CooldownSkipsRepeat(t *testing.T) {
	ctx := context.Background()
	q := queue.NewMemQueue()
	c := New(q, config.RecheckConfig{Cooldown: time.Hour, RatePerSecond: 10, RateBurst: 10})

	c.Enqueue(ctx, "caller-1", "manual", []string{"a1"})
	result, err := c.Enqueue(ctx, "caller-1", "manual", []string{"a1"})
	if err != nil {
		t.Fatalf("Enqueue: %v", err)
	}
	if len(result.Accepted) != 0 {
		t.Errorf("Accepted = %v, want empty (within cooldown)", result.Accepted)
	}
	if len(result.Skipped) != 1 {
		t.Errorf("Skipped = %v, want [a1]", result.Skipped)
	}
}

func TestController_Enqueue_RateLimitsPerCaller(t *testing.T) {
	ctx := context.Background()
	q := queue.NewMemQueue()
	c := New(q, config.RecheckConfig{Cooldown: time.Minute, RatePerSecond: 1, RateBurst: 1})

	if _, err := c.Enqueue(ctx, "caller-1", "manual", []string{"a1"}); err != nil {
		t.Fatalf("first Enqueue: %v", err)
	}
	if _, err := c.Enqueue(ctx, "caller-1", "manual", []string{"a2"}); err != ErrRateLimited {
		t.Errorf("second Enqueue error = %v, want ErrRateLimited", err)
	}
	// A different caller has its own bucket.
	if _, err := c.Enqueue(ctx, "caller-2", "manual", []string{"a3"}); err != nil {
		t.Errorf("other caller Enqueue: %v", err)
	}
}

func TestController_JobID_Format(t *testing.T) {
	ctx := context.Background()
	q := queue.NewMemQueue()
	c := New(q, config.RecheckConfig{Cooldown: time.Minute, RatePerSecond: 10, RateBurst: 10})

	r1, _ := c.Enqueue(ctx, "caller-1", "manual", []string{"a1"})
	r2, _ := c.Enqueue(ctx, "caller-1", "manual", []string{"a2"})

	if r1.JobID == r2.JobID {
		t.Errorf("expected distinct job IDs, got %q twice", r1.JobID)
	}
	if len(r1.JobID) < len("recheck_20060102_0001") {
		t.Errorf("unexpected job ID format: %q", r1.JobID)
	}
}
