// Package recheck implements the Recheck Controller: re-enqueues articles
// for recomputation, enforcing a per-article cooldown and a per-caller
// rate limit (spec.md §4.7).
package recheck

import (
	"context"
	"fmt"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/newsclust/newsclust/internal/config"
	"github.com/newsclust/newsclust/internal/queue"
)

// ErrCooldown names the condition of an article rechecked too recently.
// Enqueue does not return it: such articles are listed in Result.Skipped.
var ErrCooldown = fmt.Errorf("recheck: article is within its cooldown window")

// ErrRateLimited is returned when a caller's rate limit is exhausted
// (HTTP layer maps this to 429 RECHECK_RATE_LIMITED).
var ErrRateLimited = fmt.Errorf("recheck: caller rate limit exceeded")

// nowFunc is overridable in tests.
var nowFunc = time.Now

// Controller enqueues recheck jobs, deduplicating requests that arrive
// inside an article's cooldown window and throttling each caller with an
// independent token bucket.
type Controller struct {
	q        queue.Queue
	cooldown time.Duration

	mu          sync.Mutex
	lastChecked map[string]time.Time // article_id -> last recheck enqueue time
	limiters    map[string]*rate.Limiter
	rps         rate.Limit
	burst       int
	counter     int
	counterDay  string
}

// New creates a Controller.
func New(q queue.Queue, cfg config.RecheckConfig) *Controller {
	rps := cfg.RatePerSecond
	if rps <= 0 {
		rps = 2
	}
	burst := cfg.RateBurst
	if burst <= 0 {
		burst = 5
	}
	cooldown := cfg.Cooldown
	if cooldown <= 0 {
		cooldown = 5 * time.Minute
	}
	return &Controller{
		q:           q,
		cooldown:    cooldown,
		lastChecked: make(map[string]time.Time),
		limiters:    make(map[string]*rate.Limiter),
		rps:         rate.Limit(rps),
		burst:       burst,
	}
}

// Result is the outcome of a recheck request.
type Result struct {
	JobID    string
	Accepted []string // article IDs actually enqueued
	Skipped  []string // article IDs dropped for being within cooldown
}

// Enqueue enqueues a recheck job for each article not currently within
// its cooldown window, under the given caller's rate limit. caller
// identifies the rate-limit bucket (e.g. API key or remote IP).
func (c *Controller) Enqueue(ctx context.Context, caller, reason string, articleIDs []string) (Result, error) {
	c.mu.Lock()
	limiter, ok := c.limiters[caller]
	if !ok {
		limiter = rate.NewLimiter(c.rps, c.burst)
		c.limiters[caller] = limiter
	}
	c.mu.Unlock()

	if !limiter.Allow() {
		return Result{}, ErrRateLimited
	}

	result := Result{JobID: c.nextJobID()}
	now := nowFunc()

	c.mu.Lock()
	for _, id := range articleIDs {
		if last, seen := c.lastChecked[id]; seen && now.Sub(last) < c.cooldown {
			result.Skipped = append(result.Skipped, id)
			continue
		}
		c.lastChecked[id] = now
		result.Accepted = append(result.Accepted, id)
	}
	c.mu.Unlock()

	for _, id := range result.Accepted {
		msg := queue.Message{
			JobType:    queue.JobRecheck,
			ArticleID:  id,
			EnqueuedAt: now,
			Reason:     reason,
		}
		if err := c.q.Enqueue(ctx, msg); err != nil {
			return result, fmt.Errorf("recheck: enqueue %s: %w", id, err)
		}
	}

	return result, nil
}

// nextJobID formats recheck_{yyyymmdd}_{4-digit counter}, resetting the
// counter whenever the day rolls over (spec.md §4.7).
func (c *Controller) nextJobID() string {
	c.mu.Lock()
	defer c.mu.Unlock()

	day := nowFunc().UTC().Format("20060102")
	if day != c.counterDay {
		c.counterDay = day
		c.counter = 0
	}
	c.counter++
	return fmt.Sprintf("recheck_%s_%04d", day, c.counter)
}
