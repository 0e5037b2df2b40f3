// Package queue implements the at-least-once ingestion work queue
// described in spec.md §6 ("Queue contract"): JSON messages carrying
// {job_type, article_id, enqueued_at, attempt}, consumed by a fixed pool
// of ingestion workers that must treat delivery as at-least-once.
package queue

import (
	"context"
	"errors"
	"time"
)

// JobType distinguishes a first-pass ingest job from a recheck job; the
// ingestion pipeline uses this to decide whether to skip an
// already-terminal article (spec.md §4.6 step 3).
type JobType string

const (
	JobIngest  JobType = "ingest"
	JobRecheck JobType = "recheck"
)

// Message is one queue entry.
type Message struct {
	JobType    JobType   `json:"job_type"`
	ArticleID  string    `json:"article_id"`
	EnqueuedAt time.Time `json:"enqueued_at"`
	Attempt    int       `json:"attempt"`
	Reason     string    `json:"reason,omitempty"` // set on recheck jobs
}

// ErrEmpty is returned by Reserve when no message arrived within the
// backend's blocking wait (RedisQueue waits 5 seconds); MemQueue's
// Reserve keeps waiting until a message arrives or ctx ends.
var ErrEmpty = errors.New("queue: empty")

// Queue is the ingestion work queue boundary. Implementations must
// deliver at least once: a message Reserved but never Acked must become
// visible to another consumer again.
type Queue interface {
	// Enqueue publishes a message for delivery.
	Enqueue(ctx context.Context, msg Message) error

	// Reserve blocks (respecting ctx) until a message is available or
	// the backend's wait ends with ErrEmpty, and returns it along with an opaque reservation handle the caller
	// must pass to Ack or Nack exactly once.
	Reserve(ctx context.Context) (Message, string, error)

	// Ack permanently removes a successfully processed message.
	Ack(ctx context.Context, handle string) error

	// Nack returns a message to the queue for redelivery after delay,
	// or to the dead-letter store if msg.Attempt has exhausted the
	// retry budget (the caller decides and bumps Attempt before calling).
	Nack(ctx context.Context, handle string, msg Message, delay time.Duration, deadLetter bool, reason string) error

	// Depth reports the number of messages waiting to be reserved, the
	// backpressure signal named in spec.md §5.
	Depth(ctx context.Context) (int64, error)
}

// DeadLetterEntry records why a message was permanently abandoned.
type DeadLetterEntry struct {
	Message Message
	Reason  string
	At      time.Time
}
