package queue

import (
	"container/list"
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemQueue is a channel-and-mutex in-memory Queue, grounded on the
// teacher's own channel-based task queue. It backs unit tests and the
// property tests of spec.md §8 without a Redis dependency.
type MemQueue struct {
	mu         sync.Mutex
	ready      *list.List // of Message
	notify     chan struct{}
	processing map[string]Message
	delayed    []delayedEntry
	DeadLetter []DeadLetterEntry
}

type delayedEntry struct {
	readyAt time.Time
	msg     Message
}

// NewMemQueue creates an empty in-memory Queue.
func NewMemQueue() *MemQueue {
	return &MemQueue{
		ready:      list.New(),
		notify:     make(chan struct{}, 1),
		processing: make(map[string]Message),
	}
}

func (q *MemQueue) Enqueue(ctx context.Context, msg Message) error {
	q.mu.Lock()
	q.ready.PushBack(msg)
	q.mu.Unlock()
	q.signal()
	return nil
}

func (q *MemQueue) Reserve(ctx context.Context) (Message, string, error) {
	for {
		q.promoteDelayed()

		q.mu.Lock()
		front := q.ready.Front()
		if front != nil {
			q.ready.Remove(front)
			msg := front.Value.(Message)
			handle := uuid.NewString()
			q.processing[handle] = msg
			q.mu.Unlock()
			return msg, handle, nil
		}
		q.mu.Unlock()

		select {
		case <-ctx.Done():
			return Message{}, "", ctx.Err()
		case <-q.notify:
		case <-time.After(50 * time.Millisecond):
		}
	}
}

func (q *MemQueue) Ack(ctx context.Context, handle string) error {
	q.mu.Lock()
	delete(q.processing, handle)
	q.mu.Unlock()
	return nil
}

func (q *MemQueue) Nack(ctx context.Context, handle string, msg Message, delay time.Duration, deadLetter bool, reason string) error {
	q.mu.Lock()
	delete(q.processing, handle)
	if deadLetter {
		q.DeadLetter = append(q.DeadLetter, DeadLetterEntry{Message: msg, Reason: reason, At: time.Now().UTC()})
		q.mu.Unlock()
		return nil
	}
	q.delayed = append(q.delayed, delayedEntry{readyAt: time.Now().Add(delay), msg: msg})
	q.mu.Unlock()
	return nil
}

func (q *MemQueue) Depth(ctx context.Context) (int64, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	return int64(q.ready.Len()), nil
}

func (q *MemQueue) promoteDelayed() {
	q.mu.Lock()
	defer q.mu.Unlock()

	now := time.Now()
	remaining := q.delayed[:0]
	for _, d := range q.delayed {
		if now.After(d.readyAt) || now.Equal(d.readyAt) {
			q.ready.PushBack(d.msg)
		} else {
			remaining = append(remaining, d)
		}
	}
	q.delayed = remaining
}

func (q *MemQueue) signal() {
	select {
	case q.notify <- struct{}{}:
	default:
	}
}
