package gojob

import (
	"context"
	"strings"
	"sync"
	"time"

	job "github.com/goliatone/go-job"
	"github.com/goliatone/go-job/queue"
)

// MemoryQueue is a process-local queue for single-node deployments. Pending
// messages with the same idempotency key are dropped on enqueue.
type MemoryQueue struct {
	ch chan *job.ExecutionMessage

	mu         sync.Mutex
	pending    map[string]struct{}
	deadLetter []*job.ExecutionMessage
	closed     bool
}

func NewMemoryQueue(size int) *MemoryQueue {
	if size <= 0 {
		size = 16
	}
	return &MemoryQueue{
		ch:      make(chan *job.ExecutionMessage, size),
		pending: map[string]struct{}{},
	}
}

func (q *MemoryQueue) Enqueue(ctx context.Context, msg *job.ExecutionMessage) error {
	if msg == nil {
		return nil
	}
	key := strings.TrimSpace(msg.IdempotencyKey)
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return context.Canceled
	}
	if key != "" {
		if _, ok := q.pending[key]; ok {
			q.mu.Unlock()
			return nil
		}
		q.pending[key] = struct{}{}
	}
	q.mu.Unlock()

	select {
	case q.ch <- msg:
		return nil
	case <-ctx.Done():
		q.release(msg)
		return ctx.Err()
	}
}

func (q *MemoryQueue) Dequeue(ctx context.Context) (queue.Delivery, error) {
	select {
	case msg := <-q.ch:
		return &memoryDelivery{queue: q, msg: msg}, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// DeadLetters returns the messages nacked without requeue.
func (q *MemoryQueue) DeadLetters() []*job.ExecutionMessage {
	q.mu.Lock()
	defer q.mu.Unlock()
	return append([]*job.ExecutionMessage(nil), q.deadLetter...)
}

// Close stops accepting new messages.
func (q *MemoryQueue) Close() {
	q.mu.Lock()
	q.closed = true
	q.mu.Unlock()
}

func (q *MemoryQueue) release(msg *job.ExecutionMessage) {
	key := strings.TrimSpace(msg.IdempotencyKey)
	if key == "" {
		return
	}
	q.mu.Lock()
	delete(q.pending, key)
	q.mu.Unlock()
}

func (q *MemoryQueue) requeue(msg *job.ExecutionMessage, delay time.Duration) {
	push := func() {
		q.mu.Lock()
		closed := q.closed
		q.mu.Unlock()
		if closed {
			q.release(msg)
			return
		}
		select {
		case q.ch <- msg:
		default:
			q.release(msg)
		}
	}
	if delay <= 0 {
		push()
		return
	}
	time.AfterFunc(delay, push)
}

type memoryDelivery struct {
	queue *MemoryQueue
	msg   *job.ExecutionMessage
	once  sync.Once
}

func (d *memoryDelivery) Message() *job.ExecutionMessage {
	return d.msg
}

func (d *memoryDelivery) Ack(context.Context) error {
	d.once.Do(func() { d.queue.release(d.msg) })
	return nil
}

func (d *memoryDelivery) Nack(_ context.Context, opts queue.NackOptions) error {
	d.once.Do(func() {
		switch {
		case opts.Requeue:
			d.queue.requeue(d.msg, opts.Delay)
		case opts.DeadLetter:
			d.queue.mu.Lock()
			d.queue.deadLetter = append(d.queue.deadLetter, d.msg)
			d.queue.mu.Unlock()
			d.queue.release(d.msg)
		default:
			d.queue.release(d.msg)
		}
	})
	return nil
}

var (
	_ queue.Enqueuer = (*MemoryQueue)(nil)
	_ queue.Dequeuer = (*MemoryQueue)(nil)
	_ queue.Delivery = (*memoryDelivery)(nil)
)
