// Package gojob runs the webhook verification-key refresh on a go-job queue.
package gojob

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	job "github.com/goliatone/go-job"
	"github.com/goliatone/go-job/queue"
	"github.com/goliatone/go-job/queue/worker"
	glog "github.com/goliatone/go-logger/glog"
)

const (
	JobIDKeyRefresh      = "relay.webhook.key_refresh"
	ScriptPathKeyRefresh = "relay.webhook.key_refresh"

	dedupDrop = job.DeduplicationPolicy("drop")
)

// KeyRefresher reloads the backend verification key.
type KeyRefresher interface {
	Refresh(ctx context.Context) error
}

// RetryPolicy defines queue retry bounds to avoid unbounded retry loops.
type RetryPolicy struct {
	MaxAttempts     int
	BaseDelay       time.Duration
	MaxDelay        time.Duration
	DeadLetterOnMax bool
}

func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts:     5,
		BaseDelay:       5 * time.Second,
		MaxDelay:        2 * time.Minute,
		DeadLetterOnMax: true,
	}
}

// Backoff doubles BaseDelay per attempt, capped at MaxDelay.
func (p RetryPolicy) Backoff(attempt int) time.Duration {
	if p.BaseDelay <= 0 || attempt <= 0 {
		return 0
	}
	delay := p.BaseDelay
	for i := 1; i < attempt; i++ {
		delay *= 2
		if p.MaxDelay > 0 && delay >= p.MaxDelay {
			return p.MaxDelay
		}
	}
	return delay
}

// NormalizeAttempt enforces bounded retry behavior for a nack operation.
func (p RetryPolicy) NormalizeAttempt(opts queue.NackOptions, attempt int) queue.NackOptions {
	out := opts
	out.Reason = strings.TrimSpace(out.Reason)
	if out.Delay < 0 {
		out.Delay = 0
	}
	if p.MaxDelay > 0 && out.Delay > p.MaxDelay {
		out.Delay = p.MaxDelay
	}
	if out.DeadLetter {
		out.Requeue = false
	}
	if p.MaxAttempts > 0 && attempt >= p.MaxAttempts {
		out.Requeue = false
		if p.DeadLetterOnMax || out.DeadLetter {
			out.DeadLetter = true
		}
	}
	if !out.Requeue && !out.DeadLetter {
		out.Requeue = true
	}
	return out
}

// KeyRefreshMessage builds the execution message for one refresh window.
// Messages inside the same window share an idempotency key so the queue
// can drop duplicates.
func KeyRefreshMessage(now time.Time, window time.Duration) *job.ExecutionMessage {
	if window <= 0 {
		window = time.Hour
	}
	bucket := now.UTC().Truncate(window).Unix()
	return &job.ExecutionMessage{
		JobID:          JobIDKeyRefresh,
		ScriptPath:     ScriptPathKeyRefresh,
		Parameters:     map[string]any{"window_start": bucket},
		IdempotencyKey: fmt.Sprintf("%s:%d", JobIDKeyRefresh, bucket),
		DedupPolicy:    dedupDrop,
	}
}

type EnqueuerAdapter struct {
	enqueuer queue.Enqueuer
	window   time.Duration
	now      func() time.Time
}

func NewEnqueuerAdapter(enqueuer queue.Enqueuer, window time.Duration) *EnqueuerAdapter {
	return &EnqueuerAdapter{enqueuer: enqueuer, window: window, now: time.Now}
}

// EnqueueKeyRefresh schedules a refresh for the current window.
func (a *EnqueuerAdapter) EnqueueKeyRefresh(ctx context.Context) error {
	if a == nil || a.enqueuer == nil {
		return fmt.Errorf("gojob: enqueuer is not configured")
	}
	now := time.Now
	if a.now != nil {
		now = a.now
	}
	return a.enqueuer.Enqueue(ctx, KeyRefreshMessage(now(), a.window))
}

// Schedule enqueues a refresh immediately and then once per interval until
// ctx is cancelled.
func (a *EnqueuerAdapter) Schedule(ctx context.Context, interval time.Duration, logger glog.Logger) {
	logger = glog.Ensure(logger)
	if interval <= 0 {
		interval = time.Hour
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		if err := a.EnqueueKeyRefresh(ctx); err != nil && ctx.Err() == nil {
			logger.Warn("key refresh enqueue failed", "error", err)
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// KeyRefreshWorker consumes refresh messages and reloads the key.
type KeyRefreshWorker struct {
	Dequeuer     queue.Dequeuer
	Refresher    KeyRefresher
	Policy       RetryPolicy
	Hook         worker.Hook
	PollInterval time.Duration
	Logger       glog.Logger
	Now          func() time.Time

	mu       sync.Mutex
	attempts map[string]int
}

func NewKeyRefreshWorker(dequeuer queue.Dequeuer, refresher KeyRefresher, policy RetryPolicy, logger glog.Logger) *KeyRefreshWorker {
	logger = glog.Ensure(logger)
	return &KeyRefreshWorker{
		Dequeuer:     dequeuer,
		Refresher:    refresher,
		Policy:       policy,
		Hook:         NewLoggingHook(logger),
		PollInterval: time.Second,
		Logger:       logger,
	}
}

// Run processes deliveries until ctx is cancelled.
func (w *KeyRefreshWorker) Run(ctx context.Context) error {
	if w == nil || w.Dequeuer == nil || w.Refresher == nil {
		return fmt.Errorf("gojob: key refresh worker is not configured")
	}
	for {
		if err := ctx.Err(); err != nil {
			return nil
		}
		if err := w.RunOnce(ctx); err != nil {
			w.logger().Warn("key refresh poll failed", "error", err)
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(w.pollInterval()):
			}
		}
	}
}

// RunOnce handles a single delivery. Refresh failures are settled on the
// delivery and do not surface as errors.
func (w *KeyRefreshWorker) RunOnce(ctx context.Context) error {
	delivery, err := w.Dequeuer.Dequeue(ctx)
	if err != nil {
		return err
	}
	if delivery == nil {
		return nil
	}
	msg := delivery.Message()
	if msg == nil || msg.JobID != JobIDKeyRefresh {
		jobID := ""
		if msg != nil {
			jobID = msg.JobID
		}
		return delivery.Nack(ctx, queue.NackOptions{
			DeadLetter: true,
			Reason:     fmt.Sprintf("unsupported job %q", jobID),
		})
	}

	attempt := w.nextAttempt(msg)
	startedAt := w.now()
	event := worker.Event{Message: msg, Delivery: delivery, Attempt: attempt, StartedAt: startedAt}
	w.emit(ctx, w.hook().OnStart, event)

	refreshErr := w.Refresher.Refresh(ctx)
	event.Duration = w.now().Sub(startedAt)
	if refreshErr == nil {
		w.clearAttempts(msg)
		w.emit(ctx, w.hook().OnSuccess, event)
		return delivery.Ack(ctx)
	}

	event.Err = refreshErr
	opts := w.Policy.NormalizeAttempt(queue.NackOptions{
		Delay:   w.Policy.Backoff(attempt),
		Requeue: true,
		Reason:  refreshErr.Error(),
	}, attempt)
	event.Delay = opts.Delay
	if opts.Requeue {
		w.emit(ctx, w.hook().OnRetry, event)
	} else {
		w.clearAttempts(msg)
		w.emit(ctx, w.hook().OnFailure, event)
	}
	return delivery.Nack(ctx, opts)
}

func (w *KeyRefreshWorker) nextAttempt(msg *job.ExecutionMessage) int {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.attempts == nil {
		w.attempts = map[string]int{}
	}
	key := attemptKey(msg)
	w.attempts[key]++
	return w.attempts[key]
}

func (w *KeyRefreshWorker) clearAttempts(msg *job.ExecutionMessage) {
	w.mu.Lock()
	defer w.mu.Unlock()
	delete(w.attempts, attemptKey(msg))
}

func attemptKey(msg *job.ExecutionMessage) string {
	if key := strings.TrimSpace(msg.IdempotencyKey); key != "" {
		return key
	}
	return msg.JobID
}

func (w *KeyRefreshWorker) emit(ctx context.Context, fn func(context.Context, worker.Event), event worker.Event) {
	if fn != nil {
		fn(ctx, event)
	}
}

func (w *KeyRefreshWorker) hook() worker.Hook {
	if w.Hook == nil {
		return NewLoggingHook(w.logger())
	}
	return w.Hook
}

func (w *KeyRefreshWorker) logger() glog.Logger {
	return glog.Ensure(w.Logger)
}

func (w *KeyRefreshWorker) now() time.Time {
	if w.Now != nil {
		return w.Now()
	}
	return time.Now()
}

func (w *KeyRefreshWorker) pollInterval() time.Duration {
	if w.PollInterval > 0 {
		return w.PollInterval
	}
	return time.Second
}

// LoggingHook reports worker lifecycle events through glog.
type LoggingHook struct {
	logger glog.Logger
}

func NewLoggingHook(logger glog.Logger) *LoggingHook {
	return &LoggingHook{logger: glog.Ensure(logger)}
}

func (h *LoggingHook) OnStart(ctx context.Context, event worker.Event) {
	h.logger.WithContext(ctx).Debug("job started", eventFields(event)...)
}

func (h *LoggingHook) OnSuccess(ctx context.Context, event worker.Event) {
	h.logger.WithContext(ctx).Info("job succeeded", eventFields(event)...)
}

func (h *LoggingHook) OnFailure(ctx context.Context, event worker.Event) {
	h.logger.WithContext(ctx).Error("job failed", eventFields(event)...)
}

func (h *LoggingHook) OnRetry(ctx context.Context, event worker.Event) {
	h.logger.WithContext(ctx).Warn("job retry scheduled", eventFields(event)...)
}

func eventFields(event worker.Event) []any {
	message := event.Message
	if message == nil && event.Delivery != nil {
		message = event.Delivery.Message()
	}
	fields := []any{"attempt", event.Attempt}
	if message != nil {
		fields = append(fields, "job_id", message.JobID, "idempotency_key", message.IdempotencyKey)
	}
	if event.Delay > 0 {
		fields = append(fields, "delay", event.Delay.String())
	}
	if event.Duration > 0 {
		fields = append(fields, "duration", event.Duration.String())
	}
	if event.Err != nil {
		fields = append(fields, "error", event.Err.Error())
	}
	return fields
}

var _ worker.Hook = (*LoggingHook)(nil)
