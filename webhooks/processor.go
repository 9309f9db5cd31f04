package webhooks

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/goliatone/go-relay/core"
)

const (
	DeliveryStatusPending    = "pending"
	DeliveryStatusProcessing = "processing"
	DeliveryStatusProcessed  = "processed"
	DeliveryStatusRetryReady = "retry_ready"
	DeliveryStatusDead       = "dead"

	ProviderTasks = "tasks"
)

type DeliveryRecord struct {
	ID            string
	ClaimID       string
	ProviderID    string
	DeliveryID    string
	Status        string
	Attempts      int
	LastError     string
	NextAttemptAt *time.Time
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// DeliveryLedger claims provider deliveries so a processed event is not
// handled again. A claim is exclusive until its lease expires.
type DeliveryLedger interface {
	Claim(
		ctx context.Context,
		providerID string,
		deliveryID string,
		payload []byte,
		lease time.Duration,
	) (DeliveryRecord, bool, error)
	Get(ctx context.Context, providerID string, deliveryID string) (DeliveryRecord, error)
	Complete(ctx context.Context, claimID string) error
	Fail(ctx context.Context, claimID string, cause error, nextAttemptAt time.Time, maxAttempts int) error
}

type Verifier interface {
	Verify(ctx context.Context, req core.InboundRequest) error
}

type Handler interface {
	Handle(ctx context.Context, event core.WebhookEvent) (core.ReconcileResult, error)
}

type HandlerFunc func(ctx context.Context, event core.WebhookEvent) (core.ReconcileResult, error)

func (f HandlerFunc) Handle(ctx context.Context, event core.WebhookEvent) (core.ReconcileResult, error) {
	return f(ctx, event)
}

// ReconcilerHandler feeds verified events to the completion reconciler.
func ReconcilerHandler(reconciler *core.Reconciler) Handler {
	return HandlerFunc(func(ctx context.Context, event core.WebhookEvent) (core.ReconcileResult, error) {
		return reconciler.Reconcile(ctx, core.WebhookCompletion(event))
	})
}

type Processor struct {
	Verifier    Verifier
	Ledger      DeliveryLedger
	Handler     Handler
	Logger      core.Logger
	ClaimLease  time.Duration
	MaxAttempts int
	Now         func() time.Time
}

func NewProcessor(verifier Verifier, ledger DeliveryLedger, handler Handler) *Processor {
	return &Processor{
		Verifier:    verifier,
		Ledger:      ledger,
		Handler:     handler,
		ClaimLease:  30 * time.Second,
		MaxAttempts: 8,
		Now: func() time.Time {
			return time.Now().UTC()
		},
	}
}

func (p *Processor) Process(ctx context.Context, req core.InboundRequest) (core.InboundResult, error) {
	if p == nil || p.Handler == nil {
		return core.InboundResult{}, fmt.Errorf("webhooks: processor requires a handler")
	}
	providerID := strings.TrimSpace(req.ProviderID)
	if providerID == "" {
		providerID = ProviderTasks
	}
	req.ProviderID = providerID

	if len(strings.TrimSpace(string(req.Body))) == 0 {
		return accepted(map[string]any{"provider_id": providerID, "ping": true}), nil
	}
	payload, err := DecodeTaskWebhook(req.Body)
	if err != nil {
		return rejected(http.StatusBadRequest, providerID), err
	}
	if payload.Ping() {
		return accepted(map[string]any{"provider_id": providerID, "ping": true}), nil
	}

	if p.Verifier != nil {
		if err := p.Verifier.Verify(ctx, req); err != nil {
			p.log(ctx, "warn", "relay.webhook.rejected", map[string]any{
				"event_id":  payload.EventID,
				"error":     err.Error(),
				"text_code": core.TextCode(err),
			})
			return rejected(core.HTTPStatus(err), providerID), err
		}
	}

	event := payload.Event()
	metadata := map[string]any{
		"provider_id": providerID,
		"delivery_id": event.EventID,
		"event_type":  event.EventType,
	}
	if event.EventType != core.WebhookEventTaskStopped {
		metadata["ignored"] = true
		return accepted(metadata), nil
	}

	claim, ok, err := p.claim(ctx, providerID, event.EventID, req.Body)
	if err != nil {
		return core.InboundResult{}, err
	}
	if !ok {
		if claim.Status == DeliveryStatusDead {
			p.log(ctx, "warn", "relay.webhook.dead_redelivery", map[string]any{
				"event_id":   event.EventID,
				"attempts":   claim.Attempts,
				"last_error": claim.LastError,
			})
		}
		metadata["deduped"] = true
		metadata["status"] = claim.Status
		return accepted(metadata), nil
	}

	result, err := p.Handler.Handle(ctx, event)
	if err != nil {
		if claim.ClaimID != "" {
			if failErr := p.Ledger.Fail(ctx, claim.ClaimID, err, p.now(), p.maxAttempts()); failErr != nil {
				p.log(ctx, "error", "relay.webhook.fail_record_failed", map[string]any{"event_id": event.EventID, "error": failErr.Error()})
			}
		}
		return core.InboundResult{
			Accepted:   false,
			StatusCode: core.HTTPStatus(err),
			Metadata:   metadata,
		}, err
	}
	if claim.ClaimID != "" {
		if err := p.Ledger.Complete(ctx, claim.ClaimID); err != nil {
			return core.InboundResult{}, err
		}
	}
	metadata["outcome"] = string(result.Outcome)
	if result.MappingID != "" {
		metadata["mapping_id"] = result.MappingID
	}
	return accepted(metadata), nil
}

// claim scopes dedupe to events that carry an id; events without one are
// processed every time and rely on the mapping completion guard.
func (p *Processor) claim(ctx context.Context, providerID string, deliveryID string, body []byte) (DeliveryRecord, bool, error) {
	if p.Ledger == nil || strings.TrimSpace(deliveryID) == "" {
		return DeliveryRecord{}, true, nil
	}
	return p.Ledger.Claim(ctx, providerID, deliveryID, body, p.claimLease())
}

func (p *Processor) log(ctx context.Context, level string, message string, fields map[string]any) {
	if p.Logger == nil {
		return
	}
	logger := p.Logger.WithContext(ctx)
	args := make([]any, 0, len(fields)*2)
	for key, value := range fields {
		args = append(args, key, value)
	}
	switch level {
	case "error":
		logger.Error(message, args...)
	case "warn":
		logger.Warn(message, args...)
	default:
		logger.Info(message, args...)
	}
}

func accepted(metadata map[string]any) core.InboundResult {
	return core.InboundResult{Accepted: true, StatusCode: http.StatusOK, Metadata: metadata}
}

func rejected(status int, providerID string) core.InboundResult {
	return core.InboundResult{
		Accepted:   false,
		StatusCode: status,
		Metadata: map[string]any{
			"provider_id": providerID,
			"rejected":    true,
		},
	}
}

func (p *Processor) now() time.Time {
	if p != nil && p.Now != nil {
		return p.Now().UTC()
	}
	return time.Now().UTC()
}

func (p *Processor) claimLease() time.Duration {
	if p != nil && p.ClaimLease > 0 {
		return p.ClaimLease
	}
	return 30 * time.Second
}

func (p *Processor) maxAttempts() int {
	if p != nil && p.MaxAttempts > 0 {
		return p.MaxAttempts
	}
	return 8
}

func headerValue(headers map[string]string, key string) string {
	if len(headers) == 0 {
		return ""
	}
	for existing, value := range headers {
		if strings.EqualFold(strings.TrimSpace(existing), strings.TrimSpace(key)) {
			return strings.TrimSpace(value)
		}
	}
	return ""
}
