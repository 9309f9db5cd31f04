package sqlstore

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/goliatone/go-relay/core"
	"github.com/goliatone/go-relay/webhooks"
	"github.com/google/uuid"
	"github.com/uptrace/bun"
)

// WebhookDeliveryStore is the sql-backed delivery claim ledger. A claim id is
// "<row id>:<attempt>"; Complete and Fail only apply to the attempt that
// still holds the claim.
type WebhookDeliveryStore struct {
	db  *bun.DB
	now func() time.Time
}

func NewWebhookDeliveryStore(db *bun.DB) (*WebhookDeliveryStore, error) {
	if db == nil {
		return nil, fmt.Errorf("sqlstore: bun db is required")
	}
	return &WebhookDeliveryStore{db: db, now: nowUTC}, nil
}

func (s *WebhookDeliveryStore) Claim(
	ctx context.Context,
	providerID string,
	deliveryID string,
	payload []byte,
	lease time.Duration,
) (webhooks.DeliveryRecord, bool, error) {
	if s == nil || s.db == nil {
		return webhooks.DeliveryRecord{}, false, errNotConfigured
	}
	providerID = strings.TrimSpace(providerID)
	deliveryID = strings.TrimSpace(deliveryID)
	if providerID == "" || deliveryID == "" {
		return webhooks.DeliveryRecord{}, false, core.NewBadInputError("sqlstore: provider id and delivery id are required", nil)
	}
	now := s.now()
	expires := now.Add(lease)

	record := &webhookDeliveryRecord{
		ID:            uuid.NewString(),
		ProviderID:    providerID,
		DeliveryID:    deliveryID,
		Status:        webhooks.DeliveryStatusProcessing,
		Attempts:      1,
		NextAttemptAt: &expires,
		Payload:       append([]byte(nil), payload...),
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	_, err := s.db.NewInsert().Model(record).Exec(ctx)
	if err == nil {
		return claimedDelivery(record), true, nil
	}
	if !isUniqueViolation(err) {
		return webhooks.DeliveryRecord{}, false, err
	}

	existing, err := s.load(ctx, providerID, deliveryID)
	if err != nil {
		return webhooks.DeliveryRecord{}, false, err
	}
	switch existing.Status {
	case webhooks.DeliveryStatusProcessed, webhooks.DeliveryStatusDead:
		return webhookDeliveryToDomain(existing), false, nil
	case webhooks.DeliveryStatusProcessing:
		if existing.NextAttemptAt != nil && now.Before(*existing.NextAttemptAt) {
			return webhookDeliveryToDomain(existing), false, nil
		}
	}

	res, err := s.db.NewUpdate().
		Model((*webhookDeliveryRecord)(nil)).
		Set("status = ?", webhooks.DeliveryStatusProcessing).
		Set("attempts = attempts + 1").
		Set("next_attempt_at = ?", expires).
		Set("updated_at = ?", now).
		Where("id = ?", existing.ID).
		Where("attempts = ?", existing.Attempts).
		Where("status = ?", existing.Status).
		Exec(ctx)
	if err != nil {
		return webhooks.DeliveryRecord{}, false, err
	}
	if affected, _ := res.RowsAffected(); affected == 0 {
		// Another instance took the claim between the read and the update.
		current, loadErr := s.load(ctx, providerID, deliveryID)
		if loadErr != nil {
			return webhooks.DeliveryRecord{}, false, loadErr
		}
		return webhookDeliveryToDomain(current), false, nil
	}
	existing.Status = webhooks.DeliveryStatusProcessing
	existing.Attempts++
	existing.NextAttemptAt = &expires
	existing.UpdatedAt = now
	return claimedDelivery(existing), true, nil
}

func (s *WebhookDeliveryStore) Get(ctx context.Context, providerID string, deliveryID string) (webhooks.DeliveryRecord, error) {
	if s == nil || s.db == nil {
		return webhooks.DeliveryRecord{}, errNotConfigured
	}
	record, err := s.load(ctx, strings.TrimSpace(providerID), strings.TrimSpace(deliveryID))
	if err != nil {
		return webhooks.DeliveryRecord{}, err
	}
	return webhookDeliveryToDomain(record), nil
}

func (s *WebhookDeliveryStore) Complete(ctx context.Context, claimID string) error {
	if s == nil || s.db == nil {
		return errNotConfigured
	}
	id, attempt, err := parseClaimID(claimID)
	if err != nil {
		return err
	}
	_, err = s.db.NewUpdate().
		Model((*webhookDeliveryRecord)(nil)).
		Set("status = ?", webhooks.DeliveryStatusProcessed).
		Set("next_attempt_at = NULL").
		Set("last_error = ''").
		Set("updated_at = ?", s.now()).
		Where("id = ?", id).
		Where("attempts = ?", attempt).
		Where("status = ?", webhooks.DeliveryStatusProcessing).
		Exec(ctx)
	return err
}

// Fail releases the claim for a later attempt, or marks the delivery dead
// once maxAttempts is reached.
func (s *WebhookDeliveryStore) Fail(
	ctx context.Context,
	claimID string,
	cause error,
	nextAttemptAt time.Time,
	maxAttempts int,
) error {
	if s == nil || s.db == nil {
		return errNotConfigured
	}
	id, attempt, err := parseClaimID(claimID)
	if err != nil {
		return err
	}
	status := webhooks.DeliveryStatusRetryReady
	if maxAttempts > 0 && attempt >= maxAttempts {
		status = webhooks.DeliveryStatusDead
	}
	lastError := ""
	if cause != nil {
		lastError = cause.Error()
	}
	_, err = s.db.NewUpdate().
		Model((*webhookDeliveryRecord)(nil)).
		Set("status = ?", status).
		Set("last_error = ?", lastError).
		Set("next_attempt_at = ?", nextAttemptAt.UTC()).
		Set("updated_at = ?", s.now()).
		Where("id = ?", id).
		Where("attempts = ?", attempt).
		Where("status = ?", webhooks.DeliveryStatusProcessing).
		Exec(ctx)
	return err
}

func (s *WebhookDeliveryStore) load(ctx context.Context, providerID string, deliveryID string) (*webhookDeliveryRecord, error) {
	record := &webhookDeliveryRecord{}
	query := s.db.NewSelect().
		Model(record).
		Where("?TableAlias.provider_id = ?", providerID).
		Where("?TableAlias.delivery_id = ?", deliveryID)
	if err := selectOne(ctx, query, "webhook delivery", providerID+"/"+deliveryID); err != nil {
		return nil, err
	}
	return record, nil
}

func claimedDelivery(record *webhookDeliveryRecord) webhooks.DeliveryRecord {
	delivery := webhookDeliveryToDomain(record)
	delivery.ClaimID = record.ID + ":" + strconv.Itoa(record.Attempts)
	return delivery
}

func parseClaimID(claimID string) (string, int, error) {
	id, attempt, ok := strings.Cut(strings.TrimSpace(claimID), ":")
	if !ok || id == "" {
		return "", 0, errors.New("sqlstore: malformed delivery claim id")
	}
	n, err := strconv.Atoi(attempt)
	if err != nil || n <= 0 {
		return "", 0, errors.New("sqlstore: malformed delivery claim attempt")
	}
	return id, n, nil
}

func webhookDeliveryToDomain(record *webhookDeliveryRecord) webhooks.DeliveryRecord {
	if record == nil {
		return webhooks.DeliveryRecord{}
	}
	result := webhooks.DeliveryRecord{
		ID:         record.ID,
		ProviderID: record.ProviderID,
		DeliveryID: record.DeliveryID,
		Status:     record.Status,
		Attempts:   record.Attempts,
		LastError:  record.LastError,
		CreatedAt:  record.CreatedAt,
		UpdatedAt:  record.UpdatedAt,
	}
	if record.NextAttemptAt != nil {
		value := record.NextAttemptAt.UTC()
		result.NextAttemptAt = &value
	}
	return result
}


// WithClock replaces the clock used for leases and timestamps.
func (s *WebhookDeliveryStore) WithClock(now func() time.Time) *WebhookDeliveryStore {
	if s != nil && now != nil {
		s.now = func() time.Time { return now().UTC() }
	}
	return s
}
