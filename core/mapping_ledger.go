package core

import (
	"context"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"
)

// DefaultDispatchLease bounds how long a dispatch claim blocks redeliveries
// when its owner never commits.
const DefaultDispatchLease = 10 * time.Minute

var mappingTokenPattern = regexp.MustCompile(`\[Mapping ID:\s*([0-9a-fA-F]{8}-[0-9a-fA-F]{4}-[0-9a-fA-F]{4}-[0-9a-fA-F]{4}-[0-9a-fA-F]{12})\]`)

// MappingToken renders the correlation marker embedded in forwarded requests.
func MappingToken(mappingID string) string {
	return fmt.Sprintf("[Mapping ID: %s]", mappingID)
}

// ParseMappingToken returns the first mapping id marker found in body.
func ParseMappingToken(body string) (string, bool) {
	match := mappingTokenPattern.FindStringSubmatch(body)
	if len(match) < 2 {
		return "", false
	}
	return strings.ToLower(match[1]), true
}

// MappingLedger tracks one request through its lifecycle. State changes are
// delegated to conditional store statements; the ledger holds no state.
type MappingLedger struct {
	Store MappingStore
	Now   func() time.Time
	NewID func() string
}

func NewMappingLedger(store MappingStore) *MappingLedger {
	return &MappingLedger{Store: store}
}

// Create is idempotent on originalID: a repeated id returns the existing mapping.
func (l *MappingLedger) Create(ctx context.Context, originalID *string, sender string, workflow string) (Mapping, bool, error) {
	if err := l.ready(); err != nil {
		return Mapping{}, false, err
	}
	var original *string
	if originalID != nil {
		original = stringPtr(*originalID)
	}
	if original != nil {
		existing, err := l.Store.FindByOriginalMessageID(ctx, *original)
		if err == nil {
			return existing, false, nil
		}
		if !IsNotFound(err) {
			return Mapping{}, false, NewInternalError(err, "core: mapping lookup failed", map[string]any{"original_message_id": *original})
		}
	}
	mapping := Mapping{
		ID:                l.newID(),
		OriginalMessageID: original,
		Sender:            NormalizeEmail(sender),
		Workflow:          strings.ToLower(strings.TrimSpace(workflow)),
		Status:            MappingStatusPending,
		CreatedAt:         l.now(),
	}
	stored, created, err := l.Store.InsertMapping(ctx, mapping)
	if err != nil {
		return Mapping{}, false, NewInternalError(err, "core: mapping insert failed", map[string]any{"mapping_id": mapping.ID})
	}
	return stored, created, nil
}

// ClaimDispatch reports whether the caller owns the act phase of mappingID.
// A claim older than lease is considered abandoned and can be taken over.
func (l *MappingLedger) ClaimDispatch(ctx context.Context, mappingID string, lease time.Duration) (bool, error) {
	if err := l.ready(); err != nil {
		return false, err
	}
	if lease <= 0 {
		lease = DefaultDispatchLease
	}
	now := l.now()
	claimed, err := l.Store.ClaimDispatch(ctx, mappingID, now, now.Add(-lease))
	if err != nil {
		return false, NewInternalError(err, "core: claim dispatch failed", map[string]any{"mapping_id": mappingID})
	}
	return claimed, nil
}

// ReleaseDispatch drops an uncommitted claim so a redelivery can act again.
func (l *MappingLedger) ReleaseDispatch(ctx context.Context, mappingID string) error {
	if err := l.ready(); err != nil {
		return err
	}
	if err := l.Store.ReleaseDispatch(ctx, mappingID); err != nil {
		return NewInternalError(err, "core: release dispatch failed", map[string]any{"mapping_id": mappingID})
	}
	return nil
}

// MarkDispatched records the act phase as done, with the external id used to
// correlate the completion when there is one.
func (l *MappingLedger) MarkDispatched(ctx context.Context, mappingID string, externalID string) (bool, error) {
	if err := l.ready(); err != nil {
		return false, err
	}
	changed, err := l.Store.MarkDispatched(ctx, mappingID, strings.TrimSpace(externalID), l.now())
	if err != nil {
		return false, NewInternalError(err, "core: mark dispatched failed", map[string]any{"mapping_id": mappingID})
	}
	return changed, nil
}

// MarkAcknowledged moves a pending mapping to acknowledged. It never charges.
func (l *MappingLedger) MarkAcknowledged(ctx context.Context, mappingID string) (bool, error) {
	if err := l.ready(); err != nil {
		return false, err
	}
	changed, err := l.Store.MarkAcknowledged(ctx, mappingID)
	if err != nil {
		return false, NewInternalError(err, "core: mark acknowledged failed", map[string]any{"mapping_id": mappingID})
	}
	return changed, nil
}

// MarkCompleted reports false when the mapping was already completed.
func (l *MappingLedger) MarkCompleted(ctx context.Context, mappingID string, creditsCharged int) (bool, error) {
	if err := l.ready(); err != nil {
		return false, err
	}
	changed, err := l.Store.MarkCompleted(ctx, mappingID, creditsCharged, l.now())
	if err != nil {
		return false, NewInternalError(err, "core: mark completed failed", map[string]any{"mapping_id": mappingID})
	}
	return changed, nil
}

func (l *MappingLedger) Get(ctx context.Context, mappingID string) (Mapping, error) {
	if err := l.ready(); err != nil {
		return Mapping{}, err
	}
	return l.Store.GetMapping(ctx, mappingID)
}

func (l *MappingLedger) FindByExternalID(ctx context.Context, externalID string) (Mapping, error) {
	if err := l.ready(); err != nil {
		return Mapping{}, err
	}
	return l.Store.FindByExternalID(ctx, strings.TrimSpace(externalID))
}

// Correlate locates the mapping a reply belongs to: first by its In-Reply-To
// reference, then by a mapping marker in the text and html bodies.
func (l *MappingLedger) Correlate(ctx context.Context, inReplyTo string, bodies ...string) (Mapping, bool, error) {
	if err := l.ready(); err != nil {
		return Mapping{}, false, err
	}
	for _, reference := range messageReferences(inReplyTo) {
		mapping, err := l.Store.FindByReference(ctx, reference)
		if err == nil {
			return mapping, true, nil
		}
		if !IsNotFound(err) {
			return Mapping{}, false, NewInternalError(err, "core: mapping reference lookup failed", map[string]any{"in_reply_to": reference})
		}
	}
	for _, body := range bodies {
		mappingID, ok := ParseMappingToken(body)
		if !ok {
			continue
		}
		mapping, err := l.Store.GetMapping(ctx, mappingID)
		if err == nil {
			return mapping, true, nil
		}
		if !IsNotFound(err) {
			return Mapping{}, false, NewInternalError(err, "core: mapping lookup failed", map[string]any{"mapping_id": mappingID})
		}
	}
	return Mapping{}, false, nil
}

func messageReferences(inReplyTo string) []string {
	inReplyTo = strings.TrimSpace(inReplyTo)
	if inReplyTo == "" {
		return nil
	}
	refs := []string{inReplyTo}
	if bare := strings.TrimSuffix(strings.TrimPrefix(inReplyTo, "<"), ">"); bare != inReplyTo && bare != "" {
		refs = append(refs, bare)
	}
	return refs
}

func (l *MappingLedger) ready() error {
	if l == nil || l.Store == nil {
		return fmt.Errorf("core: mapping ledger is not configured")
	}
	return nil
}

func (l *MappingLedger) now() time.Time {
	if l != nil && l.Now != nil {
		return l.Now().UTC()
	}
	return time.Now().UTC()
}

func (l *MappingLedger) newID() string {
	if l != nil && l.NewID != nil {
		if id := strings.TrimSpace(l.NewID()); id != "" {
			return id
		}
	}
	return uuid.NewString()
}
