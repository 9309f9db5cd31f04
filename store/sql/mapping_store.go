package sqlstore

import (
	"context"
	"fmt"
	"strings"
	"time"

	repository "github.com/goliatone/go-repository-bun"
	"github.com/goliatone/go-relay/core"
	"github.com/uptrace/bun"
)

// MappingStore keeps request mappings. Status transitions are conditional
// updates so that concurrent reconcilers observe a single winner.
type MappingStore struct {
	db   *bun.DB
	repo repository.Repository[*mappingRecord]
}

func NewMappingStore(db *bun.DB) (*MappingStore, error) {
	repo, err := newRepository(db, "mapping", mappingHandlers())
	if err != nil {
		return nil, err
	}
	return &MappingStore{db: db, repo: repo}, nil
}

func (s *MappingStore) GetMapping(ctx context.Context, id string) (core.Mapping, error) {
	return s.findBy(ctx, "id", id)
}

func (s *MappingStore) FindByOriginalMessageID(ctx context.Context, messageID string) (core.Mapping, error) {
	return s.findBy(ctx, "original_message_id", messageID)
}

func (s *MappingStore) FindByExternalID(ctx context.Context, externalID string) (core.Mapping, error) {
	return s.findBy(ctx, "external_id", externalID)
}

func (s *MappingStore) FindByReference(ctx context.Context, messageID string) (core.Mapping, error) {
	if s == nil || s.db == nil {
		return core.Mapping{}, errNotConfigured
	}
	messageID = strings.TrimSpace(messageID)
	if messageID == "" {
		return core.Mapping{}, fmt.Errorf("%w: empty message reference", core.ErrNotFound)
	}
	record := &mappingRecord{}
	query := s.db.NewSelect().
		Model(record).
		WhereGroup(" AND ", func(q *bun.SelectQuery) *bun.SelectQuery {
			return q.Where("?TableAlias.original_message_id = ?", messageID).
				WhereOr("?TableAlias.external_id = ?", messageID)
		}).
		OrderExpr("?TableAlias.created_at DESC")
	if err := selectOne(ctx, query, "mapping reference", messageID); err != nil {
		return core.Mapping{}, err
	}
	return mappingToDomain(record), nil
}

// InsertMapping stores mapping unless a row with the same original message id
// exists, in which case the existing row is returned with inserted=false.
func (s *MappingStore) InsertMapping(ctx context.Context, mapping core.Mapping) (core.Mapping, bool, error) {
	if s == nil || s.repo == nil {
		return core.Mapping{}, false, errNotConfigured
	}
	record := mappingFromDomain(mapping)
	if record.ID == "" {
		return core.Mapping{}, false, core.NewBadInputError("sqlstore: mapping id is required", nil)
	}
	if record.OriginalMessageID != nil {
		existing, err := s.FindByOriginalMessageID(ctx, *record.OriginalMessageID)
		if err == nil {
			return existing, false, nil
		}
		if !core.IsNotFound(err) {
			return core.Mapping{}, false, err
		}
	}
	created, err := s.repo.Create(ctx, record)
	if err != nil {
		if isUniqueViolation(err) && record.OriginalMessageID != nil {
			existing, getErr := s.FindByOriginalMessageID(ctx, *record.OriginalMessageID)
			if getErr != nil {
				return core.Mapping{}, false, getErr
			}
			return existing, false, nil
		}
		return core.Mapping{}, false, err
	}
	return mappingToDomain(created), true, nil
}

// ClaimDispatch stamps the claim on an undispatched pending mapping whose
// previous claim, if any, is older than staleBefore. Only one writer sees an
// affected row.
func (s *MappingStore) ClaimDispatch(ctx context.Context, mappingID string, claimedAt time.Time, staleBefore time.Time) (bool, error) {
	if s == nil || s.db == nil {
		return false, errNotConfigured
	}
	res, err := s.db.NewUpdate().
		Model((*mappingRecord)(nil)).
		Set("dispatch_claimed_at = ?", claimedAt.UTC()).
		Where("id = ?", strings.TrimSpace(mappingID)).
		Where("status = ?", string(core.MappingStatusPending)).
		Where("dispatched_at IS NULL").
		Where("(external_id IS NULL OR external_id = '')").
		WhereGroup(" AND ", func(q *bun.UpdateQuery) *bun.UpdateQuery {
			return q.Where("dispatch_claimed_at IS NULL").
				WhereOr("dispatch_claimed_at < ?", staleBefore.UTC())
		}).
		Exec(ctx)
	if err != nil {
		return false, err
	}
	affected, _ := res.RowsAffected()
	return affected == 1, nil
}

func (s *MappingStore) ReleaseDispatch(ctx context.Context, mappingID string) error {
	if s == nil || s.db == nil {
		return errNotConfigured
	}
	_, err := s.db.NewUpdate().
		Model((*mappingRecord)(nil)).
		Set("dispatch_claimed_at = NULL").
		Where("id = ?", strings.TrimSpace(mappingID)).
		Where("dispatched_at IS NULL").
		Exec(ctx)
	return err
}

// MarkDispatched commits the act phase. An empty externalID leaves the
// column untouched.
func (s *MappingStore) MarkDispatched(ctx context.Context, mappingID string, externalID string, dispatchedAt time.Time) (bool, error) {
	if s == nil || s.db == nil {
		return false, errNotConfigured
	}
	query := s.db.NewUpdate().
		Model((*mappingRecord)(nil)).
		Set("dispatched_at = ?", dispatchedAt.UTC()).
		Where("id = ?", strings.TrimSpace(mappingID)).
		Where("dispatched_at IS NULL")
	if externalID = strings.TrimSpace(externalID); externalID != "" {
		query = query.Set("external_id = ?", externalID)
	}
	res, err := query.Exec(ctx)
	if err != nil {
		return false, err
	}
	affected, _ := res.RowsAffected()
	return affected == 1, nil
}

// MarkAcknowledged moves a pending mapping to acknowledged. It reports false
// when the mapping is missing or no longer pending.
func (s *MappingStore) MarkAcknowledged(ctx context.Context, mappingID string) (bool, error) {
	if s == nil || s.db == nil {
		return false, errNotConfigured
	}
	res, err := s.db.NewUpdate().
		Model((*mappingRecord)(nil)).
		Set("status = ?", string(core.MappingStatusAcknowledged)).
		Where("id = ?", strings.TrimSpace(mappingID)).
		Where("status = ?", string(core.MappingStatusPending)).
		Exec(ctx)
	if err != nil {
		return false, err
	}
	affected, _ := res.RowsAffected()
	return affected == 1, nil
}

// MarkCompleted completes a mapping exactly once. It reports false when
// another writer completed it first.
func (s *MappingStore) MarkCompleted(ctx context.Context, mappingID string, creditsCharged int, completedAt time.Time) (bool, error) {
	if s == nil || s.db == nil {
		return false, errNotConfigured
	}
	res, err := s.db.NewUpdate().
		Model((*mappingRecord)(nil)).
		Set("status = ?", string(core.MappingStatusCompleted)).
		Set("credits_charged = ?", creditsCharged).
		Set("completed_at = ?", completedAt.UTC()).
		Where("id = ?", strings.TrimSpace(mappingID)).
		Where("status <> ?", string(core.MappingStatusCompleted)).
		Exec(ctx)
	if err != nil {
		return false, err
	}
	affected, _ := res.RowsAffected()
	return affected == 1, nil
}

func (s *MappingStore) findBy(ctx context.Context, column string, value string) (core.Mapping, error) {
	if s == nil || s.db == nil {
		return core.Mapping{}, errNotConfigured
	}
	value = strings.TrimSpace(value)
	if value == "" {
		return core.Mapping{}, fmt.Errorf("%w: empty mapping %s", core.ErrNotFound, column)
	}
	record := &mappingRecord{}
	query := s.db.NewSelect().Model(record).Where("?TableAlias.? = ?", bun.Ident(column), value)
	if err := selectOne(ctx, query, "mapping "+column, value); err != nil {
		return core.Mapping{}, err
	}
	return mappingToDomain(record), nil
}

func mappingToDomain(record *mappingRecord) core.Mapping {
	if record == nil {
		return core.Mapping{}
	}
	mapping := core.Mapping{
		ID:                record.ID,
		OriginalMessageID: trimmedPtr(record.OriginalMessageID),
		ExternalID:        trimmedPtr(record.ExternalID),
		Sender:            record.Sender,
		Workflow:          record.Workflow,
		Status:            core.MappingStatus(record.Status),
		CreatedAt:         record.CreatedAt,
	}
	if record.CreditsCharged != nil {
		value := *record.CreditsCharged
		mapping.CreditsCharged = &value
	}
	if record.CompletedAt != nil {
		value := record.CompletedAt.UTC()
		mapping.CompletedAt = &value
	}
	if record.DispatchClaimedAt != nil {
		value := record.DispatchClaimedAt.UTC()
		mapping.DispatchClaimedAt = &value
	}
	if record.DispatchedAt != nil {
		value := record.DispatchedAt.UTC()
		mapping.DispatchedAt = &value
	}
	return mapping
}

func mappingFromDomain(mapping core.Mapping) *mappingRecord {
	status := mapping.Status
	if status == "" {
		status = core.MappingStatusPending
	}
	createdAt := mapping.CreatedAt
	if createdAt.IsZero() {
		createdAt = nowUTC()
	}
	return &mappingRecord{
		ID:                strings.TrimSpace(mapping.ID),
		OriginalMessageID: trimmedPtr(mapping.OriginalMessageID),
		ExternalID:        trimmedPtr(mapping.ExternalID),
		Sender:            core.NormalizeEmail(mapping.Sender),
		Workflow:          strings.TrimSpace(mapping.Workflow),
		Status:            string(status),
		CreditsCharged:    mapping.CreditsCharged,
		CreatedAt:         createdAt.UTC(),
		CompletedAt:       mapping.CompletedAt,
		DispatchClaimedAt: mapping.DispatchClaimedAt,
		DispatchedAt:      mapping.DispatchedAt,
	}
}
