package core

import (
	"context"
	"time"

	glog "github.com/goliatone/go-logger/glog"
)

type UserStore interface {
	GetUser(ctx context.Context, id string) (User, error)
	GetUserByEmail(ctx context.Context, email string) (User, error)
}

type WorkflowStore interface {
	GetWorkflowByName(ctx context.Context, name string) (Workflow, error)
	ListPublicWorkflows(ctx context.Context) ([]Workflow, error)
}

type ApprovedSenderStore interface {
	IsApprovedSender(ctx context.Context, workflowID string, email string) (bool, error)
}

// MappingStore persists request mappings. Every mutation is a single
// conditional statement so concurrent instances agree on the outcome.
type MappingStore interface {
	GetMapping(ctx context.Context, id string) (Mapping, error)
	FindByOriginalMessageID(ctx context.Context, messageID string) (Mapping, error)
	FindByExternalID(ctx context.Context, externalID string) (Mapping, error)
	// FindByReference matches messageID against the original or the external id.
	FindByReference(ctx context.Context, messageID string) (Mapping, error)
	// InsertMapping returns the stored row and false when a row with the same
	// original message id already exists.
	InsertMapping(ctx context.Context, mapping Mapping) (Mapping, bool, error)
	// ClaimDispatch takes the act phase of an undispatched pending mapping. It
	// reports false when another delivery holds a claim newer than staleBefore.
	ClaimDispatch(ctx context.Context, mappingID string, claimedAt time.Time, staleBefore time.Time) (bool, error)
	ReleaseDispatch(ctx context.Context, mappingID string) error
	// MarkDispatched commits the act phase once. externalID may be empty.
	MarkDispatched(ctx context.Context, mappingID string, externalID string, dispatchedAt time.Time) (bool, error)
	MarkAcknowledged(ctx context.Context, mappingID string) (bool, error)
	MarkCompleted(ctx context.Context, mappingID string, creditsCharged int, completedAt time.Time) (bool, error)
}

// CreditStore applies balance changes and their ledger rows atomically.
type CreditStore interface {
	Debit(ctx context.Context, req DebitRequest) (DebitOutcome, error)
	Grant(ctx context.Context, userID string, amount int, reason string) (Transaction, error)
	ListTransactions(ctx context.Context, userID string) ([]Transaction, error)
}

type Mailer interface {
	Send(ctx context.Context, email OutboundEmail) (string, error)
}

type TaskBackend interface {
	CreateTask(ctx context.Context, req CreateTaskRequest) (Task, error)
	GetTask(ctx context.Context, taskID string) (TaskStatus, error)
	DownloadAttachment(ctx context.Context, url string) ([]byte, error)
}

type Logger = glog.Logger

type LoggerProvider = glog.LoggerProvider

type FieldsLogger = glog.FieldsLogger

// ResolveLogger returns a usable logger named name, falling back to a no-op logger.
func ResolveLogger(name string, provider LoggerProvider, logger Logger) Logger {
	_, resolved := glog.Resolve(name, provider, logger)
	return glog.Ensure(resolved)
}
