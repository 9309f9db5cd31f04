package core

import (
	"strings"
	"time"
)

type MappingStatus string

const (
	MappingStatusPending      MappingStatus = "pending"
	MappingStatusAcknowledged MappingStatus = "acknowledged"
	MappingStatusCompleted    MappingStatus = "completed"
)

type WorkflowKind string

const (
	WorkflowKindNative WorkflowKind = "native"
	WorkflowKindAPI    WorkflowKind = "api"
)

type WorkflowVisibility string

const (
	WorkflowVisibilityPublic  WorkflowVisibility = "public"
	WorkflowVisibilityPrivate WorkflowVisibility = "private"
)

type User struct {
	ID        string
	Email     string
	Credits   int
	Approved  bool
	CreatedAt time.Time
}

type Workflow struct {
	ID               string
	Name             string
	Kind             WorkflowKind
	Visibility       WorkflowVisibility
	Active           bool
	CreditsPerTask   int
	Instruction      string
	Description      string
	ExecutionAddress string
	OwnerID          *string
	CreatedAt        time.Time
}

func (w Workflow) Private() bool {
	return w.Visibility == WorkflowVisibilityPrivate
}

// OwnedBy reports whether userID is the workflow owner. Unowned workflows have no owner.
func (w Workflow) OwnedBy(userID string) bool {
	if w.OwnerID == nil {
		return false
	}
	owner := strings.TrimSpace(*w.OwnerID)
	return owner != "" && owner == strings.TrimSpace(userID)
}

type ApprovedSender struct {
	WorkflowID string
	Email      string
	CreatedAt  time.Time
}

type Mapping struct {
	ID                string
	OriginalMessageID *string
	ExternalID        *string
	Sender            string
	Workflow          string
	Status            MappingStatus
	CreditsCharged    *int
	CreatedAt         time.Time
	CompletedAt       *time.Time
	// DispatchClaimedAt is set while one delivery owns the act phase.
	DispatchClaimedAt *time.Time
	DispatchedAt      *time.Time
}

func (m Mapping) Completed() bool {
	return m.Status == MappingStatusCompleted
}

// Dispatched reports whether the act phase of dispatch has been committed.
func (m Mapping) Dispatched() bool {
	return m.DispatchedAt != nil || (m.ExternalID != nil && strings.TrimSpace(*m.ExternalID) != "")
}

func (m Mapping) OriginalID() string {
	if m.OriginalMessageID == nil {
		return ""
	}
	return *m.OriginalMessageID
}

type Transaction struct {
	ID        string
	UserID    string
	Delta     int
	Reason    string
	MappingID *string
	CreatedAt time.Time
}

type Attachment struct {
	Filename    string
	ContentType string
	Content     []byte
}

// InboundEmail is the normalized form of a provider inbound parse post.
type InboundEmail struct {
	From        string
	To          string
	Subject     string
	Text        string
	HTML        string
	MessageID   string
	InReplyTo   string
	Attachments []Attachment
}

type OutboundEmail struct {
	From        string
	To          string
	Subject     string
	Text        string
	HTML        string
	Attachments []Attachment
	Headers     map[string]string
	InReplyTo   string
}

type CreateTaskRequest struct {
	Prompt       string
	AgentProfile string
	Attachments  []Attachment
}

type Task struct {
	ID    string
	Title string
	URL   string
}

type TaskOutputContent struct {
	Text    string
	FileURL string
}

type TaskOutput struct {
	Content []TaskOutputContent
}

type TaskStatus struct {
	ID          string
	Status      string
	CreditUsage int
	Output      []TaskOutput
}

const (
	WebhookEventTaskStopped = "task_stopped"
	WebhookEventPing        = "ping"

	StopReasonFinish = "finish"
	StopReasonAsk    = "ask"
)

type WebhookAttachment struct {
	FileName  string
	URL       string
	SizeBytes int64
}

// WebhookEvent is a verified completion notice from the task backend.
type WebhookEvent struct {
	EventID     string
	EventType   string
	TaskID      string
	TaskTitle   string
	TaskURL     string
	Message     string
	StopReason  string
	Attachments []WebhookAttachment
}

type CompletionChannel string

const (
	CompletionChannelEmail   CompletionChannel = "email"
	CompletionChannelWebhook CompletionChannel = "webhook"
)

// CompletionEvent carries exactly one of Reply or Webhook, selected by Channel.
type CompletionEvent struct {
	Channel CompletionChannel
	Reply   *InboundEmail
	Webhook *WebhookEvent
}

func EmailCompletion(reply InboundEmail) CompletionEvent {
	return CompletionEvent{Channel: CompletionChannelEmail, Reply: &reply}
}

func WebhookCompletion(event WebhookEvent) CompletionEvent {
	return CompletionEvent{Channel: CompletionChannelWebhook, Webhook: &event}
}

type ReconcileOutcome string

const (
	ReconcileCompleted        ReconcileOutcome = "completed"
	ReconcileAcknowledged     ReconcileOutcome = "acknowledged"
	ReconcileAlreadyCompleted ReconcileOutcome = "already_completed"
	ReconcileUnmatched        ReconcileOutcome = "unmatched"
	ReconcileSkipped          ReconcileOutcome = "skipped"
	ReconcileIgnored          ReconcileOutcome = "ignored"
)

type ReconcileResult struct {
	Outcome        ReconcileOutcome
	MappingID      string
	CreditsCharged int
	Debit          DebitOutcome
}

type DispatchOutcome string

const (
	DispatchForwarded DispatchOutcome = "forwarded"
	DispatchSubmitted DispatchOutcome = "submitted"
	DispatchRejected  DispatchOutcome = "rejected"
	DispatchDuplicate DispatchOutcome = "duplicate"
	DispatchFailed    DispatchOutcome = "failed"
)

type DispatchResult struct {
	Outcome    DispatchOutcome
	MappingID  string
	ExternalID string
	Rejection  *Rejection
}

type DebitOutcome string

const (
	DebitApplied      DebitOutcome = "applied"
	DebitInsufficient DebitOutcome = "insufficient"
	DebitDuplicate    DebitOutcome = "duplicate"
	DebitSkipped      DebitOutcome = "skipped"
)

type DebitRequest struct {
	UserID    string
	Amount    int
	Reason    string
	MappingID string
}

// NormalizeEmail lowercases and trims an address for identity comparisons.
func NormalizeEmail(address string) string {
	return strings.ToLower(strings.TrimSpace(address))
}

// RoutingKey returns the lowercased local part of a destination address.
func RoutingKey(address string) string {
	address = NormalizeEmail(address)
	if idx := strings.Index(address, "@"); idx >= 0 {
		address = address[:idx]
	}
	return strings.TrimSpace(address)
}

func stringPtr(value string) *string {
	value = strings.TrimSpace(value)
	if value == "" {
		return nil
	}
	return &value
}

// InboundRequest is a raw provider callback as received by the HTTP surface.
type InboundRequest struct {
	ProviderID string
	URL        string
	Headers    map[string]string
	Body       []byte
	Metadata   map[string]any
}

type InboundResult struct {
	Accepted   bool
	StatusCode int
	Metadata   map[string]any
}
