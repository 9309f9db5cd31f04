package sqlstore

import (
	"time"

	"github.com/uptrace/bun"
)

type userRecord struct {
	bun.BaseModel `bun:"table:relay_users,alias:ru"`

	ID        string    `bun:"id,pk"`
	Email     string    `bun:"email,notnull"`
	Credits   int       `bun:"credits,notnull"`
	Approved  bool      `bun:"approved,notnull"`
	CreatedAt time.Time `bun:"created_at,nullzero,notnull,default:current_timestamp"`
	UpdatedAt time.Time `bun:"updated_at,nullzero,notnull,default:current_timestamp"`
}

type workflowRecord struct {
	bun.BaseModel `bun:"table:relay_workflows,alias:rw"`

	ID               string    `bun:"id,pk"`
	Name             string    `bun:"name,notnull"`
	Kind             string    `bun:"kind,notnull"`
	Visibility       string    `bun:"visibility,notnull"`
	Active           bool      `bun:"active,notnull"`
	CreditsPerTask   int       `bun:"credits_per_task,notnull"`
	Instruction      string    `bun:"instruction,notnull"`
	Description      string    `bun:"description,notnull"`
	ExecutionAddress string    `bun:"execution_address,notnull"`
	OwnerID          *string   `bun:"owner_id"`
	CreatedAt        time.Time `bun:"created_at,nullzero,notnull,default:current_timestamp"`
	UpdatedAt        time.Time `bun:"updated_at,nullzero,notnull,default:current_timestamp"`
}

type approvedSenderRecord struct {
	bun.BaseModel `bun:"table:relay_approved_senders,alias:ras"`

	ID         string    `bun:"id,pk"`
	WorkflowID string    `bun:"workflow_id,notnull"`
	Email      string    `bun:"email,notnull"`
	CreatedAt  time.Time `bun:"created_at,nullzero,notnull,default:current_timestamp"`
}

type mappingRecord struct {
	bun.BaseModel `bun:"table:relay_mappings,alias:rm"`

	ID                string     `bun:"id,pk"`
	OriginalMessageID *string    `bun:"original_message_id"`
	ExternalID        *string    `bun:"external_id"`
	Sender            string     `bun:"sender,notnull"`
	Workflow          string     `bun:"workflow,notnull"`
	Status            string     `bun:"status,notnull"`
	CreditsCharged    *int       `bun:"credits_charged"`
	CreatedAt         time.Time  `bun:"created_at,nullzero,notnull,default:current_timestamp"`
	CompletedAt       *time.Time `bun:"completed_at,nullzero"`
	DispatchClaimedAt *time.Time `bun:"dispatch_claimed_at,nullzero"`
	DispatchedAt      *time.Time `bun:"dispatched_at,nullzero"`
}

type transactionRecord struct {
	bun.BaseModel `bun:"table:relay_transactions,alias:rt"`

	ID        string    `bun:"id,pk"`
	UserID    string    `bun:"user_id,notnull"`
	Delta     int       `bun:"delta,notnull"`
	Reason    string    `bun:"reason,notnull"`
	MappingID *string   `bun:"mapping_id"`
	CreatedAt time.Time `bun:"created_at,nullzero,notnull,default:current_timestamp"`
}

type webhookDeliveryRecord struct {
	bun.BaseModel `bun:"table:relay_webhook_deliveries,alias:rwd"`

	ID            string     `bun:"id,pk"`
	ProviderID    string     `bun:"provider_id,notnull"`
	DeliveryID    string     `bun:"delivery_id,notnull"`
	Status        string     `bun:"status,notnull"`
	Attempts      int        `bun:"attempts,notnull"`
	LastError     string     `bun:"last_error,notnull"`
	NextAttemptAt *time.Time `bun:"next_attempt_at,nullzero"`
	Payload       []byte     `bun:"payload"`
	CreatedAt     time.Time  `bun:"created_at,nullzero,notnull,default:current_timestamp"`
	UpdatedAt     time.Time  `bun:"updated_at,nullzero,notnull,default:current_timestamp"`
}
