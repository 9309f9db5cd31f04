package sqlstore

import (
	"github.com/goliatone/go-relay/core"
	"github.com/goliatone/go-relay/webhooks"
)

var (
	_ core.UserStore              = (*UserStore)(nil)
	_ core.WorkflowStore          = (*WorkflowStore)(nil)
	_ core.ApprovedSenderStore    = (*ApprovedSenderStore)(nil)
	_ core.MappingStore           = (*MappingStore)(nil)
	_ core.CreditStore            = (*CreditStore)(nil)
	_ webhooks.DeliveryLedger     = (*WebhookDeliveryStore)(nil)
	_ core.WorkflowStore          = (*CachedWorkflowStore)(nil)
	_ workflowWriter              = (*CachedWorkflowStore)(nil)
	_ core.StoreProvider          = (*RepositoryFactory)(nil)
	_ core.RepositoryStoreFactory = (*RepositoryFactory)(nil)
)
