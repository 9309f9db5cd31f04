package command

import gocmd "github.com/goliatone/go-command"

var (
	_ gocmd.Commander[HandleInboundEmailMessage] = (*HandleInboundEmailCommand)(nil)
	_ gocmd.Commander[HandleTaskWebhookMessage]  = (*HandleTaskWebhookCommand)(nil)
	_ gocmd.Commander[GrantCreditsMessage]       = (*GrantCreditsCommand)(nil)
)
