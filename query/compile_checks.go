package query

import (
	gocmd "github.com/goliatone/go-command"
	"github.com/goliatone/go-relay/core"
)

var (
	_ gocmd.Querier[GetMappingMessage, core.Mapping]     = (*GetMappingQuery)(nil)
	_ gocmd.Querier[CreditHistoryMessage, CreditHistory] = (*CreditHistoryQuery)(nil)
)
