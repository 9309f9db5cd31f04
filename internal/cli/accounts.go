package cli

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/goliatone/go-relay/adapters/gocommand"
	relaycommand "github.com/goliatone/go-relay/command"
	"github.com/goliatone/go-relay/core"
	relayquery "github.com/goliatone/go-relay/query"
	"github.com/spf13/cobra"
)

// registerAccounts subscribes the operator commands and queries, which only
// need the stores.
func registerAccounts(rt *runtime) (gocommand.Subscriptions, error) {
	accounts := core.NewAccounts(
		rt.factory.UserStore(),
		core.NewCreditLedger(rt.factory.CreditStore()),
		core.NewMappingLedger(rt.factory.MappingStore()),
	)
	subs, err := gocommand.RegisterRelay(gocommand.NewRegistryAdapter(nil), gocommand.Handlers{
		GrantCredits:  relaycommand.NewGrantCreditsCommand(accounts),
		GetMapping:    relayquery.NewGetMappingQuery(accounts),
		CreditHistory: relayquery.NewCreditHistoryQuery(accounts),
	})
	if err != nil {
		return nil, fmt.Errorf("cli: register account commands: %w", err)
	}
	return subs, nil
}

// withAccounts opens the runtime, registers the account handlers and runs fn.
func withAccounts(ctx context.Context, rootOpts *RootOptions, cmd *cobra.Command, fn func(context.Context, *runtime) error) error {
	rt, err := openRuntime(ctx, rootOpts, core.Config{}, cmd.ErrOrStderr())
	if err != nil {
		return err
	}
	defer rt.Close()
	subs, err := registerAccounts(rt)
	if err != nil {
		return err
	}
	defer subs.Unsubscribe()
	return fn(ctx, rt)
}

func NewCreditsCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "credits <email>",
		Short: "Show a user's credit balance and ledger",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withAccounts(cmd.Context(), rootOpts, cmd, func(ctx context.Context, _ *runtime) error {
				history, err := gocommand.Query[relayquery.CreditHistoryMessage, relayquery.CreditHistory](ctx, relayquery.CreditHistoryMessage{Email: args[0]})
				if err != nil {
					return err
				}
				out := cmd.OutOrStdout()
				fmt.Fprintf(out, "user %s balance %d\n", history.User.Email, history.User.Credits)
				for _, txn := range history.Transactions {
					mapping := ""
					if txn.MappingID != nil {
						mapping = " mapping " + *txn.MappingID
					}
					fmt.Fprintf(out, "%s %+d %s%s\n", txn.CreatedAt.UTC().Format(time.RFC3339), txn.Delta, txn.Reason, mapping)
				}
				return nil
			})
		},
	}
}

func NewMappingCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "mapping <id>",
		Short: "Show one request mapping",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withAccounts(cmd.Context(), rootOpts, cmd, func(ctx context.Context, _ *runtime) error {
				mapping, err := gocommand.Query[relayquery.GetMappingMessage, core.Mapping](ctx, relayquery.GetMappingMessage{MappingID: strings.TrimSpace(args[0])})
				if err != nil {
					return err
				}
				out := cmd.OutOrStdout()
				fmt.Fprintf(out, "mapping %s\n", mapping.ID)
				fmt.Fprintf(out, "sender %s\nworkflow %s\nstatus %s\n", mapping.Sender, mapping.Workflow, mapping.Status)
				if mapping.ExternalID != nil {
					fmt.Fprintf(out, "external_id %s\n", *mapping.ExternalID)
				}
				if mapping.CreditsCharged != nil {
					fmt.Fprintf(out, "credits_charged %d\n", *mapping.CreditsCharged)
				}
				return nil
			})
		},
	}
}
