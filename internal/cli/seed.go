package cli

import (
	"context"
	"fmt"
	"strings"

	"github.com/goliatone/go-relay/adapters/gocommand"
	relaycommand "github.com/goliatone/go-relay/command"
	"github.com/goliatone/go-relay/core"
	"github.com/spf13/cobra"
)

type seedOptions struct {
	User    string
	Credits int
	Reason  string
	Approve []string
}

func NewSeedCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &seedOptions{}
	cmd := &cobra.Command{
		Use:   "seed",
		Short: "Upsert the default workflows and optionally a user with credits",
		Long: `Upsert the research, summarize and newsletter workflows. With --user,
also ensure the user exists, grant --credits and approve it as a sender for
the workflows named by --approve.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSeed(cmd.Context(), rootOpts, opts, cmd)
		},
	}
	cmd.Flags().StringVar(&opts.User, "user", "", "email of a user to create")
	cmd.Flags().IntVar(&opts.Credits, "credits", 0, "credits to grant the user")
	cmd.Flags().StringVar(&opts.Reason, "reason", "Seed grant", "ledger reason for the grant")
	cmd.Flags().StringSliceVar(&opts.Approve, "approve", nil, "workflows the user may use when they are private")
	return cmd
}

func runSeed(ctx context.Context, rootOpts *RootOptions, opts *seedOptions, cmd *cobra.Command) error {
	if opts.Credits < 0 {
		return fmt.Errorf("cli: --credits must not be negative")
	}
	if opts.User == "" && (opts.Credits > 0 || len(opts.Approve) > 0) {
		return fmt.Errorf("cli: --credits and --approve need --user")
	}
	return withAccounts(ctx, rootOpts, cmd, func(ctx context.Context, rt *runtime) error {
		return seed(ctx, rt, opts, cmd)
	})
}

func seed(ctx context.Context, rt *runtime, opts *seedOptions, cmd *cobra.Command) error {
	seeder := rt.factory.Seeder()
	workflows, err := seeder.SeedWorkflows(ctx)
	if err != nil {
		return fmt.Errorf("cli: seed workflows: %w", err)
	}
	out := cmd.OutOrStdout()
	byName := map[string]core.Workflow{}
	for _, workflow := range workflows {
		byName[workflow.Name] = workflow
		fmt.Fprintf(out, "workflow %s (%d credits)\n", workflow.Name, workflow.CreditsPerTask)
	}

	if opts.User == "" {
		return nil
	}
	user, err := seeder.EnsureUser(ctx, opts.User)
	if err != nil {
		return fmt.Errorf("cli: ensure user: %w", err)
	}
	if opts.Credits > 0 {
		err := gocommand.Dispatch(ctx, relaycommand.GrantCreditsMessage{
			Email:  user.Email,
			Amount: opts.Credits,
			Reason: opts.Reason,
		})
		if err != nil {
			return fmt.Errorf("cli: grant credits: %w", err)
		}
	}
	for _, name := range opts.Approve {
		name = strings.ToLower(strings.TrimSpace(name))
		workflow, ok := byName[name]
		if !ok {
			stored, err := rt.factory.WorkflowStore().GetWorkflowByName(ctx, name)
			if err != nil {
				return fmt.Errorf("cli: approve %s: %w", name, err)
			}
			workflow = stored
		}
		if err := seeder.ApproveSender(ctx, workflow.ID, user.Email); err != nil {
			return fmt.Errorf("cli: approve %s: %w", name, err)
		}
	}
	rt.logger.Info("seeded user", "email", user.Email, "credits_granted", opts.Credits)
	fmt.Fprintf(out, "user %s\n", user.Email)
	return nil
}
