package cli

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	relay "github.com/goliatone/go-relay"
	"github.com/goliatone/go-relay/adapters/gocommand"
	"github.com/goliatone/go-relay/adapters/gojob"
	"github.com/goliatone/go-relay/backend"
	relaycommand "github.com/goliatone/go-relay/command"
	"github.com/goliatone/go-relay/core"
	"github.com/goliatone/go-relay/inbound"
	"github.com/goliatone/go-relay/mail"
	"github.com/goliatone/go-relay/ratelimit"
	"github.com/goliatone/go-relay/server"
	"github.com/goliatone/go-relay/webhooks"
	"github.com/spf13/cobra"
)

type serveOptions struct {
	Addr string
}

func NewServeCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &serveOptions{}
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the webhook HTTP server",
		Long: `Apply migrations, then serve the inbound email webhook, the task
completion webhook and the health check until interrupted.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return runServe(ctx, rootOpts, opts, cmd)
		},
	}
	cmd.Flags().StringVar(&opts.Addr, "addr", "", "listen address, overrides http.addr")
	return cmd
}

// relayApp is the fully wired relay behind the HTTP server.
type relayApp struct {
	service   *core.Service
	facade    *relay.Facade
	verifier  *webhooks.SignatureVerifier
	processor *webhooks.Processor
	router    *inbound.Router
}

func buildApp(rt *runtime, mailer core.Mailer, taskBackend *backend.Client) (*relayApp, error) {
	cfg := rt.cfg
	svc, err := core.NewService(cfg,
		core.WithLoggerProvider(rt.provider),
		core.WithPersistenceClient(rt.client),
		core.WithRepositoryFactory(rt.factory),
		core.WithMailer(mailer),
		core.WithTaskBackend(taskBackend),
	)
	if err != nil {
		return nil, err
	}

	verifier := webhooks.NewSignatureVerifier(taskBackend)
	verifier.KeyTTL = cfg.Webhook.KeyTTLDuration()
	verifier.Tolerance = cfg.Webhook.ToleranceDuration()

	processor := webhooks.NewProcessor(verifier, rt.factory.DeliveryStore(), webhooks.ReconcilerHandler(svc.Reconciler()))
	processor.Logger = rt.provider.GetLogger("relay.webhooks")

	router := inbound.NewRouter(svc.Dispatcher(), svc.Reconciler(), cfg.Backend.ReplyDomain, cfg.Mail.RelayAddress)

	facade, err := relay.NewFacade(svc, relay.WithEmailRouter(router), relay.WithWebhookProcessor(processor))
	if err != nil {
		return nil, err
	}
	return &relayApp{
		service:   svc,
		facade:    facade,
		verifier:  verifier,
		processor: processor,
		router:    router,
	}, nil
}

func runServe(ctx context.Context, rootOpts *RootOptions, opts *serveOptions, cmd *cobra.Command) error {
	overrides := core.Config{}
	if opts.Addr != "" {
		overrides.HTTP.Addr = opts.Addr
	}
	rt, err := openRuntime(ctx, rootOpts, overrides, cmd.ErrOrStderr())
	if err != nil {
		return err
	}
	defer rt.Close()

	if err := rt.cfg.ValidateRuntime(); err != nil {
		return err
	}

	mailer := mail.NewSendGridMailer(rt.cfg.Mail.APIKey, rt.provider.GetLogger("relay.mail"))
	taskBackend := backend.NewClient(backend.ConfigFrom(rt.cfg), &http.Client{Timeout: rt.cfg.Transport.TimeoutDuration()})
	taskBackend.Throttle = ratelimit.NewAdaptivePolicy(ratelimit.NewMemoryStateStore())
	app, err := buildApp(rt, mailer, taskBackend)
	if err != nil {
		return err
	}

	srv, subs, err := newHTTPServer(rt, app)
	if err != nil {
		return err
	}
	defer subs.Unsubscribe()

	startKeyRefresh(ctx, rt, app.verifier)
	return srv.Start(ctx)
}

// newHTTPServer subscribes the webhook commands and builds a server whose
// routes reach them through the dispatcher.
func newHTTPServer(rt *runtime, app *relayApp) (*server.Server, gocommand.Subscriptions, error) {
	commands := app.facade.Commands()
	subs, err := gocommand.RegisterRelay(gocommand.NewRegistryAdapter(nil), gocommand.Handlers{
		HandleInboundEmail: commands.HandleInboundEmail,
		HandleTaskWebhook:  commands.HandleTaskWebhook,
	})
	if err != nil {
		return nil, nil, fmt.Errorf("cli: register commands: %w", err)
	}
	srv, err := server.New(server.ConfigFrom(rt.cfg), server.Dependencies{
		InboundEmail: gocommand.DispatchCommander[relaycommand.HandleInboundEmailMessage](),
		TaskWebhook:  gocommand.DispatchCommander[relaycommand.HandleTaskWebhookMessage](),
		Database:     rt.client.DB(),
		Logger:       rt.provider.GetLogger("relay.http"),
	})
	if err != nil {
		subs.Unsubscribe()
		return nil, nil, err
	}
	return srv, subs, nil
}

// startKeyRefresh keeps the verification key warm through the job queue.
func startKeyRefresh(ctx context.Context, rt *runtime, verifier *webhooks.SignatureVerifier) {
	logger := rt.provider.GetLogger("relay.jobs")
	queue := gojob.NewMemoryQueue(8)
	worker := gojob.NewKeyRefreshWorker(queue, verifier, gojob.DefaultRetryPolicy(), logger)
	interval := rt.cfg.Webhook.KeyTTLDuration()
	scheduler := gojob.NewEnqueuerAdapter(queue, interval)

	go func() {
		if err := worker.Run(ctx); err != nil {
			logger.Error("key refresh worker stopped", "error", err)
		}
	}()
	go func() {
		scheduler.Schedule(ctx, interval, logger)
		queue.Close()
	}()
}
