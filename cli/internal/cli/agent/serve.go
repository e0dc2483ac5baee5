package agent

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

// NewServeCmd creates the serve command
func NewServeCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Serve Slack traffic",
		Long: `Start the HTTP server that receives Slack Events API deliveries and slash
commands on POST /slack/events. The server also exposes /health, /info and
/metrics.

SLACK_SIGNING_SECRET and SLACK_BOT_TOKEN must be set.

Examples:
  jamf-agent serve
  jamf-agent serve --config jamf-agent.yaml --log-level debug`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context(), opts)
		},
	}
}

func runServe(ctx context.Context, opts *rootOptions) error {
	log := opts.log

	a, err := opts.newApp()
	if err != nil {
		return err
	}
	defer opts.closeApp(a)

	server, err := a.Build(ctx)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		log.Info("Starting jamf-agent", "addr", server.Addr,
			"provider", opts.cfg.Agent.Provider, "model", opts.cfg.Agent.Model,
			"command", opts.cfg.Slack.Command, "environment", opts.cfg.Tools.Environment)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	g.Go(func() error {
		return a.Sessions.RunPruner(gctx, opts.cfg.Sessions.PruneInterval)
	})

	g.Go(func() error {
		<-gctx.Done()
		log.Info("Shutting down")

		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), opts.cfg.Server.ShutdownTimeout)
		defer cancel()
		err := server.Shutdown(shutdownCtx)

		// Slack events accepted before shutdown are still answered.
		a.Wait()
		log.Info("Stopped")
		return err
	})

	return g.Wait()
}
