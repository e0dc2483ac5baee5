package agent

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"

	"github.com/kagent-dev/jamf-agent/pkg/session"
)

// NewSessionsCmd creates the sessions command group
func NewSessionsCmd(opts *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "sessions",
		Short: "Inspect and prune conversation sessions",
	}
	cmd.AddCommand(newSessionsListCmd(opts))
	cmd.AddCommand(newSessionsPruneCmd(opts))
	return cmd
}

func newSessionsListCmd(opts *rootOptions) *cobra.Command {
	var limit int

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List sessions, most recently used first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := opts.newApp()
			if err != nil {
				return err
			}
			defer opts.closeApp(a)

			sessions, err := a.Sessions.List(cmd.Context(), limit)
			if err != nil {
				return fmt.Errorf("failed to list sessions: %w", err)
			}
			renderSessions(cmd.OutOrStdout(), sessions)
			return nil
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 50, "Maximum number of sessions to show; 0 shows all")
	return cmd
}

func newSessionsPruneCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "prune",
		Short: "Delete sessions idle for longer than sessions.ttl",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSessionsPrune(cmd.Context(), opts, cmd.OutOrStdout())
		},
	}
}

func runSessionsPrune(ctx context.Context, opts *rootOptions, out io.Writer) error {
	a, err := opts.newApp()
	if err != nil {
		return err
	}
	defer opts.closeApp(a)

	n, err := a.Sessions.Prune(ctx)
	if err != nil {
		return fmt.Errorf("failed to prune sessions: %w", err)
	}
	fmt.Fprintf(out, "Pruned %d sessions idle for more than %s\n", n, opts.cfg.Sessions.TTL)
	return nil
}

func renderSessions(out io.Writer, sessions []*session.Session) {
	t := table.NewWriter()
	t.SetOutputMirror(out)
	t.SetStyle(table.StyleLight)
	t.AppendHeader(table.Row{"Session", "User", "Channel", "Created", "Last Accessed"})
	for _, s := range sessions {
		t.AppendRow(table.Row{
			s.ID,
			s.UserID,
			s.ChannelID,
			s.CreatedAt.Local().Format(time.DateTime),
			s.LastAccessed.Local().Format(time.DateTime),
		})
	}
	t.Render()
}
