package agent

import (
	"context"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/briandowns/spinner"
	"github.com/fatih/color"
	"github.com/muesli/reflow/wordwrap"
	"github.com/spf13/cobra"

	"github.com/kagent-dev/jamf-agent/pkg/executor"
	"github.com/kagent-dev/jamf-agent/pkg/llm"
)

// AskConfig holds configuration for the ask command
type AskConfig struct {
	Stream    bool
	SessionID string
	Width     int
}

// NewAskCmd creates the ask command
func NewAskCmd(opts *rootOptions) *cobra.Command {
	cfg := &AskConfig{}

	cmd := &cobra.Command{
		Use:   "ask [request]",
		Short: "Send a single request from the terminal",
		Long: `Send one natural-language request through the same agent the Slack
integration uses and print the answer.

Without --session each invocation uses a fresh session.

Examples:
  jamf-agent ask "find devices in conference room"
  jamf-agent ask --stream "show OS version distribution"
  jamf-agent ask --session U123_C456 "and which of them are offline?"`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runAsk(cmd.Context(), opts, cfg, args[0], cmd.OutOrStdout(), cmd.ErrOrStderr())
		},
	}

	cmd.Flags().BoolVar(&cfg.Stream, "stream", false, "Print the answer as it is generated")
	cmd.Flags().StringVar(&cfg.SessionID, "session", "", "Session id to continue")
	cmd.Flags().IntVar(&cfg.Width, "width", 100, "Wrap the answer at this many columns; 0 disables wrapping")

	return cmd
}

func runAsk(ctx context.Context, opts *rootOptions, cfg *AskConfig, request string, out, errOut io.Writer) error {
	a, err := opts.newApp()
	if err != nil {
		return err
	}
	defer opts.closeApp(a)

	if cfg.Stream {
		return streamAnswer(ctx, a.Relay, cfg.SessionID, request, out, errOut)
	}

	s := spinner.New(spinner.CharSets[14], 100*time.Millisecond, spinner.WithWriter(errOut))
	s.Suffix = " Thinking..."
	if f, ok := errOut.(*os.File); ok && isTerminal(f) {
		s.Start()
	}
	resp, err := a.Dispatcher.Process(ctx, request, cfg.SessionID)
	s.Stop()
	if err != nil {
		return err
	}

	printAnswer(out, resp, cfg.Width)
	return nil
}

func printAnswer(out io.Writer, resp *executor.AgentResponse, width int) {
	text := resp.Output
	if width > 0 {
		text = wordwrap.String(text, width)
	}
	fmt.Fprintln(out, text)

	if len(resp.Trace) > 0 {
		faint := color.New(color.Faint)
		fmt.Fprintln(out)
		for _, inv := range resp.Trace {
			faint.Fprintf(out, "  • %s\n", inv.Name)
		}
	}
	color.New(color.FgHiBlack).Fprintf(out, "session: %s\n", resp.SessionID)
}

func streamAnswer(ctx context.Context, relay *executor.Relay, sessionID, request string, out, errOut io.Writer) error {
	tool := color.New(color.FgYellow)
	for chunk, err := range relay.ProcessStreaming(ctx, request, sessionID) {
		if err != nil {
			fmt.Fprintln(out)
			return err
		}
		switch chunk.Type {
		case llm.ChunkContent:
			fmt.Fprint(out, chunk.Text)
		case llm.ChunkToolUse:
			if chunk.Tool != nil {
				tool.Fprintf(errOut, "\n→ %s\n", chunk.Tool.Name)
			}
		}
	}
	fmt.Fprintln(out)
	return nil
}

func isTerminal(f *os.File) bool {
	info, err := f.Stat()
	if err != nil {
		return false
	}
	return info.Mode()&os.ModeCharDevice != 0
}
