package agent

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"
	"github.com/spf13/cobra"

	"github.com/kagent-dev/jamf-agent/pkg/tools"
)

// NewToolsCmd creates the tools command group
func NewToolsCmd(opts *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "tools",
		Short: "Inspect the tools exposed by the tool provider",
	}
	cmd.AddCommand(newToolsListCmd(opts))
	return cmd
}

func newToolsListCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "Start the tool provider and list its tools",
		Long: `Connect to the configured tool provider, run discovery and print every
tool with its required parameters.

Examples:
  jamf-agent tools list
  JAMF_URL=https://example.jamfcloud.com jamf-agent tools list`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runToolsList(cmd.Context(), opts, cmd.OutOrStdout())
		},
	}
}

func runToolsList(ctx context.Context, opts *rootOptions, out io.Writer) error {
	a, err := opts.newApp()
	if err != nil {
		return err
	}
	defer opts.closeApp(a)

	if err := a.Bridge.Initialize(ctx); err != nil {
		return fmt.Errorf("failed to initialize tool provider: %w", err)
	}
	renderTools(out, a.Bridge.Tools())
	return nil
}

func renderTools(out io.Writer, descriptors []tools.Descriptor) {
	t := table.NewWriter()
	t.SetOutputMirror(out)
	t.SetStyle(table.StyleLight)
	t.AppendHeader(table.Row{"Name", "Required", "Description"})
	t.SetColumnConfigs([]table.ColumnConfig{
		{Number: 3, WidthMax: 72, AlignHeader: text.AlignLeft},
	})
	for _, d := range descriptors {
		t.AppendRow(table.Row{d.Name, strings.Join(d.Required, ", "), d.Description})
	}
	t.AppendFooter(table.Row{fmt.Sprintf("%d tools", len(descriptors))})
	t.Render()
}
