package agent

import (
	"fmt"

	"github.com/go-logr/logr"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/kagent-dev/jamf-agent/internal/config"
	"github.com/kagent-dev/jamf-agent/internal/logging"
	"github.com/kagent-dev/jamf-agent/pkg/app"
)

// rootOptions is shared by every subcommand. It is filled in by the root
// command's PersistentPreRunE.
type rootOptions struct {
	configFile string
	logLevel   string
	logFormat  string

	viper    *viper.Viper
	cfg      *config.Config
	log      logr.Logger
	flushLog func() error
}

// NewRootCmd creates the jamf-agent root command
func NewRootCmd() *cobra.Command {
	opts := &rootOptions{viper: viper.New()}

	cmd := &cobra.Command{
		Use:   "jamf-agent",
		Short: "Slack assistant for Jamf device management",
		Long: `jamf-agent answers natural-language questions about Apple devices managed
by Jamf Pro. It receives Slack slash commands, mentions and direct messages,
runs them through a language model with the Jamf MCP tools, and replies in
Slack.

Available subcommands:
  serve       Serve Slack traffic
  ask         Send a single request from the terminal
  tools       Inspect the tools exposed by the tool provider
  sessions    Inspect and prune conversation sessions
  config      Show the effective configuration

Examples:
  jamf-agent serve --config jamf-agent.yaml
  jamf-agent ask "find MacBooks in engineering"
  jamf-agent ask --stream "show devices with low storage"
  jamf-agent sessions prune`,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return opts.load(cmd)
		},
		PersistentPostRunE: func(cmd *cobra.Command, args []string) error {
			if opts.flushLog != nil {
				_ = opts.flushLog()
			}
			return nil
		},
	}

	flags := cmd.PersistentFlags()
	flags.StringVar(&opts.configFile, "config", "", "Path to a YAML configuration file")
	flags.StringVar(&opts.logLevel, "log-level", "", "Log level: debug, info, warn, error (overrides log.level)")
	flags.StringVar(&opts.logFormat, "log-format", "", "Log format: json or console (overrides log.format)")

	cmd.AddCommand(NewServeCmd(opts))
	cmd.AddCommand(NewAskCmd(opts))
	cmd.AddCommand(NewToolsCmd(opts))
	cmd.AddCommand(NewSessionsCmd(opts))
	cmd.AddCommand(NewConfigCmd(opts))

	return cmd
}

// flagBindings maps persistent flags to the config keys they override.
var flagBindings = map[string]string{
	"log-level":  "log.level",
	"log-format": "log.format",
}

func bindFlags(v *viper.Viper, flags *pflag.FlagSet) error {
	for flag, key := range flagBindings {
		if err := v.BindPFlag(key, flags.Lookup(flag)); err != nil {
			return fmt.Errorf("failed to bind --%s: %w", flag, err)
		}
	}
	return nil
}

func (o *rootOptions) load(cmd *cobra.Command) error {
	if err := bindFlags(o.viper, cmd.Root().PersistentFlags()); err != nil {
		return err
	}

	cfg, err := config.Load(o.viper, o.configFile)
	if err != nil {
		return err
	}
	o.cfg = cfg

	log, flush, err := logging.New(logging.Config{
		Level:      cfg.Log.Level,
		Format:     cfg.Log.Format,
		File:       cfg.Log.File,
		MaxSizeMB:  cfg.Log.MaxSizeMB,
		MaxBackups: cfg.Log.MaxBackups,
	})
	if err != nil {
		return err
	}
	o.log, o.flushLog = log, flush
	cmd.SetContext(logr.NewContext(cmd.Context(), log))
	return nil
}

// newApp builds the application for commands that talk to the agent, the
// tool provider or the session store.
func (o *rootOptions) newApp() (*app.App, error) {
	a, err := app.New(o.cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create app: %w", err)
	}
	return a, nil
}

func (o *rootOptions) closeApp(a *app.App) {
	if err := a.Close(); err != nil {
		o.log.Error(err, "Failed to release resources")
	}
}
