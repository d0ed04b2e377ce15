// Package cli is the blogcore command line: the HTTP server plus a few
// operator commands that reuse the server's configuration.
package cli

import (
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/sakif/blogcore/internal/config"
)

// Version is set at build time with -ldflags "-X ...cli.Version=v1.2.3".
var Version = "dev"

// RootOptions holds flags shared by every command.
type RootOptions struct {
	ConfigPath string
}

// load reads configuration and builds the logger it asks for.
func (o *RootOptions) load(cmd *cobra.Command) (*config.Config, *slog.Logger, error) {
	cfg, err := config.Load(o.ConfigPath)
	if err != nil {
		return nil, nil, err
	}
	return cfg, config.NewLogger(cmd.ErrOrStderr(), cfg.LogLevel, cfg.LogFormat), nil
}

// NewRootCommand creates the blogcore command tree.
func NewRootCommand() *cobra.Command {
	opts := &RootOptions{}

	cmd := &cobra.Command{
		Use:   "blogcore",
		Short: "Blog backend: reader identity, content cache and comments",
		Long: `blogcore serves reader sign-in, a change-feed driven content cache with
frontend revalidation, and moderated threaded comments.

Settings come from defaults, an optional config file, .env and the
environment, in increasing order of precedence.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	cmd.PersistentFlags().StringVarP(&opts.ConfigPath, "config", "c", "", "path to a config file (yaml, toml or json)")

	cmd.AddCommand(NewServeCommand(opts))
	cmd.AddCommand(NewRevalidateCommand(opts))
	cmd.AddCommand(NewEmitCommand(opts))
	cmd.AddCommand(NewVersionCommand())

	return cmd
}
