// Package commands implements CLI commands.
package commands

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	pgtyped "github.com/satishbabariya/pgtyped-go"
	"github.com/satishbabariya/pgtyped-go/cli/internal/version"
	"github.com/satishbabariya/pgtyped-go/config"
	"github.com/satishbabariya/pgtyped-go/internal/debug"
)

// globalOptions holds the persistent flags shared by every command.
type globalOptions struct {
	configPath  string
	databaseURL string
	debug       bool
}

// Execute runs the root command.
func Execute() error {
	return NewRootCommand().Execute()
}

// NewRootCommand creates the pgtyped command tree.
func NewRootCommand() *cobra.Command {
	opts := &globalOptions{}

	rootCmd := &cobra.Command{
		Use:           "pgtyped",
		Short:         "Typed PostgreSQL queries for Go",
		Long:          "pgtyped describes, checks and watches SQL queries against a live PostgreSQL catalog",
		Version:       version.Get().String(),
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			if opts.debug {
				debug.Init(true)
			}
		},
	}

	flags := rootCmd.PersistentFlags()
	flags.StringVar(&opts.configPath, "config", "", "Path to config file (default: .pgtyped.yaml in . or $HOME)")
	flags.StringVar(&opts.databaseURL, "database-url", "", "PostgreSQL connection URL (overrides config)")
	flags.BoolVar(&opts.debug, "debug", false, "Enable debug logging")

	rootCmd.AddCommand(NewInitCommand())
	rootCmd.AddCommand(NewDescribeCommand(opts))
	rootCmd.AddCommand(NewCheckCommand(opts))
	rootCmd.AddCommand(NewWatchCommand(opts))
	rootCmd.AddCommand(NewVersionCommand(opts))

	return rootCmd
}

// loadConfig reads configuration and applies flag overrides.
func (o *globalOptions) loadConfig() (*config.Config, error) {
	cfg, err := config.LoadFile(o.configPath)
	if err != nil {
		return nil, err
	}
	if o.databaseURL != "" {
		cfg.DatabaseURL = o.databaseURL
	}
	if o.debug {
		cfg.Debug = true
	}
	return cfg, nil
}

// connect opens a client from the loaded configuration.
func (o *globalOptions) connect(ctx context.Context) (*pgtyped.Client, *config.Config, error) {
	cfg, err := o.loadConfig()
	if err != nil {
		return nil, nil, err
	}
	client, err := pgtyped.New(ctx, cfg)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to connect: %w", err)
	}
	return client, cfg, nil
}
