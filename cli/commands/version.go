package commands

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/satishbabariya/pgtyped-go/cli/internal/ui"
	"github.com/satishbabariya/pgtyped-go/cli/internal/version"
)

// NewVersionCommand creates the version command.
func NewVersionCommand(opts *globalOptions) *cobra.Command {
	var server bool

	cmd := &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Long:  "Display version information for the pgtyped CLI and, with --server, the connected PostgreSQL server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runVersion(cmd.Context(), opts, server)
		},
	}

	cmd.Flags().BoolVar(&server, "server", false, "Also print the database server version")

	return cmd
}

func runVersion(ctx context.Context, opts *globalOptions, server bool) error {
	info := version.Get()
	fmt.Fprintln(ui.Out, info.FullString())
	if info.Prerelease() {
		ui.PrintWarning("this is a development build")
	}
	if !server {
		return nil
	}

	client, _, err := opts.connect(ctx)
	if err != nil {
		return err
	}
	defer client.Close()

	v, err := client.Pool().ServerVersion(ctx)
	if err != nil {
		return err
	}
	fmt.Fprintf(ui.Out, "PostgreSQL: %s\n", v)
	return nil
}
