package commands

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/satishbabariya/pgtyped-go/cli/internal/ui"
	"github.com/satishbabariya/pgtyped-go/cli/internal/watch"
	"github.com/satishbabariya/pgtyped-go/config"
)

// NewWatchCommand creates the watch command.
func NewWatchCommand(opts *globalOptions) *cobra.Command {
	var debounce time.Duration

	cmd := &cobra.Command{
		Use:   "watch [files...]",
		Short: "Re-check query files when they change",
		Long:  "Check query files once, then again every time one of them is saved. Cached preparations are dropped before each run so schema changes are picked up.",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runWatch(cmd.Context(), opts, args, debounce)
		},
	}

	cmd.Flags().DurationVar(&debounce, "debounce", watch.DefaultDebounce, "Quiet period before a changed file is re-checked")

	return cmd
}

func runWatch(ctx context.Context, opts *globalOptions, patterns []string, debounce time.Duration) error {
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	client, cfg, err := opts.connect(ctx)
	if err != nil {
		return err
	}
	defer client.Close()

	files, err := queryFiles(config.AppFs, patterns, cfg)
	if err != nil {
		return err
	}

	w, err := watch.NewWatcher(files, debounce, func(path string) error {
		client.Preparer().Purge()
		ui.PrintSection(path)
		report(checkFile(ctx, config.AppFs, client, path))
		return nil
	})
	if err != nil {
		return err
	}
	if err := w.Start(); err != nil {
		return err
	}
	defer w.Stop()

	ui.PrintInfo("Watching %d file(s). Press Ctrl+C to stop.", len(files))
	<-ctx.Done()
	return nil
}
