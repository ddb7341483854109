package commands

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"github.com/spf13/afero"
	"github.com/spf13/cobra"

	pgtyped "github.com/satishbabariya/pgtyped-go"
	"github.com/satishbabariya/pgtyped-go/cli/internal/ui"
	"github.com/satishbabariya/pgtyped-go/config"
	"github.com/satishbabariya/pgtyped-go/query/prepare"
	"github.com/satishbabariya/pgtyped-go/query/sqlfile"
)

// NewCheckCommand creates the check command.
func NewCheckCommand(opts *globalOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "check [files...]",
		Short: "Prepare every query of the query files",
		Long:  "Parse query files and prepare each query against the database. Files default to the queries globs of the config.",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runCheck(cmd.Context(), opts, args)
		},
	}
	return cmd
}

// queryFiles expands patterns, or the configured globs when none are given.
func queryFiles(fs afero.Fs, patterns []string, cfg *config.Config) ([]string, error) {
	if len(patterns) == 0 {
		patterns = cfg.Queries
	}
	if len(patterns) == 0 {
		return nil, errors.New("no query files given and no queries configured")
	}

	seen := make(map[string]bool)
	var files []string
	for _, pattern := range patterns {
		matches, err := afero.Glob(fs, pattern)
		if err != nil {
			return nil, fmt.Errorf("invalid pattern %q: %w", pattern, err)
		}
		if len(matches) == 0 {
			return nil, fmt.Errorf("no files match %q", pattern)
		}
		for _, m := range matches {
			if !seen[m] {
				seen[m] = true
				files = append(files, m)
			}
		}
	}
	sort.Strings(files)
	return files, nil
}

// checkResult is the outcome of checking one query.
type checkResult struct {
	File  string
	Query string
	Err   error
}

// preparer prepares queries; *pgtyped.Client implements it.
type preparer interface {
	Prepare(ctx context.Context, q pgtyped.Query) (*prepare.PreparedQuery, error)
}

// checkFile parses path and prepares each of its queries. A file that does
// not parse yields one failed result.
func checkFile(ctx context.Context, fs afero.Fs, p preparer, path string) []checkResult {
	f, err := sqlfile.ParseFile(fs, path)
	if err != nil {
		return []checkResult{{File: path, Err: err}}
	}

	results := make([]checkResult, 0, len(f.Queries))
	for _, sq := range f.Queries {
		q := pgtyped.NewQuery(sq.SQL, pgtyped.WithName(sq.Name), pgtyped.WithParams(nilBindings(sq)))
		pq, err := p.Prepare(ctx, q)
		if err == nil {
			err = commandMismatch(sq, pq)
		}
		results = append(results, checkResult{File: path, Query: sq.Name, Err: err})
	}
	return results
}

// report prints failures and the summary, and returns the failure count.
func report(results []checkResult) int {
	failed := 0
	for _, r := range results {
		if r.Err == nil {
			continue
		}
		failed++
		if r.Query == "" {
			ui.PrintError("%s: %v", r.File, r.Err)
		} else {
			ui.PrintError("%s %s: %v", r.File, r.Query, r.Err)
		}
	}
	ui.Summary(len(results)-failed, failed)
	return failed
}

func runCheck(ctx context.Context, opts *globalOptions, patterns []string) error {
	client, cfg, err := opts.connect(ctx)
	if err != nil {
		return err
	}
	defer client.Close()

	files, err := queryFiles(config.AppFs, patterns, cfg)
	if err != nil {
		return err
	}

	spinner, err := ui.StartSpinner(fmt.Sprintf("Checking %d file(s)", len(files)))
	if err != nil {
		return err
	}
	var results []checkResult
	for _, path := range files {
		results = append(results, checkFile(ctx, config.AppFs, client, path)...)
	}
	_ = spinner.Stop()

	if failed := report(results); failed > 0 {
		return fmt.Errorf("%d of %d queries failed", failed, len(results))
	}
	return nil
}
