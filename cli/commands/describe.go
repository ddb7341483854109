package commands

import (
	"context"
	"errors"
	"fmt"

	"github.com/AlecAivazis/survey/v2"
	"github.com/spf13/cobra"

	pgtyped "github.com/satishbabariya/pgtyped-go"
	"github.com/satishbabariya/pgtyped-go/cli/internal/ui"
	"github.com/satishbabariya/pgtyped-go/config"
	"github.com/satishbabariya/pgtyped-go/query/placeholder"
	"github.com/satishbabariya/pgtyped-go/query/sqlfile"
)

type describeOptions struct {
	file        string
	name        string
	format      string
	params      map[string]string
	args        []string
	interactive bool
	run         bool
	limit       int
}

// NewDescribeCommand creates the describe command.
func NewDescribeCommand(opts *globalOptions) *cobra.Command {
	d := &describeOptions{}

	cmd := &cobra.Command{
		Use:   "describe [sql]",
		Short: "Describe the parameters and columns of a query",
		Long: `Prepare a query against the database and print its parameter and column types.

The query is either given as an argument or taken from a query file:

  pgtyped describe "SELECT * FROM users WHERE id = $1"
  pgtyped describe --file queries/users.sql --name ListUsers`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDescribe(cmd.Context(), opts, d, args)
		},
	}

	flags := cmd.Flags()
	flags.StringVarP(&d.file, "file", "f", "", "Query file to read the query from")
	flags.StringVarP(&d.name, "name", "n", "", "Name of the query in --file")
	flags.StringVar(&d.format, "format", "table", "Output format: table, markdown or json")
	flags.StringToStringVarP(&d.params, "param", "p", nil, "Dynamic parameter value (name=value)")
	flags.StringArrayVarP(&d.args, "arg", "a", nil, "Value for the next $N parameter, in order")
	flags.BoolVarP(&d.interactive, "interactive", "i", false, "Prompt for unbound dynamic parameters")
	flags.BoolVar(&d.run, "run", false, "Execute the query and print the rows")
	flags.IntVar(&d.limit, "limit", 20, "Maximum rows printed with --run")

	return cmd
}

// resolveQuery returns the query named by args or --file/--name.
func (d *describeOptions) resolveQuery(args []string) (sqlfile.Query, error) {
	switch {
	case d.file != "" && len(args) > 0:
		return sqlfile.Query{}, errors.New("pass either a SQL argument or --file, not both")
	case d.file != "":
		if d.name == "" {
			return sqlfile.Query{}, errors.New("--name is required with --file")
		}
		f, err := sqlfile.ParseFile(config.AppFs, d.file)
		if err != nil {
			return sqlfile.Query{}, err
		}
		q, ok := f.Lookup(d.name)
		if !ok {
			return sqlfile.Query{}, fmt.Errorf("query %q not found in %s", d.name, d.file)
		}
		return q, nil
	case len(args) == 1:
		return sqlfile.Query{Name: "query", SQL: args[0]}, nil
	default:
		return sqlfile.Query{}, errors.New("no query given")
	}
}

// bindings returns dynamic parameter values for q, prompting for or nulling
// the names not given with --param.
func (d *describeOptions) bindings(q sqlfile.Query) (map[string]any, error) {
	params := make(map[string]any, len(d.params))
	for k, v := range d.params {
		params[k] = v
	}
	for _, name := range placeholder.Names(q.SQL) {
		if _, ok := params[name]; ok {
			continue
		}
		if !d.interactive {
			params[name] = nil
			continue
		}
		var value string
		prompt := &survey.Input{Message: fmt.Sprintf("Value for {%s}:", name)}
		if err := survey.AskOne(prompt, &value); err != nil {
			return nil, err
		}
		params[name] = value
	}
	return params, nil
}

func runDescribe(ctx context.Context, opts *globalOptions, d *describeOptions, args []string) error {
	switch d.format {
	case "table", "markdown", "json":
	default:
		return fmt.Errorf("unknown format %q", d.format)
	}

	sq, err := d.resolveQuery(args)
	if err != nil {
		return err
	}
	params, err := d.bindings(sq)
	if err != nil {
		return err
	}

	client, _, err := opts.connect(ctx)
	if err != nil {
		return err
	}
	defer client.Close()

	q := pgtyped.NewQuery(sq.SQL, pgtyped.WithName(sq.Name), pgtyped.WithParams(params))
	pq, err := client.Prepare(ctx, q)
	if err != nil {
		return err
	}

	switch d.format {
	case "json":
		out, err := jsonDescription(sq.Name, pq)
		if err != nil {
			return err
		}
		fmt.Fprintln(ui.Out, string(out))
	case "markdown":
		if err := ui.PrintMarkdown(markdownReport(sq.Name, sq.Doc, pq)); err != nil {
			return err
		}
	default:
		ui.PrintHeader(sq.Name, pq.SQL)
		ui.PrintSection("Parameters")
		if err := ui.PrintTable(paramHeaders, paramRows(pq)); err != nil {
			return err
		}
		ui.PrintSection("Columns")
		if err := ui.PrintTable(columnHeaders, columnRows(pq)); err != nil {
			return err
		}
	}

	if !d.run {
		return nil
	}
	values := make([]any, len(d.args))
	for i, a := range d.args {
		values[i] = a
	}
	res, err := client.Execute(ctx, q.With(pgtyped.WithArgs(values...)))
	if err != nil {
		return err
	}
	rows := res.Rows()
	if d.limit > 0 && len(rows) > d.limit {
		rows = rows[:d.limit]
	}
	ui.PrintSection(fmt.Sprintf("Rows (%d of %d)", len(rows), res.Len()))
	return ui.PrintTable(pq.ColumnNames(), recordRows(rows))
}
