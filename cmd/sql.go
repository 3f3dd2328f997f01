package cmd

import (
	"context"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/urfave/cli/v3"

	"github.com/kyleking/sqlchat/internal/chat"
	"github.com/kyleking/sqlchat/internal/errors"
	"github.com/kyleking/sqlchat/internal/formatter"
)

func SQLCommand() *cli.Command {
	return &cli.Command{
		Name:      "sql",
		Usage:     "Run one SQL statement against a data source",
		ArgsUsage: "<statement>",
		Description: `Execute a statement through the same executor the chat agent uses, so
the configured row cap applies to selects without a LIMIT. The result
becomes the last result of the session.

Examples:
  sqlchat sql --csv sales.csv "SELECT region, sum(amount) FROM sales GROUP BY 1"
  sqlchat sql --format csv --db-type postgres --db-name shop "SELECT * FROM orders"`,
		Flags: append(sourceFlags(),
			&cli.StringFlag{Name: "format", Usage: "Output format: table or csv", Value: "table"},
			&cli.StringFlag{Name: "limit", Usage: "Maximum rows to print (0 for all)", Value: "50"},
		),
		Action: func(ctx context.Context, cmd *cli.Command) error {
			stmt := strings.TrimSpace(strings.Join(cmd.Args().Slice(), " "))
			if stmt == "" {
				return errors.New(errors.ErrTypeValidation, "a SQL statement is required")
			}

			format, limit, err := parseOutputFlags(cmd.String("format"), cmd.String("limit"))
			if err != nil {
				return err
			}

			engine, cleanup, err := openForCommand(ctx, cmd)
			if err != nil {
				return err
			}
			defer cleanup()

			return runSQLWithEngine(ctx, os.Stdout, engine, stmt, format, limit)
		},
	}
}

func parseOutputFlags(format, limit string) (formatter.OutputFormat, int, error) {
	var out formatter.OutputFormat

	switch strings.ToLower(format) {
	case "", "table":
		out = formatter.FormatTable
	case "csv":
		out = formatter.FormatCSV
	default:
		return out, 0, errors.Newf(errors.ErrTypeValidation, "invalid --format %q", format).
			WithSuggestion("Use table or csv")
	}

	n, err := strconv.Atoi(strings.TrimSpace(limit))
	if err != nil || n < 0 {
		return out, 0, errors.Newf(errors.ErrTypeValidation, "invalid --limit %q", limit)
	}

	return out, n, nil
}

func runSQLWithEngine(ctx context.Context, w io.Writer, engine *chat.Engine, stmt string, format formatter.OutputFormat, limit int) error {
	result, err := engine.Execute(ctx, stmt)
	if err != nil {
		return err
	}

	if !result.OK() {
		return errors.New(errors.ErrTypeExecution, result.Message)
	}

	if len(result.Columns) == 0 {
		fmt.Fprintln(w, result.Message)
		return nil
	}

	fmt.Fprintln(w, formatter.NewFormatter().FormatFrame(result.Frame(), format, limit))

	if format == formatter.FormatTable {
		fmt.Fprintf(w, "\n%d row(s)\n", result.RowCount)
	}

	return nil
}
