package cmd

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/urfave/cli/v3"

	"github.com/kyleking/sqlchat/internal/chat"
	"github.com/kyleking/sqlchat/internal/config"
	"github.com/kyleking/sqlchat/internal/formatter"
)

func TablesCommand() *cli.Command {
	return &cli.Command{
		Name:  "tables",
		Usage: "List the tables and columns of a data source",
		Description: `Open a data source and print every table with its column types.

Examples:
  sqlchat tables --csv employees.csv
  sqlchat tables --db-type sqlite --db-path shop.db`,
		Flags: sourceFlags(),
		Action: func(ctx context.Context, cmd *cli.Command) error {
			engine, cleanup, err := openForCommand(ctx, cmd)
			if err != nil {
				return err
			}
			defer cleanup()

			return printTables(ctx, os.Stdout, engine)
		},
	}
}

// openForCommand loads configuration and opens the source flags of cmd in an
// engine without a chat model
func openForCommand(ctx context.Context, cmd *cli.Command) (*chat.Engine, func(), error) {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return nil, nil, err
	}

	return openWithConfig(ctx, cmd, cfg)
}

// openWithConfig opens the source flags of cmd in an engine built from cfg
func openWithConfig(ctx context.Context, cmd *cli.Command, cfg *config.Config) (*chat.Engine, func(), error) {
	spec, err := sourceFromFlags(cmd)
	if err != nil {
		return nil, nil, err
	}

	engine, cleanup, err := buildEngine(ctx, cfg, engineOptions{})
	if err != nil {
		return nil, nil, err
	}

	if _, err := openSource(ctx, engine, spec); err != nil {
		cleanup()
		return nil, nil, err
	}

	return engine, cleanup, nil
}

// printTables writes each table followed by its aligned column types
func printTables(ctx context.Context, w io.Writer, engine *chat.Engine) error {
	tables, err := engine.Tables(ctx)
	if err != nil {
		return err
	}

	if len(tables) == 0 {
		fmt.Fprintln(w, "No tables.")
		return nil
	}

	f := formatter.NewFormatter()

	for i, t := range tables {
		if i > 0 {
			fmt.Fprintln(w)
		}

		fmt.Fprintf(w, "%s (%d columns)\n", t.Name, len(t.Columns))

		names := make([]string, len(t.Columns))
		types := make([]string, len(t.Columns))

		for j, c := range t.Columns {
			names[j] = "  " + c.Name
			types[j] = strings.ToUpper(c.Type)
		}

		fmt.Fprintln(w, f.FormatPairs(names, types))
	}

	return nil
}
