package cmd

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/urfave/cli/v3"

	"github.com/kyleking/sqlchat/internal/analytics"
	"github.com/kyleking/sqlchat/internal/chat"
	"github.com/kyleking/sqlchat/internal/errors"
)

func EDACommand() *cli.Command {
	return &cli.Command{
		Name:      "eda",
		Usage:     "Profile one table: preview, types, missing and unique counts",
		ArgsUsage: "<table>",
		Description: `Print an exploratory profile of a table. With --stats the descriptive
statistics block used by the chat agent is printed as well.

Examples:
  sqlchat eda --csv employees.csv employees
  sqlchat eda --stats --db-type sqlite --db-path shop.db orders`,
		Flags: append(sourceFlags(),
			&cli.BoolFlag{Name: "stats", Usage: "Also print descriptive statistics"},
		),
		Action: func(ctx context.Context, cmd *cli.Command) error {
			if cmd.Args().Len() != 1 {
				return errors.New(errors.ErrTypeValidation, "eda takes exactly one table name")
			}

			engine, cleanup, err := openForCommand(ctx, cmd)
			if err != nil {
				return err
			}
			defer cleanup()

			return runEDAWithEngine(ctx, os.Stdout, engine, cmd.Args().First(), cmd.Bool("stats"))
		},
	}
}

func runEDAWithEngine(ctx context.Context, w io.Writer, engine *chat.Engine, table string, stats bool) error {
	profile, err := engine.Profile(ctx, table)
	if err != nil {
		return err
	}

	fmt.Fprintln(w, profile.String())

	if stats {
		fmt.Fprintln(w)
		fmt.Fprintln(w, analytics.Summary(ctx, engine.Source(), table))
	}

	return nil
}
