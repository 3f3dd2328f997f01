package cmd

import (
	"context"
	"os"
	"strings"

	"github.com/urfave/cli/v3"

	"github.com/kyleking/sqlchat/internal/errors"
)

func AskCommand() *cli.Command {
	return &cli.Command{
		Name:      "ask",
		Usage:     "Ask a single question and print the answer",
		ArgsUsage: "<question>",
		Description: `Load a data source, answer one question and exit. A chart produced
by the answer is written to the plot directory.

Examples:
  sqlchat ask --csv sales.csv "Which region sold the most?"
  sqlchat ask --db-type sqlite --db-path shop.db "How many orders per year?"`,
		Flags: append(append(sourceFlags(), modelFlags()...),
			&cli.StringFlag{Name: "plot-dir", Usage: "Directory for generated chart files"},
		),
		Action: func(ctx context.Context, cmd *cli.Command) error {
			question := strings.TrimSpace(strings.Join(cmd.Args().Slice(), " "))
			if question == "" {
				return errors.New(errors.ErrTypeValidation, "a question is required")
			}

			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}

			spec, err := sourceFromFlags(cmd)
			if err != nil {
				return err
			}

			engine, cleanup, err := buildEngine(ctx, cfg, engineOptions{Model: true})
			if err != nil {
				return err
			}
			defer cleanup()

			if _, err := openSource(ctx, engine, spec); err != nil {
				return err
			}

			r := newREPL(engine, strings.NewReader(""), os.Stdout, cfg.Workspace.PlotDir)
			r.verbose = cfg.Debug.Verbose
			r.spin = newSpinner(os.Stderr)
			r.ask(ctx, question)

			return ctx.Err()
		},
	}
}
