package cmd

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/urfave/cli/v3"

	"github.com/kyleking/sqlchat/internal/chat"
	"github.com/kyleking/sqlchat/internal/errors"
	"github.com/kyleking/sqlchat/internal/formatter"
	"github.com/kyleking/sqlchat/internal/plot"
)

func VizCommand() *cli.Command {
	return &cli.Command{
		Name:      "viz",
		Usage:     "Chart one table without asking the model",
		ArgsUsage: "<table> <chart> <x> [y]",
		Description: `Draw a quick chart of a whole table and save it as an HTML page in the
plot directory. Chart types: ` + strings.Join(plot.QuickTypes(), ", ") + `.

Histograms read only x. Pie charts sum the numeric y column per x label.
Other charts plot the number of rows per x when y is omitted.

Examples:
  sqlchat viz --csv employees.csv employees pie department salary
  sqlchat viz --json --db-type sqlite --db-path shop.db orders line ordered_on total`,
		Flags: append(sourceFlags(),
			&cli.StringFlag{Name: "plot-dir", Usage: "Directory for generated chart files"},
			&cli.BoolFlag{Name: "json", Usage: "Print the chart document instead of saving a page"},
		),
		Action: func(ctx context.Context, cmd *cli.Command) error {
			args := cmd.Args().Slice()
			if len(args) < 3 || len(args) > 4 {
				return errors.New(errors.ErrTypeValidation, "viz takes a table, a chart type, an x column and an optional y column")
			}

			y := ""
			if len(args) == 4 {
				y = args[3]
			}

			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}

			engine, cleanup, err := openWithConfig(ctx, cmd, cfg)
			if err != nil {
				return err
			}
			defer cleanup()

			req := vizRequest{Table: args[0], Chart: strings.ToLower(args[1]), X: args[2], Y: y}
			if !cmd.Bool("json") {
				req.PlotDir = cfg.Workspace.PlotDir
			}

			return runVizWithEngine(ctx, os.Stdout, engine, req)
		},
	}
}

// vizRequest is one quick chart. An empty PlotDir prints the chart
// document instead of writing a page.
type vizRequest struct {
	Table   string
	Chart   string
	X       string
	Y       string
	PlotDir string
}

func runVizWithEngine(ctx context.Context, w io.Writer, engine *chat.Engine, req vizRequest) error {
	p, err := engine.Visualize(ctx, req.Table, req.Chart, req.X, req.Y)
	if err != nil {
		return err
	}

	if req.PlotDir == "" {
		fmt.Fprintln(w, p.String())
		return nil
	}

	path, err := writePlot(formatter.NewFormatter(), req.PlotDir, p)
	if err != nil {
		return err
	}

	fmt.Fprintf(w, "Chart saved to %s\n", path)

	return nil
}
