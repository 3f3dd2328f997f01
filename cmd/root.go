package cmd

import (
	"context"
	stderrors "errors"
	"fmt"
	"os"

	"github.com/urfave/cli/v3"

	"github.com/kyleking/sqlchat/internal/config"
	"github.com/kyleking/sqlchat/internal/errors"
	"github.com/kyleking/sqlchat/internal/logging"
)

// NewRootCommand builds the command tree
func NewRootCommand() *cli.Command {
	return &cli.Command{
		Name:  "sqlchat",
		Usage: "Ask questions about your data in plain language",
		Description: `sqlchat loads CSV files into a local DuckDB workspace, or connects to a
PostgreSQL, MySQL or SQLite database, and answers natural-language questions
by letting a chat model call SQL, summary and plotting tools.

Examples:
  sqlchat chat --csv employees.csv
  sqlchat ask --csv sales.csv "Which region sold the most?"
  sqlchat sql --db-type postgres --db-name shop "SELECT count(*) FROM orders"
  sqlchat serve --addr :8501`,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  "workspace",
				Usage: "DuckDB file that uploaded CSVs are stored in (default: in memory)",
			},
			&cli.StringFlag{
				Name:  "log-level",
				Usage: "Log level: debug, info, warn or error",
			},
			&cli.BoolFlag{
				Name:  "verbose",
				Usage: "Show tool calls while answering",
			},
			&cli.BoolFlag{
				Name:  "debug",
				Usage: "Enable debug logging and raw configuration output",
			},
		},
		Commands: []*cli.Command{
			ChatCommand(),
			AskCommand(),
			TablesCommand(),
			EDACommand(),
			SQLCommand(),
			VizCommand(),
			ServeCommand(),
			ConfigCommand(),
		},
	}
}

// Execute runs the CLI with the process arguments
func Execute() error {
	err := NewRootCommand().Run(context.Background(), os.Args)
	if err != nil {
		fmt.Fprintln(os.Stderr, formatError(err))
	}

	return err
}

// formatError renders an error with its suggestions
func formatError(err error) string {
	msg := "Error: " + errors.UserMessage(err)

	var structErr *errors.Error
	if stderrors.As(err, &structErr) {
		for _, s := range structErr.Suggestions {
			msg += "\n  - " + s
		}
	}

	return msg
}

// overrideFlags are the string flags that map onto configuration keys
var overrideFlags = []string{
	"workspace", "plot-dir", "log-level", "model", "provider",
	"embedding-provider", "addr", "cache-dir",
}

// loadConfig builds the configuration from file, environment and the flags
// set on cmd or its parents, then installs the logger it describes.
func loadConfig(cmd *cli.Command) (*config.Config, error) {
	overrides := map[string]interface{}{}

	for _, name := range overrideFlags {
		if v := cmd.String(name); v != "" {
			overrides[name] = v
		}
	}

	for _, name := range []string{"verbose", "debug"} {
		if cmd.Bool(name) {
			overrides[name] = true
		}
	}

	cfg, err := config.LoadConfigWithOverrides(overrides)
	if err != nil {
		logging.SetupFallbackLogger()
		return nil, errors.Wrap(err, errors.ErrTypeConfig, "failed to load configuration")
	}

	cfg.ExpandAllPaths()

	if cfg.Debug.Enabled {
		cfg.Logging.Level = "debug"
	}

	if err := logging.InitializeLogger(cfg.Logging); err != nil {
		logging.SetupFallbackLogger()
		logging.WithError(err).Warn("Falling back to stderr logging")
	}

	return cfg, nil
}
