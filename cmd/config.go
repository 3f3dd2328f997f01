package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/urfave/cli/v3"

	"github.com/kyleking/sqlchat/internal/config"
	"github.com/kyleking/sqlchat/internal/errors"
)

func ConfigCommand() *cli.Command {
	return &cli.Command{
		Name:        "config",
		Usage:       "Display the active configuration",
		Description: `Show the current active configuration including all settings from file, environment variables, and command-line flags.

With --init, write the active configuration to the config file so it can be edited.`,
		Flags: []cli.Flag{
			&cli.BoolFlag{
				Name:  "init",
				Usage: "Write the active configuration to the config file",
			},
			&cli.BoolFlag{
				Name:  "force",
				Usage: "Overwrite an existing config file when used with --init",
			},
		},
		Action: func(_ context.Context, cmd *cli.Command) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}

			if cmd.Bool("init") {
				return runConfigInit(os.Stdout, cfg, cmd.Bool("force"))
			}

			return runConfigWithConfig(os.Stdout, cfg)
		},
	}
}

// runConfigInit saves cfg to the config file. Secrets are never written.
func runConfigInit(w io.Writer, cfg *config.Config, force bool) error {
	path := config.FilePath()

	if _, err := os.Stat(path); err == nil && !force {
		return errors.NewConfigError(fmt.Sprintf("config file already exists: %s", path), "").
			WithSuggestion("Pass --force to overwrite it")
	}

	if err := config.SaveConfig(cfg); err != nil {
		return errors.Wrap(err, errors.ErrTypeFileSystem, "failed to write config file")
	}

	fmt.Fprintf(w, "Wrote configuration to %s\n", path)

	return nil
}

func runConfigWithConfig(w io.Writer, cfg *config.Config) error {
	if cfg == nil {
		return errors.NewConfigError("failed to load configuration", "")
	}

	fmt.Fprintln(w, "====================")
	fmt.Fprintln(w, "Active Configuration:")

	fmt.Fprintln(w, "\nWorkspace:")
	if cfg.Workspace.Path == "" {
		fmt.Fprintln(w, "  Path: (in memory)")
	} else {
		fmt.Fprintf(w, "  Path: %s\n", cfg.Workspace.Path)
	}
	fmt.Fprintf(w, "  Plot Directory: %s\n", cfg.Workspace.PlotDir)
	fmt.Fprintf(w, "  Max Connections: %d\n", cfg.Workspace.MaxConnections)

	fmt.Fprintln(w, "\nAgent:")
	fmt.Fprintf(w, "  Max Rows: %d\n", cfg.Agent.MaxRows)
	fmt.Fprintf(w, "  Preview Rows: %d\n", cfg.Agent.PreviewRows)
	fmt.Fprintf(w, "  Max Iterations: %d\n", cfg.Agent.MaxIterations)
	fmt.Fprintf(w, "  Retriever K: %d\n", cfg.Agent.RetrieverK)
	fmt.Fprintf(w, "  Allow Write Statements: %t\n", cfg.Agent.AllowWriteStatements)
	fmt.Fprintf(w, "  Attach Tool Plots: %t\n", cfg.Agent.AttachToolPlots)
	fmt.Fprintf(w, "  Allow Code Execution: %t\n", cfg.Agent.AllowCodeExecution)

	fmt.Fprintln(w, "\nLLM:")
	fmt.Fprintf(w, "  Provider: %s\n", cfg.LLM.Provider)
	fmt.Fprintf(w, "  Model: %s\n", cfg.LLM.Model)
	if cfg.LLM.BaseURL != "" {
		fmt.Fprintf(w, "  Base URL: %s\n", cfg.LLM.BaseURL)
	}
	fmt.Fprintf(w, "  API Key: %s\n", maskSecret(cfg.LLM.APIKey))
	fmt.Fprintf(w, "  Timeout: %s\n", cfg.LLM.Timeout)
	if len(cfg.LLM.Fallbacks) > 0 {
		fmt.Fprintf(w, "  Fallbacks: %s\n", strings.Join(cfg.LLM.Fallbacks, ", "))
	}

	fmt.Fprintln(w, "\nEmbedding:")
	fmt.Fprintf(w, "  Enabled: %t\n", cfg.Embedding.Enabled)
	fmt.Fprintf(w, "  Provider: %s\n", cfg.Embedding.Provider)
	fmt.Fprintf(w, "  Model: %s\n", cfg.Embedding.Model)
	fmt.Fprintf(w, "  Dimensions: %d\n", cfg.Embedding.Dimensions)

	fmt.Fprintln(w, "\nCache:")
	fmt.Fprintf(w, "  Directory: %s\n", cfg.Cache.Directory)
	fmt.Fprintf(w, "  Max Size: %d MB\n", cfg.Cache.MaxSizeMB)
	fmt.Fprintf(w, "  TTL: %d hours\n", cfg.Cache.TTLHours)
	fmt.Fprintf(w, "  Cleanup Frequency: %s\n", cfg.Cache.CleanupFreq)

	fmt.Fprintln(w, "\nServer:")
	fmt.Fprintf(w, "  Address: %s\n", cfg.Server.Addr)
	fmt.Fprintf(w, "  Max Upload: %d MB\n", cfg.Server.MaxUploadMB)
	fmt.Fprintf(w, "  Metrics: %t\n", cfg.Server.EnableMetrics)

	fmt.Fprintln(w, "\nLogging:")
	fmt.Fprintf(w, "  Level: %s\n", cfg.Logging.Level)
	fmt.Fprintf(w, "  Format: %s\n", cfg.Logging.Format)
	fmt.Fprintf(w, "  Output: %s\n", cfg.Logging.Output)

	if cfg.Logging.Output == "file" {
		fmt.Fprintf(w, "  File: %s\n", cfg.Logging.File)
	}

	fmt.Fprintf(w, "  Add Source: %t\n", cfg.Logging.AddSource)

	fmt.Fprintln(w, "\nDebug:")
	fmt.Fprintf(w, "  Enabled: %t\n", cfg.Debug.Enabled)
	fmt.Fprintf(w, "  Verbose: %t\n", cfg.Debug.Verbose)

	// Secrets carry json:"-" and never appear here
	if cfg.Debug.Enabled {
		fmt.Fprintln(w, "\nRaw Configuration (JSON):")
		fmt.Fprintln(w, "==========================")

		jsonData, err := json.MarshalIndent(cfg, "", "  ")
		if err != nil {
			return fmt.Errorf("failed to marshal config to JSON: %w", err)
		}

		fmt.Fprintln(w, string(jsonData))
	}

	return nil
}

func maskSecret(s string) string {
	if s == "" {
		return "(not set)"
	}

	if len(s) <= 8 {
		return "****"
	}

	return s[:4] + "****"
}
