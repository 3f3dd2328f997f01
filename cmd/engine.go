package cmd

import (
	"context"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/urfave/cli/v3"

	"github.com/kyleking/sqlchat/internal/cache"
	"github.com/kyleking/sqlchat/internal/chat"
	"github.com/kyleking/sqlchat/internal/config"
	"github.com/kyleking/sqlchat/internal/datasource"
	"github.com/kyleking/sqlchat/internal/embedding"
	"github.com/kyleking/sqlchat/internal/errors"
	"github.com/kyleking/sqlchat/internal/llm"
	"github.com/kyleking/sqlchat/internal/logging"
	"github.com/kyleking/sqlchat/internal/python"
	"github.com/kyleking/sqlchat/internal/schema"
)

// sourceFlags select the data source of a command
func sourceFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringSliceFlag{Name: "csv", Usage: "CSV file to load into the workspace (repeatable)"},
		&cli.StringFlag{Name: "db-type", Usage: "External database type: postgres, mysql or sqlite"},
		&cli.StringFlag{Name: "db-host", Usage: "Database host", Value: "localhost"},
		&cli.StringFlag{Name: "db-port", Usage: "Database port (default: the engine's standard port)"},
		&cli.StringFlag{Name: "db-user", Usage: "Database user"},
		&cli.StringFlag{Name: "db-password", Usage: "Database password (or SQLCHAT_DB_PASSWORD)"},
		&cli.StringFlag{Name: "db-name", Usage: "Database name"},
		&cli.StringFlag{Name: "db-path", Usage: "SQLite database file"},
	}
}

// modelFlags choose the chat model
func modelFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{Name: "provider", Usage: "Chat model provider: groq, openai or ollama"},
		&cli.StringFlag{Name: "model", Usage: "Chat model name"},
		&cli.StringFlag{Name: "embedding-provider", Usage: "Schema embedding provider: local, remote or hash"},
	}
}

// sourceSpec is the data source a command was asked to open
type sourceSpec struct {
	CSVs []string
	DB   *datasource.Params
}

func (s sourceSpec) empty() bool {
	return len(s.CSVs) == 0 && s.DB == nil
}

// sourceFromFlags reads the source flags. Giving both CSV files and a
// database is rejected.
func sourceFromFlags(cmd *cli.Command) (sourceSpec, error) {
	spec := sourceSpec{CSVs: cmd.StringSlice("csv")}

	dbType := strings.TrimSpace(cmd.String("db-type"))
	if dbType == "" {
		return spec, nil
	}

	if len(spec.CSVs) > 0 {
		return spec, errors.New(errors.ErrTypeValidation, "use either --csv or --db-type, not both")
	}

	params := &datasource.Params{
		Type:     dbType,
		Host:     cmd.String("db-host"),
		User:     cmd.String("db-user"),
		Password: cmd.String("db-password"),
		Name:     cmd.String("db-name"),
		Path:     cmd.String("db-path"),
	}

	if params.Password == "" {
		params.Password = os.Getenv("SQLCHAT_DB_PASSWORD")
	}

	if port := strings.TrimSpace(cmd.String("db-port")); port != "" {
		n, err := strconv.Atoi(port)
		if err != nil || n <= 0 || n > 65535 {
			return spec, errors.Newf(errors.ErrTypeValidation, "invalid --db-port %q", port)
		}

		params.Port = n
	}

	spec.DB = params

	return spec, nil
}

// openSource loads spec into the engine and returns the table names
func openSource(ctx context.Context, engine *chat.Engine, spec sourceSpec) ([]string, error) {
	if spec.DB != nil {
		return engine.Connect(ctx, *spec.DB)
	}

	if len(spec.CSVs) == 0 {
		return nil, errors.New(errors.ErrTypeValidation, "no data source given").
			WithSuggestion("Pass --csv FILE (repeatable) or --db-type with connection flags")
	}

	files := make([]datasource.CSVFile, 0, len(spec.CSVs))

	for _, path := range spec.CSVs {
		path = config.ExpandPath(path)
		if _, err := os.Stat(path); err != nil {
			return nil, errors.Wrapf(err, errors.ErrTypeFileSystem, "cannot read %s", path)
		}

		files = append(files, datasource.CSVFile{Name: filepath.Base(path), Path: path})
	}

	return engine.LoadCSVs(ctx, files)
}

// engineOptions select the optional collaborators. Commands that only run
// SQL skip the model and the Python environment.
type engineOptions struct {
	Model    bool
	Snippets bool
}

// buildEngine wires the engine for cfg. The returned cleanup closes the
// source and the embedding cache.
func buildEngine(ctx context.Context, cfg *config.Config, opts engineOptions) (*chat.Engine, func(), error) {
	if err := cfg.EnsureDirectories(); err != nil {
		return nil, nil, errors.Wrap(err, errors.ErrTypeFileSystem, "failed to prepare data directories")
	}

	deps := chat.Deps{}
	snippets := opts.Snippets && cfg.Agent.AllowCodeExecution

	var closers []func()

	if opts.Model {
		cm, err := llm.NewFallbackChain(ctx, llm.ConfigFrom(cfg.LLM), cfg.LLM.Fallbacks)
		if err != nil {
			return nil, nil, err
		}

		deps.Model = cm

		uvPath, projectDir := pythonEnvironment(ctx, cfg, snippets || cfg.Embedding.Provider == "local")

		embedder, closeCache := newEmbedder(cfg, uvPath, projectDir)
		if closeCache != nil {
			closers = append(closers, closeCache)
		}

		deps.Embedder = embedder

		if snippets && projectDir != "" {
			deps.Runner = python.NewSnippetRunner(uvPath, projectDir)
		}
	}

	engine := chat.NewEngine(cfg, deps)

	cleanup := func() {
		if err := engine.Close(); err != nil {
			logging.WithError(err).Warn("Failed to close data source")
		}

		for _, c := range closers {
			c()
		}
	}

	return engine, cleanup, nil
}

// pythonEnvironment prepares the uv project when wanted. Empty results mean
// Python features are unavailable.
func pythonEnvironment(ctx context.Context, cfg *config.Config, wanted bool) (string, string) {
	if !wanted {
		return "", ""
	}

	uvPath, err := python.FindUV()
	if err != nil {
		logging.WithError(err).Warn("Python features disabled")
		return "", ""
	}

	projectDir, err := python.EnsureEnvironment(ctx, uvPath, cfg.Cache.Directory)
	if err != nil {
		logging.WithError(err).Warn("Python environment unavailable")
		return "", ""
	}

	return uvPath, projectDir
}

// newEmbedder builds the schema embedder. The local provider degrades to
// hashing when the Python environment is missing; remote and local vectors
// are cached on disk.
func newEmbedder(cfg *config.Config, uvPath, projectDir string) (schema.Embedder, func()) {
	ecfg := embedding.ConfigFrom(cfg.Embedding)
	if !ecfg.Enabled {
		return nil, nil
	}

	if ecfg.Provider == "local" && projectDir == "" {
		logging.Warn("Using hash embeddings for schema retrieval")
		ecfg.Provider = "hash"
	}

	provider, err := embedding.NewProvider(ecfg, uvPath, projectDir)
	if err != nil {
		logging.WithError(err).Warn("Schema retrieval disabled")
		return nil, nil
	}

	if ecfg.Provider == "hash" {
		return embedding.NewManagerWithProvider(provider), nil
	}

	fc, err := newEmbeddingCache(cfg)
	if err != nil {
		logging.WithError(err).Warn("Embedding cache disabled")
		return embedding.NewManagerWithProvider(provider), nil
	}

	return embedding.NewManagerWithProvider(embedding.WithCache(provider, fc)), func() { _ = fc.Close() }
}

func newEmbeddingCache(cfg *config.Config) (*cache.FileCache, error) {
	freq, err := time.ParseDuration(cfg.Cache.CleanupFreq)
	if err != nil {
		freq = time.Hour
	}

	return cache.NewFileCache(
		filepath.Join(cfg.Cache.Directory, "embeddings"),
		cfg.Cache.MaxSizeMB,
		time.Duration(cfg.Cache.TTLHours)*time.Hour,
		freq,
	)
}
