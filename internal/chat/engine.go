// Package chat owns the active data source of a session and the agent bound
// to it. The CLI and the HTTP API both drive an Engine.
package chat

import (
	"context"
	"sync"

	"github.com/cloudwego/eino/components/model"

	"github.com/kyleking/sqlchat/internal/agent"
	"github.com/kyleking/sqlchat/internal/analytics"
	"github.com/kyleking/sqlchat/internal/config"
	"github.com/kyleking/sqlchat/internal/datasource"
	"github.com/kyleking/sqlchat/internal/errors"
	"github.com/kyleking/sqlchat/internal/logging"
	"github.com/kyleking/sqlchat/internal/plot"
	"github.com/kyleking/sqlchat/internal/schema"
	"github.com/kyleking/sqlchat/internal/session"
	"github.com/kyleking/sqlchat/internal/sqlexec"
)

// Deps are the collaborators an Engine is built from. Any of them may be nil:
// without a model Ask fails, without an embedder the schema retriever reports
// that no schema is available, and without a runner snippets stay proposed.
type Deps struct {
	Model    model.ToolCallingChatModel
	Embedder schema.Embedder
	Runner   sqlexec.Runner
}

// TableInfo is one table with its columns
type TableInfo struct {
	Name    string              `json:"name"`
	Columns []datasource.Column `json:"columns"`
}

// Engine holds one session, its data source and the agent over it
type Engine struct {
	cfg     *config.Config
	deps    Deps
	session *session.Session
	index   schema.Holder

	// turn serializes turns and source swaps
	turn sync.Mutex

	mu       sync.RWMutex
	source   datasource.Source
	agent    *agent.Orchestrator
	executor *sqlexec.Executor
	codes    *sqlexec.CodeStore
}

// NewEngine creates an engine with no data source
func NewEngine(cfg *config.Config, deps Deps) *Engine {
	if cfg == nil {
		cfg = config.DefaultConfig()
	}

	sess := session.New()

	return &Engine{
		cfg:     cfg,
		deps:    deps,
		session: sess,
		codes:   sqlexec.NewCodeStore(sess),
	}
}

// Session returns the engine's session
func (e *Engine) Session() *session.Session {
	return e.session
}

// Source returns the active data source, nil before the first load
func (e *Engine) Source() datasource.Source {
	e.mu.RLock()
	defer e.mu.RUnlock()

	return e.source
}

// Index returns the schema index of the active source, possibly nil
func (e *Engine) Index() *schema.Index {
	return e.index.Load()
}

// HasModel reports whether questions can be answered
func (e *Engine) HasModel() bool {
	return e.deps.Model != nil
}

// LoadCSVs materializes files into the workspace and makes it the active
// source. Files are added to the current workspace when one is active.
func (e *Engine) LoadCSVs(ctx context.Context, files []datasource.CSVFile) ([]string, error) {
	ws, reused := e.Source().(*datasource.Workspace)
	if !reused {
		var err error

		ws, err = datasource.NewWorkspace(e.cfg.Workspace.Path, e.cfg.Workspace.MaxConnections)
		if err != nil {
			return nil, err
		}
	}

	tables, err := ws.LoadCSVs(ctx, files)
	if err != nil {
		if !reused {
			_ = ws.Close()
		}

		return nil, err
	}

	if err := e.Use(ctx, ws); err != nil {
		if !reused {
			_ = ws.Close()
		}

		return nil, err
	}

	return tables, nil
}

// Connect opens an external database and makes it the active source
func (e *Engine) Connect(ctx context.Context, p datasource.Params) ([]string, error) {
	src, err := datasource.Connect(ctx, p)
	if err != nil {
		return nil, err
	}

	if err := e.Use(ctx, src); err != nil {
		_ = src.Close()
		return nil, err
	}

	return src.ListTables(ctx)
}

// Use rebuilds the schema index and the agent over src and swaps them in
// together. The session is reset; the previous source is closed unless it is
// src itself. On error nothing changes and src is left open.
func (e *Engine) Use(ctx context.Context, src datasource.Source) error {
	if src == nil {
		return errors.New(errors.ErrTypeValidation, "data source is required")
	}

	e.turn.Lock()
	defer e.turn.Unlock()

	idx := e.buildIndex(ctx, src)

	tools := agent.DefaultTools(agent.Env{
		Source:      src,
		Index:       &e.index,
		Session:     e.session,
		Rules:       sqlexec.RulesFor(e.cfg.Agent.AllowWriteStatements),
		MaxRows:     e.cfg.Agent.MaxRows,
		PreviewRows: e.cfg.Agent.PreviewRows,
		RetrieverK:  e.cfg.Agent.RetrieverK,
	})

	var orch *agent.Orchestrator

	if e.deps.Model != nil {
		var err error

		orch, err = agent.NewOrchestrator(ctx, e.deps.Model, tools, e.session, agent.Options{
			MaxIterations:   e.cfg.Agent.MaxIterations,
			AttachToolPlots: e.cfg.Agent.AttachToolPlots,
			SystemPrompt:    agent.SystemPrompt,
		})
		if err != nil {
			return err
		}
	}

	e.mu.Lock()
	old := e.source
	e.source = src
	e.agent = orch
	e.executor = sqlexec.NewExecutor(src, e.session, e.cfg.Agent.MaxRows)
	e.index.Swap(idx)
	e.mu.Unlock()

	e.session.ResetAll()

	if old != nil && old != src {
		if err := old.Close(); err != nil {
			logging.WithError(err).Warn("Failed to close previous data source")
		}
	}

	logging.WithFields(map[string]interface{}{
		"session": e.session.ID,
		"dialect": src.Dialect().Name,
		"indexed": idx.Len(),
	}).Info("Data source ready")

	return nil
}

// buildIndex embeds the schema of src. Failures leave retrieval disabled
// rather than blocking the load.
func (e *Engine) buildIndex(ctx context.Context, src datasource.Source) *schema.Index {
	if e.deps.Embedder == nil {
		logging.Warn("No embedding provider configured; schema retrieval is disabled")
		return nil
	}

	var idx *schema.Index

	err := logging.LoggerMiddleware("schema index build", func() error {
		tables, err := src.ListTables(ctx)
		if err != nil {
			return err
		}

		idx, err = schema.BuildIndex(ctx, src, tables, e.deps.Embedder)

		return err
	})
	if err != nil {
		logging.WithError(err).Warn("Schema index unavailable; continuing without retrieval")
		return nil
	}

	return idx
}

// Ask runs one agent turn
func (e *Engine) Ask(ctx context.Context, question string) (*agent.Reply, error) {
	e.turn.Lock()
	defer e.turn.Unlock()

	e.mu.RLock()
	orch, src := e.agent, e.source
	e.mu.RUnlock()

	if src == nil {
		return nil, errNoSource()
	}

	if orch == nil {
		return nil, errors.New(errors.ErrTypeConfig, "no chat model is configured").
			WithSuggestion("Set SQLCHAT_LLM_API_KEY or choose the ollama provider")
	}

	return orch.Respond(ctx, question)
}

// Tables lists the tables of the active source with their columns
func (e *Engine) Tables(ctx context.Context) ([]TableInfo, error) {
	src := e.Source()
	if src == nil {
		return nil, errNoSource()
	}

	names, err := src.ListTables(ctx)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrTypeExecution, "failed to list tables")
	}

	out := make([]TableInfo, 0, len(names))

	for _, name := range names {
		cols, err := src.DescribeColumns(ctx, name)
		if err != nil {
			return nil, errors.Wrapf(err, errors.ErrTypeExecution, "failed to describe table %s", name)
		}

		out = append(out, TableInfo{Name: name, Columns: cols})
	}

	return out, nil
}

// Execute runs a statement as SQL without classification. A successful
// statement becomes the last result.
func (e *Engine) Execute(ctx context.Context, stmt string) (sqlexec.QueryResult, error) {
	e.turn.Lock()
	defer e.turn.Unlock()

	e.mu.RLock()
	executor := e.executor
	e.mu.RUnlock()

	if executor == nil {
		return sqlexec.QueryResult{}, errNoSource()
	}

	return executor.Execute(ctx, stmt), nil
}

// Profile summarizes one table of the active source
func (e *Engine) Profile(ctx context.Context, table string) (*analytics.Profile, error) {
	src := e.Source()
	if src == nil {
		return nil, errNoSource()
	}

	return analytics.BuildProfile(ctx, src, table)
}

// RunSnippet executes a stored snippet against the last result. This is the
// only path that runs model-generated code.
func (e *Engine) RunSnippet(ctx context.Context, id string) (session.Snippet, error) {
	if !e.cfg.Agent.AllowCodeExecution {
		return session.Snippet{}, errors.NewConfigError("running generated code is disabled", "agent.allow_code_execution").
			WithSuggestion("Set SQLCHAT_AGENT_ALLOW_CODE_EXECUTION=true to enable it")
	}

	if e.deps.Runner == nil {
		return session.Snippet{}, errors.New(errors.ErrTypeConfig, "no snippet runner is configured").
			WithSuggestion("Install uv (https://docs.astral.sh/uv/) to run stored code")
	}

	e.turn.Lock()
	defer e.turn.Unlock()

	return e.codes.Run(ctx, e.deps.Runner, id)
}

// Visualize draws a quick chart of one table of the active source
func (e *Engine) Visualize(ctx context.Context, table, chartType, x, y string) (*plot.Payload, error) {
	src := e.Source()
	if src == nil {
		return nil, errNoSource()
	}

	return analytics.QuickVisualize(ctx, src, table, chartType, x, y)
}

// Close releases the active source
func (e *Engine) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.source == nil {
		return nil
	}

	err := e.source.Close()
	e.source = nil
	e.agent = nil
	e.executor = nil
	e.index.Swap(nil)

	return err
}

func errNoSource() *errors.Error {
	return errors.New(errors.ErrTypeValidation, "no data source is loaded").
		WithSuggestion("Upload CSV files or connect to a database first")
}
