// Package agent runs the tool-calling loop: the model picks among a fixed
// set of tools, each call is validated and dispatched in order, and the final
// answer is split into text and an optional plot.
package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/cloudwego/eino/components/tool"
	einoschema "github.com/cloudwego/eino/schema"

	"github.com/kyleking/sqlchat/internal/analytics"
	"github.com/kyleking/sqlchat/internal/datasource"
	"github.com/kyleking/sqlchat/internal/errors"
	"github.com/kyleking/sqlchat/internal/logging"
	"github.com/kyleking/sqlchat/internal/schema"
	"github.com/kyleking/sqlchat/internal/session"
	"github.com/kyleking/sqlchat/internal/sqlexec"
)

// Tool names the model sees
const (
	ToolSchemaRetriever  = "schema_and_relationship_retriever"
	ToolSmartSQL         = "smart_sql_query"
	ToolDataSummary      = "analyze_data_summary"
	ToolCategoricalCount = "count_categorical_variable"
	ToolInteractivePlot  = "create_interactive_plot"
	ToolYearlyPlot       = "create_yearly_summary_plot"
)

// ParamSpec declares one string argument of a tool
type ParamSpec struct {
	Name     string
	Desc     string
	Required bool
}

// Func is a tool body. Arguments are already validated; the returned text
// goes back to the model as is.
type Func func(ctx context.Context, args map[string]string) string

// Tool is an eino invokable tool whose arguments are all strings
type Tool struct {
	name   string
	desc   string
	params []ParamSpec
	fn     Func
}

var _ tool.InvokableTool = (*Tool)(nil)

// NewTool creates a tool
func NewTool(name, desc string, params []ParamSpec, fn Func) *Tool {
	return &Tool{name: name, desc: desc, params: params, fn: fn}
}

// Name returns the tool name
func (t *Tool) Name() string {
	return t.name
}

// Info describes the tool to the model
func (t *Tool) Info(_ context.Context) (*einoschema.ToolInfo, error) {
	params := make(map[string]*einoschema.ParameterInfo, len(t.params))
	for _, p := range t.params {
		params[p.Name] = &einoschema.ParameterInfo{
			Type:     einoschema.String,
			Desc:     p.Desc,
			Required: p.Required,
		}
	}

	return &einoschema.ToolInfo{
		Name:        t.name,
		Desc:        t.desc,
		ParamsOneOf: einoschema.NewParamsOneOfByParams(params),
	}, nil
}

// ParseArgs validates raw JSON arguments. Null counts as absent; unknown
// names, non-string values and missing required names are rejected.
func (t *Tool) ParseArgs(argsJSON string) (map[string]string, error) {
	raw := map[string]any{}

	if trimmed := strings.TrimSpace(argsJSON); trimmed != "" {
		if err := json.Unmarshal([]byte(trimmed), &raw); err != nil {
			return nil, errors.NewToolArgumentError(t.name, "arguments are not a JSON object")
		}
	}

	known := make(map[string]bool, len(t.params))
	for _, p := range t.params {
		known[p.Name] = true
	}

	var unknown []string

	for name := range raw {
		if !known[name] {
			unknown = append(unknown, name)
		}
	}

	if len(unknown) > 0 {
		sort.Strings(unknown)
		return nil, errors.NewToolArgumentError(t.name, "unexpected argument "+strings.Join(unknown, ", "))
	}

	args := make(map[string]string, len(t.params))

	for _, p := range t.params {
		v, ok := raw[p.Name]
		if !ok || v == nil {
			if p.Required {
				return nil, errors.NewToolArgumentError(t.name, fmt.Sprintf("missing required argument '%s'", p.Name))
			}

			continue
		}

		s, ok := v.(string)
		if !ok {
			return nil, errors.NewToolArgumentError(t.name, fmt.Sprintf("argument '%s' must be a string", p.Name))
		}

		args[p.Name] = s
	}

	return args, nil
}

// InvokableRun validates the arguments and runs the tool body. Only argument
// errors are returned as errors.
func (t *Tool) InvokableRun(ctx context.Context, argsJSON string, _ ...tool.Option) (string, error) {
	args, err := t.ParseArgs(argsJSON)
	if err != nil {
		return "", err
	}

	return t.fn(ctx, args), nil
}

// Env is everything the default tools act on
type Env struct {
	Source      datasource.Source
	Index       *schema.Holder
	Session     *session.Session
	Rules       sqlexec.Rules
	MaxRows     int
	PreviewRows int
	RetrieverK  int
}

// DefaultTools builds the six tools over env
func DefaultTools(env Env) []*Tool {
	executor := sqlexec.NewExecutor(env.Source, env.Session, env.MaxRows)
	codes := sqlexec.NewCodeStore(env.Session)

	rules := env.Rules
	if len(rules.Prefixes) == 0 && len(rules.Contains) == 0 {
		rules = sqlexec.DefaultRules
	}

	return []*Tool{
		NewTool(ToolSchemaRetriever,
			"Use this tool FIRST to understand the database schema, table relationships, "+
				"or the meaning of columns. It provides context for writing accurate queries.",
			[]ParamSpec{{Name: "query", Desc: "What to look up in the schema", Required: true}},
			func(ctx context.Context, args map[string]string) string {
				return retrieveSchema(ctx, env.Index, args["query"], env.RetrieverK)
			}),

		NewTool(ToolSmartSQL,
			"Executes SQL queries or stores generated Python code. SQL runs immediately "+
				"and its result becomes the last result. Anything that is not SQL is stored "+
				"for the user to review and run; it is never executed by this tool.",
			[]ParamSpec{{Name: "query_or_code", Desc: "A SQL statement or Python code", Required: true}},
			func(ctx context.Context, args map[string]string) string {
				return smartSQL(ctx, executor, codes, rules, args["query_or_code"], env.PreviewRows)
			}),

		NewTool(ToolDataSummary,
			"Get summary statistics, data types, and missing values of a data table.",
			[]ParamSpec{{Name: "table_name", Desc: "Table to summarize", Required: true}},
			func(ctx context.Context, args map[string]string) string {
				return analytics.Summary(ctx, env.Source, args["table_name"])
			}),

		NewTool(ToolCategoricalCount,
			"Count occurrences in a categorical column.",
			[]ParamSpec{
				{Name: "table_name", Desc: "Table holding the column", Required: true},
				{Name: "column_name", Desc: "Categorical column to count", Required: true},
			},
			func(ctx context.Context, args map[string]string) string {
				return analytics.CategoricalCount(ctx, env.Source, args["table_name"], args["column_name"])
			}),

		NewTool(ToolInteractivePlot,
			"Create visualizations: bar, scatter, histogram. Requires columns. "+
				"Omit y, or pass \"count\", to plot the number of rows per x.",
			[]ParamSpec{
				{Name: "table_name", Desc: "Table to plot", Required: true},
				{Name: "plot_type", Desc: "One of bar, scatter, histogram", Required: true},
				{Name: "x", Desc: "Column for the x axis", Required: true},
				{Name: "y", Desc: "Column for the y axis, or count"},
				{Name: "color", Desc: "Column used to split traces"},
			},
			func(ctx context.Context, args map[string]string) string {
				return analytics.InteractivePlot(ctx, env.Source,
					args["table_name"], args["plot_type"], args["x"], args["y"], args["color"])
			}),

		NewTool(ToolYearlyPlot,
			"Create a bar plot showing yearly counts using a date column.",
			[]ParamSpec{
				{Name: "table_name", Desc: "Table holding the date column", Required: true},
				{Name: "date_column", Desc: "Column with dates", Required: true},
			},
			func(ctx context.Context, args map[string]string) string {
				return analytics.YearlySummaryPlot(ctx, env.Source, args["table_name"], args["date_column"])
			}),
	}
}

func retrieveSchema(ctx context.Context, holder *schema.Holder, query string, k int) string {
	var idx *schema.Index
	if holder != nil {
		idx = holder.Load()
	}

	if idx == nil || idx.Len() == 0 {
		return "No schema information is available. Load a data source first."
	}

	text, err := idx.Retrieve(ctx, query, k)
	if err != nil {
		logging.WithError(err).Warn("Schema retrieval failed")
		return "Error retrieving schema: " + errors.UserMessage(err)
	}

	if text == "" {
		return "No matching schema information found."
	}

	return text
}

// sqlResult is what the model sees after a successful statement
type sqlResult struct {
	Rows        int      `json:"rows"`
	Columns     []string `json:"columns"`
	ExecutedSQL string   `json:"executed_sql"`
	Preview     [][]any  `json:"preview,omitempty"`
}

type storedResult struct {
	Status string `json:"status"`
	ID     string `json:"id"`
}

func smartSQL(
	ctx context.Context,
	executor *sqlexec.Executor,
	codes *sqlexec.CodeStore,
	rules sqlexec.Rules,
	text string,
	previewRows int,
) string {
	text = strings.TrimSpace(text)
	if text == "" {
		return "No SQL or code provided."
	}

	var out any

	if rules.Classify(text) == sqlexec.KindSQL {
		res := executor.Execute(ctx, text)
		if !res.OK() {
			return "Error executing tool: " + res.Message
		}

		preview := res.Frame().Head(previewRows)

		out = sqlResult{
			Rows:        res.RowCount,
			Columns:     res.Columns,
			ExecutedSQL: res.ExecutedSQL,
			Preview:     preview.Rows,
		}
	} else {
		snip := codes.Store(text)
		out = storedResult{Status: "stored", ID: snip.ID}
	}

	data, err := json.Marshal(out)
	if err != nil {
		return "Error executing tool: " + err.Error()
	}

	return string(data)
}
