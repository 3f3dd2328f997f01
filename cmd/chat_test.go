package cmd

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kyleking/sqlchat/internal/agent"
	"github.com/kyleking/sqlchat/internal/chat"
	"github.com/kyleking/sqlchat/internal/config"
	"github.com/kyleking/sqlchat/internal/testutil"
)

func newTestEngine(t *testing.T, deps chat.Deps) *chat.Engine {
	t.Helper()

	cfg := config.DefaultConfig()
	cfg.Workspace.MaxConnections = 1

	engine := chat.NewEngine(cfg, deps)
	t.Cleanup(func() { _ = engine.Close() })

	_, err := engine.LoadCSVs(context.Background(), testutil.WriteCSVs(t, map[string]string{
		"employees.csv": testutil.EmployeesCSV,
	}))
	require.NoError(t, err)

	return engine
}

func runREPL(t *testing.T, engine *chat.Engine, plotDir, input string) string {
	t.Helper()

	var out bytes.Buffer

	r := newREPL(engine, strings.NewReader(input), &out, plotDir)
	r.verbose = true
	require.NoError(t, r.run(context.Background()))

	return out.String()
}

func TestREPL_SlashCommands(t *testing.T) {
	engine := newTestEngine(t, chat.Deps{})

	out := runREPL(t, engine, t.TempDir(), strings.Join([]string{
		"/help",
		"/tables",
		"/last",
		"/codes",
		"/run",
		"/run abc",
		"/bogus",
		"/clear",
		"/quit",
		"/tables",
	}, "\n"))

	assert.Contains(t, out, "/run <id>    run a stored snippet")
	assert.Contains(t, out, "employees (4 columns)")
	assert.Contains(t, out, "VARCHAR")
	assert.Contains(t, out, "No query has succeeded yet.")
	assert.Contains(t, out, "No stored code.")
	assert.Contains(t, out, "Usage: /run <id>")
	assert.Contains(t, out, "Error: no snippet runner is configured")
	assert.Contains(t, out, "Unknown command /bogus. Type /help for commands.")
	assert.Contains(t, out, "Conversation cleared.")

	// nothing after /quit runs
	assert.Equal(t, 1, strings.Count(out, "employees (4 columns)"))
}

func TestREPL_QuestionWithoutModel(t *testing.T) {
	engine := newTestEngine(t, chat.Deps{})

	out := runREPL(t, engine, t.TempDir(), "how many rows?\n")

	assert.Contains(t, out, "Error: no chat model is configured")
	assert.Contains(t, out, "SQLCHAT_LLM_API_KEY")
}

func TestREPL_AnswerAndLastResult(t *testing.T) {
	cm := testutil.NewScriptedChatModel(
		testutil.Call(testutil.ToolCall("c1", agent.ToolSmartSQL, `{"query_or_code":"SELECT name FROM employees ORDER BY name"}`)),
		testutil.Say("There are five employees."),
	)
	engine := newTestEngine(t, chat.Deps{Model: cm})

	out := runREPL(t, engine, t.TempDir(), "\n  \nWho works here?\n/last\n")

	assert.Contains(t, out, "There are five employees.")
	assert.Contains(t, out, "["+agent.ToolSmartSQL+" ok, ")
	assert.Contains(t, out, "SELECT name FROM employees ORDER BY name\nLIMIT 10000")
	assert.Contains(t, out, "Ann")
	assert.Contains(t, out, "Eve")
	assert.Len(t, engine.Session().Conversation(), 2)
}

func TestREPL_PlotIsSaved(t *testing.T) {
	cm := testutil.NewScriptedChatModel(
		testutil.Call(testutil.ToolCall("c1", agent.ToolYearlyPlot, `{"table_name":"employees","date_column":"hire_date"}`)),
		testutil.Say("Hiring by year is shown in the chart."),
	)
	engine := newTestEngine(t, chat.Deps{Model: cm})
	plotDir := filepath.Join(t.TempDir(), "plots")

	out := runREPL(t, engine, plotDir, "Plot hires per year\n")

	assert.Contains(t, out, "Hiring by year is shown in the chart.")
	assert.Contains(t, out, "Chart saved to "+plotDir)

	entries, err := os.ReadDir(plotDir)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.True(t, strings.HasPrefix(entries[0].Name(), "plot_"))
	assert.True(t, strings.HasSuffix(entries[0].Name(), ".html"))

	page, err := os.ReadFile(filepath.Join(plotDir, entries[0].Name()))
	require.NoError(t, err)
	assert.Contains(t, string(page), "Plotly")
}
