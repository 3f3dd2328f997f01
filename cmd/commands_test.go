package cmd

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/urfave/cli/v3"

	"github.com/kyleking/sqlchat/internal/chat"
	"github.com/kyleking/sqlchat/internal/config"
	"github.com/kyleking/sqlchat/internal/errors"
	"github.com/kyleking/sqlchat/internal/formatter"
	"github.com/kyleking/sqlchat/internal/plot"
	"github.com/kyleking/sqlchat/internal/testutil"
)

// parseSourceFlags runs sourceFromFlags against args
func parseSourceFlags(t *testing.T, args ...string) (sourceSpec, error) {
	t.Helper()

	var (
		spec sourceSpec
		err  error
	)

	cmd := &cli.Command{
		Name:  "test",
		Flags: sourceFlags(),
		Action: func(_ context.Context, cmd *cli.Command) error {
			spec, err = sourceFromFlags(cmd)
			return nil
		},
	}
	require.NoError(t, cmd.Run(context.Background(), append([]string{"test"}, args...)))

	return spec, err
}

func TestSourceFromFlags(t *testing.T) {
	t.Setenv("SQLCHAT_DB_PASSWORD", "from-env")

	t.Run("csv files", func(t *testing.T) {
		spec, err := parseSourceFlags(t, "--csv", "a.csv", "--csv", "b.csv")
		require.NoError(t, err)
		assert.Equal(t, []string{"a.csv", "b.csv"}, spec.CSVs)
		assert.Nil(t, spec.DB)
		assert.False(t, spec.empty())
	})

	t.Run("nothing given", func(t *testing.T) {
		spec, err := parseSourceFlags(t)
		require.NoError(t, err)
		assert.True(t, spec.empty())
	})

	t.Run("database", func(t *testing.T) {
		spec, err := parseSourceFlags(t, "--db-type", "postgres", "--db-name", "shop", "--db-user", "analyst", "--db-port", "5433")
		require.NoError(t, err)
		require.NotNil(t, spec.DB)
		assert.Equal(t, "postgres", spec.DB.Type)
		assert.Equal(t, "localhost", spec.DB.Host)
		assert.Equal(t, 5433, spec.DB.Port)
		assert.Equal(t, "shop", spec.DB.Name)
		assert.Equal(t, "from-env", spec.DB.Password)
	})

	t.Run("explicit password wins", func(t *testing.T) {
		spec, err := parseSourceFlags(t, "--db-type", "mysql", "--db-password", "flag")
		require.NoError(t, err)
		assert.Equal(t, "flag", spec.DB.Password)
	})

	t.Run("csv and database", func(t *testing.T) {
		_, err := parseSourceFlags(t, "--csv", "a.csv", "--db-type", "sqlite")
		assert.True(t, errors.IsType(err, errors.ErrTypeValidation))
	})

	for _, port := range []string{"abc", "0", "70000"} {
		t.Run("bad port "+port, func(t *testing.T) {
			_, err := parseSourceFlags(t, "--db-type", "postgres", "--db-port", port)
			assert.True(t, errors.IsType(err, errors.ErrTypeValidation))
		})
	}
}

func TestOpenSource(t *testing.T) {
	ctx := context.Background()
	cfg := config.DefaultConfig()
	cfg.Workspace.MaxConnections = 1

	engine := chat.NewEngine(cfg, chat.Deps{})
	t.Cleanup(func() { _ = engine.Close() })

	_, err := openSource(ctx, engine, sourceSpec{})
	assert.True(t, errors.IsType(err, errors.ErrTypeValidation))

	_, err = openSource(ctx, engine, sourceSpec{CSVs: []string{filepath.Join(t.TempDir(), "missing.csv")}})
	assert.True(t, errors.IsType(err, errors.ErrTypeFileSystem))

	files := testutil.WriteCSVs(t, map[string]string{"Sales Q1.csv": testutil.SalesQ1CSV})

	tables, err := openSource(ctx, engine, sourceSpec{CSVs: []string{files[0].Path}})
	require.NoError(t, err)
	assert.Equal(t, []string{"sales_q1"}, tables)
}

func TestFormatError(t *testing.T) {
	err := errors.New(errors.ErrTypeValidation, "no data source given").
		WithSuggestion("Pass --csv FILE")

	assert.Equal(t, "Error: no data source given\n  - Pass --csv FILE", formatError(err))
	assert.Equal(t, "Error: "+assert.AnError.Error(), formatError(assert.AnError))
}

func TestParseOutputFlags(t *testing.T) {
	format, limit, err := parseOutputFlags("CSV", "0")
	require.NoError(t, err)
	assert.Equal(t, formatter.FormatCSV, format)
	assert.Equal(t, 0, limit)

	format, limit, err = parseOutputFlags("", " 25 ")
	require.NoError(t, err)
	assert.Equal(t, formatter.FormatTable, format)
	assert.Equal(t, 25, limit)

	_, _, err = parseOutputFlags("xml", "10")
	assert.True(t, errors.IsType(err, errors.ErrTypeValidation))

	_, _, err = parseOutputFlags("table", "-1")
	assert.True(t, errors.IsType(err, errors.ErrTypeValidation))
}

func TestRunSQLWithEngine(t *testing.T) {
	ctx := context.Background()
	engine := newTestEngine(t, chat.Deps{})

	var buf bytes.Buffer
	err := runSQLWithEngine(ctx, &buf, engine, "SELECT name FROM employees ORDER BY name", formatter.FormatTable, 2)
	require.NoError(t, err)
	assert.Contains(t, buf.String(), "Ann")
	assert.Contains(t, buf.String(), "5 row(s)")

	buf.Reset()
	err = runSQLWithEngine(ctx, &buf, engine, "SELECT name FROM employees ORDER BY name LIMIT 1", formatter.FormatCSV, 0)
	require.NoError(t, err)
	assert.Equal(t, "name\nAnn", trimNewlines(buf.String()))

	df, executed := engine.Session().LastResult()
	require.NotNil(t, df)
	assert.Equal(t, "SELECT name FROM employees ORDER BY name LIMIT 1", executed)

	buf.Reset()
	err = runSQLWithEngine(ctx, &buf, engine, "SELECT * FROM ghosts", formatter.FormatTable, 0)
	assert.True(t, errors.IsType(err, errors.ErrTypeExecution))
}

func TestRunEDAWithEngine(t *testing.T) {
	ctx := context.Background()
	engine := newTestEngine(t, chat.Deps{})

	var buf bytes.Buffer
	require.NoError(t, runEDAWithEngine(ctx, &buf, engine, "employees", true))

	out := buf.String()
	assert.Contains(t, out, "Table: employees")
	assert.Contains(t, out, "Rows: 5  Columns: 4")
	assert.Contains(t, out, "Data Summary for table `employees`")

	assert.Error(t, runEDAWithEngine(ctx, &buf, engine, "ghosts", false))
}

func TestPrintTablesWithoutSource(t *testing.T) {
	engine := chat.NewEngine(config.DefaultConfig(), chat.Deps{})

	var buf bytes.Buffer
	err := printTables(context.Background(), &buf, engine)
	assert.True(t, errors.IsType(err, errors.ErrTypeValidation))
}

func TestNewRootCommand(t *testing.T) {
	root := NewRootCommand()

	names := make([]string, 0, len(root.Commands))
	for _, c := range root.Commands {
		names = append(names, c.Name)
	}

	assert.Equal(t, []string{"chat", "ask", "tables", "eda", "sql", "viz", "serve", "config"}, names)
}

func TestWritePlotRejectsUnwritableDir(t *testing.T) {
	file := filepath.Join(t.TempDir(), "file")
	require.NoError(t, os.WriteFile(file, []byte("x"), 0o644))

	p, err := plot.NewPayload([]byte(`{"data":[],"layout":{}}`))
	require.NoError(t, err)

	_, err = writePlot(formatter.NewFormatter(), filepath.Join(file, "plots"), p)
	assert.True(t, errors.IsType(err, errors.ErrTypeFileSystem))
}

func trimNewlines(s string) string {
	for len(s) > 0 && s[len(s)-1] == '\n' {
		s = s[:len(s)-1]
	}

	return s
}

func TestRunViz(t *testing.T) {
	ctx := context.Background()
	engine := newTestEngine(t, chat.Deps{})
	dir := filepath.Join(t.TempDir(), "plots")

	var buf bytes.Buffer
	require.NoError(t, runVizWithEngine(ctx, &buf, engine, vizRequest{
		Table: "employees", Chart: "pie", X: "department", Y: "salary", PlotDir: dir,
	}))

	assert.Contains(t, buf.String(), "Chart saved to "+dir)

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	require.Len(t, entries, 1)

	page, err := os.ReadFile(filepath.Join(dir, entries[0].Name()))
	require.NoError(t, err)
	assert.Contains(t, string(page), "salary by department")
}

func TestRunVizPrintsDocument(t *testing.T) {
	ctx := context.Background()
	engine := newTestEngine(t, chat.Deps{})

	var buf bytes.Buffer
	require.NoError(t, runVizWithEngine(ctx, &buf, engine, vizRequest{
		Table: "employees", Chart: "line", X: "name", Y: "salary",
	}))

	p, err := plot.NewPayload(bytes.TrimSpace(buf.Bytes()))
	require.NoError(t, err)
	assert.Contains(t, p.String(), `"lines+markers"`)

	err = runVizWithEngine(ctx, &buf, engine, vizRequest{Table: "employees", Chart: "area", X: "name"})
	assert.True(t, errors.IsType(err, errors.ErrTypeValidation))
}
