package sqlexec

import (
	"context"
	"errors"
	"regexp"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kyleking/sqlchat/internal/datasource"
	sqlerrors "github.com/kyleking/sqlchat/internal/errors"
	"github.com/kyleking/sqlchat/internal/frame"
	"github.com/kyleking/sqlchat/internal/session"
)

func TestClassify(t *testing.T) {
	tests := []struct {
		text     string
		expected Kind
	}{
		{"SELECT 1", KindSQL},
		{"  select * from t", KindSQL},
		{"WITH x AS (SELECT 1) SELECT * FROM x", KindSQL},
		{"show tables", KindSQL},
		{"DESCRIBE employees", KindSQL},
		{"pragma table_info(t)", KindSQL},
		{"count everything from the sheet", KindSQL}, // accepted false positive
		{"import pandas; print(1)", KindCode},
		{"df.groupby('a').size()", KindCode},
		{"-- comment\nselect 1", KindCode}, // accepted false negative
		{"insert into t values (1)", KindCode},
		{"delete from t", KindSQL}, // caught by " from "
	}

	for _, tt := range tests {
		t.Run(tt.text, func(t *testing.T) {
			first := Classify(tt.text)
			assert.Equal(t, tt.expected, first)
			assert.Equal(t, first, Classify(tt.text), "classification must be deterministic")
		})
	}
}

func TestWriteRules(t *testing.T) {
	assert.Equal(t, KindCode, DefaultRules.Classify("insert into t values (1)"))
	assert.Equal(t, KindSQL, RulesFor(true).Classify("insert into t values (1)"))
	assert.Equal(t, KindSQL, RulesFor(true).Classify("UPDATE t SET a = 1"))
	assert.Equal(t, KindCode, RulesFor(false).Classify("UPDATE t SET a = 1"))

	// Extending must not alter the default table
	assert.Len(t, DefaultRules.Prefixes, 5)
}

func TestCleanSQL(t *testing.T) {
	assert.Equal(t, "SELECT * FROM t", CleanSQL("SELECT * FROM t LIMIT annotation=100"))
	assert.Equal(t, "SELECT * FROM t", CleanSQL("  SELECT * FROM t limit ANNOTATION=foo bar  "))
	assert.Equal(t, "SELECT 1", CleanSQL("SELECT 1"))
}

func TestApplyRowLimit(t *testing.T) {
	tests := []struct {
		name     string
		stmt     string
		max      int
		expected string
	}{
		{"adds limit", "SELECT * FROM t", 100, "SELECT * FROM t\nLIMIT 100"},
		{"strips semicolon", "select a from t;", 10, "select a from t\nLIMIT 10"},
		{"keeps explicit limit", "SELECT * FROM t LIMIT 5", 100, "SELECT * FROM t LIMIT 5"},
		{"keeps larger explicit limit", "select * from t limit 50000", 100, "select * from t limit 50000"},
		{"column named like limit is untouched", "SELECT credit_limit FROM t", 100, "SELECT credit_limit FROM t\nLIMIT 100"},
		{"trailing line comment", "SELECT * FROM t -- all rows", 100, "SELECT * FROM t\nLIMIT 100"},
		{"semicolon before comment", "SELECT * FROM t; -- done", 100, "SELECT * FROM t\nLIMIT 100"},
		{"limit mentioned in comment", "SELECT * FROM t -- no limit needed", 100, "SELECT * FROM t\nLIMIT 100"},
		{"block comment", "SELECT * /* every limit */ FROM t", 100, "SELECT *   FROM t\nLIMIT 100"},
		{"leading comment", "-- top earners\nSELECT * FROM t", 100, "SELECT * FROM t\nLIMIT 100"},
		{"dashes inside string", "SELECT '--' AS sep FROM t", 100, "SELECT '--' AS sep FROM t\nLIMIT 100"},
		{"limit inside string", "SELECT 'limit' AS word FROM t", 100, "SELECT 'limit' AS word FROM t\nLIMIT 100"},
		{"limit in subquery only", "SELECT * FROM t WHERE id IN (SELECT id FROM u LIMIT 5)", 100, "SELECT * FROM t WHERE id IN (SELECT id FROM u LIMIT 5)\nLIMIT 100"},
		{"non select", "WITH x AS (SELECT 1) SELECT * FROM x", 100, "WITH x AS (SELECT 1) SELECT * FROM x"},
		{"disabled", "SELECT 1", 0, "SELECT 1"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, ApplyRowLimit(tt.stmt, tt.max))
		})
	}
}

func newWorkspace(t *testing.T) *datasource.Workspace {
	t.Helper()

	ws, err := datasource.NewWorkspace("", 1)
	require.NoError(t, err)
	t.Cleanup(func() { _ = ws.Close() })

	_, err = ws.DB().ExecContext(context.Background(), "CREATE TABLE nums AS SELECT range AS n FROM range(50)")
	require.NoError(t, err)

	return ws
}

func TestExecuteCapsRows(t *testing.T) {
	ws := newWorkspace(t)
	sess := session.New()
	exec := NewExecutor(ws, sess, 10)

	res := exec.Execute(context.Background(), "SELECT * FROM nums")
	require.True(t, res.OK(), res.Message)
	assert.Equal(t, 10, res.RowCount)
	assert.Len(t, res.Rows, 10)
	assert.Equal(t, []string{"n"}, res.Columns)
	assert.Equal(t, "SELECT * FROM nums\nLIMIT 10", res.ExecutedSQL)

	last, stmt := sess.LastResult()
	require.NotNil(t, last)
	assert.Equal(t, 10, last.Len())
	assert.Equal(t, res.ExecutedSQL, stmt)
}

func TestExecuteCapsRowsDespiteTrailingComment(t *testing.T) {
	ws, err := datasource.NewWorkspace("", 1)
	require.NoError(t, err)
	t.Cleanup(func() { _ = ws.Close() })

	_, err = ws.DB().ExecContext(context.Background(), "CREATE TABLE t AS SELECT range AS n FROM range(20)")
	require.NoError(t, err)

	exec := NewExecutor(ws, session.New(), 5)

	for _, stmt := range []string{
		"SELECT * FROM t -- all rows",
		"SELECT * FROM t; -- all rows",
		"SELECT * FROM t /* no limit */",
	} {
		res := exec.Execute(context.Background(), stmt)
		require.True(t, res.OK(), res.Message)
		assert.LessOrEqual(t, res.RowCount, 5, stmt)
		assert.Len(t, res.Rows, 5, stmt)
	}
}

func TestExecuteHonorsExplicitLimit(t *testing.T) {
	exec := NewExecutor(newWorkspace(t), session.New(), 10)

	res := exec.Execute(context.Background(), "SELECT * FROM nums LIMIT 3")
	require.True(t, res.OK())
	assert.Equal(t, 3, res.RowCount)
	assert.Equal(t, "SELECT * FROM nums LIMIT 3", res.ExecutedSQL)
}

func TestExecuteErrorsBecomeResults(t *testing.T) {
	sess := session.New()
	exec := NewExecutor(newWorkspace(t), sess, 10)

	res := exec.Execute(context.Background(), "SELECT * FROM missing_table")
	assert.False(t, res.OK())
	assert.Equal(t, StatusError, res.Status)
	assert.Contains(t, res.Message, "query failed")

	last, _ := sess.LastResult()
	assert.Nil(t, last, "failed statements must not replace the last result")

	res = exec.Execute(context.Background(), "   ")
	assert.Equal(t, "No SQL or code provided.", res.Message)
}

type panickySource struct{ datasource.Source }

func (panickySource) Query(context.Context, string) (*frame.Frame, error) {
	panic("driver exploded")
}

func TestExecuteRecoversPanics(t *testing.T) {
	exec := NewExecutor(panickySource{}, session.New(), 10)

	res := exec.Execute(context.Background(), "SELECT 1")
	assert.Equal(t, StatusError, res.Status)
	assert.Contains(t, res.Message, "driver exploded")
}

var snippetID = regexp.MustCompile(`^code_\d+_[0-9a-f]{6}$`)

func TestSnippetID(t *testing.T) {
	at := time.Unix(1700000000, 0)

	a := NewSnippetID(at)
	b := NewSnippetID(at)

	assert.Regexp(t, snippetID, a)
	assert.Contains(t, a, "code_1700000000_")
	assert.NotEqual(t, a, b)
}

type fakeRunner struct {
	gotCode string
	gotDF   *frame.Frame
	output  string
	err     error
}

func (f *fakeRunner) RunSnippet(_ context.Context, code string, df *frame.Frame) (string, error) {
	f.gotCode = code
	f.gotDF = df

	return f.output, f.err
}

func TestCodeStoreVersusExecution(t *testing.T) {
	ctx := context.Background()
	sess := session.New()
	exec := NewExecutor(newWorkspace(t), sess, 100)
	store := NewCodeStore(sess)

	code := "import pandas; print(1)"
	require.Equal(t, KindCode, Classify(code))

	snip := store.Store(code)
	assert.Regexp(t, snippetID, snip.ID)
	assert.Equal(t, session.SnippetProposed, snip.State)

	last, _ := sess.LastResult()
	assert.Nil(t, last, "storing code must not touch the last result")

	require.Equal(t, KindSQL, Classify("SELECT 1"))
	res := exec.Execute(ctx, "SELECT 1")
	require.True(t, res.OK())

	last, _ = sess.LastResult()
	require.NotNil(t, last)
	assert.Equal(t, 1, last.Len())

	runner := &fakeRunner{output: "1\n"}
	done, err := store.Run(ctx, runner, snip.ID)
	require.NoError(t, err)
	assert.Equal(t, session.SnippetExecuted, done.State)
	assert.Equal(t, code, runner.gotCode)
	assert.Same(t, last, runner.gotDF)
}

func TestCodeStoreRunFailures(t *testing.T) {
	ctx := context.Background()
	sess := session.New()
	store := NewCodeStore(sess)

	_, err := store.Run(ctx, &fakeRunner{}, "code_0_000000")
	assert.True(t, sqlerrors.IsType(err, sqlerrors.ErrTypeNotFound))

	snip := store.Store("raise SystemExit(1)")
	runner := &fakeRunner{output: "Traceback", err: errors.New("exit status 1")}

	failed, err := store.Run(ctx, runner, snip.ID)
	require.Error(t, err)
	assert.True(t, sqlerrors.IsType(err, sqlerrors.ErrTypeExecution))
	assert.Equal(t, session.SnippetFailed, failed.State)
	assert.Contains(t, failed.Output, "Traceback")
	assert.Contains(t, failed.Output, "exit status 1")
	assert.NotNil(t, runner.gotDF, "an empty frame is bound when nothing ran yet")
}
