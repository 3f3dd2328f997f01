package sqlexec

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	"github.com/kyleking/sqlchat/internal/datasource"
	"github.com/kyleking/sqlchat/internal/errors"
	"github.com/kyleking/sqlchat/internal/frame"
	"github.com/kyleking/sqlchat/internal/logging"
	"github.com/kyleking/sqlchat/internal/monitor"
	"github.com/kyleking/sqlchat/internal/session"
)

const (
	DefaultMaxRows     = 10000
	DefaultPreviewRows = 100
)

// Status of a query result
type Status string

const (
	StatusSuccess Status = "success"
	StatusError   Status = "error"
)

var (
	annotationPattern = regexp.MustCompile(`(?i)LIMIT annotation=.*$`)
	limitPattern      = regexp.MustCompile(`(?i)\blimit\b`)
)

// QueryResult is the outcome of one execution
type QueryResult struct {
	Status      Status   `json:"status"`
	RowCount    int      `json:"row_count,omitempty"`
	Columns     []string `json:"column_names,omitempty"`
	Rows        [][]any  `json:"rows,omitempty"`
	ExecutedSQL string   `json:"executed_sql,omitempty"`
	Message     string   `json:"message,omitempty"`
}

// OK reports success
func (r QueryResult) OK() bool {
	return r.Status == StatusSuccess
}

// Frame returns the rows as a frame
func (r QueryResult) Frame() *frame.Frame {
	return &frame.Frame{Columns: r.Columns, Rows: r.Rows}
}

// CleanSQL removes a trailing "LIMIT annotation=..." artifact and trims
func CleanSQL(text string) string {
	return strings.TrimSpace(annotationPattern.ReplaceAllString(strings.TrimSpace(text), ""))
}

// ApplyRowLimit appends LIMIT maxRows on its own line to a select without
// an outer limit clause. Comments are dropped from the returned statement so
// a trailing line comment cannot swallow the limit. Other statements, and
// maxRows <= 0, leave stmt unchanged.
func ApplyRowLimit(stmt string, maxRows int) string {
	if maxRows <= 0 {
		return stmt
	}

	code := strings.TrimSpace(stripComments(stmt))
	if !strings.HasPrefix(strings.ToLower(code), "select") || limitPattern.MatchString(outerClauses(code)) {
		return stmt
	}

	code = strings.TrimRight(code, "; \t\r\n")

	return fmt.Sprintf("%s\nLIMIT %d", code, maxRows)
}

// stripComments removes -- and /* */ comments outside quoted text
func stripComments(stmt string) string {
	var b strings.Builder

	var quote byte

	for i := 0; i < len(stmt); i++ {
		c := stmt[i]

		switch {
		case quote != 0:
			if c == quote {
				quote = 0
			}

			b.WriteByte(c)
		case c == '\'' || c == '"':
			quote = c
			b.WriteByte(c)
		case c == '-' && i+1 < len(stmt) && stmt[i+1] == '-':
			for i < len(stmt) && stmt[i] != '\n' {
				i++
			}

			if i < len(stmt) {
				b.WriteByte('\n')
			}
		case c == '/' && i+1 < len(stmt) && stmt[i+1] == '*':
			end := strings.Index(stmt[i+2:], "*/")
			if end < 0 {
				i = len(stmt)
			} else {
				i += end + 3
			}

			b.WriteByte(' ')
		default:
			b.WriteByte(c)
		}
	}

	return b.String()
}

// outerClauses blanks quoted text and parenthesized subqueries so only the
// outermost statement's keywords remain.
func outerClauses(code string) string {
	out := []byte(code)
	depth := 0

	var quote byte

	for i := 0; i < len(out); i++ {
		c := out[i]

		switch {
		case quote != 0:
			if c == quote {
				quote = 0
			}

			out[i] = ' '
		case c == '\'' || c == '"':
			quote = c
			out[i] = ' '
		case c == '(':
			depth++
			out[i] = ' '
		case c == ')':
			if depth > 0 {
				depth--
			}

			out[i] = ' '
		case depth > 0:
			out[i] = ' '
		}
	}

	return string(out)
}

// Executor runs model SQL against a source and records the last result
type Executor struct {
	source  datasource.Source
	session *session.Session
	maxRows int
}

// NewExecutor creates an executor. maxRows <= 0 disables the cap.
func NewExecutor(source datasource.Source, sess *session.Session, maxRows int) *Executor {
	return &Executor{source: source, session: sess, maxRows: maxRows}
}

// MaxRows returns the row cap
func (e *Executor) MaxRows() int {
	return e.maxRows
}

// Execute never returns an error: failures, including driver panics, come
// back as an error result.
func (e *Executor) Execute(ctx context.Context, text string) (result QueryResult) {
	stmt := ApplyRowLimit(CleanSQL(text), e.maxRows)
	logger := logging.WithField("sql", stmt)

	defer func() {
		if r := recover(); r != nil {
			logger.Errorf("Statement panicked: %v", r)
			result = QueryResult{Status: StatusError, Message: fmt.Sprintf("unexpected failure: %v", r)}
			monitor.ObserveSQL(string(StatusError))
		}
	}()

	if stmt == "" {
		monitor.ObserveSQL(string(StatusError))
		return QueryResult{Status: StatusError, Message: "No SQL or code provided."}
	}

	f, err := e.source.Query(ctx, stmt)
	if err != nil {
		execErr := errors.Wrap(err, errors.ErrTypeExecution, "query failed")
		logger.WithError(execErr).Warn("Statement failed")
		monitor.ObserveSQL(string(StatusError))

		return QueryResult{Status: StatusError, Message: errors.UserMessage(execErr)}
	}

	if e.session != nil {
		e.session.SetLastResult(f, stmt)
	}

	monitor.ObserveSQL(string(StatusSuccess))
	logger.WithField("rows", f.Len()).Debug("Statement succeeded")

	return QueryResult{
		Status:      StatusSuccess,
		RowCount:    f.Len(),
		Columns:     f.Columns,
		Rows:        f.Rows,
		ExecutedSQL: stmt,
	}
}
