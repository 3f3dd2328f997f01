package datasource

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
	"time"

	_ "github.com/marcboeker/go-duckdb" // DuckDB driver

	"github.com/kyleking/sqlchat/internal/errors"
	"github.com/kyleking/sqlchat/internal/logging"
)

// CSVFile is one file to ingest. Name is the user-facing file name the
// table name derives from; Path is where the bytes live.
type CSVFile struct {
	Name string
	Path string
}

// Workspace is a DuckDB database that CSV uploads are materialized into
type Workspace struct {
	*SQLSource
	path string
}

var nonIdentChars = regexp.MustCompile(`[^a-z0-9_]`)

// NewWorkspace opens a DuckDB workspace. An empty path keeps it in memory.
func NewWorkspace(path string, maxConns int) (*Workspace, error) {
	label := path
	if path == "" {
		label = "memory"
	} else if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, errors.Wrap(err, errors.ErrTypeFileSystem, "failed to create workspace directory")
	}

	db, err := sql.Open("duckdb", path)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrTypeConnection, "failed to open workspace")
	}

	if maxConns <= 0 {
		maxConns = 1
	}

	db.SetMaxOpenConns(maxConns)
	db.SetMaxIdleConns(maxConns)
	db.SetConnMaxIdleTime(5 * time.Minute)

	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, errors.Wrap(err, errors.ErrTypeConnection, "failed to ping workspace")
	}

	return &Workspace{
		SQLSource: NewSQLSource(db, DuckDB, "duckdb:"+label),
		path:      path,
	}, nil
}

// Path returns the workspace file, empty for in-memory workspaces
func (w *Workspace) Path() string {
	return w.path
}

// TableName derives a table name from a file name: extension dropped,
// lower-cased, and every character outside [a-z0-9_] replaced by '_'.
func TableName(fileName string) string {
	base := filepath.Base(fileName)
	base = strings.TrimSuffix(base, filepath.Ext(base))
	name := nonIdentChars.ReplaceAllString(strings.ToLower(base), "_")

	if name == "" {
		return "table"
	}

	return name
}

// uniqueName appends _2, _3, ... until name is not taken
func uniqueName(name string, taken map[string]bool) string {
	if !taken[name] {
		return name
	}

	for i := 2; ; i++ {
		candidate := name + "_" + strconv.Itoa(i)
		if !taken[candidate] {
			return candidate
		}
	}
}

func quoteLiteral(s string) string {
	return "'" + strings.ReplaceAll(s, "'", "''") + "'"
}

// LoadCSVs creates one table per file inside a single transaction. Any file
// failure rolls back the whole batch. Returns the created table names in
// input order.
func (w *Workspace) LoadCSVs(ctx context.Context, files []CSVFile) ([]string, error) {
	if len(files) == 0 {
		return nil, errors.New(errors.ErrTypeValidation, "no files to load")
	}

	existing, err := w.ListTables(ctx)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrTypeIngestion, "failed to read workspace tables")
	}

	taken := make(map[string]bool, len(existing))
	for _, t := range existing {
		taken[t] = true
	}

	tx, err := w.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrTypeIngestion, "failed to begin load transaction")
	}

	defer func() { _ = tx.Rollback() }()

	created := make([]string, 0, len(files))

	for _, file := range files {
		name := uniqueName(TableName(file.Name), taken)

		stmt := fmt.Sprintf(
			"CREATE TABLE %s AS SELECT * FROM read_csv_auto(%s, header = true)",
			w.QuoteIdent(name), quoteLiteral(file.Path),
		)

		if _, err := tx.ExecContext(ctx, stmt); err != nil {
			return nil, errors.NewIngestionError(file.Name, err)
		}

		taken[name] = true
		created = append(created, name)
	}

	if err := tx.Commit(); err != nil {
		return nil, errors.Wrap(err, errors.ErrTypeIngestion, "failed to commit load transaction")
	}

	logging.WithFields(map[string]interface{}{
		"source": w.label,
		"tables": strings.Join(created, ","),
	}).Info("Loaded CSV files into workspace")

	return created, nil
}

// DropTable removes a table from the workspace
func (w *Workspace) DropTable(ctx context.Context, table string) error {
	if _, err := w.db.ExecContext(ctx, "DROP TABLE IF EXISTS "+w.QuoteIdent(table)); err != nil {
		return errors.Wrapf(err, errors.ErrTypeExecution, "failed to drop table %s", table)
	}

	return nil
}
