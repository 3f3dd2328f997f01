package datasource

import (
	"context"
	"database/sql"
	"fmt"
	"net"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/go-sql-driver/mysql"
	_ "github.com/lib/pq" // PostgreSQL driver
	_ "modernc.org/sqlite" // SQLite driver

	"github.com/kyleking/sqlchat/internal/errors"
	"github.com/kyleking/sqlchat/internal/logging"
)

// Params describes an external database
type Params struct {
	Type     string `json:"type"` // postgres, mysql, sqlite
	Host     string `json:"host"`
	Port     int    `json:"port"`
	User     string `json:"user"`
	Password string `json:"password"`
	Name     string `json:"name"`
	// Path is the database file for sqlite
	Path    string `json:"path"`
	SSLMode string `json:"ssl_mode"`
}

var defaultPorts = map[string]int{
	"postgres": 5432,
	"mysql":    3306,
}

// normalizeType maps user spellings onto dialect names
func normalizeType(t string) string {
	switch strings.ToLower(strings.TrimSpace(t)) {
	case "postgres", "postgresql", "pg":
		return "postgres"
	case "mysql", "mariadb":
		return "mysql"
	case "sqlite", "sqlite3":
		return "sqlite"
	default:
		return strings.ToLower(t)
	}
}

// DSN returns the driver name, data source name and dialect for p
func (p Params) DSN() (Dialect, string, error) {
	kind := normalizeType(p.Type)

	port := p.Port
	if port == 0 {
		port = defaultPorts[kind]
	}

	addr := net.JoinHostPort(p.Host, strconv.Itoa(port))

	switch kind {
	case "postgres":
		sslMode := p.SSLMode
		if sslMode == "" {
			sslMode = "disable"
		}

		u := url.URL{
			Scheme:   "postgres",
			User:     url.UserPassword(p.User, p.Password),
			Host:     addr,
			Path:     "/" + p.Name,
			RawQuery: url.Values{"sslmode": {sslMode}}.Encode(),
		}

		return Postgres, u.String(), nil
	case "mysql":
		cfg := mysql.NewConfig()
		cfg.User = p.User
		cfg.Passwd = p.Password
		cfg.Net = "tcp"
		cfg.Addr = addr
		cfg.DBName = p.Name
		cfg.ParseTime = true

		return MySQL, cfg.FormatDSN(), nil
	case "sqlite":
		path := p.Path
		if path == "" {
			path = p.Name
		}

		if path == "" {
			return Dialect{}, "", errors.New(errors.ErrTypeValidation, "sqlite connections need a file path")
		}

		return SQLite, path, nil
	default:
		return Dialect{}, "", errors.Newf(errors.ErrTypeValidation, "unsupported database type: %s", p.Type).
			WithSuggestion("Use postgres, mysql, or sqlite")
	}
}

// Redacted describes the connection without credentials
func (p Params) Redacted() string {
	kind := normalizeType(p.Type)
	if kind == "sqlite" {
		return "sqlite:" + p.Path
	}

	return fmt.Sprintf("%s://%s@%s:%d/%s", kind, p.User, p.Host, p.Port, p.Name)
}

// Connect opens and verifies an external database. The source is only
// returned once it is reachable and exposes at least one table.
func Connect(ctx context.Context, p Params) (*SQLSource, error) {
	dialect, dsn, err := p.DSN()
	if err != nil {
		return nil, err
	}

	if dialect.Name == SQLite.Name {
		if _, statErr := os.Stat(dsn); statErr != nil {
			return nil, errors.NewConnectionError(dialect.Name, statErr)
		}
	}

	db, err := sql.Open(dialect.Driver, dsn)
	if err != nil {
		return nil, errors.NewConnectionError(dialect.Name, err)
	}

	db.SetMaxOpenConns(4)
	db.SetConnMaxLifetime(30 * time.Minute)

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, errors.NewConnectionError(dialect.Name, err)
	}

	src := NewSQLSource(db, dialect, p.Redacted())

	tables, err := src.ListTables(ctx)
	if err != nil {
		_ = db.Close()
		return nil, errors.NewConnectionError(dialect.Name, err)
	}

	if len(tables) == 0 {
		_ = db.Close()

		return nil, errors.Newf(errors.ErrTypeConnection, "no tables found in %s", p.Redacted()).
			WithSuggestion("Check that the database name is correct and the user can read its tables")
	}

	logging.WithFields(map[string]interface{}{
		"source": src.label,
		"tables": len(tables),
	}).Info("Connected to external database")

	return src, nil
}
