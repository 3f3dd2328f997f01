package datasource

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/kyleking/sqlchat/internal/errors"
)

const (
	itUser     = "sqlchat"
	itPassword = "sqlchat"
	itDatabase = "shop"
)

// startDatabase runs req until its wait strategy passes. Integration tests
// skip in short mode and when no container runtime is reachable.
func startDatabase(t *testing.T, req testcontainers.ContainerRequest) testcontainers.Container {
	t.Helper()

	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}

	testcontainers.SkipIfProviderIsNotHealthy(t)

	ctx := context.Background()

	c, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Terminate(ctx) })

	return c
}

// seed runs statements against the database p points at
func seed(t *testing.T, p Params, statements ...string) {
	t.Helper()

	dialect, dsn, err := p.DSN()
	require.NoError(t, err)

	db, err := sql.Open(dialect.Driver, dsn)
	require.NoError(t, err)
	defer db.Close()

	for _, stmt := range statements {
		_, err := db.ExecContext(context.Background(), stmt)
		require.NoError(t, err, stmt)
	}
}

func TestConnectPostgres(t *testing.T) {
	c := startDatabase(t, testcontainers.ContainerRequest{
		Image:        "postgres:16-alpine",
		ExposedPorts: []string{"5432/tcp"},
		Env: map[string]string{
			"POSTGRES_USER":     itUser,
			"POSTGRES_PASSWORD": itPassword,
			"POSTGRES_DB":       itDatabase,
		},
		WaitingFor: wait.ForLog("database system is ready to accept connections").
			WithOccurrence(2).
			WithStartupTimeout(2 * time.Minute),
	})

	ctx := context.Background()

	host, err := c.Host(ctx)
	require.NoError(t, err)
	port, err := c.MappedPort(ctx, "5432/tcp")
	require.NoError(t, err)

	p := Params{Type: "postgresql", Host: host, Port: port.Int(), User: itUser, Password: itPassword, Name: itDatabase}

	_, err = Connect(ctx, p)
	require.Error(t, err)
	assert.True(t, errors.IsType(err, errors.ErrTypeConnection))

	seed(t, p,
		`CREATE TABLE employees (id INTEGER, name VARCHAR(64), salary NUMERIC(10,2), hired DATE)`,
		`INSERT INTO employees VALUES (1, 'Ann', 100.50, '2020-01-15'), (2, 'Bob', NULL, '2021-06-01')`,
		`CREATE TABLE "order lines" (qty BIGINT, ratio DOUBLE PRECISION)`,
		`INSERT INTO "order lines" VALUES (3, 'NaN')`,
		`CREATE VIEW payroll AS SELECT name, salary FROM employees`,
	)

	src, err := Connect(ctx, p)
	require.NoError(t, err)
	t.Cleanup(func() { _ = src.Close() })

	assert.Equal(t, "postgres", src.Dialect().Name)

	tables, err := src.ListTables(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"employees", "order lines"}, tables)

	cols, err := src.DescribeColumns(ctx, "employees")
	require.NoError(t, err)
	assert.Equal(t, []Column{
		{"id", "INTEGER"},
		{"name", "CHARACTER VARYING"},
		{"salary", "NUMERIC"},
		{"hired", "DATE"},
	}, cols)

	_, err = src.DescribeColumns(ctx, "ghosts")
	assert.True(t, errors.IsType(err, errors.ErrTypeNotFound))

	f, err := src.Query(ctx, "SELECT id, name, salary, hired FROM employees ORDER BY id")
	require.NoError(t, err)
	require.Equal(t, 2, f.Len())
	assert.Equal(t, int64(1), f.Rows[0][0])
	assert.Equal(t, "Ann", f.Rows[0][1])
	assert.Equal(t, 100.5, f.Rows[0][2])
	assert.Equal(t, time.Date(2020, time.January, 15, 0, 0, 0, 0, time.UTC), f.Rows[0][3].(time.Time).UTC())
	assert.Nil(t, f.Rows[1][2])

	f, err = src.Query(ctx, SelectAll(src, "order lines"))
	require.NoError(t, err)
	assert.Equal(t, []any{int64(3), nil}, f.Rows[0])
}

func TestConnectMySQL(t *testing.T) {
	c := startDatabase(t, testcontainers.ContainerRequest{
		Image:        "mysql:8.0",
		ExposedPorts: []string{"3306/tcp"},
		Env: map[string]string{
			"MYSQL_ROOT_PASSWORD": itPassword,
			"MYSQL_USER":          itUser,
			"MYSQL_PASSWORD":      itPassword,
			"MYSQL_DATABASE":      itDatabase,
		},
		WaitingFor: wait.ForLog("port: 3306  MySQL Community Server").
			WithStartupTimeout(3 * time.Minute),
	})

	ctx := context.Background()

	host, err := c.Host(ctx)
	require.NoError(t, err)
	port, err := c.MappedPort(ctx, "3306/tcp")
	require.NoError(t, err)

	p := Params{Type: "mariadb", Host: host, Port: port.Int(), User: itUser, Password: itPassword, Name: itDatabase}

	seed(t, p,
		"CREATE TABLE employees (id INT, name VARCHAR(64), salary DECIMAL(10,2), hired DATE)",
		"INSERT INTO employees VALUES (1, 'Ann', 100.50, '2020-01-15'), (2, 'Bob', NULL, '2021-06-01')",
		"CREATE TABLE `order lines` (qty BIGINT UNSIGNED, ratio DOUBLE)",
		"INSERT INTO `order lines` VALUES (3, 0.25)",
	)

	src, err := Connect(ctx, p)
	require.NoError(t, err)
	t.Cleanup(func() { _ = src.Close() })

	assert.Equal(t, "mysql", src.Dialect().Name)

	tables, err := src.ListTables(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"employees", "order lines"}, tables)

	cols, err := src.DescribeColumns(ctx, "employees")
	require.NoError(t, err)
	assert.Equal(t, []Column{
		{"id", "INT"},
		{"name", "VARCHAR(64)"},
		{"salary", "DECIMAL(10,2)"},
		{"hired", "DATE"},
	}, cols)

	f, err := src.Query(ctx, "SELECT id, name, salary, hired FROM employees ORDER BY id")
	require.NoError(t, err)
	require.Equal(t, 2, f.Len())
	assert.Equal(t, int64(1), f.Rows[0][0])
	assert.Equal(t, "Ann", f.Rows[0][1])
	assert.Equal(t, 100.5, f.Rows[0][2])
	assert.Equal(t, time.Date(2020, time.January, 15, 0, 0, 0, 0, time.UTC), f.Rows[0][3])
	assert.Nil(t, f.Rows[1][2])

	f, err = src.Query(ctx, SelectAll(src, "order lines"))
	require.NoError(t, err)
	assert.Equal(t, []any{int64(3), 0.25}, f.Rows[0])
}
