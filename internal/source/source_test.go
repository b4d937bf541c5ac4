package source

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/evalgo/snowflake-to-falkordb/internal/config"
)

func writeRows(t *testing.T, contents string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "rows.json")
	require.NoError(t, os.WriteFile(path, []byte(contents), 0o600))
	return path
}

func TestFetchRowsFromFile(t *testing.T) {
	path := writeRows(t, `[{"id": 1, "name": "ada"}, {"id": 2, "name": "alan"}]`)
	common := &config.CommonFields{Name: "people", Source: config.SourceSpec{File: &path}}

	rows, err := FetchRows(context.Background(), &config.Config{}, common, "")
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, float64(1), rows[0]["id"])
	assert.Equal(t, "ada", rows[0]["name"])
}

func TestFetchRowsFromFileRejectsNonArray(t *testing.T) {
	path := writeRows(t, `{"id": 1}`)
	common := &config.CommonFields{Name: "people", Source: config.SourceSpec{File: &path}}

	_, err := FetchRows(context.Background(), &config.Config{}, common, "")
	assert.Error(t, err)
}

func TestFetchRowsNoSourceConfigured(t *testing.T) {
	common := &config.CommonFields{Name: "nothing"}
	_, err := FetchRows(context.Background(), &config.Config{}, common, "")
	assert.Error(t, err)
}

func TestBuildSQLPrecedence(t *testing.T) {
	table := "customers"
	sel := "SELECT 1"
	stream := "customers_stream"
	where := "region = 'eu'"

	t.Run("select wins over everything", func(t *testing.T) {
		common := &config.CommonFields{Source: config.SourceSpec{Select: &sel, Table: &table, Stream: &stream}}
		sql, err := buildSQL(common, "")
		require.NoError(t, err)
		assert.Equal(t, sel, sql)
	})

	t.Run("stream wins over table", func(t *testing.T) {
		common := &config.CommonFields{Source: config.SourceSpec{Stream: &stream, Table: &table}}
		sql, err := buildSQL(common, "")
		require.NoError(t, err)
		assert.Equal(t, "SELECT * FROM customers_stream", sql)
	})

	t.Run("stream never gets a watermark predicate", func(t *testing.T) {
		common := &config.CommonFields{
			Source: config.SourceSpec{Stream: &stream},
			Delta:  &config.DeltaSpec{UpdatedAtColumn: "updated_at"},
		}
		sql, err := buildSQL(common, "2024-01-01T00:00:00Z")
		require.NoError(t, err)
		assert.Equal(t, "SELECT * FROM customers_stream", sql)
	})

	t.Run("table with watermark and existing where", func(t *testing.T) {
		common := &config.CommonFields{
			Source: config.SourceSpec{Table: &table, Where: &where},
			Delta:  &config.DeltaSpec{UpdatedAtColumn: "updated_at"},
		}
		sql, err := buildSQL(common, "2024-01-01T00:00:00Z")
		require.NoError(t, err)
		assert.Equal(t, "SELECT * FROM customers WHERE region = 'eu' AND updated_at > '2024-01-01T00:00:00Z'", sql)
	})

	t.Run("table without watermark when empty", func(t *testing.T) {
		common := &config.CommonFields{
			Source: config.SourceSpec{Table: &table},
			Delta:  &config.DeltaSpec{UpdatedAtColumn: "updated_at"},
		}
		sql, err := buildSQL(common, "")
		require.NoError(t, err)
		assert.Equal(t, "SELECT * FROM customers", sql)
	})

	t.Run("no source field set is an error", func(t *testing.T) {
		common := &config.CommonFields{Name: "broken"}
		_, err := buildSQL(common, "")
		assert.Error(t, err)
	})
}

// pagerDriver serves a fixed five-row table, honoring the LIMIT/OFFSET
// clause fetchPaged appends, and counts the queries it receives.
type pagerDriver struct {
	rows    []string
	queries int
}

var pager = &pagerDriver{rows: []string{"r1", "r2", "r3", "r4", "r5"}}

func init() {
	sql.Register("fakepager", pager)
}

func (d *pagerDriver) Open(string) (driver.Conn, error) { return &pagerConn{d: d}, nil }

type pagerConn struct {
	d *pagerDriver
}

func (c *pagerConn) Prepare(string) (driver.Stmt, error) { return nil, errors.New("not supported") }
func (c *pagerConn) Close() error                        { return nil }
func (c *pagerConn) Begin() (driver.Tx, error)           { return nil, errors.New("not supported") }

func (c *pagerConn) QueryContext(ctx context.Context, query string, args []driver.NamedValue) (driver.Rows, error) {
	c.d.queries++

	var limit, offset int
	idx := strings.Index(query, "LIMIT")
	if idx < 0 {
		return nil, fmt.Errorf("query %q has no LIMIT clause", query)
	}
	if _, err := fmt.Sscanf(query[idx:], "LIMIT %d OFFSET %d", &limit, &offset); err != nil {
		return nil, fmt.Errorf("parsing LIMIT/OFFSET in %q: %w", query, err)
	}

	end := offset + limit
	if offset > len(c.d.rows) {
		offset = len(c.d.rows)
	}
	if end > len(c.d.rows) {
		end = len(c.d.rows)
	}
	return &pagerRows{values: c.d.rows[offset:end]}, nil
}

type pagerRows struct {
	values []string
	pos    int
}

func (r *pagerRows) Columns() []string { return []string{"id"} }
func (r *pagerRows) Close() error      { return nil }

func (r *pagerRows) Next(dest []driver.Value) error {
	if r.pos >= len(r.values) {
		return io.EOF
	}
	dest[0] = r.values[r.pos]
	r.pos++
	return nil
}

func TestFetchPagedTerminatesOnShortPage(t *testing.T) {
	db, err := sql.Open("fakepager", "")
	require.NoError(t, err)
	defer db.Close()

	pager.queries = 0
	rows, err := fetchPaged(context.Background(), db, "SELECT * FROM t", "updated_at", 2, nil)
	require.NoError(t, err)

	require.Len(t, rows, 5)
	assert.Equal(t, 3, pager.queries)
	assert.Equal(t, "r1", rows[0]["id"])
	assert.Equal(t, "r5", rows[4]["id"])
}

func TestCoerceValue(t *testing.T) {
	assert.Nil(t, coerceValue(nil))
	assert.Equal(t, float64(42), coerceValue("42"))
	assert.Equal(t, true, coerceValue("true"))
	assert.Equal(t, "plain text", coerceValue("plain text"))
	assert.Equal(t, int64(7), coerceValue(int64(7)))

	decoded := coerceValue(`{"a": 1}`)
	m, ok := decoded.(map[string]any)
	require.True(t, ok)
	assert.Equal(t, float64(1), m["a"])
}
