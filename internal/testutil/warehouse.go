package testutil

import (
	"database/sql"
	"fmt"
	"slices"
	"strings"
	"testing"

	_ "github.com/duckdb/duckdb-go/v2"
	"github.com/stretchr/testify/require"
)

var warehouseDDL = []string{
	`CREATE TABLE main.fct_bookings (ds DATE, listing_id INTEGER, guest_id INTEGER, is_instant BOOLEAN, booking_value DOUBLE)`,
	`INSERT INTO main.fct_bookings VALUES
		('2020-01-01', 1, 10, true, 100),
		('2020-01-01', 2, 11, false, 50),
		('2020-01-02', 1, 12, true, 75),
		('2020-01-15', 3, 10, false, 20),
		('2020-02-03', 2, 13, true, 60),
		('2020-02-20', 1, 11, false, 40),
		('2020-03-05', 3, 12, true, 90)`,
	`CREATE TABLE main.dim_listings_latest (listing_id INTEGER, user_id INTEGER, country VARCHAR, is_lux BOOLEAN, created_at DATE, capacity INTEGER)`,
	`INSERT INTO main.dim_listings_latest VALUES
		(1, 100, 'us', true, '2019-06-01', 4),
		(2, 101, 'fr', false, '2019-07-01', 2),
		(3, 102, 'us', false, '2019-08-01', 6)`,
	`CREATE TABLE main.fct_revenue (created_at DATE, user_id INTEGER, revenue DOUBLE)`,
	`INSERT INTO main.fct_revenue VALUES
		('2020-01-05', 100, 1000),
		('2020-01-20', 101, 500),
		('2020-02-10', 100, 700),
		('2020-03-15', 102, 300),
		('2020-04-01', 100, 200)`,
	`CREATE TABLE main.mf_time_spine AS
		SELECT CAST(d AS DATE) AS ds
		FROM generate_series(TIMESTAMP '2019-12-01', TIMESTAMP '2020-12-31', INTERVAL 1 DAY) t(d)`,
}

// OpenWarehouse opens an in-memory DuckDB holding the tables the simple
// manifest reads. The database is closed when the test ends.
func OpenWarehouse(t testing.TB) *sql.DB {
	t.Helper()
	db, err := sql.Open("duckdb", "")
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	// one connection, so every statement sees the same in-memory database
	db.SetMaxOpenConns(1)

	for _, stmt := range warehouseDDL {
		_, err := db.Exec(stmt)
		require.NoError(t, err, stmt)
	}
	return db
}

// QueryRows runs query and returns its rows formatted as strings, sorted, so
// results of differently shaped but equivalent queries can be compared.
func QueryRows(t testing.TB, db *sql.DB, query string) []string {
	t.Helper()
	rows, err := db.Query(query)
	require.NoError(t, err, query)
	defer rows.Close()

	cols, err := rows.Columns()
	require.NoError(t, err)
	var out []string
	for rows.Next() {
		values := make([]any, len(cols))
		ptrs := make([]any, len(cols))
		for i := range values {
			ptrs[i] = &values[i]
		}
		require.NoError(t, rows.Scan(ptrs...))
		parts := make([]string, len(values))
		for i, v := range values {
			parts[i] = fmt.Sprint(v)
		}
		out = append(out, strings.Join(parts, "|"))
	}
	require.NoError(t, rows.Err())
	slices.Sort(out)
	return out
}
