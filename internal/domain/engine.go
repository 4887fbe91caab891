package domain

import (
	"fmt"
	"strings"
)

// SQLEngine identifies the warehouse the generated SQL targets.
type SQLEngine string

// EngineDuckDB and friends are the supported warehouse engines.
const (
	EngineDuckDB     SQLEngine = "duckdb"
	EnginePostgres   SQLEngine = "postgres"
	EngineSnowflake  SQLEngine = "snowflake"
	EngineBigQuery   SQLEngine = "bigquery"
	EngineRedshift   SQLEngine = "redshift"
	EngineDatabricks SQLEngine = "databricks"
	EngineTrino      SQLEngine = "trino"
)

var knownEngines = []SQLEngine{
	EngineDuckDB, EnginePostgres, EngineSnowflake, EngineBigQuery,
	EngineRedshift, EngineDatabricks, EngineTrino,
}

// ParseSQLEngine parses an engine name case-insensitively.
func ParseSQLEngine(s string) (SQLEngine, error) {
	name := SQLEngine(strings.ToLower(strings.TrimSpace(s)))
	for _, e := range knownEngines {
		if e == name {
			return e, nil
		}
	}
	return "", fmt.Errorf("unknown sql engine %q", s)
}

// UseColumnAliasInGroupBy reports whether the engine requires GROUP BY to reference
// select aliases rather than repeating the grouped expressions.
func (e SQLEngine) UseColumnAliasInGroupBy() bool {
	return e == EngineBigQuery
}
