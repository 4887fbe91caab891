// Package optimizer holds the rewrite passes over SQL statement trees. Each pass
// returns a new tree and leaves its input untouched.
package optimizer

import "semantic-compiler/internal/sqlplan"

// Optimizer rewrites a statement tree into an equivalent one.
type Optimizer interface {
	Name() string
	Optimize(stmt *sqlplan.SelectStatement) (*sqlplan.SelectStatement, error)
}
