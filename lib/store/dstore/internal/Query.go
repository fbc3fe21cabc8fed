package internal

import (
	"github.com/ValentinKolb/layerkv/lib/entity"
	"github.com/ValentinKolb/layerkv/lib/query"
)

// QueryType defines the possible queries for the state machine.
type QueryType uint8

const (
	QueryTGet       QueryType = iota // Retrieve entities by key.
	QueryTRun                        // Run a query and return the selected page.
	QueryTCount                      // Count the results of a query.
	QueryTGetDBInfo                  // Retrieve metadata about the database underlying the machine.
)

func (q QueryType) String() string {
	switch q {
	case QueryTGet:
		return "Get"
	case QueryTRun:
		return "Run"
	case QueryTCount:
		return "Count"
	case QueryTGetDBInfo:
		return "GetDBInfo"
	default:
		return "Unknown"
	}
}

// Query defines the structure for lookup requests (read-only) sent via
// SyncRead or StaleRead. Lookups never leave the process, so the fields are
// plain Go values.
type Query struct {
	Type  QueryType     // The type of Query to perform.
	Keys  []*entity.Key // Keys for QueryTGet.
	Query query.Query   // The entity query for QueryTRun and QueryTCount.
}

// RunResult is the result of a QueryTRun lookup: the materialized page and
// its absolute position in the result set.
type RunResult struct {
	Items  []*entity.Entity
	Origin int
}
