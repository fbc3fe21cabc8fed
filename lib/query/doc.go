// Package query describes entity queries and the streaming iterator contract
// every store implements.
//
// A Query is a plain value built with chained methods:
//
//	q := query.New("Post").
//		WithAncestor(user).
//		Filter("published", query.OpEqual, true).
//		OrderDesc("created").
//		WithLimit(10)
//
// The query carries its own semantics (Matches, Compare, Apply) so that
// stores and the overlay merge agree on filtering and ordering. Results are
// consumed through an Iterator; NextList and Drain are helpers on top of it.
package query
