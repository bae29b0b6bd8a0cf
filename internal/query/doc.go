// Package query describes collection queries independently of any backend.
//
// A Query names a collection path, a conjunctive filter, an ordering and an
// optional limit. Backends translate it: the Firestore backend builds a
// firestore.Query, the local backend compiles it to SQL (see querysql).
//
// Queries are plain values. Two queries that select the same documents in the
// same order have the same Key, which the live package uses to share one
// listener per descriptor within a scope:
//
//	q := query.From("consultationRequests").
//		Where("status", query.OpEqual, "pending").
//		OrderBy("createdAt", query.Descending).
//		Limit(20)
//
// Filter values are restricted to nil, string, bool, integers, floats and
// slices of those. Anything else is rejected by Validate.
package query
