// Package portal wires the data-access layer into one runtime object.
//
// A Runtime is built once at process start. It owns the connection
// provider, the error emitter, the dispatch loop and the mutation writer;
// read scopes are opened from it and bound to a caller context.
//
//	rt, err := portal.Open(ctx, cfg)
//	if err != nil {
//		return err // *connection.InitError
//	}
//	defer rt.Close()
//
//	scope, _ := rt.Scope(ctx)
//	pending := live.Collection[Request](scope,
//		query.From("consultationRequests").Where("status", query.OpEqual, "pending"))
//	w, _ := rt.Writer()
//	w.Update("consultationRequests/r1", backend.Fields{"status": "accepted"})
package portal
