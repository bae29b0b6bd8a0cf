// Package emitter is the process-wide broadcast channel for failed writes.
//
// The mutation layer never returns write failures to the code that issued
// the write. It enriches them into a *PermissionError and hands them to the
// Emitter, and whatever part of the application wants to show them
// registers a handler:
//
//	unsubscribe := em.On(func(err *emitter.PermissionError) {
//		toast.Show(err.Error())
//	})
//	defer unsubscribe()
//
// Semantics:
//   - Emit calls every registered handler synchronously, in registration
//     order.
//   - There is no replay: handlers registered after an Emit never see it.
//   - Handlers may register or unregister (themselves included) from inside
//     a handler. A handler removed during an Emit that has not run yet is
//     skipped.
//   - Unsubscribe functions are idempotent and stay safe after Close.
package emitter
