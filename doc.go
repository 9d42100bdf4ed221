// Package strand is a request-processing engine for HTTP and WebSocket
// traffic whose defining constraint is a single serialized execution
// lane for user logic.
//
// The I/O layer accepts and services connections fully concurrently;
// every invocation of a handler, dependency teardown, or background
// task goes through one process-wide call-lock, so user code is never
// re-entered from two goroutines at once. Handlers that wait on I/O
// suspend through Ctx.Await, releasing the lock for the duration of the
// wait so other ready requests make progress.
//
// Routes are declared with plain structs describing their inputs:
//
//	type getUser struct {
//		ID     int64 `path:"id"`
//		Expand bool  `query:"expand"`
//	}
//
//	app := strand.New()
//	strand.Get(app, "/users/{id}", func(c *strand.Ctx, p getUser) (any, error) {
//		return map[string]any{"id": p.ID}, nil
//	})
//
// The struct is inspected once at registration; request-time resolution
// is table-driven. Coercion failures are accumulated and reported
// together as a 422 with the standard {"detail": [...]} body.
package strand
