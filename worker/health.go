package worker

/*
* This file implements the built-in operations __health and __ping, which
* respond with an empty body and OK.
 */

// Returns a handler function that returns OK and an empty body
// iff the worker is not in lameduck mode, otherwise a NOT_OK status.
func (w *Worker) makeHealthHandler() Handler {
	return func(ctx *Context) {
		if w.lameduck_state.Load() {
			ctx.Fail("Lameduck mode")
			return
		}
		ctx.Success([]byte{})
	}
}

func pingHandler(ctx *Context) {
	ctx.Success([]byte{})
}
