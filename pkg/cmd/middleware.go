package cmd

// Middleware wraps a handler (guard check, logging, metrics).
// The wrapped type remains a Handler.
type Middleware func(Handler) Handler

// Apply applies middlewares so that the first in the list is the outermost,
// i.e. the first to run.
func Apply(h Handler, mws ...Middleware) Handler {
	for i := len(mws) - 1; i >= 0; i-- {
		if mws[i] == nil {
			continue
		}
		h = mws[i](h)
	}
	return h
}
