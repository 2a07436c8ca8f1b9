package cmd

import "context"

// Unwrappable is implemented by wrapped handlers so callers can reach the
// underlying handler.
type Unwrappable interface {
	Handler
	Unwrap() Handler
}

// Wrapped wraps a handler with a custom run function. Used by middleware.
type Wrapped struct {
	Inner   Handler
	RunFunc func(ctx context.Context, inv *Invocation) (bool, error)
}

// Execute runs the wrapper's RunFunc, or the inner handler when none is set.
func (w *Wrapped) Execute(ctx context.Context, inv *Invocation) (bool, error) {
	if w.RunFunc != nil {
		return w.RunFunc(ctx, inv)
	}
	return w.Inner.Execute(ctx, inv)
}

// Unwrap returns the inner handler.
func (w *Wrapped) Unwrap() Handler { return w.Inner }

// Wrap returns a handler that runs run instead of h.Execute.
// The returned handler implements Unwrappable.
func Wrap(h Handler, run func(ctx context.Context, inv *Invocation) (bool, error)) Handler {
	return &Wrapped{Inner: h, RunFunc: run}
}

// Root unwraps a handler until the underlying handler is not Unwrappable.
func Root(h Handler) Handler {
	for {
		if u, ok := h.(Unwrappable); ok {
			h = u.Unwrap()
		} else {
			return h
		}
	}
}
