// Package cmd provides a transport-agnostic handler core: a handler is something
// that executes an Invocation. How invocations are produced (Discord message,
// CLI line, test) is defined by adapters that wrap this.
package cmd

import "context"

// Invocation carries the minimal input any runner can pass: the command name,
// arguments and an opaque payload. Adapters set Data to their own context
// (the dispatcher stores a *command.Context there).
type Invocation struct {
	Name string
	Args []string
	Data any
}

// Handler is the universal execution contract. The boolean result has no
// meaning to the core beyond logging; errors are failures.
type Handler interface {
	Execute(ctx context.Context, inv *Invocation) (bool, error)
}

// HandlerFunc adapts a function to Handler.
type HandlerFunc func(ctx context.Context, inv *Invocation) (bool, error)

// Execute calls f.
func (f HandlerFunc) Execute(ctx context.Context, inv *Invocation) (bool, error) {
	return f(ctx, inv)
}
