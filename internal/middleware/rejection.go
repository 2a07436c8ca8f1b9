// Package middleware builds the guard chain that runs in front of every command.
package middleware

import "fmt"

// Rejection is returned by a guard that stops the chain. It is an expected
// outcome, not a failure.
type Rejection struct {
	Guard  string // the guard declaration that rejected
	Reason string // human readable, safe to show to the invoker
	Silent bool   // do not reply
}

func (r *Rejection) Error() string {
	return fmt.Sprintf("rejected by %s: %s", r.Guard, r.Reason)
}

// noContext rejects invocations that carry no command context; guards cannot
// evaluate them.
func noContext(guard string) *Rejection {
	return &Rejection{Guard: guard, Reason: "This command cannot run here.", Silent: true}
}
