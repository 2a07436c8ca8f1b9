package middleware

import (
	"context"

	"server-warden/internal/command"
	"server-warden/pkg/cmd"
)

// GuildOnly drops invocations that did not come from a guild channel.
func GuildOnly() cmd.Middleware {
	return func(next cmd.Handler) cmd.Handler {
		return cmd.Wrap(next, func(ctx context.Context, inv *cmd.Invocation) (bool, error) {
			if c, ok := command.FromInvocation(inv); ok && c.GuildID == "" {
				return false, &Rejection{Guard: "guild-only", Reason: "This command only works in a server.", Silent: true}
			}
			return next.Execute(ctx, inv)
		})
	}
}
