package middleware

import (
	"context"
	"fmt"
	"math"
	"time"

	"server-warden/internal/command"
	"server-warden/internal/throttle"
	"server-warden/pkg/cmd"
)

func throttleGuard(p *Pipeline, commandName string, spec *command.ThrottleSpec) cmd.Middleware {
	return func(next cmd.Handler) cmd.Handler {
		return cmd.Wrap(next, func(ctx context.Context, inv *cmd.Invocation) (bool, error) {
			c, ok := command.FromInvocation(inv)
			if !ok {
				return false, noContext(spec.String())
			}

			key := throttle.Key{Command: commandName, Scope: spec.Scope, ID: scopeID(c, spec.Scope)}
			allowed, retry := p.throttles.CheckAndIncrement(key, spec.Limit, spec.Window)
			if !allowed {
				return false, &Rejection{
					Guard:  spec.String(),
					Reason: fmt.Sprintf("Slow down! Try again in %s.", formatRetry(retry)),
					Silent: spec.Silent,
				}
			}
			return next.Execute(ctx, inv)
		})
	}
}

func scopeID(c *command.Context, scope throttle.ScopeKind) string {
	switch scope {
	case throttle.ScopeChannel:
		return c.ChannelID
	case throttle.ScopeGuild:
		return c.GuildID
	default:
		return c.AuthorID
	}
}

func formatRetry(d time.Duration) string {
	secs := int(math.Ceil(d.Seconds()))
	if secs <= 1 {
		return "1 second"
	}
	return fmt.Sprintf("%d seconds", secs)
}
