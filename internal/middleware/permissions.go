package middleware

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"server-warden/internal/command"
	"server-warden/pkg/cmd"

	"go.uber.org/zap"
)

// Subject is whose permissions are checked. For the bot, UserID is empty and
// the oracle substitutes its own identity.
type Subject struct {
	Bot       bool
	GuildID   string
	ChannelID string
	UserID    string
}

// Oracle answers permission questions against the chat network.
type Oracle interface {
	HasPermission(ctx context.Context, subject Subject, perm string) (bool, error)
}

// OracleFunc adapts a function to Oracle.
type OracleFunc func(ctx context.Context, subject Subject, perm string) (bool, error)

func (f OracleFunc) HasPermission(ctx context.Context, subject Subject, perm string) (bool, error) {
	return f(ctx, subject, perm)
}

var errNoOracle = errors.New("no permission oracle configured")

var denyAll = OracleFunc(func(context.Context, Subject, string) (bool, error) {
	return false, errNoOracle
})

func permissionGuard(p *Pipeline, spec *command.PermissionSpec) cmd.Middleware {
	return func(next cmd.Handler) cmd.Handler {
		return cmd.Wrap(next, func(ctx context.Context, inv *cmd.Invocation) (bool, error) {
			c, ok := command.FromInvocation(inv)
			if !ok {
				return false, noContext(spec.String())
			}

			var subjects []Subject
			if spec.Subject == command.SubjectUser || spec.Subject == command.SubjectAll {
				if c.AuthorID != p.developerID || p.developerID == "" {
					subjects = append(subjects, Subject{GuildID: c.GuildID, ChannelID: c.ChannelID, UserID: c.AuthorID})
				}
			}
			if spec.Subject == command.SubjectBot || spec.Subject == command.SubjectAll {
				subjects = append(subjects, Subject{Bot: true, GuildID: c.GuildID, ChannelID: c.ChannelID})
			}

			for _, s := range subjects {
				if rej := p.checkPermissions(ctx, c, spec, s); rej != nil {
					return false, rej
				}
			}
			return next.Execute(ctx, inv)
		})
	}
}

// checkPermissions evaluates spec for one subject under the oracle timeout.
func (p *Pipeline) checkPermissions(ctx context.Context, c *command.Context, spec *command.PermissionSpec, s Subject) *Rejection {
	octx, cancel := context.WithTimeout(ctx, p.oracleTimeout)
	defer cancel()

	var missing []string
	for _, perm := range spec.Perms {
		has, err := p.oracle.HasPermission(octx, s, perm)
		if err != nil {
			p.log.Warn("permission oracle failed",
				zap.String("guild", c.GuildID),
				zap.String("channel", c.ChannelID),
				zap.String("permission", perm),
				zap.Bool("bot", s.Bot),
				zap.Error(err),
			)
			return &Rejection{Guard: spec.String(), Reason: "Could not verify permissions right now, please try again."}
		}
		if has && spec.Any {
			return nil
		}
		if !has {
			missing = append(missing, perm)
		}
	}
	if len(missing) == 0 {
		return nil
	}

	who := "You are"
	if s.Bot {
		who = "I am"
	}
	names := make([]string, len(missing))
	for i, m := range missing {
		names[i] = PermissionLabel(m)
	}
	reason := fmt.Sprintf("%s missing the following permissions: `%s`", who, strings.Join(names, "`, `"))
	if spec.Any {
		subject := "You need"
		if s.Bot {
			subject = "I need"
		}
		reason = fmt.Sprintf("%s at least one of the following permissions: `%s`", subject, strings.Join(names, "`, `"))
	}
	return &Rejection{Guard: spec.String(), Reason: reason}
}

// PermissionLabel turns "ban_members" into "Ban Members".
func PermissionLabel(perm string) string {
	words := strings.Split(perm, "_")
	for i, w := range words {
		if w != "" {
			words[i] = strings.ToUpper(w[:1]) + w[1:]
		}
	}
	return strings.Join(words, " ")
}

func defaultOracleTimeout(d time.Duration) time.Duration {
	if d <= 0 {
		return 3 * time.Second
	}
	return d
}
