package middleware

import (
	"context"
	"time"

	"server-warden/internal/command"
	st "server-warden/internal/storagetypes"
	"server-warden/pkg/cmd"

	"go.uber.org/zap"
)

// HistoryStore records executed commands.
type HistoryStore interface {
	AppendCommandHistory(ctx context.Context, guildID string, entry st.CommandHistory) error
}

// CommandLogger appends to the guild's command history once the inner chain
// ran without error. Rejected and failed invocations are not recorded.
func CommandLogger(store HistoryStore, logger *zap.Logger) cmd.Middleware {
	if logger == nil {
		logger = zap.NewNop()
	}
	return func(next cmd.Handler) cmd.Handler {
		return cmd.Wrap(next, func(ctx context.Context, inv *cmd.Invocation) (bool, error) {
			ok, err := next.Execute(ctx, inv)
			if err != nil {
				return ok, err
			}
			c, found := command.FromInvocation(inv)
			if !found || c.GuildID == "" {
				return ok, err
			}

			entry := st.CommandHistory{
				ChannelID: c.ChannelID,
				UserID:    c.AuthorID,
				Command:   c.Definition.Name,
				Args:      c.Args,
				Datetime:  time.Now(),
			}
			if e := store.AppendCommandHistory(ctx, c.GuildID, entry); e != nil {
				logger.Warn("failed to log command",
					zap.String("guild", c.GuildID),
					zap.String("command", c.Definition.Name),
					zap.Error(e),
				)
			}
			return ok, err
		})
	}
}
