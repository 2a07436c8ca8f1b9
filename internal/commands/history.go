package commands

import (
	"context"
	"fmt"
	"strings"

	"server-warden/internal/command"
	"server-warden/pkg/util"
)

func historyCommand(deps Deps) *command.Definition {
	return &command.Definition{
		Name:        "history",
		Triggers:    []string{"history", "log"},
		Category:    "utility",
		Description: "Show the most recent commands run on this server",
		Middleware:  []string{"require:user,manage_guild", "throttle:channel,1,10"},
		Handler: command.HandlerFunc(func(ctx context.Context, c *command.Context) (bool, error) {
			if deps.History == nil {
				return false, c.Respond(ctx, "Command history is not available.")
			}
			records, err := deps.History.CommandHistory(ctx, c.GuildID)
			if err != nil {
				return false, fmt.Errorf("load command history: %w", err)
			}
			if len(records) == 0 {
				return true, c.Respond(ctx, "No commands recorded yet.")
			}
			var b strings.Builder
			for i := len(records) - 1; i >= 0; i-- {
				r := records[i]
				fmt.Fprintf(&b, "`%s` <@%s> in <#%s>: `%s`",
					util.FormatDateTpl(r.Datetime.UnixMilli(), "MM-DD hh:mm"), r.UserID, r.ChannelID, r.Command)
				if len(r.Args) > 0 {
					fmt.Fprintf(&b, " %s", strings.Join(r.Args, " "))
				}
				b.WriteString("\n")
			}
			return true, c.Respond(ctx, strings.TrimSpace(b.String()))
		}),
	}
}
