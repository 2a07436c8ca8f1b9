package commands

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"server-warden/internal/command"
	"server-warden/internal/moderation"
	"server-warden/pkg/util"
)

const pendingDateTpl = "YYYY-MM-DD hh:mm"

// targetArgs reads "<user> [duration] [reason...]".
func targetArgs(args []string) (userID string, d time.Duration, reason string, ok bool) {
	if len(args) == 0 {
		return "", 0, "", false
	}
	if userID, ok = ParseUser(args[0]); !ok {
		return "", 0, "", false
	}
	rest := args[1:]
	if len(rest) > 0 {
		if parsed, err := util.ParseDuration(rest[0]); err == nil {
			d, rest = parsed, rest[1:]
		}
	}
	return userID, d, strings.Join(rest, " "), true
}

func muteCommand(deps Deps) *command.Definition {
	return &command.Definition{
		Name:        "mute",
		Category:    "moderation",
		Description: "Give a member the mute role, optionally for a limited time",
		Usage:       "<user> [duration] [reason]",
		Middleware:  []string{"require:user,moderate_members", "require:bot,manage_roles", "throttle:guild,10,60"},
		Related:     []string{"unmute", "muterole", "pending"},
		Handler: command.HandlerFunc(func(ctx context.Context, c *command.Context) (bool, error) {
			userID, d, reason, ok := targetArgs(c.Args)
			if !ok {
				return usage(ctx, c)
			}
			if userID == c.AuthorID {
				return false, c.Respond(ctx, "You cannot mute yourself.")
			}
			if _, err := deps.Moderation.Mute(ctx, c.GuildID, userID, c.AuthorID, reason, d); err != nil {
				if errors.Is(err, moderation.ErrNoMuteRole) {
					return false, c.Respond(ctx, fmt.Sprintf("⚠️ No mute role set. Use `%smuterole <role>` first.",
						deps.Resolver.EffectivePrefix(c.Config, "settings")))
				}
				return false, err
			}
			if d > 0 {
				return true, c.Respond(ctx, fmt.Sprintf("🔇 <@%s> muted for %s.", userID, d))
			}
			return true, c.Respond(ctx, fmt.Sprintf("🔇 <@%s> muted.", userID))
		}),
	}
}

func unmuteCommand(deps Deps) *command.Definition {
	return &command.Definition{
		Name:        "unmute",
		Category:    "moderation",
		Description: "Remove the mute role from a member",
		Usage:       "<user>",
		Middleware:  []string{"require:user,moderate_members", "require:bot,manage_roles", "throttle:guild,10,60"},
		Related:     []string{"mute"},
		Handler: command.HandlerFunc(func(ctx context.Context, c *command.Context) (bool, error) {
			if len(c.Args) != 1 {
				return usage(ctx, c)
			}
			userID, ok := ParseUser(c.Args[0])
			if !ok {
				return usage(ctx, c)
			}
			if err := deps.Moderation.Unmute(ctx, c.GuildID, userID, c.AuthorID); err != nil {
				if errors.Is(err, moderation.ErrNoMuteRole) {
					return false, c.Respond(ctx, "⚠️ "+err.Error())
				}
				return false, err
			}
			return true, c.Respond(ctx, fmt.Sprintf("🔊 <@%s> unmuted.", userID))
		}),
	}
}

func banCommand(deps Deps) *command.Definition {
	return &command.Definition{
		Name:        "ban",
		Category:    "moderation",
		Description: "Ban a member, optionally for a limited time",
		Usage:       "<user> [duration] [reason]",
		Middleware:  []string{"require:user,ban_members", "require:bot,ban_members", "throttle:guild,10,60"},
		Related:     []string{"unban", "pending"},
		Handler: command.HandlerFunc(func(ctx context.Context, c *command.Context) (bool, error) {
			userID, d, reason, ok := targetArgs(c.Args)
			if !ok {
				return usage(ctx, c)
			}
			if userID == c.AuthorID {
				return false, c.Respond(ctx, "You cannot ban yourself.")
			}
			if _, err := deps.Moderation.Ban(ctx, c.GuildID, userID, c.AuthorID, reason, d); err != nil {
				return false, err
			}
			if d > 0 {
				return true, c.Respond(ctx, fmt.Sprintf("🔨 <@%s> banned for %s.", userID, d))
			}
			return true, c.Respond(ctx, fmt.Sprintf("🔨 <@%s> banned.", userID))
		}),
	}
}

func unbanCommand(deps Deps) *command.Definition {
	return &command.Definition{
		Name:        "unban",
		Category:    "moderation",
		Description: "Lift a ban",
		Usage:       "<user>",
		Middleware:  []string{"require:user,ban_members", "require:bot,ban_members", "throttle:guild,10,60"},
		Related:     []string{"ban"},
		Handler: command.HandlerFunc(func(ctx context.Context, c *command.Context) (bool, error) {
			if len(c.Args) != 1 {
				return usage(ctx, c)
			}
			userID, ok := ParseUser(c.Args[0])
			if !ok {
				return usage(ctx, c)
			}
			if err := deps.Moderation.Unban(ctx, c.GuildID, userID, c.AuthorID); err != nil {
				return false, err
			}
			return true, c.Respond(ctx, fmt.Sprintf("🕊️ <@%s> unbanned.", userID))
		}),
	}
}

func pendingCommand(deps Deps) *command.Definition {
	return &command.Definition{
		Name:        "pending",
		Category:    "moderation",
		Description: "List scheduled unmutes and unbans",
		Middleware:  []string{"require:user,moderate_members"},
		Handler: command.HandlerFunc(func(ctx context.Context, c *command.Context) (bool, error) {
			var b strings.Builder
			for _, a := range deps.Scheduler.Pending() {
				if a.GuildID != c.GuildID {
					continue
				}
				when := "manual"
				if a.ExpiresAt != nil {
					when = util.FormatDateTpl(a.ExpiresAt.UnixMilli(), pendingDateTpl) + " UTC"
				}
				fmt.Fprintf(&b, "`%s` <@%s> at %s", a.Kind, a.SubjectID, when)
				if a.Attempts > 0 {
					fmt.Fprintf(&b, " (%d failed attempts)", a.Attempts)
				}
				b.WriteString("\n")
			}
			if b.Len() == 0 {
				return true, c.Respond(ctx, "Nothing is scheduled.")
			}
			return true, c.Respond(ctx, strings.TrimSpace(b.String()))
		}),
	}
}
