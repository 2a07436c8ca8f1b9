package commands

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"server-warden/internal/command"
	"server-warden/internal/config"
	st "server-warden/internal/storagetypes"
)

var manageGuild = []string{"require:user,manage_guild"}

func prefixCommand(deps Deps) *command.Definition {
	return &command.Definition{
		Name:        "prefix",
		Category:    "settings",
		Description: "Show or change the prefix of a command category",
		Usage:       "[category] [prefix|reset]",
		Middleware:  manageGuild,
		Handler: command.HandlerFunc(func(ctx context.Context, c *command.Context) (bool, error) {
			switch len(c.Args) {
			case 0:
				var b strings.Builder
				for _, cat := range config.SortedCategories() {
					fmt.Fprintf(&b, "%s: `%s`\n", cat.Name, deps.Resolver.EffectivePrefix(c.Config, cat.Name))
				}
				return true, c.Respond(ctx, strings.TrimSpace(b.String()))
			case 2:
			default:
				return usage(ctx, c)
			}

			category := strings.ToLower(c.Args[0])
			if _, ok := config.CategoryByName(category); !ok {
				return false, c.Respond(ctx, fmt.Sprintf("Unknown category `%s`.", category))
			}
			if strings.EqualFold(c.Args[1], "reset") {
				err := deps.Configs.ResetPrefix(ctx, c.GuildID, category)
				return settled(ctx, c, err, fmt.Sprintf("Prefix for %s reset to `%s`.", category, config.DefaultPrefix(category)))
			}
			err := deps.Configs.SetPrefix(ctx, c.GuildID, category, c.Args[1])
			return settled(ctx, c, err, fmt.Sprintf("Prefix for %s is now `%s`.", category, c.Args[1]))
		}),
	}
}

func aliasCommand(deps Deps) *command.Definition {
	return &command.Definition{
		Name:        "alias",
		Category:    "settings",
		Description: "Manage text shortcuts that expand to commands",
		Usage:       "add <alias> <expansion> | remove <alias> | list",
		Middleware:  manageGuild,
		Handler: command.HandlerFunc(func(ctx context.Context, c *command.Context) (bool, error) {
			if len(c.Args) == 0 {
				return usage(ctx, c)
			}
			switch strings.ToLower(c.Args[0]) {
			case "add", "set":
				if len(c.Args) < 3 {
					return usage(ctx, c)
				}
				expansion := strings.Join(c.Args[2:], " ")
				err := deps.Configs.SetAlias(ctx, c.GuildID, c.Args[1], expansion)
				return settled(ctx, c, err, fmt.Sprintf("`%s` now expands to `%s`.", strings.ToLower(c.Args[1]), expansion))
			case "remove", "rm", "delete":
				if len(c.Args) != 2 {
					return usage(ctx, c)
				}
				err := deps.Configs.RemoveAlias(ctx, c.GuildID, c.Args[1])
				return settled(ctx, c, err, fmt.Sprintf("Alias `%s` removed.", strings.ToLower(c.Args[1])))
			case "list":
				if len(c.Config.Aliases) == 0 {
					return true, c.Respond(ctx, "No aliases configured.")
				}
				keys := make([]string, 0, len(c.Config.Aliases))
				for k := range c.Config.Aliases {
					keys = append(keys, k)
				}
				sort.Strings(keys)
				var b strings.Builder
				for _, k := range keys {
					fmt.Fprintf(&b, "`%s` → `%s`\n", k, c.Config.Aliases[k])
				}
				return true, c.Respond(ctx, strings.TrimSpace(b.String()))
			}
			return usage(ctx, c)
		}),
	}
}

func categoryCommand(deps Deps) *command.Definition {
	return &command.Definition{
		Name:        "category",
		Triggers:    []string{"category", "cat"},
		Category:    "settings",
		Description: "Enable or disable a command category server-wide or in this channel",
		Usage:       "<enable|disable|reset> <category> [here]",
		Middleware:  manageGuild,
		Related:     []string{"prefix"},
		Handler: command.HandlerFunc(func(ctx context.Context, c *command.Context) (bool, error) {
			if len(c.Args) < 2 || len(c.Args) > 3 {
				return usage(ctx, c)
			}
			category := strings.ToLower(c.Args[1])
			if _, ok := config.CategoryByName(category); !ok {
				return false, c.Respond(ctx, fmt.Sprintf("Unknown category `%s`.", category))
			}
			if category == c.Definition.Category {
				return false, c.Respond(ctx, "The settings category cannot be disabled.")
			}
			scope, where := st.ScopeAll, "server-wide"
			if len(c.Args) == 3 {
				if !strings.EqualFold(c.Args[2], "here") {
					return usage(ctx, c)
				}
				scope, where = c.ChannelID, "in this channel"
			}

			action := strings.ToLower(c.Args[0])
			if action == "reset" {
				if scope == st.ScopeAll {
					return usage(ctx, c)
				}
				err := deps.Configs.ClearChannelOverride(ctx, c.GuildID, c.ChannelID, category)
				return settled(ctx, c, err, fmt.Sprintf("%s follows the server setting in this channel again.", category))
			}
			enabled, ok := parseToggle(action)
			if !ok {
				return usage(ctx, c)
			}
			err := deps.Configs.SetCategoryEnabled(ctx, c.GuildID, scope, category, enabled)
			state := "disabled"
			if enabled {
				state = "enabled"
			}
			return settled(ctx, c, err, fmt.Sprintf("%s is now %s %s.", category, state, where))
		}),
	}
}

func muteRoleCommand(deps Deps) *command.Definition {
	return &command.Definition{
		Name:        "muterole",
		Category:    "settings",
		Description: "Set the role given to muted members",
		Usage:       "<role>",
		Middleware:  []string{"require:user,manage_guild", "require:bot,manage_roles"},
		Related:     []string{"mute", "unmute"},
		Handler: command.HandlerFunc(func(ctx context.Context, c *command.Context) (bool, error) {
			if len(c.Args) != 1 {
				return usage(ctx, c)
			}
			roleID, ok := ParseRole(c.Args[0])
			if !ok {
				return usage(ctx, c)
			}
			err := deps.Configs.SetMuteRole(ctx, c.GuildID, roleID)
			return settled(ctx, c, err, fmt.Sprintf("Mute role set to <@&%s>.", roleID))
		}),
	}
}

func modlogCommand(deps Deps) *command.Definition {
	return &command.Definition{
		Name:        "modlog",
		Category:    "settings",
		Description: "Set the channel that receives moderation notices",
		Usage:       "<channel|here|off>",
		Middleware:  manageGuild,
		Handler: command.HandlerFunc(func(ctx context.Context, c *command.Context) (bool, error) {
			if len(c.Args) != 1 {
				return usage(ctx, c)
			}
			var channelID string
			switch strings.ToLower(c.Args[0]) {
			case "off", "none":
			case "here":
				channelID = c.ChannelID
			default:
				id, ok := ParseChannel(c.Args[0])
				if !ok {
					return usage(ctx, c)
				}
				channelID = id
			}
			err := deps.Configs.SetModlogChannel(ctx, c.GuildID, channelID)
			if channelID == "" {
				return settled(ctx, c, err, "Moderation notices are off.")
			}
			return settled(ctx, c, err, fmt.Sprintf("Moderation notices go to <#%s>.", channelID))
		}),
	}
}

func levelingCommand(deps Deps) *command.Definition {
	return &command.Definition{
		Name:        "leveling",
		Category:    "settings",
		Description: "Turn member leveling on or off",
		Usage:       "<on|off>",
		Middleware:  manageGuild,
		Handler: command.HandlerFunc(func(ctx context.Context, c *command.Context) (bool, error) {
			if len(c.Args) != 1 {
				return usage(ctx, c)
			}
			on, ok := parseToggle(c.Args[0])
			if !ok {
				return usage(ctx, c)
			}
			err := deps.Configs.SetLeveling(ctx, c.GuildID, on)
			if on {
				return settled(ctx, c, err, "Leveling enabled.")
			}
			return settled(ctx, c, err, "Leveling disabled.")
		}),
	}
}
