// Package commands holds the built-in commands.
package commands

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"server-warden/internal/command"
	"server-warden/internal/guildconfig"
	"server-warden/internal/moderation"
	"server-warden/internal/resolve"
	"server-warden/internal/scheduler"
	st "server-warden/internal/storagetypes"
)

// HistoryReader returns a guild's recent commands, oldest first.
type HistoryReader interface {
	CommandHistory(ctx context.Context, guildID string) ([]st.CommandHistory, error)
}

type Deps struct {
	Registry   *command.Registry
	Resolver   *resolve.Resolver
	Configs    *guildconfig.Cache
	Moderation *moderation.Service
	Scheduler  *scheduler.Scheduler
	History    HistoryReader
	Latency    func() time.Duration // gateway heartbeat latency, optional
}

// Register adds every built-in command to deps.Registry.
func Register(deps Deps) error {
	defs := []*command.Definition{
		pingCommand(deps),
		helpCommand(deps),
		prefixCommand(deps),
		aliasCommand(deps),
		categoryCommand(deps),
		muteRoleCommand(deps),
		modlogCommand(deps),
		levelingCommand(deps),
		muteCommand(deps),
		unmuteCommand(deps),
		banCommand(deps),
		unbanCommand(deps),
		pendingCommand(deps),
		historyCommand(deps),
	}
	for _, d := range defs {
		if err := deps.Registry.Register(d); err != nil {
			return err
		}
	}
	return nil
}

// usage replies with the command's usage line; the invocation is not handled.
func usage(ctx context.Context, c *command.Context) (bool, error) {
	return false, c.Respond(ctx, fmt.Sprintf("Usage: `%s%s %s`", c.Prefix, c.Trigger, c.Definition.Usage))
}

// settled replies ok on success. Validation errors are shown to the invoker;
// persistence failures are returned so the dispatcher reports them.
func settled(ctx context.Context, c *command.Context, err error, ok string) (bool, error) {
	if err == nil {
		return true, c.Respond(ctx, ok)
	}
	var pe *guildconfig.PersistError
	if errors.As(err, &pe) {
		return false, err
	}
	return false, c.Respond(ctx, "⚠️ "+err.Error())
}

var (
	userMention    = regexp.MustCompile(`^<@!?(\d+)>$`)
	roleMention    = regexp.MustCompile(`^<@&(\d+)>$`)
	channelMention = regexp.MustCompile(`^<#(\d+)>$`)
	snowflake      = regexp.MustCompile(`^\d{5,20}$`)
)

func parseID(arg string, mention *regexp.Regexp) (string, bool) {
	if m := mention.FindStringSubmatch(arg); m != nil {
		return m[1], true
	}
	if snowflake.MatchString(arg) {
		return arg, true
	}
	return "", false
}

func ParseUser(arg string) (string, bool)    { return parseID(arg, userMention) }
func ParseRole(arg string) (string, bool)    { return parseID(arg, roleMention) }
func ParseChannel(arg string) (string, bool) { return parseID(arg, channelMention) }

func parseToggle(arg string) (bool, bool) {
	switch strings.ToLower(arg) {
	case "on", "enable", "enabled", "true", "yes":
		return true, true
	case "off", "disable", "disabled", "false", "no":
		return false, true
	}
	return false, false
}
