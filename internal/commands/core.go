package commands

import (
	"context"
	"fmt"
	"strings"

	"server-warden/internal/command"
	"server-warden/internal/config"
)

func pingCommand(deps Deps) *command.Definition {
	return &command.Definition{
		Name:        "ping",
		Category:    "core",
		Description: "Check bot latency",
		Middleware:  []string{"throttle:user,3,10,silent"},
		Handler: command.HandlerFunc(func(ctx context.Context, c *command.Context) (bool, error) {
			if deps.Latency == nil {
				return true, c.Respond(ctx, "Pong!")
			}
			return true, c.Respond(ctx, fmt.Sprintf("Pong! Latency: %dms", deps.Latency().Milliseconds()))
		}),
	}
}

func helpCommand(deps Deps) *command.Definition {
	return &command.Definition{
		Name:        "help",
		Triggers:    []string{"help", "h"},
		Category:    "core",
		Description: "Get a list of available commands",
		Usage:       "[command]",
		Middleware:  []string{"throttle:channel,2,5"},
		Handler: command.HandlerFunc(func(ctx context.Context, c *command.Context) (bool, error) {
			if len(c.Args) > 0 {
				return helpFor(ctx, deps, c, c.Args[0])
			}
			return true, c.Respond(ctx, buildHelpByCategory(deps, c))
		}),
	}
}

func buildHelpByCategory(deps Deps, c *command.Context) string {
	groups := deps.Registry.ByCategory()
	var b strings.Builder
	for _, cat := range config.SortedCategories() {
		defs := groups[cat.Name]
		if len(defs) == 0 || !c.Config.CategoryEnabled(cat.Name, c.ChannelID) {
			continue
		}
		prefix := deps.Resolver.EffectivePrefix(c.Config, cat.Name)
		fmt.Fprintf(&b, "**%s** (`%s`)\n", cat.Label, prefix)
		for _, d := range defs {
			fmt.Fprintf(&b, "`%s%s` - %s\n", prefix, d.Name, d.Description)
		}
		b.WriteString("\n")
	}
	if b.Len() == 0 {
		return "No commands are enabled in this channel."
	}
	return strings.TrimSpace(b.String())
}

func helpFor(ctx context.Context, deps Deps, c *command.Context, name string) (bool, error) {
	d, ok := deps.Registry.Lookup(strings.TrimLeft(name, ".!?$"))
	if !ok {
		return false, c.Respond(ctx, fmt.Sprintf("No command named `%s`.", name))
	}
	prefix := deps.Resolver.EffectivePrefix(c.Config, d.Category)

	var b strings.Builder
	fmt.Fprintf(&b, "**%s%s** - %s\n", prefix, d.Name, d.Description)
	if d.Usage != "" {
		fmt.Fprintf(&b, "Usage: `%s%s %s`\n", prefix, d.Name, d.Usage)
	}
	if len(d.Triggers) > 1 {
		fmt.Fprintf(&b, "Triggers: `%s`\n", strings.Join(d.Triggers, "`, `"))
	}
	if related := deps.Registry.Related(d); len(related) > 0 {
		names := make([]string, len(related))
		for i, r := range related {
			names[i] = deps.Resolver.EffectivePrefix(c.Config, r.Category) + r.Name
		}
		fmt.Fprintf(&b, "See also: `%s`\n", strings.Join(names, "`, `"))
	}
	return true, c.Respond(ctx, strings.TrimSpace(b.String()))
}
