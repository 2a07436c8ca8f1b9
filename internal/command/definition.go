// Package command defines commands, their registry and the context a handler runs with.
package command

import (
	"context"

	st "server-warden/internal/storagetypes"
	"server-warden/pkg/cmd"

	"go.uber.org/zap"
)

// Handler is the command logic. The bool is informational and only logged.
type Handler interface {
	Execute(ctx context.Context, c *Context) (bool, error)
}

type HandlerFunc func(ctx context.Context, c *Context) (bool, error)

func (f HandlerFunc) Execute(ctx context.Context, c *Context) (bool, error) {
	return f(ctx, c)
}

// Definition describes one command. It must not be modified after Register.
type Definition struct {
	Name        string
	Triggers    []string // defaults to Name
	Category    string
	Priority    int      // higher wins on trigger collisions
	Middleware  []string // guard declarations, see ParseGuard
	Related     []string // names of related commands, for help output only
	Description string
	Usage       string
	Handler     Handler

	order  int
	guards []GuardSpec
}

// Order is the registration sequence number.
func (d *Definition) Order() int { return d.order }

// Guards returns the parsed guards in execution order.
func (d *Definition) Guards() []GuardSpec { return d.guards }

// Context is everything a handler sees about one dispatched message.
type Context struct {
	Definition *Definition
	Prefix     string // effective prefix that matched
	Trigger    string
	Args       []string

	GuildID    string
	ChannelID  string
	AuthorID   string
	AuthorName string
	Config     st.GuildConfig // snapshot taken at dispatch time
	Raw        any            // transport message, e.g. *discordgo.MessageCreate

	Log   *zap.Logger
	Reply func(ctx context.Context, text string) error
}

// Respond sends text back to the invoking channel, ignoring a missing replier.
func (c *Context) Respond(ctx context.Context, text string) error {
	if c.Reply == nil {
		return nil
	}
	return c.Reply(ctx, text)
}

// FromInvocation extracts the Context the dispatcher stores in inv.Data.
func FromInvocation(inv *cmd.Invocation) (*Context, bool) {
	if inv == nil {
		return nil, false
	}
	c, ok := inv.Data.(*Context)
	return c, ok && c != nil
}

// Adapt exposes a command handler as the innermost cmd.Handler of a pipeline.
func Adapt(h Handler) cmd.Handler {
	return cmd.HandlerFunc(func(ctx context.Context, inv *cmd.Invocation) (bool, error) {
		c, ok := FromInvocation(inv)
		if !ok {
			return false, errMissingContext
		}
		return h.Execute(ctx, c)
	})
}
