// Package dispatch turns inbound messages into command executions.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"sync"

	"server-warden/internal/command"
	"server-warden/internal/middleware"
	"server-warden/internal/resolve"
	st "server-warden/internal/storagetypes"
	"server-warden/pkg/cmd"

	"go.uber.org/zap"
)

const genericFailure = "Something went wrong while running that command."

// Message is a transport-neutral inbound chat message.
type Message struct {
	GuildID    string // empty for direct messages
	ChannelID  string
	AuthorID   string
	AuthorName string
	AuthorBot  bool
	Content    string
	Raw        any

	// Reply answers in the message's channel. May be nil.
	Reply func(ctx context.Context, text string) error
}

type Kind int

const (
	Miss Kind = iota
	Rejected
	Executed
	Failed
)

func (k Kind) String() string {
	switch k {
	case Miss:
		return "miss"
	case Rejected:
		return "rejected"
	case Executed:
		return "executed"
	case Failed:
		return "failed"
	}
	return fmt.Sprintf("kind(%d)", int(k))
}

type Result struct {
	Kind    Kind
	Command string
	Handled bool   // handler's own success flag
	Reason  string // rejection reason
	Err     error
}

// PanicError is a recovered handler panic.
type PanicError struct {
	Value any
	Stack []byte
}

func (p *PanicError) Error() string { return fmt.Sprintf("handler panic: %v", p.Value) }

// ConfigSource yields per-guild config snapshots.
type ConfigSource interface {
	Get(ctx context.Context, guildID string) st.GuildConfig
}

type Dispatcher struct {
	configs  ConfigSource
	resolver *resolve.Resolver
	pipeline *middleware.Pipeline
	log      *zap.Logger

	mu     sync.RWMutex
	chains map[*command.Definition]cmd.Handler
}

func New(configs ConfigSource, resolver *resolve.Resolver, pipeline *middleware.Pipeline, logger *zap.Logger) *Dispatcher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Dispatcher{
		configs:  configs,
		resolver: resolver,
		pipeline: pipeline,
		log:      logger.Named("dispatch"),
		chains:   map[*command.Definition]cmd.Handler{},
	}
}

// Compile builds the guard chains of defs ahead of the first message.
func (d *Dispatcher) Compile(defs []*command.Definition) {
	for _, def := range defs {
		d.chain(def)
	}
}

func (d *Dispatcher) chain(def *command.Definition) cmd.Handler {
	d.mu.RLock()
	h, ok := d.chains[def]
	d.mu.RUnlock()
	if ok {
		return h
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	if h, ok = d.chains[def]; !ok {
		h = d.pipeline.Build(def)
		d.chains[def] = h
	}
	return h
}

// Dispatch resolves and runs one message. It never panics.
func (d *Dispatcher) Dispatch(ctx context.Context, msg Message) Result {
	if msg.AuthorBot {
		return Result{Kind: Miss}
	}

	var cfg st.GuildConfig
	if msg.GuildID != "" {
		cfg = d.configs.Get(ctx, msg.GuildID)
	} else {
		cfg = st.NewGuildConfig("")
	}

	match, ok := d.resolver.Resolve(cfg, msg.ChannelID, msg.Content)
	if !ok {
		return Result{Kind: Miss}
	}
	def := match.Definition

	log := d.log.With(
		zap.String("guild", msg.GuildID),
		zap.String("channel", msg.ChannelID),
		zap.String("user", msg.AuthorID),
		zap.String("command", def.Name),
	)
	c := &command.Context{
		Definition: def,
		Prefix:     match.Prefix,
		Trigger:    match.Trigger,
		Args:       match.Args,
		GuildID:    msg.GuildID,
		ChannelID:  msg.ChannelID,
		AuthorID:   msg.AuthorID,
		AuthorName: msg.AuthorName,
		Config:     cfg,
		Raw:        msg.Raw,
		Log:        log,
		Reply:      msg.Reply,
	}
	inv := &cmd.Invocation{Name: def.Name, Args: match.Args, Data: c}

	handled, err := d.run(ctx, d.chain(def), inv)
	if err == nil {
		log.Debug("command executed", zap.Bool("handled", handled))
		return Result{Kind: Executed, Command: def.Name, Handled: handled}
	}

	var rej *middleware.Rejection
	if errors.As(err, &rej) {
		log.Debug("command rejected", zap.String("guard", rej.Guard), zap.String("reason", rej.Reason))
		if !rej.Silent {
			d.reply(ctx, c, rej.Reason)
		}
		return Result{Kind: Rejected, Command: def.Name, Reason: rej.Reason, Err: err}
	}

	fields := []zap.Field{zap.Error(err)}
	var pe *PanicError
	if errors.As(err, &pe) {
		fields = append(fields, zap.ByteString("stack", pe.Stack))
	}
	log.Error("command failed", fields...)
	d.reply(ctx, c, genericFailure)
	return Result{Kind: Failed, Command: def.Name, Err: err}
}

func (d *Dispatcher) run(ctx context.Context, h cmd.Handler, inv *cmd.Invocation) (handled bool, err error) {
	defer func() {
		if r := recover(); r != nil {
			handled, err = false, &PanicError{Value: r, Stack: debug.Stack()}
		}
	}()
	return h.Execute(ctx, inv)
}

func (d *Dispatcher) reply(ctx context.Context, c *command.Context, text string) {
	if err := c.Respond(ctx, text); err != nil {
		c.Log.Warn("failed to reply", zap.Error(err))
	}
}

// Run dispatches messages from in on workers goroutines until ctx is done or
// in is closed, then waits for in-flight messages.
func (d *Dispatcher) Run(ctx context.Context, in <-chan Message, workers int) {
	if workers < 1 {
		workers = 1
	}
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				select {
				case <-ctx.Done():
					return
				case msg, ok := <-in:
					if !ok {
						return
					}
					d.Dispatch(ctx, msg)
				}
			}
		}()
	}
	wg.Wait()
}
