package dispatch

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"server-warden/internal/command"
	"server-warden/internal/middleware"
	"server-warden/internal/resolve"
	st "server-warden/internal/storagetypes"
	"server-warden/internal/throttle"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type staticConfigs map[string]st.GuildConfig

func (s staticConfigs) Get(_ context.Context, guildID string) st.GuildConfig {
	if cfg, ok := s[guildID]; ok {
		return cfg.Clone()
	}
	return st.NewGuildConfig(guildID)
}

type replies struct {
	mu   sync.Mutex
	msgs []string
}

func (r *replies) reply(_ context.Context, text string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.msgs = append(r.msgs, text)
	return nil
}

func (r *replies) all() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.msgs...)
}

func setup(t *testing.T, configs staticConfigs, oracle middleware.Oracle, defs ...*command.Definition) *Dispatcher {
	t.Helper()
	reg := command.NewRegistry()
	for _, d := range defs {
		require.NoError(t, reg.Register(d))
	}
	p := middleware.NewPipeline(oracle, throttle.New())
	d := New(configs, resolve.New(reg), p, nil)
	d.Compile(reg.All())
	return d
}

func msg(r *replies, content string) Message {
	return Message{GuildID: "g1", ChannelID: "c1", AuthorID: "u1", Content: content, Reply: r.reply}
}

func TestDispatchExecutes(t *testing.T) {
	var got *command.Context
	d := setup(t, staticConfigs{}, nil, &command.Definition{
		Name: "ban", Category: "moderation",
		Handler: command.HandlerFunc(func(_ context.Context, c *command.Context) (bool, error) {
			got = c
			return true, nil
		}),
	})
	r := &replies{}

	res := d.Dispatch(context.Background(), msg(r, `.ban @x "being rude"`))
	assert.Equal(t, Executed, res.Kind)
	assert.True(t, res.Handled)
	require.NotNil(t, got)
	assert.Equal(t, []string{"@x", "being rude"}, got.Args)
	assert.Equal(t, ".", got.Prefix)
	assert.Equal(t, "g1", got.Config.GuildID)
	assert.Empty(t, r.all())
}

func TestDispatchMisses(t *testing.T) {
	d := setup(t, staticConfigs{}, nil, &command.Definition{
		Name: "ping", Category: "core",
		Handler: command.HandlerFunc(func(context.Context, *command.Context) (bool, error) { return true, nil }),
	})
	r := &replies{}

	assert.Equal(t, Miss, d.Dispatch(context.Background(), msg(r, "hello")).Kind)
	bot := msg(r, "!ping")
	bot.AuthorBot = true
	assert.Equal(t, Miss, d.Dispatch(context.Background(), bot).Kind)
}

func TestDispatchRejectionReplies(t *testing.T) {
	oracle := middleware.OracleFunc(func(context.Context, middleware.Subject, string) (bool, error) { return false, nil })
	d := setup(t, staticConfigs{}, oracle, &command.Definition{
		Name: "ban", Category: "moderation", Middleware: []string{"require:user,ban_members"},
		Handler: command.HandlerFunc(func(context.Context, *command.Context) (bool, error) {
			t.Error("handler must not run")
			return false, nil
		}),
	})
	r := &replies{}

	res := d.Dispatch(context.Background(), msg(r, ".ban @x"))
	assert.Equal(t, Rejected, res.Kind)
	require.Len(t, r.all(), 1)
	assert.Contains(t, r.all()[0], "Ban Members")
}

func TestDispatchFailureAndPanic(t *testing.T) {
	d := setup(t, staticConfigs{}, nil,
		&command.Definition{
			Name: "fail", Category: "core",
			Handler: command.HandlerFunc(func(context.Context, *command.Context) (bool, error) {
				return false, errors.New("boom")
			}),
		},
		&command.Definition{
			Name: "panic", Category: "core",
			Handler: command.HandlerFunc(func(context.Context, *command.Context) (bool, error) {
				panic("nil map")
			}),
		},
	)
	r := &replies{}

	res := d.Dispatch(context.Background(), msg(r, "!fail"))
	assert.Equal(t, Failed, res.Kind)
	assert.EqualError(t, res.Err, "boom")

	res = d.Dispatch(context.Background(), msg(r, "!panic"))
	assert.Equal(t, Failed, res.Kind)
	var pe *PanicError
	require.ErrorAs(t, res.Err, &pe)
	assert.Equal(t, "nil map", pe.Value)

	assert.Equal(t, []string{genericFailure, genericFailure}, r.all())
}

func TestDispatchUsesGuildConfig(t *testing.T) {
	cfg := st.NewGuildConfig("g1")
	cfg.Prefixes["moderation"] = "!"
	runs := 0
	d := setup(t, staticConfigs{"g1": cfg}, nil, &command.Definition{
		Name: "ban", Category: "moderation",
		Handler: command.HandlerFunc(func(context.Context, *command.Context) (bool, error) {
			runs++
			return true, nil
		}),
	})
	r := &replies{}

	assert.Equal(t, Miss, d.Dispatch(context.Background(), msg(r, ".ban @x")).Kind)
	assert.Equal(t, Executed, d.Dispatch(context.Background(), msg(r, "!ban @x")).Kind)
	assert.Equal(t, 1, runs)
}

func TestRunDrainsQueue(t *testing.T) {
	var runs int32
	d := setup(t, staticConfigs{}, nil, &command.Definition{
		Name: "ping", Category: "core",
		Handler: command.HandlerFunc(func(context.Context, *command.Context) (bool, error) {
			atomic.AddInt32(&runs, 1)
			return true, nil
		}),
	})

	in := make(chan Message, 16)
	for i := 0; i < 16; i++ {
		in <- Message{GuildID: "g1", ChannelID: "c1", AuthorID: "u1", Content: "!ping"}
	}
	close(in)

	done := make(chan struct{})
	go func() {
		d.Run(context.Background(), in, 4)
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Run did not return after the queue closed")
	}
	assert.Equal(t, int32(16), atomic.LoadInt32(&runs))
}

func TestKindString(t *testing.T) {
	assert.Equal(t, "rejected", Rejected.String())
	assert.Equal(t, "kind(9)", Kind(9).String())
}
