package app

import (
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"server-warden/internal/config"
	"server-warden/internal/discord"
	"server-warden/internal/dispatch"
	"server-warden/internal/middleware"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type nopMembers struct{}

func (nopMembers) AddRole(context.Context, string, string, string) error    { return nil }
func (nopMembers) RemoveRole(context.Context, string, string, string) error { return nil }
func (nopMembers) Ban(context.Context, string, string, string) error        { return nil }
func (nopMembers) Unban(context.Context, string, string) error              { return nil }

type nopNotifier struct{}

func (nopNotifier) Notify(context.Context, string, string) {}

func testConfig(t *testing.T) *config.Config {
	return &config.Config{
		StorageDriver:        "json",
		StoragePath:          filepath.Join(t.TempDir(), "datastore.json"),
		Workers:              2,
		QueueSize:            8,
		OracleTimeout:        time.Second,
		PersistTimeout:       time.Second,
		SchedulerMaxAttempts: 2,
		SchedulerRetryDelay:  time.Millisecond,
		SchedulerConcurrency: 2,
		LogLevel:             "info",
	}
}

func newCore(t *testing.T, cfg *config.Config, oracle middleware.Oracle) *Core {
	t.Helper()
	core, err := New(cfg, zap.NewNop())
	require.NoError(t, err)
	require.NoError(t, core.Wire(Transport{
		Members:  nopMembers{},
		Notifier: nopNotifier{},
		Oracle:   oracle,
		Latency:  func() time.Duration { return time.Millisecond },
	}))

	ctx, cancel := context.WithCancel(context.Background())
	require.NoError(t, core.Start(ctx))
	t.Cleanup(func() {
		cancel()
		closeCtx, done := context.WithTimeout(context.Background(), time.Second)
		defer done()
		_ = core.Close(closeCtx)
	})
	return core
}

type recorder struct {
	mu      sync.Mutex
	replies []string
}

func (r *recorder) message(content string) dispatch.Message {
	return dispatch.Message{
		GuildID:   "g1",
		ChannelID: "c1",
		AuthorID:  "100000",
		Content:   content,
		Reply: func(_ context.Context, text string) error {
			r.mu.Lock()
			defer r.mu.Unlock()
			r.replies = append(r.replies, text)
			return nil
		},
	}
}

var allowAll = middleware.OracleFunc(func(context.Context, middleware.Subject, string) (bool, error) {
	return true, nil
})

func TestDispatchEndToEnd(t *testing.T) {
	core := newCore(t, testConfig(t), allowAll)
	rec := &recorder{}
	ctx := context.Background()

	res := core.Dispatcher.Dispatch(ctx, rec.message("!ping"))
	assert.Equal(t, dispatch.Executed, res.Kind)
	assert.Equal(t, "ping", res.Command)

	res = core.Dispatcher.Dispatch(ctx, rec.message("hello there"))
	assert.Equal(t, dispatch.Miss, res.Kind)

	history, err := core.Store.CommandHistory(ctx, "g1")
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.Equal(t, "ping", history[0].Command)
}

func TestPermissionRejection(t *testing.T) {
	deny := middleware.OracleFunc(func(_ context.Context, s middleware.Subject, _ string) (bool, error) {
		return s.Bot, nil
	})
	core := newCore(t, testConfig(t), deny)
	rec := &recorder{}

	res := core.Dispatcher.Dispatch(context.Background(), rec.message(".ban <@200000>"))
	assert.Equal(t, dispatch.Rejected, res.Kind)
	require.Len(t, rec.replies, 1)
	assert.Contains(t, rec.replies[0], "Ban Members")
}

func TestGlobalThrottle(t *testing.T) {
	cfg := testConfig(t)
	cfg.GlobalThrottle = "user,1,60"
	core := newCore(t, cfg, allowAll)
	rec := &recorder{}
	ctx := context.Background()

	assert.Equal(t, dispatch.Executed, core.Dispatcher.Dispatch(ctx, rec.message("!help")).Kind)
	assert.Equal(t, dispatch.Rejected, core.Dispatcher.Dispatch(ctx, rec.message("!alias list")).Kind)
}

func TestInvalidGlobalThrottle(t *testing.T) {
	cfg := testConfig(t)
	cfg.GlobalThrottle = "planet,1,60"
	core, err := New(cfg, zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = core.Store.Close() })

	err = core.Wire(Transport{Members: nopMembers{}, Notifier: nopNotifier{}, Oracle: allowAll})
	assert.ErrorContains(t, err, "GLOBAL_THROTTLE")
}

func TestBuiltinPermissionNamesAreKnown(t *testing.T) {
	core, err := New(testConfig(t), zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = core.Store.Close() })

	err = core.Wire(Transport{Members: nopMembers{}, Notifier: nopNotifier{}, Oracle: allowAll, KnownPermission: discord.KnownPermission})
	assert.NoError(t, err)
}

func TestUnknownPermissionFailsWiring(t *testing.T) {
	core, err := New(testConfig(t), zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = core.Store.Close() })

	known := func(p string) bool { return p != "ban_members" }
	err = core.Wire(Transport{Members: nopMembers{}, Notifier: nopNotifier{}, Oracle: allowAll, KnownPermission: known})
	assert.ErrorContains(t, err, "ban_members")
}
