package moderation

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"server-warden/internal/guildconfig"
	"server-warden/internal/scheduler"
	st "server-warden/internal/storagetypes"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// memStore serves both the config cache and the scheduler.
type memStore struct {
	mu      sync.Mutex
	configs map[string]st.GuildConfig
	actions map[string]st.DeferredAction

	failSave error
}

func newMemStore() *memStore {
	return &memStore{configs: map[string]st.GuildConfig{}, actions: map[string]st.DeferredAction{}}
}

func (m *memStore) LoadGuildConfig(_ context.Context, guildID string) (st.GuildConfig, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	cfg, ok := m.configs[guildID]
	if !ok {
		return st.NewGuildConfig(guildID), false, nil
	}
	return cfg.Clone(), true, nil
}

func (m *memStore) SaveGuildConfigField(_ context.Context, guildID string, field st.Field, value any) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cfg, ok := m.configs[guildID]
	if !ok {
		cfg = st.NewGuildConfig(guildID)
	}
	if err := cfg.SetValue(field, value); err != nil {
		return err
	}
	m.configs[guildID] = cfg
	return nil
}

func (m *memStore) LoadActiveDeferredActions(context.Context) ([]st.DeferredAction, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []st.DeferredAction
	for _, a := range m.actions {
		if a.Status == st.StatusActive {
			out = append(out, a)
		}
	}
	return out, nil
}

func (m *memStore) SaveDeferredAction(_ context.Context, a st.DeferredAction) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failSave != nil {
		return m.failSave
	}
	m.actions[a.ID] = a
	return nil
}

func (m *memStore) RecordDeferredActionAttempt(_ context.Context, id string, attempts int, lastError string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	a := m.actions[id]
	a.Attempts = attempts
	a.LastError = lastError
	m.actions[id] = a
	return nil
}

func (m *memStore) failSaves(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failSave = err
}

func (m *memStore) UpdateDeferredActionStatus(_ context.Context, id string, status st.ActionStatus) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	a := m.actions[id]
	a.Status = status
	m.actions[id] = a
	return nil
}

func (m *memStore) status(id string) st.ActionStatus {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.actions[id].Status
}

type fakeMembers struct {
	mu     sync.Mutex
	roles  map[string]bool // guild/user/role
	bans   map[string]bool // guild/user
	failRm error
}

func newFakeMembers() *fakeMembers {
	return &fakeMembers{roles: map[string]bool{}, bans: map[string]bool{}}
}

func (f *fakeMembers) AddRole(_ context.Context, g, u, r string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.roles[g+"/"+u+"/"+r] = true
	return nil
}

func (f *fakeMembers) RemoveRole(_ context.Context, g, u, r string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failRm != nil {
		return f.failRm
	}
	delete(f.roles, g+"/"+u+"/"+r)
	return nil
}

func (f *fakeMembers) Ban(_ context.Context, g, u, _ string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.bans[g+"/"+u] = true
	return nil
}

func (f *fakeMembers) Unban(_ context.Context, g, u string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.bans[g+"/"+u] {
		return fmt.Errorf("unknown ban: %w", ErrGone)
	}
	delete(f.bans, g+"/"+u)
	return nil
}

func (f *fakeMembers) hasRole(g, u, r string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.roles[g+"/"+u+"/"+r]
}

func (f *fakeMembers) banned(g, u string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.bans[g+"/"+u]
}

type fakeNotifier struct {
	mu   sync.Mutex
	msgs map[string][]string
}

func (n *fakeNotifier) Notify(_ context.Context, to, msg string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.msgs == nil {
		n.msgs = map[string][]string{}
	}
	n.msgs[to] = append(n.msgs[to], msg)
}

func (n *fakeNotifier) count(to string) int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.msgs[to])
}

type fixture struct {
	store    *memStore
	members  *fakeMembers
	notifier *fakeNotifier
	configs  *guildconfig.Cache
	sched    *scheduler.Scheduler
	svc      *Service
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{store: newMemStore(), members: newFakeMembers(), notifier: &fakeNotifier{}}
	f.configs = guildconfig.New(f.store, time.Second, nil)
	f.sched = scheduler.New(f.store, scheduler.Config{MaxAttempts: 2, RetryDelay: time.Millisecond, MaxRetryDelay: time.Millisecond, Concurrency: 2}, nil)
	f.svc = New(f.members, f.notifier, f.configs, f.sched, nil)
	f.svc.RegisterExecutors()
	t.Cleanup(func() { f.sched.Close(context.Background()) })

	ctx := context.Background()
	require.NoError(t, f.configs.SetMuteRole(ctx, "g1", "muted"))
	require.NoError(t, f.configs.SetModlogChannel(ctx, "g1", "modlog"))
	return f
}

func TestTimedMuteIsReversed(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	id, err := f.svc.Mute(ctx, "g1", "u1", "mod", "spam", 20*time.Millisecond)
	require.NoError(t, err)
	assert.True(t, f.members.hasRole("g1", "u1", "muted"))

	require.Eventually(t, func() bool { return f.store.status(id) == st.StatusFired }, time.Second, 5*time.Millisecond)
	assert.False(t, f.members.hasRole("g1", "u1", "muted"))
	assert.Equal(t, 2, f.notifier.count("modlog"))
}

func TestUnmuteRemovesScheduledAction(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	id, err := f.svc.Mute(ctx, "g1", "u1", "mod", "", time.Hour)
	require.NoError(t, err)
	require.NoError(t, f.svc.Unmute(ctx, "g1", "u1", "mod"))

	assert.False(t, f.members.hasRole("g1", "u1", "muted"))
	assert.Equal(t, st.StatusCancelled, f.store.status(id))
	_, ok := f.sched.Active("g1", "u1", KindUnmute)
	assert.False(t, ok)
}

func TestMuteRequiresRole(t *testing.T) {
	f := newFixture(t)
	_, err := f.svc.Mute(context.Background(), "g2", "u1", "mod", "", time.Minute)
	assert.ErrorIs(t, err, ErrNoMuteRole)
}

func TestPermanentBanCancelsTemporaryOne(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	id, err := f.svc.Ban(ctx, "g1", "u1", "mod", "raid", time.Hour)
	require.NoError(t, err)
	require.NotEmpty(t, id)

	none, err := f.svc.Ban(ctx, "g1", "u1", "mod", "raid again", 0)
	require.NoError(t, err)
	assert.Empty(t, none)
	assert.Equal(t, st.StatusCancelled, f.store.status(id))
	assert.True(t, f.members.banned("g1", "u1"))
}

func TestUnbanExecutorToleratesMissingBan(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	id, err := f.svc.Ban(ctx, "g1", "u1", "mod", "", 20*time.Millisecond)
	require.NoError(t, err)
	// someone lifted the ban by hand in the meantime
	f.members.mu.Lock()
	delete(f.members.bans, "g1/u1")
	f.members.mu.Unlock()

	require.Eventually(t, func() bool { return f.store.status(id) == st.StatusFired }, time.Second, 5*time.Millisecond)
}

func TestUnmuteExecutorFailureStaysActive(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.members.failRm = fmt.Errorf("503 from gateway")

	id, err := f.svc.Mute(ctx, "g1", "u1", "mod", "", 5*time.Millisecond)
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		f.store.mu.Lock()
		defer f.store.mu.Unlock()
		return f.store.actions[id].Attempts == 2
	}, time.Second, 5*time.Millisecond)
	assert.Equal(t, st.StatusActive, f.store.status(id))
}

func TestMuteIsUndoneWhenUnmuteCannotBeScheduled(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.store.failSaves(errors.New("disk full"))

	_, err := f.svc.Mute(ctx, "g1", "u1", "mod", "", time.Hour)
	require.Error(t, err)
	assert.False(t, f.members.hasRole("g1", "u1", "muted"))
	_, ok := f.sched.Active("g1", "u1", KindUnmute)
	assert.False(t, ok)
}

func TestRemuteFailureKeepsExistingMute(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	id, err := f.svc.Mute(ctx, "g1", "u1", "mod", "", time.Hour)
	require.NoError(t, err)
	f.store.failSaves(errors.New("disk full"))

	_, err = f.svc.Mute(ctx, "g1", "u1", "mod", "", 2*time.Hour)
	require.Error(t, err)
	assert.True(t, f.members.hasRole("g1", "u1", "muted"))
	a, ok := f.sched.Active("g1", "u1", KindUnmute)
	require.True(t, ok)
	assert.Equal(t, id, a.ID)
}

func TestBanIsUndoneWhenUnbanCannotBeScheduled(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.store.failSaves(errors.New("disk full"))

	_, err := f.svc.Ban(ctx, "g1", "u1", "mod", "raid", time.Hour)
	require.Error(t, err)
	assert.False(t, f.members.banned("g1", "u1"))
}
