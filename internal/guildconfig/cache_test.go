package guildconfig

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	st "server-warden/internal/storagetypes"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type memStore struct {
	mu       sync.Mutex
	configs  map[string]st.GuildConfig
	loads    int
	failLoad error
	failSave error
	saves    []st.Field
}

func newMemStore() *memStore {
	return &memStore{configs: map[string]st.GuildConfig{}}
}

func (m *memStore) LoadGuildConfig(_ context.Context, guildID string) (st.GuildConfig, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.loads++
	if m.failLoad != nil {
		return st.GuildConfig{}, false, m.failLoad
	}
	cfg, ok := m.configs[guildID]
	if !ok {
		return st.NewGuildConfig(guildID), false, nil
	}
	return cfg.Clone(), true, nil
}

func (m *memStore) SaveGuildConfigField(_ context.Context, guildID string, field st.Field, value any) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failSave != nil {
		return m.failSave
	}
	cfg, ok := m.configs[guildID]
	if !ok {
		cfg = st.NewGuildConfig(guildID)
	}
	if err := cfg.SetValue(field, value); err != nil {
		return err
	}
	m.configs[guildID] = cfg.Clone()
	m.saves = append(m.saves, field)
	return nil
}

func TestGetReturnsSnapshot(t *testing.T) {
	ctx := context.Background()
	c := New(newMemStore(), time.Second, nil)

	cfg := c.Get(ctx, "g1")
	cfg.Prefixes["moderation"] = "?"
	assert.Empty(t, c.Get(ctx, "g1").Prefixes, "snapshots must not alias the live object")
}

func TestGetFallsBackToDefaultsWithoutCaching(t *testing.T) {
	ctx := context.Background()
	store := newMemStore()
	store.failLoad = errors.New("disk gone")
	c := New(store, time.Second, nil)

	cfg := c.Get(ctx, "g1")
	assert.Equal(t, "g1", cfg.GuildID)
	assert.Empty(t, cfg.Prefixes)

	store.mu.Lock()
	store.failLoad = nil
	store.configs["g1"] = st.GuildConfig{GuildID: "g1", Prefixes: map[string]string{"fun": "$"}}
	store.mu.Unlock()

	assert.Equal(t, "$", c.Get(ctx, "g1").Prefixes["fun"])
	assert.Equal(t, 2, store.loads)
}

func TestMutatePersistsAndUpdatesLiveObject(t *testing.T) {
	ctx := context.Background()
	store := newMemStore()
	c := New(store, time.Second, nil)

	require.NoError(t, c.SetPrefix(ctx, "g1", "moderation", "!"))
	assert.Equal(t, "!", c.Get(ctx, "g1").Prefixes["moderation"])
	assert.Equal(t, "!", store.configs["g1"].Prefixes["moderation"])
	assert.Equal(t, []st.Field{st.FieldPrefixes}, store.saves)
}

// Scenario: the store rejects the write; the live object must equal its
// pre-mutation value and the caller must see a PersistError.
func TestMutateRollsBackOnPersistFailure(t *testing.T) {
	ctx := context.Background()
	store := newMemStore()
	c := New(store, time.Second, nil)

	require.NoError(t, c.SetPrefix(ctx, "g1", "fun", "?"))
	require.NoError(t, c.SetCategoryEnabled(ctx, "g1", "c1", "fun", false))
	before := c.Get(ctx, "g1")

	store.failSave = errors.New("write failed")
	err := c.Mutate(ctx, "g1", st.FieldPrefixes, func(cfg *st.GuildConfig) error {
		cfg.Prefixes["fun"] = "!!"
		cfg.Enabled["c1"]["fun"] = true // stray write to another column
		cfg.Aliases["x"] = "?roll"
		return nil
	})

	var pe *PersistError
	require.ErrorAs(t, err, &pe)
	assert.Equal(t, st.FieldPrefixes, pe.Field)
	assert.Equal(t, before, c.Get(ctx, "g1"))
}

func TestMutateCallbackErrorLeavesConfigUntouched(t *testing.T) {
	ctx := context.Background()
	store := newMemStore()
	c := New(store, time.Second, nil)

	err := c.RemoveAlias(ctx, "g1", "nope")
	assert.ErrorIs(t, err, ErrAliasNotFound)
	assert.Empty(t, store.saves)
}

func TestChannelEnableRejectedWhenGloballyDisabled(t *testing.T) {
	ctx := context.Background()
	c := New(newMemStore(), time.Second, nil)

	require.NoError(t, c.SetCategoryEnabled(ctx, "g1", st.ScopeAll, "fun", false))
	assert.ErrorIs(t, c.SetCategoryEnabled(ctx, "g1", "c1", "fun", true), ErrGloballyDisabled)
	require.NoError(t, c.SetCategoryEnabled(ctx, "g1", "c1", "fun", false))

	require.NoError(t, c.ClearChannelOverride(ctx, "g1", "c1", "fun"))
	_, ok := c.Get(ctx, "g1").Enabled["c1"]
	assert.False(t, ok)
}

func TestTypedMutators(t *testing.T) {
	ctx := context.Background()
	c := New(newMemStore(), time.Second, nil)

	assert.ErrorIs(t, c.SetPrefix(ctx, "g1", "fun", "a b"), ErrInvalidPrefix)
	assert.ErrorIs(t, c.SetAlias(ctx, "g1", "two words", ".ban"), ErrInvalidAlias)
	require.NoError(t, c.SetAlias(ctx, "g1", "B", ".ban"))
	require.NoError(t, c.SetMuteRole(ctx, "g1", "r1"))
	require.NoError(t, c.SetModlogChannel(ctx, "g1", "c9"))
	require.NoError(t, c.SetLeveling(ctx, "g1", true))
	require.NoError(t, c.SetPrefix(ctx, "g1", "fun", "$"))
	require.NoError(t, c.ResetPrefix(ctx, "g1", "fun"))

	cfg := c.Get(ctx, "g1")
	assert.Equal(t, ".ban", cfg.Aliases["b"])
	assert.Equal(t, "r1", cfg.MuteRoleID)
	assert.Equal(t, "c9", cfg.ModlogChannelID)
	assert.True(t, cfg.LevelingEnabled)
	assert.NotContains(t, cfg.Prefixes, "fun")
}

func TestConcurrentMutationsAreSerialised(t *testing.T) {
	ctx := context.Background()
	store := newMemStore()
	c := New(store, time.Second, nil)

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			assert.NoError(t, c.SetAlias(ctx, "g1", fmt.Sprintf("a%d", i), ".ping"))
		}(i)
	}
	wg.Wait()

	assert.Len(t, c.Get(ctx, "g1").Aliases, 50)
	assert.Len(t, store.configs["g1"].Aliases, 50)
}

func TestForgetReloads(t *testing.T) {
	ctx := context.Background()
	store := newMemStore()
	c := New(store, time.Second, nil)

	c.Get(ctx, "g1")
	store.mu.Lock()
	store.configs["g1"] = st.GuildConfig{GuildID: "g1", Aliases: map[string]string{"p": "!ping"}}
	store.mu.Unlock()

	assert.Empty(t, c.Get(ctx, "g1").Aliases)
	c.Forget("g1")
	assert.Equal(t, "!ping", c.Get(ctx, "g1").Aliases["p"])
}

func TestWarm(t *testing.T) {
	ctx := context.Background()
	store := newMemStore()
	c := New(store, time.Second, nil)

	require.NoError(t, c.Warm(ctx, []string{"g1", "g2", "g3"}, 2))
	assert.Equal(t, 3, store.loads)
	c.Get(ctx, "g2")
	assert.Equal(t, 3, store.loads)
}
