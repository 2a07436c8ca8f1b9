package sqlstore

import (
	"context"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	st "server-warden/internal/storagetypes"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTemp(t *testing.T) (*Store, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "warden.db")
	s, err := Open(path, nil)
	require.NoError(t, err)
	return s, path
}

func TestGuildConfigColumns(t *testing.T) {
	ctx := context.Background()
	s, path := openTemp(t)

	_, found, err := s.LoadGuildConfig(ctx, "g1")
	require.NoError(t, err)
	assert.False(t, found)

	require.NoError(t, s.SaveGuildConfigField(ctx, "g1", st.FieldPrefixes, map[string]string{"moderation": "!"}))
	require.NoError(t, s.SaveGuildConfigField(ctx, "g1", st.FieldAliases, map[string]string{"b": ".ban"}))
	require.NoError(t, s.SaveGuildConfigField(ctx, "g1", st.FieldLevelingEnable, true))
	require.NoError(t, s.SaveGuildConfigField(ctx, "g1", st.FieldModlogChannel, "c9"))
	assert.Error(t, s.SaveGuildConfigField(ctx, "g1", st.Field("bogus"), 1))
	require.NoError(t, s.Close())

	s, err = Open(path, nil)
	require.NoError(t, err)
	defer s.Close()

	cfg, found, err := s.LoadGuildConfig(ctx, "g1")
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, "!", cfg.Prefixes["moderation"])
	assert.Equal(t, ".ban", cfg.Aliases["b"])
	assert.True(t, cfg.LevelingEnabled)
	assert.Equal(t, "c9", cfg.ModlogChannelID)
	assert.NotNil(t, cfg.Enabled)
}

func TestDeferredActionLifecycle(t *testing.T) {
	ctx := context.Background()
	s, _ := openTemp(t)
	defer s.Close()

	expires := time.Now().Add(30 * time.Minute).Truncate(time.Millisecond)
	a := st.DeferredAction{
		ID: "a1", GuildID: "g1", SubjectID: "u1", Kind: "unmute",
		Payload:   []byte(`{"role_id":"r1"}`),
		CreatedAt: time.Now().Truncate(time.Millisecond), ExpiresAt: &expires, Status: st.StatusActive,
	}
	require.NoError(t, s.SaveDeferredAction(ctx, a))
	require.NoError(t, s.SaveDeferredAction(ctx, st.DeferredAction{
		ID: "a2", GuildID: "g1", SubjectID: "u2", Kind: "unban", CreatedAt: time.Now(), Status: st.StatusActive,
	}))

	active, err := s.LoadActiveDeferredActions(ctx)
	require.NoError(t, err)
	require.Len(t, active, 2)
	assert.JSONEq(t, `{"role_id":"r1"}`, string(active[0].Payload))
	assert.True(t, expires.Equal(*active[0].ExpiresAt))
	assert.Nil(t, active[1].ExpiresAt)

	a.Attempts = 2
	a.LastError = "boom"
	require.NoError(t, s.SaveDeferredAction(ctx, a))
	require.NoError(t, s.UpdateDeferredActionStatus(ctx, "a2", st.StatusCancelled))

	active, err = s.LoadActiveDeferredActions(ctx)
	require.NoError(t, err)
	require.Len(t, active, 1)
	assert.Equal(t, 2, active[0].Attempts)
	assert.Equal(t, "boom", active[0].LastError)

	assert.Error(t, s.UpdateDeferredActionStatus(ctx, "missing", st.StatusFired))

	require.NoError(t, s.UpdateDeferredActionStatus(ctx, "a1", st.StatusCancelled))
	require.NoError(t, s.RecordDeferredActionAttempt(ctx, "a1", 3, "gateway timeout"))
	active, err = s.LoadActiveDeferredActions(ctx)
	require.NoError(t, err)
	assert.Empty(t, active, "recording an attempt keeps the cancelled status")
	assert.Error(t, s.RecordDeferredActionAttempt(ctx, "missing", 1, "x"))
}

func TestCommandHistoryTrimmed(t *testing.T) {
	ctx := context.Background()
	s, _ := openTemp(t)
	defer s.Close()

	for i := 0; i < commandHistoryLimit+3; i++ {
		require.NoError(t, s.AppendCommandHistory(ctx, "g1", st.CommandHistory{
			ChannelID: "c1", UserID: "u1", Command: fmt.Sprintf("c%d", i), Args: []string{"x"}, Datetime: time.Now(),
		}))
	}
	history, err := s.CommandHistory(ctx, "g1")
	require.NoError(t, err)
	require.Len(t, history, commandHistoryLimit)
	assert.Equal(t, "c3", history[0].Command)
	assert.Equal(t, []string{"x"}, history[0].Args)
}
