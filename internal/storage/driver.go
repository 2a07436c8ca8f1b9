package storage

import (
	"context"
	"fmt"
	"strings"

	"server-warden/internal/storage/sqlstore"
	st "server-warden/internal/storagetypes"

	"go.uber.org/zap"
)

// Driver is the persistence surface the core consumes.
type Driver interface {
	LoadGuildConfig(ctx context.Context, guildID string) (st.GuildConfig, bool, error)
	SaveGuildConfigField(ctx context.Context, guildID string, field st.Field, value any) error

	LoadActiveDeferredActions(ctx context.Context) ([]st.DeferredAction, error)
	SaveDeferredAction(ctx context.Context, action st.DeferredAction) error
	UpdateDeferredActionStatus(ctx context.Context, actionID string, status st.ActionStatus) error
	RecordDeferredActionAttempt(ctx context.Context, actionID string, attempts int, lastError string) error

	AppendCommandHistory(ctx context.Context, guildID string, entry st.CommandHistory) error
	CommandHistory(ctx context.Context, guildID string) ([]st.CommandHistory, error)

	Close() error
}

var (
	_ Driver = (*Storage)(nil)
	_ Driver = (*sqlstore.Store)(nil)
)

// Open returns the driver named by kind ("json" or "sqlite").
func Open(kind, path string, logger *zap.Logger) (Driver, error) {
	switch strings.ToLower(kind) {
	case "", "json":
		return New(path, logger)
	case "sqlite", "sqlite3":
		return sqlstore.Open(path, logger)
	}
	return nil, fmt.Errorf("unknown storage driver %q", kind)
}
