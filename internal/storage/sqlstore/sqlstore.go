// Package sqlstore is the SQLite persistence driver.
package sqlstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	st "server-warden/internal/storagetypes"

	"go.uber.org/zap"
	_ "modernc.org/sqlite"
)

const commandHistoryLimit = 20

type Store struct {
	db  *sql.DB
	log *zap.Logger
}

// columns maps config fields to guild_config columns. Only these names are
// ever interpolated into SQL.
var columns = map[st.Field]string{
	st.FieldPrefixes:       "prefixes",
	st.FieldAliases:        "aliases",
	st.FieldEnabled:        "enabled",
	st.FieldMuteRole:       "mute_role_id",
	st.FieldModlogChannel:  "modlog_channel_id",
	st.FieldLevelingEnable: "leveling_enabled",
}

// Open creates or opens the database at path and applies the schema.
func Open(path string, logger *zap.Logger) (*Store, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// SQLite serialises writers; one connection avoids SQLITE_BUSY between our own goroutines.
	db.SetMaxOpenConns(1)
	db.SetConnMaxIdleTime(10 * time.Minute)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}
	for _, pragma := range []string{"PRAGMA journal_mode=WAL", "PRAGMA synchronous=FULL", "PRAGMA busy_timeout=5000"} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to apply %q: %w", pragma, err)
		}
	}

	s := &Store{db: db, log: logger.Named("sqlstore")}
	if err := s.createTables(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create tables: %w", err)
	}
	return s, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) createTables() error {
	schema := `
	CREATE TABLE IF NOT EXISTS guild_config (
		guild_id TEXT PRIMARY KEY,
		prefixes TEXT NOT NULL DEFAULT '{}',
		aliases TEXT NOT NULL DEFAULT '{}',
		enabled TEXT NOT NULL DEFAULT '{}',
		mute_role_id TEXT NOT NULL DEFAULT '',
		modlog_channel_id TEXT NOT NULL DEFAULT '',
		leveling_enabled INTEGER NOT NULL DEFAULT 0,
		updated_at INTEGER NOT NULL DEFAULT 0
	);

	CREATE TABLE IF NOT EXISTS deferred_actions (
		id TEXT PRIMARY KEY,
		guild_id TEXT NOT NULL,
		subject_id TEXT NOT NULL,
		kind TEXT NOT NULL,
		payload TEXT NOT NULL DEFAULT '',
		created_at INTEGER NOT NULL,
		expires_at INTEGER,
		status TEXT NOT NULL,
		attempts INTEGER NOT NULL DEFAULT 0,
		last_error TEXT NOT NULL DEFAULT ''
	);

	CREATE INDEX IF NOT EXISTS idx_deferred_actions_status ON deferred_actions(status);
	CREATE INDEX IF NOT EXISTS idx_deferred_actions_tuple ON deferred_actions(guild_id, subject_id, kind);

	CREATE TABLE IF NOT EXISTS command_history (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		guild_id TEXT NOT NULL,
		channel_id TEXT NOT NULL,
		user_id TEXT NOT NULL,
		command TEXT NOT NULL,
		args TEXT NOT NULL DEFAULT '[]',
		datetime INTEGER NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_command_history_guild ON command_history(guild_id);
	`
	_, err := s.db.Exec(schema)
	return err
}

// LoadGuildConfig returns the stored config and whether a row exists.
func (s *Store) LoadGuildConfig(ctx context.Context, guildID string) (st.GuildConfig, bool, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT prefixes, aliases, enabled, mute_role_id, modlog_channel_id, leveling_enabled
		FROM guild_config WHERE guild_id = ?`, guildID)

	cfg := st.NewGuildConfig(guildID)
	var prefixes, aliases, enabled string
	var leveling int
	err := row.Scan(&prefixes, &aliases, &enabled, &cfg.MuteRoleID, &cfg.ModlogChannelID, &leveling)
	if errors.Is(err, sql.ErrNoRows) {
		return cfg, false, nil
	}
	if err != nil {
		return st.GuildConfig{}, false, fmt.Errorf("load guild %s: %w", guildID, err)
	}

	if err := json.Unmarshal([]byte(prefixes), &cfg.Prefixes); err != nil {
		return st.GuildConfig{}, false, fmt.Errorf("decode prefixes for guild %s: %w", guildID, err)
	}
	if err := json.Unmarshal([]byte(aliases), &cfg.Aliases); err != nil {
		return st.GuildConfig{}, false, fmt.Errorf("decode aliases for guild %s: %w", guildID, err)
	}
	if err := json.Unmarshal([]byte(enabled), &cfg.Enabled); err != nil {
		return st.GuildConfig{}, false, fmt.Errorf("decode enabled for guild %s: %w", guildID, err)
	}
	cfg.LevelingEnabled = leveling != 0
	cfg.Normalize()
	return cfg, true, nil
}

// SaveGuildConfigField upserts a single column.
func (s *Store) SaveGuildConfigField(ctx context.Context, guildID string, field st.Field, value any) error {
	column, ok := columns[field]
	if !ok {
		return fmt.Errorf("unknown guild config field %q", field)
	}

	// Route the value through GuildConfig so the stored shape matches the column type.
	cfg := st.NewGuildConfig(guildID)
	if err := cfg.SetValue(field, value); err != nil {
		return err
	}

	var arg any
	switch field {
	case st.FieldPrefixes, st.FieldAliases, st.FieldEnabled:
		v, _ := cfg.Value(field)
		data, err := json.Marshal(v)
		if err != nil {
			return fmt.Errorf("encode %s: %w", field, err)
		}
		arg = string(data)
	case st.FieldLevelingEnable:
		if cfg.LevelingEnabled {
			arg = 1
		} else {
			arg = 0
		}
	default:
		arg, _ = cfg.Value(field)
	}

	query := fmt.Sprintf(`
		INSERT INTO guild_config (guild_id, %[1]s, updated_at) VALUES (?, ?, ?)
		ON CONFLICT(guild_id) DO UPDATE SET %[1]s = excluded.%[1]s, updated_at = excluded.updated_at`, column)
	if _, err := s.db.ExecContext(ctx, query, guildID, arg, time.Now().Unix()); err != nil {
		return fmt.Errorf("save %s for guild %s: %w", field, guildID, err)
	}
	return nil
}
