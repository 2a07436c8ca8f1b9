package storage

import (
	"context"

	st "server-warden/internal/storagetypes"
)

// LoadGuildConfig returns the stored config and whether the guild was ever configured.
func (s *Storage) LoadGuildConfig(ctx context.Context, guildID string) (st.GuildConfig, bool, error) {
	if err := ctx.Err(); err != nil {
		return st.GuildConfig{}, false, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	record, err := s.getOrCreateGuildRecord(guildID)
	if err != nil {
		return st.GuildConfig{}, false, err
	}
	return record.Config, record.Configured, nil
}

// SaveGuildConfigField persists one column of a guild's config.
func (s *Storage) SaveGuildConfigField(ctx context.Context, guildID string, field st.Field, value any) error {
	return s.update(ctx, guildID, func(record *st.Record) error {
		if err := record.Config.SetValue(field, value); err != nil {
			return err
		}
		record.Configured = true
		return nil
	})
}
