package storage

import (
	"context"

	st "server-warden/internal/storagetypes"
)

// AppendCommandHistory appends a command history record for a guild
func (s *Storage) AppendCommandHistory(ctx context.Context, guildID string, entry st.CommandHistory) error {
	return s.update(ctx, guildID, func(record *st.Record) error {
		record.CommandsHistory = append(record.CommandsHistory, entry)
		if len(record.CommandsHistory) > commandHistoryLimit {
			record.CommandsHistory = record.CommandsHistory[len(record.CommandsHistory)-commandHistoryLimit:]
		}
		return nil
	})
}

func (s *Storage) CommandHistory(ctx context.Context, guildID string) ([]st.CommandHistory, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	record, err := s.getOrCreateGuildRecord(guildID)
	if err != nil {
		return nil, err
	}
	return record.CommandsHistory, nil
}
