package sqlstore

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	st "server-warden/internal/storagetypes"
)

func (s *Store) AppendCommandHistory(ctx context.Context, guildID string, entry st.CommandHistory) error {
	args, _ := json.Marshal(entry.Args)
	if _, err := s.db.ExecContext(ctx, `
		INSERT INTO command_history (guild_id, channel_id, user_id, command, args, datetime)
		VALUES (?, ?, ?, ?, ?, ?)`,
		guildID, entry.ChannelID, entry.UserID, entry.Command, string(args), entry.Datetime.UnixMilli()); err != nil {
		return fmt.Errorf("append history for guild %s: %w", guildID, err)
	}

	_, err := s.db.ExecContext(ctx, `
		DELETE FROM command_history WHERE guild_id = ? AND id NOT IN (
			SELECT id FROM command_history WHERE guild_id = ? ORDER BY id DESC LIMIT ?
		)`, guildID, guildID, commandHistoryLimit)
	if err != nil {
		s.log.Sugar().Warnf("trim history for guild %s: %v", guildID, err)
	}
	return nil
}

func (s *Store) CommandHistory(ctx context.Context, guildID string) ([]st.CommandHistory, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT channel_id, user_id, command, args, datetime
		FROM command_history WHERE guild_id = ? ORDER BY id`, guildID)
	if err != nil {
		return nil, fmt.Errorf("query history for guild %s: %w", guildID, err)
	}
	defer rows.Close()

	var out []st.CommandHistory
	for rows.Next() {
		var (
			h    st.CommandHistory
			args string
			ts   int64
		)
		if err := rows.Scan(&h.ChannelID, &h.UserID, &h.Command, &args, &ts); err != nil {
			return nil, fmt.Errorf("scan history: %w", err)
		}
		_ = json.Unmarshal([]byte(args), &h.Args)
		h.Datetime = time.UnixMilli(ts)
		out = append(out, h)
	}
	return out, rows.Err()
}
