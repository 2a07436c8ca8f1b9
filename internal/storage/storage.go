// /internal/storage/storage.go
package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	st "server-warden/internal/storagetypes"
	"server-warden/pkg/datastore"

	"go.uber.org/zap"
)

const (
	commandHistoryLimit  int = 20
	archivedActionsLimit int = 50
)

// Storage is the JSON-file persistence driver. Every write is flushed to disk
// before returning so that callers can treat a nil error as durable.
type Storage struct {
	ds  *datastore.DataStore
	log *zap.Logger

	mu          sync.Mutex        // serialises read-modify-write of guild records
	actionGuild map[string]string // action id -> guild id
}

func New(filePath string, logger *zap.Logger) (*Storage, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	cfg := datastore.DefaultConfig(filePath)
	cfg.Logger = logger
	ds, err := datastore.NewWithConfig(cfg)
	if err != nil {
		return nil, err
	}

	s := &Storage{ds: ds, log: logger.Named("storage"), actionGuild: map[string]string{}}
	for _, guildID := range ds.Keys("") {
		record, err := s.getOrCreateGuildRecord(guildID)
		if err != nil {
			s.log.Warn("skipping unreadable guild record", zap.String("guild", guildID), zap.Error(err))
			continue
		}
		for id := range record.DeferredActions {
			s.actionGuild[id] = guildID
		}
	}
	return s, nil
}

func (s *Storage) Close() error {
	return s.ds.Close()
}

// getOrCreateGuildRecord decodes the stored record for a guild, or returns a fresh one.
func (s *Storage) getOrCreateGuildRecord(guildID string) (*st.Record, error) {
	data, exists := s.ds.Get(guildID)
	if !exists {
		return &st.Record{
			Config:          st.NewGuildConfig(guildID),
			DeferredActions: map[string]st.DeferredAction{},
			CommandsHistory: []st.CommandHistory{},
		}, nil
	}

	var record st.Record
	switch v := data.(type) {
	case *st.Record:
		record = *v
	default:
		jsonData, err := json.Marshal(data)
		if err != nil {
			return nil, fmt.Errorf("error marshalling data: %w", err)
		}
		if err := json.Unmarshal(jsonData, &record); err != nil {
			return nil, fmt.Errorf("error unmarshalling to *Record: %w", err)
		}
	}

	record.Config = record.Config.Clone()
	record.Config.GuildID = guildID
	if record.DeferredActions == nil {
		record.DeferredActions = map[string]st.DeferredAction{}
	} else {
		actions := make(map[string]st.DeferredAction, len(record.DeferredActions))
		for id, a := range record.DeferredActions {
			actions[id] = a
		}
		record.DeferredActions = actions
	}
	record.CommandsHistory = append([]st.CommandHistory(nil), record.CommandsHistory...)
	if len(record.CommandsHistory) > commandHistoryLimit {
		record.CommandsHistory = record.CommandsHistory[len(record.CommandsHistory)-commandHistoryLimit:]
	}

	return &record, nil
}

// putGuildRecord stores the record and flushes it. On a failed flush the
// previous value is restored in memory so the store never reports state that
// is not on disk.
func (s *Storage) putGuildRecord(guildID string, record *st.Record) error {
	prev, hadPrev := s.ds.Get(guildID)

	if err := s.ds.Add(guildID, record); err != nil {
		return fmt.Errorf("store guild %s: %w", guildID, err)
	}
	if err := s.ds.SaveToFile(); err != nil {
		if hadPrev {
			_ = s.ds.Add(guildID, prev)
		} else {
			s.ds.Delete(guildID)
		}
		return fmt.Errorf("flush guild %s: %w", guildID, err)
	}
	return nil
}

// update runs a read-modify-write cycle on one guild record.
func (s *Storage) update(ctx context.Context, guildID string, fn func(*st.Record) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	record, err := s.getOrCreateGuildRecord(guildID)
	if err != nil {
		return err
	}
	if err := fn(record); err != nil {
		return err
	}
	return s.putGuildRecord(guildID, record)
}
