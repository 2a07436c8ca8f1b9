package storage

import (
	"context"
	"fmt"
	"sort"

	st "server-warden/internal/storagetypes"
)

// LoadActiveDeferredActions returns every ACTIVE action across all guilds,
// oldest first.
func (s *Storage) LoadActiveDeferredActions(ctx context.Context) ([]st.DeferredAction, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	var out []st.DeferredAction
	for _, guildID := range s.ds.Keys("") {
		record, err := s.getOrCreateGuildRecord(guildID)
		if err != nil {
			return nil, fmt.Errorf("load guild %s: %w", guildID, err)
		}
		for _, a := range record.DeferredActions {
			if a.Status == st.StatusActive {
				out = append(out, a)
			}
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

// SaveDeferredAction inserts or replaces an action record.
func (s *Storage) SaveDeferredAction(ctx context.Context, action st.DeferredAction) error {
	if action.ID == "" || action.GuildID == "" {
		return fmt.Errorf("deferred action needs an id and a guild id")
	}
	var pruned []string
	err := s.update(ctx, action.GuildID, func(record *st.Record) error {
		record.DeferredActions[action.ID] = action
		pruned = pruneArchived(record)
		return nil
	})
	if err != nil {
		return err
	}
	s.mu.Lock()
	s.actionGuild[action.ID] = action.GuildID
	for _, id := range pruned {
		delete(s.actionGuild, id)
	}
	s.mu.Unlock()
	return nil
}

// UpdateDeferredActionStatus moves an action to a new status.
func (s *Storage) UpdateDeferredActionStatus(ctx context.Context, actionID string, status st.ActionStatus) error {
	s.mu.Lock()
	guildID, ok := s.actionGuild[actionID]
	s.mu.Unlock()
	if !ok {
		return fmt.Errorf("deferred action %s not found", actionID)
	}

	var pruned []string
	err := s.update(ctx, guildID, func(record *st.Record) error {
		a, ok := record.DeferredActions[actionID]
		if !ok {
			return fmt.Errorf("deferred action %s not found", actionID)
		}
		a.Status = status
		record.DeferredActions[actionID] = a
		pruned = pruneArchived(record)
		return nil
	})
	if err != nil {
		return err
	}
	s.forget(pruned)
	return nil
}

// RecordDeferredActionAttempt stores the attempt counter and last error of an
// action without touching its status.
func (s *Storage) RecordDeferredActionAttempt(ctx context.Context, actionID string, attempts int, lastError string) error {
	s.mu.Lock()
	guildID, ok := s.actionGuild[actionID]
	s.mu.Unlock()
	if !ok {
		return fmt.Errorf("deferred action %s not found", actionID)
	}

	return s.update(ctx, guildID, func(record *st.Record) error {
		a, ok := record.DeferredActions[actionID]
		if !ok {
			return fmt.Errorf("deferred action %s not found", actionID)
		}
		a.Attempts = attempts
		a.LastError = lastError
		record.DeferredActions[actionID] = a
		return nil
	})
}

func (s *Storage) forget(ids []string) {
	if len(ids) == 0 {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, id := range ids {
		delete(s.actionGuild, id)
	}
}

// pruneArchived keeps only the newest terminal records of a guild and returns
// the ids it dropped.
func pruneArchived(record *st.Record) []string {
	var terminal []st.DeferredAction
	for _, a := range record.DeferredActions {
		if a.Status.Terminal() {
			terminal = append(terminal, a)
		}
	}
	if len(terminal) <= archivedActionsLimit {
		return nil
	}
	sort.Slice(terminal, func(i, j int) bool { return terminal[i].CreatedAt.Before(terminal[j].CreatedAt) })
	var pruned []string
	for _, a := range terminal[:len(terminal)-archivedActionsLimit] {
		delete(record.DeferredActions, a.ID)
		pruned = append(pruned, a.ID)
	}
	return pruned
}
