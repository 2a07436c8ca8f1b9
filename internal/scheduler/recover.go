package scheduler

import (
	"context"
	"fmt"
	"sort"
	"time"

	st "server-warden/internal/storagetypes"

	"go.uber.org/zap"
)

// Recover loads ACTIVE actions from the store and arms them. Past-due actions
// fire immediately. When several ACTIVE records share a tuple the newest wins
// and the rest are persisted CANCELLED. Running it again is harmless: tracked
// actions are not duplicated, and tracked actions that are due but not running
// (e.g. after exhausted retries) are fired again.
//
// The load runs under the scheduler lock so that a Cancel or a fire cannot
// change a record between the snapshot and the reconcile.
func (s *Scheduler) Recover(ctx context.Context) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return 0, ErrClosed
	}

	loaded, err := s.store.LoadActiveDeferredActions(ctx)
	if err != nil {
		return 0, fmt.Errorf("load deferred actions: %w", err)
	}

	groups := map[string][]st.DeferredAction{}
	for _, a := range loaded {
		if a.Status != st.StatusActive {
			continue
		}
		groups[a.TupleKey()] = append(groups[a.TupleKey()], a)
	}
	for key, id := range s.byTuple {
		if _, ok := groups[key]; ok {
			groups[key] = appendUnique(groups[key], s.actions[id].action)
		}
	}

	now := s.now()
	armed := 0
	for _, candidates := range groups {
		sort.Slice(candidates, func(i, j int) bool {
			if !candidates[i].CreatedAt.Equal(candidates[j].CreatedAt) {
				return candidates[i].CreatedAt.After(candidates[j].CreatedAt)
			}
			return candidates[i].ID > candidates[j].ID
		})
		winner := candidates[0]

		for _, loser := range candidates[1:] {
			s.supersedeStaleLocked(ctx, loser, winner)
		}

		if t, ok := s.actions[winner.ID]; ok {
			if t.timer == nil && winner.ExpiresAt != nil && !winner.ExpiresAt.After(now) && !s.jobs.Running(fireJob(winner.ID)) {
				s.armLocked(t)
				armed++
			}
			continue
		}
		s.trackLocked(winner)
		armed++
	}

	s.log.Info("recovered deferred actions", zap.Int("loaded", len(loaded)), zap.Int("armed", armed))
	return armed, nil
}

func (s *Scheduler) supersedeStaleLocked(ctx context.Context, loser, winner st.DeferredAction) {
	pctx, cancel := s.persistCtx(ctx)
	defer cancel()
	if err := s.store.UpdateDeferredActionStatus(pctx, loser.ID, st.StatusCancelled); err != nil {
		s.log.Error("failed to cancel duplicate deferred action",
			zap.String("id", loser.ID),
			zap.String("kept", winner.ID),
			zap.Error(err),
		)
	}
	s.untrackLocked(loser.ID)
}

// RunRecovery calls Recover every interval until ctx is done.
func (s *Scheduler) RunRecovery(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := s.Recover(ctx); err != nil {
				s.log.Error("periodic recovery failed", zap.Error(err))
			}
		}
	}
}

func appendUnique(list []st.DeferredAction, a st.DeferredAction) []st.DeferredAction {
	for _, x := range list {
		if x.ID == a.ID {
			return list
		}
	}
	return append(list, a)
}
