package scheduler

import (
	"context"
	"errors"

	st "server-warden/internal/storagetypes"
	"server-warden/pkg/retrylimit"

	"go.uber.org/zap"
)

// fire runs the executor with backoff. The action is re-checked before every
// attempt so a cancel or supersession stops further attempts.
func (s *Scheduler) fire(ctx context.Context, id string) error {
	s.mu.Lock()
	t, ok := s.actions[id]
	if !ok {
		s.mu.Unlock()
		return nil
	}
	action := t.action
	t.timer = nil
	exec := s.executors[action.Kind]
	s.mu.Unlock()

	fields := []zap.Field{
		zap.String("id", action.ID),
		zap.String("guild", action.GuildID),
		zap.String("subject", action.SubjectID),
		zap.String("kind", action.Kind),
	}
	if exec == nil {
		s.log.Error("deferred action has no executor", append(fields, zap.Error(ErrNoExecutor))...)
		return ErrNoExecutor
	}

	attempt := func(ctx context.Context) error {
		current, ok := s.current(id)
		if !ok {
			return retrylimit.Fatal(errNotActive)
		}
		err := exec.Execute(ctx, current)
		if err == nil {
			return nil
		}
		s.recordFailure(ctx, id, err)
		return err
	}

	err := retrylimit.WithRetryConfig(ctx, attempt, nil, retrylimit.RetryConfig{
		MaxAttempts:    s.cfg.MaxAttempts,
		InitialDelay:   s.cfg.RetryDelay,
		MaxDelay:       s.cfg.MaxRetryDelay,
		RateLimitDelay: s.cfg.RetryDelay,
		Multiplier:     2,
		Jitter:         true,
		Logger:         s.log,
	})
	switch {
	case err == nil:
		s.markFired(ctx, id, fields)
		return nil
	case errors.Is(err, errNotActive):
		s.log.Debug("deferred action dropped before firing", fields...)
		return nil
	default:
		s.log.Error("deferred action failed, left active for the next recovery pass", append(fields, zap.Error(err))...)
		return err
	}
}

func (s *Scheduler) current(id string) (st.DeferredAction, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.actions[id]
	if !ok || t.action.Status != st.StatusActive {
		return st.DeferredAction{}, false
	}
	return t.action, true
}

func (s *Scheduler) recordFailure(ctx context.Context, id string, cause error) {
	s.mu.Lock()
	t, ok := s.actions[id]
	if !ok {
		s.mu.Unlock()
		return
	}
	t.action.Attempts++
	t.action.LastError = cause.Error()
	attempts, lastError := t.action.Attempts, t.action.LastError
	s.mu.Unlock()

	// status is left alone so a concurrent Cancel is never overwritten
	pctx, cancel := s.persistCtx(ctx)
	defer cancel()
	if err := s.store.RecordDeferredActionAttempt(pctx, id, attempts, lastError); err != nil {
		s.log.Warn("failed to record deferred action attempt", zap.String("id", id), zap.Error(err))
	}
}

// markFired holds the lock across the write so a recovery pass never reloads
// the record while it is still ACTIVE on disk.
func (s *Scheduler) markFired(ctx context.Context, id string, fields []zap.Field) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.actions[id]; !ok {
		return
	}
	s.untrackLocked(id)

	pctx, cancel := s.persistCtx(context.WithoutCancel(ctx))
	defer cancel()
	if err := s.store.UpdateDeferredActionStatus(pctx, id, st.StatusFired); err != nil {
		// still ACTIVE on disk; the next recovery fires it again
		s.log.Error("failed to mark deferred action fired", append(fields, zap.Error(err))...)
		return
	}
	s.log.Info("deferred action fired", fields...)
}
