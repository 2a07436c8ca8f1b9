// Package scheduler persists and fires deferred actions such as automatic
// unmutes. At most one action is ACTIVE per (guild, subject, kind).
package scheduler

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	st "server-warden/internal/storagetypes"
	"server-warden/pkg/jobmgr"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

var (
	ErrNotFound   = errors.New("deferred action not found")
	ErrNoExecutor = errors.New("no executor registered for kind")
	ErrClosed     = errors.New("scheduler is closed")

	errNotActive = errors.New("action is no longer active")
)

// Store is the persistence subset the scheduler needs.
type Store interface {
	LoadActiveDeferredActions(ctx context.Context) ([]st.DeferredAction, error)
	SaveDeferredAction(ctx context.Context, action st.DeferredAction) error
	UpdateDeferredActionStatus(ctx context.Context, actionID string, status st.ActionStatus) error
	RecordDeferredActionAttempt(ctx context.Context, actionID string, attempts int, lastError string) error
}

// Executor performs an action's side effect. It may run more than once for the
// same action and must tolerate that.
type Executor interface {
	Execute(ctx context.Context, action st.DeferredAction) error
}

type ExecutorFunc func(ctx context.Context, action st.DeferredAction) error

func (f ExecutorFunc) Execute(ctx context.Context, action st.DeferredAction) error {
	return f(ctx, action)
}

type Config struct {
	MaxAttempts    int
	RetryDelay     time.Duration
	MaxRetryDelay  time.Duration
	Concurrency    int
	PersistTimeout time.Duration
}

func DefaultConfig() Config {
	return Config{
		MaxAttempts:    5,
		RetryDelay:     2 * time.Second,
		MaxRetryDelay:  time.Minute,
		Concurrency:    4,
		PersistTimeout: 5 * time.Second,
	}
}

type tracked struct {
	action st.DeferredAction
	timer  *time.Timer
}

type Scheduler struct {
	store Store
	cfg   Config
	log   *zap.Logger
	now   func() time.Time
	jobs  *jobmgr.Manager

	mu        sync.Mutex
	actions   map[string]*tracked // id -> ACTIVE action
	byTuple   map[string]string   // tuple key -> id
	executors map[string]Executor
	closed    bool
}

type Option func(*Scheduler)

func WithClock(now func() time.Time) Option {
	return func(s *Scheduler) { s.now = now }
}

func New(store Store, cfg Config, logger *zap.Logger, opts ...Option) *Scheduler {
	if logger == nil {
		logger = zap.NewNop()
	}
	def := DefaultConfig()
	if cfg.MaxAttempts < 1 {
		cfg.MaxAttempts = def.MaxAttempts
	}
	if cfg.Concurrency < 1 {
		cfg.Concurrency = def.Concurrency
	}
	if cfg.PersistTimeout <= 0 {
		cfg.PersistTimeout = def.PersistTimeout
	}
	s := &Scheduler{
		store:     store,
		cfg:       cfg,
		log:       logger.Named("scheduler"),
		now:       time.Now,
		actions:   map[string]*tracked{},
		byTuple:   map[string]string{},
		executors: map[string]Executor{},
	}
	for _, o := range opts {
		o(s)
	}
	s.jobs = jobmgr.NewManager(context.Background(), cfg.Concurrency, func(msg string) {
		s.log.Debug("job", zap.String("event", msg))
	})
	return s
}

// Register binds an executor to an action kind. Call before Recover.
func (s *Scheduler) Register(kind string, exec Executor) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.executors[kind] = exec
}

func (s *Scheduler) persistCtx(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, s.cfg.PersistTimeout)
}

// Schedule records a new ACTIVE action for the tuple, superseding any previous
// one. expiresAt nil means the action never fires on its own.
func (s *Scheduler) Schedule(ctx context.Context, guildID, subjectID, kind string, payload any, expiresAt *time.Time) (string, error) {
	raw, err := encodePayload(payload)
	if err != nil {
		return "", err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return "", ErrClosed
	}

	action := st.DeferredAction{
		ID:        uuid.NewString(),
		GuildID:   guildID,
		SubjectID: subjectID,
		Kind:      kind,
		Payload:   raw,
		CreatedAt: s.now(),
		Status:    st.StatusActive,
	}
	if expiresAt != nil {
		t := *expiresAt
		action.ExpiresAt = &t
	}

	pctx, cancel := s.persistCtx(ctx)
	defer cancel()

	prior := s.actions[s.byTuple[action.TupleKey()]]
	if prior != nil {
		if err := s.store.UpdateDeferredActionStatus(pctx, prior.action.ID, st.StatusCancelled); err != nil {
			return "", fmt.Errorf("supersede action %s: %w", prior.action.ID, err)
		}
	}

	if err := s.store.SaveDeferredAction(pctx, action); err != nil {
		if prior != nil {
			if rerr := s.store.UpdateDeferredActionStatus(pctx, prior.action.ID, st.StatusActive); rerr != nil {
				// the old record is durably cancelled now, so stop tracking it as well
				s.log.Error("failed to restore superseded action",
					zap.String("id", prior.action.ID),
					zap.String("guild", guildID),
					zap.Error(rerr),
				)
				s.untrackLocked(prior.action.ID)
			}
		}
		return "", fmt.Errorf("save action: %w", err)
	}

	if prior != nil {
		s.untrackLocked(prior.action.ID)
	}
	s.trackLocked(action)

	s.log.Info("scheduled deferred action",
		zap.String("id", action.ID),
		zap.String("guild", guildID),
		zap.String("subject", subjectID),
		zap.String("kind", kind),
		zap.Timep("expires_at", action.ExpiresAt),
	)
	return action.ID, nil
}

// Cancel marks an ACTIVE action CANCELLED. It reports false for unknown or
// already terminal actions.
func (s *Scheduler) Cancel(ctx context.Context, id string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cancelLocked(ctx, id)
}

// CancelActive cancels the ACTIVE action of a tuple, if any.
func (s *Scheduler) CancelActive(ctx context.Context, guildID, subjectID, kind string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	id, ok := s.byTuple[tupleKey(guildID, subjectID, kind)]
	if !ok {
		return false, nil
	}
	return s.cancelLocked(ctx, id)
}

func (s *Scheduler) cancelLocked(ctx context.Context, id string) (bool, error) {
	if _, ok := s.actions[id]; !ok {
		return false, nil
	}
	pctx, cancel := s.persistCtx(ctx)
	defer cancel()
	if err := s.store.UpdateDeferredActionStatus(pctx, id, st.StatusCancelled); err != nil {
		return false, fmt.Errorf("cancel action %s: %w", id, err)
	}
	s.untrackLocked(id)
	s.log.Info("cancelled deferred action", zap.String("id", id))
	return true, nil
}

// Active returns the ACTIVE action of a tuple.
func (s *Scheduler) Active(guildID, subjectID, kind string) (st.DeferredAction, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.actions[s.byTuple[tupleKey(guildID, subjectID, kind)]]
	if !ok {
		return st.DeferredAction{}, false
	}
	return t.action, true
}

// Get returns an ACTIVE action by id.
func (s *Scheduler) Get(id string) (st.DeferredAction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.actions[id]
	if !ok {
		return st.DeferredAction{}, ErrNotFound
	}
	return t.action, nil
}

// Pending lists ACTIVE actions, soonest expiry first; actions without expiry last.
func (s *Scheduler) Pending() []st.DeferredAction {
	s.mu.Lock()
	out := make([]st.DeferredAction, 0, len(s.actions))
	for _, t := range s.actions {
		out = append(out, t.action)
	}
	s.mu.Unlock()

	sort.Slice(out, func(i, j int) bool {
		a, b := out[i], out[j]
		switch {
		case a.ExpiresAt == nil && b.ExpiresAt == nil:
			return a.CreatedAt.Before(b.CreatedAt)
		case a.ExpiresAt == nil:
			return false
		case b.ExpiresAt == nil:
			return true
		}
		return a.ExpiresAt.Before(*b.ExpiresAt)
	})
	return out
}

// Close stops all timers, waits for in-flight fires until ctx is done and then
// cancels whatever is still running.
func (s *Scheduler) Close(ctx context.Context) {
	s.mu.Lock()
	s.closed = true
	for _, t := range s.actions {
		if t.timer != nil {
			t.timer.Stop()
			t.timer = nil
		}
	}
	s.mu.Unlock()

	done := make(chan struct{})
	go func() {
		s.jobs.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		s.log.Warn("in-flight deferred actions cancelled on shutdown", zap.Strings("jobs", s.jobs.List()))
	}
	s.jobs.Close()
}

func (s *Scheduler) trackLocked(action st.DeferredAction) {
	t := &tracked{action: action}
	s.actions[action.ID] = t
	s.byTuple[action.TupleKey()] = action.ID
	s.armLocked(t)
}

func (s *Scheduler) untrackLocked(id string) {
	t, ok := s.actions[id]
	if !ok {
		return
	}
	if t.timer != nil {
		t.timer.Stop()
	}
	delete(s.actions, id)
	if s.byTuple[t.action.TupleKey()] == id {
		delete(s.byTuple, t.action.TupleKey())
	}
}

// armLocked starts the action's timer. Past-due actions fire immediately.
func (s *Scheduler) armLocked(t *tracked) {
	if t.action.ExpiresAt == nil || s.closed {
		return
	}
	if t.timer != nil {
		t.timer.Stop()
	}
	id := t.action.ID
	delay := t.action.ExpiresAt.Sub(s.now())
	if delay < 0 {
		delay = 0
	}
	t.timer = time.AfterFunc(delay, func() { s.startFire(id) })
}

func (s *Scheduler) startFire(id string) {
	s.mu.Lock()
	closed := s.closed
	s.mu.Unlock()
	if closed {
		return
	}
	err := s.jobs.StartAsync(fireJob(id), func(ctx context.Context) error {
		return s.fire(ctx, id)
	})
	if err != nil && !errors.Is(err, jobmgr.ErrAlreadyRunning) && !errors.Is(err, jobmgr.ErrClosed) {
		s.log.Error("failed to start deferred action", zap.String("id", id), zap.Error(err))
	}
}

func fireJob(id string) string { return "fire:" + id }

func tupleKey(guildID, subjectID, kind string) string {
	return st.DeferredAction{GuildID: guildID, SubjectID: subjectID, Kind: kind}.TupleKey()
}

func encodePayload(payload any) (json.RawMessage, error) {
	switch v := payload.(type) {
	case nil:
		return nil, nil
	case json.RawMessage:
		return v, nil
	case []byte:
		return json.RawMessage(v), nil
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("encode payload: %w", err)
	}
	return data, nil
}
