// Package guildconfig holds the live per-guild configuration and applies
// mutations with write-through persistence.
package guildconfig

import (
	"context"
	"fmt"
	"sync"
	"time"

	st "server-warden/internal/storagetypes"
	"server-warden/pkg/util"

	"go.uber.org/zap"
)

// Store is the persistence subset the cache needs.
type Store interface {
	LoadGuildConfig(ctx context.Context, guildID string) (st.GuildConfig, bool, error)
	SaveGuildConfigField(ctx context.Context, guildID string, field st.Field, value any) error
}

// PersistError reports a mutation that was rolled back because it could not be stored.
type PersistError struct {
	GuildID string
	Field   st.Field
	Err     error
}

func (e *PersistError) Error() string {
	return fmt.Sprintf("persist %s for guild %s: %v", e.Field, e.GuildID, e.Err)
}

func (e *PersistError) Unwrap() error { return e.Err }

type entry struct {
	mu  sync.Mutex
	cfg *st.GuildConfig // nil until loaded
}

type Cache struct {
	store          Store
	log            *zap.Logger
	persistTimeout time.Duration

	mu      sync.Mutex
	entries map[string]*entry
}

func New(store Store, persistTimeout time.Duration, logger *zap.Logger) *Cache {
	if logger == nil {
		logger = zap.NewNop()
	}
	if persistTimeout <= 0 {
		persistTimeout = 5 * time.Second
	}
	return &Cache{
		store:          store,
		log:            logger.Named("guildconfig"),
		persistTimeout: persistTimeout,
		entries:        make(map[string]*entry),
	}
}

func (c *Cache) entryFor(guildID string) *entry {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[guildID]
	if !ok {
		e = &entry{}
		c.entries[guildID] = e
	}
	return e
}

// load fills e.cfg from storage. Caller holds e.mu.
func (c *Cache) load(ctx context.Context, guildID string, e *entry) error {
	if e.cfg != nil {
		return nil
	}
	cfg, _, err := c.store.LoadGuildConfig(ctx, guildID)
	if err != nil {
		return err
	}
	cfg.GuildID = guildID
	cfg.Normalize()
	e.cfg = &cfg
	return nil
}

// Get returns a snapshot of the guild's config, loading it on first use.
// A storage failure yields defaults that are not cached, so the next call retries.
func (c *Cache) Get(ctx context.Context, guildID string) st.GuildConfig {
	e := c.entryFor(guildID)
	e.mu.Lock()
	defer e.mu.Unlock()

	if err := c.load(ctx, guildID, e); err != nil {
		c.log.Error("failed to load guild config, using defaults", zap.String("guild", guildID), zap.Error(err))
		return st.NewGuildConfig(guildID)
	}
	return e.cfg.Clone()
}

// Forget drops the cached entry. The next Get reloads from storage.
func (c *Cache) Forget(guildID string) {
	c.mu.Lock()
	e, ok := c.entries[guildID]
	delete(c.entries, guildID)
	c.mu.Unlock()

	if ok {
		// wait out an in-flight mutation so it cannot resurrect a stale object
		e.mu.Lock()
		e.mu.Unlock()
	}
}

// Warm loads configs for many guilds concurrently, e.g. on gateway READY.
func (c *Cache) Warm(ctx context.Context, guildIDs []string, workers int) error {
	return util.Parallel(ctx, guildIDs, workers, func(ctx context.Context, guildID string) error {
		e := c.entryFor(guildID)
		e.mu.Lock()
		defer e.mu.Unlock()
		if err := c.load(ctx, guildID, e); err != nil {
			return fmt.Errorf("warm guild %s: %w", guildID, err)
		}
		return nil
	})
}

// Mutate applies fn to the live config under the guild lock and persists field.
// If fn fails nothing changes. If persistence fails the config is restored to its
// exact pre-mutation state and a *PersistError is returned.
func (c *Cache) Mutate(ctx context.Context, guildID string, field st.Field, fn func(cfg *st.GuildConfig) error) error {
	e := c.entryFor(guildID)
	e.mu.Lock()
	defer e.mu.Unlock()

	if err := c.load(ctx, guildID, e); err != nil {
		return &PersistError{GuildID: guildID, Field: field, Err: fmt.Errorf("load: %w", err)}
	}

	before := e.cfg.Clone()
	if err := fn(e.cfg); err != nil {
		*e.cfg = before
		return err
	}
	e.cfg.Normalize()

	value, err := e.cfg.Value(field)
	if err != nil {
		*e.cfg = before
		return err
	}

	pctx, cancel := context.WithTimeout(ctx, c.persistTimeout)
	defer cancel()
	if err := c.store.SaveGuildConfigField(pctx, guildID, field, value); err != nil {
		*e.cfg = before
		c.log.Error("failed to persist guild config, rolled back",
			zap.String("guild", guildID),
			zap.String("field", string(field)),
			zap.Error(err),
		)
		return &PersistError{GuildID: guildID, Field: field, Err: err}
	}
	return nil
}
