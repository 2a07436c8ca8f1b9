package guildconfig

import (
	"context"
	"errors"
	"fmt"
	"strings"

	st "server-warden/internal/storagetypes"
)

var (
	// ErrGloballyDisabled rejects a channel-level enable while the category is off guild-wide.
	ErrGloballyDisabled = errors.New("category is disabled for the whole server")
	ErrInvalidPrefix    = errors.New("prefix must be 1-5 characters without spaces")
	ErrInvalidAlias     = errors.New("alias must be a single word")
	ErrAliasNotFound    = errors.New("alias not found")
)

const maxPrefixLen = 5

func (c *Cache) SetPrefix(ctx context.Context, guildID, category, prefix string) error {
	if prefix == "" || len(prefix) > maxPrefixLen || strings.ContainsAny(prefix, " \t\n") {
		return ErrInvalidPrefix
	}
	return c.Mutate(ctx, guildID, st.FieldPrefixes, func(cfg *st.GuildConfig) error {
		cfg.Prefixes[category] = prefix
		return nil
	})
}

// ResetPrefix returns a category to its built-in prefix.
func (c *Cache) ResetPrefix(ctx context.Context, guildID, category string) error {
	return c.Mutate(ctx, guildID, st.FieldPrefixes, func(cfg *st.GuildConfig) error {
		delete(cfg.Prefixes, category)
		return nil
	})
}

func (c *Cache) SetAlias(ctx context.Context, guildID, alias, expansion string) error {
	alias = strings.ToLower(strings.TrimSpace(alias))
	expansion = strings.TrimSpace(expansion)
	if alias == "" || strings.ContainsAny(alias, " \t\n") {
		return ErrInvalidAlias
	}
	if expansion == "" {
		return fmt.Errorf("alias %q needs an expansion", alias)
	}
	return c.Mutate(ctx, guildID, st.FieldAliases, func(cfg *st.GuildConfig) error {
		cfg.Aliases[alias] = expansion
		return nil
	})
}

func (c *Cache) RemoveAlias(ctx context.Context, guildID, alias string) error {
	alias = strings.ToLower(strings.TrimSpace(alias))
	return c.Mutate(ctx, guildID, st.FieldAliases, func(cfg *st.GuildConfig) error {
		if _, ok := cfg.Aliases[alias]; !ok {
			return ErrAliasNotFound
		}
		delete(cfg.Aliases, alias)
		return nil
	})
}

// SetCategoryEnabled toggles a category for scope, which is st.ScopeAll or a channel id.
func (c *Cache) SetCategoryEnabled(ctx context.Context, guildID, scope, category string, enabled bool) error {
	if scope == "" {
		scope = st.ScopeAll
	}
	return c.Mutate(ctx, guildID, st.FieldEnabled, func(cfg *st.GuildConfig) error {
		if scope != st.ScopeAll && enabled {
			if global, ok := cfg.Enabled[st.ScopeAll][category]; ok && !global {
				return ErrGloballyDisabled
			}
		}
		if cfg.Enabled[scope] == nil {
			cfg.Enabled[scope] = map[string]bool{}
		}
		cfg.Enabled[scope][category] = enabled
		return nil
	})
}

// ClearChannelOverride removes a channel's override so it follows the guild-wide value.
func (c *Cache) ClearChannelOverride(ctx context.Context, guildID, channelID, category string) error {
	return c.Mutate(ctx, guildID, st.FieldEnabled, func(cfg *st.GuildConfig) error {
		delete(cfg.Enabled[channelID], category)
		if len(cfg.Enabled[channelID]) == 0 {
			delete(cfg.Enabled, channelID)
		}
		return nil
	})
}

func (c *Cache) SetMuteRole(ctx context.Context, guildID, roleID string) error {
	return c.Mutate(ctx, guildID, st.FieldMuteRole, func(cfg *st.GuildConfig) error {
		cfg.MuteRoleID = roleID
		return nil
	})
}

func (c *Cache) SetModlogChannel(ctx context.Context, guildID, channelID string) error {
	return c.Mutate(ctx, guildID, st.FieldModlogChannel, func(cfg *st.GuildConfig) error {
		cfg.ModlogChannelID = channelID
		return nil
	})
}

func (c *Cache) SetLeveling(ctx context.Context, guildID string, enabled bool) error {
	return c.Mutate(ctx, guildID, st.FieldLevelingEnable, func(cfg *st.GuildConfig) error {
		cfg.LevelingEnabled = enabled
		return nil
	})
}
