package storagetypes

import (
	"encoding/json"
	"fmt"
	"maps"
	"time"
)

// ScopeAll is the enablement scope key that applies to every channel of a guild.
const ScopeAll = "all"

// Field names a persisted GuildConfig column.
type Field string

const (
	FieldPrefixes       Field = "prefixes"
	FieldAliases        Field = "aliases"
	FieldEnabled        Field = "enabled"
	FieldMuteRole       Field = "mute_role_id"
	FieldModlogChannel  Field = "modlog_channel_id"
	FieldLevelingEnable Field = "leveling_enabled"
)

// Fields lists every persisted column in storage order.
var Fields = []Field{
	FieldPrefixes,
	FieldAliases,
	FieldEnabled,
	FieldMuteRole,
	FieldModlogChannel,
	FieldLevelingEnable,
}

type CommandHistory struct {
	ChannelID string    `json:"channel_id"`
	UserID    string    `json:"user_id"`
	Command   string    `json:"command"`
	Args      []string  `json:"args,omitempty"`
	Datetime  time.Time `json:"datetime"`
}

// GuildConfig is the per-guild settings row.
type GuildConfig struct {
	GuildID         string                     `json:"guild_id"`
	Prefixes        map[string]string          `json:"prefixes"` // category -> prefix
	Aliases         map[string]string          `json:"aliases"`  // alias -> expansion
	Enabled         map[string]map[string]bool `json:"enabled"`  // scope -> category -> enabled
	MuteRoleID      string                     `json:"mute_role_id"`
	ModlogChannelID string                     `json:"modlog_channel_id"`
	LevelingEnabled bool                       `json:"leveling_enabled"`
}

// NewGuildConfig returns the all-defaults config for a guild seen for the first time.
func NewGuildConfig(guildID string) GuildConfig {
	return GuildConfig{
		GuildID:  guildID,
		Prefixes: map[string]string{},
		Aliases:  map[string]string{},
		Enabled:  map[string]map[string]bool{},
	}
}

// Normalize replaces nil maps so callers can write without checks.
func (g *GuildConfig) Normalize() {
	if g.Prefixes == nil {
		g.Prefixes = map[string]string{}
	}
	if g.Aliases == nil {
		g.Aliases = map[string]string{}
	}
	if g.Enabled == nil {
		g.Enabled = map[string]map[string]bool{}
	}
}

// Clone returns a deep copy.
func (g GuildConfig) Clone() GuildConfig {
	out := g
	out.Prefixes = maps.Clone(g.Prefixes)
	out.Aliases = maps.Clone(g.Aliases)
	out.Enabled = make(map[string]map[string]bool, len(g.Enabled))
	for scope, cats := range g.Enabled {
		out.Enabled[scope] = maps.Clone(cats)
	}
	out.Normalize()
	return out
}

// CategoryEnabled reports whether category may run in channelID.
// The guild-wide flag must be on (absent means on); a channel override can only
// narrow it further.
func (g GuildConfig) CategoryEnabled(category, channelID string) bool {
	if global, ok := g.Enabled[ScopeAll][category]; ok && !global {
		return false
	}
	if channelID == "" {
		return true
	}
	if v, ok := g.Enabled[channelID][category]; ok {
		return v
	}
	return true
}

// Value returns the current value of a column, shaped the way it is persisted.
func (g GuildConfig) Value(field Field) (any, error) {
	switch field {
	case FieldPrefixes:
		return maps.Clone(g.Prefixes), nil
	case FieldAliases:
		return maps.Clone(g.Aliases), nil
	case FieldEnabled:
		return g.Clone().Enabled, nil
	case FieldMuteRole:
		return g.MuteRoleID, nil
	case FieldModlogChannel:
		return g.ModlogChannelID, nil
	case FieldLevelingEnable:
		return g.LevelingEnabled, nil
	}
	return nil, fmt.Errorf("unknown guild config field %q", field)
}

// SetValue writes a column value. Values may arrive as their concrete type or
// as JSON-decoded generic data (from the datastore file).
func (g *GuildConfig) SetValue(field Field, value any) error {
	g.Normalize()
	switch field {
	case FieldPrefixes:
		return decodeInto(value, &g.Prefixes)
	case FieldAliases:
		return decodeInto(value, &g.Aliases)
	case FieldEnabled:
		return decodeInto(value, &g.Enabled)
	case FieldMuteRole:
		return decodeInto(value, &g.MuteRoleID)
	case FieldModlogChannel:
		return decodeInto(value, &g.ModlogChannelID)
	case FieldLevelingEnable:
		return decodeInto(value, &g.LevelingEnabled)
	}
	return fmt.Errorf("unknown guild config field %q", field)
}

func decodeInto[T any](value any, dst *T) error {
	if v, ok := value.(T); ok {
		*dst = v
		return nil
	}
	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("error marshalling value: %w", err)
	}
	var out T
	if err := json.Unmarshal(data, &out); err != nil {
		return fmt.Errorf("error unmarshalling value: %w", err)
	}
	*dst = out
	return nil
}

// ActionStatus is the lifecycle state of a DeferredAction.
type ActionStatus string

const (
	StatusActive    ActionStatus = "active"
	StatusCancelled ActionStatus = "cancelled"
	StatusFired     ActionStatus = "fired"
)

// Terminal reports whether no further transition is possible.
func (s ActionStatus) Terminal() bool {
	return s == StatusCancelled || s == StatusFired
}

// DeferredAction is a scheduled future side effect, e.g. an automatic unmute.
type DeferredAction struct {
	ID        string          `json:"id"`
	GuildID   string          `json:"guild_id"`
	SubjectID string          `json:"subject_id"`
	Kind      string          `json:"kind"`
	Payload   json.RawMessage `json:"payload,omitempty"`
	CreatedAt time.Time       `json:"created_at"`
	ExpiresAt *time.Time      `json:"expires_at,omitempty"` // nil = never fires automatically
	Status    ActionStatus    `json:"status"`
	Attempts  int             `json:"attempts"`
	LastError string          `json:"last_error,omitempty"`
}

// TupleKey identifies the (guild, subject, kind) slot that may hold one ACTIVE action.
func (a DeferredAction) TupleKey() string {
	return a.GuildID + "/" + a.SubjectID + "/" + a.Kind
}

// Record is everything the JSON driver keeps per guild.
type Record struct {
	Config          GuildConfig               `json:"config"`
	Configured      bool                      `json:"configured"`
	DeferredActions map[string]DeferredAction `json:"deferred_actions"` // key = action id
	CommandsHistory []CommandHistory          `json:"commands_history"`
}
