// Package resolve maps raw message text to a registered command.
package resolve

import (
	"strings"
	"unicode"
	"unicode/utf8"

	"server-warden/internal/command"
	"server-warden/internal/config"
	st "server-warden/internal/storagetypes"

	"github.com/google/shlex"
)

// Match is a resolved invocation.
type Match struct {
	Definition *command.Definition
	Prefix     string
	Trigger    string
	Args       []string
	Alias      string // alias key that was expanded, if any
	Text       string // text that matched, after alias expansion
}

type Resolver struct {
	registry      *command.Registry
	defaultPrefix func(category string) string
}

type Option func(*Resolver)

// WithDefaultPrefix overrides the category table lookup.
func WithDefaultPrefix(fn func(category string) string) Option {
	return func(r *Resolver) { r.defaultPrefix = fn }
}

func New(registry *command.Registry, opts ...Option) *Resolver {
	r := &Resolver{registry: registry, defaultPrefix: config.DefaultPrefix}
	for _, o := range opts {
		o(r)
	}
	return r
}

// EffectivePrefix is the guild override for category, else its default.
func (r *Resolver) EffectivePrefix(cfg st.GuildConfig, category string) string {
	if p, ok := cfg.Prefixes[category]; ok && p != "" {
		return p
	}
	return r.defaultPrefix(category)
}

// Resolve finds the command text invokes in channelID. A zero cfg behaves as
// all defaults. Aliases are expanded once; an expansion is never re-expanded.
func (r *Resolver) Resolve(cfg st.GuildConfig, channelID, text string) (Match, bool) {
	text = strings.TrimLeftFunc(text, unicode.IsSpace)
	if text == "" {
		return Match{}, false
	}

	if alias, expansion, ok := matchAlias(cfg.Aliases, text); ok {
		expanded := expansion + text[len(alias):]
		if m, ok := r.resolve(cfg, channelID, expanded); ok {
			m.Alias = alias
			return m, true
		}
	}
	return r.resolve(cfg, channelID, text)
}

func (r *Resolver) resolve(cfg st.GuildConfig, channelID, text string) (Match, bool) {
	var best Match
	found := false

	for _, def := range r.registry.All() {
		if !cfg.CategoryEnabled(def.Category, channelID) {
			continue
		}
		prefix := r.EffectivePrefix(cfg, def.Category)
		if !hasPrefixFold(text, prefix) {
			continue
		}
		rest := text[len(prefix):]

		trigger := ""
		for _, t := range def.Triggers {
			if len(t) > len(trigger) && hasWordPrefixFold(rest, t) {
				trigger = t
			}
		}
		if trigger == "" {
			continue
		}

		if found && !outranks(def, best.Definition) {
			continue
		}
		best = Match{
			Definition: def,
			Prefix:     prefix,
			Trigger:    trigger,
			Args:       SplitArgs(rest[len(trigger):]),
			Text:       text,
		}
		found = true
	}
	return best, found
}

// outranks orders by priority, then earlier registration.
func outranks(a, b *command.Definition) bool {
	if a.Priority != b.Priority {
		return a.Priority > b.Priority
	}
	return a.Order() < b.Order()
}

// matchAlias picks the longest alias that starts text at a word boundary.
func matchAlias(aliases map[string]string, text string) (string, string, bool) {
	var key, expansion string
	for k, v := range aliases {
		if k == "" || len(k) <= len(key) {
			continue
		}
		if hasWordPrefixFold(text, k) {
			key, expansion = k, v
		}
	}
	return key, expansion, key != ""
}

// SplitArgs splits the remainder after a trigger. Quoted segments stay together;
// malformed quoting falls back to plain whitespace splitting.
func SplitArgs(s string) []string {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}
	// shlex treats a word-initial '#' as a comment.
	args, err := shlex.Split(strings.ReplaceAll(s, "#", `\#`))
	if err != nil {
		return strings.Fields(s)
	}
	return args
}

func hasPrefixFold(s, prefix string) bool {
	return len(s) >= len(prefix) && strings.EqualFold(s[:len(prefix)], prefix)
}

// hasWordPrefixFold is hasPrefixFold where prefix must be followed by whitespace or end of text.
func hasWordPrefixFold(s, prefix string) bool {
	if !hasPrefixFold(s, prefix) {
		return false
	}
	if len(s) == len(prefix) {
		return true
	}
	next, _ := utf8.DecodeRuneInString(s[len(prefix):])
	return unicode.IsSpace(next)
}
