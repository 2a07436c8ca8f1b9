package command

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
)

var (
	errMissingContext = errors.New("invocation carries no command context")
	ErrDuplicate      = errors.New("command already registered")
)

type Registry struct {
	mu     sync.RWMutex
	defs   []*Definition
	byName map[string]*Definition

	reorderGuards bool
	knownPerm     func(string) bool
}

type RegistryOption func(*Registry)

// WithDeclaredGuardOrder keeps guards exactly in declaration order.
func WithDeclaredGuardOrder() RegistryOption {
	return func(r *Registry) { r.reorderGuards = false }
}

// WithPermissionNames rejects permission guards that name a permission for
// which known returns false.
func WithPermissionNames(known func(string) bool) RegistryOption {
	return func(r *Registry) { r.knownPerm = known }
}

func NewRegistry(opts ...RegistryOption) *Registry {
	r := &Registry{byName: map[string]*Definition{}, reorderGuards: true}
	for _, o := range opts {
		o(r)
	}
	return r
}

// Register validates d, parses its guards and records its registration order.
func (r *Registry) Register(d *Definition) error {
	if d == nil || d.Name == "" {
		return errors.New("command needs a name")
	}
	if d.Handler == nil {
		return fmt.Errorf("command %q has no handler", d.Name)
	}
	name := strings.ToLower(d.Name)

	triggers := d.Triggers
	if len(triggers) == 0 {
		triggers = []string{name}
	}
	clean := make([]string, 0, len(triggers))
	for _, t := range triggers {
		t = strings.ToLower(strings.TrimSpace(t))
		if t == "" || strings.ContainsAny(t, " \t\n") {
			return fmt.Errorf("command %q: invalid trigger %q", d.Name, t)
		}
		clean = append(clean, t)
	}

	guards, err := ParseGuards(d.Middleware, r.reorderGuards)
	if err != nil {
		return fmt.Errorf("command %q: %w", d.Name, err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.checkPermsLocked(guards); err != nil {
		return fmt.Errorf("command %q: %w", d.Name, err)
	}
	if _, exists := r.byName[name]; exists {
		return fmt.Errorf("%q: %w", name, ErrDuplicate)
	}

	d.Name = name
	d.Triggers = clean
	d.Middleware = append([]string(nil), d.Middleware...)
	d.Related = append([]string(nil), d.Related...)
	d.guards = guards
	d.order = len(r.defs)

	r.defs = append(r.defs, d)
	r.byName[name] = d
	return nil
}

// SetPermissionNames installs the permission name check after construction
// and applies it to the commands already registered.
func (r *Registry) SetPermissionNames(known func(string) bool) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.knownPerm = known
	for _, d := range r.defs {
		if err := r.checkPermsLocked(d.guards); err != nil {
			return fmt.Errorf("command %q: %w", d.Name, err)
		}
	}
	return nil
}

func (r *Registry) checkPermsLocked(guards []GuardSpec) error {
	if r.knownPerm == nil {
		return nil
	}
	for _, g := range guards {
		spec, ok := g.(*PermissionSpec)
		if !ok {
			continue
		}
		for _, perm := range spec.Perms {
			if !r.knownPerm(perm) {
				return fmt.Errorf("guard %q: unknown permission %q", spec.String(), perm)
			}
		}
	}
	return nil
}

// MustRegister registers static command tables and panics on error.
func (r *Registry) MustRegister(defs ...*Definition) {
	for _, d := range defs {
		if err := r.Register(d); err != nil {
			panic(err)
		}
	}
}

func (r *Registry) Lookup(name string) (*Definition, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	d, ok := r.byName[strings.ToLower(name)]
	return d, ok
}

// All returns definitions in registration order.
func (r *Registry) All() []*Definition {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]*Definition(nil), r.defs...)
}

// Related resolves d.Related by name. Unknown names are skipped.
func (r *Registry) Related(d *Definition) []*Definition {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []*Definition
	for _, name := range d.Related {
		if rel, ok := r.byName[strings.ToLower(name)]; ok && rel != d {
			out = append(out, rel)
		}
	}
	return out
}

// ByCategory groups definitions, each group sorted by name.
func (r *Registry) ByCategory() map[string][]*Definition {
	out := map[string][]*Definition{}
	for _, d := range r.All() {
		out[d.Category] = append(out[d.Category], d)
	}
	for _, defs := range out {
		sort.Slice(defs, func(i, j int) bool { return defs[i].Name < defs[j].Name })
	}
	return out
}
