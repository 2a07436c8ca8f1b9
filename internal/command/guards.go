package command

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"server-warden/internal/throttle"
)

// GuardSpec is a parsed middleware declaration: *PermissionSpec or *ThrottleSpec.
type GuardSpec interface {
	fmt.Stringer
	guard()
}

// PermSubject says whose permissions a PermissionSpec checks.
type PermSubject string

const (
	SubjectUser PermSubject = "user"
	SubjectBot  PermSubject = "bot"
	SubjectAll  PermSubject = "all" // both the invoking user and the bot
)

// PermissionSpec is "require:<subject>,<perm>..." or, with Any set,
// "requireOne:<subject>,<perm>...".
type PermissionSpec struct {
	Subject PermSubject
	Perms   []string
	Any     bool
}

func (*PermissionSpec) guard() {}

func (p *PermissionSpec) String() string {
	kind := "require"
	if p.Any {
		kind = "requireOne"
	}
	return kind + ":" + string(p.Subject) + "," + strings.Join(p.Perms, ",")
}

// ThrottleSpec is "throttle:<scope>,<limit>,<windowSeconds>[,silent]".
type ThrottleSpec struct {
	Scope  throttle.ScopeKind
	Limit  int
	Window time.Duration
	Silent bool
}

func (*ThrottleSpec) guard() {}

func (t *ThrottleSpec) String() string {
	s := fmt.Sprintf("throttle:%s,%d,%d", t.Scope, t.Limit, int(t.Window/time.Second))
	if t.Silent {
		s += ",silent"
	}
	return s
}

// ParseGuard parses one middleware declaration.
func ParseGuard(raw string) (GuardSpec, error) {
	kind, rest, ok := strings.Cut(strings.TrimSpace(raw), ":")
	if !ok {
		return nil, fmt.Errorf("guard %q: missing ':'", raw)
	}
	var parts []string
	for _, p := range strings.Split(rest, ",") {
		if p = strings.TrimSpace(p); p != "" {
			parts = append(parts, p)
		}
	}

	switch kind {
	case "require", "requireOne":
		if len(parts) < 2 {
			return nil, fmt.Errorf("guard %q: want <subject>,<perm>[,<perm>...]", raw)
		}
		subject := PermSubject(strings.ToLower(parts[0]))
		switch subject {
		case SubjectUser, SubjectBot, SubjectAll:
		default:
			return nil, fmt.Errorf("guard %q: unknown subject %q", raw, parts[0])
		}
		perms := make([]string, 0, len(parts)-1)
		for _, p := range parts[1:] {
			perms = append(perms, strings.ToLower(p))
		}
		return &PermissionSpec{Subject: subject, Perms: perms, Any: kind == "requireOne"}, nil

	case "throttle":
		if len(parts) < 3 || len(parts) > 4 {
			return nil, fmt.Errorf("guard %q: want <scope>,<limit>,<windowSeconds>[,silent]", raw)
		}
		scope := throttle.ScopeKind(strings.ToLower(parts[0]))
		if !scope.Valid() {
			return nil, fmt.Errorf("guard %q: unknown scope %q", raw, parts[0])
		}
		limit, err := strconv.Atoi(parts[1])
		if err != nil || limit < 1 {
			return nil, fmt.Errorf("guard %q: limit must be a positive integer", raw)
		}
		secs, err := strconv.Atoi(parts[2])
		if err != nil || secs < 1 {
			return nil, fmt.Errorf("guard %q: window must be a positive number of seconds", raw)
		}
		spec := &ThrottleSpec{Scope: scope, Limit: limit, Window: time.Duration(secs) * time.Second}
		if len(parts) == 4 {
			if !strings.EqualFold(parts[3], "silent") {
				return nil, fmt.Errorf("guard %q: unknown flag %q", raw, parts[3])
			}
			spec.Silent = true
		}
		return spec, nil
	}
	return nil, fmt.Errorf("guard %q: unknown kind %q", raw, kind)
}

// ParseGuards parses declarations in order. With reorder set, permission guards are
// stably moved ahead of throttle guards so rejected callers never spend quota.
func ParseGuards(raw []string, reorder bool) ([]GuardSpec, error) {
	specs := make([]GuardSpec, 0, len(raw))
	for _, r := range raw {
		s, err := ParseGuard(r)
		if err != nil {
			return nil, err
		}
		specs = append(specs, s)
	}
	if !reorder {
		return specs, nil
	}

	ordered := make([]GuardSpec, 0, len(specs))
	for _, s := range specs {
		if _, ok := s.(*PermissionSpec); ok {
			ordered = append(ordered, s)
		}
	}
	for _, s := range specs {
		if _, ok := s.(*PermissionSpec); !ok {
			ordered = append(ordered, s)
		}
	}
	return ordered, nil
}
