package middleware

import (
	"time"

	"server-warden/internal/command"
	"server-warden/internal/throttle"
	"server-warden/pkg/cmd"

	"go.uber.org/zap"
)

// Pipeline compiles a command's guard declarations into a cmd.Handler chain.
type Pipeline struct {
	oracle        Oracle
	throttles     *throttle.Registry
	oracleTimeout time.Duration
	developerID   string
	global        *command.ThrottleSpec
	ambient       []cmd.Middleware
	log           *zap.Logger
}

type Option func(*Pipeline)

// WithOracleTimeout bounds every permission check.
func WithOracleTimeout(d time.Duration) Option {
	return func(p *Pipeline) { p.oracleTimeout = defaultOracleTimeout(d) }
}

// WithDeveloper lets one user id pass every user permission guard.
func WithDeveloper(userID string) Option {
	return func(p *Pipeline) { p.developerID = userID }
}

// WithGlobalThrottle adds a budget shared by all commands, checked after the
// command's own guards.
func WithGlobalThrottle(spec *command.ThrottleSpec) Option {
	return func(p *Pipeline) { p.global = spec }
}

// WithAmbient adds middlewares that wrap every chain, outermost first.
func WithAmbient(mws ...cmd.Middleware) Option {
	return func(p *Pipeline) { p.ambient = append(p.ambient, mws...) }
}

func WithLogger(l *zap.Logger) Option {
	return func(p *Pipeline) { p.log = l.Named("middleware") }
}

// NewPipeline builds a pipeline. A nil oracle rejects every permission guard.
func NewPipeline(oracle Oracle, throttles *throttle.Registry, opts ...Option) *Pipeline {
	p := &Pipeline{
		oracle:        oracle,
		throttles:     throttles,
		oracleTimeout: defaultOracleTimeout(0),
		log:           zap.NewNop(),
	}
	for _, o := range opts {
		o(p)
	}
	if p.throttles == nil {
		p.throttles = throttle.New()
	}
	if p.oracle == nil {
		p.oracle = denyAll
	}
	return p
}

// Build returns def's handler wrapped by the ambient middlewares and then its
// guards in order. The first rejecting guard stops the chain.
func (p *Pipeline) Build(def *command.Definition) cmd.Handler {
	mws := append([]cmd.Middleware(nil), p.ambient...)
	for _, g := range def.Guards() {
		switch spec := g.(type) {
		case *command.PermissionSpec:
			mws = append(mws, permissionGuard(p, spec))
		case *command.ThrottleSpec:
			mws = append(mws, throttleGuard(p, def.Name, spec))
		}
	}
	if p.global != nil {
		mws = append(mws, throttleGuard(p, throttle.Global, p.global))
	}
	return cmd.Apply(command.Adapt(def.Handler), mws...)
}
