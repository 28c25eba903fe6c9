package bridge

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/metagis/pybridge/cpy"
	"github.com/metagis/pybridge/schema"
)

// Environment is a connection to the embedded interpreter, bound to the
// type catalog. Start returns the shared process-wide instance;
// NewEnvironment builds a private one over a caller-supplied entry-point
// table, which is what tests do.
type Environment struct {
	ip  *cpy.Interp
	api cpy.API
	reg *schema.Registry
	log *zap.Logger

	builtins *Handle
	convs    map[*schema.Result]converter

	mu     sync.Mutex
	closed bool
}

// Option configures an Environment.
type Option func(*Environment)

// WithLogger sets the logger used by the environment and the interpreter
// underneath it.
func WithLogger(log *zap.Logger) Option {
	return func(e *Environment) { e.log = log }
}

var (
	sharedMu sync.Mutex
	shared   *Environment
)

// Start connects to the embedded interpreter, loading and initializing it
// on first use. Until it is closed, later calls return the same
// Environment and ignore cfg.
func Start(cfg cpy.Config, opts ...Option) (*Environment, error) {
	sharedMu.Lock()
	defer sharedMu.Unlock()
	if shared != nil {
		return shared, nil
	}
	reg, err := schema.Load()
	if err != nil {
		return nil, err
	}
	b, err := cpy.Open(context.Background(), cfg)
	if err != nil {
		return nil, err
	}
	env, err := NewEnvironment(b, cfg, reg, opts...)
	if err != nil {
		_ = b.Close()
		return nil, err
	}
	shared = env
	return env, nil
}

// NewEnvironment builds an Environment over an explicit entry-point table
// and catalog. On success the Environment owns api and closes it with
// Close; on error ownership stays with the caller.
func NewEnvironment(api cpy.API, cfg cpy.Config, reg *schema.Registry, opts ...Option) (*Environment, error) {
	env := &Environment{api: api, reg: reg, log: zap.NewNop()}
	for _, opt := range opts {
		opt(env)
	}
	if err := env.buildConverters(); err != nil {
		return nil, err
	}
	env.ip = cpy.New(api, env.log)
	if err := env.ip.Start(cfg); err != nil {
		return nil, fmt.Errorf("starting the interpreter: %w", err)
	}
	ref, err := env.ip.Import("builtins")
	if err != nil {
		_ = env.ip.Shutdown()
		return nil, fmt.Errorf("importing builtins: %w", err)
	}
	env.builtins = newHandle(env.ip, ref)
	if v, verr := env.ip.Version(); verr == nil {
		env.log.Info("binding catalog types to Python", zap.String("version", v))
	}
	return env, nil
}

// Registry returns the type catalog this environment resolves against.
func (e *Environment) Registry() *schema.Registry { return e.reg }

// Version returns the interpreter's version banner.
func (e *Environment) Version() (string, error) { return e.ip.Version() }

// Import imports a foreign module and wraps it as an untyped proxy.
func (e *Environment) Import(name string) (*Instance, error) {
	ref, err := e.ip.Import(name)
	if err != nil {
		return nil, err
	}
	return e.wrap(ref, nil), nil
}

// wrap adopts a new foreign reference into an auto-released proxy.
func (e *Environment) wrap(ref cpy.Ref, iface *schema.Interface) *Instance {
	h := newHandle(e.ip, ref)
	h.AutoRelease()
	return &Instance{env: e, h: h, iface: iface}
}

// builtin invokes a function of the builtins module.
func (e *Environment) builtin(name string, args ...any) (cpy.Ref, error) {
	if args == nil {
		args = []any{}
	}
	return e.ip.Call(e.builtins.addr, name, args)
}

// Close releases the builtins handle, shuts the interpreter down if this
// environment initialized it, and closes the entry-point table. Close is
// idempotent.
func (e *Environment) Close() error {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return nil
	}
	e.closed = true
	e.mu.Unlock()

	var errs []error
	if e.builtins != nil {
		if err := e.builtins.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	if err := e.ip.Shutdown(); err != nil {
		errs = append(errs, err)
	}
	if err := e.api.Close(); err != nil {
		errs = append(errs, err)
	}

	sharedMu.Lock()
	if shared == e {
		shared = nil
	}
	sharedMu.Unlock()
	return errors.Join(errs...)
}
