package cpy

import (
	"errors"
	"fmt"
	"sort"
	"sync/atomic"

	"go.uber.org/zap"
)

// Interp layers the global-lock and reference-count discipline over a
// raw API. Every exported method holds the lock for the duration of the
// native work, and every intermediate reference created along the way is
// released before returning, on success and failure alike.
type Interp struct {
	api API
	log *zap.Logger

	// initializedByUs records whether Start performed the interpreter
	// initialization, as opposed to attaching to one already live. Only
	// the initializing side may finalize.
	initializedByUs bool

	closed atomic.Bool
}

// New wraps an entry-point table. A nil logger disables logging.
func New(api API, log *zap.Logger) *Interp {
	if log == nil {
		log = zap.NewNop()
	}
	return &Interp{api: api, log: log}
}

// Start initializes the interpreter with the given startup options.
// When the loaded image already holds a live interpreter it is reused as
// is, and Shutdown will leave it running. Start must complete before the
// Interp is shared between goroutines.
func (ip *Interp) Start(cfg Config) error {
	live, err := ip.api.Initialized()
	if err != nil {
		return err
	}
	if live {
		ip.log.Debug("attaching to a live interpreter")
		return nil
	}

	pcfg, err := ip.api.InitConfigCreate()
	if err != nil {
		return err
	}
	if pcfg == 0 {
		return errors.New("cannot allocate the interpreter configuration")
	}
	defer func() {
		if ferr := ip.api.InitConfigFree(pcfg); ferr != nil {
			ip.log.Warn("releasing interpreter configuration", zap.Error(ferr))
		}
	}()

	for _, name := range sortedOptions(cfg.Options) {
		var value int64
		if cfg.Options[name] {
			value = 1
		}
		status, err := ip.api.InitConfigSetInt(pcfg, string(name), value)
		if err != nil {
			return err
		}
		if status != 0 {
			return ip.configError(pcfg, fmt.Sprintf("setting option %q", name))
		}
	}

	status, err := ip.api.InitializeFromConfig(pcfg)
	if err != nil {
		return err
	}
	if status != 0 {
		return ip.configError(pcfg, "initializing the interpreter")
	}
	ip.initializedByUs = true
	return nil
}

func (ip *Interp) configError(pcfg Ref, doing string) error {
	msg, err := ip.api.InitConfigError(pcfg)
	if err == nil && msg != "" {
		return fmt.Errorf("%s: %s", doing, msg)
	}
	return fmt.Errorf("%s failed", doing)
}

func sortedOptions(opts map[Option]bool) []Option {
	names := make([]Option, 0, len(opts))
	for name := range opts {
		names = append(names, name)
	}
	sort.Slice(names, func(i, j int) bool { return names[i] < names[j] })
	return names
}

// InitializedByUs reports whether Start performed the initialization.
func (ip *Interp) InitializedByUs() bool { return ip.initializedByUs }

// Call resolves the named attribute on obj. When args is non-nil, or the
// attribute turns out to be callable, the attribute is invoked and the
// call's result returned; otherwise the attribute value itself is
// returned. Either way the returned Ref is a new reference owned by the
// caller.
//
// A nil args requests plain attribute access; an empty non-nil slice
// forces a call with no arguments.
func (ip *Interp) Call(obj Ref, name string, args []any) (Ref, error) {
	ip.api.Lock()
	defer ip.api.Unlock()

	attr, err := ip.api.GetAttr(obj, name)
	if err != nil {
		return 0, err
	}
	if attr == 0 {
		return 0, ip.raisedLocked(fmt.Errorf("cannot get the %q attribute", name))
	}

	invoke := args != nil
	if !invoke {
		c, err := ip.api.Callable(attr)
		if err != nil {
			return 0, ip.releaseLocked(err, attr)
		}
		invoke = c
	}
	if !invoke {
		return attr, nil
	}

	result, err := ip.invokeLocked(attr, name, args)
	if derr := ip.api.DecRef(attr); derr != nil {
		err = errors.Join(err, derr)
	}
	if err != nil {
		if result != 0 {
			return 0, ip.releaseLocked(err, result)
		}
		return 0, err
	}
	return result, nil
}

// invokeLocked calls the callable with converted arguments. The
// argument tuple and every reference created for it are released before
// returning; the result reference is owned by the caller.
func (ip *Interp) invokeLocked(callable Ref, name string, args []any) (Ref, error) {
	var tuple Ref
	if len(args) > 0 {
		var err error
		tuple, err = ip.buildTupleLocked(args)
		if err != nil {
			return 0, fmt.Errorf("building arguments for %q: %w", name, err)
		}
	}
	result, err := ip.api.CallObject(callable, tuple)
	if tuple != 0 {
		if derr := ip.api.DecRef(tuple); derr != nil {
			err = errors.Join(err, derr)
		}
	}
	if err != nil {
		if result != 0 {
			return 0, ip.releaseLocked(err, result)
		}
		return 0, err
	}
	if result == 0 {
		return 0, ip.raisedLocked(fmt.Errorf("cannot call %q", name))
	}
	return result, nil
}

// buildTupleLocked packs converted arguments into a fresh tuple. On
// success the tuple owns every item, so releasing the tuple later
// releases them all.
func (ip *Interp) buildTupleLocked(args []any) (Ref, error) {
	tuple, err := ip.api.TupleNew(len(args))
	if err != nil {
		return 0, err
	}
	if tuple == 0 {
		return 0, ip.raisedLocked(errors.New("cannot allocate the argument tuple"))
	}
	for i, arg := range args {
		item, err := ip.toForeignLocked(arg)
		if err != nil {
			return 0, ip.releaseLocked(err, tuple)
		}
		// The tuple steals the item reference even when the store fails.
		status, err := ip.api.TupleSet(tuple, i, item)
		if err != nil {
			return 0, ip.releaseLocked(err, tuple)
		}
		if status != 0 {
			err = ip.raisedLocked(fmt.Errorf("cannot store argument %d", i))
			return 0, ip.releaseLocked(err, tuple)
		}
	}
	return tuple, nil
}

// toForeignLocked converts one argument to an interpreter object,
// returning a reference owned by the caller. A Ref argument is passed
// through with its count incremented, so the caller's own reference
// stays valid after the tuple steals this one.
func (ip *Interp) toForeignLocked(arg any) (Ref, error) {
	switch v := arg.(type) {
	case Ref:
		if err := ip.api.IncRef(v); err != nil {
			return 0, err
		}
		return v, nil
	case int:
		return ip.fromLongLocked(int64(v))
	case int32:
		return ip.fromLongLocked(int64(v))
	case int64:
		return ip.fromLongLocked(v)
	case float32:
		return ip.fromDoubleLocked(float64(v))
	case float64:
		return ip.fromDoubleLocked(v)
	case string:
		r, err := ip.api.FromString(v)
		if err != nil {
			return 0, err
		}
		if r == 0 {
			return 0, ip.raisedLocked(errors.New("cannot create the string object"))
		}
		return r, nil
	default:
		return 0, &ConversionError{Type: fmt.Sprintf("%T", arg)}
	}
}

func (ip *Interp) fromLongLocked(v int64) (Ref, error) {
	r, err := ip.api.FromLong(v)
	if err != nil {
		return 0, err
	}
	if r == 0 {
		return 0, ip.raisedLocked(errors.New("cannot create the integer object"))
	}
	return r, nil
}

func (ip *Interp) fromDoubleLocked(v float64) (Ref, error) {
	r, err := ip.api.FromDouble(v)
	if err != nil {
		return 0, err
	}
	if r == 0 {
		return 0, ip.raisedLocked(errors.New("cannot create the float object"))
	}
	return r, nil
}

// Import imports a module by name and returns a new reference to it.
func (ip *Interp) Import(name string) (Ref, error) {
	ip.api.Lock()
	defer ip.api.Unlock()
	m, err := ip.api.ImportModule(name)
	if err != nil {
		return 0, err
	}
	if m == 0 {
		return 0, ip.raisedLocked(fmt.Errorf("cannot import the %q module", name))
	}
	return m, nil
}

// Long extracts an integer value. The interpreter reports extraction
// failure only through its error state, so the state is consulted after
// every extraction.
func (ip *Interp) Long(obj Ref) (int64, error) {
	ip.api.Lock()
	defer ip.api.Unlock()
	v, err := ip.api.AsLong(obj)
	if err != nil {
		return 0, err
	}
	if err := ip.raisedLocked(nil); err != nil {
		return 0, err
	}
	return v, nil
}

// Float extracts a floating-point value.
func (ip *Interp) Float(obj Ref) (float64, error) {
	ip.api.Lock()
	defer ip.api.Unlock()
	v, err := ip.api.AsDouble(obj)
	if err != nil {
		return 0, err
	}
	if err := ip.raisedLocked(nil); err != nil {
		return 0, err
	}
	return v, nil
}

// Str extracts the contents of a string object.
func (ip *Interp) Str(obj Ref) (string, error) {
	ip.api.Lock()
	defer ip.api.Unlock()
	s, ok, err := ip.api.AsUTF8(obj)
	if err != nil {
		return "", err
	}
	if !ok {
		return "", ip.raisedLocked(errors.New("cannot get the character string"))
	}
	return s, nil
}

// Render stringifies any object through the interpreter's str.
func (ip *Interp) Render(obj Ref) (string, error) {
	ip.api.Lock()
	defer ip.api.Unlock()
	s, err := ip.api.Str(obj)
	if err != nil {
		return "", err
	}
	if s == 0 {
		return "", ip.raisedLocked(errors.New("cannot render the object"))
	}
	text, ok, err := ip.api.AsUTF8(s)
	if err != nil {
		return "", ip.releaseLocked(err, s)
	}
	if !ok {
		return "", ip.releaseLocked(ip.raisedLocked(errors.New("cannot get the character string")), s)
	}
	if derr := ip.api.DecRef(s); derr != nil {
		return "", derr
	}
	return text, nil
}

// None reports whether obj is the interpreter's None.
func (ip *Interp) None(obj Ref) (bool, error) {
	ip.api.Lock()
	defer ip.api.Unlock()
	return ip.api.IsNone(obj)
}

// IncRef takes an additional reference on obj, for callers that hand a
// borrowed reference to a new owner.
func (ip *Interp) IncRef(obj Ref) error {
	ip.api.Lock()
	defer ip.api.Unlock()
	return ip.api.IncRef(obj)
}

// DecRef releases one reference. After Shutdown it becomes a no-op, so
// cleanups scheduled through the garbage collector stay safe however
// late they run.
func (ip *Interp) DecRef(obj Ref) error {
	if ip.closed.Load() {
		return nil
	}
	ip.api.Lock()
	defer ip.api.Unlock()
	if ip.closed.Load() {
		return nil
	}
	return ip.api.DecRef(obj)
}

// Version returns the interpreter's version banner.
func (ip *Interp) Version() (string, error) {
	ip.api.Lock()
	defer ip.api.Unlock()
	return ip.api.Version()
}

// Shutdown finalizes the interpreter, but only when this Interp
// performed the initialization; an interpreter that was merely attached
// to keeps running. Shutdown is idempotent.
func (ip *Interp) Shutdown() error {
	if !ip.initializedByUs {
		return nil
	}
	ip.api.Lock()
	defer ip.api.Unlock()
	if ip.closed.Swap(true) {
		return nil
	}
	ip.log.Debug("finalizing the interpreter")
	return ip.api.Finalize()
}

// raisedLocked converts the interpreter's pending raised error into a
// RuntimeError, clearing the flag. When nothing is pending it returns
// fallback instead, so callers can pass their own description of what
// went wrong. Must be called with the lock held.
func (ip *Interp) raisedLocked(fallback error) error {
	exc, err := ip.api.ErrFetch()
	if err != nil {
		return errors.Join(fallback, err)
	}
	if exc == 0 {
		return fallback
	}
	rerr := &RuntimeError{
		Type: ip.renderTypeLocked(exc),
		Text: ip.renderTextLocked(exc),
	}
	if derr := ip.api.DecRef(exc); derr != nil {
		return errors.Join(rerr, derr)
	}
	return rerr
}

// renderTextLocked renders str(exc), best effort. Rendering must not
// leave a fresh raised error behind, so the flag is drained on failure.
func (ip *Interp) renderTextLocked(exc Ref) string {
	s, err := ip.api.Str(exc)
	if err != nil || s == 0 {
		ip.drainLocked()
		return ""
	}
	text, ok, err := ip.api.AsUTF8(s)
	if err != nil || !ok {
		ip.drainLocked()
	}
	_ = ip.api.DecRef(s)
	return text
}

// renderTypeLocked reads the raised error's class name, best effort.
func (ip *Interp) renderTypeLocked(exc Ref) string {
	cls, err := ip.api.GetAttr(exc, "__class__")
	if err != nil || cls == 0 {
		ip.drainLocked()
		return ""
	}
	defer func() { _ = ip.api.DecRef(cls) }()
	name, err := ip.api.GetAttr(cls, "__name__")
	if err != nil || name == 0 {
		ip.drainLocked()
		return ""
	}
	defer func() { _ = ip.api.DecRef(name) }()
	text, ok, err := ip.api.AsUTF8(name)
	if err != nil || !ok {
		ip.drainLocked()
		return ""
	}
	return text
}

// drainLocked discards any raised error left over by best-effort work.
func (ip *Interp) drainLocked() {
	if exc, err := ip.api.ErrFetch(); err == nil && exc != 0 {
		_ = ip.api.DecRef(exc)
	}
}

// releaseLocked decrements obj while propagating err. A failing
// decrement is attached to the primary error, never replacing it.
func (ip *Interp) releaseLocked(err error, obj Ref) error {
	if derr := ip.api.DecRef(obj); derr != nil {
		return errors.Join(err, derr)
	}
	return err
}
