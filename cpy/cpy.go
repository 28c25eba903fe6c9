// Package cpy drives an embedded CPython interpreter, compiled to
// wasm32-wasi, through a fixed set of C API entry points. The exported
// surface is split in two: API is the raw entry-point table (implemented
// by Bindings over wazero, or by a fake in tests), and Interp layers the
// locking and reference-count discipline on top of it.
package cpy

// Ref is the address of an interpreter object inside the module's linear
// memory. The zero Ref is the null reference.
type Ref uint32

// Option names a boolean interpreter startup option.
type Option string

// Startup options understood by the interpreter configuration.
const (
	Isolated       Option = "isolated"
	UseEnvironment Option = "use_environment"
	UTF8Mode       Option = "utf8_mode"
	DevMode        Option = "dev_mode"
	WriteBytecode  Option = "write_bytecode"
)

// Config carries the settings used to load and start the interpreter.
type Config struct {
	// Library is the path to the interpreter's wasm image.
	Library string

	// Root, when set, is a host directory mounted as the guest
	// filesystem root. The interpreter finds its standard library there.
	Root string

	// Options are boolean startup options applied before initialization,
	// in sorted name order.
	Options map[Option]bool
}

// SetOption records a startup option, allocating the map on first use.
func (c *Config) SetOption(o Option, v bool) {
	if c.Options == nil {
		c.Options = make(map[Option]bool)
	}
	c.Options[o] = v
}

// API is the fixed set of interpreter entry points the bridge relies on.
// Every method except Lock and Unlock may return an error from the
// foreign-call machinery itself; interpreter-level failures are reported
// in band, as null Refs or non-zero statuses, and the caller is expected
// to consult ErrFetch for the pending error state.
//
// Methods that touch interpreter objects must only be called between
// Lock and Unlock.
type API interface {
	// Lock acquires the global interpreter lock; Unlock releases it.
	// All object operations happen under the lock.
	Lock()
	Unlock()

	// Initialized reports whether an interpreter is already live.
	Initialized() (bool, error)
	// InitConfigCreate allocates a startup configuration, or null when
	// the guest is out of memory.
	InitConfigCreate() (Ref, error)
	// InitConfigSetInt sets a named integer option, returning the guest
	// status (zero on success).
	InitConfigSetInt(cfg Ref, name string, value int64) (int32, error)
	// InitConfigError returns the configuration's pending error message,
	// or "" when none is set.
	InitConfigError(cfg Ref) (string, error)
	InitConfigFree(cfg Ref) error
	// InitializeFromConfig starts the interpreter, returning the guest
	// status (zero on success).
	InitializeFromConfig(cfg Ref) (int32, error)
	// Version returns the interpreter's version banner.
	Version() (string, error)
	// Finalize shuts the interpreter down.
	Finalize() error

	// ImportModule imports a module by name and returns a new reference,
	// or null with the error state set.
	ImportModule(name string) (Ref, error)
	// GetAttr returns a new reference to the named attribute, or null
	// with the error state set.
	GetAttr(obj Ref, name string) (Ref, error)
	// CallObject invokes a callable with an argument tuple (null for no
	// arguments) and returns a new reference to the result, or null with
	// the error state set.
	CallObject(callable, args Ref) (Ref, error)
	// Callable reports whether the object can be invoked.
	Callable(obj Ref) (bool, error)
	// TupleNew allocates a tuple of n slots, or null with the error
	// state set.
	TupleNew(n int) (Ref, error)
	// TupleSet stores an item, stealing the item reference even on
	// failure, and returns the guest status (zero on success).
	TupleSet(tuple Ref, index int, item Ref) (int32, error)
	// IncRef and DecRef adjust an object's reference count.
	IncRef(obj Ref) error
	DecRef(obj Ref) error
	// IsNone reports whether the object is the interpreter's None.
	IsNone(obj Ref) (bool, error)
	// AsLong extracts an integer; on failure the error state is set.
	AsLong(obj Ref) (int64, error)
	// AsDouble extracts a float; on failure the error state is set.
	AsDouble(obj Ref) (float64, error)
	// AsUTF8 extracts string contents. The second result is false when
	// the object is not a string, with the error state set.
	AsUTF8(obj Ref) (string, bool, error)
	// FromLong, FromDouble and FromString build interpreter objects,
	// returning a new reference or null with the error state set.
	FromLong(v int64) (Ref, error)
	FromDouble(v float64) (Ref, error)
	FromString(s string) (Ref, error)
	// Str renders an object through the interpreter's str() and returns
	// a new reference to the resulting string object.
	Str(obj Ref) (Ref, error)
	// ErrFetch takes ownership of the pending raised error, clearing the
	// flag, or returns null when no error is pending.
	ErrFetch() (Ref, error)

	// Close releases the resources backing the entry points. The
	// interpreter must have been finalized first.
	Close() error
}
