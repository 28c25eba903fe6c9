// Package cpytest provides an in-memory implementation of cpy.API for
// tests: an object heap with real reference counting, a lock that
// detects unprotected or concurrent entry, and per-entry-point call
// counters. Tests build a fixture object graph, run bridge code against
// it, and then compare reference counts against a snapshot.
package cpytest

import (
	"fmt"
	"strconv"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/metagis/pybridge/cpy"
)

// Kind classifies a fake interpreter object.
type Kind int

const (
	KindInvalid Kind = iota
	KindNone
	KindInt
	KindFloat
	KindBool
	KindStr
	KindTuple
	KindList
	KindIterator
	KindCallable
	KindModule
	KindObject
	KindType
	KindExc
)

// Object is a node in the fake interpreter's heap. Fields are exported
// so tests can inspect state directly; mutate only through the FakeAPI
// helpers.
type Object struct {
	Kind  Kind
	Refs  int
	Int   int64
	Float float64
	Str   string

	// Items holds tuple and list elements.
	Items []cpy.Ref
	// Attrs holds named attributes.
	Attrs map[string]cpy.Ref
	// Fn implements a callable. It must return a new reference, or
	// raise and return zero.
	Fn func(args []cpy.Ref) cpy.Ref
	// Type points at the object's class object, when modeled.
	Type cpy.Ref
	// Source is an iterator's underlying container; Pos its cursor.
	Source cpy.Ref
	Pos    int

	// immortal objects model interned interpreter state; they are
	// exempt from leak checks and must never reach a zero count.
	immortal bool
}

type fakeConfig struct {
	opts map[string]int64
	err  string
}

// FakeAPI implements cpy.API over an in-memory heap.
//
// Builders (NewInt, NewModule, ...) are for single-goroutine fixture
// setup; the API methods themselves expect the caller to hold the lock,
// exactly like the real bindings, and report violations to T.
type FakeAPI struct {
	T testing.TB

	// FailInit makes InitializeFromConfig fail with this message.
	FailInit string
	// FailOption makes InitConfigSetInt fail for the named option.
	FailOption string

	mu      sync.Mutex
	locked  atomic.Bool
	entered atomic.Bool

	heap map[cpy.Ref]*Object
	next cpy.Ref

	none     cpy.Ref
	builtins cpy.Ref
	modules  map[string]cpy.Ref
	types    map[string]cpy.Ref
	raised   cpy.Ref

	initialized bool
	finalized   bool
	closed      bool
	applied     map[string]int64
	configs     map[cpy.Ref]*fakeConfig

	cmu        sync.Mutex
	calls      map[string]int
	violations []string
}

// New builds a fake with None and a builtins module carrying str, len,
// iter, next and type.
func New(t testing.TB) *FakeAPI {
	f := &FakeAPI{
		T:       t,
		heap:    make(map[cpy.Ref]*Object),
		next:    0x1000,
		modules: make(map[string]cpy.Ref),
		types:   make(map[string]cpy.Ref),
		configs: make(map[cpy.Ref]*fakeConfig),
		calls:   make(map[string]int),
	}
	f.none = f.alloc(&Object{Kind: KindNone, Refs: 1, immortal: true})
	f.builtins = f.NewModule("builtins", nil)
	f.setBuiltin("str", f.builtinStr)
	f.setBuiltin("len", f.builtinLen)
	f.setBuiltin("iter", f.builtinIter)
	f.setBuiltin("next", f.builtinNext)
	f.setBuiltin("type", f.builtinType)
	return f
}

func (f *FakeAPI) alloc(o *Object) cpy.Ref {
	ref := f.next
	f.next += 16
	f.heap[ref] = o
	return ref
}

// Fixture builders. Each returns a reference owned by the caller;
// builders that accept references take ownership of them.

// NewInt models an integer object.
func (f *FakeAPI) NewInt(v int64) cpy.Ref {
	return f.alloc(&Object{Kind: KindInt, Refs: 1, Int: v})
}

// NewFloat models a float object.
func (f *FakeAPI) NewFloat(v float64) cpy.Ref {
	return f.alloc(&Object{Kind: KindFloat, Refs: 1, Float: v})
}

// NewBool models a boolean object.
func (f *FakeAPI) NewBool(v bool) cpy.Ref {
	var i int64
	if v {
		i = 1
	}
	return f.alloc(&Object{Kind: KindBool, Refs: 1, Int: i})
}

// NewStr models a string object.
func (f *FakeAPI) NewStr(s string) cpy.Ref {
	return f.alloc(&Object{Kind: KindStr, Refs: 1, Str: s})
}

// None returns a new reference to the interpreter's None.
func (f *FakeAPI) None() cpy.Ref {
	f.heap[f.none].Refs++
	return f.none
}

// NewList models a list, taking ownership of the item references.
func (f *FakeAPI) NewList(items ...cpy.Ref) cpy.Ref {
	return f.alloc(&Object{Kind: KindList, Refs: 1, Items: items})
}

// NewModule models an importable module, taking ownership of the
// attribute references.
func (f *FakeAPI) NewModule(name string, attrs map[string]cpy.Ref) cpy.Ref {
	if attrs == nil {
		attrs = make(map[string]cpy.Ref)
	}
	ref := f.alloc(&Object{Kind: KindModule, Refs: 1, Str: "<module '" + name + "'>", Attrs: attrs, immortal: true})
	f.modules[name] = ref
	return ref
}

// NewCallable models a function backed by fn.
func (f *FakeAPI) NewCallable(name string, fn func(args []cpy.Ref) cpy.Ref) cpy.Ref {
	return f.alloc(&Object{Kind: KindCallable, Refs: 1, Str: "<function " + name + ">", Fn: fn})
}

// NewType models a class object with the given module, name and bases,
// taking ownership of the base references.
func (f *FakeAPI) NewType(module, name string, bases ...cpy.Ref) cpy.Ref {
	bt := f.alloc(&Object{Kind: KindTuple, Refs: 1, Items: bases})
	return f.alloc(&Object{Kind: KindType, Refs: 1, Str: "<class '" + name + "'>", Attrs: map[string]cpy.Ref{
		"__name__":   f.NewStr(name),
		"__module__": f.NewStr(module),
		"__bases__":  bt,
	}})
}

// NewObjectOf models an instance of the given class, taking ownership
// of the class and attribute references.
func (f *FakeAPI) NewObjectOf(class cpy.Ref, attrs map[string]cpy.Ref) cpy.Ref {
	if attrs == nil {
		attrs = make(map[string]cpy.Ref)
	}
	return f.alloc(&Object{Kind: KindObject, Refs: 1, Attrs: attrs, Type: class})
}

// NewObject models a plain object with attributes and no modeled class.
func (f *FakeAPI) NewObject(attrs map[string]cpy.Ref) cpy.Ref {
	return f.NewObjectOf(0, attrs)
}

// SetAttr stores an attribute on an existing object, taking ownership
// of the value reference.
func (f *FakeAPI) SetAttr(obj cpy.Ref, name string, value cpy.Ref) {
	o := f.heap[obj]
	if o.Attrs == nil {
		o.Attrs = make(map[string]cpy.Ref)
	}
	if old, ok := o.Attrs[name]; ok {
		f.decref(old)
	}
	o.Attrs[name] = value
}

// Raise queues a raised error of the given class, as a failing entry
// point would.
func (f *FakeAPI) Raise(class, text string) {
	f.setRaised(f.newExc(class, text))
}

func (f *FakeAPI) newExc(class, text string) cpy.Ref {
	t, ok := f.types[class]
	if !ok {
		t = f.NewType("builtins", class)
		f.markImmortal(t)
		f.types[class] = t
	}
	f.heap[t].Refs++
	return f.alloc(&Object{Kind: KindExc, Refs: 1, Str: text, Attrs: map[string]cpy.Ref{"__class__": t}})
}

func (f *FakeAPI) setRaised(exc cpy.Ref) {
	if f.raised != 0 {
		f.decref(f.raised)
	}
	f.raised = exc
}

func (f *FakeAPI) markImmortal(ref cpy.Ref) {
	o, ok := f.heap[ref]
	if !ok || o.immortal {
		return
	}
	o.immortal = true
	for _, at := range o.Attrs {
		f.markImmortal(at)
	}
	for _, it := range o.Items {
		if it != 0 {
			f.markImmortal(it)
		}
	}
}

func (f *FakeAPI) setBuiltin(name string, fn func([]cpy.Ref) cpy.Ref) {
	c := f.alloc(&Object{Kind: KindCallable, Refs: 1, Str: "<built-in function " + name + ">", Fn: fn, immortal: true})
	f.heap[f.builtins].Attrs[name] = c
}

// Inspection helpers.

// Refs returns the current reference count of ref, or -1 when the
// object is dead.
func (f *FakeAPI) Refs(ref cpy.Ref) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	if o, ok := f.heap[ref]; ok {
		return o.Refs
	}
	return -1
}

// Object returns the heap node for ref, or nil when dead.
func (f *FakeAPI) Object(ref cpy.Ref) *Object {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.heap[ref]
}

// At returns the heap node for ref without locking. It is for use
// inside callable Fns, which already run under the interpreter lock.
func (f *FakeAPI) At(ref cpy.Ref) *Object { return f.heap[ref] }

// SetInitialized marks the interpreter live, modeling an image whose
// interpreter was started before this process attached to it.
func (f *FakeAPI) SetInitialized(v bool) { f.initialized = v }

// RaisedPending reports whether an error is waiting to be fetched.
func (f *FakeAPI) RaisedPending() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.raised != 0
}

// Snapshot copies the current reference-count table.
func (f *FakeAPI) Snapshot() map[cpy.Ref]int {
	f.mu.Lock()
	defer f.mu.Unlock()
	snap := make(map[cpy.Ref]int, len(f.heap))
	for ref, o := range f.heap {
		snap[ref] = o.Refs
	}
	return snap
}

// CheckBaseline verifies that reference counts match the snapshot and
// that no mortal objects appeared since it was taken.
func (f *FakeAPI) CheckBaseline(t testing.TB, snap map[cpy.Ref]int) {
	t.Helper()
	f.mu.Lock()
	defer f.mu.Unlock()
	for ref, count := range snap {
		o, ok := f.heap[ref]
		if !ok {
			t.Errorf("object %#x was released below its baseline count %d", ref, count)
			continue
		}
		if o.Refs != count {
			t.Errorf("object %#x: refcount %d, want %d", ref, o.Refs, count)
		}
	}
	for ref, o := range f.heap {
		if _, ok := snap[ref]; !ok && !o.immortal {
			t.Errorf("object %#x leaked (kind %d, refs %d)", ref, o.Kind, o.Refs)
		}
	}
}

// Calls returns how many times the named entry point was invoked.
func (f *FakeAPI) Calls(name string) int {
	f.cmu.Lock()
	defer f.cmu.Unlock()
	return f.calls[name]
}

// Violations returns the protocol violations observed so far.
func (f *FakeAPI) Violations() []string {
	f.cmu.Lock()
	defer f.cmu.Unlock()
	return append([]string(nil), f.violations...)
}

// Applied returns the startup options recorded by the last successful
// InitializeFromConfig.
func (f *FakeAPI) Applied() map[string]int64 { return f.applied }

// Finalized reports whether Finalize ran.
func (f *FakeAPI) Finalized() bool { return f.finalized }

// Closed reports whether Close ran.
func (f *FakeAPI) Closed() bool { return f.closed }

func (f *FakeAPI) count(name string) {
	f.cmu.Lock()
	f.calls[name]++
	f.cmu.Unlock()
}

func (f *FakeAPI) violate(format string, args ...any) {
	msg := fmt.Sprintf(format, args...)
	f.cmu.Lock()
	f.violations = append(f.violations, msg)
	f.cmu.Unlock()
	if f.T != nil {
		f.T.Errorf("fake interpreter: %s", msg)
	}
}

// enter records an object operation, checking the locking protocol.
// The returned func must be deferred.
func (f *FakeAPI) enter(name string) func() {
	f.count(name)
	if !f.locked.Load() {
		f.violate("%s called without the lock", name)
	}
	if !f.entered.CompareAndSwap(false, true) {
		f.violate("%s entered concurrently", name)
	}
	return func() { f.entered.Store(false) }
}

// cpy.API implementation.

func (f *FakeAPI) Lock() {
	f.count("Lock")
	f.mu.Lock()
	f.locked.Store(true)
}

func (f *FakeAPI) Unlock() {
	f.count("Unlock")
	if !f.locked.Load() {
		f.violate("Unlock without the lock")
	}
	f.locked.Store(false)
	f.mu.Unlock()
}

func (f *FakeAPI) Initialized() (bool, error) {
	f.count("Initialized")
	return f.initialized, nil
}

func (f *FakeAPI) InitConfigCreate() (cpy.Ref, error) {
	f.count("InitConfigCreate")
	ref := f.next
	f.next += 16
	f.configs[ref] = &fakeConfig{opts: make(map[string]int64)}
	return ref, nil
}

func (f *FakeAPI) InitConfigSetInt(cfg cpy.Ref, name string, value int64) (int32, error) {
	f.count("InitConfigSetInt")
	c, ok := f.configs[cfg]
	if !ok {
		return 0, fmt.Errorf("unknown configuration %#x", cfg)
	}
	if name == f.FailOption {
		c.err = "invalid option: " + name
		return -1, nil
	}
	c.opts[name] = value
	return 0, nil
}

func (f *FakeAPI) InitConfigError(cfg cpy.Ref) (string, error) {
	f.count("InitConfigError")
	c, ok := f.configs[cfg]
	if !ok {
		return "", fmt.Errorf("unknown configuration %#x", cfg)
	}
	return c.err, nil
}

func (f *FakeAPI) InitConfigFree(cfg cpy.Ref) error {
	f.count("InitConfigFree")
	if _, ok := f.configs[cfg]; !ok {
		f.violate("InitConfigFree of unknown configuration %#x", cfg)
	}
	delete(f.configs, cfg)
	return nil
}

func (f *FakeAPI) InitializeFromConfig(cfg cpy.Ref) (int32, error) {
	f.count("InitializeFromConfig")
	c, ok := f.configs[cfg]
	if !ok {
		return 0, fmt.Errorf("unknown configuration %#x", cfg)
	}
	if f.FailInit != "" {
		c.err = f.FailInit
		return -1, nil
	}
	f.initialized = true
	f.applied = make(map[string]int64, len(c.opts))
	for k, v := range c.opts {
		f.applied[k] = v
	}
	return 0, nil
}

func (f *FakeAPI) Version() (string, error) {
	f.count("Version")
	return "3.14.0 (fake)", nil
}

func (f *FakeAPI) Finalize() error {
	f.count("Finalize")
	if !f.initialized {
		f.violate("Finalize without a live interpreter")
	}
	f.initialized = false
	f.finalized = true
	return nil
}

func (f *FakeAPI) ImportModule(name string) (cpy.Ref, error) {
	defer f.enter("ImportModule")()
	ref, ok := f.modules[name]
	if !ok {
		f.Raise("ModuleNotFoundError", "No module named '"+name+"'")
		return 0, nil
	}
	f.heap[ref].Refs++
	return ref, nil
}

func (f *FakeAPI) GetAttr(obj cpy.Ref, name string) (cpy.Ref, error) {
	defer f.enter("GetAttr")()
	o, ok := f.heap[obj]
	if !ok {
		f.violate("GetAttr on dead object %#x", obj)
		f.Raise("SystemError", "dead object")
		return 0, nil
	}
	if attr, ok := o.Attrs[name]; ok {
		f.heap[attr].Refs++
		return attr, nil
	}
	// Sequence dunders are synthesized as bound methods.
	if o.Kind == KindTuple || o.Kind == KindList {
		switch name {
		case "__len__":
			items := o.Items
			return f.alloc(&Object{Kind: KindCallable, Refs: 1, Fn: func([]cpy.Ref) cpy.Ref {
				return f.alloc(&Object{Kind: KindInt, Refs: 1, Int: int64(len(items))})
			}}), nil
		case "__getitem__":
			items := o.Items
			return f.alloc(&Object{Kind: KindCallable, Refs: 1, Fn: func(args []cpy.Ref) cpy.Ref {
				if len(args) != 1 {
					f.Raise("TypeError", "__getitem__ expected 1 argument")
					return 0
				}
				idx, ok := f.heap[args[0]]
				if !ok || (idx.Kind != KindInt && idx.Kind != KindBool) {
					f.Raise("TypeError", "indices must be integers")
					return 0
				}
				if idx.Int < 0 || idx.Int >= int64(len(items)) {
					f.Raise("IndexError", "index out of range")
					return 0
				}
				item := items[idx.Int]
				f.heap[item].Refs++
				return item
			}}), nil
		}
	}
	f.Raise("AttributeError", "object has no attribute '"+name+"'")
	return 0, nil
}

func (f *FakeAPI) CallObject(callable, args cpy.Ref) (cpy.Ref, error) {
	defer f.enter("CallObject")()
	c, ok := f.heap[callable]
	if !ok || c.Kind != KindCallable || c.Fn == nil {
		f.Raise("TypeError", "object is not callable")
		return 0, nil
	}
	var argRefs []cpy.Ref
	if args != 0 {
		t, ok := f.heap[args]
		if !ok || t.Kind != KindTuple {
			f.Raise("TypeError", "argument list must be a tuple")
			return 0, nil
		}
		argRefs = t.Items
	}
	return c.Fn(argRefs), nil
}

func (f *FakeAPI) Callable(obj cpy.Ref) (bool, error) {
	defer f.enter("Callable")()
	o, ok := f.heap[obj]
	return ok && o.Kind == KindCallable, nil
}

func (f *FakeAPI) TupleNew(n int) (cpy.Ref, error) {
	defer f.enter("TupleNew")()
	return f.alloc(&Object{Kind: KindTuple, Refs: 1, Items: make([]cpy.Ref, n)}), nil
}

func (f *FakeAPI) TupleSet(tuple cpy.Ref, index int, item cpy.Ref) (int32, error) {
	defer f.enter("TupleSet")()
	t, ok := f.heap[tuple]
	if !ok || t.Kind != KindTuple {
		// The item reference is stolen even on failure.
		f.decref(item)
		f.Raise("SystemError", "bad argument to internal function")
		return -1, nil
	}
	if index < 0 || index >= len(t.Items) {
		f.decref(item)
		f.Raise("IndexError", "tuple assignment index out of range")
		return -1, nil
	}
	if t.Items[index] != 0 {
		f.decref(t.Items[index])
	}
	t.Items[index] = item
	return 0, nil
}

func (f *FakeAPI) IncRef(obj cpy.Ref) error {
	defer f.enter("IncRef")()
	o, ok := f.heap[obj]
	if !ok {
		f.violate("IncRef on dead object %#x", obj)
		return nil
	}
	o.Refs++
	return nil
}

func (f *FakeAPI) DecRef(obj cpy.Ref) error {
	defer f.enter("DecRef")()
	f.decref(obj)
	return nil
}

func (f *FakeAPI) decref(obj cpy.Ref) {
	o, ok := f.heap[obj]
	if !ok {
		f.violate("DecRef on dead object %#x", obj)
		return
	}
	o.Refs--
	if o.Refs < 0 {
		f.violate("negative refcount on object %#x", obj)
		return
	}
	if o.Refs > 0 {
		return
	}
	if o.immortal {
		f.violate("immortal object %#x dropped to zero", obj)
		o.Refs = 1
		return
	}
	delete(f.heap, obj)
	for _, it := range o.Items {
		if it != 0 {
			f.decref(it)
		}
	}
	for _, at := range o.Attrs {
		f.decref(at)
	}
	if o.Type != 0 {
		f.decref(o.Type)
	}
	if o.Source != 0 {
		f.decref(o.Source)
	}
}

func (f *FakeAPI) IsNone(obj cpy.Ref) (bool, error) {
	defer f.enter("IsNone")()
	return obj == f.none, nil
}

func (f *FakeAPI) AsLong(obj cpy.Ref) (int64, error) {
	defer f.enter("AsLong")()
	o, ok := f.heap[obj]
	if !ok || (o.Kind != KindInt && o.Kind != KindBool) {
		f.Raise("TypeError", "an integer is required")
		return -1, nil
	}
	return o.Int, nil
}

func (f *FakeAPI) AsDouble(obj cpy.Ref) (float64, error) {
	defer f.enter("AsDouble")()
	o, ok := f.heap[obj]
	if !ok {
		f.Raise("TypeError", "a float is required")
		return -1, nil
	}
	switch o.Kind {
	case KindFloat:
		return o.Float, nil
	case KindInt, KindBool:
		return float64(o.Int), nil
	}
	f.Raise("TypeError", "a float is required")
	return -1, nil
}

func (f *FakeAPI) AsUTF8(obj cpy.Ref) (string, bool, error) {
	defer f.enter("AsUTF8")()
	o, ok := f.heap[obj]
	if !ok || o.Kind != KindStr {
		f.Raise("TypeError", "bad argument type for built-in operation")
		return "", false, nil
	}
	return o.Str, true, nil
}

func (f *FakeAPI) FromLong(v int64) (cpy.Ref, error) {
	defer f.enter("FromLong")()
	return f.alloc(&Object{Kind: KindInt, Refs: 1, Int: v}), nil
}

func (f *FakeAPI) FromDouble(v float64) (cpy.Ref, error) {
	defer f.enter("FromDouble")()
	return f.alloc(&Object{Kind: KindFloat, Refs: 1, Float: v}), nil
}

func (f *FakeAPI) FromString(s string) (cpy.Ref, error) {
	defer f.enter("FromString")()
	return f.alloc(&Object{Kind: KindStr, Refs: 1, Str: s}), nil
}

func (f *FakeAPI) Str(obj cpy.Ref) (cpy.Ref, error) {
	defer f.enter("Str")()
	o, ok := f.heap[obj]
	if !ok {
		f.violate("Str on dead object %#x", obj)
		f.Raise("SystemError", "dead object")
		return 0, nil
	}
	return f.alloc(&Object{Kind: KindStr, Refs: 1, Str: f.render(obj, o)}), nil
}

func (f *FakeAPI) render(ref cpy.Ref, o *Object) string {
	switch o.Kind {
	case KindNone:
		return "None"
	case KindInt:
		return strconv.FormatInt(o.Int, 10)
	case KindBool:
		if o.Int != 0 {
			return "True"
		}
		return "False"
	case KindFloat:
		return strconv.FormatFloat(o.Float, 'g', -1, 64)
	case KindStr, KindExc:
		return o.Str
	}
	if o.Str != "" {
		return o.Str
	}
	return fmt.Sprintf("<object at %#x>", ref)
}

func (f *FakeAPI) ErrFetch() (cpy.Ref, error) {
	defer f.enter("ErrFetch")()
	r := f.raised
	f.raised = 0
	return r, nil
}

func (f *FakeAPI) Close() error {
	f.count("Close")
	f.closed = true
	return nil
}

// Built-in functions.

func (f *FakeAPI) builtinStr(args []cpy.Ref) cpy.Ref {
	if len(args) != 1 {
		f.Raise("TypeError", "str expected 1 argument")
		return 0
	}
	o, ok := f.heap[args[0]]
	if !ok {
		f.Raise("SystemError", "dead object")
		return 0
	}
	return f.alloc(&Object{Kind: KindStr, Refs: 1, Str: f.render(args[0], o)})
}

func (f *FakeAPI) builtinLen(args []cpy.Ref) cpy.Ref {
	if len(args) != 1 {
		f.Raise("TypeError", "len expected 1 argument")
		return 0
	}
	o, ok := f.heap[args[0]]
	if !ok || (o.Kind != KindList && o.Kind != KindTuple) {
		f.Raise("TypeError", "object has no len()")
		return 0
	}
	return f.alloc(&Object{Kind: KindInt, Refs: 1, Int: int64(len(o.Items))})
}

func (f *FakeAPI) builtinIter(args []cpy.Ref) cpy.Ref {
	if len(args) != 1 {
		f.Raise("TypeError", "iter expected 1 argument")
		return 0
	}
	o, ok := f.heap[args[0]]
	if !ok || (o.Kind != KindList && o.Kind != KindTuple) {
		f.Raise("TypeError", "object is not iterable")
		return 0
	}
	f.heap[args[0]].Refs++
	return f.alloc(&Object{Kind: KindIterator, Refs: 1, Source: args[0]})
}

func (f *FakeAPI) builtinNext(args []cpy.Ref) cpy.Ref {
	if len(args) != 1 {
		f.Raise("TypeError", "next expected 1 argument")
		return 0
	}
	it, ok := f.heap[args[0]]
	if !ok || it.Kind != KindIterator {
		f.Raise("TypeError", "not an iterator")
		return 0
	}
	src := f.heap[it.Source]
	if it.Pos >= len(src.Items) {
		f.Raise("StopIteration", "")
		return 0
	}
	v := src.Items[it.Pos]
	it.Pos++
	f.heap[v].Refs++
	return v
}

func (f *FakeAPI) builtinType(args []cpy.Ref) cpy.Ref {
	if len(args) != 1 {
		f.Raise("TypeError", "type expected 1 argument")
		return 0
	}
	o, ok := f.heap[args[0]]
	if !ok || o.Type == 0 {
		f.Raise("TypeError", "type is not modeled for this object")
		return 0
	}
	f.heap[o.Type].Refs++
	return o.Type
}
