package cpy

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"math"
	"os"
	"sync"

	"github.com/tetratelabs/wazero"
	"github.com/tetratelabs/wazero/api"
	"github.com/tetratelabs/wazero/imports/wasi_snapshot_preview1"
)

// Bindings implements API against an interpreter image loaded through
// wazero. One Bindings value owns one guest instance; the zero value is
// not usable, construct with Open.
type Bindings struct {
	ctx     context.Context
	runtime wazero.Runtime
	module  api.Module
	memory  api.Memory

	// mu is the global interpreter lock. The guest build is
	// single-threaded, so serializing entry on the host side is what
	// keeps interpreter state consistent.
	mu sync.Mutex

	malloc api.Function
	free   api.Function

	isInitialized  api.Function
	configCreate   api.Function
	configSetInt   api.Function
	configGetError api.Function
	configFree     api.Function
	initFromConfig api.Function
	getVersion     api.Function
	finalizeEx     api.Function

	importModule      api.Function
	getAttrString     api.Function
	callObject        api.Function
	callableCheck     api.Function
	tupleNew          api.Function
	tupleSetItem      api.Function
	incRef            api.Function
	decRef            api.Function
	noneCheck         api.Function
	longAsLongLong    api.Function
	longFromLongLong  api.Function
	floatAsDouble     api.Function
	floatFromDouble   api.Function
	unicodeAsUTF8     api.Function
	unicodeFromString api.Function
	objectStr         api.Function
	errGetRaised      api.Function
}

// Open loads the interpreter image named by cfg.Library and resolves its
// entry points. The interpreter itself is not started; see Interp.Start.
func Open(ctx context.Context, cfg Config) (*Bindings, error) {
	if cfg.Library == "" {
		return nil, errors.New("no interpreter library configured")
	}
	image, err := os.ReadFile(cfg.Library)
	if err != nil {
		return nil, fmt.Errorf("reading interpreter library: %w", err)
	}

	b := &Bindings{ctx: ctx}
	b.runtime = wazero.NewRuntime(ctx)
	wasi_snapshot_preview1.MustInstantiate(ctx, b.runtime)

	compiled, err := b.runtime.CompileModule(ctx, image)
	if err != nil {
		b.runtime.Close(ctx)
		return nil, fmt.Errorf("compiling %s: %w", cfg.Library, err)
	}

	mcfg := wazero.NewModuleConfig().
		WithName("python").
		WithArgs("python").
		WithStdout(os.Stdout).
		WithStderr(os.Stderr).
		WithStartFunctions()
	if cfg.Root != "" {
		mcfg = mcfg.WithFSConfig(wazero.NewFSConfig().WithDirMount(cfg.Root, "/"))
	}
	b.module, err = b.runtime.InstantiateModule(ctx, compiled, mcfg)
	if err != nil {
		b.runtime.Close(ctx)
		return nil, fmt.Errorf("instantiating %s: %w", cfg.Library, err)
	}
	b.memory = b.module.Memory()
	if b.memory == nil {
		b.runtime.Close(ctx)
		return nil, errors.New("interpreter module exports no memory")
	}

	// Reactor-style images export _initialize instead of a main entry.
	if initialize := b.module.ExportedFunction("_initialize"); initialize != nil {
		if _, err := initialize.Call(ctx); err != nil {
			b.runtime.Close(ctx)
			return nil, fmt.Errorf("running _initialize: %w", err)
		}
	}

	if err := b.resolve(); err != nil {
		b.runtime.Close(ctx)
		return nil, err
	}
	return b, nil
}

// resolve looks up every entry point eagerly so that a mismatched image
// fails at load time rather than mid-call.
func (b *Bindings) resolve() error {
	get := func(name string) (api.Function, error) {
		fn := b.module.ExportedFunction(name)
		if fn == nil {
			return nil, fmt.Errorf("function not found: %s", name)
		}
		return fn, nil
	}

	var err error
	if b.malloc, err = get("malloc"); err != nil {
		return err
	}
	if b.free, err = get("free"); err != nil {
		return err
	}
	if b.isInitialized, err = get("Py_IsInitialized"); err != nil {
		return err
	}
	if b.configCreate, err = get("PyInitConfig_Create"); err != nil {
		return err
	}
	if b.configSetInt, err = get("PyInitConfig_SetInt"); err != nil {
		return err
	}
	if b.configGetError, err = get("PyInitConfig_GetError"); err != nil {
		return err
	}
	if b.configFree, err = get("PyInitConfig_Free"); err != nil {
		return err
	}
	if b.initFromConfig, err = get("Py_InitializeFromInitConfig"); err != nil {
		return err
	}
	if b.getVersion, err = get("Py_GetVersion"); err != nil {
		return err
	}
	if b.finalizeEx, err = get("Py_FinalizeEx"); err != nil {
		return err
	}
	if b.importModule, err = get("PyImport_ImportModule"); err != nil {
		return err
	}
	if b.getAttrString, err = get("PyObject_GetAttrString"); err != nil {
		return err
	}
	if b.callObject, err = get("PyObject_CallObject"); err != nil {
		return err
	}
	if b.callableCheck, err = get("PyCallable_Check"); err != nil {
		return err
	}
	if b.tupleNew, err = get("PyTuple_New"); err != nil {
		return err
	}
	if b.tupleSetItem, err = get("PyTuple_SetItem"); err != nil {
		return err
	}
	if b.incRef, err = get("Py_IncRef"); err != nil {
		return err
	}
	if b.decRef, err = get("Py_DecRef"); err != nil {
		return err
	}
	if b.noneCheck, err = get("Py_IsNone"); err != nil {
		return err
	}
	if b.longAsLongLong, err = get("PyLong_AsLongLong"); err != nil {
		return err
	}
	if b.longFromLongLong, err = get("PyLong_FromLongLong"); err != nil {
		return err
	}
	if b.floatAsDouble, err = get("PyFloat_AsDouble"); err != nil {
		return err
	}
	if b.floatFromDouble, err = get("PyFloat_FromDouble"); err != nil {
		return err
	}
	if b.unicodeAsUTF8, err = get("PyUnicode_AsUTF8"); err != nil {
		return err
	}
	if b.unicodeFromString, err = get("PyUnicode_FromString"); err != nil {
		return err
	}
	if b.objectStr, err = get("PyObject_Str"); err != nil {
		return err
	}
	if b.errGetRaised, err = get("PyErr_GetRaisedException"); err != nil {
		return err
	}
	return nil
}

// call invokes an entry point and returns its first result, if any.
func (b *Bindings) call(fn api.Function, name string, params ...uint64) (uint64, error) {
	results, err := fn.Call(b.ctx, params...)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", name, err)
	}
	if len(results) == 0 {
		return 0, nil
	}
	return results[0], nil
}

// guestCString copies s into guest memory as a NUL-terminated string.
// The caller must release the allocation with guestFree.
func (b *Bindings) guestCString(s string) (uint32, error) {
	r, err := b.call(b.malloc, "malloc", uint64(len(s)+1))
	if err != nil {
		return 0, err
	}
	ptr := uint32(r)
	if ptr == 0 {
		return 0, errors.New("guest allocation failed")
	}
	data := make([]byte, len(s)+1)
	copy(data, s)
	if !b.memory.Write(ptr, data) {
		b.guestFree(ptr)
		return 0, errors.New("writing guest memory failed")
	}
	return ptr, nil
}

func (b *Bindings) guestFree(ptr uint32) {
	if ptr != 0 {
		_, _ = b.call(b.free, "free", uint64(ptr))
	}
}

// readCString reads a NUL-terminated string out of guest memory in
// chunks, bounded at 1 MiB.
func (b *Bindings) readCString(ptr uint32) (string, bool) {
	if ptr == 0 {
		return "", false
	}
	var out []byte
	const chunk = 256
	for {
		at := ptr + uint32(len(out))
		buf, ok := b.memory.Read(at, chunk)
		if !ok {
			// Near the end of memory a full chunk may not fit.
			remain := b.memory.Size() - at
			if remain == 0 {
				return "", false
			}
			if buf, ok = b.memory.Read(at, remain); !ok {
				return "", false
			}
		}
		if i := bytes.IndexByte(buf, 0); i >= 0 {
			return string(append(out, buf[:i]...)), true
		}
		out = append(out, buf...)
		if len(out) > 1<<20 {
			return "", false
		}
	}
}

// Lock acquires the global interpreter lock; Unlock releases it.
func (b *Bindings) Lock()   { b.mu.Lock() }
func (b *Bindings) Unlock() { b.mu.Unlock() }

func (b *Bindings) Initialized() (bool, error) {
	r, err := b.call(b.isInitialized, "Py_IsInitialized")
	return r != 0, err
}

func (b *Bindings) InitConfigCreate() (Ref, error) {
	r, err := b.call(b.configCreate, "PyInitConfig_Create")
	return Ref(r), err
}

func (b *Bindings) InitConfigSetInt(cfg Ref, name string, value int64) (int32, error) {
	ptr, err := b.guestCString(name)
	if err != nil {
		return 0, err
	}
	defer b.guestFree(ptr)
	r, err := b.call(b.configSetInt, "PyInitConfig_SetInt", uint64(cfg), uint64(ptr), uint64(value))
	return int32(uint32(r)), err
}

func (b *Bindings) InitConfigError(cfg Ref) (string, error) {
	slot, err := b.call(b.malloc, "malloc", 4)
	if err != nil {
		return "", err
	}
	ptr := uint32(slot)
	if ptr == 0 {
		return "", errors.New("guest allocation failed")
	}
	defer b.guestFree(ptr)
	r, err := b.call(b.configGetError, "PyInitConfig_GetError", uint64(cfg), uint64(ptr))
	if err != nil {
		return "", err
	}
	if r == 0 {
		return "", nil
	}
	buf, ok := b.memory.Read(ptr, 4)
	if !ok {
		return "", errors.New("reading guest memory failed")
	}
	msg, _ := b.readCString(binary.LittleEndian.Uint32(buf))
	return msg, nil
}

func (b *Bindings) InitConfigFree(cfg Ref) error {
	_, err := b.call(b.configFree, "PyInitConfig_Free", uint64(cfg))
	return err
}

func (b *Bindings) InitializeFromConfig(cfg Ref) (int32, error) {
	r, err := b.call(b.initFromConfig, "Py_InitializeFromInitConfig", uint64(cfg))
	return int32(uint32(r)), err
}

func (b *Bindings) Version() (string, error) {
	r, err := b.call(b.getVersion, "Py_GetVersion")
	if err != nil {
		return "", err
	}
	s, ok := b.readCString(uint32(r))
	if !ok {
		return "", errors.New("reading version string failed")
	}
	return s, nil
}

func (b *Bindings) Finalize() error {
	r, err := b.call(b.finalizeEx, "Py_FinalizeEx")
	if err != nil {
		return err
	}
	if int32(uint32(r)) != 0 {
		return errors.New("interpreter finalization failed")
	}
	return nil
}

func (b *Bindings) ImportModule(name string) (Ref, error) {
	ptr, err := b.guestCString(name)
	if err != nil {
		return 0, err
	}
	defer b.guestFree(ptr)
	r, err := b.call(b.importModule, "PyImport_ImportModule", uint64(ptr))
	return Ref(r), err
}

func (b *Bindings) GetAttr(obj Ref, name string) (Ref, error) {
	ptr, err := b.guestCString(name)
	if err != nil {
		return 0, err
	}
	defer b.guestFree(ptr)
	r, err := b.call(b.getAttrString, "PyObject_GetAttrString", uint64(obj), uint64(ptr))
	return Ref(r), err
}

func (b *Bindings) CallObject(callable, args Ref) (Ref, error) {
	r, err := b.call(b.callObject, "PyObject_CallObject", uint64(callable), uint64(args))
	return Ref(r), err
}

func (b *Bindings) Callable(obj Ref) (bool, error) {
	r, err := b.call(b.callableCheck, "PyCallable_Check", uint64(obj))
	return r != 0, err
}

func (b *Bindings) TupleNew(n int) (Ref, error) {
	r, err := b.call(b.tupleNew, "PyTuple_New", uint64(n))
	return Ref(r), err
}

func (b *Bindings) TupleSet(tuple Ref, index int, item Ref) (int32, error) {
	r, err := b.call(b.tupleSetItem, "PyTuple_SetItem", uint64(tuple), uint64(index), uint64(item))
	return int32(uint32(r)), err
}

func (b *Bindings) IncRef(obj Ref) error {
	_, err := b.call(b.incRef, "Py_IncRef", uint64(obj))
	return err
}

func (b *Bindings) DecRef(obj Ref) error {
	_, err := b.call(b.decRef, "Py_DecRef", uint64(obj))
	return err
}

func (b *Bindings) IsNone(obj Ref) (bool, error) {
	r, err := b.call(b.noneCheck, "Py_IsNone", uint64(obj))
	return r != 0, err
}

func (b *Bindings) AsLong(obj Ref) (int64, error) {
	r, err := b.call(b.longAsLongLong, "PyLong_AsLongLong", uint64(obj))
	return int64(r), err
}

func (b *Bindings) AsDouble(obj Ref) (float64, error) {
	r, err := b.call(b.floatAsDouble, "PyFloat_AsDouble", uint64(obj))
	return math.Float64frombits(r), err
}

func (b *Bindings) AsUTF8(obj Ref) (string, bool, error) {
	r, err := b.call(b.unicodeAsUTF8, "PyUnicode_AsUTF8", uint64(obj))
	if err != nil {
		return "", false, err
	}
	if uint32(r) == 0 {
		return "", false, nil
	}
	s, ok := b.readCString(uint32(r))
	if !ok {
		return "", false, errors.New("reading guest string failed")
	}
	return s, true, nil
}

func (b *Bindings) FromLong(v int64) (Ref, error) {
	r, err := b.call(b.longFromLongLong, "PyLong_FromLongLong", uint64(v))
	return Ref(r), err
}

func (b *Bindings) FromDouble(v float64) (Ref, error) {
	r, err := b.call(b.floatFromDouble, "PyFloat_FromDouble", math.Float64bits(v))
	return Ref(r), err
}

func (b *Bindings) FromString(s string) (Ref, error) {
	ptr, err := b.guestCString(s)
	if err != nil {
		return 0, err
	}
	defer b.guestFree(ptr)
	r, err := b.call(b.unicodeFromString, "PyUnicode_FromString", uint64(ptr))
	return Ref(r), err
}

func (b *Bindings) Str(obj Ref) (Ref, error) {
	r, err := b.call(b.objectStr, "PyObject_Str", uint64(obj))
	return Ref(r), err
}

func (b *Bindings) ErrFetch() (Ref, error) {
	r, err := b.call(b.errGetRaised, "PyErr_GetRaisedException")
	return Ref(r), err
}

// Close tears down the guest runtime.
func (b *Bindings) Close() error {
	return b.runtime.Close(b.ctx)
}
