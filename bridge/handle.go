// Package bridge exposes foreign interpreter objects as typed Go values.
// An Environment owns the interpreter lifecycle and the type catalog,
// Instance dispatches catalog operations on foreign objects, Sequence
// adapts foreign iterables, and result converters turn foreign values
// into Go ones according to the declared operation results.
package bridge

import (
	"runtime"
	"sync"

	"github.com/metagis/pybridge/cpy"
)

// Handle owns one foreign reference. Closing the handle releases the
// reference. A handle is bound to the interpreter that produced its
// reference and must not be used with another.
type Handle struct {
	ip   *cpy.Interp
	addr cpy.Ref

	mu      sync.Mutex
	managed bool
}

func newHandle(ip *cpy.Interp, addr cpy.Ref) *Handle {
	return &Handle{ip: ip, addr: addr}
}

// Addr returns the foreign address this handle refers to.
func (h *Handle) Addr() cpy.Ref { return h.addr }

// Equal reports whether both handles refer to the same foreign object in
// the same interpreter.
func (h *Handle) Equal(o *Handle) bool {
	return o != nil && h.ip == o.ip && h.addr == o.addr
}

// Hash returns a stable hash derived from the foreign address.
func (h *Handle) Hash() uint64 { return uint64(h.addr) }

// Close releases the foreign reference. Closing twice, or closing a
// handle given to AutoRelease, is a no-op.
func (h *Handle) Close() error {
	h.mu.Lock()
	if h.managed {
		h.mu.Unlock()
		return nil
	}
	h.managed = true
	h.mu.Unlock()
	return h.ip.DecRef(h.addr)
}

// AutoRelease hands the reference over to the garbage collector: once
// the handle becomes unreachable the reference is released. After
// AutoRelease an explicit Close is a no-op.
func (h *Handle) AutoRelease() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.managed {
		return
	}
	h.managed = true
	ip, addr := h.ip, h.addr
	// The cleanup must not reach h, or h would never become collectable.
	runtime.AddCleanup(h, func(addr cpy.Ref) { _ = ip.DecRef(addr) }, addr)
}
