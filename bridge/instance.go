package bridge

import (
	"errors"
	"fmt"
	"runtime"

	"github.com/metagis/pybridge/schema"
)

// Instance is a dispatch proxy for one foreign object. Operations the
// object's catalog interface declares convert their results to the
// declared Go shape; anything else comes back as an untyped proxy.
type Instance struct {
	env   *Environment
	h     *Handle
	iface *schema.Interface
}

// Handle returns the underlying foreign reference handle.
func (x *Instance) Handle() *Handle { return x.h }

// Type returns the catalog interface this instance was wrapped as, or
// nil for untyped objects such as modules.
func (x *Instance) Type() *schema.Interface { return x.iface }

// As returns a proxy for the same foreign object typed as the given
// catalog interface, resolving known subtypes the way declared results
// do. The receiver stays valid and untouched.
func (x *Instance) As(iface *schema.Interface) (*Instance, error) {
	if err := x.env.ip.IncRef(x.h.addr); err != nil {
		return nil, err
	}
	if iface == nil {
		return x.env.wrap(x.h.addr, nil), nil
	}
	got, err := x.env.wrapInterface(x.h.addr, iface)
	if err != nil {
		if derr := x.env.ip.DecRef(x.h.addr); derr != nil {
			err = errors.Join(err, derr)
		}
		return nil, err
	}
	return got.(*Instance), nil
}

// Equal reports whether both proxies refer to the same foreign object.
func (x *Instance) Equal(o *Instance) bool {
	return o != nil && x.h.Equal(o.h)
}

// Hash returns a stable hash of the underlying foreign address.
func (x *Instance) Hash() uint64 { return x.h.Hash() }

// String renders the foreign object the way the interpreter would print
// it.
func (x *Instance) String() string {
	s, err := x.env.ip.Render(x.h.addr)
	if err != nil {
		return fmt.Sprintf("<foreign object %#x>", uint64(x.h.addr))
	}
	return s
}

// Get reads the named operation as a property: the foreign attribute is
// fetched and, when it turns out to be callable, invoked without
// arguments. Typed instances resolve the name through their catalog
// interface; for anything else the medial-capitalized name transliterates
// to its foreign spelling.
func (x *Instance) Get(name string) (any, error) {
	return x.dispatch(name, nil)
}

// Call invokes the named operation with arguments. Unlike Get it always
// invokes, even with no arguments.
func (x *Instance) Call(name string, args ...any) (any, error) {
	if args == nil {
		args = []any{}
	}
	return x.dispatch(name, args)
}

func (x *Instance) dispatch(name string, args []any) (any, error) {
	foreign := schema.SnakeCase(name)
	var res *schema.Result
	if x.iface != nil {
		if op := x.iface.Operation(name); op != nil {
			foreign = op.ForeignName()
			res = op.Result
		}
	}
	fargs, err := x.env.convertArgs(args)
	if err != nil {
		return nil, err
	}
	ref, err := x.env.ip.Call(x.h.addr, foreign, fargs)
	// Proxy arguments lend their references to the call; their handles
	// must stay reachable until it returns.
	runtime.KeepAlive(args)
	if err != nil {
		return nil, err
	}
	return x.env.convertResult(x, ref, res)
}

// convertArgs maps host arguments onto values the interpreter layer can
// pass on: proxies and handles unwrap to their foreign references,
// vocabulary codes flatten to their names, numbers and strings pass
// through.
func (e *Environment) convertArgs(args []any) ([]any, error) {
	if args == nil {
		return nil, nil
	}
	out := make([]any, len(args))
	for i, a := range args {
		switch v := a.(type) {
		case *Instance:
			if v.env.ip != e.ip {
				return nil, fmt.Errorf("argument %d: %w", i, ErrForeignBinding)
			}
			out[i] = v.h.addr
		case *Handle:
			if v.ip != e.ip {
				return nil, fmt.Errorf("argument %d: %w", i, ErrForeignBinding)
			}
			out[i] = v.addr
		case *schema.Code:
			out[i] = v.Name
		case schema.Code:
			out[i] = v.Name
		default:
			out[i] = a
		}
	}
	return out, nil
}
