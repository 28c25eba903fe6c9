package bridge

import (
	"errors"
	"fmt"
	"strings"

	"github.com/metagis/pybridge/cpy"
	"github.com/metagis/pybridge/schema"
)

// ErrForeignBinding reports a foreign object used with an interpreter
// binding other than the one it belongs to.
var ErrForeignBinding = errors.New("foreign object belongs to a different interpreter binding")

// converter adopts one new foreign reference and produces the Go value
// for a declared result type.
type converter func(e *Environment, ref cpy.Ref) (any, error)

// buildConverters resolves a converter for every result type the catalog
// declares. A type no strategy covers fails here, not on first use.
func (e *Environment) buildConverters() error {
	e.convs = make(map[*schema.Result]converter)
	var walk func(res *schema.Result) error
	walk = func(res *schema.Result) error {
		if res == nil {
			return nil
		}
		if _, ok := e.convs[res]; ok {
			return nil
		}
		c, err := newConverter(res)
		if err != nil {
			return err
		}
		e.convs[res] = c
		return walk(res.Elem)
	}
	for _, iface := range e.reg.Interfaces() {
		for _, op := range iface.Operations {
			if err := walk(op.Result); err != nil {
				return fmt.Errorf("operation %s.%s: %w", iface.Name, op.Name, err)
			}
		}
	}
	return nil
}

func newConverter(res *schema.Result) (converter, error) {
	switch res.Kind {
	case schema.KindInt:
		return func(e *Environment, ref cpy.Ref) (any, error) {
			return e.extractLong(ref)
		}, nil
	case schema.KindFloat:
		return func(e *Environment, ref cpy.Ref) (any, error) {
			return e.extractFloat(ref)
		}, nil
	case schema.KindBool:
		return func(e *Environment, ref cpy.Ref) (any, error) {
			return e.extractBool(ref)
		}, nil
	case schema.KindString:
		return func(e *Environment, ref cpy.Ref) (any, error) {
			return e.extractString(ref)
		}, nil
	case schema.KindVocabulary:
		vocab := res.Vocab
		return func(e *Environment, ref cpy.Ref) (any, error) {
			return e.extractCode(ref, vocab)
		}, nil
	case schema.KindInterface:
		iface := res.Iface
		return func(e *Environment, ref cpy.Ref) (any, error) {
			return e.wrapInterface(ref, iface)
		}, nil
	case schema.KindSequence:
		elem := res.Elem
		return func(e *Environment, ref cpy.Ref) (any, error) {
			return e.newSequence(ref, elem)
		}, nil
	}
	return nil, fmt.Errorf("no conversion strategy for %s results", res.Kind)
}

// convertResult adopts the reference a dispatched call produced.
// Sequence results wrap even when absent; None becomes nil; a result
// that is the receiver itself reuses the receiver's proxy; otherwise the
// declared converter applies, or the value stays an untyped proxy.
func (e *Environment) convertResult(recv *Instance, ref cpy.Ref, res *schema.Result) (any, error) {
	if res != nil && res.Kind == schema.KindSequence {
		return e.newSequence(ref, res.Elem)
	}
	none, err := e.ip.None(ref)
	if err != nil {
		_ = e.ip.DecRef(ref)
		return nil, err
	}
	if none {
		if err := e.ip.DecRef(ref); err != nil {
			return nil, err
		}
		return nil, nil
	}
	if recv != nil && ref == recv.h.addr {
		if err := e.ip.DecRef(ref); err != nil {
			return nil, err
		}
		return recv, nil
	}
	if res == nil {
		return e.wrap(ref, nil), nil
	}
	conv, ok := e.convs[res]
	if !ok {
		_ = e.ip.DecRef(ref)
		return nil, fmt.Errorf("no conversion strategy for %s results", res.Kind)
	}
	return conv(e, ref)
}

// convertElement adopts one element fetched during iteration.
func (e *Environment) convertElement(ref cpy.Ref, res *schema.Result) (any, error) {
	return e.convertResult(nil, ref, res)
}

func (e *Environment) extractLong(ref cpy.Ref) (any, error) {
	v, err := e.ip.Long(ref)
	if derr := e.ip.DecRef(ref); derr != nil && err == nil {
		err = derr
	}
	if err != nil {
		return nil, err
	}
	return v, nil
}

func (e *Environment) extractFloat(ref cpy.Ref) (any, error) {
	v, err := e.ip.Float(ref)
	if derr := e.ip.DecRef(ref); derr != nil && err == nil {
		err = derr
	}
	if err != nil {
		return nil, err
	}
	return v, nil
}

func (e *Environment) extractBool(ref cpy.Ref) (any, error) {
	v, err := e.ip.Long(ref)
	if derr := e.ip.DecRef(ref); derr != nil && err == nil {
		err = derr
	}
	if err != nil {
		return nil, err
	}
	return v != 0, nil
}

func (e *Environment) extractString(ref cpy.Ref) (any, error) {
	s, err := e.ip.Str(ref)
	if derr := e.ip.DecRef(ref); derr != nil && err == nil {
		err = derr
	}
	if err != nil {
		return nil, err
	}
	return s, nil
}

// extractCode reads the "value" attribute of a foreign vocabulary member
// and resolves it against the declared values. A blank value means
// absence. An unlisted value is an error for enumerations; for code
// lists it resolves to absence rather than failing.
func (e *Environment) extractCode(ref cpy.Ref, vocab *schema.Vocabulary) (any, error) {
	vref, err := e.ip.Call(ref, "value", nil)
	if derr := e.ip.DecRef(ref); derr != nil && err == nil {
		err = derr
	}
	if err != nil {
		return nil, err
	}
	name, err := e.ip.Str(vref)
	if derr := e.ip.DecRef(vref); derr != nil && err == nil {
		err = derr
	}
	if err != nil {
		return nil, err
	}
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, nil
	}
	if match, ok := vocab.Match(name); ok {
		return &schema.Code{Vocab: vocab, Name: match}, nil
	}
	if vocab.Open {
		return nil, nil
	}
	return nil, fmt.Errorf("no value %q in %s", name, vocab.Name)
}

// wrapInterface wraps ref as the declared interface, first specializing
// through the reported foreign type when the catalog knows subtypes of
// it.
func (e *Environment) wrapInterface(ref cpy.Ref, iface *schema.Interface) (any, error) {
	target := iface
	if e.reg.HasKnownSubtypes(iface) {
		t, err := e.ResolveSubtype(ref, iface)
		if err != nil {
			_ = e.ip.DecRef(ref)
			return nil, err
		}
		target = t
	}
	return e.wrap(ref, target), nil
}

// ResolveSubtype finds the most specific catalog interface for the
// foreign object's reported type. When the type itself is outside the
// catalog its base classes are walked upward, and base is the fallback
// when nothing assignable turns up.
func (e *Environment) ResolveSubtype(obj cpy.Ref, base *schema.Interface) (*schema.Interface, error) {
	tref, err := e.builtin("type", obj)
	if err != nil {
		return nil, err
	}
	defer func() { _ = e.ip.DecRef(tref) }()

	t, err := e.typeInterface(tref)
	if err != nil {
		return nil, err
	}
	if t != nil && t.AssignableTo(base) {
		return t, nil
	}
	visited := make(map[cpy.Ref]bool)
	t, err = e.specialize(base, tref, visited)
	if err != nil {
		return nil, err
	}
	if t == nil {
		return base, nil
	}
	return t, nil
}

// typeInterface maps a foreign type object onto the catalog, or nil when
// the type lives outside the catalog's module namespace.
func (e *Environment) typeInterface(tref cpy.Ref) (*schema.Interface, error) {
	module, err := e.attrString(tref, "__module__")
	if err != nil {
		return nil, err
	}
	name, err := e.attrString(tref, "__name__")
	if err != nil {
		return nil, err
	}
	return e.reg.TypeForForeign(module, name), nil
}

func (e *Environment) attrString(obj cpy.Ref, name string) (string, error) {
	ref, err := e.ip.Call(obj, name, nil)
	if err != nil {
		return "", err
	}
	s, err := e.ip.Str(ref)
	if derr := e.ip.DecRef(ref); derr != nil && err == nil {
		err = derr
	}
	return s, err
}

// specialize scans the base classes of a foreign type for one assignable
// to base, recursing through classes the catalog does not know. A known
// class that is not assignable ends its branch. Type objects already
// visited are skipped, so class diamonds terminate.
func (e *Environment) specialize(base *schema.Interface, tref cpy.Ref, visited map[cpy.Ref]bool) (*schema.Interface, error) {
	if visited[tref] {
		return nil, nil
	}
	visited[tref] = true

	bases, err := e.ip.Call(tref, "__bases__", nil)
	if err != nil {
		return nil, err
	}
	defer func() { _ = e.ip.DecRef(bases) }()

	nref, err := e.ip.Call(bases, "__len__", []any{})
	if err != nil {
		return nil, err
	}
	count, err := e.ip.Long(nref)
	if derr := e.ip.DecRef(nref); derr != nil && err == nil {
		err = derr
	}
	if err != nil {
		return nil, err
	}

	for i := int64(0); i < count; i++ {
		parent, err := e.ip.Call(bases, "__getitem__", []any{i})
		if err != nil {
			return nil, err
		}
		t, err := e.typeInterface(parent)
		if err != nil {
			_ = e.ip.DecRef(parent)
			return nil, err
		}
		switch {
		case t == nil:
			found, err := e.specialize(base, parent, visited)
			if derr := e.ip.DecRef(parent); derr != nil && err == nil {
				err = derr
			}
			if err != nil {
				return nil, err
			}
			if found != nil {
				return found, nil
			}
		case t.AssignableTo(base):
			_ = e.ip.DecRef(parent)
			return t, nil
		default:
			_ = e.ip.DecRef(parent)
		}
	}
	return nil, nil
}
