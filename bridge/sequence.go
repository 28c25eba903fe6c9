package bridge

import (
	"errors"
	"fmt"

	"github.com/metagis/pybridge/cpy"
	"github.com/metagis/pybridge/schema"
)

// Sequence adapts a foreign iterable to indexed and iterator access. The
// foreign length is consulted on demand and elements are fetched lazily.
// A nil underlying handle models an absent collection, which behaves as
// empty everywhere.
type Sequence struct {
	env  *Environment
	h    *Handle
	elem *schema.Result

	// getter is the cached iterator serving Get, next the index it will
	// yield. Monotonically increasing indexes reuse it; going backward
	// restarts a fresh one.
	getter *Iterator
	next   int
}

// newSequence adopts a new reference to a foreign iterable. A None
// reference is released on the spot and becomes the empty sequence.
func (e *Environment) newSequence(ref cpy.Ref, elem *schema.Result) (*Sequence, error) {
	none, err := e.ip.None(ref)
	if err != nil {
		_ = e.ip.DecRef(ref)
		return nil, err
	}
	if none {
		if err := e.ip.DecRef(ref); err != nil {
			return nil, err
		}
		return &Sequence{env: e, elem: elem}, nil
	}
	h := newHandle(e.ip, ref)
	h.AutoRelease()
	return &Sequence{env: e, h: h, elem: elem}, nil
}

// Len reports the foreign length at the time of the call. Absent
// collections have length zero.
func (s *Sequence) Len() (int, error) {
	if s.h == nil {
		return 0, nil
	}
	ref, err := s.env.builtin("len", s.h.addr)
	if err != nil {
		return 0, err
	}
	n, err := s.env.ip.Long(ref)
	if derr := s.env.ip.DecRef(ref); derr != nil && err == nil {
		err = derr
	}
	if err != nil {
		return 0, err
	}
	return int(n), nil
}

// Get returns the element at index. Elements are reached by walking an
// iterator forward, so increasing indexes are cheap and going backward
// pays for a fresh iterator.
func (s *Sequence) Get(index int) (any, error) {
	if index < 0 {
		return nil, fmt.Errorf("index %d out of range", index)
	}
	if s.getter == nil || index < s.next {
		s.getter = s.Iterate()
		s.next = 0
	}
	var value any
	for s.next <= index {
		if !s.getter.Next() {
			err := s.getter.Err()
			s.getter = nil
			if err != nil {
				return nil, err
			}
			return nil, fmt.Errorf("index %d out of range", index)
		}
		value = s.getter.Value()
		s.next++
	}
	return value, nil
}

// Iterate starts a forward iteration over the sequence.
func (s *Sequence) Iterate() *Iterator {
	if s.h == nil {
		return &Iterator{done: true}
	}
	ref, err := s.env.builtin("iter", s.h.addr)
	if err != nil {
		return &Iterator{err: err, done: true}
	}
	h := newHandle(s.env.ip, ref)
	h.AutoRelease()
	return &Iterator{seq: s, h: h}
}

// Iterator walks a Sequence forward. Next reports whether an element was
// fetched, Value returns it, and Err reports the failure that ended the
// walk, if any.
type Iterator struct {
	seq  *Sequence
	h    *Handle
	val  any
	err  error
	done bool
}

// Next fetches the following element and converts it to the declared
// element type. The interpreter's end-of-iteration signal ends the walk
// without error.
func (it *Iterator) Next() bool {
	if it.done {
		return false
	}
	ref, err := it.seq.env.builtin("next", it.h.addr)
	if err != nil {
		var rerr *cpy.RuntimeError
		if errors.As(err, &rerr) && rerr.Type == "StopIteration" {
			it.done = true
			return false
		}
		it.err = err
		it.done = true
		return false
	}
	value, err := it.seq.env.convertElement(ref, it.seq.elem)
	if err != nil {
		it.err = err
		it.done = true
		return false
	}
	it.val = value
	return true
}

// Value returns the element fetched by the last successful Next.
func (it *Iterator) Value() any { return it.val }

// Err returns the failure that ended the iteration, if any.
func (it *Iterator) Err() error { return it.err }

// Cursor walks a Sequence in both directions. Fetched elements are kept,
// so stepping backward and re-walking forward reuse them without going
// back to the interpreter.
type Cursor struct {
	it    *Iterator
	elems []any
	pos   int
	val   any
}

// Bidirectional starts a cursor over the sequence, sized by its length
// at the time of the call.
func (s *Sequence) Bidirectional() (*Cursor, error) {
	n, err := s.Len()
	if err != nil {
		return nil, err
	}
	return &Cursor{it: s.Iterate(), elems: make([]any, 0, n)}, nil
}

// Next yields the following element, from the kept ones when it was
// already fetched.
func (c *Cursor) Next() bool {
	if c.pos < len(c.elems) {
		c.val = c.elems[c.pos]
		c.pos++
		return true
	}
	if !c.it.Next() {
		return false
	}
	c.val = c.it.Value()
	c.elems = append(c.elems, c.val)
	c.pos++
	return true
}

// Prev steps back to the element the last Next yielded from this
// position. At the start it reports false, like Next at the end.
func (c *Cursor) Prev() bool {
	if c.pos == 0 {
		return false
	}
	c.pos--
	c.val = c.elems[c.pos]
	return true
}

// Value returns the element yielded by the last Next or Prev.
func (c *Cursor) Value() any { return c.val }

// Err returns the failure that ended the iteration, if any.
func (c *Cursor) Err() error { return c.it.Err() }
