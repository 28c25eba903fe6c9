// Package schema models the interface catalog consumed by the bridge: the
// declared interfaces with their operations and parent types, the enumerated
// vocabularies, and the lookup tables used to map foreign type names back to
// catalog types. The catalog itself ships as an embedded resource; schema
// loads it once and freezes it.
package schema

import "strings"

// Kind classifies the declared result of an operation.
type Kind int

const (
	KindInvalid Kind = iota
	KindInt
	KindFloat
	KindBool
	KindString
	KindVocabulary
	KindInterface
	KindSequence
)

// String returns the result syntax used in the catalog for this kind.
func (k Kind) String() string {
	switch k {
	case KindInt:
		return "int"
	case KindFloat:
		return "float"
	case KindBool:
		return "bool"
	case KindString:
		return "str"
	case KindVocabulary:
		return "vocabulary"
	case KindInterface:
		return "interface"
	case KindSequence:
		return "sequence"
	default:
		return "invalid"
	}
}

// Result describes the declared result of an operation.
type Result struct {
	Kind Kind
	// Iface is set for KindInterface results.
	Iface *Interface
	// Vocab is set for KindVocabulary results.
	Vocab *Vocabulary
	// Elem describes the elements of a KindSequence result.
	Elem *Result
}

// Operation is a single property or method declared by an interface.
type Operation struct {
	// Name is the host-facing operation name, medial-capitalized.
	Name string
	// Identifier is the stable catalog identifier, or empty if the
	// operation declares none and its name is used as fallback.
	Identifier string
	Result     *Result
}

// ForeignName returns the attribute or method name used on the foreign side:
// the declared identifier when present, the operation name otherwise, either
// way transliterated to underscore-separated lowercase.
func (op *Operation) ForeignName() string {
	if op.Identifier != "" {
		return SnakeCase(op.Identifier)
	}
	return SnakeCase(op.Name)
}

// Interface is one catalog interface.
type Interface struct {
	// UML is the qualified catalog identifier, e.g. "CI_Citation".
	UML string
	// Name is the short name with the namespace prefix stripped, e.g.
	// "Citation". Foreign classes use the short name.
	Name string
	// Module is the foreign module path under the catalog prefix.
	Module     string
	Deprecated bool
	Extends    []*Interface
	Operations []*Operation

	byName map[string]*Operation
}

// Operation returns the operation with the given host-facing name, declared
// by the interface itself or inherited from a parent, or nil if there is no
// such operation.
func (it *Interface) Operation(name string) *Operation {
	if op := it.byName[name]; op != nil {
		return op
	}
	for _, p := range it.Extends {
		if op := p.Operation(name); op != nil {
			return op
		}
	}
	return nil
}

// AssignableTo reports whether a value of this interface can stand in for
// the given base type, walking the declared parents.
func (it *Interface) AssignableTo(base *Interface) bool {
	if it == base {
		return true
	}
	for _, p := range it.Extends {
		if p.AssignableTo(base) {
			return true
		}
	}
	return false
}

// Vocabulary is an enumerated catalog type. Closed vocabularies behave like
// enumerations; open ones are code lists that admit unlisted values.
type Vocabulary struct {
	UML  string
	Name string
	// Open marks a code list: a name with no declared match converts to
	// absence instead of failing.
	Open   bool
	Values []string
}

// Match resolves a foreign value name against the declared values: an exact
// match is tried first, then a case-insensitive scan over all values. The
// returned name is the declared spelling.
func (v *Vocabulary) Match(name string) (string, bool) {
	for _, c := range v.Values {
		if c == name {
			return c, true
		}
	}
	for _, c := range v.Values {
		if strings.EqualFold(c, name) {
			return c, true
		}
	}
	return "", false
}

// Code is one value of a vocabulary, as produced by result conversion.
type Code struct {
	Vocab *Vocabulary
	Name  string
}

func (c Code) String() string { return c.Name }
