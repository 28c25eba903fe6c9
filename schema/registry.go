package schema

import (
	"fmt"
	"sort"
	"strings"
	"sync"

	"gopkg.in/yaml.v3"
)

// Registry is the process-wide catalog lookup: short foreign type name to
// interface, vocabulary tables, the set of interfaces with known subtypes,
// and the deprecated names dropped by collision resolution. A registry is
// immutable once built and safe for concurrent readers.
type Registry struct {
	prefix     string
	interfaces []*Interface
	vocabs     []*Vocabulary
	byName     map[string]*Interface
	byUML      map[string]*Interface
	vocabByUML map[string]*Vocabulary
	excluded   map[string]bool
	subclassed map[string]bool
}

var (
	loadOnce sync.Once
	shared   *Registry
	loadErr  error
)

// Load builds the registry from the embedded catalog on first use and
// returns the shared instance on every subsequent call.
func Load() (*Registry, error) {
	loadOnce.Do(func() {
		shared, loadErr = LoadFrom(catalogYAML, subclassedList)
	})
	return shared, loadErr
}

// Catalog document shapes. The returns syntax is a scalar kind ("int",
// "float", "bool", "str"), a catalog type identifier, or "[T]" for an
// ordered multi-valued property of element type T.
type catalogDoc struct {
	Prefix       string     `yaml:"prefix"`
	Excludes     []string   `yaml:"excludes"`
	Interfaces   []ifaceDoc `yaml:"interfaces"`
	Vocabularies []vocabDoc `yaml:"vocabularies"`
}

type ifaceDoc struct {
	UML        string   `yaml:"uml"`
	Module     string   `yaml:"module"`
	Deprecated bool     `yaml:"deprecated"`
	Extends    []string `yaml:"extends"`
	Operations []opDoc  `yaml:"operations"`
}

type opDoc struct {
	Name    string `yaml:"name"`
	UML     string `yaml:"uml"`
	Returns string `yaml:"returns"`
}

type vocabDoc struct {
	UML    string   `yaml:"uml"`
	Open   bool     `yaml:"open"`
	Values []string `yaml:"values"`
}

// LoadFrom builds a registry from raw catalog metadata. The catalog is the
// YAML interface table; subclassed lists, one per line, the short names of
// interfaces having known subtypes.
func LoadFrom(catalog, subclassed []byte) (*Registry, error) {
	var doc catalogDoc
	if err := yaml.Unmarshal(catalog, &doc); err != nil {
		return nil, fmt.Errorf("decoding catalog: %w", err)
	}
	r := &Registry{
		prefix:     doc.Prefix,
		byName:     make(map[string]*Interface, len(doc.Interfaces)),
		byUML:      make(map[string]*Interface, len(doc.Interfaces)),
		vocabByUML: make(map[string]*Vocabulary, len(doc.Vocabularies)),
		excluded:   make(map[string]bool),
		subclassed: make(map[string]bool),
	}
	if err := r.collectInterfaces(doc.Interfaces); err != nil {
		return nil, err
	}
	if err := r.collectVocabularies(doc.Vocabularies); err != nil {
		return nil, err
	}
	if err := r.linkInterfaces(doc.Interfaces); err != nil {
		return nil, err
	}
	if err := r.verifyExcludes(doc.Excludes); err != nil {
		return nil, err
	}
	if err := r.loadSubclassed(subclassed); err != nil {
		return nil, err
	}
	sort.Slice(r.interfaces, func(i, j int) bool { return r.interfaces[i].Name < r.interfaces[j].Name })
	sort.Slice(r.vocabs, func(i, j int) bool { return r.vocabs[i].Name < r.vocabs[j].Name })
	return r, nil
}

// collectInterfaces creates the interface shells and resolves short-name
// collisions: the non-deprecated entry wins and the deprecated one is
// recorded in the exclusion set. Two live entries with the same short name
// are a catalog error.
func (r *Registry) collectInterfaces(docs []ifaceDoc) error {
	for _, d := range docs {
		if d.UML == "" {
			return fmt.Errorf("catalog interface without uml identifier")
		}
		if _, dup := r.byUML[d.UML]; dup || r.excluded[d.UML] {
			return fmt.Errorf("duplicate catalog identifier %q", d.UML)
		}
		it := &Interface{
			UML:        d.UML,
			Name:       ShortName(d.UML),
			Module:     d.Module,
			Deprecated: d.Deprecated,
		}
		prev, ok := r.byName[it.Name]
		if !ok {
			r.byName[it.Name] = it
			r.byUML[it.UML] = it
			r.interfaces = append(r.interfaces, it)
			continue
		}
		switch {
		case prev.Deprecated && !it.Deprecated:
			// The newcomer supersedes the deprecated entry.
			r.excluded[prev.UML] = true
			delete(r.byUML, prev.UML)
			for i, e := range r.interfaces {
				if e == prev {
					r.interfaces[i] = it
					break
				}
			}
			r.byName[it.Name] = it
			r.byUML[it.UML] = it
		case it.Deprecated && !prev.Deprecated:
			r.excluded[it.UML] = true
		default:
			return fmt.Errorf("catalog identifiers %q and %q collapse to the same name %q", prev.UML, it.UML, it.Name)
		}
	}
	return nil
}

func (r *Registry) collectVocabularies(docs []vocabDoc) error {
	for _, d := range docs {
		if d.UML == "" {
			return fmt.Errorf("catalog vocabulary without uml identifier")
		}
		if _, dup := r.vocabByUML[d.UML]; dup {
			return fmt.Errorf("duplicate vocabulary identifier %q", d.UML)
		}
		if _, clash := r.byUML[d.UML]; clash {
			return fmt.Errorf("identifier %q declared both as interface and vocabulary", d.UML)
		}
		v := &Vocabulary{UML: d.UML, Name: ShortName(d.UML), Open: d.Open, Values: d.Values}
		r.vocabByUML[d.UML] = v
		r.vocabs = append(r.vocabs, v)
	}
	return nil
}

// linkInterfaces resolves parent references and operation result types for
// every surviving interface. Excluded collision losers are not linked.
func (r *Registry) linkInterfaces(docs []ifaceDoc) error {
	for _, d := range docs {
		it := r.byUML[d.UML]
		if it == nil {
			continue
		}
		for _, parent := range d.Extends {
			p := r.byUML[parent]
			if p == nil {
				return fmt.Errorf("%s extends unknown interface %q", d.UML, parent)
			}
			it.Extends = append(it.Extends, p)
		}
		it.byName = make(map[string]*Operation, len(d.Operations))
		for _, od := range d.Operations {
			if od.Name == "" {
				return fmt.Errorf("%s declares an operation without a name", d.UML)
			}
			if _, dup := it.byName[od.Name]; dup {
				return fmt.Errorf("%s declares operation %q twice", d.UML, od.Name)
			}
			res, err := r.parseResult(od.Returns)
			if err != nil {
				return fmt.Errorf("%s.%s: %w", d.UML, od.Name, err)
			}
			op := &Operation{Name: od.Name, Identifier: od.UML, Result: res}
			it.byName[op.Name] = op
			it.Operations = append(it.Operations, op)
		}
	}
	return r.checkExtendsCycles()
}

func (r *Registry) checkExtendsCycles() error {
	const (
		visiting = 1
		done     = 2
	)
	state := make(map[*Interface]int, len(r.interfaces))
	var walk func(it *Interface) error
	walk = func(it *Interface) error {
		switch state[it] {
		case done:
			return nil
		case visiting:
			return fmt.Errorf("cyclic extends chain through %q", it.UML)
		}
		state[it] = visiting
		for _, p := range it.Extends {
			if err := walk(p); err != nil {
				return err
			}
		}
		state[it] = done
		return nil
	}
	for _, it := range r.interfaces {
		if err := walk(it); err != nil {
			return err
		}
	}
	return nil
}

func (r *Registry) parseResult(s string) (*Result, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, fmt.Errorf("missing result type")
	}
	if strings.HasPrefix(s, "[") {
		if !strings.HasSuffix(s, "]") {
			return nil, fmt.Errorf("malformed result type %q", s)
		}
		elem, err := r.parseResult(s[1 : len(s)-1])
		if err != nil {
			return nil, err
		}
		return &Result{Kind: KindSequence, Elem: elem}, nil
	}
	switch s {
	case "int":
		return &Result{Kind: KindInt}, nil
	case "float":
		return &Result{Kind: KindFloat}, nil
	case "bool":
		return &Result{Kind: KindBool}, nil
	case "str":
		return &Result{Kind: KindString}, nil
	}
	if v := r.vocabByUML[s]; v != nil {
		return &Result{Kind: KindVocabulary, Vocab: v}, nil
	}
	if it := r.byUML[s]; it != nil {
		return &Result{Kind: KindInterface, Iface: it}, nil
	}
	return nil, fmt.Errorf("unknown result type %q", s)
}

// verifyExcludes checks that the collision losers recorded during the build
// are exactly the names the catalog declares as excluded. A mismatch means
// the catalog metadata drifted out of sync and is a load error.
func (r *Registry) verifyExcludes(declared []string) error {
	want := make(map[string]bool, len(declared))
	for _, name := range declared {
		want[name] = true
	}
	for name := range r.excluded {
		if !want[name] {
			return fmt.Errorf("excluded name %q is not in the declared exclusion list", name)
		}
	}
	for name := range want {
		if !r.excluded[name] {
			return fmt.Errorf("declared exclusion %q does not correspond to a collision", name)
		}
	}
	return nil
}

func (r *Registry) loadSubclassed(data []byte) error {
	for _, line := range strings.Split(string(data), "\n") {
		name := strings.TrimSpace(line)
		if name == "" || strings.HasPrefix(name, "#") {
			continue
		}
		if _, ok := r.byName[name]; !ok {
			return fmt.Errorf("subclassed list names unknown interface %q", name)
		}
		r.subclassed[name] = true
	}
	return nil
}

// Prefix returns the foreign module prefix owned by the catalog.
func (r *Registry) Prefix() string { return r.prefix }

// ByName returns the interface with the given short name.
func (r *Registry) ByName(name string) (*Interface, bool) {
	it, ok := r.byName[name]
	return it, ok
}

// ByUML returns the interface with the given qualified identifier.
func (r *Registry) ByUML(uml string) (*Interface, bool) {
	it, ok := r.byUML[uml]
	return it, ok
}

// Vocabulary returns the vocabulary with the given qualified identifier.
func (r *Registry) Vocabulary(uml string) (*Vocabulary, bool) {
	v, ok := r.vocabByUML[uml]
	return v, ok
}

// Interfaces returns every registered interface, sorted by short name.
func (r *Registry) Interfaces() []*Interface { return r.interfaces }

// Vocabularies returns every vocabulary, sorted by short name.
func (r *Registry) Vocabularies() []*Vocabulary { return r.vocabs }

// Excluded returns the deprecated qualified identifiers dropped by collision
// resolution, sorted.
func (r *Registry) Excluded() []string {
	names := make([]string, 0, len(r.excluded))
	for name := range r.excluded {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// HasKnownSubtypes reports whether the given interface has subtypes the
// registry can resolve. Most interfaces have none, which lets callers skip
// the costlier foreign-side type walk.
func (r *Registry) HasKnownSubtypes(it *Interface) bool {
	return it != nil && r.subclassed[it.Name]
}

// TypeForForeign returns the catalog interface for a foreign class, or nil
// if the class does not belong to the catalog's module namespace.
func (r *Registry) TypeForForeign(module, name string) *Interface {
	if r.prefix != "" && !strings.HasPrefix(module, r.prefix) {
		return nil
	}
	return r.byName[name]
}
