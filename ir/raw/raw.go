package raw

import (
	"fmt"
	"sort"
)

// ObjectRef uniquely identifies an indirect PDF object within one Store.
type ObjectRef struct {
	Num int
	Gen int
}

func (r ObjectRef) String() string { return fmt.Sprintf("%d %d R", r.Num, r.Gen) }

// Object is a PDF value. The set of implementations is closed: only the
// types in this package satisfy it, so a type switch over the variants
// listed in objects.go is exhaustive.
type Object interface {
	Type() string
	isObject()
}

// Store is the object graph of one document.
type Store struct {
	objects  map[ObjectRef]Object
	consumed bool
}

// NewStore returns an empty store.
func NewStore() *Store {
	return &Store{objects: make(map[ObjectRef]Object)}
}

func (s *Store) Get(ref ObjectRef) (Object, bool) {
	o, ok := s.objects[ref]
	return o, ok
}

// Put stores obj under ref, replacing any previous value.
func (s *Store) Put(ref ObjectRef, obj Object) {
	s.mustBeLive()
	s.objects[ref] = obj
}

func (s *Store) Delete(ref ObjectRef) { delete(s.objects, ref) }

func (s *Store) Len() int { return len(s.objects) }

// Refs returns every id in the store ordered by object number, then generation.
func (s *Store) Refs() []ObjectRef {
	refs := make([]ObjectRef, 0, len(s.objects))
	for r := range s.objects {
		refs = append(refs, r)
	}
	sort.Slice(refs, func(i, j int) bool {
		if refs[i].Num != refs[j].Num {
			return refs[i].Num < refs[j].Num
		}
		return refs[i].Gen < refs[j].Gen
	})
	return refs
}

// MaxNum returns the highest object number in use, or 0 for an empty store.
func (s *Store) MaxNum() int {
	hi := 0
	for r := range s.objects {
		if r.Num > hi {
			hi = r.Num
		}
	}
	return hi
}

// Add stores obj under a freshly allocated id and returns it.
func (s *Store) Add(obj Object) ObjectRef {
	s.mustBeLive()
	ref := ObjectRef{Num: s.MaxNum() + 1}
	s.objects[ref] = obj
	return ref
}

// Entry is one id/value pair handed out by Drain.
type Entry struct {
	Ref    ObjectRef
	Object Object
}

// Drain transfers ownership of every object to the caller, in Refs order.
// The store is consumed afterwards and must not be written to again.
func (s *Store) Drain() []Entry {
	s.mustBeLive()
	refs := s.Refs()
	out := make([]Entry, 0, len(refs))
	for _, r := range refs {
		out = append(out, Entry{Ref: r, Object: s.objects[r]})
	}
	s.objects = map[ObjectRef]Object{}
	s.consumed = true
	return out
}

// Consumed reports whether Drain has been called.
func (s *Store) Consumed() bool { return s.consumed }

func (s *Store) mustBeLive() {
	if s.consumed {
		panic("raw: write to a drained store")
	}
}

// Document is a version tag, an object store and a trailer.
type Document struct {
	Version string // e.g., "1.7"
	Store   *Store
	Trailer *DictObj
}

// NewDocument returns an empty document with the given header version.
func NewDocument(version string) *Document {
	return &Document{Version: version, Store: NewStore(), Trailer: Dict()}
}

// Resolve follows obj if it is a reference. Missing targets resolve to nil.
func (d *Document) Resolve(obj Object) Object {
	if r, ok := obj.(RefObj); ok {
		o, ok := d.Store.Get(r.R)
		if !ok {
			return nil
		}
		return o
	}
	return obj
}

// Catalog returns the dictionary referenced by the trailer's Root entry.
func (d *Document) Catalog() (*DictObj, ObjectRef, bool) {
	if d.Trailer == nil {
		return nil, ObjectRef{}, false
	}
	r, ok := d.Trailer.Get("Root").(RefObj)
	if !ok {
		return nil, ObjectRef{}, false
	}
	obj, ok := d.Store.Get(r.R)
	if !ok {
		return nil, r.R, false
	}
	dict, ok := obj.(*DictObj)
	return dict, r.R, ok
}

// VersionLess reports whether header version a ("major.minor") is older than b.
func VersionLess(a, b string) bool {
	var amaj, amin, bmaj, bmin int
	fmt.Sscanf(a, "%d.%d", &amaj, &amin)
	fmt.Sscanf(b, "%d.%d", &bmaj, &bmin)
	if amaj != bmaj {
		return amaj < bmaj
	}
	return amin < bmin
}
