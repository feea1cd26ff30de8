package merge

import "github.com/wudi/pdfpress/ir/raw"

// Renumber gives every object in doc a new number above highWater, in
// ascending order of the old numbers, with generation 0. References in the
// store and the trailer are rewritten; references to objects the store does
// not hold become null. It returns the new high-water mark.
func Renumber(doc *raw.Document, highWater int) int {
	mapping := make(map[raw.ObjectRef]raw.ObjectRef, doc.Store.Len())
	next := highWater
	for _, ref := range doc.Store.Refs() {
		next++
		mapping[ref] = raw.ObjectRef{Num: next}
	}
	rewrite := func(old raw.ObjectRef) raw.Object {
		if r, ok := mapping[old]; ok {
			return raw.RefObj{R: r}
		}
		return raw.NullObj{}
	}

	renumbered := raw.NewStore()
	for _, e := range doc.Store.Drain() {
		renumbered.Put(mapping[e.Ref], raw.RewriteRefs(e.Object, rewrite))
	}
	doc.Store = renumbered
	if doc.Trailer != nil {
		raw.RewriteRefs(doc.Trailer, rewrite)
	}
	return next
}
