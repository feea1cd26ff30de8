// Package pagetree reads and rebuilds the page tree of a raw document.
package pagetree

import (
	"github.com/wudi/pdfpress/ir/raw"
	"github.com/wudi/pdfpress/pdferr"
)

// InheritableKeys lists the page attributes a page may take from an ancestor.
var InheritableKeys = []string{"Resources", "MediaBox", "CropBox", "Rotate"}

// ResolveInherited returns a copy of the value of key for the page at ref,
// looking first at the page and then along its Parent chain. It reports false
// when the chain ends, reaches a missing or non-dictionary object, or loops.
func ResolveInherited(store *raw.Store, ref raw.ObjectRef, key string) (raw.Object, bool) {
	seen := make(map[raw.ObjectRef]bool)
	for !seen[ref] {
		seen[ref] = true
		obj, ok := store.Get(ref)
		if !ok {
			return nil, false
		}
		dict, ok := obj.(*raw.DictObj)
		if !ok {
			return nil, false
		}
		if v, ok := dict.Lookup(key); ok {
			return raw.Clone(v), true
		}
		parent, ok := dict.Get("Parent").(raw.RefObj)
		if !ok {
			return nil, false
		}
		ref = parent.R
	}
	return nil, false
}

// MaterializeInherited copies every inheritable attribute the page at ref
// lacks from its ancestors onto the page itself. It returns the keys set.
func MaterializeInherited(store *raw.Store, ref raw.ObjectRef) []string {
	obj, _ := store.Get(ref)
	page, ok := obj.(*raw.DictObj)
	if !ok {
		return nil
	}
	var set []string
	for _, key := range InheritableKeys {
		if page.Has(key) {
			continue
		}
		if v, ok := ResolveInherited(store, ref, key); ok {
			page.Set(key, v)
			set = append(set, key)
		}
	}
	return set
}

// Build adds one flat Pages node whose Kids are pages, in order, and returns
// its id. The pages' Parent entries are left for the caller.
func Build(store *raw.Store, pages []raw.ObjectRef) raw.ObjectRef {
	kids := make([]raw.Object, len(pages))
	for i, p := range pages {
		kids[i] = raw.RefObj{R: p}
	}
	node := raw.Dict()
	node.Set("Type", raw.Name("Pages"))
	node.Set("Kids", &raw.ArrayObj{Items: kids})
	node.Set("Count", raw.Int(int64(len(pages))))
	return store.Add(node)
}

// FindPages returns the page leaves of doc in document order. Nodes reached a
// second time are ignored, so cyclic Kids terminate.
func FindPages(doc *raw.Document) ([]raw.ObjectRef, error) {
	cat, catRef, ok := doc.Catalog()
	if !ok {
		return nil, pdferr.ObjectNotFound(catRef)
	}
	root, ok := cat.Get("Pages").(raw.RefObj)
	if !ok {
		return nil, pdferr.ObjectNotFound(catRef)
	}

	var pages []raw.ObjectRef
	seen := make(map[raw.ObjectRef]bool)
	stack := []raw.ObjectRef{root.R}
	for len(stack) > 0 {
		ref := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if seen[ref] {
			continue
		}
		seen[ref] = true

		obj, ok := doc.Store.Get(ref)
		if !ok {
			return nil, pdferr.ObjectNotFound(ref)
		}
		node, ok := obj.(*raw.DictObj)
		if !ok {
			return nil, pdferr.ObjectNotFound(ref)
		}
		kids, hasKids := doc.Resolve(node.Get("Kids")).(*raw.ArrayObj)
		if node.IsType("Page") || (!hasKids && !node.IsType("Pages")) {
			pages = append(pages, ref)
			continue
		}
		if !hasKids {
			continue
		}
		for i := len(kids.Items) - 1; i >= 0; i-- {
			kid, ok := kids.Items[i].(raw.RefObj)
			if !ok {
				continue
			}
			stack = append(stack, kid.R)
		}
	}
	return pages, nil
}

// PagesByType returns every dictionary with /Type /Page in ascending id order.
func PagesByType(store *raw.Store) []raw.ObjectRef {
	var pages []raw.ObjectRef
	for _, ref := range store.Refs() {
		obj, _ := store.Get(ref)
		if d, ok := obj.(*raw.DictObj); ok && d.IsType("Page") {
			pages = append(pages, ref)
		}
	}
	return pages
}
