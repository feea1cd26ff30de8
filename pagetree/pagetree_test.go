package pagetree

import (
	"errors"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/wudi/pdfpress/ir/raw"
	"github.com/wudi/pdfpress/pdferr"
)

func ref(n int) raw.ObjectRef { return raw.ObjectRef{Num: n} }

func dict(kv ...any) *raw.DictObj {
	d := raw.Dict()
	for i := 0; i+1 < len(kv); i += 2 {
		d.Set(kv[i].(string), kv[i+1].(raw.Object))
	}
	return d
}

func mediaBox(w, h int64) *raw.ArrayObj {
	return raw.NewArray(raw.Int(0), raw.Int(0), raw.Int(w), raw.Int(h))
}

// nestedDoc builds Catalog(1) -> Pages(2) -> [Page(3), Pages(4) -> [Page(5), Page(6)]].
// Pages(2) supplies MediaBox and Resources; Pages(4) overrides Rotate.
func nestedDoc() *raw.Document {
	doc := raw.NewDocument("1.4")
	s := doc.Store
	s.Put(ref(1), dict("Type", raw.Name("Catalog"), "Pages", raw.Ref(2, 0)))
	s.Put(ref(2), dict(
		"Type", raw.Name("Pages"),
		"Kids", raw.NewArray(raw.Ref(3, 0), raw.Ref(4, 0)),
		"Count", raw.Int(3),
		"MediaBox", mediaBox(612, 792),
		"Resources", dict("Font", dict("F1", raw.Ref(9, 0))),
	))
	s.Put(ref(3), dict("Type", raw.Name("Page"), "Parent", raw.Ref(2, 0), "MediaBox", mediaBox(100, 100)))
	s.Put(ref(4), dict(
		"Type", raw.Name("Pages"),
		"Parent", raw.Ref(2, 0),
		"Kids", raw.NewArray(raw.Ref(5, 0), raw.Ref(6, 0)),
		"Count", raw.Int(2),
		"Rotate", raw.Int(90),
	))
	s.Put(ref(5), dict("Type", raw.Name("Page"), "Parent", raw.Ref(4, 0)))
	s.Put(ref(6), dict("Type", raw.Name("Page"), "Parent", raw.Ref(4, 0), "Rotate", raw.Int(180)))
	doc.Trailer.Set("Root", raw.Ref(1, 0))
	return doc
}

func TestResolveInherited(t *testing.T) {
	doc := nestedDoc()
	tests := []struct {
		page  int
		key   string
		want  raw.Object
		found bool
	}{
		{3, "MediaBox", mediaBox(100, 100), true},
		{5, "MediaBox", mediaBox(612, 792), true},
		{5, "Rotate", raw.Int(90), true},
		{6, "Rotate", raw.Int(180), true},
		{3, "Rotate", nil, false},
		{5, "CropBox", nil, false},
		{42, "MediaBox", nil, false},
	}
	for _, tt := range tests {
		got, ok := ResolveInherited(doc.Store, ref(tt.page), tt.key)
		if ok != tt.found {
			t.Fatalf("page %d %s: found=%v, want %v", tt.page, tt.key, ok, tt.found)
		}
		if diff := cmp.Diff(tt.want, got); diff != "" {
			t.Fatalf("page %d %s (-want +got):\n%s", tt.page, tt.key, diff)
		}
	}
}

func TestResolveInheritedReturnsCopy(t *testing.T) {
	doc := nestedDoc()
	got, ok := ResolveInherited(doc.Store, ref(5), "MediaBox")
	if !ok {
		t.Fatalf("MediaBox not found")
	}
	got.(*raw.ArrayObj).Items[2] = raw.Int(1)
	parent, _ := doc.Store.Get(ref(2))
	if mb := parent.(*raw.DictObj).Get("MediaBox").(*raw.ArrayObj); mb.Items[2] != raw.Int(612) {
		t.Fatalf("ancestor value was aliased")
	}
}

func TestResolveInheritedCycle(t *testing.T) {
	s := raw.NewStore()
	s.Put(ref(1), dict("Type", raw.Name("Page"), "Parent", raw.Ref(2, 0)))
	s.Put(ref(2), dict("Type", raw.Name("Pages"), "Parent", raw.Ref(3, 0)))
	s.Put(ref(3), dict("Type", raw.Name("Pages"), "Parent", raw.Ref(2, 0)))
	if _, ok := ResolveInherited(s, ref(1), "MediaBox"); ok {
		t.Fatalf("expected not found on a cyclic chain")
	}
	s.Put(ref(4), dict("Type", raw.Name("Page"), "Parent", raw.Ref(4, 0)))
	if _, ok := ResolveInherited(s, ref(4), "Rotate"); ok {
		t.Fatalf("expected not found on a self-parented page")
	}
}

func TestResolveInheritedNonDictionary(t *testing.T) {
	s := raw.NewStore()
	s.Put(ref(1), dict("Type", raw.Name("Page"), "Parent", raw.Ref(2, 0)))
	s.Put(ref(2), raw.Int(7))
	if _, ok := ResolveInherited(s, ref(1), "Resources"); ok {
		t.Fatalf("expected not found through a non-dictionary parent")
	}
}

func TestMaterializeInherited(t *testing.T) {
	doc := nestedDoc()
	set := MaterializeInherited(doc.Store, ref(5))
	if diff := cmp.Diff([]string{"Resources", "MediaBox", "Rotate"}, set); diff != "" {
		t.Fatalf("keys set (-want +got):\n%s", diff)
	}
	obj, _ := doc.Store.Get(ref(5))
	page := obj.(*raw.DictObj)
	if diff := cmp.Diff(raw.Object(mediaBox(612, 792)), page.Get("MediaBox")); diff != "" {
		t.Fatalf("MediaBox (-want +got):\n%s", diff)
	}

	// Explicit values are never replaced.
	if diff := cmp.Diff([]string{"Resources", "MediaBox"}, MaterializeInherited(doc.Store, ref(6))); diff != "" {
		t.Fatalf("keys set on page 6 (-want +got):\n%s", diff)
	}
	obj, _ = doc.Store.Get(ref(6))
	if got := obj.(*raw.DictObj).Get("Rotate"); got != raw.Int(180) {
		t.Fatalf("Rotate = %v, want 180", got)
	}
	if set := MaterializeInherited(doc.Store, ref(99)); set != nil {
		t.Fatalf("missing page should set nothing, got %v", set)
	}
}

func TestBuild(t *testing.T) {
	doc := nestedDoc()
	before := doc.Store.MaxNum()
	root := Build(doc.Store, []raw.ObjectRef{ref(6), ref(3), ref(5)})
	if root.Num != before+1 {
		t.Fatalf("root = %v, want number %d", root, before+1)
	}
	obj, _ := doc.Store.Get(root)
	node := obj.(*raw.DictObj)
	want := dict(
		"Type", raw.Name("Pages"),
		"Kids", raw.NewArray(raw.Ref(6, 0), raw.Ref(3, 0), raw.Ref(5, 0)),
		"Count", raw.Int(3),
	)
	if diff := cmp.Diff(want, node); diff != "" {
		t.Fatalf("pages node (-want +got):\n%s", diff)
	}
	page, _ := doc.Store.Get(ref(3))
	if p := page.(*raw.DictObj).Get("Parent"); p != raw.Ref(2, 0) {
		t.Fatalf("Build must not touch Parent, got %v", p)
	}
}

func TestBuildEmpty(t *testing.T) {
	s := raw.NewStore()
	root := Build(s, nil)
	obj, _ := s.Get(root)
	if n := obj.(*raw.DictObj).Get("Count"); n != raw.Int(0) {
		t.Fatalf("Count = %v", n)
	}
}

func TestFindPages(t *testing.T) {
	pages, err := FindPages(nestedDoc())
	if err != nil {
		t.Fatalf("FindPages: %v", err)
	}
	if diff := cmp.Diff([]raw.ObjectRef{ref(3), ref(5), ref(6)}, pages); diff != "" {
		t.Fatalf("pages (-want +got):\n%s", diff)
	}
}

func TestFindPagesCycle(t *testing.T) {
	doc := nestedDoc()
	obj, _ := doc.Store.Get(ref(4))
	obj.(*raw.DictObj).Set("Kids", raw.NewArray(raw.Ref(5, 0), raw.Ref(2, 0), raw.Ref(6, 0)))
	pages, err := FindPages(doc)
	if err != nil {
		t.Fatalf("FindPages: %v", err)
	}
	if diff := cmp.Diff([]raw.ObjectRef{ref(3), ref(5), ref(6)}, pages); diff != "" {
		t.Fatalf("pages (-want +got):\n%s", diff)
	}
}

func TestFindPagesMissingKid(t *testing.T) {
	doc := nestedDoc()
	doc.Store.Delete(ref(5))
	_, err := FindPages(doc)
	if !errors.Is(err, pdferr.ErrObjectNotFound) {
		t.Fatalf("err = %v, want ObjectNotFound", err)
	}
}

func TestFindPagesMissingRoot(t *testing.T) {
	doc := nestedDoc()
	doc.Store.Delete(ref(1))
	if _, err := FindPages(doc); !errors.Is(err, pdferr.ErrObjectNotFound) {
		t.Fatalf("err = %v, want ObjectNotFound", err)
	}
}

func TestPagesByType(t *testing.T) {
	doc := nestedDoc()
	if diff := cmp.Diff([]raw.ObjectRef{ref(3), ref(5), ref(6)}, PagesByType(doc.Store)); diff != "" {
		t.Fatalf("pages (-want +got):\n%s", diff)
	}
}
