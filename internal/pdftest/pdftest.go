// Package pdftest builds small documents for tests.
package pdftest

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"image/color"
	"image/jpeg"
	"image/png"
	"os"
	"path/filepath"
	"testing"

	"github.com/wudi/pdfpress/ir/raw"
	"github.com/wudi/pdfpress/writer"
)

// Builder assembles a document with a Catalog (object 1) and a root Pages
// node (object 2).
type Builder struct {
	doc   *raw.Document
	root  *raw.DictObj
	nodes map[raw.ObjectRef]*raw.DictObj
}

var (
	catalogRef = raw.ObjectRef{Num: 1}
	rootRef    = raw.ObjectRef{Num: 2}
)

func New(version string) *Builder {
	doc := raw.NewDocument(version)
	root := raw.Dict()
	root.Set("Type", raw.Name("Pages"))
	root.Set("Kids", raw.NewArray())
	root.Set("Count", raw.Int(0))
	cat := raw.Dict()
	cat.Set("Type", raw.Name("Catalog"))
	cat.Set("Pages", raw.RefObj{R: rootRef})
	doc.Store.Put(catalogRef, cat)
	doc.Store.Put(rootRef, root)
	doc.Trailer.Set("Root", raw.RefObj{R: catalogRef})
	return &Builder{doc: doc, root: root, nodes: map[raw.ObjectRef]*raw.DictObj{rootRef: root}}
}

// Root returns the id of the root Pages node.
func (b *Builder) Root() raw.ObjectRef { return rootRef }

// Node returns the Pages dictionary at ref so tests can set inherited
// attributes on it.
func (b *Builder) Node(ref raw.ObjectRef) *raw.DictObj { return b.nodes[ref] }

// AddNode appends an intermediate Pages node under parent.
func (b *Builder) AddNode(parent raw.ObjectRef) raw.ObjectRef {
	node := raw.Dict()
	node.Set("Type", raw.Name("Pages"))
	node.Set("Kids", raw.NewArray())
	node.Set("Count", raw.Int(0))
	node.Set("Parent", raw.RefObj{R: parent})
	ref := b.doc.Store.Add(node)
	b.nodes[ref] = node
	b.appendKid(parent, ref)
	return ref
}

// AddPage appends a page under parent with a content stream holding
// content. attrs are set on the page dictionary as given.
func (b *Builder) AddPage(parent raw.ObjectRef, content string, attrs ...any) raw.ObjectRef {
	contents := b.doc.Store.Add(raw.NewStream(raw.Dict(), []byte(content)))
	page := raw.Dict()
	page.Set("Type", raw.Name("Page"))
	page.Set("Parent", raw.RefObj{R: parent})
	page.Set("Contents", raw.RefObj{R: contents})
	for i := 0; i+1 < len(attrs); i += 2 {
		page.Set(attrs[i].(string), attrs[i+1].(raw.Object))
	}
	ref := b.doc.Store.Add(page)
	b.appendKid(parent, ref)
	return ref
}

// AddImage adds an image XObject named name to the page's own Resources.
func (b *Builder) AddImage(page raw.ObjectRef, name string, img *raw.StreamObj) raw.ObjectRef {
	ref := b.doc.Store.Add(img)
	obj, _ := b.doc.Store.Get(page)
	pd := obj.(*raw.DictObj)
	res, ok := pd.Get("Resources").(*raw.DictObj)
	if !ok {
		res = raw.Dict()
		pd.Set("Resources", res)
	}
	xo, ok := res.Get("XObject").(*raw.DictObj)
	if !ok {
		xo = raw.Dict()
		res.Set("XObject", xo)
	}
	xo.Set(name, raw.RefObj{R: ref})
	return ref
}

// SetInfo attaches a document information dictionary.
func (b *Builder) SetInfo(entries map[string]raw.Object) raw.ObjectRef {
	d := raw.Dict()
	for k, v := range entries {
		d.Set(k, v)
	}
	ref := b.doc.Store.Add(d)
	b.doc.Trailer.Set("Info", raw.RefObj{R: ref})
	return ref
}

func (b *Builder) appendKid(parent, kid raw.ObjectRef) {
	node := b.nodes[parent]
	node.Get("Kids").(*raw.ArrayObj).Append(raw.RefObj{R: kid})
	for ref := parent; ; {
		n := b.nodes[ref]
		c := n.Get("Count").(raw.IntObj)
		if b.isPage(kid) {
			n.Set("Count", raw.Int(c.V+1))
		}
		p, ok := n.Get("Parent").(raw.RefObj)
		if !ok {
			break
		}
		ref = p.R
	}
}

func (b *Builder) isPage(ref raw.ObjectRef) bool {
	obj, _ := b.doc.Store.Get(ref)
	d, ok := obj.(*raw.DictObj)
	return ok && d.IsType("Page")
}

// Doc returns the document under construction.
func (b *Builder) Doc() *raw.Document { return b.doc }

// Simple returns a document with n pages, each with MediaBox set on the
// root Pages node and content "page <i>".
func Simple(version string, n int) *raw.Document {
	b := New(version)
	b.Node(rootRef).Set("MediaBox", MediaBox(612, 792))
	for i := 1; i <= n; i++ {
		b.AddPage(rootRef, fmt.Sprintf("BT /F1 12 Tf 72 720 Td (page %d) Tj ET", i))
	}
	return b.Doc()
}

func MediaBox(w, h int64) *raw.ArrayObj {
	return raw.NewArray(raw.Int(0), raw.Int(0), raw.Int(w), raw.Int(h))
}

// Bytes serializes doc without compression or pruning.
func Bytes(tb testing.TB, doc *raw.Document) []byte {
	tb.Helper()
	var buf bytes.Buffer
	if err := writer.Write(context.Background(), doc, &buf, writer.Config{}); err != nil {
		tb.Fatalf("serialize fixture: %v", err)
	}
	return buf.Bytes()
}

// WriteFile serializes doc to name inside dir and returns the full path.
func WriteFile(tb testing.TB, dir, name string, doc *raw.Document) string {
	tb.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, Bytes(tb, doc), 0o644); err != nil {
		tb.Fatalf("write fixture: %v", err)
	}
	return path
}

// Gradient returns a w×h RGBA test image.
func Gradient(w, h int) image.Image {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, color.RGBA{R: uint8(x * 255 / max(1, w-1)), G: uint8(y * 255 / max(1, h-1)), B: 128, A: 255})
		}
	}
	return img
}

// JPEG encodes a w×h gradient at quality 95.
func JPEG(tb testing.TB, w, h int) []byte {
	tb.Helper()
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, Gradient(w, h), &jpeg.Options{Quality: 95}); err != nil {
		tb.Fatalf("encode jpeg: %v", err)
	}
	return buf.Bytes()
}

// PNG encodes a w×h gradient.
func PNG(tb testing.TB, w, h int) []byte {
	tb.Helper()
	var buf bytes.Buffer
	if err := png.Encode(&buf, Gradient(w, h)); err != nil {
		tb.Fatalf("encode png: %v", err)
	}
	return buf.Bytes()
}

// ImageStream wraps data in an image XObject. filter may be empty.
func ImageStream(data []byte, w, h int, filter string) *raw.StreamObj {
	d := raw.Dict()
	d.Set("Type", raw.Name("XObject"))
	d.Set("Subtype", raw.Name("Image"))
	d.Set("Width", raw.Int(int64(w)))
	d.Set("Height", raw.Int(int64(h)))
	d.Set("ColorSpace", raw.Name("DeviceRGB"))
	d.Set("BitsPerComponent", raw.Int(8))
	if filter != "" {
		d.Set("Filter", raw.Name(filter))
	}
	return raw.NewStream(d, data)
}
