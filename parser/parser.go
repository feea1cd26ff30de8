package parser

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/wudi/pdfpress/ir/raw"
	"github.com/wudi/pdfpress/observability"
	"github.com/wudi/pdfpress/recovery"
	"github.com/wudi/pdfpress/security"
	"github.com/wudi/pdfpress/xref"
)

// ErrEncrypted is returned for documents with an /Encrypt dictionary.
var ErrEncrypted = errors.New("encrypted documents are not supported")

// Config controls high-level PDF parsing (xref resolution + object loading).
type Config struct {
	Recovery recovery.Strategy
	Limits   security.Limits
	Logger   observability.Logger
}

// DocumentParser builds a raw.Document using xref tables/streams and the object loader.
type DocumentParser struct {
	cfg Config
}

func NewDocumentParser(cfg Config) *DocumentParser {
	cfg.Limits = cfg.Limits.WithDefaults()
	cfg.Logger = observability.OrNop(cfg.Logger)
	return &DocumentParser{cfg: cfg}
}

// Parse loads every object in use into a fresh store. Object stream and xref
// stream containers are consumed and do not appear in the result.
func (p *DocumentParser) Parse(ctx context.Context, r io.ReaderAt) (*raw.Document, error) {
	resolver := xref.NewResolver(xref.ResolverConfig{Limits: p.cfg.Limits, Recovery: p.cfg.Recovery})
	table, err := resolver.Resolve(ctx, r)
	if err != nil {
		return nil, fmt.Errorf("resolve xref: %w", err)
	}
	if table.Repaired() {
		p.cfg.Logger.Warn("cross-reference table rebuilt by scanning", observability.Int("objects", len(table.Objects())))
	}
	trailer := table.Trailer()
	if trailer.Has("Encrypt") {
		return nil, ErrEncrypted
	}

	loader, err := (&ObjectLoaderBuilder{}).
		WithReader(r).
		WithXRef(table).
		WithLimits(p.cfg.Limits).
		WithRecovery(p.cfg.Recovery).
		Build()
	if err != nil {
		return nil, err
	}

	doc := raw.NewDocument(detectHeaderVersion(r))
	doc.Trailer = trailer
	for _, objNum := range table.Objects() {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if objNum == 0 {
			continue // free head entry
		}
		e, _ := table.Lookup(objNum)
		ref := raw.ObjectRef{Num: objNum, Gen: e.Gen}
		if e.Kind == xref.EntryCompressed {
			ref.Gen = 0
		}
		obj, err := loader.Load(ctx, ref)
		if err != nil {
			if p.skip(ctx, err, ref) {
				continue
			}
			return nil, fmt.Errorf("load object %d: %w", objNum, err)
		}
		if isContainer(obj) {
			continue
		}
		doc.Store.Put(ref, obj)
	}

	if _, ok := trailer.Get("Root").(raw.RefObj); !ok {
		if ref, ok := findCatalog(doc.Store); ok {
			trailer.Set("Root", raw.RefObj{R: ref})
		}
	}
	if cat, _, ok := doc.Catalog(); ok {
		if v, ok := cat.Get("Version").(raw.NameObj); ok && raw.VersionLess(doc.Version, v.Val) {
			doc.Version = v.Val
		}
	}
	if doc.Version == "" {
		doc.Version = "1.4"
	}
	return doc, nil
}

// skip asks the recovery strategy whether an unreadable object may be dropped.
func (p *DocumentParser) skip(ctx context.Context, err error, ref raw.ObjectRef) bool {
	if p.cfg.Recovery == nil {
		return false
	}
	loc := recovery.Location{ObjectNum: ref.Num, ObjectGen: ref.Gen, Component: "parser"}
	switch p.cfg.Recovery.OnError(ctx, err, loc) {
	case recovery.ActionSkip, recovery.ActionFix, recovery.ActionWarn:
		return true
	}
	return false
}

// isContainer reports whether obj only carries cross-reference or object
// stream data, which is regenerated on write.
func isContainer(obj raw.Object) bool {
	st, ok := obj.(*raw.StreamObj)
	if !ok {
		return false
	}
	return st.Dict.IsType("ObjStm") || st.Dict.IsType("XRef")
}

func findCatalog(s *raw.Store) (raw.ObjectRef, bool) {
	for _, ref := range s.Refs() {
		obj, _ := s.Get(ref)
		if d, ok := obj.(*raw.DictObj); ok && d.IsType("Catalog") {
			return ref, true
		}
	}
	return raw.ObjectRef{}, false
}

func detectHeaderVersion(r io.ReaderAt) string {
	buf := make([]byte, 1024)
	n, err := r.ReadAt(buf, 0)
	if err != nil && !errors.Is(err, io.EOF) {
		return ""
	}
	// Some producers put junk before the header.
	head := string(buf[:n])
	idx := strings.Index(head, "%PDF-")
	if idx < 0 {
		return ""
	}
	line := head[idx+5:]
	end := 0
	for end < len(line) && (line[end] == '.' || (line[end] >= '0' && line[end] <= '9')) {
		end++
	}
	return line[:end]
}
