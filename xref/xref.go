package xref

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"sort"
	"strconv"

	"github.com/wudi/pdfpress/filters"
	"github.com/wudi/pdfpress/ir/raw"
	"github.com/wudi/pdfpress/recovery"
	"github.com/wudi/pdfpress/scanner"
	"github.com/wudi/pdfpress/security"
)

type EntryKind int

const (
	EntryFree EntryKind = iota
	EntryInUse
	EntryCompressed // stored inside an object stream
)

// Entry locates one object. For EntryInUse, Offset is the byte offset of its
// "N G obj" header. For EntryCompressed, Stream and Index name the object
// stream and the position inside it.
type Entry struct {
	Kind   EntryKind
	Offset int64
	Gen    int
	Stream int
	Index  int
}

// Table is the merged cross-reference information of a file: the newest
// entry for each object number, and the newest trailer.
type Table struct {
	entries  map[int]Entry
	trailer  *raw.DictObj
	repaired bool
}

// Lookup returns the entry for objNum. Free entries are reported as absent.
func (t *Table) Lookup(objNum int) (Entry, bool) {
	e, ok := t.entries[objNum]
	if !ok || e.Kind == EntryFree {
		return Entry{}, false
	}
	return e, true
}

// Objects returns the numbers of every object in use, ascending.
func (t *Table) Objects() []int {
	out := make([]int, 0, len(t.entries))
	for k, e := range t.entries {
		if e.Kind != EntryFree {
			out = append(out, k)
		}
	}
	sort.Ints(out)
	return out
}

func (t *Table) Trailer() *raw.DictObj { return t.trailer }

// Repaired reports whether the table was rebuilt by scanning the file.
func (t *Table) Repaired() bool { return t.repaired }

// Resolver locates and parses xref information in a PDF.
type Resolver interface {
	Resolve(ctx context.Context, r io.ReaderAt) (*Table, error)
}

type ResolverConfig struct {
	Limits   security.Limits
	Recovery recovery.Strategy
}

// NewResolver returns a resolver for classic tables, xref streams and hybrid
// files. When the xref data is unusable and cfg.Recovery allows it, the table
// is rebuilt by scanning for object headers.
func NewResolver(cfg ResolverConfig) Resolver {
	cfg.Limits = cfg.Limits.WithDefaults()
	return &resolver{cfg: cfg}
}

type resolver struct {
	cfg ResolverConfig
}

func (rs *resolver) Resolve(ctx context.Context, r io.ReaderAt) (*Table, error) {
	data := readAll(r)
	t, err := rs.resolveChain(ctx, data)
	if err == nil {
		return t, nil
	}
	if ctx.Err() != nil {
		return nil, ctx.Err()
	}
	if rs.cfg.Recovery == nil {
		return nil, err
	}
	switch rs.cfg.Recovery.OnError(ctx, err, recovery.Location{Component: "xref"}) {
	case recovery.ActionFail:
		return nil, err
	}
	return repair(ctx, bytes.NewReader(data))
}

func (rs *resolver) resolveChain(ctx context.Context, data []byte) (*Table, error) {
	start, err := findStartXRef(data)
	if err != nil {
		return nil, err
	}
	t := &Table{entries: make(map[int]Entry)}
	seen := make(map[int64]bool)
	depth := 0
	for off := start; off >= 0; {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if seen[off] {
			// Prev loop; everything reachable has been read.
			break
		}
		seen[off] = true
		if depth++; depth > rs.cfg.Limits.MaxXRefDepth {
			return nil, fmt.Errorf("xref chain exceeds depth %d", rs.cfg.Limits.MaxXRefDepth)
		}
		section, trailer, err := rs.readSection(ctx, data, off)
		if err != nil {
			return nil, fmt.Errorf("xref section at %d: %w", off, err)
		}
		if stmOff, ok := trailer.Get("XRefStm").(raw.IntObj); ok && !seen[stmOff.V] {
			seen[stmOff.V] = true
			hidden, _, err := rs.readSection(ctx, data, stmOff.V)
			if err != nil {
				return nil, fmt.Errorf("xref stream at %d: %w", stmOff.V, err)
			}
			for num, e := range hidden {
				if cur, ok := section[num]; !ok || cur.Kind == EntryFree {
					section[num] = e
				}
			}
		}
		for num, e := range section {
			if _, ok := t.entries[num]; !ok {
				t.entries[num] = e
			}
		}
		t.trailer = mergeTrailer(t.trailer, trailer)

		off = -1
		if prev, ok := trailer.Get("Prev").(raw.IntObj); ok {
			off = prev.V
		}
	}
	if _, ok := t.trailer.Get("Root").(raw.RefObj); !ok {
		return nil, errors.New("trailer has no Root")
	}
	return t, nil
}

// mergeTrailer fills keys missing from newer with values from older.
func mergeTrailer(newer, older *raw.DictObj) *raw.DictObj {
	if newer == nil {
		out := raw.Dict()
		for _, k := range older.Keys() {
			out.Set(k, older.Get(k))
		}
		newer = out
	} else {
		for _, k := range older.Keys() {
			if !newer.Has(k) {
				newer.Set(k, older.Get(k))
			}
		}
	}
	for _, k := range []string{"Prev", "XRefStm", "Type", "W", "Index", "Filter", "DecodeParms", "Length"} {
		newer.Delete(k)
	}
	return newer
}

func findStartXRef(data []byte) (int64, error) {
	idx := bytes.LastIndex(data, []byte("startxref"))
	if idx < 0 {
		return 0, errors.New("startxref not found")
	}
	rest := bytes.TrimLeft(data[idx+len("startxref"):], " \t\r\n\f\x00")
	end := 0
	for end < len(rest) && rest[end] >= '0' && rest[end] <= '9' {
		end++
	}
	val, err := strconv.ParseInt(string(rest[:end]), 10, 64)
	if err != nil {
		return 0, fmt.Errorf("parse startxref: %w", err)
	}
	if val <= 0 || val >= int64(len(data)) {
		return 0, fmt.Errorf("xref offset out of range: %d", val)
	}
	return val, nil
}

func (rs *resolver) newReader(data []byte, off int64) (*scanner.TokenReader, error) {
	s := scanner.New(bytes.NewReader(data), scanner.Config{
		MaxStringLength: rs.cfg.Limits.MaxStringLength,
		MaxNestingDepth: rs.cfg.Limits.MaxNestingDepth,
		MaxStreamLength: rs.cfg.Limits.MaxStreamLength,
		Recovery:        rs.cfg.Recovery,
	})
	tr := scanner.NewTokenReader(s)
	if err := tr.SeekTo(off); err != nil {
		return nil, err
	}
	return tr, nil
}

// readSection reads either a classic table or an xref stream at off.
func (rs *resolver) readSection(ctx context.Context, data []byte, off int64) (map[int]Entry, *raw.DictObj, error) {
	if off < 0 || off >= int64(len(data)) {
		return nil, nil, fmt.Errorf("offset %d out of range", off)
	}
	tr, err := rs.newReader(data, off)
	if err != nil {
		return nil, nil, err
	}
	tok, err := tr.Next()
	if err != nil {
		return nil, nil, err
	}
	if tok.Type == scanner.TokenKeyword && tok.Str == "xref" {
		return readClassic(tr)
	}
	tr.Unread(tok)
	return rs.readStream(ctx, tr)
}

func readClassic(tr *scanner.TokenReader) (map[int]Entry, *raw.DictObj, error) {
	entries := make(map[int]Entry)
	for {
		tok, err := tr.Next()
		if err != nil {
			return nil, nil, fmt.Errorf("xref table: %w", err)
		}
		if tok.Type == scanner.TokenKeyword && tok.Str == "trailer" {
			break
		}
		countTok, err := tr.Next()
		if err != nil {
			return nil, nil, fmt.Errorf("xref table: %w", err)
		}
		if tok.Type != scanner.TokenNumber || !tok.IsInt || countTok.Type != scanner.TokenNumber || !countTok.IsInt {
			return nil, nil, fmt.Errorf("invalid xref subsection header at offset %d", tok.Pos)
		}
		first, count := int(tok.Int), int(countTok.Int)
		for i := 0; i < count; i++ {
			offTok, err1 := tr.Next()
			genTok, err2 := tr.Next()
			kindTok, err3 := tr.Next()
			if err := errors.Join(err1, err2, err3); err != nil {
				return nil, nil, fmt.Errorf("unexpected end of xref section: %w", err)
			}
			if offTok.Type != scanner.TokenNumber || genTok.Type != scanner.TokenNumber || kindTok.Type != scanner.TokenKeyword {
				return nil, nil, fmt.Errorf("invalid xref entry at offset %d", offTok.Pos)
			}
			e := Entry{Kind: EntryFree, Offset: offTok.Int, Gen: int(genTok.Int)}
			switch kindTok.Str {
			case "n":
				e.Kind = EntryInUse
			case "f":
			default:
				return nil, nil, fmt.Errorf("invalid xref entry type %q", kindTok.Str)
			}
			if e.Kind == EntryInUse && e.Offset == 0 {
				// Some writers mark missing objects this way.
				e.Kind = EntryFree
			}
			entries[first+i] = e
		}
	}
	obj, err := scanner.ParseObject(tr)
	if err != nil {
		return nil, nil, fmt.Errorf("trailer: %w", err)
	}
	trailer, ok := obj.(*raw.DictObj)
	if !ok {
		return nil, nil, errors.New("trailer is not a dictionary")
	}
	return entries, trailer, nil
}

func (rs *resolver) readStream(ctx context.Context, tr *scanner.TokenReader) (map[int]Entry, *raw.DictObj, error) {
	_, obj, err := scanner.ReadIndirect(tr, nil)
	if err != nil {
		return nil, nil, err
	}
	st, ok := obj.(*raw.StreamObj)
	if !ok || !st.Dict.IsType("XRef") {
		return nil, nil, errors.New("expected xref stream")
	}
	pipe := filters.NewDefaultPipeline(filters.Limits{
		MaxDecompressedSize: rs.cfg.Limits.MaxDecompressedSize,
		MaxDecodeTime:       rs.cfg.Limits.MaxDecodeTime,
	})
	body, err := pipe.DecodeStream(ctx, st)
	if err != nil {
		return nil, nil, err
	}
	entries, err := decodeStreamEntries(st.Dict, body)
	if err != nil {
		return nil, nil, err
	}
	return entries, st.Dict, nil
}

func decodeStreamEntries(dict *raw.DictObj, body []byte) (map[int]Entry, error) {
	wArr, ok := dict.Get("W").(*raw.ArrayObj)
	if !ok || wArr.Len() != 3 {
		return nil, errors.New("xref stream: invalid W")
	}
	var w [3]int
	for i, it := range wArr.Items {
		v, ok := it.(raw.IntObj)
		if !ok || v.V < 0 || v.V > 8 {
			return nil, errors.New("xref stream: invalid W")
		}
		w[i] = int(v.V)
	}
	rowLen := w[0] + w[1] + w[2]
	if rowLen == 0 {
		return nil, errors.New("xref stream: empty rows")
	}

	var index []int
	if idx, ok := dict.Get("Index").(*raw.ArrayObj); ok {
		for _, it := range idx.Items {
			v, ok := it.(raw.IntObj)
			if !ok {
				return nil, errors.New("xref stream: invalid Index")
			}
			index = append(index, int(v.V))
		}
	} else {
		size, ok := dict.Get("Size").(raw.IntObj)
		if !ok {
			return nil, errors.New("xref stream: missing Size")
		}
		index = []int{0, int(size.V)}
	}
	if len(index)%2 != 0 {
		return nil, errors.New("xref stream: odd Index length")
	}

	entries := make(map[int]Entry)
	pos := 0
	for i := 0; i < len(index); i += 2 {
		first, count := index[i], index[i+1]
		for j := 0; j < count; j++ {
			if pos+rowLen > len(body) {
				return entries, nil
			}
			row := body[pos : pos+rowLen]
			pos += rowLen
			typ := int64(1)
			if w[0] > 0 {
				typ = field(row[:w[0]])
			}
			f2 := field(row[w[0] : w[0]+w[1]])
			f3 := field(row[w[0]+w[1]:])
			var e Entry
			switch typ {
			case 0:
				e = Entry{Kind: EntryFree, Gen: int(f3)}
			case 1:
				e = Entry{Kind: EntryInUse, Offset: f2, Gen: int(f3)}
			case 2:
				e = Entry{Kind: EntryCompressed, Stream: int(f2), Index: int(f3)}
			default:
				// Unknown types are treated as null references.
				continue
			}
			entries[first+j] = e
		}
	}
	return entries, nil
}

func field(b []byte) int64 {
	var v int64
	for _, c := range b {
		v = v<<8 | int64(c)
	}
	return v
}

func readAll(r io.ReaderAt) []byte {
	var buf bytes.Buffer
	const chunk = int64(32 * 1024)
	for off := int64(0); ; off += chunk {
		tmp := make([]byte, chunk)
		n, err := r.ReadAt(tmp, off)
		if n > 0 {
			buf.Write(tmp[:n])
		}
		if err != nil {
			break
		}
		if int64(n) < chunk {
			break
		}
	}
	return buf.Bytes()
}
