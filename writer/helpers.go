package writer

import (
	"bytes"
	"encoding/hex"
	"fmt"
	"math"
	"strconv"
	"strings"

	"golang.org/x/crypto/blake2b"

	"github.com/wudi/pdfpress/filters"
	"github.com/wudi/pdfpress/ir/raw"
)

// fileID derives the trailer /ID pair from the serialized body so identical
// output always carries the same identifier.
func fileID(body []byte) [2][]byte {
	sum := blake2b.Sum256(body)
	id := sum[:16]
	return [2][]byte{id, append([]byte(nil), id...)}
}

// reachable returns the refs reachable from the trailer, in Refs order.
func reachable(doc *raw.Document) []raw.ObjectRef {
	seen := make(map[raw.ObjectRef]bool)
	var queue []raw.ObjectRef
	push := func(r raw.ObjectRef) {
		if seen[r] {
			return
		}
		if _, ok := doc.Store.Get(r); !ok {
			return
		}
		seen[r] = true
		queue = append(queue, r)
	}
	raw.VisitRefs(doc.Trailer, push)
	for len(queue) > 0 {
		r := queue[0]
		queue = queue[1:]
		obj, _ := doc.Store.Get(r)
		raw.VisitRefs(obj, push)
	}
	out := make([]raw.ObjectRef, 0, len(seen))
	for _, r := range doc.Store.Refs() {
		if seen[r] {
			out = append(out, r)
		}
	}
	return out
}

// prepareObject returns the value to serialize for obj. Streams get a fresh
// /Length and, when cfg.Compress is set, a FlateDecode pass. The input is
// never modified.
func prepareObject(obj raw.Object, cfg Config) (raw.Object, error) {
	st, ok := obj.(*raw.StreamObj)
	if !ok {
		return obj, nil
	}
	dict := raw.Dict()
	if st.Dict != nil {
		dict = raw.Clone(st.Dict).(*raw.DictObj)
	}
	data := st.Data
	if cfg.Compress && !dict.Has("Filter") && !isImage(dict) && len(data) > 0 {
		enc, err := filters.FlateEncode(data, cfg.level())
		if err != nil {
			return nil, err
		}
		if len(enc) < len(data) {
			data = enc
			dict.Set("Filter", raw.Name("FlateDecode"))
			dict.Delete("DecodeParms")
		}
	}
	dict.Set("Length", raw.Int(int64(len(data))))
	return raw.NewStream(dict, data), nil
}

func isImage(d *raw.DictObj) bool {
	n, ok := d.Get("Subtype").(raw.NameObj)
	return ok && n.Val == "Image"
}

func buildTrailer(size int, root raw.RefObj, info *raw.RefObj, ids [2][]byte) *raw.DictObj {
	trailer := raw.Dict()
	trailer.Set("Size", raw.Int(int64(size)))
	trailer.Set("Root", root)
	if info != nil {
		trailer.Set("Info", *info)
	}
	trailer.Set("ID", raw.NewArray(raw.HexStr(ids[0]), raw.HexStr(ids[1])))
	return trailer
}

// xrefStreamIndexAndEntries encodes offsets as /W [1 4 2] rows grouped into
// contiguous /Index subsections. Object 0 is always present as the free head.
func xrefStreamIndexAndEntries(offsets map[int]int64, gens map[int]int) (*raw.ArrayObj, []byte) {
	maxNum := 0
	for k := range offsets {
		maxNum = max(maxNum, k)
	}
	index := raw.NewArray(raw.Int(0), raw.Int(int64(maxNum+1)))
	entries := make([]byte, 0, 7*(maxNum+1))
	for k := 0; k <= maxNum; k++ {
		off, ok := offsets[k]
		if !ok || k == 0 {
			entries = appendXRefStreamEntry(entries, 0, 0, 65535)
			continue
		}
		entries = appendXRefStreamEntry(entries, 1, off, gens[k])
	}
	return index, entries
}

func appendXRefStreamEntry(buf []byte, typ int, field2 int64, gen int) []byte {
	buf = append(buf, byte(typ))
	offset := uint32(field2)
	buf = append(buf, byte(offset>>24), byte(offset>>16), byte(offset>>8), byte(offset))
	buf = append(buf, byte(gen>>8), byte(gen))
	return buf
}

func serializePrimitive(o raw.Object) []byte {
	switch v := o.(type) {
	case raw.NameObj:
		return []byte("/" + pdfNameLiteral(v.Val))
	case raw.IntObj:
		return strconv.AppendInt(nil, v.V, 10)
	case raw.RealObj:
		return []byte(formatReal(v.V))
	case raw.BoolObj:
		if v.V {
			return []byte("true")
		}
		return []byte("false")
	case raw.NullObj:
		return []byte("null")
	case raw.StringObj:
		if v.Hex {
			return []byte("<" + strings.ToUpper(hex.EncodeToString(v.Bytes)) + ">")
		}
		return escapeLiteralString(v.Bytes)
	case *raw.ArrayObj:
		var b bytes.Buffer
		b.WriteByte('[')
		for i, it := range v.Items {
			if i > 0 {
				b.WriteByte(' ')
			}
			b.Write(serializePrimitive(it))
		}
		b.WriteByte(']')
		return b.Bytes()
	case *raw.DictObj:
		var b bytes.Buffer
		b.WriteString("<<")
		for _, k := range v.Keys() {
			b.WriteString("/" + pdfNameLiteral(k) + " ")
			b.Write(serializePrimitive(v.KV[k]))
		}
		b.WriteString(">>")
		return b.Bytes()
	case *raw.StreamObj:
		var b bytes.Buffer
		dict := v.Dict
		if dict == nil {
			dict = raw.Dict()
		}
		b.Write(serializePrimitive(dict))
		b.WriteString("\nstream\n")
		b.Write(v.Data)
		b.WriteString("\nendstream")
		return b.Bytes()
	case raw.RefObj:
		return []byte(fmt.Sprintf("%d %d R", v.R.Num, v.R.Gen))
	default:
		return []byte("null")
	}
}

// formatReal writes f in the shortest form that round-trips, never in
// exponent notation, and always with a decimal point.
func formatReal(f float64) string {
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return "0.0"
	}
	s := strconv.FormatFloat(f, 'f', -1, 64)
	if !strings.Contains(s, ".") {
		s += ".0"
	}
	return s
}

func escapeLiteralString(rawBytes []byte) []byte {
	var b bytes.Buffer
	b.WriteByte('(')
	for _, ch := range rawBytes {
		switch ch {
		case '\\', '(', ')':
			b.WriteByte('\\')
			b.WriteByte(ch)
		case '\n':
			b.WriteString("\\n")
		case '\r':
			b.WriteString("\\r")
		case '\t':
			b.WriteString("\\t")
		case '\b':
			b.WriteString("\\b")
		case '\f':
			b.WriteString("\\f")
		default:
			if ch < 0x20 || ch >= 0x80 {
				fmt.Fprintf(&b, "\\%03o", ch)
			} else {
				b.WriteByte(ch)
			}
		}
	}
	b.WriteByte(')')
	return b.Bytes()
}

// pdfNameLiteral escapes every byte outside the regular character set,
// including '#', as #XX.
func pdfNameLiteral(value string) string {
	var b strings.Builder
	for i := 0; i < len(value); i++ {
		ch := value[i]
		if ch > 0x20 && ch < 0x7F && !isDelimiter(ch) && ch != '#' {
			b.WriteByte(ch)
			continue
		}
		fmt.Fprintf(&b, "#%02X", ch)
	}
	return b.String()
}

func isDelimiter(ch byte) bool {
	return strings.IndexByte("()<>[]{}/%", ch) >= 0
}
