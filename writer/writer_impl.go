package writer

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/wudi/pdfpress/ir/raw"
	"github.com/wudi/pdfpress/observability"
)

type impl struct{ interceptors []Interceptor }

func (w *impl) SerializeObject(ref raw.ObjectRef, obj raw.Object) ([]byte, error) {
	var buf bytes.Buffer
	fmt.Fprintf(&buf, "%d %d obj\n", ref.Num, ref.Gen)
	if obj == nil {
		obj = raw.NullObj{}
	}
	buf.Write(serializePrimitive(obj))
	buf.WriteString("\nendobj\n")
	return buf.Bytes(), nil
}

func (w *impl) Write(ctx context.Context, doc *raw.Document, out io.Writer, cfg Config) error {
	start := time.Now()
	logger := observability.OrNop(cfg.Logger)
	if doc == nil || doc.Store == nil {
		return errors.New("nil document")
	}
	root, ok := doc.Trailer.Get("Root").(raw.RefObj)
	if !ok {
		return errors.New("trailer has no Root")
	}

	refs := doc.Store.Refs()
	if cfg.Prune {
		refs = reachable(doc)
	}
	if len(refs) == 0 {
		return errors.New("no objects to write")
	}

	version := cfg.Version
	if version == "" {
		version = doc.Version
	}
	if version == "" {
		version = "1.7"
	}
	if cfg.XRefStreams && raw.VersionLess(version, "1.5") {
		version = "1.5"
	}

	var buf bytes.Buffer
	fmt.Fprintf(&buf, "%%PDF-%s\n%%\xE2\xE3\xCF\xD3\n", version)
	offsets := make(map[int]int64, len(refs))
	gens := make(map[int]int, len(refs))
	for _, ref := range refs {
		if err := ctx.Err(); err != nil {
			return err
		}
		obj, _ := doc.Store.Get(ref)
		prepared, err := prepareObject(obj, cfg)
		if err != nil {
			return fmt.Errorf("object %s: %w", ref, err)
		}
		for _, ic := range w.interceptors {
			if err := ic.BeforeWrite(ctx, ref, prepared); err != nil {
				return err
			}
		}
		serialized, err := w.SerializeObject(ref, prepared)
		if err != nil {
			return err
		}
		offsets[ref.Num] = int64(buf.Len())
		gens[ref.Num] = ref.Gen
		buf.Write(serialized)
		for _, ic := range w.interceptors {
			if err := ic.AfterWrite(ctx, ref, int64(len(serialized))); err != nil {
				return err
			}
		}
	}

	ids := fileID(buf.Bytes())
	maxNum := refs[len(refs)-1].Num
	var info *raw.RefObj
	if ir, ok := doc.Trailer.Get("Info").(raw.RefObj); ok {
		if _, exists := offsets[ir.R.Num]; exists {
			info = &ir
		}
	}

	xrefOffset := buf.Len()
	if cfg.XRefStreams {
		writeXRefStream(&buf, offsets, gens, maxNum, root, info, ids)
	} else {
		writeXRefTable(&buf, offsets, gens, maxNum)
		trailer := buildTrailer(maxNum+1, root, info, ids)
		buf.WriteString("trailer\n")
		buf.Write(serializePrimitive(trailer))
		buf.WriteString("\n")
	}
	fmt.Fprintf(&buf, "startxref\n%d\n%%%%EOF\n", xrefOffset)

	if _, err := out.Write(buf.Bytes()); err != nil {
		return err
	}
	logger.Debug("document written",
		observability.Int("objects", len(refs)),
		observability.Int("bytes", buf.Len()),
		observability.Int64(observability.MetricWriteTime, time.Since(start).Milliseconds()))
	return nil
}

func writeXRefTable(buf *bytes.Buffer, offsets map[int]int64, gens map[int]int, maxNum int) {
	fmt.Fprintf(buf, "xref\n0 %d\n", maxNum+1)
	buf.WriteString("0000000000 65535 f \n")
	for i := 1; i <= maxNum; i++ {
		if off, ok := offsets[i]; ok {
			fmt.Fprintf(buf, "%010d %05d n \n", off, gens[i])
		} else {
			buf.WriteString("0000000000 65535 f \n")
		}
	}
}

// writeXRefStream appends a cross-reference stream object numbered maxNum+1.
func writeXRefStream(buf *bytes.Buffer, offsets map[int]int64, gens map[int]int, maxNum int, root raw.RefObj, info *raw.RefObj, ids [2][]byte) {
	selfNum := maxNum + 1
	offsets[selfNum] = int64(buf.Len())
	gens[selfNum] = 0
	index, entries := xrefStreamIndexAndEntries(offsets, gens)
	dict := buildTrailer(selfNum+1, root, info, ids)
	dict.Set("Type", raw.Name("XRef"))
	dict.Set("W", raw.NewArray(raw.Int(1), raw.Int(4), raw.Int(2)))
	dict.Set("Index", index)
	dict.Set("Length", raw.Int(int64(len(entries))))
	fmt.Fprintf(buf, "%d 0 obj\n", selfNum)
	buf.Write(serializePrimitive(raw.NewStream(dict, entries)))
	buf.WriteString("\nendobj\n")
}
