package parser

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"sync"

	"github.com/wudi/pdfpress/filters"
	"github.com/wudi/pdfpress/ir/raw"
	"github.com/wudi/pdfpress/recovery"
	"github.com/wudi/pdfpress/scanner"
	"github.com/wudi/pdfpress/security"
	"github.com/wudi/pdfpress/xref"
)

type ObjectLoader interface {
	Load(ctx context.Context, ref raw.ObjectRef) (raw.Object, error)
}

type ObjectLoaderBuilder struct {
	reader    io.ReaderAt
	xrefTable *xref.Table
	limits    security.Limits
	recovery  recovery.Strategy
}

func (b *ObjectLoaderBuilder) WithXRef(table *xref.Table) *ObjectLoaderBuilder {
	b.xrefTable = table
	return b
}
func (b *ObjectLoaderBuilder) WithReader(r io.ReaderAt) *ObjectLoaderBuilder {
	b.reader = r
	return b
}
func (b *ObjectLoaderBuilder) WithLimits(l security.Limits) *ObjectLoaderBuilder {
	b.limits = l
	return b
}
func (b *ObjectLoaderBuilder) WithRecovery(s recovery.Strategy) *ObjectLoaderBuilder {
	b.recovery = s
	return b
}

func (b *ObjectLoaderBuilder) Build() (ObjectLoader, error) {
	if b.reader == nil || b.xrefTable == nil {
		return nil, errors.New("reader and xrefTable required")
	}
	limits := b.limits.WithDefaults()
	return &objectLoader{
		reader:    b.reader,
		xrefTable: b.xrefTable,
		limits:    limits,
		recovery:  b.recovery,
		pipeline: filters.NewDefaultPipeline(filters.Limits{
			MaxDecompressedSize: limits.MaxDecompressedSize,
			MaxDecodeTime:       limits.MaxDecodeTime,
		}),
		objstm: make(map[int]map[int]raw.Object),
	}, nil
}

type objectLoader struct {
	reader    io.ReaderAt
	xrefTable *xref.Table
	limits    security.Limits
	recovery  recovery.Strategy
	pipeline  *filters.Pipeline

	mu sync.Mutex
	// main reads object bodies; lengths resolves indirect /Length values
	// while main is positioned inside a dictionary.
	main    *scanner.TokenReader
	lengths *scanner.TokenReader
	objstm  map[int]map[int]raw.Object
}

func (o *objectLoader) Load(ctx context.Context, ref raw.ObjectRef) (raw.Object, error) {
	o.mu.Lock()
	defer o.mu.Unlock()

	e, found := o.xrefTable.Lookup(ref.Num)
	if !found {
		return nil, errors.New("object not found in xref")
	}
	switch e.Kind {
	case xref.EntryCompressed:
		return o.loadFromObjectStream(ctx, ref, e.Stream)
	default:
		return o.loadAtOffset(ref.Num, e.Offset, e.Gen)
	}
}

func (o *objectLoader) scannerConfig() scanner.Config {
	return scanner.Config{
		Recovery:        o.recovery,
		MaxStringLength: o.limits.MaxStringLength,
		MaxNestingDepth: o.limits.MaxNestingDepth,
		MaxStreamLength: o.limits.MaxStreamLength,
	}
}

// loadAtOffset assumes caller holds the loader mutex.
func (o *objectLoader) loadAtOffset(objNum int, offset int64, gen int) (raw.Object, error) {
	if o.main == nil {
		o.main = scanner.NewTokenReader(scanner.New(o.reader, o.scannerConfig()))
	}
	if err := o.main.SeekTo(offset); err != nil {
		return nil, err
	}
	if s, ok := o.main.Scanner().(interface{ SetRecoveryLocation(recovery.Location) }); ok {
		s.SetRecoveryLocation(recovery.Location{ObjectNum: objNum, ObjectGen: gen, Component: "loader"})
	}
	got, obj, err := scanner.ReadIndirect(o.main, o.resolveLength)
	if err != nil {
		return nil, err
	}
	if got.Num != objNum {
		return nil, fmt.Errorf("object header number mismatch: want %d, found %d", objNum, got.Num)
	}
	return obj, nil
}

// resolveLength reads an integer object directly from the file.
func (o *objectLoader) resolveLength(ref raw.ObjectRef) (int64, bool) {
	e, ok := o.xrefTable.Lookup(ref.Num)
	if !ok || e.Kind != xref.EntryInUse {
		return 0, false
	}
	if o.lengths == nil {
		o.lengths = scanner.NewTokenReader(scanner.New(o.reader, o.scannerConfig()))
	}
	if err := o.lengths.SeekTo(e.Offset); err != nil {
		return 0, false
	}
	got, obj, err := scanner.ReadIndirect(o.lengths, nil)
	if err != nil || got.Num != ref.Num {
		return 0, false
	}
	n, ok := obj.(raw.IntObj)
	return n.V, ok
}

func (o *objectLoader) loadFromObjectStream(ctx context.Context, ref raw.ObjectRef, objStreamNum int) (raw.Object, error) {
	objs, ok := o.objstm[objStreamNum]
	if !ok {
		var err error
		objs, err = o.expandObjectStream(ctx, objStreamNum)
		if err != nil {
			return nil, fmt.Errorf("object stream %d: %w", objStreamNum, err)
		}
		o.objstm[objStreamNum] = objs
	}
	if obj, ok := objs[ref.Num]; ok {
		return obj, nil
	}
	return nil, errors.New("object not found in object stream")
}

func (o *objectLoader) expandObjectStream(ctx context.Context, objStreamNum int) (map[int]raw.Object, error) {
	e, ok := o.xrefTable.Lookup(objStreamNum)
	if !ok || e.Kind != xref.EntryInUse {
		return nil, errors.New("object stream entry missing")
	}
	streamObj, err := o.loadAtOffset(objStreamNum, e.Offset, e.Gen)
	if err != nil {
		return nil, err
	}
	st, ok := streamObj.(*raw.StreamObj)
	if !ok || !st.Dict.IsType("ObjStm") {
		return nil, errors.New("not an object stream")
	}
	nObj := intFromDict(st.Dict, "N")
	first := intFromDict(st.Dict, "First")
	data, err := o.pipeline.DecodeStream(ctx, st)
	if err != nil {
		return nil, err
	}
	if first < 0 || first > len(data) {
		return nil, errors.New("object stream First exceeds length")
	}

	hs := scanner.New(bytes.NewReader(data[:first]), o.scannerConfig())
	pairs := make([]int, 0, 2*nObj)
	for len(pairs) < 2*nObj {
		tok, err := hs.Next()
		if err != nil {
			if errors.Is(err, io.EOF) {
				break
			}
			return nil, err
		}
		if tok.Type != scanner.TokenNumber || !tok.IsInt {
			return nil, fmt.Errorf("bad object stream header at %d", tok.Pos)
		}
		pairs = append(pairs, int(tok.Int))
	}

	body := scanner.NewTokenReader(scanner.New(bytes.NewReader(data[first:]), o.scannerConfig()))
	objs := make(map[int]raw.Object, len(pairs)/2)
	for i := 0; i+1 < len(pairs); i += 2 {
		objNum, off := pairs[i], pairs[i+1]
		if err := body.SeekTo(int64(off)); err != nil {
			return nil, err
		}
		obj, err := scanner.ParseObject(body)
		if err != nil {
			return nil, fmt.Errorf("object %d: %w", objNum, err)
		}
		objs[objNum] = obj
	}
	return objs, nil
}

func intFromDict(d *raw.DictObj, key string) int {
	if n, ok := d.Get(key).(raw.IntObj); ok {
		return int(n.V)
	}
	return 0
}
