// Package merge concatenates documents into one, renumbering each source
// into its own range of object numbers and rebuilding a flat page tree.
package merge

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/wudi/pdfpress/ir"
	"github.com/wudi/pdfpress/ir/raw"
	"github.com/wudi/pdfpress/observability"
	"github.com/wudi/pdfpress/pagetree"
	"github.com/wudi/pdfpress/pdferr"
	"github.com/wudi/pdfpress/recovery"
	"github.com/wudi/pdfpress/security"
	"github.com/wudi/pdfpress/writer"
)

// DefaultProducer is written to the merged document's /Info /Producer.
const DefaultProducer = "pdfpress"

// initialHighWater is the mark the first source is renumbered above, so its
// first object becomes 2.
const initialHighWater = 1

// minVersion is the lowest header version a merged document is written with.
const minVersion = "1.5"

type Config struct {
	Logger   observability.Logger
	Tracer   observability.Tracer
	Recovery recovery.Strategy
	Limits   security.Limits
	// Producer overrides DefaultProducer.
	Producer string
	// DisableCompression writes content streams as they were loaded.
	DisableCompression bool
	// XRefStreams writes a cross-reference stream instead of a classic table.
	XRefStreams bool
}

type Merger struct {
	cfg      Config
	pipeline *ir.Pipeline
}

func New(cfg Config) *Merger {
	cfg.Logger = observability.OrNop(cfg.Logger)
	if cfg.Tracer == nil {
		cfg.Tracer = observability.NopTracer()
	}
	if cfg.Producer == "" {
		cfg.Producer = DefaultProducer
	}
	return &Merger{
		cfg: cfg,
		pipeline: ir.New(ir.Config{
			Recovery: cfg.Recovery,
			Limits:   cfg.Limits,
			Logger:   cfg.Logger,
		}),
	}
}

// Source is one input document. Name identifies it in errors and logs.
type Source struct {
	Name string
	R    io.ReaderAt
}

// MergeFiles merges the documents at paths, in order, into output. Nothing is
// written to output unless every input loads and the result serializes.
func (m *Merger) MergeFiles(ctx context.Context, paths []string, output string) error {
	if len(paths) == 0 {
		return pdferr.NoInputFiles()
	}
	sources := make([]Source, 0, len(paths))
	for _, p := range paths {
		f, err := openInput(p)
		if err != nil {
			closeAll(sources)
			return err
		}
		sources = append(sources, Source{Name: p, R: f})
	}
	defer closeAll(sources)

	return ir.WriteFileAtomic(output, func(w io.Writer) error {
		return m.Merge(ctx, sources, w)
	})
}

func openInput(path string) (*os.File, error) {
	st, err := os.Stat(path)
	if err != nil {
		return nil, pdferr.IO(path, err)
	}
	if st.IsDir() {
		return nil, pdferr.IO(path, fmt.Errorf("is a directory"))
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, pdferr.IO(path, err)
	}
	return f, nil
}

func closeAll(sources []Source) {
	for _, s := range sources {
		if c, ok := s.R.(io.Closer); ok {
			c.Close()
		}
	}
}

// Merge parses every source and writes the merged document to out.
func (m *Merger) Merge(ctx context.Context, sources []Source, out io.Writer) (err error) {
	if len(sources) == 0 {
		return pdferr.NoInputFiles()
	}
	ctx, span := m.cfg.Tracer.StartSpan(ctx, "merge")
	defer func() {
		if err != nil {
			span.SetError(err)
		}
		span.Finish()
	}()
	span.SetTag(observability.MetricSourceCount, len(sources))

	docs := make([]*raw.Document, 0, len(sources))
	names := make([]string, 0, len(sources))
	for _, src := range sources {
		if err := ctx.Err(); err != nil {
			return err
		}
		doc, err := m.pipeline.Parse(ctx, src.R)
		if err != nil {
			return pdferr.Parse(src.Name, err)
		}
		docs = append(docs, doc)
		names = append(names, src.Name)
	}

	merged, err := m.MergeDocuments(ctx, names, docs)
	if err != nil {
		return err
	}

	cfg := writer.Config{
		Prune:       true,
		Compress:    !m.cfg.DisableCompression,
		XRefStreams: m.cfg.XRefStreams,
		Logger:      m.cfg.Logger,
	}
	stats := &writeStats{}
	w := (&writer.WriterBuilder{}).WithInterceptor(stats).Build()
	if err := w.Write(ctx, merged, out, cfg); err != nil {
		return fmt.Errorf("write merged document: %w", err)
	}
	span.SetTag(observability.MetricObjectCount, stats.objects)
	span.SetTag(observability.MetricBytesWritten, stats.bytes)
	m.cfg.Logger.Debug("merged document written",
		observability.Int(observability.MetricObjectCount, stats.objects),
		observability.Int64(observability.MetricBytesWritten, stats.bytes))
	return nil
}

// writeStats counts the objects that survive pruning and their encoded size.
type writeStats struct {
	objects int
	bytes   int64
}

func (s *writeStats) BeforeWrite(context.Context, raw.ObjectRef, raw.Object) error { return nil }

func (s *writeStats) AfterWrite(_ context.Context, _ raw.ObjectRef, n int64) error {
	s.objects++
	s.bytes += n
	return nil
}

// MergeDocuments moves the objects of docs into a new document. Each source
// store is drained and must not be used afterwards. names label the sources
// in logs and errors and may be nil.
func (m *Merger) MergeDocuments(ctx context.Context, names []string, docs []*raw.Document) (*raw.Document, error) {
	if len(docs) == 0 {
		return nil, pdferr.NoInputFiles()
	}
	target := raw.NewDocument(minVersion)
	var pages []raw.ObjectRef
	highWater := initialHighWater
	for i, doc := range docs {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		name := fmt.Sprintf("source %d", i+1)
		if i < len(names) {
			name = names[i]
		}

		highWater = Renumber(doc, highWater)
		srcPages, err := pagetree.FindPages(doc)
		if err != nil {
			m.cfg.Logger.Warn("page tree unusable, collecting page objects",
				observability.String("source", name), observability.Error("error", err))
			srcPages = pagetree.PagesByType(doc.Store)
		}
		for _, p := range srcPages {
			pagetree.MaterializeInherited(doc.Store, p)
		}
		if raw.VersionLess(target.Version, doc.Version) {
			target.Version = doc.Version
		}

		objects := 0
		for _, e := range doc.Store.Drain() {
			target.Store.Put(e.Ref, e.Object)
			objects++
		}
		pages = append(pages, srcPages...)
		m.cfg.Logger.Info("source merged",
			observability.String("source", name),
			observability.Int(observability.MetricObjectCount, objects),
			observability.Int(observability.MetricPageCount, len(srcPages)))
	}

	root := pagetree.Build(target.Store, pages)
	for _, p := range pages {
		obj, ok := target.Store.Get(p)
		if !ok {
			return nil, pdferr.ObjectNotFound(p)
		}
		page, ok := obj.(*raw.DictObj)
		if !ok {
			return nil, pdferr.ObjectNotFound(p)
		}
		page.Set("Parent", raw.RefObj{R: root})
	}

	catalog := raw.Dict()
	catalog.Set("Type", raw.Name("Catalog"))
	catalog.Set("Pages", raw.RefObj{R: root})
	catRef := target.Store.Add(catalog)

	info := raw.Dict()
	info.Set("Producer", raw.Str([]byte(m.cfg.Producer)))
	infoRef := target.Store.Add(info)

	target.Trailer.Set("Root", raw.RefObj{R: catRef})
	target.Trailer.Set("Info", raw.RefObj{R: infoRef})

	m.cfg.Logger.Info("documents merged",
		observability.Int(observability.MetricSourceCount, len(docs)),
		observability.Int(observability.MetricPageCount, len(pages)),
		observability.Int(observability.MetricObjectCount, target.Store.Len()))
	return target, nil
}
