// Package ir loads documents from disk into raw object stores, saves them
// back, and answers simple metadata queries.
package ir

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/wudi/pdfpress/ir/raw"
	"github.com/wudi/pdfpress/observability"
	"github.com/wudi/pdfpress/pagetree"
	"github.com/wudi/pdfpress/parser"
	"github.com/wudi/pdfpress/pdferr"
	"github.com/wudi/pdfpress/recovery"
	"github.com/wudi/pdfpress/security"
	"github.com/wudi/pdfpress/writer"
)

type Config struct {
	// Recovery decides how malformed input is handled. Nil selects a lenient
	// strategy that rebuilds broken cross-reference data.
	Recovery recovery.Strategy
	Limits   security.Limits
	Logger   observability.Logger
}

// ErrNoDocument is returned when parsing recovers neither a catalog nor any
// page objects, as happens with truncated files.
var ErrNoDocument = errors.New("no catalog or page objects found")

type Pipeline struct {
	parser *parser.DocumentParser
	logger observability.Logger
}

// New returns a pipeline with cfg's defaults filled in.
func New(cfg Config) *Pipeline {
	logger := observability.OrNop(cfg.Logger)
	if cfg.Recovery == nil {
		cfg.Recovery = recovery.NewLenientStrategy(logger)
	}
	return &Pipeline{
		parser: parser.NewDocumentParser(parser.Config{
			Recovery: cfg.Recovery,
			Limits:   cfg.Limits,
			Logger:   logger,
		}),
		logger: logger,
	}
}

// NewDefault returns a pipeline with lenient recovery and no logging.
func NewDefault() *Pipeline { return New(Config{}) }

// Parse reads a document from r. Errors are returned unclassified. A document
// that yields no page tree and no page objects is rejected with
// ErrNoDocument even when recovery let parsing finish.
func (p *Pipeline) Parse(ctx context.Context, r io.ReaderAt) (*raw.Document, error) {
	doc, err := p.parser.Parse(ctx, r)
	if err != nil {
		return nil, err
	}
	if err := checkUsable(doc); err != nil {
		return nil, err
	}
	return doc, nil
}

func checkUsable(doc *raw.Document) error {
	_, err := pagetree.FindPages(doc)
	if err == nil {
		return nil
	}
	if len(pagetree.PagesByType(doc.Store)) > 0 {
		return nil
	}
	return fmt.Errorf("%w (%d objects): %w", ErrNoDocument, doc.Store.Len(), err)
}

// Load opens and parses the document at path. Failures to open are IO
// errors and failures to parse are Parse errors, both naming path.
func (p *Pipeline) Load(ctx context.Context, path string) (*raw.Document, error) {
	start := time.Now()
	f, err := os.Open(path)
	if err != nil {
		return nil, pdferr.IO(path, err)
	}
	defer f.Close()
	doc, err := p.Parse(ctx, f)
	if err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return nil, err
		}
		return nil, pdferr.Parse(path, err)
	}
	p.logger.Debug("document loaded",
		observability.String("path", path),
		observability.Int(observability.MetricObjectCount, doc.Store.Len()),
		observability.Int64(observability.MetricParseTime, time.Since(start).Milliseconds()))
	return doc, nil
}

// Save serializes doc to path. The file is written under a temporary name in
// the same directory and renamed into place only on success.
func (p *Pipeline) Save(ctx context.Context, doc *raw.Document, path string, cfg writer.Config) error {
	if cfg.Logger == nil {
		cfg.Logger = p.logger
	}
	return WriteFileAtomic(path, func(w io.Writer) error {
		return writer.Write(ctx, doc, w, cfg)
	})
}

// WriteFileAtomic calls write with a temporary file next to path and renames
// it to path once write and close succeed. On any failure the temporary file
// is removed and path is left untouched. The result keeps the permissions of
// an existing file at path and is otherwise 0644.
func WriteFileAtomic(path string, write func(io.Writer) error) (err error) {
	dir, base := filepath.Split(path)
	if dir == "" {
		dir = "."
	}
	tmp, err := os.CreateTemp(dir, "."+base+".*.tmp")
	if err != nil {
		return pdferr.IO(path, err)
	}
	defer func() {
		if err != nil {
			tmp.Close()
			os.Remove(tmp.Name())
		}
	}()
	if err := write(tmp); err != nil {
		if pdferr.KindOf(err) != 0 {
			return err
		}
		return pdferr.IO(path, fmt.Errorf("write: %w", err))
	}
	mode := os.FileMode(0o644)
	if st, err := os.Stat(path); err == nil && st.Mode().IsRegular() {
		mode = st.Mode().Perm()
	}
	if err := tmp.Chmod(mode); err != nil {
		return pdferr.IO(path, err)
	}
	if err := tmp.Sync(); err != nil {
		return pdferr.IO(path, err)
	}
	if err := tmp.Close(); err != nil {
		return pdferr.IO(path, err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return pdferr.IO(path, err)
	}
	return nil
}

// Info is the summary returned by Inspect.
type Info struct {
	Path     string `json:"path"`
	Pages    int    `json:"pages"`
	Version  string `json:"version"`
	Size     int64  `json:"size"`
	Objects  int    `json:"objects"`
	Title    string `json:"title,omitempty"`
	Author   string `json:"author,omitempty"`
	Producer string `json:"producer,omitempty"`
}

// Inspect loads the document at path and reports its page count, header
// version and document information entries.
func (p *Pipeline) Inspect(ctx context.Context, path string) (Info, error) {
	st, err := os.Stat(path)
	if err != nil {
		return Info{}, pdferr.IO(path, err)
	}
	doc, err := p.Load(ctx, path)
	if err != nil {
		return Info{}, err
	}
	pages, err := pagetree.FindPages(doc)
	if err != nil {
		p.logger.Debug("page tree unusable, counting page objects",
			observability.String("path", path), observability.Error("error", err))
		pages = pagetree.PagesByType(doc.Store)
	}
	info := Info{
		Path:    path,
		Pages:   len(pages),
		Version: doc.Version,
		Size:    st.Size(),
		Objects: doc.Store.Len(),
	}
	if d, ok := doc.Resolve(doc.Trailer.Get("Info")).(*raw.DictObj); ok {
		info.Title = textEntry(doc, d, "Title")
		info.Author = textEntry(doc, d, "Author")
		info.Producer = textEntry(doc, d, "Producer")
	}
	return info, nil
}

func textEntry(doc *raw.Document, d *raw.DictObj, key string) string {
	s, ok := doc.Resolve(d.Get(key)).(raw.StringObj)
	if !ok {
		return ""
	}
	return DecodeTextString(s.Bytes)
}
