package writer

import (
	"compress/zlib"
	"context"
	"io"

	"github.com/wudi/pdfpress/ir/raw"
	"github.com/wudi/pdfpress/observability"
)

type Config struct {
	// Version overrides the document's header version when set.
	Version string
	// Compress flate-encodes streams that carry no filter, except images.
	Compress bool
	// Level is the zlib level used by Compress; 0 selects BestCompression.
	Level int
	// Prune drops objects that are unreachable from the trailer.
	Prune bool
	// XRefStreams writes a cross-reference stream instead of a classic table.
	XRefStreams bool
	Logger      observability.Logger
}

func (c Config) level() int {
	if c.Level == 0 {
		return zlib.BestCompression
	}
	return c.Level
}

type Writer interface {
	Write(ctx context.Context, doc *raw.Document, w io.Writer, cfg Config) error
	SerializeObject(ref raw.ObjectRef, obj raw.Object) ([]byte, error)
}

// Interceptor observes each object as it is written.
type Interceptor interface {
	BeforeWrite(ctx context.Context, ref raw.ObjectRef, obj raw.Object) error
	AfterWrite(ctx context.Context, ref raw.ObjectRef, bytesWritten int64) error
}

type WriterBuilder struct{ interceptors []Interceptor }

func (b *WriterBuilder) WithInterceptor(i Interceptor) *WriterBuilder {
	b.interceptors = append(b.interceptors, i)
	return b
}
func (b *WriterBuilder) Build() Writer { return &impl{interceptors: b.interceptors} }

// Write serializes doc to w with a default writer.
func Write(ctx context.Context, doc *raw.Document, w io.Writer, cfg Config) error {
	return (&WriterBuilder{}).Build().Write(ctx, doc, w, cfg)
}
