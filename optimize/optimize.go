// Package optimize shrinks documents by re-encoding their embedded JPEG and
// PNG images at reduced size.
package optimize

import (
	"context"
	"os"

	"github.com/wudi/pdfpress/ir"
	"github.com/wudi/pdfpress/ir/raw"
	"github.com/wudi/pdfpress/observability"
	"github.com/wudi/pdfpress/pdferr"
	"github.com/wudi/pdfpress/recovery"
	"github.com/wudi/pdfpress/security"
	"github.com/wudi/pdfpress/writer"
)

const (
	MinScale     = 1
	MaxScale     = 10
	DefaultScale = 5
)

// ScaleKey marks an image stream with the scale it was last recompressed at.
const ScaleKey = "PDFPressScale"

type Config struct {
	Logger   observability.Logger
	Tracer   observability.Tracer
	Recovery recovery.Strategy
	Limits   security.Limits
	// DisableCompression skips flate-encoding of unfiltered streams on save.
	DisableCompression bool
	// XRefStreams writes a cross-reference stream instead of a classic table.
	XRefStreams bool
}

// Report summarizes one recompression run.
type Report struct {
	Seen         int   `json:"seen"`
	Recompressed int   `json:"recompressed"`
	Skipped      int   `json:"skipped"`
	BytesBefore  int64 `json:"bytes_before"`
	BytesAfter   int64 `json:"bytes_after"`
}

type Recompressor struct {
	cfg      Config
	pipeline *ir.Pipeline
}

func New(cfg Config) *Recompressor {
	cfg.Logger = observability.OrNop(cfg.Logger)
	if cfg.Tracer == nil {
		cfg.Tracer = observability.NopTracer()
	}
	return &Recompressor{
		cfg: cfg,
		pipeline: ir.New(ir.Config{
			Recovery: cfg.Recovery,
			Limits:   cfg.Limits,
			Logger:   cfg.Logger,
		}),
	}
}

// QualityFactor maps scale 1..10 linearly onto 1.0..0.25.
func QualityFactor(scale int) float64 {
	return 1.0 - float64(scale-1)/9.0*0.75
}

// JPEGQuality maps scale 1..10 onto JPEG quality 100..30.
func JPEGQuality(scale int) int {
	return 100 - (scale-1)*70/9
}

func validScale(scale int) bool { return scale >= MinScale && scale <= MaxScale }

// RecompressFile loads input, recompresses its images and writes the result
// to output. The scale is checked before input is touched, and output is
// only replaced once the whole document has been written.
func (r *Recompressor) RecompressFile(ctx context.Context, input, output string, scale int) (Report, error) {
	if !validScale(scale) {
		return Report{}, pdferr.InvalidScale(scale)
	}
	if _, err := os.Stat(input); err != nil {
		return Report{}, pdferr.IO(input, err)
	}
	doc, err := r.pipeline.Load(ctx, input)
	if err != nil {
		return Report{}, err
	}
	rep, err := r.Recompress(ctx, doc, scale)
	if err != nil {
		return rep, pdferr.WithPath(err, input)
	}
	cfg := writer.Config{
		Compress:    !r.cfg.DisableCompression,
		XRefStreams: r.cfg.XRefStreams,
		Logger:      r.cfg.Logger,
	}
	if err := r.pipeline.Save(ctx, doc, output, cfg); err != nil {
		return rep, err
	}
	r.cfg.Logger.Info("document recompressed",
		observability.String("input", input),
		observability.String("output", output),
		observability.Int("scale", scale),
		observability.Int(observability.MetricImagesSeen, rep.Seen),
		observability.Int(observability.MetricImagesRewritten, rep.Recompressed),
		observability.Int64(observability.MetricImageBytesBefore, rep.BytesBefore),
		observability.Int64(observability.MetricImageBytesAfter, rep.BytesAfter))
	return rep, nil
}

// Recompress rewrites every JPEG or PNG image stream in doc in place. Images
// that cannot be processed are left untouched and counted as skipped; only
// an invalid scale or cancellation is reported as an error.
func (r *Recompressor) Recompress(ctx context.Context, doc *raw.Document, scale int) (rep Report, err error) {
	if !validScale(scale) {
		return rep, pdferr.InvalidScale(scale)
	}
	ctx, span := r.cfg.Tracer.StartSpan(ctx, "recompress")
	defer func() {
		if err != nil {
			span.SetError(err)
		}
		span.SetTag(observability.MetricImagesSeen, rep.Seen)
		span.SetTag(observability.MetricImagesRewritten, rep.Recompressed)
		span.SetTag(observability.MetricImageBytesBefore, rep.BytesBefore)
		span.SetTag(observability.MetricImageBytesAfter, rep.BytesAfter)
		span.Finish()
	}()

	params := imageParams{
		scale:   scale,
		factor:  QualityFactor(scale),
		quality: JPEGQuality(scale),
	}
	for _, ref := range doc.Store.Refs() {
		if err := ctx.Err(); err != nil {
			return rep, err
		}
		obj, _ := doc.Store.Get(ref)
		st, ok := obj.(*raw.StreamObj)
		if !ok || !isImage(st) {
			continue
		}
		rep.Seen++
		before := int64(len(st.Data))
		if err := recompressImage(st, params); err != nil {
			rep.Skipped++
			r.cfg.Logger.Debug("image skipped",
				observability.String("ref", ref.String()),
				observability.Error("reason", err))
			continue
		}
		rep.Recompressed++
		rep.BytesBefore += before
		rep.BytesAfter += int64(len(st.Data))
	}
	return rep, nil
}

func isImage(st *raw.StreamObj) bool {
	if st.Dict == nil {
		return false
	}
	n, ok := st.Dict.Get("Subtype").(raw.NameObj)
	return ok && n.Val == "Image"
}
