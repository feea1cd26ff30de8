package optimize

import (
	"bytes"
	"context"
	"errors"
	"math"
	"os"
	"path/filepath"
	"testing"

	"github.com/wudi/pdfpress/internal/pdftest"
	"github.com/wudi/pdfpress/ir"
	"github.com/wudi/pdfpress/ir/raw"
	"github.com/wudi/pdfpress/pdferr"
)

func TestQualityMapping(t *testing.T) {
	tests := []struct {
		scale   int
		factor  float64
		quality int
	}{
		{1, 1.0, 100},
		{2, 1 - 0.75/9, 93},
		{5, 1 - 4.0/9*0.75, 69},
		{10, 0.25, 30},
	}
	for _, tt := range tests {
		if got := QualityFactor(tt.scale); math.Abs(got-tt.factor) > 1e-9 {
			t.Fatalf("QualityFactor(%d) = %v, want %v", tt.scale, got, tt.factor)
		}
		if got := JPEGQuality(tt.scale); got != tt.quality {
			t.Fatalf("JPEGQuality(%d) = %d, want %d", tt.scale, got, tt.quality)
		}
	}
}

// imageDoc returns a one-page document with the given images, keyed by
// resource name, and the refs they were stored under.
func imageDoc(images map[string]*raw.StreamObj) (*raw.Document, map[string]raw.ObjectRef) {
	b := pdftest.New("1.4")
	page := b.AddPage(b.Root(), "q /Im1 Do Q")
	refs := make(map[string]raw.ObjectRef)
	for name, img := range images {
		refs[name] = b.AddImage(page, name, img)
	}
	return b.Doc(), refs
}

func stream(t *testing.T, doc *raw.Document, ref raw.ObjectRef) *raw.StreamObj {
	t.Helper()
	obj, ok := doc.Store.Get(ref)
	if !ok {
		t.Fatalf("object %v missing", ref)
	}
	return obj.(*raw.StreamObj)
}

func TestRecompressInvalidScale(t *testing.T) {
	doc, refs := imageDoc(map[string]*raw.StreamObj{
		"Im1": pdftest.ImageStream(pdftest.JPEG(t, 40, 40), 40, 40, "DCTDecode"),
	})
	before := append([]byte(nil), stream(t, doc, refs["Im1"]).Data...)
	for _, scale := range []int{0, 11, -3} {
		_, err := New(Config{}).Recompress(context.Background(), doc, scale)
		if !errors.Is(err, pdferr.ErrInvalidScale) {
			t.Fatalf("scale %d: err = %v, want InvalidScale", scale, err)
		}
	}
	if !bytes.Equal(before, stream(t, doc, refs["Im1"]).Data) {
		t.Fatalf("image modified despite invalid scale")
	}
}

func TestRecompressFileInvalidScaleBeforeIO(t *testing.T) {
	dir := t.TempDir()
	output := filepath.Join(dir, "out.pdf")
	for _, scale := range []int{0, 11} {
		_, err := New(Config{}).RecompressFile(context.Background(), filepath.Join(dir, "missing.pdf"), output, scale)
		if !errors.Is(err, pdferr.ErrInvalidScale) {
			t.Fatalf("scale %d: err = %v, want InvalidScale", scale, err)
		}
	}
	if _, err := os.Stat(output); !os.IsNotExist(err) {
		t.Fatalf("output should not exist")
	}
}

func TestRecompressFileMissingInput(t *testing.T) {
	dir := t.TempDir()
	missing := filepath.Join(dir, "missing.pdf")
	_, err := New(Config{}).RecompressFile(context.Background(), missing, filepath.Join(dir, "out.pdf"), 5)
	if !errors.Is(err, pdferr.ErrIO) {
		t.Fatalf("err = %v, want IO", err)
	}
	var pe *pdferr.Error
	if !errors.As(err, &pe) || pe.Path != missing {
		t.Fatalf("error should name the input: %v", err)
	}
}

func TestRecompressFileTruncatedInput(t *testing.T) {
	dir := t.TempDir()
	input := filepath.Join(dir, "trunc.pdf")
	if err := os.WriteFile(input, []byte("%PDF-1.4\n1 0 obj\n<</Type/Catalog/Pages 2 0 R"), 0o644); err != nil {
		t.Fatal(err)
	}
	output := filepath.Join(dir, "out.pdf")
	_, err := New(Config{}).RecompressFile(context.Background(), input, output, DefaultScale)
	if !errors.Is(err, pdferr.ErrParse) {
		t.Fatalf("err = %v, want Parse", err)
	}
	var pe *pdferr.Error
	if !errors.As(err, &pe) || pe.Path != input {
		t.Fatalf("error should name %s: %v", input, err)
	}
	if _, err := os.Stat(output); !os.IsNotExist(err) {
		t.Fatalf("output should not exist")
	}
}

func TestRecompressScales(t *testing.T) {
	tests := []struct {
		scale      int
		jpegW      int
		jpegH      int
		pngW, pngH int
	}{
		{1, 200, 100, 40, 20},
		{10, 50, 25, 10, 5},
		{4, 150, 75, 30, 15},
	}
	for _, tt := range tests {
		doc, refs := imageDoc(map[string]*raw.StreamObj{
			"Im1": pdftest.ImageStream(pdftest.JPEG(t, 200, 100), 200, 100, "DCTDecode"),
			"Im2": pdftest.ImageStream(pdftest.PNG(t, 40, 20), 40, 20, ""),
		})
		rep, err := New(Config{}).Recompress(context.Background(), doc, tt.scale)
		if err != nil {
			t.Fatalf("scale %d: %v", tt.scale, err)
		}
		if rep.Seen != 2 || rep.Recompressed != 2 || rep.Skipped != 0 {
			t.Fatalf("scale %d: report = %+v", tt.scale, rep)
		}
		checkImage(t, stream(t, doc, refs["Im1"]), formatJPEG, tt.jpegW, tt.jpegH)
		checkImage(t, stream(t, doc, refs["Im2"]), formatPNG, tt.pngW, tt.pngH)
		if got := stream(t, doc, refs["Im1"]).Dict.Get(ScaleKey); got != raw.Int(int64(tt.scale)) {
			t.Fatalf("scale marker = %v", got)
		}
	}
}

func checkImage(t *testing.T, st *raw.StreamObj, format imageFormat, w, h int) {
	t.Helper()
	if got := classify(st.Data); got != format {
		t.Fatalf("format = %v, want %v", got, format)
	}
	img, err := decode(st.Data)
	if err != nil {
		t.Fatalf("decode recompressed image: %v", err)
	}
	if b := img.Bounds(); b.Dx() != w || b.Dy() != h {
		t.Fatalf("image is %dx%d, want %dx%d", b.Dx(), b.Dy(), w, h)
	}
	if st.Dict.Get("Width") != raw.Int(int64(w)) || st.Dict.Get("Height") != raw.Int(int64(h)) {
		t.Fatalf("dictionary size %v x %v, want %d x %d", st.Dict.Get("Width"), st.Dict.Get("Height"), w, h)
	}
}

func TestRecompressSkipsUnknownAndBroken(t *testing.T) {
	rawPixels := bytes.Repeat([]byte{1, 2, 3}, 16)
	broken := append([]byte{0xFF, 0xD8, 0xFF, 0xE0}, bytes.Repeat([]byte{0x42}, 64)...)
	doc, refs := imageDoc(map[string]*raw.StreamObj{
		"Raw":    pdftest.ImageStream(rawPixels, 4, 4, ""),
		"Broken": pdftest.ImageStream(broken, 10, 10, "DCTDecode"),
	})
	rep, err := New(Config{}).Recompress(context.Background(), doc, 7)
	if err != nil {
		t.Fatalf("Recompress: %v", err)
	}
	if rep.Seen != 2 || rep.Skipped != 2 || rep.Recompressed != 0 {
		t.Fatalf("report = %+v", rep)
	}
	if !bytes.Equal(stream(t, doc, refs["Raw"]).Data, rawPixels) {
		t.Fatalf("unrecognized image changed")
	}
	if !bytes.Equal(stream(t, doc, refs["Broken"]).Data, broken) {
		t.Fatalf("undecodable image changed")
	}
	if stream(t, doc, refs["Broken"]).Dict.Has(ScaleKey) {
		t.Fatalf("skipped image was marked")
	}
}

func TestRecompressCancelled(t *testing.T) {
	doc, _ := imageDoc(map[string]*raw.StreamObj{
		"Im1": pdftest.ImageStream(pdftest.JPEG(t, 20, 20), 20, 20, "DCTDecode"),
	})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := New(Config{}).Recompress(ctx, doc, 5); !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v, want context.Canceled", err)
	}
}

func TestRecompressFileEndToEnd(t *testing.T) {
	dir := t.TempDir()
	rawPixels := bytes.Repeat([]byte{9, 8, 7}, 25)
	doc, refs := imageDoc(map[string]*raw.StreamObj{
		"Im1": pdftest.ImageStream(pdftest.JPEG(t, 120, 80), 120, 80, "DCTDecode"),
		"Raw": pdftest.ImageStream(rawPixels, 5, 5, ""),
	})
	input := pdftest.WriteFile(t, dir, "in.pdf", doc)
	first := filepath.Join(dir, "first.pdf")
	second := filepath.Join(dir, "second.pdf")

	r := New(Config{})
	rep, err := r.RecompressFile(context.Background(), input, first, 10)
	if err != nil {
		t.Fatalf("RecompressFile: %v", err)
	}
	if rep.Recompressed != 1 || rep.Skipped != 1 || rep.BytesAfter >= rep.BytesBefore {
		t.Fatalf("report = %+v", rep)
	}

	out, err := ir.NewDefault().Load(context.Background(), first)
	if err != nil {
		t.Fatalf("load output: %v", err)
	}
	checkImage(t, stream(t, out, refs["Im1"]), formatJPEG, 30, 20)
	if !bytes.Equal(stream(t, out, refs["Raw"]).Data, rawPixels) {
		t.Fatalf("unrecognized image not byte-identical in output")
	}

	// A second pass at the same scale leaves dimensions alone.
	rep, err = r.RecompressFile(context.Background(), first, second, 10)
	if err != nil {
		t.Fatalf("second RecompressFile: %v", err)
	}
	if rep.Recompressed != 0 {
		t.Fatalf("second pass recompressed %d images", rep.Recompressed)
	}
	out, err = ir.NewDefault().Load(context.Background(), second)
	if err != nil {
		t.Fatalf("load second output: %v", err)
	}
	checkImage(t, stream(t, out, refs["Im1"]), formatJPEG, 30, 20)
}
