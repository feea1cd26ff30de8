package optimize

import (
	"bytes"
	"image"
	"image/color"
	"image/jpeg"
	"image/png"
	"math"
	"testing"

	"github.com/wudi/pdfpress/internal/pdftest"
	"github.com/wudi/pdfpress/ir/raw"
)

func decode(data []byte) (image.Image, error) {
	img, _, err := image.Decode(bytes.NewReader(data))
	return img, err
}

func TestClassify(t *testing.T) {
	tests := []struct {
		name string
		data []byte
		want imageFormat
	}{
		{"jpeg", []byte{0xFF, 0xD8, 0xFF, 0xE0}, formatJPEG},
		{"png", []byte{0x89, 'P', 'N', 'G', '\r', '\n'}, formatPNG},
		{"raw", []byte{0x00, 0x01}, formatUnknown},
		{"short", []byte{0xFF}, formatUnknown},
		{"empty", nil, formatUnknown},
	}
	for _, tt := range tests {
		if got := classify(tt.data); got != tt.want {
			t.Fatalf("%s: got %v want %v", tt.name, got, tt.want)
		}
	}
}

func TestScaledDim(t *testing.T) {
	tests := []struct {
		dim    int
		factor float64
		want   int
	}{
		{100, 0.25, 25},
		{1, 0.25, 1},
		{3, 0.5, 2},
		{7, 1, 7},
		{10, 0.01, 1},
	}
	for _, tt := range tests {
		if got := scaledDim(tt.dim, tt.factor); got != tt.want {
			t.Fatalf("scaledDim(%d, %v) = %d, want %d", tt.dim, tt.factor, got, tt.want)
		}
	}
}

func TestLanczos3(t *testing.T) {
	tests := []struct {
		t, want float64
	}{
		{0, 1},
		{1, 0},
		{-2, 0},
		{3, 0},
		{4.5, 0},
	}
	for _, tt := range tests {
		if got := Lanczos3.At(tt.t); math.Abs(got-tt.want) > 1e-12 {
			t.Fatalf("At(%v) = %v, want %v", tt.t, got, tt.want)
		}
	}
	if got := Lanczos3.At(0.5); got <= 0 || got >= 1 {
		t.Fatalf("At(0.5) = %v, want in (0,1)", got)
	}
	if Lanczos3.At(1.5) >= 0 {
		t.Fatalf("first side lobe should be negative")
	}
}

func TestResizeKeepsGray(t *testing.T) {
	gray := image.NewGray(image.Rect(0, 0, 16, 16))
	for i := range gray.Pix {
		gray.Pix[i] = uint8(i)
	}
	out := resize(gray, 4, 4)
	if _, ok := out.(*image.Gray); !ok {
		t.Fatalf("resize returned %T, want *image.Gray", out)
	}
	if out.Bounds() != image.Rect(0, 0, 4, 4) {
		t.Fatalf("bounds = %v", out.Bounds())
	}
	if same := resize(gray, 16, 16); same != image.Image(gray) {
		t.Fatalf("same-size resize should return the source")
	}
}

func TestResizeUniformColor(t *testing.T) {
	src := image.NewNRGBA(image.Rect(0, 0, 30, 30))
	fill := color.NRGBA{R: 200, G: 40, B: 90, A: 255}
	for y := 0; y < 30; y++ {
		for x := 0; x < 30; x++ {
			src.SetNRGBA(x, y, fill)
		}
	}
	out := resize(src, 7, 7).(*image.NRGBA)
	got := out.NRGBAAt(3, 3)
	if diff := int(got.R) - int(fill.R); diff < -2 || diff > 2 {
		t.Fatalf("center pixel = %v, want about %v", got, fill)
	}
}

func TestRecompressImageGrayJPEG(t *testing.T) {
	gray := image.NewGray(image.Rect(0, 0, 40, 40))
	for i := range gray.Pix {
		gray.Pix[i] = uint8(i % 251)
	}
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, gray, nil); err != nil {
		t.Fatal(err)
	}
	st := pdftest.ImageStream(buf.Bytes(), 40, 40, "DCTDecode")
	st.Dict.Set("ColorSpace", raw.Name("DeviceGray"))
	if err := recompressImage(st, imageParams{scale: 10, factor: QualityFactor(10), quality: JPEGQuality(10)}); err != nil {
		t.Fatalf("recompressImage: %v", err)
	}
	img, err := jpeg.Decode(bytes.NewReader(st.Data))
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if _, ok := img.(*image.Gray); !ok {
		t.Fatalf("gray JPEG re-encoded as %T", img)
	}
}

func TestRecompressImageRespectsMarker(t *testing.T) {
	var buf bytes.Buffer
	if err := png.Encode(&buf, pdftest.Gradient(20, 20)); err != nil {
		t.Fatal(err)
	}
	st := pdftest.ImageStream(buf.Bytes(), 20, 20, "")
	st.Dict.Set(ScaleKey, raw.Int(6))
	if err := recompressImage(st, imageParams{scale: 6, factor: QualityFactor(6), quality: JPEGQuality(6)}); err != errAlreadyScaled {
		t.Fatalf("err = %v, want errAlreadyScaled", err)
	}
	if err := recompressImage(st, imageParams{scale: 8, factor: QualityFactor(8), quality: JPEGQuality(8)}); err != nil {
		t.Fatalf("harsher scale should apply: %v", err)
	}
	if st.Dict.Get(ScaleKey) != raw.Int(8) {
		t.Fatalf("marker = %v, want 8", st.Dict.Get(ScaleKey))
	}
}

func TestRecompressImageOversized(t *testing.T) {
	// A PNG header claiming a huge canvas is refused before decoding.
	var buf bytes.Buffer
	if err := png.Encode(&buf, image.NewGray(image.Rect(0, 0, 1, 1))); err != nil {
		t.Fatal(err)
	}
	data := buf.Bytes()
	// IHDR width lives at bytes 16..19.
	data[16], data[17], data[18], data[19] = 0x00, 0x01, 0x00, 0x00
	st := pdftest.ImageStream(data, 1, 1, "")
	if err := recompressImage(st, imageParams{scale: 5, factor: QualityFactor(5), quality: JPEGQuality(5)}); err == nil {
		t.Fatalf("expected oversized image to be refused")
	}
}
