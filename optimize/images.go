package optimize

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	"image/jpeg"
	"image/png"
	"math"

	"golang.org/x/image/draw"

	"github.com/wudi/pdfpress/filters"
	"github.com/wudi/pdfpress/ir/raw"
)

type imageFormat int

const (
	formatUnknown imageFormat = iota
	formatJPEG
	formatPNG
)

var (
	jpegSignature = []byte{0xFF, 0xD8}
	pngSignature  = []byte{0x89, 'P', 'N', 'G'}
)

var (
	errUnknownFormat   = errors.New("unrecognized image signature")
	errAlreadyScaled   = errors.New("already recompressed at this scale or higher")
	errUnsupportedCMYK = errors.New("CMYK JPEG not supported")
)

func classify(data []byte) imageFormat {
	switch {
	case bytes.HasPrefix(data, jpegSignature):
		return formatJPEG
	case bytes.HasPrefix(data, pngSignature):
		return formatPNG
	}
	return formatUnknown
}

type imageParams struct {
	scale   int
	factor  float64
	quality int
}

// scaledDim returns max(1, round(dim*factor)).
func scaledDim(dim int, factor float64) int {
	return max(1, int(math.Round(float64(dim)*factor)))
}

// recompressImage replaces st's payload with a resized, re-encoded copy. On
// any error st is left unmodified.
func recompressImage(st *raw.StreamObj, p imageParams) error {
	format := classify(st.Data)
	if format == formatUnknown {
		return errUnknownFormat
	}
	if prev, ok := st.Dict.Get(ScaleKey).(raw.IntObj); ok && prev.V >= int64(p.scale) {
		return errAlreadyScaled
	}

	cfg, _, err := image.DecodeConfig(bytes.NewReader(st.Data))
	if err != nil {
		return fmt.Errorf("read header: %w", err)
	}
	if err := filters.ValidateImageBounds(cfg.Width, cfg.Height); err != nil {
		return err
	}

	var src image.Image
	switch format {
	case formatJPEG:
		src, err = jpeg.Decode(bytes.NewReader(st.Data))
	case formatPNG:
		src, err = png.Decode(bytes.NewReader(st.Data))
	}
	if err != nil {
		return fmt.Errorf("decode: %w", err)
	}
	if _, ok := src.(*image.CMYK); ok {
		return errUnsupportedCMYK
	}

	b := src.Bounds()
	w, h := scaledDim(b.Dx(), p.factor), scaledDim(b.Dy(), p.factor)
	img := resize(src, w, h)

	var buf bytes.Buffer
	switch format {
	case formatJPEG:
		err = jpeg.Encode(&buf, img, &jpeg.Options{Quality: p.quality})
	case formatPNG:
		enc := png.Encoder{CompressionLevel: png.BestCompression}
		err = enc.Encode(&buf, img)
	}
	if err != nil {
		return fmt.Errorf("encode: %w", err)
	}

	st.Data = buf.Bytes()
	st.Dict.Set("Width", raw.Int(int64(w)))
	st.Dict.Set("Height", raw.Int(int64(h)))
	st.Dict.Set(ScaleKey, raw.Int(int64(p.scale)))
	if format == formatJPEG {
		st.Dict.Set("Filter", raw.Name("DCTDecode"))
		st.Dict.Delete("DecodeParms")
	}
	return nil
}

// resize scales src to w×h with a Lanczos-3 filter. Grayscale input stays
// grayscale so the image's color space entry remains valid.
func resize(src image.Image, w, h int) image.Image {
	b := src.Bounds()
	if b.Dx() == w && b.Dy() == h {
		return src
	}
	rect := image.Rect(0, 0, w, h)
	var dst draw.Image
	switch src.(type) {
	case *image.Gray, *image.Gray16:
		dst = image.NewGray(rect)
	default:
		dst = image.NewNRGBA(rect)
	}
	Lanczos3.Scale(dst, rect, src, b, draw.Src, nil)
	return dst
}
