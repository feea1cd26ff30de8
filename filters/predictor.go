package filters

import (
	"errors"
	"fmt"

	"github.com/wudi/pdfpress/ir/raw"
)

// predictorParams holds the DecodeParms entries used by Flate and LZW.
type predictorParams struct {
	predictor int
	colors    int
	bpc       int
	columns   int
}

func readPredictorParams(d *raw.DictObj) predictorParams {
	p := predictorParams{predictor: 1, colors: 1, bpc: 8, columns: 1}
	intOf := func(key string, dst *int) {
		if v, ok := d.Get(key).(raw.IntObj); ok && v.V > 0 {
			*dst = int(v.V)
		}
	}
	intOf("Predictor", &p.predictor)
	intOf("Colors", &p.colors)
	intOf("BitsPerComponent", &p.bpc)
	intOf("Columns", &p.columns)
	return p
}

func applyPredictor(data []byte, params *raw.DictObj) ([]byte, error) {
	p := readPredictorParams(params)
	switch {
	case p.predictor == 1:
		return data, nil
	case p.predictor == 2:
		return undoTIFF(data, p)
	case p.predictor >= 10 && p.predictor <= 15:
		return undoPNG(data, p)
	default:
		return nil, fmt.Errorf("unsupported predictor %d", p.predictor)
	}
}

func (p predictorParams) rowBytes() int   { return (p.colors*p.bpc*p.columns + 7) / 8 }
func (p predictorParams) pixelBytes() int { return max(1, (p.colors*p.bpc+7)/8) }

// undoPNG reverses per-row PNG filters. Each row carries its own filter type
// byte, so predictors 10 to 15 all decode the same way.
func undoPNG(data []byte, p predictorParams) ([]byte, error) {
	rowLen := p.rowBytes()
	bpp := p.pixelBytes()
	if rowLen <= 0 {
		return nil, errors.New("invalid predictor row length")
	}
	out := make([]byte, 0, len(data))
	prev := make([]byte, rowLen)
	cur := make([]byte, rowLen)
	for off := 0; off < len(data); off += rowLen + 1 {
		end := off + rowLen + 1
		if end > len(data) {
			// Partial trailing row; zero-pad as most readers do.
			end = len(data)
		}
		ft := data[off]
		clear(cur)
		copy(cur, data[off+1:end])
		for i := range cur {
			var a, b, c byte
			if i >= bpp {
				a = cur[i-bpp]
				c = prev[i-bpp]
			}
			b = prev[i]
			switch ft {
			case 0:
			case 1:
				cur[i] += a
			case 2:
				cur[i] += b
			case 3:
				cur[i] += byte((int(a) + int(b)) / 2)
			case 4:
				cur[i] += paeth(a, b, c)
			default:
				return nil, fmt.Errorf("invalid PNG filter type %d", ft)
			}
		}
		out = append(out, cur...)
		prev, cur = cur, prev
	}
	return out, nil
}

func paeth(a, b, c byte) byte {
	p := int(a) + int(b) - int(c)
	pa, pb, pc := abs(p-int(a)), abs(p-int(b)), abs(p-int(c))
	switch {
	case pa <= pb && pa <= pc:
		return a
	case pb <= pc:
		return b
	default:
		return c
	}
}

func abs(x int) int {
	if x < 0 {
		return -x
	}
	return x
}

// undoTIFF reverses TIFF predictor 2. Only 8-bit components are supported.
func undoTIFF(data []byte, p predictorParams) ([]byte, error) {
	if p.bpc != 8 {
		return nil, fmt.Errorf("TIFF predictor with %d bits per component not supported", p.bpc)
	}
	rowLen := p.rowBytes()
	out := append([]byte(nil), data...)
	for row := 0; row < len(out); row += rowLen {
		end := min(row+rowLen, len(out))
		for i := row + p.colors; i < end; i++ {
			out[i] += out[i-p.colors]
		}
	}
	return out, nil
}
