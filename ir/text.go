package ir

import (
	"bytes"
	"strings"

	"golang.org/x/text/encoding/charmap"
	"golang.org/x/text/encoding/unicode"
)

// pdfDocHigh maps the PDFDocEncoding code points 0x80-0xA0 that differ
// from Latin-1.
var pdfDocHigh = map[byte]rune{
	0x80: '•', 0x81: '†', 0x82: '‡', 0x83: '…',
	0x84: '—', 0x85: '–', 0x86: 'ƒ', 0x87: '⁄',
	0x88: '‹', 0x89: '›', 0x8A: '−', 0x8B: '‰',
	0x8C: '„', 0x8D: '“', 0x8E: '”', 0x8F: '‘',
	0x90: '’', 0x91: '‚', 0x92: '™', 0x93: 'ﬁ',
	0x94: 'ﬂ', 0x95: 'Ł', 0x96: 'Œ', 0x97: 'Š',
	0x98: 'Ÿ', 0x99: 'Ž', 0x9A: 'ı', 0x9B: 'ł',
	0x9C: 'œ', 0x9D: 'š', 0x9E: 'ž', 0xA0: '€',
}

var (
	bomUTF16BE = []byte{0xFE, 0xFF}
	bomUTF8    = []byte{0xEF, 0xBB, 0xBF}
)

// DecodeTextString converts a PDF text string to UTF-8. UTF-16BE and UTF-8
// strings are recognized by their byte order mark; anything else is read as
// PDFDocEncoding.
func DecodeTextString(b []byte) string {
	switch {
	case bytes.HasPrefix(b, bomUTF16BE):
		dec := unicode.UTF16(unicode.BigEndian, unicode.ExpectBOM).NewDecoder()
		out, err := dec.Bytes(b)
		if err != nil {
			return string(bytes.ToValidUTF8(b[2:], []byte("�")))
		}
		return string(out)
	case bytes.HasPrefix(b, bomUTF8):
		return string(bytes.ToValidUTF8(b[3:], []byte("�")))
	}
	var sb strings.Builder
	latin1 := charmap.ISO8859_1
	for _, c := range b {
		if r, ok := pdfDocHigh[c]; ok {
			sb.WriteRune(r)
			continue
		}
		sb.WriteRune(latin1.DecodeByte(c))
	}
	return sb.String()
}
