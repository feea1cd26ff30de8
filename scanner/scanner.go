package scanner

import (
	"bytes"
	"errors"
	"io"
	"strconv"

	"github.com/wudi/pdfpress/recovery"
)

type TokenType int

const (
	TokenDict    TokenType = iota // '<<'
	TokenArray                    // '['
	TokenName                     // '/Name'
	TokenString                   // literal or hex string
	TokenNumber                   // numeric value
	TokenBoolean                  // true/false
	TokenNull                     // null
	TokenRef                      // indirect ref '5 0 R'
	TokenStream                   // 'stream' keyword plus payload
	TokenKeyword                  // other keywords (obj, endobj, >>, ], trailer, etc.)
)

// Token is one lexical unit. Which fields are set depends on Type.
type Token struct {
	Type  TokenType
	Pos   int64
	Str   string  // name or keyword
	Int   int64   // integer value, or object number of a reference
	Float float64 // real value
	IsInt bool
	Gen   int    // generation of a reference
	Bool  bool   // boolean value
	Bytes []byte // string or stream payload
	Hex   bool   // string was written in hex form
}

type Scanner interface {
	Next() (Token, error)
	Position() int64
	SeekTo(offset int64) error
	SetNextStreamLength(n int64)
}

type Config struct {
	MaxStringLength int64
	MaxNestingDepth int
	MaxStreamLength int64
	MaxStreamScan   int64
	WindowSize      int64
	Recovery        recovery.Strategy
}

type ReaderAt interface {
	ReadAt(p []byte, off int64) (n int, err error)
}

// pdfScanner incrementally buffers PDF data from a ReaderAt in fixed-size windows.
type pdfScanner struct {
	reader        ReaderAt
	data          []byte
	pos           int64
	cfg           Config
	nextStreamLen int64
	chunkSize     int64
	eof           bool
	arrayDepth    int
	dictDepth     int
	recLoc        recovery.Location
	lastAction    recovery.Action
}

// New returns a scanner reading lazily from r.
func New(r ReaderAt, cfg Config) Scanner {
	chunk := cfg.WindowSize
	if chunk <= 0 {
		chunk = 64 * 1024
	}
	return &pdfScanner{reader: r, cfg: cfg, nextStreamLen: -1, chunkSize: chunk}
}

func (s *pdfScanner) Position() int64 { return s.pos }

func (s *pdfScanner) SeekTo(offset int64) error {
	if offset < 0 {
		return errors.New("seek out of range")
	}
	if err := s.ensure(offset); err != nil && !errors.Is(err, io.EOF) {
		return err
	}
	if offset > int64(len(s.data)) {
		return errors.New("seek out of range")
	}
	s.pos = offset
	s.arrayDepth, s.dictDepth = 0, 0
	return nil
}

func (s *pdfScanner) SetNextStreamLength(n int64)               { s.nextStreamLen = n }
func (s *pdfScanner) SetRecoveryLocation(loc recovery.Location) { s.recLoc = loc }

func (s *pdfScanner) Next() (Token, error) {
	if err := s.skipWSAndComments(); err != nil {
		if errors.Is(err, io.EOF) {
			return Token{}, io.EOF
		}
		return Token{}, err
	}
	if s.pos >= int64(len(s.data)) {
		return Token{}, io.EOF
	}
	start := s.pos
	c := s.data[s.pos]
	// Structural tokens
	switch c {
	case '<':
		if s.peekAhead(1) == '<' { // dictionary start
			s.pos += 2
			return s.emit(Token{Type: TokenDict, Str: "<<", Pos: start})
		}
		return s.scanHexString()
	case '>':
		if s.peekAhead(1) == '>' {
			s.pos += 2
			return s.emit(Token{Type: TokenKeyword, Str: ">>", Pos: start})
		}
		s.pos++
		return s.emit(Token{Type: TokenKeyword, Str: ">", Pos: start})
	case '[':
		s.pos++
		return s.emit(Token{Type: TokenArray, Str: "[", Pos: start})
	case ']':
		s.pos++
		return s.emit(Token{Type: TokenKeyword, Str: "]", Pos: start})
	case '(':
		return s.scanLiteralString()
	case '/':
		return s.scanName()
	}
	if isDigitStart(c) {
		return s.scanNumberOrRef()
	}
	if isRegular(c) {
		return s.scanKeyword()
	}
	// Fallback single char keyword
	s.pos++
	return s.emit(Token{Type: TokenKeyword, Str: string(c), Pos: start})
}

func (s *pdfScanner) skipWSAndComments() error {
	for {
		if err := s.ensure(s.pos); err != nil {
			return err
		}
		c := s.data[s.pos]
		if isWhitespace(c) {
			s.pos++
			continue
		}
		if c == '%' {
			for {
				s.pos++
				if err := s.ensure(s.pos); err != nil {
					return err
				}
				if isEOL(s.data[s.pos]) {
					break
				}
			}
			continue
		}
		return nil
	}
}

// ensure makes data[n] addressable, or returns io.EOF.
func (s *pdfScanner) ensure(n int64) error {
	for int64(len(s.data)) <= n {
		if s.eof {
			return io.EOF
		}
		if err := s.loadMore(); err != nil {
			return err
		}
	}
	return nil
}

func (s *pdfScanner) loadMore() error {
	buf := make([]byte, s.chunkSize)
	off := int64(len(s.data))
	n, err := s.reader.ReadAt(buf, off)
	if n > 0 {
		s.data = append(s.data, buf[:n]...)
	}
	if errors.Is(err, io.EOF) || (err == nil && n == 0) {
		s.eof = true
		return nil
	}
	return err
}

func (s *pdfScanner) scanName() (Token, error) {
	start := s.pos
	s.pos++ // skip '/'
	var out bytes.Buffer
	for s.ensure(s.pos) == nil {
		c := s.data[s.pos]
		if isDelimiter(c) {
			break
		}
		if c == '#' && s.isHexAt(s.pos+1) && s.isHexAt(s.pos+2) {
			out.WriteByte(fromHex(s.data[s.pos+1])<<4 | fromHex(s.data[s.pos+2]))
			s.pos += 3
			continue
		}
		out.WriteByte(c)
		s.pos++
	}
	return s.emit(Token{Type: TokenName, Str: out.String(), Pos: start})
}

func (s *pdfScanner) isHexAt(i int64) bool {
	if s.ensure(i) != nil {
		return false
	}
	c := s.data[i]
	return (c >= '0' && c <= '9') || (c >= 'A' && c <= 'F') || (c >= 'a' && c <= 'f')
}

func (s *pdfScanner) scanLiteralString() (Token, error) {
	start := s.pos
	s.pos++ // skip '('
	var buf bytes.Buffer
	depth := 1
	for depth > 0 && s.ensure(s.pos) == nil {
		c := s.data[s.pos]
		switch c {
		case '\\':
			s.pos++
			if s.ensure(s.pos) != nil {
				continue
			}
			esc := s.data[s.pos]
			switch {
			case esc == '\r': // line continuation
				s.pos++
				if s.ensure(s.pos) == nil && s.data[s.pos] == '\n' {
					s.pos++
				}
			case esc == '\n':
				s.pos++
			case esc >= '0' && esc <= '7':
				val := int(esc - '0')
				s.pos++
				for k := 0; k < 2 && s.ensure(s.pos) == nil; k++ {
					d := s.data[s.pos]
					if d < '0' || d > '7' {
						break
					}
					val = val<<3 + int(d-'0')
					s.pos++
				}
				buf.WriteByte(byte(val))
			default:
				buf.WriteByte(translateEscape(esc))
				s.pos++
			}
			continue
		case '(':
			depth++
		case ')':
			depth--
			if depth == 0 {
				s.pos++
				continue
			}
		}
		buf.WriteByte(c)
		s.pos++
		if s.cfg.MaxStringLength > 0 && int64(buf.Len()) > s.cfg.MaxStringLength {
			return Token{}, errors.New("literal string too long")
		}
	}
	if depth != 0 {
		if err := s.recover(errors.New("unterminated literal string"), "literal"); err != nil {
			return Token{}, err
		}
	}
	return s.emit(Token{Type: TokenString, Bytes: buf.Bytes(), Pos: start})
}

func (s *pdfScanner) scanHexString() (Token, error) {
	start := s.pos
	s.pos++ // skip '<'
	var hexbuf []byte
	closed := false
	for s.ensure(s.pos) == nil {
		c := s.data[s.pos]
		s.pos++
		if c == '>' {
			closed = true
			break
		}
		if isWhitespace(c) {
			continue
		}
		hexbuf = append(hexbuf, c)
	}
	if !closed {
		if err := s.recover(errors.New("unterminated hex string"), "hex"); err != nil {
			return Token{}, err
		}
	}
	// If odd number of nibbles, pad with 0
	if len(hexbuf)%2 == 1 {
		hexbuf = append(hexbuf, '0')
	}
	if s.cfg.MaxStringLength > 0 && int64(len(hexbuf)/2) > s.cfg.MaxStringLength {
		return Token{}, errors.New("hex string too long")
	}
	out := make([]byte, 0, len(hexbuf)/2)
	for i := 0; i < len(hexbuf); i += 2 {
		out = append(out, fromHex(hexbuf[i])<<4|fromHex(hexbuf[i+1]))
	}
	return s.emit(Token{Type: TokenString, Bytes: out, Hex: true, Pos: start})
}

// scanStream consumes the payload following a 'stream' keyword. With a
// length hint the payload is taken verbatim; otherwise it runs to the next
// 'endstream' marker.
func (s *pdfScanner) scanStream(start int64) (Token, error) {
	hint := s.nextStreamLen
	s.nextStreamLen = -1

	// PDF 7.3.8: stream keyword is followed by CRLF or LF.
	if s.ensure(s.pos) == nil && s.data[s.pos] == '\r' {
		s.pos++
	}
	if s.ensure(s.pos) == nil && s.data[s.pos] == '\n' {
		s.pos++
	}
	dataStart := s.pos
	needle := []byte("endstream")

	if hint >= 0 {
		if s.cfg.MaxStreamLength > 0 && hint > s.cfg.MaxStreamLength {
			return Token{}, errors.New("stream too long")
		}
		end := dataStart + hint
		_ = s.ensure(end + int64(len(needle)) + 2)
		if end > int64(len(s.data)) {
			if err := s.recover(errors.New("stream ended before declared length"), "stream"); err != nil {
				return Token{}, err
			}
			end = int64(len(s.data))
		}
		after := end
		for after < int64(len(s.data)) && isWhitespace(s.data[after]) {
			after++
		}
		if bytes.HasPrefix(s.data[after:], needle) {
			payload := append([]byte(nil), s.data[dataStart:end]...)
			s.pos = after + int64(len(needle))
			return s.emit(Token{Type: TokenStream, Bytes: payload, Pos: start})
		}
		// Declared length is wrong; fall back to scanning for the marker.
		if err := s.recover(errors.New("stream length does not match endstream"), "stream"); err != nil {
			return Token{}, err
		}
	}

	for i := dataStart; ; i++ {
		if s.cfg.MaxStreamScan > 0 && i-dataStart > s.cfg.MaxStreamScan {
			if err := s.recover(errors.New("endstream not found within scan limit"), "stream"); err != nil {
				return Token{}, err
			}
			payload := append([]byte(nil), s.data[dataStart:i]...)
			s.pos = i
			return s.emit(Token{Type: TokenStream, Bytes: payload, Pos: start})
		}
		if s.ensure(i+int64(len(needle))-1) != nil {
			break
		}
		if s.data[i] != 'e' || !bytes.Equal(s.data[i:i+int64(len(needle))], needle) {
			continue
		}
		end := i
		if end > dataStart && s.data[end-1] == '\n' {
			end--
		}
		if end > dataStart && s.data[end-1] == '\r' {
			end--
		}
		if s.cfg.MaxStreamLength > 0 && end-dataStart > s.cfg.MaxStreamLength {
			return Token{}, errors.New("stream too long")
		}
		payload := append([]byte(nil), s.data[dataStart:end]...)
		s.pos = i + int64(len(needle))
		return s.emit(Token{Type: TokenStream, Bytes: payload, Pos: start})
	}
	if err := s.recover(errors.New("unterminated stream"), "stream"); err != nil {
		return Token{}, err
	}
	payload := append([]byte(nil), s.data[dataStart:]...)
	s.pos = int64(len(s.data))
	return s.emit(Token{Type: TokenStream, Bytes: payload, Pos: start})
}

func (s *pdfScanner) peekAhead(n int64) byte {
	if err := s.ensure(s.pos + n); err != nil {
		return 0
	}
	return s.data[s.pos+n]
}

func (s *pdfScanner) scanKeyword() (Token, error) {
	start := s.pos
	for s.ensure(s.pos) == nil && !isDelimiter(s.data[s.pos]) {
		s.pos++
	}
	kw := string(s.data[start:s.pos])
	switch kw {
	case "true", "false":
		return Token{Type: TokenBoolean, Bool: kw == "true", Str: kw, Pos: start}, nil
	case "null":
		return Token{Type: TokenNull, Str: kw, Pos: start}, nil
	case "stream":
		return s.scanStream(start)
	default:
		return Token{Type: TokenKeyword, Str: kw, Pos: start}, nil
	}
}

func (s *pdfScanner) scanNumberOrRef() (Token, error) {
	start := s.pos
	num1Str := s.scanNumberString()
	if num1Str == "" {
		s.pos++
		return Token{}, errors.New("invalid number")
	}
	if n1, err := strconv.ParseInt(num1Str, 10, 64); err == nil {
		if n1 >= 0 {
			if tok, ok := s.tryRef(start, n1); ok {
				return tok, nil
			}
		}
		return s.emit(Token{Type: TokenNumber, Int: n1, Float: float64(n1), IsInt: true, Pos: start})
	}
	f, err := strconv.ParseFloat(num1Str, 64)
	if err != nil {
		// Malformed reals such as "--5" or "1.2.3" are read as zero.
		f = 0
	}
	return s.emit(Token{Type: TokenNumber, Float: f, Int: int64(f), Pos: start})
}

// tryRef checks whether "<num> <gen> R" follows and consumes it if so.
func (s *pdfScanner) tryRef(start, num int64) (Token, bool) {
	save := s.pos
	if s.skipWSAndComments() != nil {
		s.pos = save
		return Token{}, false
	}
	genStr := s.scanNumberString()
	gen, err := strconv.Atoi(genStr)
	if genStr == "" || err != nil || gen < 0 {
		s.pos = save
		return Token{}, false
	}
	if s.skipWSAndComments() != nil || s.data[s.pos] != 'R' {
		s.pos = save
		return Token{}, false
	}
	if s.ensure(s.pos+1) == nil && !isDelimiter(s.data[s.pos+1]) {
		s.pos = save
		return Token{}, false
	}
	s.pos++
	return Token{Type: TokenRef, Int: num, Gen: gen, Pos: start}, true
}

func (s *pdfScanner) scanNumberString() string {
	start := s.pos
	seenDigit := false
	for s.ensure(s.pos) == nil {
		c := s.data[s.pos]
		if c == '+' || c == '-' || c == '.' || (c >= '0' && c <= '9') {
			if c >= '0' && c <= '9' {
				seenDigit = true
			}
			s.pos++
			continue
		}
		break
	}
	if !seenDigit {
		s.pos = start
		return ""
	}
	return string(s.data[start:s.pos])
}

func (s *pdfScanner) recover(err error, loc string) error {
	if s.cfg.Recovery == nil {
		return err
	}
	location := s.recLoc
	location.ByteOffset = s.pos
	if location.Component != "" {
		location.Component += "->"
	}
	location.Component += "scanner:" + loc
	s.lastAction = s.cfg.Recovery.OnError(nil, err, location)
	switch s.lastAction {
	case recovery.ActionSkip, recovery.ActionFix:
		return nil
	default:
		return err
	}
}

func (s *pdfScanner) emit(tok Token) (Token, error) {
	switch tok.Type {
	case TokenArray:
		s.arrayDepth++
		if s.cfg.MaxNestingDepth > 0 && s.arrayDepth > s.cfg.MaxNestingDepth {
			return Token{}, errors.New("array depth exceeded")
		}
	case TokenDict:
		s.dictDepth++
		if s.cfg.MaxNestingDepth > 0 && s.dictDepth > s.cfg.MaxNestingDepth {
			return Token{}, errors.New("dict depth exceeded")
		}
	case TokenKeyword:
		switch tok.Str {
		case "]":
			if s.arrayDepth > 0 {
				s.arrayDepth--
			}
		case ">>":
			if s.dictDepth > 0 {
				s.dictDepth--
			}
		}
	}
	return tok, nil
}

func isDigitStart(c byte) bool { return c == '+' || c == '-' || c == '.' || (c >= '0' && c <= '9') }
func isRegular(c byte) bool    { return !isDelimiter(c) }

func isWhitespace(c byte) bool {
	return c == 0x00 || c == 0x09 || c == 0x0A || c == 0x0C || c == 0x0D || c == 0x20
}
func isEOL(c byte) bool { return c == '\r' || c == '\n' }
func isDelimiter(c byte) bool {
	switch c {
	case '(', ')', '<', '>', '[', ']', '{', '}', '/', '%':
		return true
	default:
		return isWhitespace(c)
	}
}

func fromHex(c byte) byte {
	switch {
	case c >= '0' && c <= '9':
		return c - '0'
	case c >= 'A' && c <= 'F':
		return c - 'A' + 10
	case c >= 'a' && c <= 'f':
		return c - 'a' + 10
	default:
		return 0
	}
}

func translateEscape(c byte) byte {
	switch c {
	case 'n':
		return '\n'
	case 'r':
		return '\r'
	case 't':
		return '\t'
	case 'b':
		return '\b'
	case 'f':
		return '\f'
	default:
		return c
	}
}
