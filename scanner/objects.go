package scanner

import (
	"errors"
	"fmt"
	"io"

	"github.com/wudi/pdfpress/ir/raw"
)

// TokenReader wraps a Scanner with a pushback buffer.
type TokenReader struct {
	s   Scanner
	buf []Token
}

func NewTokenReader(s Scanner) *TokenReader { return &TokenReader{s: s} }

func (r *TokenReader) Next() (Token, error) {
	if n := len(r.buf); n > 0 {
		tok := r.buf[n-1]
		r.buf = r.buf[:n-1]
		return tok, nil
	}
	return r.s.Next()
}

func (r *TokenReader) Unread(tok Token) { r.buf = append(r.buf, tok) }

// SeekTo repositions the underlying scanner and drops any pushed-back tokens.
func (r *TokenReader) SeekTo(off int64) error {
	r.buf = r.buf[:0]
	return r.s.SeekTo(off)
}

func (r *TokenReader) Scanner() Scanner { return r.s }

// ParseObject reads one direct object. Streams are not handled here; see
// ReadIndirect.
func ParseObject(r *TokenReader) (raw.Object, error) {
	tok, err := r.Next()
	if err != nil {
		return nil, err
	}
	return parseFrom(r, tok)
}

func parseFrom(r *TokenReader, tok Token) (raw.Object, error) {
	switch tok.Type {
	case TokenNull:
		return raw.NullObj{}, nil
	case TokenBoolean:
		return raw.Bool(tok.Bool), nil
	case TokenNumber:
		if tok.IsInt {
			return raw.Int(tok.Int), nil
		}
		return raw.Real(tok.Float), nil
	case TokenString:
		return raw.StringObj{Bytes: tok.Bytes, Hex: tok.Hex}, nil
	case TokenName:
		return raw.Name(tok.Str), nil
	case TokenRef:
		return raw.Ref(int(tok.Int), tok.Gen), nil
	case TokenArray:
		return parseArray(r)
	case TokenDict:
		return parseDict(r)
	case TokenKeyword:
		return nil, fmt.Errorf("unexpected keyword %q at offset %d", tok.Str, tok.Pos)
	case TokenStream:
		return nil, fmt.Errorf("unexpected stream at offset %d", tok.Pos)
	}
	return nil, fmt.Errorf("unexpected token at offset %d", tok.Pos)
}

func parseArray(r *TokenReader) (raw.Object, error) {
	arr := raw.NewArray()
	for {
		tok, err := r.Next()
		if err != nil {
			return nil, fmt.Errorf("array: %w", err)
		}
		if tok.Type == TokenKeyword && tok.Str == "]" {
			return arr, nil
		}
		obj, err := parseFrom(r, tok)
		if err != nil {
			return nil, err
		}
		arr.Append(obj)
	}
}

func parseDict(r *TokenReader) (raw.Object, error) {
	d := raw.Dict()
	for {
		tok, err := r.Next()
		if err != nil {
			return nil, fmt.Errorf("dict: %w", err)
		}
		if tok.Type == TokenKeyword && tok.Str == ">>" {
			return d, nil
		}
		if tok.Type != TokenName {
			return nil, fmt.Errorf("dict key must be a name at offset %d", tok.Pos)
		}
		valTok, err := r.Next()
		if err != nil {
			return nil, fmt.Errorf("dict: %w", err)
		}
		if valTok.Type == TokenKeyword && valTok.Str == ">>" {
			// Key without a value; treat as null and finish.
			d.Set(tok.Str, raw.NullObj{})
			return d, nil
		}
		val, err := parseFrom(r, valTok)
		if err != nil {
			return nil, err
		}
		d.Set(tok.Str, val)
	}
}

// LengthResolver returns the value of an indirect /Length, if known.
type LengthResolver func(ref raw.ObjectRef) (int64, bool)

// ReadIndirect reads "N G obj <object> [stream ... endstream] endobj" from
// the current position.
func ReadIndirect(r *TokenReader, lengths LengthResolver) (raw.ObjectRef, raw.Object, error) {
	numTok, err := r.Next()
	if err != nil {
		return raw.ObjectRef{}, nil, err
	}
	genTok, err := r.Next()
	if err != nil {
		return raw.ObjectRef{}, nil, err
	}
	objTok, err := r.Next()
	if err != nil {
		return raw.ObjectRef{}, nil, err
	}
	if numTok.Type != TokenNumber || !numTok.IsInt || genTok.Type != TokenNumber || !genTok.IsInt ||
		objTok.Type != TokenKeyword || objTok.Str != "obj" {
		return raw.ObjectRef{}, nil, fmt.Errorf("expected object header at offset %d", numTok.Pos)
	}
	ref := raw.ObjectRef{Num: int(numTok.Int), Gen: int(genTok.Int)}

	obj, err := ParseObject(r)
	if err != nil {
		return ref, nil, fmt.Errorf("object %s: %w", ref, err)
	}
	if dict, ok := obj.(*raw.DictObj); ok {
		r.Scanner().SetNextStreamLength(streamLength(dict, lengths))
	}
	tok, err := r.Next()
	if err != nil {
		if errors.Is(err, io.EOF) {
			return ref, obj, nil
		}
		return ref, nil, err
	}
	r.Scanner().SetNextStreamLength(-1)
	if tok.Type == TokenStream {
		dict, ok := obj.(*raw.DictObj)
		if !ok {
			return ref, nil, fmt.Errorf("object %s: stream without dictionary", ref)
		}
		obj = raw.NewStream(dict, tok.Bytes)
		tok, err = r.Next()
		if err != nil {
			return ref, obj, nil
		}
	}
	if tok.Type != TokenKeyword || tok.Str != "endobj" {
		// Missing endobj is common in damaged files; keep what we have.
		r.Unread(tok)
	}
	return ref, obj, nil
}

func streamLength(dict *raw.DictObj, lengths LengthResolver) int64 {
	switch v := dict.Get("Length").(type) {
	case raw.IntObj:
		if v.V >= 0 {
			return v.V
		}
	case raw.RefObj:
		if lengths != nil {
			if n, ok := lengths(v.R); ok && n >= 0 {
				return n
			}
		}
	}
	return -1
}
