package xref

import (
	"context"
	"errors"
	"io"

	"github.com/wudi/pdfpress/ir/raw"
	"github.com/wudi/pdfpress/scanner"
)

// repair scans the entire file to reconstruct the xref table.
// It looks for "<num> <gen> obj" patterns and "trailer" dictionaries; later
// definitions of the same object number win, as in an incremental update.
func repair(ctx context.Context, r io.ReaderAt) (*Table, error) {
	tr := scanner.NewTokenReader(scanner.New(r, scanner.Config{}))
	entries := make(map[int]Entry)
	var lastTrailer *raw.DictObj

	// window holds the last two integer tokens seen.
	var window []scanner.Token
	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		tok, err := tr.Next()
		if err != nil {
			if errors.Is(err, io.EOF) {
				break
			}
			// Skip invalid tokens during repair scan
			window = window[:0]
			continue
		}

		switch {
		case tok.Type == scanner.TokenNumber && tok.IsInt:
			window = append(window, tok)
			if len(window) > 2 {
				window = window[1:]
			}
			continue
		case tok.Type == scanner.TokenKeyword && tok.Str == "obj":
			if len(window) == 2 && window[0].Int > 0 && window[1].Int >= 0 {
				entries[int(window[0].Int)] = Entry{Kind: EntryInUse, Offset: window[0].Pos, Gen: int(window[1].Int)}
			}
		case tok.Type == scanner.TokenKeyword && tok.Str == "trailer":
			obj, err := scanner.ParseObject(tr)
			if err == nil {
				if dict, ok := obj.(*raw.DictObj); ok {
					lastTrailer = dict
				}
			}
		}
		window = window[:0]
	}

	if len(entries) == 0 {
		return nil, errors.New("repair failed: no objects found")
	}

	if lastTrailer == nil {
		// Construct minimal trailer if missing
		lastTrailer = raw.Dict()
	}
	lastTrailer = mergeTrailer(nil, lastTrailer)
	maxNum := 0
	for n := range entries {
		maxNum = max(maxNum, n)
	}
	lastTrailer.Set("Size", raw.Int(int64(maxNum+1)))

	return &Table{entries: entries, trailer: lastTrailer, repaired: true}, nil
}
