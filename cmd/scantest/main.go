// Command scantest prints the token stream of a document, one token per
// line, for debugging the tokenizer.
package main

import (
	"errors"
	"flag"
	"fmt"
	"io"
	"os"

	"github.com/wudi/pdfpress/scanner"
)

func main() {
	limit := flag.Int("n", 200000, "Maximum number of tokens to print")
	flag.Parse()
	if flag.NArg() != 1 {
		fmt.Fprintln(os.Stderr, "usage: scantest [-n max] <pdf>")
		os.Exit(2)
	}
	f, err := os.Open(flag.Arg(0))
	if err != nil {
		fmt.Fprintf(os.Stderr, "scantest: %v\n", err)
		os.Exit(1)
	}
	defer f.Close()

	s := scanner.New(f, scanner.Config{})
	for i := 0; i < *limit; i++ {
		tok, err := s.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			fmt.Printf("ERR: %v\n", err)
			break
		}
		fmt.Printf("%d@%d %s\n", tok.Type, tok.Pos, describe(tok))
	}
}

func describe(tok scanner.Token) string {
	switch tok.Type {
	case scanner.TokenName:
		return "/" + tok.Str
	case scanner.TokenString:
		if tok.Hex {
			return fmt.Sprintf("<%X>", tok.Bytes)
		}
		return fmt.Sprintf("(%q)", tok.Bytes)
	case scanner.TokenNumber:
		if tok.IsInt {
			return fmt.Sprint(tok.Int)
		}
		return fmt.Sprint(tok.Float)
	case scanner.TokenBoolean:
		return fmt.Sprint(tok.Bool)
	case scanner.TokenNull:
		return "null"
	case scanner.TokenRef:
		return fmt.Sprintf("%d %d R", tok.Int, tok.Gen)
	case scanner.TokenStream:
		return fmt.Sprintf("stream (%d bytes)", len(tok.Bytes))
	case scanner.TokenDict:
		return "<<"
	case scanner.TokenArray:
		return "["
	default:
		return tok.Str
	}
}
