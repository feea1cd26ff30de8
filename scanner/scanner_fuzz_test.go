package scanner

import (
	"bytes"
	"testing"
)

func FuzzScanner(f *testing.F) {
	f.Add([]byte("<< /Type /Page >>"))
	f.Add([]byte("[ 1 2 3 ]"))
	f.Add([]byte("stream\n...data...\nendstream"))
	f.Add([]byte("(Hello World)"))
	f.Add([]byte("<AABBCC>"))

	f.Fuzz(func(t *testing.T, data []byte) {
		r := bytes.NewReader(data)
		s := New(r, Config{
			MaxStringLength: 1024,
			MaxNestingDepth: 10,
			MaxStreamLength: 1024,
			WindowSize:      1024,
		})

		for {
			_, err := s.Next()
			if err != nil {
				break
			}
		}
	})
}

func FuzzParseObject(f *testing.F) {
	f.Add([]byte("<< /Kids [1 0 R 2 0 R] /Count 2 >>"))
	f.Add([]byte("[ (a) <62> /c 1.5 null true ]"))

	f.Fuzz(func(t *testing.T, data []byte) {
		r := NewTokenReader(New(bytes.NewReader(data), Config{MaxNestingDepth: 10, WindowSize: 256}))
		_, _ = ParseObject(r)
	})
}
