package main

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/wudi/pdfpress/internal/pdftest"
	"github.com/wudi/pdfpress/ir"
)

func runCLI(t *testing.T, args ...string) (int, string, string) {
	t.Helper()
	var stdout, stderr bytes.Buffer
	code := run(context.Background(), args, &stdout, &stderr)
	return code, stdout.String(), stderr.String()
}

func TestUsageErrors(t *testing.T) {
	tests := [][]string{
		nil,
		{"bogus"},
		{"merge", "a.pdf"},
		{"compress", "-i", "in.pdf"},
		{"compress", "-s", "nope"},
		{"info"},
		{"-unknown"},
	}
	for _, args := range tests {
		if code, _, _ := runCLI(t, args...); code != 2 {
			t.Fatalf("%v: exit %d, want 2", args, code)
		}
	}
}

func TestMergeAndInfo(t *testing.T) {
	dir := t.TempDir()
	a := pdftest.WriteFile(t, dir, "a.pdf", pdftest.Simple("1.4", 2))
	b := pdftest.WriteFile(t, dir, "b.pdf", pdftest.Simple("1.4", 1))
	out := filepath.Join(dir, "out.pdf")

	code, stdout, stderr := runCLI(t, "merge", "-o", out, a, b)
	if code != 0 {
		t.Fatalf("merge exit %d: %s", code, stderr)
	}
	if stdout != "" {
		t.Fatalf("success line printed to a non-terminal: %q", stdout)
	}
	if !strings.Contains(stderr, "documents merged") {
		t.Fatalf("expected merge log line, got %q", stderr)
	}

	code, stdout, stderr = runCLI(t, "info", "-i", out)
	if code != 0 {
		t.Fatalf("info exit %d: %s", code, stderr)
	}
	if !strings.Contains(stdout, "Pages:    3\n") || !strings.Contains(stdout, "Version:  1.5\n") ||
		!strings.Contains(stdout, "Size:     ") {
		t.Fatalf("unexpected info output:\n%s", stdout)
	}

	code, stdout, _ = runCLI(t, "-json", "info", out)
	if code != 0 {
		t.Fatalf("info -json exit %d", code)
	}
	var info ir.Info
	if err := json.Unmarshal([]byte(stdout), &info); err != nil {
		t.Fatalf("decode json: %v\n%s", err, stdout)
	}
	if info.Pages != 3 || info.Producer != "pdfpress" {
		t.Fatalf("info = %+v", info)
	}
}

func TestMergeInputList(t *testing.T) {
	dir := t.TempDir()
	a := pdftest.WriteFile(t, dir, "a.pdf", pdftest.Simple("1.4", 1))
	b := pdftest.WriteFile(t, dir, "b.pdf", pdftest.Simple("1.4", 2))
	c := pdftest.WriteFile(t, dir, "c.pdf", pdftest.Simple("1.4", 3))
	out := filepath.Join(dir, "out.pdf")

	code, _, stderr := runCLI(t, "merge", "-i", a, b, c, "-o", out, "-xref-stream")
	if code != 0 {
		t.Fatalf("merge exit %d: %s", code, stderr)
	}
	info, err := ir.NewDefault().Inspect(context.Background(), out)
	if err != nil {
		t.Fatalf("Inspect: %v", err)
	}
	if info.Pages != 6 {
		t.Fatalf("pages = %d, want 6", info.Pages)
	}
	data, err := os.ReadFile(out)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Contains(data, []byte("/XRef")) {
		t.Fatalf("expected a cross-reference stream")
	}
}

func TestExpandList(t *testing.T) {
	tests := []struct {
		in, want []string
	}{
		{[]string{"-i", "a", "b", "-o", "x"}, []string{"-i", "a", "-i", "b", "-o", "x"}},
		{[]string{"--inputs", "a", "b"}, []string{"--inputs", "a", "--inputs", "b"}},
		{[]string{"-o", "x", "a", "b"}, []string{"-o", "x", "a", "b"}},
		{[]string{"-i", "a", "--", "-b"}, []string{"-i", "a", "--", "-b"}},
	}
	for _, tt := range tests {
		if diff := cmp.Diff(tt.want, expandList(tt.in, "i", "inputs")); diff != "" {
			t.Fatalf("expandList(%q) (-want +got):\n%s", tt.in, diff)
		}
	}
}

func TestHumanSize(t *testing.T) {
	tests := []struct {
		n    int64
		want string
	}{
		{0, "0 bytes"},
		{1023, "1023 bytes"},
		{1536, "1.5 KB"},
		{3 * 1024 * 1024, "3.0 MB"},
	}
	for _, tt := range tests {
		if got := humanSize(tt.n); got != tt.want {
			t.Fatalf("humanSize(%d) = %q, want %q", tt.n, got, tt.want)
		}
	}
}

func TestMergeNoInputs(t *testing.T) {
	out := filepath.Join(t.TempDir(), "out.pdf")
	code, _, stderr := runCLI(t, "merge", "-o", out)
	if code != 1 || !strings.Contains(stderr, "no input files") {
		t.Fatalf("exit %d, stderr %q", code, stderr)
	}
	if _, err := os.Stat(out); !os.IsNotExist(err) {
		t.Fatalf("output created")
	}
}

func TestCompress(t *testing.T) {
	dir := t.TempDir()
	b := pdftest.New("1.4")
	page := b.AddPage(b.Root(), "q /Im1 Do Q")
	b.AddImage(page, "Im1", pdftest.ImageStream(pdftest.JPEG(t, 64, 64), 64, 64, "DCTDecode"))
	in := pdftest.WriteFile(t, dir, "in.pdf", b.Doc())
	out := filepath.Join(dir, "out.pdf")

	code, _, stderr := runCLI(t, "compress", "-i", in, "-o", out, "-s", "11")
	if code != 1 || !strings.Contains(stderr, "invalid scale") {
		t.Fatalf("exit %d, stderr %q", code, stderr)
	}

	code, stdout, stderr := runCLI(t, "-json", "-v", "compress", "-i", in, "-o", out, "-s", "10")
	if code != 0 {
		t.Fatalf("compress exit %d: %s", code, stderr)
	}
	var rep struct {
		Seen, Recompressed int
	}
	if err := json.Unmarshal([]byte(stdout), &rep); err != nil {
		t.Fatalf("decode report: %v\n%s", err, stdout)
	}
	if rep.Seen != 1 || rep.Recompressed != 1 {
		t.Fatalf("report = %+v", rep)
	}
	if !strings.Contains(stderr, `"msg":"document recompressed"`) {
		t.Fatalf("expected JSON log line, got %q", stderr)
	}
}

func TestCommandFailureExitCode(t *testing.T) {
	code, _, stderr := runCLI(t, "info", "-i", filepath.Join(t.TempDir(), "missing.pdf"))
	if code != 1 || !strings.Contains(stderr, "missing.pdf") {
		t.Fatalf("exit %d, stderr %q", code, stderr)
	}
}
