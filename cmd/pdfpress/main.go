// Command pdfpress merges documents, recompresses their images and reports
// basic document information.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"slices"
	"strings"

	"golang.org/x/term"

	"github.com/wudi/pdfpress/ir"
	"github.com/wudi/pdfpress/merge"
	"github.com/wudi/pdfpress/observability"
	"github.com/wudi/pdfpress/optimize"
)

const usageText = `Usage: pdfpress [-v] [-json] <command> [flags]

Commands:
  merge    -i in1.pdf in2.pdf ... -o out.pdf   concatenate documents
  compress -i in.pdf -o out.pdf [-s 1..10]     recompress embedded images
  info     -i in.pdf                           print page count and version

merge also accepts inputs after its flags; merge and compress take
-xref-stream to write a cross-reference stream.
`

// usageError marks failures caused by bad arguments.
type usageError struct{ msg string }

func (e usageError) Error() string { return e.msg }

type env struct {
	stdout io.Writer
	stderr io.Writer
	logger observability.Logger
	json   bool
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	code := run(ctx, os.Args[1:], os.Stdout, os.Stderr)
	stop()
	os.Exit(code)
}

func run(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	global := flag.NewFlagSet("pdfpress", flag.ContinueOnError)
	global.SetOutput(stderr)
	global.Usage = func() { fmt.Fprint(stderr, usageText) }
	verbose := global.Bool("v", false, "Enable debug logging")
	jsonOut := global.Bool("json", false, "Log and report as JSON")
	if err := global.Parse(args); err != nil {
		return 2
	}
	if global.NArg() == 0 {
		global.Usage()
		return 2
	}

	e := &env{
		stdout: stdout,
		stderr: stderr,
		logger: newLogger(stderr, *verbose, *jsonOut),
		json:   *jsonOut,
	}
	cmd, rest := global.Arg(0), global.Args()[1:]
	var err error
	switch cmd {
	case "merge":
		err = e.merge(ctx, rest)
	case "compress":
		err = e.compress(ctx, rest)
	case "info":
		err = e.info(ctx, rest)
	case "help":
		global.Usage()
		return 0
	default:
		err = usageError{fmt.Sprintf("unknown command %q", cmd)}
	}

	var ue usageError
	switch {
	case err == nil:
		return 0
	case errors.Is(err, flag.ErrHelp):
		return 0
	case errors.As(err, &ue):
		fmt.Fprintf(stderr, "pdfpress: %v\n", err)
		global.Usage()
		return 2
	default:
		fmt.Fprintf(stderr, "pdfpress %s: %v\n", cmd, err)
		return 1
	}
}

func newLogger(w io.Writer, verbose, asJSON bool) observability.Logger {
	opts := &slog.HandlerOptions{Level: slog.LevelInfo}
	if verbose {
		opts.Level = slog.LevelDebug
	}
	var h slog.Handler = slog.NewTextHandler(w, opts)
	if asJSON {
		h = slog.NewJSONHandler(w, opts)
	}
	return observability.NewSlogLogger(slog.New(h))
}

func (e *env) flagSet(name string) *flag.FlagSet {
	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	fs.SetOutput(e.stderr)
	return fs
}

// parseFlags turns flag package failures into usage errors.
func parseFlags(fs *flag.FlagSet, args []string) error {
	if err := fs.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return err
		}
		return usageError{err.Error()}
	}
	return nil
}

// fileList collects every value given for a repeated flag.
type fileList []string

func (l *fileList) String() string { return strings.Join(*l, " ") }

func (l *fileList) Set(v string) error {
	*l = append(*l, v)
	return nil
}

// expandList rewrites "-i a b c" into "-i a -i b -i c" for the named flags so
// a list of files can follow a single flag.
func expandList(args []string, names ...string) []string {
	out := make([]string, 0, len(args))
	for i := 0; i < len(args); i++ {
		a := args[i]
		out = append(out, a)
		if a == "--" {
			return append(out, args[i+1:]...)
		}
		if !strings.HasPrefix(a, "-") || !slices.Contains(names, strings.TrimLeft(a, "-")) {
			continue
		}
		if i+1 < len(args) {
			out = append(out, args[i+1])
			i++
		}
		for i+1 < len(args) && !strings.HasPrefix(args[i+1], "-") {
			out = append(out, a, args[i+1])
			i++
		}
	}
	return out
}

func (e *env) merge(ctx context.Context, args []string) error {
	fs := e.flagSet("merge")
	var inputs fileList
	fs.Var(&inputs, "i", "Input files, in order")
	fs.Var(&inputs, "inputs", "Input files, in order")
	output := fs.String("o", "", "Output file")
	fs.StringVar(output, "output", "", "Output file")
	xrefStream := fs.Bool("xref-stream", false, "Write a cross-reference stream")
	if err := parseFlags(fs, expandList(args, "i", "inputs")); err != nil {
		return err
	}
	if *output == "" {
		return usageError{"merge: -o is required"}
	}
	inputs = append(inputs, fs.Args()...)
	m := merge.New(merge.Config{Logger: e.logger, XRefStreams: *xrefStream})
	if err := m.MergeFiles(ctx, inputs, *output); err != nil {
		return err
	}
	e.success("merged %d files into %s", len(inputs), *output)
	return nil
}

func (e *env) compress(ctx context.Context, args []string) error {
	fs := e.flagSet("compress")
	input := fs.String("i", "", "Input file")
	output := fs.String("o", "", "Output file")
	scale := fs.Int("s", optimize.DefaultScale, "Compression scale, 1 (least) to 10 (most)")
	xrefStream := fs.Bool("xref-stream", false, "Write a cross-reference stream")
	if err := parseFlags(fs, args); err != nil {
		return err
	}
	if *input == "" || *output == "" {
		return usageError{"compress: -i and -o are required"}
	}
	r := optimize.New(optimize.Config{Logger: e.logger, XRefStreams: *xrefStream})
	rep, err := r.RecompressFile(ctx, *input, *output, *scale)
	if err != nil {
		return err
	}
	if e.json {
		return json.NewEncoder(e.stdout).Encode(rep)
	}
	e.success("recompressed %d of %d images (%d -> %d bytes) into %s",
		rep.Recompressed, rep.Seen, rep.BytesBefore, rep.BytesAfter, *output)
	return nil
}

func (e *env) info(ctx context.Context, args []string) error {
	fs := e.flagSet("info")
	input := fs.String("i", "", "Input file")
	if err := parseFlags(fs, args); err != nil {
		return err
	}
	if *input == "" && fs.NArg() == 1 {
		*input = fs.Arg(0)
	}
	if *input == "" {
		return usageError{"info: -i is required"}
	}
	info, err := ir.New(ir.Config{Logger: e.logger}).Inspect(ctx, *input)
	if err != nil {
		return err
	}
	if e.json {
		return json.NewEncoder(e.stdout).Encode(info)
	}
	fmt.Fprintf(e.stdout, "File:     %s\n", info.Path)
	fmt.Fprintf(e.stdout, "Pages:    %d\n", info.Pages)
	fmt.Fprintf(e.stdout, "Version:  %s\n", info.Version)
	fmt.Fprintf(e.stdout, "Size:     %s\n", humanSize(info.Size))
	fmt.Fprintf(e.stdout, "Objects:  %d\n", info.Objects)
	for _, kv := range [][2]string{{"Title", info.Title}, {"Author", info.Author}, {"Producer", info.Producer}} {
		if kv[1] != "" {
			fmt.Fprintf(e.stdout, "%-9s %s\n", kv[0]+":", kv[1])
		}
	}
	return nil
}

// humanSize formats n as bytes below 1 KB and as KB or MB with one decimal
// above.
func humanSize(n int64) string {
	switch {
	case n < 1024:
		return fmt.Sprintf("%d bytes", n)
	case n < 1024*1024:
		return fmt.Sprintf("%.1f KB", float64(n)/1024)
	default:
		return fmt.Sprintf("%.1f MB", float64(n)/(1024*1024))
	}
}

// success prints a confirmation line when stdout is an interactive terminal.
func (e *env) success(format string, args ...any) {
	f, ok := e.stdout.(*os.File)
	if !ok || !term.IsTerminal(int(f.Fd())) {
		return
	}
	fmt.Fprintf(f, "✓ "+format+"\n", args...)
}
