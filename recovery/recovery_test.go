package recovery_test

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"testing"

	"github.com/wudi/pdfpress/observability"
	"github.com/wudi/pdfpress/recovery"
)

func TestStrictStrategy(t *testing.T) {
	s := recovery.NewStrictStrategy()
	if got := s.OnError(context.Background(), errors.New("bad"), recovery.Location{Component: "xref"}); got != recovery.ActionFail {
		t.Fatalf("action = %v, want ActionFail", got)
	}
}

func TestLenientStrategy(t *testing.T) {
	var logs strings.Builder
	logger := observability.NewSlogLogger(slog.New(slog.NewTextHandler(&logs, nil)))
	s := recovery.NewLenientStrategy(logger)

	cause := errors.New("unterminated string")
	loc := recovery.Location{ByteOffset: 120, ObjectNum: 4, Component: "loader->scanner:string"}
	if got := s.OnError(context.Background(), cause, loc); got != recovery.ActionFix {
		t.Fatalf("action = %v, want ActionFix", got)
	}
	if len(s.Errors) != 1 || !errors.Is(s.Errors[0], cause) {
		t.Fatalf("recorded errors = %v", s.Errors)
	}
	if !strings.Contains(s.Errors[0].Error(), "object 4 0, offset 120") {
		t.Fatalf("location missing from %q", s.Errors[0])
	}
	if !strings.Contains(logs.String(), "recovering from malformed input") || !strings.Contains(logs.String(), "loader->scanner:string") {
		t.Fatalf("unexpected log output %q", logs.String())
	}
}

func TestLenientStrategyNilLogger(t *testing.T) {
	s := &recovery.LenientStrategy{}
	if got := s.OnError(context.Background(), errors.New("x"), recovery.Location{}); got != recovery.ActionFix {
		t.Fatalf("action = %v", got)
	}
}

func TestLocationString(t *testing.T) {
	tests := []struct {
		loc  recovery.Location
		want string
	}{
		{recovery.Location{Component: "xref", ByteOffset: 9}, "[xref] offset 9"},
		{recovery.Location{Component: "loader", ObjectNum: 3, ObjectGen: 1, ByteOffset: 50}, "[loader] object 3 1, offset 50"},
	}
	for _, tt := range tests {
		if got := tt.loc.String(); got != tt.want {
			t.Fatalf("got %q want %q", got, tt.want)
		}
	}
}
