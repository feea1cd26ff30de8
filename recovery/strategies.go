package recovery

import (
	"fmt"

	"github.com/wudi/pdfpress/observability"
)

// StrictStrategy implements a fail-fast recovery strategy.
type StrictStrategy struct{}

func NewStrictStrategy() *StrictStrategy {
	return &StrictStrategy{}
}

func (s *StrictStrategy) OnError(ctx Context, err error, location Location) Action {
	return ActionFail
}

// LenientStrategy records each problem, logs it at Warn and asks the caller
// to repair the input where it can.
type LenientStrategy struct {
	Errors []error
	Logger observability.Logger
}

func NewLenientStrategy(logger observability.Logger) *LenientStrategy {
	return &LenientStrategy{Logger: observability.OrNop(logger)}
}

func (s *LenientStrategy) OnError(ctx Context, err error, location Location) Action {
	s.Errors = append(s.Errors, fmt.Errorf("%s: %w", location, err))
	observability.OrNop(s.Logger).Warn("recovering from malformed input",
		observability.String("component", location.Component),
		observability.Int64("offset", location.ByteOffset),
		observability.Error("error", err))
	return ActionFix
}
