package recovery

import "fmt"

// Strategy decides what to do when malformed input is encountered.
type Strategy interface {
	OnError(ctx Context, err error, location Location) Action
}

type Location struct {
	ByteOffset int64
	ObjectNum  int
	ObjectGen  int
	Component  string
}

func (l Location) String() string {
	if l.ObjectNum > 0 {
		return fmt.Sprintf("[%s] object %d %d, offset %d", l.Component, l.ObjectNum, l.ObjectGen, l.ByteOffset)
	}
	return fmt.Sprintf("[%s] offset %d", l.Component, l.ByteOffset)
}

type Action int

const (
	ActionFail Action = iota
	ActionSkip
	ActionFix
	ActionWarn
)

type Context interface{ Done() <-chan struct{} }
