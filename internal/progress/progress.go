// Package progress carries the cooperative "continue?" callback long
// operations poll between units of work.
package progress

import (
	"context"
	"errors"
)

// ErrCancelled is returned when a Reporter asked to stop.
var ErrCancelled = errors.New("operation cancelled")

// Reporter receives progress and decides whether work continues.
// Returning false aborts the operation after the current unit.
type Reporter interface {
	Progress(stage string, done, total int) bool
}

// Func adapts a function to Reporter.
type Func func(stage string, done, total int) bool

func (f Func) Progress(stage string, done, total int) bool { return f(stage, done, total) }

type nop struct{}

func (nop) Progress(string, int, int) bool { return true }

// Nop never cancels.
var Nop Reporter = nop{}

// Or returns r, or Nop when r is nil.
func Or(r Reporter) Reporter {
	if r == nil {
		return Nop
	}
	return r
}

// Check reports progress to r and returns ErrCancelled when r asks to stop.
func Check(r Reporter, stage string, done, total int) error {
	if r != nil && !r.Progress(stage, done, total) {
		return ErrCancelled
	}
	return nil
}

// FromContext combines r with ctx: the result stops as soon as ctx is
// done, otherwise it defers to r.
func FromContext(ctx context.Context, r Reporter) Reporter {
	r = Or(r)
	return Func(func(stage string, done, total int) bool {
		if ctx.Err() != nil {
			return false
		}
		return r.Progress(stage, done, total)
	})
}
