package kernel

import (
	"errors"
	"fmt"
)

var (
	ErrNoMemory        = errors.New("no memory for thread stack")
	ErrNoEntry         = errors.New("thread has no entry function")
	ErrInvalidCapacity = errors.New("message queue capacity must be at least 1")
)

// FatalError describes a violated scheduler invariant. It is the value the
// scheduler panics with; there is no recovery from it at runtime.
type FatalError struct {
	Thread ThreadID
	Msg    string
}

func (e *FatalError) Error() string {
	return fmt.Sprintf("kernel: fatal (thread %d): %s", e.Thread, e.Msg)
}
