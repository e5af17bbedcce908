package errors

import (
	"errors"
	"fmt"
	"sync"
)

var (
	registryMu sync.Mutex
	registry   = map[int]*Errno{}
)

// Register records e under its code. Codes are declared as package variables,
// so a duplicate is a programming error and panics at init.
func Register(e *Errno) *Errno {
	registryMu.Lock()
	defer registryMu.Unlock()

	if prev, ok := registry[e.Code]; ok {
		panic(fmt.Sprintf("errno code %d registered twice: %q and %q", e.Code, prev.MessageEN, e.MessageEN))
	}
	registry[e.Code] = e
	return e
}

// FromError returns the *Errno in err's chain. Anything else becomes
// ErrInternal with err as the cause. A nil err yields nil.
func FromError(err error) *Errno {
	if err == nil {
		return nil
	}
	var e *Errno
	if errors.As(err, &e) {
		return e
	}
	return ErrInternal.WithCause(err)
}
