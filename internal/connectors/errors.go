package connectors

import (
	"errors"
	"fmt"
	"time"
)

var ErrUnsupportedCategory = errors.New("category not supported by connector")

// ThrottleError — удаленный коннектор попросил подождать (аналог 429 + Retry-After).
type ThrottleError struct {
	RetryAfter time.Duration
	Cause      error
}

func (e *ThrottleError) Error() string {
	return fmt.Sprintf("throttled: retry after %v (cause: %v)", e.RetryAfter, e.Cause)
}

func (e *ThrottleError) Unwrap() error {
	return e.Cause
}

// RemoteError — коннектор ответил ошибкой со своим кодом.
type RemoteError struct {
	Code    int
	Message string
}

func (e *RemoteError) Error() string {
	return fmt.Sprintf("connector returned error [%d]: %s", e.Code, e.Message)
}
