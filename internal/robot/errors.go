package robot

import (
	"fmt"
	"time"

	"sorter/internal/apperr"
)

// TimeoutError: the client's own timer ended the attempt.
type TimeoutError struct {
	Host    string
	Port    int
	Timeout time.Duration
	Op      string
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("timeout during %s to robot at %s:%d (timeout=%s)", e.Op, e.Host, e.Port, e.Timeout)
}

func (e *TimeoutError) Is(target error) bool { return target == apperr.ErrTimeout }

// TransportError: the connection was refused, reset or otherwise broken.
type TransportError struct {
	Host string
	Port int
	Op   string
	Err  error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("socket error during %s to robot %s:%d: %v", e.Op, e.Host, e.Port, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

func (e *TransportError) Is(target error) bool { return target == apperr.ErrTransport }
