// Package apperr holds the error kinds shared by the queue, the dispatch client
// and the operator surfaces. Callers wrap a kind together with the cause and
// match with errors.Is.
package apperr

import "errors"

var (
	// ErrInvalidArgument: malformed input caught before any mutation.
	ErrInvalidArgument = errors.New("invalid argument")
	// ErrInvalidTransition: a state-machine precondition did not hold.
	ErrInvalidTransition = errors.New("invalid state transition")
	// ErrTimeout: the dispatch deadline elapsed.
	ErrTimeout = errors.New("timeout")
	// ErrTransport: the network layer rejected the attempt.
	ErrTransport = errors.New("transport error")
	// ErrStore: the durable store failed.
	ErrStore = errors.New("store error")
	// ErrNotFound: a referenced program, user or row does not exist.
	ErrNotFound = errors.New("not found")
)
