package cli

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
)

// Exit codes for CLI commands.
const (
	ExitSuccess      = 0
	ExitFailure      = 1 // the operation ran and failed (dispatch failed, invalid transition)
	ExitCommandError = 2 // bad flags, unreadable config or database
)

// ExitError carries the process exit code for a failed command.
type ExitError struct {
	Code    int
	Message string
	Err     error
}

func (e *ExitError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *ExitError) Unwrap() error {
	return e.Err
}

// WrapExitError wraps an existing error with an exit code.
func WrapExitError(code int, message string, err error) *ExitError {
	return &ExitError{Code: code, Message: message, Err: err}
}

// GetExitCode extracts the exit code from an error.
// Returns ExitFailure (1) if the error is not an ExitError.
func GetExitCode(err error) int {
	var exitErr *ExitError
	if errors.As(err, &exitErr) {
		return exitErr.Code
	}
	return ExitFailure
}

// response is the JSON envelope written with --format json.
type response struct {
	Status string `json:"status"` // "ok" or "error"
	Data   any    `json:"data,omitempty"`
	Error  string `json:"error,omitempty"`
}

type formatter struct {
	format string
	w      io.Writer
}

// ok writes data as JSON, or text as-is in text mode.
func (f formatter) ok(data any, text string) error {
	if f.format == "json" {
		return json.NewEncoder(f.w).Encode(response{Status: "ok", Data: data})
	}
	_, err := fmt.Fprintln(f.w, text)
	return err
}

// fail reports err in the configured format and returns it as an ExitError.
func (f formatter) fail(code int, message string, data any, err error) error {
	if f.format == "json" {
		_ = json.NewEncoder(f.w).Encode(response{Status: "error", Data: data, Error: err.Error()})
	}
	return WrapExitError(code, message, err)
}
