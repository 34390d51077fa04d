// Package errors defines the node's tagged error type. Every rejection path
// in validator, mempool, sync and api returns one of these so the HTTP layer
// and the reputation manager can dispatch on Code without string matching.
package errors

import (
	"errors"
	"fmt"
)

// ERR is a stable error code, independent of the human-readable Message.
type ERR int32

const (
	ERR_UNKNOWN ERR = iota
	ERR_INVALID_ARGUMENT
	ERR_NOT_FOUND
	ERR_ORPHAN_BLOCK
	ERR_BLOCK_INVALID
	ERR_TX_INVALID
	ERR_DOUBLE_SPEND
	ERR_STORAGE
	ERR_THRESHOLD_EXCEEDED
	ERR_AUTH_FAILED
	ERR_SYNC_REQUIRED
	ERR_BUSY
)

var errName = map[ERR]string{
	ERR_UNKNOWN:            "UNKNOWN",
	ERR_INVALID_ARGUMENT:   "INVALID_ARGUMENT",
	ERR_NOT_FOUND:          "NOT_FOUND",
	ERR_ORPHAN_BLOCK:       "ORPHAN_BLOCK",
	ERR_BLOCK_INVALID:      "BLOCK_INVALID",
	ERR_TX_INVALID:         "TX_INVALID",
	ERR_DOUBLE_SPEND:       "DOUBLE_SPEND",
	ERR_STORAGE:            "STORAGE",
	ERR_THRESHOLD_EXCEEDED: "THRESHOLD_EXCEEDED",
	ERR_AUTH_FAILED:        "AUTH_FAILED",
	ERR_SYNC_REQUIRED:      "SYNC_REQUIRED",
	ERR_BUSY:               "BUSY",
}

func (c ERR) String() string {
	if s, ok := errName[c]; ok {
		return s
	}
	return "UNKNOWN"
}

// Error is the node's wrapped-error shape: a stable code, a message, and an
// optional wrapped cause so errors.Is/As keep working across layers.
type Error struct {
	Code       ERR
	Message    string
	WrappedErr error
}

func (e *Error) Error() string {
	if e == nil {
		return "<nil>"
	}
	if e.WrappedErr == nil {
		return fmt.Sprintf("%s: %s", e.Code, e.Message)
	}
	return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.WrappedErr)
}

func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.WrappedErr
}

func (e *Error) Is(target error) bool {
	if e == nil {
		return false
	}
	var other *Error
	if errors.As(target, &other) {
		return e.Code == other.Code
	}
	return false
}

// New builds an *Error, optionally wrapping a trailing error/*Error argument
// and fmt-formatting message with any remaining params, mirroring the
// teacher's errors.New(code, msg, params...) call shape.
func New(code ERR, message string, params ...interface{}) *Error {
	var wrapped error

	if n := len(params); n > 0 {
		if err, ok := params[n-1].(error); ok {
			wrapped = err
			params = params[:n-1]
		}
	}

	if len(params) > 0 {
		message = fmt.Sprintf(message, params...)
	}

	return &Error{Code: code, Message: message, WrappedErr: wrapped}
}

func Is(err, target error) bool { return errors.Is(err, target) }
func As(err error, target any) bool { return errors.As(err, target) }

// Join concatenates error messages, matching the teacher's errors.Join,
// which collapses to a plain error rather than preserving codes.
func Join(errs ...error) error {
	var msg string
	n := 0
	for _, err := range errs {
		if err == nil {
			continue
		}
		if n > 0 {
			msg += ", "
		}
		msg += err.Error()
		n++
	}
	if n == 0 {
		return nil
	}
	return errors.New(msg)
}
