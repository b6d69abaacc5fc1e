package adapter

import (
	"errors"
	"fmt"
)

// Code is the stable, wire-visible identifier of an adapter failure.
type Code string

const (
	CodeModelPathMissing    Code = "MODEL_PATH_MISSING"
	CodeModelInitFailed     Code = "MODEL_INIT_FAILED"
	CodeModelNotInitialized Code = "MODEL_NOT_INITIALIZED"
	CodeInvalidInput        Code = "INVALID_INPUT"
	CodeInferenceFailed     Code = "ONNX_RUN_FAILED"
)

var (
	ErrModelPathMissing    = errors.New("Model path not provided")
	ErrModelInitFailed     = errors.New("model initialization failed")
	ErrModelNotInitialized = errors.New("ONNX session is null")
	ErrInvalidInput        = errors.New("Input data or shape is empty")
	ErrInferenceFailed     = errors.New("ONNX inference failed")
)

var sentinels = map[Code]error{
	CodeModelPathMissing:    ErrModelPathMissing,
	CodeModelInitFailed:     ErrModelInitFailed,
	CodeModelNotInitialized: ErrModelNotInitialized,
	CodeInvalidInput:        ErrInvalidInput,
	CodeInferenceFailed:     ErrInferenceFailed,
}

// Error is returned by every failing adapter operation.
//
// Message is what callers see on the wire. For engine failures it is the engine's
// message verbatim; Err keeps the cause for errors.Is / errors.As.
type Error struct {
	Code    Code
	Op      string
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Message != "" {
		return e.Message
	}
	if e.Err != nil {
		return e.Err.Error()
	}
	return string(e.Code)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches the sentinel error belonging to e.Code.
func (e *Error) Is(target error) bool {
	sentinel, ok := sentinels[e.Code]
	return ok && target == sentinel
}

// NewError builds an *Error. When cause is nil the code's sentinel is used.
func NewError(code Code, op string, cause error) *Error {
	if cause == nil {
		cause = sentinels[code]
	}
	msg := ""
	if cause != nil {
		msg = cause.Error()
	}
	return &Error{Code: code, Op: op, Message: msg, Err: cause}
}

// InvalidInputf reports malformed caller arguments.
func InvalidInputf(op, format string, args ...any) *Error {
	return NewError(CodeInvalidInput, op, fmt.Errorf(format, args...))
}

// CodeOf returns the adapter code carried by err, or "" when err is not an *Error.
func CodeOf(err error) Code {
	var aerr *Error
	if errors.As(err, &aerr) {
		return aerr.Code
	}
	return ""
}
