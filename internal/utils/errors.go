package utils

import (
	"errors"
	"fmt"
)

// Code classifies failures across registration, config retrieval and the
// realtime session.
type Code int

const (
	AllocFailed Code = iota + 1
	InvalidParam
	NetworkFail
	ParseFailed
	SignFailed
	InvalidContext
	DevRegFailed
	ConnectFailed
	QueueFull
)

var codeNames = map[Code]string{
	AllocFailed:    "alloc_failed",
	InvalidParam:   "invalid_param",
	NetworkFail:    "network_fail",
	ParseFailed:    "parse_failed",
	SignFailed:     "sign_failed",
	InvalidContext: "invalid_context",
	DevRegFailed:   "devreg_failed",
	ConnectFailed:  "connect_failed",
	QueueFull:      "queue_full",
}

func (c Code) String() string {
	if n, ok := codeNames[c]; ok {
		return n
	}
	return fmt.Sprintf("code(%d)", int(c))
}

type CustomError struct {
	Code    Code
	Message string
	Err     error
}

func (e *CustomError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *CustomError) Unwrap() error { return e.Err }

// Is matches any *CustomError carrying the same code, so the sentinels below
// work with errors.Is regardless of message or cause.
func (e *CustomError) Is(target error) bool {
	t, ok := target.(*CustomError)
	if !ok {
		return false
	}
	return t.Code == e.Code
}

func New(code Code, message string) error {
	return &CustomError{Code: code, Message: message}
}

// Wrap attaches a code to err. A nil err still yields a coded error.
func Wrap(code Code, message string, err error) error {
	return &CustomError{Code: code, Message: message, Err: err}
}

// CodeOf returns the code of the outermost CustomError in err's chain, or 0.
func CodeOf(err error) Code {
	var ce *CustomError
	if errors.As(err, &ce) {
		return ce.Code
	}
	return 0
}

var (
	ErrAllocFailed    = New(AllocFailed, "allocation failed")
	ErrInvalidParam   = New(InvalidParam, "invalid parameter")
	ErrNetworkFail    = New(NetworkFail, "network failure")
	ErrParseFailed    = New(ParseFailed, "parse failed")
	ErrSignFailed     = New(SignFailed, "signing failed")
	ErrInvalidContext = New(InvalidContext, "invalid context")
	ErrDevRegFailed   = New(DevRegFailed, "device registration failed")
	ErrConnectFailed  = New(ConnectFailed, "connect failed")
	ErrQueueFull      = New(QueueFull, "send queue full")
)
