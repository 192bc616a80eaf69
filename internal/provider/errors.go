package provider

import (
	"context"
	"errors"
)

// ErrorType categorizes client errors for handling.
type ErrorType int

const (
	ErrTypeUnknown ErrorType = iota
	ErrTypeTimeout
	ErrTypeConnection
	ErrTypeModelNotFound
	ErrTypeInvalidResponse
	ErrTypeAPI
)

func (t ErrorType) String() string {
	switch t {
	case ErrTypeTimeout:
		return "timeout"
	case ErrTypeConnection:
		return "connection"
	case ErrTypeModelNotFound:
		return "model_not_found"
	case ErrTypeInvalidResponse:
		return "invalid_response"
	case ErrTypeAPI:
		return "api"
	default:
		return "unknown"
	}
}

// ClientError is the error returned by every provider.
type ClientError struct {
	Provider string
	Type     ErrorType
	Message  string
	Cause    error
}

func (e *ClientError) Error() string {
	msg := e.Provider + ": " + e.Message
	if e.Cause != nil {
		msg += ": " + e.Cause.Error()
	}
	return msg
}

func (e *ClientError) Unwrap() error {
	return e.Cause
}

// IsTimeout reports whether err is a provider timeout or a context deadline.
func IsTimeout(err error) bool {
	var ce *ClientError
	if errors.As(err, &ce) && ce.Type == ErrTypeTimeout {
		return true
	}
	return errors.Is(err, context.DeadlineExceeded)
}

// wrapErr classifies a transport or SDK error.
func wrapErr(provider, msg string, err error) error {
	t := ErrTypeAPI
	if errors.Is(err, context.DeadlineExceeded) {
		t = ErrTypeTimeout
	} else if errors.Is(err, context.Canceled) {
		t = ErrTypeConnection
	}
	return &ClientError{Provider: provider, Type: t, Message: msg, Cause: err}
}
