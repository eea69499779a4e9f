package smarthub

import (
	"errors"
	"fmt"
)

// ErrAPI matches every error returned by the SmartHub client via errors.Is.
var ErrAPI = errors.New("smarthub api error")

func formatError(kind, msg string, err error) string {
	s := "smarthub " + kind
	if msg != "" {
		s += ": " + msg
	}
	if err != nil {
		s += ": " + err.Error()
	}
	return s
}

// AuthError is returned for bad credentials or a 401 that survives a token
// refresh.
type AuthError struct {
	Msg string
	Err error
}

func (e *AuthError) Error() string        { return formatError("authentication error", e.Msg, e.Err) }
func (e *AuthError) Unwrap() error        { return e.Err }
func (e *AuthError) Is(target error) bool { return target == ErrAPI }

// ConnectionError is returned for transport failures and unexpected HTTP
// statuses. StatusCode is 0 for transport failures.
type ConnectionError struct {
	Msg        string
	StatusCode int
	Err        error
}

func (e *ConnectionError) Error() string {
	msg := e.Msg
	if e.StatusCode != 0 {
		msg = fmt.Sprintf("%s (status %d)", msg, e.StatusCode)
	}
	return formatError("connection error", msg, e.Err)
}
func (e *ConnectionError) Unwrap() error        { return e.Err }
func (e *ConnectionError) Is(target error) bool { return target == ErrAPI }

// DataError is returned when a response body does not have the expected
// shape.
type DataError struct {
	Msg string
	Err error
}

func (e *DataError) Error() string        { return formatError("data error", e.Msg, e.Err) }
func (e *DataError) Unwrap() error        { return e.Err }
func (e *DataError) Is(target error) bool { return target == ErrAPI }

// APIError is returned when the retry budget ran out without a more specific
// classification.
type APIError struct {
	Msg string
	Err error
}

func (e *APIError) Error() string        { return formatError("api error", e.Msg, e.Err) }
func (e *APIError) Unwrap() error        { return e.Err }
func (e *APIError) Is(target error) bool { return target == ErrAPI }

// IsAuthError returns true if err is, or wraps, an AuthError.
func IsAuthError(err error) bool {
	var ae *AuthError
	return errors.As(err, &ae)
}
