package services

import (
	"errors"
	"fmt"
)

var (
	// ErrNoCredential means the host holds no usable credential: it is absent,
	// undecodable, expired, or rejected by the remote probe.
	ErrNoCredential = errors.New("no valid credential")

	ErrUnauthorized      = errors.New("unauthorized")
	ErrMalformedResponse = errors.New("malformed remote response")
	ErrCursorStalled     = errors.New("remote returned the same cursor twice")

	// ErrRemoteFailure wraps every transport, status or decode failure talking
	// to the remote API so callers can tell it apart from storage errors.
	ErrRemoteFailure = errors.New("remote failure")
)

type HTTPError struct {
	StatusCode int
	Message    string
}

func (e *HTTPError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("http %d: %s", e.StatusCode, e.Message)
	}
	return fmt.Sprintf("http %d", e.StatusCode)
}

func (e *HTTPError) Is(target error) bool {
	return target == ErrUnauthorized && e.StatusCode == 401
}
