package shared

import (
	"errors"
	"fmt"
)

// ErrorKind classifies failures by how the control loop must react to them:
// malformed events are counted and dropped, io failures are surfaced
// prominently, context and backend failures degrade gracefully, and stale
// responses are discarded silently.
type ErrorKind int

const (
	ErrorKindMalformedEvent ErrorKind = iota
	ErrorKindIoFailure
	ErrorKindContextUnavailable
	ErrorKindBackendFailure
	ErrorKindStaleResponse
	ErrorKindUnknown
)

func (k ErrorKind) String() string {
	switch k {
	case ErrorKindMalformedEvent:
		return "malformed_event"
	case ErrorKindIoFailure:
		return "io_failure"
	case ErrorKindContextUnavailable:
		return "context_unavailable"
	case ErrorKindBackendFailure:
		return "backend_failure"
	case ErrorKindStaleResponse:
		return "stale_response"
	default:
		return "unknown"
	}
}

type CrumbeezError struct {
	Kind    ErrorKind
	Message string
	Err     error
}

func Errorf(kind ErrorKind, format string, a ...any) *CrumbeezError {
	return &CrumbeezError{
		Kind:    kind,
		Message: fmt.Sprintf(format, a...),
	}
}

func Wrap(kind ErrorKind, err error, format string, a ...any) *CrumbeezError {
	return &CrumbeezError{
		Kind:    kind,
		Message: fmt.Sprintf(format, a...),
		Err:     err,
	}
}

func (e *CrumbeezError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %s", e.Kind, e.Message, e.Err.Error())
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *CrumbeezError) Unwrap() error {
	return e.Err
}

// KindOf returns the kind carried by err, or ErrorKindUnknown when err is not
// a CrumbeezError.
func KindOf(err error) ErrorKind {
	var ce *CrumbeezError
	if errors.As(err, &ce) {
		return ce.Kind
	}
	return ErrorKindUnknown
}

// IsKind reports whether err carries the given kind.
func IsKind(err error, kind ErrorKind) bool {
	return err != nil && KindOf(err) == kind
}
