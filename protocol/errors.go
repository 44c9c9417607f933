package protocol

import (
	"errors"
	"fmt"
)

// Sentinel responses surfaced as errors on the client side. They are
// defined replies, not transport failures: the exchange completed.
var (
	ErrUnknownCommand = errors.New("meterd: unknown command")
	ErrNotImplemented = errors.New("meterd: not implemented")
	ErrServerBusy     = errors.New("meterd: server busy")
	ErrNoResponse     = errors.New("meterd: connection closed without response")
)

// ServerError is a per-request failure reported by the server with the
// "Error: " prefix, typically a state field that could not be read or
// written. Other requests are unaffected.
type ServerError struct {
	Message string
}

func (e *ServerError) Error() string {
	return "meterd: server error: " + e.Message
}

// ResponseError is returned when a reply does not have the shape the
// command expects, e.g. a non-numeric reading.
type ResponseError struct {
	Verb    Verb
	Payload string
	Err     error
}

func (e *ResponseError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("meterd: invalid %s response %q: %v", e.Verb.Name(), e.Payload, e.Err)
	}
	return fmt.Sprintf("meterd: invalid %s response %q", e.Verb.Name(), e.Payload)
}

func (e *ResponseError) Unwrap() error {
	return e.Err
}

// IsDefinedReply reports whether err is one of the protocol's sentinel
// replies rather than a transport or parsing problem.
func IsDefinedReply(err error) bool {
	var se *ServerError
	return errors.Is(err, ErrUnknownCommand) ||
		errors.Is(err, ErrNotImplemented) ||
		errors.Is(err, ErrServerBusy) ||
		errors.As(err, &se)
}
