package protocol

import (
	"strconv"
	"strings"
)

// Response is a reply payload as seen by a client, paired with the verb
// that produced it.
type Response struct {
	Verb    Verb
	Payload string
}

// Value returns the payload with the protocol decoration removed: the bare
// room number for a setRoomNo acknowledgement, the payload otherwise.
func (r Response) Value() string {
	if r.Verb == VerbSetRoomNo {
		return strings.TrimPrefix(r.Payload, RoomNoPrefix)
	}
	return r.Payload
}

// Reading parses the payload of a getReading reply.
func (r Response) Reading() (float64, error) {
	v, err := strconv.ParseFloat(r.Payload, 64)
	if err != nil {
		return 0, &ResponseError{Verb: r.Verb, Payload: r.Payload, Err: err}
	}
	return v, nil
}

// FormatReading renders a reading the way it appears on the wire.
func FormatReading(v float64) string {
	return strconv.FormatFloat(v, 'f', ReadingPrecision, 64)
}

// FormatRoomNo renders the acknowledgement of a setRoomNo request.
func FormatRoomNo(value string) string {
	return RoomNoPrefix + value
}

// FormatError renders a per-request failure.
func FormatError(msg string) string {
	return ErrorPrefix + msg
}

// ParseResponse interprets the reply to cmd.
//
// Sentinel replies are returned as errors: ErrUnknownCommand,
// ErrNotImplemented, ErrServerBusy and *ServerError. An empty payload means
// the server closed without answering and yields ErrNoResponse.
func ParseResponse(cmd Command, payload []byte) (Response, error) {
	resp := Response{Verb: cmd.Verb, Payload: string(payload)}

	switch {
	case len(payload) == 0:
		return resp, ErrNoResponse
	case resp.Payload == UnknownCommand:
		return resp, ErrUnknownCommand
	case resp.Payload == NotImplemented:
		return resp, ErrNotImplemented
	case resp.Payload == ServerBusy:
		return resp, ErrServerBusy
	case strings.HasPrefix(resp.Payload, ErrorPrefix):
		return resp, &ServerError{Message: strings.TrimPrefix(resp.Payload, ErrorPrefix)}
	}

	switch cmd.Verb {
	case VerbGetReading:
		if _, err := resp.Reading(); err != nil {
			return resp, err
		}
	case VerbSetRoomNo:
		if !strings.HasPrefix(resp.Payload, RoomNoPrefix) {
			return resp, &ResponseError{Verb: cmd.Verb, Payload: resp.Payload}
		}
	}

	return resp, nil
}
