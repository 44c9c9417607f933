package protocol

// Verb is the command keyword at the start of a request payload.
type Verb string

// Request verbs. Verbs ending in a comma take an argument: the rest of the
// payload after the first comma.
const (
	VerbGetReading    Verb = "getReading"
	VerbGetRoomNo     Verb = "getRoomNo"
	VerbSetRoomNo     Verb = "setRoomNo,"
	VerbGetMeterSN    Verb = "getMeterSN"
	VerbSetMeterSN    Verb = "setMeterSN,"
	VerbGetReadings   Verb = "getReadings,"
	VerbUnknown       Verb = ""
	argumentSeparator      = ','
)

// Verbs lists the known verbs in dispatch order.
var Verbs = []Verb{
	VerbGetReading,
	VerbGetRoomNo,
	VerbSetRoomNo,
	VerbGetMeterSN,
	VerbSetMeterSN,
	VerbGetReadings,
}

// Fixed response payloads.
const (
	// UnknownCommand is returned for any payload that matches no verb.
	UnknownCommand = "Unknown Command"

	// NotImplemented is returned for the declared verbs the server does not
	// serve (setMeterSN, getReadings).
	NotImplemented = "Not Implemented"

	// ServerBusy is written to connections rejected because every handler
	// slot is taken.
	ServerBusy = "Server Busy"

	// RoomNoPrefix precedes the new value in a setRoomNo acknowledgement.
	RoomNoPrefix = "Roomno: "

	// ErrorPrefix precedes the message of a per-request failure, e.g.
	// "Error: reading unavailable".
	ErrorPrefix = "Error: "
)

// Limits and defaults.
const (
	// MaxPayload is the largest request or response read in one exchange.
	MaxPayload = 1024

	// DefaultPort is the port of the reference deployment.
	DefaultPort = 5555

	// ReadingPrecision is the number of fractional digits of a reading on
	// the wire and on disk.
	ReadingPrecision = 2
)

// Name returns the verb without its argument separator, for logs and metrics.
func (v Verb) Name() string {
	switch {
	case v == VerbUnknown:
		return "unknown"
	case v.TakesArgument():
		return string(v[:len(v)-1])
	default:
		return string(v)
	}
}

// TakesArgument reports whether the verb is followed by an argument.
func (v Verb) TakesArgument() bool {
	return len(v) > 0 && v[len(v)-1] == argumentSeparator
}
