// Package protocol implements the gas meter's one-shot text protocol.
//
// A client connects over TCP, writes a single request of at most
// MaxPayload bytes, reads a single reply and the server closes the
// connection. There is no framing: one read, one write, then close.
//
// # Requests
//
// A request is a verb, optionally followed by a comma and an argument:
//
//	getReading
//	getRoomNo
//	setRoomNo,B366
//	getMeterSN
//
// Parse never fails. Payloads that match no verb produce a Command with
// VerbUnknown, which servers answer with UnknownCommand.
//
// # Replies
//
// Replies are bare text:
//
//   - getReading: the reading with two fractional digits ("123.40")
//   - getRoomNo, getMeterSN: the stored token
//   - setRoomNo: "Roomno: <value>"
//   - setMeterSN, getReadings: NotImplemented
//   - anything else: UnknownCommand
//   - a failed state access: "Error: <message>"
//   - a rejected connection: ServerBusy
//
// ParseResponse maps the sentinel replies to errors for client code:
//
//	resp, err := protocol.ParseResponse(cmd, payload)
//	if protocol.IsDefinedReply(err) {
//	    // the server answered, but not with data
//	}
package protocol
