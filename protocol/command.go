package protocol

import "strings"

// Command is a parsed request: a verb and its optional argument.
//
// A Command with VerbUnknown is a valid value, not a parse failure. Raw holds
// the payload as received so unknown requests can still be logged.
type Command struct {
	Verb Verb
	Arg  string
	Raw  string
}

// Parse turns a request payload into a Command.
//
// Plain verbs must match the payload exactly, so "getReading\n" is unknown.
// Verbs that take an argument match as a prefix, and the argument is
// everything after the first comma, further commas and whitespace (line
// terminators too) included.
func Parse(payload []byte) Command {
	raw := string(payload)

	for _, verb := range Verbs {
		if verb.TakesArgument() {
			if strings.HasPrefix(raw, string(verb)) {
				return Command{Verb: verb, Arg: raw[len(verb):], Raw: raw}
			}
			continue
		}
		if raw == string(verb) {
			return Command{Verb: verb, Raw: raw}
		}
	}

	return Command{Verb: VerbUnknown, Raw: raw}
}

// NewCommand builds a Command for sending. arg is ignored for verbs that
// take no argument.
func NewCommand(verb Verb, arg string) Command {
	if !verb.TakesArgument() {
		arg = ""
	}
	return Command{Verb: verb, Arg: arg, Raw: string(verb) + arg}
}

// Encode returns the request payload for c. For VerbUnknown the Raw
// payload is sent unchanged.
func (c Command) Encode() []byte {
	if c.Verb == VerbUnknown {
		return []byte(c.Raw)
	}
	buf := make([]byte, 0, len(c.Verb)+len(c.Arg))
	buf = append(buf, c.Verb...)
	if c.Verb.TakesArgument() {
		buf = append(buf, c.Arg...)
	}
	return buf
}

func (c Command) String() string {
	if c.Verb == VerbUnknown {
		return c.Raw
	}
	return string(c.Encode())
}
