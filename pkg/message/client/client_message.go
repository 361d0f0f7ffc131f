package client

import (
	"strings"

	"github.com/octerm/octerm-hub/pkg/errors"
)

type ClientCommandType uint8

const (
	ClientCommandType_Log ClientCommandType = iota
	ClientCommandType_Response
	ClientCommandType_Discord

	ClientCommandType_NONE
)

// DefaultLogBody is stored for a Log command that arrives without a payload.
const DefaultLogBody = "-- no log body sent --"

var clientCommandVerbs = map[string]ClientCommandType{
	"Log":      ClientCommandType_Log,
	"Response": ClientCommandType_Response,
	"Discord":  ClientCommandType_Discord,
}

func (t ClientCommandType) String() string {
	switch t {
	case ClientCommandType_Log:
		return "Log"
	case ClientCommandType_Response:
		return "Response"
	case ClientCommandType_Discord:
		return "Discord"
	}

	return "None"
}

// ClientCommand is a command sent by a client as a text frame of the form
// "<verb>" or "<verb> <payload>". Payload is nil when no separator was present.
type ClientCommand struct {
	Type    ClientCommandType
	Payload *string
}

func (c ClientCommand) PayloadOr(fallback string) string {
	if c.Payload == nil {
		return fallback
	}
	return *c.Payload
}

// String renders the command back into its wire form.
func (c ClientCommand) String() string {
	if c.Payload == nil {
		return c.Type.String()
	}
	return c.Type.String() + " " + *c.Payload
}

// ParseClientCommand splits text on the first space; everything after it is the payload verbatim.
func ParseClientCommand(text string) (*ClientCommand, error) {
	verb, payload, hasPayload := strings.Cut(text, " ")

	cmdType, ok := clientCommandVerbs[verb]
	if !ok {
		return nil, &errors.UnknownCommand{Verb: verb}
	}

	cmd := &ClientCommand{Type: cmdType}
	if hasPayload {
		cmd.Payload = &payload
	}

	return cmd, nil
}
