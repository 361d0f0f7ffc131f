package handlers

import "context"

// LogSink accepts log lines submitted by clients. SubmitLog must not block the
// caller on persistence.
type LogSink interface {
	SubmitLog(clientId int64, message string)
}

// Forwarder relays the payload of a client's forwarding command to an external channel.
type Forwarder interface {
	Forward(ctx context.Context, msg ForwardedMessage) error
}

type ForwardedMessage struct {
	ClientId int64  `json:"client_id"`
	Content  string `json:"content"`
}
