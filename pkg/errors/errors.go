package errors

import (
	stderrors "errors"
	"fmt"
)

// ErrClientNotFound is returned by credential lookups that match no (unrevoked) client.
var ErrClientNotFound = stderrors.New("client not found")

type UnknownCommand struct {
	Verb string
}

func (e *UnknownCommand) Error() string {
	return fmt.Sprintf("Unknown client command verb '%s'", e.Verb)
}

type UnsupportedFrame struct {
	Kind string
}

func (e *UnsupportedFrame) Error() string {
	return fmt.Sprintf("Unsupported frame kind=%s received from client", e.Kind)
}

type SendFailed struct {
	ClientId int64
	Cause    error
}

func (e *SendFailed) Error() string {
	return fmt.Sprintf("Failed to send to client with id=%d: %v", e.ClientId, e.Cause)
}

func (e *SendFailed) Unwrap() error {
	return e.Cause
}

type MissingAccessToken struct {
	Header string
}

func (e *MissingAccessToken) Error() string {
	return fmt.Sprintf("Missing access token in header %s", e.Header)
}

type InvalidAccessToken struct{}

func (e *InvalidAccessToken) Error() string {
	return "Access token does not match any enrolled client"
}
