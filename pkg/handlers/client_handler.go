package handlers

import (
	"context"
	"time"
)

type ClientStatus string

const (
	ClientStatus_Authorized ClientStatus = "Authorized"
	ClientStatus_Enrolled   ClientStatus = "Enrolled"
	ClientStatus_Connected  ClientStatus = "Connected"
)

// Client is an enrolled device as recorded by the credential store.
type Client struct {
	Id          int64
	Name        string
	Status      ClientStatus
	Description string
	Location    string
	Revoked     bool
	CreatedOn   time.Time
	AccessedOn  *time.Time
}

// CredentialStore resolves tokens to clients. Lookups that match nothing return
// errors.ErrClientNotFound.
type CredentialStore interface {
	ClientByAuthToken(ctx context.Context, token string) (*Client, error)
	ClientByAccessToken(ctx context.Context, token string) (*Client, error)
}

// ConnectionRecorder is notified once a client's socket has been accepted.
type ConnectionRecorder interface {
	MarkConnected(ctx context.Context, clientId int64) error
}
