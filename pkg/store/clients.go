package store

import (
	"context"
	stderrors "errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/octerm/octerm-hub/pkg/errors"
	"github.com/octerm/octerm-hub/pkg/handlers"
)

const clientColumns = `id, name, status, description, location, revoked, created_on, accessed_on`

// ClientRepo is the Postgres-backed credential store.
type ClientRepo struct {
	pool *pgxpool.Pool
}

func NewClientRepo(pool *pgxpool.Pool) *ClientRepo {
	return &ClientRepo{pool: pool}
}

func (r *ClientRepo) ClientByAuthToken(ctx context.Context, token string) (*handlers.Client, error) {
	return r.queryOne(ctx, "SELECT "+clientColumns+" FROM clients WHERE auth_key = $1 AND NOT revoked", token)
}

func (r *ClientRepo) ClientByAccessToken(ctx context.Context, token string) (*handlers.Client, error) {
	return r.queryOne(ctx, "SELECT "+clientColumns+" FROM clients WHERE api_key = $1 AND NOT revoked", token)
}

// MarkConnected records that the client opened a live connection.
func (r *ClientRepo) MarkConnected(ctx context.Context, clientId int64) error {
	tag, err := r.pool.Exec(ctx,
		"UPDATE clients SET status = $2, accessed_on = $3 WHERE id = $1",
		clientId, string(handlers.ClientStatus_Connected), time.Now().UTC())
	if err != nil {
		return fmt.Errorf("failed to mark client %d connected: %w", clientId, err)
	}
	if tag.RowsAffected() == 0 {
		return errors.ErrClientNotFound
	}
	return nil
}

func (r *ClientRepo) queryOne(ctx context.Context, sql string, args ...any) (*handlers.Client, error) {
	var (
		c      handlers.Client
		status string
	)

	err := r.pool.QueryRow(ctx, sql, args...).Scan(
		&c.Id, &c.Name, &status, &c.Description, &c.Location, &c.Revoked, &c.CreatedOn, &c.AccessedOn)
	if stderrors.Is(err, pgx.ErrNoRows) {
		return nil, errors.ErrClientNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query client: %w", err)
	}

	c.Status = handlers.ClientStatus(status)
	return &c, nil
}
