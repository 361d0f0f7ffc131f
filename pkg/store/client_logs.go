package store

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

type ClientLog struct {
	Id       int64
	ClientId int64
	LogTime  time.Time
	Message  string
}

type ClientLogRepo struct {
	pool *pgxpool.Pool
}

func NewClientLogRepo(pool *pgxpool.Pool) *ClientLogRepo {
	return &ClientLogRepo{pool: pool}
}

func (r *ClientLogRepo) PersistLog(ctx context.Context, clientId int64, message string) error {
	_, err := r.pool.Exec(ctx,
		"INSERT INTO client_logs (client_id, log_message) VALUES ($1, $2)",
		clientId, message)
	if err != nil {
		return fmt.Errorf("failed to insert log for client %d: %w", clientId, err)
	}
	return nil
}

// Recent returns up to limit of a client's logs, newest first.
func (r *ClientLogRepo) Recent(ctx context.Context, clientId int64, limit int) ([]ClientLog, error) {
	rows, err := r.pool.Query(ctx,
		"SELECT id, client_id, log_time, log_message FROM client_logs WHERE client_id = $1 ORDER BY log_time DESC, id DESC LIMIT $2",
		clientId, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query logs for client %d: %w", clientId, err)
	}

	logs, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (ClientLog, error) {
		var l ClientLog
		err := row.Scan(&l.Id, &l.ClientId, &l.LogTime, &l.Message)
		return l, err
	})
	if err != nil {
		return nil, fmt.Errorf("failed to scan logs for client %d: %w", clientId, err)
	}
	return logs, nil
}
