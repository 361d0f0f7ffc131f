package presence

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const (
	activeKey      = "octerm:active"
	clientPrefix   = "octerm:client:"
	redisOpTimeout = 2 * time.Second
)

func clientKey(clientId int64) string {
	return clientPrefix + strconv.FormatInt(clientId, 10)
}

func NewRedisClient(ctx context.Context, redisURL string) (*redis.Client, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse redis URL: %w", err)
	}

	rdb := redis.NewClient(opts)

	pingCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("failed to ping redis: %w", err)
	}
	return rdb, nil
}

// RedisPresence mirrors the set of connected client ids into Redis so other
// services can see who is online. It observes the connection registry.
type RedisPresence struct {
	rdb *redis.Client
	now func() time.Time
	log *zap.Logger
}

func CreateRedisPresence(rdb *redis.Client, logger *zap.Logger) *RedisPresence {
	if logger == nil {
		logger = zap.NewNop()
	}

	return &RedisPresence{
		rdb: rdb,
		now: time.Now,
		log: logger.With(zap.String("component", "presence")),
	}
}

func (p *RedisPresence) ClientInserted(clientId int64) {
	ctx, cancel := context.WithTimeout(context.Background(), redisOpTimeout)
	defer cancel()

	_, err := p.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.SAdd(ctx, activeKey, clientId)
		pipe.HSet(ctx, clientKey(clientId), "connected_at", p.now().Unix())
		return nil
	})
	if err != nil {
		p.log.Warn("Failed to record client presence", zap.Int64("clientId", clientId), zap.Error(err))
	}
}

func (p *RedisPresence) ClientRemoved(clientId int64) {
	ctx, cancel := context.WithTimeout(context.Background(), redisOpTimeout)
	defer cancel()

	_, err := p.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.SRem(ctx, activeKey, clientId)
		pipe.Del(ctx, clientKey(clientId))
		return nil
	})
	if err != nil {
		p.log.Warn("Failed to clear client presence", zap.Int64("clientId", clientId), zap.Error(err))
	}
}

// Reset clears presence left behind by a previous process.
func (p *RedisPresence) Reset(ctx context.Context) error {
	members, err := p.rdb.SMembers(ctx, activeKey).Result()
	if err != nil {
		return fmt.Errorf("failed to list stale presence: %w", err)
	}

	keys := make([]string, 0, len(members)+1)
	for _, m := range members {
		keys = append(keys, clientPrefix+m)
	}
	keys = append(keys, activeKey)

	if err := p.rdb.Del(ctx, keys...).Err(); err != nil {
		return fmt.Errorf("failed to clear stale presence: %w", err)
	}
	return nil
}

func (p *RedisPresence) Active(ctx context.Context) ([]int64, error) {
	members, err := p.rdb.SMembers(ctx, activeKey).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to list presence: %w", err)
	}

	ids := make([]int64, 0, len(members))
	for _, m := range members {
		id, err := strconv.ParseInt(m, 10, 64)
		if err != nil {
			p.log.Warn("Ignoring malformed presence member", zap.String("member", m))
			continue
		}
		ids = append(ids, id)
	}
	return ids, nil
}

// ConnectedAt returns when clientId was last registered, or false if it is not present.
func (p *RedisPresence) ConnectedAt(ctx context.Context, clientId int64) (time.Time, bool, error) {
	v, err := p.rdb.HGet(ctx, clientKey(clientId), "connected_at").Int64()
	if errors.Is(err, redis.Nil) {
		return time.Time{}, false, nil
	}
	if err != nil {
		return time.Time{}, false, fmt.Errorf("failed to read presence for client %d: %w", clientId, err)
	}
	return time.Unix(v, 0), true, nil
}
