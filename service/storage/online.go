package storage

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
)

// Presence 连接在线簿记：每个用户可同时有多条连接（多端/多标签页）
type Presence interface {
	ConnOnline(ctx context.Context, tenantID, userID, connID string, ttl time.Duration) error
	ConnOffline(ctx context.Context, tenantID, userID, connID string) error
	LiveConns(ctx context.Context, tenantID, userID string) ([]string, error)
}

// conn set key: im:conns:<tenant>:<user>
// 成员是 connection_id，TTL 控制活性窗口
func connsKey(tenant, user string) string { return "im:conns:" + tenant + ":" + user }

type RedisPresence struct {
	Rdb *redis.Client
}

func NewRedisPresence(rdb *redis.Client) *RedisPresence { return &RedisPresence{Rdb: rdb} }

// ConnOnline registers a live connection and renews the set TTL.
func (p *RedisPresence) ConnOnline(ctx context.Context, tenantID, userID, connID string, ttl time.Duration) error {
	key := connsKey(tenantID, userID)
	if err := p.Rdb.SAdd(ctx, key, connID).Err(); err != nil {
		return err
	}
	return p.Rdb.Expire(ctx, key, ttl).Err()
}

// ConnOffline removes the connection; the set disappears with its last member.
func (p *RedisPresence) ConnOffline(ctx context.Context, tenantID, userID, connID string) error {
	return p.Rdb.SRem(ctx, connsKey(tenantID, userID), connID).Err()
}

// LiveConns lists connection ids currently registered for the user.
func (p *RedisPresence) LiveConns(ctx context.Context, tenantID, userID string) ([]string, error) {
	return p.Rdb.SMembers(ctx, connsKey(tenantID, userID)).Result()
}
