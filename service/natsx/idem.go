package natsx

import (
	"context"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// ----- 抽象存储 -----
// 查和记分开：消费侧先 Seen 拦重复，处理成功后再 Mark。
// 瞬时失败不 Mark，队列重投时还能重新处理。
type IdemStore interface {
	Seen(ctx context.Context, key string) (bool, error)
	Mark(ctx context.Context, key string, ttl time.Duration) error
}

// ----- 内存实现（单进程） -----
type memIdem struct {
	mu  sync.Mutex
	m   map[string]int64 // key -> expireUnix
	ttl time.Duration
}

func NewMemIdem(defaultTTL time.Duration) IdemStore {
	mi := &memIdem{m: make(map[string]int64), ttl: defaultTTL}
	// 清理协程
	go func() {
		t := time.NewTicker(time.Minute)
		defer t.Stop()
		for range t.C {
			now := time.Now().Unix()
			mi.mu.Lock()
			for k, exp := range mi.m {
				if exp <= now {
					delete(mi.m, k)
				}
			}
			mi.mu.Unlock()
		}
	}()
	return mi
}

func (mi *memIdem) Seen(_ context.Context, key string) (bool, error) {
	mi.mu.Lock()
	defer mi.mu.Unlock()
	exp, ok := mi.m[key]
	return ok && exp > time.Now().Unix(), nil
}

func (mi *memIdem) Mark(_ context.Context, key string, ttl time.Duration) error {
	if ttl <= 0 {
		ttl = mi.ttl
	}
	mi.mu.Lock()
	defer mi.mu.Unlock()
	mi.m[key] = time.Now().Add(ttl).Unix()
	return nil
}

// ----- Redis 实现（多 worker 共享） -----
type redisIdem struct {
	rdb *redis.Client
	ttl time.Duration
}

func NewRedisIdem(rdb *redis.Client, defaultTTL time.Duration) IdemStore {
	return &redisIdem{rdb: rdb, ttl: defaultTTL}
}

func (ri *redisIdem) Seen(ctx context.Context, key string) (bool, error) {
	n, err := ri.rdb.Exists(ctx, "im:idem:"+key).Result()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

func (ri *redisIdem) Mark(ctx context.Context, key string, ttl time.Duration) error {
	if ttl <= 0 {
		ttl = ri.ttl
	}
	return ri.rdb.Set(ctx, "im:idem:"+key, 1, ttl).Err()
}
