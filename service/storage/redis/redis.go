package redis

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"
)

type Config struct {
	Addr     string
	Password string
	DB       int
}

var rdb *redis.Client

func InitRedis(c Config) error {
	rdb = redis.NewClient(&redis.Options{Addr: c.Addr, Password: c.Password, DB: c.DB})
	return rdb.Ping(context.Background()).Err()
}

// GetClient 返回全局客户端；未初始化时报错由调用方处理
func GetClient() (*redis.Client, error) {
	if rdb == nil {
		return nil, fmt.Errorf("redis not initialized")
	}
	return rdb, nil
}

func Close() error {
	if rdb == nil {
		return nil
	}
	return rdb.Close()
}
