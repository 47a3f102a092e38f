package global

import (
	"os"
	"strconv"
	"strings"
	"time"

	"PulseChat/data/database/mgo/mongoutil"
	"PulseChat/service/kafka"
	"PulseChat/service/natsx"
	"PulseChat/service/storage/redis"
	"PulseChat/tools/ids"
)

// 配置集中在这里，环境变量覆盖默认值。部署面不大，不值得上配置中心。

const (
	EventTopic         = "im-events"  // 事件中继写入 / 派生 worker 消费
	DeriverGroup       = "im-deriver" // 派生 worker 消费组
	DefaultAdminAddr   = ":8081"
	DefaultGatewayAddr = ":8080"
	ReadTaskIdle       = 2 * time.Second // 读任务轮询空转间隔
)

func env(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func envInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}

func ConfigIds() {
	ids.SetNodeID(int64(envInt("IM_NODE_ID", 100)))
}

func MongoConfig() *mongoutil.Config {
	return &mongoutil.Config{
		Uri:         env("IM_MONGO_URI", "mongodb://localhost:27017"),
		Database:    env("IM_MONGO_DB", "pulsechat"),
		Username:    env("IM_MONGO_USER", ""),
		Password:    env("IM_MONGO_PASS", ""),
		MaxPoolSize: envInt("IM_MONGO_POOL", 20),
		MaxRetry:    3,
	}
}

func RedisConfig() redis.Config {
	return redis.Config{
		Addr:     env("IM_REDIS_ADDR", "127.0.0.1:6379"),
		Password: env("IM_REDIS_PASS", ""),
		DB:       envInt("IM_REDIS_DB", 0),
	}
}

func KafkaConfig() kafka.Config {
	return kafka.Config{
		Brokers:               strings.Split(env("IM_KAFKA_BROKERS", "127.0.0.1:9092"), ","),
		GroupID:               env("IM_KAFKA_GROUP", DeriverGroup),
		ProducerRetries:       3,
		ProducerCompression:   env("IM_KAFKA_COMPRESSION", "snappy"),
		ConsumerInitialOffset: env("IM_KAFKA_OFFSET", "oldest"),
	}
}

func NatsConfig() natsx.NatsxConfig {
	return natsx.NatsxConfig{
		Servers:  strings.Split(env("IM_NATS_SERVERS", "nats://127.0.0.1:4222"), ","),
		Name:     env("IM_NATS_NAME", "pulsechat-core"),
		Username: env("IM_NATS_USER", ""),
		Password: env("IM_NATS_PASS", ""),
	}
}

func AdminAddr() string   { return env("IM_ADMIN_ADDR", DefaultAdminAddr) }
func GatewayAddr() string { return env("IM_GATEWAY_ADDR", DefaultGatewayAddr) }
