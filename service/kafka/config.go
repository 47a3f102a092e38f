package kafka

import (
	"strings"
	"time"

	"github.com/Shopify/sarama"
)

type Config struct {
	Brokers []string
	GroupID string

	ProducerRetries       int
	ProducerCompression   string // none|snappy|lz4|zstd
	ConsumerInitialOffset string // newest|oldest
}

func BuildBaseConfig(c Config) *sarama.Config {
	cfg := sarama.NewConfig()
	cfg.Version = sarama.V2_1_0_0

	// Producer
	cfg.Producer.Return.Successes = true
	cfg.Producer.Return.Errors = true
	cfg.Producer.RequiredAcks = sarama.WaitForAll
	if c.ProducerRetries <= 0 {
		c.ProducerRetries = 3
	}
	cfg.Producer.Retry.Max = c.ProducerRetries
	cfg.Producer.Partitioner = sarama.NewHashPartitioner // Key 控制分区
	switch strings.ToLower(c.ProducerCompression) {
	case "snappy":
		cfg.Producer.Compression = sarama.CompressionSnappy
	case "lz4":
		cfg.Producer.Compression = sarama.CompressionLZ4
	case "zstd":
		cfg.Producer.Compression = sarama.CompressionZSTD
	default:
		cfg.Producer.Compression = sarama.CompressionNone
	}

	// Consumer
	switch strings.ToLower(c.ConsumerInitialOffset) {
	case "newest":
		cfg.Consumer.Offsets.Initial = sarama.OffsetNewest
	default:
		cfg.Consumer.Offsets.Initial = sarama.OffsetOldest
	}
	cfg.Consumer.Return.Errors = true

	// Net
	cfg.Net.DialTimeout = 10 * time.Second
	cfg.Net.ReadTimeout = 30 * time.Second
	cfg.Net.WriteTimeout = 30 * time.Second
	return cfg
}
