package kafka

import (
	"github.com/Shopify/sarama"
)

// Producer 同步生产者：事件中继用它把事件写入队列。
// 按 Key 哈希分区，同一实体的事件落在同一分区、同一消费者。
type Producer struct {
	sp sarama.SyncProducer
}

func NewProducer(c Config) (*Producer, error) {
	cfg := BuildBaseConfig(c)
	sp, err := sarama.NewSyncProducer(c.Brokers, cfg)
	if err != nil {
		return nil, err
	}
	return &Producer{sp: sp}, nil
}

func (p *Producer) Send(topic string, key, value []byte) (partition int32, offset int64, err error) {
	msg := &sarama.ProducerMessage{
		Topic: topic,
		Key:   sarama.ByteEncoder(key),
		Value: sarama.ByteEncoder(value),
	}
	return p.sp.SendMessage(msg)
}

func (p *Producer) Close() error {
	if p == nil || p.sp == nil {
		return nil
	}
	return p.sp.Close()
}
