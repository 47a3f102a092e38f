package kafka

import (
	"context"

	"PulseChat/logger"

	"github.com/Shopify/sarama"
)

// MessageHandler 返回 (retry, err)：
//   - retry=true 时不提交 offset 并中断本次 claim，消息会被重投；
//   - retry=false 的错误由 handler 自行记录，offset 照常推进。
type MessageHandler func(ctx context.Context, topic string, key, value []byte) (retry bool, err error)

type groupHandler struct {
	handler MessageHandler
}

func (h *groupHandler) Setup(sarama.ConsumerGroupSession) error {
	logger.Info("consumer group setup")
	return nil
}

func (h *groupHandler) Cleanup(sarama.ConsumerGroupSession) error {
	logger.Info("consumer group cleanup")
	return nil
}

func (h *groupHandler) ConsumeClaim(session sarama.ConsumerGroupSession, claim sarama.ConsumerGroupClaim) error {
	for msg := range claim.Messages() {
		retry, err := h.handler(session.Context(), msg.Topic, msg.Key, msg.Value)
		if err != nil {
			logger.Errorf("handler error | topic=%s partition=%d offset=%d: %v",
				msg.Topic, msg.Partition, msg.Offset, err)
		}
		if retry {
			// 不 Mark，退出让 group 重平衡后从当前 offset 重投
			return err
		}
		session.MarkMessage(msg, "")
	}
	return nil
}

// ConsumerGroup 一组 topic 的 ack 式消费循环
type ConsumerGroup struct {
	group  sarama.ConsumerGroup
	topics []string
}

func NewConsumerGroup(c Config, topics []string) (*ConsumerGroup, error) {
	cfg := BuildBaseConfig(c)
	group, err := sarama.NewConsumerGroup(c.Brokers, c.GroupID, cfg)
	if err != nil {
		return nil, err
	}
	return &ConsumerGroup{group: group, topics: topics}, nil
}

// Run 阻塞消费直到 ctx 取消；单条消息的失败不会终止循环
func (cg *ConsumerGroup) Run(ctx context.Context, handler MessageHandler) error {
	go func() {
		for err := range cg.group.Errors() {
			logger.Errorf("consumer group error: %v", err)
		}
	}()

	gh := &groupHandler{handler: handler}
	for {
		if err := cg.group.Consume(ctx, cg.topics, gh); err != nil {
			logger.Errorf("consume error: %v", err)
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
	}
}

func (cg *ConsumerGroup) Close() error {
	return cg.group.Close()
}
