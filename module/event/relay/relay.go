package relay

import (
	"context"
	"encoding/json"
	"time"

	"PulseChat/logger"
	"PulseChat/module/event/model"
	"PulseChat/service/kafka"

	"go.mongodb.org/mongo-driver/mongo"
)

// Relay 盯住事件表的 change stream，把每条新事件转投到队列。
// Append 本身没有副作用，队列投递全部走这里；中继挂掉重启后
// 由消费端的幂等键兜底重复投递。
type Relay struct {
	db       *mongo.Database
	producer *kafka.Producer
	topic    string
}

func NewRelay(db *mongo.Database, producer *kafka.Producer, topic string) *Relay {
	return &Relay{db: db, producer: producer, topic: topic}
}

// Run 阻塞运行到 ctx 取消；流断开后退避重建
func (r *Relay) Run(ctx context.Context) error {
	for {
		if err := r.watch(ctx); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			logger.Errorf("event relay stream error, rebuilding: %v", err)
			time.Sleep(time.Second)
			continue
		}
		return nil
	}
}

func (r *Relay) watch(ctx context.Context) error {
	coll := r.db.Collection((&model.EventRecord{}).GetTableName())
	cs, err := coll.Watch(ctx, mongo.Pipeline{})
	if err != nil {
		return err
	}
	defer cs.Close(ctx)

	for cs.Next(ctx) {
		var ch struct {
			OperationType string            `bson:"operationType"`
			FullDocument  model.EventRecord `bson:"fullDocument"`
		}
		if err := cs.Decode(&ch); err != nil {
			logger.Errorf("event relay decode: %v", err)
			continue
		}
		if ch.OperationType != "insert" {
			continue
		}
		r.forward(&ch.FullDocument)
	}
	return cs.Err()
}

func (r *Relay) forward(ev *model.EventRecord) {
	value, err := json.Marshal(ev)
	if err != nil {
		logger.Errorf("event relay marshal | event_id=%s: %v", ev.EventID, err)
		return
	}
	// Key=entity_id：同一实体的事件进同一分区，分区内保序
	if _, _, err := r.producer.Send(r.topic, []byte(ev.EntityID), value); err != nil {
		logger.Errorf("event relay send | event_id=%s: %v", ev.EventID, err)
	}
}
