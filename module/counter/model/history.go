package model

import (
	"time"

	"PulseChat/service/mgo"

	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
)

// 变更操作类别
const (
	OpIncrement = "increment"
	OpDecrement = "decrement"
	OpSet       = "set"      // 管理性绝对写
	OpReset     = "reset"    // 读任务按余量归位
	OpComputed  = "computed" // 重算任务整体覆盖
)

// HistoryRetention 审计滚动窗口
const HistoryRetention = 90 * 24 * time.Hour

// CounterHistory 每次计数器变更一行，只追加。
// 独立于计数器本体，审计与对账用。
type CounterHistory struct {
	ID       primitive.ObjectID `bson:"_id,omitempty"`
	TenantID string             `bson:"tenant_id"`

	CounterType string `bson:"counter_type"` // 计数器族
	EntityType  string `bson:"entity_type"`  // dialog|user|message|pack
	EntityID    string `bson:"entity_id"`    // 被计数的主实体
	Field       string `bson:"field"`

	OldValue int64 `bson:"old_value"`
	NewValue int64 `bson:"new_value"`
	Delta    int64 `bson:"delta"` // new - old（钳零后可与请求的 delta 不同）

	Operation       string `bson:"operation"`                  // increment|decrement|set|reset|computed
	SourceOperation string `bson:"source_operation,omitempty"` // 触发方业务操作名
	SourceEntityID  string `bson:"source_entity_id,omitempty"` // 通常是 event_id
	ActorID         string `bson:"actor_id,omitempty"`
	ActorType       string `bson:"actor_type,omitempty"`

	CreatedAt time.Time `bson:"created_at"`
}

func (sess *CounterHistory) GetTableName() string {
	return "counter_history"
}

func (sess *CounterHistory) Collection() *mongo.Collection {
	return mgo.GetDB().Collection(sess.GetTableName())
}
