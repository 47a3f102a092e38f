package model

import (
	"time"

	evmodel "PulseChat/module/event/model"
	"PulseChat/service/mgo"

	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
)

// EventConnEstablished 订阅建立后的首条合成更新，携带连接ID，
// 调用方拿它做 presence/typing 关联。不是领域事件，不落事件表。
const EventConnEstablished evmodel.EventType = "connection.established"

// Update 按接收人物化的投递记录：一个事件扇出 N 条。
// 只在发布成功时被改一次（published 置位），其余不可变。
type Update struct {
	ID       primitive.ObjectID `bson:"_id,omitempty"  json:"_id,omitempty"`
	UpdateID string             `bson:"update_id"      json:"update_id"`
	TenantID string             `bson:"tenant_id"      json:"tenant_id"`
	UserID   string             `bson:"user_id"        json:"user_id"` // 接收人

	EntityID  string            `bson:"entity_id"  json:"entity_id"` // 涉及的会话或消息
	EventID   string            `bson:"event_id"   json:"event_id"`  // 来源事件
	EventType evmodel.EventType `bson:"event_type" json:"event_type"`

	// Data 面向该接收人的完整视图（会话/消息对象按该用户视角物化）
	Data map[string]any `bson:"data,omitempty" json:"data,omitempty"`

	Published   bool       `bson:"published"              json:"published"`
	PublishedAt *time.Time `bson:"published_at,omitempty" json:"published_at,omitempty"`

	CreatedAtMS int64 `bson:"created_at_ms" json:"created_at_ms"`
}

func (sess *Update) GetTableName() string {
	return "chat_updates"
}

func (sess *Update) Collection() *mongo.Collection {
	return mgo.GetDB().Collection(sess.GetTableName())
}
