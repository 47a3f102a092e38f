package model

import (
	"time"

	"PulseChat/service/mgo"

	"go.mongodb.org/mongo-driver/mongo"
)

// 计数器族。统一形状：身份键 -> 数值字段 -> created_at/last_updated_at。
// 身份键不做外键约束，允许悬挂引用，重算任务负责对账。
// 数值字段任何时刻非负（变更协议在 store 里钳到零）。

// CounterType 即各族的集合名
const (
	CounterDialogStats         = "dialog_stats"
	CounterDialogUserUnread    = "dialog_user_unread"
	CounterTopicUserUnread     = "topic_user_unread"
	CounterUserStats           = "user_stats"
	CounterMessageReactionStat = "message_reaction_stats"
	CounterMessageStatusStat   = "message_status_stats"
	CounterPackStats           = "pack_stats"
	CounterPackUserUnread      = "pack_user_unread"
)

// 数值字段名
const (
	FieldTopicCount        = "topic_count"
	FieldMemberCount       = "member_count"
	FieldMessageCount      = "message_count"
	FieldUnread            = "unread"
	FieldDialogCount       = "dialog_count"
	FieldUnreadDialogCount = "unread_dialog_count"
	FieldUnreadTotal       = "unread_total"
	FieldMessagesSent      = "messages_sent"
	FieldCount             = "count"
)

// DialogStat 会话级计数
type DialogStat struct {
	TenantID string `bson:"tenant_id"`
	DialogID string `bson:"dialog_id"`

	TopicCount   int64 `bson:"topic_count"`
	MemberCount  int64 `bson:"member_count"`
	MessageCount int64 `bson:"message_count"`

	CreatedAt     time.Time `bson:"created_at"`
	LastUpdatedAt time.Time `bson:"last_updated_at"`
}

func (sess *DialogStat) GetTableName() string { return CounterDialogStats }
func (sess *DialogStat) Collection() *mongo.Collection {
	return mgo.GetDB().Collection(sess.GetTableName())
}

// DialogUserUnread 用户×会话未读数
type DialogUserUnread struct {
	TenantID string `bson:"tenant_id"`
	UserID   string `bson:"user_id"`
	DialogID string `bson:"dialog_id"`

	Unread int64 `bson:"unread"`

	CreatedAt     time.Time `bson:"created_at"`
	LastUpdatedAt time.Time `bson:"last_updated_at"`
}

func (sess *DialogUserUnread) GetTableName() string { return CounterDialogUserUnread }
func (sess *DialogUserUnread) Collection() *mongo.Collection {
	return mgo.GetDB().Collection(sess.GetTableName())
}

// TopicUserUnread 用户×话题未读数
type TopicUserUnread struct {
	TenantID string `bson:"tenant_id"`
	UserID   string `bson:"user_id"`
	DialogID string `bson:"dialog_id"`
	TopicID  string `bson:"topic_id"`

	Unread int64 `bson:"unread"`

	CreatedAt     time.Time `bson:"created_at"`
	LastUpdatedAt time.Time `bson:"last_updated_at"`
}

func (sess *TopicUserUnread) GetTableName() string { return CounterTopicUserUnread }
func (sess *TopicUserUnread) Collection() *mongo.Collection {
	return mgo.GetDB().Collection(sess.GetTableName())
}

// UserStat 用户级汇总
type UserStat struct {
	TenantID string `bson:"tenant_id"`
	UserID   string `bson:"user_id"`

	DialogCount       int64 `bson:"dialog_count"`        // 在籍会话数
	UnreadDialogCount int64 `bson:"unread_dialog_count"` // 未读数>0 的会话数
	UnreadTotal       int64 `bson:"unread_total"`        // 全部未读总和
	MessagesSent      int64 `bson:"messages_sent"`       // 发送消息总数

	CreatedAt     time.Time `bson:"created_at"`
	LastUpdatedAt time.Time `bson:"last_updated_at"`
}

func (sess *UserStat) GetTableName() string { return CounterUserStats }
func (sess *UserStat) Collection() *mongo.Collection {
	return mgo.GetDB().Collection(sess.GetTableName())
}

// MessageReactionStat 消息×表情回应计数
type MessageReactionStat struct {
	TenantID  string `bson:"tenant_id"`
	MessageID string `bson:"message_id"`
	Reaction  string `bson:"reaction"`

	Count int64 `bson:"count"`

	CreatedAt     time.Time `bson:"created_at"`
	LastUpdatedAt time.Time `bson:"last_updated_at"`
}

func (sess *MessageReactionStat) GetTableName() string { return CounterMessageReactionStat }
func (sess *MessageReactionStat) Collection() *mongo.Collection {
	return mgo.GetDB().Collection(sess.GetTableName())
}

// MessageStatusStat 消息×送达状态计数
type MessageStatusStat struct {
	TenantID  string `bson:"tenant_id"`
	MessageID string `bson:"message_id"`
	Status    string `bson:"status"` // sent|delivered|read

	Count int64 `bson:"count"`

	CreatedAt     time.Time `bson:"created_at"`
	LastUpdatedAt time.Time `bson:"last_updated_at"`
}

func (sess *MessageStatusStat) GetTableName() string { return CounterMessageStatusStat }
func (sess *MessageStatusStat) Collection() *mongo.Collection {
	return mgo.GetDB().Collection(sess.GetTableName())
}

// PackStat 会话包级计数
type PackStat struct {
	TenantID string `bson:"tenant_id"`
	PackID   string `bson:"pack_id"`

	MessageCount int64 `bson:"message_count"`
	MemberCount  int64 `bson:"member_count"`
	TopicCount   int64 `bson:"topic_count"`

	CreatedAt     time.Time `bson:"created_at"`
	LastUpdatedAt time.Time `bson:"last_updated_at"`
}

func (sess *PackStat) GetTableName() string { return CounterPackStats }
func (sess *PackStat) Collection() *mongo.Collection {
	return mgo.GetDB().Collection(sess.GetTableName())
}

// PackUserUnread 用户×会话包未读数
type PackUserUnread struct {
	TenantID string `bson:"tenant_id"`
	UserID   string `bson:"user_id"`
	PackID   string `bson:"pack_id"`

	Unread int64 `bson:"unread"`

	CreatedAt     time.Time `bson:"created_at"`
	LastUpdatedAt time.Time `bson:"last_updated_at"`
}

func (sess *PackUserUnread) GetTableName() string { return CounterPackUserUnread }
func (sess *PackUserUnread) Collection() *mongo.Collection {
	return mgo.GetDB().Collection(sess.GetTableName())
}
