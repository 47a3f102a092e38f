package model

import (
	"time"

	"PulseChat/service/mgo"

	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
)

// 读任务状态机：pending -> running -> completed|failed，终态不再流转
const (
	TaskPending   = "pending"
	TaskRunning   = "running"
	TaskCompleted = "completed"
	TaskFailed    = "failed"
)

// DialogReadTask 批量已读任务：把用户 U 在会话 D 里 T 之前的消息全部置为已读。
// 同一 (tenant,user,dialog) 的重复请求在 pending 态合并（request_count 累加）。
type DialogReadTask struct {
	ID       primitive.ObjectID `bson:"_id,omitempty"`
	TaskID   string             `bson:"task_id"`
	TenantID string             `bson:"tenant_id"`
	UserID   string             `bson:"user_id"`
	DialogID string             `bson:"dialog_id"`

	UpToMS int64  `bson:"up_to_ms"` // 只处理此时间点（含）之前的消息
	Status string `bson:"status"`

	ProcessedCount         int64  `bson:"processed_count"`
	RequestCount           int64  `bson:"request_count"` // 合并的重复请求数
	LastProcessedMessageID string `bson:"last_processed_message_id,omitempty"`
	Error                  string `bson:"error,omitempty"`

	CreatedAt time.Time `bson:"created_at"`
	UpdatedAt time.Time `bson:"updated_at"`
}

func (sess *DialogReadTask) GetTableName() string {
	return "dialog_read_task"
}

func (sess *DialogReadTask) Collection() *mongo.Collection {
	return mgo.GetDB().Collection(sess.GetTableName())
}
