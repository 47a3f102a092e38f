package model

import (
	"PulseChat/service/mgo"

	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
)

// EventType 闭集：所有会进事件流的状态变更类型。
// 新类型必须同时登记到 AllEventTypes 和派生表，缺一在启动时报错。
type EventType string

const (
	EventDialogCreate          EventType = "dialog.create"
	EventDialogUpdate          EventType = "dialog.update"
	EventDialogDelete          EventType = "dialog.delete"
	EventDialogMemberAdd       EventType = "dialog.member.add"
	EventDialogMemberRemove    EventType = "dialog.member.remove"
	EventDialogMemberUpdate    EventType = "dialog.member.update"
	EventDialogTyping          EventType = "dialog.typing"
	EventMessageCreate         EventType = "message.create"
	EventMessageStatusUpdate   EventType = "message.status.update"
	EventMessageReactionUpdate EventType = "message.reaction.update"
	EventUserUpdate            EventType = "user.update"
)

// AllEventTypes 派生表完整性校验用
var AllEventTypes = []EventType{
	EventDialogCreate,
	EventDialogUpdate,
	EventDialogDelete,
	EventDialogMemberAdd,
	EventDialogMemberRemove,
	EventDialogMemberUpdate,
	EventDialogTyping,
	EventMessageCreate,
	EventMessageStatusUpdate,
	EventMessageReactionUpdate,
	EventUserUpdate,
}

var knownTypes = func() map[EventType]struct{} {
	m := make(map[EventType]struct{}, len(AllEventTypes))
	for _, t := range AllEventTypes {
		m[t] = struct{}{}
	}
	return m
}()

// IsKnownType 是否在闭集内
func IsKnownType(t EventType) bool {
	_, ok := knownTypes[t]
	return ok
}

// ActorType 事件发起方类别
const (
	ActorUser   = "user"
	ActorBot    = "bot"
	ActorAPI    = "api"
	ActorSystem = "system"
)

// EventRecord 领域事件，只追加不更新。
// 所有计数器和 Update 均可由事件流重放导出。
type EventRecord struct {
	ID       primitive.ObjectID `bson:"_id,omitempty"  json:"_id,omitempty"`
	TenantID string             `bson:"tenant_id"      json:"tenant_id"`
	EventID  string             `bson:"event_id"       json:"event_id"` // 幂等键（雪花）

	EventType  EventType `bson:"event_type"  json:"event_type"`
	EntityType string    `bson:"entity_type" json:"entity_type"` // dialog|message|user
	EntityID   string    `bson:"entity_id"   json:"entity_id"`

	ActorID   string `bson:"actor_id,omitempty"   json:"actor_id,omitempty"`
	ActorType string `bson:"actor_type,omitempty" json:"actor_type,omitempty"` // user|bot|api|system

	// Data 结构随 event_type 变化，按类型解码到 payload.go 的联合体
	Data map[string]any `bson:"data,omitempty" json:"data,omitempty"`

	CreatedAtMS int64 `bson:"created_at_ms" json:"created_at_ms"`
}

func (sess *EventRecord) GetTableName() string {
	return "chat_events"
}

func (sess *EventRecord) Collection() *mongo.Collection {
	return mgo.GetDB().Collection(sess.GetTableName())
}
