package model

import (
	"PulseChat/tools/decode"
	"PulseChat/tools/errs"
)

// 每个 event_type 对应一个负载变体，字段即派生逻辑所需的全部输入。
// 派生只看事件自带负载，不做"当前值减上次值"的对比，重投才能幂等。

// UpdateContext 负载公共上下文：哪些逻辑字段发生了变化
type UpdateContext struct {
	UpdatedFields []string `json:"updatedFields,omitempty"`
}

// DialogPayload dialog.create / dialog.update / dialog.delete
type DialogPayload struct {
	DialogID   string        `json:"dialogId"`
	DialogType int32         `json:"dialogType,omitempty"`
	Name       string        `json:"name,omitempty"`
	PackID     string        `json:"packId,omitempty"`
	Context    UpdateContext `json:"context,omitempty"`
}

// DialogMemberPayload dialog.member.add / remove / update
type DialogMemberPayload struct {
	DialogID string        `json:"dialogId"`
	UserID   string        `json:"userId"` // 被变更的成员
	PackID   string        `json:"packId,omitempty"`
	Unread   int64         `json:"unread,omitempty"` // member.update 携带的未读快照
	Context  UpdateContext `json:"context,omitempty"`
}

// MessagePayload message.create
type MessagePayload struct {
	MessageID string         `json:"messageId"`
	DialogID  string         `json:"dialogId"`
	TopicID   string         `json:"topicId,omitempty"`
	SenderID  string         `json:"senderId"`
	PackID    string         `json:"packId,omitempty"`
	Content   map[string]any `json:"content,omitempty"`
}

// MessageStatusPayload message.status.update
type MessageStatusPayload struct {
	MessageID string `json:"messageId"`
	DialogID  string `json:"dialogId"`
	UserID    string `json:"userId"`
	Status    string `json:"status"`              // sent|delivered|read
	OldStatus string `json:"oldStatus,omitempty"` // 为空表示首个状态
}

// MessageReactionPayload message.reaction.update
type MessageReactionPayload struct {
	MessageID string `json:"messageId"`
	DialogID  string `json:"dialogId"`
	UserID    string `json:"userId"`
	Reaction  string `json:"reaction"` // 👍 ❤️ ...
	Delta     int64  `json:"delta"`    // +1 添加 / -1 取消
}

// TypingPayload dialog.typing（瞬态，无计数副作用）
type TypingPayload struct {
	DialogID string `json:"dialogId"`
	UserID   string `json:"userId"`
	Typing   bool   `json:"typing"`
}

// UserPayload user.update
type UserPayload struct {
	UserID  string        `json:"userId"`
	Context UpdateContext `json:"context,omitempty"`
}

// Payload 联合体：恰好一个分支非空，分支由 EventType 决定
type Payload struct {
	Dialog       *DialogPayload
	DialogMember *DialogMemberPayload
	Message      *MessagePayload
	Status       *MessageStatusPayload
	Reaction     *MessageReactionPayload
	Typing       *TypingPayload
	User         *UserPayload
}

// DecodePayload 按 event_type 把 map 负载落到具体变体。
// 闭集之外的类型返回校验错误。
func DecodePayload(ev *EventRecord) (*Payload, error) {
	data := ev.Data
	if data == nil {
		data = map[string]any{}
	}

	var p Payload
	var err error
	switch ev.EventType {
	case EventDialogCreate, EventDialogUpdate, EventDialogDelete:
		p.Dialog, err = decode.DecodeMap[DialogPayload](data)
	case EventDialogMemberAdd, EventDialogMemberRemove, EventDialogMemberUpdate:
		p.DialogMember, err = decode.DecodeMap[DialogMemberPayload](data)
	case EventMessageCreate:
		p.Message, err = decode.DecodeMap[MessagePayload](data)
	case EventMessageStatusUpdate:
		p.Status, err = decode.DecodeMap[MessageStatusPayload](data)
	case EventMessageReactionUpdate:
		p.Reaction, err = decode.DecodeMap[MessageReactionPayload](data)
	case EventDialogTyping:
		p.Typing, err = decode.DecodeMap[TypingPayload](data)
	case EventUserUpdate:
		p.User, err = decode.DecodeMap[UserPayload](data)
	default:
		return nil, errs.ErrValidation.WrapMsg("unknown event type", "event_type", ev.EventType)
	}
	if err != nil {
		return nil, errs.ErrValidation.WrapMsg("payload decode failed",
			"event_id", ev.EventID, "event_type", ev.EventType, "err", err)
	}
	return &p, nil
}

// HasUpdatedField UpdatedFields 是否包含指定逻辑字段
func (c UpdateContext) HasUpdatedField(name string) bool {
	for _, f := range c.UpdatedFields {
		if f == name {
			return true
		}
	}
	return false
}
