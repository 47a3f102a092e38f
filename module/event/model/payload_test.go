package model

import "testing"

func TestDecodePayloadClosedSet(t *testing.T) {
	ev := &EventRecord{
		TenantID:  "t1",
		EventID:   "ev-1",
		EventType: "not.a.thing",
	}
	if _, err := DecodePayload(ev); err == nil {
		t.Fatal("unknown type decoded")
	}
	if IsKnownType("not.a.thing") {
		t.Fatal("IsKnownType accepted stranger")
	}
	for _, typ := range AllEventTypes {
		if !IsKnownType(typ) {
			t.Fatalf("registered type %s not known", typ)
		}
	}
}

func TestDecodeMessagePayload(t *testing.T) {
	ev := &EventRecord{
		TenantID:  "t1",
		EventID:   "ev-1",
		EventType: EventMessageCreate,
		// json 数字经反序列化会变成 float64，解码层要兜住
		Data: map[string]any{
			"messageId": "m1",
			"dialogId":  "d1",
			"topicId":   "top-1",
			"senderId":  "u1",
			"content":   map[string]any{"text": "hi"},
		},
	}
	p, err := DecodePayload(ev)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if p.Message == nil {
		t.Fatal("message branch empty")
	}
	if p.Message.MessageID != "m1" || p.Message.TopicID != "top-1" || p.Message.SenderID != "u1" {
		t.Fatalf("decoded: %+v", p.Message)
	}
	if p.Dialog != nil || p.Status != nil || p.Typing != nil {
		t.Fatal("more than one branch populated")
	}
}

func TestDecodeMemberContext(t *testing.T) {
	ev := &EventRecord{
		TenantID:  "t1",
		EventID:   "ev-2",
		EventType: EventDialogMemberUpdate,
		Data: map[string]any{
			"dialogId": "d1",
			"userId":   "u2",
			"unread":   float64(3), // json 路径的数值形态
			"context":  map[string]any{"updatedFields": []any{"unread", "mute"}},
		},
	}
	p, err := DecodePayload(ev)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	m := p.DialogMember
	if m.Unread != 3 {
		t.Fatalf("unread %d", m.Unread)
	}
	if !m.Context.HasUpdatedField("unread") || m.Context.HasUpdatedField("name") {
		t.Fatalf("context fields: %v", m.Context.UpdatedFields)
	}
}

func TestDecodeReactionDelta(t *testing.T) {
	ev := &EventRecord{
		TenantID:  "t1",
		EventID:   "ev-3",
		EventType: EventMessageReactionUpdate,
		Data: map[string]any{
			"messageId": "m1",
			"dialogId":  "d1",
			"userId":    "u1",
			"reaction":  "👍",
			"delta":     float64(-1),
		},
	}
	p, err := DecodePayload(ev)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if p.Reaction.Delta != -1 {
		t.Fatalf("delta %d", p.Reaction.Delta)
	}
}
