package deriver

import (
	"context"
	"errors"
	"testing"
	"time"

	cmodel "PulseChat/module/counter/model"
	cstore "PulseChat/module/counter/store"
	evmodel "PulseChat/module/event/model"
	umodel "PulseChat/module/update/model"
	ustore "PulseChat/module/update/store"
)

type stubPublisher struct {
	published []umodel.Update
	fail      bool
}

func (p *stubPublisher) Publish(_ context.Context, u *umodel.Update) error {
	if p.fail {
		return errors.New("broker down")
	}
	p.published = append(p.published, *u)
	return nil
}

type stubMembers struct {
	byDialog map[string][]string
	err      error
}

func (m *stubMembers) MemberIDs(_ context.Context, _, dialogID string) ([]string, error) {
	if m.err != nil {
		return nil, m.err
	}
	return m.byDialog[dialogID], nil
}

type fixture struct {
	counters *cstore.MemStore
	sink     *ustore.MemUpdateStore
	pub      *stubPublisher
	members  *stubMembers
	deriver  *Deriver
}

func newFixture(members map[string][]string) *fixture {
	f := &fixture{
		counters: cstore.NewMemStore(),
		sink:     ustore.NewMemUpdateStore(),
		pub:      &stubPublisher{},
		members:  &stubMembers{byDialog: members},
	}
	f.deriver = NewDeriver(f.counters, f.sink, f.pub, f.members)
	return f
}

func event(id string, typ evmodel.EventType, entityType, entityID string, data map[string]any) *evmodel.EventRecord {
	return &evmodel.EventRecord{
		TenantID:    "t1",
		EventID:     id,
		EventType:   typ,
		EntityType:  entityType,
		EntityID:    entityID,
		ActorID:     "u1",
		ActorType:   evmodel.ActorUser,
		Data:        data,
		CreatedAtMS: time.Now().UnixMilli(),
	}
}

func (f *fixture) unread(t *testing.T, userID, dialogID string) int64 {
	t.Helper()
	v, err := f.counters.Get(context.Background(), cmodel.CounterDialogUserUnread, "t1",
		map[string]string{"user_id": userID, "dialog_id": dialogID}, cmodel.FieldUnread)
	if err != nil {
		t.Fatalf("get unread: %v", err)
	}
	return v
}

func (f *fixture) userStat(t *testing.T, userID, field string) int64 {
	t.Helper()
	v, err := f.counters.Get(context.Background(), cmodel.CounterUserStats, "t1",
		map[string]string{"user_id": userID}, field)
	if err != nil {
		t.Fatalf("get user stat: %v", err)
	}
	return v
}

// 群发消息：发送者涨 messages_sent，其余成员涨未读和上卷，人人收 Update
func TestMessageCreateFanOut(t *testing.T) {
	f := newFixture(map[string][]string{"d1": {"u1", "u2", "u3"}})

	res := f.deriver.OnEvent(context.Background(), event("ev-1", evmodel.EventMessageCreate, "message", "m1",
		map[string]any{"messageId": "m1", "dialogId": "d1", "senderId": "u1"}))
	if res.Err != nil {
		t.Fatalf("derive: %v", res.Err)
	}
	if res.Updates != 3 {
		t.Fatalf("updates %d, want 3", res.Updates)
	}

	if got := f.unread(t, "u2", "d1"); got != 1 {
		t.Fatalf("u2 unread %d", got)
	}
	if got := f.unread(t, "u1", "d1"); got != 0 {
		t.Fatalf("sender unread %d, want 0", got)
	}
	if got := f.userStat(t, "u1", cmodel.FieldMessagesSent); got != 1 {
		t.Fatalf("messages_sent %d", got)
	}
	// 会话刚从已读翻到未读，上卷同步推进
	if got := f.userStat(t, "u2", cmodel.FieldUnreadDialogCount); got != 1 {
		t.Fatalf("u2 unread_dialog_count %d", got)
	}
	if got := f.userStat(t, "u3", cmodel.FieldUnreadTotal); got != 1 {
		t.Fatalf("u3 unread_total %d", got)
	}

	msgCount, _ := f.counters.Get(context.Background(), cmodel.CounterDialogStats, "t1",
		map[string]string{"dialog_id": "d1"}, cmodel.FieldMessageCount)
	if msgCount != 1 {
		t.Fatalf("dialog message_count %d", msgCount)
	}

	if got := len(f.sink.All()); got != 3 {
		t.Fatalf("persisted updates %d, want 3", got)
	}
	for _, u := range f.sink.All() {
		if u.EventID != "ev-1" || u.EventType != evmodel.EventMessageCreate {
			t.Fatalf("update provenance: %+v", u)
		}
	}
}

func TestMessageCreateTopicAndPack(t *testing.T) {
	f := newFixture(map[string][]string{"d1": {"u1", "u2"}})

	res := f.deriver.OnEvent(context.Background(), event("ev-2", evmodel.EventMessageCreate, "message", "m2",
		map[string]any{"messageId": "m2", "dialogId": "d1", "topicId": "top-1", "senderId": "u1", "packId": "p1"}))
	if res.Err != nil {
		t.Fatalf("derive: %v", res.Err)
	}

	topicUnread, _ := f.counters.Get(context.Background(), cmodel.CounterTopicUserUnread, "t1",
		map[string]string{"user_id": "u2", "dialog_id": "d1", "topic_id": "top-1"}, cmodel.FieldUnread)
	if topicUnread != 1 {
		t.Fatalf("topic unread %d", topicUnread)
	}
	packUnread, _ := f.counters.Get(context.Background(), cmodel.CounterPackUserUnread, "t1",
		map[string]string{"user_id": "u2", "pack_id": "p1"}, cmodel.FieldUnread)
	if packUnread != 1 {
		t.Fatalf("pack unread %d", packUnread)
	}
	packMsgs, _ := f.counters.Get(context.Background(), cmodel.CounterPackStats, "t1",
		map[string]string{"pack_id": "p1"}, cmodel.FieldMessageCount)
	if packMsgs != 1 {
		t.Fatalf("pack message_count %d", packMsgs)
	}
}

// typing 只投递不落库不计数
func TestTypingEphemeral(t *testing.T) {
	f := newFixture(map[string][]string{"d1": {"u1", "u2", "u3"}})

	res := f.deriver.OnEvent(context.Background(), event("ev-3", evmodel.EventDialogTyping, "dialog", "d1",
		map[string]any{"dialogId": "d1", "userId": "u1", "typing": true}))
	if res.Err != nil {
		t.Fatalf("derive: %v", res.Err)
	}
	if res.Mutations != 0 {
		t.Fatalf("typing touched counters: %d", res.Mutations)
	}
	if got := len(f.sink.All()); got != 0 {
		t.Fatalf("typing persisted %d updates", got)
	}
	if got := len(f.pub.published); got != 2 {
		t.Fatalf("typing published to %d, want 2 (sender excluded)", got)
	}
}

func TestMemberAddRemove(t *testing.T) {
	f := newFixture(map[string][]string{"d1": {"u1", "u2"}})

	res := f.deriver.OnEvent(context.Background(), event("ev-4", evmodel.EventDialogMemberAdd, "dialog", "d1",
		map[string]any{"dialogId": "d1", "userId": "u2", "packId": "p1"}))
	if res.Err != nil {
		t.Fatalf("add: %v", res.Err)
	}
	memberCount, _ := f.counters.Get(context.Background(), cmodel.CounterDialogStats, "t1",
		map[string]string{"dialog_id": "d1"}, cmodel.FieldMemberCount)
	if memberCount != 1 {
		t.Fatalf("member_count %d", memberCount)
	}
	if got := f.userStat(t, "u2", cmodel.FieldDialogCount); got != 1 {
		t.Fatalf("dialog_count %d", got)
	}

	res = f.deriver.OnEvent(context.Background(), event("ev-5", evmodel.EventDialogMemberRemove, "dialog", "d1",
		map[string]any{"dialogId": "d1", "userId": "u3", "packId": "p1"}))
	if res.Err != nil {
		t.Fatalf("remove: %v", res.Err)
	}
	// 名册里已没有 u3，也要补一条 Update 让它的客户端摘会话
	found := false
	for _, u := range f.sink.All() {
		if u.EventID == "ev-5" && u.UserID == "u3" {
			found = true
		}
	}
	if !found {
		t.Fatal("removed member got no update")
	}
}

// member.update 声明 unread 变了：快照落位 + 上卷整体重算，只通知本人
func TestMemberUpdateUnreadSnapshot(t *testing.T) {
	f := newFixture(map[string][]string{"d1": {"u1", "u2"}})
	ctx := context.Background()

	_, _, _ = f.counters.Apply(ctx, cstore.DialogUnreadMut("t1", "u2", "d1", +7, cstore.Source{Operation: "seed"}))

	res := f.deriver.OnEvent(ctx, event("ev-6", evmodel.EventDialogMemberUpdate, "dialog", "d1",
		map[string]any{
			"dialogId": "d1", "userId": "u2", "unread": 0,
			"context": map[string]any{"updatedFields": []any{"unread"}},
		}))
	if res.Err != nil {
		t.Fatalf("derive: %v", res.Err)
	}
	if res.Updates != 1 {
		t.Fatalf("updates %d, want only the member", res.Updates)
	}
	if got := f.unread(t, "u2", "d1"); got != 0 {
		t.Fatalf("unread after snapshot %d", got)
	}
	if got := f.userStat(t, "u2", cmodel.FieldUnreadTotal); got != 0 {
		t.Fatalf("unread_total after rollup %d", got)
	}
}

func TestStatusUpdateBuckets(t *testing.T) {
	f := newFixture(map[string][]string{"d1": {"u1", "u2"}})
	ctx := context.Background()

	res := f.deriver.OnEvent(ctx, event("ev-7", evmodel.EventMessageStatusUpdate, "message", "m1",
		map[string]any{"messageId": "m1", "dialogId": "d1", "userId": "u2", "status": "delivered"}))
	if res.Err != nil {
		t.Fatalf("derive: %v", res.Err)
	}
	res = f.deriver.OnEvent(ctx, event("ev-8", evmodel.EventMessageStatusUpdate, "message", "m1",
		map[string]any{"messageId": "m1", "dialogId": "d1", "userId": "u2", "status": "read", "oldStatus": "delivered"}))
	if res.Err != nil {
		t.Fatalf("derive: %v", res.Err)
	}

	delivered, _ := f.counters.Get(ctx, cmodel.CounterMessageStatusStat, "t1",
		map[string]string{"message_id": "m1", "status": "delivered"}, cmodel.FieldCount)
	read, _ := f.counters.Get(ctx, cmodel.CounterMessageStatusStat, "t1",
		map[string]string{"message_id": "m1", "status": "read"}, cmodel.FieldCount)
	if delivered != 0 || read != 1 {
		t.Fatalf("buckets delivered=%d read=%d", delivered, read)
	}
}

// 取消反应重放两次：第二次被钳零吸收，不出负数
func TestReactionRedeliveryClamped(t *testing.T) {
	f := newFixture(map[string][]string{"d1": {"u1"}})
	ctx := context.Background()

	add := event("ev-9", evmodel.EventMessageReactionUpdate, "message", "m1",
		map[string]any{"messageId": "m1", "dialogId": "d1", "userId": "u2", "reaction": "👍", "delta": 1})
	remove := event("ev-10", evmodel.EventMessageReactionUpdate, "message", "m1",
		map[string]any{"messageId": "m1", "dialogId": "d1", "userId": "u2", "reaction": "👍", "delta": -1})

	for _, ev := range []*evmodel.EventRecord{add, remove, remove} {
		if res := f.deriver.OnEvent(ctx, ev); res.Err != nil {
			t.Fatalf("derive %s: %v", ev.EventID, res.Err)
		}
	}
	v, _ := f.counters.Get(ctx, cmodel.CounterMessageReactionStat, "t1",
		map[string]string{"message_id": "m1", "reaction": "👍"}, cmodel.FieldCount)
	if v != 0 {
		t.Fatalf("reaction count %d, want 0", v)
	}
}

func TestUserUpdateSelfOnly(t *testing.T) {
	f := newFixture(nil)

	res := f.deriver.OnEvent(context.Background(), event("ev-11", evmodel.EventUserUpdate, "user", "u5",
		map[string]any{"userId": "u5"}))
	if res.Err != nil {
		t.Fatalf("derive: %v", res.Err)
	}
	all := f.sink.All()
	if len(all) != 1 || all[0].UserID != "u5" {
		t.Fatalf("user update fan-out wrong: %+v", all)
	}
	if res.Mutations != 0 {
		t.Fatalf("user update touched counters: %d", res.Mutations)
	}
}

func TestUnknownEventTypeRejected(t *testing.T) {
	f := newFixture(nil)

	res := f.deriver.OnEvent(context.Background(), event("ev-12", "dialog.exploded", "dialog", "d1", nil))
	if res.Err == nil {
		t.Fatal("unknown type accepted")
	}
	if res.Transient {
		t.Fatal("validation failure flagged transient")
	}
}

// 名册读失败是瞬时错：标记重试，事件不能被吞掉
func TestMemberLookupFailureTransient(t *testing.T) {
	f := newFixture(nil)
	f.members.err = errors.New("mongo timeout")

	res := f.deriver.OnEvent(context.Background(), event("ev-13", evmodel.EventMessageCreate, "message", "m1",
		map[string]any{"messageId": "m1", "dialogId": "d1", "senderId": "u1"}))
	if res.Err == nil {
		t.Fatal("expected error")
	}
	if !res.Transient {
		t.Fatal("storage failure not flagged transient")
	}
}

// 投递失败不拦确认：Update 已落库，失败只损实时性
func TestPublishFailureDoesNotFailEvent(t *testing.T) {
	f := newFixture(map[string][]string{"d1": {"u1", "u2"}})
	f.pub.fail = true

	res := f.deriver.OnEvent(context.Background(), event("ev-14", evmodel.EventMessageCreate, "message", "m1",
		map[string]any{"messageId": "m1", "dialogId": "d1", "senderId": "u1"}))
	if res.Err != nil {
		t.Fatalf("derive: %v", res.Err)
	}
	if got := len(f.sink.All()); got != 2 {
		t.Fatalf("persisted %d, want 2", got)
	}
}

func TestValidationMissingFields(t *testing.T) {
	f := newFixture(nil)

	res := f.deriver.OnEvent(context.Background(), event("ev-15", evmodel.EventMessageCreate, "message", "m1",
		map[string]any{"dialogId": "d1"}))
	if res.Err == nil {
		t.Fatal("incomplete payload accepted")
	}
	if res.Transient {
		t.Fatal("validation flagged transient")
	}
}
