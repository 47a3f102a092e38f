package bridge

import (
	"context"
	"testing"
	"time"

	"PulseChat/module/update/model"
	ustore "PulseChat/module/update/store"
	"PulseChat/service/natsx"
	"PulseChat/service/storage"

	evmodel "PulseChat/module/event/model"
)

func newTestBridge() (*Bridge, *ustore.MemUpdateStore, *storage.MemPresence) {
	marker := ustore.NewMemUpdateStore()
	presence := storage.NewMemPresence()
	return NewBridge(natsx.NewMemBroker(), marker, presence), marker, presence
}

func testUpdate(id, userID string) *model.Update {
	return &model.Update{
		UpdateID:    id,
		TenantID:    "t1",
		UserID:      userID,
		EntityID:    "d1",
		EventID:     "ev-" + id,
		EventType:   evmodel.EventMessageCreate,
		Data:        map[string]any{"messageId": "m1"},
		CreatedAtMS: time.Now().UnixMilli(),
	}
}

// 订阅首帧是合成的 connection.established，带连接ID
func TestSubscribeFirstFrame(t *testing.T) {
	b, marker, _ := newTestBridge()

	var got []*model.Update
	handle, err := b.Subscribe(context.Background(), "t1", "u1", "user", "", func(u *model.Update) {
		got = append(got, u)
	})
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	defer handle.Cancel()

	if len(got) != 1 {
		t.Fatalf("frames %d, want synthetic first frame", len(got))
	}
	first := got[0]
	if first.EventType != model.EventConnEstablished {
		t.Fatalf("first frame type %s", first.EventType)
	}
	if first.Data["connectionId"] != handle.ConnID {
		t.Fatalf("conn id mismatch: %v vs %s", first.Data["connectionId"], handle.ConnID)
	}
	// 合成帧不落库
	if inserted := marker.All(); len(inserted) != 0 {
		t.Fatalf("synthetic frame persisted: %d", len(inserted))
	}
}

func TestPublishDeliversAndMarks(t *testing.T) {
	b, marker, _ := newTestBridge()
	ctx := context.Background()

	u := testUpdate("up-1", "u1")
	if err := marker.Insert(ctx, u); err != nil {
		t.Fatalf("insert: %v", err)
	}

	var got []*model.Update
	handle, err := b.Subscribe(ctx, "t1", "u1", "user", "conn-1", func(u *model.Update) {
		got = append(got, u)
	})
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	defer handle.Cancel()

	if err := b.Publish(ctx, u); err != nil {
		t.Fatalf("publish: %v", err)
	}

	if len(got) != 2 { // 合成帧 + 投递帧
		t.Fatalf("frames %d", len(got))
	}
	if got[1].UpdateID != "up-1" || got[1].EventID != "ev-up-1" {
		t.Fatalf("delivered frame: %+v", got[1])
	}

	for _, row := range marker.All() {
		if row.UpdateID == "up-1" && !row.Published {
			t.Fatal("update not marked published")
		}
	}
}

// 多连接各收一份；退订后不再投递，另一条订阅不受影响
func TestCancelMidStream(t *testing.T) {
	b, _, presence := newTestBridge()
	ctx := context.Background()

	var gotA, gotB int
	ha, _ := b.Subscribe(ctx, "t1", "u1", "user", "conn-a", func(*model.Update) { gotA++ })
	hb, _ := b.Subscribe(ctx, "t1", "u1", "user", "conn-b", func(*model.Update) { gotB++ })
	gotA, gotB = 0, 0 // 合成帧不算

	_ = b.Publish(ctx, testUpdate("up-1", "u1"))
	if gotA != 1 || gotB != 1 {
		t.Fatalf("fan-out a=%d b=%d", gotA, gotB)
	}

	if err := ha.Cancel(); err != nil {
		t.Fatalf("cancel: %v", err)
	}
	_ = b.Publish(ctx, testUpdate("up-2", "u1"))
	if gotA != 1 {
		t.Fatalf("cancelled subscription still receiving: %d", gotA)
	}
	if gotB != 2 {
		t.Fatalf("surviving subscription broken: %d", gotB)
	}

	conns, err := presence.LiveConns(ctx, "t1", "u1")
	if err != nil {
		t.Fatalf("live conns: %v", err)
	}
	if len(conns) != 1 || conns[0] != "conn-b" {
		t.Fatalf("presence after cancel: %v", conns)
	}
	_ = hb.Cancel()
}

// 订阅是每用户隔离的 subject
func TestNoCrossUserDelivery(t *testing.T) {
	b, _, _ := newTestBridge()
	ctx := context.Background()

	var other int
	h, _ := b.Subscribe(ctx, "t1", "u2", "user", "conn-x", func(*model.Update) { other++ })
	defer h.Cancel()
	other = 0

	_ = b.Publish(ctx, testUpdate("up-1", "u1"))
	if other != 0 {
		t.Fatalf("u2 received u1 traffic: %d", other)
	}
}
