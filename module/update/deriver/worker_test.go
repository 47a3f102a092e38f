package deriver

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	evmodel "PulseChat/module/event/model"
	"PulseChat/service/natsx"
)

func frame(t *testing.T, ev *evmodel.EventRecord) []byte {
	t.Helper()
	data, err := json.Marshal(ev)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	return data
}

// 同一事件重投：第一次派生，第二次被幂等层拦下
func TestWorkerDeduplicatesRedelivery(t *testing.T) {
	f := newFixture(map[string][]string{"d1": {"u1", "u2"}})
	w := NewWorker(f.deriver, natsx.NewMemIdem(time.Minute))
	ctx := context.Background()

	ev := event("ev-1", evmodel.EventMessageCreate, "message", "m1",
		map[string]any{"messageId": "m1", "dialogId": "d1", "senderId": "u1"})
	data := frame(t, ev)

	for i := 0; i < 2; i++ {
		retry, err := w.Handler()(ctx, "im-events", []byte("m1"), data)
		if err != nil {
			t.Fatalf("handle %d: %v", i, err)
		}
		if retry {
			t.Fatalf("handle %d requested retry", i)
		}
	}

	if got := f.unread(t, "u2", "d1"); got != 1 {
		t.Fatalf("unread after redelivery %d, want 1", got)
	}
	if got := len(f.sink.All()); got != 2 {
		t.Fatalf("updates after redelivery %d, want 2", got)
	}
}

// 坏帧不请求重投：毒消息不能堵分区
func TestWorkerPoisonFrames(t *testing.T) {
	f := newFixture(nil)
	w := NewWorker(f.deriver, natsx.NewMemIdem(time.Minute))
	ctx := context.Background()

	retry, err := w.Handler()(ctx, "im-events", nil, []byte("{not json"))
	if retry || err != nil {
		t.Fatalf("bad json: retry=%v err=%v", retry, err)
	}

	noID := event("", evmodel.EventMessageCreate, "message", "m1", nil)
	retry, err = w.Handler()(ctx, "im-events", nil, frame(t, noID))
	if retry || err != nil {
		t.Fatalf("missing event_id: retry=%v err=%v", retry, err)
	}

	unknown := event("ev-2", "totally.unknown", "dialog", "d1", nil)
	retry, err = w.Handler()(ctx, "im-events", nil, frame(t, unknown))
	if retry || err != nil {
		t.Fatalf("unknown type: retry=%v err=%v", retry, err)
	}
}

// 瞬时存储失败要重投
func TestWorkerTransientRetry(t *testing.T) {
	f := newFixture(nil)
	f.members.err = errTimeout{}
	w := NewWorker(f.deriver, natsx.NewMemIdem(time.Minute))
	ctx := context.Background()

	ev := event("ev-3", evmodel.EventMessageCreate, "message", "m1",
		map[string]any{"messageId": "m1", "dialogId": "d1", "senderId": "u1"})
	retry, err := w.Handler()(ctx, "im-events", nil, frame(t, ev))
	if !retry {
		t.Fatal("transient failure not retried")
	}
	if err == nil {
		t.Fatal("transient failure swallowed")
	}
}

// 瞬时失败不能记幂等键：同一帧重投进来必须真正重新派生
func TestWorkerTransientFailureThenRedelivery(t *testing.T) {
	f := newFixture(map[string][]string{"d1": {"u1", "u2"}})
	w := NewWorker(f.deriver, natsx.NewMemIdem(time.Minute))
	ctx := context.Background()

	ev := event("ev-4", evmodel.EventMessageCreate, "message", "m1",
		map[string]any{"messageId": "m1", "dialogId": "d1", "senderId": "u1"})
	data := frame(t, ev)

	f.members.err = errTimeout{}
	retry, err := w.Handler()(ctx, "im-events", []byte("m1"), data)
	if !retry || err == nil {
		t.Fatalf("first delivery: retry=%v err=%v, want retry with error", retry, err)
	}

	// 存储恢复后重投同一帧
	f.members.err = nil
	retry, err = w.Handler()(ctx, "im-events", []byte("m1"), data)
	if retry || err != nil {
		t.Fatalf("redelivery: retry=%v err=%v", retry, err)
	}
	if got := f.unread(t, "u2", "d1"); got != 1 {
		t.Fatalf("unread after redelivery %d, want 1", got)
	}
	if got := len(f.sink.All()); got != 2 {
		t.Fatalf("updates after redelivery %d, want 2", got)
	}

	// 落定之后才算见过，第三次投递被拦
	retry, err = w.Handler()(ctx, "im-events", []byte("m1"), data)
	if retry || err != nil {
		t.Fatalf("third delivery: retry=%v err=%v", retry, err)
	}
	if got := f.unread(t, "u2", "d1"); got != 1 {
		t.Fatalf("unread after duplicate %d, want 1", got)
	}
}

type errTimeout struct{}

func (errTimeout) Error() string { return "mongo timeout" }
