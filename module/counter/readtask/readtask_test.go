package readtask

import (
	"context"
	"testing"

	chat "PulseChat/module/chat/model"
	cmodel "PulseChat/module/counter/model"
	cstore "PulseChat/module/counter/store"
)

func msg(id, dialogID, topicID, senderID string, atMS int64, statusByUser map[string]string) chat.Message {
	return chat.Message{
		TenantID:     "t1",
		MessageID:    id,
		DialogID:     dialogID,
		TopicID:      topicID,
		SenderID:     senderID,
		StatusByUser: statusByUser,
		CreatedAtMS:  atMS,
	}
}

func seedSrc() cstore.Source {
	return cstore.Source{Operation: "seed", EntityID: "seed", ActorType: "system"}
}

func getCounter(t *testing.T, counters *cstore.MemStore, counterType string, identity map[string]string, field string) int64 {
	t.Helper()
	v, err := counters.Get(context.Background(), counterType, "t1", identity, field)
	if err != nil {
		t.Fatalf("get %s.%s: %v", counterType, field, err)
	}
	return v
}

// 同键 pending 任务合并：up_to_ms 取大，request_count 累加；认领后再投开新单
func TestEnqueueCoalesces(t *testing.T) {
	tasks := NewMemTasks()
	ctx := context.Background()

	id1, err := tasks.Enqueue(ctx, "t1", "u1", "d1", 100)
	if err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	id2, err := tasks.Enqueue(ctx, "t1", "u1", "d1", 50)
	if err != nil || id2 != id1 {
		t.Fatalf("coalesce: id=%s err=%v, want %s", id2, err, id1)
	}
	id3, _ := tasks.Enqueue(ctx, "t1", "u1", "d1", 200)
	if id3 != id1 {
		t.Fatalf("coalesce: id=%s, want %s", id3, id1)
	}

	task, ok := tasks.Get(id1)
	if !ok {
		t.Fatal("task lost")
	}
	if task.RequestCount != 3 {
		t.Fatalf("request_count %d, want 3", task.RequestCount)
	}
	if task.UpToMS != 200 {
		t.Fatalf("up_to_ms %d, want max 200", task.UpToMS)
	}

	// 认领后同键请求必须开新任务
	claimed, err := tasks.Claim(ctx)
	if err != nil || claimed == nil || claimed.TaskID != id1 {
		t.Fatalf("claim: %+v err=%v", claimed, err)
	}
	id4, _ := tasks.Enqueue(ctx, "t1", "u1", "d1", 300)
	if id4 == id1 {
		t.Fatal("enqueue after claim coalesced into a running task")
	}

	if _, err := tasks.Enqueue(ctx, "", "u1", "d1", 0); err == nil {
		t.Fatal("missing tenant_id accepted")
	}
}

// up_to_ms 之后进来的消息不归本任务：落账是重数不是清零
func TestSettlementRecountsNotZero(t *testing.T) {
	counters := cstore.NewMemStore()
	tasks := NewMemTasks()
	archive := NewMemArchive()
	ctx := context.Background()

	archive.Add(msg("m1", "d1", "", "u2", 100, map[string]string{"u1": "delivered"}))
	archive.Add(msg("m2", "d1", "", "u2", 200, nil))
	archive.Add(msg("m3", "d1", "", "u2", 900, nil)) // up_to 之后才到

	src := seedSrc()
	if _, _, err := counters.Apply(ctx, cstore.DialogUnreadMut("t1", "u1", "d1", 3, src)); err != nil {
		t.Fatalf("seed unread: %v", err)
	}
	if _, _, err := counters.Apply(ctx, cstore.StatusMut("t1", "m1", "delivered", 1, src)); err != nil {
		t.Fatalf("seed status: %v", err)
	}

	taskID, err := tasks.Enqueue(ctx, "t1", "u1", "d1", 500)
	if err != nil {
		t.Fatalf("enqueue: %v", err)
	}

	r := NewRunner(counters, tasks, archive)
	processed, err := r.ProcessNext(ctx)
	if err != nil || !processed {
		t.Fatalf("process: processed=%v err=%v", processed, err)
	}

	// m1/m2 回填已读，m3 原样
	for _, m := range archive.Msgs {
		read := m.StatusByUser["u1"] == "read"
		if (m.MessageID == "m3") == read {
			t.Fatalf("message %s read=%v", m.MessageID, read)
		}
	}

	// 会话未读落在余量 1 上，不是 0
	unread := getCounter(t, counters, cmodel.CounterDialogUserUnread,
		map[string]string{"user_id": "u1", "dialog_id": "d1"}, cmodel.FieldUnread)
	if unread != 1 {
		t.Fatalf("dialog unread %d, want recounted 1", unread)
	}

	// 状态桶：delivered 桶回落，read 桶进账
	delivered := getCounter(t, counters, cmodel.CounterMessageStatusStat,
		map[string]string{"message_id": "m1", "status": "delivered"}, cmodel.FieldCount)
	if delivered != 0 {
		t.Fatalf("delivered bucket %d, want 0", delivered)
	}
	read := getCounter(t, counters, cmodel.CounterMessageStatusStat,
		map[string]string{"message_id": "m1", "status": "read"}, cmodel.FieldCount)
	if read != 1 {
		t.Fatalf("read bucket %d, want 1", read)
	}

	// 落账以 reset 入审计
	var resetSeen bool
	for _, h := range counters.History() {
		if h.CounterType == cmodel.CounterDialogUserUnread && h.Operation == cmodel.OpReset {
			resetSeen = true
			if h.NewValue != 1 {
				t.Fatalf("reset landed on %d, want 1", h.NewValue)
			}
		}
	}
	if !resetSeen {
		t.Fatal("no reset entry in history")
	}

	task, _ := tasks.Get(taskID)
	if task.Status != cmodel.TaskCompleted {
		t.Fatalf("task status %s, want completed", task.Status)
	}
	if task.ProcessedCount != 2 {
		t.Fatalf("processed_count %d, want 2", task.ProcessedCount)
	}

	// 队列空了
	processed, err = r.ProcessNext(ctx)
	if err != nil || processed {
		t.Fatalf("idle queue: processed=%v err=%v", processed, err)
	}
}

// 话题桶跟着归位，组未读按组内会话求和
func TestSettlementTopicsAndPack(t *testing.T) {
	counters := cstore.NewMemStore()
	tasks := NewMemTasks()
	archive := NewMemArchive()
	ctx := context.Background()

	archive.Add(msg("m1", "d1", "tp1", "u2", 100, nil))
	archive.Add(msg("m2", "d1", "tp1", "u2", 200, nil))
	archive.Packs["t1|d1"] = "p1"
	archive.PackDialogs["t1|p1"] = []string{"d1", "d2"}

	src := seedSrc()
	counters.Apply(ctx, cstore.TopicUnreadMut("t1", "u1", "d1", "tp1", 2, src))
	counters.Apply(ctx, cstore.DialogUnreadMut("t1", "u1", "d1", 2, src))
	counters.Apply(ctx, cstore.DialogUnreadMut("t1", "u1", "d2", 4, src))
	counters.Apply(ctx, cstore.PackUnreadMut("t1", "u1", "p1", 6, src))

	if _, err := tasks.Enqueue(ctx, "t1", "u1", "d1", 500); err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	r := NewRunner(counters, tasks, archive)
	if processed, err := r.ProcessNext(ctx); err != nil || !processed {
		t.Fatalf("process: processed=%v err=%v", processed, err)
	}

	topic := getCounter(t, counters, cmodel.CounterTopicUserUnread,
		map[string]string{"user_id": "u1", "dialog_id": "d1", "topic_id": "tp1"}, cmodel.FieldUnread)
	if topic != 0 {
		t.Fatalf("topic unread %d, want 0", topic)
	}
	pack := getCounter(t, counters, cmodel.CounterPackUserUnread,
		map[string]string{"user_id": "u1", "pack_id": "p1"}, cmodel.FieldUnread)
	if pack != 4 {
		t.Fatalf("pack unread %d, want d2 remainder 4", pack)
	}
	total := getCounter(t, counters, cmodel.CounterUserStats,
		map[string]string{"user_id": "u1"}, cmodel.FieldUnreadTotal)
	if total != 4 {
		t.Fatalf("unread_total %d, want 4", total)
	}
}

// 小批次推进游标：每批落 progress，崩溃点之后续扫
func TestBatchCursorAdvances(t *testing.T) {
	counters := cstore.NewMemStore()
	tasks := NewMemTasks()
	archive := NewMemArchive()
	ctx := context.Background()

	archive.Add(msg("m1", "d1", "", "u2", 100, nil))
	archive.Add(msg("m2", "d1", "", "u2", 200, nil))
	archive.Add(msg("m3", "d1", "", "u2", 300, nil))

	taskID, _ := tasks.Enqueue(ctx, "t1", "u1", "d1", 500)
	r := NewRunner(counters, tasks, archive)
	r.batchSize = 1

	if processed, err := r.ProcessNext(ctx); err != nil || !processed {
		t.Fatalf("process: processed=%v err=%v", processed, err)
	}

	task, _ := tasks.Get(taskID)
	if task.ProcessedCount != 3 {
		t.Fatalf("processed_count %d, want 3", task.ProcessedCount)
	}
	if task.LastProcessedMessageID != "m3" {
		t.Fatalf("cursor %q, want m3", task.LastProcessedMessageID)
	}
	for _, m := range archive.Msgs {
		if m.StatusByUser["u1"] != "read" {
			t.Fatalf("message %s not marked read", m.MessageID)
		}
	}
}
