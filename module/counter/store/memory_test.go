package store

import (
	"context"
	"sync"
	"testing"

	"PulseChat/module/counter/model"
)

func testSrc(op string) Source {
	return Source{Operation: op, EntityID: "ev-1", ActorID: "u-actor", ActorType: "user"}
}

// 连续加一再大减：钳零吃掉穿透，四条审计行一条不少
func TestClampAtZero(t *testing.T) {
	ctx := context.Background()
	s := NewMemStore()

	for i := 0; i < 3; i++ {
		m := DialogUnreadMut("t1", "u1", "d1", +1, testSrc("message.create"))
		old, newValue, err := s.Apply(ctx, m)
		if err != nil {
			t.Fatalf("apply: %v", err)
		}
		if old != int64(i) || newValue != int64(i+1) {
			t.Fatalf("step %d: got old=%d new=%d", i, old, newValue)
		}
	}

	old, newValue, err := s.Apply(ctx, DialogUnreadMut("t1", "u1", "d1", -5, testSrc("dialog.member.update")))
	if err != nil {
		t.Fatalf("apply: %v", err)
	}
	if old != 3 || newValue != 0 {
		t.Fatalf("clamp: got old=%d new=%d, want old=3 new=0", old, newValue)
	}

	hist := s.History()
	if len(hist) != 4 {
		t.Fatalf("history rows: got %d want 4", len(hist))
	}
	last := hist[3]
	if last.OldValue != 3 || last.NewValue != 0 || last.Delta != -3 {
		t.Fatalf("last row: old=%d new=%d delta=%d", last.OldValue, last.NewValue, last.Delta)
	}
	if last.Operation != model.OpDecrement {
		t.Fatalf("last row op: %s", last.Operation)
	}
}

func TestDecrementOnMissingRecord(t *testing.T) {
	ctx := context.Background()
	s := NewMemStore()

	old, newValue, err := s.Apply(ctx, DialogUnreadMut("t1", "u1", "d-none", -1, testSrc("x")))
	if err != nil {
		t.Fatalf("apply: %v", err)
	}
	if old != 0 || newValue != 0 {
		t.Fatalf("got old=%d new=%d, want 0/0", old, newValue)
	}
	v, err := s.Get(ctx, model.CounterDialogUserUnread, "t1",
		map[string]string{"user_id": "u1", "dialog_id": "d-none"}, model.FieldUnread)
	if err != nil || v != 0 {
		t.Fatalf("get after clamp: v=%d err=%v", v, err)
	}
}

// 并发加一不丢：每次变更都拿到唯一的前值
func TestConcurrentIncrements(t *testing.T) {
	ctx := context.Background()
	s := NewMemStore()
	const n = 100

	var wg sync.WaitGroup
	olds := make(chan int64, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			old, _, err := s.Apply(ctx, DialogUnreadMut("t1", "u1", "d1", +1, testSrc("message.create")))
			if err != nil {
				t.Errorf("apply: %v", err)
				return
			}
			olds <- old
		}()
	}
	wg.Wait()
	close(olds)

	v, _ := s.Get(ctx, model.CounterDialogUserUnread, "t1",
		map[string]string{"user_id": "u1", "dialog_id": "d1"}, model.FieldUnread)
	if v != n {
		t.Fatalf("final value %d, want %d", v, n)
	}
	seen := map[int64]bool{}
	for old := range olds {
		if seen[old] {
			t.Fatalf("duplicate old value %d: lost update", old)
		}
		seen[old] = true
	}
}

func TestSetValueOps(t *testing.T) {
	ctx := context.Background()
	s := NewMemStore()
	m := DialogStatMut("t1", "d1", model.FieldMemberCount, 0, testSrc("recalc"))

	if _, _, err := s.SetValue(ctx, m, 7, model.OpComputed); err != nil {
		t.Fatalf("set: %v", err)
	}
	old, newValue, err := s.SetValue(ctx, m, -3, model.OpSet)
	if err != nil {
		t.Fatalf("set: %v", err)
	}
	if old != 7 || newValue != 0 {
		t.Fatalf("negative set not clamped: old=%d new=%d", old, newValue)
	}

	hist := s.History()
	if hist[0].Operation != model.OpComputed || hist[1].Operation != model.OpSet {
		t.Fatalf("ops recorded as %s/%s", hist[0].Operation, hist[1].Operation)
	}
}

// 审计行带全来源信息，tenant 维度隔离
func TestHistoryProvenance(t *testing.T) {
	ctx := context.Background()
	s := NewMemStore()

	src := Source{Operation: "message.reaction.update", EntityID: "ev-9", ActorID: "u2", ActorType: "bot"}
	if _, _, err := s.Apply(ctx, ReactionMut("t1", "m1", "👍", +1, src)); err != nil {
		t.Fatalf("apply: %v", err)
	}

	rows := s.History()
	if len(rows) != 1 {
		t.Fatalf("rows %d", len(rows))
	}
	r := rows[0]
	if r.SourceOperation != "message.reaction.update" || r.SourceEntityID != "ev-9" {
		t.Fatalf("source: %s/%s", r.SourceOperation, r.SourceEntityID)
	}
	if r.ActorID != "u2" || r.ActorType != "bot" {
		t.Fatalf("actor: %s/%s", r.ActorID, r.ActorType)
	}
	if r.CounterType != model.CounterMessageReactionStat || r.TenantID != "t1" {
		t.Fatalf("row target: %s/%s", r.CounterType, r.TenantID)
	}
}

func TestTenantIsolation(t *testing.T) {
	ctx := context.Background()
	s := NewMemStore()

	id := map[string]string{"user_id": "u1", "dialog_id": "d1"}
	_, _, _ = s.Apply(ctx, DialogUnreadMut("t1", "u1", "d1", +4, testSrc("x")))
	_, _, _ = s.Apply(ctx, DialogUnreadMut("t2", "u1", "d1", +1, testSrc("x")))

	v1, _ := s.Get(ctx, model.CounterDialogUserUnread, "t1", id, model.FieldUnread)
	v2, _ := s.Get(ctx, model.CounterDialogUserUnread, "t2", id, model.FieldUnread)
	if v1 != 4 || v2 != 1 {
		t.Fatalf("cross-tenant bleed: t1=%d t2=%d", v1, v2)
	}
}

func TestSumTopicUnreadAndRollups(t *testing.T) {
	ctx := context.Background()
	s := NewMemStore()
	src := testSrc("message.create")

	_, _, _ = s.Apply(ctx, TopicUnreadMut("t1", "u1", "d1", "top-a", +2, src))
	_, _, _ = s.Apply(ctx, TopicUnreadMut("t1", "u1", "d1", "top-b", +3, src))
	_, _, _ = s.Apply(ctx, TopicUnreadMut("t1", "u1", "d2", "top-c", +9, src))

	sum, err := s.SumTopicUnread(ctx, "t1", "u1", "d1")
	if err != nil {
		t.Fatalf("sum: %v", err)
	}
	if sum != 5 {
		t.Fatalf("topic sum %d, want 5", sum)
	}

	_, _, _ = s.Apply(ctx, DialogUnreadMut("t1", "u1", "d1", +5, src))
	_, _, _ = s.Apply(ctx, DialogUnreadMut("t1", "u1", "d2", +9, src))
	_, _, _ = s.Apply(ctx, DialogUnreadMut("t1", "u1", "d3", 0, src))

	if err := s.RecomputeUserRollups(ctx, "t1", "u1", src); err != nil {
		t.Fatalf("rollup: %v", err)
	}
	uid := map[string]string{"user_id": "u1"}
	dialogs, _ := s.Get(ctx, model.CounterUserStats, "t1", uid, model.FieldUnreadDialogCount)
	total, _ := s.Get(ctx, model.CounterUserStats, "t1", uid, model.FieldUnreadTotal)
	if dialogs != 2 {
		t.Fatalf("unread_dialog_count %d, want 2", dialogs)
	}
	if total != 14 {
		t.Fatalf("unread_total %d, want 14", total)
	}
}
