package ids

import (
	"testing"
	"time"
)

func TestGenerateUnique(t *testing.T) {
	seen := map[int64]struct{}{}
	for i := 0; i < 10000; i++ {
		id := Generate()
		if _, dup := seen[id]; dup {
			t.Fatalf("duplicate id %d at iteration %d", id, i)
		}
		seen[id] = struct{}{}
	}
}

// 雪花号里嵌的是毫秒时间戳，TimeOf 能还原生成时刻
func TestTimeOfRoundtrip(t *testing.T) {
	before := time.Now().Add(-time.Second)
	id := Generate()
	after := time.Now().Add(time.Second)

	ts := TimeOf(id)
	if ts.Before(before) || ts.After(after) {
		t.Fatalf("TimeOf(%d)=%v outside [%v, %v]", id, ts, before, after)
	}
}
