package store

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"PulseChat/module/counter/model"
)

// MemStore 单进程内存实现，钳零语义与 Mongo 实现一致。
// 测试与本地联调用；审计行留在内存里供断言。
type MemStore struct {
	mu      sync.Mutex
	records map[string]*memRecord // counterType|tenant|k=v,... -> record
	history []model.CounterHistory
}

type memRecord struct {
	tenantID string
	identity map[string]string
	fields   map[string]int64
	created  time.Time
	updated  time.Time
}

func NewMemStore() *MemStore {
	return &MemStore{records: make(map[string]*memRecord)}
}

func recordKey(counterType, tenantID string, identity map[string]string) string {
	keys := make([]string, 0, len(identity))
	for k := range identity {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	var b strings.Builder
	b.WriteString(counterType)
	b.WriteString("|")
	b.WriteString(tenantID)
	for _, k := range keys {
		b.WriteString("|")
		b.WriteString(k)
		b.WriteString("=")
		b.WriteString(identity[k])
	}
	return b.String()
}

func (s *MemStore) upsert(counterType, tenantID string, identity map[string]string) *memRecord {
	key := recordKey(counterType, tenantID, identity)
	rec, ok := s.records[key]
	if !ok {
		idCopy := make(map[string]string, len(identity))
		for k, v := range identity {
			idCopy[k] = v
		}
		rec = &memRecord{
			tenantID: tenantID,
			identity: idCopy,
			fields:   make(map[string]int64),
			created:  time.Now(),
		}
		s.records[key] = rec
	}
	return rec
}

func (s *MemStore) Apply(_ context.Context, m Mutation) (int64, int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec := s.upsert(m.CounterType, m.TenantID, m.Identity)
	old := rec.fields[m.Field]
	newValue := old + m.Delta
	if newValue < 0 {
		newValue = 0
	}
	rec.fields[m.Field] = newValue
	rec.updated = time.Now()

	op := model.OpIncrement
	if m.Delta < 0 {
		op = model.OpDecrement
	}
	s.record(m, old, newValue, op)
	return old, newValue, nil
}

func (s *MemStore) SetValue(_ context.Context, m Mutation, value int64, op string) (int64, int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if value < 0 {
		value = 0
	}
	rec := s.upsert(m.CounterType, m.TenantID, m.Identity)
	old := rec.fields[m.Field]
	rec.fields[m.Field] = value
	rec.updated = time.Now()

	s.record(m, old, value, op)
	return old, value, nil
}

func (s *MemStore) record(m Mutation, oldValue, newValue int64, op string) {
	s.history = append(s.history, model.CounterHistory{
		TenantID:        m.TenantID,
		CounterType:     m.CounterType,
		EntityType:      m.EntityType,
		EntityID:        m.EntityID,
		Field:           m.Field,
		OldValue:        oldValue,
		NewValue:        newValue,
		Delta:           newValue - oldValue,
		Operation:       op,
		SourceOperation: m.Source.Operation,
		SourceEntityID:  m.Source.EntityID,
		ActorID:         m.Source.ActorID,
		ActorType:       m.Source.ActorType,
		CreatedAt:       time.Now(),
	})
}

func (s *MemStore) Get(_ context.Context, counterType, tenantID string, identity map[string]string, field string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.records[recordKey(counterType, tenantID, identity)]
	if !ok {
		return 0, nil
	}
	return rec.fields[field], nil
}

func (s *MemStore) SumTopicUnread(_ context.Context, tenantID, userID, dialogID string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var total int64
	for key, rec := range s.records {
		if !strings.HasPrefix(key, model.CounterTopicUserUnread+"|") {
			continue
		}
		if rec.tenantID == tenantID &&
			rec.identity["user_id"] == userID &&
			rec.identity["dialog_id"] == dialogID {
			total += rec.fields[model.FieldUnread]
		}
	}
	return total, nil
}

func (s *MemStore) RecomputeUserRollups(ctx context.Context, tenantID, userID string, src Source) error {
	s.mu.Lock()
	var total, unreadDialogs int64
	for key, rec := range s.records {
		if !strings.HasPrefix(key, model.CounterDialogUserUnread+"|") {
			continue
		}
		if rec.tenantID != tenantID || rec.identity["user_id"] != userID {
			continue
		}
		u := rec.fields[model.FieldUnread]
		total += u
		if u > 0 {
			unreadDialogs++
		}
	}
	s.mu.Unlock()

	base := Mutation{
		TenantID:    tenantID,
		CounterType: model.CounterUserStats,
		EntityType:  "user",
		EntityID:    userID,
		Identity:    map[string]string{"user_id": userID},
		Source:      src,
	}
	m := base
	m.Field = model.FieldUnreadDialogCount
	if _, _, err := s.SetValue(ctx, m, unreadDialogs, model.OpComputed); err != nil {
		return err
	}
	m = base
	m.Field = model.FieldUnreadTotal
	_, _, err := s.SetValue(ctx, m, total, model.OpComputed)
	return err
}

// History 已写入的审计行快照（测试断言用）
func (s *MemStore) History() []model.CounterHistory {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]model.CounterHistory, len(s.history))
	copy(out, s.history)
	return out
}
