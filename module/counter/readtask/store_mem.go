package readtask

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	chat "PulseChat/module/chat/model"
	cmodel "PulseChat/module/counter/model"
	"PulseChat/tools/errs"
)

// MemTasks 测试用任务表，合并/认领语义与 MongoTasks 对齐
type MemTasks struct {
	mu    sync.Mutex
	seq   int64
	tasks []*cmodel.DialogReadTask
}

func NewMemTasks() *MemTasks { return &MemTasks{} }

func (s *MemTasks) Enqueue(_ context.Context, tenantID, userID, dialogID string, upToMS int64) (string, error) {
	if tenantID == "" || userID == "" || dialogID == "" {
		return "", errs.ErrValidation.WrapMsg("read task requires tenant_id, user_id and dialog_id")
	}
	if upToMS <= 0 {
		upToMS = time.Now().UnixMilli()
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	for _, t := range s.tasks {
		if t.Status == cmodel.TaskPending &&
			t.TenantID == tenantID && t.UserID == userID && t.DialogID == dialogID {
			t.RequestCount++
			if upToMS > t.UpToMS {
				t.UpToMS = upToMS
			}
			t.UpdatedAt = time.Now()
			return t.TaskID, nil
		}
	}
	s.seq++
	task := &cmodel.DialogReadTask{
		TaskID:       fmt.Sprintf("task-%d", s.seq),
		TenantID:     tenantID,
		UserID:       userID,
		DialogID:     dialogID,
		UpToMS:       upToMS,
		Status:       cmodel.TaskPending,
		RequestCount: 1,
		CreatedAt:    time.Now(),
		UpdatedAt:    time.Now(),
	}
	s.tasks = append(s.tasks, task)
	return task.TaskID, nil
}

func (s *MemTasks) Claim(_ context.Context) (*cmodel.DialogReadTask, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var oldest *cmodel.DialogReadTask
	for _, t := range s.tasks {
		if t.Status != cmodel.TaskPending {
			continue
		}
		if oldest == nil || t.CreatedAt.Before(oldest.CreatedAt) {
			oldest = t
		}
	}
	if oldest == nil {
		return nil, nil
	}
	oldest.Status = cmodel.TaskRunning
	oldest.UpdatedAt = time.Now()
	cp := *oldest
	return &cp, nil
}

func (s *MemTasks) Progress(_ context.Context, task *cmodel.DialogReadTask, lastID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if t := s.byID(task.TaskID); t != nil {
		t.ProcessedCount = task.ProcessedCount
		t.LastProcessedMessageID = lastID
		t.UpdatedAt = time.Now()
	}
	return nil
}

func (s *MemTasks) Finish(_ context.Context, taskID, status, errMsg string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if t := s.byID(taskID); t != nil {
		t.Status = status
		t.Error = errMsg
		t.UpdatedAt = time.Now()
	}
	return nil
}

func (s *MemTasks) byID(taskID string) *cmodel.DialogReadTask {
	for _, t := range s.tasks {
		if t.TaskID == taskID {
			return t
		}
	}
	return nil
}

// Get 返回任务快照，用例断言状态机用
func (s *MemTasks) Get(taskID string) (cmodel.DialogReadTask, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if t := s.byID(taskID); t != nil {
		return *t, true
	}
	return cmodel.DialogReadTask{}, false
}

// MemArchive 测试用消息主档，过滤口径与 chat.Message 的查询对齐
type MemArchive struct {
	mu          sync.Mutex
	Msgs        []chat.Message
	Packs       map[string]string   // tenant|dialog -> pack id
	PackDialogs map[string][]string // tenant|pack -> dialog ids
}

func NewMemArchive() *MemArchive {
	return &MemArchive{Packs: map[string]string{}, PackDialogs: map[string][]string{}}
}

func (a *MemArchive) Add(m chat.Message) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if m.StatusByUser == nil {
		m.StatusByUser = map[string]string{}
	}
	a.Msgs = append(a.Msgs, m)
}

func (a *MemArchive) unreadFor(m *chat.Message, userID string) bool {
	return m.SenderID != userID && !m.Revoked && m.StatusByUser[userID] != "read"
}

func (a *MemArchive) ListUnreadBefore(_ context.Context, tenantID, dialogID, userID string, upToMS int64, afterID string, limit int64) ([]chat.Message, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	var out []chat.Message
	for i := range a.Msgs {
		m := &a.Msgs[i]
		if m.TenantID != tenantID || m.DialogID != dialogID {
			continue
		}
		if m.SenderID == userID || m.CreatedAtMS > upToMS || m.StatusByUser[userID] == "read" {
			continue
		}
		if afterID != "" && m.MessageID <= afterID {
			continue
		}
		cp := *m
		cp.StatusByUser = make(map[string]string, len(m.StatusByUser))
		for k, v := range m.StatusByUser {
			cp.StatusByUser[k] = v
		}
		out = append(out, cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].MessageID < out[j].MessageID })
	if int64(len(out)) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (a *MemArchive) MarkRead(_ context.Context, tenantID string, messageIDs []string, userID string) (int64, error) {
	ids := map[string]struct{}{}
	for _, id := range messageIDs {
		ids[id] = struct{}{}
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	var n int64
	for i := range a.Msgs {
		m := &a.Msgs[i]
		if m.TenantID != tenantID {
			continue
		}
		if _, ok := ids[m.MessageID]; !ok {
			continue
		}
		if m.StatusByUser == nil {
			m.StatusByUser = map[string]string{}
		}
		if m.StatusByUser[userID] != "read" {
			m.StatusByUser[userID] = "read"
			n++
		}
	}
	return n, nil
}

func (a *MemArchive) CountUnread(_ context.Context, tenantID, dialogID, topicID, userID string) (int64, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	var n int64
	for i := range a.Msgs {
		m := &a.Msgs[i]
		if m.TenantID != tenantID || m.DialogID != dialogID {
			continue
		}
		if topicID != "" && m.TopicID != topicID {
			continue
		}
		if a.unreadFor(m, userID) {
			n++
		}
	}
	return n, nil
}

func (a *MemArchive) PackOf(_ context.Context, tenantID, dialogID string) (string, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.Packs[tenantID+"|"+dialogID], nil
}

func (a *MemArchive) ListIDsByPack(_ context.Context, tenantID, packID string) ([]string, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.PackDialogs[tenantID+"|"+packID], nil
}
