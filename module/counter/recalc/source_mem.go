package recalc

import "context"

// MemSource 测试用主档：用例直接填充各口径的返回值
type MemSource struct {
	Members     map[string][]string // tenant|dialog -> user ids
	Messages    map[string]int64    // tenant|dialog -> count
	Topics      map[string][]string // tenant|dialog -> topic ids
	Unread      map[string]int64    // tenant|dialog|topic|user -> count
	UserDialogs map[string]int64    // tenant|user -> dialog count
	PackDialogs map[string][]string // tenant|pack -> dialog ids
}

func NewMemSource() *MemSource {
	return &MemSource{
		Members:     map[string][]string{},
		Messages:    map[string]int64{},
		Topics:      map[string][]string{},
		Unread:      map[string]int64{},
		UserDialogs: map[string]int64{},
		PackDialogs: map[string][]string{},
	}
}

func (s *MemSource) MemberIDs(_ context.Context, tenantID, dialogID string) ([]string, error) {
	return s.Members[tenantID+"|"+dialogID], nil
}

func (s *MemSource) MemberCount(_ context.Context, tenantID, dialogID string) (int64, error) {
	return int64(len(s.Members[tenantID+"|"+dialogID])), nil
}

func (s *MemSource) MessageCount(_ context.Context, tenantID, dialogID string) (int64, error) {
	return s.Messages[tenantID+"|"+dialogID], nil
}

func (s *MemSource) TopicCount(_ context.Context, tenantID, dialogID string) (int64, error) {
	return int64(len(s.Topics[tenantID+"|"+dialogID])), nil
}

func (s *MemSource) TopicIDs(_ context.Context, tenantID, dialogID string) ([]string, error) {
	return s.Topics[tenantID+"|"+dialogID], nil
}

func (s *MemSource) UnreadCount(_ context.Context, tenantID, dialogID, topicID, userID string) (int64, error) {
	return s.Unread[tenantID+"|"+dialogID+"|"+topicID+"|"+userID], nil
}

func (s *MemSource) DialogCountByUser(_ context.Context, tenantID, userID string) (int64, error) {
	return s.UserDialogs[tenantID+"|"+userID], nil
}

func (s *MemSource) DialogIDsByPack(_ context.Context, tenantID, packID string) ([]string, error) {
	return s.PackDialogs[tenantID+"|"+packID], nil
}
