package recalc

import (
	"context"

	chat "PulseChat/module/chat/model"
)

// MongoSource 主档读取的 Mongo 实现，口径全部复用 chat 模型
type MongoSource struct{}

func NewMongoSource() *MongoSource { return &MongoSource{} }

func (s *MongoSource) MemberIDs(ctx context.Context, tenantID, dialogID string) ([]string, error) {
	return (&chat.DialogMember{}).ListUserIDs(ctx, tenantID, dialogID)
}

func (s *MongoSource) MemberCount(ctx context.Context, tenantID, dialogID string) (int64, error) {
	return (&chat.DialogMember{}).CountByDialog(ctx, tenantID, dialogID)
}

func (s *MongoSource) MessageCount(ctx context.Context, tenantID, dialogID string) (int64, error) {
	return (&chat.Message{}).CountByDialog(ctx, tenantID, dialogID)
}

func (s *MongoSource) TopicCount(ctx context.Context, tenantID, dialogID string) (int64, error) {
	return (&chat.Topic{}).CountByDialog(ctx, tenantID, dialogID)
}

func (s *MongoSource) TopicIDs(ctx context.Context, tenantID, dialogID string) ([]string, error) {
	return (&chat.Topic{}).ListIDsByDialog(ctx, tenantID, dialogID)
}

func (s *MongoSource) UnreadCount(ctx context.Context, tenantID, dialogID, topicID, userID string) (int64, error) {
	return (&chat.Message{}).CountUnread(ctx, tenantID, dialogID, topicID, userID)
}

func (s *MongoSource) DialogCountByUser(ctx context.Context, tenantID, userID string) (int64, error) {
	return (&chat.DialogMember{}).CountByUser(ctx, tenantID, userID)
}

func (s *MongoSource) DialogIDsByPack(ctx context.Context, tenantID, packID string) ([]string, error) {
	return (&chat.Dialog{}).ListIDsByPack(ctx, tenantID, packID)
}
