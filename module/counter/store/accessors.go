package store

import (
	"context"

	"PulseChat/module/counter/model"
)

// 各族的只读访问器。记录不存在时一律返回 0。

func GetDialogUnread(ctx context.Context, ops Ops, tenantID, userID, dialogID string) (int64, error) {
	return ops.Get(ctx, model.CounterDialogUserUnread, tenantID,
		map[string]string{"user_id": userID, "dialog_id": dialogID}, model.FieldUnread)
}

func GetTopicUnread(ctx context.Context, ops Ops, tenantID, userID, dialogID, topicID string) (int64, error) {
	return ops.Get(ctx, model.CounterTopicUserUnread, tenantID,
		map[string]string{"user_id": userID, "dialog_id": dialogID, "topic_id": topicID}, model.FieldUnread)
}

func GetPackUnread(ctx context.Context, ops Ops, tenantID, userID, packID string) (int64, error) {
	return ops.Get(ctx, model.CounterPackUserUnread, tenantID,
		map[string]string{"user_id": userID, "pack_id": packID}, model.FieldUnread)
}

func GetDialogStat(ctx context.Context, ops Ops, tenantID, dialogID, field string) (int64, error) {
	return ops.Get(ctx, model.CounterDialogStats, tenantID,
		map[string]string{"dialog_id": dialogID}, field)
}

func GetUserStat(ctx context.Context, ops Ops, tenantID, userID, field string) (int64, error) {
	return ops.Get(ctx, model.CounterUserStats, tenantID,
		map[string]string{"user_id": userID}, field)
}

func GetPackStat(ctx context.Context, ops Ops, tenantID, packID, field string) (int64, error) {
	return ops.Get(ctx, model.CounterPackStats, tenantID,
		map[string]string{"pack_id": packID}, field)
}
