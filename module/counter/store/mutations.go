package store

import "PulseChat/module/counter/model"

// 各族 Mutation 的构造器。身份键拼写集中在这里，
// 派生、重算、读任务共用，避免各处手写 map 拼错字段。

func DialogStatMut(tenantID, dialogID, field string, delta int64, src Source) Mutation {
	return Mutation{
		TenantID:    tenantID,
		CounterType: model.CounterDialogStats,
		EntityType:  "dialog",
		EntityID:    dialogID,
		Identity:    map[string]string{"dialog_id": dialogID},
		Field:       field,
		Delta:       delta,
		Source:      src,
	}
}

func DialogUnreadMut(tenantID, userID, dialogID string, delta int64, src Source) Mutation {
	return Mutation{
		TenantID:    tenantID,
		CounterType: model.CounterDialogUserUnread,
		EntityType:  "dialog",
		EntityID:    dialogID,
		Identity:    map[string]string{"user_id": userID, "dialog_id": dialogID},
		Field:       model.FieldUnread,
		Delta:       delta,
		Source:      src,
	}
}

func TopicUnreadMut(tenantID, userID, dialogID, topicID string, delta int64, src Source) Mutation {
	return Mutation{
		TenantID:    tenantID,
		CounterType: model.CounterTopicUserUnread,
		EntityType:  "dialog",
		EntityID:    dialogID,
		Identity:    map[string]string{"user_id": userID, "dialog_id": dialogID, "topic_id": topicID},
		Field:       model.FieldUnread,
		Delta:       delta,
		Source:      src,
	}
}

func UserStatMut(tenantID, userID, field string, delta int64, src Source) Mutation {
	return Mutation{
		TenantID:    tenantID,
		CounterType: model.CounterUserStats,
		EntityType:  "user",
		EntityID:    userID,
		Identity:    map[string]string{"user_id": userID},
		Field:       field,
		Delta:       delta,
		Source:      src,
	}
}

func ReactionMut(tenantID, messageID, reaction string, delta int64, src Source) Mutation {
	return Mutation{
		TenantID:    tenantID,
		CounterType: model.CounterMessageReactionStat,
		EntityType:  "message",
		EntityID:    messageID,
		Identity:    map[string]string{"message_id": messageID, "reaction": reaction},
		Field:       model.FieldCount,
		Delta:       delta,
		Source:      src,
	}
}

func StatusMut(tenantID, messageID, status string, delta int64, src Source) Mutation {
	return Mutation{
		TenantID:    tenantID,
		CounterType: model.CounterMessageStatusStat,
		EntityType:  "message",
		EntityID:    messageID,
		Identity:    map[string]string{"message_id": messageID, "status": status},
		Field:       model.FieldCount,
		Delta:       delta,
		Source:      src,
	}
}

func PackStatMut(tenantID, packID, field string, delta int64, src Source) Mutation {
	return Mutation{
		TenantID:    tenantID,
		CounterType: model.CounterPackStats,
		EntityType:  "pack",
		EntityID:    packID,
		Identity:    map[string]string{"pack_id": packID},
		Field:       field,
		Delta:       delta,
		Source:      src,
	}
}

func PackUnreadMut(tenantID, userID, packID string, delta int64, src Source) Mutation {
	return Mutation{
		TenantID:    tenantID,
		CounterType: model.CounterPackUserUnread,
		EntityType:  "pack",
		EntityID:    packID,
		Identity:    map[string]string{"user_id": userID, "pack_id": packID},
		Field:       model.FieldUnread,
		Delta:       delta,
		Source:      src,
	}
}
