package model

import (
	"context"

	"PulseChat/service/mgo"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// Message 消息主档。本引擎读它做重算与已读回填，不负责写入正文。
type Message struct {
	TenantID  string `bson:"tenant_id"` // PK
	MessageID string `bson:"message_id"`
	DialogID  string `bson:"dialog_id"`
	TopicID   string `bson:"topic_id,omitempty"` // 话题内消息才有

	SenderID    string         `bson:"sender_id"`
	ContentType int32          `bson:"content_type"` // text/image/file...
	Content     map[string]any `bson:"content"`

	// 每个接收人的送达状态: user_id -> sent|delivered|read
	StatusByUser map[string]string `bson:"status_by_user,omitempty"`

	CreatedAtMS int64 `bson:"created_at_ms"`
	Revoked     bool  `bson:"revoked"`
}

func (sess *Message) GetTableName() string {
	return "chat_message"
}

func (sess *Message) Collection() *mongo.Collection {
	return mgo.GetDB().Collection(sess.GetTableName())
}

// CountByDialog 会话消息总数（dialog_stats.message_count 的重算口径）
func (sess *Message) CountByDialog(ctx context.Context, tenantID, dialogID string) (int64, error) {
	return sess.Collection().CountDocuments(ctx, bson.M{
		"tenant_id": tenantID,
		"dialog_id": dialogID,
		"revoked":   false,
	})
}

// CountUnread 按主档口径数 user 在会话内的未读消息。
// topicID 非空时只数该话题（topic_user_unread 的重算口径）。
func (sess *Message) CountUnread(ctx context.Context, tenantID, dialogID, topicID, userID string) (int64, error) {
	filter := bson.M{
		"tenant_id":                tenantID,
		"dialog_id":                dialogID,
		"sender_id":                bson.M{"$ne": userID},
		"revoked":                  false,
		"status_by_user." + userID: bson.M{"$ne": "read"},
	}
	if topicID != "" {
		filter["topic_id"] = topicID
	}
	return sess.Collection().CountDocuments(ctx, filter)
}

// ListUnreadBefore 取 user 在会话内、upToMS 之前、尚未标记已读的一批消息。
// afterID 用于翻页续扫（读任务按批推进）。
func (sess *Message) ListUnreadBefore(ctx context.Context, tenantID, dialogID, userID string, upToMS int64, afterID string, limit int64) ([]Message, error) {
	filter := bson.M{
		"tenant_id":                tenantID,
		"dialog_id":                dialogID,
		"sender_id":                bson.M{"$ne": userID},
		"created_at_ms":            bson.M{"$lte": upToMS},
		"status_by_user." + userID: bson.M{"$ne": "read"},
	}
	if afterID != "" {
		filter["message_id"] = bson.M{"$gt": afterID}
	}
	opts := options.Find().
		SetSort(bson.D{{Key: "message_id", Value: 1}}).
		SetLimit(limit)
	cur, err := sess.Collection().Find(ctx, filter, opts)
	if err != nil {
		return nil, err
	}
	defer cur.Close(ctx)

	var out []Message
	for cur.Next(ctx) {
		var m Message
		if err := cur.Decode(&m); err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, cur.Err()
}

// MarkRead 批量把 user 的送达状态置为 read
func (sess *Message) MarkRead(ctx context.Context, tenantID string, messageIDs []string, userID string) (int64, error) {
	if len(messageIDs) == 0 {
		return 0, nil
	}
	res, err := sess.Collection().UpdateMany(ctx,
		bson.M{"tenant_id": tenantID, "message_id": bson.M{"$in": messageIDs}},
		bson.M{"$set": bson.M{"status_by_user." + userID: "read"}})
	if err != nil {
		return 0, err
	}
	return res.ModifiedCount, nil
}
