package model

import (
	"context"
	"time"

	"PulseChat/service/mgo"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
)

// Topic 会话内的子话题（Discord 式 thread）
type Topic struct {
	TenantID string `bson:"tenant_id"` // PK
	DialogID string `bson:"dialog_id"`
	TopicID  string `bson:"topic_id"` // 唯一键: dialog_id+topic_id

	Title         string `bson:"title"`
	CreatorUserID string `bson:"creator_user_id"`

	Status     int32     `bson:"status"` // 0=正常,1=已关闭
	CreateTime time.Time `bson:"create_time"`
	UpdateTime time.Time `bson:"update_time"`
}

func (sess *Topic) GetTableName() string {
	return "chat_topic"
}

func (sess *Topic) Collection() *mongo.Collection {
	return mgo.GetDB().Collection(sess.GetTableName())
}

// CountByDialog 会话内话题数（dialog_stats.topic_count 的重算口径）
func (sess *Topic) CountByDialog(ctx context.Context, tenantID, dialogID string) (int64, error) {
	return sess.Collection().CountDocuments(ctx, bson.M{
		"tenant_id": tenantID,
		"dialog_id": dialogID,
		"status":    0,
	})
}

// ListIDsByDialog 列出会话内话题ID
func (sess *Topic) ListIDsByDialog(ctx context.Context, tenantID, dialogID string) ([]string, error) {
	cur, err := sess.Collection().Find(ctx, bson.M{
		"tenant_id": tenantID,
		"dialog_id": dialogID,
		"status":    0,
	})
	if err != nil {
		return nil, err
	}
	defer cur.Close(ctx)

	var ids []string
	for cur.Next(ctx) {
		var t Topic
		if err := cur.Decode(&t); err != nil {
			return nil, err
		}
		ids = append(ids, t.TopicID)
	}
	return ids, cur.Err()
}
