package model

import (
	"context"
	"time"

	"PulseChat/service/mgo"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
)

// Dialog 会话主档（单聊/群聊/频道）。
// 本引擎只读：计数重算与更新扇出需要它，写入方在 REST 层。
type Dialog struct {
	TenantID string `bson:"tenant_id"` // PK
	DialogID string `bson:"dialog_id"` // 会话ID

	DialogType int32  `bson:"dialog_type"`       // 1=单聊,2=群聊,3=频道
	Name       string `bson:"name"`              // 展示名称
	AvatarURL  string `bson:"avatar_url"`        // 头像
	OwnerID    string `bson:"owner_id"`          // 群主/创建人
	PackID     string `bson:"pack_id,omitempty"` // 所属会话包（可空）

	Status     int32     `bson:"status"` // 0=正常,1=归档,2=已解散
	CreateTime time.Time `bson:"create_time"`
	UpdateTime time.Time `bson:"update_time"`

	Ex string `bson:"ex"` // 预留扩展字段(JSON)
}

func (sess *Dialog) GetTableName() string {
	return "chat_dialog"
}

func (sess *Dialog) Collection() *mongo.Collection {
	return mgo.GetDB().Collection(sess.GetTableName())
}

// Get 按主键取会话；不存在返回 mongo.ErrNoDocuments
func (sess *Dialog) Get(ctx context.Context, tenantID, dialogID string) (*Dialog, error) {
	var out Dialog
	err := sess.Collection().FindOne(ctx, bson.M{
		"tenant_id": tenantID,
		"dialog_id": dialogID,
	}).Decode(&out)
	if err != nil {
		return nil, err
	}
	return &out, nil
}

// ListIDsByPack 列出会话包内全部会话ID
func (sess *Dialog) ListIDsByPack(ctx context.Context, tenantID, packID string) ([]string, error) {
	cur, err := sess.Collection().Find(ctx, bson.M{
		"tenant_id": tenantID,
		"pack_id":   packID,
	})
	if err != nil {
		return nil, err
	}
	defer cur.Close(ctx)

	var ids []string
	for cur.Next(ctx) {
		var d Dialog
		if err := cur.Decode(&d); err != nil {
			return nil, err
		}
		ids = append(ids, d.DialogID)
	}
	return ids, cur.Err()
}
