package model

import (
	"time"

	"PulseChat/service/mgo"

	"go.mongodb.org/mongo-driver/mongo"
)

// DialogPack 会话包：一组会话的聚合视图（工作区/分类文件夹）。
// 包级计数（pack_stats / pack_user_unread）按包内当前会话集合聚合。
type DialogPack struct {
	TenantID string `bson:"tenant_id"` // PK
	PackID   string `bson:"pack_id"`

	Name      string   `bson:"name"`
	OwnerID   string   `bson:"owner_id"`
	DialogIDs []string `bson:"dialog_ids"` // 冗余的成员会话列表，与 Dialog.pack_id 双向维护

	CreateTime time.Time `bson:"create_time"`
	UpdateTime time.Time `bson:"update_time"`
}

func (sess *DialogPack) GetTableName() string {
	return "chat_dialog_pack"
}

func (sess *DialogPack) Collection() *mongo.Collection {
	return mgo.GetDB().Collection(sess.GetTableName())
}
