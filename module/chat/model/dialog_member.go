package model

import (
	"context"
	"time"

	"PulseChat/service/mgo"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
)

// DialogMember 会话内的单个成员记录。
// 一条记录对应一个会话 + 一个用户（唯一键: dialog_id+user_id）。
type DialogMember struct {
	TenantID string `bson:"tenant_id"` // PK
	DialogID string `bson:"dialog_id"` // 会话ID
	UserID   string `bson:"user_id"`   // 成员用户ID

	// —— 基本展示信息 ——
	Nickname string `bson:"nickname"` // 会话内昵称
	FaceURL  string `bson:"face_url"` // 会话内头像

	// —— 权限/角色 ——
	RoleLevel int32 `bson:"role_level"` // 0=普通成员,1=管理员,2=群主
	IsOwner   bool  `bson:"is_owner"`
	IsAdmin   bool  `bson:"is_admin"`

	// —— 加入信息 ——
	JoinTime      time.Time `bson:"join_time"`
	InviterUserID string    `bson:"inviter_user_id"` // 邀请人ID（如果是被拉入）

	// —— 风控状态 ——
	MuteEndTime time.Time `bson:"mute_end_time"` // 禁言截止（0或空=未禁言）

	Status   int32     `bson:"status"`    // 0=正常,1=已退出,2=被踢
	QuitTime time.Time `bson:"quit_time"` // 离开时间

	UpdateTime time.Time `bson:"update_time"`
	Ex         string    `bson:"ex"` // 扩展字段(JSON)
}

func (sess *DialogMember) GetTableName() string {
	return "chat_dialog_member"
}

func (sess *DialogMember) Collection() *mongo.Collection {
	return mgo.GetDB().Collection(sess.GetTableName())
}

// ListUserIDs 列出会话内全部在籍成员ID（status=0）
func (sess *DialogMember) ListUserIDs(ctx context.Context, tenantID, dialogID string) ([]string, error) {
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
		var m DialogMember
		if err := cur.Decode(&m); err != nil {
			return nil, err
		}
		ids = append(ids, m.UserID)
	}
	return ids, cur.Err()
}

// CountByDialog 在籍成员数
func (sess *DialogMember) CountByDialog(ctx context.Context, tenantID, dialogID string) (int64, error) {
	return sess.Collection().CountDocuments(ctx, bson.M{
		"tenant_id": tenantID,
		"dialog_id": dialogID,
		"status":    0,
	})
}

// CountByUser 用户在籍的会话数（user_stats.dialog_count 的重算口径）
func (sess *DialogMember) CountByUser(ctx context.Context, tenantID, userID string) (int64, error) {
	return sess.Collection().CountDocuments(ctx, bson.M{
		"tenant_id": tenantID,
		"user_id":   userID,
		"status":    0,
	})
}
