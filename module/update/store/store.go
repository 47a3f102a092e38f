package store

import (
	"context"
	"sync"
	"time"

	"PulseChat/module/update/model"
	"PulseChat/tools/errs"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// UpdateStore Mongo 实现：插入 + 发布置位，别无其他写路径
type UpdateStore struct {
	coll func() *mongo.Collection
}

func NewUpdateStore() *UpdateStore {
	return &UpdateStore{
		coll: func() *mongo.Collection { return (&model.Update{}).Collection() },
	}
}

func NewUpdateStoreWithCollection(coll *mongo.Collection) *UpdateStore {
	return &UpdateStore{coll: func() *mongo.Collection { return coll }}
}

func (s *UpdateStore) Insert(ctx context.Context, u *model.Update) error {
	if u.CreatedAtMS == 0 {
		u.CreatedAtMS = time.Now().UnixMilli()
	}
	_, err := s.coll().InsertOne(ctx, u)
	if err != nil {
		return errs.ErrTransientStorage.WrapMsg("update insert failed",
			"event_id", u.EventID, "user_id", u.UserID, "err", err)
	}
	return nil
}

func (s *UpdateStore) MarkPublished(ctx context.Context, tenantID, updateID string) error {
	now := time.Now()
	_, err := s.coll().UpdateOne(ctx,
		bson.M{"tenant_id": tenantID, "update_id": updateID},
		bson.M{"$set": bson.M{"published": true, "published_at": now}})
	return errs.Wrap(err)
}

// ListByRecipient 收件人时间线：sinceMS 之后的 Update，时间倒序。
// 断线重连后客户端用它补齐掉线窗口里丢的帧。
func (s *UpdateStore) ListByRecipient(ctx context.Context, tenantID, userID string, sinceMS int64, limit int64) ([]model.Update, error) {
	if limit <= 0 {
		limit = 100
	}
	filter := bson.M{"tenant_id": tenantID, "user_id": userID}
	if sinceMS > 0 {
		filter["created_at_ms"] = bson.M{"$gt": sinceMS}
	}
	opts := options.Find().
		SetSort(bson.D{{Key: "created_at_ms", Value: -1}}).
		SetLimit(limit)
	cur, err := s.coll().Find(ctx, filter, opts)
	if err != nil {
		return nil, errs.ErrTransientStorage.WrapMsg("update timeline query failed",
			"user_id", userID, "err", err)
	}
	defer cur.Close(ctx)

	var out []model.Update
	for cur.Next(ctx) {
		var u model.Update
		if err := cur.Decode(&u); err != nil {
			return nil, errs.Wrap(err)
		}
		out = append(out, u)
	}
	return out, errs.Wrap(cur.Err())
}

// EnsureIndexes 收件人时间线与来源事件去重索引
func (s *UpdateStore) EnsureIndexes(ctx context.Context) error {
	_, err := s.coll().Indexes().CreateMany(ctx, []mongo.IndexModel{
		{
			Keys: bson.D{
				{Key: "tenant_id", Value: 1},
				{Key: "user_id", Value: 1},
				{Key: "created_at_ms", Value: -1},
			},
			Options: options.Index().SetName("recipient_time"),
		},
		{
			Keys: bson.D{
				{Key: "tenant_id", Value: 1},
				{Key: "update_id", Value: 1},
			},
			Options: options.Index().SetUnique(true).SetName("uniq_update_id"),
		},
		{
			Keys: bson.D{
				{Key: "tenant_id", Value: 1},
				{Key: "event_id", Value: 1},
				{Key: "user_id", Value: 1},
			},
			Options: options.Index().SetName("event_recipient"),
		},
	})
	return errs.Wrap(err)
}

// MemUpdateStore 内存实现，测试用
type MemUpdateStore struct {
	mu      sync.Mutex
	updates []*model.Update
}

func NewMemUpdateStore() *MemUpdateStore { return &MemUpdateStore{} }

func (s *MemUpdateStore) Insert(_ context.Context, u *model.Update) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if u.CreatedAtMS == 0 {
		u.CreatedAtMS = time.Now().UnixMilli()
	}
	cp := *u
	s.updates = append(s.updates, &cp)
	return nil
}

func (s *MemUpdateStore) MarkPublished(_ context.Context, tenantID, updateID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := time.Now()
	for _, u := range s.updates {
		if u.TenantID == tenantID && u.UpdateID == updateID {
			u.Published = true
			u.PublishedAt = &now
		}
	}
	return nil
}

// All 已落库的 Update 快照
func (s *MemUpdateStore) All() []model.Update {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]model.Update, 0, len(s.updates))
	for _, u := range s.updates {
		out = append(out, *u)
	}
	return out
}
