package store

import (
	"context"
	"time"

	"PulseChat/data/database/mgo/mongoutil"
	"PulseChat/module/event/model"
	"PulseChat/tools/errs"
	"PulseChat/tools/ids"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

const appendMaxRetry = 3

// EventStore 事件追加与按实体/类型的时间序查询。
// 不暴露 update/delete：事件只追加。
type EventStore struct {
	coll func() *mongo.Collection
}

func NewEventStore() *EventStore {
	return &EventStore{
		coll: func() *mongo.Collection { return (&model.EventRecord{}).Collection() },
	}
}

// NewEventStoreWithCollection 测试注入用
func NewEventStoreWithCollection(coll *mongo.Collection) *EventStore {
	return &EventStore{coll: func() *mongo.Collection { return coll }}
}

// Append 校验后落库并返回 event_id。
// event_id 冲突（唯一索引）换新 id 重试，不把冲突抛给调用方。
func (s *EventStore) Append(ctx context.Context, ev *model.EventRecord) (string, error) {
	if err := validate(ev); err != nil {
		return "", err
	}
	if ev.CreatedAtMS == 0 {
		ev.CreatedAtMS = time.Now().UnixMilli()
	}
	if ev.ActorType == "" {
		ev.ActorType = model.ActorSystem
	}

	for i := 0; i < appendMaxRetry; i++ {
		if ev.EventID == "" || i > 0 {
			ev.EventID = ids.GenerateString()
		}
		_, err := s.coll().InsertOne(ctx, ev)
		if err == nil {
			return ev.EventID, nil
		}
		if mongoutil.IsDup(err) {
			continue // 撞键换 id 再试
		}
		return "", errs.ErrTransientStorage.WrapMsg("event append failed",
			"event_type", ev.EventType, "entity_id", ev.EntityID, "err", err)
	}
	return "", errs.ErrConflict.WrapMsg("event id conflict not resolved",
		"event_type", ev.EventType, "entity_id", ev.EntityID)
}

func validate(ev *model.EventRecord) error {
	switch {
	case ev == nil:
		return errs.ErrValidation.WrapMsg("event is nil")
	case ev.TenantID == "":
		return errs.ErrValidation.WrapMsg("tenant_id is required")
	case ev.EventType == "":
		return errs.ErrValidation.WrapMsg("event_type is required")
	case ev.EntityType == "":
		return errs.ErrValidation.WrapMsg("entity_type is required")
	case ev.EntityID == "":
		return errs.ErrValidation.WrapMsg("entity_id is required")
	case !model.IsKnownType(ev.EventType):
		return errs.ErrValidation.WrapMsg("event_type not in closed set", "event_type", ev.EventType)
	}
	return nil
}

// ListByEntity 按实体查事件，created_at 倒序
func (s *EventStore) ListByEntity(ctx context.Context, tenantID, entityType, entityID string, limit int64) ([]model.EventRecord, error) {
	return s.list(ctx, bson.M{
		"tenant_id":   tenantID,
		"entity_type": entityType,
		"entity_id":   entityID,
	}, limit)
}

// ListByType 按事件类型查，created_at 倒序
func (s *EventStore) ListByType(ctx context.Context, tenantID string, eventType model.EventType, limit int64) ([]model.EventRecord, error) {
	return s.list(ctx, bson.M{
		"tenant_id":  tenantID,
		"event_type": eventType,
	}, limit)
}

func (s *EventStore) list(ctx context.Context, filter bson.M, limit int64) ([]model.EventRecord, error) {
	if limit <= 0 {
		limit = 100
	}
	opts := options.Find().
		SetSort(bson.D{{Key: "created_at_ms", Value: -1}}).
		SetLimit(limit)
	cur, err := s.coll().Find(ctx, filter, opts)
	if err != nil {
		return nil, errs.ErrTransientStorage.WrapMsg("event query failed", "err", err)
	}
	defer cur.Close(ctx)

	var out []model.EventRecord
	for cur.Next(ctx) {
		var ev model.EventRecord
		if err := cur.Decode(&ev); err != nil {
			return nil, errs.Wrap(err)
		}
		out = append(out, ev)
	}
	return out, errs.Wrap(cur.Err())
}

// EnsureIndexes 建索引：event_id 唯一，实体轴与类型轴的时间序扫描
func (s *EventStore) EnsureIndexes(ctx context.Context) error {
	_, err := s.coll().Indexes().CreateMany(ctx, []mongo.IndexModel{
		{
			Keys:    bson.D{{Key: "event_id", Value: 1}},
			Options: options.Index().SetUnique(true).SetName("uniq_event_id"),
		},
		{
			Keys: bson.D{
				{Key: "tenant_id", Value: 1},
				{Key: "entity_type", Value: 1},
				{Key: "entity_id", Value: 1},
				{Key: "created_at_ms", Value: -1},
			},
			Options: options.Index().SetName("entity_time"),
		},
		{
			Keys: bson.D{
				{Key: "tenant_id", Value: 1},
				{Key: "event_type", Value: 1},
				{Key: "created_at_ms", Value: -1},
			},
			Options: options.Index().SetName("type_time"),
		},
	})
	return errs.Wrap(err)
}
