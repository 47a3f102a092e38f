package store

import (
	"context"
	"sort"
	"time"

	"PulseChat/logger"
	"PulseChat/module/counter/model"
	"PulseChat/tools/errs"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// Source 变更来源：审计行的出处三元组
type Source struct {
	Operation string // 业务操作名，通常等于 event_type
	EntityID  string // 通常是 event_id
	ActorID   string
	ActorType string
}

// Mutation 一次计数器变更请求。
// Identity 是该族的身份键（不含 tenant_id），Field 是目标数值字段。
type Mutation struct {
	TenantID    string
	CounterType string
	EntityType  string // 审计行的 entity_type: dialog|user|message|pack
	EntityID    string // 审计行的 entity_id
	Identity    map[string]string
	Field       string
	Delta       int64
	Source      Source
}

// Ops 计数器变更与读取协议。派生、重算、读任务都只经过它。
type Ops interface {
	// Apply 原子执行 new = max(0, old+delta)，懒建记录，返回前后值
	Apply(ctx context.Context, m Mutation) (oldValue, newValue int64, err error)
	// SetValue 原子绝对写（op: set|reset|computed），返回前后值
	SetValue(ctx context.Context, m Mutation, value int64, op string) (oldValue, newValue int64, err error)
	// Get 单字段读取，记录不存在返回 0
	Get(ctx context.Context, counterType, tenantID string, identity map[string]string, field string) (int64, error)
	// SumTopicUnread 话题未读聚合出会话未读（上卷查询口径）
	SumTopicUnread(ctx context.Context, tenantID, userID, dialogID string) (int64, error)
	// RecomputeUserRollups 由 dialog_user_unread 重算用户的未读上卷
	RecomputeUserRollups(ctx context.Context, tenantID, userID string, src Source) error
}

// Store Mongo 实现。所有变更是单条 FindOneAndUpdate，服务端对同一
// 文档串行化并发写，不需要进程内锁。
type Store struct {
	db *mongo.Database
}

func NewStore(db *mongo.Database) *Store {
	return &Store{db: db}
}

func (s *Store) coll(counterType string) *mongo.Collection {
	return s.db.Collection(counterType)
}

func identityFilter(tenantID string, identity map[string]string) bson.M {
	filter := bson.M{"tenant_id": tenantID}
	for k, v := range identity {
		filter[k] = v
	}
	return filter
}

// Apply 见 Ops。钳零是刻意的：乱序投递下减量先到不能把计数打负，
// 真值交给重算任务找回。
func (s *Store) Apply(ctx context.Context, m Mutation) (int64, int64, error) {
	now := time.Now()
	update := mongo.Pipeline{
		{{Key: "$set", Value: bson.M{
			m.Field: bson.M{"$max": bson.A{0, bson.M{"$add": bson.A{
				bson.M{"$ifNull": bson.A{"$" + m.Field, 0}}, m.Delta,
			}}}},
			"last_updated_at": now,
			"created_at":      bson.M{"$ifNull": bson.A{"$created_at", now}},
		}}},
	}
	old, err := s.mutate(ctx, m, update)
	if err != nil {
		return 0, 0, err
	}
	newValue := old + m.Delta
	if newValue < 0 {
		newValue = 0
	}

	op := model.OpIncrement
	if m.Delta < 0 {
		op = model.OpDecrement
	}
	s.writeHistory(ctx, m, old, newValue, op)
	return old, newValue, nil
}

// SetValue 见 Ops
func (s *Store) SetValue(ctx context.Context, m Mutation, value int64, op string) (int64, int64, error) {
	if value < 0 {
		value = 0
	}
	now := time.Now()
	update := mongo.Pipeline{
		{{Key: "$set", Value: bson.M{
			m.Field:           value,
			"last_updated_at": now,
			"created_at":      bson.M{"$ifNull": bson.A{"$created_at", now}},
		}}},
	}
	old, err := s.mutate(ctx, m, update)
	if err != nil {
		return 0, 0, err
	}
	s.writeHistory(ctx, m, old, value, op)
	return old, value, nil
}

// mutate 跑一次 upsert 式 FindOneAndUpdate，返回变更前的字段值
func (s *Store) mutate(ctx context.Context, m Mutation, update mongo.Pipeline) (int64, error) {
	opts := options.FindOneAndUpdate().
		SetUpsert(true).
		SetReturnDocument(options.Before)

	var before bson.M
	err := s.coll(m.CounterType).
		FindOneAndUpdate(ctx, identityFilter(m.TenantID, m.Identity), update, opts).
		Decode(&before)
	if err == mongo.ErrNoDocuments {
		// upsert 插入了新记录，旧值视为 0
		return 0, nil
	}
	if err != nil {
		return 0, errs.ErrTransientStorage.WrapMsg("counter mutate failed",
			"counter_type", m.CounterType, "field", m.Field, "err", err)
	}
	return toInt64(before[m.Field]), nil
}

// writeHistory 审计行写失败只记日志：计数已经生效，不回滚不重试
func (s *Store) writeHistory(ctx context.Context, m Mutation, oldValue, newValue int64, op string) {
	row := model.CounterHistory{
		TenantID:        m.TenantID,
		CounterType:     m.CounterType,
		EntityType:      m.EntityType,
		EntityID:        m.EntityID,
		Field:           m.Field,
		OldValue:        oldValue,
		NewValue:        newValue,
		Delta:           newValue - oldValue,
		Operation:       op,
		SourceOperation: m.Source.Operation,
		SourceEntityID:  m.Source.EntityID,
		ActorID:         m.Source.ActorID,
		ActorType:       m.Source.ActorType,
		CreatedAt:       time.Now(),
	}
	if _, err := s.db.Collection((&model.CounterHistory{}).GetTableName()).InsertOne(ctx, row); err != nil {
		logger.Errorf("counter history write failed | counter=%s field=%s source=%s: %v",
			m.CounterType, m.Field, m.Source.EntityID, err)
	}
}

// Get 见 Ops
func (s *Store) Get(ctx context.Context, counterType, tenantID string, identity map[string]string, field string) (int64, error) {
	var doc bson.M
	err := s.coll(counterType).
		FindOne(ctx, identityFilter(tenantID, identity)).
		Decode(&doc)
	if err == mongo.ErrNoDocuments {
		return 0, nil
	}
	if err != nil {
		return 0, errs.ErrTransientStorage.WrapMsg("counter read failed",
			"counter_type", counterType, "err", err)
	}
	return toInt64(doc[field]), nil
}

// SumTopicUnread 见 Ops
func (s *Store) SumTopicUnread(ctx context.Context, tenantID, userID, dialogID string) (int64, error) {
	cur, err := s.coll(model.CounterTopicUserUnread).Aggregate(ctx, mongo.Pipeline{
		{{Key: "$match", Value: bson.M{
			"tenant_id": tenantID,
			"user_id":   userID,
			"dialog_id": dialogID,
		}}},
		{{Key: "$group", Value: bson.M{
			"_id":   nil,
			"total": bson.M{"$sum": "$unread"},
		}}},
	})
	if err != nil {
		return 0, errs.ErrTransientStorage.WrapMsg("topic unread sum failed", "err", err)
	}
	defer cur.Close(ctx)
	if cur.Next(ctx) {
		var row struct {
			Total int64 `bson:"total"`
		}
		if err := cur.Decode(&row); err != nil {
			return 0, errs.Wrap(err)
		}
		return row.Total, nil
	}
	return 0, errs.Wrap(cur.Err())
}

// RecomputeUserRollups 见 Ops。单个计数器可能双向穿越 0，
// 上卷必须整体重算而不是盲目加减。
func (s *Store) RecomputeUserRollups(ctx context.Context, tenantID, userID string, src Source) error {
	cur, err := s.coll(model.CounterDialogUserUnread).Aggregate(ctx, mongo.Pipeline{
		{{Key: "$match", Value: bson.M{
			"tenant_id": tenantID,
			"user_id":   userID,
		}}},
		{{Key: "$group", Value: bson.M{
			"_id":    nil,
			"total":  bson.M{"$sum": "$unread"},
			"unread": bson.M{"$sum": bson.M{"$cond": bson.A{bson.M{"$gt": bson.A{"$unread", 0}}, 1, 0}}},
		}}},
	})
	if err != nil {
		return errs.ErrTransientStorage.WrapMsg("user rollup aggregate failed", "err", err)
	}
	defer cur.Close(ctx)

	var total, unreadDialogs int64
	if cur.Next(ctx) {
		var row struct {
			Total  int64 `bson:"total"`
			Unread int64 `bson:"unread"`
		}
		if err := cur.Decode(&row); err != nil {
			return errs.Wrap(err)
		}
		total, unreadDialogs = row.Total, row.Unread
	} else if err := cur.Err(); err != nil {
		return errs.Wrap(err)
	}

	base := Mutation{
		TenantID:    tenantID,
		CounterType: model.CounterUserStats,
		EntityType:  "user",
		EntityID:    userID,
		Identity:    map[string]string{"user_id": userID},
		Source:      src,
	}
	m := base
	m.Field = model.FieldUnreadDialogCount
	if _, _, err := s.SetValue(ctx, m, unreadDialogs, model.OpComputed); err != nil {
		return err
	}
	m = base
	m.Field = model.FieldUnreadTotal
	_, _, err = s.SetValue(ctx, m, total, model.OpComputed)
	return err
}

func toInt64(v any) int64 {
	switch n := v.(type) {
	case int64:
		return n
	case int32:
		return int64(n)
	case int:
		return int64(n)
	case float64:
		return int64(n)
	default:
		return 0
	}
}

// identityKeys 各族的唯一索引键序
var identityKeys = map[string][]string{
	model.CounterDialogStats:         {"dialog_id"},
	model.CounterDialogUserUnread:    {"user_id", "dialog_id"},
	model.CounterTopicUserUnread:     {"user_id", "dialog_id", "topic_id"},
	model.CounterUserStats:           {"user_id"},
	model.CounterMessageReactionStat: {"message_id", "reaction"},
	model.CounterMessageStatusStat:   {"message_id", "status"},
	model.CounterPackStats:           {"pack_id"},
	model.CounterPackUserUnread:      {"user_id", "pack_id"},
}

// EnsureIndexes 建各族唯一身份索引、审计表 TTL（90天滚动）与时间序索引
func (s *Store) EnsureIndexes(ctx context.Context) error {
	families := make([]string, 0, len(identityKeys))
	for family := range identityKeys {
		families = append(families, family)
	}
	sort.Strings(families)

	for _, family := range families {
		keys := bson.D{{Key: "tenant_id", Value: 1}}
		for _, k := range identityKeys[family] {
			keys = append(keys, bson.E{Key: k, Value: 1})
		}
		_, err := s.coll(family).Indexes().CreateOne(ctx, mongo.IndexModel{
			Keys:    keys,
			Options: options.Index().SetUnique(true).SetName("uniq_identity"),
		})
		if err != nil {
			return errs.WrapMsg(err, "create identity index", "family", family)
		}
	}

	hist := s.db.Collection((&model.CounterHistory{}).GetTableName())
	_, err := hist.Indexes().CreateMany(ctx, []mongo.IndexModel{
		{
			Keys: bson.D{{Key: "created_at", Value: 1}},
			Options: options.Index().
				SetExpireAfterSeconds(int32(model.HistoryRetention / time.Second)).
				SetName("ttl_created_at"),
		},
		{
			Keys: bson.D{
				{Key: "tenant_id", Value: 1},
				{Key: "created_at", Value: -1},
			},
			Options: options.Index().SetName("tenant_time"),
		},
	})
	return errs.Wrap(err)
}
