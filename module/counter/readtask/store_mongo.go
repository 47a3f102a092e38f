package readtask

import (
	"context"
	"time"

	chat "PulseChat/module/chat/model"
	cmodel "PulseChat/module/counter/model"
	"PulseChat/tools/errs"
	"PulseChat/tools/ids"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// MongoTasks 任务表的线上实现。合并与认领都压成单条 FindOneAndUpdate，
// 多实例并发安全交给 partial 唯一索引和状态位抢占。
type MongoTasks struct{}

func NewMongoTasks() *MongoTasks { return &MongoTasks{} }

func (*MongoTasks) Enqueue(ctx context.Context, tenantID, userID, dialogID string, upToMS int64) (string, error) {
	if tenantID == "" || userID == "" || dialogID == "" {
		return "", errs.ErrValidation.WrapMsg("read task requires tenant_id, user_id and dialog_id")
	}
	if upToMS <= 0 {
		upToMS = time.Now().UnixMilli()
	}

	now := time.Now()
	filter := bson.M{
		"tenant_id": tenantID,
		"user_id":   userID,
		"dialog_id": dialogID,
		"status":    cmodel.TaskPending,
	}
	update := bson.M{
		"$inc": bson.M{"request_count": 1},
		"$max": bson.M{"up_to_ms": upToMS},
		"$set": bson.M{"updated_at": now},
		"$setOnInsert": bson.M{
			"task_id":         ids.GenerateString(),
			"tenant_id":       tenantID,
			"user_id":         userID,
			"dialog_id":       dialogID,
			"status":          cmodel.TaskPending,
			"processed_count": int64(0),
			"created_at":      now,
		},
	}
	opts := options.FindOneAndUpdate().
		SetUpsert(true).
		SetReturnDocument(options.After)

	var task cmodel.DialogReadTask
	err := (&cmodel.DialogReadTask{}).Collection().
		FindOneAndUpdate(ctx, filter, update, opts).
		Decode(&task)
	if err != nil {
		return "", errs.ErrTransientStorage.WrapMsg("read task enqueue failed",
			"dialog_id", dialogID, "user_id", userID, "err", err)
	}
	return task.TaskID, nil
}

func (*MongoTasks) Claim(ctx context.Context) (*cmodel.DialogReadTask, error) {
	opts := options.FindOneAndUpdate().
		SetSort(bson.D{{Key: "created_at", Value: 1}}).
		SetReturnDocument(options.After)

	var task cmodel.DialogReadTask
	err := (&cmodel.DialogReadTask{}).Collection().
		FindOneAndUpdate(ctx,
			bson.M{"status": cmodel.TaskPending},
			bson.M{"$set": bson.M{"status": cmodel.TaskRunning, "updated_at": time.Now()}},
			opts).
		Decode(&task)
	if err == mongo.ErrNoDocuments {
		return nil, nil
	}
	if err != nil {
		return nil, errs.ErrTransientStorage.WrapMsg("read task claim failed", "err", err)
	}
	return &task, nil
}

// Progress 批间持久化游标，任务崩溃后从断点续扫
func (*MongoTasks) Progress(ctx context.Context, task *cmodel.DialogReadTask, lastID string) error {
	_, err := task.Collection().UpdateOne(ctx,
		bson.M{"task_id": task.TaskID},
		bson.M{"$set": bson.M{
			"processed_count":           task.ProcessedCount,
			"last_processed_message_id": lastID,
			"updated_at":                time.Now(),
		}})
	return errs.Wrap(err)
}

func (*MongoTasks) Finish(ctx context.Context, taskID, status, errMsg string) error {
	set := bson.M{"status": status, "updated_at": time.Now()}
	if errMsg != "" {
		set["error"] = errMsg
	}
	_, err := (&cmodel.DialogReadTask{}).Collection().UpdateOne(ctx,
		bson.M{"task_id": taskID},
		bson.M{"$set": set})
	return errs.Wrap(err)
}

// MongoArchive 消息主档的线上实现，直接走 chat 模型
type MongoArchive struct{}

func NewMongoArchive() *MongoArchive { return &MongoArchive{} }

func (*MongoArchive) ListUnreadBefore(ctx context.Context, tenantID, dialogID, userID string, upToMS int64, afterID string, limit int64) ([]chat.Message, error) {
	return (&chat.Message{}).ListUnreadBefore(ctx, tenantID, dialogID, userID, upToMS, afterID, limit)
}

func (*MongoArchive) MarkRead(ctx context.Context, tenantID string, messageIDs []string, userID string) (int64, error) {
	return (&chat.Message{}).MarkRead(ctx, tenantID, messageIDs, userID)
}

func (*MongoArchive) CountUnread(ctx context.Context, tenantID, dialogID, topicID, userID string) (int64, error) {
	return (&chat.Message{}).CountUnread(ctx, tenantID, dialogID, topicID, userID)
}

func (*MongoArchive) PackOf(ctx context.Context, tenantID, dialogID string) (string, error) {
	dialog, err := (&chat.Dialog{}).Get(ctx, tenantID, dialogID)
	if err == mongo.ErrNoDocuments {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	return dialog.PackID, nil
}

func (*MongoArchive) ListIDsByPack(ctx context.Context, tenantID, packID string) ([]string, error) {
	return (&chat.Dialog{}).ListIDsByPack(ctx, tenantID, packID)
}

// EnsureIndexes pending 任务的合并键唯一索引（partial）+ 认领扫描索引
func EnsureIndexes(ctx context.Context) error {
	coll := (&cmodel.DialogReadTask{}).Collection()
	_, err := coll.Indexes().CreateMany(ctx, []mongo.IndexModel{
		{
			Keys: bson.D{
				{Key: "tenant_id", Value: 1},
				{Key: "user_id", Value: 1},
				{Key: "dialog_id", Value: 1},
			},
			Options: options.Index().
				SetUnique(true).
				SetPartialFilterExpression(bson.M{"status": cmodel.TaskPending}).
				SetName("uniq_pending"),
		},
		{
			Keys:    bson.D{{Key: "status", Value: 1}, {Key: "created_at", Value: 1}},
			Options: options.Index().SetName("status_created"),
		},
		{
			Keys:    bson.D{{Key: "task_id", Value: 1}},
			Options: options.Index().SetUnique(true).SetName("uniq_task_id"),
		},
	})
	return errs.Wrap(err)
}
