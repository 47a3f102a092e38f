package readtask

import (
	"context"
	"time"

	"PulseChat/logger"
	chat "PulseChat/module/chat/model"
	cmodel "PulseChat/module/counter/model"
	cstore "PulseChat/module/counter/store"
	"PulseChat/tools/errs"

	"go.uber.org/zap"
)

// 批量已读：客户端"一键已读"走这里而不是逐条 message.status.update。
// 任务异步消化，消息主档按批回填 read，计数器在末尾一次性归位。

const defaultBatchSize = 500

// Tasks 任务存储。Enqueue 对同一 (tenant,user,dialog) 的 pending 任务
// 做合并：up_to_ms 取大，request_count 累加。
type Tasks interface {
	Enqueue(ctx context.Context, tenantID, userID, dialogID string, upToMS int64) (string, error)
	Claim(ctx context.Context) (*cmodel.DialogReadTask, error) // 没有任务返回 nil
	Progress(ctx context.Context, task *cmodel.DialogReadTask, lastID string) error
	Finish(ctx context.Context, taskID, status, errMsg string) error
}

// Archive 消息主档视图：扫未读、回填 read、按余量重数
type Archive interface {
	ListUnreadBefore(ctx context.Context, tenantID, dialogID, userID string, upToMS int64, afterID string, limit int64) ([]chat.Message, error)
	MarkRead(ctx context.Context, tenantID string, messageIDs []string, userID string) (int64, error)
	CountUnread(ctx context.Context, tenantID, dialogID, topicID, userID string) (int64, error)
	PackOf(ctx context.Context, tenantID, dialogID string) (string, error) // 会话不归组返回 ""
	ListIDsByPack(ctx context.Context, tenantID, packID string) ([]string, error)
}

// Runner 读任务执行器，多实例安全：认领即状态位抢占
type Runner struct {
	counters  cstore.Ops
	tasks     Tasks
	archive   Archive
	batchSize int64
}

func NewRunner(counters cstore.Ops, tasks Tasks, archive Archive) *Runner {
	return &Runner{counters: counters, tasks: tasks, archive: archive, batchSize: defaultBatchSize}
}

// Run 轮询消化任务直到 ctx 取消
func (r *Runner) Run(ctx context.Context, idle time.Duration) {
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}
		processed, err := r.ProcessNext(ctx)
		if err != nil {
			logger.Errorf("read task runner: %v", err)
		}
		if !processed {
			select {
			case <-ctx.Done():
				return
			case <-time.After(idle):
			}
		}
	}
}

// ProcessNext 认领并处理最老的 pending 任务。没有任务返回 false。
func (r *Runner) ProcessNext(ctx context.Context) (bool, error) {
	task, err := r.tasks.Claim(ctx)
	if err != nil {
		return false, err
	}
	if task == nil {
		return false, nil
	}

	if err := r.process(ctx, task); err != nil {
		r.finish(ctx, task, cmodel.TaskFailed, err.Error())
		return true, err
	}
	r.finish(ctx, task, cmodel.TaskCompleted, "")
	return true, nil
}

// process 按批扫未读、回填 read、维护状态桶，末尾归位计数器
func (r *Runner) process(ctx context.Context, task *cmodel.DialogReadTask) error {
	src := cstore.Source{
		Operation: "dialog.read_task",
		EntityID:  task.TaskID,
		ActorID:   task.UserID,
		ActorType: "user",
	}

	topicsTouched := map[string]struct{}{}
	afterID := task.LastProcessedMessageID
	for {
		batch, err := r.archive.ListUnreadBefore(ctx, task.TenantID, task.DialogID, task.UserID,
			task.UpToMS, afterID, r.batchSize)
		if err != nil {
			return errs.ErrTransientStorage.WrapMsg("unread scan failed", "task_id", task.TaskID, "err", err)
		}
		if len(batch) == 0 {
			break
		}

		messageIDs := make([]string, 0, len(batch))
		for _, m := range batch {
			messageIDs = append(messageIDs, m.MessageID)
		}
		if _, err := r.archive.MarkRead(ctx, task.TenantID, messageIDs, task.UserID); err != nil {
			return errs.ErrTransientStorage.WrapMsg("mark read failed", "task_id", task.TaskID, "err", err)
		}

		// 状态桶：每条消息 read +1，原状态桶 -1
		for _, m := range batch {
			if _, _, err := r.counters.Apply(ctx, cstore.StatusMut(
				task.TenantID, m.MessageID, "read", +1, src)); err != nil {
				return err
			}
			if old := m.StatusByUser[task.UserID]; old != "" && old != "read" {
				if _, _, err := r.counters.Apply(ctx, cstore.StatusMut(
					task.TenantID, m.MessageID, old, -1, src)); err != nil {
					return err
				}
			}
			if m.TopicID != "" {
				topicsTouched[m.TopicID] = struct{}{}
			}
		}

		afterID = batch[len(batch)-1].MessageID
		task.ProcessedCount += int64(len(batch))
		if err := r.tasks.Progress(ctx, task, afterID); err != nil {
			logger.Warnf("read task progress write failed | task_id=%s: %v", task.TaskID, err)
		}

		if int64(len(batch)) < r.batchSize {
			break
		}
	}

	return r.settleCounters(ctx, task, topicsTouched, src)
}

// settleCounters 回填完成后按主档余量归位未读计数。
// up_to_ms 之后可能又进了新消息，所以是重数而不是清零。
func (r *Runner) settleCounters(ctx context.Context, task *cmodel.DialogReadTask, topics map[string]struct{}, src cstore.Source) error {
	for topicID := range topics {
		n, err := r.archive.CountUnread(ctx, task.TenantID, task.DialogID, topicID, task.UserID)
		if err != nil {
			return errs.ErrTransientStorage.WrapMsg("topic unread recount failed", "err", err)
		}
		m := cstore.TopicUnreadMut(task.TenantID, task.UserID, task.DialogID, topicID, 0, src)
		if _, _, err := r.counters.SetValue(ctx, m, n, cmodel.OpReset); err != nil {
			return err
		}
	}

	remaining, err := r.archive.CountUnread(ctx, task.TenantID, task.DialogID, "", task.UserID)
	if err != nil {
		return errs.ErrTransientStorage.WrapMsg("unread recount failed", "err", err)
	}
	m := cstore.DialogUnreadMut(task.TenantID, task.UserID, task.DialogID, 0, src)
	if _, _, err := r.counters.SetValue(ctx, m, remaining, cmodel.OpReset); err != nil {
		return err
	}

	if err := r.settlePackUnread(ctx, task, src); err != nil {
		return err
	}
	return r.counters.RecomputeUserRollups(ctx, task.TenantID, task.UserID, src)
}

// settlePackUnread 会话归属分组时，组未读 = 组内各会话未读求和
func (r *Runner) settlePackUnread(ctx context.Context, task *cmodel.DialogReadTask, src cstore.Source) error {
	packID, err := r.archive.PackOf(ctx, task.TenantID, task.DialogID)
	if err != nil {
		return errs.ErrTransientStorage.WrapMsg("dialog read failed", "err", err)
	}
	if packID == "" {
		return nil
	}

	dialogIDs, err := r.archive.ListIDsByPack(ctx, task.TenantID, packID)
	if err != nil {
		return errs.ErrTransientStorage.WrapMsg("pack dialog list failed", "err", err)
	}
	var total int64
	for _, id := range dialogIDs {
		n, err := r.counters.Get(ctx, cmodel.CounterDialogUserUnread, task.TenantID,
			map[string]string{"user_id": task.UserID, "dialog_id": id}, cmodel.FieldUnread)
		if err != nil {
			return err
		}
		total += n
	}
	m := cstore.PackUnreadMut(task.TenantID, task.UserID, packID, 0, src)
	_, _, err = r.counters.SetValue(ctx, m, total, cmodel.OpReset)
	return err
}

func (r *Runner) finish(ctx context.Context, task *cmodel.DialogReadTask, status, errMsg string) {
	log := logger.With(zap.String("task_id", task.TaskID),
		zap.String("dialog_id", task.DialogID), zap.String("user_id", task.UserID))
	if err := r.tasks.Finish(ctx, task.TaskID, status, errMsg); err != nil {
		log.Error("read task finish write failed", zap.String("status", status), zap.Error(err))
	}
	log.Info("read task "+status, zap.Int64("processed", task.ProcessedCount))
}
