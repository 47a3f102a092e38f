package recalc

import (
	"context"
	"fmt"
	"sort"
	"time"

	"PulseChat/logger"
	cmodel "PulseChat/module/counter/model"
	cstore "PulseChat/module/counter/store"
	"PulseChat/tools/errs"
)

// 重算任务：从主档（消息、成员、会话）全量重导计数器真值，
// 用绝对写覆盖增量维护中积累的漂移。任务可重复执行，结果收敛。

// 任务名即管理接口里的 job 参数
const (
	JobDialogStats      = "dialog_stats"
	JobDialogUserUnread = "dialog_user_unread"
	JobUserStats        = "user_stats"
	JobPackStats        = "pack_stats"
	JobPackUserUnread   = "pack_user_unread"
)

// Scope 一次重算的作用范围。各任务要求的字段见各自实现。
type Scope struct {
	TenantID string `json:"tenant_id"`
	DialogID string `json:"dialog_id,omitempty"`
	UserID   string `json:"user_id,omitempty"`
	PackID   string `json:"pack_id,omitempty"`
}

// Source 重算所需的主档读取口径。Mongo 实现走 chat 模型，
// 测试用内存实现。
type Source interface {
	MemberIDs(ctx context.Context, tenantID, dialogID string) ([]string, error)
	MemberCount(ctx context.Context, tenantID, dialogID string) (int64, error)
	MessageCount(ctx context.Context, tenantID, dialogID string) (int64, error)
	TopicCount(ctx context.Context, tenantID, dialogID string) (int64, error)
	TopicIDs(ctx context.Context, tenantID, dialogID string) ([]string, error)
	UnreadCount(ctx context.Context, tenantID, dialogID, topicID, userID string) (int64, error)
	DialogCountByUser(ctx context.Context, tenantID, userID string) (int64, error)
	DialogIDsByPack(ctx context.Context, tenantID, packID string) ([]string, error)
}

type jobFunc func(ctx context.Context, scope Scope) error

// Runner 任务注册表 + 执行器
type Runner struct {
	counters cstore.Ops
	src      Source
	jobs     map[string]jobFunc
}

func NewRunner(counters cstore.Ops, src Source) *Runner {
	r := &Runner{counters: counters, src: src}
	r.jobs = map[string]jobFunc{
		JobDialogStats:      r.recalcDialogStats,
		JobDialogUserUnread: r.recalcDialogUserUnread,
		JobUserStats:        r.recalcUserStats,
		JobPackStats:        r.recalcPackStats,
		JobPackUserUnread:   r.recalcPackUserUnread,
	}
	return r
}

// JobNames 已注册任务名（管理接口展示用）
func (r *Runner) JobNames() []string {
	names := make([]string, 0, len(r.jobs))
	for name := range r.jobs {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Run 执行一个重算任务。未知任务名与缺失范围字段都算校验错误。
func (r *Runner) Run(ctx context.Context, jobName string, scope Scope) error {
	job, ok := r.jobs[jobName]
	if !ok {
		return errs.ErrValidation.WrapMsg("unknown recalculation job", "job", jobName)
	}
	if scope.TenantID == "" {
		return errs.ErrValidation.WrapMsg("recalculation scope missing tenant_id", "job", jobName)
	}

	start := time.Now()
	if err := job(ctx, scope); err != nil {
		logger.Errorf("recalc job failed | job=%s tenant=%s: %v", jobName, scope.TenantID, err)
		return err
	}
	logger.Infof("recalc job done | job=%s tenant=%s cost=%s", jobName, scope.TenantID, time.Since(start))
	return nil
}

func (r *Runner) src3(scope Scope) cstore.Source {
	return cstore.Source{
		Operation: "recalc",
		EntityID:  fmt.Sprintf("recalc:%s", scope.TenantID),
		ActorType: "system",
	}
}

// recalcDialogStats member_count / message_count / topic_count
func (r *Runner) recalcDialogStats(ctx context.Context, scope Scope) error {
	if scope.DialogID == "" {
		return errs.ErrValidation.WrapMsg("dialog_stats recalc requires dialog_id")
	}
	src := r.src3(scope)

	members, err := r.src.MemberCount(ctx, scope.TenantID, scope.DialogID)
	if err != nil {
		return errs.ErrTransientStorage.WrapMsg("member count read failed", "err", err)
	}
	messages, err := r.src.MessageCount(ctx, scope.TenantID, scope.DialogID)
	if err != nil {
		return errs.ErrTransientStorage.WrapMsg("message count read failed", "err", err)
	}
	topics, err := r.src.TopicCount(ctx, scope.TenantID, scope.DialogID)
	if err != nil {
		return errs.ErrTransientStorage.WrapMsg("topic count read failed", "err", err)
	}

	for field, value := range map[string]int64{
		cmodel.FieldMemberCount:  members,
		cmodel.FieldMessageCount: messages,
		cmodel.FieldTopicCount:   topics,
	} {
		m := cstore.DialogStatMut(scope.TenantID, scope.DialogID, field, 0, src)
		if _, _, err := r.counters.SetValue(ctx, m, value, cmodel.OpComputed); err != nil {
			return err
		}
	}
	return nil
}

// recalcDialogUserUnread 指定用户（缺省全员）的会话未读重算。
// 有话题的会话先逐话题重导 topic_user_unread，再用话题求和口径
// 定会话未读；无话题直接数主档。最后重算用户上卷。
func (r *Runner) recalcDialogUserUnread(ctx context.Context, scope Scope) error {
	if scope.DialogID == "" {
		return errs.ErrValidation.WrapMsg("dialog_user_unread recalc requires dialog_id")
	}
	src := r.src3(scope)

	users := []string{scope.UserID}
	if scope.UserID == "" {
		members, err := r.src.MemberIDs(ctx, scope.TenantID, scope.DialogID)
		if err != nil {
			return errs.ErrTransientStorage.WrapMsg("member list read failed", "err", err)
		}
		users = members
	}
	topics, err := r.src.TopicIDs(ctx, scope.TenantID, scope.DialogID)
	if err != nil {
		return errs.ErrTransientStorage.WrapMsg("topic list read failed", "err", err)
	}

	for _, uid := range users {
		var unread int64
		if len(topics) > 0 {
			for _, topicID := range topics {
				n, err := r.src.UnreadCount(ctx, scope.TenantID, scope.DialogID, topicID, uid)
				if err != nil {
					return errs.ErrTransientStorage.WrapMsg("unread count read failed", "err", err)
				}
				m := cstore.TopicUnreadMut(scope.TenantID, uid, scope.DialogID, topicID, 0, src)
				if _, _, err := r.counters.SetValue(ctx, m, n, cmodel.OpComputed); err != nil {
					return err
				}
			}
			unread, err = r.counters.SumTopicUnread(ctx, scope.TenantID, uid, scope.DialogID)
			if err != nil {
				return err
			}
		} else {
			unread, err = r.src.UnreadCount(ctx, scope.TenantID, scope.DialogID, "", uid)
			if err != nil {
				return errs.ErrTransientStorage.WrapMsg("unread count read failed", "err", err)
			}
		}

		m := cstore.DialogUnreadMut(scope.TenantID, uid, scope.DialogID, 0, src)
		if _, _, err := r.counters.SetValue(ctx, m, unread, cmodel.OpComputed); err != nil {
			return err
		}
		if err := r.counters.RecomputeUserRollups(ctx, scope.TenantID, uid, src); err != nil {
			return err
		}
	}
	return nil
}

// recalcUserStats dialog_count 从名册重导，未读上卷从
// dialog_user_unread 重导。messages_sent 只增不减，不在重算口径内。
func (r *Runner) recalcUserStats(ctx context.Context, scope Scope) error {
	if scope.UserID == "" {
		return errs.ErrValidation.WrapMsg("user_stats recalc requires user_id")
	}
	src := r.src3(scope)

	dialogs, err := r.src.DialogCountByUser(ctx, scope.TenantID, scope.UserID)
	if err != nil {
		return errs.ErrTransientStorage.WrapMsg("dialog count read failed", "err", err)
	}
	m := cstore.UserStatMut(scope.TenantID, scope.UserID, cmodel.FieldDialogCount, 0, src)
	if _, _, err := r.counters.SetValue(ctx, m, dialogs, cmodel.OpComputed); err != nil {
		return err
	}
	return r.counters.RecomputeUserRollups(ctx, scope.TenantID, scope.UserID, src)
}

// recalcPackStats 分组统计 = 组内各会话统计之和
func (r *Runner) recalcPackStats(ctx context.Context, scope Scope) error {
	if scope.PackID == "" {
		return errs.ErrValidation.WrapMsg("pack_stats recalc requires pack_id")
	}
	src := r.src3(scope)

	dialogIDs, err := r.src.DialogIDsByPack(ctx, scope.TenantID, scope.PackID)
	if err != nil {
		return errs.ErrTransientStorage.WrapMsg("pack dialog list read failed", "err", err)
	}

	var members, messages int64
	for _, dialogID := range dialogIDs {
		n, err := r.src.MemberCount(ctx, scope.TenantID, dialogID)
		if err != nil {
			return errs.ErrTransientStorage.WrapMsg("member count read failed", "err", err)
		}
		members += n
		n, err = r.src.MessageCount(ctx, scope.TenantID, dialogID)
		if err != nil {
			return errs.ErrTransientStorage.WrapMsg("message count read failed", "err", err)
		}
		messages += n
	}

	for field, value := range map[string]int64{
		cmodel.FieldMemberCount:  members,
		cmodel.FieldMessageCount: messages,
	} {
		m := cstore.PackStatMut(scope.TenantID, scope.PackID, field, 0, src)
		if _, _, err := r.counters.SetValue(ctx, m, value, cmodel.OpComputed); err != nil {
			return err
		}
	}
	return nil
}

// recalcPackUserUnread 用户在分组内的未读 = 组内各会话未读之和。
// 以 dialog_user_unread 为准，要求先跑过会话级重算。
func (r *Runner) recalcPackUserUnread(ctx context.Context, scope Scope) error {
	if scope.PackID == "" || scope.UserID == "" {
		return errs.ErrValidation.WrapMsg("pack_user_unread recalc requires pack_id and user_id")
	}
	src := r.src3(scope)

	dialogIDs, err := r.src.DialogIDsByPack(ctx, scope.TenantID, scope.PackID)
	if err != nil {
		return errs.ErrTransientStorage.WrapMsg("pack dialog list read failed", "err", err)
	}

	var total int64
	for _, dialogID := range dialogIDs {
		n, err := r.counters.Get(ctx, cmodel.CounterDialogUserUnread, scope.TenantID,
			map[string]string{"user_id": scope.UserID, "dialog_id": dialogID}, cmodel.FieldUnread)
		if err != nil {
			return err
		}
		total += n
	}

	m := cstore.PackUnreadMut(scope.TenantID, scope.UserID, scope.PackID, 0, src)
	_, _, err = r.counters.SetValue(ctx, m, total, cmodel.OpComputed)
	return err
}
