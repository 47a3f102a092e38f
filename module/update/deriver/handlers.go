package deriver

import (
	"context"

	cmodel "PulseChat/module/counter/model"
	cstore "PulseChat/module/counter/store"
	"PulseChat/tools/errs"
)

// onDialogScoped dialog.create / dialog.update / dialog.delete：
// 全员扇出，不动计数（会话级统计由成员和消息事件维护）
func (d *Deriver) onDialogScoped(ctx context.Context, x *derivation) error {
	p := x.payload.Dialog
	if p.DialogID == "" {
		return errs.ErrValidation.WrapMsg("dialog payload missing dialog_id", "event_id", x.ev.EventID)
	}
	members, err := x.memberIDs(ctx, p.DialogID)
	if err != nil {
		return err
	}
	for _, uid := range members {
		if err := x.emit(ctx, uid, p.DialogID, nil); err != nil {
			return err
		}
	}
	return nil
}

// onMemberAdd dialog.member.add：成员数 +1、该用户会话数 +1、
// 归属分组的成员数 +1，然后通知现有全员（含新成员）
func (d *Deriver) onMemberAdd(ctx context.Context, x *derivation) error {
	p := x.payload.DialogMember
	if p.DialogID == "" || p.UserID == "" {
		return errs.ErrValidation.WrapMsg("member payload incomplete", "event_id", x.ev.EventID)
	}

	if _, _, err := x.apply(ctx, cstore.DialogStatMut(
		x.ev.TenantID, p.DialogID, cmodel.FieldMemberCount, +1, x.src)); err != nil {
		return err
	}
	if _, _, err := x.apply(ctx, cstore.UserStatMut(
		x.ev.TenantID, p.UserID, cmodel.FieldDialogCount, +1, x.src)); err != nil {
		return err
	}
	if p.PackID != "" {
		if _, _, err := x.apply(ctx, cstore.PackStatMut(
			x.ev.TenantID, p.PackID, cmodel.FieldMemberCount, +1, x.src)); err != nil {
			return err
		}
	}
	return d.fanOutDialog(ctx, x, p.DialogID)
}

// onMemberRemove dialog.member.remove：add 的逆操作。
// 被移除成员也收一条 Update，这样其客户端才能摘掉会话。
func (d *Deriver) onMemberRemove(ctx context.Context, x *derivation) error {
	p := x.payload.DialogMember
	if p.DialogID == "" || p.UserID == "" {
		return errs.ErrValidation.WrapMsg("member payload incomplete", "event_id", x.ev.EventID)
	}

	if _, _, err := x.apply(ctx, cstore.DialogStatMut(
		x.ev.TenantID, p.DialogID, cmodel.FieldMemberCount, -1, x.src)); err != nil {
		return err
	}
	if _, _, err := x.apply(ctx, cstore.UserStatMut(
		x.ev.TenantID, p.UserID, cmodel.FieldDialogCount, -1, x.src)); err != nil {
		return err
	}
	if p.PackID != "" {
		if _, _, err := x.apply(ctx, cstore.PackStatMut(
			x.ev.TenantID, p.PackID, cmodel.FieldMemberCount, -1, x.src)); err != nil {
			return err
		}
	}

	members, err := x.memberIDs(ctx, p.DialogID)
	if err != nil {
		return err
	}
	seen := false
	for _, uid := range members {
		if uid == p.UserID {
			seen = true
		}
		if err := x.emit(ctx, uid, p.DialogID, nil); err != nil {
			return err
		}
	}
	if !seen {
		// 名册通常已不含被移除成员
		if err := x.emit(ctx, p.UserID, p.DialogID, nil); err != nil {
			return err
		}
	}
	return nil
}

// onMemberUpdate dialog.member.update：成员级设置（免打扰、未读快照等）
// 只发给该成员本人。负载声明未读变了就重算其上卷，单条会话未读
// 可能双向穿越 0，盲目加减会漂。
func (d *Deriver) onMemberUpdate(ctx context.Context, x *derivation) error {
	p := x.payload.DialogMember
	if p.DialogID == "" || p.UserID == "" {
		return errs.ErrValidation.WrapMsg("member payload incomplete", "event_id", x.ev.EventID)
	}

	if p.Context.HasUpdatedField("unread") {
		m := cstore.DialogUnreadMut(x.ev.TenantID, p.UserID, p.DialogID, 0, x.src)
		if err := x.set(ctx, m, p.Unread, cmodel.OpSet); err != nil {
			return err
		}
		if err := d.counters.RecomputeUserRollups(ctx, x.ev.TenantID, p.UserID, x.src); err != nil {
			return err
		}
		x.mutations += 2 // 两条上卷字段的 computed 写
	}
	return x.emit(ctx, p.UserID, p.DialogID, nil)
}

// onTyping dialog.typing：瞬态，全员（除发起者）投递，不落库不计数
func (d *Deriver) onTyping(ctx context.Context, x *derivation) error {
	p := x.payload.Typing
	if p.DialogID == "" {
		return errs.ErrValidation.WrapMsg("typing payload missing dialog_id", "event_id", x.ev.EventID)
	}
	members, err := x.memberIDs(ctx, p.DialogID)
	if err != nil {
		return err
	}
	for _, uid := range members {
		if uid == p.UserID {
			continue
		}
		x.emitEphemeral(ctx, uid, p.DialogID, nil)
	}
	return nil
}

// onMessageCreate message.create：最重的派生。
// 每个非发送者成员：会话未读 +1（话题消息再给话题未读 +1、分组未读 +1），
// 钳零后新值恰为 1 说明这个会话刚从已读转未读，顺手把用户上卷推一格。
// 这个穿越判定只看刚写出的值，同事件重投下可能漏推，真值由重算任务兜底。
func (d *Deriver) onMessageCreate(ctx context.Context, x *derivation) error {
	p := x.payload.Message
	if p.DialogID == "" || p.MessageID == "" || p.SenderID == "" {
		return errs.ErrValidation.WrapMsg("message payload incomplete", "event_id", x.ev.EventID)
	}

	if _, _, err := x.apply(ctx, cstore.DialogStatMut(
		x.ev.TenantID, p.DialogID, cmodel.FieldMessageCount, +1, x.src)); err != nil {
		return err
	}
	if p.PackID != "" {
		if _, _, err := x.apply(ctx, cstore.PackStatMut(
			x.ev.TenantID, p.PackID, cmodel.FieldMessageCount, +1, x.src)); err != nil {
			return err
		}
	}
	if _, _, err := x.apply(ctx, cstore.UserStatMut(
		x.ev.TenantID, p.SenderID, cmodel.FieldMessagesSent, +1, x.src)); err != nil {
		return err
	}

	members, err := x.memberIDs(ctx, p.DialogID)
	if err != nil {
		return err
	}
	for _, uid := range members {
		if uid == p.SenderID {
			continue
		}
		_, newUnread, err := x.apply(ctx, cstore.DialogUnreadMut(
			x.ev.TenantID, uid, p.DialogID, +1, x.src))
		if err != nil {
			return err
		}
		if p.TopicID != "" {
			if _, _, err := x.apply(ctx, cstore.TopicUnreadMut(
				x.ev.TenantID, uid, p.DialogID, p.TopicID, +1, x.src)); err != nil {
				return err
			}
		}
		if p.PackID != "" {
			if _, _, err := x.apply(ctx, cstore.PackUnreadMut(
				x.ev.TenantID, uid, p.PackID, +1, x.src)); err != nil {
				return err
			}
		}
		if newUnread == 1 {
			if _, _, err := x.apply(ctx, cstore.UserStatMut(
				x.ev.TenantID, uid, cmodel.FieldUnreadDialogCount, +1, x.src)); err != nil {
				return err
			}
		}
		if _, _, err := x.apply(ctx, cstore.UserStatMut(
			x.ev.TenantID, uid, cmodel.FieldUnreadTotal, +1, x.src)); err != nil {
			return err
		}
		if err := x.emit(ctx, uid, p.MessageID, nil); err != nil {
			return err
		}
	}
	// 发送者也收 Update（多端同步自己发的消息），但不涨未读
	return x.emit(ctx, p.SenderID, p.MessageID, nil)
}

// onMessageStatus message.status.update：新状态桶 +1，旧状态桶 -1。
// OldStatus 为空表示首个状态，没有可减的桶。只发给消息发送者之外
// 还关心回执的人 —— 这里按会话全员扇出，客户端自行过滤。
func (d *Deriver) onMessageStatus(ctx context.Context, x *derivation) error {
	p := x.payload.Status
	if p.MessageID == "" || p.Status == "" {
		return errs.ErrValidation.WrapMsg("status payload incomplete", "event_id", x.ev.EventID)
	}

	if _, _, err := x.apply(ctx, cstore.StatusMut(
		x.ev.TenantID, p.MessageID, p.Status, +1, x.src)); err != nil {
		return err
	}
	if p.OldStatus != "" && p.OldStatus != p.Status {
		if _, _, err := x.apply(ctx, cstore.StatusMut(
			x.ev.TenantID, p.MessageID, p.OldStatus, -1, x.src)); err != nil {
			return err
		}
	}
	return d.fanOutDialog(ctx, x, p.DialogID)
}

// onMessageReaction message.reaction.update：增量随负载携带（±1），
// 不读当前值，重放天然幂等（多减被钳零吃掉）
func (d *Deriver) onMessageReaction(ctx context.Context, x *derivation) error {
	p := x.payload.Reaction
	if p.MessageID == "" || p.Reaction == "" {
		return errs.ErrValidation.WrapMsg("reaction payload incomplete", "event_id", x.ev.EventID)
	}
	if p.Delta == 0 {
		return errs.ErrValidation.WrapMsg("reaction delta must be non-zero", "event_id", x.ev.EventID)
	}

	if _, _, err := x.apply(ctx, cstore.ReactionMut(
		x.ev.TenantID, p.MessageID, p.Reaction, p.Delta, x.src)); err != nil {
		return err
	}
	return d.fanOutDialog(ctx, x, p.DialogID)
}

// onUserUpdate user.update：用户资料变更只发给本人（各端同步），无计数
func (d *Deriver) onUserUpdate(ctx context.Context, x *derivation) error {
	p := x.payload.User
	if p.UserID == "" {
		return errs.ErrValidation.WrapMsg("user payload missing user_id", "event_id", x.ev.EventID)
	}
	return x.emit(ctx, p.UserID, p.UserID, nil)
}

// fanOutDialog 会话全员各落一条 Update 并投递
func (d *Deriver) fanOutDialog(ctx context.Context, x *derivation, dialogID string) error {
	if dialogID == "" {
		return errs.ErrValidation.WrapMsg("fan-out missing dialog_id", "event_id", x.ev.EventID)
	}
	members, err := x.memberIDs(ctx, dialogID)
	if err != nil {
		return err
	}
	for _, uid := range members {
		if err := x.emit(ctx, uid, x.ev.EntityID, nil); err != nil {
			return err
		}
	}
	return nil
}
