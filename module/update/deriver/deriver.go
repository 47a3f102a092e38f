package deriver

import (
	"context"
	"fmt"

	"PulseChat/logger"
	cstore "PulseChat/module/counter/store"
	evmodel "PulseChat/module/event/model"
	umodel "PulseChat/module/update/model"
	"PulseChat/tools/errs"
	"PulseChat/tools/ids"
)

// Sink 派生出的 Update 落库
type Sink interface {
	Insert(ctx context.Context, u *umodel.Update) error
}

// Publisher 落库后的投递（Bridge 实现）
type Publisher interface {
	Publish(ctx context.Context, u *umodel.Update) error
}

// Members 会话成员名册（扇出收件人来源）
type Members interface {
	MemberIDs(ctx context.Context, tenantID, dialogID string) ([]string, error)
}

// Result 单事件处理结果。失败被隔离在事件粒度：
// Transient 为真时调用方不确认、等重投，其余失败记日志后继续。
type Result struct {
	EventID   string
	EventType evmodel.EventType
	Updates   int
	Mutations int
	Err       error
	Transient bool
}

// Deriver 事件 -> Update/计数器变更 的全函数。
// 每个 event_type 一个登记过的处理器；计数增量只取事件自带负载，
// 不对比存量状态，同一事件重放不会二次计数（钳零 + 负载增量）。
type Deriver struct {
	counters cstore.Ops
	sink     Sink
	pub      Publisher
	members  Members

	handlers map[evmodel.EventType]handlerFunc
}

type handlerFunc func(ctx context.Context, d *derivation) error

func NewDeriver(counters cstore.Ops, sink Sink, pub Publisher, members Members) *Deriver {
	d := &Deriver{
		counters: counters,
		sink:     sink,
		pub:      pub,
		members:  members,
	}
	d.handlers = map[evmodel.EventType]handlerFunc{
		evmodel.EventDialogCreate:          d.onDialogScoped,
		evmodel.EventDialogUpdate:          d.onDialogScoped,
		evmodel.EventDialogDelete:          d.onDialogScoped,
		evmodel.EventDialogMemberAdd:       d.onMemberAdd,
		evmodel.EventDialogMemberRemove:    d.onMemberRemove,
		evmodel.EventDialogMemberUpdate:    d.onMemberUpdate,
		evmodel.EventDialogTyping:          d.onTyping,
		evmodel.EventMessageCreate:         d.onMessageCreate,
		evmodel.EventMessageStatusUpdate:   d.onMessageStatus,
		evmodel.EventMessageReactionUpdate: d.onMessageReaction,
		evmodel.EventUserUpdate:            d.onUserUpdate,
	}
	// 闭集完整性：新事件类型没登记处理器就不允许起进程
	for _, t := range evmodel.AllEventTypes {
		if _, ok := d.handlers[t]; !ok {
			panic(fmt.Sprintf("deriver: no handler for event type %q", t))
		}
	}
	return d
}

// derivation 单事件的处理现场
type derivation struct {
	d       *Deriver
	ev      *evmodel.EventRecord
	payload *evmodel.Payload
	src     cstore.Source

	updates   int
	mutations int
}

// OnEvent 处理一条事件（可能被重投）。绝不 panic 到调用方。
func (d *Deriver) OnEvent(ctx context.Context, ev *evmodel.EventRecord) (res Result) {
	res = Result{EventID: ev.EventID, EventType: ev.EventType}

	defer func() {
		if r := recover(); r != nil {
			res.Err = errs.ErrDerivation.WrapMsg("panic in derivation",
				"event_id", ev.EventID, "event_type", ev.EventType, "panic", r)
			logger.Errorf("derivation panic | event_id=%s type=%s: %v", ev.EventID, ev.EventType, r)
		}
	}()

	h, ok := d.handlers[ev.EventType]
	if !ok {
		res.Err = errs.ErrValidation.WrapMsg("event type not handled", "event_type", ev.EventType)
		return res
	}

	payload, err := evmodel.DecodePayload(ev)
	if err != nil {
		res.Err = err
		return res
	}

	x := &derivation{
		d:       d,
		ev:      ev,
		payload: payload,
		src: cstore.Source{
			Operation: string(ev.EventType),
			EntityID:  ev.EventID,
			ActorID:   ev.ActorID,
			ActorType: ev.ActorType,
		},
	}
	if err := h(ctx, x); err != nil {
		res.Err = err
		res.Transient = errs.IsCode(err, errs.CodeTransientStorage)
	}
	res.Updates = x.updates
	res.Mutations = x.mutations
	return res
}

// ---------------- 处理现场的原语 ----------------

// apply 计数器变更；瞬时失败向上抛（事件不会被确认）
func (x *derivation) apply(ctx context.Context, m cstore.Mutation) (int64, int64, error) {
	old, newValue, err := x.d.counters.Apply(ctx, m)
	if err != nil {
		return 0, 0, err
	}
	x.mutations++
	return old, newValue, nil
}

func (x *derivation) set(ctx context.Context, m cstore.Mutation, value int64, op string) error {
	if _, _, err := x.d.counters.SetValue(ctx, m, value, op); err != nil {
		return err
	}
	x.mutations++
	return nil
}

// emit 给一个接收人落一条 Update 并投递
func (x *derivation) emit(ctx context.Context, userID, entityID string, data map[string]any) error {
	u := x.newUpdate(userID, entityID, data)
	if err := x.d.sink.Insert(ctx, u); err != nil {
		return err
	}
	if err := x.d.pub.Publish(ctx, u); err != nil {
		// 投递失败不拦事件确认：记录已落库，订阅方重连后由时间线补齐
		logger.Errorf("update publish failed | update_id=%s user=%s: %v", u.UpdateID, userID, err)
	}
	x.updates++
	return nil
}

// emitEphemeral 瞬态更新（typing）：只投递不落库
func (x *derivation) emitEphemeral(ctx context.Context, userID, entityID string, data map[string]any) {
	u := x.newUpdate(userID, entityID, data)
	if err := x.d.pub.Publish(ctx, u); err != nil {
		logger.Errorf("ephemeral publish failed | user=%s: %v", userID, err)
		return
	}
	x.updates++
}

func (x *derivation) newUpdate(userID, entityID string, data map[string]any) *umodel.Update {
	if data == nil {
		data = x.ev.Data
	}
	return &umodel.Update{
		UpdateID:    ids.GenerateString(),
		TenantID:    x.ev.TenantID,
		UserID:      userID,
		EntityID:    entityID,
		EventID:     x.ev.EventID,
		EventType:   x.ev.EventType,
		Data:        data,
		CreatedAtMS: x.ev.CreatedAtMS,
	}
}

func (x *derivation) memberIDs(ctx context.Context, dialogID string) ([]string, error) {
	members, err := x.d.members.MemberIDs(ctx, x.ev.TenantID, dialogID)
	if err != nil {
		return nil, errs.ErrTransientStorage.WrapMsg("member list failed",
			"dialog_id", dialogID, "err", err)
	}
	return members, nil
}
