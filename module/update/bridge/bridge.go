package bridge

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"time"

	"PulseChat/logger"
	"PulseChat/module/update/model"
	"PulseChat/service/natsx"
	"PulseChat/service/storage"
	"PulseChat/tools/errs"
)

const (
	subjectPrefix = "im.update."
	presenceTTL   = 5 * time.Minute
)

// Marker 发布成功后把 Update 置为已发布
type Marker interface {
	MarkPublished(ctx context.Context, tenantID, updateID string) error
}

// Bridge 投递扇出：把派生出的 Update 发到每用户 subject 上。
// 同一用户的多条活跃订阅各自收到一份拷贝。
// Broker 在启动时显式注入，进程退出时由持有方 Close。
type Bridge struct {
	broker   natsx.Broker
	marker   Marker
	presence storage.Presence
}

func NewBridge(broker natsx.Broker, marker Marker, presence storage.Presence) *Bridge {
	return &Bridge{broker: broker, marker: marker, presence: presence}
}

func subjectFor(tenantID, userID string) string {
	return subjectPrefix + tenantID + "." + userID
}

// Publish 投递并置位 published。置位失败只记日志：
// 订阅方已经收到，投递记录的状态滞后由重算口径兜底。
func (b *Bridge) Publish(ctx context.Context, u *model.Update) error {
	data, err := json.Marshal(u)
	if err != nil {
		return errs.WrapMsg(err, "update marshal", "update_id", u.UpdateID)
	}
	hdr := map[string]string{"Nats-Msg-Id": u.UpdateID}
	if err := b.broker.Publish(ctx, subjectFor(u.TenantID, u.UserID), data, hdr); err != nil {
		return errs.ErrTransientStorage.WrapMsg("broker publish failed",
			"update_id", u.UpdateID, "user_id", u.UserID, "err", err)
	}
	if err := b.marker.MarkPublished(ctx, u.TenantID, u.UpdateID); err != nil {
		logger.Errorf("mark published failed | update_id=%s: %v", u.UpdateID, err)
	}
	return nil
}

// Handle 一条活跃的用户订阅
type Handle struct {
	ConnID string

	bridge   *Bridge
	sub      natsx.Subscription
	tenantID string
	userID   string
}

// Cancel 退订并注销连接；幂等
func (h *Handle) Cancel() error {
	err := h.sub.Cancel()
	if perr := h.bridge.presence.ConnOffline(context.Background(), h.tenantID, h.userID, h.ConnID); perr != nil {
		logger.Errorf("conn offline failed | conn=%s: %v", h.ConnID, perr)
	}
	return err
}

// Subscribe 为一条活跃连接建立订阅。
// connID 为空时生成新的；首条投递是合成的 connection.established，
// 携带连接ID供调用方做 presence/typing 关联。
func (b *Bridge) Subscribe(ctx context.Context, tenantID, userID, userType, connID string, onMessage func(*model.Update)) (*Handle, error) {
	if connID == "" {
		connID = genConnID()
	}

	h := natsx.NatsxChain(func(_ context.Context, msg natsx.NatsxMessage) error {
		var u model.Update
		if err := json.Unmarshal(msg.Data, &u); err != nil {
			return errs.WrapMsg(err, "update decode", "subject", msg.Subject)
		}
		onMessage(&u)
		return nil
	}, natsx.WithRecover(), natsx.WithErrorLog())

	sub, err := b.broker.Subscribe(subjectFor(tenantID, userID), func(msg natsx.NatsxMessage) {
		_ = h(context.Background(), msg)
	})
	if err != nil {
		return nil, errs.WrapMsg(err, "broker subscribe", "user_id", userID)
	}

	if err := b.presence.ConnOnline(ctx, tenantID, userID, connID, presenceTTL); err != nil {
		logger.Errorf("conn online failed | conn=%s: %v", connID, err)
	}

	// 合成首帧，不经 broker，不落库
	onMessage(&model.Update{
		UpdateID:  connID,
		TenantID:  tenantID,
		UserID:    userID,
		EventType: model.EventConnEstablished,
		Data: map[string]any{
			"connectionId": connID,
			"userType":     userType,
		},
		CreatedAtMS: time.Now().UnixMilli(),
	})

	return &Handle{
		ConnID:   connID,
		bridge:   b,
		sub:      sub,
		tenantID: tenantID,
		userID:   userID,
	}, nil
}

// 生成随机连接ID（16字节）
func genConnID() string {
	var buf [16]byte
	_, _ = rand.Read(buf[:])
	return hex.EncodeToString(buf[:])
}
