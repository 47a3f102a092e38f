package deriver

import (
	"context"
	"encoding/json"
	"time"

	"PulseChat/logger"
	evmodel "PulseChat/module/event/model"
	"PulseChat/service/kafka"
	"PulseChat/service/natsx"
)

// idemTTL 去重窗口要盖过消费组最长的重投周期
const idemTTL = 24 * time.Hour

// Worker 把 Deriver 挂到事件队列上。
// 至少一次投递 + event_id 去重 = 近似恰好一次的派生。
type Worker struct {
	deriver *Deriver
	idem    natsx.IdemStore
}

func NewWorker(d *Deriver, idem natsx.IdemStore) *Worker {
	return &Worker{deriver: d, idem: idem}
}

// mark 结果落定之后才记幂等键。写失败只告警：顶多多派生一次，被钳零吸收。
func (w *Worker) mark(ctx context.Context, eventID string) {
	if err := w.idem.Mark(ctx, eventID, idemTTL); err != nil {
		logger.Warnf("idempotency mark failed | event_id=%s: %v", eventID, err)
	}
}

// Handler 返回可直接给消费组跑的处理函数。
// retry 只在瞬时失败时为真：不确认位点，等队列重投；
// 其余失败（坏负载、未知类型）记日志后确认，不能让一条毒消息堵住分区。
func (w *Worker) Handler() kafka.MessageHandler {
	return func(ctx context.Context, topic string, key, value []byte) (bool, error) {
		var ev evmodel.EventRecord
		if err := json.Unmarshal(value, &ev); err != nil {
			logger.Errorf("event unmarshal failed | topic=%s key=%s: %v", topic, string(key), err)
			return false, nil
		}
		if ev.EventID == "" {
			logger.Errorf("event without event_id dropped | topic=%s key=%s", topic, string(key))
			return false, nil
		}

		seen, err := w.idem.Seen(ctx, ev.EventID)
		if err != nil {
			// 去重存储不可用时放行处理：重复派生可被钳零吸收，丢事件不行
			logger.Warnf("idempotency check failed, processing anyway | event_id=%s: %v", ev.EventID, err)
		} else if seen {
			logger.Infof("duplicate event skipped | event_id=%s type=%s", ev.EventID, ev.EventType)
			return false, nil
		}

		res := w.deriver.OnEvent(ctx, &ev)
		if res.Err != nil {
			if res.Transient {
				// 不 Mark：重投进来要能重新派生
				logger.Warnf("transient derivation failure, will retry | event_id=%s type=%s: %v",
					res.EventID, res.EventType, res.Err)
				return true, res.Err
			}
			logger.Errorf("derivation failed, event skipped | event_id=%s type=%s: %v",
				res.EventID, res.EventType, res.Err)
			w.mark(ctx, ev.EventID)
			return false, nil
		}
		logger.Infof("event derived | event_id=%s type=%s updates=%d mutations=%d",
			res.EventID, res.EventType, res.Updates, res.Mutations)
		w.mark(ctx, ev.EventID)
		return false, nil
	}
}
