package natsx

import (
	"golang.org/x/net/context"

	"PulseChat/logger"
)

// NatsxMessage 统一消息对象
type NatsxMessage struct {
	Subject string
	Data    []byte
	Header  map[string]string
}

// NatsxHandler 业务处理函数
type NatsxHandler func(ctx context.Context, msg NatsxMessage) error

// NatsxMiddleware 中间件（日志、指标、重试等）
type NatsxMiddleware func(NatsxHandler) NatsxHandler

// NatsxChain 组合中间件
func NatsxChain(h NatsxHandler, mws ...NatsxMiddleware) NatsxHandler {
	for i := len(mws) - 1; i >= 0; i-- {
		h = mws[i](h)
	}
	return h
}

// WithRecover 订阅回调兜 panic：一条坏消息不拆整条订阅
func WithRecover() NatsxMiddleware {
	return func(next NatsxHandler) NatsxHandler {
		return func(ctx context.Context, msg NatsxMessage) (err error) {
			defer func() {
				if r := recover(); r != nil {
					logger.Errorf("natsx handler panic | subject=%s: %v", msg.Subject, r)
				}
			}()
			return next(ctx, msg)
		}
	}
}

// WithErrorLog 吞错并记日志：broker 回调没有地方可以返回错误
func WithErrorLog() NatsxMiddleware {
	return func(next NatsxHandler) NatsxHandler {
		return func(ctx context.Context, msg NatsxMessage) error {
			if err := next(ctx, msg); err != nil {
				logger.Errorf("natsx handler | subject=%s: %v", msg.Subject, err)
			}
			return nil
		}
	}
}
