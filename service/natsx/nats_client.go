package natsx

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/nats-io/nats.go"
)

// NatsxConfig 客户端配置
type NatsxConfig struct {
	Servers       []string
	Name          string
	Username      string
	Password      string
	ReconnectWait time.Duration
	Timeout       time.Duration
}

// NatsxClient Broker 的 NATS Core 实现
type NatsxClient struct {
	cfg NatsxConfig
	nc  *nats.Conn

	mu   sync.Mutex
	subs []*nats.Subscription
}

// NewNatsxClient 连接 NATS
func NewNatsxClient(cfg NatsxConfig) (*NatsxClient, error) {
	if len(cfg.Servers) == 0 {
		return nil, errors.New("nats servers missing")
	}
	if cfg.ReconnectWait == 0 {
		cfg.ReconnectWait = 500 * time.Millisecond
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 3 * time.Second
	}
	opts := []nats.Option{
		nats.Name(cfg.Name),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(cfg.ReconnectWait),
		nats.ReconnectJitter(100*time.Millisecond, 500*time.Millisecond),
		nats.Timeout(cfg.Timeout),
	}
	if cfg.Username != "" {
		opts = append(opts, nats.UserInfo(cfg.Username, cfg.Password))
	}
	nc, err := nats.Connect(strings.Join(cfg.Servers, ","), opts...)
	if err != nil {
		return nil, err
	}
	return &NatsxClient{cfg: cfg, nc: nc}, nil
}

func (c *NatsxClient) Publish(_ context.Context, subject string, data []byte, hdr map[string]string) error {
	msg := nats.NewMsg(subject)
	msg.Data = data
	for k, v := range hdr {
		msg.Header.Set(k, v)
	}
	return c.nc.PublishMsg(msg)
}

// Subscribe 每次调用建立一条独立订阅（无 queue group，广播语义）
func (c *NatsxClient) Subscribe(subject string, cb func(NatsxMessage)) (Subscription, error) {
	sub, err := c.nc.Subscribe(subject, func(m *nats.Msg) {
		cb(NatsxMessage{
			Subject: m.Subject,
			Data:    append([]byte(nil), m.Data...),
			Header:  headerToMap(m.Header),
		})
	})
	if err != nil {
		return nil, err
	}
	_ = sub.SetPendingLimits(1_000_000, 64*1024*1024)
	c.mu.Lock()
	c.subs = append(c.subs, sub)
	c.mu.Unlock()
	return &natsSub{sub: sub}, nil
}

// Close 优雅关闭：先退订，再 Drain 连接
func (c *NatsxClient) Close() error {
	c.mu.Lock()
	for _, sub := range c.subs {
		_ = sub.Drain()
	}
	c.subs = nil
	c.mu.Unlock()
	if c.nc != nil {
		return c.nc.Drain()
	}
	return nil
}

type natsSub struct {
	sub  *nats.Subscription
	once sync.Once
	err  error
}

func (s *natsSub) Cancel() error {
	s.once.Do(func() { s.err = s.sub.Unsubscribe() })
	return s.err
}

func headerToMap(h nats.Header) map[string]string {
	if len(h) == 0 {
		return nil
	}
	out := make(map[string]string, len(h))
	for k, v := range h {
		if len(v) > 0 {
			out[k] = v[0]
		}
	}
	return out
}
