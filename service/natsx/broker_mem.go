package natsx

import (
	"context"
	"sync"
)

// MemBroker 单进程内存 Broker：测试与本地联调用。
// 投递是同步的，订阅者回调在 Publish 的调用栈里执行。
type MemBroker struct {
	mu     sync.RWMutex
	nextID int64
	subs   map[string]map[int64]func(NatsxMessage) // subject -> subID -> cb
	closed bool
}

func NewMemBroker() *MemBroker {
	return &MemBroker{subs: make(map[string]map[int64]func(NatsxMessage))}
}

func (b *MemBroker) Publish(_ context.Context, subject string, data []byte, hdr map[string]string) error {
	b.mu.RLock()
	if b.closed {
		b.mu.RUnlock()
		return ErrBrokerClosed
	}
	cbs := make([]func(NatsxMessage), 0, len(b.subs[subject]))
	for _, cb := range b.subs[subject] {
		cbs = append(cbs, cb)
	}
	b.mu.RUnlock()

	for _, cb := range cbs {
		cb(NatsxMessage{
			Subject: subject,
			Data:    append([]byte(nil), data...),
			Header:  hdr,
		})
	}
	return nil
}

func (b *MemBroker) Subscribe(subject string, cb func(NatsxMessage)) (Subscription, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil, ErrBrokerClosed
	}
	b.nextID++
	id := b.nextID
	set, ok := b.subs[subject]
	if !ok {
		set = make(map[int64]func(NatsxMessage))
		b.subs[subject] = set
	}
	set[id] = cb
	return &memSub{b: b, subject: subject, id: id}, nil
}

func (b *MemBroker) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.subs = make(map[string]map[int64]func(NatsxMessage))
	b.closed = true
	return nil
}

type memSub struct {
	b       *MemBroker
	subject string
	id      int64
}

func (s *memSub) Cancel() error {
	s.b.mu.Lock()
	defer s.b.mu.Unlock()
	if set, ok := s.b.subs[s.subject]; ok {
		delete(set, s.id)
		if len(set) == 0 {
			delete(s.b.subs, s.subject)
		}
	}
	return nil
}
