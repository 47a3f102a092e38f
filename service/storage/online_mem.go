package storage

import (
	"context"
	"sync"
	"time"
)

// MemPresence 单进程内存实现，测试与本地联调用
type MemPresence struct {
	mu    sync.Mutex
	conns map[string]map[string]struct{} // tenant:user -> conn set
}

func NewMemPresence() *MemPresence {
	return &MemPresence{conns: make(map[string]map[string]struct{})}
}

func (p *MemPresence) ConnOnline(_ context.Context, tenantID, userID, connID string, _ time.Duration) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	key := connsKey(tenantID, userID)
	set, ok := p.conns[key]
	if !ok {
		set = make(map[string]struct{})
		p.conns[key] = set
	}
	set[connID] = struct{}{}
	return nil
}

func (p *MemPresence) ConnOffline(_ context.Context, tenantID, userID, connID string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	key := connsKey(tenantID, userID)
	if set, ok := p.conns[key]; ok {
		delete(set, connID)
		if len(set) == 0 {
			delete(p.conns, key)
		}
	}
	return nil
}

func (p *MemPresence) LiveConns(_ context.Context, tenantID, userID string) ([]string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]string, 0)
	for id := range p.conns[connsKey(tenantID, userID)] {
		out = append(out, id)
	}
	return out, nil
}
