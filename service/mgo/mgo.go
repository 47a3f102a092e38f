package mgo

import (
	"context"
	"fmt"
	"math/rand"
	"sync"
	"sync/atomic"
	"time"

	mgo "PulseChat/data/database/mgo/mongoutil"

	"go.mongodb.org/mongo-driver/mongo"
)

type MongoManager struct {
	mu        sync.RWMutex
	client    *mgo.Client
	readyCh   chan struct{} // 首次就绪通知；只会被 close 一次
	readyOnce sync.Once

	lastErr atomic.Value // error
}

var globalMgr MongoManager

// StartAsync: 一直运行到 ctx.Done()；首次连上时 close readyCh，后续掉线会自动重连
func StartAsync(ctx context.Context, cfg *mgo.Config) {
	if globalMgr.readyCh == nil {
		globalMgr.readyCh = make(chan struct{})
	}

	go func() {
		const (
			baseBackoff = 200 * time.Millisecond
			maxBackoff  = 5 * time.Second
			healthEvery = 10 * time.Second // 健康检查周期
			failThresh  = 3                // 连续失败阈值
		)

		for {
			// ===== 连接阶段（带退避重试） =====
			attempt := 0
			for {
				select {
				case <-ctx.Done():
					return
				default:
				}

				cli, err := mgo.NewMongoDB(ctx, cfg)
				if err == nil {
					globalMgr.mu.Lock()
					globalMgr.client = cli
					globalMgr.mu.Unlock()

					globalMgr.readyOnce.Do(func() { close(globalMgr.readyCh) })
					break
				}

				globalMgr.lastErr.Store(err)

				backoff := baseBackoff << attempt
				if backoff > maxBackoff {
					backoff = maxBackoff
				}
				jitter := time.Duration(rand.Int63n(int64(backoff / 5)))
				sleep := backoff - jitter/2

				timer := time.NewTimer(sleep)
				select {
				case <-ctx.Done():
					timer.Stop()
					return
				case <-timer.C:
				}
				if attempt < 6 {
					attempt++
				}
			}

			// ===== 健康检查阶段（保持/掉线→重连）=====
			fail := 0
			healthTicker := time.NewTicker(healthEvery)
			func() {
				defer healthTicker.Stop()
				for {
					select {
					case <-ctx.Done():
						disconnect()
						return
					case <-healthTicker.C:
						globalMgr.mu.RLock()
						c := globalMgr.client
						globalMgr.mu.RUnlock()

						if c == nil {
							return
						}
						if err := c.GetDB().Client().Ping(ctx, nil); err != nil {
							fail++
							globalMgr.lastErr.Store(err)
							if fail >= failThresh {
								disconnect()
								return
							}
						} else {
							fail = 0
						}
					}
				}
			}() // 健康循环结束后回到外层 for 重连
		}
	}()
}

func disconnect() {
	globalMgr.mu.Lock()
	defer globalMgr.mu.Unlock()
	if globalMgr.client != nil {
		_ = globalMgr.client.GetDB().Client().Disconnect(context.Background())
		globalMgr.client = nil
	}
}

// Ready: 首次连接成功时会 close；可 select 等待
func Ready() <-chan struct{} {
	return globalMgr.readyCh
}

// Err: 最近一次错误
func Err() error {
	if v := globalMgr.lastErr.Load(); v != nil {
		return v.(error)
	}
	return nil
}

func GetDB() *mongo.Database {
	globalMgr.mu.RLock()
	defer globalMgr.mu.RUnlock()
	if globalMgr.client == nil {
		panic("Mongo not ready: wait Ready() or use TryGetDB()")
	}
	return globalMgr.client.GetDB()
}

func TryGetDB() (*mongo.Database, bool) {
	globalMgr.mu.RLock()
	defer globalMgr.mu.RUnlock()
	if globalMgr.client == nil {
		return nil, false
	}
	return globalMgr.client.GetDB(), true
}

// WaitReady 等待首次连接成功或 ctx 取消
func WaitReady(ctx context.Context) error {
	globalMgr.mu.RLock()
	readyCh := globalMgr.readyCh
	clientNil := globalMgr.client == nil
	globalMgr.mu.RUnlock()

	if !clientNil {
		return nil
	}
	if readyCh == nil {
		return fmt.Errorf("mongo manager not started")
	}

	select {
	case <-readyCh:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
