package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"PulseChat/global"
	"PulseChat/logger"
	"PulseChat/module/counter/readtask"
	"PulseChat/module/counter/recalc"
	cstore "PulseChat/module/counter/store"
	"PulseChat/module/event/relay"
	evstore "PulseChat/module/event/store"
	"PulseChat/module/update/bridge"
	"PulseChat/module/update/deriver"
	ustore "PulseChat/module/update/store"
	"PulseChat/service/admin"
	"PulseChat/service/gateway"
	"PulseChat/service/kafka"
	"PulseChat/service/mgo"
	"PulseChat/service/natsx"
	"PulseChat/service/storage"
	"PulseChat/service/storage/redis"
	"PulseChat/tools/safe"
)

func main() {
	global.ConfigIds()

	rootCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Mongo 不就绪就不开门
	mgo.StartAsync(rootCtx, global.MongoConfig())
	bootCtx, cancel := context.WithTimeout(rootCtx, 30*time.Second)
	defer cancel()
	if err := mgo.WaitReady(bootCtx); err != nil {
		logger.Errorf("mongo not ready: %v", err)
		os.Exit(1)
	}
	db := mgo.GetDB()

	// Redis 可降级：没有就用进程内 presence / 幂等
	var presence storage.Presence
	var idem natsx.IdemStore
	if err := redis.InitRedis(global.RedisConfig()); err != nil {
		logger.Warnf("redis unavailable, in-process fallback: %v", err)
		presence = storage.NewMemPresence()
		idem = natsx.NewMemIdem(24 * time.Hour)
	} else {
		rdb, _ := redis.GetClient()
		presence = storage.NewRedisPresence(rdb)
		idem = natsx.NewRedisIdem(rdb, 24*time.Hour)
	}

	broker, err := natsx.NewNatsxClient(global.NatsConfig())
	if err != nil {
		logger.Errorf("nats connect failed: %v", err)
		os.Exit(1)
	}

	kcfg := global.KafkaConfig()
	producer, err := kafka.NewProducer(kcfg)
	if err != nil {
		logger.Errorf("kafka producer init failed: %v", err)
		os.Exit(1)
	}
	group, err := kafka.NewConsumerGroup(kcfg, []string{global.EventTopic})
	if err != nil {
		logger.Errorf("kafka consumer init failed: %v", err)
		os.Exit(1)
	}

	// 存储层 + 索引
	events := evstore.NewEventStore()
	updates := ustore.NewUpdateStore()
	counters := cstore.NewStore(db)
	for name, fn := range map[string]func(context.Context) error{
		"events":   events.EnsureIndexes,
		"updates":  updates.EnsureIndexes,
		"counters": counters.EnsureIndexes,
		"readtask": readtask.EnsureIndexes,
	} {
		if err := fn(bootCtx); err != nil {
			logger.Warnf("ensure %s indexes: %v", name, err)
		}
	}

	// 派生链路：事件表 change stream -> kafka -> deriver -> update/counter -> nats
	b := bridge.NewBridge(broker, updates, presence)
	d := deriver.NewDeriver(counters, updates, b, recalc.NewMongoSource())
	worker := deriver.NewWorker(d, idem)

	rel := relay.NewRelay(db, producer, global.EventTopic)
	safe.SafeGo(func() {
		if err := rel.Run(rootCtx); err != nil && rootCtx.Err() == nil {
			logger.Errorf("event relay stopped: %v", err)
		}
	})
	safe.SafeGo(func() {
		if err := group.Run(rootCtx, worker.Handler()); err != nil && rootCtx.Err() == nil {
			logger.Errorf("deriver consumer stopped: %v", err)
		}
	})

	// 读任务执行器
	readTasks := readtask.NewMongoTasks()
	taskRunner := readtask.NewRunner(counters, readTasks, readtask.NewMongoArchive())
	safe.SafeGo(func() { taskRunner.Run(rootCtx, global.ReadTaskIdle) })

	// 对外面：ws 网关 + 运维入口
	gw := gateway.NewServer(global.GatewayAddr(), b, updates)
	gw.Start()
	adminSrv := admin.NewServer(global.AdminAddr(), recalc.NewRunner(counters, recalc.NewMongoSource()), readTasks, counters)
	adminSrv.Start()

	logger.Infof("pulsechat core up | gateway=%s admin=%s topic=%s",
		global.GatewayAddr(), global.AdminAddr(), global.EventTopic)

	<-rootCtx.Done()
	logger.Infof("shutting down")

	shCtx, shCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shCancel()
	if err := gw.Shutdown(shCtx); err != nil {
		logger.Errorf("gateway shutdown: %v", err)
	}
	if err := adminSrv.Shutdown(shCtx); err != nil {
		logger.Errorf("admin shutdown: %v", err)
	}
	if err := group.Close(); err != nil {
		logger.Errorf("consumer close: %v", err)
	}
	if err := producer.Close(); err != nil {
		logger.Errorf("producer close: %v", err)
	}
	if err := broker.Close(); err != nil {
		logger.Errorf("broker drain: %v", err)
	}
	if err := redis.Close(); err != nil {
		logger.Errorf("redis close: %v", err)
	}
	logger.Sync()
}
