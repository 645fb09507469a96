// Package server 组合根，按配置装配整个命令编排运行时
//
// 装配规则：
//   - SQLiteDSN 非空时文档与实例状态落 SQLite，否则用内存实现
//   - RedisAddr 非空时用 Redis 分布式锁，否则用内存锁
//   - NATSURL 非空时启用 NATS 中继，HTTP 中继始终可用
package server

import (
	"context"
	"database/sql"
	"time"

	"github.com/nats-io/nats.go"
	_ "modernc.org/sqlite"

	"stratus/activity"
	"stratus/api"
	"stratus/config"
	"stratus/data"
	"stratus/dispatcher"
	"stratus/errors"
	"stratus/locking"
	"stratus/logging"
	"stratus/model"
	"stratus/orchestration"
	"stratus/orchestration/statestore"
	"stratus/patterns/retry"
	"stratus/provider"
	"stratus/template"
)

// Dependencies 外部依赖，由调用方注入
type Dependencies struct {
	// Resources 云资源服务，必填
	Resources activity.IResourceService

	// Tasks 组件任务执行器，必填
	Tasks activity.ITaskRunner

	// Templates 模板解析器，nil 时项目模板不解析组件模板
	Templates template.IResolver

	// Identity 身份目录解析器，nil 时用户命令不做登录名校验
	Identity api.IIdentityResolver
}

// Runtime 装配完成的运行时
type Runtime struct {
	cfg        *config.Config
	db         *sql.DB
	natsConn   *nats.Conn
	store      data.IDocumentStore
	instances  statestore.IInstanceStore
	locks      locking.ILockManager
	registry   *provider.Registry
	dispatcher *dispatcher.Dispatcher
	apiServer  *api.Server
	logger     logging.Logger
}

// New 按配置装配运行时，不启动任何组件
func New(cfg *config.Config, deps Dependencies) (*Runtime, error) {
	if deps.Resources == nil || deps.Tasks == nil {
		return nil, errors.NewError(errors.ErrCodeValidation, "resource service and task runner are required")
	}

	rt := &Runtime{cfg: cfg, logger: logging.ComponentLogger("server")}

	if err := rt.buildStores(); err != nil {
		return nil, err
	}
	rt.buildLocks()
	fanOut, err := rt.buildFanOut()
	if err != nil {
		rt.Close()
		return nil, err
	}

	exec := activity.NewExecutor(retry.Config{
		MaxAttempts:   cfg.RetryAttempts,
		InitialDelay:  cfg.RetryDelay,
		BackoffFactor: 2.0,
		MaxDelay:      10 * time.Second,
	})
	docActs := activity.NewDocumentActivities(rt.store, rt.locks)
	resActs := activity.NewResourceActivities(deps.Resources, deps.Tasks)

	runner := orchestration.NewRunner(rt.instances, rt.locks, exec, orchestration.Config{
		RescheduleDelay:   cfg.RescheduleDelay,
		KeepAliveInterval: cfg.LockTTL / 3,
	})
	registry := orchestration.NewRegistry()
	orchestration.NewWorkflows(docActs, resActs, fanOut, deps.Templates, rt.registry).Register(registry)

	rt.dispatcher = dispatcher.New(rt.instances, registry, runner, dispatcher.Config{
		Workers:   cfg.Workers,
		QueueSize: cfg.QueueSize,
	})

	serverCfg := api.DefaultServerConfig()
	serverCfg.Addr = cfg.HTTPAddr
	rt.apiServer = api.NewServer(api.NewHandler(rt.dispatcher, deps.Identity), serverCfg)

	return rt, nil
}

func (rt *Runtime) buildStores() error {
	if rt.cfg.SQLiteDSN == "" {
		rt.store = data.NewMemoryStore()
		rt.instances = statestore.NewMemoryInstanceStore()
		return nil
	}

	db, err := sql.Open("sqlite", rt.cfg.SQLiteDSN)
	if err != nil {
		return errors.WrapError(err, errors.ErrCodeDatabase, "open sqlite")
	}
	rt.db = db

	ctx := context.Background()
	store := data.NewSQLiteStore(db, "documents")
	if err := store.Init(ctx); err != nil {
		return err
	}
	instances := statestore.NewSQLiteInstanceStore(db)
	if err := instances.Init(ctx); err != nil {
		return err
	}
	rt.store = store
	rt.instances = instances
	return nil
}

func (rt *Runtime) buildLocks() {
	lockCfg := locking.Config{
		TTL:            rt.cfg.LockTTL,
		AcquireTimeout: rt.cfg.AcquireTimeout,
		PollInterval:   50 * time.Millisecond,
	}
	if rt.cfg.RedisAddr == "" {
		rt.locks = locking.NewMemoryLockManager(lockCfg)
		return
	}
	locks, err := locking.NewRedisLockManager(locking.RedisConfig{
		Addr: rt.cfg.RedisAddr,
		Lock: lockCfg,
	})
	if err != nil {
		// 构造失败只可能是配置问题，回退内存锁并告警
		rt.logger.Error(context.Background(), "redis lock manager unavailable, using in-memory locks",
			logging.Error(err))
		rt.locks = locking.NewMemoryLockManager(lockCfg)
		return
	}
	rt.locks = locks
}

func (rt *Runtime) buildFanOut() (*provider.FanOut, error) {
	rt.registry = provider.NewRegistry(rt.store)

	relays := map[model.ProviderProtocol]provider.IRelay{
		model.ProviderProtocolHTTP: provider.NewHTTPRelay(nil),
	}
	if rt.cfg.NATSURL != "" {
		conn, err := provider.Connect(rt.cfg.NATSURL)
		if err != nil {
			return nil, err
		}
		rt.natsConn = conn
		relays[model.ProviderProtocolNATS] = provider.NewNATSRelay(conn)
	}

	return provider.NewFanOut(rt.registry, relays, provider.Config{
		Timeout: rt.cfg.ProviderTimeout,
	}), nil
}

// Dispatcher 暴露调度器，供嵌入式使用（不经 HTTP）
func (rt *Runtime) Dispatcher() *dispatcher.Dispatcher { return rt.dispatcher }

// Store 暴露文档存储
func (rt *Runtime) Store() data.IDocumentStore { return rt.store }

// Providers 暴露 Provider 注册表
func (rt *Runtime) Providers() *provider.Registry { return rt.registry }

// Start 启动调度器并阻塞服务 HTTP，直到 Stop 被调用
func (rt *Runtime) Start(ctx context.Context) error {
	if err := rt.dispatcher.Start(ctx); err != nil {
		return err
	}
	rt.logger.Info(ctx, "runtime started",
		logging.String("addr", rt.cfg.HTTPAddr),
		logging.Int("workers", rt.cfg.Workers))
	return rt.apiServer.Start()
}

// Stop 优雅停机：先停 HTTP 入口，再排空调度器，最后释放连接
func (rt *Runtime) Stop(ctx context.Context) error {
	if err := rt.apiServer.Stop(ctx); err != nil {
		rt.logger.Error(ctx, "api server shutdown failed", logging.Error(err))
	}
	rt.dispatcher.Stop()
	rt.Close()
	return nil
}

// Close 释放外部连接
func (rt *Runtime) Close() {
	if rt.natsConn != nil {
		rt.natsConn.Close()
	}
	if rt.db != nil {
		_ = rt.db.Close()
	}
}
