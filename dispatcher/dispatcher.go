// Package dispatcher 提供持久化命令调度运行时
//
// 接收命令、按描述符路由到编排定义、在 Worker 池上驱动执行。
// 提交以 CommandId 幂等：重复提交返回既有实例的句柄，已终态的实例
// 直接返回原始结果而不重新执行。进程重启后 ResumeAll 恢复全部
// 非终态实例，结合步骤日志重放实现崩溃续跑。
package dispatcher

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"

	"stratus/errors"
	"stratus/logging"
	"stratus/model"
	"stratus/orchestration"
	"stratus/orchestration/statestore"
)

// Handle 命令跟踪句柄
type Handle struct {
	// TrackingID 即命令 ID，状态轮询与取消都用它寻址
	TrackingID string

	Descriptor    string
	RuntimeStatus model.RuntimeStatus
	CustomStatus  string

	// Result 终态实例的最终结果，运行中为 nil
	Result *model.CommandResult
}

// Final 实例是否已终态
func (h *Handle) Final() bool { return h.RuntimeStatus.IsFinal() }

// Config 调度器配置
type Config struct {
	// Workers Worker 协程数
	Workers int

	// QueueSize 待执行实例队列容量
	QueueSize int
}

// DefaultConfig 默认配置
func DefaultConfig() Config {
	return Config{
		Workers:   4,
		QueueSize: 64,
	}
}

// Dispatcher 命令调度器
type Dispatcher struct {
	store    statestore.IInstanceStore
	registry *orchestration.Registry
	runner   *orchestration.Runner
	cfg      Config
	logger   logging.Logger

	mutex   sync.Mutex
	running bool
	queue   chan string
	wg      sync.WaitGroup

	// submitting 去重并发提交：同一命令 ID 只有一个提交路径创建实例
	submitting map[string]struct{}
}

// New 创建调度器；cfg 为零值时使用默认配置
func New(store statestore.IInstanceStore, registry *orchestration.Registry, runner *orchestration.Runner, cfg Config) *Dispatcher {
	if cfg.Workers <= 0 {
		cfg.Workers = DefaultConfig().Workers
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = DefaultConfig().QueueSize
	}
	return &Dispatcher{
		store:      store,
		registry:   registry,
		runner:     runner,
		cfg:        cfg,
		logger:     logging.ComponentLogger("dispatcher"),
		submitting: make(map[string]struct{}),
	}
}

// Start 启动 Worker 池并恢复崩溃前的非终态实例
func (d *Dispatcher) Start(ctx context.Context) error {
	d.mutex.Lock()
	if d.running {
		d.mutex.Unlock()
		return fmt.Errorf("dispatcher is already running")
	}
	d.running = true
	d.queue = make(chan string, d.cfg.QueueSize)

	for i := 0; i < d.cfg.Workers; i++ {
		d.wg.Add(1)
		go d.worker(ctx, i)
	}
	d.mutex.Unlock()

	return d.ResumeAll(ctx)
}

// Stop 停止调度器，等待处理中的实例执行完毕
//
// 队列先关闭，Worker 读完缓冲实例后自然退出。
func (d *Dispatcher) Stop() error {
	d.mutex.Lock()
	if !d.running {
		d.mutex.Unlock()
		return fmt.Errorf("dispatcher is not running")
	}
	d.running = false
	queue := d.queue
	d.mutex.Unlock()

	close(queue)
	d.wg.Wait()
	return nil
}

// ResumeAll 把所有非终态实例重新入队（崩溃恢复）
//
// 步骤日志保证恢复的实例重放已完成的步骤，不重复副作用。
func (d *Dispatcher) ResumeAll(ctx context.Context) error {
	active, err := d.store.ListActive(ctx)
	if err != nil {
		return err
	}
	for _, instance := range active {
		d.logger.Info(ctx, "resuming orchestration instance",
			logging.String("instance_id", instance.InstanceID),
			logging.String("descriptor", instance.Descriptor))
		if err := d.enqueue(ctx, instance.InstanceID); err != nil {
			return err
		}
	}
	return nil
}

// Submit 提交命令，返回跟踪句柄
//
// 同一 CommandId 幂等：实例已存在时返回既有句柄（终态附带原始结果），
// 不会启动重复的编排。命令描述符必须已注册。零值 CommandId 视为
// 新命令并补发标识；create 命令的负载缺 ID 时在此补齐，其他动作
// 缺 ID 直接拒绝（无从寻址既有实体）。
func (d *Dispatcher) Submit(ctx context.Context, cmd *model.Command) (*Handle, error) {
	if cmd == nil || cmd.Payload == nil {
		return nil, errors.NewError(errors.ErrCodeValidation, "command has no payload")
	}
	descriptor := cmd.Descriptor()
	if _, ok := d.registry.Resolve(descriptor); !ok {
		return nil, errors.NewError(errors.ErrCodeValidation, fmt.Sprintf("no orchestration registered for %s", descriptor))
	}
	if cmd.Payload.GetID() == "" {
		if cmd.Action != model.ActionCreate {
			return nil, errors.NewError(errors.ErrCodeValidation, "command payload has no id").
				WithContext("descriptor", descriptor)
		}
		cmd.Payload.SetID(uuid.NewString())
		if cmd.OrganizationID == "" {
			cmd.OrganizationID = model.OrganizationOf(cmd.Payload)
		}
	}
	if cmd.CommandID == uuid.Nil {
		cmd.CommandID = uuid.New()
	}

	instanceID := cmd.CommandID.String()

	d.mutex.Lock()
	if _, inflight := d.submitting[instanceID]; inflight {
		d.mutex.Unlock()
		return d.GetStatus(ctx, instanceID)
	}
	d.submitting[instanceID] = struct{}{}
	d.mutex.Unlock()
	defer func() {
		d.mutex.Lock()
		delete(d.submitting, instanceID)
		d.mutex.Unlock()
	}()

	existing, err := d.store.Get(ctx, instanceID)
	if err == nil {
		return handleOf(existing)
	}
	if !errors.IsNotFound(err) {
		return nil, err
	}

	instance, err := statestore.NewInstance(cmd)
	if err != nil {
		return nil, err
	}
	if err := d.store.Save(ctx, instance); err != nil {
		return nil, err
	}
	if err := d.enqueue(ctx, instanceID); err != nil {
		return nil, err
	}

	d.logger.Info(ctx, "command submitted",
		logging.String("instance_id", instanceID),
		logging.String("descriptor", descriptor))
	return handleOf(instance)
}

// GetStatus 查询命令状态
func (d *Dispatcher) GetStatus(ctx context.Context, trackingID string) (*Handle, error) {
	instance, err := d.store.Get(ctx, trackingID)
	if err != nil {
		return nil, err
	}
	return handleOf(instance)
}

// Cancel 请求取消命令；实例已终态时返回 false
//
// 取消在编排的下一个步骤边界生效，已完成的活动不回滚。
func (d *Dispatcher) Cancel(ctx context.Context, trackingID string) (bool, error) {
	return d.store.RequestCancel(ctx, trackingID)
}

func (d *Dispatcher) enqueue(ctx context.Context, instanceID string) error {
	d.mutex.Lock()
	if !d.running {
		d.mutex.Unlock()
		return fmt.Errorf("dispatcher is not running")
	}
	queue := d.queue
	d.mutex.Unlock()

	select {
	case queue <- instanceID:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (d *Dispatcher) worker(ctx context.Context, workerID int) {
	defer d.wg.Done()

	for {
		select {
		case instanceID, ok := <-d.queue:
			if !ok {
				return
			}
			d.execute(ctx, instanceID)
		case <-ctx.Done():
			return
		}
	}
}

func (d *Dispatcher) execute(ctx context.Context, instanceID string) {
	instance, err := d.store.Get(ctx, instanceID)
	if err != nil {
		d.logger.Error(ctx, "failed to load instance",
			logging.String("instance_id", instanceID),
			logging.Error(err))
		return
	}
	if instance.Status.IsFinal() {
		return
	}

	def, ok := d.registry.Resolve(instance.Descriptor)
	if !ok {
		d.logger.Error(ctx, "no orchestration registered for resumed instance",
			logging.String("instance_id", instanceID),
			logging.String("descriptor", instance.Descriptor))
		return
	}

	if _, err := d.runner.Execute(ctx, instanceID, def); err != nil {
		d.logger.Error(ctx, "orchestration runtime failure",
			logging.String("instance_id", instanceID),
			logging.Error(err))
	}
}

func handleOf(instance *statestore.Instance) (*Handle, error) {
	handle := &Handle{
		TrackingID:    instance.InstanceID,
		Descriptor:    instance.Descriptor,
		RuntimeStatus: instance.Status,
		CustomStatus:  instance.CustomStatus,
	}
	if instance.Status.IsFinal() {
		result, err := instance.DecodeResult()
		if err != nil {
			return nil, err
		}
		handle.Result = result
	}
	return handle, nil
}
