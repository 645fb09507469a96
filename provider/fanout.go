package provider

import (
	"context"
	"fmt"
	"sync"
	"time"

	"stratus/errors"
	"stratus/logging"
	"stratus/model"
)

// Outcome 单个 Provider 的扇出结果
type Outcome struct {
	Provider *model.Provider
	Err      error
}

// RepresentativePicker 从失败集合中选出代表性错误
//
// 失败按 Provider 注册顺序排列，全部错误都已保留在切片里；
// 策略只决定哪一个暴露为命令级失败。
type RepresentativePicker func(failures []Outcome) error

// FirstByRegistration 默认策略：注册顺序最靠前的失败
func FirstByRegistration(failures []Outcome) error {
	if len(failures) == 0 {
		return nil
	}
	return failures[0].Err
}

// Config 扇出配置
type Config struct {
	// Timeout 每个 Provider 调用的独立超时
	Timeout time.Duration

	// Picker 代表性错误选取策略，nil 时使用 FirstByRegistration
	Picker RepresentativePicker
}

// DefaultConfig 默认配置
func DefaultConfig() Config {
	return Config{
		Timeout: 30 * time.Second,
		Picker:  FirstByRegistration,
	}
}

// FanOut Provider 命令扇出
//
// 把同一条命令并行发给目标组织/项目的全部 Provider。部分成功不重试，
// 聚合为单个失败上浮，由操作者决定是否重新提交。
type FanOut struct {
	registry *Registry
	relays   map[model.ProviderProtocol]IRelay
	cfg      Config
	logger   logging.Logger
}

// NewFanOut 创建扇出器
func NewFanOut(registry *Registry, relays map[model.ProviderProtocol]IRelay, cfg Config) *FanOut {
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultConfig().Timeout
	}
	if cfg.Picker == nil {
		cfg.Picker = FirstByRegistration
	}
	return &FanOut{
		registry: registry,
		relays:   relays,
		cfg:      cfg,
		logger:   logging.ComponentLogger("provider.fanout"),
	}
}

// Send 并行扇出，返回与 Provider 注册顺序一致的全量结果
func (f *FanOut) Send(ctx context.Context, cmd *model.Command, doc model.IDocument) ([]Outcome, error) {
	providers, err := f.registry.For(ctx, cmd.OrganizationID, cmd.ProjectID)
	if err != nil {
		return nil, err
	}
	if len(providers) == 0 {
		return nil, nil
	}

	outcomes := make([]Outcome, len(providers))
	var wg sync.WaitGroup
	for i, target := range providers {
		wg.Add(1)
		go func(i int, target *model.Provider) {
			defer wg.Done()
			callCtx, cancel := context.WithTimeout(ctx, f.cfg.Timeout)
			defer cancel()
			outcomes[i] = Outcome{Provider: target, Err: f.relay(callCtx, target, cmd, doc)}
		}(i, target)
	}
	wg.Wait()
	return outcomes, nil
}

// SendCommand 扇出并聚合：任一 Provider 失败即返回代表性错误
func (f *FanOut) SendCommand(ctx context.Context, cmd *model.Command, doc model.IDocument) error {
	outcomes, err := f.Send(ctx, cmd, doc)
	if err != nil {
		return err
	}

	var failures []Outcome
	for _, outcome := range outcomes {
		if outcome.Err != nil {
			failures = append(failures, outcome)
			f.logger.Warn(ctx, "provider command failed",
				logging.String("provider", outcome.Provider.ID),
				logging.String("descriptor", cmd.Descriptor()),
				logging.Error(outcome.Err))
		}
	}
	if len(failures) == 0 {
		return nil
	}

	representative := f.cfg.Picker(failures)
	wrapped := errors.WrapError(representative, errors.ErrCodeProvider,
		fmt.Sprintf("%d of %d providers failed", len(failures), len(outcomes)))
	for _, failure := range failures {
		wrapped = wrapped.WithContext(failure.Provider.ID, failure.Err.Error())
	}
	return wrapped
}

func (f *FanOut) relay(ctx context.Context, target *model.Provider, cmd *model.Command, doc model.IDocument) error {
	relay, ok := f.relays[target.Protocol]
	if !ok {
		return errors.NewError(errors.ErrCodeValidation, fmt.Sprintf("no relay for protocol %s", target.Protocol)).
			WithContext("provider", target.ID)
	}
	return relay.Relay(ctx, target, cmd, doc)
}
