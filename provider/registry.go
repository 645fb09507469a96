// Package provider 实现 Provider 注册表与命令扇出
//
// Provider 是外部供给服务，按组织注册（可选限定项目），通过 NATS
// request/reply 或 HTTP 接收中继的命令。扇出并行发送、逐个超时，
// 聚合时保留全部错误并按可配置策略选出代表性失败。
package provider

import (
	"context"
	"sort"
	"time"

	"stratus/cache"
	"stratus/data"
	"stratus/logging"
	"stratus/model"
)

// Registry Provider 注册表
//
// 读路径带 LRU/TTL 缓存：扇出在每条命令上都要解析 Provider 集合，
// 注册文档本身很少变化。返回顺序固定为注册时间序（同刻按 ID），
// 这一顺序决定默认的代表性错误选取。
type Registry struct {
	store  data.IDocumentStore
	cache  *cache.Cache[string, []*model.Provider]
	logger logging.Logger
}

// NewRegistry 创建注册表
func NewRegistry(store data.IDocumentStore) *Registry {
	return &Registry{
		store: store,
		cache: cache.New[string, []*model.Provider](cache.Config{
			Name:    "provider_registry",
			MaxSize: 256,
			TTL:     30 * time.Second,
		}),
		logger: logging.ComponentLogger("provider.registry"),
	}
}

// For 解析对指定组织/项目生效的 Provider，按注册顺序返回
func (r *Registry) For(ctx context.Context, organizationID, projectID string) ([]*model.Provider, error) {
	all, found := r.cache.Get(organizationID)
	if !found {
		var err error
		all, err = r.load(ctx, organizationID)
		if err != nil {
			return nil, err
		}
		r.cache.Set(organizationID, all)
	}

	var applicable []*model.Provider
	for _, p := range all {
		if p.AppliesTo(projectID) {
			applicable = append(applicable, p)
		}
	}
	return applicable, nil
}

// Invalidate 失效组织的缓存条目（Provider 注册变更后调用）
func (r *Registry) Invalidate(organizationID string) {
	r.cache.Delete(organizationID)
}

func (r *Registry) load(ctx context.Context, organizationID string) ([]*model.Provider, error) {
	var providers []*model.Provider
	for doc, err := range r.store.List(ctx, model.KindProvider, organizationID) {
		if err != nil {
			return nil, err
		}
		providers = append(providers, doc.(*model.Provider))
	}

	sort.SliceStable(providers, func(i, j int) bool {
		if !providers[i].Registered.Equal(providers[j].Registered) {
			return providers[i].Registered.Before(providers[j].Registered)
		}
		return providers[i].ID < providers[j].ID
	})
	return providers, nil
}
