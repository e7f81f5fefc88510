// Package resource 资源配置与采集窗口
package resource

import (
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"github.com/gowvp/skylapse/internal/conf"
	"github.com/gowvp/skylapse/internal/core/bz"
)

// Registry 资源只读索引，配置加载后很少变化
type Registry struct {
	mu        sync.RWMutex
	resources map[int]*Resource
}

// NewRegistry 加载配置中的全部资源，任意一条无效即失败
func NewRegistry(cfgs []conf.Resource) (*Registry, error) {
	reg := Registry{resources: make(map[int]*Resource, len(cfgs))}
	for _, c := range cfgs {
		r, err := FromConfig(c)
		if err != nil {
			return nil, err
		}
		if _, ok := reg.resources[r.Number]; ok {
			return nil, fmt.Errorf("resource[%d]: duplicate number", r.Number)
		}
		reg.resources[r.Number] = r
	}
	slog.Info("resources loaded", "total", len(reg.resources))
	return &reg, nil
}

// Put 新增或替换资源
func (r *Registry) Put(res *Resource) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.resources[res.Number] = res
}

// Lookup 查找资源，包含已停用的
func (r *Registry) Lookup(number int) (*Resource, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	res, ok := r.resources[number]
	return res, ok
}

// Get 查找可用资源，未知或已停用返回 ErrConfiguration
func (r *Registry) Get(number int) (*Resource, error) {
	res, ok := r.Lookup(number)
	if !ok {
		return nil, bz.NewError("resource.Get", number, bz.ErrConfiguration, fmt.Errorf("unknown resource"))
	}
	if !res.Active {
		return nil, bz.NewError("resource.Get", number, bz.ErrConfiguration, fmt.Errorf("resource is inactive"))
	}
	return res, nil
}

// Active 全部启用的资源，按编号升序
func (r *Registry) Active() []*Resource {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Resource, 0, len(r.resources))
	for _, res := range r.resources {
		if res.Active {
			out = append(out, res)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Number < out[j].Number })
	return out
}
