package resilience

import (
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Registry 按资源名管理熔断器。
// 条目在首次使用时按该资源的预设惰性创建；同名资源的并发请求
// 共享同一个状态机。注入到中间件构造函数中，而不是进程级全局量，
// 便于测试间隔离与手动重置。
type Registry struct {
	logger        *zap.Logger
	onStateChange func(resource string, from, to State)

	mu       sync.RWMutex
	breakers map[string]*Breaker
}

// RegistryOption 配置 Registry。
type RegistryOption func(*Registry)

// WithStateChangeHook 注册全局状态变更回调（供指标上报）。
func WithStateChangeHook(fn func(resource string, from, to State)) RegistryOption {
	return func(r *Registry) {
		r.onStateChange = fn
	}
}

// NewRegistry 创建熔断器注册表。
func NewRegistry(logger *zap.Logger, opts ...RegistryOption) *Registry {
	r := &Registry{
		logger:   logger,
		breakers: make(map[string]*Breaker),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Get 返回资源名对应的熔断器，不存在则按配置创建。
// 首次创建的配置生效，后续调用的 config 被忽略。
func (r *Registry) Get(resource string, config BreakerConfig) *Breaker {
	r.mu.RLock()
	b, ok := r.breakers[resource]
	r.mu.RUnlock()
	if ok {
		return b
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if b, ok = r.breakers[resource]; ok {
		return b
	}

	if r.onStateChange != nil {
		userHook := config.OnStateChange
		registryHook := r.onStateChange
		config.OnStateChange = func(res string, from, to State) {
			registryHook(res, from, to)
			if userHook != nil {
				userHook(res, from, to)
			}
		}
	}

	b = NewBreaker(resource, config, r.logger)
	r.breakers[resource] = b
	return b
}

// Lookup 返回已存在的熔断器，不创建。
func (r *Registry) Lookup(resource string) (*Breaker, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	b, ok := r.breakers[resource]
	return b, ok
}

// BreakerStatus 单个熔断器的监控快照。
type BreakerStatus struct {
	Resource    string    `json:"resource"`
	State       string    `json:"state"`
	Failures    int       `json:"failures"`
	LastFailure time.Time `json:"last_failure,omitempty"`
}

// Snapshot 返回全部熔断器的状态快照，按资源名排序。
func (r *Registry) Snapshot() []BreakerStatus {
	r.mu.RLock()
	defer r.mu.RUnlock()

	statuses := make([]BreakerStatus, 0, len(r.breakers))
	for name, b := range r.breakers {
		b.mu.RLock()
		statuses = append(statuses, BreakerStatus{
			Resource:    name,
			State:       b.state.String(),
			Failures:    b.failureCount,
			LastFailure: b.lastFailureTime,
		})
		b.mu.RUnlock()
	}

	sort.Slice(statuses, func(i, j int) bool {
		return statuses[i].Resource < statuses[j].Resource
	})
	return statuses
}

// Reset 重置指定资源的熔断器，返回是否存在。
func (r *Registry) Reset(resource string) bool {
	b, ok := r.Lookup(resource)
	if ok {
		b.Reset()
	}
	return ok
}

// ResetAll 重置所有熔断器（测试与运维用）。
func (r *Registry) ResetAll() {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, b := range r.breakers {
		b.Reset()
	}
}
