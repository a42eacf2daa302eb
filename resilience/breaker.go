package resilience

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/BaSui01/lexflow/types"
)

// State 熔断器状态
type State int

const (
	// StateClosed 关闭状态（正常工作）
	StateClosed State = iota
	// StateOpen 打开状态（熔断中）
	StateOpen
	// StateHalfOpen 半开状态（试探性恢复）
	StateHalfOpen
)

func (s State) String() string {
	switch s {
	case StateClosed:
		return "Closed"
	case StateOpen:
		return "Open"
	case StateHalfOpen:
		return "HalfOpen"
	default:
		return "Unknown"
	}
}

// BreakerConfig 熔断器配置
type BreakerConfig struct {
	// FailMax 连续失败次数阈值（触发熔断）
	FailMax int

	// ResetTimeout 熔断恢复等待时间（从 Open -> HalfOpen）
	ResetTimeout time.Duration

	// HalfOpenMaxProbes 半开状态下允许的最大探测请求数
	HalfOpenMaxProbes int

	// OnStateChange 状态变更回调（携带资源名，供指标上报）
	OnStateChange func(resource string, from, to State)
}

// DefaultBreakerConfig 返回默认配置
func DefaultBreakerConfig() BreakerConfig {
	return BreakerConfig{
		FailMax:           5,
		ResetTimeout:      60 * time.Second,
		HalfOpenMaxProbes: 1,
	}
}

// Breaker 单个资源的熔断器状态机。
// 状态转换只由包裹该资源调用的中间件触发；并发安全。
type Breaker struct {
	resource string
	config   BreakerConfig
	logger   *zap.Logger

	mu              sync.RWMutex
	state           State
	failureCount    int       // 连续失败次数
	lastFailureTime time.Time // 最后失败时间
	probeCount      int       // 半开状态下已放行的探测数
}

// NewBreaker 创建熔断器
func NewBreaker(resource string, config BreakerConfig, logger *zap.Logger) *Breaker {
	if config.FailMax <= 0 {
		config.FailMax = 5
	}
	if config.ResetTimeout <= 0 {
		config.ResetTimeout = 60 * time.Second
	}
	if config.HalfOpenMaxProbes <= 0 {
		config.HalfOpenMaxProbes = 1
	}

	return &Breaker{
		resource: resource,
		config:   config,
		logger:   logger.With(zap.String("circuit", resource)),
		state:    StateClosed,
	}
}

// Resource 返回熔断器保护的资源名。
func (b *Breaker) Resource() string {
	return b.resource
}

// Allow 调用前检查：Open 状态直接拒绝，到期转入 HalfOpen 放行探测。
// 返回 nil 表示调用被放行，之后必须恰好调用一次 Record。
func (b *Breaker) Allow() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case StateClosed:
		return nil

	case StateOpen:
		// 检查是否可以进入半开状态
		if time.Since(b.lastFailureTime) > b.config.ResetTimeout {
			b.setState(StateHalfOpen)
			b.probeCount = 1
			b.logger.Info("熔断器进入半开状态")
			return nil
		}
		return &OpenError{Resource: b.resource}

	case StateHalfOpen:
		// 半开状态，限制探测数
		if b.probeCount >= b.config.HalfOpenMaxProbes {
			return fmt.Errorf("circuit %q: %w", b.resource, ErrTooManyProbes)
		}
		b.probeCount++
		return nil

	default:
		return fmt.Errorf("circuit %q in unknown state %v", b.resource, b.state)
	}
}

// Record 调用后记录结果，推进状态机。
// 客户端错误（无效请求、认证失败、未找到、解析失败）不计入熔断失败：
// 它们说明后端在正常响应，只是请求本身有问题。调用方主动取消
// （context.Canceled）同样不归咎于资源。
func (b *Breaker) Record(err error) {
	success := err == nil || isClientError(err) ||
		(errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded))

	b.mu.Lock()
	defer b.mu.Unlock()

	if success {
		b.onSuccess()
	} else {
		b.onFailure()
	}
}

// isClientError 判断错误是否为客户端错误（不应计入熔断失败）。
func isClientError(err error) bool {
	switch types.GetErrorCode(err) {
	case types.ErrInvalidRequest, types.ErrAuthentication, types.ErrUnauthorized,
		types.ErrForbidden, types.ErrNotFound, types.ErrMalformedResponse,
		types.ErrContentFiltered, types.ErrContextTooLong:
		return true
	}
	return false
}

// onSuccess 处理成功调用
func (b *Breaker) onSuccess() {
	switch b.state {
	case StateClosed:
		b.failureCount = 0

	case StateHalfOpen:
		// 探测成功，恢复到关闭状态
		b.logger.Info("熔断器恢复正常", zap.Int("probes", b.probeCount))
		b.setState(StateClosed)
		b.failureCount = 0
		b.probeCount = 0

	case StateOpen:
		// 打开状态不应该有调用
		b.logger.Warn("熔断器打开状态收到成功响应")
	}
}

// onFailure 处理失败调用
func (b *Breaker) onFailure() {
	b.failureCount++
	b.lastFailureTime = time.Now()

	switch b.state {
	case StateClosed:
		if b.failureCount >= b.config.FailMax {
			b.logger.Warn("熔断器打开",
				zap.Int("failure_count", b.failureCount),
				zap.Int("fail_max", b.config.FailMax),
			)
			b.setState(StateOpen)
		}

	case StateHalfOpen:
		// 探测失败，重新打开并重置恢复计时
		b.logger.Warn("熔断器半开探测失败，重新打开")
		b.setState(StateOpen)
		b.probeCount = 0

	case StateOpen:
		b.logger.Warn("熔断器打开状态收到失败响应")
	}
}

// setState 设置状态并触发回调
func (b *Breaker) setState(newState State) {
	oldState := b.state
	b.state = newState

	if b.config.OnStateChange != nil {
		go b.config.OnStateChange(b.resource, oldState, newState)
	}
}

// State 获取当前状态
func (b *Breaker) State() State {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.state
}

// Failures 返回当前连续失败计数。
func (b *Breaker) Failures() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.failureCount
}

// Reset 重置熔断器（手动恢复）
func (b *Breaker) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()

	oldState := b.state
	b.state = StateClosed
	b.failureCount = 0
	b.probeCount = 0

	b.logger.Info("熔断器已重置", zap.String("from_state", oldState.String()))

	if b.config.OnStateChange != nil && oldState != StateClosed {
		go b.config.OnStateChange(b.resource, oldState, StateClosed)
	}
}
