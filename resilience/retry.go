package resilience

import (
	"context"
	"fmt"
	"math"
	"math/rand"
	"time"

	"go.uber.org/zap"
)

// Policy 定义重试策略配置
type Policy struct {
	MaxAttempts int                                               // 总尝试次数（含首次，最小 1）
	BaseWait    time.Duration                                     // 初始退避时间
	MaxWait     time.Duration                                     // 最大退避时间
	Multiplier  float64                                           // 退避倍增因子（指数退避）
	Jitter      bool                                              // 是否添加随机抖动（防止雪崩）
	RetryIf     func(err error) bool                              // 瞬态判定（nil 使用 IsTransient 白名单）
	OnRetry     func(attempt int, err error, delay time.Duration) // 重试回调
}

// DefaultPolicy 返回默认的重试策略
func DefaultPolicy() Policy {
	return Policy{
		MaxAttempts: 3,
		BaseWait:    1 * time.Second,
		MaxWait:     10 * time.Second,
		Multiplier:  2.0,
		Jitter:      false,
	}
}

// normalize 参数校验
func (p Policy) normalize() Policy {
	if p.MaxAttempts < 1 {
		p.MaxAttempts = 1
	}
	if p.BaseWait <= 0 {
		p.BaseWait = 1 * time.Second
	}
	if p.MaxWait <= 0 {
		p.MaxWait = 10 * time.Second
	}
	if p.Multiplier < 1.0 {
		p.Multiplier = 2.0
	}
	if p.RetryIf == nil {
		p.RetryIf = IsTransient
	}
	return p
}

// Backoff 计算第 attempt 次重试前的等待时间（attempt 从 1 开始）。
// 公式：min(base × multiplier^(attempt-1), max)，可选 ±25% 抖动。
func (p Policy) Backoff(attempt int) time.Duration {
	delay := float64(p.BaseWait) * math.Pow(p.Multiplier, float64(attempt-1))

	if delay > float64(p.MaxWait) {
		delay = float64(p.MaxWait)
	}

	// 抖动防止多个客户端同步重试
	if p.Jitter {
		jitter := delay * 0.25
		delay = delay + (rand.Float64()*2-1)*jitter
	}

	if delay < float64(p.BaseWait) {
		delay = float64(p.BaseWait)
	}

	return time.Duration(delay)
}

// doRetry 核心重试循环：指数退避 + 瞬态白名单 + context 取消。
// 耗尽后返回 *ExhaustedError 包裹最后一次错误。
func doRetry(ctx context.Context, policy Policy, logger *zap.Logger, fn func(context.Context) (any, error)) (any, error) {
	policy = policy.normalize()

	var lastErr error
	var result any

	for attempt := 1; attempt <= policy.MaxAttempts; attempt++ {
		if attempt > 1 {
			delay := policy.Backoff(attempt - 1)

			logger.Debug("重试中",
				zap.Int("attempt", attempt),
				zap.Int("max_attempts", policy.MaxAttempts),
				zap.Duration("delay", delay),
				zap.Error(lastErr),
			)

			if policy.OnRetry != nil {
				policy.OnRetry(attempt, lastErr, delay)
			}

			// 等待退避，同时监听 context 取消
			select {
			case <-ctx.Done():
				return nil, fmt.Errorf("retry aborted: %w", ctx.Err())
			case <-time.After(delay):
			}
		}

		result, lastErr = fn(ctx)

		if lastErr == nil {
			if attempt > 1 {
				logger.Info("重试成功", zap.Int("attempt", attempt))
			}
			return result, nil
		}

		// 应用级错误不重试，直接返回
		if !policy.RetryIf(lastErr) {
			logger.Debug("错误不可重试", zap.Error(lastErr))
			return nil, lastErr
		}
	}

	if policy.MaxAttempts > 1 {
		logger.Warn("重试次数耗尽",
			zap.Int("attempts", policy.MaxAttempts),
			zap.Error(lastErr),
		)
		return nil, &ExhaustedError{Attempts: policy.MaxAttempts, Last: lastErr}
	}

	return nil, lastErr
}
