package resilience

import "time"

// 内置资源名。每类外呼共享一个熔断器和一组默认预算。
const (
	// ResourceGeneration 文本生成调用（长超时，少重试）
	ResourceGeneration = "generation"
	// ResourceRetrieval 向量检索调用
	ResourceRetrieval = "retrieval"
	// ResourceLegalSearch 法律案例检索调用
	ResourceLegalSearch = "legal-search"
	// ResourceGenericHTTP 其他 HTTP 外呼
	ResourceGenericHTTP = "generic-http"
)

// Preset 一类资源的完整弹性配置。
type Preset struct {
	Timeout time.Duration
	Policy  Policy
	Breaker BreakerConfig
}

// PresetFor 返回资源名对应的预设；未知资源名落到 generic-http。
// 调用点可通过 Option 覆盖任意字段。
func PresetFor(resource string) Preset {
	switch resource {
	case ResourceGeneration:
		return Preset{
			Timeout: 120 * time.Second,
			Policy: Policy{
				MaxAttempts: 2,
				BaseWait:    1 * time.Second,
				MaxWait:     10 * time.Second,
				Multiplier:  2.0,
			},
			Breaker: DefaultBreakerConfig(),
		}
	case ResourceRetrieval:
		return Preset{
			Timeout: 60 * time.Second,
			Policy:  DefaultPolicy(),
			Breaker: DefaultBreakerConfig(),
		}
	case ResourceLegalSearch:
		return Preset{
			Timeout: 45 * time.Second,
			Policy:  DefaultPolicy(),
			Breaker: DefaultBreakerConfig(),
		}
	default:
		return Preset{
			Timeout: 30 * time.Second,
			Policy:  DefaultPolicy(),
			Breaker: DefaultBreakerConfig(),
		}
	}
}
