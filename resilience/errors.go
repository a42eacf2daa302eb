package resilience

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"time"

	"github.com/BaSui01/lexflow/types"
)

// 哨兵错误，供 errors.Is 判定错误类别。
var (
	// ErrOpen 熔断器处于打开状态，调用被直接拒绝
	ErrOpen = errors.New("circuit breaker is open")

	// ErrTooManyProbes 半开状态下探测调用数已达上限
	ErrTooManyProbes = errors.New("too many probe calls in half-open state")

	// ErrTimeout 操作超出本层配置的时间预算
	ErrTimeout = errors.New("operation timed out")

	// ErrExhausted 重试次数耗尽
	ErrExhausted = errors.New("retries exhausted")
)

// OpenError 携带资源名的熔断拒绝错误。
// 满足 errors.Is(err, ErrOpen)。
type OpenError struct {
	Resource string
}

func (e *OpenError) Error() string {
	return fmt.Sprintf("circuit %q is open", e.Resource)
}

func (e *OpenError) Is(target error) bool {
	return target == ErrOpen
}

// TimeoutError 携带资源名和时间预算的超时错误。
// 满足 errors.Is(err, ErrTimeout)，并解包到 context.DeadlineExceeded。
type TimeoutError struct {
	Resource string
	Limit    time.Duration
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("resource %q timed out after %s", e.Resource, e.Limit)
}

func (e *TimeoutError) Is(target error) bool {
	return target == ErrTimeout
}

func (e *TimeoutError) Unwrap() error {
	return context.DeadlineExceeded
}

// ExhaustedError 重试耗尽错误，保留最后一次失败原因。
// 满足 errors.Is(err, ErrExhausted)；Unwrap 返回最后一次错误，
// 使调用方可以继续用 errors.Is/As 检查原始失败。
type ExhaustedError struct {
	Attempts int
	Last     error
}

func (e *ExhaustedError) Error() string {
	return fmt.Sprintf("failed after %d attempts: %v", e.Attempts, e.Last)
}

func (e *ExhaustedError) Is(target error) bool {
	return target == ErrExhausted
}

func (e *ExhaustedError) Unwrap() error {
	return e.Last
}

// IsTransient 判定错误是否为瞬态故障（允许重试）。
//
// 允许列表：
//   - 标记为 Retryable 的 *types.Error（连接失败、上游超时、限流、503 等）
//   - 网络层错误（net.Error）
//   - 非预期的连接中断（io.ErrUnexpectedEOF、io.EOF）
//
// 永不重试：本层超时（ErrTimeout，context 已失效）、熔断拒绝（ErrOpen）、
// 解析失败（MALFORMED_RESPONSE）、NOT_FOUND 以及其余应用级错误。
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	// 结构化错误优先：显式分类压过底层 context/net 痕迹。
	// 例如上游超时会同时携带 Retryable 标记和 DeadlineExceeded 链，
	// 此时以标记为准。
	switch types.GetErrorCode(err) {
	case types.ErrMalformedResponse, types.ErrNotFound, types.ErrInvalidRequest,
		types.ErrAuthentication, types.ErrUnauthorized, types.ErrForbidden:
		return false
	}
	if types.IsRetryable(err) {
		return true
	}
	if errors.Is(err, ErrTimeout) || errors.Is(err, ErrOpen) ||
		errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}
	if errors.Is(err, io.ErrUnexpectedEOF) || errors.Is(err, io.EOF) {
		return true
	}
	return false
}
