package drawcalc

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"runtime"
	"strings"
	"time"
)

// ErrorCode 错误代码类型
type ErrorCode string

// 错误代码常量
const (
	// 系统级错误 (1000-1999)
	ErrCodeSystem                   ErrorCode = "DRAWCALC_1000"
	ErrCodeRedisConnection          ErrorCode = "DRAWCALC_1001"
	ErrCodeConfigInvalid            ErrorCode = "DRAWCALC_1002"
	ErrCodeBalanceSourceUnavailable ErrorCode = "DRAWCALC_1003"
	ErrCodeCircuitBreakerOpen       ErrorCode = "DRAWCALC_1004"

	// 计算错误 (2000-2999)
	ErrCodeInvalidParameters    ErrorCode = "DRAWCALC_2000"
	ErrCodeInputLengthMismatch  ErrorCode = "DRAWCALC_2001"
	ErrCodeInvalidPickEncoding  ErrorCode = "DRAWCALC_2002"
	ErrCodePickOutOfRange       ErrorCode = "DRAWCALC_2003"
	ErrCodePicksNotAscending    ErrorCode = "DRAWCALC_2004"
	ErrCodeTooManyPicks         ErrorCode = "DRAWCALC_2005"
	ErrCodePrizeOverflow        ErrorCode = "DRAWCALC_2006"
	ErrCodeTierOutOfRange       ErrorCode = "DRAWCALC_2007"
	ErrCodeBalanceCountMismatch ErrorCode = "DRAWCALC_2008"

	// 开奖设置错误 (3000-3999)
	ErrCodeMatchCardinalityTooSmall ErrorCode = "DRAWCALC_3000"
	ErrCodeBitRangeTooLarge         ErrorCode = "DRAWCALC_3001"
	ErrCodeBitRangeTooSmall         ErrorCode = "DRAWCALC_3002"
	ErrCodePickCostNotPositive      ErrorCode = "DRAWCALC_3003"
	ErrCodeDistributionsExceedWhole ErrorCode = "DRAWCALC_3004"
	ErrCodeSettingsNotInstalled     ErrorCode = "DRAWCALC_3005"
	ErrCodeSettingsVersionConflict  ErrorCode = "DRAWCALC_3006"

	// 锁相关错误 (4000-4999)
	ErrCodeLockAcquisitionFailed ErrorCode = "DRAWCALC_4000"
	ErrCodeLockTimeout           ErrorCode = "DRAWCALC_4001"

	// 状态相关错误 (6000-6999)
	ErrCodeSerializationFailed   ErrorCode = "DRAWCALC_6000"
	ErrCodeDeserializationFailed ErrorCode = "DRAWCALC_6001"
)

// ErrorSeverity 错误严重程度
type ErrorSeverity string

const (
	SeverityCritical ErrorSeverity = "critical"
	SeverityHigh     ErrorSeverity = "high"
	SeverityMedium   ErrorSeverity = "medium"
	SeverityLow      ErrorSeverity = "low"
	SeverityInfo     ErrorSeverity = "info"
)

// CalcError 带错误码的结构化错误
type CalcError struct {
	Code       ErrorCode      `json:"code"`
	Message    string         `json:"message"`
	Details    string         `json:"details,omitempty"`
	Severity   ErrorSeverity  `json:"severity"`
	Timestamp  time.Time      `json:"timestamp"`
	RequestID  string         `json:"request_id,omitempty"`
	User       string         `json:"user,omitempty"`
	Operation  string         `json:"operation,omitempty"`
	StackTrace string         `json:"stack_trace,omitempty"`
	Cause      error          `json:"-"`
	Retryable  bool           `json:"retryable"`
	Metadata   map[string]any `json:"metadata,omitempty"`
}

// Error 实现 error 接口
func (e *CalcError) Error() string {
	if e.Details != "" {
		return fmt.Sprintf("[%s] %s: %s", e.Code, e.Message, e.Details)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap 实现 errors.Unwrap 接口
func (e *CalcError) Unwrap() error {
	return e.Cause
}

// Is 按错误码比较
func (e *CalcError) Is(target error) bool {
	if t, ok := target.(*CalcError); ok {
		return e.Code == t.Code
	}
	return false
}

// clone 复制错误, 预定义的错误实例不会被 With* 修改
func (e *CalcError) clone() *CalcError {
	c := *e
	c.Timestamp = time.Now()
	if e.Metadata != nil {
		c.Metadata = make(map[string]any, len(e.Metadata))
		for k, v := range e.Metadata {
			c.Metadata[k] = v
		}
	}
	return &c
}

// WithCause 添加原因错误
func (e *CalcError) WithCause(cause error) *CalcError {
	c := e.clone()
	c.Cause = cause
	return c
}

// WithDetails 添加详细信息
func (e *CalcError) WithDetails(details string) *CalcError {
	c := e.clone()
	c.Details = details
	return c
}

// WithDetailsf 添加格式化的详细信息
func (e *CalcError) WithDetailsf(format string, args ...any) *CalcError {
	return e.WithDetails(fmt.Sprintf(format, args...))
}

// WithRequestID 添加请求ID
func (e *CalcError) WithRequestID(requestID string) *CalcError {
	c := e.clone()
	c.RequestID = requestID
	return c
}

// WithUser 添加用户地址
func (e *CalcError) WithUser(user string) *CalcError {
	c := e.clone()
	c.User = user
	return c
}

// WithOperation 添加操作信息
func (e *CalcError) WithOperation(operation string) *CalcError {
	c := e.clone()
	c.Operation = operation
	return c
}

// WithMetadata 添加元数据
func (e *CalcError) WithMetadata(key string, value any) *CalcError {
	c := e.clone()
	if c.Metadata == nil {
		c.Metadata = make(map[string]any)
	}
	c.Metadata[key] = value
	return c
}

// WithStackTrace 添加堆栈跟踪
func (e *CalcError) WithStackTrace() *CalcError {
	c := e.clone()
	buf := make([]byte, 4096)
	n := runtime.Stack(buf, false)
	c.StackTrace = string(buf[:n])
	return c
}

// NewError 创建新的错误
func NewError(code ErrorCode, message string) *CalcError {
	return &CalcError{
		Code:      code,
		Message:   message,
		Severity:  SeverityMedium,
		Timestamp: time.Now(),
		Retryable: false,
	}
}

// NewRetryableError 创建可重试的错误
func NewRetryableError(code ErrorCode, message string) *CalcError {
	return &CalcError{
		Code:      code,
		Message:   message,
		Severity:  SeverityMedium,
		Timestamp: time.Now(),
		Retryable: true,
	}
}

// NewCriticalError 创建严重错误
func NewCriticalError(code ErrorCode, message string) *CalcError {
	return &CalcError{
		Code:      code,
		Message:   message,
		Severity:  SeverityCritical,
		Timestamp: time.Now(),
		Retryable: false,
	}
}

// 预定义的错误实例
var (
	// 系统级错误
	ErrSystemError              = NewCriticalError(ErrCodeSystem, "system error occurred")
	ErrRedisConnectionFailed    = NewRetryableError(ErrCodeRedisConnection, "Redis connection failed")
	ErrConfigInvalid            = NewCriticalError(ErrCodeConfigInvalid, "configuration is invalid")
	ErrBalanceSourceUnavailable = NewRetryableError(ErrCodeBalanceSourceUnavailable, "balance source unavailable")
	ErrCircuitBreakerOpen       = NewRetryableError(ErrCodeCircuitBreakerOpen, "circuit breaker is open")

	// 计算错误
	ErrInvalidParameters    = NewError(ErrCodeInvalidParameters, "invalid parameters provided")
	ErrInputLengthMismatch  = NewError(ErrCodeInputLengthMismatch, "input sequences have different lengths")
	ErrInvalidPickEncoding  = NewError(ErrCodeInvalidPickEncoding, "invalid pick encoding")
	ErrPickOutOfRange       = NewError(ErrCodePickOutOfRange, "pick index exceeds the user's total picks")
	ErrPicksNotAscending    = NewError(ErrCodePicksNotAscending, "picks must be strictly ascending")
	ErrTooManyPicks         = NewError(ErrCodeTooManyPicks, "too many picks for a single draw")
	ErrTierOutOfRange       = NewError(ErrCodeTierOutOfRange, "tier index out of range of distributions")
	ErrBalanceCountMismatch = NewError(ErrCodeBalanceCountMismatch, "balance source returned a wrong number of balances")
	ErrPrizeOverflow        = &CalcError{
		Code:     ErrCodePrizeOverflow,
		Message:  "awarded amount exceeds 96 bits",
		Severity: SeverityCritical,
	}

	// 开奖设置错误
	ErrMatchCardinalityTooSmall = NewError(ErrCodeMatchCardinalityTooSmall, "match cardinality smaller than distributions length")
	ErrBitRangeTooLarge         = NewError(ErrCodeBitRangeTooLarge, "bit range size exceeds 256 / match cardinality")
	ErrBitRangeTooSmall         = NewError(ErrCodeBitRangeTooSmall, "bit range size must be at least 1")
	ErrPickCostNotPositive      = NewError(ErrCodePickCostNotPositive, "pick cost must be greater than 0")
	ErrDistributionsExceedWhole = NewError(ErrCodeDistributionsExceedWhole, "distributions sum exceeds 1.0")
	ErrSettingsNotInstalled     = NewError(ErrCodeSettingsNotInstalled, "no draw settings installed")
	ErrSettingsVersionConflict  = NewError(ErrCodeSettingsVersionConflict, "draw settings version conflict")

	// 锁相关错误
	ErrLockAcquisitionFailed = NewRetryableError(ErrCodeLockAcquisitionFailed, "failed to acquire distributed lock")
	ErrLockTimeout           = NewRetryableError(ErrCodeLockTimeout, "lock acquisition timeout")

	// 状态相关错误
	ErrSerializationFailed   = NewError(ErrCodeSerializationFailed, "serialization failed")
	ErrDeserializationFailed = NewError(ErrCodeDeserializationFailed, "deserialization failed")
)

// ErrorHandler 错误处理器接口
type ErrorHandler interface {
	HandleError(ctx context.Context, err error) error
	ShouldRetry(err error) bool
	GetRetryDelay(attempt int, err error) time.Duration
}

// DefaultErrorHandler 默认错误处理器
type DefaultErrorHandler struct {
	logger        Logger
	baseDelay     time.Duration
	maxDelay      time.Duration
	backoffFactor float64
}

// NewDefaultErrorHandler 创建默认错误处理器
func NewDefaultErrorHandler(logger Logger) *DefaultErrorHandler {
	return NewErrorHandlerWithDelay(logger, DefaultRetryInterval)
}

// NewErrorHandlerWithDelay 创建指定基础退避时间的错误处理器
func NewErrorHandlerWithDelay(logger Logger, baseDelay time.Duration) *DefaultErrorHandler {
	return &DefaultErrorHandler{
		logger:        logger,
		baseDelay:     baseDelay,
		maxDelay:      5 * time.Second,
		backoffFactor: 2.0,
	}
}

// requestIDKey 上下文中请求ID的键
type requestIDKey struct{}

// ContextWithRequestID 在上下文中保存请求ID
func ContextWithRequestID(ctx context.Context, requestID string) context.Context {
	return context.WithValue(ctx, requestIDKey{}, requestID)
}

// RequestIDFromContext 从上下文读取请求ID
func RequestIDFromContext(ctx context.Context) string {
	if id, ok := ctx.Value(requestIDKey{}).(string); ok {
		return id
	}
	return ""
}

// HandleError 处理错误
func (h *DefaultErrorHandler) HandleError(ctx context.Context, err error) error {
	if err == nil {
		return nil
	}

	// 转换为 CalcError
	var calcErr *CalcError
	if !errors.As(err, &calcErr) {
		// 包装普通错误, 未知错误按可重试的 Redis 错误处理
		if IsRetryableError(err) {
			calcErr = ErrRedisConnectionFailed.WithDetails(err.Error()).WithCause(err)
		} else {
			calcErr = ErrSystemError.WithDetails(err.Error()).WithCause(err)
		}
	}

	if requestID := RequestIDFromContext(ctx); requestID != "" {
		calcErr = calcErr.WithRequestID(requestID)
	}

	h.logError(calcErr)

	return calcErr
}

// ShouldRetry 判断是否应该重试
func (h *DefaultErrorHandler) ShouldRetry(err error) bool {
	var calcErr *CalcError
	if errors.As(err, &calcErr) {
		return calcErr.Retryable
	}

	return IsRetryableError(err)
}

// GetRetryDelay 获取重试延迟
func (h *DefaultErrorHandler) GetRetryDelay(attempt int, err error) time.Duration {
	if attempt <= 0 {
		return h.baseDelay
	}

	// 指数退避算法
	delay := time.Duration(float64(h.baseDelay) * pow(h.backoffFactor, attempt-1))

	// 添加抖动 (±25%)
	jitter := time.Duration(float64(delay) * 0.25 * (2*rand.Float64() - 1))
	delay += jitter

	// 限制最大延迟
	if delay > h.maxDelay {
		delay = h.maxDelay
	}

	return delay
}

// logError 记录错误日志
func (h *DefaultErrorHandler) logError(err *CalcError) {
	if h.logger == nil {
		return
	}

	switch err.Severity {
	case SeverityCritical, SeverityHigh:
		h.logger.Error("Severe error (request_id=%s): %s", err.RequestID, err.Error())
	case SeverityMedium:
		h.logger.Error("Error (request_id=%s): %s", err.RequestID, err.Error())
	default:
		h.logger.Info("Minor error (request_id=%s): %s", err.RequestID, err.Error())
	}
}

// IsRetryableError 检查是否为可重试错误
func IsRetryableError(err error) bool {
	if err == nil {
		return false
	}

	var calcErr *CalcError
	if errors.As(err, &calcErr) {
		return calcErr.Retryable
	}

	errStr := strings.ToLower(err.Error())
	retryablePatterns := []string{
		"connection refused",
		"connection reset",
		"timeout",
		"network is unreachable",
		"temporary failure",
		"server closed",
		"broken pipe",
		"i/o timeout",
		"dial tcp",
		"read tcp",
		"write tcp",
		"connection timed out",
		"no route to host",
		"host is down",
		"connection aborted",
		"operation timed out",
		"redis: connection pool timeout",
		"redis: client is closed",
	}

	for _, pattern := range retryablePatterns {
		if strings.Contains(errStr, pattern) {
			return true
		}
	}

	return false
}

// pow 计算幂次方
func pow(base float64, exp int) float64 {
	result := 1.0
	for i := 0; i < exp; i++ {
		result *= base
	}
	return result
}

// ErrorRecovery 错误恢复策略
type ErrorRecovery struct {
	handler    ErrorHandler
	maxRetries int
	logger     Logger
}

// NewErrorRecovery 创建错误恢复策略
func NewErrorRecovery(handler ErrorHandler, maxRetries int, logger Logger) *ErrorRecovery {
	return &ErrorRecovery{
		handler:    handler,
		maxRetries: maxRetries,
		logger:     logger,
	}
}

// ExecuteWithRetry 执行带重试的操作
func (r *ErrorRecovery) ExecuteWithRetry(ctx context.Context, operation func() error) error {
	var lastErr error

	for attempt := 0; attempt <= r.maxRetries; attempt++ {
		// 检查上下文是否已取消
		select {
		case <-ctx.Done():
			return ErrSystemError.WithDetails("operation cancelled").WithCause(ctx.Err())
		default:
		}

		err := operation()
		if err == nil {
			if attempt > 0 {
				r.logger.Info("Operation succeeded after %d retries", attempt)
			}
			return nil
		}

		lastErr = r.handler.HandleError(ctx, err)

		if !r.handler.ShouldRetry(lastErr) {
			r.logger.Debug("Error is not retryable: %v", lastErr)
			return lastErr
		}

		// 如果不是最后一次尝试，等待重试
		if attempt < r.maxRetries {
			delay := r.handler.GetRetryDelay(attempt+1, lastErr)
			r.logger.Debug("Retrying operation in %v (attempt %d/%d)", delay, attempt+1, r.maxRetries)

			select {
			case <-ctx.Done():
				return ErrSystemError.WithDetails("operation cancelled during retry").WithCause(ctx.Err())
			case <-time.After(delay):
			}
		}
	}

	return ErrSystemError.WithDetailsf("operation failed after %d attempts", r.maxRetries+1).WithCause(lastErr)
}
