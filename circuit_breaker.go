package drawcalc

import (
	"context"
	"errors"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/sony/gobreaker"
)

// CircuitBreakerConfig 熔断器配置
type CircuitBreakerConfig struct {
	Enabled       bool          `mapstructure:"enabled"`
	Name          string        `mapstructure:"name"`
	MaxRequests   uint32        `mapstructure:"max_requests"`
	Interval      time.Duration `mapstructure:"interval"`
	Timeout       time.Duration `mapstructure:"timeout"`
	FailureRatio  float64       `mapstructure:"failure_ratio"`
	MinRequests   uint32        `mapstructure:"min_requests"`
	OnStateChange bool          `mapstructure:"on_state_change"`
}

// DefaultCircuitBreakerConfig 返回默认熔断器配置
func DefaultCircuitBreakerConfig() *CircuitBreakerConfig {
	return &CircuitBreakerConfig{
		Enabled:       true,
		Name:          DefaultCircuitBreakerName,
		MaxRequests:   DefaultCircuitBreakerMaxRequests,
		Interval:      DefaultCircuitBreakerInterval,
		Timeout:       DefaultCircuitBreakerTimeout,
		FailureRatio:  DefaultCircuitBreakerFailureRatio,
		MinRequests:   DefaultCircuitBreakerMinRequests,
		OnStateChange: DefaultCircuitBreakerOnStateChange,
	}
}

// Validate 验证熔断器配置
func (c *CircuitBreakerConfig) Validate() error {
	if !c.Enabled {
		return nil
	}
	if c.Name == "" {
		return ErrConfigInvalid.WithDetails("circuit_breaker.name must not be empty")
	}
	if c.FailureRatio <= 0 || c.FailureRatio > 1 {
		return ErrConfigInvalid.WithDetails("circuit_breaker.failure_ratio must be in (0, 1]")
	}
	if c.Timeout <= 0 {
		return ErrConfigInvalid.WithDetails("circuit_breaker.timeout must be positive")
	}
	return nil
}

// CircuitBreakerBalanceSource 带熔断器的余额数据源
type CircuitBreakerBalanceSource struct {
	source BalanceSource

	breaker *gobreaker.CircuitBreaker
	logger  Logger
	config  *CircuitBreakerConfig
}

// NewCircuitBreakerBalanceSource wraps source with a circuit breaker.
// A disabled config yields a pass-through wrapper.
func NewCircuitBreakerBalanceSource(source BalanceSource, config *CircuitBreakerConfig, logger Logger) *CircuitBreakerBalanceSource {
	if config == nil {
		config = DefaultCircuitBreakerConfig()
	}

	c := &CircuitBreakerBalanceSource{
		source: source,
		logger: logger,
		config: config,
	}
	if config.Enabled {
		c.breaker = c.newBreaker()
	}
	return c
}

func (c *CircuitBreakerBalanceSource) newBreaker() *gobreaker.CircuitBreaker {
	config := c.config
	return gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        config.Name,
		MaxRequests: config.MaxRequests,
		Interval:    config.Interval,
		Timeout:     config.Timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			// 请求数达到最小要求且失败率超过阈值时熔断
			return counts.Requests >= config.MinRequests &&
				float64(counts.TotalFailures)/float64(counts.Requests) >= config.FailureRatio
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			if config.OnStateChange && c.logger != nil {
				c.logger.Info("Circuit breaker '%s' state changed from %s to %s", name, from, to)
			}
		},
		// 调用方的参数错误不计入失败
		IsSuccessful: func(err error) bool {
			if err == nil {
				return true
			}
			var calcErr *CalcError
			return errors.As(err, &calcErr) && !calcErr.Retryable
		},
	})
}

// BalancesAt implements BalanceSource
func (c *CircuitBreakerBalanceSource) BalancesAt(ctx context.Context, user common.Address, timestamps []uint64) ([]*big.Int, error) {
	if c.breaker == nil {
		return c.source.BalancesAt(ctx, user, timestamps)
	}

	result, err := c.breaker.Execute(func() (any, error) {
		return c.source.BalancesAt(ctx, user, timestamps)
	})
	if err != nil {
		switch {
		case errors.Is(err, gobreaker.ErrOpenState):
			return nil, ErrCircuitBreakerOpen.WithDetails("circuit breaker is open, balance lookups are being rejected")
		case errors.Is(err, gobreaker.ErrTooManyRequests):
			return nil, ErrCircuitBreakerOpen.WithDetails("too many requests, circuit breaker is half-open")
		}
		return nil, err
	}

	return result.([]*big.Int), nil
}

// GetCircuitBreakerState 获取熔断器状态
func (c *CircuitBreakerBalanceSource) GetCircuitBreakerState() string {
	if c.breaker == nil {
		return "disabled"
	}

	switch c.breaker.State() {
	case gobreaker.StateClosed:
		return "closed"
	case gobreaker.StateHalfOpen:
		return "half-open"
	case gobreaker.StateOpen:
		return "open"
	default:
		return "unknown"
	}
}

// GetCircuitBreakerCounts 获取熔断器统计信息
func (c *CircuitBreakerBalanceSource) GetCircuitBreakerCounts() gobreaker.Counts {
	if c.breaker == nil {
		return gobreaker.Counts{}
	}
	return c.breaker.Counts()
}

// ResetCircuitBreaker 重置熔断器 (gobreaker 没有 Reset, 重新创建实例)
func (c *CircuitBreakerBalanceSource) ResetCircuitBreaker() {
	if c.breaker == nil {
		return
	}

	c.breaker = c.newBreaker()
	if c.logger != nil {
		c.logger.Info("Circuit breaker '%s' has been reset (recreated)", c.config.Name)
	}
}

// HealthCheck 熔断器健康状态
func (c *CircuitBreakerBalanceSource) HealthCheck() map[string]any {
	result := map[string]any{
		"circuit_breaker_enabled": c.config.Enabled,
	}

	if c.breaker == nil {
		result["state"] = "disabled"
		result["healthy"] = true
		return result
	}

	state := c.GetCircuitBreakerState()
	counts := c.GetCircuitBreakerCounts()

	result["state"] = state
	result["requests"] = counts.Requests
	result["total_successes"] = counts.TotalSuccesses
	result["total_failures"] = counts.TotalFailures
	result["consecutive_failures"] = counts.ConsecutiveFailures

	healthy := true
	switch state {
	case "open":
		healthy = false
	case "half-open":
		// 半开状态下连续失败过多视为不健康
		healthy = counts.ConsecutiveFailures <= 2
	}
	result["healthy"] = healthy

	return result
}
