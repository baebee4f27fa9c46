package drawcalc

import (
	"context"
	"time"

	"github.com/go-redis/redis/v8"
)

// Settings replacement is serialised across instances with a Redis lock:
// - Acquire: SET NX with an expiration, a single round trip
// - Release: Lua script, so only the owner can delete the lock

const (
	// releaseLockScript deletes the lock only if it still holds our value.
	// An expired lock re-acquired by another instance is left alone.
	releaseLockScript = `
		if redis.call("GET", KEYS[1]) == ARGV[1] then
			return redis.call("DEL", KEYS[1])
		else
			return 0
		end
	`
)

// DistributedLockManager manages Redis distributed locks
type DistributedLockManager struct {
	redisClient   *redis.Client
	lockTimeout   time.Duration
	retryAttempts int
	retryInterval time.Duration

	performanceMonitor *PerformanceMonitor
}

// NewLockManager creates a new distributed lock manager
func NewLockManager(redisClient *redis.Client, lockTimeout time.Duration) *DistributedLockManager {
	return NewLockManagerWithRetry(redisClient, lockTimeout, DefaultRetryAttempts, DefaultRetryInterval)
}

// NewLockManagerWithRetry creates a new distributed lock manager with custom retry settings
func NewLockManagerWithRetry(
	redisClient *redis.Client,
	lockTimeout time.Duration, retryAttempts int, retryInterval time.Duration,
) *DistributedLockManager {
	if lockTimeout <= 0 {
		lockTimeout = DefaultLockTimeout
	}
	if retryAttempts < 0 {
		retryAttempts = 0
	}
	if retryInterval <= 0 {
		retryInterval = DefaultRetryInterval
	}

	return &DistributedLockManager{
		redisClient:   redisClient,
		lockTimeout:   lockTimeout,
		retryAttempts: retryAttempts,
		retryInterval: retryInterval,

		performanceMonitor: NewPerformanceMonitor(),
	}
}

// AcquireLock attempts to acquire a distributed lock, retrying a fixed number of times
func (m *DistributedLockManager) AcquireLock(ctx context.Context, lockKey, lockValue string, expireTime time.Duration) (bool, error) {
	if lockKey == "" || lockValue == "" {
		return false, ErrInvalidParameters.WithDetails("lock key and value must not be empty")
	}
	if expireTime <= 0 {
		expireTime = DefaultLockExpiration
	}

	fullLockKey := LockKeyPrefix + lockKey
	start := time.Now()

	for attempt := 0; attempt <= m.retryAttempts; attempt++ {
		select {
		case <-ctx.Done():
			return false, ctx.Err()
		default:
		}

		acquired, err := m.redisClient.SetNX(ctx, fullLockKey, lockValue, expireTime).Result()
		if err != nil {
			m.performanceMonitor.RecordRedisError()
			if attempt == m.retryAttempts {
				return false, ErrRedisConnectionFailed.WithCause(err)
			}
			time.Sleep(m.retryInterval)
			continue
		}

		if acquired {
			m.performanceMonitor.RecordLockAcquisition(true, time.Since(start))
			return true, nil
		}

		if attempt < m.retryAttempts {
			time.Sleep(m.retryInterval)
		}
	}

	m.performanceMonitor.RecordLockAcquisition(false, time.Since(start))
	return false, ErrLockAcquisitionFailed.WithDetailsf("lock=%s", lockKey)
}

// ReleaseLock releases the lock if it is still owned by lockValue.
// Returns false without error if the lock had expired or changed hands.
func (m *DistributedLockManager) ReleaseLock(ctx context.Context, lockKey, lockValue string) (bool, error) {
	if lockKey == "" || lockValue == "" {
		return false, ErrInvalidParameters.WithDetails("lock key and value must not be empty")
	}

	fullLockKey := LockKeyPrefix + lockKey

	for attempt := 0; attempt <= m.retryAttempts; attempt++ {
		select {
		case <-ctx.Done():
			return false, ctx.Err()
		default:
		}

		result, err := m.redisClient.Eval(ctx, releaseLockScript, []string{fullLockKey}, lockValue).Result()
		if err != nil {
			m.performanceMonitor.RecordRedisError()
			if attempt == m.retryAttempts {
				return false, ErrRedisConnectionFailed.WithCause(err)
			}
			time.Sleep(m.retryInterval)
			continue
		}

		m.performanceMonitor.RecordLockRelease()
		n, ok := result.(int64)
		return ok && n == 1, nil
	}

	return false, ErrRedisConnectionFailed
}

// AcquireLockWithTimeout keeps trying to acquire the lock until timeout elapses
func (m *DistributedLockManager) AcquireLockWithTimeout(
	ctx context.Context, lockKey, lockValue string, expireTime, timeout time.Duration,
) (bool, error) {
	if lockKey == "" || lockValue == "" {
		return false, ErrInvalidParameters.WithDetails("lock key and value must not be empty")
	}
	if expireTime <= 0 {
		expireTime = DefaultLockExpiration
	}
	if timeout <= 0 {
		timeout = m.lockTimeout
	}

	timeoutCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	fullLockKey := LockKeyPrefix + lockKey
	start := time.Now()

	for {
		select {
		case <-timeoutCtx.Done():
			m.performanceMonitor.RecordLockAcquisition(false, time.Since(start))
			return false, ErrLockTimeout.WithDetailsf("lock=%s, timeout=%s", lockKey, timeout)
		default:
		}

		acquired, err := m.redisClient.SetNX(timeoutCtx, fullLockKey, lockValue, expireTime).Result()
		if err != nil {
			m.performanceMonitor.RecordRedisError()
			if timeoutCtx.Err() != nil {
				m.performanceMonitor.RecordLockAcquisition(false, time.Since(start))
				return false, ErrLockTimeout.WithDetailsf("lock=%s, timeout=%s", lockKey, timeout)
			}
			time.Sleep(m.retryInterval)
			continue
		}

		if acquired {
			m.performanceMonitor.RecordLockAcquisition(true, time.Since(start))
			return true, nil
		}

		// 锁被其他实例持有
		time.Sleep(m.retryInterval)
	}
}

// TryAcquireLock attempts to acquire a lock once
func (m *DistributedLockManager) TryAcquireLock(ctx context.Context, lockKey, lockValue string, expireTime time.Duration) (bool, error) {
	if lockKey == "" || lockValue == "" {
		return false, ErrInvalidParameters.WithDetails("lock key and value must not be empty")
	}
	if expireTime <= 0 {
		expireTime = DefaultLockExpiration
	}

	acquired, err := m.redisClient.SetNX(ctx, LockKeyPrefix+lockKey, lockValue, expireTime).Result()
	if err != nil {
		m.performanceMonitor.RecordRedisError()
		return false, ErrRedisConnectionFailed.WithCause(err)
	}

	m.performanceMonitor.RecordLockAcquisition(acquired, 0)
	return acquired, nil
}

// SetPerformanceMonitor 设置性能监控器
func (m *DistributedLockManager) SetPerformanceMonitor(monitor *PerformanceMonitor) {
	if monitor != nil {
		m.performanceMonitor = monitor
	}
}

// GetPerformanceMetrics 获取性能指标
func (m *DistributedLockManager) GetPerformanceMetrics() PerformanceMetrics {
	return m.performanceMonitor.GetMetrics()
}
