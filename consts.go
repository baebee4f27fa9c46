package drawcalc

import (
	"math/big"
	"time"
)

const (
	// RandomNumberBits is the width of winning and candidate random numbers
	RandomNumberBits = 256

	// AwardBits is the maximum bit width of a single draw's awarded amount
	AwardBits = 96

	// FixedPointDecimals is the number of decimals of the fixed-point base
	FixedPointDecimals = 18

	// MaxBitRangeSize is the largest width of a single comparison window
	MaxBitRangeSize = 255
)

var (
	// fixedPointOne is 1.0 in the 1e18 fixed-point representation
	fixedPointOne = new(big.Int).Exp(big.NewInt(10), big.NewInt(FixedPointDecimals), nil)

	// maxRandomNumber is 2^256 - 1
	maxRandomNumber = new(big.Int).Sub(new(big.Int).Lsh(big.NewInt(1), RandomNumberBits), big.NewInt(1))
)

// FixedPointOne returns 1.0 in the 1e18 fixed-point representation
func FixedPointOne() *big.Int { return new(big.Int).Set(fixedPointOne) }

const (
	// DefaultRetryAttempts is the default number of retry attempts for Redis reads
	DefaultRetryAttempts = 3

	// DefaultRetryInterval is the default base interval between retry attempts
	DefaultRetryInterval = 100 * time.Millisecond

	// MaxRetryAttempts is the maximum number of retry attempts allowed
	MaxRetryAttempts = 10

	// DefaultLockTimeout is the default time spent waiting for the settings lock
	DefaultLockTimeout = 5 * time.Second

	// DefaultLockExpiration is the default expiration time for locks
	DefaultLockExpiration = 30 * time.Second

	// MinLockTimeout is the minimum lock timeout allowed
	MinLockTimeout = 100 * time.Millisecond

	// MaxLockTimeout is the maximum lock timeout allowed
	MaxLockTimeout = 5 * time.Minute

	// DefaultBalanceTimeout bounds a single balance lookup
	DefaultBalanceTimeout = 5 * time.Second

	// DefaultParallelism evaluates the draws of a batch sequentially
	DefaultParallelism = 1

	// MaxParallelism caps the number of draws evaluated concurrently
	MaxParallelism = 64
)

const (
	// LockKeyPrefix is the prefix for Redis lock keys
	LockKeyPrefix = "drawcalc:lock:"

	// DefaultSettingsKey is the Redis key holding the current settings snapshot
	DefaultSettingsKey = "drawcalc:settings"

	// DefaultSettingsChannel is the Redis channel settings changes are published on
	DefaultSettingsChannel = "drawcalc:settings:changed"

	// BalanceKeyPrefix is the prefix for per-user balance history sorted sets
	BalanceKeyPrefix = "drawcalc:balance:"

	// MaxBalanceTimestamp is the largest timestamp a sorted-set score holds exactly
	MaxBalanceTimestamp = 1 << 53

	// settingsLockName is the lock guarding settings replacement
	settingsLockName = "settings"

	// MaxSerializationSize is the maximum allowed size of a serialized snapshot (1MB)
	MaxSerializationSize = 1024 * 1024
)

const (
	// DefaultCircuitBreakerName is the default name for Circuit Breaker
	DefaultCircuitBreakerName = "drawcalc-balances"

	// DefaultCircuitBreakerMaxRequests is the default max requests
	DefaultCircuitBreakerMaxRequests = 3

	// DefaultCircuitBreakerInterval is the default interval
	DefaultCircuitBreakerInterval = 60 * time.Second

	// DefaultCircuitBreakerTimeout is the default timeout
	DefaultCircuitBreakerTimeout = 30 * time.Second

	// DefaultCircuitBreakerFailureRatio is the default failure ratio
	DefaultCircuitBreakerFailureRatio = 0.6

	// DefaultCircuitBreakerMinRequests is the default min requests
	DefaultCircuitBreakerMinRequests = 3

	// DefaultCircuitBreakerOnStateChange is the default on state change
	DefaultCircuitBreakerOnStateChange = true
)

const (
	DefaultRedisAddr         = "localhost:6379"
	DefaultRedisPassword     = ""
	DefaultRedisDB           = 0
	DefaultRedisPoolSize     = 50
	DefaultRedisMinIdleConns = 10
	DefaultRedisMaxRetries   = 3
	DefaultRedisDialTimeout  = 5 * time.Second
	DefaultRedisReadTimeout  = 3 * time.Second
	DefaultRedisWriteTimeout = 3 * time.Second
	DefaultRedisPoolTimeout  = 4 * time.Second
)
