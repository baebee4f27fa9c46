package drawcalc

import (
	"context"
	"errors"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
)

// SettingsStoreConfig configures the Redis settings store
type SettingsStoreConfig struct {
	Key            string        `mapstructure:"key" json:"key"`                         // Redis key of the current snapshot
	Channel        string        `mapstructure:"channel" json:"channel"`                 // Pub/sub channel for change notifications
	LockTimeout    time.Duration `mapstructure:"lock_timeout" json:"lock_timeout"`       // Time spent waiting for the settings lock
	LockExpiration time.Duration `mapstructure:"lock_expiration" json:"lock_expiration"` // Expiration of a held settings lock
}

// DefaultSettingsStoreConfig returns the default settings store configuration
func DefaultSettingsStoreConfig() *SettingsStoreConfig {
	return &SettingsStoreConfig{
		Key:            DefaultSettingsKey,
		Channel:        DefaultSettingsChannel,
		LockTimeout:    DefaultLockTimeout,
		LockExpiration: DefaultLockExpiration,
	}
}

// Validate validates the settings store configuration
func (c *SettingsStoreConfig) Validate() error {
	if c.Key == "" {
		return ErrConfigInvalid.WithDetails("settings_store.key must not be empty")
	}
	if c.Channel == "" {
		return ErrConfigInvalid.WithDetails("settings_store.channel must not be empty")
	}
	if c.LockTimeout < MinLockTimeout || c.LockTimeout > MaxLockTimeout {
		return ErrConfigInvalid.WithDetailsf("settings_store.lock_timeout must be between %v and %v", MinLockTimeout, MaxLockTimeout)
	}
	if c.LockExpiration <= 0 {
		return ErrConfigInvalid.WithDetails("settings_store.lock_expiration must be positive")
	}
	return nil
}

// RedisSettingsStore persists settings snapshots in Redis. Writes are
// serialised with a distributed lock; the snapshot write and the change
// notification go out in one MULTI/EXEC transaction.
type RedisSettingsStore struct {
	redisClient *redis.Client
	lockManager *DistributedLockManager
	recovery    *ErrorRecovery
	logger      Logger
	config      *SettingsStoreConfig

	lockValue func() string
}

// NewRedisSettingsStore creates a Redis-backed settings store
func NewRedisSettingsStore(
	redisClient *redis.Client, config *SettingsStoreConfig, retry *RetryConfig, logger Logger,
) *RedisSettingsStore {
	if config == nil {
		config = DefaultSettingsStoreConfig()
	}
	if logger == nil {
		logger = &DefaultLogger{}
	}

	return &RedisSettingsStore{
		redisClient: redisClient,
		lockManager: NewLockManagerWithRetry(redisClient, config.LockTimeout, retry.attempts(), retry.interval()),
		recovery:    newErrorRecovery(retry, logger),
		logger:      logger,
		config:      config,
		lockValue:   uuid.NewString,
	}
}

// SetPerformanceMonitor routes lock metrics to monitor
func (s *RedisSettingsStore) SetPerformanceMonitor(monitor *PerformanceMonitor) {
	s.lockManager.SetPerformanceMonitor(monitor)
}

// Save persists snapshot and publishes it on the change channel. A stored
// snapshot with the same or a newer version fails with ErrSettingsVersionConflict.
func (s *RedisSettingsStore) Save(ctx context.Context, snapshot *SettingsSnapshot) error {
	data, err := serializeSnapshot(snapshot)
	if err != nil {
		return err
	}

	lockValue := s.lockValue()
	acquired, err := s.lockManager.AcquireLockWithTimeout(ctx, settingsLockName, lockValue,
		s.config.LockExpiration, s.config.LockTimeout)
	if err != nil {
		return err
	}
	if !acquired {
		return ErrLockAcquisitionFailed.WithDetailsf("lock=%s", settingsLockName)
	}
	defer func() {
		if _, err := s.lockManager.ReleaseLock(ctx, settingsLockName, lockValue); err != nil {
			s.logger.Error("Failed to release settings lock: %v", err)
		}
	}()

	existing, err := s.Load(ctx)
	if err != nil {
		return err
	}
	if existing != nil && existing.Version >= snapshot.Version {
		return ErrSettingsVersionConflict.WithDetailsf("stored=%d, new=%d", existing.Version, snapshot.Version)
	}

	_, err = s.redisClient.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, s.config.Key, data, 0)
		pipe.Publish(ctx, s.config.Channel, data)
		return nil
	})
	if err != nil {
		s.logger.Error("Failed to persist settings snapshot: key=%s, version=%d, size=%d bytes, error=%v",
			s.config.Key, snapshot.Version, len(data), err)
		return ErrRedisConnectionFailed.WithDetailsf("persist settings version %d", snapshot.Version).WithCause(err)
	}

	s.logger.Debug("Persisted settings snapshot: key=%s, version=%d, size=%d bytes",
		s.config.Key, snapshot.Version, len(data))
	return nil
}

// Load returns the persisted snapshot, or nil if the key does not exist
func (s *RedisSettingsStore) Load(ctx context.Context) (*SettingsSnapshot, error) {
	var data []byte

	err := s.recovery.ExecuteWithRetry(ctx, func() error {
		var err error
		data, err = s.redisClient.Get(ctx, s.config.Key).Bytes()
		if errors.Is(err, redis.Nil) {
			data = nil
			return nil
		}
		return err
	})
	if err != nil {
		return nil, err
	}

	if len(data) == 0 {
		return nil, nil
	}

	return deserializeSnapshot(data)
}

// Watch delivers snapshots published by any instance to fn until ctx is
// done. Messages that do not decode to a valid snapshot are logged and skipped.
func (s *RedisSettingsStore) Watch(ctx context.Context, fn SettingsListener) error {
	if fn == nil {
		return ErrInvalidParameters.WithDetails("nil settings listener")
	}

	sub := s.redisClient.Subscribe(ctx, s.config.Channel)
	defer sub.Close()

	// 等待订阅确认
	if _, err := sub.Receive(ctx); err != nil {
		return ErrRedisConnectionFailed.WithDetailsf("subscribe %s", s.config.Channel).WithCause(err)
	}

	ch := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case msg, ok := <-ch:
			if !ok {
				return nil
			}
			snapshot, err := deserializeSnapshot([]byte(msg.Payload))
			if err != nil {
				s.logger.Error("Ignoring invalid settings notification on %s: %v", s.config.Channel, err)
				continue
			}
			fn(snapshot)
		}
	}
}
