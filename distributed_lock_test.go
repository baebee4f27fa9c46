package drawcalc

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/go-redis/redismock/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDistributedLockManagerAcquire(t *testing.T) {
	ctx := context.Background()
	fullKey := LockKeyPrefix + "settings"

	tests := []struct {
		name      string
		setupMock func(mock redismock.ClientMock)
		acquired  bool
		wantErr   error
	}{
		{
			name: "acquired",
			setupMock: func(mock redismock.ClientMock) {
				mock.ExpectSetNX(fullKey, "owner", time.Second).SetVal(true)
			},
			acquired: true,
		},
		{
			name: "acquired_after_retry",
			setupMock: func(mock redismock.ClientMock) {
				mock.ExpectSetNX(fullKey, "owner", time.Second).SetVal(false)
				mock.ExpectSetNX(fullKey, "owner", time.Second).SetVal(true)
			},
			acquired: true,
		},
		{
			name: "held_elsewhere",
			setupMock: func(mock redismock.ClientMock) {
				mock.ExpectSetNX(fullKey, "owner", time.Second).SetVal(false)
				mock.ExpectSetNX(fullKey, "owner", time.Second).SetVal(false)
			},
			wantErr: ErrLockAcquisitionFailed,
		},
		{
			name: "redis_error",
			setupMock: func(mock redismock.ClientMock) {
				mock.ExpectSetNX(fullKey, "owner", time.Second).SetErr(errors.New("connection refused"))
				mock.ExpectSetNX(fullKey, "owner", time.Second).SetErr(errors.New("connection refused"))
			},
			wantErr: ErrRedisConnectionFailed,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			db, mock := redismock.NewClientMock()
			manager := NewLockManagerWithRetry(db, time.Second, 1, time.Millisecond)
			tt.setupMock(mock)

			acquired, err := manager.AcquireLock(ctx, "settings", "owner", time.Second)
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
			} else {
				require.NoError(t, err)
			}
			assert.Equal(t, tt.acquired, acquired)
			assert.NoError(t, mock.ExpectationsWereMet())
		})
	}
}

func TestDistributedLockManagerRelease(t *testing.T) {
	ctx := context.Background()
	fullKey := LockKeyPrefix + "settings"

	t.Run("owner_releases", func(t *testing.T) {
		db, mock := redismock.NewClientMock()
		manager := NewLockManagerWithRetry(db, time.Second, 0, time.Millisecond)

		mock.ExpectEval(releaseLockScript, []string{fullKey}, "owner").SetVal(int64(1))

		released, err := manager.ReleaseLock(ctx, "settings", "owner")
		require.NoError(t, err)
		assert.True(t, released)
		assert.Equal(t, int64(1), manager.GetPerformanceMetrics().LockReleases)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("lock_changed_hands", func(t *testing.T) {
		db, mock := redismock.NewClientMock()
		manager := NewLockManagerWithRetry(db, time.Second, 0, time.Millisecond)

		mock.ExpectEval(releaseLockScript, []string{fullKey}, "owner").SetVal(int64(0))

		released, err := manager.ReleaseLock(ctx, "settings", "owner")
		require.NoError(t, err)
		assert.False(t, released)
	})

	t.Run("empty_key", func(t *testing.T) {
		db, _ := redismock.NewClientMock()
		manager := NewLockManager(db, time.Second)

		_, err := manager.ReleaseLock(ctx, "", "owner")
		assert.ErrorIs(t, err, ErrInvalidParameters)
	})
}

func TestDistributedLockManagerTryAcquire(t *testing.T) {
	ctx := context.Background()
	db, mock := redismock.NewClientMock()
	manager := NewLockManager(db, time.Second)
	monitor := NewPerformanceMonitor()
	manager.SetPerformanceMonitor(monitor)

	mock.ExpectSetNX(LockKeyPrefix+"job", "a", DefaultLockExpiration).SetVal(true)
	mock.ExpectSetNX(LockKeyPrefix+"job", "b", DefaultLockExpiration).SetVal(false)

	acquired, err := manager.TryAcquireLock(ctx, "job", "a", 0)
	require.NoError(t, err)
	assert.True(t, acquired)

	acquired, err = manager.TryAcquireLock(ctx, "job", "b", 0)
	require.NoError(t, err)
	assert.False(t, acquired)

	metrics := monitor.GetMetrics()
	assert.Equal(t, int64(1), metrics.LockAcquisitions)
	assert.Equal(t, int64(1), metrics.LockFailures)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestDistributedLockManagerAcquireWithTimeout(t *testing.T) {
	ctx := context.Background()
	db, mock := redismock.NewClientMock()
	manager := NewLockManagerWithRetry(db, time.Second, 0, time.Millisecond)
	fullKey := LockKeyPrefix + "settings"

	mock.ExpectSetNX(fullKey, "owner", time.Second).SetVal(false)
	mock.ExpectSetNX(fullKey, "owner", time.Second).SetVal(false)
	mock.ExpectSetNX(fullKey, "owner", time.Second).SetVal(true)

	acquired, err := manager.AcquireLockWithTimeout(ctx, "settings", "owner", time.Second, time.Second)
	require.NoError(t, err)
	assert.True(t, acquired)
	assert.NoError(t, mock.ExpectationsWereMet())

	cancelled, cancel := context.WithCancel(ctx)
	cancel()
	acquired, err = manager.AcquireLockWithTimeout(cancelled, "settings", "owner", time.Second, time.Second)
	assert.False(t, acquired)
	assert.ErrorIs(t, err, ErrLockTimeout)
}
