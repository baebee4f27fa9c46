package drawcalc

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// failingStore rejects every Save
type failingStore struct {
	*MemorySettingsStore
	err error
}

func (s *failingStore) Save(ctx context.Context, snapshot *SettingsSnapshot) error { return s.err }

func TestSettingsManagerSetDrawSettings(t *testing.T) {
	ctx := context.Background()
	manager := NewSettingsManager(nil, NewSilentLogger())
	manager.now = func() time.Time { return testTime }

	assert.Nil(t, manager.Current())

	first, err := manager.SetDrawSettings(ctx, testSettings())
	require.NoError(t, err)
	assert.Equal(t, uint64(1), first.Version)
	assert.True(t, first.InstalledAt.Equal(testTime))

	updated := testSettings()
	updated.Distributions = []uint64{500_000_000_000_000_000}
	second, err := manager.SetDrawSettings(ctx, updated)
	require.NoError(t, err)
	assert.Equal(t, uint64(2), second.Version)

	current := manager.Current()
	require.NotNil(t, current)
	assert.Equal(t, uint64(2), current.Version)
	assert.Equal(t, []uint64{500_000_000_000_000_000}, current.Settings.Distributions)

	// 返回的是副本
	current.Settings.Distributions[0] = 1
	assert.Equal(t, uint64(500_000_000_000_000_000), manager.Current().Settings.Distributions[0])
}

func TestSettingsManagerRejectsInvalidSettings(t *testing.T) {
	ctx := context.Background()
	manager := newTestManager(t, testSettings())

	invalid := testSettings()
	invalid.PickCost = nil

	_, err := manager.SetDrawSettings(ctx, invalid)
	assert.ErrorIs(t, err, ErrPickCostNotPositive)

	// 之前的快照保持不变
	current := manager.Current()
	require.NotNil(t, current)
	assert.Equal(t, uint64(1), current.Version)
	assert.Equal(t, int64(1), current.Settings.PickCost.Int64())
}

func TestSettingsManagerStoreFailureKeepsSnapshot(t *testing.T) {
	ctx := context.Background()
	storeErr := ErrRedisConnectionFailed.WithDetails("down")
	store := &failingStore{MemorySettingsStore: NewMemorySettingsStore(), err: storeErr}
	manager := NewSettingsManager(store, NewSilentLogger())

	notified := 0
	manager.OnSettingsChanged(func(*SettingsSnapshot) { notified++ })

	_, err := manager.SetDrawSettings(ctx, testSettings())
	assert.ErrorIs(t, err, ErrRedisConnectionFailed)
	assert.Nil(t, manager.Current())
	assert.Zero(t, notified)
}

func TestSettingsManagerListeners(t *testing.T) {
	ctx := context.Background()
	manager := NewSettingsManager(nil, NewSilentLogger())
	monitor := NewPerformanceMonitor()
	manager.SetPerformanceMonitor(monitor)

	var (
		mu       sync.Mutex
		versions []uint64
	)
	manager.OnSettingsChanged(func(s *SettingsSnapshot) {
		mu.Lock()
		defer mu.Unlock()
		versions = append(versions, s.Version)
	})
	manager.OnSettingsChanged(nil)

	for loopIdx := 0; loopIdx < 3; loopIdx++ {
		_, err := manager.SetDrawSettings(ctx, testSettings())
		require.NoError(t, err)
	}

	assert.Equal(t, []uint64{1, 2, 3}, versions)
	assert.Equal(t, int64(3), monitor.GetMetrics().SettingsUpdates)
}

func TestSettingsManagerApply(t *testing.T) {
	manager := newTestManager(t, testSettings())

	newer := NewSettingsSnapshot(5, testSettings(), testTime)
	require.NoError(t, manager.Apply(newer))
	assert.Equal(t, uint64(5), manager.Current().Version)

	t.Run("stale_version", func(t *testing.T) {
		stale := NewSettingsSnapshot(4, testSettings(), testTime)
		assert.ErrorIs(t, manager.Apply(stale), ErrSettingsVersionConflict)
		assert.Equal(t, uint64(5), manager.Current().Version)
	})

	t.Run("same_version", func(t *testing.T) {
		assert.ErrorIs(t, manager.Apply(newer), ErrSettingsVersionConflict)
	})

	t.Run("invalid_settings", func(t *testing.T) {
		bad := NewSettingsSnapshot(9, testSettings(), testTime)
		bad.Settings.BitRangeSize = 0
		assert.ErrorIs(t, manager.Apply(bad), ErrBitRangeTooSmall)
	})

	t.Run("nil_snapshot", func(t *testing.T) {
		assert.ErrorIs(t, manager.Apply(nil), ErrInvalidParameters)
	})

	t.Run("next_set_continues_from_applied", func(t *testing.T) {
		snapshot, err := manager.SetDrawSettings(context.Background(), testSettings())
		require.NoError(t, err)
		assert.Equal(t, uint64(6), snapshot.Version)
	})
}

func TestSettingsManagerRestore(t *testing.T) {
	ctx := context.Background()
	store := NewMemorySettingsStore()

	t.Run("empty_store", func(t *testing.T) {
		manager := NewSettingsManager(store, NewSilentLogger())
		require.NoError(t, manager.Restore(ctx))
		assert.Nil(t, manager.Current())
	})

	require.NoError(t, store.Save(ctx, NewSettingsSnapshot(7, testSettings(), testTime)))

	t.Run("restores_persisted_snapshot", func(t *testing.T) {
		manager := NewSettingsManager(store, NewSilentLogger())
		require.NoError(t, manager.Restore(ctx))

		current := manager.Current()
		require.NotNil(t, current)
		assert.Equal(t, uint64(7), current.Version)

		snapshot, err := manager.SetDrawSettings(ctx, testSettings())
		require.NoError(t, err)
		assert.Equal(t, uint64(8), snapshot.Version)
	})
}

func TestSettingsManagerVersionConflictRetry(t *testing.T) {
	ctx := context.Background()
	store := NewMemorySettingsStore()

	// 另一个实例已经写入了版本 1
	other := NewSettingsManager(store, NewSilentLogger())
	_, err := other.SetDrawSettings(ctx, testSettings())
	require.NoError(t, err)

	manager := NewSettingsManager(store, NewSilentLogger())
	snapshot, err := manager.SetDrawSettings(ctx, testSettings())
	require.NoError(t, err)
	assert.Equal(t, uint64(2), snapshot.Version)

	stored, err := store.Load(ctx)
	require.NoError(t, err)
	assert.Equal(t, uint64(2), stored.Version)
}

func TestSettingsManagerConcurrentReaders(t *testing.T) {
	ctx := context.Background()
	manager := newTestManager(t, testSettings())

	var wg sync.WaitGroup
	for loopIdx := 0; loopIdx < 8; loopIdx++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for loopIdx := 0; loopIdx < 100; loopIdx++ {
				s := manager.Current()
				// 每个快照内部一致
				if s == nil || len(s.Settings.Distributions) == 0 {
					t.Error("inconsistent snapshot")
					return
				}
			}
		}()
	}

	for loopIdx := 0; loopIdx < 10; loopIdx++ {
		_, err := manager.SetDrawSettings(ctx, testSettings())
		require.NoError(t, err)
	}
	wg.Wait()

	assert.Equal(t, uint64(11), manager.Current().Version)
}

func TestMemorySettingsStore(t *testing.T) {
	ctx := context.Background()
	store := NewMemorySettingsStore()

	loaded, err := store.Load(ctx)
	require.NoError(t, err)
	assert.Nil(t, loaded)

	var received []uint64
	store.Subscribe(func(s *SettingsSnapshot) { received = append(received, s.Version) })

	require.NoError(t, store.Save(ctx, NewSettingsSnapshot(1, testSettings(), testTime)))
	assert.ErrorIs(t, store.Save(ctx, NewSettingsSnapshot(1, testSettings(), testTime)), ErrSettingsVersionConflict)
	require.NoError(t, store.Save(ctx, NewSettingsSnapshot(3, testSettings(), testTime)))
	assert.Equal(t, []uint64{1, 3}, received)

	loaded, err = store.Load(ctx)
	require.NoError(t, err)
	assert.Equal(t, uint64(3), loaded.Version)

	cancelled, cancel := context.WithCancel(ctx)
	cancel()
	assert.True(t, errors.Is(store.Save(cancelled, NewSettingsSnapshot(4, testSettings(), testTime)), context.Canceled))
}

func TestSnapshotSerialization(t *testing.T) {
	snapshot := NewSettingsSnapshot(2, testSettings(), testTime)

	data, err := serializeSnapshot(snapshot)
	require.NoError(t, err)

	restored, err := deserializeSnapshot(data)
	require.NoError(t, err)
	assert.Equal(t, snapshot.Version, restored.Version)
	assert.True(t, snapshot.InstalledAt.Equal(restored.InstalledAt))
	assert.Equal(t, 0, snapshot.Settings.PickCost.Cmp(restored.Settings.PickCost))
	assert.Equal(t, snapshot.Settings.Distributions, restored.Settings.Distributions)

	t.Run("invalid_settings_not_serialized", func(t *testing.T) {
		bad := NewSettingsSnapshot(2, testSettings(), testTime)
		bad.Settings.MatchCardinality = 0
		_, err := serializeSnapshot(bad)
		assert.ErrorIs(t, err, ErrMatchCardinalityTooSmall)
	})

	t.Run("corrupted_data", func(t *testing.T) {
		for _, data := range [][]byte{nil, []byte("{not json"), []byte(`{"version":1,"settings":{}}`)} {
			_, err := deserializeSnapshot(data)
			assert.ErrorIs(t, err, ErrDeserializationFailed)
		}
	})
}
