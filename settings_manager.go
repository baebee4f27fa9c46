package drawcalc

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"
)

// SettingsManager owns the currently installed settings snapshot.
//
// Readers get the current snapshot without locking; replacement is
// serialised and all-or-nothing: validate, persist and notify the store,
// then swap. A failure at any step leaves the previous snapshot installed.
type SettingsManager struct {
	store   SettingsStore
	logger  Logger
	current atomic.Pointer[SettingsSnapshot]

	mu          sync.Mutex // 串行化设置替换
	listenersMu sync.RWMutex
	listeners   []SettingsListener

	now                func() time.Time
	performanceMonitor atomic.Pointer[PerformanceMonitor] // 为空时不记录
}

// NewSettingsManager creates a settings manager backed by store.
// A nil store keeps settings in memory only.
func NewSettingsManager(store SettingsStore, logger Logger) *SettingsManager {
	if store == nil {
		store = NewMemorySettingsStore()
	}
	if logger == nil {
		logger = &DefaultLogger{}
	}

	return &SettingsManager{
		store:  store,
		logger: logger,
		now:    time.Now,
	}
}

// SetPerformanceMonitor 设置性能监控器
func (m *SettingsManager) SetPerformanceMonitor(monitor *PerformanceMonitor) {
	if monitor != nil {
		m.performanceMonitor.Store(monitor)
	}
}

// attachPerformanceMonitor sets monitor only if no monitor is set yet and
// reports whether it did
func (m *SettingsManager) attachPerformanceMonitor(monitor *PerformanceMonitor) bool {
	return monitor != nil && m.performanceMonitor.CompareAndSwap(nil, monitor)
}

// SetDrawSettings validates and installs settings as the next version.
// If another instance installed a newer version in the shared store first,
// the manager catches up with it and retries once.
func (m *SettingsManager) SetDrawSettings(ctx context.Context, settings *DrawSettings) (*SettingsSnapshot, error) {
	if err := settings.Validate(); err != nil {
		m.logger.Debug("Rejected draw settings: %v", err)
		return nil, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	var lastErr error
	for attempt := 0; attempt < 2; attempt++ {
		version := uint64(1)
		if cur := m.current.Load(); cur != nil {
			version = cur.Version + 1
		}

		snapshot := NewSettingsSnapshot(version, settings, m.now())
		err := m.store.Save(ctx, snapshot)
		if err == nil {
			m.install(snapshot)
			m.logger.Info("Installed draw settings version %d: bit_range_size=%d, match_cardinality=%d, tiers=%d",
				snapshot.Version, settings.BitRangeSize, settings.MatchCardinality, len(settings.Distributions))
			return snapshot.Clone(), nil
		}

		lastErr = err
		if !errors.Is(err, ErrSettingsVersionConflict) {
			break
		}

		stored, loadErr := m.store.Load(ctx)
		if loadErr != nil {
			return nil, loadErr
		}
		if stored == nil {
			break
		}
		m.installIfNewer(stored)
	}

	m.logger.Error("Failed to install draw settings: %v", lastErr)
	return nil, lastErr
}

// Current returns a copy of the installed snapshot, or nil if none is installed
func (m *SettingsManager) Current() *SettingsSnapshot {
	return m.current.Load().Clone()
}

// snapshot returns the shared installed snapshot for read-only use
func (m *SettingsManager) snapshot() *SettingsSnapshot {
	return m.current.Load()
}

// Restore installs the snapshot persisted in the store, if it is newer than
// the installed one. It is a no-op when the store is empty.
func (m *SettingsManager) Restore(ctx context.Context) error {
	stored, err := m.store.Load(ctx)
	if err != nil {
		return err
	}
	if stored == nil {
		return nil
	}
	if err := stored.Settings.Validate(); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.installIfNewer(stored) {
		m.logger.Info("Restored draw settings version %d", stored.Version)
	}
	return nil
}

// Apply installs a snapshot produced by another instance, typically received
// from the store's change notifications. Stale versions are rejected.
func (m *SettingsManager) Apply(snapshot *SettingsSnapshot) error {
	if snapshot == nil {
		return ErrInvalidParameters.WithDetails("nil settings snapshot")
	}
	if err := snapshot.Settings.Validate(); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.installIfNewer(snapshot) {
		var current uint64
		if cur := m.current.Load(); cur != nil {
			current = cur.Version
		}
		return ErrSettingsVersionConflict.WithDetailsf("installed=%d, received=%d", current, snapshot.Version)
	}

	m.logger.Info("Applied draw settings version %d", snapshot.Version)
	return nil
}

// OnSettingsChanged registers a listener called after every installation
func (m *SettingsManager) OnSettingsChanged(listener SettingsListener) {
	if listener == nil {
		return
	}

	m.listenersMu.Lock()
	defer m.listenersMu.Unlock()

	m.listeners = append(m.listeners, listener)
}

// installIfNewer installs a copy of snapshot if its version is newer.
// Caller holds m.mu.
func (m *SettingsManager) installIfNewer(snapshot *SettingsSnapshot) bool {
	if cur := m.current.Load(); cur != nil && cur.Version >= snapshot.Version {
		return false
	}
	m.install(snapshot.Clone())
	return true
}

// install swaps in snapshot and notifies listeners. Caller holds m.mu.
func (m *SettingsManager) install(snapshot *SettingsSnapshot) {
	m.current.Store(snapshot)
	if monitor := m.performanceMonitor.Load(); monitor != nil {
		monitor.RecordSettingsUpdate()
	}

	m.listenersMu.RLock()
	listeners := make([]SettingsListener, len(m.listeners))
	copy(listeners, m.listeners)
	m.listenersMu.RUnlock()

	for _, listener := range listeners {
		listener(snapshot.Clone())
	}
}
