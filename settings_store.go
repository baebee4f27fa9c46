package drawcalc

import (
	"context"
	"encoding/json"
	"sync"
)

// serializeSnapshot serializes a settings snapshot to JSON bytes
func serializeSnapshot(snapshot *SettingsSnapshot) ([]byte, error) {
	if snapshot == nil {
		return nil, ErrInvalidParameters.WithDetails("nil settings snapshot")
	}

	// 只持久化合法的设置
	if err := snapshot.Settings.Validate(); err != nil {
		return nil, err
	}

	data, err := json.Marshal(snapshot)
	if err != nil {
		return nil, ErrSerializationFailed.WithDetailsf("version=%d", snapshot.Version).WithCause(err)
	}

	if len(data) > MaxSerializationSize {
		return nil, ErrSerializationFailed.WithDetailsf(
			"serialized snapshot size (%d bytes) exceeds maximum allowed size (%d bytes): version=%d",
			len(data), MaxSerializationSize, snapshot.Version)
	}

	return data, nil
}

// deserializeSnapshot deserializes JSON bytes back to a settings snapshot
func deserializeSnapshot(data []byte) (*SettingsSnapshot, error) {
	if len(data) == 0 {
		return nil, ErrDeserializationFailed.WithDetails("empty data")
	}
	if len(data) > MaxSerializationSize {
		return nil, ErrDeserializationFailed.WithDetailsf("data size (%d bytes) exceeds maximum allowed size (%d bytes)",
			len(data), MaxSerializationSize)
	}

	var snapshot SettingsSnapshot
	if err := json.Unmarshal(data, &snapshot); err != nil {
		return nil, ErrDeserializationFailed.WithDetails(err.Error()).WithCause(err)
	}

	if err := snapshot.Settings.Validate(); err != nil {
		return nil, ErrDeserializationFailed.WithDetails("persisted settings are invalid").WithCause(err)
	}

	return &snapshot, nil
}

// MemorySettingsStore keeps the latest snapshot in process memory.
// Listeners registered with Subscribe play the role of the change channel.
type MemorySettingsStore struct {
	mu          sync.RWMutex
	snapshot    *SettingsSnapshot
	subscribers []SettingsListener
}

// NewMemorySettingsStore creates an empty in-memory settings store
func NewMemorySettingsStore() *MemorySettingsStore {
	return &MemorySettingsStore{}
}

// Save stores a copy of the snapshot and notifies subscribers.
// Snapshots that are not newer than the stored one are rejected.
func (s *MemorySettingsStore) Save(ctx context.Context, snapshot *SettingsSnapshot) error {
	if snapshot == nil {
		return ErrInvalidParameters.WithDetails("nil settings snapshot")
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	if s.snapshot != nil && s.snapshot.Version >= snapshot.Version {
		current := s.snapshot.Version
		s.mu.Unlock()
		return ErrSettingsVersionConflict.WithDetailsf("stored=%d, new=%d", current, snapshot.Version)
	}
	s.snapshot = snapshot.Clone()
	subscribers := make([]SettingsListener, len(s.subscribers))
	copy(subscribers, s.subscribers)
	s.mu.Unlock()

	for _, fn := range subscribers {
		fn(snapshot.Clone())
	}
	return nil
}

// Load returns a copy of the stored snapshot, or nil if none was saved
func (s *MemorySettingsStore) Load(ctx context.Context) (*SettingsSnapshot, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.snapshot.Clone(), nil
}

// Subscribe registers fn to be called after every successful Save
func (s *MemorySettingsStore) Subscribe(fn SettingsListener) {
	if fn == nil {
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.subscribers = append(s.subscribers, fn)
}
