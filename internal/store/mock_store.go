// ABOUTME: Mock Store implementation for testing
// ABOUTME: Allows tests to run without SQLite

package store

import (
	"context"
	"sort"
	"sync"
	"time"
)

type checkpointKey struct {
	meetupID int64
	userID   int64
}

// MockStore is an in-memory Store implementation for testing.
type MockStore struct {
	mu          sync.RWMutex
	checkpoints map[checkpointKey]Checkpoint
	saves       int
	err         error
}

// NewMockStore creates a new MockStore.
func NewMockStore() *MockStore {
	return &MockStore{
		checkpoints: make(map[checkpointKey]Checkpoint),
	}
}

// FailWith makes every later call return err. Pass nil to recover.
func (m *MockStore) FailWith(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.err = err
}

// Saves returns how many SaveLastSync calls changed a checkpoint.
func (m *MockStore) Saves() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.saves
}

// LastSync returns the checkpoint time, or the zero time if none exists.
func (m *MockStore) LastSync(ctx context.Context, meetupID, userID int64) (time.Time, error) {
	if err := validKey(meetupID, userID); err != nil {
		return time.Time{}, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.err != nil {
		return time.Time{}, m.err
	}
	return m.checkpoints[checkpointKey{meetupID, userID}].LastSync, nil
}

// SaveLastSync stores at unless a later checkpoint is already stored.
func (m *MockStore) SaveLastSync(ctx context.Context, meetupID, userID int64, at time.Time) error {
	if err := validKey(meetupID, userID); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	if at.IsZero() {
		return nil
	}

	key := checkpointKey{meetupID, userID}
	if cp, ok := m.checkpoints[key]; ok && !at.After(cp.LastSync) {
		return nil
	}
	m.checkpoints[key] = Checkpoint{
		MeetupID:  meetupID,
		UserID:    userID,
		LastSync:  at.UTC(),
		UpdatedAt: time.Now().UTC(),
	}
	m.saves++
	return nil
}

// ClearLastSync removes a checkpoint.
func (m *MockStore) ClearLastSync(ctx context.Context, meetupID, userID int64) error {
	if err := validKey(meetupID, userID); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	delete(m.checkpoints, checkpointKey{meetupID, userID})
	return nil
}

// Checkpoints lists every stored checkpoint ordered by meetup and user.
func (m *MockStore) Checkpoints(ctx context.Context) ([]Checkpoint, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.err != nil {
		return nil, m.err
	}

	out := make([]Checkpoint, 0, len(m.checkpoints))
	for _, cp := range m.checkpoints {
		out = append(out, cp)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].MeetupID != out[j].MeetupID {
			return out[i].MeetupID < out[j].MeetupID
		}
		return out[i].UserID < out[j].UserID
	})
	return out, nil
}

// Close is a no-op.
func (m *MockStore) Close() error {
	return nil
}

var _ Store = (*MockStore)(nil)
