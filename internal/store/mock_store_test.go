// ABOUTME: Tests for the in-memory MockStore
// ABOUTME: Keeps the mock's checkpoint semantics in line with SQLiteStore

package store

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMockStore_Checkpoints(t *testing.T) {
	m := NewMockStore()
	base := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)

	require.NoError(t, m.SaveLastSync(t.Context(), 3, 7, base))
	require.NoError(t, m.SaveLastSync(t.Context(), 3, 7, base.Add(-time.Second)))
	require.NoError(t, m.SaveLastSync(t.Context(), 2, 7, base))
	assert.Equal(t, 2, m.Saves(), "older checkpoints are not saved")

	got, err := m.LastSync(t.Context(), 3, 7)
	require.NoError(t, err)
	assert.Equal(t, base, got)

	cps, err := m.Checkpoints(t.Context())
	require.NoError(t, err)
	require.Len(t, cps, 2)
	assert.Equal(t, int64(2), cps[0].MeetupID)

	require.NoError(t, m.ClearLastSync(t.Context(), 3, 7))
	got, err = m.LastSync(t.Context(), 3, 7)
	require.NoError(t, err)
	assert.True(t, got.IsZero())
}

func TestMockStore_FailWith(t *testing.T) {
	m := NewMockStore()
	boom := errors.New("disk full")
	m.FailWith(boom)

	assert.ErrorIs(t, m.SaveLastSync(t.Context(), 3, 7, time.Now()), boom)
	_, err := m.LastSync(t.Context(), 3, 7)
	assert.ErrorIs(t, err, boom)

	m.FailWith(nil)
	assert.NoError(t, m.SaveLastSync(t.Context(), 3, 7, time.Now()))
	assert.ErrorIs(t, m.SaveLastSync(t.Context(), 0, 7, time.Now()), ErrInvalidKey)
}
