// ABOUTME: Store interface for local chat state kept between runs
// ABOUTME: Holds per-meetup sync checkpoints used to request missed messages

package store

import (
	"context"
	"errors"
	"time"
)

// ErrInvalidKey is returned for non-positive meetup or user IDs.
var ErrInvalidKey = errors.New("meetup id and user id must be positive")

// Checkpoint records how far a user's view of a meetup has been synced.
type Checkpoint struct {
	MeetupID  int64
	UserID    int64
	LastSync  time.Time
	UpdatedAt time.Time
}

// Store persists sync checkpoints. Checkpoints only move forward: saving an
// older time than the stored one leaves the stored one in place.
type Store interface {
	// LastSync returns the checkpoint time, or the zero time if none exists.
	LastSync(ctx context.Context, meetupID, userID int64) (time.Time, error)
	SaveLastSync(ctx context.Context, meetupID, userID int64, at time.Time) error
	ClearLastSync(ctx context.Context, meetupID, userID int64) error
	Checkpoints(ctx context.Context) ([]Checkpoint, error)
	Close() error
}

func validKey(meetupID, userID int64) error {
	if meetupID <= 0 || userID <= 0 {
		return ErrInvalidKey
	}
	return nil
}
