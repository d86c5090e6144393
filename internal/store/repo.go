package store

import (
	"context"
	"errors"

	"github.com/vvzvlad/medical-bot/internal/domain"
)

// ErrNotFound is returned when a requested user does not exist.
var ErrNotFound = errors.New("not found")

// Repo defines storage operations for users and their medication schedules.
// The store is the sole writer of record; callers serialize read-modify-write
// cycles per user (see scheduler locks), so no optimistic locking is needed.
type Repo interface {
	// GetUser loads the user record with all medications (including inactive).
	GetUser(ctx context.Context, chatID int64) (*domain.User, error)
	// SaveUser persists the user row and upserts every medication it holds.
	SaveUser(ctx context.Context, u *domain.User) error
	// ListUserIDs enumerates all known users for the tick loop.
	ListUserIDs(ctx context.Context) ([]int64, error)
	// DeactivateAll soft-deletes every medication of a user and clears
	// outstanding reminders. Used on permanent delivery failure.
	DeactivateAll(ctx context.Context, chatID int64) error
	Close() error
}
