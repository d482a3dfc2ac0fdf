package database

import (
	"context"
	"errors"
	"sort"
	"strings"
)

var (
	ErrEntryNotFound = errors.New("entry not found")
	ErrUserNotFound  = errors.New("user stats not found")
	ErrCodeTaken     = errors.New("code already in use")
	ErrPersist       = errors.New("failed to persist registry")
)

// Registry is the durable code -> entry mapping plus per-user counters.
// Every implementation serializes operations so that a mutation and its
// flush complete before the next operation observes the store.
type Registry interface {
	Has(ctx context.Context, code string) (bool, error)
	// Get returns ErrEntryNotFound when code is absent.
	Get(ctx context.Context, code string) (*Entry, error)
	// Put inserts or silently overwrites.
	Put(ctx context.Context, code string, entry *Entry) error
	// Insert claims code for entry, failing with ErrCodeTaken if it is live.
	Insert(ctx context.Context, code string, entry *Entry) error
	// Update is a no-op when code is absent.
	Update(ctx context.Context, code string, patch EntryPatch) error
	// Delete is a no-op when code is absent.
	Delete(ctx context.Context, code string) error
	// Rename reports false, changing nothing, unless old exists and new does not.
	Rename(ctx context.Context, oldCode, newCode string) (bool, error)
	// Codes returns a point-in-time snapshot of all live codes.
	Codes(ctx context.Context) ([]string, error)

	ListByCategory(ctx context.Context, category Category, limit int) ([]Item, error)
	ListByUploader(ctx context.Context, userID int64, limit int) ([]Item, error)
	Search(ctx context.Context, keyword string, limit int) ([]Item, error)

	IncrementUpload(ctx context.Context, userID int64) error
	IncrementRetrieved(ctx context.Context, userID int64) error
	// UserStats returns ErrUserNotFound for users with no counters.
	UserStats(ctx context.Context, userID int64) (*UserStats, error)
	DeleteUserStats(ctx context.Context, userID int64) error
	UserIDs(ctx context.Context) ([]int64, error)

	Counts(ctx context.Context) (entries int, users int, err error)
	Close() error
}

// newestFirst orders items by upload time descending, breaking ties by code
// so listings are deterministic, then truncates to limit (limit <= 0 keeps all).
func newestFirst(items []Item, limit int) []Item {
	sort.Slice(items, func(i, j int) bool {
		a, b := items[i].Entry.UploadedAt.Unix(), items[j].Entry.UploadedAt.Unix()
		if a != b {
			return a > b
		}
		return items[i].Code < items[j].Code
	})
	if limit > 0 && len(items) > limit {
		items = items[:limit]
	}
	return items
}

func matchesKeyword(code string, e *Entry, keyword string) bool {
	return strings.Contains(e.searchText(code), strings.ToLower(keyword))
}
