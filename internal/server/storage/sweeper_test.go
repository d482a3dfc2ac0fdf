package storage

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/spf13/afero"

	"relay/internal/server/database"
)

type fakeStore struct {
	mu      sync.Mutex
	deleted []int64
	err     error
}

func (f *fakeStore) Archive(context.Context, int64, int64) (int64, error) { return 0, nil }
func (f *fakeStore) CopyTo(context.Context, int64, int64) error          { return nil }

func (f *fakeStore) Delete(_ context.Context, ref int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deleted = append(f.deleted, ref)
	return f.err
}

// panicRegistry blows up on snapshot to exercise loop recovery.
type panicRegistry struct {
	database.Registry
}

func (panicRegistry) Codes(context.Context) ([]string, error) {
	panic("snapshot exploded")
}

func newRegistry(t *testing.T) *database.JSONStore {
	t.Helper()
	reg, err := database.OpenJSONStore(afero.NewMemMapFs(), "/db.json")
	if err != nil {
		t.Fatalf("failed to open registry: %v", err)
	}
	return reg
}

func putEntry(t *testing.T, reg database.Registry, code string, ref int64, expiresAt *time.Time) {
	t.Helper()
	e := &database.Entry{
		FileReference: "ref-" + code,
		Kind:          database.KindDocument,
		UploaderID:    1,
		UploadedAt:    database.NewTimestamp(time.Now()),
		StorageRef:    ref,
		Category:      database.CategoryDocuments,
	}
	if expiresAt != nil {
		ts := database.NewTimestamp(*expiresAt)
		e.ExpiresAt = &ts
	}
	if err := reg.Put(context.Background(), code, e); err != nil {
		t.Fatalf("failed to put %s: %v", code, err)
	}
}

func TestSweeper_Sweep(t *testing.T) {
	ctx := context.Background()
	now := time.Now()
	past := now.Add(-time.Minute)
	future := now.Add(time.Hour)

	t.Run("evicts only expired entries", func(t *testing.T) {
		reg := newRegistry(t)
		putEntry(t, reg, "old001", 11, &past)
		putEntry(t, reg, "new001", 12, &future)
		putEntry(t, reg, "forevr", 13, nil)
		store := &fakeStore{}

		res, err := NewSweeper(reg, store, time.Hour, func() time.Time { return now }).Sweep(ctx)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if res.Scanned != 3 || res.Removed != 1 || res.Failed != 0 {
			t.Errorf("unexpected result: %+v", res)
		}
		if has, _ := reg.Has(ctx, "old001"); has {
			t.Error("expected expired entry to be removed")
		}
		for _, code := range []string{"new001", "forevr"} {
			if has, _ := reg.Has(ctx, code); !has {
				t.Errorf("expected %s to survive", code)
			}
		}
		if len(store.deleted) != 1 || store.deleted[0] != 11 {
			t.Errorf("expected storage delete of ref 11, got %v", store.deleted)
		}
	})

	t.Run("storage failure does not block eviction", func(t *testing.T) {
		reg := newRegistry(t)
		putEntry(t, reg, "old001", 11, &past)
		store := &fakeStore{err: errors.New("message to delete not found")}

		res, err := NewSweeper(reg, store, time.Hour, func() time.Time { return now }).Sweep(ctx)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if res.Removed != 1 {
			t.Errorf("expected 1 removal, got %+v", res)
		}
		if has, _ := reg.Has(ctx, "old001"); has {
			t.Error("expected entry removed despite storage failure")
		}
	})

	t.Run("expiry scenario one hour", func(t *testing.T) {
		reg := newRegistry(t)
		t0 := time.Unix(now.Unix(), 0)
		exp := t0.Add(time.Hour)
		putEntry(t, reg, "abc123", 21, &exp)
		store := &fakeStore{}

		clock := t0.Add(59 * time.Minute)
		sweeper := NewSweeper(reg, store, time.Hour, func() time.Time { return clock })

		if res, _ := sweeper.Sweep(ctx); res.Removed != 0 {
			t.Fatalf("entry evicted before expiry: %+v", res)
		}

		clock = t0.Add(61 * time.Minute)
		if res, _ := sweeper.Sweep(ctx); res.Removed != 1 {
			t.Fatalf("expected eviction after expiry, got %+v", res)
		}
		if len(store.deleted) != 1 || store.deleted[0] != 21 {
			t.Errorf("expected storage delete of ref 21, got %v", store.deleted)
		}
	})

	t.Run("cancelled context stops early", func(t *testing.T) {
		reg := newRegistry(t)
		putEntry(t, reg, "old001", 11, &past)
		cctx, cancel := context.WithCancel(ctx)
		cancel()

		_, err := NewSweeper(reg, &fakeStore{}, time.Hour, nil).Sweep(cctx)
		if !errors.Is(err, context.Canceled) {
			t.Errorf("expected context.Canceled, got %v", err)
		}
	})
}

func TestSweeper_StartStop(t *testing.T) {
	reg := newRegistry(t)
	past := time.Now().Add(-time.Minute)
	putEntry(t, reg, "old001", 11, &past)

	ctx, cancel := context.WithCancel(context.Background())
	sweeper := NewSweeper(reg, &fakeStore{}, time.Hour, nil)
	sweeper.Start(ctx)

	deadline := time.Now().Add(2 * time.Second)
	for {
		has, _ := reg.Has(context.Background(), "old001")
		if !has {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("initial sweep did not run")
		}
		time.Sleep(10 * time.Millisecond)
	}

	cancel()
	sweeper.Wait()
}

func TestSweeper_RecoversFromPanic(t *testing.T) {
	sweeper := NewSweeper(panicRegistry{}, &fakeStore{}, time.Hour, nil)

	defer func() {
		if r := recover(); r != nil {
			t.Fatalf("panic escaped the sweep loop: %v", r)
		}
	}()
	sweeper.runSweep(context.Background())
}

// poisonedRegistry panics when reading one code and delegates otherwise.
type poisonedRegistry struct {
	database.Registry
	poisoned string
}

func (p poisonedRegistry) Get(ctx context.Context, code string) (*database.Entry, error) {
	if code == p.poisoned {
		var e *database.Entry
		return e.Clone(), nil
	}
	return p.Registry.Get(ctx, code)
}

func TestSweeper_BadEntryDoesNotBlockOthers(t *testing.T) {
	reg := newRegistry(t)
	past := time.Now().Add(-time.Minute)
	putEntry(t, reg, "aaaaaa", 1, nil)
	putEntry(t, reg, "zzzzzz", 2, &past)

	store := &fakeStore{}
	sweeper := NewSweeper(poisonedRegistry{Registry: reg, poisoned: "aaaaaa"}, store, time.Hour, nil)

	res, err := sweeper.Sweep(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.Failed != 1 || res.Removed != 1 {
		t.Errorf("expected 1 failed and 1 removed, got %+v", res)
	}
	if has, _ := reg.Has(context.Background(), "zzzzzz"); has {
		t.Error("expired entry after the bad one should be evicted")
	}
}
