package storage

import (
	"context"
	"errors"
	"testing"
)

type copyCall struct {
	to, from, msg int64
}

type fakeCopier struct {
	copies  []copyCall
	deletes []int64
	nextID  int64
	err     error
}

func (f *fakeCopier) CopyMessage(_ context.Context, toChat, fromChat, messageID int64) (int64, error) {
	if f.err != nil {
		return 0, f.err
	}
	f.copies = append(f.copies, copyCall{toChat, fromChat, messageID})
	f.nextID++
	return f.nextID, nil
}

func (f *fakeCopier) DeleteMessage(_ context.Context, chatID, messageID int64) error {
	if f.err != nil {
		return f.err
	}
	f.deletes = append(f.deletes, messageID)
	return nil
}

const storageChat = int64(-1001234)

func TestChatStore_Archive(t *testing.T) {
	t.Run("copies into storage chat", func(t *testing.T) {
		api := &fakeCopier{nextID: 99}
		store := NewChatStore(api, storageChat)

		ref, err := store.Archive(context.Background(), 555, 7)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if ref != 100 {
			t.Errorf("expected ref 100, got %d", ref)
		}
		want := copyCall{to: storageChat, from: 555, msg: 7}
		if len(api.copies) != 1 || api.copies[0] != want {
			t.Errorf("expected copy %+v, got %+v", want, api.copies)
		}
	})

	t.Run("wraps platform error", func(t *testing.T) {
		boom := errors.New("bot is not a member of the chat")
		store := NewChatStore(&fakeCopier{err: boom}, storageChat)

		if _, err := store.Archive(context.Background(), 555, 7); !errors.Is(err, boom) {
			t.Errorf("expected wrapped platform error, got %v", err)
		}
	})
}

func TestChatStore_CopyTo(t *testing.T) {
	api := &fakeCopier{}
	store := NewChatStore(api, storageChat)

	if err := store.CopyTo(context.Background(), 42, 100); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	want := copyCall{to: 42, from: storageChat, msg: 100}
	if api.copies[0] != want {
		t.Errorf("expected copy %+v, got %+v", want, api.copies[0])
	}
}

func TestChatStore_Delete(t *testing.T) {
	api := &fakeCopier{}
	store := NewChatStore(api, storageChat)

	if err := store.Delete(context.Background(), 100); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(api.deletes) != 1 || api.deletes[0] != 100 {
		t.Errorf("expected delete of 100, got %v", api.deletes)
	}
}
