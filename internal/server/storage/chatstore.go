package storage

import (
	"context"
	"fmt"
)

// Store is the durable holding area for original file copies. References
// are location-local message ids.
type Store interface {
	// Archive copies an inbound message into the store and returns its ref.
	Archive(ctx context.Context, sourceChatID, sourceMessageID int64) (int64, error)
	// CopyTo duplicates the stored copy at ref into destChatID.
	CopyTo(ctx context.Context, destChatID, ref int64) error
	// Delete removes the stored copy at ref.
	Delete(ctx context.Context, ref int64) error
}

// MessageCopier is the subset of the platform client a ChatStore needs.
type MessageCopier interface {
	CopyMessage(ctx context.Context, toChat, fromChat, messageID int64) (int64, error)
	DeleteMessage(ctx context.Context, chatID, messageID int64) error
}

// ChatStore keeps file copies as messages in a private storage chat.
type ChatStore struct {
	api    MessageCopier
	chatID int64
}

// NewChatStore creates a store backed by the chat with id chatID.
func NewChatStore(api MessageCopier, chatID int64) *ChatStore {
	return &ChatStore{api: api, chatID: chatID}
}

// ChatID returns the storage chat id.
func (cs *ChatStore) ChatID() int64 {
	return cs.chatID
}

func (cs *ChatStore) Archive(ctx context.Context, sourceChatID, sourceMessageID int64) (int64, error) {
	ref, err := cs.api.CopyMessage(ctx, cs.chatID, sourceChatID, sourceMessageID)
	if err != nil {
		return 0, fmt.Errorf("failed to archive message %d from chat %d: %w", sourceMessageID, sourceChatID, err)
	}
	return ref, nil
}

func (cs *ChatStore) CopyTo(ctx context.Context, destChatID, ref int64) error {
	if _, err := cs.api.CopyMessage(ctx, destChatID, cs.chatID, ref); err != nil {
		return fmt.Errorf("failed to copy stored message %d: %w", ref, err)
	}
	return nil
}

func (cs *ChatStore) Delete(ctx context.Context, ref int64) error {
	if err := cs.api.DeleteMessage(ctx, cs.chatID, ref); err != nil {
		return fmt.Errorf("failed to delete stored message %d: %w", ref, err)
	}
	return nil
}
