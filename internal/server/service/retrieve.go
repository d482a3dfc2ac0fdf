package service

import (
	"context"
	"errors"
	"log/slog"

	"relay/internal/server/database"
)

// Anonymous is the requester id used when the sender is unknown. It can
// never satisfy a lock.
const Anonymous int64 = 0

// Delivery paths, in the order they are tried.
const (
	PathReference = "reference"
	PathStorage   = "storage"
)

// RetrieveRequest asks for the file behind Code to be sent to ChatID.
type RetrieveRequest struct {
	Code        string `json:"code"`
	ChatID      int64  `json:"chat_id"`
	RequesterID int64  `json:"requester_id"`
}

// Delivery reports how a retrieval was satisfied.
type Delivery struct {
	Code string `json:"code"`
	Path string `json:"path"`
}

// deliveryStep is one way of getting an entry's file into a chat.
type deliveryStep struct {
	path string
	send func(ctx context.Context, chatID int64, entry *database.Entry) error
}

// deliverySteps returns the pipeline: resend by file reference, then copy
// the archived message out of storage.
func (s *RelayService) deliverySteps() []deliveryStep {
	return []deliveryStep{
		{
			path: PathReference,
			send: func(ctx context.Context, chatID int64, e *database.Entry) error {
				return s.messenger.SendFile(ctx, chatID, string(e.Kind), e.FileReference, e.Caption)
			},
		},
		{
			path: PathStorage,
			send: func(ctx context.Context, chatID int64, e *database.Entry) error {
				return s.store.CopyTo(ctx, chatID, e.StorageRef)
			},
		},
	}
}

// Retrieve resolves a code and delivers its file. The outcomes callers can
// observe are success, ErrNotFound (absent or expired), ErrLocked and
// ErrSendFailed. Transport errors never surface directly.
func (s *RelayService) Retrieve(ctx context.Context, req RetrieveRequest) (*Delivery, error) {
	entry, err := s.lookup(ctx, req.Code)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			retrievalsTotal.WithLabelValues("not_found").Inc()
		}
		return nil, err
	}

	if entry.LockedTo != nil && (req.RequesterID == Anonymous || req.RequesterID != *entry.LockedTo) {
		retrievalsTotal.WithLabelValues("locked").Inc()
		return nil, ErrLocked
	}

	path, ok := s.deliver(ctx, req.ChatID, req.Code, entry)
	if !ok {
		retrievalsTotal.WithLabelValues("send_failed").Inc()
		slog.Error("all delivery paths failed", "code", req.Code, "chat_id", req.ChatID)
		return nil, ErrSendFailed
	}

	if req.RequesterID != Anonymous {
		if err := s.registry.IncrementRetrieved(ctx, req.RequesterID); err != nil {
			slog.Error("failed to increment retrieved count", "user_id", req.RequesterID, "error", err)
		}
	}

	retrievalsTotal.WithLabelValues("delivered").Inc()
	slog.Info("file delivered", "code", req.Code, "user_id", req.RequesterID, "path", path)
	return &Delivery{Code: req.Code, Path: path}, nil
}

// deliver runs the pipeline until a step succeeds.
func (s *RelayService) deliver(ctx context.Context, chatID int64, code string, entry *database.Entry) (string, bool) {
	for _, step := range s.deliverySteps() {
		err := step.send(ctx, chatID, entry)
		if err == nil {
			deliveriesTotal.WithLabelValues(step.path, "ok").Inc()
			return step.path, true
		}
		deliveriesTotal.WithLabelValues(step.path, "failed").Inc()
		slog.Debug("delivery step failed",
			"code", code,
			"path", step.path,
			"error", err,
		)
	}
	return "", false
}
