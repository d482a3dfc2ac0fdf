package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"strings"
	"time"

	"relay/internal/server/config"
	"relay/internal/server/database"
	"relay/internal/server/expiry"
	"relay/internal/server/ratelimit"
	"relay/internal/server/storage"
)

// Sentinel errors for the service layer.
var (
	ErrNotFound           = errors.New("file not found or expired")
	ErrLocked             = errors.New("file is locked to its owner")
	ErrSendFailed         = errors.New("file could not be sent")
	ErrInvalidInput       = errors.New("invalid input")
	ErrStorageUnavailable = errors.New("could not save to storage")
	ErrRateLimited        = errors.New("too many uploads, slow down")
	ErrForbidden          = errors.New("only the uploader or an admin can do that")
	ErrCodeSpaceExhausted = errors.New("no unused code found")
)

const maxCodeLength = 64

var validCode = regexp.MustCompile(`^[a-zA-Z0-9]+$`)

// Messenger delivers content to a chat on the platform.
type Messenger interface {
	SendFile(ctx context.Context, chatID int64, kind, fileRef, caption string) error
	SendMessage(ctx context.Context, chatID int64, text string) error
}

// IngestRequest describes an inbound file message.
type IngestRequest struct {
	UserID        int64  `json:"user_id"`
	ChatID        int64  `json:"chat_id"`
	MessageID     int64  `json:"message_id"`
	Kind          string `json:"kind"`
	FileReference string `json:"file_reference"`
	FileName      string `json:"file_name"`
	Caption       string `json:"caption"`
	MimeType      string `json:"mime_type"`
}

// IngestResult is returned after a file has been stored.
type IngestResult struct {
	Code     string            `json:"code"`
	Command  string            `json:"command"`
	Link     string            `json:"link,omitempty"`
	Category database.Category `json:"category"`
}

// ExpiryChange reports what SetExpiry did.
type ExpiryChange struct {
	Code      string     `json:"code"`
	Action    string     `json:"action"`
	ExpiresAt *time.Time `json:"expires_at,omitempty"`
}

// Stats are the admin counters.
type Stats struct {
	Files int `json:"files"`
	Users int `json:"users"`
}

// RelayService holds the retrieval-control logic around the registry.
type RelayService struct {
	registry  database.Registry
	store     storage.Store
	messenger Messenger
	limiter   *ratelimit.Limiter
	sweeper   *storage.Sweeper
	cfg       *config.Config
	now       func() time.Time
}

// NewRelayService creates a relay service.
func NewRelayService(
	registry database.Registry,
	store storage.Store,
	messenger Messenger,
	limiter *ratelimit.Limiter,
	sweeper *storage.Sweeper,
	cfg *config.Config,
) *RelayService {
	return &RelayService{
		registry:  registry,
		store:     store,
		messenger: messenger,
		limiter:   limiter,
		sweeper:   sweeper,
		cfg:       cfg,
		now:       time.Now,
	}
}

// IsAdmin reports whether userID has admin rights.
func (s *RelayService) IsAdmin(userID int64) bool {
	return s.cfg.IsAdmin(userID)
}

// DeepLink returns the start link that retrieves code.
func (s *RelayService) DeepLink(code string) string {
	if s.cfg.BotUsername == "" {
		return ""
	}
	return fmt.Sprintf("https://t.me/%s?start=get_%s", s.cfg.BotUsername, code)
}

// Ingest archives an inbound file and registers it under a new code. If the
// archive copy cannot be made nothing is registered.
func (s *RelayService) Ingest(ctx context.Context, req IngestRequest) (*IngestResult, error) {
	if req.FileReference == "" {
		uploadsTotal.WithLabelValues("invalid").Inc()
		return nil, fmt.Errorf("%w: missing file reference", ErrInvalidInput)
	}

	if !s.limiter.AllowAt(req.UserID, s.now()) {
		uploadsTotal.WithLabelValues("rate_limited").Inc()
		slog.Warn("upload rate limited", "user_id", req.UserID)
		return nil, ErrRateLimited
	}

	ref, err := s.store.Archive(ctx, req.ChatID, req.MessageID)
	if err != nil {
		uploadsTotal.WithLabelValues("storage_unavailable").Inc()
		slog.Error("failed to archive upload", "user_id", req.UserID, "error", err)
		return nil, fmt.Errorf("%w: %v", ErrStorageUnavailable, err)
	}

	kind := database.ParseKind(req.Kind)
	entry := &database.Entry{
		FileReference: req.FileReference,
		Kind:          kind,
		UploaderID:    req.UserID,
		UploadedAt:    database.NewTimestamp(s.now()),
		StorageRef:    ref,
		Category:      DetectCategory(kind, req.MimeType, req.FileName),
		FileName:      req.FileName,
		Caption:       req.Caption,
		MimeType:      req.MimeType,
	}

	code, err := s.claimCode(ctx, entry)
	if err != nil {
		uploadsTotal.WithLabelValues("error").Inc()
		if derr := s.store.Delete(ctx, ref); derr != nil {
			slog.Warn("failed to drop orphaned storage copy", "storage_ref", ref, "error", derr)
		}
		return nil, err
	}

	if err := s.registry.IncrementUpload(ctx, req.UserID); err != nil {
		slog.Error("failed to increment upload count", "user_id", req.UserID, "error", err)
	}

	uploadsTotal.WithLabelValues("stored").Inc()
	slog.Info("file stored",
		"code", code,
		"user_id", req.UserID,
		"kind", kind,
		"category", entry.Category,
		"storage_ref", ref,
	)

	return &IngestResult{
		Code:     code,
		Command:  "/get_" + code,
		Link:     s.DeepLink(code),
		Category: entry.Category,
	}, nil
}

// lookup fetches a live entry. Expired entries are reported as not found.
func (s *RelayService) lookup(ctx context.Context, code string) (*database.Entry, error) {
	entry, err := s.registry.Get(ctx, code)
	if err != nil {
		if errors.Is(err, database.ErrEntryNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	if expiry.IsExpired(entry, s.now()) {
		return nil, ErrNotFound
	}
	return entry, nil
}

// manageable fetches code for a management command by userID.
func (s *RelayService) manageable(ctx context.Context, code string, userID int64) (*database.Entry, error) {
	entry, err := s.lookup(ctx, code)
	if err != nil {
		return nil, err
	}
	if entry.UploaderID != userID && !s.cfg.IsAdmin(userID) {
		return nil, ErrForbidden
	}
	return entry, nil
}

// Lock binds retrieval of code to userID.
func (s *RelayService) Lock(ctx context.Context, code string, userID int64) error {
	if _, err := s.manageable(ctx, code, userID); err != nil {
		return err
	}
	if err := s.registry.Update(ctx, code, database.LockTo(userID)); err != nil {
		return fmt.Errorf("failed to lock %s: %w", code, err)
	}
	slog.Info("code locked", "code", code, "user_id", userID)
	return nil
}

// Rename moves the entry at oldCode to newCode.
func (s *RelayService) Rename(ctx context.Context, oldCode, newCode string, userID int64) error {
	if len(newCode) > maxCodeLength || !validCode.MatchString(newCode) {
		return fmt.Errorf("%w: code must be 1-%d letters or digits", ErrInvalidInput, maxCodeLength)
	}
	if _, err := s.manageable(ctx, oldCode, userID); err != nil {
		return err
	}

	ok, err := s.registry.Rename(ctx, oldCode, newCode)
	if err != nil {
		return fmt.Errorf("failed to rename %s: %w", oldCode, err)
	}
	if !ok {
		return fmt.Errorf("%w: code %s already exists", ErrInvalidInput, newCode)
	}
	slog.Info("code renamed", "code", oldCode, "new_code", newCode, "user_id", userID)
	return nil
}

// SetExpiry applies expiry text such as "24h", "never" or "delete" to code.
// Unparseable text is rejected and leaves the entry untouched.
func (s *RelayService) SetExpiry(ctx context.Context, code, text string, userID int64) (*ExpiryChange, error) {
	entry, err := s.manageable(ctx, code, userID)
	if err != nil {
		return nil, err
	}

	res := expiry.Parse(text, s.now())
	change := &ExpiryChange{Code: code, Action: res.Action.String()}

	switch res.Action {
	case expiry.Invalid:
		return nil, fmt.Errorf("%w: unrecognised duration %q", ErrInvalidInput, text)
	case expiry.DeleteNow:
		if err := s.remove(ctx, code, entry); err != nil {
			return nil, err
		}
	case expiry.Never:
		if err := s.registry.Update(ctx, code, database.NeverExpire()); err != nil {
			return nil, fmt.Errorf("failed to clear expiry of %s: %w", code, err)
		}
	case expiry.At:
		if err := s.registry.Update(ctx, code, database.ExpireAt(res.When)); err != nil {
			return nil, fmt.Errorf("failed to set expiry of %s: %w", code, err)
		}
		when := res.When
		change.ExpiresAt = &when
	}

	slog.Info("expiry changed", "code", code, "action", change.Action, "user_id", userID)
	return change, nil
}

// Delete removes code on behalf of its uploader or an admin.
func (s *RelayService) Delete(ctx context.Context, code string, userID int64) error {
	entry, err := s.manageable(ctx, code, userID)
	if err != nil {
		return err
	}
	return s.remove(ctx, code, entry)
}

// AdminDelete removes code without an ownership check. Expired entries that
// the sweeper has not reached yet are removed too.
func (s *RelayService) AdminDelete(ctx context.Context, code string) error {
	entry, err := s.registry.Get(ctx, code)
	if err != nil {
		if errors.Is(err, database.ErrEntryNotFound) {
			return ErrNotFound
		}
		return err
	}
	return s.remove(ctx, code, entry)
}

// remove drops the stored copy on a best-effort basis, then the entry.
func (s *RelayService) remove(ctx context.Context, code string, entry *database.Entry) error {
	if err := s.store.Delete(ctx, entry.StorageRef); err != nil {
		slog.Warn("failed to delete stored copy",
			"code", code,
			"storage_ref", entry.StorageRef,
			"error", err,
		)
	}
	if err := s.registry.Delete(ctx, code); err != nil {
		return fmt.Errorf("failed to delete %s: %w", code, err)
	}
	slog.Info("code deleted", "code", code)
	return nil
}

// ListByUploader lists the files uploaded by userID, newest first.
func (s *RelayService) ListByUploader(ctx context.Context, userID int64) ([]database.Item, error) {
	return s.registry.ListByUploader(ctx, userID, s.cfg.ListLimit)
}

// ListByCategory lists files in the named category (images, videos, audio,
// documents, zip, other).
func (s *RelayService) ListByCategory(ctx context.Context, name string) ([]database.Item, error) {
	cat, ok := ParseCategory(name)
	if !ok {
		return nil, fmt.Errorf("%w: unknown category %q", ErrInvalidInput, name)
	}
	return s.registry.ListByCategory(ctx, cat, s.cfg.ListLimit)
}

// Search lists files whose code, kind, name, caption or mime type contain
// keyword, ignoring case.
func (s *RelayService) Search(ctx context.Context, keyword string) ([]database.Item, error) {
	keyword = strings.TrimSpace(keyword)
	if keyword == "" {
		return nil, fmt.Errorf("%w: empty keyword", ErrInvalidInput)
	}
	return s.registry.Search(ctx, keyword, s.cfg.ListLimit)
}

// Counts returns the number of stored files and known users.
func (s *RelayService) Counts(ctx context.Context) (*Stats, error) {
	files, users, err := s.registry.Counts(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to count registry: %w", err)
	}
	return &Stats{Files: files, Users: users}, nil
}

// ResetUserStats drops the counters of userID. Their files remain.
func (s *RelayService) ResetUserStats(ctx context.Context, userID int64) error {
	if err := s.registry.DeleteUserStats(ctx, userID); err != nil {
		return fmt.Errorf("failed to reset stats of %d: %w", userID, err)
	}
	slog.Info("user stats reset", "user_id", userID)
	return nil
}

// Clean runs an expiry sweep now and returns the number of evicted entries.
func (s *RelayService) Clean(ctx context.Context) (int, error) {
	res, err := s.sweeper.Sweep(ctx)
	if err != nil {
		return res.Removed, fmt.Errorf("sweep failed: %w", err)
	}
	slog.Info("manual sweep complete", "removed", res.Removed, "failed", res.Failed)
	return res.Removed, nil
}
