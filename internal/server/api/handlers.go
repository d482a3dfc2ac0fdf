package api

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/labstack/echo/v4"

	"relay/internal/core"
	"relay/internal/server/database"
	"relay/internal/server/service"
)

// HealthChecker reports whether a backing dependency is reachable.
type HealthChecker interface {
	HealthCheck(ctx context.Context) error
}

// Handler contains the HTTP handlers for the relay API.
type Handler struct {
	svc       *service.RelayService
	messenger service.Messenger
	health    HealthChecker
}

// NewHandler creates a handler. health may be nil when the registry has no
// remote dependency.
func NewHandler(svc *service.RelayService, messenger service.Messenger, health HealthChecker) *Handler {
	return &Handler{svc: svc, messenger: messenger, health: health}
}

// notify sends text to a chat, logging failures.
func (h *Handler) notify(ctx context.Context, chatID int64, text string) {
	if text == "" || chatID == 0 {
		return
	}
	if err := h.messenger.SendMessage(ctx, chatID, text); err != nil {
		slog.Warn("failed to send reply", "chat_id", chatID, "error", err)
	}
}

// HandleHealth handles GET /health.
func (h *Handler) HandleHealth(c echo.Context) error {
	status := "healthy"
	dbStatus := "ok"

	if h.health != nil {
		if err := h.health.HealthCheck(c.Request().Context()); err != nil {
			status = "degraded"
			dbStatus = "error: " + err.Error()
		}
	}

	return c.JSON(http.StatusOK, echo.Map{
		"status":   status,
		"registry": dbStatus,
	})
}

// HandleUpload handles POST /api/uploads.
// Registers an inbound file message and replies to its chat with the code.
func (h *Handler) HandleUpload(c echo.Context) error {
	var req service.IngestRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid request body"})
	}
	ctx := c.Request().Context()

	result, err := h.svc.Ingest(ctx, req)
	if err != nil {
		h.notify(ctx, req.ChatID, replyForError(err))
		return mapServiceError(c, err)
	}

	h.notify(ctx, req.ChatID, savedReply(result))
	return c.JSON(http.StatusCreated, result)
}

// HandleRetrieve handles POST /api/retrieve.
func (h *Handler) HandleRetrieve(c echo.Context) error {
	var req service.RetrieveRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid request body"})
	}
	ctx := c.Request().Context()

	delivery, err := h.svc.Retrieve(ctx, req)
	if err != nil {
		h.notify(ctx, req.ChatID, replyForError(err))
		return mapServiceError(c, err)
	}
	return c.JSON(http.StatusOK, delivery)
}

// HandleListFiles handles GET /api/files.
// Exactly one of the query params uploader, category or q selects the listing.
func (h *Handler) HandleListFiles(c echo.Context) error {
	ctx := c.Request().Context()

	var (
		items []database.Item
		err   error
	)
	switch {
	case c.QueryParam("uploader") != "":
		var uid int64
		uid, err = core.ParseUserID(c.QueryParam("uploader"))
		if err == nil {
			items, err = h.svc.ListByUploader(ctx, uid)
		}
	case c.QueryParam("category") != "":
		items, err = h.svc.ListByCategory(ctx, c.QueryParam("category"))
	case c.QueryParam("q") != "":
		items, err = h.svc.Search(ctx, c.QueryParam("q"))
	default:
		return c.JSON(http.StatusBadRequest, echo.Map{
			"error": "one of uploader, category or q is required",
		})
	}
	if err != nil {
		return mapServiceError(c, err)
	}

	return c.JSON(http.StatusOK, echo.Map{
		"count": len(items),
		"files": newFileViews(items),
	})
}

type actionRequest struct {
	UserID   int64  `json:"user_id"`
	NewCode  string `json:"new_code"`
	Duration string `json:"duration"`
}

// HandleLock handles POST /api/files/:code/lock.
func (h *Handler) HandleLock(c echo.Context) error {
	var req actionRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid request body"})
	}
	code := c.Param("code")

	if err := h.svc.Lock(c.Request().Context(), code, req.UserID); err != nil {
		return mapServiceError(c, err)
	}
	return c.JSON(http.StatusOK, echo.Map{"code": code, "locked_to": req.UserID})
}

// HandleRename handles POST /api/files/:code/rename.
func (h *Handler) HandleRename(c echo.Context) error {
	var req actionRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid request body"})
	}
	code := c.Param("code")

	if err := h.svc.Rename(c.Request().Context(), code, req.NewCode, req.UserID); err != nil {
		return mapServiceError(c, err)
	}
	return c.JSON(http.StatusOK, echo.Map{"code": req.NewCode, "previous": code})
}

// HandleExpire handles POST /api/files/:code/expire.
func (h *Handler) HandleExpire(c echo.Context) error {
	var req actionRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid request body"})
	}

	change, err := h.svc.SetExpiry(c.Request().Context(), c.Param("code"), req.Duration, req.UserID)
	if err != nil {
		return mapServiceError(c, err)
	}
	return c.JSON(http.StatusOK, change)
}

// HandleDelete handles DELETE /api/files/:code.
// With a user_id query param the ownership rules apply; without one the
// operator deletes unconditionally.
func (h *Handler) HandleDelete(c echo.Context) error {
	ctx := c.Request().Context()
	code := c.Param("code")

	var err error
	if raw := c.QueryParam("user_id"); raw != "" {
		var uid int64
		uid, err = core.ParseUserID(raw)
		if err == nil {
			err = h.svc.Delete(ctx, code, uid)
		}
	} else {
		err = h.svc.AdminDelete(ctx, code)
	}
	if err != nil {
		return mapServiceError(c, err)
	}

	return c.JSON(http.StatusOK, echo.Map{"message": "code deleted", "code": code})
}

// HandleStats handles GET /api/admin/stats.
func (h *Handler) HandleStats(c echo.Context) error {
	stats, err := h.svc.Counts(c.Request().Context())
	if err != nil {
		return mapServiceError(c, err)
	}
	return c.JSON(http.StatusOK, stats)
}

// HandleResetStats handles DELETE /api/admin/users/:id/stats.
func (h *Handler) HandleResetStats(c echo.Context) error {
	uid, err := core.ParseUserID(c.Param("id"))
	if err != nil {
		return mapServiceError(c, err)
	}
	if err := h.svc.ResetUserStats(c.Request().Context(), uid); err != nil {
		return mapServiceError(c, err)
	}
	return c.JSON(http.StatusOK, echo.Map{"message": "user stats deleted, files remain", "user_id": uid})
}

// HandleBroadcast handles POST /api/admin/broadcast.
func (h *Handler) HandleBroadcast(c echo.Context) error {
	var req struct {
		Text string `json:"text"`
	}
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid request body"})
	}

	res, err := h.svc.Broadcast(c.Request().Context(), req.Text)
	if err != nil {
		return mapServiceError(c, err)
	}
	return c.JSON(http.StatusOK, res)
}

// HandleSweep handles POST /api/admin/sweep.
func (h *Handler) HandleSweep(c echo.Context) error {
	removed, err := h.svc.Clean(c.Request().Context())
	if err != nil {
		return mapServiceError(c, err)
	}
	return c.JSON(http.StatusOK, echo.Map{"removed": removed})
}

// fileView is the JSON shape of a listed entry.
type fileView struct {
	Code       string `json:"code"`
	Kind       string `json:"kind"`
	Category   string `json:"category"`
	Uploader   int64  `json:"uploader"`
	UploadedAt string `json:"uploaded_at"`
	ExpiresAt  string `json:"expires_at,omitempty"`
	Locked     bool   `json:"locked"`
	FileName   string `json:"file_name,omitempty"`
	Caption    string `json:"caption,omitempty"`
	MimeType   string `json:"mime_type,omitempty"`
}

func newFileViews(items []database.Item) []fileView {
	views := make([]fileView, 0, len(items))
	for _, it := range items {
		v := fileView{
			Code:       it.Code,
			Kind:       string(it.Entry.Kind),
			Category:   string(it.Entry.Category),
			Uploader:   it.Entry.UploaderID,
			UploadedAt: it.Entry.UploadedAt.String(),
			Locked:     it.Entry.LockedTo != nil,
			FileName:   it.Entry.FileName,
			Caption:    it.Entry.Caption,
			MimeType:   it.Entry.MimeType,
		}
		if it.Entry.ExpiresAt != nil {
			v.ExpiresAt = it.Entry.ExpiresAt.String()
		}
		views = append(views, v)
	}
	return views
}

// mapServiceError translates service-layer errors into appropriate HTTP responses.
func mapServiceError(c echo.Context, err error) error {
	var verr *core.ValidationError
	switch {
	case errors.Is(err, service.ErrNotFound):
		return c.JSON(http.StatusNotFound, echo.Map{"error": "file not found or expired"})
	case errors.Is(err, service.ErrLocked):
		return c.JSON(http.StatusForbidden, echo.Map{"error": "file is locked to its owner"})
	case errors.Is(err, service.ErrSendFailed):
		return c.JSON(http.StatusBadGateway, echo.Map{"error": "file could not be sent"})
	case errors.Is(err, service.ErrInvalidInput):
		return c.JSON(http.StatusBadRequest, echo.Map{"error": err.Error()})
	case errors.As(err, &verr):
		return c.JSON(http.StatusBadRequest, echo.Map{"error": verr.Error()})
	case errors.Is(err, service.ErrStorageUnavailable):
		return c.JSON(http.StatusServiceUnavailable, echo.Map{"error": "could not save to storage"})
	case errors.Is(err, service.ErrRateLimited):
		return c.JSON(http.StatusTooManyRequests, echo.Map{"error": "too many uploads, slow down"})
	case errors.Is(err, service.ErrForbidden):
		return c.JSON(http.StatusForbidden, echo.Map{"error": err.Error()})
	default:
		slog.Error("request failed", "path", c.Path(), "error", err)
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "internal server error"})
	}
}
