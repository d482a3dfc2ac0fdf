package api

import (
	"context"
	"log/slog"
	"strings"

	"relay/internal/server/service"
	"relay/internal/server/transport"
)

// HandleIncoming processes a message received by the update poller. Media is
// stored and answered with its code; commands are dispatched like
// POST /api/commands. Other text is ignored.
func (h *Handler) HandleIncoming(ctx context.Context, in transport.Incoming) {
	if in.HasFile() {
		result, err := h.svc.Ingest(ctx, service.IngestRequest{
			UserID:        in.UserID,
			ChatID:        in.ChatID,
			MessageID:     in.MessageID,
			Kind:          in.Kind,
			FileReference: in.FileReference,
			FileName:      in.FileName,
			Caption:       in.Caption,
			MimeType:      in.MimeType,
		})
		if err != nil {
			h.replyError(ctx, in.ChatID, err)
			return
		}
		h.notify(ctx, in.ChatID, savedReply(result))
		return
	}

	if !strings.HasPrefix(strings.TrimSpace(in.Text), "/") {
		return
	}
	reply, err := h.dispatch(ctx, CommandRequest{ChatID: in.ChatID, UserID: in.UserID, Text: in.Text})
	if err != nil {
		h.replyError(ctx, in.ChatID, err)
		return
	}
	h.notify(ctx, in.ChatID, reply)
}

// replyError tells the chat what went wrong, or logs errors that have no
// user-facing text.
func (h *Handler) replyError(ctx context.Context, chatID int64, err error) {
	reply := replyForError(err)
	if reply == "" {
		slog.Error("update handling failed", "chat_id", chatID, "error", err)
		return
	}
	h.notify(ctx, chatID, reply)
}
