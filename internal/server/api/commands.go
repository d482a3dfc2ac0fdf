package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/labstack/echo/v4"

	"relay/internal/core"
	"relay/internal/server/database"
	"relay/internal/server/service"
)

const maxReplyLines = 100

const helpText = `Welcome!
Send me any file or media and I'll save it and reply with a code and a retrieval link.

Retrieve: /get_<code> or tap the link I provide.

Commands:
/my_files - list your files
/list images|videos|audio|documents|zip|other - list by category
/list user <user_id> - list files by user
/search <keyword> - search by code, type, name or caption
/lock_code <code> - lock a code to your account
/rename_code <old> <new> - rename your code
/expire <code> <24h|7d|30m|never|delete> - set expiry

Admin:
/all_files_count, /all_users_count
/delete_code <code>
/delete_user <user_id>
/storage_clean
/broadcast <text>`

// adminCommands are ignored silently for non-admins.
var adminCommands = map[string]bool{
	"all_files_count": true,
	"all_users_count": true,
	"delete_code":     true,
	"delete_user":     true,
	"storage_clean":   true,
	"broadcast":       true,
}

// CommandRequest is a chat command as received from the platform.
type CommandRequest struct {
	ChatID int64  `json:"chat_id"`
	UserID int64  `json:"user_id"`
	Text   string `json:"text"`
}

// HandleCommand handles POST /api/commands.
// The reply is sent back to the chat and returned in the response body.
func (h *Handler) HandleCommand(c echo.Context) error {
	var req CommandRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid request body"})
	}
	ctx := c.Request().Context()

	reply, err := h.dispatch(ctx, req)
	if err != nil {
		if reply = replyForError(err); reply == "" {
			return mapServiceError(c, err)
		}
	}

	h.notify(ctx, req.ChatID, reply)
	return c.JSON(http.StatusOK, echo.Map{"reply": reply})
}

// dispatch runs one parsed command and returns the reply text.
func (h *Handler) dispatch(ctx context.Context, req CommandRequest) (string, error) {
	cmd, err := core.ParseCommand(req.Text)
	if err != nil {
		return "", invalid(err)
	}
	if adminCommands[cmd.Name] && !h.svc.IsAdmin(req.UserID) {
		return "", nil
	}

	switch cmd.Name {
	case "start", "help":
		return helpText, nil

	case "get":
		if err := cmd.Require(1, "/get <code> or /get_<code>"); err != nil {
			return "", invalid(err)
		}
		_, err := h.svc.Retrieve(ctx, service.RetrieveRequest{
			Code:        cmd.Arg(0),
			ChatID:      req.ChatID,
			RequesterID: req.UserID,
		})
		return "", err

	case "my_files":
		items, err := h.svc.ListByUploader(ctx, req.UserID)
		if err != nil {
			return "", err
		}
		if len(items) == 0 {
			return "You have not uploaded any files yet.", nil
		}
		return listingReply("Your files:", items), nil

	case "list":
		return h.list(ctx, cmd)

	case "search":
		if err := cmd.Require(1, "/search <keyword>"); err != nil {
			return "", invalid(err)
		}
		items, err := h.svc.Search(ctx, cmd.Rest)
		if err != nil {
			return "", err
		}
		if len(items) == 0 {
			return "No results.", nil
		}
		return listingReply("Results:", items), nil

	case "lock_code":
		if err := cmd.Require(1, "/lock_code <code>"); err != nil {
			return "", invalid(err)
		}
		if err := h.svc.Lock(ctx, cmd.Arg(0), req.UserID); err != nil {
			return "", err
		}
		return fmt.Sprintf("Code %s locked to you.", cmd.Arg(0)), nil

	case "rename_code":
		if err := cmd.Require(2, "/rename_code <old> <new>"); err != nil {
			return "", invalid(err)
		}
		if err := h.svc.Rename(ctx, cmd.Arg(0), cmd.Arg(1), req.UserID); err != nil {
			return "", err
		}
		return fmt.Sprintf("Renamed %s -> %s", cmd.Arg(0), cmd.Arg(1)), nil

	case "expire":
		if err := cmd.Require(2, "/expire <code> <24h|7d|30m|never|delete>"); err != nil {
			return "", invalid(err)
		}
		change, err := h.svc.SetExpiry(ctx, cmd.Arg(0), cmd.Arg(1), req.UserID)
		if err != nil {
			return "", err
		}
		return expiryReply(change), nil

	case "all_files_count", "all_users_count":
		stats, err := h.svc.Counts(ctx)
		if err != nil {
			return "", err
		}
		if cmd.Name == "all_files_count" {
			return fmt.Sprintf("Total files: %s", humanize.Comma(int64(stats.Files))), nil
		}
		return fmt.Sprintf("Total users: %s", humanize.Comma(int64(stats.Users))), nil

	case "delete_code":
		if err := cmd.Require(1, "/delete_code <code>"); err != nil {
			return "", invalid(err)
		}
		if err := h.svc.AdminDelete(ctx, cmd.Arg(0)); err != nil {
			return "", err
		}
		return fmt.Sprintf("Deleted code %s.", cmd.Arg(0)), nil

	case "delete_user":
		if err := cmd.Require(1, "/delete_user <user_id>"); err != nil {
			return "", invalid(err)
		}
		uid, err := core.ParseUserID(cmd.Arg(0))
		if err != nil {
			return "", invalid(err)
		}
		if err := h.svc.ResetUserStats(ctx, uid); err != nil {
			return "", err
		}
		return fmt.Sprintf("Deleted user %d stats. (Files remain)", uid), nil

	case "storage_clean":
		removed, err := h.svc.Clean(ctx)
		if err != nil {
			return "", err
		}
		return fmt.Sprintf("Cleaned expired files: %d", removed), nil

	case "broadcast":
		if err := cmd.Require(1, "/broadcast <message>"); err != nil {
			return "", invalid(err)
		}
		res, err := h.svc.Broadcast(ctx, cmd.Rest)
		if err != nil {
			return "", err
		}
		return fmt.Sprintf("Broadcast sent to %s users.", humanize.Comma(int64(res.Sent))), nil

	default:
		return "Unknown command. Send /start for help.", nil
	}
}

func (h *Handler) list(ctx context.Context, cmd *core.Command) (string, error) {
	const usage = "/list images|videos|audio|documents|zip|other OR /list user <user_id>"
	if err := cmd.Require(1, usage); err != nil {
		return "", invalid(err)
	}

	var (
		items []database.Item
		err   error
	)
	if strings.EqualFold(cmd.Arg(0), "user") && len(cmd.Args) >= 2 {
		uid, perr := core.ParseUserID(cmd.Arg(1))
		if perr != nil {
			return "", invalid(perr)
		}
		items, err = h.svc.ListByUploader(ctx, uid)
	} else {
		items, err = h.svc.ListByCategory(ctx, cmd.Arg(0))
	}
	if err != nil {
		return "", err
	}
	if len(items) == 0 {
		return "No files found.", nil
	}
	return listingReply("List:", items), nil
}

// invalid marks a parse failure as invalid input for the error mapping.
func invalid(err error) error {
	return fmt.Errorf("%w: %w", service.ErrInvalidInput, err)
}

// replyForError turns a user-facing failure into chat text. It returns ""
// for internal errors, which are not shown to users.
func replyForError(err error) string {
	var verr *core.ValidationError
	switch {
	case errors.Is(err, service.ErrNotFound):
		return "Error: File not found or expired."
	case errors.Is(err, service.ErrLocked):
		return "This file is locked to its owner and cannot be retrieved by you."
	case errors.Is(err, service.ErrSendFailed):
		return "Error: File could not be sent. It may be corrupted or unavailable."
	case errors.As(err, &verr):
		return "Error: " + verr.Cause
	case errors.Is(err, service.ErrInvalidInput):
		return "Error: " + strings.TrimPrefix(err.Error(), service.ErrInvalidInput.Error()+": ")
	case errors.Is(err, service.ErrStorageUnavailable):
		return "Error: Could not save to storage. Make sure the bot is admin there."
	case errors.Is(err, service.ErrRateLimited):
		return "Slow down! You are sending too fast."
	case errors.Is(err, service.ErrForbidden):
		return "Only the uploader or an admin can do that."
	default:
		return ""
	}
}

func savedReply(res *service.IngestResult) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Saved!\nCode: %s\nRetrieve: %s", res.Code, res.Command)
	if res.Link != "" {
		fmt.Fprintf(&b, "\nLink: %s", res.Link)
	}
	return b.String()
}

func expiryReply(change *service.ExpiryChange) string {
	switch {
	case change.Action == "delete":
		return fmt.Sprintf("Deleted code %s and removed it from storage.", change.Code)
	case change.ExpiresAt != nil:
		return fmt.Sprintf("Expiry for %s set to %s (%s).",
			change.Code,
			database.NewTimestamp(*change.ExpiresAt).String(),
			humanize.Time(*change.ExpiresAt),
		)
	default:
		return fmt.Sprintf("Expiry for %s set to never.", change.Code)
	}
}

// listingReply renders one line per entry under title.
func listingReply(title string, items []database.Item) string {
	lines := []string{title}
	for i, it := range items {
		if i == maxReplyLines {
			break
		}
		lines = append(lines, entryLine(it))
	}
	return strings.Join(lines, "\n")
}

func entryLine(it database.Item) string {
	e := it.Entry
	exp := "never"
	if e.ExpiresAt != nil {
		exp = e.ExpiresAt.String()
	}
	cat := e.Category
	if cat == "" {
		cat = database.CategoryOther
	}
	return fmt.Sprintf("%s | %s | %s | exp: %s | %s | %s",
		it.Code, e.Kind, cat, exp, e.FileName, humanize.Time(e.UploadedAt.Time))
}
