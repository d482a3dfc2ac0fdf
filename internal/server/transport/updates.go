package transport

import (
	"context"
	"log/slog"

	telegrambot "github.com/go-telegram/bot"
	"github.com/go-telegram/bot/models"
)

// Incoming is a user message received from the platform. FileReference is
// set for media messages; Text for everything else.
type Incoming struct {
	ChatID        int64
	UserID        int64
	MessageID     int64
	Text          string
	Kind          string
	FileReference string
	FileName      string
	MimeType      string
	Caption       string
}

// HasFile reports whether the message carries media to store.
func (in Incoming) HasFile() bool {
	return in.FileReference != ""
}

// Poll long-polls for updates and passes each user message to fn until ctx
// is cancelled.
func (b *BotAPI) Poll(ctx context.Context, fn func(ctx context.Context, in Incoming)) {
	b.mu.Lock()
	b.onUpdate = fn
	b.mu.Unlock()

	slog.Info("polling bot updates")
	b.bot.Start(ctx)
	slog.Info("bot update polling stopped")
}

func (b *BotAPI) handle(ctx context.Context, _ *telegrambot.Bot, update *models.Update) {
	in, ok := incomingFromUpdate(update)
	if !ok {
		return
	}

	b.mu.RLock()
	fn := b.onUpdate
	b.mu.RUnlock()
	if fn == nil {
		return
	}

	defer func() {
		if r := recover(); r != nil {
			slog.Error("update handler panicked", "chat_id", in.ChatID, "panic", r)
		}
	}()
	fn(ctx, in)
}

// incomingFromUpdate maps an update to an Incoming. Updates without a user
// message (edits, channel posts, callbacks) are skipped.
func incomingFromUpdate(update *models.Update) (Incoming, bool) {
	if update == nil || update.Message == nil || update.Message.From == nil {
		return Incoming{}, false
	}
	msg := update.Message
	in := Incoming{
		ChatID:    msg.Chat.ID,
		UserID:    msg.From.ID,
		MessageID: int64(msg.ID),
		Text:      msg.Text,
		Caption:   msg.Caption,
	}

	switch {
	case len(msg.Photo) > 0:
		in.Kind = "photo"
		in.FileReference = largestPhoto(msg.Photo).FileID
	case msg.Video != nil:
		in.Kind = "video"
		in.FileReference = msg.Video.FileID
		in.MimeType = msg.Video.MimeType
	case msg.Animation != nil:
		in.Kind = "animation"
		in.FileReference = msg.Animation.FileID
		in.MimeType = msg.Animation.MimeType
	case msg.Document != nil:
		in.Kind = "document"
		in.FileReference = msg.Document.FileID
		in.MimeType = msg.Document.MimeType
		in.FileName = msg.Document.FileName
	case msg.Audio != nil:
		in.Kind = "audio"
		in.FileReference = msg.Audio.FileID
		in.MimeType = msg.Audio.MimeType
		in.FileName = msg.Audio.FileName
	case msg.Voice != nil:
		in.Kind = "voice"
		in.FileReference = msg.Voice.FileID
	case msg.Sticker != nil:
		in.Kind = "sticker"
		in.FileReference = msg.Sticker.FileID
	case msg.Text == "":
		return Incoming{}, false
	}
	return in, true
}

// largestPhoto picks the size with the biggest file, the first on ties.
func largestPhoto(sizes []models.PhotoSize) models.PhotoSize {
	best := sizes[0]
	for _, p := range sizes[1:] {
		if p.FileSize > best.FileSize {
			best = p
		}
	}
	return best
}
