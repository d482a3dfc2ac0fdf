// Package transport talks to the chat platform's Bot API.
package transport

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	telegrambot "github.com/go-telegram/bot"
	"github.com/go-telegram/bot/models"
)

// BotAPI wraps the Telegram client with the calls the relay needs. The same
// client long-polls for updates when Poll is running.
type BotAPI struct {
	bot *telegrambot.Bot

	mu       sync.RWMutex
	onUpdate func(ctx context.Context, in Incoming)
}

// NewBotAPI creates a client for serverURL (e.g. https://api.telegram.org).
// pollTimeout bounds each getUpdates long-poll. Extra options are passed to
// the Telegram client.
func NewBotAPI(serverURL, token string, pollTimeout time.Duration, opts ...telegrambot.Option) (*BotAPI, error) {
	b := &BotAPI{}
	options := []telegrambot.Option{
		telegrambot.WithServerURL(strings.TrimRight(serverURL, "/")),
		telegrambot.WithHTTPClient(pollTimeout, &http.Client{Timeout: pollTimeout + 10*time.Second}),
		telegrambot.WithDefaultHandler(b.handle),
		telegrambot.WithErrorsHandler(func(err error) {
			slog.Warn("bot api polling error", "error", err)
		}),
	}
	options = append(options, opts...)

	client, err := telegrambot.New(token, options...)
	if err != nil {
		return nil, fmt.Errorf("failed to create bot client: %w", err)
	}
	b.bot = client
	return b, nil
}

// SendFile re-sends a file by its platform reference using the method that
// matches kind. Unknown kinds go out as documents; stickers carry no caption.
func (b *BotAPI) SendFile(ctx context.Context, chatID int64, kind, fileRef, caption string) error {
	file := &models.InputFileString{Data: fileRef}

	var err error
	switch kind {
	case "photo":
		_, err = b.bot.SendPhoto(ctx, &telegrambot.SendPhotoParams{ChatID: chatID, Photo: file, Caption: caption})
	case "video":
		_, err = b.bot.SendVideo(ctx, &telegrambot.SendVideoParams{ChatID: chatID, Video: file, Caption: caption})
	case "audio":
		_, err = b.bot.SendAudio(ctx, &telegrambot.SendAudioParams{ChatID: chatID, Audio: file, Caption: caption})
	case "voice":
		_, err = b.bot.SendVoice(ctx, &telegrambot.SendVoiceParams{ChatID: chatID, Voice: file, Caption: caption})
	case "animation":
		_, err = b.bot.SendAnimation(ctx, &telegrambot.SendAnimationParams{ChatID: chatID, Animation: file, Caption: caption})
	case "sticker":
		_, err = b.bot.SendSticker(ctx, &telegrambot.SendStickerParams{ChatID: chatID, Sticker: file})
	default:
		_, err = b.bot.SendDocument(ctx, &telegrambot.SendDocumentParams{ChatID: chatID, Document: file, Caption: caption})
	}
	if err != nil {
		return fmt.Errorf("failed to send %s: %w", kind, err)
	}
	return nil
}

// SendMessage sends plain text.
func (b *BotAPI) SendMessage(ctx context.Context, chatID int64, text string) error {
	_, err := b.bot.SendMessage(ctx, &telegrambot.SendMessageParams{ChatID: chatID, Text: text})
	if err != nil {
		return fmt.Errorf("failed to send message: %w", err)
	}
	return nil
}

// CopyMessage duplicates message messageID from fromChat into toChat and
// returns the id of the copy.
func (b *BotAPI) CopyMessage(ctx context.Context, toChat, fromChat, messageID int64) (int64, error) {
	id, err := b.bot.CopyMessage(ctx, &telegrambot.CopyMessageParams{
		ChatID:     toChat,
		FromChatID: fromChat,
		MessageID:  int(messageID),
	})
	if err != nil {
		return 0, fmt.Errorf("failed to copy message %d: %w", messageID, err)
	}
	return int64(id.ID), nil
}

// DeleteMessage removes a message from chatID.
func (b *BotAPI) DeleteMessage(ctx context.Context, chatID, messageID int64) error {
	_, err := b.bot.DeleteMessage(ctx, &telegrambot.DeleteMessageParams{
		ChatID:    chatID,
		MessageID: int(messageID),
	})
	if err != nil {
		return fmt.Errorf("failed to delete message %d: %w", messageID, err)
	}
	return nil
}
