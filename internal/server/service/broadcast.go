package service

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"golang.org/x/time/rate"
)

// BroadcastResult counts broadcast deliveries.
type BroadcastResult struct {
	Sent   int `json:"sent"`
	Failed int `json:"failed"`
}

// Broadcast sends text to every known user, one message at a time with the
// configured delay between sends. Per-user failures are counted and skipped.
func (s *RelayService) Broadcast(ctx context.Context, text string) (*BroadcastResult, error) {
	if strings.TrimSpace(text) == "" {
		return nil, fmt.Errorf("%w: empty broadcast", ErrInvalidInput)
	}

	users, err := s.registry.UserIDs(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list users: %w", err)
	}

	limit := rate.Inf
	if s.cfg.BroadcastDelay > 0 {
		limit = rate.Every(s.cfg.BroadcastDelay)
	}
	throttle := rate.NewLimiter(limit, 1)

	res := &BroadcastResult{}
	for _, uid := range users {
		if err := throttle.Wait(ctx); err != nil {
			slog.Warn("broadcast interrupted", "sent", res.Sent, "error", err)
			return res, err
		}
		if err := s.messenger.SendMessage(ctx, uid, text); err != nil {
			res.Failed++
			broadcastMessagesTotal.WithLabelValues("failed").Inc()
			slog.Debug("broadcast send failed", "user_id", uid, "error", err)
			continue
		}
		res.Sent++
		broadcastMessagesTotal.WithLabelValues("sent").Inc()
	}

	slog.Info("broadcast complete", "sent", res.Sent, "failed", res.Failed)
	return res, nil
}
