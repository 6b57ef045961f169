// Package notifier delivers admitted deals to Telegram chats with three
// suppression layers: a per-chat daily cap that trips a cooldown, a 48-hour
// per-chat product dedup set, and chunked sending to respect flood limits.
package notifier

import (
	"context"
	"crypto/md5"
	"encoding/hex"
	"time"

	"go.uber.org/zap"

	"github.com/dealscout/dealscout/internal/models"
	"github.com/dealscout/dealscout/internal/observability"
)

const (
	chunkSize      = 10
	chunkPause     = 700 * time.Millisecond
	cooldownWindow = 24 * time.Hour
)

// State is the notifier's Redis-backed suppression state. *db.RedisStore
// implements it.
type State interface {
	IncrMsgCount(ctx context.Context, chatID int64) (int64, error)
	UserOnCooldown(ctx context.Context, chatID int64) (bool, error)
	SetUserCooldown(ctx context.Context, chatID int64, window time.Duration) error
	MarkProductSent(ctx context.Context, chatID int64, urlHash string) error
	ProductSent(ctx context.Context, chatID int64, urlHash string) (bool, error)
}

// Notifier pushes deal batches through a Sender.
type Notifier struct {
	state      State
	sender     Sender
	dailyLimit int64
	sleep      func(time.Duration)
}

// New wires a notifier. dailyLimit caps messages per chat per rolling day.
func New(state State, sender Sender, dailyLimit int) *Notifier {
	return &Notifier{
		state:      state,
		sender:     sender,
		dailyLimit: int64(dailyLimit),
		sleep:      time.Sleep,
	}
}

// SendBatch delivers deals to one chat, best first, and returns how many
// went out. Suppressions are counted, not errors: a capped or deduped batch
// is normal operation.
func (n *Notifier) SendBatch(ctx context.Context, chatID int64, deals []models.Deal) (int, error) {
	if len(deals) == 0 {
		return 0, nil
	}

	onCooldown, err := n.state.UserOnCooldown(ctx, chatID)
	if err != nil {
		return 0, err
	}
	if onCooldown {
		for range deals {
			observability.NotifierSuppressed.WithLabelValues("cooldown").Inc()
		}
		return 0, nil
	}

	sent := 0
	for _, deal := range deals {
		key := productKey(deal.URL)

		seen, err := n.state.ProductSent(ctx, chatID, key)
		if err != nil {
			return sent, err
		}
		if seen {
			observability.NotifierSuppressed.WithLabelValues("duplicate").Inc()
			continue
		}

		count, err := n.state.IncrMsgCount(ctx, chatID)
		if err != nil {
			return sent, err
		}
		if count > n.dailyLimit {
			if err := n.state.SetUserCooldown(ctx, chatID, cooldownWindow); err != nil {
				zap.L().Warn("cooldown set failed", zap.Int64("chat_id", chatID), zap.Error(err))
			}
			observability.NotifierSuppressed.WithLabelValues("daily_limit").Inc()
			zap.L().Info("chat hit daily limit", zap.Int64("chat_id", chatID), zap.Int64("count", count))
			break
		}

		if err := n.sender.SendDeal(ctx, chatID, deal); err != nil {
			zap.L().Error("deal send failed",
				zap.Int64("chat_id", chatID), zap.String("url", deal.URL), zap.Error(err))
			continue
		}
		if err := n.state.MarkProductSent(ctx, chatID, key); err != nil {
			zap.L().Warn("product mark failed", zap.Int64("chat_id", chatID), zap.Error(err))
		}
		observability.NotifierSent.Inc()
		sent++

		if sent%chunkSize == 0 {
			n.sleep(chunkPause)
		}
	}
	return sent, nil
}

// productKey hashes a product URL for the dedup set.
func productKey(url string) string {
	sum := md5.Sum([]byte(url))
	return hex.EncodeToString(sum[:])
}
