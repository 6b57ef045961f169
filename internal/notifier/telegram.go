package notifier

import (
	"context"
	"fmt"
	"html"
	"strings"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"go.uber.org/zap"

	"github.com/dealscout/dealscout/internal/models"
)

// Sender delivers one deal message to a chat.
type Sender interface {
	SendDeal(ctx context.Context, chatID int64, deal models.Deal) error
}

// Telegram sends deal cards through the Bot API.
type Telegram struct {
	bot *tgbotapi.BotAPI
}

// NewTelegram authenticates the bot.
func NewTelegram(token string) (*Telegram, error) {
	bot, err := tgbotapi.NewBotAPI(token)
	if err != nil {
		return nil, fmt.Errorf("notifier: telegram auth: %w", err)
	}
	zap.L().Info("telegram bot ready", zap.String("username", bot.Self.UserName))
	return &Telegram{bot: bot}, nil
}

// SendDeal formats and sends one deal with its action keyboard.
func (t *Telegram) SendDeal(_ context.Context, chatID int64, deal models.Deal) error {
	msg := tgbotapi.NewMessage(chatID, FormatDeal(deal))
	msg.ParseMode = tgbotapi.ModeHTML
	msg.ReplyMarkup = dealKeyboard(deal)
	if _, err := t.bot.Send(msg); err != nil {
		return fmt.Errorf("notifier: send to %d: %w", chatID, err)
	}
	return nil
}

// SendText sends a plain message; the alert monitor uses this as its
// Slack fallback.
func (t *Telegram) SendText(_ context.Context, chatID int64, text string) error {
	if _, err := t.bot.Send(tgbotapi.NewMessage(chatID, text)); err != nil {
		return fmt.Errorf("notifier: send text to %d: %w", chatID, err)
	}
	return nil
}

// FormatDeal renders the HTML card body for one deal.
func FormatDeal(deal models.Deal) string {
	var b strings.Builder
	fmt.Fprintf(&b, "<b>%s</b>\n", html.EscapeString(deal.Title))
	fmt.Fprintf(&b, "%d ₽", deal.Price)
	if deal.DiscountPct != nil {
		fmt.Fprintf(&b, " (−%.0f%%)", *deal.DiscountPct)
	}
	fmt.Fprintf(&b, "\nОценка: %.1f", deal.Score)
	if deal.FakeMSRP {
		b.WriteString("\n⚠️ старая цена выглядит завышенной")
	}
	fmt.Fprintf(&b, "\n<a href=\"%s\">%s</a>", deal.URL, sourceLabel(deal.Source))
	return b.String()
}

func dealKeyboard(deal models.Deal) tgbotapi.InlineKeyboardMarkup {
	key := productKey(deal.URL)
	return tgbotapi.NewInlineKeyboardMarkup(
		tgbotapi.NewInlineKeyboardRow(
			tgbotapi.NewInlineKeyboardButtonData("★ В избранное", "fav:"+key),
			tgbotapi.NewInlineKeyboardButtonData("Скрыть", "hide:"+key),
			tgbotapi.NewInlineKeyboardButtonData("Ещё −10%", "watch:"+key),
		),
	)
}

func sourceLabel(source string) string {
	switch source {
	case models.SourceOzon:
		return "Открыть на Ozon"
	case models.SourceMarket:
		return "Открыть на Маркете"
	default:
		return "Открыть"
	}
}
