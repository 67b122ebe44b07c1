package alerting

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/rs/zerolog"
)

// Sink fans one text out to many recipients. Delivery is best effort: a failure for
// one recipient is logged and never reaches the caller.
type Sink interface {
	SendBulk(ctx context.Context, recipients []string, text string)
}

// TelegramConfig 描述 Telegram 推送参数。
type TelegramConfig struct {
	Enabled  bool          `mapstructure:"enabled"`
	BotToken string        `mapstructure:"bot_token"`
	APIBase  string        `mapstructure:"api_base"`
	Timeout  time.Duration `mapstructure:"timeout"`
}

// TelegramSink 通过 Telegram Bot API 推送消息。
type TelegramSink struct {
	bot    *tgbotapi.BotAPI
	logger zerolog.Logger
}

// NewTelegramSink prepares the bot client without contacting Telegram, so an
// unreachable API or a revoked token only surfaces as logged send failures.
func NewTelegramSink(cfg TelegramConfig, logger zerolog.Logger) (*TelegramSink, error) {
	if cfg.BotToken == "" {
		return nil, fmt.Errorf("telegram bot token is required")
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	base := strings.TrimRight(cfg.APIBase, "/")
	if base == "" {
		base = "https://api.telegram.org"
	}

	bot := &tgbotapi.BotAPI{
		Token:  cfg.BotToken,
		Client: &http.Client{Timeout: timeout},
		Buffer: 100,
	}
	bot.SetAPIEndpoint(base + "/bot%s/%s")

	return &TelegramSink{
		bot:    bot,
		logger: logger.With().Str("component", "alert_telegram").Logger(),
	}, nil
}

// SendBulk sends text to every chat in turn, stopping early only if ctx is done.
func (s *TelegramSink) SendBulk(ctx context.Context, recipients []string, text string) {
	sent := 0
	for _, chat := range recipients {
		if ctx.Err() != nil {
			s.logger.Warn().Err(ctx.Err()).Int("remaining", len(recipients)-sent).Msg("telegram fan-out interrupted")
			return
		}
		msg, err := newMessage(chat, text)
		if err != nil {
			s.logger.Warn().Err(err).Str("chat_id", chat).Msg("skip recipient")
			continue
		}
		if _, err := s.bot.Send(msg); err != nil {
			s.logger.Warn().Err(err).Str("chat_id", chat).Msg("telegram send failed")
			continue
		}
		sent++
	}
	s.logger.Info().Int("recipients", len(recipients)).Int("sent", sent).Msg("告警已发送 (Telegram)")
}

func newMessage(chat, text string) (tgbotapi.MessageConfig, error) {
	chat = strings.TrimSpace(chat)
	if chat == "" {
		return tgbotapi.MessageConfig{}, fmt.Errorf("empty chat id")
	}
	if strings.HasPrefix(chat, "@") {
		return tgbotapi.NewMessageToChannel(chat, text), nil
	}
	id, err := strconv.ParseInt(chat, 10, 64)
	if err != nil {
		return tgbotapi.MessageConfig{}, fmt.Errorf("invalid chat id %q: %w", chat, err)
	}
	return tgbotapi.NewMessage(id, text), nil
}

// LogSink writes alerts to the log instead of delivering them. Used when no
// transport is configured and for dry runs.
type LogSink struct {
	logger zerolog.Logger
}

func NewLogSink(logger zerolog.Logger) *LogSink {
	return &LogSink{logger: logger.With().Str("component", "alert_log").Logger()}
}

func (s *LogSink) SendBulk(_ context.Context, recipients []string, text string) {
	s.logger.Info().Int("recipients", len(recipients)).Str("text", text).Msg("alert")
}

var (
	_ Sink = (*TelegramSink)(nil)
	_ Sink = (*LogSink)(nil)
)
