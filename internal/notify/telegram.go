// Package notify reports finished labeling runs.
package notify

import (
	"fmt"
	"net/http"
	"strings"
	"time"

	"sentiment-labeler/internal/models"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"go.uber.org/zap"
)

// Notifier is told about every run that reaches a terminal status.
type Notifier interface {
	RunFinished(run *models.Run) error
}

// Nop discards notifications.
type Nop struct{}

func (Nop) RunFinished(*models.Run) error { return nil }

// Telegram posts run summaries to a chat.
type Telegram struct {
	api    *tgbotapi.BotAPI
	chatID int64
	logger *zap.Logger
}

// NewTelegram authorizes the bot. An empty token or zero chat id disables
// notifications and returns Nop.
func NewTelegram(token string, chatID int64, logger *zap.Logger) (Notifier, error) {
	if token == "" || chatID == 0 {
		logger.Info("Telegram notifications are disabled (token or chat_id is empty)")
		return Nop{}, nil
	}
	return newTelegram(token, tgbotapi.APIEndpoint, chatID, &http.Client{Timeout: 15 * time.Second}, logger)
}

func newTelegram(token, endpoint string, chatID int64, client tgbotapi.HTTPClient, logger *zap.Logger) (*Telegram, error) {
	botAPI, err := tgbotapi.NewBotAPIWithClient(token, endpoint, client)
	if err != nil {
		return nil, fmt.Errorf("failed to create Telegram bot API: %w", err)
	}

	logger.Info("Telegram bot authorized", zap.String("username", botAPI.Self.UserName))

	return &Telegram{
		api:    botAPI,
		chatID: chatID,
		logger: logger,
	}, nil
}

// RunFinished sends a summary of run.
func (t *Telegram) RunFinished(run *models.Run) error {
	msg := tgbotapi.NewMessage(t.chatID, FormatRun(run))
	if _, err := t.api.Send(msg); err != nil {
		t.logger.Error("Failed to send run notification", zap.String("run_id", run.ID), zap.Error(err))
		return fmt.Errorf("failed to send notification: %w", err)
	}
	return nil
}

// FormatRun renders a plain-text run summary.
func FormatRun(run *models.Run) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Labeling run %s: %s\n", run.ID, run.Status)
	fmt.Fprintf(&b, "Models: %s\n", strings.Join(run.ModelList(), ", "))
	fmt.Fprintf(&b, "Rows: %d, requests: %d/%d planned, cache hits: %d, unresolved: %d",
		run.TotalRows, run.Made, run.Planned, run.CacheHits, run.Unresolved)
	if run.ErrorMessage != "" {
		fmt.Fprintf(&b, "\nError: %s", run.ErrorMessage)
	}
	if run.CompletedAt != nil {
		fmt.Fprintf(&b, "\nTook %s", run.CompletedAt.Sub(run.CreatedAt).Round(time.Second))
	}
	return b.String()
}
