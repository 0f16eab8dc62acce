// Package notify delivers alert notifications via the Telegram Bot API.
package notify

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/agriguard/cropsentinel/internal/models"
)

// Client handles Telegram notifications for emitted alerts.
type Client struct {
	bot            *tgbotapi.BotAPI
	chatID         int64
	maxRetries     int
	retryDelayBase time.Duration
}

// NewClient creates a new Telegram client.
func NewClient(botToken, chatID string, maxRetries int, retryDelayBase time.Duration) (*Client, error) {
	bot, err := tgbotapi.NewBotAPI(botToken)
	if err != nil {
		return nil, fmt.Errorf("failed to create Telegram bot: %w", err)
	}

	chatIDInt, err := strconv.ParseInt(chatID, 10, 64)
	if err != nil {
		return nil, fmt.Errorf("invalid chat ID: %w", err)
	}

	if maxRetries <= 0 {
		maxRetries = 3
	}
	if retryDelayBase <= 0 {
		retryDelayBase = time.Second
	}

	return &Client{
		bot:            bot,
		chatID:         chatIDInt,
		maxRetries:     maxRetries,
		retryDelayBase: retryDelayBase,
	}, nil
}

// ListenForCommands starts a goroutine that polls for Telegram updates and
// handles bot commands. It returns immediately; the goroutine stops when
// ctx is cancelled.
func (c *Client) ListenForCommands(ctx context.Context) {
	u := tgbotapi.NewUpdate(0)
	u.Timeout = 60
	updates := c.bot.GetUpdatesChan(u)

	go func() {
		for {
			select {
			case <-ctx.Done():
				c.bot.StopReceivingUpdates()
				return
			case update, ok := <-updates:
				if !ok {
					return
				}
				if update.Message != nil && update.Message.IsCommand() {
					c.handleCommand(update.Message)
				}
			}
		}
	}()
}

func (c *Client) handleCommand(msg *tgbotapi.Message) {
	switch msg.Command() {
	case "ping":
		reply := tgbotapi.NewMessage(msg.Chat.ID, "Pong")
		c.bot.Send(reply) //nolint:errcheck
	}
}

// sendMarkdownV2 sends a MarkdownV2 message with linear-backoff retry.
func (c *Client) sendMarkdownV2(text string) error {
	msg := tgbotapi.NewMessage(c.chatID, text)
	msg.ParseMode = "MarkdownV2"

	var lastErr error
	for i := 0; i < c.maxRetries; i++ {
		if _, err := c.bot.Send(msg); err == nil {
			return nil
		} else {
			lastErr = err
		}
		time.Sleep(c.retryDelayBase * time.Duration(i+1))
	}
	return fmt.Errorf("failed after %d retries: %w", c.maxRetries, lastErr)
}

// SendError sends a pipeline error notification. Call this only on the
// first occurrence of a consecutive error sequence.
func (c *Client) SendError(cycleErr error) error {
	text := fmt.Sprintf("⚠️ *Pipeline error*\n`%s`", escapeMarkdownV2(cycleErr.Error()))
	return c.sendMarkdownV2(text)
}

// SendRecovery sends a recovery notification after consecutive failures.
func (c *Client) SendRecovery(failureCount int) error {
	text := fmt.Sprintf("✅ *Pipeline recovered* after %d consecutive failure\\(s\\)", failureCount)
	return c.sendMarkdownV2(text)
}

// SendAlert sends one high-risk alert notification.
func (c *Client) SendAlert(alert models.Alert) error {
	return c.sendMarkdownV2(c.formatAlert(alert))
}

// formatAlert formats an alert into a Telegram MarkdownV2 message.
func (c *Client) formatAlert(alert models.Alert) string {
	a := alert.Assessment

	var b strings.Builder
	b.WriteString("🚨 *High disease risk detected*\n\n")
	b.WriteString(fmt.Sprintf("🌾 Crop: *%s*\n", escapeMarkdownV2(alert.CropType)))
	b.WriteString(fmt.Sprintf("📊 Risk score: *%d* \\(%s\\)\n",
		a.Score, escapeMarkdownV2(string(a.Level))))
	if a.PredictedDisease != "" {
		b.WriteString(fmt.Sprintf("🦠 %s \\(confidence %d%%\\)\n",
			escapeMarkdownV2(a.PredictedDisease), a.DiseaseConfidence))
	}
	if a.Outbreak != nil {
		b.WriteString(fmt.Sprintf("⏱ %s\n", escapeMarkdownV2(a.Outbreak.Window)))
	}
	b.WriteString(fmt.Sprintf("📅 %s\n",
		escapeMarkdownV2(alert.TriggeredAt.Format("2006-01-02 15:04:05"))))

	if len(a.Recommendations) > 0 {
		b.WriteString("\n*Recommended actions:*\n")
		for i, rec := range a.Recommendations {
			b.WriteString(fmt.Sprintf("%d\\. %s\n", i+1, escapeMarkdownV2(rec)))
		}
	}
	return b.String()
}

// escapeMarkdownV2 escapes special characters for Telegram MarkdownV2.
func escapeMarkdownV2(text string) string {
	var b strings.Builder
	b.Grow(len(text) + len(text)/4) // pre-allocate with room for escapes
	for _, char := range text {
		switch char {
		case '_', '*', '[', ']', '(', ')', '~', '`', '>', '#', '+', '-', '=', '|', '{', '}', '.', '!':
			b.WriteByte('\\')
		}
		b.WriteRune(char)
	}
	return b.String()
}
