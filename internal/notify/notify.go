// Package notify sends run-completion summaries via the Telegram Bot API.
// Long analyses are usually launched unattended; the notifier lets an operator
// learn the outcome without polling the log.
package notify

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/rewired-gh/hveto/internal/models"
)

// Client handles Telegram notifications.
type Client struct {
	bot        *tgbotapi.BotAPI
	chatID     int64
	maxRetries int
	retryDelay time.Duration
}

// NewClient creates a new Telegram client.
func NewClient(botToken, chatID string) (*Client, error) {
	bot, err := tgbotapi.NewBotAPI(botToken)
	if err != nil {
		return nil, fmt.Errorf("failed to create Telegram bot: %w", err)
	}
	chatIDInt, err := strconv.ParseInt(chatID, 10, 64)
	if err != nil {
		return nil, fmt.Errorf("invalid chat ID: %w", err)
	}
	return &Client{
		bot:        bot,
		chatID:     chatIDInt,
		maxRetries: 3,
		retryDelay: time.Second,
	}, nil
}

// SendSummary sends the final statistics of a completed run.
func (c *Client) SendSummary(run *models.Run, rounds map[int]*models.Round) error {
	return c.sendMarkdownV2(formatSummary(run, rounds))
}

// SendError sends a run-failure notification.
func (c *Client) SendError(runErr error) error {
	text := fmt.Sprintf("⚠️ *hveto run failed*\n`%s`", escapeMarkdownV2(runErr.Error()))
	return c.sendMarkdownV2(text)
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
		time.Sleep(c.retryDelay * time.Duration(i+1))
	}
	return fmt.Errorf("failed after %d retries: %w", c.maxRetries, lastErr)
}

// formatSummary formats a run's rounds into a Telegram MarkdownV2 message.
func formatSummary(run *models.Run, rounds map[int]*models.Round) string {
	var b strings.Builder
	fmt.Fprintf(&b, "✅ *hveto run complete*\n")
	fmt.Fprintf(&b, "%s %s\\-%s, %d round\\(s\\)\n\n",
		escapeMarkdownV2(run.IFO),
		escapeMarkdownV2(fmt.Sprintf("%d", int64(run.GPSStart))),
		escapeMarkdownV2(fmt.Sprintf("%d", int64(run.GPSEnd))),
		len(rounds))

	numbers := make([]int, 0, len(rounds))
	for n := range rounds {
		numbers = append(numbers, n)
	}
	sort.Ints(numbers)

	for _, n := range numbers {
		r := rounds[n]
		// Channel names go in a code span, where only backslash and backtick
		// are special.
		channel := strings.NewReplacer("\\", "\\\\", "`", "\\`").Replace(r.Winner.Channel)
		fmt.Fprintf(&b, "%d\\. `%s` sig %s eff %s\n",
			n,
			channel,
			escapeMarkdownV2(fmt.Sprintf("%.1f", r.Winner.Significance)),
			escapeMarkdownV2(fmt.Sprintf("%.1f%%", r.Efficiency.Percent())))
	}

	if len(numbers) > 0 {
		last := rounds[numbers[len(numbers)-1]]
		fmt.Fprintf(&b, "\nCumulative: efficiency %s, deadtime %s\n",
			escapeMarkdownV2(fmt.Sprintf("%.1f%%", last.CumEfficiency.Percent())),
			escapeMarkdownV2(fmt.Sprintf("%.2f%%", last.CumDeadtime.Percent())))
	}
	return b.String()
}

// escapeMarkdownV2 escapes special characters for Telegram MarkdownV2.
func escapeMarkdownV2(text string) string {
	var b strings.Builder
	b.Grow(len(text) + len(text)/4)
	for _, char := range text {
		switch char {
		case '_', '*', '[', ']', '(', ')', '~', '`', '>', '#', '+', '-', '=', '|', '{', '}', '.', '!':
			b.WriteByte('\\')
		}
		b.WriteRune(char)
	}
	return b.String()
}
