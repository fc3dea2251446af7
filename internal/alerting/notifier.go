package alerting

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// Notification carries the context of one fired alert toward the owner.
type Notification struct {
	Fired   Fired
	FiredAt time.Time
	ChatID  string
	Extra   string
}

// Notifier delivers fired alerts to their owners.
type Notifier interface {
	Notify(ctx context.Context, note Notification) error
}

// TelegramNotifier pushes messages through the Telegram Bot API.
type TelegramNotifier struct {
	botToken string
	chatID   string
	baseURL  string
	client   *http.Client
	logger   zerolog.Logger
}

// NewTelegramNotifier constructs a Telegram notifier. chatID is the default
// destination used when a notification carries none of its own.
func NewTelegramNotifier(botToken, chatID, baseURL string, timeout time.Duration, logger zerolog.Logger) *TelegramNotifier {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	if baseURL == "" {
		baseURL = "https://api.telegram.org"
	}

	return &TelegramNotifier{
		botToken: botToken,
		chatID:   chatID,
		baseURL:  strings.TrimRight(baseURL, "/"),
		client:   &http.Client{Timeout: timeout},
		logger:   logger.With().Str("component", "alert_telegram").Logger(),
	}
}

// Notify sends the rendered alert text via the sendMessage API.
func (n *TelegramNotifier) Notify(ctx context.Context, note Notification) error {
	chatID := note.ChatID
	if chatID == "" {
		chatID = n.chatID
	}
	payload := map[string]string{
		"chat_id": chatID,
		"text":    renderMessage(note),
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal telegram payload: %w", err)
	}

	url := fmt.Sprintf("%s/bot%s/sendMessage", n.baseURL, n.botToken)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create telegram request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := n.client.Do(req)
	if err != nil {
		return fmt.Errorf("send telegram request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("telegram responded with status %d", resp.StatusCode)
	}

	var result struct {
		OK bool `json:"ok"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err == nil && !result.OK {
		return fmt.Errorf("telegram responded with ok=false")
	}

	n.logger.Info().
		Str("symbol", note.Fired.Rule.Symbol).
		Str("direction", note.Fired.Rule.Direction).
		Int64("rule_id", note.Fired.Rule.ID).
		Msg("alert dispatched via telegram")
	return nil
}

func renderMessage(note Notification) string {
	rule := note.Fired.Rule
	rec := note.Fired.Record

	builder := strings.Builder{}
	builder.WriteString("[Price Alert]\n")
	builder.WriteString(fmt.Sprintf("%s (%s) crossed %s %s %s\n", rec.Name, rec.Symbol, rule.Direction, rule.Threshold.String(), rec.Currency))
	builder.WriteString(fmt.Sprintf("Current: %s %s\n", rec.Price.String(), rec.Currency))
	if rec.PreviousPrice != nil {
		builder.WriteString(fmt.Sprintf("Previous: %s %s (%s)\n", rec.PreviousPrice.String(), rec.Currency, rec.Change))
	}
	if !note.FiredAt.IsZero() {
		builder.WriteString(fmt.Sprintf("At: %s UTC\n", note.FiredAt.UTC().Format(time.RFC3339)))
	}
	if rule.Note != "" {
		builder.WriteString(fmt.Sprintf("Note: %s\n", rule.Note))
	}
	if note.Extra != "" {
		builder.WriteString(note.Extra)
	}
	return builder.String()
}

var _ Notifier = (*TelegramNotifier)(nil)
