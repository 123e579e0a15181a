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
	"github.com/shopspring/decimal"
)

// Mover is one ranked symbol included in a notification.
type Mover struct {
	Symbol      string
	Alpha       decimal.Decimal
	Probability decimal.Decimal
	Change      decimal.Decimal
}

// Notification summarises a finished analysis run.
type Notification struct {
	RunAt          time.Time
	Window         string
	Symbols        int
	Records        int
	DecodeFailures int
	Momentum       []Mover
	ProbableAlpha  []Mover
	AdditionalMsg  string
}

// Notifier delivers run summaries.
type Notifier interface {
	Notify(ctx context.Context, notification Notification) error
}

// TelegramNotifier posts messages through the Telegram Bot API.
type TelegramNotifier struct {
	botToken string
	chatID   string
	baseURL  string
	client   *http.Client
	logger   zerolog.Logger
}

// NewTelegramNotifier constructs a Telegram notifier.
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

// Notify calls sendMessage with the rendered summary.
func (n *TelegramNotifier) Notify(ctx context.Context, note Notification) error {
	payload := map[string]string{
		"chat_id": n.chatID,
		"text":    RenderMessage(note),
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
		return fmt.Errorf("telegram unexpected status: %d", resp.StatusCode)
	}

	var result struct {
		OK bool `json:"ok"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err == nil {
		if !result.OK {
			return fmt.Errorf("telegram returned ok=false")
		}
	}

	n.logger.Info().Time("run_at", note.RunAt).
		Int("symbols", note.Symbols).
		Int("movers", len(note.Momentum)).
		Msg("run summary sent (Telegram)")
	return nil
}

// RenderMessage formats note as plain text.
func RenderMessage(note Notification) string {
	builder := strings.Builder{}
	builder.WriteString(fmt.Sprintf("[Equity Forecast] %s window\n", note.Window))
	builder.WriteString(fmt.Sprintf("Run: %s UTC\n", note.RunAt.UTC().Format(time.RFC3339)))
	builder.WriteString(fmt.Sprintf("Symbols: %d | Records: %d\n", note.Symbols, note.Records))
	if note.DecodeFailures > 0 {
		builder.WriteString(fmt.Sprintf("Skipped records: %d\n", note.DecodeFailures))
	}
	writeMovers(&builder, "Strongest movers", note.Momentum)
	writeMovers(&builder, "Probable alpha", note.ProbableAlpha)
	if note.AdditionalMsg != "" {
		builder.WriteString(note.AdditionalMsg)
	}
	return builder.String()
}

func writeMovers(b *strings.Builder, title string, movers []Mover) {
	if len(movers) == 0 {
		return
	}
	b.WriteString(title + ":\n")
	for i, m := range movers {
		b.WriteString(fmt.Sprintf("%d. %s alpha %s, p %s%%, change %s%%\n",
			i+1, m.Symbol, m.Alpha.StringFixed(3), m.Probability.StringFixed(1), m.Change.StringFixed(2)))
	}
}

var _ Notifier = (*TelegramNotifier)(nil)
