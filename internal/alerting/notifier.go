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

	"price-oracle-feed/internal/quote"
	"price-oracle-feed/internal/storage"
)

// Notification 封装一次告警触发的上下文。
type Notification struct {
	AlertID     int64
	ChatID      string
	Symbol      string
	Condition   storage.AlertCondition
	Threshold   int64
	Price       int64
	Decimals    uint8
	TriggeredAt time.Time
}

// Notifier 定义告警输送接口。
type Notifier interface {
	Notify(ctx context.Context, notification Notification) error
}

// TelegramNotifier 通过 Telegram Bot API 推送消息。
type TelegramNotifier struct {
	botToken  string
	baseURL   string
	parseMode string
	client    *http.Client
	logger    zerolog.Logger
}

// NewTelegramNotifier 构造 Telegram 告警器。
func NewTelegramNotifier(botToken, baseURL string, timeout time.Duration, logger zerolog.Logger) *TelegramNotifier {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	if baseURL == "" {
		baseURL = "https://api.telegram.org"
	}

	return &TelegramNotifier{
		botToken:  botToken,
		baseURL:   strings.TrimRight(baseURL, "/"),
		parseMode: "Markdown",
		client:    &http.Client{Timeout: timeout},
		logger:    logger.With().Str("component", "alert_telegram").Logger(),
	}
}

// Notify 调用 sendMessage API 推送文本。Delivery is best effort: the caller
// logs a failure and never retries.
func (n *TelegramNotifier) Notify(ctx context.Context, note Notification) error {
	payload := map[string]string{
		"chat_id":    note.ChatID,
		"text":       renderMessage(note),
		"parse_mode": n.parseMode,
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
		return fmt.Errorf("telegram 响应码异常: %d", resp.StatusCode)
	}

	var result struct {
		OK bool `json:"ok"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err == nil {
		if !result.OK {
			return fmt.Errorf("telegram 返回 ok=false")
		}
	}

	n.logger.Info().Int64("alert_id", note.AlertID).
		Str("symbol", note.Symbol).
		Str("chat_id", note.ChatID).
		Msg("告警已发送 (Telegram)")
	return nil
}

func renderMessage(note Notification) string {
	direction := "above"
	if note.Condition == storage.ConditionBelow {
		direction = "below"
	}

	builder := strings.Builder{}
	builder.WriteString("*[Price Alert]*\n")
	builder.WriteString(fmt.Sprintf("%s is %s your threshold\n", note.Symbol, direction))
	builder.WriteString(fmt.Sprintf("Price: %s USD\n", quote.FormatDisplay(note.Price, note.Decimals)))
	builder.WriteString(fmt.Sprintf("Threshold: %s USD (%s)\n", quote.FormatDisplay(note.Threshold, note.Decimals), note.Condition))
	builder.WriteString(fmt.Sprintf("Triggered: %s UTC\n", note.TriggeredAt.UTC().Format(time.RFC3339)))
	return builder.String()
}

var _ Notifier = (*TelegramNotifier)(nil)
