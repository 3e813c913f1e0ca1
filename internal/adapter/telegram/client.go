// Package telegram delivers flood alerts through the Telegram Bot API.
package telegram

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/couchcryptid/flood-monitor-service/internal/alert"
	"github.com/couchcryptid/flood-monitor-service/internal/domain"
)

// Client implements alert.Sink using the Telegram sendMessage endpoint.
type Client struct {
	token      string
	chatID     string
	httpClient *http.Client
	baseURL    string
	logger     *slog.Logger
}

// NewClient creates a Telegram alert client.
func NewClient(token, chatID string, timeout time.Duration, logger *slog.Logger) *Client {
	return &Client{
		token:  token,
		chatID: chatID,
		httpClient: &http.Client{
			Timeout: timeout,
		},
		baseURL: "https://api.telegram.org",
		logger:  logger,
	}
}

// Notify sends one alert message to the configured chat.
func (c *Client) Notify(ctx context.Context, n alert.Notification) error {
	payload := sendMessageRequest{
		ChatID:    c.chatID,
		Text:      formatMessage(n),
		ParseMode: "Markdown",
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("encode telegram payload: %w", err)
	}

	u := fmt.Sprintf("%s/bot%s/sendMessage", c.baseURL, c.token)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("telegram request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("telegram API error: status %d: %s", resp.StatusCode, respBody)
	}

	c.logger.Info("telegram alert sent",
		"device_id", n.DeviceID,
		"risk_level", n.RiskLevel.String(),
	)
	return nil
}

func riskEmoji(risk domain.RiskLevel) string {
	switch risk {
	case domain.RiskSafe:
		return "✅"
	case domain.RiskWarning:
		return "⚠️"
	case domain.RiskHighRisk:
		return "🔴"
	case domain.RiskCritical:
		return "🚨"
	default:
		return "❓"
	}
}

func formatMessage(n alert.Notification) string {
	var b strings.Builder

	header := "FLOOD ALERT"
	if n.Sustained {
		header = "SUSTAINED FLOOD RISK"
	}
	fmt.Fprintf(&b, "%s *%s — %s*\n\n", riskEmoji(n.RiskLevel), header, n.RiskLevel.Label())
	fmt.Fprintf(&b, "📍 *Location:* %s\n", n.Location)
	fmt.Fprintf(&b, "🔧 *Device:* %s (%s)\n", n.DeviceName, n.DeviceID)
	fmt.Fprintf(&b, "💧 *Water Level:* %.1f cm", n.WaterLevel)
	if n.RapidRise {
		b.WriteString("\n⚡ *RAPID RISE DETECTED*")
	}
	b.WriteString("\n\n⏰ Please take immediate action if required.")

	return b.String()
}

// Telegram API request types.

type sendMessageRequest struct {
	ChatID    string `json:"chat_id"`
	Text      string `json:"text"`
	ParseMode string `json:"parse_mode"`
}
