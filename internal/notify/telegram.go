// Package notify delivers enriched incidents to the chat channel. Delivery
// failures are reported to the caller but must never abort the other sinks.
package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"html"
	"net/http"
	"strings"

	"github.com/alertdeck/alertdeck/internal/config"
	"github.com/alertdeck/alertdeck/internal/models"
	"github.com/alertdeck/alertdeck/internal/utils"
)

const defaultAPIBase = "https://api.telegram.org"

// TelegramNotifier sends one formatted HTML message per enriched incident.
type TelegramNotifier struct {
	apiBase    string
	botToken   string
	chatID     string
	httpClient *http.Client
}

// NewTelegramNotifier constructs a notifier from configuration.
func NewTelegramNotifier(cfg config.TelegramConfig) *TelegramNotifier {
	return &TelegramNotifier{
		apiBase:    defaultAPIBase,
		botToken:   cfg.BotToken,
		chatID:     cfg.ChatID,
		httpClient: &http.Client{Timeout: cfg.Timeout},
	}
}

type sendMessageRequest struct {
	ChatID    string `json:"chat_id"`
	Text      string `json:"text"`
	ParseMode string `json:"parse_mode"`
}

// Notify formats and sends the incident with its AI annotation.
func (n *TelegramNotifier) Notify(ctx context.Context, inc models.Incident, res models.EnrichmentResult) error {
	const op = "notify.Notify"

	body, err := json.Marshal(sendMessageRequest{
		ChatID:    n.chatID,
		Text:      formatMessage(inc, res),
		ParseMode: "HTML",
	})
	if err != nil {
		return utils.E(op, utils.KindSink, "marshal message", err)
	}

	url := fmt.Sprintf("%s/bot%s/sendMessage", n.apiBase, n.botToken)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return utils.E(op, utils.KindSink, "build request", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := n.httpClient.Do(req)
	if err != nil {
		return utils.E(op, utils.KindSink, "send message", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return utils.E(op, utils.KindSink, fmt.Sprintf("telegram returned %s", resp.Status), nil)
	}
	return nil
}

// formatMessage renders the incident as a single HTML alert: severity icon
// and host on the headline, problem text as code, AI analysis, a copyable
// remediation command, and up to three hashtag-styled tags.
func formatMessage(inc models.Incident, res models.EnrichmentResult) string {
	var b strings.Builder

	fmt.Fprintf(&b, "<b>%s %s | %s</b>\n", severityIcon(inc.Severity),
		strings.ToUpper(inc.Severity.String()), html.EscapeString(inc.Host))
	fmt.Fprintf(&b, "<code>%s</code>\n\n", html.EscapeString(inc.Problem))
	fmt.Fprintf(&b, "\U0001f916 <b>AI analysis:</b>\n%s\n", html.EscapeString(res.RootCause))

	if res.ActionCommand != "" {
		fmt.Fprintf(&b, "\n\U0001f680 <b>Action:</b>\n<pre>%s</pre>\n", html.EscapeString(res.ActionCommand))
	}

	var tags []string
	for i, tag := range inc.Tags {
		if i >= 3 {
			break
		}
		tags = append(tags, "#"+html.EscapeString(tag.String()))
	}
	if len(tags) > 0 {
		b.WriteString(strings.Join(tags, " "))
	}

	return b.String()
}

func severityIcon(s models.Severity) string {
	switch s {
	case models.SeverityDisaster:
		return "☠️"
	case models.SeverityHigh:
		return "\U0001f525"
	case models.SeverityAverage:
		return "\U0001f7e0"
	case models.SeverityWarning:
		return "⚠️"
	case models.SeverityInfo:
		return "ℹ️"
	default:
		return "❓"
	}
}
