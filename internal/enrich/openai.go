// Package enrich produces the AI root cause and remediation command for an
// incident via a single chat-completion call in JSON mode. Output is
// advisory: it is never validated for correctness, only for shape.
package enrich

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	openai "github.com/sashabaranov/go-openai"

	"github.com/alertdeck/alertdeck/internal/config"
	"github.com/alertdeck/alertdeck/internal/models"
	"github.com/alertdeck/alertdeck/internal/utils"
)

// Recorder receives provider-reported token usage. Usage is recorded per
// provider response, including responses that later fail JSON parsing, so
// the ledger reflects cost charged on the call rather than on delivery.
type Recorder interface {
	Record(tokens int)
}

// Client wraps the enrichment provider.
type Client struct {
	api         *openai.Client
	model       string
	maxTokens   int
	temperature float32
	timeout     time.Duration
	usage       Recorder
	logger      *slog.Logger
}

// NewClient constructs an enrichment client from configuration. BaseURL is
// honoured when set so tests and OpenAI-compatible gateways can be targeted.
func NewClient(cfg config.OpenAIConfig, usage Recorder, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	apiCfg := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		apiCfg.BaseURL = cfg.BaseURL
	}
	return &Client{
		api:         openai.NewClientWithConfig(apiCfg),
		model:       cfg.Model,
		maxTokens:   cfg.MaxTokens,
		temperature: cfg.Temperature,
		timeout:     cfg.Timeout,
		usage:       usage,
		logger:      logger,
	}
}

// payload is the structured response requested from the provider.
type payload struct {
	RootCause     string `json:"root_cause"`
	ActionCommand string `json:"action_command"`
}

// Enrich asks the provider for a root cause and remediation command.
// A malformed structured response is retried exactly once before the
// failure surfaces; provider errors are never retried here to avoid
// duplicate cost accrual.
func (c *Client) Enrich(ctx context.Context, inc models.Incident) (models.EnrichmentResult, error) {
	const op = "enrich.Enrich"

	if c.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	prompt := buildPrompt(inc)

	var lastErr error
	for attempt := 0; attempt < 2; attempt++ {
		resp, err := c.api.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
			Model: c.model,
			Messages: []openai.ChatCompletionMessage{
				{Role: openai.ChatMessageRoleUser, Content: prompt},
			},
			MaxTokens:   c.maxTokens,
			Temperature: c.temperature,
			ResponseFormat: &openai.ChatCompletionResponseFormat{
				Type: openai.ChatCompletionResponseFormatTypeJSONObject,
			},
		})
		if err != nil {
			return models.EnrichmentResult{}, utils.E(op, utils.KindEnrichment, "provider call failed", err)
		}

		// Cost accrues on every response, parseable or not.
		if c.usage != nil {
			c.usage.Record(resp.Usage.TotalTokens)
		}

		if len(resp.Choices) == 0 {
			lastErr = fmt.Errorf("provider returned no choices")
			continue
		}

		var parsed payload
		content := resp.Choices[0].Message.Content
		if err := json.Unmarshal([]byte(content), &parsed); err != nil {
			lastErr = fmt.Errorf("malformed structured response: %w", err)
			c.logger.Warn("enrichment response unparsable, retrying once",
				slog.String("incident", inc.ID), slog.Int("attempt", attempt+1))
			continue
		}
		if strings.TrimSpace(parsed.RootCause) == "" {
			lastErr = fmt.Errorf("structured response missing root_cause")
			continue
		}

		return models.EnrichmentResult{
			RootCause:     strings.TrimSpace(parsed.RootCause),
			ActionCommand: strings.TrimSpace(parsed.ActionCommand),
			TokensUsed:    resp.Usage.TotalTokens,
			ProducedAt:    time.Now().UTC(),
		}, nil
	}

	return models.EnrichmentResult{}, utils.E(op, utils.KindEnrichment, "unparsable response after retry", lastErr)
}

func buildPrompt(inc models.Incident) string {
	var b strings.Builder
	b.WriteString("Context: ")
	for i, tag := range inc.Tags {
		if i >= 4 {
			break
		}
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteString(tag.String())
	}
	fmt.Fprintf(&b, "\nProblem: %s\nHost: %s\nSeverity: %s\n", inc.Problem, inc.Host, inc.Severity)
	b.WriteString(`Respond with JSON: {"root_cause": "<short technical cause, max 20 words>", "action_command": "<single remediation shell command, or empty string if none applies>"}`)
	return b.String()
}
