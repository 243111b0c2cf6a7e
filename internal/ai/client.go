// Package ai generates customer replies with Gemini, grounded on the
// tenant's knowledge base.
package ai

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"omnireply/internal/metrics"
)

const defaultBaseURL = "https://generativelanguage.googleapis.com/v1beta"

// ErrEmptyResponse indicates the model returned no usable text.
var ErrEmptyResponse = errors.New("gemini returned empty response")

// Client provides typed access to the Gemini generateContent API.
type Client struct {
	logger  *slog.Logger
	metrics *metrics.Metrics
	baseURL string
	apiKey  string
	model   string
	http    *http.Client
}

// Config holds Gemini client configuration.
type Config struct {
	BaseURL string
	APIKey  string
	Model   string
	Timeout time.Duration
}

// New creates a Gemini client.
func New(cfg Config, logger *slog.Logger, m *metrics.Metrics) *Client {
	base := strings.TrimRight(cfg.BaseURL, "/")
	if base == "" {
		base = defaultBaseURL
	}
	model := cfg.Model
	if model == "" {
		model = "gemini-pro"
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Client{
		logger:  logger.With("component", "gemini"),
		metrics: m,
		baseURL: base,
		apiKey:  cfg.APIKey,
		model:   model,
		http:    &http.Client{Timeout: timeout},
	}
}

// Model reports the configured model name, logged alongside outbound replies.
func (c *Client) Model() string {
	return c.model
}

// Request carries everything needed to generate one reply.
type Request struct {
	Message          string
	BusinessName     string
	BusinessType     string
	KnowledgeContext string
	LanguageCode     string
}

type generateRequest struct {
	Contents []content `json:"contents"`
}

type content struct {
	Parts []part `json:"parts"`
}

type part struct {
	Text string `json:"text"`
}

type generateResponse struct {
	Candidates []struct {
		Content struct {
			Parts []struct {
				Text string `json:"text"`
			} `json:"parts"`
		} `json:"content"`
	} `json:"candidates"`
}

// Respond generates a reply for the customer message. Callers are expected to
// fall back to a static message on error; this method never panics the
// pipeline.
func (c *Client) Respond(ctx context.Context, req Request) (string, error) {
	start := time.Now()
	text, err := c.generate(ctx, buildPrompt(req))
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	c.metrics.GeminiRequests.WithLabelValues(outcome).Inc()
	c.metrics.GeminiLatency.WithLabelValues(outcome).Observe(time.Since(start).Seconds())
	if err != nil {
		return "", err
	}
	return text, nil
}

// Fallback returns the static reply used when generation fails.
func Fallback(languageCode string) string {
	if languageCode == "so" {
		return "Waan ka xumahay, haddii aad sugtid waan kugu soo jawaabi doonaa. Mahadsanid!"
	}
	return "Sorry, let me check on that and get back to you shortly. Thank you for your patience!"
}

func (c *Client) generate(ctx context.Context, prompt string) (string, error) {
	payload, err := json.Marshal(generateRequest{
		Contents: []content{{Parts: []part{{Text: prompt}}}},
	})
	if err != nil {
		return "", fmt.Errorf("marshal request: %w", err)
	}

	endpoint := fmt.Sprintf("%s/models/%s:generateContent?key=%s", c.baseURL, c.model, c.apiKey)
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(payload))
	if err != nil {
		return "", fmt.Errorf("build request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(httpReq)
	if err != nil {
		return "", fmt.Errorf("gemini request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return "", fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("gemini status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	var parsed generateResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return "", fmt.Errorf("decode response: %w", err)
	}
	for _, candidate := range parsed.Candidates {
		for _, p := range candidate.Content.Parts {
			if text := strings.TrimSpace(p.Text); text != "" {
				return text, nil
			}
		}
	}
	return "", ErrEmptyResponse
}

func buildPrompt(req Request) string {
	knowledge := req.KnowledgeContext
	if knowledge == "" {
		knowledge = "No specific business data provided yet. Respond politely and let them know the owner will get back to them."
	}
	businessType := req.BusinessType
	if businessType == "" {
		businessType = "general"
	}

	var b strings.Builder
	fmt.Fprintf(&b, "You are a professional, friendly AI customer service assistant for %q (a %s).\n\n", req.BusinessName, businessType)
	b.WriteString("## YOUR ROLE\n")
	b.WriteString("- You represent this business and help customers with their inquiries\n")
	b.WriteString("- You answer questions about products, services, prices, hours, and policies\n")
	b.WriteString("- You are polite, helpful, and concise\n")
	b.WriteString("- You ONLY provide information from the business knowledge base below\n")
	b.WriteString("- If you don't know something, say you'll have the owner follow up\n")
	b.WriteString("- NEVER make up information, only use what's provided\n\n")
	b.WriteString("## LANGUAGE\n")
	b.WriteString(LanguageInstruction(req.LanguageCode))
	b.WriteString("\n\n## BUSINESS KNOWLEDGE BASE\n")
	b.WriteString(knowledge)
	b.WriteString("\n\n## RULES\n")
	b.WriteString("1. Keep responses concise and conversational (WhatsApp style, not formal emails)\n")
	b.WriteString("2. Use appropriate emojis sparingly to feel friendly\n")
	b.WriteString("3. If asked about something not in the knowledge base, say you will check with the team\n")
	b.WriteString("4. Format prices and lists clearly\n")
	b.WriteString("5. Never reveal that you are an AI unless directly asked\n\n")
	fmt.Fprintf(&b, "## CUSTOMER MESSAGE\n%q\n\nRespond naturally as the business assistant:", req.Message)
	return b.String()
}
