// Package llm is a minimal chat-completions client for OpenRouter-compatible
// endpoints. The bot degrades to pattern matching when no key is configured,
// so every caller must treat errors here as soft.
package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/cockroachdb/errors"

	"github.com/Olwiba/KoruClub/pkg/logx"
)

const defaultBaseURL = "https://openrouter.ai/api/v1"

type Config struct {
	BaseURL string
	APIKey  string
	Model   string
	Timeout time.Duration
}

type Client struct {
	cfg  Config
	http *http.Client
	log  logx.Logger
}

func NewClient(cfg Config, log logx.Logger) *Client {
	if cfg.BaseURL == "" {
		cfg.BaseURL = defaultBaseURL
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	return &Client{
		cfg:  cfg,
		http: &http.Client{Timeout: cfg.Timeout},
		log:  log,
	}
}

// Enabled reports whether the client can actually reach a model.
func (c *Client) Enabled() bool { return c != nil && c.cfg.APIKey != "" }

type message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type completionRequest struct {
	Model    string    `json:"model"`
	Messages []message `json:"messages"`
}

type completionResponse struct {
	Choices []struct {
		Message message `json:"message"`
	} `json:"choices"`
}

// Complete sends one system+user exchange and returns the model's text.
func (c *Client) Complete(ctx context.Context, systemPrompt, userPrompt string) (string, error) {
	if !c.Enabled() {
		return "", errors.New("llm client not configured")
	}

	body, err := json.Marshal(completionRequest{
		Model: c.cfg.Model,
		Messages: []message{
			{Role: "system", Content: systemPrompt},
			{Role: "user", Content: userPrompt},
		},
	})
	if err != nil {
		return "", errors.Wrap(err, "marshal completion request")
	}

	url := strings.TrimRight(c.cfg.BaseURL, "/") + "/chat/completions"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return "", errors.Wrap(err, "build completion request")
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)

	resp, err := c.http.Do(req)
	if err != nil {
		return "", errors.Wrap(err, "call completion endpoint")
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return "", errors.Wrap(err, "read completion response")
	}
	if resp.StatusCode != http.StatusOK {
		return "", errors.Newf("completion endpoint returned %d: %s", resp.StatusCode, truncateBody(raw))
	}

	var parsed completionResponse
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return "", errors.Wrap(err, "decode completion response")
	}
	if len(parsed.Choices) == 0 {
		return "", errors.New("completion response had no choices")
	}
	out := strings.TrimSpace(parsed.Choices[0].Message.Content)
	c.log.Debug("completion received",
		logx.String("model", c.cfg.Model),
		logx.Int("chars", len(out)))
	return out, nil
}

func truncateBody(b []byte) string {
	const max = 256
	s := string(b)
	if len(s) > max {
		return s[:max] + "..."
	}
	return s
}
