// Package llm handles communication with the external language-understanding
// service (an OpenRouter-compatible chat-completions API).
package llm

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// ErrTransient marks failures worth retrying: timeouts, quota, 5xx.
var ErrTransient = errors.New("transient llm failure")

// Client handles communication with the chat-completions API.
type Client struct {
	baseURL     string
	apiKey      string
	model       string
	visionModel string
	temperature float64
	maxRetries  int
	httpClient  *http.Client
}

// Config holds client settings.
type Config struct {
	BaseURL     string
	APIKey      string
	Model       string
	VisionModel string
	Temperature float64
	Timeout     time.Duration
	MaxRetries  int
}

// Message represents a chat message.
type Message struct {
	Role    string        `json:"role"`
	Content []ContentPart `json:"content"`
}

// ContentPart represents a part of message content (text or image).
type ContentPart struct {
	Type     string    `json:"type"`
	Text     string    `json:"text,omitempty"`
	ImageURL *ImageURL `json:"image_url,omitempty"`
}

// ImageURL represents an image URL in the message.
type ImageURL struct {
	URL string `json:"url"`
}

// Request represents the API request structure.
type Request struct {
	Model       string    `json:"model"`
	Messages    []Message `json:"messages"`
	Temperature float64   `json:"temperature"`
}

// Response represents the API response structure.
type Response struct {
	ID      string   `json:"id"`
	Choices []Choice `json:"choices"`
}

// Choice represents a single completion choice.
type Choice struct {
	Message      Delta  `json:"message"`
	FinishReason string `json:"finish_reason"`
}

// Delta represents message content in a response.
type Delta struct {
	Content string `json:"content"`
	Role    string `json:"role"`
}

// NewClient creates a new chat-completions client.
func NewClient(cfg Config) *Client {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	maxRetries := cfg.MaxRetries
	if maxRetries <= 0 {
		maxRetries = 3
	}
	visionModel := cfg.VisionModel
	if visionModel == "" {
		visionModel = cfg.Model
	}
	return &Client{
		baseURL:     strings.TrimRight(cfg.BaseURL, "/"),
		apiKey:      cfg.APIKey,
		model:       cfg.Model,
		visionModel: visionModel,
		temperature: cfg.Temperature,
		maxRetries:  maxRetries,
		httpClient:  &http.Client{Timeout: timeout},
	}
}

// Complete sends a system+user prompt and returns the assistant's text.
func (c *Client) Complete(ctx context.Context, system, user string) (string, error) {
	req := &Request{
		Model:       c.model,
		Temperature: c.temperature,
		Messages: []Message{
			{Role: "system", Content: []ContentPart{{Type: "text", Text: system}}},
			{Role: "user", Content: []ContentPart{{Type: "text", Text: user}}},
		},
	}
	return c.send(ctx, req)
}

// ReadPage asks the vision model to transcribe one PNG page image. Used as
// the secondary OCR strategy.
func (c *Client) ReadPage(ctx context.Context, page []byte) (string, error) {
	imageURL := "data:image/png;base64," + base64.StdEncoding.EncodeToString(page)
	req := &Request{
		Model:       c.visionModel,
		Temperature: 0,
		Messages: []Message{
			{Role: "user", Content: []ContentPart{
				{Type: "text", Text: pageReadPrompt},
				{Type: "image_url", ImageURL: &ImageURL{URL: imageURL}},
			}},
		},
	}
	return c.send(ctx, req)
}

const pageReadPrompt = `Transcribe ALL text visible in this document image.
Preserve the reading order. Output ONLY the transcribed text with no
commentary, no markdown formatting, and no descriptions of the image.`

func (c *Client) send(ctx context.Context, req *Request) (string, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return "", fmt.Errorf("marshal request: %w", err)
	}

	resp, err := c.retryWithBackoff(ctx, func() (*http.Response, error) {
		httpReq, err := http.NewRequestWithContext(ctx, "POST",
			c.baseURL+"/chat/completions", bytes.NewReader(body))
		if err != nil {
			return nil, err
		}

		httpReq.Header.Set("Content-Type", "application/json")
		httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)

		return c.httpClient.Do(httpReq)
	})
	if err != nil {
		return "", fmt.Errorf("send request: %w: %w", ErrTransient, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		bodyBytes, _ := io.ReadAll(resp.Body)
		err := fmt.Errorf("api returned status %d: %s", resp.StatusCode, truncate(string(bodyBytes), 200))
		if retryableStatus(resp.StatusCode) {
			return "", fmt.Errorf("%w: %w", ErrTransient, err)
		}
		return "", err
	}

	var parsed Response
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return "", fmt.Errorf("decode response: %w", err)
	}
	if len(parsed.Choices) == 0 {
		return "", fmt.Errorf("response contains no choices")
	}
	return parsed.Choices[0].Message.Content, nil
}

// retryWithBackoff retries transient HTTP failures with exponential backoff.
func (c *Client) retryWithBackoff(ctx context.Context, do func() (*http.Response, error)) (*http.Response, error) {
	var lastErr error
	backoff := 1 * time.Second

	for attempt := 0; attempt < c.maxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(backoff):
			}
			backoff *= 2
		}

		resp, err := do()
		if err != nil {
			lastErr = err
			continue
		}
		if retryableStatus(resp.StatusCode) && attempt < c.maxRetries-1 {
			resp.Body.Close()
			lastErr = fmt.Errorf("status %d", resp.StatusCode)
			continue
		}
		return resp, nil
	}
	return nil, lastErr
}

func retryableStatus(code int) bool {
	return code == http.StatusTooManyRequests || code >= 500
}

// UnwrapJSON extracts a JSON payload from a model response, stripping
// markdown code fences when present.
func UnwrapJSON(response string) string {
	s := strings.TrimSpace(response)
	if idx := strings.Index(s, "```json"); idx >= 0 {
		s = s[idx+len("```json"):]
		if end := strings.Index(s, "```"); end >= 0 {
			s = s[:end]
		}
		return strings.TrimSpace(s)
	}
	if idx := strings.Index(s, "```"); idx >= 0 {
		s = s[idx+3:]
		if end := strings.Index(s, "```"); end >= 0 {
			s = s[:end]
		}
		return strings.TrimSpace(s)
	}
	return s
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
