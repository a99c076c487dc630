// Package gemini is a minimal client for the generative language API.
// It covers the two calls the bot needs: free-form text generation and
// audio transcription via inline data.
package gemini

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

const (
	defaultBaseURL = "https://generativelanguage.googleapis.com/v1beta"
	defaultModel   = "gemini-1.5-flash"

	// voiceMimeType tags voice payloads; Telegram delivers voice notes as OGG.
	voiceMimeType = "audio/ogg"
)

// ErrUnconfigured is returned when no API key is present. Callers decide
// whether that degrades a feature or propagates.
var ErrUnconfigured = errors.New("gemini: API key not configured")

// HTTPDoer is the HTTP surface the client needs. Tests inject doubles.
type HTTPDoer interface {
	Do(*http.Request) (*http.Response, error)
}

// Client talks to the generative language API.
type Client struct {
	apiKey     string
	model      string
	baseURL    string
	httpClient HTTPDoer
}

// Option customizes a Client.
type Option func(*Client)

// WithModel overrides the default model.
func WithModel(model string) Option {
	return func(c *Client) { c.model = model }
}

// WithBaseURL overrides the API base URL (used by tests).
func WithBaseURL(u string) Option {
	return func(c *Client) { c.baseURL = strings.TrimRight(u, "/") }
}

// WithHTTPClient overrides the HTTP client (used by tests).
func WithHTTPClient(d HTTPDoer) Option {
	return func(c *Client) { c.httpClient = d }
}

// New creates a Client. An empty apiKey yields a client whose calls fail
// with ErrUnconfigured; construction itself never fails so the bot can run
// with the feature disabled.
func New(apiKey string, opts ...Option) *Client {
	c := &Client{
		apiKey:     apiKey,
		model:      defaultModel,
		baseURL:    defaultBaseURL,
		httpClient: &http.Client{Timeout: 60 * time.Second},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Configured reports whether an API key is present.
func (c *Client) Configured() bool {
	return c.apiKey != ""
}

// GenerateText sends the given text parts as a single user turn and returns
// the concatenated text of the first candidate.
func (c *Client) GenerateText(ctx context.Context, parts ...string) (string, error) {
	ps := make([]part, 0, len(parts))
	for _, p := range parts {
		ps = append(ps, part{Text: p})
	}
	return c.generate(ctx, ps)
}

// Transcribe submits audio bytes as inline data and returns the model's
// free-form text response.
func (c *Client) Transcribe(ctx context.Context, audio []byte) (string, error) {
	return c.generate(ctx, []part{{
		InlineData: &inlineData{
			MimeType: voiceMimeType,
			Data:     base64.StdEncoding.EncodeToString(audio),
		},
	}})
}

// API wire types.
type generateRequest struct {
	Contents []content `json:"contents"`
}

type content struct {
	Role  string `json:"role,omitempty"`
	Parts []part `json:"parts"`
}

type part struct {
	Text       string      `json:"text,omitempty"`
	InlineData *inlineData `json:"inlineData,omitempty"`
}

type inlineData struct {
	MimeType string `json:"mimeType"`
	Data     string `json:"data"`
}

type generateResponse struct {
	Candidates []struct {
		Content struct {
			Parts []struct {
				Text string `json:"text"`
			} `json:"parts"`
		} `json:"content"`
	} `json:"candidates"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error"`
}

func (c *Client) generate(ctx context.Context, parts []part) (string, error) {
	if !c.Configured() {
		return "", ErrUnconfigured
	}

	body := generateRequest{
		Contents: []content{{Role: "user", Parts: parts}},
	}
	jsonBody, err := json.Marshal(body)
	if err != nil {
		return "", fmt.Errorf("marshal request: %w", err)
	}

	url := fmt.Sprintf("%s/models/%s:generateContent", c.baseURL, c.model)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(jsonBody))
	if err != nil {
		return "", fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("x-goog-api-key", c.apiKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("http request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return "", fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("api error (status %d): %s", resp.StatusCode, truncate(string(respBody), 500))
	}

	return parseGenerateResponse(respBody)
}

func parseGenerateResponse(respBody []byte) (string, error) {
	var result generateResponse
	if err := json.Unmarshal(respBody, &result); err != nil {
		return "", fmt.Errorf("unmarshal response: %w", err)
	}
	if result.Error != nil {
		return "", fmt.Errorf("api error: %s", result.Error.Message)
	}
	if len(result.Candidates) == 0 || len(result.Candidates[0].Content.Parts) == 0 {
		return "", fmt.Errorf("empty response")
	}

	var sb strings.Builder
	for _, p := range result.Candidates[0].Content.Parts {
		sb.WriteString(p.Text)
	}
	return sb.String(), nil
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max]
}
