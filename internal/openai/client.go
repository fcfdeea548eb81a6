// ABOUTME: Minimal OpenAI HTTP client for chat completions and embeddings
// ABOUTME: Failures come back as apperr kinds; nothing is retried

package openai

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

	"github.com/2389/todovex/internal/apperr"
)

const (
	DefaultBaseURL        = "https://api.openai.com/v1"
	DefaultChatModel      = "gpt-3.5-turbo"
	DefaultEmbeddingModel = "text-embedding-ada-002"

	// maxErrorBody caps how much of a failed response is kept for messages.
	maxErrorBody = 4 << 10
)

// Config configures a Client.
type Config struct {
	APIKey         string
	BaseURL        string
	EmbeddingModel string
	// Dimensions, when non-zero, is the vector length Embed insists on.
	Dimensions int
	Timeout    time.Duration
	HTTPClient *http.Client
	Logger     *slog.Logger
}

// Client talks to the OpenAI REST API. It is safe for concurrent use.
type Client struct {
	apiKey         string
	baseURL        string
	embeddingModel string
	dimensions     int
	http           *http.Client
	logger         *slog.Logger
}

// New builds a client. A missing API key is a configuration error.
func New(cfg Config) (*Client, error) {
	if cfg.APIKey == "" {
		return nil, apperr.New(apperr.Configuration, "openai.New", "API key is required")
	}
	c := &Client{
		apiKey:         cfg.APIKey,
		baseURL:        strings.TrimRight(cfg.BaseURL, "/"),
		embeddingModel: cfg.EmbeddingModel,
		dimensions:     cfg.Dimensions,
		http:           cfg.HTTPClient,
		logger:         cfg.Logger,
	}
	if c.baseURL == "" {
		c.baseURL = DefaultBaseURL
	}
	if c.embeddingModel == "" {
		c.embeddingModel = DefaultEmbeddingModel
	}
	if c.http == nil {
		c.http = &http.Client{Timeout: cfg.Timeout}
	}
	if c.logger == nil {
		c.logger = slog.Default()
	}
	c.logger = c.logger.With("component", "openai")
	return c, nil
}

// ChatRequest is a single system+user exchange.
type ChatRequest struct {
	Model  string
	System string
	User   string
	// JSON asks the model to answer with a single JSON object.
	JSON bool
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type responseFormat struct {
	Type string `json:"type"`
}

type chatRequest struct {
	Model          string          `json:"model"`
	Messages       []chatMessage   `json:"messages"`
	ResponseFormat *responseFormat `json:"response_format,omitempty"`
}

type chatResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
}

// Chat returns the content of the first choice. An empty answer is returned
// as "" without error; callers decide whether that is acceptable.
func (c *Client) Chat(ctx context.Context, req ChatRequest) (string, error) {
	model := req.Model
	if model == "" {
		model = DefaultChatModel
	}
	body := chatRequest{
		Model: model,
		Messages: []chatMessage{
			{Role: "system", Content: req.System},
			{Role: "user", Content: req.User},
		},
	}
	if req.JSON {
		body.ResponseFormat = &responseFormat{Type: "json_object"}
	}

	var resp chatResponse
	if err := c.post(ctx, "openai.Chat", "/chat/completions", body, &resp); err != nil {
		return "", err
	}
	if len(resp.Choices) == 0 {
		return "", nil
	}
	return resp.Choices[0].Message.Content, nil
}

type embeddingRequest struct {
	Input          string `json:"input"`
	Model          string `json:"model"`
	EncodingFormat string `json:"encoding_format"`
}

type embeddingResponse struct {
	Data []struct {
		Embedding []float64 `json:"embedding"`
	} `json:"data"`
}

// Embed returns the embedding vector for text.
func (c *Client) Embed(ctx context.Context, text string) ([]float64, error) {
	const op = "openai.Embed"

	var resp embeddingResponse
	err := c.post(ctx, op, "/embeddings", embeddingRequest{
		Input:          text,
		Model:          c.embeddingModel,
		EncodingFormat: "float",
	}, &resp)
	if err != nil {
		return nil, err
	}
	if len(resp.Data) == 0 || len(resp.Data[0].Embedding) == 0 {
		return nil, apperr.New(apperr.Upstream, op, "response contained no embedding")
	}

	vector := resp.Data[0].Embedding
	if c.dimensions > 0 && len(vector) != c.dimensions {
		return nil, apperr.Newf(apperr.Upstream, op, "expected %d dimensions, got %d", c.dimensions, len(vector))
	}
	c.logger.Info("generated embedding", "model", c.embeddingModel, "dimensions", len(vector))
	return vector, nil
}

type errorEnvelope struct {
	Error struct {
		Message string `json:"message"`
		Type    string `json:"type"`
		Code    string `json:"code"`
	} `json:"error"`
}

func (c *Client) post(ctx context.Context, op, path string, in, out any) error {
	body, err := json.Marshal(in)
	if err != nil {
		return fmt.Errorf("%s: marshal request: %w", op, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("%s: create request: %w", op, err)
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return apperr.Wrap(apperr.Upstream, op, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return statusError(op, resp.StatusCode, raw)
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return apperr.Wrap(apperr.Upstream, op, fmt.Errorf("decode response: %w", err))
	}
	return nil
}

func statusError(op string, status int, raw []byte) error {
	var env errorEnvelope
	msg := strings.TrimSpace(string(raw))
	if json.Unmarshal(raw, &env) == nil && env.Error.Message != "" {
		msg = env.Error.Message
	}
	if msg == "" {
		msg = http.StatusText(status)
	}

	kind := apperr.Upstream
	if status == http.StatusUnauthorized {
		kind = apperr.Configuration
	}
	if env.Error.Code == "context_length_exceeded" || strings.Contains(msg, "maximum context length") {
		kind = apperr.ContextLength
	}
	return apperr.Newf(kind, op, "OpenAI API error (%d): %s", status, msg)
}
