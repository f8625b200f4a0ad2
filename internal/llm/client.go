// Package llm is an HTTP client for an Ollama-compatible model server,
// providing text generation and embedding.
package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"
)

// Outbound call timeouts. The upstream API itself sets none, so every
// call is bounded here; a timeout surfaces as an unavailable model.
const (
	generateTimeout = 120 * time.Second
	embedTimeout    = 30 * time.Second
)

// ErrStatus indicates the model server answered with a non-200 status.
var ErrStatus = errors.New("model server returned error status")

// Client talks to one model server. Safe for concurrent use.
type Client struct {
	baseURL    string
	model      string
	embedModel string
	http       *http.Client
}

// New creates a Client for the server at host:port. model is the chat
// model identifier, embedModel the embedding model identifier.
func New(host string, port int, model, embedModel string) *Client {
	return &Client{
		baseURL:    fmt.Sprintf("http://%s:%d", host, port),
		model:      model,
		embedModel: embedModel,
		http:       &http.Client{},
	}
}

type generateRequest struct {
	Model  string `json:"model"`
	Prompt string `json:"prompt"`
	Stream bool   `json:"stream"`
}

type generateResponse struct {
	Response string `json:"response"`
	Done     bool   `json:"done"`
}

// Generate sends prompt to the chat model and returns its raw text output.
func (c *Client) Generate(ctx context.Context, prompt string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, generateTimeout)
	defer cancel()

	var out generateResponse
	if err := c.post(ctx, "/api/generate", generateRequest{
		Model:  c.model,
		Prompt: prompt,
		Stream: false,
	}, &out); err != nil {
		return "", fmt.Errorf("generating: %w", err)
	}
	return out.Response, nil
}

type embedRequest struct {
	Model  string `json:"model"`
	Prompt string `json:"prompt"`
}

type embedResponse struct {
	Embedding []float32 `json:"embedding"`
}

// Embed returns the embedding vector for text.
func (c *Client) Embed(ctx context.Context, text string) ([]float32, error) {
	ctx, cancel := context.WithTimeout(ctx, embedTimeout)
	defer cancel()

	var out embedResponse
	if err := c.post(ctx, "/api/embeddings", embedRequest{
		Model:  c.embedModel,
		Prompt: text,
	}, &out); err != nil {
		return nil, fmt.Errorf("embedding: %w", err)
	}
	return out.Embedding, nil
}

// post sends a JSON request and decodes a JSON response.
func (c *Client) post(ctx context.Context, path string, in, out any) error {
	body, err := json.Marshal(in)
	if err != nil {
		return fmt.Errorf("marshaling request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("calling model server: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		// Drain a bounded amount so the message is useful without trusting
		// the server to be brief.
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("%w: %d %s", ErrStatus, resp.StatusCode, bytes.TrimSpace(msg))
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decoding response: %w", err)
	}
	return nil
}
