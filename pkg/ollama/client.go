package ollama

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/ollama/ollama/api"
)

// Message is one chat turn
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type Options struct {
	Temperature float64 `json:"temperature"`
	NumPredict  int     `json:"num_predict,omitempty"`
}

type ChatRequest struct {
	Model    string    `json:"model"`
	Messages []Message `json:"messages"`
	Options  Options   `json:"options"`
}

type ChatResponse struct {
	Model     string  `json:"model"`
	Message   Message `json:"message"`
	Done      bool    `json:"done"`
	EvalCount int     `json:"eval_count"`
}

// StatusError is a non-2xx answer from the Ollama API that carried no error
// message of its own
type StatusError struct {
	Status int
	Body   string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("ollama API error: status %d, body: %s", e.Status, e.Body)
}

type Client interface {
	Chat(ctx context.Context, req ChatRequest) (*ChatResponse, error)
	Ping(ctx context.Context) error
}

// HTTPClient adapts the official Ollama API client to Client
type HTTPClient struct {
	api *api.Client
}

// NewClient talks to an Ollama server at host. Per-call deadlines come from
// the context; httpClient may be nil.
func NewClient(host string, httpClient *http.Client) (*HTTPClient, error) {
	base, err := url.Parse(strings.TrimSuffix(host, "/"))
	if err != nil {
		return nil, fmt.Errorf("invalid ollama host %q: %w", host, err)
	}
	if base.Scheme == "" || base.Host == "" {
		return nil, fmt.Errorf("invalid ollama host %q: scheme and host are required", host)
	}
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 5 * time.Minute}
	}
	return &HTTPClient{api: api.NewClient(base, httpClient)}, nil
}

// Chat runs a non-streaming chat completion. Chunks are still joined in case
// the server streams anyway.
func (c *HTTPClient) Chat(ctx context.Context, chatReq ChatRequest) (*ChatResponse, error) {
	stream := false
	req := &api.ChatRequest{
		Model:    chatReq.Model,
		Messages: make([]api.Message, 0, len(chatReq.Messages)),
		Stream:   &stream,
		Options:  map[string]any{"temperature": chatReq.Options.Temperature},
	}
	if chatReq.Options.NumPredict > 0 {
		req.Options["num_predict"] = chatReq.Options.NumPredict
	}
	for _, m := range chatReq.Messages {
		req.Messages = append(req.Messages, api.Message{Role: m.Role, Content: m.Content})
	}

	var out ChatResponse
	var content strings.Builder
	err := c.api.Chat(ctx, req, func(resp api.ChatResponse) error {
		content.WriteString(resp.Message.Content)
		out.Model = resp.Model
		out.Message.Role = resp.Message.Role
		if resp.Done {
			out.Done = true
			out.EvalCount = resp.EvalCount
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("chat request failed: %w", wrapStatus(err))
	}
	out.Message.Content = content.String()
	return &out, nil
}

// Ping checks the server answers on its root endpoint
func (c *HTTPClient) Ping(ctx context.Context) error {
	if err := c.api.Heartbeat(ctx); err != nil {
		return fmt.Errorf("ollama unreachable: %w", wrapStatus(err))
	}
	return nil
}

func wrapStatus(err error) error {
	var statusErr api.StatusError
	if errors.As(err, &statusErr) {
		return &StatusError{Status: statusErr.StatusCode, Body: statusErr.ErrorMessage}
	}
	return err
}
