package signal

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"sigsummary/pkg/signal/types"

	"github.com/sirupsen/logrus"
)

type Client interface {
	SendMessage(ctx context.Context, recipient, message string) (*types.SendMessageResponse, error)
	ReceiveMessages(ctx context.Context, timeoutSeconds int) ([]types.RestMessage, error)
	ListGroups(ctx context.Context) ([]types.Group, error)
	JoinGroup(ctx context.Context, groupID string) error
	InitializeDevice(ctx context.Context) error
}

// APIError is a non-2xx answer from signal-cli-rest-api
type APIError struct {
	Endpoint string
	Status   int
	Body     string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("signal API error: status %d, body: %s", e.Status, e.Body)
}

// StatusCode extracts the HTTP status from err, or 0 when the request never
// got an answer.
func StatusCode(err error) int {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.Status
	}
	return 0
}

type SignalClient struct {
	baseURL     string
	authToken   string
	client      *http.Client
	phoneNumber string
	logger      *logrus.Logger
	mu          sync.Mutex // signal-cli handles one receive at a time
}

func NewClient(baseURL, authToken, phoneNumber string, httpClient *http.Client) Client {
	return NewClientWithLogger(baseURL, authToken, phoneNumber, httpClient, nil)
}

func NewClientWithLogger(baseURL, authToken, phoneNumber string, httpClient *http.Client, logger *logrus.Logger) Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 60 * time.Second}
	}

	if logger == nil {
		logger = logrus.New()
		logger.SetLevel(logrus.WarnLevel)
	}

	return &SignalClient{
		baseURL:     strings.TrimSuffix(baseURL, "/"),
		authToken:   authToken,
		phoneNumber: phoneNumber,
		client:      httpClient,
		logger:      logger,
	}
}

func (c *SignalClient) SendMessage(ctx context.Context, recipient, message string) (*types.SendMessageResponse, error) {
	payload := types.SendMessageRequest{
		Message:    message,
		Number:     c.phoneNumber,
		Recipients: []string{recipient},
		TextMode:   "normal",
	}

	jsonData, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	endpoint := fmt.Sprintf("%s/v2/send", c.baseURL)
	c.logger.WithField("endpoint", endpoint).Debug("Sending Signal message request")

	var result types.SendResponse
	if err := c.do(ctx, http.MethodPost, endpoint, bytes.NewReader(jsonData), &result); err != nil {
		return nil, err
	}

	return &types.SendMessageResponse{Timestamp: result.Timestamp.Int64()}, nil
}

func (c *SignalClient) ReceiveMessages(ctx context.Context, timeoutSeconds int) ([]types.RestMessage, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	endpoint := fmt.Sprintf("%s/v1/receive/%s", c.baseURL, url.PathEscape(c.phoneNumber))
	if timeoutSeconds > 0 {
		endpoint += fmt.Sprintf("?timeout=%d", timeoutSeconds)
	}

	c.logger.WithFields(logrus.Fields{
		"endpoint": endpoint,
		"timeout":  timeoutSeconds,
	}).Debug("Polling Signal messages")

	var messages []types.RestMessage
	if err := c.do(ctx, http.MethodGet, endpoint, nil, &messages); err != nil {
		return nil, err
	}
	return messages, nil
}

func (c *SignalClient) ListGroups(ctx context.Context) ([]types.Group, error) {
	endpoint := fmt.Sprintf("%s/v1/groups/%s", c.baseURL, url.PathEscape(c.phoneNumber))

	var groups []types.Group
	if err := c.do(ctx, http.MethodGet, endpoint, nil, &groups); err != nil {
		return nil, err
	}
	return groups, nil
}

// JoinGroup accepts a pending invite. groupID is the "group.<base64>" id
// from ListGroups.
func (c *SignalClient) JoinGroup(ctx context.Context, groupID string) error {
	endpoint := fmt.Sprintf("%s/v1/groups/%s/%s/join", c.baseURL, url.PathEscape(c.phoneNumber), url.PathEscape(groupID))
	c.logger.WithField("endpoint", endpoint).Debug("Joining Signal group")
	return c.do(ctx, http.MethodPost, endpoint, nil, nil)
}

// InitializeDevice checks the REST API is reachable and speaks v1 and v2
func (c *SignalClient) InitializeDevice(ctx context.Context) error {
	endpoint := fmt.Sprintf("%s/v1/about", c.baseURL)

	var about types.AboutResponse
	if err := c.do(ctx, http.MethodGet, endpoint, nil, &about); err != nil {
		return fmt.Errorf("device initialization failed: %w", err)
	}

	hasV1 := false
	hasV2 := false
	for _, version := range about.Versions {
		if version == "v1" {
			hasV1 = true
		}
		if version == "v2" {
			hasV2 = true
		}
	}

	if !hasV1 || !hasV2 {
		return fmt.Errorf("signal-cli-rest-api service does not support required API versions (v1, v2)")
	}

	return nil
}

func (c *SignalClient) do(ctx context.Context, method, endpoint string, body io.Reader, out interface{}) error {
	req, err := http.NewRequestWithContext(ctx, method, endpoint, body)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.authToken != "" {
		req.Header.Set("Authorization", "Bearer "+c.authToken)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		bodyBytes, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		c.logger.WithFields(logrus.Fields{
			"status": resp.StatusCode,
			"method": method,
		}).Warn("Signal API returned error status")
		return &APIError{Endpoint: endpoint, Status: resp.StatusCode, Body: string(bodyBytes)}
	}

	if out == nil {
		return nil
	}
	bodyBytes, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response body: %w", err)
	}
	if len(bytes.TrimSpace(bodyBytes)) == 0 {
		return nil
	}
	if err := json.Unmarshal(bodyBytes, out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}
