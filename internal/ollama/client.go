// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package ollama

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"
)

// =============================================================================
// ERROR TYPES
// =============================================================================

// ClientError represents an error from the Ollama client.
type ClientError struct {
	Type    ErrorType
	Message string
	Cause   error

	// Set for ErrTypeHTTP
	StatusCode int
	Detail     string // server-supplied {"error": ...} text, if any
}

func (e *ClientError) Error() string {
	msg := e.Message
	if e.Detail != "" {
		msg += " (detail: " + e.Detail + ")"
	}
	if e.Cause != nil {
		return msg + ": " + e.Cause.Error()
	}
	return msg
}

func (e *ClientError) Unwrap() error {
	return e.Cause
}

// Is matches on the error type so callers can compare against the
// sentinels with errors.Is.
func (e *ClientError) Is(target error) bool {
	t, ok := target.(*ClientError)
	if !ok {
		return false
	}
	return e.Type == t.Type
}

// IsTransport reports whether the server could not be reached in time.
func (e *ClientError) IsTransport() bool {
	return e.Type == ErrTypeTimeout || e.Type == ErrTypeConnection
}

// IsRemoteProtocol reports whether the server answered with a non-2xx status.
func (e *ClientError) IsRemoteProtocol() bool {
	return e.Type == ErrTypeHTTP
}

// ErrorType categorizes client errors for handling.
type ErrorType int

const (
	ErrTypeUnknown ErrorType = iota
	ErrTypeTimeout
	ErrTypeConnection
	ErrTypeHTTP
	ErrTypeInvalidResponse
)

// String returns the metric/log label of the error type.
func (t ErrorType) String() string {
	switch t {
	case ErrTypeTimeout:
		return "timeout"
	case ErrTypeConnection:
		return "connection"
	case ErrTypeHTTP:
		return "http"
	case ErrTypeInvalidResponse:
		return "invalid_response"
	default:
		return "unknown"
	}
}

// Sentinel errors for easy checking.
var (
	ErrTimeout    = &ClientError{Type: ErrTypeTimeout, Message: "request timed out"}
	ErrNotRunning = &ClientError{Type: ErrTypeConnection, Message: "Ollama is not reachable"}
	ErrHTTP       = &ClientError{Type: ErrTypeHTTP, Message: "Ollama returned an error status"}
	ErrUnexpected = &ClientError{Type: ErrTypeUnknown, Message: "unexpected error"}
)

// =============================================================================
// CLIENT CONFIGURATION
// =============================================================================

const (
	// DefaultBaseURL is used when no base URL is configured.
	DefaultBaseURL = "http://localhost:11434"

	// DefaultTimeout is the ceiling for one non-streaming chat request.
	// Large models on CPU can take minutes to answer.
	DefaultTimeout = 600 * time.Second

	// DefaultCatalogTimeout bounds the /api/tags call.
	DefaultCatalogTimeout = 10 * time.Second

	// DefaultModel is used when a request names no model.
	DefaultModel = "STEMBot-4B"
)

// ClientConfig holds configuration options for the Ollama client.
type ClientConfig struct {
	// BaseURL is the Ollama API base URL (default: http://localhost:11434)
	BaseURL string

	// Timeout for chat requests (default: 600s)
	Timeout time.Duration

	// CatalogTimeout for listing models (default: 10s)
	CatalogTimeout time.Duration

	// DefaultModel to use if none specified (default: "STEMBot-4B")
	DefaultModel string

	// HTTPClient overrides the transport; its Timeout is left untouched.
	HTTPClient *http.Client
}

// DefaultConfig returns the default client configuration.
func DefaultConfig() *ClientConfig {
	return &ClientConfig{
		BaseURL:        DefaultBaseURL,
		Timeout:        DefaultTimeout,
		CatalogTimeout: DefaultCatalogTimeout,
		DefaultModel:   DefaultModel,
	}
}

// =============================================================================
// CLIENT
// =============================================================================

// Client handles communication with the Ollama API.
//
// The Client is safe for concurrent use.
type Client struct {
	config     *ClientConfig
	httpClient *http.Client
}

// NewClient creates a new Ollama client with default configuration.
func NewClient() *Client {
	return NewClientWithConfig(DefaultConfig())
}

// NewClientWithConfig creates a new Ollama client with custom configuration.
// Zero fields are filled with defaults.
func NewClientWithConfig(config *ClientConfig) *Client {
	if config == nil {
		config = DefaultConfig()
	}
	cfg := *config

	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	if cfg.Timeout == 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.CatalogTimeout == 0 {
		cfg.CatalogTimeout = DefaultCatalogTimeout
	}
	if cfg.DefaultModel == "" {
		cfg.DefaultModel = DefaultModel
	}

	httpClient := cfg.HTTPClient
	if httpClient == nil {
		// Per-request deadlines come from the context
		httpClient = &http.Client{}
	}

	return &Client{
		config:     &cfg,
		httpClient: httpClient,
	}
}

// BaseURL returns the configured server URL.
func (c *Client) BaseURL() string {
	return c.config.BaseURL
}

// DefaultModel returns the model used when a request names none.
func (c *Client) DefaultModel() string {
	return c.config.DefaultModel
}

// =============================================================================
// MODEL OPERATIONS
// =============================================================================

// ListModels retrieves all available models from Ollama.
func (c *Client) ListModels(ctx context.Context) ([]ModelInfo, error) {
	ctx, cancel := context.WithTimeout(ctx, c.config.CatalogTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.config.BaseURL+"/api/tags", nil)
	if err != nil {
		return nil, &ClientError{Type: ErrTypeConnection, Message: "failed to create request", Cause: err}
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, classifyTransportError(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, httpError("failed to list models", resp)
	}

	var result tagsResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, &ClientError{Type: ErrTypeInvalidResponse, Message: "failed to decode response", Cause: err}
	}
	return result.Models, nil
}

// =============================================================================
// CHAT OPERATIONS
// =============================================================================

// Chat sends a chat request and returns the complete response (non-streaming).
func (c *Client) Chat(ctx context.Context, model string, messages []Message) (*ChatResponse, error) {
	if model == "" {
		model = c.config.DefaultModel
	}

	reqBody := ChatRequest{
		Model:    model,
		Messages: messages,
		Stream:   false,
	}
	body, err := json.Marshal(reqBody)
	if err != nil {
		return nil, &ClientError{Type: ErrTypeUnknown, Message: "failed to marshal request", Cause: err}
	}

	ctx, cancel := context.WithTimeout(ctx, c.config.Timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.config.BaseURL+"/api/chat", bytes.NewReader(body))
	if err != nil {
		return nil, &ClientError{Type: ErrTypeConnection, Message: "failed to create request", Cause: err}
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, classifyTransportError(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, httpError("chat request failed", resp)
	}

	var result ChatResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		if isTimeout(err) {
			return nil, &ClientError{Type: ErrTypeTimeout, Message: ErrTimeout.Message, Cause: err}
		}
		return nil, &ClientError{Type: ErrTypeInvalidResponse, Message: "failed to decode response", Cause: err}
	}
	return &result, nil
}

// =============================================================================
// HELPERS
// =============================================================================

// maxErrorBody caps how much of an error response is read.
const maxErrorBody = 64 * 1024

// httpError builds an ErrTypeHTTP error, extracting {"error": "..."} from
// the body when present.
func httpError(msg string, resp *http.Response) *ClientError {
	ce := &ClientError{
		Type:       ErrTypeHTTP,
		Message:    msg + ": " + strconv.Itoa(resp.StatusCode) + " " + http.StatusText(resp.StatusCode),
		StatusCode: resp.StatusCode,
	}
	data, err := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	if err != nil {
		return ce
	}
	var ollamaErr errorBody
	if json.Unmarshal(data, &ollamaErr) == nil && ollamaErr.Error != "" {
		ce.Detail = ollamaErr.Error
	}
	return ce
}

// classifyTransportError maps an http.Client.Do failure to a ClientError.
func classifyTransportError(err error) *ClientError {
	if isTimeout(err) {
		return &ClientError{Type: ErrTypeTimeout, Message: ErrTimeout.Message, Cause: err}
	}
	return &ClientError{Type: ErrTypeConnection, Message: ErrNotRunning.Message, Cause: err}
}

func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}

// IsTimeout returns true if the error is a timeout error.
func IsTimeout(err error) bool {
	return errors.Is(err, ErrTimeout)
}

// IsNotRunning returns true if Ollama could not be reached.
func IsNotRunning(err error) bool {
	return errors.Is(err, ErrNotRunning)
}

// IsHTTPError returns true if Ollama answered with an error status.
func IsHTTPError(err error) bool {
	return errors.Is(err, ErrHTTP)
}
