// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package ollama provides the HTTP client for the Ollama generation API.
package ollama

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
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
}

func (e *ClientError) Error() string {
	if e.Cause != nil {
		return e.Message + ": " + e.Cause.Error()
	}
	return e.Message
}

func (e *ClientError) Unwrap() error {
	return e.Cause
}

// ErrorType categorizes client errors for handling.
type ErrorType int

const (
	ErrTypeUnknown ErrorType = iota
	ErrTypeNotRunning
	ErrTypeTimeout
	ErrTypeModelNotFound
	ErrTypeConnection
	ErrTypeInvalidResponse
)

// String returns a short name for the error type.
func (t ErrorType) String() string {
	switch t {
	case ErrTypeNotRunning:
		return "not_running"
	case ErrTypeTimeout:
		return "timeout"
	case ErrTypeModelNotFound:
		return "model_not_found"
	case ErrTypeConnection:
		return "connection"
	case ErrTypeInvalidResponse:
		return "invalid_response"
	default:
		return "unknown"
	}
}

// Sentinel errors for easy checking.
var (
	ErrNotRunning    = &ClientError{Type: ErrTypeNotRunning, Message: "Ollama is not running"}
	ErrTimeout       = &ClientError{Type: ErrTypeTimeout, Message: "request timed out"}
	ErrModelNotFound = &ClientError{Type: ErrTypeModelNotFound, Message: "model not found"}
)

// =============================================================================
// CLIENT CONFIGURATION
// =============================================================================

const (
	defaultBaseURL = "http://127.0.0.1:11434"
	defaultModel   = "qwen2.5:7b"
	defaultTimeout = 30 * time.Second
)

// ClientConfig holds configuration options for the Ollama client.
type ClientConfig struct {
	// BaseURL is the Ollama API base URL (default: http://127.0.0.1:11434)
	BaseURL string

	// Timeout for non-streaming requests (default: 30s). Streaming requests
	// are bounded by their context only.
	Timeout time.Duration

	// DefaultModel is used when a request names no model.
	DefaultModel string
}

// DefaultConfig returns the default client configuration.
func DefaultConfig() *ClientConfig {
	return &ClientConfig{
		BaseURL:      defaultBaseURL,
		Timeout:      defaultTimeout,
		DefaultModel: defaultModel,
	}
}

// =============================================================================
// CLIENT
// =============================================================================

// Client handles communication with the Ollama API.
//
// The Client is safe for concurrent use.
//
// Example:
//
//	client := ollama.NewClientWithConfig(&ollama.ClientConfig{BaseURL: url})
//	body, err := client.Generate(ctx, ollama.GenerateRequest{Prompt: "hi"})
//	if err != nil {
//	    return err
//	}
//	defer body.Close()
type Client struct {
	config       *ClientConfig
	httpClient   *http.Client
	streamClient *http.Client
}

// NewClient creates a new Ollama client with default configuration.
func NewClient() *Client {
	return NewClientWithConfig(DefaultConfig())
}

// NewClientWithConfig creates a new Ollama client with custom configuration.
func NewClientWithConfig(config *ClientConfig) *Client {
	if config == nil {
		config = DefaultConfig()
	}
	cfg := *config

	// Fill in defaults for any zero values
	if cfg.BaseURL == "" {
		cfg.BaseURL = defaultBaseURL
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	if cfg.Timeout == 0 {
		cfg.Timeout = defaultTimeout
	}
	if cfg.DefaultModel == "" {
		cfg.DefaultModel = defaultModel
	}

	return &Client{
		config:     &cfg,
		httpClient: &http.Client{Timeout: cfg.Timeout},
		// Streams can legitimately run for minutes; the caller's context
		// is the only bound.
		streamClient: &http.Client{},
	}
}

// =============================================================================
// HEALTH CHECK
// =============================================================================

// CheckRunning verifies that Ollama is reachable and running.
func (c *Client) CheckRunning(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.config.BaseURL, nil)
	if err != nil {
		return &ClientError{Type: ErrTypeConnection, Message: "failed to create request", Cause: err}
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return transportError(err)
	}
	defer drainAndClose(resp.Body)

	if resp.StatusCode != http.StatusOK {
		return &ClientError{
			Type:    ErrTypeConnection,
			Message: "unexpected status from Ollama: " + resp.Status,
		}
	}

	return nil
}

// =============================================================================
// MODEL OPERATIONS
// =============================================================================

// ListModels retrieves all available models from Ollama.
func (c *Client) ListModels(ctx context.Context) ([]ModelInfo, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.config.BaseURL+"/api/tags", nil)
	if err != nil {
		return nil, &ClientError{Type: ErrTypeConnection, Message: "failed to create request", Cause: err}
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, transportError(err)
	}
	defer drainAndClose(resp.Body)

	if resp.StatusCode != http.StatusOK {
		return nil, &ClientError{
			Type:    ErrTypeInvalidResponse,
			Message: "failed to list models: " + resp.Status,
		}
	}

	var result ListModelsResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, &ClientError{Type: ErrTypeInvalidResponse, Message: "failed to decode response", Cause: err}
	}

	return result.Models, nil
}

// HasModel reports whether name is available locally. A name without a tag
// matches the ":latest" tag.
func (c *Client) HasModel(ctx context.Context, name string) (bool, error) {
	models, err := c.ListModels(ctx)
	if err != nil {
		return false, err
	}
	for _, m := range models {
		if m.Name == name || m.Name == name+":latest" {
			return true, nil
		}
	}
	return false, nil
}

// =============================================================================
// GENERATION
// =============================================================================

// Generate posts a streaming request to /api/generate and returns the open
// response body, which yields newline-delimited JSON objects. The caller
// must close it. Cancelling ctx aborts the stream.
func (c *Client) Generate(ctx context.Context, r GenerateRequest) (io.ReadCloser, error) {
	if r.Model == "" {
		r.Model = c.config.DefaultModel
	}
	r.Stream = true

	body, err := json.Marshal(r)
	if err != nil {
		return nil, &ClientError{Type: ErrTypeInvalidResponse, Message: "failed to marshal request", Cause: err}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.config.BaseURL+"/api/generate", bytes.NewReader(body))
	if err != nil {
		return nil, &ClientError{Type: ErrTypeConnection, Message: "failed to create request", Cause: err}
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/x-ndjson")

	resp, err := c.streamClient.Do(req)
	if err != nil {
		return nil, transportError(err)
	}

	if resp.StatusCode == http.StatusNotFound {
		msg := readOllamaError(resp.Body)
		drainAndClose(resp.Body)
		if msg == "" {
			return nil, ErrModelNotFound
		}
		return nil, &ClientError{Type: ErrTypeModelNotFound, Message: msg}
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		msg := readOllamaError(resp.Body)
		drainAndClose(resp.Body)
		if msg == "" {
			msg = "generate request failed: " + resp.Status
		}
		return nil, &ClientError{Type: ErrTypeInvalidResponse, Message: msg}
	}

	if resp.Body == nil || resp.Body == http.NoBody {
		return nil, &ClientError{Type: ErrTypeInvalidResponse, Message: "response has no body"}
	}

	return resp.Body, nil
}

// =============================================================================
// UTILITY METHODS
// =============================================================================

// GetConfig returns a copy of the client configuration.
func (c *Client) GetConfig() ClientConfig {
	return *c.config
}

// GetDefaultModel returns the model used when a request names none.
func (c *Client) GetDefaultModel() string {
	return c.config.DefaultModel
}

// IsModelNotFound checks if an error is a model not found error.
func IsModelNotFound(err error) bool {
	return hasType(err, ErrTypeModelNotFound)
}

// IsNotRunning checks if an error indicates Ollama is not running.
func IsNotRunning(err error) bool {
	return hasType(err, ErrTypeNotRunning)
}

// IsTimeout checks if an error is a timeout error.
func IsTimeout(err error) bool {
	return hasType(err, ErrTypeTimeout)
}

func hasType(err error, t ErrorType) bool {
	var clientErr *ClientError
	if errors.As(err, &clientErr) {
		return clientErr.Type == t
	}
	return false
}

// transportError maps an http.Client failure onto the error taxonomy. The
// original error stays reachable through Unwrap so callers can still test
// for context.Canceled.
func transportError(err error) error {
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return &ClientError{Type: ErrTypeTimeout, Message: ErrTimeout.Message, Cause: err}
	case errors.Is(err, context.Canceled):
		return &ClientError{Type: ErrTypeConnection, Message: "request canceled", Cause: err}
	default:
		return &ClientError{Type: ErrTypeNotRunning, Message: ErrNotRunning.Message, Cause: err}
	}
}

// readOllamaError extracts the error text of a failed response, if any.
func readOllamaError(r io.Reader) string {
	if r == nil {
		return ""
	}
	var ollamaErr OllamaError
	if err := json.NewDecoder(io.LimitReader(r, 64<<10)).Decode(&ollamaErr); err != nil {
		return ""
	}
	return ollamaErr.Error
}

// Helper to drain response body
func drainAndClose(r io.ReadCloser) {
	if r == nil {
		return
	}
	io.Copy(io.Discard, io.LimitReader(r, 1<<20))
	r.Close()
}
