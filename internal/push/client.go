// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package push provides the client for the server-push event stream of the
// image-edit backend.
//
// Open issues a GET against the stream or chat endpoint and returns the
// text/event-stream body. Each event carries a "data:" line with a JSON
// payload discriminated by "type".
package push

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
)

// =============================================================================
// ERRORS
// =============================================================================

// OpenError reports a stream that could not be opened. Status is zero when
// the request never produced a response.
type OpenError struct {
	Status  int
	Message string
	Cause   error
}

func (e *OpenError) Error() string {
	msg := "push stream: " + e.Message
	if e.Status != 0 {
		msg += " (HTTP " + strconv.Itoa(e.Status) + ")"
	}
	if e.Cause != nil {
		msg += ": " + e.Cause.Error()
	}
	return msg
}

func (e *OpenError) Unwrap() error {
	return e.Cause
}

// IsUnreachable reports whether err is an OpenError for a request that
// never reached the server.
func IsUnreachable(err error) bool {
	var oe *OpenError
	return errors.As(err, &oe) && oe.Status == 0
}

// =============================================================================
// QUERY
// =============================================================================

// Source values for Query.Source.
const (
	SourceOriginal = "original"
	SourceEdited   = "edited"
)

// Query describes one push request.
type Query struct {
	// ID and Filename identify an uploaded image. Filename may be empty
	// when Source is SourceEdited.
	ID       string
	Filename string

	Instruction string

	// Source selects the uploaded original or the last edited result.
	// Empty means the server default.
	Source string

	// Operation and OpParams forward a previously captured tool call.
	// OpParams is a JSON object.
	Operation string
	OpParams  string

	// ChatOnly sends the instruction to the chat endpoint with no image.
	ChatOnly bool
}

// Values returns the query parameters for q.
func (q Query) Values() url.Values {
	v := url.Values{}
	if q.ChatOnly {
		v.Set("instruction", q.Instruction)
		return v
	}
	v.Set("id", q.ID)
	v.Set("filename", q.Filename)
	v.Set("instruction", q.Instruction)
	if q.Source != "" {
		v.Set("source", q.Source)
	}
	if q.Operation != "" {
		v.Set("operation", q.Operation)
		params := q.OpParams
		if params == "" {
			params = "{}"
		}
		v.Set("op_params", params)
	}
	return v
}

// =============================================================================
// CLIENT
// =============================================================================

const (
	defaultBaseURL    = "http://127.0.0.1:5000"
	defaultStreamPath = "/stream"
	defaultChatPath   = "/chat"
)

// ClientConfig holds the endpoint layout of the backend.
type ClientConfig struct {
	BaseURL    string
	StreamPath string
	ChatPath   string
}

// Client opens push streams. It is safe for concurrent use.
type Client struct {
	config     ClientConfig
	httpClient *http.Client
}

// NewClient creates a client, filling defaults for zero fields.
func NewClient(cfg ClientConfig) *Client {
	if cfg.BaseURL == "" {
		cfg.BaseURL = defaultBaseURL
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	if cfg.StreamPath == "" {
		cfg.StreamPath = defaultStreamPath
	}
	if cfg.ChatPath == "" {
		cfg.ChatPath = defaultChatPath
	}
	return &Client{
		config: cfg,
		// Push streams stay open until the backend finishes; the caller's
		// context is the only bound.
		httpClient: &http.Client{},
	}
}

// URL returns the full request URL for q.
func (c *Client) URL(q Query) string {
	path := c.config.StreamPath
	if q.ChatOnly {
		path = c.config.ChatPath
	}
	return c.config.BaseURL + path + "?" + q.Values().Encode()
}

// Open starts a push stream and returns its body. The caller must close it.
// Cancelling ctx aborts the stream.
func (c *Client) Open(ctx context.Context, q Query) (io.ReadCloser, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.URL(q), nil)
	if err != nil {
		return nil, &OpenError{Message: "failed to create request", Cause: err}
	}
	req.Header.Set("Accept", "text/event-stream")
	req.Header.Set("Cache-Control", "no-cache")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, &OpenError{Message: "request failed", Cause: err}
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		defer resp.Body.Close()
		text, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		msg := strings.TrimSpace(string(text))
		if msg == "" {
			msg = resp.Status
		}
		return nil, &OpenError{Status: resp.StatusCode, Message: msg}
	}

	return resp.Body, nil
}

// Ping checks that the backend answers at its base URL.
func (c *Client) Ping(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.config.BaseURL+"/", nil)
	if err != nil {
		return &OpenError{Message: "failed to create request", Cause: err}
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return &OpenError{Message: "backend unreachable", Cause: err}
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))
	if resp.StatusCode >= 500 {
		return &OpenError{Status: resp.StatusCode, Message: resp.Status}
	}
	return nil
}
