// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package upload sends images to the backend's upload endpoint.
package upload

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"strings"
	"time"
)

// =============================================================================
// TYPES
// =============================================================================

// File is an image to upload.
type File struct {
	Name        string
	ContentType string
	Data        []byte
}

// Result is the server's answer to a successful upload.
type Result struct {
	ID       string `json:"id"`
	Filename string `json:"filename"`
	Error    string `json:"error,omitempty"`
}

// Error is returned when the server rejects an upload or cannot be reached.
// Status is zero when no response was received.
type Error struct {
	Status  int
	Message string
	Cause   error
}

func (e *Error) Error() string {
	msg := "Upload error: " + e.Message
	if e.Cause != nil {
		msg += ": " + e.Cause.Error()
	}
	return msg
}

func (e *Error) Unwrap() error {
	return e.Cause
}

// =============================================================================
// CLIENT
// =============================================================================

const (
	defaultBaseURL    = "http://127.0.0.1:5000"
	defaultUploadPath = "/upload"
	defaultTimeout    = 60 * time.Second
)

// ClientConfig configures the upload endpoint.
type ClientConfig struct {
	BaseURL string
	Path    string
	Timeout time.Duration
}

// Client posts multipart uploads. It is safe for concurrent use.
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
	if cfg.Path == "" {
		cfg.Path = defaultUploadPath
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = defaultTimeout
	}
	return &Client{
		config:     cfg,
		httpClient: &http.Client{Timeout: cfg.Timeout},
	}
}

// Upload sends f as the "image" field together with the instruction.
func (c *Client) Upload(ctx context.Context, f File, instruction string) (*Result, error) {
	body, contentType, err := encodeForm(f, instruction)
	if err != nil {
		return nil, &Error{Message: "failed to encode form", Cause: err}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.config.BaseURL+c.config.Path, body)
	if err != nil {
		return nil, &Error{Message: "failed to create request", Cause: err}
	}
	req.Header.Set("Content-Type", contentType)
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, &Error{Message: "request failed", Cause: err}
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, &Error{Status: resp.StatusCode, Message: "failed to read response", Cause: err}
	}

	var result Result
	if err := json.Unmarshal(raw, &result); err != nil {
		if resp.StatusCode < 200 || resp.StatusCode > 299 {
			return nil, &Error{Status: resp.StatusCode, Message: statusMessage(resp, raw)}
		}
		return nil, &Error{Status: resp.StatusCode, Message: "invalid response", Cause: err}
	}
	if result.Error != "" {
		return nil, &Error{Status: resp.StatusCode, Message: result.Error}
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &Error{Status: resp.StatusCode, Message: statusMessage(resp, raw)}
	}
	if result.ID == "" {
		return nil, &Error{Status: resp.StatusCode, Message: "response has no id"}
	}
	if result.Filename == "" {
		result.Filename = f.Name
	}
	return &result, nil
}

func encodeForm(f File, instruction string) (io.Reader, string, error) {
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)

	ct := f.ContentType
	if ct == "" {
		ct = "application/octet-stream"
	}
	h := make(textproto.MIMEHeader)
	h.Set("Content-Disposition", fmt.Sprintf(`form-data; name="image"; filename=%q`, f.Name))
	h.Set("Content-Type", ct)
	part, err := w.CreatePart(h)
	if err != nil {
		return nil, "", err
	}
	if _, err := part.Write(f.Data); err != nil {
		return nil, "", err
	}
	if err := w.WriteField("instruction", instruction); err != nil {
		return nil, "", err
	}
	if err := w.Close(); err != nil {
		return nil, "", err
	}
	return &buf, w.FormDataContentType(), nil
}

func statusMessage(resp *http.Response, raw []byte) string {
	if s := strings.TrimSpace(string(raw)); s != "" && len(s) < 200 {
		return s
	}
	return resp.Status
}
