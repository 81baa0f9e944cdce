// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package session

import (
	"encoding/base64"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"
)

// =============================================================================
// ERRORS
// =============================================================================

var (
	// ErrNotImage is returned when staged content is not an image.
	ErrNotImage = errors.New("not an image")

	// ErrEmptyImage is returned when staged content has no bytes.
	ErrEmptyImage = errors.New("image is empty")

	// ErrImageTooLarge is returned when staged content exceeds MaxUploadBytes.
	ErrImageTooLarge = errors.New("image too large")
)

// MaxUploadBytes bounds the size of a staged image.
const MaxUploadBytes = 32 << 20

// DefaultPastedName names images that arrive without a filename.
const DefaultPastedName = "pasted.png"

// =============================================================================
// PENDING UPLOAD
// =============================================================================

// PendingUpload is an image staged for the next submit.
type PendingUpload struct {
	Data        []byte
	Filename    string
	ContentType string
	// Preview is a data: URL of the image, used for the staging preview
	// and the user turn.
	Preview  string
	StagedAt time.Time
}

// NewPendingUpload validates data as an image and builds a pending upload.
func NewPendingUpload(filename string, data []byte) (*PendingUpload, error) {
	if len(data) == 0 {
		return nil, ErrEmptyImage
	}
	if len(data) > MaxUploadBytes {
		return nil, fmt.Errorf("%w: %d bytes", ErrImageTooLarge, len(data))
	}
	ct := http.DetectContentType(data)
	if !strings.HasPrefix(ct, "image/") {
		return nil, fmt.Errorf("%w: detected %s", ErrNotImage, ct)
	}
	if filename == "" {
		filename = DefaultPastedName
	}
	return &PendingUpload{
		Data:        data,
		Filename:    filename,
		ContentType: ct,
		Preview:     "data:" + ct + ";base64," + base64.StdEncoding.EncodeToString(data),
		StagedAt:    time.Now(),
	}, nil
}

// LoadPendingUpload reads an image file from disk and stages it.
func LoadPendingUpload(path string) (*PendingUpload, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("failed to stat image: %w", err)
	}
	if info.IsDir() {
		return nil, fmt.Errorf("%w: %s is a directory", ErrNotImage, path)
	}
	if info.Size() > MaxUploadBytes {
		return nil, fmt.Errorf("%w: %d bytes", ErrImageTooLarge, info.Size())
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read image: %w", err)
	}
	return NewPendingUpload(filepath.Base(path), data)
}

// Size returns the image size in bytes.
func (p *PendingUpload) Size() int {
	return len(p.Data)
}

// ParseDroppedPath extracts a file path from text pasted into a terminal.
// Terminals deliver a dropped file as its path, sometimes quoted, escaped
// or as a file:// URL. It reports false when the text is not a single path
// to an existing regular file.
func ParseDroppedPath(text string) (string, bool) {
	s := strings.TrimSpace(text)
	if s == "" || strings.ContainsAny(s, "\n\r") {
		return "", false
	}
	if len(s) >= 2 && (s[0] == '\'' || s[0] == '"') && s[len(s)-1] == s[0] {
		s = s[1 : len(s)-1]
	}
	if strings.HasPrefix(s, "file://") {
		u, err := url.Parse(s)
		if err != nil {
			return "", false
		}
		s = u.Path
	}
	for _, candidate := range []string{s, strings.ReplaceAll(s, "\\ ", " ")} {
		if info, err := os.Stat(candidate); err == nil && info.Mode().IsRegular() {
			return candidate, true
		}
	}
	return "", false
}

// =============================================================================
// SERVER-SIDE IMAGES
// =============================================================================

// UploadedImage identifies an image stored by the upload endpoint.
type UploadedImage struct {
	ID       string
	Filename string
}

// FullURL returns the server path of the stored original.
func (u UploadedImage) FullURL() string {
	return "/uploads/" + u.ID + "_" + u.Filename
}

// EditedImage identifies the last edited result.
type EditedImage struct {
	ID      string
	FullURL string
}

// editedPattern matches the server's naming convention for edit results.
var editedPattern = regexp.MustCompile(`/uploads/(.+)_edited\.png$`)

// ParseEditedURL extracts the image id from an edited result URL such as
// /uploads/<id>_edited.png. Absolute URLs are accepted.
func ParseEditedURL(fullURL string) (EditedImage, bool) {
	m := editedPattern.FindStringSubmatch(fullURL)
	if m == nil {
		return EditedImage{}, false
	}
	return EditedImage{ID: m[1], FullURL: fullURL}, true
}
