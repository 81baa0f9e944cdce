// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package render

import (
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/jeranaias/retouch/internal/util"
)

// ResolveURL makes a server-relative image reference absolute against base.
// Absolute references and unparsable input are returned unchanged.
func ResolveURL(base, ref string) string {
	r, err := url.Parse(ref)
	if err != nil || r.IsAbs() || base == "" {
		return ref
	}
	b, err := url.Parse(base)
	if err != nil {
		return ref
	}
	return b.ResolveReference(r).String()
}

// CacheBusted appends a _ts query parameter so a viewer re-fetches an image
// that was overwritten in place on the server.
func CacheBusted(ref string, at time.Time) string {
	u, err := url.Parse(ref)
	if err != nil {
		return ref
	}
	q := u.Query()
	q.Set("_ts", strconv.FormatInt(at.UnixMilli(), 10))
	u.RawQuery = q.Encode()
	return u.String()
}

// DescribeThumbnail summarises a thumbnail reference for text display.
// Data URLs are reduced to their media type and approximate payload size.
func DescribeThumbnail(thumb string) string {
	if thumb == "" {
		return "no thumbnail"
	}
	if !strings.HasPrefix(thumb, "data:") {
		return thumb
	}
	meta, payload, ok := strings.Cut(strings.TrimPrefix(thumb, "data:"), ",")
	if !ok {
		return "inline thumbnail"
	}
	mediaType, _, _ := strings.Cut(meta, ";")
	if mediaType == "" {
		mediaType = "image"
	}
	size := len(payload)
	if strings.HasSuffix(meta, ";base64") {
		size = len(payload) * 3 / 4
	}
	return fmt.Sprintf("%s thumbnail, %s", mediaType, util.FormatBytes(size))
}
