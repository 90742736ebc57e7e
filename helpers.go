// Copyright 2025 The Go A2A Authors
// SPDX-License-Identifier: Apache-2.0

package agentcore

import (
	"net/url"
	"strings"
)

// PathFromURL returns the path component of raw, which is either an absolute
// URL or an absolute path.
func PathFromURL(raw string) (string, error) {
	raw = strings.TrimSpace(raw)
	if strings.HasPrefix(raw, "/") {
		if i := strings.IndexAny(raw, "?#"); i >= 0 {
			raw = raw[:i]
		}
		return raw, nil
	}
	u, err := url.Parse(raw)
	if err != nil || !u.IsAbs() || u.Host == "" {
		return "", NewValidationError("url", "expected an absolute URL or path, got "+raw)
	}
	if u.Path == "" {
		return "/", nil
	}
	return u.Path, nil
}

// Ptr returns a pointer to v.
func Ptr[T any](v T) *T { return &v }
