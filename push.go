// Copyright 2025 The Go A2A Authors
// SPDX-License-Identifier: Apache-2.0

package agentcore

import (
	"maps"
	"net/url"
	"slices"
)

// AuthenticationInfo describes how a webhook receiver authenticates us.
type AuthenticationInfo struct {
	Schemes     []string `json:"schemes"`
	Credentials string   `json:"credentials,omitempty"`
}

// PushNotificationConfig is a callback registration for out-of-band task
// updates.
type PushNotificationConfig struct {
	ID             ConfigID            `json:"id,omitempty"`
	URL            string              `json:"url"`
	Endpoint       string              `json:"endpoint,omitempty"`
	Token          string              `json:"token,omitempty"`
	Headers        map[string]string   `json:"headers,omitempty"`
	Authentication *AuthenticationInfo `json:"authentication,omitempty"`
}

// Validate checks that the callback URL is an absolute http(s) URL.
func (c *PushNotificationConfig) Validate() error {
	if c == nil {
		return NewValidationError("push_notification_config", "missing config")
	}
	u, err := url.Parse(c.URL)
	if err != nil {
		return NewValidationError("push_notification_config.url", err.Error())
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return NewValidationError("push_notification_config.url", "scheme must be http or https")
	}
	if u.Host == "" {
		return NewValidationError("push_notification_config.url", "missing host")
	}
	return nil
}

// Clone returns a deep copy of c.
func (c *PushNotificationConfig) Clone() *PushNotificationConfig {
	if c == nil {
		return nil
	}
	out := *c
	out.Headers = maps.Clone(c.Headers)
	if c.Authentication != nil {
		auth := *c.Authentication
		auth.Schemes = slices.Clone(c.Authentication.Schemes)
		out.Authentication = &auth
	}
	return &out
}
