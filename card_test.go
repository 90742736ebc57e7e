// Copyright 2025 The Go A2A Authors
// SPDX-License-Identifier: Apache-2.0

package agentcore

import (
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestPathFromURL(t *testing.T) {
	tests := map[string]struct {
		in      string
		want    string
		wantErr bool
	}{
		"AbsoluteURL": {in: "https://agents.example/api/v1/agents/hello/", want: "/api/v1/agents/hello/"},
		"HostOnly":    {in: "https://agents.example", want: "/"},
		"Path":        {in: "/api/v1/agents/hello?x=1", want: "/api/v1/agents/hello"},
		"Relative":    {in: "agents/hello", wantErr: true},
		"NoHost":      {in: "https:///x", wantErr: true},
	}
	for name, tt := range tests {
		t.Run(name, func(t *testing.T) {
			got, err := PathFromURL(tt.in)
			if (err != nil) != tt.wantErr {
				t.Fatalf("PathFromURL(%q) error = %v", tt.in, err)
			}
			if got != tt.want {
				t.Errorf("PathFromURL(%q) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}

func TestAgentCardValidate(t *testing.T) {
	card := func() *AgentCard {
		return &AgentCard{
			Name:    "hello",
			URL:     "https://agents.example/api/v1/agents/hello/",
			Version: Version,
			Skills:  []AgentSkill{{ID: "ping", Name: "Ping"}},
		}
	}
	tests := map[string]struct {
		mutate func(c *AgentCard)
		ok     bool
	}{
		"Valid":        {func(*AgentCard) {}, true},
		"NoName":       {func(c *AgentCard) { c.Name = "" }, false},
		"RelativeURL":  {func(c *AgentCard) { c.URL = "hello" }, false},
		"SkillNoID":    {func(c *AgentCard) { c.Skills[0].ID = "" }, false},
		"SkillNoName":  {func(c *AgentCard) { c.Skills[0].Name = "" }, false},
		"NoSkillsOkay": {func(c *AgentCard) { c.Skills = nil }, true},
	}
	for name, tt := range tests {
		t.Run(name, func(t *testing.T) {
			c := card()
			tt.mutate(c)
			if err := c.Validate(); (err == nil) != tt.ok {
				t.Errorf("Validate() = %v, want ok=%t", err, tt.ok)
			}
		})
	}
}

func TestPushNotificationConfig(t *testing.T) {
	tests := map[string]struct {
		url string
		ok  bool
	}{
		"HTTPS":   {"https://hooks.example/cb", true},
		"HTTP":    {"http://localhost:9000/cb", true},
		"FTP":     {"ftp://hooks.example", false},
		"NoHost":  {"https:///cb", false},
		"Garbage": {"://", false},
	}
	for name, tt := range tests {
		t.Run(name, func(t *testing.T) {
			c := &PushNotificationConfig{URL: tt.url}
			if err := c.Validate(); (err == nil) != tt.ok {
				t.Errorf("Validate(%q) = %v, want ok=%t", tt.url, err, tt.ok)
			}
		})
	}

	orig := &PushNotificationConfig{
		URL:            "https://hooks.example/cb",
		Headers:        map[string]string{"X-Team": "a"},
		Authentication: &AuthenticationInfo{Schemes: []string{"Bearer"}},
	}
	c := orig.Clone()
	if diff := cmp.Diff(orig, c); diff != "" {
		t.Errorf("Clone() mismatch (-want +got):\n%s", diff)
	}
	c.Headers["X-Team"] = "b"
	c.Authentication.Schemes[0] = "Basic"
	if orig.Headers["X-Team"] != "a" || orig.Authentication.Schemes[0] != "Bearer" {
		t.Error("Clone() shares state with the original")
	}
}
