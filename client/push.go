// Copyright 2025 The Go A2A Authors
// SPDX-License-Identifier: Apache-2.0

package client

import (
	"context"

	"github.com/go-a2a/agentcore"
)

// SetPushConfig registers a webhook for task updates and returns it with its
// assigned id.
func (c *Client) SetPushConfig(ctx context.Context, taskID agentcore.TaskID, cfg *agentcore.PushNotificationConfig) (*agentcore.TaskPushNotificationConfig, error) {
	var out agentcore.TaskPushNotificationConfig
	params := agentcore.TaskPushNotificationConfig{TaskID: taskID, PushNotificationConfig: cfg}
	if err := c.call(ctx, agentcore.MethodPushConfigSet, params, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// GetPushConfig returns one webhook of a task. An empty id returns the
// first one registered.
func (c *Client) GetPushConfig(ctx context.Context, taskID agentcore.TaskID, id agentcore.ConfigID) (*agentcore.TaskPushNotificationConfig, error) {
	var out agentcore.TaskPushNotificationConfig
	params := agentcore.PushConfigParams{ID: taskID, PushNotificationConfigID: id}
	if err := c.call(ctx, agentcore.MethodPushConfigGet, params, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// ListPushConfigs returns every webhook of a task.
func (c *Client) ListPushConfigs(ctx context.Context, taskID agentcore.TaskID) ([]*agentcore.TaskPushNotificationConfig, error) {
	var out []*agentcore.TaskPushNotificationConfig
	if err := c.call(ctx, agentcore.MethodPushConfigList, agentcore.TaskIDParams{ID: taskID}, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// DeletePushConfig removes a webhook.
func (c *Client) DeletePushConfig(ctx context.Context, taskID agentcore.TaskID, id agentcore.ConfigID) error {
	params := agentcore.PushConfigParams{ID: taskID, PushNotificationConfigID: id}
	return c.call(ctx, agentcore.MethodPushConfigDelete, params, nil)
}
