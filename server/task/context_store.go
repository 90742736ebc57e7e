// Copyright 2025 The Go A2A Authors
// SPDX-License-Identifier: Apache-2.0

package task

import (
	"context"
	"errors"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/go-a2a/agentcore"
)

// ClaimContext creates contextID for user on first reference. Later
// references must come from the same user.
func (s *DatabaseStore) ClaimContext(ctx context.Context, contextID agentcore.ContextID, user agentcore.UserID) error {
	if err := contextID.Validate(); err != nil {
		return err
	}
	if err := user.Validate(); err != nil {
		return err
	}
	now := s.now()
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		row := &UserContextModel{ContextID: string(contextID), UserID: string(user), CreatedAt: now, UpdatedAt: now}
		if err := tx.Clauses(clause.OnConflict{DoNothing: true}).Create(row).Error; err != nil {
			return err
		}
		var owner UserContextModel
		if err := tx.Where("context_id = ?", contextID).First(&owner).Error; err != nil {
			return err
		}
		if owner.UserID != string(user) {
			return agentcore.NewAuthError("context", "context belongs to another user")
		}
		return tx.Model(&UserContextModel{}).Where("context_id = ?", contextID).Update("updated_at", now).Error
	})
	if err != nil {
		var ae *agentcore.Error
		if errors.As(err, &ae) {
			return err
		}
		return NewTaskStoreError("claim_context", "", err)
	}
	return nil
}

// ListContextAgents returns the agents that served a context.
func (s *DatabaseStore) ListContextAgents(ctx context.Context, contextID agentcore.ContextID) ([]string, error) {
	var names []string
	if err := s.db.WithContext(ctx).Model(&ContextAgentModel{}).
		Where("context_id = ?", contextID).
		Order("created_at ASC").
		Pluck("agent_name", &names).Error; err != nil {
		return nil, NewTaskStoreError("list_context_agents", "", err)
	}
	return names, nil
}
