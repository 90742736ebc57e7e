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

// FindSession returns the most recent session recorded for fingerprint.
func (s *DatabaseStore) FindSession(ctx context.Context, user agentcore.UserID, fingerprint string) (agentcore.SessionID, error) {
	var row SessionModel
	err := s.db.WithContext(ctx).
		Where("user_id = ? AND fingerprint = ?", user, fingerprint).
		Order("last_seen_at DESC").
		First(&row).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return "", agentcore.NewNotFoundError("session", fingerprint)
		}
		return "", NewTaskStoreError("find_session", "", err)
	}
	return agentcore.SessionID(row.SessionID), nil
}

// TouchSession records that session was seen for fingerprint now.
func (s *DatabaseStore) TouchSession(ctx context.Context, session agentcore.SessionID, user agentcore.UserID, fingerprint string) error {
	now := s.now()
	row := &SessionModel{
		SessionID:   string(session),
		UserID:      string(user),
		Fingerprint: fingerprint,
		LastSeenAt:  now,
		CreatedAt:   now,
	}
	err := s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "session_id"}},
		DoUpdates: clause.AssignmentColumns([]string{"last_seen_at", "fingerprint"}),
	}).Create(row).Error
	if err != nil {
		return NewTaskStoreError("touch_session", "", err)
	}
	return nil
}
