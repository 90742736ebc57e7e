// Copyright 2025 The Go A2A Authors
// SPDX-License-Identifier: Apache-2.0

package task

import (
	"context"
	"log/slog"
	"slices"
	"time"

	"gorm.io/gorm"

	"github.com/go-a2a/agentcore"
)

// SweepContexts deletes every context whose newest task, message or
// ownership update is older than now-horizon, together with all rows that
// hang off it. It returns the ids of the removed contexts.
func (s *DatabaseStore) SweepContexts(ctx context.Context, horizon time.Duration) ([]agentcore.ContextID, error) {
	cutoff := s.now().Add(-horizon)
	db := s.db.WithContext(ctx)

	var owned, worked []string
	if err := db.Model(&UserContextModel{}).Where("updated_at < ?", cutoff).Pluck("context_id", &owned).Error; err != nil {
		return nil, NewTaskStoreError("sweep", "", err)
	}
	if err := db.Model(&TaskModel{}).Distinct("context_id").Where("updated_at < ?", cutoff).Pluck("context_id", &worked).Error; err != nil {
		return nil, NewTaskStoreError("sweep", "", err)
	}
	candidates := append(owned, worked...)
	slices.Sort(candidates)
	candidates = slices.Compact(candidates)

	var removed []agentcore.ContextID
	for _, id := range candidates {
		active, err := s.contextActiveSince(ctx, id, cutoff)
		if err != nil {
			return removed, err
		}
		if active {
			continue
		}
		if err := db.Transaction(func(tx *gorm.DB) error { return deleteContext(tx, id) }); err != nil {
			return removed, NewTaskStoreError("sweep", "", err)
		}
		removed = append(removed, agentcore.ContextID(id))
	}
	if len(removed) > 0 {
		s.logger.InfoContext(ctx, "swept stale contexts",
			slog.Int("count", len(removed)),
			slog.Time("cutoff", cutoff),
		)
	}
	return removed, nil
}

func (s *DatabaseStore) contextActiveSince(ctx context.Context, contextID string, cutoff time.Time) (bool, error) {
	db := s.db.WithContext(ctx)
	for _, q := range []*gorm.DB{
		db.Model(&TaskModel{}).Where("context_id = ? AND updated_at >= ?", contextID, cutoff),
		db.Model(&MessageModel{}).Where("context_id = ? AND created_at >= ?", contextID, cutoff),
		db.Model(&UserContextModel{}).Where("context_id = ? AND updated_at >= ?", contextID, cutoff),
	} {
		var n int64
		if err := q.Count(&n).Error; err != nil {
			return false, NewTaskStoreError("sweep", "", err)
		}
		if n > 0 {
			return true, nil
		}
	}
	return false, nil
}

func deleteContext(tx *gorm.DB, contextID string) error {
	sub := func(model any, column string) *gorm.DB {
		return tx.Session(&gorm.Session{NewDB: true}).Model(model).Select(column).Where("context_id = ?", contextID)
	}
	steps := []func() error{
		func() error {
			return tx.Where("message_id IN (?)", sub(&MessageModel{}, "message_id")).Delete(&MessagePartModel{}).Error
		},
		func() error {
			return tx.Where("artifact_id IN (?)", sub(&ArtifactModel{}, "artifact_id")).Delete(&ArtifactPartModel{}).Error
		},
		func() error {
			return tx.Where("task_id IN (?)", sub(&TaskModel{}, "task_id")).Delete(&PushNotificationConfigModel{}).Error
		},
		func() error { return tx.Where("context_id = ?", contextID).Delete(&ArtifactModel{}).Error },
		func() error { return tx.Where("context_id = ?", contextID).Delete(&MessageModel{}).Error },
		func() error { return tx.Where("context_id = ?", contextID).Delete(&TaskModel{}).Error },
		func() error { return tx.Where("context_id = ?", contextID).Delete(&ContextAgentModel{}).Error },
		func() error { return tx.Where("context_id = ?", contextID).Delete(&UserContextModel{}).Error },
	}
	for _, step := range steps {
		if err := step(); err != nil {
			return err
		}
	}
	return nil
}
