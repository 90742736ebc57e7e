// Copyright 2025 The Go A2A Authors
// SPDX-License-Identifier: Apache-2.0

package task

import (
	"context"

	"gorm.io/gorm"

	"github.com/go-a2a/agentcore"
)

// PersistArtifact appends artifact to the task. Writing an artifact id that
// already exists leaves the stored artifact untouched.
func (s *DatabaseStore) PersistArtifact(ctx context.Context, taskID agentcore.TaskID, contextID agentcore.ContextID, artifact *agentcore.Artifact) (err error) {
	ctx, span := s.startSpan(ctx, "PersistArtifact", taskID)
	defer func() { endSpan(span, err) }()

	if err := artifact.Validate(); err != nil {
		return err
	}
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var n int64
		if err := tx.Model(&ArtifactModel{}).Where("artifact_id = ?", artifact.ArtifactID).Count(&n).Error; err != nil {
			return err
		}
		if n > 0 {
			return nil
		}
		var count int64
		if err := tx.Model(&ArtifactModel{}).Where("task_id = ?", taskID).Count(&count).Error; err != nil {
			return err
		}

		md := artifact.Metadata
		ts := md.Timestamp
		if ts.IsZero() {
			ts = s.now()
		}
		row := &ArtifactModel{
			ArtifactID:     string(artifact.ArtifactID),
			TaskID:         string(taskID),
			ContextID:      string(contextID),
			SequenceNumber: int(count),
			Name:           artifact.Name,
			Description:    artifact.Description,
			ArtifactType:   string(artifact.Type),
			ExecutionID:    string(md.ExecutionID),
			SkillID:        string(md.SkillID),
			SkillName:      md.SkillName,
			AgentName:      md.AgentName,
			ToolName:       md.ToolName,
			RequestID:      string(md.RequestID),
			TraceID:        string(md.TraceID),
			SessionID:      string(md.SessionID),
			UserID:         string(md.UserID),
			Timestamp:      ts,
			CreatedAt:      s.now(),
		}
		if err := tx.Create(row).Error; err != nil {
			return err
		}
		parts := make([]ArtifactPartModel, len(artifact.Parts))
		for i, p := range artifact.Parts {
			parts[i] = ArtifactPartModel{PartModel: newPartModel(i, p), ArtifactID: string(artifact.ArtifactID)}
		}
		return tx.Create(&parts).Error
	})
	if err != nil {
		return NewTaskStoreError("persist_artifact", taskID, err)
	}
	return nil
}

// ListArtifacts returns the artifacts of a task in the order they were produced.
func (s *DatabaseStore) ListArtifacts(ctx context.Context, taskID agentcore.TaskID) ([]*agentcore.Artifact, error) {
	var rows []ArtifactModel
	if err := s.db.WithContext(ctx).
		Where("task_id = ?", taskID).
		Order("sequence_number ASC").
		Find(&rows).Error; err != nil {
		return nil, NewTaskStoreError("list_artifacts", taskID, err)
	}
	if len(rows) == 0 {
		return nil, nil
	}
	ids := make([]string, len(rows))
	for i, r := range rows {
		ids[i] = r.ArtifactID
	}
	var parts []ArtifactPartModel
	if err := s.db.WithContext(ctx).
		Where("artifact_id IN ?", ids).
		Order("artifact_id ASC").Order("sequence_number ASC").
		Find(&parts).Error; err != nil {
		return nil, NewTaskStoreError("list_artifacts", taskID, err)
	}
	byArtifact := make(map[string][]agentcore.Part, len(rows))
	for i := range parts {
		byArtifact[parts[i].ArtifactID] = append(byArtifact[parts[i].ArtifactID], parts[i].toPart())
	}

	out := make([]*agentcore.Artifact, len(rows))
	for i, r := range rows {
		out[i] = &agentcore.Artifact{
			ArtifactID:  agentcore.ArtifactID(r.ArtifactID),
			Name:        r.Name,
			Description: r.Description,
			Type:        agentcore.ArtifactKind(r.ArtifactType),
			Parts:       byArtifact[r.ArtifactID],
			Metadata: agentcore.ArtifactMetadata{
				ExecutionID: agentcore.McpExecutionID(r.ExecutionID),
				SkillID:     agentcore.SkillID(r.SkillID),
				SkillName:   r.SkillName,
				AgentName:   r.AgentName,
				ToolName:    r.ToolName,
				RequestID:   agentcore.RequestID(r.RequestID),
				TraceID:     agentcore.TraceID(r.TraceID),
				SessionID:   agentcore.SessionID(r.SessionID),
				UserID:      agentcore.UserID(r.UserID),
				TaskID:      agentcore.TaskID(r.TaskID),
				Timestamp:   r.Timestamp,
			},
		}
	}
	return out, nil
}
