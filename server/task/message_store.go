// Copyright 2025 The Go A2A Authors
// SPDX-License-Identifier: Apache-2.0

package task

import (
	"context"
	"errors"

	"gorm.io/gorm"

	"github.com/go-a2a/agentcore"
)

// PersistMessage writes msg at seq. Any earlier row with the same message id
// is deleted together with its parts in the same transaction, so retries
// with the same id never leave duplicate or orphaned parts.
func (s *DatabaseStore) PersistMessage(ctx context.Context, taskID agentcore.TaskID, msg *agentcore.Message, contextID agentcore.ContextID, seq int) (err error) {
	ctx, span := s.startSpan(ctx, "PersistMessage", taskID)
	defer func() { endSpan(span, err) }()

	if err := msg.Validate(); err != nil {
		return err
	}
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return s.writeMessage(tx, taskID, contextID, msg, seq)
	})
	if err != nil {
		if dup := s.clientMessageTaken(ctx, err, contextID, msg); dup != nil {
			return dup
		}
		return NewTaskStoreError("persist_message", taskID, err)
	}
	return nil
}

// AppendMessage persists msg after the last message of the task. A message
// that already exists keeps its sequence number.
func (s *DatabaseStore) AppendMessage(ctx context.Context, taskID agentcore.TaskID, contextID agentcore.ContextID, msg *agentcore.Message) (seq int, err error) {
	ctx, span := s.startSpan(ctx, "AppendMessage", taskID)
	defer func() { endSpan(span, err) }()

	if err := msg.Validate(); err != nil {
		return 0, err
	}
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var existing MessageModel
		err := tx.Where("message_id = ?", msg.MessageID).First(&existing).Error
		switch {
		case err == nil && existing.TaskID == string(taskID):
			seq = existing.SequenceNumber
		case err == nil:
			return agentcore.NewValidationError("message_id", "message id already used by another task")
		case errors.Is(err, gorm.ErrRecordNotFound):
			var next struct{ NextSeq int }
			if err := tx.Model(&MessageModel{}).
				Select("COALESCE(MAX(sequence_number) + 1, 0) AS next_seq").
				Where("task_id = ?", taskID).
				Scan(&next).Error; err != nil {
				return err
			}
			seq = next.NextSeq
		default:
			return err
		}
		return s.writeMessage(tx, taskID, contextID, msg, seq)
	})
	if err != nil {
		var ae *agentcore.Error
		if errors.As(err, &ae) {
			return 0, err
		}
		if dup := s.clientMessageTaken(ctx, err, contextID, msg); dup != nil {
			return 0, dup
		}
		return 0, NewTaskStoreError("append_message", taskID, err)
	}
	msg.SequenceNumber = seq
	return seq, nil
}

// clientMessageTaken reports a unique violation caused by another message
// holding the client message id of msg in contextID.
func (s *DatabaseStore) clientMessageTaken(ctx context.Context, err error, contextID agentcore.ContextID, msg *agentcore.Message) error {
	cmid := msg.ClientMessageID()
	if cmid == "" || !isUniqueViolation(err) {
		return nil
	}
	prior, ferr := s.FindByClientMessageID(ctx, contextID, cmid)
	if ferr != nil || prior.MessageID == msg.MessageID {
		return nil
	}
	return &DuplicateClientMessageError{ContextID: contextID, ClientMessageID: cmid, TaskID: prior.TaskID}
}

func (s *DatabaseStore) writeMessage(tx *gorm.DB, taskID agentcore.TaskID, contextID agentcore.ContextID, msg *agentcore.Message, seq int) error {
	if err := tx.Where("message_id = ?", msg.MessageID).Delete(&MessagePartModel{}).Error; err != nil {
		return err
	}
	if err := tx.Where("message_id = ?", msg.MessageID).Delete(&MessageModel{}).Error; err != nil {
		return err
	}

	refs := make([]string, 0, len(msg.ReferenceTaskIDs))
	for _, id := range msg.ReferenceTaskIDs {
		refs = append(refs, string(id))
	}
	var clientID *string
	if cmid := msg.ClientMessageID(); cmid != "" {
		clientID = &cmid
	}
	createdAt := msg.CreatedAt
	if createdAt.IsZero() {
		createdAt = s.now()
	}
	row := &MessageModel{
		MessageID:        string(msg.MessageID),
		TaskID:           string(taskID),
		ContextID:        string(contextID),
		SequenceNumber:   seq,
		Role:             string(msg.Role),
		ClientMessageID:  clientID,
		ReferenceTaskIDs: NewJSONColumn(refs),
		Metadata:         NewJSONColumn(msg.Metadata),
		CreatedAt:        createdAt,
	}
	if err := tx.Create(row).Error; err != nil {
		return err
	}
	if len(msg.Parts) == 0 {
		return nil
	}
	parts := make([]MessagePartModel, len(msg.Parts))
	for i, p := range msg.Parts {
		parts[i] = MessagePartModel{PartModel: newPartModel(i, p), MessageID: string(msg.MessageID)}
	}
	return tx.Create(&parts).Error
}

// ListMessages returns the messages of a task ordered by sequence number.
func (s *DatabaseStore) ListMessages(ctx context.Context, taskID agentcore.TaskID) ([]*agentcore.Message, error) {
	var rows []MessageModel
	if err := s.db.WithContext(ctx).
		Where("task_id = ?", taskID).
		Order("sequence_number ASC").
		Find(&rows).Error; err != nil {
		return nil, NewTaskStoreError("list_messages", taskID, err)
	}
	msgs, err := s.loadParts(ctx, rows)
	if err != nil {
		return nil, NewTaskStoreError("list_messages", taskID, err)
	}
	return msgs, nil
}

// ListContextMessages returns the whole conversation of a context in the
// order it happened.
func (s *DatabaseStore) ListContextMessages(ctx context.Context, contextID agentcore.ContextID) ([]*agentcore.Message, error) {
	var rows []MessageModel
	if err := s.db.WithContext(ctx).
		Where("context_id = ?", contextID).
		Order("created_at ASC").Order("sequence_number ASC").
		Find(&rows).Error; err != nil {
		return nil, NewTaskStoreError("list_context_messages", "", err)
	}
	msgs, err := s.loadParts(ctx, rows)
	if err != nil {
		return nil, NewTaskStoreError("list_context_messages", "", err)
	}
	return msgs, nil
}

// FindByClientMessageID returns the message a client already submitted
// under clientMessageID in contextID, or a not-found error.
func (s *DatabaseStore) FindByClientMessageID(ctx context.Context, contextID agentcore.ContextID, clientMessageID string) (*agentcore.Message, error) {
	if clientMessageID == "" {
		return nil, agentcore.NewNotFoundError("message", "")
	}
	var row MessageModel
	err := s.db.WithContext(ctx).
		Where("context_id = ? AND client_message_id = ?", contextID, clientMessageID).
		Order("created_at ASC").
		First(&row).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, agentcore.NewNotFoundError("message", clientMessageID)
		}
		return nil, NewTaskStoreError("find_client_message", "", err)
	}
	msgs, err := s.loadParts(ctx, []MessageModel{row})
	if err != nil {
		return nil, NewTaskStoreError("find_client_message", agentcore.TaskID(row.TaskID), err)
	}
	return msgs[0], nil
}

func (s *DatabaseStore) loadParts(ctx context.Context, rows []MessageModel) ([]*agentcore.Message, error) {
	if len(rows) == 0 {
		return nil, nil
	}
	ids := make([]string, len(rows))
	for i, r := range rows {
		ids[i] = r.MessageID
	}
	var parts []MessagePartModel
	if err := s.db.WithContext(ctx).
		Where("message_id IN ?", ids).
		Order("message_id ASC").Order("sequence_number ASC").
		Find(&parts).Error; err != nil {
		return nil, err
	}
	byMessage := make(map[string][]agentcore.Part, len(rows))
	for i := range parts {
		byMessage[parts[i].MessageID] = append(byMessage[parts[i].MessageID], parts[i].toPart())
	}

	msgs := make([]*agentcore.Message, len(rows))
	for i, r := range rows {
		refs := make([]agentcore.TaskID, 0, len(r.ReferenceTaskIDs.Data))
		for _, id := range r.ReferenceTaskIDs.Data {
			refs = append(refs, agentcore.TaskID(id))
		}
		if len(refs) == 0 {
			refs = nil
		}
		msgs[i] = &agentcore.Message{
			MessageID:        agentcore.MessageID(r.MessageID),
			ContextID:        agentcore.ContextID(r.ContextID),
			TaskID:           agentcore.TaskID(r.TaskID),
			Role:             agentcore.Role(r.Role),
			Kind:             agentcore.KindMessage,
			Parts:            byMessage[r.MessageID],
			Metadata:         r.Metadata.Data,
			ReferenceTaskIDs: refs,
			SequenceNumber:   r.SequenceNumber,
			CreatedAt:        r.CreatedAt,
		}
	}
	return msgs, nil
}
