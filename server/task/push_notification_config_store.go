// Copyright 2025 The Go A2A Authors
// SPDX-License-Identifier: Apache-2.0

package task

import (
	"context"
	"errors"
	"sort"
	"sync"

	"gorm.io/gorm"

	"github.com/go-a2a/agentcore"
)

// Add registers config under taskID and returns its id. A config that
// already carries an id replaces the registration with that id.
func (s *DatabaseStore) Add(ctx context.Context, taskID agentcore.TaskID, config *agentcore.PushNotificationConfig) (agentcore.ConfigID, error) {
	if err := taskID.Validate(); err != nil {
		return "", err
	}
	if err := config.Validate(); err != nil {
		return "", err
	}
	id := config.ID
	if id == "" {
		id = agentcore.NewConfigID()
	}
	row := &PushNotificationConfigModel{
		TaskID:         string(taskID),
		ConfigID:       string(id),
		URL:            config.URL,
		Endpoint:       config.Endpoint,
		Token:          config.Token,
		Headers:        NewJSONColumn(config.Headers),
		Authentication: NewJSONColumn(config.Authentication),
		CreatedAt:      s.now(),
	}
	if err := s.db.WithContext(ctx).Save(row).Error; err != nil {
		return "", NewTaskStoreError("add_push_config", taskID, err)
	}
	return id, nil
}

// Get returns one registration.
func (s *DatabaseStore) Get(ctx context.Context, taskID agentcore.TaskID, configID agentcore.ConfigID) (*agentcore.PushNotificationConfig, error) {
	var row PushNotificationConfigModel
	err := s.db.WithContext(ctx).
		Where("task_id = ? AND config_id = ?", taskID, configID).
		First(&row).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, agentcore.NewNotFoundError("push notification config", string(configID))
		}
		return nil, NewTaskStoreError("get_push_config", taskID, err)
	}
	return row.toConfig(), nil
}

// List returns every registration of a task in creation order.
func (s *DatabaseStore) List(ctx context.Context, taskID agentcore.TaskID) ([]*agentcore.PushNotificationConfig, error) {
	var rows []PushNotificationConfigModel
	if err := s.db.WithContext(ctx).
		Where("task_id = ?", taskID).
		Order("created_at ASC").Order("config_id ASC").
		Find(&rows).Error; err != nil {
		return nil, NewTaskStoreError("list_push_configs", taskID, err)
	}
	out := make([]*agentcore.PushNotificationConfig, len(rows))
	for i := range rows {
		out[i] = rows[i].toConfig()
	}
	return out, nil
}

// Delete removes one registration.
func (s *DatabaseStore) Delete(ctx context.Context, taskID agentcore.TaskID, configID agentcore.ConfigID) error {
	res := s.db.WithContext(ctx).
		Where("task_id = ? AND config_id = ?", taskID, configID).
		Delete(&PushNotificationConfigModel{})
	if res.Error != nil {
		return NewTaskStoreError("delete_push_config", taskID, res.Error)
	}
	if res.RowsAffected == 0 {
		return agentcore.NewNotFoundError("push notification config", string(configID))
	}
	return nil
}

// DeleteAll removes every registration of a task.
func (s *DatabaseStore) DeleteAll(ctx context.Context, taskID agentcore.TaskID) error {
	if err := s.db.WithContext(ctx).Where("task_id = ?", taskID).Delete(&PushNotificationConfigModel{}).Error; err != nil {
		return NewTaskStoreError("delete_push_configs", taskID, err)
	}
	return nil
}

// InMemoryPushNotificationConfigStore keeps registrations in process memory.
// Configuration data is lost when the server process stops.
// All operations are thread-safe using sync.RWMutex.
type InMemoryPushNotificationConfigStore struct {
	mu      sync.RWMutex
	configs map[agentcore.TaskID]map[agentcore.ConfigID]*agentcore.PushNotificationConfig
}

var _ PushNotificationConfigStore = (*InMemoryPushNotificationConfigStore)(nil)

// NewInMemoryPushNotificationConfigStore creates a new in-memory push notification config store.
func NewInMemoryPushNotificationConfigStore() *InMemoryPushNotificationConfigStore {
	return &InMemoryPushNotificationConfigStore{
		configs: make(map[agentcore.TaskID]map[agentcore.ConfigID]*agentcore.PushNotificationConfig),
	}
}

// Add implements [PushNotificationConfigStore].
func (s *InMemoryPushNotificationConfigStore) Add(_ context.Context, taskID agentcore.TaskID, config *agentcore.PushNotificationConfig) (agentcore.ConfigID, error) {
	if err := taskID.Validate(); err != nil {
		return "", err
	}
	if err := config.Validate(); err != nil {
		return "", err
	}
	stored := config.Clone()
	if stored.ID == "" {
		stored.ID = agentcore.NewConfigID()
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.configs[taskID] == nil {
		s.configs[taskID] = make(map[agentcore.ConfigID]*agentcore.PushNotificationConfig)
	}
	s.configs[taskID][stored.ID] = stored
	return stored.ID, nil
}

// Get implements [PushNotificationConfigStore].
func (s *InMemoryPushNotificationConfigStore) Get(_ context.Context, taskID agentcore.TaskID, configID agentcore.ConfigID) (*agentcore.PushNotificationConfig, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.configs[taskID][configID]
	if !ok {
		return nil, agentcore.NewNotFoundError("push notification config", string(configID))
	}
	return c.Clone(), nil
}

// List implements [PushNotificationConfigStore]. Ids are time-sortable, so
// sorting by id yields creation order.
func (s *InMemoryPushNotificationConfigStore) List(_ context.Context, taskID agentcore.TaskID) ([]*agentcore.PushNotificationConfig, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*agentcore.PushNotificationConfig, 0, len(s.configs[taskID]))
	for _, c := range s.configs[taskID] {
		out = append(out, c.Clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// Delete implements [PushNotificationConfigStore].
func (s *InMemoryPushNotificationConfigStore) Delete(_ context.Context, taskID agentcore.TaskID, configID agentcore.ConfigID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.configs[taskID][configID]; !ok {
		return agentcore.NewNotFoundError("push notification config", string(configID))
	}
	delete(s.configs[taskID], configID)
	if len(s.configs[taskID]) == 0 {
		delete(s.configs, taskID)
	}
	return nil
}

// DeleteAll implements [PushNotificationConfigStore].
func (s *InMemoryPushNotificationConfigStore) DeleteAll(_ context.Context, taskID agentcore.TaskID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.configs, taskID)
	return nil
}
