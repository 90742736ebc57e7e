// Copyright 2025 The Go A2A Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/go-a2a/agentcore/agent"
	"github.com/go-a2a/agentcore/agent/lifecycle"
	"github.com/go-a2a/agentcore/config"
	"github.com/go-a2a/agentcore/server/task"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Create or extend the database schema",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		logger, err := newLogger(os.Stderr, cfg.Log)
		if err != nil {
			return err
		}
		return migrate(cmd.Context(), cfg, logger)
	},
}

// migrate creates the task store tables and the lifecycle table.
func migrate(ctx context.Context, cfg *config.Config, logger *slog.Logger) error {
	db, err := openDB(cfg.Database, logger)
	if err != nil {
		return err
	}
	store, err := task.NewDatabaseStore(ctx, task.DatabaseStoreConfig{DB: db, Logger: logger})
	if err != nil {
		return err
	}
	if err := store.Migrate(ctx); err != nil {
		return err
	}

	agents, err := agent.NewRegistry()
	if err != nil {
		return err
	}
	if _, err := lifecycle.NewManager(ctx, lifecycle.ManagerConfig{
		DB:          db,
		AutoMigrate: true,
		Agents:      agents,
		Logger:      logger,
	}); err != nil {
		return err
	}
	logger.InfoContext(ctx, "schema migrated", slog.String("driver", cfg.Database.Driver))
	return nil
}
