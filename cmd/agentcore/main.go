// Copyright 2025 The Go A2A Authors
// SPDX-License-Identifier: Apache-2.0

// Command agentcore serves agents over A2A.
package main

import (
	"os"

	"github.com/google/uuid"
)

func init() {
	// Enable the use of the random pool for UUID generation.
	uuid.EnableRandPool()
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
