// Copyright (c) 2024-2025 Baboonchat Project
// SPDX-License-Identifier: AGPL-3.0-or-later

package cli

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestParseGlobalFlags(t *testing.T) {
	remaining, args := parseGlobalFlags([]string{
		"--config", "/tmp/alt.toml",
		"--backend", "https://api.example.com",
		"-q",
		"search", "hello", "world",
	})

	assert.Equal(t, "/tmp/alt.toml", args.ConfigPath)
	assert.Equal(t, "https://api.example.com", args.BackendURL)
	assert.True(t, args.Quiet)
	assert.Equal(t, []string{"search", "hello", "world"}, remaining)
}

func TestParseGlobalFlagsEmpty(t *testing.T) {
	remaining, args := parseGlobalFlags(nil)
	assert.Empty(t, remaining)
	assert.Empty(t, args.ConfigPath)
	assert.False(t, args.Quiet)
}

func TestParseGlobalFlagsDanglingValueFlag(t *testing.T) {
	remaining, args := parseGlobalFlags([]string{"--config"})
	assert.Empty(t, remaining)
	assert.Empty(t, args.ConfigPath)
}
