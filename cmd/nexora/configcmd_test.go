// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Nexora Agenda Contributors

package main

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nexora/agenda/pkg/errutil"
)

func runConfigCmd(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := NewConfigCmd()
	buf := new(bytes.Buffer)
	cmd.SetOut(buf)
	cmd.SetErr(new(bytes.Buffer))
	cmd.SetArgs(args)
	err := cmd.Execute()
	return buf.String(), err
}

func TestConfigSchema(t *testing.T) {
	out, err := runConfigCmd(t, "schema")
	require.NoError(t, err)

	var schema map[string]any
	require.NoError(t, json.Unmarshal([]byte(out), &schema))
	props, ok := schema["properties"].(map[string]any)
	require.True(t, ok)
	for _, section := range []string{"server", "database", "redis", "rate_limit", "client"} {
		assert.Contains(t, props, section)
	}
}

func TestConfigValidate(t *testing.T) {
	isolate(t)
	dir := t.TempDir()

	good := filepath.Join(dir, "good.yaml")
	require.NoError(t, os.WriteFile(good, []byte("server:\n  addr: 0.0.0.0:8080\nrate_limit:\n  requests: 5\n  window: 30s\n"), 0o600))
	out, err := runConfigCmd(t, "validate", good)
	require.NoError(t, err)
	assert.Contains(t, out, "valid")

	unknown := filepath.Join(dir, "unknown.yaml")
	require.NoError(t, os.WriteFile(unknown, []byte("server:\n  port: 8080\n"), 0o600))
	_, err = runConfigCmd(t, "validate", unknown)
	errutil.AssertErrorCode(t, err, "CONFIG_SCHEMA_VIOLATION")

	badValue := filepath.Join(dir, "bad.yaml")
	require.NoError(t, os.WriteFile(badValue, []byte("server:\n  addr: nonsense\n"), 0o600))
	_, err = runConfigCmd(t, "validate", badValue)
	errutil.AssertErrorCode(t, err, "CONFIG_INVALID")

	_, err = runConfigCmd(t, "validate", filepath.Join(dir, "missing.yaml"))
	errutil.AssertErrorCode(t, err, "CONFIG_READ_FAILED")
}
