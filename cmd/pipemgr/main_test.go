// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package main

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"
)

func TestParseFlags(t *testing.T) {
	o, err := parseFlags([]string{"-id", "2", "-local", "l.yaml", "-duration", "5s", "-config", " c.yaml "}, io.Discard)
	require.NoError(t, err)
	assert.Equal(t, 2, o.instanceID)
	assert.Equal(t, "l.yaml", o.localFile)
	assert.Equal(t, 5*time.Second, o.duration)
	assert.Equal(t, "c.yaml", o.configPath)

	o, err = parseFlags([]string{"--id", "7"}, io.Discard)
	require.NoError(t, err)
	assert.Equal(t, 7, o.instanceID)

	o, err = parseFlags(nil, io.Discard)
	require.NoError(t, err)
	assert.Equal(t, -1, o.instanceID)
}

func TestParseFlagsRejects(t *testing.T) {
	tests := []struct {
		name string
		args []string
	}{
		{"non numeric id", []string{"-id", "abc"}},
		{"positional", []string{"extra"}},
		{"duration without local", []string{"-duration", "1s"}},
		{"negative duration", []string{"-local", "x", "-duration", "-1s"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := parseFlags(tt.args, io.Discard)
			assert.Error(t, err)
		})
	}
}

func TestRunVersion(t *testing.T) {
	var out bytes.Buffer
	code := run(context.Background(), []string{"-version"}, &out, io.Discard)
	assert.Equal(t, 0, code)
	assert.Contains(t, out.String(), version)
}

func TestRunUsageError(t *testing.T) {
	var errOut bytes.Buffer
	code := run(context.Background(), []string{"-id", "x"}, io.Discard, &errOut)
	assert.Equal(t, 2, code)
	assert.NotEmpty(t, errOut.String())
}

func TestRunConfigError(t *testing.T) {
	cfgPath := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(cfgPath, []byte("unknown: true\n"), 0o600))

	code := run(context.Background(), []string{"-config", cfgPath}, io.Discard, io.Discard)
	assert.Equal(t, 1, code)
}

func TestConfigValidate(t *testing.T) {
	dir := t.TempDir()
	good := filepath.Join(dir, "good.yaml")
	bad := filepath.Join(dir, "bad.yaml")
	require.NoError(t, os.WriteFile(good, []byte("logLevel: debug\nspawn:\n  rate: 5\n"), 0o600))
	require.NoError(t, os.WriteFile(bad, []byte("spawn:\n  rate: -1\n"), 0o600))

	var out bytes.Buffer
	assert.Equal(t, 0, run(context.Background(), []string{"config", "validate", "-f", good}, &out, io.Discard))
	assert.Contains(t, out.String(), "is valid")

	assert.Equal(t, 1, run(context.Background(), []string{"config", "validate", "-f", bad}, io.Discard, io.Discard))
	assert.Equal(t, 2, run(context.Background(), []string{"config", "validate"}, io.Discard, io.Discard))
	assert.Equal(t, 2, run(context.Background(), []string{"config", "bogus"}, io.Discard, io.Discard))
}

func TestConfigDump(t *testing.T) {
	cfgPath := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(cfgPath, []byte("logLevel: debug\n"), 0o600))

	var out bytes.Buffer
	require.Equal(t, 0, run(context.Background(), []string{"config", "dump", "-f", cfgPath}, &out, io.Discard))
	var asYAML map[string]any
	require.NoError(t, yaml.Unmarshal(out.Bytes(), &asYAML))
	assert.Equal(t, "debug", asYAML["logLevel"])

	out.Reset()
	require.Equal(t, 0, run(context.Background(), []string{"config", "dump", "-f", cfgPath, "--format=json"}, &out, io.Discard))
	var asJSON map[string]any
	require.NoError(t, json.Unmarshal(out.Bytes(), &asJSON))
	assert.Equal(t, "debug", asJSON["LogLevel"])

	assert.Equal(t, 2, run(context.Background(), []string{"config", "dump", "--format=toml"}, io.Discard, io.Discard))
}
