//go:build unit

/*
Copyright 2025 Google LLC

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_EmptyPathReturnsZeroConfig(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, &Config{}, cfg)
}

func TestLoad_YAML(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "settings.yaml")
	contents := `
database_uri: projects/p/instances/i/databases/d
tcp_endpoint: localhost:9042
num_grpc_channels: 8
disable_adapt_message_retry: true
max_commit_delay: 100
log_level: debug
use_plain_text: true
enable_built_in_metrics: true
health_check_port: 8080
`
	require.NoError(t, os.WriteFile(path, []byte(contents), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, &Config{
		DatabaseUri:              "projects/p/instances/i/databases/d",
		TCPEndpoint:              "localhost:9042",
		NumGrpcChannels:          8,
		DisableAdaptMessageRetry: true,
		MaxCommitDelay:           100,
		LogLevel:                 "debug",
		UsePlainText:             true,
		EnableBuiltInMetrics:     true,
		HealthCheckPort:          8080,
	}, cfg)
}

func TestLoad_Properties(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "settings.properties")
	contents := `
database_uri=projects/p/instances/i/databases/d
tcp_endpoint=localhost:9042
num_grpc_channels=8
disable_adapt_message_retry=true
max_commit_delay=100
log_level=debug
use_plain_text=true
enable_built_in_metrics=true
health_check_port=8080
`
	require.NoError(t, os.WriteFile(path, []byte(contents), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, &Config{
		DatabaseUri:              "projects/p/instances/i/databases/d",
		TCPEndpoint:              "localhost:9042",
		NumGrpcChannels:          8,
		DisableAdaptMessageRetry: true,
		MaxCommitDelay:           100,
		LogLevel:                 "debug",
		UsePlainText:             true,
		EnableBuiltInMetrics:     true,
		HealthCheckPort:          8080,
	}, cfg)
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

func TestLoad_UnknownExtensionFallsBackToProperties(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "settings.conf")
	require.NoError(t, os.WriteFile(path, []byte("log_level=warn\n"), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "warn", cfg.LogLevel)
}
