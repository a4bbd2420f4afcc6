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

// Package config loads standalone-binary settings from a file on disk, as a
// second source behind CLI flags: cassandra_launcher.go reads a Config and
// then lets any flag explicitly set by the user win.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/magiconair/properties"
	"gopkg.in/yaml.v3"
)

// Config mirrors the fields cassandra_launcher.go exposes as flags. Every
// field is optional; a zero value means "not set in the file".
type Config struct {
	DatabaseUri              string `yaml:"database_uri" properties:"database_uri"`
	SpannerEndpoint          string `yaml:"spanner_endpoint" properties:"spanner_endpoint"`
	TCPEndpoint              string `yaml:"tcp_endpoint" properties:"tcp_endpoint"`
	NumGrpcChannels          int    `yaml:"num_grpc_channels" properties:"num_grpc_channels"`
	DisableAdaptMessageRetry bool   `yaml:"disable_adapt_message_retry" properties:"disable_adapt_message_retry"`
	MaxCommitDelay           int    `yaml:"max_commit_delay" properties:"max_commit_delay"`
	LogLevel                 string `yaml:"log_level" properties:"log_level"`
	UsePlainText             bool   `yaml:"use_plain_text" properties:"use_plain_text"`
	EnableBuiltInMetrics     bool   `yaml:"enable_built_in_metrics" properties:"enable_built_in_metrics"`
	HealthCheckPort          int    `yaml:"health_check_port" properties:"health_check_port"`
}

// Load reads a Config from path, picking the format by extension: ".yaml"
// or ".yml" is parsed with gopkg.in/yaml.v3, anything else is treated as a
// flat magiconair/properties file. An empty path returns a zero Config,
// which callers should then leave entirely to flags and defaults.
func Load(path string) (*Config, error) {
	if path == "" {
		return &Config{}, nil
	}
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return loadYAML(path)
	default:
		return loadProperties(path)
	}
}

func loadYAML(path string) (*Config, error) {
	var cfg Config
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file %q: %w", path, err)
	}
	if err := yaml.Unmarshal(raw, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse yaml config %q: %w", path, err)
	}
	return &cfg, nil
}

func loadProperties(path string) (*Config, error) {
	props, err := properties.LoadFile(path, properties.UTF8)
	if err != nil {
		return nil, fmt.Errorf("failed to load properties config %q: %w", path, err)
	}
	cfg := &Config{
		DatabaseUri:     props.GetString("database_uri", ""),
		SpannerEndpoint: props.GetString("spanner_endpoint", ""),
		TCPEndpoint:     props.GetString("tcp_endpoint", ""),
		NumGrpcChannels: props.GetInt("num_grpc_channels", 0),
		DisableAdaptMessageRetry: props.GetBool(
			"disable_adapt_message_retry", false,
		),
		MaxCommitDelay:       props.GetInt("max_commit_delay", 0),
		LogLevel:             props.GetString("log_level", ""),
		UsePlainText:         props.GetBool("use_plain_text", false),
		EnableBuiltInMetrics: props.GetBool("enable_built_in_metrics", false),
		HealthCheckPort:      props.GetInt("health_check_port", 0),
	}
	return cfg, nil
}
