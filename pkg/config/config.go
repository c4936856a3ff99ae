// Copyright 2026 Strand Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package config loads and validates the YAML runtime configuration,
// with environment variable expansion and live reload on file change.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Duration is a time.Duration that unmarshals from YAML strings like
// "60s" or "2m".
type Duration time.Duration

// UnmarshalYAML implements yaml.Unmarshaler.
func (d *Duration) UnmarshalYAML(node *yaml.Node) error {
	var raw string
	if err := node.Decode(&raw); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(raw)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", raw, err)
	}
	*d = Duration(parsed)
	return nil
}

// Std returns the standard library duration.
func (d Duration) Std() time.Duration { return time.Duration(d) }

// ServerConfig is the HTTP surface.
type ServerConfig struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
}

// Address returns host:port.
func (c ServerConfig) Address() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// LoggingConfig selects log level and format.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	File   string `yaml:"file"`
}

// ProviderConfig selects and tunes the LLM backend.
type ProviderConfig struct {
	Type       string   `yaml:"type"`
	Model      string   `yaml:"model"`
	BaseURL    string   `yaml:"base_url"`
	APIKey     string   `yaml:"api_key"`
	Timeout    Duration `yaml:"timeout"`
	MaxRetries int      `yaml:"max_retries"`
}

// LoopConfig tunes the turn loop.
type LoopConfig struct {
	MaxIterations   int      `yaml:"max_iterations"`
	StopOnToolError bool     `yaml:"stop_on_tool_error"`
	ThoughtTags     []string `yaml:"thought_tags"`
}

// BusConfig sizes the event log and subscriber queues.
type BusConfig struct {
	LogCapacity      int `yaml:"log_capacity"`
	SubscriberBuffer int `yaml:"subscriber_buffer"`
}

// SessionConfig bounds the history handed to each turn.
type SessionConfig struct {
	TokenBudget int `yaml:"token_budget"`
}

// MCPServerConfig is one MCP tool server connection.
type MCPServerConfig struct {
	Name    string   `yaml:"name"`
	URL     string   `yaml:"url"`
	Command string   `yaml:"command"`
	Args    []string `yaml:"args"`
}

// ToolsConfig wires tool providers.
type ToolsConfig struct {
	MCP []MCPServerConfig `yaml:"mcp"`
}

// SkillConfig is one named prompt attached to an agent.
type SkillConfig struct {
	Name   string `yaml:"name"`
	Prompt string `yaml:"prompt"`
}

// AgentConfig declares one agent.
type AgentConfig struct {
	ID           string        `yaml:"id"`
	SystemPrompt string        `yaml:"system_prompt"`
	Skills       []SkillConfig `yaml:"skills"`
	// SubAgents lists agent ids this agent may delegate to as tools.
	SubAgents []string `yaml:"subagents"`
}

// Config is the full runtime configuration.
type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Logging  LoggingConfig  `yaml:"logging"`
	Provider ProviderConfig `yaml:"provider"`
	Loop     LoopConfig     `yaml:"loop"`
	Bus      BusConfig      `yaml:"bus"`
	Session  SessionConfig  `yaml:"session"`
	Tools    ToolsConfig    `yaml:"tools"`
	Agents   []AgentConfig  `yaml:"agents"`
}

// SetDefaults fills unset fields.
func (c *Config) SetDefaults() {
	if c.Server.Host == "" {
		c.Server.Host = "127.0.0.1"
	}
	if c.Server.Port == 0 {
		c.Server.Port = 8080
	}
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.Format == "" {
		c.Logging.Format = "simple"
	}
	if c.Provider.Type == "" {
		c.Provider.Type = "openai"
	}
	if c.Provider.Timeout == 0 {
		c.Provider.Timeout = Duration(60 * time.Second)
	}
	if c.Provider.MaxRetries == 0 {
		c.Provider.MaxRetries = 2
	}
	if c.Loop.MaxIterations == 0 {
		c.Loop.MaxIterations = 10
	}
	if c.Bus.LogCapacity == 0 {
		c.Bus.LogCapacity = 1024
	}
	if c.Bus.SubscriberBuffer == 0 {
		c.Bus.SubscriberBuffer = 256
	}
	if len(c.Agents) == 0 {
		c.Agents = []AgentConfig{{ID: "assistant"}}
	}
}

// Validate rejects inconsistent configurations.
func (c *Config) Validate() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port %d out of range", c.Server.Port)
	}
	switch c.Provider.Type {
	case "openai", "scripted":
	default:
		return fmt.Errorf("unknown provider.type %q", c.Provider.Type)
	}
	if c.Loop.MaxIterations < 1 {
		return fmt.Errorf("loop.max_iterations must be positive, got %d", c.Loop.MaxIterations)
	}

	ids := make(map[string]bool, len(c.Agents))
	for _, a := range c.Agents {
		if a.ID == "" {
			return fmt.Errorf("agent with empty id")
		}
		if ids[a.ID] {
			return fmt.Errorf("duplicate agent id %q", a.ID)
		}
		ids[a.ID] = true
	}
	for _, a := range c.Agents {
		for _, sub := range a.SubAgents {
			if !ids[sub] {
				return fmt.Errorf("agent %q references unknown subagent %q", a.ID, sub)
			}
			if sub == a.ID {
				return fmt.Errorf("agent %q cannot delegate to itself", a.ID)
			}
		}
	}
	for _, m := range c.Tools.MCP {
		if m.Name == "" {
			return fmt.Errorf("mcp server with empty name")
		}
		if m.URL == "" && m.Command == "" {
			return fmt.Errorf("mcp server %q needs a url or a command", m.Name)
		}
	}
	return nil
}

// Load reads, expands, defaults, and validates a configuration file.
func Load(path string) (*Config, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	return Parse(raw)
}

// Parse decodes configuration bytes with env expansion applied to
// every string value.
func Parse(raw []byte) (*Config, error) {
	var tree map[string]any
	if err := yaml.Unmarshal(raw, &tree); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	expanded, err := yaml.Marshal(ExpandEnvInData(tree))
	if err != nil {
		return nil, fmt.Errorf("expand config: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(expanded, &cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	cfg.SetDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}
