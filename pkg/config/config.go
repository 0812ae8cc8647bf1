// Copyright 2025 Kadir Pekel
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

// Package config loads the agent core's process-wide configuration: one
// YAML file, with ${VAR} / ${VAR:-default} references expanded against
// the environment (optionally pre-populated from a .env file), decoded
// into a typed Config and optionally watched for changes.
package config

import (
	"fmt"
	"os"
	"regexp"
	"strings"

	"github.com/joho/godotenv"
	"github.com/mitchellh/mapstructure"
	"gopkg.in/yaml.v3"
)

// Config is the root configuration structure for a single agent core
// process.
type Config struct {
	LLM           LLMConfig     `yaml:"llm"`
	Loop          LoopConfig    `yaml:"loop"`
	Tools         ToolsConfig   `yaml:"tools"`
	Intent        IntentConfig `yaml:"intent"`
	LogLevel      string        `yaml:"log_level"`
	MetricsListen string        `yaml:"metrics_listen"`
}

// LLMConfig selects and credentials an llmclient.Provider.
type LLMConfig struct {
	Provider  string `yaml:"provider"`
	Model     string `yaml:"model"`
	APIKey    string `yaml:"api_key"`
	BaseURL   string `yaml:"base_url"`
	MaxTokens int64  `yaml:"max_tokens"`
}

// LoopConfig mirrors the agentcore.Loop knobs spec §4.2 names as
// configurable.
type LoopConfig struct {
	SafetyMode    bool `yaml:"safety_mode"`
	OSMode        bool `yaml:"os_mode"`
	MaxIterations int  `yaml:"max_iterations"`
}

// ToolsConfig names the filesystem locations the registry discovers
// program- and module-kind tools from at startup.
type ToolsConfig struct {
	ProgramsDir string   `yaml:"programs_dir"`
	ModulesDir  string   `yaml:"modules_dir"`
	MCPServers  []string `yaml:"mcp_servers"`
}

// IntentConfig configures the offline intent matcher's fast path.
type IntentConfig struct {
	MatchThreshold float64 `yaml:"match_threshold"`
}

// SetDefaults fills in the values the spec names as defaults when the
// file omits them.
func (c *Config) SetDefaults() {
	if c.Loop.MaxIterations == 0 {
		c.Loop.MaxIterations = 10
	}
	if c.Intent.MatchThreshold == 0 {
		// Mirrors intent.DefaultThreshold.
		c.Intent.MatchThreshold = 0.7
	}
	if c.LogLevel == "" {
		c.LogLevel = "info"
	}
	if c.LLM.MaxTokens == 0 {
		c.LLM.MaxTokens = 4096
	}
}

// Validate checks the fields every deployment must supply explicitly.
func (c *Config) Validate() error {
	switch c.LLM.Provider {
	case "openai", "anthropic", "gemini", "ollama":
	case "":
		return fmt.Errorf("llm.provider is required")
	default:
		return fmt.Errorf("llm.provider %q is not one of openai, anthropic, gemini, ollama", c.LLM.Provider)
	}
	if c.LLM.Provider != "ollama" && c.LLM.APIKey == "" {
		return fmt.Errorf("llm.api_key is required for provider %q", c.LLM.Provider)
	}
	if c.Loop.MaxIterations < 0 {
		return fmt.Errorf("loop.max_iterations must not be negative")
	}
	return nil
}

var (
	envWithDefault = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*):-(.*?)\}`)
	envBraced      = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)\}`)
)

// expandEnvVars resolves ${VAR} and ${VAR:-default} references in s
// against the process environment.
func expandEnvVars(s string) string {
	if !strings.Contains(s, "$") {
		return s
	}
	s = envWithDefault.ReplaceAllStringFunc(s, func(match string) string {
		parts := envWithDefault.FindStringSubmatch(match)
		if val := os.Getenv(parts[1]); val != "" {
			return val
		}
		return parts[2]
	})
	s = envBraced.ReplaceAllStringFunc(s, func(match string) string {
		parts := envBraced.FindStringSubmatch(match)
		return os.Getenv(parts[1])
	})
	return s
}

// expandEnvVarsInData walks a decoded YAML document applying
// expandEnvVars to every string leaf.
func expandEnvVarsInData(data any) any {
	switch v := data.(type) {
	case string:
		return expandEnvVars(v)
	case map[string]any:
		result := make(map[string]any, len(v))
		for key, value := range v {
			result[key] = expandEnvVarsInData(value)
		}
		return result
	case []any:
		result := make([]any, len(v))
		for i, item := range v {
			result[i] = expandEnvVarsInData(item)
		}
		return result
	default:
		return v
	}
}

// Load loads envFile into the process environment if that file exists,
// then reads path, expands environment references, decodes into a
// Config, applies defaults and validates. envFile may be empty to skip
// .env loading.
func Load(path, envFile string) (*Config, error) {
	if envFile != "" {
		if err := godotenv.Load(envFile); err != nil && !os.IsNotExist(err) {
			return nil, fmt.Errorf("loading env file %s: %w", envFile, err)
		}
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file %s: %w", path, err)
	}

	var raw map[string]any
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("parsing config file %s: %w", path, err)
	}

	expanded := expandEnvVarsInData(raw)

	cfg := &Config{}
	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		TagName: "yaml",
		Result:  cfg,
	})
	if err != nil {
		return nil, err
	}
	if err := decoder.Decode(expanded); err != nil {
		return nil, fmt.Errorf("decoding config file %s: %w", path, err)
	}

	cfg.SetDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration in %s: %w", path, err)
	}
	return cfg, nil
}
