package config

import (
	"errors"
	"fmt"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/rawbytes"
	"github.com/knadh/koanf/v2"
)

// EnvPrefix marks environment variables that override file values.
const EnvPrefix = "STEPWISE_"

type Config struct {
	App        AppConfig                 `koanf:"app"`
	Providers  map[string]ProviderConfig `koanf:"providers"`
	Memory     MemoryConfig              `koanf:"memory"`
	Planner    PlannerConfig             `koanf:"planner"`
	Agents     []AgentConfig             `koanf:"agents"`
	Router     RouterConfig              `koanf:"router"`
	Governance GovernanceConfig          `koanf:"governance"`
	Gateways   map[string]GatewayConfig  `koanf:"gateways"`
	Logging    LoggingConfig             `koanf:"logging"`
	Metrics    MetricsConfig             `koanf:"metrics"`
}

type AppConfig struct {
	Name       string `koanf:"name"`
	Workspace  string `koanf:"workspace"`
	PromptsDir string `koanf:"prompts_dir"`
}

type ProviderConfig struct {
	APIKey  string `koanf:"api_key"`
	Model   string `koanf:"model"`
	BaseURL string `koanf:"base_url"`
	Enabled bool   `koanf:"enabled"`
}

// MemoryConfig selects the execution recorder backend: "sqlite" or "memory".
type MemoryConfig struct {
	Type string `koanf:"type"`
	Path string `koanf:"path"`
}

type PlannerConfig struct {
	MaxSteps        int           `koanf:"max_steps"`
	MaxMemory       int           `koanf:"max_memory"`
	BrowserHeadless bool          `koanf:"browser_headless"`
	BrowserTimeout  time.Duration `koanf:"browser_timeout"`
	ShellTimeout    time.Duration `koanf:"shell_timeout"`
}

// AgentConfig registers one worker type. Steps tagged [name] run on it.
type AgentConfig struct {
	Name        string   `koanf:"name"`
	Description string   `koanf:"description"`
	Prompt      string   `koanf:"prompt"`
	Tools       []string `koanf:"tools"`
}

type RouterConfig struct {
	Candidates []RouteConfig `koanf:"candidates"`
}

// RouteConfig is one router branch. Agent defaults to Name.
type RouteConfig struct {
	Name        string `koanf:"name"`
	Instruction string `koanf:"instruction"`
	Agent       string `koanf:"agent"`
}

type GovernanceConfig struct {
	DeniedTools      []string            `koanf:"denied_tools"`
	DeniedPatterns   []string            `koanf:"denied_patterns"`
	DeniedAgentTools map[string][]string `koanf:"denied_agent_tools"`
}

type GatewayConfig struct {
	Token   string `koanf:"token"`
	ChatID  int64  `koanf:"chat_id"`
	Enabled bool   `koanf:"enabled"`
}

type LoggingConfig struct {
	Level   string `koanf:"level"`
	Format  string `koanf:"format"`
	LLMPath string `koanf:"llm_path"`
}

type MetricsConfig struct {
	Enabled bool   `koanf:"enabled"`
	Addr    string `koanf:"addr"`
}

// Load reads the YAML file at path, if it exists, and applies STEPWISE_
// environment overrides on top.
//
// Environment keys map to config keys by dropping the prefix, lowercasing,
// and splitting the section from the field at the first underscore:
//
//	STEPWISE_PLANNER_MAX_STEPS -> planner.max_steps
//
// A double underscore nests deeper:
//
//	STEPWISE_PROVIDERS__OPENAI__API_KEY -> providers.openai.api_key
func Load(path string) (*Config, error) {
	k := koanf.New(".")

	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case err == nil:
			if err := k.Load(rawbytes.Provider(data), yaml.Parser()); err != nil {
				return nil, fmt.Errorf("failed to load config file %s: %w", path, err)
			}
		case errors.Is(err, os.ErrNotExist):
		default:
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	if err := k.Load(env.Provider(EnvPrefix, ".", envKey), nil); err != nil {
		return nil, fmt.Errorf("failed to load environment variables: %w", err)
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	applyDefaults(&cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}
	return &cfg, nil
}

func envKey(s string) string {
	lower := strings.ToLower(strings.TrimPrefix(s, EnvPrefix))
	if strings.Contains(lower, "__") {
		return strings.ReplaceAll(lower, "__", ".")
	}
	parts := strings.SplitN(lower, "_", 2)
	if len(parts) == 1 {
		return lower
	}
	return parts[0] + "." + parts[1]
}

func applyDefaults(cfg *Config) {
	if cfg.App.Name == "" {
		cfg.App.Name = "stepwise"
	}
	if cfg.App.Workspace == "" {
		cfg.App.Workspace = "workspace"
	}
	if cfg.App.PromptsDir == "" {
		cfg.App.PromptsDir = "prompts"
	}
	if cfg.Memory.Type == "" {
		cfg.Memory.Type = "sqlite"
	}
	if cfg.Memory.Path == "" {
		cfg.Memory.Path = "stepwise.db"
	}
	if cfg.Planner.MaxSteps <= 0 {
		cfg.Planner.MaxSteps = 20
	}
	if cfg.Planner.MaxMemory <= 0 {
		cfg.Planner.MaxMemory = 1000
	}
	if cfg.Planner.BrowserTimeout <= 0 {
		cfg.Planner.BrowserTimeout = 180 * time.Second
	}
	if cfg.Planner.ShellTimeout <= 0 {
		cfg.Planner.ShellTimeout = 2 * time.Minute
	}
	if len(cfg.Agents) == 0 {
		cfg.Agents = []AgentConfig{{
			Name:        "default_agent",
			Description: "General purpose agent for steps without a type tag.",
			Tools:       []string{"search", "scraper", "filesystem"},
		}}
	}
	for i := range cfg.Router.Candidates {
		if cfg.Router.Candidates[i].Agent == "" {
			cfg.Router.Candidates[i].Agent = cfg.Router.Candidates[i].Name
		}
	}
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = "console"
	}
	if cfg.Logging.LLMPath == "" {
		cfg.Logging.LLMPath = "logs/llm.jsonl"
	}
	if cfg.Metrics.Addr == "" {
		cfg.Metrics.Addr = ":9090"
	}
}

// Validate checks the configuration for values the runtime cannot use.
func (c *Config) Validate() error {
	switch c.Memory.Type {
	case "sqlite", "memory":
	default:
		return fmt.Errorf("memory.type must be sqlite or memory, got %q", c.Memory.Type)
	}

	seen := make(map[string]bool, len(c.Agents))
	for i, a := range c.Agents {
		name := strings.ToLower(strings.TrimSpace(a.Name))
		if name == "" {
			return fmt.Errorf("agents[%d]: name is required", i)
		}
		if seen[name] {
			return fmt.Errorf("agents[%d]: duplicate agent name %q", i, a.Name)
		}
		seen[name] = true
	}

	for i, rc := range c.Router.Candidates {
		if strings.TrimSpace(rc.Name) == "" {
			return fmt.Errorf("router.candidates[%d]: name is required", i)
		}
		if !seen[strings.ToLower(rc.Agent)] {
			return fmt.Errorf("router.candidates[%d]: unknown agent %q", i, rc.Agent)
		}
	}

	if tg, ok := c.GetTelegramConfig(); ok && tg.Token == "" {
		return errors.New("gateways.telegram: token is required when enabled")
	}
	return nil
}

// GetDefaultProvider returns the first enabled provider, by name.
func (c *Config) GetDefaultProvider() (string, ProviderConfig) {
	names := make([]string, 0, len(c.Providers))
	for name := range c.Providers {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		if p := c.Providers[name]; p.Enabled {
			return name, p
		}
	}
	return "", ProviderConfig{}
}

// GetTelegramConfig returns telegram config if enabled
func (c *Config) GetTelegramConfig() (GatewayConfig, bool) {
	tg, ok := c.Gateways["telegram"]
	if ok && tg.Enabled {
		return tg, true
	}
	return GatewayConfig{}, false
}
