// Package config loads, validates, and persists the autodev configuration.
// The config lives at <repo>/.autodev/config.yaml and uses explicit fields
// only; every cap and flag the pipeline honors is named here.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// DefaultDirName is the state directory created inside the target repository.
const DefaultDirName = ".autodev"

// Config is the process-wide configuration. Loaded once at startup and
// mutated only through Update, which also persists it.
type Config struct {
	// RepoPath is the repository the pipeline improves.
	RepoPath string `yaml:"repo_path"`

	// Concurrency caps.
	MaxParallelAgents int `yaml:"max_parallel_agents"`
	MaxRetries        int `yaml:"max_retries"`

	// Hard limits.
	MaxFilesPerRun     int `yaml:"max_files_per_run"`
	MaxLinesChanged    int `yaml:"max_lines_changed"`
	MaxResearchQueries int `yaml:"max_research_queries"`
	MaxDailyRuns       int `yaml:"max_daily_runs"`
	MaxRunHistory      int `yaml:"max_run_history"`

	// Feature flags.
	RequireBuildPass bool `yaml:"require_build_pass"`
	Notifications    bool `yaml:"notifications"`

	// TargetBranch is the protected branch PRs are opened against.
	TargetBranch string `yaml:"target_branch"`

	// Categories enables research categories (one research agent each).
	Categories []string `yaml:"categories"`

	// Schedule is the cron expression for unattended runs (five fields).
	Schedule string `yaml:"schedule"`

	LLM      LLMConfig      `yaml:"llm"`
	Build    BuildConfig    `yaml:"build"`
	Research ResearchConfig `yaml:"research"`
	Logging  LoggingConfig  `yaml:"logging"`
}

// LLMConfig selects models and bounds agent behavior.
type LLMConfig struct {
	APIKey string `yaml:"api_key,omitempty"`

	// ExpensiveModel handles normal traffic; CheapModel is substituted when
	// the estimated prompt tokens exceed TokenThreshold or when the
	// expensive model reports quota exhaustion.
	ExpensiveModel string `yaml:"expensive_model"`
	CheapModel     string `yaml:"cheap_model"`
	TokenThreshold int    `yaml:"token_threshold"`

	// MaxTurns caps a tool-calling conversation before force-termination.
	MaxTurns int    `yaml:"max_turns"`
	Timeout  string `yaml:"timeout"`
}

// BuildConfig controls build verification.
type BuildConfig struct {
	// Command is the build invocation, split on spaces (binary first).
	Command string `yaml:"command"`
	Timeout string `yaml:"timeout"`
}

// ResearchConfig bounds the web research tool.
type ResearchConfig struct {
	MaxPageBytes int    `yaml:"max_page_bytes"`
	CacheTTL     string `yaml:"cache_ttl"`
}

// LoggingConfig controls the category file logger.
type LoggingConfig struct {
	Debug      bool            `yaml:"debug"`
	Level      string          `yaml:"level"`
	Categories map[string]bool `yaml:"categories,omitempty"`
}

// Default returns the default configuration.
func Default() *Config {
	return &Config{
		RepoPath:           ".",
		MaxParallelAgents:  3,
		MaxRetries:         2,
		MaxFilesPerRun:     5,
		MaxLinesChanged:    500,
		MaxResearchQueries: 12,
		MaxDailyRuns:       4,
		MaxRunHistory:      50,
		RequireBuildPass:   true,
		Notifications:      true,
		TargetBranch:       "main",
		Categories:         []string{"security", "dependencies", "quality"},
		Schedule:           "0 3 * * *",
		LLM: LLMConfig{
			ExpensiveModel: "gemini-3-pro-preview",
			CheapModel:     "gemini-3-flash-preview",
			TokenThreshold: 200000,
			MaxTurns:       8,
			Timeout:        "10m",
		},
		Build: BuildConfig{
			Command: "npm run build",
			Timeout: "5m",
		},
		Research: ResearchConfig{
			MaxPageBytes: 512 * 1024,
			CacheTTL:     "1h",
		},
		Logging: LoggingConfig{
			Level: "info",
		},
	}
}

// Load reads configuration from a YAML file. A missing file returns the
// defaults. Values from the file overlay the defaults; environment
// variables overlay both.
func Load(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			cfg.applyEnvOverrides()
			return cfg, cfg.Validate()
		}
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	cfg.applyEnvOverrides()
	return cfg, cfg.Validate()
}

// Save writes the configuration to a YAML file, creating parent
// directories as needed.
func (c *Config) Save(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}
	return nil
}

// Update loads the configuration at path, applies mutate, validates the
// result, and persists it on success. A running scheduler picks the change
// up through the config watcher; nothing is written when mutate or
// validation fails.
func Update(path string, mutate func(*Config) error) (*Config, error) {
	cfg, err := Load(path)
	if err != nil {
		return nil, err
	}
	if err := mutate(cfg); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("rejected: %w", err)
	}
	if err := cfg.Save(path); err != nil {
		return nil, err
	}
	return cfg, nil
}

// applyEnvOverrides applies environment variable overrides.
func (c *Config) applyEnvOverrides() {
	if key := os.Getenv("GEMINI_API_KEY"); key != "" {
		c.LLM.APIKey = key
	}
	if v := os.Getenv("AUTODEV_REPO"); v != "" {
		c.RepoPath = v
	}
	if v := os.Getenv("AUTODEV_TARGET_BRANCH"); v != "" {
		c.TargetBranch = v
	}
	if v := os.Getenv("AUTODEV_MAX_PARALLEL_AGENTS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			c.MaxParallelAgents = n
		}
	}
	if v := os.Getenv("AUTODEV_MAX_DAILY_RUNS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			c.MaxDailyRuns = n
		}
	}
	if v := os.Getenv("AUTODEV_DEBUG"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			c.Logging.Debug = b
		}
	}
}

// Validate rejects configurations the pipeline cannot run with.
func (c *Config) Validate() error {
	if c.MaxParallelAgents < 1 {
		return fmt.Errorf("max_parallel_agents must be at least 1, got %d", c.MaxParallelAgents)
	}
	if c.MaxRetries < 0 {
		return fmt.Errorf("max_retries must not be negative, got %d", c.MaxRetries)
	}
	if c.MaxLinesChanged < 1 {
		return fmt.Errorf("max_lines_changed must be at least 1, got %d", c.MaxLinesChanged)
	}
	if c.MaxResearchQueries < 1 {
		return fmt.Errorf("max_research_queries must be at least 1, got %d", c.MaxResearchQueries)
	}
	if c.TargetBranch == "" {
		return fmt.Errorf("target_branch must not be empty")
	}
	if c.LLM.ExpensiveModel == "" || c.LLM.CheapModel == "" {
		return fmt.Errorf("llm models must not be empty")
	}
	if c.LLM.MaxTurns < 1 {
		return fmt.Errorf("llm max_turns must be at least 1, got %d", c.LLM.MaxTurns)
	}
	return nil
}

// StateDir returns the state directory for the configured repository.
func (c *Config) StateDir() string {
	return filepath.Join(c.RepoPath, DefaultDirName)
}

// Path returns the canonical config file location for a repository.
func Path(repoPath string) string {
	return filepath.Join(repoPath, DefaultDirName, "config.yaml")
}

// LLMTimeout parses the LLM timeout, falling back to 10 minutes.
func (c *Config) LLMTimeout() time.Duration {
	if d, err := time.ParseDuration(c.LLM.Timeout); err == nil && d > 0 {
		return d
	}
	return 10 * time.Minute
}

// BuildTimeout parses the build timeout, falling back to 5 minutes.
func (c *Config) BuildTimeout() time.Duration {
	if d, err := time.ParseDuration(c.Build.Timeout); err == nil && d > 0 {
		return d
	}
	return 5 * time.Minute
}

// ResearchCacheTTL parses the research cache TTL, falling back to an hour.
func (c *Config) ResearchCacheTTL() time.Duration {
	if d, err := time.ParseDuration(c.Research.CacheTTL); err == nil && d > 0 {
		return d
	}
	return time.Hour
}
