package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
)

// Config is the root configuration for clawgate.
type Config struct {
	General   GeneralConfig             `json:"general"`
	Providers map[string]ProviderConfig `json:"providers"`
	Channels  ChannelsConfig            `json:"channels"`
	Memory    MemoryConfig              `json:"memory"`
	Security  SecurityConfig            `json:"security"`
	Approval  ApprovalConfig            `json:"approval"`
	Tools     ToolsConfig               `json:"tools"`
	Skills    SkillsConfig              `json:"skills"`
}

type GeneralConfig struct {
	Workspace             string              `json:"workspace"`
	LogLevel              string              `json:"logLevel"`
	LogFile               string              `json:"logFile,omitempty"`
	DefaultProvider       string              `json:"defaultProvider"`
	FailoverChain         []string            `json:"failoverChain,omitempty"` // provider order after defaultProvider
	Model                 string              `json:"model,omitempty"`
	ModelFallbacks        map[string][]string `json:"modelFallbacks,omitempty"`
	MaxConcurrentMessages int                 `json:"maxConcurrentMessages"`
	SystemPromptExtra     string              `json:"systemPromptExtra,omitempty"`
	Retry                 RetryConfig         `json:"retry"`
}

type RetryConfig struct {
	MaxRetries           int `json:"maxRetries"`
	BaseDelayMs          int `json:"baseDelayMs"`
	MaxDelayMs           int `json:"maxDelayMs"`
	MaxRetryAfterSeconds int `json:"maxRetryAfterSeconds"`
}

type ProviderConfig struct {
	Enabled        bool   `json:"enabled"`
	Type           string `json:"type,omitempty"` // "openai" | "anthropic" | "ollama"; defaults to the entry name
	APIBase        string `json:"apiBase,omitempty"`
	APIKey         string `json:"apiKey,omitempty"`
	DefaultModel   string `json:"defaultModel,omitempty"`
	TimeoutSeconds int    `json:"timeoutSeconds,omitempty"`
}

// Kind returns the backend type of a provider entry named name.
func (pc ProviderConfig) Kind(name string) string {
	if pc.Type != "" {
		return pc.Type
	}
	return name
}

type ChannelsConfig struct {
	Telegram TelegramConfig `json:"telegram"`
	Discord  DiscordConfig  `json:"discord"`
	CLI      CLIConfig      `json:"cli"`
}

type TelegramConfig struct {
	Enabled   bool           `json:"enabled"`
	Token     string         `json:"token"`
	AllowFrom FlexStringList `json:"allowFrom"`
	ParseMode string         `json:"parseMode"`
}

type DiscordConfig struct {
	Enabled   bool           `json:"enabled"`
	Token     string         `json:"token"`
	GuildID   string         `json:"guildId,omitempty"` // optional: restrict to specific guild
	AllowFrom FlexStringList `json:"allowFrom"`
}

// FlexStringList is a []string that can unmarshal from JSON arrays containing
// both strings and numbers (e.g. ["123", 456] both become "123", "456").
type FlexStringList []string

func (f *FlexStringList) UnmarshalJSON(data []byte) error {
	var ss []string
	if err := json.Unmarshal(data, &ss); err == nil {
		*f = ss
		return nil
	}
	var raw []json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	result := make([]string, 0, len(raw))
	for _, item := range raw {
		var s string
		if err := json.Unmarshal(item, &s); err == nil {
			result = append(result, s)
			continue
		}
		var n float64
		if err := json.Unmarshal(item, &n); err == nil {
			result = append(result, strconv.FormatInt(int64(n), 10))
			continue
		}
		result = append(result, string(item))
	}
	*f = result
	return nil
}

type CLIConfig struct {
	Enabled bool `json:"enabled"`
}

type MemoryConfig struct {
	Enabled              bool   `json:"enabled"`
	DBPath               string `json:"dbPath"`
	MaxHistoryPerSession int    `json:"maxHistoryPerSession"`
}

type SecurityConfig struct {
	WorkspaceOnly     bool     `json:"workspaceOnly"`
	MaxActionsPerHour int      `json:"maxActionsPerHour"`
	AllowedDomains    []string `json:"allowedDomains"`
	Blocklist         []string `json:"blocklist"`
	AuditLog          bool     `json:"auditLog"`
}

// ApprovalConfig selects how dangerous tool calls are confirmed.
// Strategy names: "cli", "auto", "deny", "remote".
type ApprovalConfig struct {
	Default        string            `json:"default"`
	Channels       map[string]string `json:"channels,omitempty"` // channel ID or family -> strategy
	TimeoutSeconds int               `json:"timeoutSeconds"`
}

type ToolsConfig struct {
	Shell  ShellToolConfig  `json:"shell"`
	Docker DockerToolConfig `json:"docker"`
	HTTP   HTTPToolConfig   `json:"http"`
	Git    GitToolConfig    `json:"git"`
	Web    WebToolConfig    `json:"web"`
}

type ShellToolConfig struct {
	Timeout        int      `json:"timeout"`
	MaxOutputBytes int      `json:"maxOutputBytes"`
	Executor       string   `json:"executor"` // "native" | "docker"
	AllowedDirs    []string `json:"allowedDirs,omitempty"`
}

type DockerToolConfig struct {
	Image        string   `json:"image"`
	Memory       string   `json:"memory"`
	CPUs         string   `json:"cpus"`
	PidsLimit    int      `json:"pidsLimit"`
	NetworkTools []string `json:"networkTools,omitempty"` // commands allowed network access
}

type HTTPToolConfig struct {
	TimeoutSeconds   int `json:"timeoutSeconds"`
	MaxResponseBytes int `json:"maxResponseBytes"`
}

type GitToolConfig struct {
	TimeoutSeconds int `json:"timeoutSeconds"`
}

type WebToolConfig struct {
	SearchProvider string `json:"searchProvider"`
}

type SkillsConfig struct {
	Dir string `json:"dir"`
}

// DefaultConfigDir returns the default config directory (~/.clawgate).
func DefaultConfigDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".clawgate"
	}
	return filepath.Join(home, ".clawgate")
}

func DefaultConfigPath() string {
	return filepath.Join(DefaultConfigDir(), "config.json")
}

func Load(path string) (*Config, error) {
	path = ExpandPath(path)

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("cannot read config file %s: %w", path, err)
	}

	// Substitute environment variables: ${VAR} and ${VAR:-default}
	data = []byte(ExpandEnvVars(string(data)))

	cfg := Defaults()
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("cannot parse config file %s: %w", path, err)
	}

	cfg.General.Workspace = ExpandPath(cfg.General.Workspace)
	cfg.General.LogFile = ExpandPath(cfg.General.LogFile)
	cfg.Memory.DBPath = ExpandPath(cfg.Memory.DBPath)
	cfg.Skills.Dir = ExpandPath(cfg.Skills.Dir)

	if err := Validate(cfg); err != nil {
		return nil, fmt.Errorf("config validation: %w", err)
	}

	return cfg, nil
}

// envVarPattern matches ${VAR} and ${VAR:-default} patterns in config strings.
var envVarPattern = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)(?::-(.*?))?\}`)

// ExpandEnvVars replaces ${VAR} with the environment variable value.
// ${VAR:-default} uses "default" when VAR is unset or empty; an unset
// variable without a default is left as written.
func ExpandEnvVars(input string) string {
	return envVarPattern.ReplaceAllStringFunc(input, func(match string) string {
		groups := envVarPattern.FindStringSubmatch(match)
		if len(groups) < 2 {
			return match
		}
		hasDefault := len(groups) >= 3 && groups[2] != ""

		val, exists := os.LookupEnv(groups[1])
		if !exists || val == "" {
			if hasDefault {
				return groups[2]
			}
			return match
		}
		return val
	})
}

func Save(path string, cfg *Config) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("cannot create config directory: %w", err)
	}

	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return fmt.Errorf("cannot marshal config: %w", err)
	}

	return os.WriteFile(path, data, 0o600)
}

var approvalStrategies = map[string]bool{"cli": true, "auto": true, "deny": true, "remote": true}

var providerKinds = map[string]bool{"openai": true, "anthropic": true, "ollama": true}

// Validate checks that the config has valid values. All problems are
// reported together.
func Validate(cfg *Config) error {
	var errs []string

	if cfg.General.Workspace == "" {
		errs = append(errs, "general.workspace is required")
	}
	switch strings.ToLower(cfg.General.LogLevel) {
	case "debug", "info", "warn", "error":
	default:
		errs = append(errs, "general.logLevel must be one of: debug, info, warn, error")
	}
	if cfg.General.MaxConcurrentMessages < 1 || cfg.General.MaxConcurrentMessages > 100 {
		errs = append(errs, "general.maxConcurrentMessages must be between 1 and 100")
	}
	if cfg.General.Retry.MaxRetries < 0 || cfg.General.Retry.MaxRetries > 10 {
		errs = append(errs, "general.retry.maxRetries must be between 0 and 10")
	}
	if cfg.General.Retry.BaseDelayMs < 0 {
		errs = append(errs, "general.retry.baseDelayMs must be >= 0")
	}

	if _, ok := cfg.Providers[cfg.General.DefaultProvider]; !ok {
		errs = append(errs, fmt.Sprintf("general.defaultProvider references unknown provider: %s", cfg.General.DefaultProvider))
	}
	for _, provName := range cfg.General.FailoverChain {
		if _, ok := cfg.Providers[provName]; !ok {
			errs = append(errs, fmt.Sprintf("general.failoverChain references unknown provider: %s", provName))
		}
	}
	for model, fallbacks := range cfg.General.ModelFallbacks {
		for _, fb := range fallbacks {
			if fb == model {
				errs = append(errs, fmt.Sprintf("general.modelFallbacks.%s must not list itself", model))
			}
		}
	}
	for name, pc := range cfg.Providers {
		if !pc.Enabled {
			continue
		}
		if !providerKinds[pc.Kind(name)] {
			errs = append(errs, fmt.Sprintf("providers.%s: unknown type %q (want openai, anthropic or ollama)", name, pc.Kind(name)))
		}
	}

	if cfg.Memory.MaxHistoryPerSession < 1 {
		errs = append(errs, "memory.maxHistoryPerSession must be >= 1")
	}
	if cfg.Security.MaxActionsPerHour < 1 {
		errs = append(errs, "security.maxActionsPerHour must be >= 1")
	}

	if !approvalStrategies[cfg.Approval.Default] {
		errs = append(errs, fmt.Sprintf("approval.default: unknown strategy %q", cfg.Approval.Default))
	}
	for ch, name := range cfg.Approval.Channels {
		if !approvalStrategies[name] {
			errs = append(errs, fmt.Sprintf("approval.channels.%s: unknown strategy %q", ch, name))
		}
	}
	if cfg.Approval.TimeoutSeconds < 1 {
		errs = append(errs, "approval.timeoutSeconds must be >= 1")
	}

	if cfg.Tools.Shell.Timeout < 1 {
		errs = append(errs, "tools.shell.timeout must be >= 1")
	}
	switch cfg.Tools.Shell.Executor {
	case "native", "docker":
	default:
		errs = append(errs, "tools.shell.executor must be one of: native, docker")
	}
	if cfg.Tools.HTTP.MaxResponseBytes < 1 {
		errs = append(errs, "tools.http.maxResponseBytes must be >= 1")
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation errors:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}

// ExpandPath resolves ~/ to the user's home directory.
func ExpandPath(path string) string {
	if strings.HasPrefix(path, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return path
		}
		return filepath.Join(home, path[2:])
	}
	return path
}
