package config

func Defaults() *Config {
	return &Config{
		General: GeneralConfig{
			Workspace:             "~/.clawgate/workspace",
			LogLevel:              "info",
			DefaultProvider:       "ollama",
			MaxConcurrentMessages: 5,
			Retry: RetryConfig{
				MaxRetries:           2,
				BaseDelayMs:          500,
				MaxDelayMs:           10000,
				MaxRetryAfterSeconds: 30,
			},
		},
		Providers: map[string]ProviderConfig{
			"ollama": {
				Enabled:      true,
				APIBase:      "http://localhost:11434",
				DefaultModel: "llama3.1:8b",
			},
		},
		Channels: ChannelsConfig{
			Telegram: TelegramConfig{
				ParseMode: "Markdown",
			},
			CLI: CLIConfig{
				Enabled: true,
			},
		},
		Memory: MemoryConfig{
			Enabled:              true,
			DBPath:               "~/.clawgate/clawgate.db",
			MaxHistoryPerSession: 100,
		},
		Security: SecurityConfig{
			WorkspaceOnly:     true,
			MaxActionsPerHour: 120,
			Blocklist:         defaultBlocklist(),
			AuditLog:          true,
		},
		Approval: ApprovalConfig{
			Default: "cli",
			Channels: map[string]string{
				"telegram": "remote",
				"discord":  "remote",
			},
			TimeoutSeconds: 60,
		},
		Tools: ToolsConfig{
			Shell: ShellToolConfig{
				Timeout:        30,
				MaxOutputBytes: 65536,
				Executor:       "native",
			},
			Docker: DockerToolConfig{
				Image:     "alpine:3.20",
				Memory:    "256m",
				CPUs:      "0.5",
				PidsLimit: 64,
			},
			HTTP: HTTPToolConfig{
				TimeoutSeconds:   30,
				MaxResponseBytes: 1048576,
			},
			Git: GitToolConfig{
				TimeoutSeconds: 30,
			},
			Web: WebToolConfig{
				SearchProvider: "duckduckgo",
			},
		},
		Skills: SkillsConfig{
			Dir: "~/.clawgate/skills",
		},
	}
}

func defaultBlocklist() []string {
	return []string{
		"rm -rf /",
		"mkfs",
		"dd if=",
		":(){ :|:&",
		"shutdown",
		"reboot",
		"chmod -R 777 /",
		"mv /* /dev/null",
	}
}
