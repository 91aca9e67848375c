package config

func Defaults() *Config {
	return &Config{
		General: GeneralConfig{
			LogLevel:        "info",
			DefaultProvider: "ollama",
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
				Enabled:   false,
				ParseMode: "Markdown",
			},
			CLI: CLIConfig{
				Enabled: true,
			},
			Health: HealthConfig{
				Enabled: true,
				Host:    "127.0.0.1",
				Port:    8080,
			},
		},
		Routing: RoutingConfig{
			UseAI:            false,
			AITimeoutSeconds: 30,
			PreviewLength:    80,
		},
		Store: StoreConfig{
			DBPath:    "~/.valet/valet.db",
			SkillsDir: "~/.valet/skills",
		},
		Approvals: ApprovalsConfig{
			TimeoutSeconds: 120,
		},
		Metrics: MetricsConfig{
			Enabled:  true,
			Endpoint: "/metrics",
		},
	}
}
