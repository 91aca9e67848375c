package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"valet/internal/approval"
	"valet/internal/assist"
	"valet/internal/bus"
	"valet/internal/channel"
	"valet/internal/config"
	"valet/internal/domain"
	"valet/internal/intent"
	"valet/internal/provider"
	"valet/internal/skill"
	"valet/internal/store"

	"github.com/spf13/cobra"
)

var (
	version    = "0.1.0"
	logger     *slog.Logger
	configPath string // overridable via --config flag
)

func main() {
	logger = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo}))

	root := &cobra.Command{
		Use:   "valet",
		Short: "Valet: a single-user personal assistant bot",
		Long:  "Valet routes your messages to skills (calendar, email, market data, ...)\nover Telegram or the terminal, asking for approval before acting on your behalf.",
	}

	root.PersistentFlags().StringVarP(&configPath, "config", "c", "", "path to config.json (default: ~/.valet/config.json)")

	root.AddCommand(initCmd())
	root.AddCommand(runCmd())
	root.AddCommand(chatCmd())
	root.AddCommand(skillsCmd())
	root.AddCommand(doctorCmd())
	root.AddCommand(installDaemonCmd())
	root.AddCommand(uninstallDaemonCmd())

	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

// resolveConfigPath returns the config path from --config flag or default.
func resolveConfigPath() string {
	if configPath != "" {
		return configPath
	}
	return config.DefaultConfigPath()
}

func loadConfig() *config.Config {
	cfgPath := resolveConfigPath()
	cfg, err := config.Load(cfgPath)
	if err != nil {
		logger.Warn("config not found, using defaults", "path", cfgPath, "err", err)
		cfg = config.Defaults()
	}
	logger = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: logLevel(cfg.General.LogLevel)}))
	return cfg
}

func logLevel(s string) slog.Level {
	switch s {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func initCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "init",
		Short: "Initialize config, database and built-in skills",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfgDir := config.DefaultConfigDir()
			cfgPath := config.DefaultConfigPath()
			if err := os.MkdirAll(cfgDir, 0o755); err != nil {
				return err
			}
			cfg := config.Defaults()
			if err := config.Save(cfgPath, cfg); err != nil {
				return err
			}

			skillsDir := config.ExpandPath(cfg.Store.SkillsDir)
			if skillsDir != "" {
				if err := os.MkdirAll(skillsDir, 0o755); err != nil {
					return err
				}
			}

			dbPath := config.ExpandPath(cfg.Store.DBPath)
			if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
				return err
			}
			st, err := store.NewSQLiteStore(dbPath, logger)
			if err != nil {
				return err
			}
			defer st.Close()

			ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			if err := st.SeedSkills(ctx, skill.Builtins()); err != nil {
				return fmt.Errorf("seed skills: %w", err)
			}

			logger.Info("initialized", "config", cfgPath, "db", dbPath, "skills_dir", skillsDir)
			return nil
		},
	}
}

// core holds the wired routing stack shared by run and chat.
type core struct {
	cfg      *config.Config
	store    *store.SQLiteStore
	registry *skill.Registry
	router   *intent.Router
	bus      *bus.InMemoryBus
	provider domain.Provider
}

func buildCore(ctx context.Context) (*core, error) {
	cfg := loadConfig()

	dbPath := config.ExpandPath(cfg.Store.DBPath)
	if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
		return nil, err
	}
	st, err := store.NewSQLiteStore(dbPath, logger)
	if err != nil {
		return nil, err
	}

	registry := skill.NewRegistry(skill.RegistryConfig{
		Store:      st,
		OverlayDir: config.ExpandPath(cfg.Store.SkillsDir),
		Logger:     logger,
	})
	registry.Load(ctx)

	keyword := intent.NewKeywordClassifier(registry, logger)

	var prov domain.Provider
	factory := provider.NewFactory(cfg, logger)
	if p, err := factory.Get(""); err == nil {
		prov = p
	} else {
		logger.Warn("default provider unavailable", "err", err)
	}

	var ai *intent.AIClassifier
	if cfg.Routing.UseAI && prov != nil {
		ai = intent.NewAIClassifier(intent.AIClassifierConfig{
			Registry: registry,
			Keyword:  keyword,
			Provider: prov,
			Timeout:  time.Duration(cfg.Routing.AITimeoutSeconds) * time.Second,
			Logger:   logger,
		})
	}

	router := intent.NewRouter(intent.RouterConfig{
		Registry:      registry,
		Keyword:       keyword,
		AI:            ai,
		Audit:         st,
		PreviewLength: cfg.Routing.PreviewLength,
		Logger:        logger,
	})

	return &core{
		cfg:      cfg,
		store:    st,
		registry: registry,
		router:   router,
		bus:      bus.New(100, logger),
		provider: prov,
	}, nil
}

func newLoop(c *core, confirm approval.ConfirmFunc) *assist.Loop {
	gate := approval.NewGate(approval.GateConfig{
		Store:   c.store,
		Confirm: confirm,
		Timeout: time.Duration(c.cfg.Approvals.TimeoutSeconds) * time.Second,
		Logger:  logger,
	})

	executors := assist.NewExecutorSet(assist.NewAckExecutor(logger))
	executors.Register("general", assist.NewChatExecutor(c.provider, logger))

	return assist.NewLoop(assist.LoopConfig{
		Router:    c.router,
		Gate:      gate,
		Skills:    c.registry,
		Executors: executors,
		Bus:       c.bus,
		UseAI:     c.cfg.Routing.UseAI,
		Logger:    logger,
	})
}

func chatCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "chat",
		Short: "Start interactive chat in the terminal",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			c, err := buildCore(ctx)
			if err != nil {
				return err
			}
			defer c.store.Close()
			defer c.bus.Close()

			cli := channel.NewCLI(channel.CLIConfig{Logger: logger})
			loop := newLoop(c, cli.RequestConfirmation)

			go loop.Run(ctx)
			return cli.Start(ctx, c.bus)
		},
	}
}

func runCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Run the assistant daemon (Telegram + health endpoint)",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			c, err := buildCore(ctx)
			if err != nil {
				return err
			}
			defer c.store.Close()
			defer c.bus.Close()

			if !c.cfg.Channels.Telegram.Enabled {
				return fmt.Errorf("channels.telegram is disabled; enable it or use 'valet chat'")
			}
			if c.cfg.Channels.Telegram.Token == "" {
				return fmt.Errorf("channels.telegram.token is not set")
			}

			tg := channel.NewTelegram(channel.TelegramConfig{
				Token:     c.cfg.Channels.Telegram.Token,
				AllowFrom: c.cfg.Channels.Telegram.AllowFrom,
				ParseMode: c.cfg.Channels.Telegram.ParseMode,
				SkillList: c.registry.ListEnabled,
				Logger:    logger,
			})

			loop := newLoop(c, tg.RequestConfirmation)
			go loop.Run(ctx)

			if c.cfg.Channels.Health.Enabled {
				health := channel.NewHealth(channel.HealthConfig{
					Host:   c.cfg.Channels.Health.Host,
					Port:   c.cfg.Channels.Health.Port,
					Status: statusSnapshot(c),
					Logger: logger,
				})
				go func() {
					if err := health.Start(ctx, c.bus); err != nil {
						logger.Error("health server failed", "err", err)
					}
				}()
			}

			logger.Info("valet started", "version", version, "use_ai", c.cfg.Routing.UseAI)
			return tg.Start(ctx, c.bus)
		},
	}
}

func statusSnapshot(c *core) func() channel.StatusSnapshot {
	return func() channel.StatusSnapshot {
		var ids []string
		for _, sk := range c.registry.ListEnabled() {
			ids = append(ids, sk.ID)
		}

		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		pending, err := c.store.ListPendingApprovals(ctx)
		if err != nil {
			logger.Warn("pending approvals lookup failed", "err", err)
		}

		providerName := ""
		if c.provider != nil {
			providerName = c.provider.Name()
		}

		return channel.StatusSnapshot{
			Version:      version,
			Provider:     providerName,
			UseAI:        c.cfg.Routing.UseAI,
			Skills:       ids,
			PendingCount: len(pending),
		}
	}
}

func skillsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "skills",
		Short: "List registered skills",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()

			c, err := buildCore(ctx)
			if err != nil {
				return err
			}
			defer c.store.Close()

			fmt.Printf("%-12s %-22s %-10s %s\n", "ID", "NAME", "AUTONOMY", "TRIGGERS")
			for _, sk := range c.registry.ListEnabled() {
				triggers := "(fallback)"
				if len(sk.TriggerPatterns) > 0 {
					triggers = fmt.Sprintf("%v", sk.TriggerPatterns)
				}
				fmt.Printf("%-12s %-22s %-10s %s\n", sk.ID, sk.Name, string(sk.AutonomyLevel), triggers)
			}
			return nil
		},
	}
}
