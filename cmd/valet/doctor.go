package main

import (
	"context"
	"database/sql"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"time"

	"valet/internal/config"
	"valet/internal/provider"

	"github.com/spf13/cobra"
	_ "modernc.org/sqlite"
)

func doctorCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "doctor",
		Short: "Run diagnostic checks on your Valet installation",
		Long: `Verifies that Valet's configuration, providers, database, and skill
overlay directory are correctly set up. Reports pass/fail for each check.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfgPath := resolveConfigPath()
			fmt.Printf("Valet Doctor v%s\n", version)
			fmt.Printf("━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━\n\n")

			passed := 0
			failed := 0
			warned := 0

			// 1. Config file exists
			if _, err := os.Stat(cfgPath); err != nil {
				printFail("Config file", fmt.Sprintf("not found at %s", cfgPath))
				fmt.Printf("\nRun 'valet init' to create a default configuration.\n")
				return nil
			}
			printPass("Config file", cfgPath)
			passed++

			// 2. Config loads and validates
			cfg, err := config.Load(cfgPath)
			if err != nil {
				printFail("Config validation", err.Error())
				failed++
				fmt.Printf("\n%d passed, %d failed\n", passed, failed)
				return nil
			}
			printPass("Config validation", "valid")
			passed++

			// 3. Database writable
			dbPath := config.ExpandPath(cfg.Store.DBPath)
			if err := checkDatabase(dbPath); err != nil {
				printFail("Database", err.Error())
				failed++
			} else {
				printPass("Database", dbPath)
				passed++
			}

			// 4. Skill overlay directory
			skillsDir := config.ExpandPath(cfg.Store.SkillsDir)
			if skillsDir == "" {
				printWarn("Skills dir", "not configured (builtin skills only)")
				warned++
			} else if info, err := os.Stat(skillsDir); err != nil {
				printWarn("Skills dir", fmt.Sprintf("not found: %s", skillsDir))
				warned++
			} else if !info.IsDir() {
				printFail("Skills dir", fmt.Sprintf("not a directory: %s", skillsDir))
				failed++
			} else {
				printPass("Skills dir", skillsDir)
				passed++
			}

			// 5. Providers
			providerCount := 0
			for name, p := range cfg.Providers {
				if !p.Enabled {
					continue
				}
				providerCount++
				if p.APIKey == "" && p.APIBase == "" {
					printWarn("Provider: "+name, "enabled but no API key/base configured")
					warned++
					continue
				}
				printPass("Provider: "+name, "configured")
				passed++
			}
			if providerCount == 0 {
				printFail("Providers", "no providers enabled")
				failed++
			}

			// 6. Default provider reachable
			if providerCount > 0 {
				ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				factory := provider.NewFactory(cfg, logger)
				if p, err := factory.Get(""); err != nil {
					printWarn("Default provider", err.Error())
					warned++
				} else if err := p.Healthy(ctx); err != nil {
					printWarn("Default provider", fmt.Sprintf("%s: %v", p.Name(), err))
					warned++
				} else {
					printPass("Default provider", p.Name())
					passed++
				}
				cancel()
			}

			// 7. AI routing needs a provider
			if cfg.Routing.UseAI && providerCount == 0 {
				printFail("AI routing", "routing.useAI is on but no providers are enabled")
				failed++
			}

			// 8. Health port
			if cfg.Channels.Health.Enabled {
				port := cfg.Channels.Health.Port
				if err := checkPort(port); err != nil {
					printWarn("Health port", fmt.Sprintf("port %d may be in use: %v", port, err))
					warned++
				} else {
					printPass("Health port", fmt.Sprintf(":%d available", port))
					passed++
				}
			}

			// 9. Telegram token present when enabled
			if cfg.Channels.Telegram.Enabled {
				if cfg.Channels.Telegram.Token == "" {
					printFail("Telegram", "enabled but token is empty")
					failed++
				} else {
					printPass("Telegram", "token configured")
					passed++
				}
			}

			// Summary
			fmt.Printf("\n━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━\n")
			fmt.Printf("Results: %d passed, %d warnings, %d failed\n", passed, warned, failed)
			if failed > 0 {
				fmt.Printf("\nPlease fix the failed checks before running Valet.\n")
				return fmt.Errorf("%d check(s) failed", failed)
			}
			if warned > 0 {
				fmt.Printf("\nValet should work but consider fixing the warnings.\n")
			} else {
				fmt.Printf("\nAll checks passed! Valet is ready to run.\n")
			}
			return nil
		},
	}
}

func checkDatabase(dbPath string) error {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
		return fmt.Errorf("cannot create database directory: %w", err)
	}

	db, err := sql.Open("sqlite", dbPath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return fmt.Errorf("cannot open: %w", err)
	}
	defer db.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := db.PingContext(ctx); err != nil {
		return fmt.Errorf("cannot ping: %w", err)
	}

	// Try a write.
	if _, err := db.ExecContext(ctx, "CREATE TABLE IF NOT EXISTS _doctor_test (id INTEGER PRIMARY KEY)"); err != nil {
		return fmt.Errorf("not writable: %w", err)
	}
	db.ExecContext(ctx, "DROP TABLE IF EXISTS _doctor_test")

	return nil
}

func checkPort(port int) error {
	ln, err := net.Listen("tcp", fmt.Sprintf(":%d", port))
	if err != nil {
		return err
	}
	ln.Close()
	return nil
}

func printPass(check, detail string) {
	fmt.Printf("  [PASS] %-20s %s\n", check, detail)
}

func printFail(check, detail string) {
	fmt.Printf("  [FAIL] %-20s %s\n", check, detail)
}

func printWarn(check, detail string) {
	fmt.Printf("  [WARN] %-20s %s\n", check, detail)
}
