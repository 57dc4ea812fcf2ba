package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"clawgate/internal/agent"
	"clawgate/internal/approval"
	"clawgate/internal/bus"
	"clawgate/internal/channel"
	"clawgate/internal/config"
	"clawgate/internal/domain"
	"clawgate/internal/logging"
	"clawgate/internal/metrics"

	"github.com/spf13/cobra"
)

var (
	version    = "0.1.0"
	logger     = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo}))
	configPath string // overridable via --config flag
)

const (
	busSize         = 100
	shutdownTimeout = 10 * time.Second
)

func main() {
	agent.SetVersion(version)

	root := &cobra.Command{
		Use:     "clawgate",
		Short:   "clawgate: tool-using AI agent gateway",
		Long:    "clawgate runs an LLM agent with sandboxed tools behind CLI, Telegram, and Discord channels.",
		Version: version,
	}

	root.PersistentFlags().StringVarP(&configPath, "config", "c", "", "path to config.json (default: ~/.clawgate/config.json)")

	root.AddCommand(initCmd())
	root.AddCommand(chatCmd())
	root.AddCommand(gatewayCmd())
	root.AddCommand(statusCmd())
	root.AddCommand(configCmd())

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

// loadConfig reads the config and replaces the package logger with one built
// from its logging section. The returned func closes the log file.
func loadConfig(allowMissing bool) (*config.Config, func() error, error) {
	cfgPath := resolveConfigPath()
	cfg, err := config.Load(cfgPath)
	if err != nil {
		if !allowMissing {
			return nil, nil, fmt.Errorf("load config: %w", err)
		}
		logger.Warn("config not found, using defaults", "path", cfgPath, "err", err)
		cfg = config.Defaults()
	}
	l, closeLog, err := logging.New(logging.Options{Level: cfg.General.LogLevel, File: cfg.General.LogFile})
	if err != nil {
		return nil, nil, err
	}
	logger = l
	slog.SetDefault(l)
	return cfg, closeLog, nil
}

func initCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "init",
		Short: "Initialize config, workspace, and skills directory",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfgPath := resolveConfigPath()
			if _, err := os.Stat(cfgPath); err == nil {
				return fmt.Errorf("config already exists at %s", cfgPath)
			}
			cfg := config.Defaults()
			if err := config.Save(cfgPath, cfg); err != nil {
				return err
			}
			for _, dir := range []string{cfg.General.Workspace, cfg.Skills.Dir} {
				if dir == "" {
					continue
				}
				if err := os.MkdirAll(dir, 0o755); err != nil {
					return err
				}
			}
			logger.Info("initialized", "config", cfgPath, "workspace", cfg.General.Workspace, "skills", cfg.Skills.Dir)
			return nil
		},
	}
}

func chatCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "chat",
		Short: "Start interactive chat (CLI)",
		RunE:  runChat,
	}
}

func runChat(cmd *cobra.Command, args []string) error {
	cfg, closeLog, err := loadConfig(true)
	if err != nil {
		return err
	}
	defer closeLog()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cli := channel.NewCLI(channel.CLIConfig{Logger: logger})
	rt, err := buildRuntime(cfg, runtimeOptions{
		PromptIn:  cli.Input(),
		PromptOut: cli.Output(),
		Logger:    logger,
	})
	if err != nil {
		return err
	}
	defer rt.Close()

	messageBus := bus.New(busSize, logger)
	defer messageBus.Close()

	runCtx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	go func() {
		defer close(done)
		rt.orch.Run(runCtx, messageBus)
	}()

	err = cli.Start(ctx, messageBus)
	cancel()
	<-done
	return err
}

func gatewayCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "gateway",
		Short: "Start gateway (Telegram + Discord + agent)",
		Long:  "Starts all enabled chat channels and the agent. Press Ctrl+C to stop.",
		RunE:  runGateway,
	}
}

// approvalChannel is a chat channel that can also carry approval prompts.
type approvalChannel interface {
	domain.Channel
	approval.Transport
	SetApprovals(channel.ApprovalResolver)
}

func runGateway(cmd *cobra.Command, args []string) error {
	cfg, closeLog, err := loadConfig(false)
	if err != nil {
		return err
	}
	defer closeLog()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	channels := make(map[string]approvalChannel)
	if tc := cfg.Channels.Telegram; tc.Enabled && tc.Token != "" {
		channels["telegram"] = channel.NewTelegram(channel.TelegramConfig{
			Token:     tc.Token,
			AllowFrom: tc.AllowFrom,
			ParseMode: tc.ParseMode,
			Logger:    logger,
		})
	} else {
		logger.Info("telegram channel disabled")
	}
	if dc := cfg.Channels.Discord; dc.Enabled && dc.Token != "" {
		channels["discord"] = channel.NewDiscord(channel.DiscordConfig{
			Token:     dc.Token,
			GuildID:   dc.GuildID,
			AllowFrom: dc.AllowFrom,
			Logger:    logger,
		})
	} else {
		logger.Info("discord channel disabled")
	}
	if len(channels) == 0 {
		return fmt.Errorf("no chat channels enabled; enable channels.telegram or channels.discord")
	}

	transports := make(map[string]approval.Transport, len(channels))
	for name, ch := range channels {
		transports[name] = ch
	}
	rt, err := buildRuntime(cfg, runtimeOptions{
		PromptIn:   os.Stdin,
		PromptOut:  os.Stderr,
		Transports: transports,
		Logger:     logger,
	})
	if err != nil {
		return err
	}
	defer rt.Close()
	for name, r := range rt.remotes {
		channels[name].SetApprovals(r)
	}

	messageBus := bus.New(busSize, logger)

	runDone := make(chan struct{})
	go func() {
		defer close(runDone)
		rt.orch.Run(ctx, messageBus)
	}()

	for name, ch := range channels {
		go func() {
			if err := ch.Start(ctx, messageBus); err != nil {
				logger.Error("channel error", "channel", name, "err", err)
			}
		}()
		logger.Info("channel enabled", "channel", name)
	}

	logger.Info("gateway started. Press Ctrl+C to stop.")

	<-ctx.Done()
	logger.Info("shutting down gateway...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer shutdownCancel()

	done := make(chan struct{})
	go func() {
		defer close(done)
		for _, ch := range channels {
			ch.Stop()
		}
		<-runDone
		messageBus.Close()
	}()

	select {
	case <-done:
		logger.Info("shutdown complete",
			"uptime", metrics.Collector.Uptime().Round(time.Second),
			"messages", metrics.MessagesTotal.Value(),
			"tool_calls", metrics.Collector.Sum(metrics.ToolExecutions),
			"dropped_messages", messageBus.Dropped())
		for _, line := range metrics.Collector.Snapshot() {
			logger.Debug("metric", "value", line)
		}
		return nil
	case <-shutdownCtx.Done():
		logger.Warn("shutdown timed out, forcing exit")
		return fmt.Errorf("shutdown timed out")
	}
}

func configCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "View and modify configuration",
		Long:  "Get, set, and list configuration values. Changes are saved to the config file.",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "get [path]",
		Short: "Get a config value (e.g. general.defaultProvider)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(resolveConfigPath())
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			val, err := config.GetByPath(config.Sanitize(cfg), args[0])
			if err != nil {
				return err
			}
			data, _ := json.MarshalIndent(val, "", "  ")
			fmt.Fprintln(cmd.OutOrStdout(), string(data))
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "set [path] [value]",
		Short: "Set a config value (e.g. approval.default deny)",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfgPath := resolveConfigPath()
			cfg, err := config.Load(cfgPath)
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			if err := config.SetByPath(cfg, args[0], args[1]); err != nil {
				return fmt.Errorf("set value: %w", err)
			}
			if err := config.Validate(cfg); err != nil {
				return err
			}
			if err := config.Save(cfgPath, cfg); err != nil {
				return fmt.Errorf("save config: %w", err)
			}
			logger.Info("config updated", "path", args[0], "file", cfgPath)
			return nil
		},
	})

	var asJSON bool
	listCmd := &cobra.Command{
		Use:   "list",
		Short: "List all config values (secrets masked)",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(resolveConfigPath())
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			safe := config.Sanitize(cfg)
			if asJSON {
				data, _ := json.MarshalIndent(safe, "", "  ")
				fmt.Fprintln(cmd.OutOrStdout(), string(data))
				return nil
			}
			paths := config.ListPaths(safe)
			for _, p := range config.SortedPaths(paths) {
				v, _ := json.Marshal(paths[p])
				fmt.Fprintf(cmd.OutOrStdout(), "%s = %s\n", p, v)
			}
			return nil
		},
	}
	listCmd.Flags().BoolVar(&asJSON, "json", false, "print the whole config as JSON")
	cmd.AddCommand(listCmd)

	cmd.AddCommand(&cobra.Command{
		Use:   "path",
		Short: "Show config file path",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintln(cmd.OutOrStdout(), resolveConfigPath())
		},
	})

	return cmd
}
