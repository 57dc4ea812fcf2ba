package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"sort"
	"time"

	"clawgate/internal/config"
	"clawgate/internal/memory"
	"clawgate/internal/provider"
	"clawgate/internal/tool"

	"github.com/spf13/cobra"
)

const statusProbeTimeout = 5 * time.Second

// checkReport tallies pass/warn/fail lines for the status command.
type checkReport struct {
	out                    io.Writer
	passed, warned, failed int
}

func (r *checkReport) pass(check, detail string) {
	fmt.Fprintf(r.out, "  [PASS] %-20s %s\n", check, detail)
	r.passed++
}

func (r *checkReport) warn(check, detail string) {
	fmt.Fprintf(r.out, "  [WARN] %-20s %s\n", check, detail)
	r.warned++
}

func (r *checkReport) fail(check, detail string) {
	fmt.Fprintf(r.out, "  [FAIL] %-20s %s\n", check, detail)
	r.failed++
}

func statusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Check config, workspace, database, providers, and sandbox",
		RunE: func(cmd *cobra.Command, args []string) error {
			r := &checkReport{out: cmd.OutOrStdout()}
			fmt.Fprintf(r.out, "clawgate v%s\n\n", version)

			cfgPath := resolveConfigPath()
			cfg, err := config.Load(cfgPath)
			if err != nil {
				r.fail("Config", err.Error())
				fmt.Fprintf(r.out, "\nRun 'clawgate init' to create a default configuration.\n")
				return fmt.Errorf("config not usable")
			}
			r.pass("Config", cfgPath)

			ctx := cmd.Context()
			if ctx == nil {
				ctx = context.Background()
			}
			runChecks(ctx, cfg, r)

			fmt.Fprintf(r.out, "\nResults: %d passed, %d warnings, %d failed\n", r.passed, r.warned, r.failed)
			if r.failed > 0 {
				return fmt.Errorf("%d check(s) failed", r.failed)
			}
			return nil
		},
	}
}

func runChecks(ctx context.Context, cfg *config.Config, r *checkReport) {
	checkWorkspace(cfg, r)
	checkDatabase(ctx, cfg, r)
	checkProviders(ctx, cfg, r)
	checkExecutor(ctx, cfg, r)
	checkApproval(cfg, r)
}

func checkWorkspace(cfg *config.Config, r *checkReport) {
	info, err := os.Stat(cfg.General.Workspace)
	switch {
	case err != nil:
		r.fail("Workspace", fmt.Sprintf("not found: %s", cfg.General.Workspace))
	case !info.IsDir():
		r.fail("Workspace", fmt.Sprintf("not a directory: %s", cfg.General.Workspace))
	default:
		mode := "symlink-checked"
		if cfg.Security.WorkspaceOnly {
			mode = "workspace-only"
		}
		r.pass("Workspace", fmt.Sprintf("%s (%s)", cfg.General.Workspace, mode))
	}
}

func checkDatabase(ctx context.Context, cfg *config.Config, r *checkReport) {
	store, err := memory.NewSQLiteStore(memory.Config{DBPath: cfg.Memory.DBPath, Logger: logger})
	if err != nil {
		r.fail("Database", err.Error())
		return
	}
	defer store.Close()

	ctx, cancel := context.WithTimeout(ctx, statusProbeTimeout)
	defer cancel()

	n, err := store.SessionCount(ctx)
	if err != nil {
		r.fail("Database", err.Error())
		return
	}
	r.pass("Database", fmt.Sprintf("%s (%d sessions)", cfg.Memory.DBPath, n))

	if !cfg.Security.AuditLog {
		r.warn("Audit log", "disabled")
		return
	}
	recent, err := store.RecentAudit(ctx, 5)
	if err != nil {
		r.warn("Audit log", err.Error())
		return
	}
	r.pass("Audit log", fmt.Sprintf("%d recent entries", len(recent)))
	for _, e := range recent {
		fmt.Fprintf(r.out, "         %-18s %-12s %s\n", e.Action, e.ToolName, e.Result)
	}
}

func checkProviders(ctx context.Context, cfg *config.Config, r *checkReport) {
	factory := provider.NewFactory(cfg, logger)

	names := make([]string, 0, len(cfg.Providers))
	for name, p := range cfg.Providers {
		if p.Enabled {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	if len(names) == 0 {
		r.fail("Providers", "no providers enabled")
		return
	}

	for _, name := range names {
		check := "Provider: " + name
		p, err := factory.Get(name)
		if err != nil {
			r.fail(check, err.Error())
			continue
		}
		hc, ok := p.(provider.HealthChecker)
		if !ok {
			r.pass(check, "configured")
			continue
		}
		pctx, cancel := context.WithTimeout(ctx, statusProbeTimeout)
		err = hc.Healthy(pctx)
		cancel()
		if err != nil {
			r.warn(check, err.Error())
		} else {
			r.pass(check, "reachable")
		}
	}
}

func checkExecutor(ctx context.Context, cfg *config.Config, r *checkReport) {
	shell := cfg.Tools.Shell
	exec, err := tool.NewExecutor(shell.Executor,
		tool.NativeConfig{Logger: logger},
		tool.DockerConfig{Image: cfg.Tools.Docker.Image, Logger: logger})
	if err != nil {
		r.fail("Executor", err.Error())
		return
	}
	ctx, cancel := context.WithTimeout(ctx, statusProbeTimeout)
	defer cancel()
	if !exec.Available(ctx) {
		r.fail("Executor", fmt.Sprintf("%s executor not available", shell.Executor))
		return
	}
	r.pass("Executor", shell.Executor)
}

func checkApproval(cfg *config.Config, r *checkReport) {
	def := cfg.Approval.Default
	switch def {
	case "auto":
		r.warn("Approval", "dangerous tools run without confirmation")
	case "remote":
		r.warn("Approval", "remote default denies channels without a chat transport")
	default:
		r.pass("Approval", def)
	}
}
