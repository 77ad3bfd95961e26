package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/frazar/scandex/internal/api"
	"github.com/frazar/scandex/internal/config"
	"github.com/frazar/scandex/internal/db"
	"github.com/frazar/scandex/internal/executor"
	"github.com/frazar/scandex/internal/index"
	"github.com/frazar/scandex/internal/origin"
	"github.com/frazar/scandex/internal/scan"
	"github.com/frazar/scandex/internal/scheduler"
)

// Injected at build time via -ldflags; defaults to "dev".
var version = "dev"

func main() {
	configPath := flag.String("config", "config.yaml", "path to config file")
	flag.Parse()

	// ── Logging (initial — overridden below once config is loaded) ─────────
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	})))

	// ── Config ─────────────────────────────────────────────────────────────
	cfg, err := config.Load(*configPath)
	if err != nil {
		slog.Error("load config", "error", err)
		os.Exit(1)
	}

	// Re-configure logging with the level from config (default: info).
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: parseLogLevel(cfg.LogLevel),
	})))
	slog.Info("scandex starting",
		"version", version,
		"log_level", cfg.LogLevel,
		"http_addr", cfg.HTTPAddr,
		"db_path", cfg.DBPath,
		"project", cfg.ProjectName,
		"content_roots", cfg.ContentRoots)

	// ── Database ───────────────────────────────────────────────────────────
	database, err := db.Open(cfg.DBPath)
	if err != nil {
		slog.Error("open database", "error", err)
		os.Exit(1)
	}
	defer database.Close()

	if err := db.RunMigrations(database); err != nil {
		slog.Error("run migrations", "error", err)
		os.Exit(1)
	}

	historyStore := index.NewHistoryStore(database)
	// Mark any sessions that were 'running' when last process exited as failed.
	if err := historyStore.MarkStaleSessionsFailed(); err != nil {
		slog.Warn("mark stale scan sessions", "error", err)
	}

	// ── Providers from configured roots ────────────────────────────────────
	providers := buildProviders(cfg)
	if len(providers) == 0 {
		slog.Warn("no scan roots configured; full scans will find nothing")
	}

	// ── Scan engine wiring ─────────────────────────────────────────────────
	project := &scan.Project{ID: cfg.ProjectName, Name: cfg.ProjectName}

	svc := index.NewSQLiteService(database, func(ctx context.Context, p *scan.Project) ([]origin.Provider, error) {
		return providers, nil
	})
	finder, err := index.NewFinder(database, cfg.ScanWorkers.ClassifierCacheSize)
	if err != nil {
		slog.Error("create classifier", "error", err)
		os.Exit(1)
	}

	services := &scan.Services{
		Index:           svc,
		Queue:           scan.NewIndexingQueue(project, svc, cfg.SmartModeScanning),
		Classifier:      finder,
		Pusher:          scan.NewDelayedPusher(),
		StatusCache:     index.NewStatusCache(cfg.UseDependencyStatusCache),
		Diagnostics:     []scan.DiagnosticsListener{historyStore},
		ScanningWorkers: cfg.ScanWorkers.Providers,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	exec := executor.New(ctx)

	// The opening scan mirrors project open: first scan is requested and a
	// full-on-open task is queued immediately.
	scan.ScanAndIndexProjectAfterOpen(project, services, exec, cfg.ScanPaused, "project opened")

	// ── Scheduler ──────────────────────────────────────────────────────────
	sched := scheduler.New()
	if !cfg.ScanPaused && cfg.Schedule != "" {
		if err := sched.SetScanJob(cfg.Schedule, func() {
			slog.Info("scheduled scan triggered")
			exec.Submit(scan.NewFullScanner(project, services, "schedule"))
		}); err != nil {
			slog.Warn("invalid cron expression", "expr", cfg.Schedule, "error", err)
		}
	}

	retention := time.Duration(cfg.HistoryRetentionDays) * 24 * time.Hour
	if err := sched.AddJob("0 3 * * *", func() {
		cutoff := time.Now().Add(-retention)
		if err := historyStore.PruneBefore(context.Background(), cutoff); err != nil {
			slog.Error("prune scan history", "error", err)
		}
	}); err != nil {
		slog.Warn("failed to register history-prune job", "error", err)
	}

	sched.Start()
	defer sched.Stop()

	// ── HTTP server ────────────────────────────────────────────────────────
	srv := api.New(cfg.HTTPAddr, cfg, project, services, exec, historyStore, sched, version)
	if err := srv.Run(ctx); err != nil {
		slog.Error("server error", "error", err)
		os.Exit(1)
	}

	// Let in-flight scans observe cancellation, then drain async flushes so
	// queued files reach the stamp store before the DB closes.
	exec.Wait()
	services.Queue.WaitForFlushes()
	slog.Info("scandex stopped")
}

// buildProviders turns the configured root lists into one provider per kind.
func buildProviders(cfg *config.Config) []origin.Provider {
	var providers []origin.Provider
	add := func(kind origin.Kind, name string, roots []string) {
		if len(roots) == 0 {
			return
		}
		o := origin.Origin{Kind: kind, Name: name}
		providers = append(providers,
			origin.NewDirectoryProvider(o, roots, cfg.ExcludePaths, cfg.ScanWorkers.Walkers))
	}
	add(origin.KindContent, cfg.ProjectName, cfg.ContentRoots)
	add(origin.KindLibrary, "libraries", cfg.LibraryRoots)
	add(origin.KindSDK, "sdk", cfg.SDKRoots)
	return providers
}

// parseLogLevel converts a config string ("debug", "info", "warn", "error")
// to its slog.Level equivalent. Unknown values default to Info.
func parseLogLevel(s string) slog.Level {
	switch strings.ToLower(s) {
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
