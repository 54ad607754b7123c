package main

import (
	"context"
	"errors"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"form-drop/internal/db"
	"form-drop/internal/server"
)

func main() {
	// A missing .env is normal outside local development.
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		server.Warn("dotenv_load_failed", map[string]any{"error": err.Error()})
	}

	if err := server.ValidateAllConfiguration(); err != nil {
		server.Error("invalid_configuration", nil, err)
		os.Exit(1)
	}
	server.WarnOnOptionalMissingConfig()

	cfg, closers, err := buildConfig(context.Background())
	if err != nil {
		server.Error("startup_failed", nil, err)
		os.Exit(1)
	}
	defer func() {
		for _, c := range closers {
			_ = c.Close()
		}
	}()

	srv := server.New(cfg)

	sweepCtx, stopSweep := context.WithCancel(context.Background())
	defer stopSweep()
	go server.StartTempSweeper(sweepCtx, server.SweepConfig{
		Dir:      cfg.Upload.Dir,
		Interval: getenvDuration("FD_TEMP_SWEEP_INTERVAL", time.Hour),
		MaxAge:   getenvDuration("FD_TEMP_MAX_AGE", time.Hour),
	})

	// Start the HTTP server in a background goroutine.
	// This allows us to listen for OS signals while the server runs.
	errCh := make(chan error, 1)
	go func() {
		server.Info("starting", map[string]any{
			"addr":     cfg.Addr,
			"ops_addr": cfg.OpsAddr,
			"public":   cfg.PublicDir,
			"uploads":  cfg.Upload.Dir,
			"version":  cfg.Build.Version,
			"commit":   cfg.Build.Commit,
		})
		errCh <- srv.Start()
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

	// Block until either a shutdown signal is received or the server encounters an error.
	select {
	case sig := <-sigCh:
		server.Info("shutting_down", map[string]any{"signal": sig.String()})
		// Give the server 5 seconds to finish in-flight requests and cleanup.
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(ctx); err != nil {
			server.Error("shutdown_error", nil, err)
			os.Exit(1)
		}
		server.Info("shutdown_complete", nil)
	case err := <-errCh:
		if err != nil {
			server.Error("server_error", nil, err)
			os.Exit(1)
		}
	}
}

// buildConfig turns the environment into a server.Config. Optional
// integrations are only wired when configured; the returned closers release
// them on exit.
func buildConfig(ctx context.Context) (server.Config, []io.Closer, error) {
	publicDir := getenvDefault("FD_PUBLIC_DIR", "public")
	maxFile := getenvInt64("FD_MAX_FILE_BYTES", 1<<20)

	upload := server.DefaultUploadOptions(getenvDefault("FD_UPLOAD_DIR", "uploads"))
	upload.MaxFileSize = maxFile
	upload.MaxTotalFileSize = maxFile

	cfg := server.Config{
		Addr:    getenvDefault("FD_ADDR", ":8000"),
		OpsAddr: getenvDefault("FD_OPS_ADDR", ""),
		Build: server.BuildInfo{
			Version: getenvDefault("FD_VERSION", "dev"),
			Commit:  getenvDefault("FD_COMMIT", "unknown"),
		},
		PublicDir:    publicDir,
		TemplatePath: getenvDefault("FD_TEMPLATE_PATH", filepath.Join(publicDir, "data.html")),
		MaxFormBytes: getenvInt64("FD_MAX_FORM_BYTES", server.DefaultMaxFormBytes),
		Upload:       upload,
		Guard:        server.NewUploadGuard(getenvDefault("FD_UPLOAD_TOKEN_HASH", "")),
	}

	var closers []io.Closer

	// Database audit
	if dsn := getenvDefault("DATABASE_URL", ""); dsn != "" {
		dbConn, err := server.OpenDB(ctx, dsn)
		if err != nil {
			return cfg, closers, err
		}
		closers = append(closers, dbConn)

		server.Info("running_migrations", nil)
		if err := db.RunMigrations(dbConn); err != nil {
			return cfg, closers, err
		}
		server.Info("migrations_complete", nil)

		audit := server.NewAuditStore(dbConn)
		cfg.Hooks = append(cfg.Hooks, guarded(audit))
		cfg.Checks = append(cfg.Checks, audit)
		cfg.Audit = audit
	}

	// Bucket mirror
	if mcfg, ok := server.MinioConfigFromEnv(); ok {
		mirror, err := server.NewMinioMirror(ctx, mcfg)
		if err != nil {
			return cfg, closers, err
		}
		cfg.Hooks = append(cfg.Hooks, guarded(mirror))
		cfg.Checks = append(cfg.Checks, mirror)
	}

	// Events
	if broker := getenvDefault("KAFKA_BROKER_ADDRESS", ""); broker != "" {
		kp := server.NewKafkaPublisher(broker, getenvDefault("FD_KAFKA_TOPIC", "uploads"))
		cfg.Hooks = append(cfg.Hooks, guarded(kp))
		closers = append(closers, kp)
	}
	if url := getenvDefault("FD_WEBHOOK_URL", ""); url != "" {
		wp := server.NewWebhookPublisher(url, getenvDefault("FD_WEBHOOK_SECRET", ""))
		cfg.Hooks = append(cfg.Hooks, wp)
		closers = append(closers, wp)
	}

	return cfg, closers, nil
}

// Hooks that talk to a remote service trip after this many consecutive
// failures and stay skipped for hookCooldown.
const (
	hookMaxFailures = 5
	hookCooldown    = 30 * time.Second
)

func guarded(h server.StoredFileHook) server.StoredFileHook {
	return server.WithCircuitBreaker(h, hookMaxFailures, hookCooldown)
}

// getenvDefault reads an environment variable and returns a default value if not set.
func getenvDefault(key, def string) string {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	return v
}

// getenvInt64 is getenvDefault for positive integers. Invalid values fall
// back to def; ValidateAllConfiguration has already rejected them at startup.
func getenvInt64(key string, def int64) int64 {
	n, err := strconv.ParseInt(os.Getenv(key), 10, 64)
	if err != nil || n <= 0 {
		return def
	}
	return n
}

// getenvDuration parses a Go duration such as "90s" or "1h". "0" disables
// whatever the value drives.
func getenvDuration(key string, def time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil || d < 0 {
		return def
	}
	return d
}
