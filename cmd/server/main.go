// kissr-sync server
//
// Receives Dropbox change webhooks and copies files from registered
// domains (top-level Dropbox folders) into an S3 bucket.
//
// Features:
// - Dropbox webhook verification and change notifications
// - Per-account domain allow-list in PostgreSQL
// - Listing cursors in memory, Redis or PostgreSQL
// - Prometheus metrics & structured logging (zap)
package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/kissr/kissr-sync/internal/api"
	"github.com/kissr/kissr-sync/internal/bridge"
	"github.com/kissr/kissr-sync/internal/config"
	"github.com/kissr/kissr-sync/internal/cursor"
	"github.com/kissr/kissr-sync/internal/dropbox"
	"github.com/kissr/kissr-sync/internal/logging"
	"github.com/kissr/kissr-sync/internal/metadata/postgres"
	"github.com/kissr/kissr-sync/internal/metrics"
	"github.com/kissr/kissr-sync/internal/retry"
	s3storage "github.com/kissr/kissr-sync/internal/storage/s3"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		// Can't use structured logging yet
		panic("configuration error: " + err.Error())
	}

	if err := logging.Init(logging.Config{
		Level:  cfg.LogLevel,
		Format: cfg.LogFormat,
	}); err != nil {
		panic("logging init error: " + err.Error())
	}
	defer logging.Sync()

	logging.Info("kissr-sync starting...",
		zap.String("listen", cfg.ListenAddr),
		zap.String("metrics", cfg.MetricsAddr),
		zap.String("bucket", cfg.S3Bucket),
		zap.String("cursor_store", cfg.CursorStore))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	logging.Info("connecting to PostgreSQL...")
	store, err := postgres.New(cfg.DatabaseURL)
	if err != nil {
		logging.Fatal("database connection failed", zap.Error(err))
	}
	defer store.Close()

	if dir := findMigrationsDir(); dir != "" {
		logging.Info("running migrations...", zap.String("dir", dir))
		if err := store.Migrate(dir); err != nil {
			logging.Fatal("migration failed", zap.Error(err))
		}
	}

	bucket, err := s3storage.New(ctx, s3storage.Config{
		Endpoint:  cfg.S3Endpoint,
		Bucket:    cfg.S3Bucket,
		AccessKey: cfg.S3AccessKey,
		SecretKey: cfg.S3SecretKey,
		Region:    cfg.S3Region,
		ACL:       cfg.S3ACL,
	})
	if err != nil {
		logging.Fatal("S3 init failed", zap.Error(err))
	}

	var cursors cursor.Store
	switch cfg.CursorStore {
	case config.CursorStoreRedis:
		rs, err := cursor.NewRedisStore(ctx, cursor.RedisConfig{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})
		if err != nil {
			logging.Fatal("redis connection failed", zap.Error(err))
		}
		defer rs.Close()
		cursors = rs
	case config.CursorStorePostgres:
		cursors = cursor.NewPostgresStore(store.DB())
	default:
		cursors = cursor.NewMemoryStore()
	}

	retryCfg := retry.WithAttempts(cfg.DropboxMaxAttempts)
	newRemote := func(token string) bridge.Remote {
		return dropbox.New(dropbox.Config{
			Token:       token,
			APIURL:      cfg.DropboxAPIURL,
			ContentURL:  cfg.DropboxContentURL,
			Timeout:     cfg.DropboxTimeout,
			RetryConfig: retryCfg,
		})
	}

	b := bridge.New(store, bucket, cursors, newRemote, bridge.Options{
		ResumeFromCursor: cfg.ResumeFromCursor,
		SyncDeletes:      cfg.SyncDeletes,
	})

	srv := api.NewServer(b)

	metricsServer := &http.Server{
		Addr:    cfg.MetricsAddr,
		Handler: metrics.Handler(),
	}
	go func() {
		logging.Info("metrics server listening", zap.String("addr", cfg.MetricsAddr))
		if err := metricsServer.ListenAndServe(); err != http.ErrServerClosed {
			logging.Error("metrics server error", zap.Error(err))
		}
	}()

	httpServer := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           srv.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	// Graceful shutdown: stop accepting webhooks, then give running passes
	// a bounded time to finish.
	go func() {
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
		<-sigCh
		logging.Info("shutting down...")

		shutdownCtx, done := context.WithTimeout(context.Background(), 30*time.Second)
		defer done()
		httpServer.Shutdown(shutdownCtx)
		if err := b.WaitContext(shutdownCtx); err != nil {
			logging.Warn("sync passes still running at shutdown", zap.Error(err))
		}
		cancel()
		metricsServer.Close()
	}()

	go func() {
		ticker := time.NewTicker(15 * time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				store.UpdateConnectionMetrics()
			}
		}
	}()

	logging.Info("server listening (HTTP)", zap.String("addr", cfg.ListenAddr))
	if err := httpServer.ListenAndServe(); err != http.ErrServerClosed {
		logging.Fatal("server error", zap.Error(err))
	}
	<-ctx.Done()
}

func findMigrationsDir() string {
	candidates := []string{
		"migrations",
		"../migrations",
	}

	exe, _ := os.Executable()
	if exe != "" {
		candidates = append(candidates, filepath.Join(filepath.Dir(exe), "migrations"))
	}

	for _, dir := range candidates {
		if info, err := os.Stat(dir); err == nil && info.IsDir() {
			return dir
		}
	}
	return ""
}
