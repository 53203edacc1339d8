// seed-tool registers a Dropbox account and its sync domains in PostgreSQL.
//
// Accounts are normally provisioned outside this service; the tool exists
// for local development and test environments:
//
//	seed-tool -account dbid:AAH4f99 -token sl.xxx -domains siteA,siteB
package main

import (
	"context"
	"flag"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/kissr/kissr-sync/internal/config"
	"github.com/kissr/kissr-sync/internal/logging"
	"github.com/kissr/kissr-sync/internal/metadata/postgres"
)

func main() {
	account := flag.String("account", "", "Dropbox account id (dbid:...)")
	token := flag.String("token", "", "Dropbox access token")
	domains := flag.String("domains", "", "Comma-separated top-level folders to sync")
	migrationsDir := flag.String("migrations", "migrations", "Migrations directory")
	flag.Parse()

	if err := logging.Init(logging.Config{Level: "info", Format: "console"}); err != nil {
		panic("logging init: " + err.Error())
	}
	defer logging.Sync()

	if *account == "" || *token == "" {
		logging.Fatal("-account and -token are required")
	}

	cfg, err := config.Load()
	if err != nil {
		logging.Fatal("config error", zap.Error(err))
	}

	ctx := context.Background()

	// Connect to PostgreSQL with retries
	var store *postgres.Store
	for i := 0; i < 15; i++ {
		store, err = postgres.New(cfg.DatabaseURL)
		if err == nil {
			break
		}
		logging.Info("waiting for PostgreSQL",
			zap.Int("attempt", i+1),
			zap.Error(err))
		time.Sleep(2 * time.Second)
	}
	if err != nil {
		logging.Fatal("failed to connect to PostgreSQL", zap.Error(err))
	}
	defer store.Close()

	logging.Info("running migrations...", zap.String("dir", *migrationsDir))
	if err := store.Migrate(*migrationsDir); err != nil {
		logging.Fatal("migration failed", zap.Error(err))
	}

	userID, err := store.UpsertAccount(ctx, *account, *token)
	if err != nil {
		logging.Fatal("upsert account failed", zap.Error(err))
	}
	logging.Info("account ready", zap.String("account", *account), zap.Int("user_id", userID))

	for _, d := range strings.Split(*domains, ",") {
		d = strings.TrimSpace(d)
		if d == "" {
			continue
		}
		if err := store.RegisterSite(ctx, userID, d); err != nil {
			logging.Fatal("register site failed", zap.String("domain", d), zap.Error(err))
		}
		logging.Info("site registered", zap.String("domain", d))
	}
}
