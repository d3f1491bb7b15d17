package main

import (
	"context"
	"log"
	"os/signal"
	"syscall"

	"github.com/hydrosafe/coa-dashboard/internal/backend"
	"github.com/hydrosafe/coa-dashboard/internal/metrics"
	"github.com/hydrosafe/coa-dashboard/services/api/config"
	httpserver "github.com/hydrosafe/coa-dashboard/services/api/http"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config error: %v", err)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	store, closeStore, err := backend.Open(ctx, cfg.DBDriver, cfg.DSN(), cfg.AutoMigrate)
	if err != nil {
		log.Fatalf("db connection error: %v", err)
	}
	defer closeStore()

	srv := httpserver.New(cfg, store, metrics.New())
	log.Printf("REST API (%s) listening on %s", cfg.DBDriver, cfg.ListenAddr())

	if err := srv.Run(ctx); err != nil {
		log.Fatalf("server error: %v", err)
	}
}
