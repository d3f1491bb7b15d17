package main

import (
	"context"
	"log"
	"net/http"

	"github.com/hydrosafe/coa-dashboard/internal/backend"
	"github.com/hydrosafe/coa-dashboard/internal/ingest"
	"github.com/hydrosafe/coa-dashboard/services/importer/internal/config"
	"github.com/hydrosafe/coa-dashboard/services/importer/internal/source"
)

func main() {
	if err := run(); err != nil {
		log.Fatalf("importer failed: %v", err)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(context.Background(), cfg.ImportTimeout)
	defer cancel()

	client := &http.Client{Timeout: cfg.ImportTimeout}
	text, err := source.Read(ctx, client, cfg.ImportFile)
	if err != nil {
		return err
	}
	log.Printf("read %d bytes from %s (dry-run=%v)", len(text), cfg.ImportFile, cfg.DryRun)

	store, closeStore, err := backend.Open(ctx, cfg.DBDriver, cfg.DSN(), cfg.AutoMigrate)
	if err != nil {
		return err
	}
	defer closeStore()

	return importFile(ctx, ingest.NewService(store, nil), cfg, string(text))
}
