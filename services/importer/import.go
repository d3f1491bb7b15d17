package main

import (
	"context"
	"fmt"
	"log"
	"net/url"
	"path"
	"path/filepath"

	"github.com/hydrosafe/coa-dashboard/internal/ingest"
	"github.com/hydrosafe/coa-dashboard/internal/validate"
	"github.com/hydrosafe/coa-dashboard/services/importer/internal/config"
	"github.com/hydrosafe/coa-dashboard/services/importer/internal/source"
)

// pipeline is the part of ingest.Service the importer drives.
type pipeline interface {
	Validate(ctx context.Context, up ingest.Upload) (*ingest.Plan, error)
	Ingest(ctx context.Context, up ingest.Upload) (*ingest.Result, error)
}

// importFile validates, and unless DryRun is set ingests, one file. Every
// validation problem is logged on its own line.
func importFile(ctx context.Context, p pipeline, cfg config.Config, text string) error {
	up := ingest.Upload{
		FileName:   fileName(cfg.ImportFile),
		Text:       text,
		UploadedBy: cfg.UploadedBy,
	}

	if cfg.DryRun {
		plan, err := p.Validate(ctx, up)
		if err != nil {
			return report(up.FileName, err)
		}
		log.Printf("dry-run: %s is valid (%d readings, %d results)", up.FileName, len(plan.Readings), plan.ResultCount())
		return nil
	}

	res, err := p.Ingest(ctx, up)
	if err != nil {
		return report(up.FileName, err)
	}
	log.Printf("imported %s as batch %s (%d readings, %d results)", up.FileName, res.BatchID, res.Readings, res.Results)
	return nil
}

func report(file string, err error) error {
	if !validate.IsValidation(err) {
		return err
	}
	msgs := validate.Messages(err)
	for _, m := range msgs {
		log.Printf("%s: %s", file, m)
	}
	return fmt.Errorf("%s rejected with %d problem(s)", file, len(msgs))
}

func fileName(location string) string {
	if source.IsRemote(location) {
		if u, err := url.Parse(location); err == nil {
			return path.Base(u.Path)
		}
	}
	return filepath.Base(location)
}
