// Package ingest runs an uploaded certificate of analysis through validation and
// writes it as one batch, its readings and their results in a single transaction.
package ingest

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/hydrosafe/coa-dashboard/internal/cells"
	"github.com/hydrosafe/coa-dashboard/internal/contract"
	"github.com/hydrosafe/coa-dashboard/internal/csvtext"
	"github.com/hydrosafe/coa-dashboard/internal/metrics"
	"github.com/hydrosafe/coa-dashboard/internal/models"
	"github.com/hydrosafe/coa-dashboard/internal/refdata"
	"github.com/hydrosafe/coa-dashboard/internal/validate"
)

// Upload is one file handed to the pipeline.
type Upload struct {
	FileName   string
	Text       string
	UploadedBy string
}

// Result summarizes a successful ingestion.
type Result struct {
	BatchID  string
	Readings int
	Results  int
}

// Service validates and ingests uploads against a persistence gateway.
type Service struct {
	gw      contract.Gateway
	metrics *metrics.Recorder
	locks   scopeLocks
}

// NewService returns a Service. rec may be nil.
func NewService(gw contract.Gateway, rec *metrics.Recorder) *Service {
	return &Service{gw: gw, metrics: rec}
}

// Validate runs every check Ingest runs without writing anything.
func (s *Service) Validate(ctx context.Context, up Upload) (*Plan, error) {
	return s.prepare(ctx, csvtext.Tokenize(up.Text), up)
}

// Ingest validates the upload and writes it. Validation failures are returned
// as *validate.Error; anything else is a persistence failure.
func (s *Service) Ingest(ctx context.Context, up Upload) (*Result, error) {
	start := time.Now()
	res, err := s.ingest(ctx, up)

	outcome := metrics.OutcomeOK
	switch {
	case validate.IsValidation(err):
		outcome = metrics.OutcomeInvalid
		log.Printf("ingest %q: rejected with %d problem(s)", up.FileName, len(validate.Messages(err)))
	case err != nil:
		outcome = metrics.OutcomeError
		log.Printf("ingest %q: %v", up.FileName, err)
	default:
		s.metrics.AddRows(res.Readings, res.Results)
		log.Printf("ingest %q: batch %s, %d readings, %d results in %s",
			up.FileName, res.BatchID, res.Readings, res.Results, time.Since(start).Round(time.Millisecond))
	}
	s.metrics.ObserveUpload(outcome, time.Since(start))
	return res, err
}

func (s *Service) ingest(ctx context.Context, up Upload) (*Result, error) {
	table := csvtext.Tokenize(up.Text)
	unlock := s.locks.lock(scopeKey(table))
	defer unlock()

	plan, err := s.prepare(ctx, table, up)
	if err != nil {
		return nil, err
	}

	sites := newSiteCache(s.gw)
	siteID, err := sites.resolve(ctx, plan.ClientID, plan.SiteName, up.UploadedBy)
	if err != nil {
		return nil, fmt.Errorf("resolve site %q: %w", plan.SiteName, err)
	}

	wctx, cancel := writeContext(ctx)
	defer cancel()
	batchID, err := s.write(wctx, plan, siteID)
	if err != nil {
		return nil, err
	}
	return &Result{BatchID: batchID, Readings: len(plan.Readings), Results: plan.ResultCount()}, nil
}

// defaultWriteTimeout bounds the write when the caller set no deadline.
const defaultWriteTimeout = 2 * time.Minute

// writeContext ignores the caller's cancellation once writing starts but keeps
// its deadline, so a stalled write still fails.
func writeContext(ctx context.Context) (context.Context, context.CancelFunc) {
	detached := context.WithoutCancel(ctx)
	if deadline, ok := ctx.Deadline(); ok {
		return context.WithDeadline(detached, deadline)
	}
	return context.WithTimeout(detached, defaultWriteTimeout)
}

func (s *Service) prepare(ctx context.Context, table csvtext.Table, up Upload) (*Plan, error) {
	ref, err := refdata.Load(ctx, s.gw)
	if err != nil {
		return nil, fmt.Errorf("load reference data: %w", err)
	}
	if err := validate.Schema(table, ref); err != nil {
		return nil, err
	}
	if err := validate.Duplicates(ctx, table, ref, s.gw); err != nil {
		return nil, err
	}
	return Build(table, ref, Meta{UploadedBy: up.UploadedBy, FileName: up.FileName})
}

// write inserts the batch, its readings and their results in one transaction.
// Finalized data is checked again inside the transaction so that a concurrent
// finalization cannot slip in between validation and write.
func (s *Service) write(ctx context.Context, plan *Plan, siteID string) (string, error) {
	plan.Batch.SiteID = siteID
	scope := models.Scope{ClientID: plan.ClientID, SiteID: siteID, Date: plan.Batch.ReadingDate}

	var batchID string
	err := s.gw.WithinTx(ctx, scope, func(ctx context.Context, tx contract.Tx) error {
		hashes := make([]uint64, len(plan.Readings))
		for i, r := range plan.Readings {
			hashes[i] = r.IdentityHash
		}
		conflicts, err := tx.FinalizedConflicts(ctx, scope, hashes)
		if err != nil {
			return fmt.Errorf("check finalized readings: %w", err)
		}
		if len(conflicts) > 0 {
			return validate.DuplicateError(nil, plan.linesFor(conflicts))
		}

		batchID, err = tx.InsertBatch(ctx, plan.Batch)
		if err != nil {
			return fmt.Errorf("insert batch: %w", err)
		}

		readings := make([]models.Reading, len(plan.Readings))
		for i, r := range plan.Readings {
			r.BatchID = batchID
			readings[i] = r
		}
		ids, err := tx.InsertReadings(ctx, readings)
		if err != nil {
			return fmt.Errorf("insert readings: %w", err)
		}
		if len(ids) != len(readings) {
			return fmt.Errorf("insert readings: got %d ids for %d readings", len(ids), len(readings))
		}

		var results []models.ReadingResult
		for i, rs := range plan.Results {
			for _, r := range rs {
				r.ReadingID = ids[i]
				results = append(results, r)
			}
		}
		if len(results) == 0 {
			return nil
		}
		if err := tx.InsertReadingResults(ctx, results); err != nil {
			return fmt.Errorf("insert reading results: %w", err)
		}
		return nil
	})
	if err != nil {
		if validate.IsValidation(err) {
			return "", err
		}
		return "", fmt.Errorf("write batch: %w", err)
	}
	return batchID, nil
}

func (p *Plan) linesFor(hashes []uint64) []int {
	hit := make(map[uint64]bool, len(hashes))
	for _, h := range hashes {
		hit[h] = true
	}
	var lines []int
	for i, r := range p.Readings {
		if hit[r.IdentityHash] {
			lines = append(lines, p.Lines[i])
		}
	}
	return lines
}

// scopeKey names the client, site and day a file targets, as written in its
// first data row.
func scopeKey(table csvtext.Table) string {
	if len(table.Rows) == 0 {
		return ""
	}
	idx := csvtext.NewHeaderIndex(table.Headers)
	first := table.Rows[0]
	date := idx.Cell(first, validate.ColDate)
	if d, err := cells.NormalizeDate(date, validate.FirstDataRow); err == nil {
		date = d
	}
	return cells.Norm(idx.Cell(first, validate.ColClient)) + "|" +
		idx.Cell(first, validate.ColSiteName) + "|" + date
}
