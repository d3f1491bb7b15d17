// Package contract declares the persistence gateway boundary shared by the
// ingestion pipeline and its storage implementations.
package contract

import (
	"context"
	"errors"

	"github.com/hydrosafe/coa-dashboard/internal/models"
)

// ErrNotFound is returned by read APIs when the requested record does not exist.
var ErrNotFound = errors.New("not found")

// ReferenceSource exposes the raw lookup tables.
type ReferenceSource interface {
	ParameterResultLinks(ctx context.Context) ([]models.ParameterResultLink, error)
	ResultTypes(ctx context.Context) ([]models.ResultType, error)
	Parameters(ctx context.Context) ([]models.NamedRef, error)
	Clients(ctx context.Context) ([]models.NamedRef, error)
	FeedTypes(ctx context.Context) ([]models.NamedRef, error)
	FlushTypes(ctx context.Context) ([]models.NamedRef, error)
}

// FinalizedSource is what duplicate detection reads.
type FinalizedSource interface {
	// FindSiteID looks a site up without creating it; ok is false when absent.
	FindSiteID(ctx context.Context, clientID, siteName string) (id string, ok bool, err error)
	// FetchFinalizedReadings returns finalized readings for one client/site/day.
	FetchFinalizedReadings(ctx context.Context, clientID, siteID string, date string) ([]models.FinalizedReading, error)
}

// Tx is the write side, valid only inside Gateway.WithinTx.
type Tx interface {
	// FinalizedConflicts returns which of hashes already exist as finalized
	// readings in scope.
	FinalizedConflicts(ctx context.Context, scope models.Scope, hashes []uint64) ([]uint64, error)
	InsertBatch(ctx context.Context, b models.Batch) (string, error)
	// InsertReadings returns one id per input reading, in input order.
	InsertReadings(ctx context.Context, readings []models.Reading) ([]string, error)
	InsertReadingResults(ctx context.Context, results []models.ReadingResult) error
}

// Gateway is the full persistence boundary of the ingestion pipeline.
type Gateway interface {
	ReferenceSource
	FinalizedSource
	ResolveOrCreateSite(ctx context.Context, clientID, siteName, createdBy string) (string, error)
	// WithinTx runs fn in one atomic transaction serialized per scope. Any error
	// returned by fn rolls every write back.
	WithinTx(ctx context.Context, scope models.Scope, fn func(ctx context.Context, tx Tx) error) error
}

// BatchReader is the read model behind the batch endpoints.
type BatchReader interface {
	ListBatches(ctx context.Context, q models.BatchQuery) (*models.BatchPage, error)
	GetBatch(ctx context.Context, id string) (*models.BatchSummary, error)
}
