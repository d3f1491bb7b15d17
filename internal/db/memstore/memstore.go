// Package memstore is an in-memory persistence gateway used as the fake in the
// pipeline and handler tests. Transactions stage writes and publish them on
// commit only.
package memstore

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/hydrosafe/coa-dashboard/internal/contract"
	"github.com/hydrosafe/coa-dashboard/internal/identity"
	"github.com/hydrosafe/coa-dashboard/internal/models"
)

// Seed holds the lookup tables a Store starts with.
type Seed struct {
	Links       []models.ParameterResultLink
	ResultTypes []models.ResultType
	Parameters  []models.NamedRef
	Clients     []models.NamedRef
	FeedTypes   []models.NamedRef
	FlushTypes  []models.NamedRef
}

// StoredBatch is a committed batch with its id and status.
type StoredBatch struct {
	ID        string
	Batch     models.Batch
	CreatedAt time.Time
}

// StoredReading is a committed reading with its id.
type StoredReading struct {
	ID      string
	Reading models.Reading
}

type site struct {
	id        string
	clientID  string
	name      string
	createdBy string
}

// Store implements contract.Gateway and contract.BatchReader in memory.
type Store struct {
	seed Seed

	mu       sync.RWMutex
	txMu     sync.Mutex
	sites    []site
	batches  []StoredBatch
	readings []StoredReading
	results  []models.ReadingResult

	// FailOn makes the named operation ("InsertBatch", "InsertReadings",
	// "InsertReadingResults", "ResolveOrCreateSite", "Clients", ...) fail.
	FailOn map[string]error

	// SiteCreates counts calls that created a site.
	SiteCreates int
}

// New returns an empty store seeded with lookup tables.
func New(seed Seed) *Store {
	return &Store{seed: seed}
}

func (s *Store) fail(op string) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err, ok := s.FailOn[op]; ok {
		return err
	}
	return nil
}

// ParameterResultLinks implements contract.ReferenceSource.
func (s *Store) ParameterResultLinks(ctx context.Context) ([]models.ParameterResultLink, error) {
	if err := s.fail("ParameterResultLinks"); err != nil {
		return nil, err
	}
	return append([]models.ParameterResultLink(nil), s.seed.Links...), nil
}

// ResultTypes implements contract.ReferenceSource.
func (s *Store) ResultTypes(ctx context.Context) ([]models.ResultType, error) {
	if err := s.fail("ResultTypes"); err != nil {
		return nil, err
	}
	return append([]models.ResultType(nil), s.seed.ResultTypes...), nil
}

// Parameters implements contract.ReferenceSource.
func (s *Store) Parameters(ctx context.Context) ([]models.NamedRef, error) {
	return s.refs("Parameters", s.seed.Parameters)
}

// Clients implements contract.ReferenceSource.
func (s *Store) Clients(ctx context.Context) ([]models.NamedRef, error) {
	return s.refs("Clients", s.seed.Clients)
}

// FeedTypes implements contract.ReferenceSource.
func (s *Store) FeedTypes(ctx context.Context) ([]models.NamedRef, error) {
	return s.refs("FeedTypes", s.seed.FeedTypes)
}

// FlushTypes implements contract.ReferenceSource.
func (s *Store) FlushTypes(ctx context.Context) ([]models.NamedRef, error) {
	return s.refs("FlushTypes", s.seed.FlushTypes)
}

func (s *Store) refs(op string, in []models.NamedRef) ([]models.NamedRef, error) {
	if err := s.fail(op); err != nil {
		return nil, err
	}
	return append([]models.NamedRef(nil), in...), nil
}

// AddSite registers an existing site and returns its id.
func (s *Store) AddSite(clientID, name string) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	id := uuid.NewString()
	s.sites = append(s.sites, site{id: id, clientID: clientID, name: strings.TrimSpace(name)})
	return id
}

// FindSiteID implements contract.FinalizedSource.
func (s *Store) FindSiteID(ctx context.Context, clientID, siteName string) (string, bool, error) {
	if err := s.fail("FindSiteID"); err != nil {
		return "", false, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	id, ok := s.lookupSite(clientID, siteName)
	return id, ok, nil
}

func (s *Store) lookupSite(clientID, siteName string) (string, bool) {
	name := strings.TrimSpace(siteName)
	for _, st := range s.sites {
		if st.clientID == clientID && st.name == name {
			return st.id, true
		}
	}
	return "", false
}

// ResolveOrCreateSite implements contract.Gateway.
func (s *Store) ResolveOrCreateSite(ctx context.Context, clientID, siteName, createdBy string) (string, error) {
	if err := s.fail("ResolveOrCreateSite"); err != nil {
		return "", err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if id, ok := s.lookupSite(clientID, siteName); ok {
		return id, nil
	}
	id := uuid.NewString()
	s.sites = append(s.sites, site{id: id, clientID: clientID, name: strings.TrimSpace(siteName), createdBy: createdBy})
	s.SiteCreates++
	return id, nil
}

// FetchFinalizedReadings implements contract.FinalizedSource.
func (s *Store) FetchFinalizedReadings(ctx context.Context, clientID, siteID, date string) ([]models.FinalizedReading, error) {
	if err := s.fail("FetchFinalizedReadings"); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []models.FinalizedReading
	for _, r := range s.finalizedLocked(clientID, siteID, date) {
		out = append(out, models.FinalizedReading{
			Time:        r.Time,
			Floor:       r.Floor,
			Area:        r.Area,
			Location:    r.Location,
			Outlet:      r.Outlet,
			FeedTypeID:  r.FeedTypeID,
			FlushTypeID: r.FlushTypeID,
		})
	}
	return out, nil
}

func (s *Store) finalizedLocked(clientID, siteID, date string) []models.Reading {
	final := make(map[string]bool)
	for _, b := range s.batches {
		if b.Batch.Status == models.BatchStatusFinalized &&
			b.Batch.ClientID == clientID &&
			b.Batch.SiteID == siteID &&
			b.Batch.ReadingDate.Format(time.DateOnly) == date {
			final[b.ID] = true
		}
	}
	var out []models.Reading
	for _, r := range s.readings {
		if final[r.Reading.BatchID] {
			out = append(out, r.Reading)
		}
	}
	return out
}

// SeedFinalized stores a finalized batch with the given readings, as a previous
// completed ingestion would have left them.
func (s *Store) SeedFinalized(b models.Batch, readings []models.Reading) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	b.Status = models.BatchStatusFinalized
	id := uuid.NewString()
	s.batches = append(s.batches, StoredBatch{ID: id, Batch: b, CreatedAt: time.Now().UTC()})
	for _, r := range readings {
		r.BatchID = id
		r.IdentityHash = identity.Hash(identity.OfReading(r))
		s.readings = append(s.readings, StoredReading{ID: uuid.NewString(), Reading: r})
	}
	return id
}

// WithinTx implements contract.Gateway. Transactions run one at a time.
func (s *Store) WithinTx(ctx context.Context, scope models.Scope, fn func(ctx context.Context, tx contract.Tx) error) error {
	s.txMu.Lock()
	defer s.txMu.Unlock()

	tx := &memTx{store: s}
	if err := fn(ctx, tx); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.batches = append(s.batches, tx.batches...)
	s.readings = append(s.readings, tx.readings...)
	s.results = append(s.results, tx.results...)
	return nil
}

type memTx struct {
	store    *Store
	batches  []StoredBatch
	readings []StoredReading
	results  []models.ReadingResult
}

func (t *memTx) FinalizedConflicts(ctx context.Context, scope models.Scope, hashes []uint64) ([]uint64, error) {
	t.store.mu.RLock()
	defer t.store.mu.RUnlock()
	existing := make(map[uint64]bool)
	for _, r := range t.store.finalizedLocked(scope.ClientID, scope.SiteID, scope.Date.Format(time.DateOnly)) {
		existing[r.IdentityHash] = true
	}
	var out []uint64
	for _, h := range hashes {
		if existing[h] {
			out = append(out, h)
		}
	}
	return out, nil
}

func (t *memTx) InsertBatch(ctx context.Context, b models.Batch) (string, error) {
	if err := t.store.fail("InsertBatch"); err != nil {
		return "", err
	}
	id := uuid.NewString()
	t.batches = append(t.batches, StoredBatch{ID: id, Batch: b, CreatedAt: time.Now().UTC()})
	return id, nil
}

func (t *memTx) InsertReadings(ctx context.Context, readings []models.Reading) ([]string, error) {
	if err := t.store.fail("InsertReadings"); err != nil {
		return nil, err
	}
	ids := make([]string, len(readings))
	for i, r := range readings {
		if r.BatchID == "" {
			return nil, fmt.Errorf("reading %d has no batch id", i)
		}
		ids[i] = uuid.NewString()
		t.readings = append(t.readings, StoredReading{ID: ids[i], Reading: r})
	}
	return ids, nil
}

func (t *memTx) InsertReadingResults(ctx context.Context, results []models.ReadingResult) error {
	if err := t.store.fail("InsertReadingResults"); err != nil {
		return err
	}
	for i, r := range results {
		if r.ReadingID == "" {
			return fmt.Errorf("result %d has no reading id", i)
		}
	}
	t.results = append(t.results, results...)
	return nil
}

// Batches returns the committed batches.
func (s *Store) Batches() []StoredBatch {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]StoredBatch(nil), s.batches...)
}

// Readings returns the committed readings.
func (s *Store) Readings() []StoredReading {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]StoredReading(nil), s.readings...)
}

// Results returns the committed reading results.
func (s *Store) Results() []models.ReadingResult {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]models.ReadingResult(nil), s.results...)
}

// ListBatches implements contract.BatchReader, newest first.
func (s *Store) ListBatches(ctx context.Context, q models.BatchQuery) (*models.BatchPage, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	all := make([]models.BatchSummary, 0, len(s.batches))
	for _, b := range s.batches {
		if q.ClientID != "" && b.Batch.ClientID != q.ClientID {
			continue
		}
		all = append(all, s.summaryLocked(b))
	}
	sort.SliceStable(all, func(i, j int) bool { return all[i].CreatedAt.After(all[j].CreatedAt) })

	page := &models.BatchPage{TotalCount: len(all), Batches: []models.BatchSummary{}}
	if q.Offset < len(all) {
		end := len(all)
		if q.Limit > 0 && q.Offset+q.Limit < end {
			end = q.Offset + q.Limit
		}
		page.Batches = all[q.Offset:end]
	}
	return page, nil
}

// GetBatch implements contract.BatchReader.
func (s *Store) GetBatch(ctx context.Context, id string) (*models.BatchSummary, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, b := range s.batches {
		if b.ID == id {
			sum := s.summaryLocked(b)
			return &sum, nil
		}
	}
	return nil, contract.ErrNotFound
}

func (s *Store) summaryLocked(b StoredBatch) models.BatchSummary {
	sum := models.BatchSummary{
		ID:           b.ID,
		ClientID:     b.Batch.ClientID,
		SiteID:       b.Batch.SiteID,
		ReadingDate:  b.Batch.ReadingDate,
		Status:       b.Batch.Status,
		ParameterIDs: b.Batch.ParameterIDs,
		CreatedAt:    b.CreatedAt,
	}
	for _, st := range s.sites {
		if st.id == b.Batch.SiteID {
			sum.SiteName = st.name
		}
	}
	if b.Batch.FileName != "" {
		name := b.Batch.FileName
		sum.FileName = &name
	}
	if b.Batch.UploadedBy != "" {
		by := b.Batch.UploadedBy
		sum.UploadedBy = &by
	}
	readingIDs := make(map[string]bool)
	for _, r := range s.readings {
		if r.Reading.BatchID == b.ID {
			sum.ReadingCount++
			readingIDs[r.ID] = true
		}
	}
	for _, r := range s.results {
		if readingIDs[r.ReadingID] {
			sum.ResultCount++
		}
	}
	return sum
}
