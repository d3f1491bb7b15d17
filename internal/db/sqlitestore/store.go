// Package sqlitestore is a SQLite persistence gateway built on database/sql and
// the pure-Go modernc driver. It serves local development, the importer and
// tests; ids are generated client-side.
package sqlitestore

import (
	"context"
	"database/sql"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/hydrosafe/coa-dashboard/internal/contract"
	"github.com/hydrosafe/coa-dashboard/internal/models"
)

//go:embed schema.sql
var schemaSQL string

const (
	timeLayout = time.RFC3339
	// Fixed width so created_at sorts lexically.
	stampLayout = "2006-01-02T15:04:05.000000000Z07:00"
)

// Store is a SQLite-backed contract.Gateway and contract.BatchReader.
type Store struct {
	db *sql.DB
}

// Open connects to the database at dsn (a file path or ":memory:").
func Open(ctx context.Context, dsn string) (*Store, error) {
	if strings.TrimSpace(dsn) == "" {
		return nil, fmt.Errorf("sqlite: DSN must not be empty")
	}
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("sqlite: open: %w", err)
	}
	// One connection: ":memory:" databases are per connection, and writers
	// serialize anyway.
	db.SetMaxOpenConns(1)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		db.Close()
		return nil, fmt.Errorf("sqlite: ping: %w", err)
	}
	if _, err := db.ExecContext(ctx, "PRAGMA foreign_keys = ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("sqlite: enable foreign keys: %w", err)
	}
	return &Store{db: db}, nil
}

// Close releases the connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// DB exposes the handle for seeding lookup tables.
func (s *Store) DB() *sql.DB {
	return s.db
}

// Migrate applies the embedded schema. It is idempotent.
func (s *Store) Migrate(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, schemaSQL); err != nil {
		return fmt.Errorf("sqlite: apply schema: %w", err)
	}
	return nil
}

// ParameterResultLinks implements contract.ReferenceSource.
func (s *Store) ParameterResultLinks(ctx context.Context) ([]models.ParameterResultLink, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT parameter_id, result_type_id FROM parameter_result_types ORDER BY parameter_id, result_type_id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	links := make([]models.ParameterResultLink, 0)
	for rows.Next() {
		var l models.ParameterResultLink
		if err := rows.Scan(&l.ParameterID, &l.ResultTypeID); err != nil {
			return nil, err
		}
		links = append(links, l)
	}
	return links, rows.Err()
}

// ResultTypes implements contract.ReferenceSource.
func (s *Store) ResultTypes(ctx context.Context) ([]models.ResultType, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id, COALESCE(field_name, '') FROM result_types`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	types := make([]models.ResultType, 0)
	for rows.Next() {
		var rt models.ResultType
		if err := rows.Scan(&rt.ID, &rt.Column); err != nil {
			return nil, err
		}
		types = append(types, rt)
	}
	return types, rows.Err()
}

func (s *Store) Parameters(ctx context.Context) ([]models.NamedRef, error) {
	return s.namedRefs(ctx, "parameters")
}

func (s *Store) Clients(ctx context.Context) ([]models.NamedRef, error) {
	return s.namedRefs(ctx, "clients")
}

func (s *Store) FeedTypes(ctx context.Context) ([]models.NamedRef, error) {
	return s.namedRefs(ctx, "feed_types")
}

func (s *Store) FlushTypes(ctx context.Context) ([]models.NamedRef, error) {
	return s.namedRefs(ctx, "flush_types")
}

func (s *Store) namedRefs(ctx context.Context, table string) ([]models.NamedRef, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT id, name FROM "+table+" ORDER BY name")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	refs := make([]models.NamedRef, 0)
	for rows.Next() {
		var r models.NamedRef
		if err := rows.Scan(&r.ID, &r.Name); err != nil {
			return nil, err
		}
		refs = append(refs, r)
	}
	return refs, rows.Err()
}

// FindSiteID implements contract.FinalizedSource.
func (s *Store) FindSiteID(ctx context.Context, clientID, siteName string) (string, bool, error) {
	var id string
	err := s.db.QueryRowContext(ctx, `SELECT id FROM sites WHERE client_id = ? AND name = ? LIMIT 1`,
		clientID, strings.TrimSpace(siteName)).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return id, true, nil
}

// ResolveOrCreateSite implements contract.Gateway.
func (s *Store) ResolveOrCreateSite(ctx context.Context, clientID, siteName, createdBy string) (string, error) {
	name := strings.TrimSpace(siteName)
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO sites (id, client_id, name, created_by, created_at) VALUES (?, ?, ?, ?, ?)
		 ON CONFLICT (client_id, name) DO NOTHING`,
		uuid.NewString(), clientID, name, nullIfEmpty(createdBy), time.Now().UTC().Format(stampLayout))
	if err != nil {
		return "", fmt.Errorf("sqlite: insert site: %w", err)
	}
	id, ok, err := s.FindSiteID(ctx, clientID, name)
	if err != nil {
		return "", err
	}
	if !ok {
		return "", fmt.Errorf("sqlite: site %q vanished after insert", name)
	}
	return id, nil
}

// FetchFinalizedReadings implements contract.FinalizedSource.
func (s *Store) FetchFinalizedReadings(ctx context.Context, clientID, siteID, date string) ([]models.FinalizedReading, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT time, floor, area, location, outlet, feed_type_id, flush_type_id
		 FROM v_finalized_readings
		 WHERE client_id = ? AND site_id = ? AND reading_date = ?`,
		clientID, siteID, date)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	readings := make([]models.FinalizedReading, 0)
	for rows.Next() {
		var (
			r  models.FinalizedReading
			ts string
		)
		if err := rows.Scan(&ts, &r.Floor, &r.Area, &r.Location, &r.Outlet, &r.FeedTypeID, &r.FlushTypeID); err != nil {
			return nil, err
		}
		if r.Time, err = time.Parse(timeLayout, ts); err != nil {
			return nil, fmt.Errorf("sqlite: reading time %q: %w", ts, err)
		}
		readings = append(readings, r)
	}
	return readings, rows.Err()
}

// WithinTx implements contract.Gateway.
func (s *Store) WithinTx(ctx context.Context, scope models.Scope, fn func(ctx context.Context, tx contract.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("sqlite: begin tx: %w", err)
	}
	if err := fn(ctx, &sqliteTx{tx: tx}); err != nil {
		_ = tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("sqlite: commit: %w", err)
	}
	return nil
}

type sqliteTx struct {
	tx *sql.Tx
}

func (t *sqliteTx) FinalizedConflicts(ctx context.Context, scope models.Scope, hashes []uint64) ([]uint64, error) {
	if len(hashes) == 0 {
		return nil, nil
	}
	rows, err := t.tx.QueryContext(ctx,
		`SELECT DISTINCT identity_hash FROM v_finalized_readings WHERE client_id = ? AND site_id = ? AND reading_date = ?`,
		scope.ClientID, scope.SiteID, scope.Date.Format(time.DateOnly))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	existing := make(map[uint64]bool)
	for rows.Next() {
		var h int64
		if err := rows.Scan(&h); err != nil {
			return nil, err
		}
		existing[uint64(h)] = true
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	var out []uint64
	for _, h := range hashes {
		if existing[h] {
			out = append(out, h)
		}
	}
	return out, nil
}

func (t *sqliteTx) InsertBatch(ctx context.Context, b models.Batch) (string, error) {
	params, err := json.Marshal(b.ParameterIDs)
	if err != nil {
		return "", fmt.Errorf("encode parameter ids: %w", err)
	}
	raw, err := json.Marshal(b.Snapshot)
	if err != nil {
		return "", fmt.Errorf("encode snapshot: %w", err)
	}

	id := uuid.NewString()
	_, err = t.tx.ExecContext(ctx,
		`INSERT INTO batches (id, client_id, site_id, parameter_ids, reading_date, status, uploaded_by, file_name, raw_data,
		     username, project_manager, job_reference, team_leader, external_client_id, external_client_api, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		id, b.ClientID, b.SiteID, string(params), b.ReadingDate.Format(time.DateOnly), b.Status,
		nullIfEmpty(b.UploadedBy), nullIfEmpty(b.FileName), string(raw),
		nullIfEmpty(b.Username), nullIfEmpty(b.ProjectManager), nullIfEmpty(b.JobReference),
		nullIfEmpty(b.TeamLeader), nullIfEmpty(b.ExternalClientID), nullIfEmpty(b.ExternalClientAPI),
		time.Now().UTC().Format(stampLayout))
	if err != nil {
		return "", fmt.Errorf("sqlite: insert batch: %w", err)
	}
	return id, nil
}

func (t *sqliteTx) InsertReadings(ctx context.Context, readings []models.Reading) ([]string, error) {
	stmt, err := t.tx.PrepareContext(ctx,
		`INSERT INTO readings (id, batch_id, time, floor, area, location, outlet, feed_type_id, flush_type_id, provided_id, identity_hash)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return nil, fmt.Errorf("sqlite: prepare reading insert: %w", err)
	}
	defer stmt.Close()

	ids := make([]string, len(readings))
	for i, r := range readings {
		ids[i] = uuid.NewString()
		if _, err := stmt.ExecContext(ctx,
			ids[i], r.BatchID, r.Time.UTC().Format(timeLayout), r.Floor, r.Area, r.Location, r.Outlet,
			r.FeedTypeID, r.FlushTypeID, nullIfEmpty(r.ProvidedID), int64(r.IdentityHash)); err != nil {
			return nil, fmt.Errorf("sqlite: insert reading %d: %w", i, err)
		}
	}
	return ids, nil
}

func (t *sqliteTx) InsertReadingResults(ctx context.Context, results []models.ReadingResult) error {
	stmt, err := t.tx.PrepareContext(ctx,
		`INSERT INTO reading_results (id, reading_id, result_type_id, value, comments) VALUES (?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("sqlite: prepare result insert: %w", err)
	}
	defer stmt.Close()

	for i, r := range results {
		if _, err := stmt.ExecContext(ctx, uuid.NewString(), r.ReadingID, r.ResultTypeID, r.Value, nullIfEmpty(r.Comments)); err != nil {
			return fmt.Errorf("sqlite: insert result %d: %w", i, err)
		}
	}
	return nil
}

const batchSummarySQL = `
    SELECT b.id, b.client_id, b.site_id, s.name, b.reading_date, b.status, b.file_name, b.uploaded_by,
           b.parameter_ids,
           (SELECT COUNT(*) FROM readings r WHERE r.batch_id = b.id),
           (SELECT COUNT(*) FROM reading_results rr JOIN readings r ON r.id = rr.reading_id WHERE r.batch_id = b.id),
           b.created_at
    FROM batches b
    JOIN sites s ON s.id = b.site_id
`

// ListBatches implements contract.BatchReader, newest first.
func (s *Store) ListBatches(ctx context.Context, q models.BatchQuery) (*models.BatchPage, error) {
	where := ""
	args := []any{}
	if q.ClientID != "" {
		where = " WHERE b.client_id = ?"
		args = append(args, q.ClientID)
	}

	var total int
	if err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM batches b"+where, args...).Scan(&total); err != nil {
		return nil, err
	}

	limit := q.Limit
	if limit <= 0 {
		limit = -1
	}
	rows, err := s.db.QueryContext(ctx, batchSummarySQL+where+" ORDER BY b.created_at DESC LIMIT ? OFFSET ?",
		append(args, limit, q.Offset)...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	batches := make([]models.BatchSummary, 0)
	for rows.Next() {
		b, err := scanBatchSummary(rows)
		if err != nil {
			return nil, err
		}
		batches = append(batches, b)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return &models.BatchPage{Batches: batches, TotalCount: total}, nil
}

// GetBatch implements contract.BatchReader.
func (s *Store) GetBatch(ctx context.Context, id string) (*models.BatchSummary, error) {
	b, err := scanBatchSummary(s.db.QueryRowContext(ctx, batchSummarySQL+" WHERE b.id = ?", id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, contract.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &b, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanBatchSummary(row scanner) (models.BatchSummary, error) {
	var (
		b                   models.BatchSummary
		readingDate, params string
		createdAt           string
	)
	if err := row.Scan(&b.ID, &b.ClientID, &b.SiteID, &b.SiteName, &readingDate, &b.Status,
		&b.FileName, &b.UploadedBy, &params, &b.ReadingCount, &b.ResultCount, &createdAt); err != nil {
		return b, err
	}

	var err error
	if b.ReadingDate, err = time.Parse(time.DateOnly, readingDate); err != nil {
		return b, fmt.Errorf("sqlite: reading date %q: %w", readingDate, err)
	}
	if b.CreatedAt, err = time.Parse(stampLayout, createdAt); err != nil {
		return b, fmt.Errorf("sqlite: created_at %q: %w", createdAt, err)
	}
	if err := json.Unmarshal([]byte(params), &b.ParameterIDs); err != nil {
		return b, fmt.Errorf("sqlite: parameter ids: %w", err)
	}
	return b, nil
}

func nullIfEmpty(s string) any {
	if s == "" {
		return nil
	}
	return s
}
