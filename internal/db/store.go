// Package db is the Postgres persistence gateway: lookup tables, sites, the
// transactional batch write and the batch read API.
package db

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/hydrosafe/coa-dashboard/internal/models"
)

//go:embed schema.sql
var schemaSQL string

// Store wraps database access helpers.
type Store struct {
	pool *pgxpool.Pool
}

// New creates a Store backed by a pgx pool.
func New(ctx context.Context, databaseURL string) (*Store, error) {
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, err
	}
	return &Store{pool: pool}, nil
}

// Close releases the pool resources.
func (s *Store) Close() {
	if s.pool != nil {
		s.pool.Close()
	}
}

// Ping checks connectivity.
func (s *Store) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// Migrate applies the embedded schema. It is idempotent.
func (s *Store) Migrate(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, schemaSQL); err != nil {
		return fmt.Errorf("apply schema: %w", err)
	}
	return nil
}

const parameterResultLinksSQL = `
    SELECT parameter_id, result_type_id
    FROM coa.parameter_result_types
    ORDER BY parameter_id, result_type_id
`

// ParameterResultLinks returns which result types each parameter requires.
func (s *Store) ParameterResultLinks(ctx context.Context) ([]models.ParameterResultLink, error) {
	rows, err := s.pool.Query(ctx, parameterResultLinksSQL)
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

const resultTypesSQL = `
    SELECT id, COALESCE(field_name, '')
    FROM coa.result_types
`

// ResultTypes returns every result type with its CSV column.
func (s *Store) ResultTypes(ctx context.Context) ([]models.ResultType, error) {
	rows, err := s.pool.Query(ctx, resultTypesSQL)
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

// Parameters returns the parameter lookup table.
func (s *Store) Parameters(ctx context.Context) ([]models.NamedRef, error) {
	return s.namedRefs(ctx, "coa.parameters")
}

// Clients returns the client lookup table.
func (s *Store) Clients(ctx context.Context) ([]models.NamedRef, error) {
	return s.namedRefs(ctx, "coa.clients")
}

// FeedTypes returns the feed type lookup table.
func (s *Store) FeedTypes(ctx context.Context) ([]models.NamedRef, error) {
	return s.namedRefs(ctx, "coa.feed_types")
}

// FlushTypes returns the flush type lookup table.
func (s *Store) FlushTypes(ctx context.Context) ([]models.NamedRef, error) {
	return s.namedRefs(ctx, "coa.flush_types")
}

func (s *Store) namedRefs(ctx context.Context, table string) ([]models.NamedRef, error) {
	rows, err := s.pool.Query(ctx, "SELECT id, name FROM "+table+" ORDER BY name")
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

const findSiteSQL = `
    SELECT id
    FROM coa.sites
    WHERE client_id = $1 AND name = $2
    LIMIT 1
`

// FindSiteID looks up an existing site without creating it.
func (s *Store) FindSiteID(ctx context.Context, clientID, siteName string) (string, bool, error) {
	var id string
	err := s.pool.QueryRow(ctx, findSiteSQL, clientID, strings.TrimSpace(siteName)).Scan(&id)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return id, true, nil
}

const upsertSiteSQL = `
    INSERT INTO coa.sites (client_id, name, created_by)
    VALUES ($1, $2, NULLIF($3, ''))
    ON CONFLICT (client_id, name) DO UPDATE
    SET name = EXCLUDED.name
    RETURNING id
`

// ResolveOrCreateSite returns the id of the named site, creating it when absent.
func (s *Store) ResolveOrCreateSite(ctx context.Context, clientID, siteName, createdBy string) (string, error) {
	var id string
	if err := s.pool.QueryRow(ctx, upsertSiteSQL, clientID, strings.TrimSpace(siteName), createdBy).Scan(&id); err != nil {
		return "", err
	}
	return id, nil
}

const finalizedReadingsSQL = `
    SELECT time, floor, area, location, outlet, feed_type_id, flush_type_id
    FROM coa.v_finalized_readings
    WHERE client_id = $1 AND site_id = $2 AND reading_date = $3
`

// FetchFinalizedReadings returns the finalized readings of a client/site/day.
func (s *Store) FetchFinalizedReadings(ctx context.Context, clientID, siteID, date string) ([]models.FinalizedReading, error) {
	day, err := time.Parse(time.DateOnly, date)
	if err != nil {
		return nil, fmt.Errorf("reading date %q: %w", date, err)
	}
	rows, err := s.pool.Query(ctx, finalizedReadingsSQL, clientID, siteID, day)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	readings := make([]models.FinalizedReading, 0)
	for rows.Next() {
		var r models.FinalizedReading
		if err := rows.Scan(&r.Time, &r.Floor, &r.Area, &r.Location, &r.Outlet, &r.FeedTypeID, &r.FlushTypeID); err != nil {
			return nil, err
		}
		readings = append(readings, r)
	}
	return readings, rows.Err()
}

func nullIfEmpty(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
