package db

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/hydrosafe/coa-dashboard/internal/contract"
	"github.com/hydrosafe/coa-dashboard/internal/identity"
	"github.com/hydrosafe/coa-dashboard/internal/models"
)

// WithinTx runs fn in one transaction holding an advisory lock on the scope, so
// concurrent writers for the same client/site/day queue behind each other.
func (s *Store) WithinTx(ctx context.Context, scope models.Scope, fn func(ctx context.Context, tx contract.Tx) error) error {
	return pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, "SELECT pg_advisory_xact_lock($1)", identity.ScopeLock(scope)); err != nil {
			return fmt.Errorf("lock scope: %w", err)
		}
		return fn(ctx, &pgTx{tx: tx})
	})
}

type pgTx struct {
	tx pgx.Tx
}

const finalizedConflictsSQL = `
    SELECT DISTINCT identity_hash
    FROM coa.v_finalized_readings
    WHERE client_id = $1 AND site_id = $2 AND reading_date = $3 AND identity_hash = ANY($4)
`

func (t *pgTx) FinalizedConflicts(ctx context.Context, scope models.Scope, hashes []uint64) ([]uint64, error) {
	if len(hashes) == 0 {
		return nil, nil
	}
	signed := make([]int64, len(hashes))
	for i, h := range hashes {
		signed[i] = int64(h)
	}

	rows, err := t.tx.Query(ctx, finalizedConflictsSQL, scope.ClientID, scope.SiteID, scope.Date, signed)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []uint64
	for rows.Next() {
		var h int64
		if err := rows.Scan(&h); err != nil {
			return nil, err
		}
		out = append(out, uint64(h))
	}
	return out, rows.Err()
}

const insertBatchSQL = `
    INSERT INTO coa.batches (
        client_id, site_id, parameter_ids, reading_date, status, uploaded_by, file_name, raw_data,
        username, project_manager, job_reference, team_leader, external_client_id, external_client_api
    )
    VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14)
    RETURNING id
`

func (t *pgTx) InsertBatch(ctx context.Context, b models.Batch) (string, error) {
	raw, err := json.Marshal(b.Snapshot)
	if err != nil {
		return "", fmt.Errorf("encode snapshot: %w", err)
	}

	var id string
	err = t.tx.QueryRow(ctx, insertBatchSQL,
		b.ClientID,
		b.SiteID,
		b.ParameterIDs,
		b.ReadingDate,
		b.Status,
		nullIfEmpty(b.UploadedBy),
		nullIfEmpty(b.FileName),
		raw,
		nullIfEmpty(b.Username),
		nullIfEmpty(b.ProjectManager),
		nullIfEmpty(b.JobReference),
		nullIfEmpty(b.TeamLeader),
		nullIfEmpty(b.ExternalClientID),
		nullIfEmpty(b.ExternalClientAPI),
	).Scan(&id)
	if err != nil {
		return "", describe(err)
	}
	return id, nil
}

const insertReadingSQL = `
    INSERT INTO coa.readings (batch_id, time, floor, area, location, outlet, feed_type_id, flush_type_id, provided_id, identity_hash)
    VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)
    RETURNING id
`

// InsertReadings queues one insert per reading and returns ids in input order.
func (t *pgTx) InsertReadings(ctx context.Context, readings []models.Reading) ([]string, error) {
	if len(readings) == 0 {
		return nil, nil
	}

	batch := &pgx.Batch{}
	for _, r := range readings {
		batch.Queue(insertReadingSQL,
			r.BatchID, r.Time, r.Floor, r.Area, r.Location, r.Outlet,
			r.FeedTypeID, r.FlushTypeID, nullIfEmpty(r.ProvidedID), int64(r.IdentityHash))
	}

	res := t.tx.SendBatch(ctx, batch)
	defer res.Close()

	ids := make([]string, len(readings))
	for i := range readings {
		if err := res.QueryRow().Scan(&ids[i]); err != nil {
			return nil, describe(err)
		}
	}
	return ids, nil
}

var readingResultColumns = []string{"reading_id", "result_type_id", "value", "comments"}

// InsertReadingResults bulk-loads results with COPY.
func (t *pgTx) InsertReadingResults(ctx context.Context, results []models.ReadingResult) error {
	if len(results) == 0 {
		return nil
	}
	_, err := t.tx.CopyFrom(ctx,
		pgx.Identifier{"coa", "reading_results"},
		readingResultColumns,
		pgx.CopyFromSlice(len(results), func(i int) ([]any, error) {
			r := results[i]
			return []any{r.ReadingID, r.ResultTypeID, r.Value, nullIfEmpty(r.Comments)}, nil
		}),
	)
	return describe(err)
}

// describe surfaces the server's detail for constraint violations.
func describe(err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Detail != "" {
		return fmt.Errorf("%s: %s (%s): %w", pgErr.Message, pgErr.Detail, pgErr.SQLState(), err)
	}
	return err
}
