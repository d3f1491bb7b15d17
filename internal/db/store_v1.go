package db

import (
	"context"
	"errors"
	"strconv"
	"strings"

	"github.com/jackc/pgx/v5"

	"github.com/hydrosafe/coa-dashboard/internal/contract"
	"github.com/hydrosafe/coa-dashboard/internal/models"
)

const batchSummaryColumns = `
    SELECT b.id, b.client_id, b.site_id, s.name, b.reading_date, b.status, b.file_name, b.uploaded_by,
           b.parameter_ids, COUNT(DISTINCT r.id) AS reading_count, COUNT(rr.id) AS result_count, b.created_at
    FROM coa.batches b
    JOIN coa.sites s ON s.id = b.site_id
    LEFT JOIN coa.readings r ON r.batch_id = b.id
    LEFT JOIN coa.reading_results rr ON rr.reading_id = r.id
`

const batchSummaryGroup = " GROUP BY b.id, s.name "

func (s *Store) ListBatches(ctx context.Context, q models.BatchQuery) (*models.BatchPage, error) {
	conditions := []string{}
	args := []any{}

	if q.ClientID != "" {
		conditions = append(conditions, "b.client_id = $"+strconv.Itoa(len(args)+1))
		args = append(args, q.ClientID)
	}

	whereClause := ""
	if len(conditions) > 0 {
		whereClause = "WHERE " + strings.Join(conditions, " AND ")
	}

	countSQL := "SELECT COUNT(*) FROM coa.batches b " + whereClause
	var totalCount int
	if err := s.pool.QueryRow(ctx, countSQL, args...).Scan(&totalCount); err != nil {
		return nil, err
	}

	limitPos := len(args) + 1
	offsetPos := len(args) + 2
	args = append(args, q.Limit, q.Offset)

	query := strings.Builder{}
	query.WriteString(batchSummaryColumns)
	query.WriteString(whereClause)
	query.WriteString(batchSummaryGroup)
	query.WriteString("ORDER BY b.created_at DESC ")
	query.WriteString("LIMIT $" + strconv.Itoa(limitPos) + " OFFSET $" + strconv.Itoa(offsetPos))

	rows, err := s.pool.Query(ctx, query.String(), args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	batches := make([]models.BatchSummary, 0, q.Limit)
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

	return &models.BatchPage{Batches: batches, TotalCount: totalCount}, nil
}

func (s *Store) GetBatch(ctx context.Context, id string) (*models.BatchSummary, error) {
	row := s.pool.QueryRow(ctx, batchSummaryColumns+" WHERE b.id = $1 "+batchSummaryGroup, id)
	b, err := scanBatchSummary(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, contract.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &b, nil
}

func scanBatchSummary(row pgx.Row) (models.BatchSummary, error) {
	var b models.BatchSummary
	err := row.Scan(
		&b.ID,
		&b.ClientID,
		&b.SiteID,
		&b.SiteName,
		&b.ReadingDate,
		&b.Status,
		&b.FileName,
		&b.UploadedBy,
		&b.ParameterIDs,
		&b.ReadingCount,
		&b.ResultCount,
		&b.CreatedAt,
	)
	return b, err
}
