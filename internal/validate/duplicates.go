package validate

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/hydrosafe/coa-dashboard/internal/cells"
	"github.com/hydrosafe/coa-dashboard/internal/contract"
	"github.com/hydrosafe/coa-dashboard/internal/csvtext"
	"github.com/hydrosafe/coa-dashboard/internal/identity"
	"github.com/hydrosafe/coa-dashboard/internal/models"
)

// FirstDataRow is the file line of the first data row; the header is line 1.
const FirstDataRow = 2

// Duplicates rejects files whose readings repeat within the file or repeat
// readings already finalized for the same client, site and day. The check is
// skipped when the client is unknown or the site does not exist yet.
func Duplicates(ctx context.Context, table csvtext.Table, ref *models.ReferenceData, src contract.FinalizedSource) error {
	if len(table.Rows) == 0 {
		return nil
	}
	idx := csvtext.NewHeaderIndex(table.Headers)
	first := table.Rows[0]

	clientName := idx.Cell(first, ColClient)
	siteName := idx.Cell(first, ColSiteName)
	if clientName == "" || siteName == "" {
		return nil
	}
	clientID, ok := ref.ClientIDs[cells.Norm(clientName)]
	if !ok {
		return nil
	}
	siteID, ok, err := src.FindSiteID(ctx, clientID, siteName)
	if err != nil {
		return fmt.Errorf("find site %q: %w", siteName, err)
	}
	if !ok {
		return nil
	}

	baseDate, err := cells.ParseDate(idx.Cell(first, ColDate), FirstDataRow)
	if err != nil {
		return New(KindParse, []string{err.Error()})
	}

	existing, err := src.FetchFinalizedReadings(ctx, clientID, siteID, baseDate.Format(time.DateOnly))
	if err != nil {
		return fmt.Errorf("fetch finalized readings: %w", err)
	}
	dbKeys := make(map[string]struct{}, len(existing))
	for _, r := range existing {
		dbKeys[identity.OfFinalized(r)] = struct{}{}
	}

	keys, problems := RowKeys(table, idx, ref, baseDate)
	if err := New(KindParse, problems); err != nil {
		return err
	}

	counts := make(map[string]int, len(keys))
	for _, k := range keys {
		counts[k]++
	}
	var within, against []int
	for i, k := range keys {
		line := i + FirstDataRow
		if counts[k] > 1 {
			within = append(within, line)
		}
		if _, ok := dbKeys[k]; ok {
			against = append(against, line)
		}
	}
	return DuplicateError(within, against)
}

// RowKeys computes the identity key of every data row anchored on baseDate.
// A missing or malformed time is reported with the row's line number.
func RowKeys(table csvtext.Table, idx csvtext.HeaderIndex, ref *models.ReferenceData, baseDate time.Time) ([]string, []string) {
	keys := make([]string, len(table.Rows))
	var problems []string
	for i, row := range table.Rows {
		line := i + FirstDataRow
		raw := idx.Cell(row, ColTime)
		if raw == "" {
			problems = append(problems, fmt.Sprintf("Row %d: %q is required", line, ColTime))
			continue
		}
		offset, err := cells.ClockOffset(raw, line)
		if err != nil {
			problems = append(problems, err.Error())
			continue
		}
		keys[i] = identity.Key(
			baseDate.Add(offset),
			idx.Cell(row, ColFloor),
			idx.Cell(row, ColArea),
			idx.Cell(row, ColLocation),
			idx.Cell(row, ColOutlet),
			ref.FeedTypeIDs[cells.Norm(idx.Cell(row, ColFeedType))],
			ref.FlushTypeIDs[cells.Norm(idx.Cell(row, ColFlushType))],
		)
	}
	return keys, problems
}

// DuplicateError groups offending line numbers by kind, or returns nil when
// both lists are empty.
func DuplicateError(within, against []int) error {
	var msgs []string
	if len(within) > 0 {
		msgs = append(msgs, "duplicate rows within this file at lines: "+joinLines(within))
	}
	if len(against) > 0 {
		msgs = append(msgs, "duplicate rows against existing finalized data at lines: "+joinLines(against))
	}
	return New(KindDuplicate, msgs)
}

func joinLines(lines []int) string {
	sorted := append([]int(nil), lines...)
	sort.Ints(sorted)
	parts := make([]string, len(sorted))
	for i, n := range sorted {
		parts[i] = strconv.Itoa(n)
	}
	return strings.Join(parts, ", ")
}
