package validate

import (
	"fmt"

	"github.com/hydrosafe/coa-dashboard/internal/cells"
	"github.com/hydrosafe/coa-dashboard/internal/csvtext"
	"github.com/hydrosafe/coa-dashboard/internal/models"
)

// Column names of the upload format.
const (
	ColClient     = "Client"
	ColSiteName   = "SiteName"
	ColParameters = "Parameters"
	ColDate       = "Date"
	ColTime       = "TimeSample"
	ColFeedType   = "FeedType"
	ColFlushType  = "FlushType"
	ColFloor      = "FloorLevel"
	ColArea       = "Area"
	ColLocation   = "Location"
	ColOutlet     = "OutletType"

	ColComment           = "Comment"
	ColProvidedID        = "ID"
	ColUsername          = "Username"
	ColProjectManager    = "ProjectManager"
	ColJobReference      = "JobReference"
	ColTeamLeader        = "TeamLeader"
	ColExternalClientID  = "ZetaSafeClientID"
	ColExternalClientAPI = "ZetaSafeClientAPI"
)

// StructuralHeaders must be present in every file.
var StructuralHeaders = []string{
	ColClient,
	ColSiteName,
	ColParameters,
	ColDate,
	ColTime,
	ColFeedType,
	ColFlushType,
	ColFloor,
	ColArea,
	ColLocation,
	ColOutlet,
}

// ErrNoRows is the message for a file without data rows.
const ErrNoRows = "CSV contains no data rows."

// ParameterColumn is a CSV column demanded by a declared parameter.
type ParameterColumn struct {
	Parameter    string
	ResultTypeID string
	Column       string
}

// ParameterColumns resolves declared parameter names to the result columns they
// require, one entry per (parameter, result type). Unknown parameters and result
// types without a configured column are returned as problems.
func ParameterColumns(names []string, ref *models.ReferenceData) ([]ParameterColumn, []string) {
	var (
		cols     []ParameterColumn
		problems []string
	)
	for _, name := range names {
		pid, ok := ref.ParameterIDs[cells.Norm(name)]
		if !ok {
			problems = append(problems, fmt.Sprintf(`Unknown parameter %q in first row "Parameters"`, name))
			continue
		}
		for _, rid := range ref.ParameterResultTypes[pid] {
			column := ref.ResultTypeColumns[rid]
			if column == "" {
				problems = append(problems, fmt.Sprintf("Configuration error: result_type %s missing field_name", rid))
				continue
			}
			cols = append(cols, ParameterColumn{Parameter: name, ResultTypeID: rid, Column: column})
		}
	}
	return cols, problems
}

// Schema checks the structural headers and the headers required by the
// parameters declared on the first data row. Every problem is reported.
func Schema(table csvtext.Table, ref *models.ReferenceData) error {
	if len(table.Rows) == 0 {
		return New(KindSchema, []string{ErrNoRows})
	}

	idx := csvtext.NewHeaderIndex(table.Headers)
	var problems []string
	for _, h := range StructuralHeaders {
		if !idx.Has(h) {
			problems = append(problems, fmt.Sprintf("Missing required header %q", h))
		}
	}

	if !idx.Has(ColParameters) {
		return New(KindSchema, problems)
	}
	names := cells.SplitParameters(idx.Cell(table.Rows[0], ColParameters))
	if len(names) == 0 {
		problems = append(problems, `First row "Parameters" is required`)
		return New(KindSchema, problems)
	}

	cols, paramProblems := ParameterColumns(names, ref)
	problems = append(problems, paramProblems...)
	for _, c := range cols {
		if !idx.Has(c.Column) {
			problems = append(problems, fmt.Sprintf("Missing required result header %q for parameter %q", c.Column, c.Parameter))
		}
	}
	return New(KindSchema, problems)
}
