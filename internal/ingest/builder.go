package ingest

import (
	"fmt"
	"time"

	"github.com/hydrosafe/coa-dashboard/internal/cells"
	"github.com/hydrosafe/coa-dashboard/internal/csvtext"
	"github.com/hydrosafe/coa-dashboard/internal/identity"
	"github.com/hydrosafe/coa-dashboard/internal/models"
	"github.com/hydrosafe/coa-dashboard/internal/refdata"
	"github.com/hydrosafe/coa-dashboard/internal/validate"
)

// Meta describes where an upload came from.
type Meta struct {
	UploadedBy string
	FileName   string
}

// Plan is the record graph built from one file, ready to be written.
// Results[i] belongs to Readings[i].
type Plan struct {
	ClientID string
	SiteName string
	Batch    models.Batch
	Readings []models.Reading
	Results  [][]models.ReadingResult
	// Lines[i] is the file line of Readings[i].
	Lines []int
}

// ResultCount returns the number of results across all readings.
func (p *Plan) ResultCount() int {
	n := 0
	for _, rs := range p.Results {
		n += len(rs)
	}
	return n
}

// Build turns a validated table into a Plan. Every row problem is collected
// and returned together; nothing is written.
func Build(table csvtext.Table, ref *models.ReferenceData, meta Meta) (*Plan, error) {
	if len(table.Rows) == 0 {
		return nil, validate.New(validate.KindSchema, []string{validate.ErrNoRows})
	}
	idx := csvtext.NewHeaderIndex(table.Headers)
	first := table.Rows[0]
	const line2 = validate.FirstDataRow

	dateRaw := idx.Cell(first, validate.ColDate)
	clientName := idx.Cell(first, validate.ColClient)
	siteName := idx.Cell(first, validate.ColSiteName)
	paramNames := cells.SplitParameters(idx.Cell(first, validate.ColParameters))

	var problems []string
	if dateRaw == "" {
		problems = append(problems, fmt.Sprintf(`Row %d: "Date" is required in the first row`, line2))
	}
	if clientName == "" {
		problems = append(problems, fmt.Sprintf(`Row %d: "Client" is required`, line2))
	}
	if siteName == "" {
		problems = append(problems, fmt.Sprintf(`Row %d: "SiteName" is required`, line2))
	}
	if len(paramNames) == 0 {
		problems = append(problems, fmt.Sprintf(`Row %d: "Parameters" is required`, line2))
	}
	if len(problems) > 0 {
		return nil, validate.New(validate.KindRow, problems)
	}

	baseDate, err := cells.ParseDate(dateRaw, line2)
	if err != nil {
		return nil, validate.New(validate.KindParse, []string{err.Error()})
	}

	clientID, ok := ref.ClientIDs[cells.Norm(clientName)]
	if !ok {
		problems = append(problems, fmt.Sprintf(`Row %d: Unknown Client %q`, line2, clientName))
	}
	paramIDs := make([]string, 0, len(paramNames))
	for _, p := range paramNames {
		id, ok := ref.ParameterIDs[cells.Norm(p)]
		if !ok {
			problems = append(problems, fmt.Sprintf(`Row %d: Unknown parameter %q`, line2, p))
			continue
		}
		paramIDs = append(paramIDs, id)
	}
	required := refdata.RequiredColumns(ref, paramIDs)

	plan := &Plan{
		ClientID: clientID,
		SiteName: siteName,
		Readings: make([]models.Reading, 0, len(table.Rows)),
		Results:  make([][]models.ReadingResult, 0, len(table.Rows)),
		Lines:    make([]int, 0, len(table.Rows)),
	}
	for i, row := range table.Rows {
		line := i + validate.FirstDataRow
		reading, rowProblems := buildReading(idx, row, line, baseDate, ref)
		problems = append(problems, rowProblems...)
		plan.Readings = append(plan.Readings, reading)
		plan.Results = append(plan.Results, buildResults(idx, row, required))
		plan.Lines = append(plan.Lines, line)
	}
	if err := validate.New(validate.KindRow, problems); err != nil {
		return nil, err
	}

	plan.Batch = models.Batch{
		ClientID:     clientID,
		ParameterIDs: paramIDs,
		ReadingDate:  baseDate,
		Status:       models.BatchStatusPending,
		UploadedBy:   meta.UploadedBy,
		FileName:     meta.FileName,
		Snapshot:     models.Snapshot{Headers: table.Headers, Rows: table.Rows},

		Username:          idx.Cell(first, validate.ColUsername),
		ProjectManager:    idx.Cell(first, validate.ColProjectManager),
		JobReference:      idx.Cell(first, validate.ColJobReference),
		TeamLeader:        idx.Cell(first, validate.ColTeamLeader),
		ExternalClientID:  idx.Cell(first, validate.ColExternalClientID),
		ExternalClientAPI: idx.Cell(first, validate.ColExternalClientAPI),
	}
	return plan, nil
}

func buildReading(idx csvtext.HeaderIndex, row models.RawRow, line int, baseDate time.Time, ref *models.ReferenceData) (models.Reading, []string) {
	var problems []string
	r := models.Reading{
		Floor:      idx.Cell(row, validate.ColFloor),
		Area:       idx.Cell(row, validate.ColArea),
		Location:   idx.Cell(row, validate.ColLocation),
		Outlet:     idx.Cell(row, validate.ColOutlet),
		ProvidedID: idx.Cell(row, validate.ColProvidedID),
	}

	if raw := idx.Cell(row, validate.ColTime); raw == "" {
		problems = append(problems, fmt.Sprintf(`Row %d: "TimeSample" is required`, line))
	} else if offset, err := cells.ClockOffset(raw, line); err != nil {
		problems = append(problems, err.Error())
	} else {
		r.Time = baseDate.Add(offset)
	}

	if r.Location == "" {
		problems = append(problems, fmt.Sprintf(`Row %d: "Location" is required`, line))
	}
	if r.Outlet == "" {
		problems = append(problems, fmt.Sprintf(`Row %d: "OutletType" is required`, line))
	}

	var msg string
	r.FeedTypeID, msg = lookup(ref.FeedTypeIDs, idx.Cell(row, validate.ColFeedType), validate.ColFeedType, line)
	if msg != "" {
		problems = append(problems, msg)
	}
	r.FlushTypeID, msg = lookup(ref.FlushTypeIDs, idx.Cell(row, validate.ColFlushType), validate.ColFlushType, line)
	if msg != "" {
		problems = append(problems, msg)
	}

	if len(problems) == 0 {
		r.IdentityHash = identity.Hash(identity.OfReading(r))
	}
	return r, problems
}

func lookup(ids map[string]string, name, column string, line int) (string, string) {
	if name == "" {
		return "", fmt.Sprintf("Row %d: %q is required", line, column)
	}
	id, ok := ids[cells.Norm(name)]
	if !ok {
		return "", fmt.Sprintf("Row %d: Unknown %s %q", line, column, name)
	}
	return id, ""
}

func buildResults(idx csvtext.HeaderIndex, row models.RawRow, required []refdata.RequiredColumn) []models.ReadingResult {
	comment := idx.Cell(row, validate.ColComment)
	var out []models.ReadingResult
	for _, rc := range required {
		if rc.Column == "" {
			continue
		}
		value, ok := cells.ExtractNumber(idx.Cell(row, rc.Column))
		if !ok {
			continue
		}
		out = append(out, models.ReadingResult{
			ResultTypeID: rc.ResultTypeID,
			Value:        value,
			Comments:     comment,
		})
	}
	return out
}
