package models

import "time"

// RawRow maps a column header, as spelled in the uploaded file, to its trimmed cell value.
type RawRow map[string]string

// NamedRef is an id/display-name pair loaded from a lookup table.
type NamedRef struct {
	ID   string
	Name string
}

// ResultType maps a result type to the CSV column that carries its value.
type ResultType struct {
	ID     string
	Column string
}

// ParameterResultLink declares that a parameter requires a result type.
type ParameterResultLink struct {
	ParameterID  string
	ResultTypeID string
}

// ReferenceData holds the lookup tables that drive validation and ingestion.
// It is loaded once per call and never mutated afterwards.
type ReferenceData struct {
	// ParameterResultTypes lists, per parameter id, the result type ids it requires
	// in order of first appearance.
	ParameterResultTypes map[string][]string
	// ResultTypeColumns maps a result type id to its expected CSV column name.
	ResultTypeColumns map[string]string

	// Name keyed maps use normalized (cells.Norm) keys.
	ParameterIDs map[string]string
	ClientIDs    map[string]string
	FeedTypeIDs  map[string]string
	FlushTypeIDs map[string]string
}

// BatchStatusPending is the status of every freshly ingested batch.
const BatchStatusPending = "pending"

// BatchStatusFinalized marks batches whose readings take part in duplicate detection.
const BatchStatusFinalized = "finalized"

// Snapshot is the audit copy of the parsed file kept on the batch.
type Snapshot struct {
	Headers []string `json:"headers"`
	Rows    []RawRow `json:"rows"`
}

// Batch is one uploaded certificate of analysis for one client/site/day.
type Batch struct {
	ClientID     string
	SiteID       string
	ParameterIDs []string
	ReadingDate  time.Time
	Status       string
	UploadedBy   string
	FileName     string
	Snapshot     Snapshot

	Username          string
	ProjectManager    string
	JobReference      string
	TeamLeader        string
	ExternalClientID  string
	ExternalClientAPI string
}

// Reading is one sample event (one CSV data row).
type Reading struct {
	BatchID      string
	Time         time.Time
	Floor        string
	Area         string
	Location     string
	Outlet       string
	FeedTypeID   string
	FlushTypeID  string
	ProvidedID   string
	IdentityHash uint64
}

// ReadingResult is one numeric measurement attached to a reading.
type ReadingResult struct {
	ReadingID    string
	ResultTypeID string
	Value        float64
	Comments     string
}

// FinalizedReading is the subset of a committed reading used to build identity keys.
type FinalizedReading struct {
	Time        time.Time
	Floor       string
	Area        string
	Location    string
	Outlet      string
	FeedTypeID  string
	FlushTypeID string
}

// Scope identifies the client/site/day a batch belongs to.
type Scope struct {
	ClientID string
	SiteID   string
	Date     time.Time
}

// BatchSummary is the read model returned by the batch listing endpoints.
type BatchSummary struct {
	ID           string    `json:"id"`
	ClientID     string    `json:"client_id"`
	SiteID       string    `json:"site_id"`
	SiteName     string    `json:"site_name"`
	ReadingDate  time.Time `json:"reading_date"`
	Status       string    `json:"status"`
	FileName     *string   `json:"file_name,omitempty"`
	UploadedBy   *string   `json:"uploaded_by,omitempty"`
	ParameterIDs []string  `json:"parameter_ids"`
	ReadingCount int       `json:"reading_count"`
	ResultCount  int       `json:"result_count"`
	CreatedAt    time.Time `json:"created_at"`
}

// BatchPage is one page of batch summaries.
type BatchPage struct {
	Batches    []BatchSummary `json:"batches"`
	TotalCount int            `json:"total_count"`
}

// BatchQuery filters the batch listing.
type BatchQuery struct {
	ClientID string
	Limit    int
	Offset   int
}
