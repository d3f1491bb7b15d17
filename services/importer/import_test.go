package main

import (
	"bytes"
	"context"
	"errors"
	"log"
	"strings"
	"testing"

	"github.com/hydrosafe/coa-dashboard/internal/db/memstore"
	"github.com/hydrosafe/coa-dashboard/internal/ingest"
	"github.com/hydrosafe/coa-dashboard/internal/models"
	"github.com/hydrosafe/coa-dashboard/services/importer/internal/config"
)

const coaCSV = `Client,SiteName,Parameters,Date,TimeSample,FeedType,FlushType,FloorLevel,Area,Location,OutletType,Temperature
Acme Health,Ward A,Legionella,29-Jan-25,06:03,Hot,Pre,G,East,Basin 1,Tap,21.5
Acme Health,Ward A,Legionella,29-Jan-25,06:03,Hot,Pre,G,East,Basin 1,Tap,22.0
`

func newService() (*ingest.Service, *memstore.Store) {
	store := memstore.New(memstore.Seed{
		Links:       []models.ParameterResultLink{{ParameterID: "p-leg", ResultTypeID: "rt-temp"}},
		ResultTypes: []models.ResultType{{ID: "rt-temp", Column: "Temperature"}},
		Parameters:  []models.NamedRef{{ID: "p-leg", Name: "Legionella"}},
		Clients:     []models.NamedRef{{ID: "c1", Name: "Acme Health"}},
		FeedTypes:   []models.NamedRef{{ID: "f1", Name: "Hot"}},
		FlushTypes:  []models.NamedRef{{ID: "x1", Name: "Pre"}},
	})
	return ingest.NewService(store, nil), store
}

func captureLog(t *testing.T) *bytes.Buffer {
	t.Helper()
	var buf bytes.Buffer
	prev := log.Writer()
	log.SetOutput(&buf)
	t.Cleanup(func() { log.SetOutput(prev) })
	return &buf
}

func TestImportFileIngests(t *testing.T) {
	svc, store := newService()
	logs := captureLog(t)
	cfg := config.Config{ImportFile: "/data/in/coa.csv", UploadedBy: "importer"}

	single := strings.Join(strings.Split(coaCSV, "\n")[:2], "\n") + "\n"
	if err := importFile(context.Background(), svc, cfg, single); err != nil {
		t.Fatalf("importFile: %v", err)
	}

	batches := store.Batches()
	if len(batches) != 1 || batches[0].Batch.FileName != "coa.csv" || batches[0].Batch.UploadedBy != "importer" {
		t.Fatalf("batches = %+v", batches)
	}
	if !strings.Contains(logs.String(), "imported coa.csv as batch "+batches[0].ID) {
		t.Fatalf("log = %q", logs.String())
	}
}

func TestImportFileDryRun(t *testing.T) {
	svc, store := newService()
	logs := captureLog(t)
	cfg := config.Config{ImportFile: "coa.csv", DryRun: true}

	single := strings.Join(strings.Split(coaCSV, "\n")[:2], "\n") + "\n"
	if err := importFile(context.Background(), svc, cfg, single); err != nil {
		t.Fatalf("importFile: %v", err)
	}
	if len(store.Batches()) != 0 {
		t.Fatalf("dry run wrote a batch")
	}
	if !strings.Contains(logs.String(), "dry-run: coa.csv is valid (1 readings, 1 results)") {
		t.Fatalf("log = %q", logs.String())
	}
}

func TestImportFileReportsEveryProblem(t *testing.T) {
	svc, store := newService()
	// Duplicate detection only runs once the site exists.
	store.AddSite("c1", "Ward A")
	logs := captureLog(t)

	err := importFile(context.Background(), svc, config.Config{ImportFile: "coa.csv"}, coaCSV)
	if err == nil || !strings.Contains(err.Error(), "coa.csv rejected with 1 problem(s)") {
		t.Fatalf("err = %v", err)
	}
	if !strings.Contains(logs.String(), "coa.csv: duplicate rows within this file at lines: 2, 3") {
		t.Fatalf("log = %q", logs.String())
	}
	if len(store.Batches()) != 0 {
		t.Fatalf("rejected file wrote a batch")
	}
}

type failingPipeline struct{ err error }

func (f failingPipeline) Validate(context.Context, ingest.Upload) (*ingest.Plan, error) {
	return nil, f.err
}

func (f failingPipeline) Ingest(context.Context, ingest.Upload) (*ingest.Result, error) {
	return nil, f.err
}

func TestImportFilePassesThroughStorageErrors(t *testing.T) {
	captureLog(t)
	boom := errors.New("connection reset")
	err := importFile(context.Background(), failingPipeline{err: boom}, config.Config{ImportFile: "coa.csv"}, coaCSV)
	if !errors.Is(err, boom) {
		t.Fatalf("err = %v, want %v", err, boom)
	}
}

func TestFileName(t *testing.T) {
	tests := map[string]string{
		"/data/in/coa.csv":                        "coa.csv",
		"coa.csv":                                 "coa.csv",
		"https://files.example.com/a/coa.csv?v=2": "coa.csv",
	}
	for in, want := range tests {
		if got := fileName(in); got != want {
			t.Errorf("fileName(%q) = %q, want %q", in, got, want)
		}
	}
}
