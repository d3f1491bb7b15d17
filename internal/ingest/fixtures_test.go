package ingest

import (
	"context"
	"strings"
	"testing"

	"github.com/hydrosafe/coa-dashboard/internal/csvtext"
	"github.com/hydrosafe/coa-dashboard/internal/db/memstore"
	"github.com/hydrosafe/coa-dashboard/internal/models"
	"github.com/hydrosafe/coa-dashboard/internal/refdata"
)

const header = "Client,SiteName,Parameters,Date,TimeSample,FeedType,FlushType,FloorLevel,Area,Location,OutletType,Temperature,LegionellaResult,Comment,ID"

func seed() memstore.Seed {
	return memstore.Seed{
		Links: []models.ParameterResultLink{
			{ParameterID: "p-leg", ResultTypeID: "rt-temp"},
			{ParameterID: "p-leg", ResultTypeID: "rt-leg"},
		},
		ResultTypes: []models.ResultType{
			{ID: "rt-temp", Column: "Temperature"},
			{ID: "rt-leg", Column: "LegionellaResult"},
		},
		Parameters: []models.NamedRef{{ID: "p-leg", Name: "Legionella"}},
		Clients:    []models.NamedRef{{ID: "c1", Name: "Acme Health"}},
		FeedTypes:  []models.NamedRef{{ID: "f1", Name: "Hot"}, {ID: "f2", Name: "Cold"}},
		FlushTypes: []models.NamedRef{{ID: "x1", Name: "Pre"}, {ID: "x2", Name: "Post"}},
	}
}

func csvText(lines ...string) string {
	return strings.Join(append([]string{header}, lines...), "\n") + "\n"
}

func loadRef(tb testing.TB, store *memstore.Store) *models.ReferenceData {
	tb.Helper()
	ref, err := refdata.Load(context.Background(), store)
	if err != nil {
		tb.Fatalf("refdata.Load: %v", err)
	}
	return ref
}

func tokenize(lines ...string) csvtext.Table {
	return csvtext.Tokenize(csvText(lines...))
}

func csvTextTable(tb testing.TB, lines ...string) csvtext.Table {
	tb.Helper()
	return csvtext.Tokenize(strings.Join(lines, "\n") + "\n")
}
