package validate

import (
	"strings"
	"testing"
	"time"

	"github.com/hydrosafe/coa-dashboard/internal/csvtext"
	"github.com/hydrosafe/coa-dashboard/internal/db/memstore"
	"github.com/hydrosafe/coa-dashboard/internal/models"
)

const header = "Client,SiteName,Parameters,Date,TimeSample,FeedType,FlushType,FloorLevel,Area,Location,OutletType,Temperature,LegionellaResult"

func testRef() *models.ReferenceData {
	return &models.ReferenceData{
		ParameterResultTypes: map[string][]string{
			"p-leg":  {"rt-temp", "rt-leg"},
			"p-temp": {"rt-temp"},
			"p-bad":  {"rt-nocol"},
		},
		ResultTypeColumns: map[string]string{
			"rt-temp": "Temperature",
			"rt-leg":  "LegionellaResult",
		},
		ParameterIDs: map[string]string{"legionella": "p-leg", "temperature": "p-temp", "broken": "p-bad"},
		ClientIDs:    map[string]string{"acme health": "c1"},
		FeedTypeIDs:  map[string]string{"hot": "f1", "cold": "f2"},
		FlushTypeIDs: map[string]string{"pre": "x1", "post": "x2"},
	}
}

func table(tb testing.TB, lines ...string) csvtext.Table {
	tb.Helper()
	return csvtext.Tokenize(strings.Join(lines, "\n") + "\n")
}

func storeWithFinalized(tb testing.TB, readings ...models.Reading) *memstore.Store {
	tb.Helper()
	store := memstore.New(memstore.Seed{})
	siteID := store.AddSite("c1", "Ward A")
	store.SeedFinalized(models.Batch{
		ClientID:    "c1",
		SiteID:      siteID,
		ReadingDate: time.Date(2025, 1, 29, 0, 0, 0, 0, time.UTC),
	}, readings)
	return store
}

func wantMessages(tb testing.TB, err error, kind Kind, want ...string) {
	tb.Helper()
	verr, ok := err.(*Error)
	if !ok {
		tb.Fatalf("err = %v (%T), want *validate.Error", err, err)
	}
	if verr.Kind != kind {
		tb.Fatalf("kind = %q, want %q", verr.Kind, kind)
	}
	if len(verr.Messages) != len(want) {
		tb.Fatalf("messages = %q, want %q", verr.Messages, want)
	}
	for i := range want {
		if verr.Messages[i] != want[i] {
			tb.Fatalf("message %d = %q, want %q", i, verr.Messages[i], want[i])
		}
	}
}
