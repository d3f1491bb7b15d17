package http

import (
	"bytes"
	"encoding/json"
	"errors"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/hydrosafe/coa-dashboard/internal/db/memstore"
	"github.com/hydrosafe/coa-dashboard/internal/metrics"
	"github.com/hydrosafe/coa-dashboard/internal/models"
	"github.com/hydrosafe/coa-dashboard/services/api/config"
)

const coaCSV = `Client,SiteName,Parameters,Date,TimeSample,FeedType,FlushType,FloorLevel,Area,Location,OutletType,Temperature,LegionellaResult
Acme Health,Ward A,Legionella,29-Jan-25,06:03,Hot,Pre,G,East,Basin 1,Tap,21.5,<10
Acme Health,Ward A,Legionella,29-Jan-25,07:00,Hot,Pre,G,East,Basin 1,Tap,,ND
`

func testSeed() memstore.Seed {
	return memstore.Seed{
		Links: []models.ParameterResultLink{
			{ParameterID: "p-leg", ResultTypeID: "rt-temp"},
			{ParameterID: "p-leg", ResultTypeID: "rt-leg"},
		},
		ResultTypes: []models.ResultType{
			{ID: "rt-temp", Column: "Temperature"},
			{ID: "rt-leg", Column: "LegionellaResult"},
		},
		Parameters: []models.NamedRef{{ID: "p-leg", Name: "Legionella"}, {ID: "p-ecoli", Name: "E. coli"}},
		Clients:    []models.NamedRef{{ID: "c1", Name: "Acme Health"}},
		FeedTypes:  []models.NamedRef{{ID: "f1", Name: "Hot"}},
		FlushTypes: []models.NamedRef{{ID: "x1", Name: "Pre"}},
	}
}

func testConfig() config.Config {
	return config.Config{
		DBDriver:       "sqlite",
		Port:           8080,
		DefaultLimit:   20,
		MaxUploadBytes: 1 << 20,
		IngestTimeout:  5 * time.Second,
	}
}

func newTestServer(t *testing.T, cfg config.Config) (*Server, *memstore.Store) {
	t.Helper()
	gin.SetMode(gin.TestMode)
	store := memstore.New(testSeed())
	return New(cfg, store, metrics.New()), store
}

type uploadRequest struct {
	fileName    string
	contentType string
	body        string
	userHeader  string
	uploadedBy  string
}

func (u uploadRequest) build(t *testing.T, path string) *http.Request {
	t.Helper()
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	if u.fileName != "" {
		h := make(map[string][]string)
		h["Content-Disposition"] = []string{`form-data; name="file"; filename="` + u.fileName + `"`}
		ct := u.contentType
		if ct == "" {
			ct = "application/octet-stream"
		}
		h["Content-Type"] = []string{ct}
		part, err := w.CreatePart(h)
		if err != nil {
			t.Fatalf("CreatePart: %v", err)
		}
		part.Write([]byte(u.body))
	}
	if u.uploadedBy != "" {
		if err := w.WriteField("uploaded_by", u.uploadedBy); err != nil {
			t.Fatalf("WriteField: %v", err)
		}
	}
	if err := w.Close(); err != nil {
		t.Fatalf("multipart close: %v", err)
	}

	req := httptest.NewRequest(http.MethodPost, path, &buf)
	req.Header.Set("Content-Type", w.FormDataContentType())
	if u.userHeader != "" {
		req.Header.Set("X-User-ID", u.userHeader)
	}
	return req
}

func serve(s *Server, req *http.Request) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	s.Engine().ServeHTTP(rec, req)
	return rec
}

func decode(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var body map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode %q: %v", rec.Body.String(), err)
	}
	return body
}

func TestHealthz(t *testing.T) {
	s, _ := newTestServer(t, testConfig())
	rec := serve(s, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
}

func TestUploadCreatesBatch(t *testing.T) {
	s, store := newTestServer(t, testConfig())

	req := uploadRequest{fileName: "coa.csv", body: coaCSV, userHeader: "u1"}.build(t, "/api/v1/uploads")
	rec := serve(s, req)
	if rec.Code != http.StatusCreated {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
	}
	if rec.Header().Get("X-API-Version") != "v1" || rec.Header().Get("X-Request-ID") == "" {
		t.Fatalf("headers = %v", rec.Header())
	}

	body := decode(t, rec)
	data := body["data"].(map[string]any)
	meta := body["meta"].(map[string]any)
	if meta["readings"].(float64) != 2 || meta["results"].(float64) != 3 {
		t.Fatalf("meta = %v", meta)
	}

	batches := store.Batches()
	if len(batches) != 1 || batches[0].ID != data["id"] {
		t.Fatalf("batches = %+v, response id %v", batches, data["id"])
	}
	if batches[0].Batch.UploadedBy != "u1" || batches[0].Batch.FileName != "coa.csv" {
		t.Fatalf("batch = %+v", batches[0].Batch)
	}
}

func TestUploadValidationErrors(t *testing.T) {
	s, store := newTestServer(t, testConfig())

	bad := strings.Replace(coaCSV, "Basin 1,Tap,,ND", "Basin 1,,,ND", 1)
	req := uploadRequest{fileName: "coa.csv", body: bad, uploadedBy: "u1"}.build(t, "/api/v1/uploads")
	rec := serve(s, req)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
	}

	body := decode(t, rec)
	errs, ok := body["errors"].([]any)
	if !ok || len(errs) != 1 || body["error"] != errs[0] {
		t.Fatalf("body = %v", body)
	}
	if !strings.Contains(errs[0].(string), "Row 3") {
		t.Fatalf("error = %q, want the failing row named", errs[0])
	}
	if len(store.Batches()) != 0 {
		t.Fatalf("validation failure wrote a batch")
	}
}

func TestUploadRejectsBadRequests(t *testing.T) {
	tests := []struct {
		name string
		req  uploadRequest
		want int
	}{
		{"no file", uploadRequest{userHeader: "u1"}, http.StatusBadRequest},
		{"no uploader", uploadRequest{fileName: "coa.csv", body: coaCSV}, http.StatusUnauthorized},
		{"not csv", uploadRequest{fileName: "coa.xlsx", body: coaCSV, userHeader: "u1"}, http.StatusBadRequest},
		{"csv by mime", uploadRequest{fileName: "export", contentType: "text/csv", body: coaCSV, userHeader: "u1"}, http.StatusCreated},
		{"plain text mime", uploadRequest{fileName: "export.txt", contentType: "text/plain; charset=utf-8", body: coaCSV, userHeader: "u1"}, http.StatusCreated},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s, _ := newTestServer(t, testConfig())
			rec := serve(s, tt.req.build(t, "/api/v1/uploads"))
			if rec.Code != tt.want {
				t.Fatalf("status = %d, want %d, body = %s", rec.Code, tt.want, rec.Body.String())
			}
		})
	}
}

func TestUploadTooLarge(t *testing.T) {
	body := coaCSV + strings.Repeat("Acme Health,Ward A,Legionella,29-Jan-25,08:00,Hot,Pre,G,East,Basin 2,Tap,20,ND\n", 20)

	tests := []struct {
		name          string
		contentLength int64
	}{
		{"declared length", 0},
		// Chunked bodies reach the size cap while the part headers are read.
		{"unknown length", -1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := testConfig()
			cfg.MaxUploadBytes = 128
			s, store := newTestServer(t, cfg)

			req := uploadRequest{fileName: "coa.csv", body: body, userHeader: "u1"}.build(t, "/api/v1/uploads")
			if tt.contentLength != 0 {
				req.ContentLength = tt.contentLength
			}
			rec := serve(s, req)
			if rec.Code != http.StatusRequestEntityTooLarge {
				t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
			}
			if len(store.Batches()) != 0 {
				t.Fatalf("oversized upload wrote a batch")
			}
		})
	}
}

func TestUploadMissingFileUnderLimit(t *testing.T) {
	cfg := testConfig()
	cfg.MaxUploadBytes = 1 << 10
	s, _ := newTestServer(t, cfg)

	req := uploadRequest{uploadedBy: "u1"}.build(t, "/api/v1/uploads")
	req.ContentLength = -1
	rec := serve(s, req)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want %d, body = %s", rec.Code, http.StatusBadRequest, rec.Body.String())
	}
}

func TestUploadPersistenceFailure(t *testing.T) {
	s, store := newTestServer(t, testConfig())
	store.FailOn = map[string]error{"InsertReadings": errors.New("disk full")}

	rec := serve(s, uploadRequest{fileName: "coa.csv", body: coaCSV, userHeader: "u1"}.build(t, "/api/v1/uploads"))
	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
	}
	if len(store.Batches()) != 0 {
		t.Fatalf("failed write left a batch behind")
	}
}

func TestValidateUploadDoesNotWrite(t *testing.T) {
	s, store := newTestServer(t, testConfig())

	rec := serve(s, uploadRequest{fileName: "coa.csv", body: coaCSV, userHeader: "u1"}.build(t, "/api/v1/uploads/validate"))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
	}
	body := decode(t, rec)
	if body["data"].(map[string]any)["valid"] != true {
		t.Fatalf("body = %v", body)
	}
	if len(store.Batches()) != 0 || store.SiteCreates != 0 {
		t.Fatalf("validate wrote: batches=%d sites=%d", len(store.Batches()), store.SiteCreates)
	}
}

func TestBatchEndpoints(t *testing.T) {
	s, _ := newTestServer(t, testConfig())

	var ids []string
	for i := 0; i < 3; i++ {
		rec := serve(s, uploadRequest{fileName: "coa.csv", body: coaCSV, userHeader: "u1"}.build(t, "/api/v1/uploads"))
		if rec.Code != http.StatusCreated {
			t.Fatalf("upload %d status = %d, body = %s", i, rec.Code, rec.Body.String())
		}
		ids = append(ids, decode(t, rec)["data"].(map[string]any)["id"].(string))
		time.Sleep(time.Millisecond)
	}

	rec := serve(s, httptest.NewRequest(http.MethodGet, "/api/v1/batches?limit=2&client_id=c1", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("list status = %d", rec.Code)
	}
	body := decode(t, rec)
	data := body["data"].([]any)
	pagination := body["pagination"].(map[string]any)
	if len(data) != 2 || pagination["total_count"].(float64) != 3 || pagination["total_pages"].(float64) != 2 {
		t.Fatalf("list body = %v", body)
	}
	if first := data[0].(map[string]any); first["id"] != ids[2] || first["reading_count"].(float64) != 2 {
		t.Fatalf("first batch = %v, want newest %s", first, ids[2])
	}

	rec = serve(s, httptest.NewRequest(http.MethodGet, "/api/v1/batches/"+ids[0], nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("get status = %d", rec.Code)
	}
	got := decode(t, rec)["data"].(map[string]any)
	if got["site_name"] != "Ward A" || got["result_count"].(float64) != 3 {
		t.Fatalf("batch = %v", got)
	}

	rec = serve(s, httptest.NewRequest(http.MethodGet, "/api/v1/batches/missing", nil))
	if rec.Code != http.StatusNotFound {
		t.Fatalf("missing batch status = %d", rec.Code)
	}
}

func TestReferenceParameters(t *testing.T) {
	s, _ := newTestServer(t, testConfig())

	rec := serve(s, httptest.NewRequest(http.MethodGet, "/api/v1/reference/parameters", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	data := decode(t, rec)["data"].([]any)
	if len(data) != 2 {
		t.Fatalf("data = %v", data)
	}
	ecoli := data[0].(map[string]any)
	leg := data[1].(map[string]any)
	if ecoli["name"] != "E. coli" || len(ecoli["required_columns"].([]any)) != 0 {
		t.Fatalf("E. coli = %v", ecoli)
	}
	cols := leg["required_columns"].([]any)
	if len(cols) != 2 || cols[0].(map[string]any)["column"] != "Temperature" {
		t.Fatalf("Legionella columns = %v", cols)
	}
}

func TestBearerAuth(t *testing.T) {
	cfg := testConfig()
	cfg.BearerToken = "secret"
	s, _ := newTestServer(t, cfg)

	if rec := serve(s, httptest.NewRequest(http.MethodGet, "/healthz", nil)); rec.Code != http.StatusOK {
		t.Fatalf("healthz status = %d, want open", rec.Code)
	}
	if rec := serve(s, httptest.NewRequest(http.MethodGet, "/api/v1/batches", nil)); rec.Code != http.StatusUnauthorized {
		t.Fatalf("no token status = %d", rec.Code)
	}

	req := httptest.NewRequest(http.MethodGet, "/api/v1/batches", nil)
	req.Header.Set("Authorization", "Bearer wrong")
	if rec := serve(s, req); rec.Code != http.StatusUnauthorized {
		t.Fatalf("wrong token status = %d", rec.Code)
	}

	req = httptest.NewRequest(http.MethodGet, "/api/v1/batches", nil)
	req.Header.Set("Authorization", "Bearer secret")
	if rec := serve(s, req); rec.Code != http.StatusOK {
		t.Fatalf("good token status = %d", rec.Code)
	}
}

func TestMetricsEndpoint(t *testing.T) {
	s, _ := newTestServer(t, testConfig())
	serve(s, uploadRequest{fileName: "coa.csv", body: coaCSV, userHeader: "u1"}.build(t, "/api/v1/uploads"))

	rec := serve(s, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), `coa_ingest_uploads_total{outcome="ok"} 1`) {
		t.Fatalf("metrics output missing upload counter:\n%s", rec.Body.String())
	}
}

func TestRequestIDEchoed(t *testing.T) {
	s, _ := newTestServer(t, testConfig())
	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	req.Header.Set("X-Request-ID", "abc-123")
	if got := serve(s, req).Header().Get("X-Request-ID"); got != "abc-123" {
		t.Fatalf("X-Request-ID = %q", got)
	}
}
