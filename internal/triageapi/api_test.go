package triageapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/google/go-cmp/cmp"
	"github.com/linnemanlabs/go-core/log"

	"github.com/linnemanlabs/tflow/internal/authmw"
	"github.com/linnemanlabs/tflow/internal/triage"
	"github.com/linnemanlabs/tflow/internal/triage/memstore"
)

// failingStore fails every operation.
type failingStore struct{}

var errDown = errors.New("database unavailable")

func (failingStore) SaveAssessment(context.Context, *triage.Record) (string, error) {
	return "", errDown
}
func (failingStore) SaveVitals(context.Context, *triage.VitalsRecord) (string, error) {
	return "", errDown
}
func (failingStore) Get(context.Context, string) (*triage.Record, bool, error) {
	return nil, false, errDown
}
func (failingStore) ListRecent(context.Context, int) ([]*triage.Record, error) {
	return nil, errDown
}
func (failingStore) ListRecentVitals(context.Context, int) ([]*triage.VitalsRecord, error) {
	return nil, errDown
}
func (failingStore) Stats(context.Context) (*triage.Stats, error) { return nil, errDown }

func newService(store triage.Store) *triage.Service {
	engine := triage.NewEngine(nil, nil, 0, log.Nop(), triage.EngineHooks{})
	return triage.NewService(store, engine, log.Nop(), nil, nil)
}

func newTestRouter(t *testing.T, store triage.Store, mw ...func(http.Handler) http.Handler) chi.Router {
	t.Helper()
	r := chi.NewRouter()
	New(nil, newService(store)).RegisterRoutes(r, mw...)
	return r
}

func do(t *testing.T, h http.Handler, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func decodeBody[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	if err := json.NewDecoder(rec.Body).Decode(&out); err != nil {
		t.Fatalf("decode response: %v (body %q)", err, rec.Body.String())
	}
	return out
}

//  New / constructor

func TestNew_NilLogger(t *testing.T) {
	t.Parallel()

	api := New(nil, newService(memstore.New()))
	if api.logger == nil {
		t.Fatal("New(nil, svc) left logger nil; expected Nop logger")
	}
}

func TestNew_NilService_Panics(t *testing.T) {
	t.Parallel()

	defer func() {
		if r := recover(); r == nil {
			t.Fatal("New(nil, nil) did not panic; expected panic for nil service")
		}
	}()
	New(nil, nil)
}

// Routing

func TestRegisterRoutes_Methods(t *testing.T) {
	t.Parallel()

	r := newTestRouter(t, memstore.New())

	tests := []struct {
		method     string
		path       string
		body       string
		wantStatus int
	}{
		{http.MethodPost, "/api/v1/triage", `{"symptoms":"mild headache","use_ai":false}`, http.StatusOK},
		{http.MethodGet, "/api/v1/triage", "", http.StatusMethodNotAllowed},
		{http.MethodPost, "/api/v1/vitals", `{"pulse":80,"systolicBP":120,"diastolicBP":80}`, http.StatusOK},
		{http.MethodDelete, "/api/v1/vitals", "", http.StatusMethodNotAllowed},
		{http.MethodGet, "/api/v1/triage/recent", "", http.StatusOK},
		{http.MethodGet, "/api/v1/assessments/recent", "", http.StatusOK},
		{http.MethodGet, "/api/v1/vitals/recent", "", http.StatusOK},
		{http.MethodGet, "/api/v1/stats", "", http.StatusOK},
		{http.MethodGet, "/api/v1/health", "", http.StatusOK},
		{http.MethodGet, "/api/v1/triage/01ARZ3NDEKTSV4RRFFQ69G5FAV", "", http.StatusNotFound},
		{http.MethodGet, "/api/v1/nope", "", http.StatusNotFound},
		{http.MethodGet, "/api/triage/recent", "", http.StatusNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.method+" "+tt.path, func(t *testing.T) {
			t.Parallel()
			rec := do(t, r, tt.method, tt.path, tt.body)
			if rec.Code != tt.wantStatus {
				t.Errorf("%s %s = %d, want %d (body %q)", tt.method, tt.path, rec.Code, tt.wantStatus, rec.Body.String())
			}
		})
	}
}

func TestRegisterRoutes_AuthMiddleware(t *testing.T) {
	t.Parallel()

	r := newTestRouter(t, memstore.New(), authmw.BearerToken("tok"))

	if rec := do(t, r, http.MethodGet, "/api/v1/stats", ""); rec.Code != http.StatusUnauthorized {
		t.Errorf("stats without token = %d, want 401", rec.Code)
	}
	if rec := do(t, r, http.MethodGet, "/api/v1/health", ""); rec.Code != http.StatusOK {
		t.Errorf("health without token = %d, want 200", rec.Code)
	}

	req := httptest.NewRequest(http.MethodGet, "/api/v1/stats", http.NoBody)
	req.Header.Set("Authorization", "Bearer tok")
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Errorf("stats with token = %d, want 200", rec.Code)
	}
}

// Triage

func TestHandleTriage_RulePath(t *testing.T) {
	t.Parallel()

	r := newTestRouter(t, memstore.New())
	rec := do(t, r, http.MethodPost, "/api/v1/triage",
		`{"symptoms":"  Patient is having a seizure and vomiting  ","patient_info":{"age":61}}`)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body %q", rec.Code, rec.Body.String())
	}
	if ct := rec.Header().Get("Content-Type"); ct != "application/json" {
		t.Errorf("Content-Type = %q", ct)
	}

	resp := decodeBody[triageResponse](t, rec)
	if resp.TriageLevel != triage.LevelCritical {
		t.Errorf("triage_level = %q, want Critical", resp.TriageLevel)
	}
	// use_ai defaults to true, but no AI is configured so the rules answer
	if resp.UsedAI {
		t.Error("used_ai = true without an AI classifier")
	}
	if resp.RecordID == nil || *resp.RecordID == "" {
		t.Fatal("record_id missing")
	}
	if resp.Error != "" {
		t.Errorf("error = %q, want empty", resp.Error)
	}
	if resp.VitalsFlags != nil {
		t.Errorf("vitals_flags = %+v, want omitted", resp.VitalsFlags)
	}

	got := do(t, r, http.MethodGet, "/api/v1/triage/"+*resp.RecordID, "")
	if got.Code != http.StatusOK {
		t.Fatalf("GET record = %d", got.Code)
	}
	stored := decodeBody[triage.Record](t, got)
	if stored.Symptoms != "Patient is having a seizure and vomiting" {
		t.Errorf("stored symptoms = %q, want trimmed text", stored.Symptoms)
	}
	if diff := cmp.Diff(triage.PatientInfo{"age": float64(61)}, stored.PatientInfo); diff != "" {
		t.Errorf("patient_info mismatch (-want +got):\n%s", diff)
	}
}

func TestHandleTriage_WithVitals(t *testing.T) {
	t.Parallel()

	r := newTestRouter(t, memstore.New())
	rec := do(t, r, http.MethodPost, "/api/v1/triage",
		`{"symptoms":"occasional dizziness","use_ai":false,"vitals":{"pulse":55,"systolicBP":120,"diastolicBP":80}}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body %q", rec.Code, rec.Body.String())
	}

	resp := decodeBody[triageResponse](t, rec)
	want := &triage.VitalsFlags{PulseFlag: true, AnyFlag: true}
	if diff := cmp.Diff(want, resp.VitalsFlags); diff != "" {
		t.Errorf("vitals_flags mismatch (-want +got):\n%s", diff)
	}
	if resp.VitalsRecordID == "" {
		t.Error("vitals_record_id missing")
	}

	list := decodeBody[assessmentsResponse](t, do(t, r, http.MethodGet, "/api/v1/assessments/recent?limit=5", ""))
	if !list.HasVitalsData || list.Count != 1 {
		t.Errorf("assessments recent = %+v", list)
	}
}

func TestHandleTriage_Validation(t *testing.T) {
	t.Parallel()

	r := newTestRouter(t, memstore.New())

	tests := []struct {
		name      string
		body      string
		wantField string
	}{
		{"empty symptoms", `{"symptoms":""}`, "symptoms"},
		{"whitespace symptoms", `{"symptoms":"      "}`, "symptoms"},
		{"too short", `{"symptoms":"ouch"}`, "symptoms"},
		{"too long", `{"symptoms":"` + strings.Repeat("a", 2001) + `"}`, "symptoms"},
		{"pii ssn", `{"symptoms":"my SSN is 123 and I have a headache"}`, "symptoms"},
		{"pii phone", `{"symptoms":"call my phone number, chest pain"}`, "symptoms"},
		{"pulse too low", `{"symptoms":"headache","vitals":{"pulse":10}}`, "pulse"},
		{"systolic too high", `{"symptoms":"headache","vitals":{"systolicBP":400}}`, "systolicBP"},
		{"diastolic not below systolic", `{"symptoms":"headache","vitals":{"systolicBP":120,"diastolicBP":120}}`, "diastolicBP"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			rec := do(t, r, http.MethodPost, "/api/v1/triage", tt.body)
			if rec.Code != http.StatusBadRequest {
				t.Fatalf("status = %d, want 400 (body %q)", rec.Code, rec.Body.String())
			}
			resp := decodeBody[map[string]string](t, rec)
			if resp["field"] != tt.wantField {
				t.Errorf("field = %q, want %q", resp["field"], tt.wantField)
			}
		})
	}
}

func TestHandleTriage_InvalidJSON(t *testing.T) {
	t.Parallel()

	r := newTestRouter(t, memstore.New())
	if rec := do(t, r, http.MethodPost, "/api/v1/triage", `{bad`); rec.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", rec.Code)
	}
}

func TestHandleTriage_StorageFailureStillClassifies(t *testing.T) {
	t.Parallel()

	r := newTestRouter(t, failingStore{})
	rec := do(t, r, http.MethodPost, "/api/v1/triage", `{"symptoms":"sudden slurred speech"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}

	resp := decodeBody[triageResponse](t, rec)
	if resp.TriageLevel != triage.LevelUrgent {
		t.Errorf("triage_level = %q, want Urgent", resp.TriageLevel)
	}
	if resp.RecordID != nil {
		t.Errorf("record_id = %q, want null", *resp.RecordID)
	}
	if resp.Error != storageErrorMessage {
		t.Errorf("error = %q, want %q", resp.Error, storageErrorMessage)
	}
	if strings.Contains(rec.Body.String(), errDown.Error()) {
		t.Error("response leaks store error text")
	}
}

// Vitals

func TestHandleVitals(t *testing.T) {
	t.Parallel()

	r := newTestRouter(t, memstore.New())

	tests := []struct {
		name       string
		body       string
		wantStatus int
		wantFlags  triage.VitalsFlags
	}{
		{"normal", `{"pulse":80,"systolicBP":120,"diastolicBP":80}`, http.StatusOK, triage.VitalsFlags{}},
		{"high systolic", `{"pulse":80,"systolicBP":170,"diastolicBP":80}`, http.StatusOK, triage.VitalsFlags{SystolicFlag: true, AnyFlag: true}},
		{"missing pulse", `{"systolicBP":120,"diastolicBP":80}`, http.StatusBadRequest, triage.VitalsFlags{}},
		{"pulse out of range", `{"pulse":251,"systolicBP":120,"diastolicBP":80}`, http.StatusBadRequest, triage.VitalsFlags{}},
		{"diastolic above systolic", `{"pulse":80,"systolicBP":100,"diastolicBP":110}`, http.StatusBadRequest, triage.VitalsFlags{}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			rec := do(t, r, http.MethodPost, "/api/v1/vitals", tt.body)
			if rec.Code != tt.wantStatus {
				t.Fatalf("status = %d, want %d (body %q)", rec.Code, tt.wantStatus, rec.Body.String())
			}
			if tt.wantStatus != http.StatusOK {
				return
			}
			resp := decodeBody[vitalsResponse](t, rec)
			if resp.Flags != tt.wantFlags {
				t.Errorf("flags = %+v, want %+v", resp.Flags, tt.wantFlags)
			}
			if resp.RecordID == nil {
				t.Error("record_id missing")
			}
		})
	}
}

// Recent / stats

func TestRecent_Limit(t *testing.T) {
	t.Parallel()

	r := newTestRouter(t, memstore.New())
	for range 3 {
		do(t, r, http.MethodPost, "/api/v1/triage", `{"symptoms":"general tiredness","use_ai":false}`)
	}

	tests := []struct {
		query      string
		wantStatus int
		wantCount  int
	}{
		{"", http.StatusOK, 3},
		{"?limit=2", http.StatusOK, 2},
		{"?limit=1", http.StatusOK, 1},
		{"?limit=100", http.StatusOK, 3},
		{"?limit=0", http.StatusBadRequest, 0},
		{"?limit=101", http.StatusBadRequest, 0},
		{"?limit=-5", http.StatusBadRequest, 0},
		{"?limit=abc", http.StatusBadRequest, 0},
	}

	for _, tt := range tests {
		t.Run(tt.query, func(t *testing.T) {
			t.Parallel()
			rec := do(t, r, http.MethodGet, "/api/v1/triage/recent"+tt.query, "")
			if rec.Code != tt.wantStatus {
				t.Fatalf("status = %d, want %d", rec.Code, tt.wantStatus)
			}
			if tt.wantStatus != http.StatusOK {
				return
			}
			resp := decodeBody[recentResponse[*triage.Record]](t, rec)
			if resp.Count != tt.wantCount || len(resp.Records) != tt.wantCount {
				t.Errorf("count = %d (%d records), want %d", resp.Count, len(resp.Records), tt.wantCount)
			}
		})
	}
}

func TestRecent_EmptyIsArray(t *testing.T) {
	t.Parallel()

	r := newTestRouter(t, memstore.New())
	rec := do(t, r, http.MethodGet, "/api/v1/vitals/recent", "")
	if !strings.Contains(rec.Body.String(), `"records":[]`) {
		t.Errorf("body = %q, want empty records array", rec.Body.String())
	}
}

func TestStats(t *testing.T) {
	t.Parallel()

	r := newTestRouter(t, memstore.New())
	do(t, r, http.MethodPost, "/api/v1/triage", `{"symptoms":"seizure at home","use_ai":false}`)
	do(t, r, http.MethodPost, "/api/v1/vitals", `{"pulse":45,"systolicBP":120,"diastolicBP":80}`)
	do(t, r, http.MethodPost, "/api/v1/vitals", `{"pulse":80,"systolicBP":120,"diastolicBP":80}`)

	rec := do(t, r, http.MethodGet, "/api/v1/stats", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	resp := decodeBody[statsResponse](t, rec)

	if resp.TriageStats.TotalAssessments != 1 || resp.TriageStats.LevelsBreakdown[triage.LevelCritical] != 1 {
		t.Errorf("triage stats = %+v", resp.TriageStats)
	}
	if len(resp.TriageStats.LevelsBreakdown) != 4 {
		t.Errorf("levels_breakdown has %d keys, want 4", len(resp.TriageStats.LevelsBreakdown))
	}
	if resp.VitalsStats.TotalChecks != 2 || resp.VitalsStats.FlaggedCases != 1 || resp.VitalsStats.FlagPercentage != 50 {
		t.Errorf("vitals stats = %+v", resp.VitalsStats)
	}
}

func TestReadEndpoints_StoreFailure(t *testing.T) {
	t.Parallel()

	r := newTestRouter(t, failingStore{})
	for _, path := range []string{
		"/api/v1/triage/recent",
		"/api/v1/assessments/recent",
		"/api/v1/vitals/recent",
		"/api/v1/stats",
		"/api/v1/triage/some-id",
	} {
		rec := do(t, r, http.MethodGet, path, "")
		if rec.Code != http.StatusInternalServerError {
			t.Errorf("GET %s = %d, want 500", path, rec.Code)
		}
	}
}

// Fuzz

func FuzzTriageEndpoint(f *testing.F) {
	r := chi.NewRouter()
	New(nil, newService(memstore.New())).RegisterRoutes(r)

	seeds := [][]byte{
		nil,
		[]byte("{}"),
		[]byte(`{"symptoms":"headache and vomiting"}`),
		[]byte(`{"symptoms":"headache","vitals":{"pulse":55}}`),
		[]byte(`{"symptoms":"headache","vitals":{"pulse":"fast"}}`),
		[]byte(`{"symptoms":123}`),
		[]byte("{invalid json"),
		[]byte("\x00\x01\x02\xff\xfe"),
		[]byte(strings.Repeat("a", 10000)),
	}
	for _, s := range seeds {
		f.Add(s)
	}

	f.Fuzz(func(t *testing.T, body []byte) {
		req := httptest.NewRequest(http.MethodPost, "/api/v1/triage", strings.NewReader(string(body)))
		rec := httptest.NewRecorder()

		// Must not panic
		r.ServeHTTP(rec, req)

		switch rec.Code {
		case http.StatusBadRequest:
		case http.StatusOK:
			var resp triageResponse
			if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
				t.Fatalf("200 with undecodable body: %v", err)
			}
			if !resp.TriageLevel.Valid() {
				t.Errorf("triage_level = %q, not a canonical level", resp.TriageLevel)
			}
		default:
			t.Errorf("POST /api/v1/triage body len=%d = %d, want 200 or 400", len(body), rec.Code)
		}
	})
}
