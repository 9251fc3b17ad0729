package triageapi

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	v "github.com/linnemanlabs/go-core/version"

	"github.com/linnemanlabs/tflow/internal/triage"
	"github.com/linnemanlabs/tflow/internal/validate"
)

type triageRequest struct {
	Symptoms    string             `json:"symptoms"`
	PatientInfo triage.PatientInfo `json:"patient_info"`
	Vitals      *triage.Vitals     `json:"vitals"`
	UseAI       *bool              `json:"use_ai"`
}

type triageResponse struct {
	TriageLevel    triage.Level        `json:"triage_level"`
	RecordID       *string             `json:"record_id"`
	Timestamp      time.Time           `json:"timestamp"`
	UsedAI         bool                `json:"used_ai"`
	VitalsFlags    *triage.VitalsFlags `json:"vitals_flags,omitempty"`
	VitalsRecordID string              `json:"vitals_record_id,omitempty"`
	Error          string              `json:"error,omitempty"`
}

type vitalsRequest struct {
	triage.Vitals
	PatientInfo triage.PatientInfo `json:"patient_info"`
}

type vitalsResponse struct {
	Flags     triage.VitalsFlags `json:"flags"`
	RecordID  *string            `json:"record_id"`
	Timestamp time.Time          `json:"timestamp"`
	Error     string             `json:"error,omitempty"`
}

type recentResponse[T any] struct {
	Records   []T       `json:"records"`
	Count     int       `json:"count"`
	Timestamp time.Time `json:"timestamp"`
}

type assessmentsResponse struct {
	Assessments   []*triage.Record `json:"assessments"`
	Count         int              `json:"count"`
	HasVitalsData bool             `json:"has_vitals_data"`
	Timestamp     time.Time        `json:"timestamp"`
}

type statsResponse struct {
	TriageStats struct {
		TotalAssessments int                  `json:"total_assessments"`
		LevelsBreakdown  map[triage.Level]int `json:"levels_breakdown"`
	} `json:"triage_stats"`
	VitalsStats struct {
		TotalChecks    int     `json:"total_checks"`
		FlaggedCases   int     `json:"flagged_cases"`
		UnflaggedCases int     `json:"unflagged_cases"`
		FlagPercentage float64 `json:"flag_percentage"`
	} `json:"vitals_stats"`
	Timestamp time.Time `json:"timestamp"`
}

// storageErrorMessage is reported when a result was produced but could not
// be saved. Store internals are logged, not returned.
const storageErrorMessage = "result could not be saved"

func (a *API) handleHealth(w http.ResponseWriter, _ *http.Request) {
	vi := v.Get()
	writeJSON(w, http.StatusOK, map[string]any{
		"status":    "healthy",
		"service":   vi.AppName,
		"version":   vi.Version,
		"timestamp": time.Now().UTC(),
	})
}

func (a *API) handleTriage(w http.ResponseWriter, r *http.Request) {
	var req triageRequest
	if !a.decode(w, r, &req) {
		return
	}

	symptoms, err := validate.Symptoms(req.Symptoms)
	if err != nil {
		writeValidationError(w, err)
		return
	}
	if req.Vitals != nil {
		if err := validate.Vitals(req.Vitals, false); err != nil {
			writeValidationError(w, err)
			return
		}
	}

	useAI := true
	if req.UseAI != nil {
		useAI = *req.UseAI
	}

	out := a.svc.Assess(r.Context(), triage.AssessRequest{
		Symptoms:    symptoms,
		PatientInfo: req.PatientInfo,
		Vitals:      req.Vitals,
		UseAI:       useAI,
	})
	rec := out.Record

	trace.SpanFromContext(r.Context()).SetAttributes(
		attribute.String("tflow.record.id", rec.ID),
		attribute.String("tflow.level", string(rec.Level)),
		attribute.Bool("tflow.ai.used", rec.UsedAI),
	)

	resp := triageResponse{
		TriageLevel:    rec.Level,
		RecordID:       optionalID(rec.ID),
		Timestamp:      rec.CreatedAt,
		UsedAI:         rec.UsedAI,
		VitalsFlags:    rec.VitalsFlags,
		VitalsRecordID: rec.VitalsRecordID,
	}
	if out.StorageErr != nil {
		resp.Error = storageErrorMessage
	}
	writeJSON(w, http.StatusOK, resp)
}

func (a *API) handleVitals(w http.ResponseWriter, r *http.Request) {
	var req vitalsRequest
	if !a.decode(w, r, &req) {
		return
	}
	if err := validate.Vitals(&req.Vitals, true); err != nil {
		writeValidationError(w, err)
		return
	}

	out := a.svc.CheckVitals(r.Context(), req.Vitals, req.PatientInfo)

	resp := vitalsResponse{
		Flags:     out.Record.Flags,
		RecordID:  optionalID(out.Record.ID),
		Timestamp: out.Record.CreatedAt,
	}
	if out.StorageErr != nil {
		resp.Error = storageErrorMessage
	}
	writeJSON(w, http.StatusOK, resp)
}

func (a *API) handleGetTriage(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	span := trace.SpanFromContext(r.Context())
	span.SetAttributes(attribute.String("tflow.record.id", id))

	rec, ok, err := a.svc.Get(r.Context(), id)
	if err != nil {
		a.logger.Error(r.Context(), err, "failed to get assessment", "id", id)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	if !ok {
		writeError(w, http.StatusNotFound, "not found")
		return
	}

	span.SetAttributes(attribute.String("tflow.level", string(rec.Level)))
	writeJSON(w, http.StatusOK, rec)
}

func (a *API) handleRecentTriage(w http.ResponseWriter, r *http.Request) {
	limit, ok := a.limit(w, r)
	if !ok {
		return
	}
	recs, err := a.svc.Recent(r.Context(), limit)
	if err != nil {
		a.logger.Error(r.Context(), err, "failed to list recent assessments", "limit", limit)
		writeError(w, http.StatusInternalServerError, "failed to retrieve triage records")
		return
	}
	writeJSON(w, http.StatusOK, recentResponse[*triage.Record]{
		Records:   nonNil(recs),
		Count:     len(recs),
		Timestamp: time.Now().UTC(),
	})
}

func (a *API) handleRecentAssessments(w http.ResponseWriter, r *http.Request) {
	limit, ok := a.limit(w, r)
	if !ok {
		return
	}
	recs, err := a.svc.Recent(r.Context(), limit)
	if err != nil {
		a.logger.Error(r.Context(), err, "failed to list recent assessments", "limit", limit)
		writeError(w, http.StatusInternalServerError, "failed to retrieve assessments")
		return
	}

	hasVitals := false
	for _, rec := range recs {
		if rec.Vitals != nil {
			hasVitals = true
			break
		}
	}
	writeJSON(w, http.StatusOK, assessmentsResponse{
		Assessments:   nonNil(recs),
		Count:         len(recs),
		HasVitalsData: hasVitals,
		Timestamp:     time.Now().UTC(),
	})
}

func (a *API) handleRecentVitals(w http.ResponseWriter, r *http.Request) {
	limit, ok := a.limit(w, r)
	if !ok {
		return
	}
	recs, err := a.svc.RecentVitals(r.Context(), limit)
	if err != nil {
		a.logger.Error(r.Context(), err, "failed to list recent vitals checks", "limit", limit)
		writeError(w, http.StatusInternalServerError, "failed to retrieve vitals records")
		return
	}
	writeJSON(w, http.StatusOK, recentResponse[*triage.VitalsRecord]{
		Records:   nonNil(recs),
		Count:     len(recs),
		Timestamp: time.Now().UTC(),
	})
}

func (a *API) handleStats(w http.ResponseWriter, r *http.Request) {
	st, err := a.svc.Stats(r.Context())
	if err != nil {
		a.logger.Error(r.Context(), err, "failed to aggregate stats")
		writeError(w, http.StatusInternalServerError, "failed to generate statistics")
		return
	}

	var resp statsResponse
	resp.TriageStats.TotalAssessments = st.TotalAssessments
	resp.TriageStats.LevelsBreakdown = st.Levels
	resp.VitalsStats.TotalChecks = st.TotalVitals
	resp.VitalsStats.FlaggedCases = st.FlaggedVitals
	resp.VitalsStats.UnflaggedCases = st.UnflaggedVitals
	resp.VitalsStats.FlagPercentage = st.FlagPercentage()
	resp.Timestamp = time.Now().UTC()
	writeJSON(w, http.StatusOK, resp)
}

// decode reads a JSON body into dst, writing a 400 or 413 on failure.
func (a *API) decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		var mbe *http.MaxBytesError
		if errors.As(err, &mbe) {
			writeError(w, http.StatusRequestEntityTooLarge, "request body too large")
			return false
		}
		writeError(w, http.StatusBadRequest, "invalid payload")
		return false
	}
	return true
}

func (a *API) limit(w http.ResponseWriter, r *http.Request) (int, bool) {
	n, err := validate.Limit(r.URL.Query().Get("limit"))
	if err != nil {
		writeValidationError(w, err)
		return 0, false
	}
	return n, true
}

func optionalID(id string) *string {
	if id == "" {
		return nil
	}
	return &id
}

func nonNil[T any](s []T) []T {
	if s == nil {
		return []T{}
	}
	return s
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

func writeValidationError(w http.ResponseWriter, err error) {
	var ve *validate.Error
	if errors.As(err, &ve) {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": ve.Message, "field": ve.Field})
		return
	}
	writeError(w, http.StatusBadRequest, err.Error())
}
