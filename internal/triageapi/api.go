// Package triageapi exposes the triage service over HTTP.
package triageapi

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/linnemanlabs/go-core/log"
	"github.com/linnemanlabs/go-core/xerrors"

	"github.com/linnemanlabs/tflow/internal/triage"
)

// TriageService defines the business operations triageapi needs.
type TriageService interface {
	Assess(ctx context.Context, req triage.AssessRequest) *triage.Assessment
	CheckVitals(ctx context.Context, v triage.Vitals, patient triage.PatientInfo) *triage.VitalsAssessment
	Get(ctx context.Context, id string) (*triage.Record, bool, error)
	Recent(ctx context.Context, limit int) ([]*triage.Record, error)
	RecentVitals(ctx context.Context, limit int) ([]*triage.VitalsRecord, error)
	Stats(ctx context.Context) (*triage.Stats, error)
}

// API holds dependencies for HTTP handlers.
type API struct {
	logger log.Logger
	svc    TriageService
}

// New creates a new API handler.
func New(logger log.Logger, svc TriageService) *API {
	if logger == nil {
		logger = log.Nop()
	}
	if svc == nil {
		panic(xerrors.New("triage service is required"))
	}
	return &API{
		logger: logger,
		svc:    svc,
	}
}

// RegisterRoutes attaches API endpoints to the router. mw wraps every
// /api/v1 route (e.g. bearer auth).
func (a *API) RegisterRoutes(r chi.Router, mw ...func(http.Handler) http.Handler) {
	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/health", a.handleHealth)

		r.Group(func(r chi.Router) {
			r.Use(mw...)

			r.Post("/triage", a.handleTriage)
			r.Get("/triage/recent", a.handleRecentTriage)
			r.Get("/triage/{id}", a.handleGetTriage)
			r.Get("/assessments/recent", a.handleRecentAssessments)

			r.Post("/vitals", a.handleVitals)
			r.Get("/vitals/recent", a.handleRecentVitals)

			r.Get("/stats", a.handleStats)
		})
	})
}
