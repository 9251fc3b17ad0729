package main

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/linnemanlabs/go-core/httpmw"
	"github.com/linnemanlabs/go-core/log"

	"github.com/linnemanlabs/tflow/internal/app"
	"github.com/linnemanlabs/tflow/internal/authmw"
	tc "github.com/linnemanlabs/tflow/internal/cfg"
	"github.com/linnemanlabs/tflow/internal/notify/slack"
	"github.com/linnemanlabs/tflow/internal/postgres"
	"github.com/linnemanlabs/tflow/internal/triage"
	"github.com/linnemanlabs/tflow/internal/triageapi"
)

// maxRequestBody bounds API request bodies. Symptom payloads are small.
const maxRequestBody = 64 * 1024

// newTriageService opens the store, registers metrics on reg and builds the
// service. closeStore must be called once the server has stopped.
func newTriageService(ctx context.Context, c *tc.Config, L log.Logger, reg prometheus.Registerer) (*triage.Service, func(), error) {
	store, closeStore, err := app.OpenStore(ctx, c, L)
	if err != nil {
		return nil, nil, err
	}

	tm := triage.NewMetrics(reg)
	registerDBQueryMetrics(reg)

	engine, err := app.NewEngine(ctx, c, L, tm.Hooks())
	if err != nil {
		closeStore()
		return nil, nil, err
	}

	var notifier triage.Notifier
	if c.SlackWebhookURL != "" {
		notifier = slack.New(c.SlackWebhookURL, L)
		L.Info(ctx, "notifier enabled", "type", "slack")
	}

	return triage.NewService(store, engine, L, tm, notifier), closeStore, nil
}

// registerDBQueryMetrics adds the per-query duration histogram and routes
// the postgres query observer into it.
func registerDBQueryMetrics(reg prometheus.Registerer) *prometheus.HistogramVec {
	hist := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "tflow_db_query_duration_seconds",
		Help:    "Duration of individual database queries.",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "route", "operation", "outcome"})
	reg.MustRegister(hist)

	postgres.SetQueryObserver(postgres.QueryObserverFunc(
		func(_ context.Context, l postgres.QueryLabels, dur time.Duration) {
			hist.WithLabelValues(l.Method, l.Route, l.Operation, l.Outcome).Observe(dur.Seconds())
		},
	))
	return hist
}

// newAPIRouter builds the chi router with the per-route middleware and the
// /api/v1 routes. Bearer auth is a passthrough when token is empty.
func newAPIRouter(L log.Logger, svc triageapi.TriageService, token string) chi.Router {
	r := chi.NewRouter()

	// JSON only
	r.Use(middleware.Compress(5, "application/json"))

	// Annotate logger (and tracer if trace is recording) with http.route from chi route pattern
	r.Use(httpmw.AnnotateHTTPRoute)

	// method label and per-request query stats for the DB tracer
	r.Use(postgres.RequestStats)

	r.Use(httpmw.AccessLog())

	// 413 past the limit
	r.Use(httpmw.MaxBody(maxRequestBody))

	triageapi.New(L, svc).RegisterRoutes(r, authmw.BearerToken(token))
	return r
}

// wrapAPIHandler applies the outer middleware stack. The last wrapper added
// is the first to see a request.
func wrapAPIHandler(h http.Handler, L log.Logger, metricsMW func(http.Handler) http.Handler, trustedHops int) http.Handler {
	// Request-scoped logging (inner so it sees trace_id, chi route, etc)
	h = httpmw.WithLogger(L)(h)

	h = httpmw.TraceResponseHeaders("X-Trace-Id", "X-Span-Id")(h)

	h = otelhttp.NewHandler(h, "http.server",
		otelhttp.WithFilter(func(r *http.Request) bool {
			return r.URL.Path != "/-/healthy" && r.URL.Path != "/-/ready"
		}),
		// AnnotateHTTPRoute renames the span to the route pattern
		otelhttp.WithSpanNameFormatter(func(_ string, r *http.Request) string {
			return r.Method + " " + r.URL.Path
		}),
		otelhttp.WithPublicEndpointFn(func(_ *http.Request) bool { return true }),
	)

	h = metricsMW(h)

	// resolved client ip for everything downstream
	h = httpmw.ClientIPWithOptions(httpmw.ClientIPOptions{TrustedHops: trustedHops})(h)

	h = httpmw.RequestID("X-Request-Id")(h)

	// outer to catch panics from any downstream middleware or handlers
	h = httpmw.Recover(L, nil)(h)

	// outermost so every response carries them
	return httpmw.SecurityHeaders(h)
}
