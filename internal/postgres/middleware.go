package postgres

import (
	"net/http"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/linnemanlabs/go-core/log"
)

// RequestStats labels queries with the request method and accumulates
// per-request query statistics. Requests that touched the database get
// db.query_count / db.query_time attributes on their span and a summary
// log line.
func RequestStats(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := NewReqDBStatsContext(WithHTTPMethod(r.Context(), r.Method))
		next.ServeHTTP(w, r.WithContext(ctx))

		s, _ := ReqDBStatsFromContext(ctx)
		count, total, errs := s.Snapshot()
		if count == 0 {
			return
		}

		if span := trace.SpanFromContext(ctx); span.IsRecording() {
			span.SetAttributes(
				attribute.Int("db.query_count", count),
				attribute.Float64("db.query_time", total.Seconds()),
				attribute.Int("db.query_errors", errs),
			)
		}
		log.FromContext(ctx).Info(ctx, "request db stats",
			"db.query_count", count,
			"db.query_time", total.Seconds(),
			"db.query_errors", errs,
		)
	})
}
