package api

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/gevidence-labs/gevidence/core/pkg/domain"
	"github.com/gevidence-labs/gevidence/core/pkg/observability"
)

// operationNames maps route patterns to the short operation names used in
// metrics and SLO tracking. Unlisted patterns report under the pattern
// itself.
var operationNames = map[string]string{
	"POST /v1/campaigns":                 "create_campaign",
	"POST /v1/campaigns/{id}/contribute": "contribute",
	"POST /v1/campaigns/{id}/finalize":   "finalize",
	"POST /v1/campaigns/{id}/withdraw":   "withdraw",
	"POST /v1/campaigns/{id}/refund":     "refund",
	"POST /v1/evidence/{id}/verify":      "verify",
	"POST /v1/certificates":              "mint",
	"POST /v1/offcycle":                  "request_check",
	"POST /v1/offcycle/{id}/resolve":     "resolve",
	"POST /v1/reward/transfer":           "transfer",
	"POST /v1/reward/transfer-from":      "transfer_from",
}

type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(code int) {
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}

// TelemetryMiddleware wraps every request in a server span, records RED
// metrics per operation, and feeds the SLO tracker. actorFrom may be nil;
// when set the acting principal is attached to the span.
func TelemetryMiddleware(provider *observability.Provider, slos *observability.SLOTracker, actorFrom func(context.Context) domain.Principal) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if provider == nil {
				next.ServeHTTP(w, r)
				return
			}

			start := time.Now()
			ctx, done := provider.TrackOperation(r.Context(), r.Method+" "+r.URL.Path)
			span := trace.SpanFromContext(ctx)

			sw := &statusWriter{ResponseWriter: w, status: http.StatusOK}
			rr := r.WithContext(ctx)
			next.ServeHTTP(sw, rr)

			// The mux fills in Request.Pattern during dispatch, so the
			// operation name is only known after the handler ran.
			op := rr.Pattern
			if short, ok := operationNames[op]; ok {
				op = short
			}
			if op == "" {
				op = r.Method + " " + r.URL.Path
			}
			span.SetName(op)
			span.SetAttributes(
				attribute.String("gev.operation", op),
				attribute.Int("http.response.status_code", sw.status),
			)
			if actorFrom != nil {
				if actor := actorFrom(ctx); !actor.Zero() {
					observability.WithActor(ctx, string(actor))
				}
			}

			var opErr error
			if sw.status >= http.StatusInternalServerError {
				opErr = fmt.Errorf("%s returned %d", op, sw.status)
				span.SetStatus(codes.Error, opErr.Error())
			}
			done(opErr)

			if slos != nil {
				slos.Record(observability.SLOObservation{
					Operation: op,
					Latency:   time.Since(start),
					Success:   sw.status < http.StatusBadRequest,
				})
			}
		})
	}
}
