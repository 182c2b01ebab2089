package metrics

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/otel/trace"
)

// siteRoute labels requests that no chi route claimed. The preview server
// hands those to the static site, so they share one series.
const siteRoute = "site"

// statusWriter remembers the status code and counts body bytes.
type statusWriter struct {
	http.ResponseWriter
	status int
	n      int
}

func (w *statusWriter) WriteHeader(code int) {
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}

func (w *statusWriter) Write(p []byte) (int, error) {
	if w.status == 0 {
		w.status = http.StatusOK
	}
	n, err := w.ResponseWriter.Write(p)
	w.n += n
	return n, err
}

func (w *statusWriter) code() int {
	if w.status == 0 {
		return http.StatusOK
	}
	return w.status
}

// Middleware records preview traffic. Route labels come from the chi
// pattern only, so arbitrary site paths never become series.
func (m *Metrics) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// install a route context when mounted outside the router, so the
		// pattern is visible here after next returns
		if chi.RouteContext(r.Context()) == nil {
			r = r.WithContext(context.WithValue(r.Context(), chi.RouteCtxKey, chi.NewRouteContext()))
		}

		start := time.Now()
		m.inflight.Inc()
		sw := &statusWriter{ResponseWriter: w}
		next.ServeHTTP(sw, r)
		m.inflight.Dec()

		m.observeRequest(r, sw, time.Since(start))
	})
}

func (m *Metrics) observeRequest(r *http.Request, sw *statusWriter, took time.Duration) {
	ctx := r.Context()
	route := routeLabel(ctx)
	code := sw.code()

	m.reqTotal.WithLabelValues(r.Method, route, strconv.Itoa(code)).Inc()
	m.respBytes.WithLabelValues(r.Method, route).Observe(float64(sw.n))
	if code >= http.StatusInternalServerError {
		m.errorsTotal.WithLabelValues(r.Method, route).Inc()
	}

	obs := m.reqDur.WithLabelValues(r.Method, route)
	if ex := traceExemplar(ctx); ex != nil {
		if eo, ok := obs.(prometheus.ExemplarObserver); ok {
			eo.ObserveWithExemplar(took.Seconds(), ex)
			return
		}
	}
	obs.Observe(took.Seconds())
}

func routeLabel(ctx context.Context) string {
	if rc := chi.RouteContext(ctx); rc != nil {
		if p := rc.RoutePattern(); p != "" {
			return p
		}
	}
	return siteRoute
}

// traceExemplar returns the trace_id exemplar for a sampled span, or nil.
func traceExemplar(ctx context.Context) prometheus.Labels {
	sc := trace.SpanContextFromContext(ctx)
	if !sc.IsValid() || !sc.IsSampled() {
		return nil
	}
	return prometheus.Labels{"trace_id": sc.TraceID().String()}
}
