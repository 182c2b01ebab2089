// Package preview serves a build output directory or a finished archive over
// HTTP the way the deployed site would see it, plus the locale endpoints the
// app uses at runtime.
package preview

import (
	"context"
	"net"
	"net/http"
	"path"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/keithlinneman/pdfsplit-web/internal/health"
	"github.com/keithlinneman/pdfsplit-web/internal/httpmw"
	"github.com/keithlinneman/pdfsplit-web/internal/log"
	"github.com/keithlinneman/pdfsplit-web/internal/xerrors"
)

// New validates opts and builds the preview handler.
func New(opts Options) (http.Handler, error) {
	opts.setDefaults()
	if err := opts.validate(); err != nil {
		return nil, err
	}
	return newHandler(&opts), nil
}

// newHandler builds an HTTP handler with routes + middleware
// main() owns *http.Server so it can do graceful shutdown
func newHandler(opts *Options) http.Handler {
	r := chi.NewRouter()

	// Compress text responses (HTML/CSS/JS/JSON/SVG)
	r.Use(middleware.Compress(5,
		"text/html",
		"text/css",
		"text/javascript",
		"application/javascript",
		"application/json",
		"image/svg+xml",
	))
	r.Use(httpmw.AnnotateHTTPRoute)
	r.Use(httpmw.AccessLog())
	r.Use(httpmw.MaxBody(opts.MaxBodyBytes))

	ready := health.All(
		health.SiteProbe(opts.Source.FS, opts.IndexFile),
		opts.Readiness,
	)
	r.Get("/-/healthy", health.HealthzHandler(nil))
	r.Get("/-/ready", health.ReadyzHandler(ready))
	if opts.MetricsHandler != nil {
		r.Method(http.MethodGet, "/-/metrics", opts.MetricsHandler)
	}

	api := &localeAPI{sel: opts.Selector, logger: opts.Logger}
	api.RegisterRoutes(r)

	site := &siteHandler{opts: opts}
	r.NotFound(site.ServeHTTP)

	var tracing httpmw.Middleware
	if opts.Tracing {
		tracing = func(next http.Handler) http.Handler {
			return otelhttp.NewHandler(next, "http.server",
				otelhttp.WithFilter(func(r *http.Request) bool { return shouldTrace(r.URL.Path) }),
				otelhttp.WithSpanNameFormatter(func(_ string, r *http.Request) string {
					// AnnotateHTTPRoute renames the span once the route is known
					return r.Method + " " + r.URL.Path
				}),
			)
		}
	}

	return httpmw.Chain(r,
		httpmw.SecurityHeaders(opts.CSP),
		httpmw.Recover(opts.Logger, opts.OnPanic),
		httpmw.RequestID(httpmw.DefaultRequestIDHeader),
		tracing,
		httpmw.TraceResponseHeaders("", ""),
		opts.MetricsMW,
		httpmw.WithLogger(opts.Logger),
	)
}

// health checks and static assets are not traced
func shouldTrace(p string) bool {
	if strings.HasPrefix(p, "/-/health") || p == "/-/ready" || p == "/-/metrics" || p == "/favicon.ico" {
		return false
	}
	switch strings.ToLower(path.Ext(p)) {
	case ".css", ".js", ".mjs", ".png", ".jpg", ".jpeg", ".webp", ".svg", ".ico", ".woff", ".woff2", ".map":
		return false
	}
	return true
}

// Server timeout defaults. WriteTimeout is generous: a preview can serve a
// multi-megabyte pdf.js worker over a slow link.
const (
	DefaultReadHeaderTimeout = 5 * time.Second
	DefaultReadTimeout       = 10 * time.Second
	DefaultWriteTimeout      = 60 * time.Second
	DefaultIdleTimeout       = 60 * time.Second
	DefaultMaxHeaderBytes    = 1 << 20 // 1 MB
)

func NewServer(addr string, handler http.Handler) *http.Server {
	return &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: DefaultReadHeaderTimeout,
		ReadTimeout:       DefaultReadTimeout,
		WriteTimeout:      DefaultWriteTimeout,
		IdleTimeout:       DefaultIdleTimeout,
		MaxHeaderBytes:    DefaultMaxHeaderBytes,
	}
}

// Start listens on addr and serves handler in the background. It returns
// the bound address (useful with port 0) and stop(ctx) for graceful
// shutdown.
func Start(ctx context.Context, L log.Logger, addr string, handler http.Handler) (string, func(context.Context) error, error) {
	srv := NewServer(addr, handler)

	ln, err := (&net.ListenConfig{}).Listen(ctx, "tcp", addr)
	if err != nil {
		return "", nil, xerrors.Wrapf(err, "listen on %s", addr)
	}
	bound := ln.Addr().String()

	go func() {
		L.Info(ctx, "preview server listening", "addr", bound)
		if err := srv.Serve(ln); err != nil && err != http.ErrServerClosed {
			L.Error(ctx, err, "preview server error")
		}
	}()

	var once sync.Once
	stop := func(sctx context.Context) (retErr error) {
		once.Do(func() {
			L.Info(sctx, "preview server shutting down")
			c, cancel := context.WithTimeout(sctx, 5*time.Second)
			defer cancel()
			retErr = srv.Shutdown(c)
		})
		return retErr
	}
	return bound, stop, nil
}
