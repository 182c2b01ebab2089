package metrics

import (
	"context"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/prometheus/client_golang/prometheus/push"

	"github.com/keithlinneman/pdfsplit-web/internal/archive"
	"github.com/keithlinneman/pdfsplit-web/internal/version"
	"github.com/keithlinneman/pdfsplit-web/internal/xerrors"
)

// Metrics covers one sitepack process: packaging runs, watch mode, publish
// and the preview server's HTTP traffic.
type Metrics struct {
	reg     *prometheus.Registry
	handler http.Handler

	buildInfo *prometheus.GaugeVec

	// packaging
	packRunsTotal     *prometheus.CounterVec
	packDuration      prometheus.Histogram
	archiveBytes      prometheus.Gauge
	archiveFiles      prometheus.Gauge
	skippedTotal      prometheus.Counter
	lastSuccessTs     prometheus.Gauge
	watchPollsTotal   prometheus.Counter
	watchRepacksTotal prometheus.Counter
	watchErrorsTotal  *prometheus.CounterVec
	publishTotal      *prometheus.CounterVec

	// preview http
	inflight       prometheus.Gauge
	reqTotal       *prometheus.CounterVec
	reqDur         *prometheus.HistogramVec
	respBytes      *prometheus.HistogramVec
	errorsTotal    *prometheus.CounterVec
	httpPanicTotal prometheus.Counter
}

// New returns a fresh registry with build, packaging and HTTP metrics.
// safe labels only (method, route, code) to avoid path/cardinality explosions
func New() *Metrics {
	reg := prometheus.NewRegistry()

	m := &Metrics{
		buildInfo: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "build_info",
			Help: "Build metadata (value is always 1)",
		}, []string{"app", "component", "version", "commit", "commit_date", "build_id", "build_date", "vcs_dirty", "go_version"}),
		packRunsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "sitepack_pack_runs_total",
			Help: "Packaging runs by result (ok, error, disabled)",
		}, []string{"result"}),
		packDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "sitepack_pack_duration_seconds",
			Help:    "Time to walk, compress and finalize the archive",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
		}),
		archiveBytes: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "sitepack_archive_bytes",
			Help: "Size of the last archive written",
		}),
		archiveFiles: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "sitepack_archive_files",
			Help: "Regular files in the last archive written",
		}),
		skippedTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "sitepack_skipped_entries_total",
			Help: "Entries dropped because they vanished during packaging",
		}),
		lastSuccessTs: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "sitepack_last_success_timestamp_seconds",
			Help: "Unix timestamp of the last successful packaging run",
		}),
		watchPollsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "sitepack_watch_polls_total",
			Help: "Total number of watch mode poll cycles",
		}),
		watchRepacksTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "sitepack_watch_repacks_total",
			Help: "Total number of archives rebuilt by watch mode",
		}),
		watchErrorsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "sitepack_watch_errors_total",
			Help: "Total watch mode errors by type",
		}, []string{"type"}),
		publishTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "sitepack_publish_total",
			Help: "Publish attempts by result",
		}, []string{"result"}),
		inflight: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "http_inflight_requests",
			Help: "Current number of in-flight HTTP requests",
		}),
		reqTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total HTTP requests by method, route, and status",
		}, []string{"method", "route", "status"}),
		reqDur: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "Request latency by method and route",
			Buckets: []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
		}, []string{"method", "route"}),
		respBytes: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "http_response_size_bytes",
			Help:    "Response size by method and route",
			Buckets: []float64{256, 1024, 4096, 16384, 65536, 262144, 1048576, 4194304, 16777216, 52428800},
		}, []string{"method", "route"}),
		errorsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "http_errors_total",
			Help: "Total 5xx HTTP server errors by method and route",
		}, []string{"method", "route"}),
		httpPanicTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "http_panic_total",
			Help: "Total number of recovered panics in the preview server",
		}),
	}
	reg.MustRegister(
		m.buildInfo,
		m.packRunsTotal,
		m.packDuration,
		m.archiveBytes,
		m.archiveFiles,
		m.skippedTotal,
		m.lastSuccessTs,
		m.watchPollsTotal,
		m.watchRepacksTotal,
		m.watchErrorsTotal,
		m.publishTotal,
		m.inflight,
		m.reqTotal,
		m.reqDur,
		m.respBytes,
		m.errorsTotal,
		m.httpPanicTotal,
	)

	m.handler = promhttp.HandlerFor(reg, promhttp.HandlerOpts{
		EnableOpenMetrics: true,
	})
	m.reg = reg
	return m
}

// WithRuntimeCollectors adds the Go and process collectors. Long-running
// commands (preview, watch) register them; one-shot pushes do not.
func (m *Metrics) WithRuntimeCollectors() *Metrics {
	m.reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

func (m *Metrics) Handler() http.Handler {
	return m.handler
}

func (m *Metrics) Registry() *prometheus.Registry { return m.reg }

// set once at startup.
func (m *Metrics) SetBuildInfoFromVersion(app, component string, vi version.Info) {
	m.buildInfo.With(prometheus.Labels{
		"app":         app,
		"component":   component,
		"version":     vi.Version,
		"commit":      vi.Commit,
		"commit_date": vi.CommitDate,
		"build_id":    vi.BuildId,
		"build_date":  vi.BuildDate,
		"go_version":  vi.GoVersion,
		"vcs_dirty":   vi.Dirty(),
	}).Set(1)
}

// ObservePack records the outcome of one packaging run.
func (m *Metrics) ObservePack(res archive.Result, err error) {
	switch {
	case err != nil:
		m.packRunsTotal.WithLabelValues("error").Inc()
		return
	case res.Disabled:
		m.packRunsTotal.WithLabelValues("disabled").Inc()
		return
	}
	m.packRunsTotal.WithLabelValues("ok").Inc()
	m.packDuration.Observe(res.Duration.Seconds())
	m.archiveBytes.Set(float64(res.Bytes))
	m.archiveFiles.Set(float64(res.Files))
	m.skippedTotal.Add(float64(res.Skipped))
	m.lastSuccessTs.Set(float64(time.Now().Unix()))
}

func (m *Metrics) ObservePublish(err error) {
	if err != nil {
		m.publishTotal.WithLabelValues("error").Inc()
		return
	}
	m.publishTotal.WithLabelValues("ok").Inc()
}

func (m *Metrics) IncWatchPolls() {
	m.watchPollsTotal.Inc()
}

func (m *Metrics) IncWatchRepacks() {
	m.watchRepacksTotal.Inc()
}

func (m *Metrics) IncWatchError(errType string) {
	m.watchErrorsTotal.WithLabelValues(errType).Inc()
}

func (m *Metrics) IncHttpPanic() {
	m.httpPanicTotal.Inc()
}

// Push replaces the job's metric group on a Prometheus Pushgateway.
// instance is added as a grouping label when non-empty.
func (m *Metrics) Push(ctx context.Context, url, job, instance string) error {
	p := push.New(url, job).Gatherer(m.reg)
	if instance != "" {
		p = p.Grouping("instance", instance)
	}
	if err := p.PushContext(ctx); err != nil {
		return xerrors.Wrapf(err, "push metrics to %s", url)
	}
	return nil
}
