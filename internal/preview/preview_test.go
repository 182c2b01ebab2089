package preview

import (
	"encoding/json"
	"io"
	"io/fs"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/keithlinneman/pdfsplit-web/internal/archive"
	"github.com/keithlinneman/pdfsplit-web/internal/health"
	"github.com/keithlinneman/pdfsplit-web/internal/locale"
	"github.com/keithlinneman/pdfsplit-web/internal/log"
	"github.com/keithlinneman/pdfsplit-web/internal/metrics"
)

var siteFiles = map[string]string{
	"index.html":           "<!doctype html><title>PDF Splitter</title>",
	"assets/index-3f2a.js": "console.log('split')",
	"favicon.svg":          "<svg/>",
	"about/index.html":     "<p>about</p>",
}

func writeSite(t *testing.T, dir string, files map[string]string) {
	t.Helper()
	for name, body := range files {
		p := filepath.Join(dir, filepath.FromSlash(name))
		if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
			t.Fatal(err)
		}
		if err := os.WriteFile(p, []byte(body), 0o644); err != nil {
			t.Fatal(err)
		}
	}
}

type fixture struct {
	handler http.Handler
	store   *locale.MemoryStore
	dir     string
}

func newFixture(t *testing.T, files map[string]string, mutate func(*Options)) *fixture {
	t.Helper()
	dir := filepath.Join(t.TempDir(), "dist")
	if files != nil {
		writeSite(t, dir, files)
	}
	cat, err := locale.Default()
	if err != nil {
		t.Fatal(err)
	}
	store := locale.NewMemoryStore()
	sel, err := locale.NewSelector(t.Context(), cat, store)
	if err != nil {
		t.Fatal(err)
	}
	opts := Options{Source: NewDirSource(dir), Selector: sel}
	if mutate != nil {
		mutate(&opts)
	}
	h, err := New(opts)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return &fixture{handler: h, store: store, dir: dir}
}

func (f *fixture) do(t *testing.T, method, target string, body io.Reader) *httptest.ResponseRecorder {
	t.Helper()
	rec := httptest.NewRecorder()
	f.handler.ServeHTTP(rec, httptest.NewRequest(method, target, body))
	return rec
}

func TestSite(t *testing.T) {
	f := newFixture(t, siteFiles, nil)

	tests := []struct {
		name     string
		method   string
		path     string
		code     int
		body     string
		cache    string
		location string
	}{
		{name: "root", path: "/", code: 200, body: "PDF Splitter", cache: "no-cache"},
		{name: "hashed asset", path: "/assets/index-3f2a.js", code: 200, body: "split", cache: "public, max-age=31536000, immutable"},
		{name: "other file", path: "/favicon.svg", code: 200, body: "<svg/>", cache: "no-cache"},
		{name: "client route gets shell", path: "/split/range", code: 200, body: "PDF Splitter", cache: "no-cache"},
		{name: "asset miss is 404", path: "/assets/gone.js", code: 404, body: "Page not found", cache: "no-store"},
		{name: "file miss is 404", path: "/robots.txt", code: 404, cache: "no-store"},
		{name: "dir redirect", path: "/about", code: 308, location: "/about/"},
		{name: "dir index", path: "/about/", code: 200, body: "about"},
		{name: "dot segments", path: "/assets/../index.html", code: 404},
		{name: "head", method: http.MethodHead, path: "/", code: 200},
		{name: "post rejected", method: http.MethodPost, path: "/", code: 405},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			method := tt.method
			if method == "" {
				method = http.MethodGet
			}
			rec := f.do(t, method, tt.path, http.NoBody)
			if rec.Code != tt.code {
				t.Fatalf("code = %d, want %d (body %q)", rec.Code, tt.code, rec.Body.String())
			}
			if tt.body != "" && !strings.Contains(rec.Body.String(), tt.body) {
				t.Fatalf("body = %q, want it to contain %q", rec.Body.String(), tt.body)
			}
			if tt.cache != "" && rec.Header().Get("Cache-Control") != tt.cache {
				t.Fatalf("Cache-Control = %q, want %q", rec.Header().Get("Cache-Control"), tt.cache)
			}
			if tt.location != "" && rec.Header().Get("Location") != tt.location {
				t.Fatalf("Location = %q, want %q", rec.Header().Get("Location"), tt.location)
			}
			if method == http.MethodHead && rec.Body.Len() != 0 {
				t.Fatal("HEAD returned a body")
			}
		})
	}
}

func TestSite_ContentTypeAndHeaders(t *testing.T) {
	f := newFixture(t, siteFiles, nil)
	rec := f.do(t, http.MethodGet, "/assets/index-3f2a.js", http.NoBody)

	if ct := rec.Header().Get("Content-Type"); !strings.HasPrefix(ct, "text/javascript") {
		t.Fatalf("Content-Type = %q", ct)
	}
	if rec.Header().Get("Content-Security-Policy") == "" {
		t.Fatal("security headers missing")
	}
	if len(rec.Header().Get("X-Request-Id")) != 32 {
		t.Fatalf("X-Request-Id = %q", rec.Header().Get("X-Request-Id"))
	}
}

func TestSite_OwnNotFoundPage(t *testing.T) {
	files := map[string]string{"index.html": "shell", "404.html": "custom missing"}
	f := newFixture(t, files, nil)

	rec := f.do(t, http.MethodGet, "/nope.txt", http.NoBody)
	if rec.Code != 404 || rec.Body.String() != "custom missing" {
		t.Fatalf("got %d %q", rec.Code, rec.Body.String())
	}
}

func TestSite_BasePath(t *testing.T) {
	f := newFixture(t, siteFiles, func(o *Options) { o.BasePath = "https://example.com/pdfsplit" })

	tests := []struct {
		path     string
		code     int
		location string
	}{
		{"/", 302, "/pdfsplit/"},
		{"/pdfsplit", 302, "/pdfsplit/"},
		{"/pdfsplit/", 200, ""},
		{"/pdfsplit/assets/index-3f2a.js", 200, ""},
		{"/pdfsplit/about", 308, "/pdfsplit/about/"},
		{"/assets/index-3f2a.js", 404, ""},
		{"/-/healthy", 200, ""},
	}
	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			rec := f.do(t, http.MethodGet, tt.path, http.NoBody)
			if rec.Code != tt.code {
				t.Fatalf("code = %d, want %d", rec.Code, tt.code)
			}
			if tt.location != "" && rec.Header().Get("Location") != tt.location {
				t.Fatalf("Location = %q, want %q", rec.Header().Get("Location"), tt.location)
			}
		})
	}
}

func TestSite_NotBuilt(t *testing.T) {
	f := newFixture(t, nil, nil)

	rec := f.do(t, http.MethodGet, "/", http.NoBody)
	if rec.Code != http.StatusServiceUnavailable || !strings.Contains(rec.Body.String(), "sitepack pack") {
		t.Fatalf("got %d %q", rec.Code, rec.Body.String())
	}
	if rec.Header().Get("Retry-After") == "" {
		t.Fatal("Retry-After missing")
	}

	if rec := f.do(t, http.MethodGet, "/-/healthy", http.NoBody); rec.Code != 200 {
		t.Fatalf("healthy = %d, want 200 before the first build", rec.Code)
	}
	if rec := f.do(t, http.MethodGet, "/-/ready", http.NoBody); rec.Code != 503 {
		t.Fatalf("ready = %d, want 503", rec.Code)
	}

	// the directory source picks up a build without a restart
	writeSite(t, f.dir, siteFiles)
	if rec := f.do(t, http.MethodGet, "/-/ready", http.NoBody); rec.Code != 200 {
		t.Fatalf("ready after build = %d", rec.Code)
	}
	if rec := f.do(t, http.MethodGet, "/", http.NoBody); rec.Code != 200 {
		t.Fatalf("site after build = %d", rec.Code)
	}
}

func TestReadiness_Gate(t *testing.T) {
	var gate health.ShutdownGate
	f := newFixture(t, siteFiles, func(o *Options) { o.Readiness = gate.Probe() })

	if rec := f.do(t, http.MethodGet, "/-/ready", http.NoBody); rec.Code != 200 {
		t.Fatalf("ready = %d", rec.Code)
	}
	gate.Set("shutting down")
	rec := f.do(t, http.MethodGet, "/-/ready", http.NoBody)
	if rec.Code != 503 || !strings.Contains(rec.Body.String(), "shutting down") {
		t.Fatalf("ready = %d %q", rec.Code, rec.Body.String())
	}
}

func packSite(t *testing.T, root string, files map[string]string) archive.Result {
	t.Helper()
	dist := filepath.Join(root, "dist")
	if err := os.RemoveAll(dist); err != nil {
		t.Fatal(err)
	}
	writeSite(t, dist, files)
	res, err := archive.New(archive.Options{
		Enabled:   true,
		SourceDir: dist,
		Dest:      filepath.Join(root, "dist.zip"),
	}).Pack(t.Context())
	if err != nil {
		t.Fatalf("Pack: %v", err)
	}
	return res
}

func TestZipSource(t *testing.T) {
	root := t.TempDir()
	zipPath := filepath.Join(root, "dist.zip")
	src := NewZipSource(zipPath, nil)
	t.Cleanup(func() { _ = src.Close() })

	if src.FS() != nil {
		t.Fatal("FS should be nil before the archive exists")
	}

	f := newFixture(t, nil, func(o *Options) { o.Source = src })
	if rec := f.do(t, http.MethodGet, "/", http.NoBody); rec.Code != 503 {
		t.Fatalf("code = %d, want 503 before packing", rec.Code)
	}

	packSite(t, root, siteFiles)
	rec := f.do(t, http.MethodGet, "/assets/index-3f2a.js", http.NoBody)
	if rec.Code != 200 || rec.Body.String() != "console.log('split')" {
		t.Fatalf("got %d %q", rec.Code, rec.Body.String())
	}
	if rec := f.do(t, http.MethodGet, "/split", http.NoBody); rec.Code != 200 || !strings.Contains(rec.Body.String(), "PDF Splitter") {
		t.Fatalf("SPA fallback from archive: %d", rec.Code)
	}

	// a later pack replaces the archive; the source reopens it
	packSite(t, root, map[string]string{"index.html": "<!doctype html><title>rebuilt with more bytes</title>"})
	rec = f.do(t, http.MethodGet, "/", http.NoBody)
	if !strings.Contains(rec.Body.String(), "rebuilt") {
		t.Fatalf("body after repack = %q", rec.Body.String())
	}
	if rec := f.do(t, http.MethodGet, "/assets/index-3f2a.js", http.NoBody); rec.Code != 404 {
		t.Fatalf("old asset after repack = %d, want 404", rec.Code)
	}
}

func TestZipSource_RangeRequest(t *testing.T) {
	root := t.TempDir()
	packSite(t, root, map[string]string{"index.html": "0123456789"})
	src := NewZipSource(filepath.Join(root, "dist.zip"), nil)
	t.Cleanup(func() { _ = src.Close() })

	f := newFixture(t, nil, func(o *Options) { o.Source = src })
	req := httptest.NewRequest(http.MethodGet, "/index.html", http.NoBody)
	req.Header.Set("Range", "bytes=2-4")
	rec := httptest.NewRecorder()
	f.handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusPartialContent || rec.Body.String() != "234" {
		t.Fatalf("got %d %q", rec.Code, rec.Body.String())
	}
}

func TestDirSource(t *testing.T) {
	dir := t.TempDir()
	if NewDirSource(filepath.Join(dir, "missing")).FS() != nil {
		t.Fatal("missing dir should yield nil")
	}
	file := filepath.Join(dir, "file")
	if err := os.WriteFile(file, nil, 0o644); err != nil {
		t.Fatal(err)
	}
	if NewDirSource(file).FS() != nil {
		t.Fatal("regular file should yield nil")
	}
	s := NewDirSource(dir)
	if s.FS() == nil || s.String() != dir {
		t.Fatal("existing dir should yield an FS")
	}
}

func TestLocaleAPI(t *testing.T) {
	f := newFixture(t, siteFiles, nil)

	rec := f.do(t, http.MethodGet, "/-/i18n/en.json", http.NoBody)
	if rec.Code != 200 {
		t.Fatalf("i18n en = %d", rec.Code)
	}
	var tree map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &tree); err != nil {
		t.Fatal(err)
	}
	if app, _ := tree["app"].(map[string]any); app["title"] != "PDF Splitter" {
		t.Fatalf("app.title = %v", tree["app"])
	}
	if rec := f.do(t, http.MethodGet, "/-/i18n/fr.json", http.NoBody); rec.Code != 404 {
		t.Fatalf("unknown locale = %d", rec.Code)
	}

	var st LocaleState
	req := httptest.NewRequest(http.MethodGet, "/-/locale", http.NoBody)
	req.Header.Set("Accept-Language", "en-GB,en;q=0.9")
	rec = httptest.NewRecorder()
	f.handler.ServeHTTP(rec, req)
	if err := json.Unmarshal(rec.Body.Bytes(), &st); err != nil {
		t.Fatal(err)
	}
	if st.Locale != "zh" || st.Fallback != "zh" || st.Suggested != "en" || strings.Join(st.Supported, ",") != "zh,en" {
		t.Fatalf("state = %+v", st)
	}

	tests := []struct {
		name string
		body string
		code int
	}{
		{"bad json", `{"locale":`, http.StatusBadRequest},
		{"unknown field", `{"lang":"en"}`, http.StatusBadRequest},
		{"unsupported", `{"locale":"fr"}`, http.StatusUnprocessableEntity},
		{"too large", `{"locale":"` + strings.Repeat("a", 2000) + `"}`, http.StatusRequestEntityTooLarge},
		{"ok", `{"locale":"en"}`, http.StatusOK},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := f.do(t, http.MethodPut, "/-/locale", strings.NewReader(tt.body))
			if rec.Code != tt.code {
				t.Fatalf("code = %d, want %d (%s)", rec.Code, tt.code, rec.Body.String())
			}
		})
	}

	got, err := f.store.Get(t.Context(), locale.StoreKey)
	if err != nil || got != "en" {
		t.Fatalf("stored = %q, %v", got, err)
	}
	rec = f.do(t, http.MethodGet, "/-/locale", http.NoBody)
	if !strings.Contains(rec.Body.String(), `"locale":"en"`) {
		t.Fatalf("state after set = %s", rec.Body.String())
	}
	if rec := f.do(t, http.MethodDelete, "/-/locale", http.NoBody); rec.Code != http.StatusMethodNotAllowed {
		t.Fatalf("DELETE = %d", rec.Code)
	}
}

type panicSource struct{}

func (panicSource) FS() fs.FS      { panic("source exploded") }
func (panicSource) String() string { return "panic" }

func TestRecoverAndMetrics(t *testing.T) {
	m := metrics.New()
	f := newFixture(t, nil, func(o *Options) {
		o.Source = panicSource{}
		o.MetricsMW = m.Middleware
		o.MetricsHandler = m.Handler()
		o.OnPanic = m.IncHttpPanic
	})

	if rec := f.do(t, http.MethodGet, "/split", http.NoBody); rec.Code != 500 {
		t.Fatalf("code = %d, want 500", rec.Code)
	}
	if rec := f.do(t, http.MethodGet, "/-/locale", http.NoBody); rec.Code != 200 {
		t.Fatalf("locale = %d", rec.Code)
	}

	rec := f.do(t, http.MethodGet, "/-/metrics", http.NoBody)
	if rec.Code != 200 {
		t.Fatalf("metrics = %d", rec.Code)
	}
	body := rec.Body.String()
	if !strings.Contains(body, "http_panic_total 1") {
		t.Fatalf("panic not counted:\n%s", body)
	}
	if !strings.Contains(body, `http_requests_total{method="GET",route="/-/locale",status="200"} 1`) {
		t.Fatalf("request not counted:\n%s", body)
	}
}

func TestNew_Validation(t *testing.T) {
	cat, _ := locale.Default()
	sel, _ := locale.NewSelector(t.Context(), cat, locale.NewMemoryStore())

	tests := []struct {
		name string
		opts Options
	}{
		{"no source", Options{Selector: sel}},
		{"no selector", Options{Source: NewDirSource("dist")}},
		{"base collides", Options{Source: NewDirSource("dist"), Selector: sel, BasePath: "/-/app/"}},
		{"fallback missing page", Options{Source: NewDirSource("dist"), Selector: sel, FallbackFS: os.DirFS(t.TempDir())}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := New(tt.opts); err == nil {
				t.Fatal("expected error")
			}
		})
	}
}

func TestNormalizeBase(t *testing.T) {
	tests := map[string]string{
		"":                         "/",
		"/":                        "/",
		"app":                      "/app/",
		"/app":                     "/app/",
		"/app/":                    "/app/",
		"/a/b/":                    "/a/b/",
		"https://cdn.example.com":  "/",
		"https://example.com/pdf/": "/pdf/",
	}
	for in, want := range tests {
		if got := normalizeBase(in); got != want {
			t.Errorf("normalizeBase(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestShouldTrace(t *testing.T) {
	for p, want := range map[string]bool{
		"/":                     true,
		"/-/locale":             true,
		"/-/healthy":            false,
		"/-/metrics":            false,
		"/assets/index-3f2a.js": false,
	} {
		if got := shouldTrace(p); got != want {
			t.Errorf("shouldTrace(%q) = %v", p, got)
		}
	}
}

func TestStart(t *testing.T) {
	f := newFixture(t, siteFiles, nil)
	addr, stop, err := Start(t.Context(), log.Nop(), "127.0.0.1:0", f.handler)
	if err != nil {
		t.Fatalf("Start: %v", err)
	}

	resp, err := http.Get("http://" + addr + "/-/healthy")
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != 200 {
		t.Fatalf("healthy = %d", resp.StatusCode)
	}

	if err := stop(t.Context()); err != nil {
		t.Fatalf("stop: %v", err)
	}
	if err := stop(t.Context()); err != nil {
		t.Fatalf("second stop: %v", err)
	}
}
