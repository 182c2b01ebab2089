package health

import (
	"context"
	"errors"
	"io/fs"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"testing/fstest"
)

func TestAll(t *testing.T) {
	errA := errors.New("a down")
	errB := errors.New("b down")

	tests := []struct {
		name   string
		probes []Probe
		want   error
	}{
		{"empty", nil, nil},
		{"nil probes skipped", []Probe{nil, CheckFunc(func(context.Context) error { return nil })}, nil},
		{"first failure wins", []Probe{
			CheckFunc(func(context.Context) error { return nil }),
			CheckFunc(func(context.Context) error { return errA }),
			CheckFunc(func(context.Context) error { return errB }),
		}, errA},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := All(tt.probes...).Check(t.Context()); !errors.Is(got, tt.want) {
				t.Fatalf("All() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestSiteProbe(t *testing.T) {
	built := fstest.MapFS{"index.html": {Data: []byte("<html>")}}
	dirIndex := fstest.MapFS{"index.html/x": {Data: []byte("x")}}
	empty := fstest.MapFS{"assets/app.js": {Data: []byte("x")}}

	tests := []struct {
		name    string
		fsys    fs.FS
		wantErr string
	}{
		{"built", built, ""},
		{"not built", nil, "site not built"},
		{"no index", empty, "site missing index.html"},
		{"index is dir", dirIndex, "is a directory"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := SiteProbe(func() fs.FS { return tt.fsys }, "")
			err := p.Check(t.Context())
			if tt.wantErr == "" {
				if err != nil {
					t.Fatalf("Check: %v", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Fatalf("Check = %v, want %q", err, tt.wantErr)
			}
		})
	}
}

func TestShutdownGate(t *testing.T) {
	var g ShutdownGate
	p := g.Probe()
	if err := p.Check(t.Context()); err != nil {
		t.Fatalf("fresh gate should pass: %v", err)
	}

	g.Set("")
	if err := p.Check(t.Context()); err == nil || err.Error() != "draining" {
		t.Fatalf("Check = %v, want draining", err)
	}

	g.Set("shutting down")
	if err := p.Check(t.Context()); err == nil || err.Error() != "shutting down" {
		t.Fatalf("Check = %v, want custom reason", err)
	}
}

func TestHandlers(t *testing.T) {
	failing := CheckFunc(func(context.Context) error { return errors.New("site not built") })

	tests := []struct {
		name     string
		h        http.HandlerFunc
		wantCode int
		wantBody string
	}{
		{"healthy nil probe", HealthzHandler(nil), http.StatusOK, "ok\n"},
		{"ready passing", ReadyzHandler(CheckFunc(func(context.Context) error { return nil })), http.StatusOK, "ready\n"},
		{"ready failing", ReadyzHandler(failing), http.StatusServiceUnavailable, "site not built\n\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			tt.h(rec, httptest.NewRequest(http.MethodGet, "/-/ready", http.NoBody))
			if rec.Code != tt.wantCode {
				t.Fatalf("code = %d, want %d", rec.Code, tt.wantCode)
			}
			if rec.Body.String() != tt.wantBody {
				t.Fatalf("body = %q, want %q", rec.Body.String(), tt.wantBody)
			}
			if cc := rec.Header().Get("Cache-Control"); cc != "no-store" {
				t.Fatalf("Cache-Control = %q", cc)
			}
		})
	}
}
