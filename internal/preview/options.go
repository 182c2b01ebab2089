package preview

import (
	"errors"
	"fmt"
	"io/fs"
	"net/http"
	"strings"

	"github.com/keithlinneman/pdfsplit-web/internal/health"
	"github.com/keithlinneman/pdfsplit-web/internal/locale"
	"github.com/keithlinneman/pdfsplit-web/internal/log"
	"github.com/keithlinneman/pdfsplit-web/internal/webassets"
)

var ErrInvalidOptions = errors.New("preview: invalid options")

type Options struct {
	Logger log.Logger
	Source Source

	// BasePath is where the site is mounted, always with a trailing slash.
	// Internal routes (/-/...) stay at the root.
	BasePath string

	// Selector backs /-/locale; its catalog backs /-/i18n.
	Selector *locale.Selector

	// FallbackFS holds the not-built and 404 pages.
	FallbackFS fs.FS

	// Optional instrumentation
	MetricsMW      func(http.Handler) http.Handler
	MetricsHandler http.Handler
	OnPanic        func()
	Tracing        bool

	// Readiness is AND-ed with the site probe (e.g. a shutdown gate).
	Readiness health.Probe

	CSP string

	IndexFile         string // default: "index.html"
	HTMLCacheControl  string // default: "no-cache"
	AssetCacheControl string // default: "public, max-age=31536000, immutable"
	OtherCacheControl string // default: "no-cache"

	// MaxBodyBytes bounds PUT /-/locale bodies.
	MaxBodyBytes int64 // default: 1024
}

func (o *Options) setDefaults() {
	if o.Logger == nil {
		o.Logger = log.Nop()
	}
	if o.FallbackFS == nil {
		o.FallbackFS = webassets.FallbackFS()
	}
	o.BasePath = normalizeBase(o.BasePath)
	if o.IndexFile == "" {
		o.IndexFile = "index.html"
	}
	if o.HTMLCacheControl == "" {
		o.HTMLCacheControl = "no-cache"
	}
	if o.AssetCacheControl == "" {
		o.AssetCacheControl = "public, max-age=31536000, immutable"
	}
	if o.OtherCacheControl == "" {
		o.OtherCacheControl = "no-cache"
	}
	if o.MaxBodyBytes <= 0 {
		o.MaxBodyBytes = 1024
	}
}

func (o *Options) validate() error {
	if o.Source == nil {
		return fmt.Errorf("%w: Source is nil", ErrInvalidOptions)
	}
	if o.Selector == nil {
		return fmt.Errorf("%w: Selector is nil", ErrInvalidOptions)
	}
	if strings.HasPrefix(o.BasePath, "/-/") {
		return fmt.Errorf("%w: base path %q collides with internal routes", ErrInvalidOptions, o.BasePath)
	}
	if _, err := fs.Stat(o.FallbackFS, webassets.NotBuiltFile); err != nil {
		return fmt.Errorf("%w: missing %q in fallback FS: %v", ErrInvalidOptions, webassets.NotBuiltFile, err)
	}
	return nil
}

// normalizeBase turns "", "app", "/app" and "/app/" into "/" or "/app/".
// Absolute URLs keep only their path.
func normalizeBase(b string) string {
	if i := strings.Index(b, "://"); i >= 0 {
		rest := b[i+3:]
		if j := strings.IndexByte(rest, '/'); j >= 0 {
			b = rest[j:]
		} else {
			b = "/"
		}
	}
	b = "/" + strings.Trim(b, "/")
	if b != "/" {
		b += "/"
	}
	return b
}
