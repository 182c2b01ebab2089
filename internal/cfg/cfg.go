package cfg

import (
	"errors"
	"flag"
	"fmt"
	"net"
	"net/url"
	"strings"

	"github.com/keithlinneman/pdfsplit-web/internal/log"
)

// EnvPrefix is prepended to every flag name when reading the environment.
const EnvPrefix = "SITEPACK_"

// Aliases maps flags to the build-tool variables the web app already sets.
// They are consulted after the prefixed name.
var Aliases = map[string]string{
	"build-zip": "VITE_BUILD_ZIP",
	"base-url":  "VITE_BASE_URL",
}

type App struct {
	Mode    string
	Root    string
	OutDir  string
	ZipName string
	ZipLvl  int
	BaseURL string

	// BuildZip only turns on for the exact string "true".
	BuildZip StrictBool

	LogJSON           bool
	LogLevel          string
	NoColor           bool
	StacktraceLevel   string
	IncludeErrorLinks bool
	MaxErrorLinks     int

	EnableTracing bool
	OTLPEndpoint  string
	TraceSample   float64

	PushgatewayURL string
	PushJob        string

	PublishS3Bucket string
	PublishS3Prefix string
	PublishSSMParam string
	SigningKeyARN   string

	PreviewHost    string
	PreviewPort    int
	PreviewFromZip bool

	LocaleStore string
}

// Register binds all config fields to the given FlagSet with defaults inline
func Register(fs *flag.FlagSet, c *App) {
	fs.StringVar(&c.Mode, "mode", "production", "build mode; selects .env.[mode] files")
	fs.StringVar(&c.Root, "root", ".", "project root holding .env files and the build output")
	fs.StringVar(&c.OutDir, "out-dir", "dist", "build output directory to package")
	fs.StringVar(&c.ZipName, "zip-name", "dist.zip", "archive file name")
	fs.IntVar(&c.ZipLvl, "zip-level", 9, "deflate level (1..9)")
	fs.StringVar(&c.BaseURL, "base-url", "/", "public base path the site is served under")
	fs.Var(&c.BuildZip, "build-zip", "package the build output (only the value \"true\" enables it)")

	fs.BoolVar(&c.LogJSON, "log-json", false, "JSON logs (true) or console (false)")
	fs.StringVar(&c.LogLevel, "log-level", "info", "debug|info|warn|error")
	fs.BoolVar(&c.NoColor, "no-color", false, "disable colored console output")
	fs.StringVar(&c.StacktraceLevel, "stacktrace-level", "error", "debug|info|warn|error")
	fs.BoolVar(&c.IncludeErrorLinks, "include-error-links", true, "Include error links in log messages")
	fs.IntVar(&c.MaxErrorLinks, "max-error-links", 5, "max error chain depth (1..64)")

	fs.BoolVar(&c.EnableTracing, "enable-tracing", false, "Enable OTLP tracing and push to otlp-endpoint")
	fs.StringVar(&c.OTLPEndpoint, "otlp-endpoint", "", "OTLP endpoint to push to (gRPC) (host:port)")
	fs.Float64Var(&c.TraceSample, "trace-sample", 1.0, "trace sampling ratio (0..1)")

	fs.StringVar(&c.PushgatewayURL, "pushgateway-url", "", "Prometheus Pushgateway to push build metrics to (empty disables)")
	fs.StringVar(&c.PushJob, "push-job", "pdfsplit-web-build", "Pushgateway job name")

	fs.StringVar(&c.PublishS3Bucket, "publish-s3-bucket", "", "s3 bucket to upload archives to")
	fs.StringVar(&c.PublishS3Prefix, "publish-s3-prefix", "apps/pdfsplit-web/site/bundles", "s3 prefix (key) for uploaded archives")
	fs.StringVar(&c.PublishSSMParam, "publish-ssm-param", "", "ssm parameter receiving the published archive hash")
	fs.StringVar(&c.SigningKeyARN, "signing-key-arn", "", "KMS key ARN for detached archive signatures (empty skips signing)")

	fs.StringVar(&c.PreviewHost, "preview-host", "127.0.0.1", "preview server listen host")
	fs.IntVar(&c.PreviewPort, "preview-port", 4173, "preview server listen TCP port (1..65535)")
	fs.BoolVar(&c.PreviewFromZip, "preview-zip", false, "serve the archive instead of the build directory")

	fs.StringVar(&c.LocaleStore, "locale-store", ".sitepack/prefs.json", "file holding the persisted locale preference")
}

// FillFromEnv sets any flag not explicitly passed on the CLI from env.
// Flag "foo-bar" maps to PREFIX_FOO_BAR, then to its entry in Aliases.
// Precedence: cli flag > prefixed env > alias env > default.
func FillFromEnv(fs *flag.FlagSet, prefix string, env map[string]string, logf func(string, ...any)) {
	explicit := make(map[string]bool)
	fs.Visit(func(f *flag.Flag) { explicit[f.Name] = true })

	fs.VisitAll(func(f *flag.Flag) {
		key := prefix + strings.ReplaceAll(strings.ToUpper(f.Name), "-", "_")
		envVal, envSet := env[key]
		if !envSet {
			alias, ok := Aliases[f.Name]
			if !ok {
				return
			}
			if envVal, envSet = env[alias]; !envSet {
				return
			}
			key = alias
		}
		if explicit[f.Name] {
			if logf != nil {
				logf("flag -%s: cli value %q overrides env %s=%q", f.Name, f.Value.String(), key, envVal)
			}
			return
		}
		prev := f.Value.String()
		if err := fs.Set(f.Name, envVal); err != nil {
			fs.Set(f.Name, prev)
			if logf != nil {
				logf("flag -%s: ignoring invalid env %s=%q: %v", f.Name, key, envVal, err)
			}
		}
	})
}

// LoggerOptions maps the logging flags onto log.Options.
func (c App) LoggerOptions(app, version string) (log.Options, error) {
	lvl, err := log.ParseLevel(c.LogLevel)
	if err != nil {
		return log.Options{}, err
	}
	stack, err := log.ParseLevel(c.StacktraceLevel)
	if err != nil {
		return log.Options{}, err
	}
	format := log.FormatConsole
	if c.LogJSON {
		format = log.FormatJSON
	}
	return log.Options{
		App:               app,
		Version:           version,
		Level:             lvl,
		StacktraceLevel:   stack,
		Format:            format,
		NoColor:           c.NoColor,
		IncludeErrorLinks: c.IncludeErrorLinks,
		MaxErrorLinks:     c.MaxErrorLinks,
	}, nil
}

// Validate checks that config values are within expected ranges and formats.
// Returns an error describing all invalid fields, or nil if all valid.
func Validate(c App) error {
	var errs []error

	// Build output
	if strings.TrimSpace(c.OutDir) == "" {
		errs = append(errs, fmt.Errorf("OUT_DIR is required"))
	}
	if strings.TrimSpace(c.ZipName) == "" {
		errs = append(errs, fmt.Errorf("ZIP_NAME is required"))
	}
	if c.ZipLvl < 1 || c.ZipLvl > 9 {
		errs = append(errs, fmt.Errorf("invalid ZIP_LEVEL %d (must be 1..9)", c.ZipLvl))
	}
	if !validBase(c.BaseURL) {
		errs = append(errs, fmt.Errorf("BASE_URL must be a path starting with / or ./, or an absolute URL (got %q)", c.BaseURL))
	}

	// Log levels
	if _, err := log.ParseLevel(c.LogLevel); err != nil {
		errs = append(errs, fmt.Errorf("invalid LOG_LEVEL %q: %w", c.LogLevel, err))
	}
	if c.StacktraceLevel != "" {
		if _, err := log.ParseLevel(c.StacktraceLevel); err != nil {
			errs = append(errs, fmt.Errorf("invalid STACKTRACE_LEVEL %q: %w", c.StacktraceLevel, err))
		}
	}

	// Error link limits
	if c.IncludeErrorLinks {
		if c.MaxErrorLinks < 1 || c.MaxErrorLinks > 64 {
			errs = append(errs, fmt.Errorf("MAX_ERROR_LINKS must be 1..64 (got %d)", c.MaxErrorLinks))
		}
	}

	// Tracing sample
	if c.TraceSample < 0 || c.TraceSample > 1 {
		errs = append(errs, fmt.Errorf("invalid TRACE_SAMPLE %.3f (must be 0..1)", c.TraceSample))
	}

	// OTLP tracing (grpc exporter wants host:port, no scheme)
	if c.EnableTracing {
		if c.OTLPEndpoint == "" {
			errs = append(errs, fmt.Errorf("OTLP_ENDPOINT required when ENABLE_TRACING=true"))
		} else if _, _, err := net.SplitHostPort(c.OTLPEndpoint); err != nil {
			errs = append(errs, fmt.Errorf("OTLP_ENDPOINT must be host:port (got %q): %v", c.OTLPEndpoint, err))
		}
	}

	// Pushgateway
	if c.PushgatewayURL != "" {
		if u, err := url.Parse(c.PushgatewayURL); err != nil || u.Scheme == "" || u.Host == "" {
			errs = append(errs, fmt.Errorf("PUSHGATEWAY_URL must be a URL (got %q)", c.PushgatewayURL))
		}
		if c.PushJob == "" {
			errs = append(errs, fmt.Errorf("PUSH_JOB required when PUSHGATEWAY_URL is set"))
		}
	}

	// Preview
	if c.PreviewPort < 1 || c.PreviewPort > 65535 {
		errs = append(errs, fmt.Errorf("invalid PREVIEW_PORT %d (must be 1..65535)", c.PreviewPort))
	}

	if len(errs) > 0 {
		return errors.Join(errs...)
	}
	return nil
}

// ValidatePublish checks the settings only the publish command needs.
func ValidatePublish(c App) error {
	var errs []error
	if c.PublishS3Bucket == "" {
		errs = append(errs, fmt.Errorf("PUBLISH_S3_BUCKET is required"))
	}
	if c.PublishS3Prefix == "" {
		errs = append(errs, fmt.Errorf("PUBLISH_S3_PREFIX is required"))
	}
	if c.PublishSSMParam == "" {
		errs = append(errs, fmt.Errorf("PUBLISH_SSM_PARAM is required"))
	}
	if c.SigningKeyARN != "" && !strings.HasPrefix(c.SigningKeyARN, "arn:") {
		errs = append(errs, fmt.Errorf("SIGNING_KEY_ARN must be an ARN (got %q)", c.SigningKeyARN))
	}
	return errors.Join(errs...)
}

func validBase(base string) bool {
	switch {
	case base == "":
		return false
	case strings.HasPrefix(base, "/"), strings.HasPrefix(base, "./"):
		return true
	}
	u, err := url.Parse(base)
	return err == nil && (u.Scheme == "http" || u.Scheme == "https") && u.Host != ""
}
