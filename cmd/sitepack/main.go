package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/keithlinneman/pdfsplit-web/internal/cfg"
	"github.com/keithlinneman/pdfsplit-web/internal/log"
	"github.com/keithlinneman/pdfsplit-web/internal/metrics"
	"github.com/keithlinneman/pdfsplit-web/internal/otelx"
	v "github.com/keithlinneman/pdfsplit-web/internal/version"
)

const usage = `usage: sitepack [flags] <command> [args]

commands:
  pack [-watch] [-publish]         zip the build output (default)
  verify [-against dir] [-sig f]   check a finished archive
  publish                          upload the archive and move the release pointer
  preview [-watch]                 serve the build output or archive locally
  locale check|get|set|export      inspect messages and the saved locale
  version                          print build information

flags:
`

// errUsage marks errors caused by bad arguments (exit status 2).
var errUsage = errors.New("usage")

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	code := run(ctx, os.Args[1:], os.Stdout, os.Stderr)
	stop()
	os.Exit(code)
}

// app carries what every command needs once config and logging are set up.
type app struct {
	conf   cfg.App
	L      log.Logger
	m      *metrics.Metrics
	stdout io.Writer
}

func run(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	vi := v.Get()

	var conf cfg.App
	fs := flag.NewFlagSet(v.AppName, flag.ContinueOnError)
	fs.SetOutput(stderr)
	fs.Usage = func() {
		fmt.Fprint(stderr, usage)
		fs.PrintDefaults()
	}
	cfg.Register(fs, &conf)
	if err := fs.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return 0
		}
		return 2
	}

	cmd, cmdArgs := "pack", []string(nil)
	if fs.NArg() > 0 {
		cmd, cmdArgs = fs.Arg(0), fs.Args()[1:]
	}
	if cmd == "version" {
		fmt.Fprintln(stdout, vi.String())
		return 0
	}

	// .env files for the mode, then env over defaults
	mode := cfg.ResolveMode(fs, cfg.EnvPrefix)
	env, err := cfg.LoadEnvFiles(conf.Root, mode)
	if err != nil {
		fmt.Fprintln(stderr, "config error:", err)
		return 1
	}
	cfg.FillFromEnv(fs, cfg.EnvPrefix, env, func(format string, args ...any) {
		fmt.Fprintf(stderr, format+"\n", args...)
	})
	if err := cfg.Validate(conf); err != nil {
		fmt.Fprintln(stderr, "config error:", err)
		return 1
	}

	logOpts, err := conf.LoggerOptions(v.AppName, vi.Version)
	if err != nil {
		fmt.Fprintln(stderr, "config error:", err)
		return 1
	}
	logOpts.Writer = stderr
	lg, err := log.New(logOpts)
	if err != nil {
		fmt.Fprintln(stderr, "logger init error:", err)
		return 1
	}
	defer lg.Sync()
	L := lg.With("component", cmd)
	ctx = log.WithContext(ctx, L)

	L.Debug(ctx, "starting",
		"version", vi.Version,
		"commit", vi.Commit,
		"build_id", vi.BuildId,
		"vcs_dirty", vi.Dirty(),
		"mode", mode,
		"root", conf.Root,
		"out_dir", conf.OutDir,
		"zip_name", conf.ZipName,
		"build_zip", conf.BuildZip.Bool(),
		"enable_tracing", conf.EnableTracing,
		"pushgateway_url", conf.PushgatewayURL,
	)

	shutdownOTEL, err := otelx.Init(ctx, otelx.Options{
		Enabled:   conf.EnableTracing,
		Endpoint:  conf.OTLPEndpoint,
		Sample:    conf.TraceSample,
		Service:   v.AppName,
		Component: cmd,
		Version:   vi.Version,
	})
	if err != nil {
		// tracing is best effort; the build must not depend on a collector
		L.Error(ctx, err, "otel init failed, continuing without tracing")
		shutdownOTEL = func(context.Context) error { return nil }
	}
	defer func() {
		if err := shutdownOTEL(context.Background()); err != nil {
			L.Warn(ctx, "trace flush failed", "error", err)
		}
	}()

	m := metrics.New()
	m.SetBuildInfoFromVersion(v.AppName, cmd, vi)

	a := &app{conf: conf, L: L, m: m, stdout: stdout}
	err = a.dispatch(ctx, cmd, cmdArgs)

	if conf.PushgatewayURL != "" && (cmd == "pack" || cmd == "publish") {
		instance, _ := os.Hostname()
		if perr := m.Push(context.WithoutCancel(ctx), conf.PushgatewayURL, conf.PushJob, instance); perr != nil {
			L.Warn(ctx, "metrics push failed", "error", perr, "pushgateway_url", conf.PushgatewayURL)
		}
	}

	switch {
	case err == nil:
		return 0
	case errors.Is(err, errUsage):
		fmt.Fprintln(stderr, err)
		fs.Usage()
		return 2
	default:
		L.Error(ctx, err, cmd+" failed")
		return 1
	}
}

func (a *app) dispatch(ctx context.Context, cmd string, args []string) error {
	switch cmd {
	case "pack":
		return a.pack(ctx, args)
	case "verify":
		return a.verify(ctx, args)
	case "publish":
		return a.publish(ctx, args)
	case "preview":
		return a.preview(ctx, args)
	case "locale":
		return a.locale(ctx, args)
	default:
		return fmt.Errorf("%w: unknown command %q", errUsage, cmd)
	}
}

// path resolves a config path against -root.
func (a *app) path(p string) string {
	if filepath.IsAbs(p) {
		return p
	}
	return filepath.Join(a.conf.Root, p)
}

func (a *app) sourceDir() string { return a.path(a.conf.OutDir) }
func (a *app) zipPath() string   { return a.path(a.conf.ZipName) }

// subFlags builds a flag set for a command's own arguments.
func subFlags(name string, out io.Writer) *flag.FlagSet {
	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	fs.SetOutput(out)
	return fs
}

func parseSub(fs *flag.FlagSet, args []string) error {
	if err := fs.Parse(args); err != nil {
		return fmt.Errorf("%w: %s: %v", errUsage, fs.Name(), err)
	}
	return nil
}
