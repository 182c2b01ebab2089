package main

import (
	"context"
	"io"
	"net"
	"strconv"

	"github.com/keithlinneman/pdfsplit-web/internal/archive"
	"github.com/keithlinneman/pdfsplit-web/internal/health"
	"github.com/keithlinneman/pdfsplit-web/internal/locale"
	"github.com/keithlinneman/pdfsplit-web/internal/preview"
	"github.com/keithlinneman/pdfsplit-web/internal/webassets"
)

// preview serves the build output (or its archive) until ctx is cancelled.
func (a *app) preview(ctx context.Context, args []string) error {
	fs := subFlags("preview", io.Discard)
	watch := fs.Bool("watch", false, "repack the archive while serving")
	if err := parseSub(fs, args); err != nil {
		return err
	}

	cat, err := locale.Default()
	if err != nil {
		return err
	}
	sel, err := locale.NewSelector(ctx, cat, locale.NewFileStore(a.path(a.conf.LocaleStore)))
	if err != nil {
		return err
	}

	var src preview.Source
	if a.conf.PreviewFromZip {
		zs := preview.NewZipSource(a.zipPath(), a.L)
		defer zs.Close()
		src = zs
	} else {
		src = preview.NewDirSource(a.sourceDir())
	}

	a.m.WithRuntimeCollectors()
	var gate health.ShutdownGate
	h, err := preview.New(preview.Options{
		Logger:         a.L,
		Source:         src,
		BasePath:       a.conf.BaseURL,
		Selector:       sel,
		FallbackFS:     webassets.FallbackFS(),
		MetricsMW:      a.m.Middleware,
		MetricsHandler: a.m.Handler(),
		OnPanic:        a.m.IncHttpPanic,
		Tracing:        a.conf.EnableTracing,
		Readiness:      gate.Probe(),
	})
	if err != nil {
		return err
	}

	if *watch {
		w := archive.NewWatcher(archive.WatcherOptions{
			Logger:   a.L,
			Packager: a.packager(),
			OnPack:   func(res archive.Result) { a.m.ObservePack(res, nil) },
			Metrics:  a.m,
		})
		go func() {
			if err := w.Run(ctx); err != nil && ctx.Err() == nil {
				a.L.Error(ctx, err, "archive watcher stopped")
			}
		}()
	}

	addr := net.JoinHostPort(a.conf.PreviewHost, strconv.Itoa(a.conf.PreviewPort))
	bound, stop, err := preview.Start(ctx, a.L, addr, h)
	if err != nil {
		return err
	}
	a.L.Info(ctx, "serving", "addr", bound, "base", a.conf.BaseURL, "source", src.String())

	<-ctx.Done()
	gate.Set("shutting down")
	return stop(context.WithoutCancel(ctx))
}
