package archive

import (
	"archive/zip"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sync/atomic"
	"time"

	"github.com/klauspost/compress/flate"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/keithlinneman/pdfsplit-web/internal/log"
)

const (
	// DefaultSourceDir is the build output directory, relative to the working directory.
	DefaultSourceDir = "dist"

	// DefaultDest is the archive written to the working directory.
	DefaultDest = "dist.zip"

	tracerName = "pdfsplit-web/archive"
)

type Options struct {
	// Enabled gates the whole run. When false Start completes immediately
	// and nothing on disk is touched.
	Enabled bool

	SourceDir string
	Dest      string

	// Level is the deflate level (1..9). Zero is unset and selects
	// flate.BestCompression, so flate.NoCompression cannot be requested.
	Level int

	Logger log.Logger

	// OnSkip is called for every entry dropped because it vanished.
	OnSkip func(rel string, err error)
}

// Result describes a finished run.
type Result struct {
	Disabled bool
	Path     string
	Bytes    int64
	SHA256   string
	Files    int
	Dirs     int
	Skipped  int
	Duration time.Duration
}

type Packager struct {
	opts     Options
	inflight atomic.Bool

	// beforeOpen runs just before a file entry is opened; tests use it to
	// remove files mid-run.
	beforeOpen func(rel string)
}

func New(opts Options) *Packager {
	if opts.SourceDir == "" {
		opts.SourceDir = DefaultSourceDir
	}
	if opts.Dest == "" {
		opts.Dest = DefaultDest
	}
	if opts.Level == 0 {
		opts.Level = flate.BestCompression
	}
	if opts.Logger == nil {
		opts.Logger = log.Nop()
	}
	return &Packager{opts: opts}
}

// Pack runs one packaging pass and blocks until the archive is closed.
func (p *Packager) Pack(ctx context.Context) (Result, error) {
	return p.Start(ctx).Wait(ctx)
}

// Start begins a packaging run in the background. The returned Job completes
// exactly once, after the output file has been closed and renamed into place.
func (p *Packager) Start(ctx context.Context) *Job {
	if !p.opts.Enabled {
		return completed(Result{Disabled: true}, nil)
	}
	if !p.inflight.CompareAndSwap(false, true) {
		return completed(Result{}, ErrBusy)
	}

	j := newJob()
	go func() {
		defer p.inflight.Store(false)
		res, err := p.run(ctx)
		j.complete(res, err)
	}()
	return j
}

func (p *Packager) run(ctx context.Context) (res Result, err error) {
	start := time.Now()
	L := p.opts.Logger
	src, dest := p.opts.SourceDir, p.opts.Dest

	ctx, span := otel.Tracer(tracerName).Start(ctx, "archive.pack",
		trace.WithAttributes(
			attribute.String("archive.source", src),
			attribute.String("archive.dest", dest),
			attribute.Int("archive.level", p.opts.Level),
		),
	)
	defer func() {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		} else {
			span.SetAttributes(
				attribute.Int64("archive.bytes", res.Bytes),
				attribute.Int("archive.files", res.Files),
				attribute.Int("archive.skipped", res.Skipped),
			)
		}
		span.End()
	}()

	info, err := os.Stat(src)
	if err != nil {
		return Result{}, fatal("stat", src, err)
	}
	if !info.IsDir() {
		return Result{}, fatal("stat", src, errors.New("not a directory"))
	}

	L.Info(ctx, fmt.Sprintf("Zipping %s to %s...", src, dest), "source", src, "dest", dest, "level", p.opts.Level)

	destDir := filepath.Dir(dest)
	tmp, err := os.CreateTemp(destDir, "."+filepath.Base(dest)+".*.tmp")
	if err != nil {
		return Result{}, fatal("create", dest, err)
	}
	tmpPath := tmp.Name()
	committed := false
	defer func() {
		if !committed {
			tmp.Close()
			os.Remove(tmpPath)
		}
	}()

	exclude := map[string]bool{}
	for _, name := range []string{dest, tmpPath} {
		if abs, err := filepath.Abs(name); err == nil {
			exclude[abs] = true
		}
	}

	h := sha256.New()
	cw := &countingWriter{w: io.MultiWriter(tmp, h)}
	zw := zip.NewWriter(cw)
	level := p.opts.Level
	zw.RegisterCompressor(zip.Deflate, func(w io.Writer) (io.WriteCloser, error) {
		return flate.NewWriter(w, level)
	})

	res, err = p.walk(ctx, zw, exclude)
	if err != nil {
		return Result{}, err
	}

	if err := zw.Close(); err != nil {
		return Result{}, fatal("finalize", dest, err)
	}
	if err := tmp.Chmod(0o644); err != nil {
		return Result{}, fatal("chmod", dest, err)
	}
	if err := tmp.Sync(); err != nil {
		return Result{}, fatal("sync", dest, err)
	}
	if err := tmp.Close(); err != nil {
		return Result{}, fatal("close", dest, err)
	}
	if err := os.Rename(tmpPath, dest); err != nil {
		return Result{}, fatal("rename", dest, err)
	}
	committed = true

	res.Path = dest
	res.Bytes = cw.n
	res.SHA256 = hex.EncodeToString(h.Sum(nil))
	res.Duration = time.Since(start)

	L.Info(ctx, fmt.Sprintf("Zip created: %s (%d total bytes)", dest, res.Bytes),
		"bytes", res.Bytes,
		"files", res.Files,
		"dirs", res.Dirs,
		"skipped", res.Skipped,
		"sha256", res.SHA256,
		"duration", res.Duration,
	)
	return res, nil
}

// walk streams every entry under the source directory into zw using paths
// relative to the source directory.
func (p *Packager) walk(ctx context.Context, zw *zip.Writer, exclude map[string]bool) (Result, error) {
	var res Result
	src := p.opts.SourceDir

	err := filepath.WalkDir(src, func(path string, d fs.DirEntry, walkErr error) error {
		if err := ctx.Err(); err != nil {
			return fatal("walk", path, err)
		}
		if walkErr != nil {
			if path != src && IsMissingEntry(walkErr) {
				p.skip(ctx, path, walkErr, &res)
				return nil
			}
			return fatal("walk", path, walkErr)
		}
		if path == src {
			return nil
		}

		rel, err := filepath.Rel(src, path)
		if err != nil {
			return fatal("walk", path, err)
		}
		name := filepath.ToSlash(rel)

		if abs, err := filepath.Abs(path); err == nil && exclude[abs] {
			return nil
		}

		info, err := d.Info()
		if err != nil {
			if IsMissingEntry(err) {
				p.skip(ctx, name, err, &res)
				if d.IsDir() {
					return fs.SkipDir
				}
				return nil
			}
			return fatal("stat", path, err)
		}

		switch {
		case info.IsDir():
			if err := writeDir(zw, name, info); err != nil {
				return fatal("write", name, err)
			}
			res.Dirs++
			return nil
		case info.Mode().IsRegular():
			if err := p.writeFile(zw, path, name, info); err != nil {
				if IsMissingEntry(err) {
					p.skip(ctx, name, err, &res)
					return nil
				}
				return fatal("write", name, err)
			}
			res.Files++
			return nil
		default:
			return fatal("stat", name, ErrUnsupportedEntry)
		}
	})
	return res, err
}

func (p *Packager) skip(ctx context.Context, name string, err error, res *Result) {
	res.Skipped++
	p.opts.Logger.Warn(ctx, "entry vanished during packaging, skipping", "path", name, "err", err)
	if p.opts.OnSkip != nil {
		p.opts.OnSkip(name, err)
	}
}

func writeDir(zw *zip.Writer, name string, info fs.FileInfo) error {
	hdr, err := zip.FileInfoHeader(info)
	if err != nil {
		return err
	}
	hdr.Name = name + "/"
	hdr.Method = zip.Store
	_, err = zw.CreateHeader(hdr)
	return err
}

// writeFile copies one regular file into zw. The file is opened before its
// header is written, so a file that vanished leaves no partial entry.
func (p *Packager) writeFile(zw *zip.Writer, path, name string, info fs.FileInfo) error {
	if p.beforeOpen != nil {
		p.beforeOpen(name)
	}
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	hdr, err := zip.FileInfoHeader(info)
	if err != nil {
		return err
	}
	hdr.Name = name
	hdr.Method = zip.Deflate

	w, err := zw.CreateHeader(hdr)
	if err != nil {
		return err
	}
	_, err = io.Copy(w, f)
	return err
}

// countingWriter tracks bytes handed to the underlying file so the reported
// size never needs a second stat.
type countingWriter struct {
	w io.Writer
	n int64
}

func (c *countingWriter) Write(b []byte) (int, error) {
	n, err := c.w.Write(b)
	c.n += int64(n)
	return n, err
}
