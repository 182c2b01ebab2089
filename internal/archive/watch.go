package archive

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io/fs"
	"math"
	"path/filepath"
	"strconv"
	"time"

	"github.com/keithlinneman/pdfsplit-web/internal/log"
)

const (
	// DefaultPollInterval is how often the watcher fingerprints the source dir.
	DefaultPollInterval = time.Second

	// maxBackoff caps exponential backoff on consecutive failed runs.
	maxBackoff = time.Minute
)

// pollResult describes what happened during a single poll cycle.
type pollResult int

const (
	pollNoChange  pollResult = iota // fingerprint matches the last packed tree
	pollUnsettled                   // tree changed since the previous poll; wait for it to settle
	pollPacked                      // tree changed and a new archive was written
	pollScanError                   // fingerprinting failed (source missing mid-build, etc.)
	pollPackError                   // packaging failed
)

// WatcherMetrics is implemented by the metrics package to observe watch mode.
type WatcherMetrics interface {
	IncWatchPolls()
	IncWatchRepacks()
	IncWatchError(errType string)
}

type WatcherOptions struct {
	Logger       log.Logger
	Packager     *Packager
	PollInterval time.Duration

	// OnPack is called after every successful repack, on the poll goroutine.
	OnPack func(Result)

	Metrics WatcherMetrics
}

// Watcher repackages the source directory whenever its contents change. A
// change is only packed once two consecutive polls agree, so a build that is
// still writing files is not archived half-way.
type Watcher struct {
	packager *Packager
	logger   log.Logger
	interval time.Duration
	onPack   func(Result)
	metrics  WatcherMetrics

	packed  string // fingerprint of the last archived tree
	pending string // fingerprint seen on the previous poll

	consecutiveErrs int
	pollCount       int64
	packCount       int64
}

func NewWatcher(opts WatcherOptions) *Watcher {
	if opts.Logger == nil {
		opts.Logger = log.Nop()
	}
	interval := opts.PollInterval
	if interval <= 0 {
		interval = DefaultPollInterval
	}
	return &Watcher{
		packager: opts.Packager,
		logger:   opts.Logger,
		interval: interval,
		onPack:   opts.OnPack,
		metrics:  opts.Metrics,
	}
}

// Run starts the poll loop. Blocks until ctx is cancelled.
func (w *Watcher) Run(ctx context.Context) error {
	w.logger.Info(ctx, "archive watcher starting",
		"source", w.packager.opts.SourceDir,
		"poll_interval", w.interval.String(),
	)

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			w.logger.Info(ctx, "archive watcher stopping",
				"reason", ctx.Err(),
				"polls", w.pollCount,
				"repacks", w.packCount,
			)
			return ctx.Err()
		case <-ticker.C:
			result := w.checkOnce(ctx)

			if result == pollScanError || result == pollPackError {
				w.consecutiveErrs++
				backoff := w.backoffDuration()
				w.logger.Warn(ctx, "archive watcher: backing off",
					"consecutive_errors", w.consecutiveErrs,
					"next_poll_in", backoff.String(),
				)
				ticker.Reset(backoff)
			} else if w.consecutiveErrs > 0 {
				w.logger.Info(ctx, "archive watcher: recovered, resuming normal interval",
					"had_consecutive_errors", w.consecutiveErrs,
				)
				w.consecutiveErrs = 0
				ticker.Reset(w.interval)
			}
		}
	}
}

// checkOnce performs a single fingerprint-compare-pack cycle.
func (w *Watcher) checkOnce(ctx context.Context) pollResult {
	w.pollCount++
	if w.metrics != nil {
		w.metrics.IncWatchPolls()
	}

	fp, err := Fingerprint(w.packager.opts.SourceDir, w.packager.opts.Dest)
	if err != nil {
		w.logger.Error(ctx, err, "archive watcher: scanning source failed")
		if w.metrics != nil {
			w.metrics.IncWatchError("scan")
		}
		w.pending = ""
		return pollScanError
	}

	if fp == w.packed {
		w.pending = ""
		return pollNoChange
	}
	if fp != w.pending {
		w.pending = fp
		return pollUnsettled
	}

	res, err := w.packager.Pack(ctx)
	if err != nil {
		if errors.Is(err, ErrBusy) {
			return pollUnsettled
		}
		w.logger.Error(ctx, err, "archive watcher: packaging failed, keeping previous archive")
		if w.metrics != nil {
			w.metrics.IncWatchError("pack")
		}
		return pollPackError
	}

	w.packed, w.pending = fp, ""
	w.packCount++
	if w.metrics != nil {
		w.metrics.IncWatchRepacks()
	}

	if w.onPack != nil {
		func() {
			defer func() {
				if r := recover(); r != nil {
					w.logger.Error(ctx, fmt.Errorf("OnPack panic: %v", r),
						"archive watcher: OnPack callback panicked, continuing",
					)
				}
			}()
			w.onPack(res)
		}()
	}
	return pollPacked
}

// backoffDuration computes exponential backoff capped at maxBackoff.
func (w *Watcher) backoffDuration() time.Duration {
	mult := math.Pow(2, float64(w.consecutiveErrs))
	d := time.Duration(float64(w.interval) * mult)
	if d > maxBackoff {
		d = maxBackoff
	}
	return d
}

// Fingerprint summarizes the names, sizes, modes and modification times
// under dir. The archive at exclude (and its temp files) is ignored.
func Fingerprint(dir, exclude string) (string, error) {
	excl, _ := filepath.Abs(exclude)
	h := sha256.New()
	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if abs, _ := filepath.Abs(path); abs == excl || isTempFor(abs, excl) {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return err
		}
		rel, _ := filepath.Rel(dir, path)
		h.Write([]byte(filepath.ToSlash(rel)))
		h.Write([]byte{0})
		h.Write([]byte(strconv.FormatInt(info.Size(), 10)))
		h.Write([]byte{0})
		h.Write([]byte(info.Mode().String()))
		h.Write([]byte{0})
		h.Write([]byte(strconv.FormatInt(info.ModTime().UnixNano(), 10)))
		h.Write([]byte{'\n'})
		return nil
	})
	if err != nil {
		return "", fatal("fingerprint", dir, err)
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

func isTempFor(path, dest string) bool {
	if filepath.Dir(path) != filepath.Dir(dest) {
		return false
	}
	base := filepath.Base(path)
	prefix := "." + filepath.Base(dest) + "."
	return len(base) > len(prefix) && base[:len(prefix)] == prefix && filepath.Ext(base) == ".tmp"
}
