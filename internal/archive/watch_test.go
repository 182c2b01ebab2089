package archive

import (
	"context"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"
)

type countingMetrics struct {
	polls, repacks, errs atomic.Int32
}

func (m *countingMetrics) IncWatchPolls()       { m.polls.Add(1) }
func (m *countingMetrics) IncWatchRepacks()     { m.repacks.Add(1) }
func (m *countingMetrics) IncWatchError(string) { m.errs.Add(1) }

func TestFingerprint(t *testing.T) {
	root := t.TempDir()
	writeTree(t, root, map[string]string{"a.txt": "hello", "sub/b.txt": "0123456789"})
	dest := filepath.Join(root, "dist.zip")

	fp1, err := Fingerprint(root, dest)
	if err != nil {
		t.Fatalf("Fingerprint: %v", err)
	}

	// the archive and its temp files do not count as changes
	writeTree(t, root, map[string]string{"dist.zip": "zip", ".dist.zip.123.tmp": "partial"})
	fp2, _ := Fingerprint(root, dest)
	if fp1 != fp2 {
		t.Fatal("fingerprint changed for excluded files")
	}

	writeTree(t, root, map[string]string{"sub/b.txt": "0123456789abc"})
	fp3, _ := Fingerprint(root, dest)
	if fp3 == fp1 {
		t.Fatal("fingerprint should change when a file grows")
	}

	if _, err := Fingerprint(filepath.Join(root, "missing"), dest); err == nil {
		t.Fatal("expected error for missing dir")
	}
}

func TestWatcher_PacksOnceSettled(t *testing.T) {
	m := &countingMetrics{}
	var packed []Result
	p, root := newTestPackager(t, map[string]string{"a.txt": "hello"}, Options{Enabled: true})
	w := NewWatcher(WatcherOptions{
		Packager: p,
		Metrics:  m,
		OnPack:   func(r Result) { packed = append(packed, r) },
	})

	if got := w.checkOnce(t.Context()); got != pollUnsettled {
		t.Fatalf("first poll = %v, want unsettled", got)
	}
	assertNoFile(t, filepath.Join(root, "dist.zip"))

	if got := w.checkOnce(t.Context()); got != pollPacked {
		t.Fatalf("second poll = %v, want packed", got)
	}
	if got := w.checkOnce(t.Context()); got != pollNoChange {
		t.Fatalf("third poll = %v, want no change", got)
	}
	if len(packed) != 1 || packed[0].Files != 1 {
		t.Fatalf("OnPack calls = %+v", packed)
	}

	// a change packs again after settling
	writeTree(t, filepath.Join(root, "dist"), map[string]string{"b.txt": "new"})
	if got := w.checkOnce(t.Context()); got != pollUnsettled {
		t.Fatalf("poll after change = %v", got)
	}
	if got := w.checkOnce(t.Context()); got != pollPacked {
		t.Fatalf("settled poll = %v", got)
	}
	if got := readZip(t, filepath.Join(root, "dist.zip")); got["b.txt"] != "new" {
		t.Fatalf("archive = %v", got)
	}

	if m.polls.Load() != 5 || m.repacks.Load() != 2 || m.errs.Load() != 0 {
		t.Fatalf("metrics polls=%d repacks=%d errs=%d", m.polls.Load(), m.repacks.Load(), m.errs.Load())
	}
}

func TestWatcher_ScanAndPackErrors(t *testing.T) {
	m := &countingMetrics{}
	p, root := newTestPackager(t, map[string]string{"a.txt": "hello"}, Options{Enabled: true})
	w := NewWatcher(WatcherOptions{Packager: p, Metrics: m})

	// unsupported entries fail packaging but not scanning
	if err := os.Symlink("a.txt", filepath.Join(root, "dist", "link")); err != nil {
		t.Skipf("symlinks unsupported: %v", err)
	}
	w.checkOnce(t.Context())
	if got := w.checkOnce(t.Context()); got != pollPackError {
		t.Fatalf("poll = %v, want pack error", got)
	}

	if err := os.RemoveAll(filepath.Join(root, "dist")); err != nil {
		t.Fatal(err)
	}
	if got := w.checkOnce(t.Context()); got != pollScanError {
		t.Fatalf("poll = %v, want scan error", got)
	}
	if m.errs.Load() != 2 {
		t.Fatalf("errors = %d", m.errs.Load())
	}
}

func TestWatcher_OnPackPanicRecovered(t *testing.T) {
	p, _ := newTestPackager(t, map[string]string{"a.txt": "hello"}, Options{Enabled: true})
	w := NewWatcher(WatcherOptions{Packager: p, OnPack: func(Result) { panic("boom") }})
	w.checkOnce(t.Context())
	if got := w.checkOnce(t.Context()); got != pollPacked {
		t.Fatalf("poll = %v", got)
	}
}

func TestWatcher_Backoff(t *testing.T) {
	w := NewWatcher(WatcherOptions{Packager: New(Options{}), PollInterval: time.Second})
	tests := []struct {
		errs int
		want time.Duration
	}{
		{1, 2 * time.Second},
		{2, 4 * time.Second},
		{3, 8 * time.Second},
		{10, maxBackoff},
	}
	for _, tt := range tests {
		w.consecutiveErrs = tt.errs
		if got := w.backoffDuration(); got != tt.want {
			t.Errorf("backoff(%d) = %v, want %v", tt.errs, got, tt.want)
		}
	}
}

func TestWatcher_RunStopsOnCancel(t *testing.T) {
	p, _ := newTestPackager(t, map[string]string{"a.txt": "hello"}, Options{Enabled: true})
	w := NewWatcher(WatcherOptions{Packager: p, PollInterval: 10 * time.Millisecond})

	ctx, cancel := context.WithCancel(t.Context())
	done := make(chan error, 1)
	go func() { done <- w.Run(ctx) }()
	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		if err == nil {
			t.Fatal("Run should return the context error")
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not stop")
	}
}
