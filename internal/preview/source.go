package preview

import (
	"context"
	"errors"
	"io/fs"
	"os"
	"sync"
	"time"

	"github.com/keithlinneman/pdfsplit-web/internal/archive"
	"github.com/keithlinneman/pdfsplit-web/internal/log"
)

// Source yields the tree being previewed. FS returns nil while nothing has
// been built; callers must not cache the result across requests.
type Source interface {
	FS() fs.FS
	String() string
}

// DirSource serves a build output directory as it is on disk.
type DirSource struct {
	dir string
}

func NewDirSource(dir string) *DirSource { return &DirSource{dir: dir} }

func (s *DirSource) FS() fs.FS {
	info, err := os.Stat(s.dir)
	if err != nil || !info.IsDir() {
		return nil
	}
	return os.DirFS(s.dir)
}

func (s *DirSource) String() string { return s.dir }

// ZipSource serves a finished archive and reopens it when the file on disk
// is replaced by a later pack. Superseded readers stay open until Close
// since in-flight responses may still be reading them.
type ZipSource struct {
	path   string
	logger log.Logger

	mu      sync.Mutex
	cur     *archive.Reader
	modTime time.Time
	size    int64
	stale   []*archive.Reader
}

func NewZipSource(path string, logger log.Logger) *ZipSource {
	if logger == nil {
		logger = log.Nop()
	}
	return &ZipSource{path: path, logger: logger}
}

func (s *ZipSource) FS() fs.FS {
	s.mu.Lock()
	defer s.mu.Unlock()

	info, err := os.Stat(s.path)
	if err != nil {
		if !errors.Is(err, fs.ErrNotExist) {
			s.logger.Warn(context.Background(), "stat archive failed", "path", s.path, "error", err)
		}
		return s.current()
	}
	if s.cur != nil && info.ModTime().Equal(s.modTime) && info.Size() == s.size {
		return s.cur
	}

	r, err := archive.Open(s.path)
	if err != nil {
		// mid-rename or corrupt: keep serving what we had
		s.logger.Warn(context.Background(), "open archive failed", "path", s.path, "error", err)
		return s.current()
	}
	if s.cur != nil {
		s.stale = append(s.stale, s.cur)
		s.logger.Info(context.Background(), "archive changed, reloaded", "path", s.path, "bytes", info.Size())
	}
	s.cur, s.modTime, s.size = r, info.ModTime(), info.Size()
	return s.cur
}

// avoids returning a typed nil *archive.Reader as a non-nil fs.FS
func (s *ZipSource) current() fs.FS {
	if s.cur == nil {
		return nil
	}
	return s.cur
}

func (s *ZipSource) String() string { return s.path }

func (s *ZipSource) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	var errs []error
	for _, r := range append(s.stale, s.cur) {
		if r != nil {
			errs = append(errs, r.Close())
		}
	}
	s.cur, s.stale = nil, nil
	return errors.Join(errs...)
}
