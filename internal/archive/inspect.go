package archive

import (
	"archive/zip"
	"context"
	"errors"
	"fmt"
	"hash/crc32"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/keithlinneman/pdfsplit-web/internal/pathutil"
	"github.com/keithlinneman/pdfsplit-web/internal/xerrors"
)

const (
	// DefaultMaxFile caps a single extracted entry.
	DefaultMaxFile int64 = 10 * 1024 * 1024 // 10MB

	// DefaultMaxTotal caps the sum of all extracted entries.
	DefaultMaxTotal int64 = 100 * 1024 * 1024 // 100MB
)

// Entry is one member of a finished archive.
type Entry struct {
	Name           string      `json:"name"`
	Dir            bool        `json:"dir,omitempty"`
	Size           int64       `json:"size"`
	CompressedSize int64       `json:"compressed_size"`
	CRC32          uint32      `json:"crc32"`
	Mode           fs.FileMode `json:"mode"`
	Modified       time.Time   `json:"modified"`
}

type Manifest struct {
	Entries    []Entry `json:"entries"`
	Files      int     `json:"files"`
	Dirs       int     `json:"dirs"`
	TotalBytes int64   `json:"total_bytes"`
}

// File returns the entry with the given name.
func (m Manifest) File(name string) (Entry, bool) {
	i := sort.Search(len(m.Entries), func(i int) bool { return m.Entries[i].Name >= name })
	if i < len(m.Entries) && m.Entries[i].Name == name {
		return m.Entries[i], true
	}
	return Entry{}, false
}

// Inspect reads every entry of the archive at path, verifying names and
// checksums, and returns the entries sorted by name.
func Inspect(path string) (Manifest, error) {
	zr, err := zip.OpenReader(path)
	if err != nil {
		return Manifest{}, fatal("open", path, err)
	}
	defer zr.Close()

	var m Manifest
	for _, f := range zr.File {
		if !pathutil.IsSafeEntryName(f.Name) {
			return Manifest{}, fatal("inspect", f.Name, errors.New("unsafe entry name"))
		}
		e := Entry{
			Name:           f.Name,
			Dir:            strings.HasSuffix(f.Name, "/"),
			Size:           int64(f.UncompressedSize64),
			CompressedSize: int64(f.CompressedSize64),
			CRC32:          f.CRC32,
			Mode:           f.Mode(),
			Modified:       f.Modified,
		}
		if e.Dir {
			m.Dirs++
			m.Entries = append(m.Entries, e)
			continue
		}
		// reading to EOF makes archive/zip compare the CRC32
		if err := drain(f); err != nil {
			return Manifest{}, fatal("inspect", f.Name, err)
		}
		m.Files++
		m.TotalBytes += e.Size
		m.Entries = append(m.Entries, e)
	}
	sort.Slice(m.Entries, func(i, j int) bool { return m.Entries[i].Name < m.Entries[j].Name })
	return m, nil
}

func drain(f *zip.File) error {
	rc, err := f.Open()
	if err != nil {
		return err
	}
	defer rc.Close()
	_, err = io.Copy(io.Discard, rc)
	return err
}

// Mismatch describes one difference between an archive and a directory.
type Mismatch struct {
	Name   string
	Reason string
}

func (m Mismatch) String() string { return m.Name + ": " + m.Reason }

// Compare checks that every regular file in fsys is present in m with the
// same size and CRC32, and that m holds no extra files.
func (m Manifest) Compare(fsys fs.FS) ([]Mismatch, error) {
	var out []Mismatch
	seen := make(map[string]bool, m.Files)

	err := fs.WalkDir(fsys, ".", func(name string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() || !d.Type().IsRegular() {
			return nil
		}
		seen[name] = true
		e, ok := m.File(name)
		if !ok {
			out = append(out, Mismatch{Name: name, Reason: "missing from archive"})
			return nil
		}
		sum, size, err := crcFile(fsys, name)
		if err != nil {
			return err
		}
		switch {
		case size != e.Size:
			out = append(out, Mismatch{Name: name, Reason: fmt.Sprintf("size %d, archive has %d", size, e.Size)})
		case sum != e.CRC32:
			out = append(out, Mismatch{Name: name, Reason: "content differs"})
		}
		return nil
	})
	if err != nil {
		return nil, xerrors.Wrap(err, "walk source")
	}

	for _, e := range m.Entries {
		if !e.Dir && !seen[e.Name] {
			out = append(out, Mismatch{Name: e.Name, Reason: "not in source"})
		}
	}
	return out, nil
}

func crcFile(fsys fs.FS, name string) (uint32, int64, error) {
	f, err := fsys.Open(name)
	if err != nil {
		return 0, 0, err
	}
	defer f.Close()
	h := crc32.NewIEEE()
	n, err := io.Copy(h, f)
	return h.Sum32(), n, err
}

// Reader exposes a finished archive as a read-only fs.FS.
type Reader struct {
	rc *zip.ReadCloser
}

// Open opens the archive at path after validating every entry name.
func Open(path string) (*Reader, error) {
	rc, err := zip.OpenReader(path)
	if err != nil {
		return nil, fatal("open", path, err)
	}
	for _, f := range rc.File {
		if !pathutil.IsSafeEntryName(f.Name) {
			rc.Close()
			return nil, fatal("open", f.Name, errors.New("unsafe entry name"))
		}
	}
	return &Reader{rc: rc}, nil
}

func (r *Reader) Open(name string) (fs.File, error) { return r.rc.Open(name) }

func (r *Reader) Close() error { return r.rc.Close() }

// Limits bounds what Extract is willing to write.
type Limits struct {
	MaxFile  int64
	MaxTotal int64
}

func (l Limits) withDefaults() Limits {
	if l.MaxFile <= 0 {
		l.MaxFile = DefaultMaxFile
	}
	if l.MaxTotal <= 0 {
		l.MaxTotal = DefaultMaxTotal
	}
	return l
}

// Extract writes the archive at path into dst, which is created if needed.
func Extract(ctx context.Context, path, dst string, limits Limits) (Manifest, error) {
	limits = limits.withDefaults()

	zr, err := zip.OpenReader(path)
	if err != nil {
		return Manifest{}, fatal("open", path, err)
	}
	defer zr.Close()

	if err := os.MkdirAll(dst, 0o755); err != nil {
		return Manifest{}, fatal("extract", dst, err)
	}

	var m Manifest
	for _, f := range zr.File {
		if err := ctx.Err(); err != nil {
			return Manifest{}, fatal("extract", f.Name, err)
		}
		target, err := sanitizeEntryPath(dst, f.Name)
		if err != nil {
			return Manifest{}, fatal("extract", f.Name, err)
		}
		e := Entry{Name: f.Name, Mode: f.Mode(), Modified: f.Modified, CRC32: f.CRC32}

		if strings.HasSuffix(f.Name, "/") {
			if err := os.MkdirAll(target, 0o755); err != nil {
				return Manifest{}, fatal("extract", f.Name, err)
			}
			e.Dir = true
			m.Dirs++
			m.Entries = append(m.Entries, e)
			continue
		}
		if !f.Mode().IsRegular() {
			return Manifest{}, fatal("extract", f.Name, ErrUnsupportedEntry)
		}
		if int64(f.UncompressedSize64) > limits.MaxFile {
			return Manifest{}, fatal("extract", f.Name,
				fmt.Errorf("entry exceeds max size (%d > %d)", f.UncompressedSize64, limits.MaxFile))
		}
		if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
			return Manifest{}, fatal("extract", f.Name, err)
		}
		n, err := writeEntry(target, f, limits.MaxFile)
		if err != nil {
			return Manifest{}, fatal("extract", f.Name, err)
		}
		m.TotalBytes += n
		if m.TotalBytes > limits.MaxTotal {
			return Manifest{}, fatal("extract", f.Name,
				fmt.Errorf("total extracted size exceeds limit (%d bytes, max %d)", m.TotalBytes, limits.MaxTotal))
		}
		e.Size = n
		m.Files++
		m.Entries = append(m.Entries, e)
	}
	sort.Slice(m.Entries, func(i, j int) bool { return m.Entries[i].Name < m.Entries[j].Name })
	return m, nil
}

// sanitizeEntryPath maps an entry name under dst, rejecting anything that
// would land outside it.
func sanitizeEntryPath(dst, name string) (string, error) {
	if !pathutil.IsSafeEntryName(name) {
		return "", xerrors.Newf("unsafe entry name: %q", name)
	}
	target := filepath.Join(dst, filepath.FromSlash(strings.TrimSuffix(name, "/")))

	root := filepath.Clean(dst) + string(os.PathSeparator)
	if !strings.HasPrefix(filepath.Clean(target)+string(os.PathSeparator), root) {
		return "", xerrors.Newf("entry escapes destination: %q", name)
	}
	return target, nil
}

// writeEntry copies one entry to target, refusing to write more than max
// bytes even if the header lied about the size.
func writeEntry(target string, f *zip.File, max int64) (int64, error) {
	rc, err := f.Open()
	if err != nil {
		return 0, err
	}
	defer rc.Close()

	mode := f.Mode().Perm()
	if mode == 0 {
		mode = 0o644
	}
	out, err := os.OpenFile(target, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, mode)
	if err != nil {
		return 0, err
	}
	n, err := io.Copy(out, io.LimitReader(rc, max+1))
	if cerr := out.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return n, err
	}
	if n > max {
		return n, xerrors.Newf("entry too large: %s (%d bytes)", f.Name, n)
	}
	if !f.Modified.IsZero() {
		_ = os.Chtimes(target, f.Modified, f.Modified)
	}
	return n, nil
}
