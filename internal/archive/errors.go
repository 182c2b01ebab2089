package archive

import (
	"errors"
	"fmt"
	"io/fs"

	"github.com/keithlinneman/pdfsplit-web/internal/xerrors"
)

var (
	// ErrBusy is returned when a packager already has a run in flight.
	ErrBusy = errors.New("archive: packaging already in progress")

	// ErrUnsupportedEntry marks symlinks, devices and other non-regular files.
	ErrUnsupportedEntry = errors.New("unsupported file type")
)

// Error is a fatal packaging or reading failure.
type Error struct {
	Op   string
	Path string
	Err  error
}

func (e *Error) Error() string {
	if e.Path == "" {
		return fmt.Sprintf("archive: %s: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("archive: %s %s: %v", e.Op, e.Path, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// IsMissingEntry reports whether err means a filesystem entry vanished after
// it was enumerated. Such errors are recoverable during packaging.
func IsMissingEntry(err error) bool {
	return errors.Is(err, fs.ErrNotExist)
}

func fatal(op, path string, err error) error {
	return xerrors.WithStack(&Error{Op: op, Path: path, Err: err})
}
