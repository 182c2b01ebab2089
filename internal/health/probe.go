package health

import (
	"context"
	"io/fs"
	"sync/atomic"

	"github.com/keithlinneman/pdfsplit-web/internal/xerrors"
)

// Probe is evaluated at request time
// nil = OK non-nil = FAIL with reason.
type Probe interface{ Check(context.Context) error }

// CheckFunc adapts a function into a Probe.
type CheckFunc func(context.Context) error

func (f CheckFunc) Check(ctx context.Context) error { return f(ctx) }

// All is AND: passes only if all probes pass; returns the first error.
func All(ps ...Probe) CheckFunc {
	return func(ctx context.Context) error {
		for _, p := range ps {
			if p == nil {
				continue
			}
			if err := p.Check(ctx); err != nil {
				return err
			}
		}
		return nil
	}
}

// SiteProbe fails until index exists as a regular file in the tree returned
// by get. get is called per check so a rebuilt tree is picked up.
func SiteProbe(get func() fs.FS, index string) CheckFunc {
	if index == "" {
		index = "index.html"
	}
	return func(context.Context) error {
		fsys := get()
		if fsys == nil {
			return xerrors.New("site not built")
		}
		info, err := fs.Stat(fsys, index)
		if err != nil {
			return xerrors.Newf("site missing %s", index)
		}
		if info.IsDir() {
			return xerrors.Newf("site %s is a directory", index)
		}
		return nil
	}
}

// ShutdownGate flips readiness to false during drain/shutdown.
type ShutdownGate struct {
	draining atomic.Bool
	reason   atomic.Value
}

func (g *ShutdownGate) Set(reason string) {
	g.reason.Store(reason)
	g.draining.Store(true)
}

func (g *ShutdownGate) Probe() CheckFunc {
	return func(context.Context) error {
		if !g.draining.Load() {
			return nil
		}
		r, _ := g.reason.Load().(string)
		if r == "" {
			r = "draining"
		}
		return xerrors.New(r)
	}
}
