package locale

import (
	"context"
	"errors"
	"sync"

	"github.com/keithlinneman/pdfsplit-web/internal/xerrors"
)

// StoreKey is the preference key holding the chosen locale.
const StoreKey = "user-locale"

// ErrUnsupported is returned when selecting a locale with no messages.
var ErrUnsupported = errors.New("locale: unsupported locale")

// Selector tracks the active locale for one user. It is safe for concurrent
// use.
type Selector struct {
	cat   *Catalog
	store Store

	mu      sync.RWMutex
	current string
}

// NewSelector restores the persisted locale from store. An unset or
// unsupported value selects the catalog fallback.
func NewSelector(ctx context.Context, cat *Catalog, store Store) (*Selector, error) {
	s := &Selector{cat: cat, store: store, current: cat.Fallback()}

	v, err := store.Get(ctx, StoreKey)
	switch {
	case errors.Is(err, ErrNotFound):
	case err != nil:
		return nil, xerrors.Wrap(err, "read locale preference")
	case v != "" && cat.Supported(v):
		s.current = v
	}
	return s, nil
}

func (s *Selector) Current() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.current
}

// Set persists locale and makes it current. The current locale is unchanged
// if persisting fails.
func (s *Selector) Set(ctx context.Context, locale string) error {
	if !s.cat.Supported(locale) {
		return xerrors.Wrapf(ErrUnsupported, "%q", locale)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.store.Set(ctx, StoreKey, locale); err != nil {
		return xerrors.Wrap(err, "persist locale preference")
	}
	s.current = locale
	return nil
}

// T renders key in the current locale.
func (s *Selector) T(key string, args map[string]any) string {
	return s.cat.T(s.Current(), key, args)
}

func (s *Selector) Catalog() *Catalog { return s.cat }
